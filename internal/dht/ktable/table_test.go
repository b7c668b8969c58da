package ktable

import (
	"net"
	"testing"
	"time"
)

func mkID(b byte) ID {
	var id ID
	id[0] = b
	return id
}

func mkContact(n int) Contact {
	return NewContact(net.IPv4(127, 0, byte(n>>8), byte(n)), uint16(1000+n))
}

// mkPublicContact returns a contact on a public address, distinct from
// mkContact's loopback range, so tests can exercise IP diversity limiting
// (loopback addresses are exempt from it).
func mkPublicContact(n int) Contact {
	return NewContact(net.IPv4(8, 8, 8, byte(n)), uint16(1000+n))
}

func TestInsertFillsFirstBucketAtRoot(t *testing.T) {
	self := mkID(0x00)
	tbl := New(self)

	// K=8 contacts that diverge from self at bit 0 (high bit set) all fit
	// in the root level's first bucket without triggering a split.
	for i := 0; i < K; i++ {
		id := mkID(0x80 | byte(i))
		n := NewNode(id, mkContact(i))
		if !tbl.Insert(n) {
			t.Fatalf("insert %d failed", i)
		}
	}
	if tbl.TotalNodes() != K {
		t.Fatalf("want %d nodes, got %d", K, tbl.TotalNodes())
	}
	if tbl.Depth() != 1 {
		t.Fatalf("want depth 1 (no split yet), got %d", tbl.Depth())
	}
}

func TestInsertSplitsOnNinthMatchingBit(t *testing.T) {
	self := mkID(0x00)
	tbl := New(self)

	// K contacts sharing self's first bit (0) force a split once a 9th
	// arrives, per the documented "9th triggers a split" example.
	for i := 0; i < K+1; i++ {
		id := mkID(byte(i + 1)) // non-zero, high bit 0, matches self's bit 0
		n := NewNode(id, mkContact(i))
		if !tbl.Insert(n) {
			t.Fatalf("insert %d failed", i)
		}
	}
	if tbl.Depth() < 2 {
		t.Fatalf("expected a split to have occurred, depth=%d", tbl.Depth())
	}
	if tbl.TotalNodes() != K+1 {
		t.Fatalf("want %d nodes, got %d", K+1, tbl.TotalNodes())
	}
}

func TestFindRoundTrip(t *testing.T) {
	self := mkID(0x00)
	tbl := New(self)
	id := mkID(0x42)
	n := NewNode(id, mkContact(1))
	if !tbl.Insert(n) {
		t.Fatal("insert failed")
	}
	got := tbl.Find(id)
	if got == nil || got.ID != id {
		t.Fatalf("Find did not return inserted node: %v", got)
	}
	if tbl.Find(mkID(0x99)) != nil {
		t.Fatal("Find returned a node for an id never inserted")
	}
}

func TestClosestKOrdersByDepth(t *testing.T) {
	self := mkID(0x00)
	tbl := New(self)
	for i := 0; i < K+4; i++ {
		id := mkID(byte(i))
		n := NewNode(id, mkContact(i))
		tbl.Insert(n)
	}
	got := tbl.ClosestK(self, K, time.Time{})
	if len(got) == 0 {
		t.Fatal("ClosestK returned nothing")
	}
	if len(got) > K {
		t.Fatalf("ClosestK returned more than K: %d", len(got))
	}
}

func TestInvalidNodeRejected(t *testing.T) {
	tbl := New(mkID(0x00))
	bad := &Node{} // zero id, zero contact
	if tbl.Insert(bad) {
		t.Fatal("expected invalid node to be rejected")
	}
}

func TestReinsertRefreshesExisting(t *testing.T) {
	self := mkID(0x00)
	tbl := New(self)
	id := mkID(0x55)
	n := NewNode(id, mkContact(1))
	tbl.Insert(n)
	before := tbl.TotalNodes()

	again := NewNode(id, mkContact(1))
	if !tbl.Insert(again) {
		t.Fatal("re-insert of known id should succeed as a refresh")
	}
	if tbl.TotalNodes() != before {
		t.Fatalf("re-insert should not grow total, got %d want %d", tbl.TotalNodes(), before)
	}
}

func TestRootLimitEvictsShallowest(t *testing.T) {
	self := mkID(0x00)
	tbl := NewWithLimit(self, 2)

	var evicted []*Node
	tbl.OnEvict = func(n *Node) { evicted = append(evicted, n) }

	// Force repeated splits along the all-self-matching path, well past
	// the 2-level cap, by inserting more than K contacts sharing every
	// leading bit with self (all zero).
	for i := 0; i < K*6; i++ {
		id := mkID(0x00)
		id[1] = byte(i) // diverges only deep in the id, past the shared prefix
		n := NewNode(id, mkContact(i))
		tbl.Insert(n)
	}
	if tbl.Depth() > 2 {
		t.Fatalf("chain should be capped at rootLimit=2, got depth %d", tbl.Depth())
	}
}

func TestInsertRejectedOverIPDiversityLimit(t *testing.T) {
	self := mkID(0x00)
	tbl := New(self)

	// Three contacts sharing a /24 but with distinct ids, all landing in
	// the root bucket: only bucketIPLimit (2) of them may be admitted.
	for i := 0; i < 2; i++ {
		id := mkID(0x80 | byte(i))
		n := NewNode(id, mkPublicContact(i+1))
		if !tbl.Insert(n) {
			t.Fatalf("insert %d should have been admitted under the diversity limit", i)
		}
	}
	third := NewNode(mkID(0x82), mkPublicContact(3))
	if tbl.Insert(third) {
		t.Fatal("insert should have been rejected: bucket IP diversity limit exceeded")
	}
	if tbl.TotalNodes() != 2 {
		t.Fatalf("want 2 nodes after rejected insert, got %d", tbl.TotalNodes())
	}
}

func TestAllNodesCoversEveryLevel(t *testing.T) {
	self := mkID(0x00)
	tbl := New(self)

	for i := 0; i < K+2; i++ {
		id := mkID(0x00)
		id[1] = byte(i)
		tbl.Insert(NewNode(id, mkContact(i)))
	}

	all := tbl.AllNodes()
	if len(all) != tbl.TotalNodes() {
		t.Fatalf("AllNodes returned %d, want %d", len(all), tbl.TotalNodes())
	}
}
