package peerdb

import (
	"net"
	"testing"
	"time"

	"github.com/btdht/mldht/internal/dht/ktable"
)

func mkContact(n int) ktable.Contact {
	return ktable.NewContact(net.IPv4(127, 0, 0, byte(n)), uint16(6000+n))
}

func TestInsertAndLookup(t *testing.T) {
	db := New(time.Hour)
	var hash ktable.ID
	hash[0] = 1
	now := time.Now()

	db.Insert(hash, mkContact(1), now)
	db.Insert(hash, mkContact(2), now)

	kv := db.Lookup(hash, now)
	if kv == nil {
		t.Fatal("expected record")
	}
	if len(kv.Peers()) != 2 {
		t.Fatalf("want 2 peers, got %d", len(kv.Peers()))
	}
	if db.TotalInfohashes() != 1 || db.TotalPeers() != 2 {
		t.Fatalf("counters wrong: %d/%d", db.TotalInfohashes(), db.TotalPeers())
	}
}

func TestInsertRefreshesExisting(t *testing.T) {
	db := New(time.Hour)
	var hash ktable.ID
	now := time.Now()
	db.Insert(hash, mkContact(1), now)
	db.Insert(hash, mkContact(1), now.Add(time.Minute))
	if db.TotalPeers() != 1 {
		t.Fatalf("re-announce should not duplicate, got %d peers", db.TotalPeers())
	}
}

func TestLookupPurgesExpiredAndDeallocates(t *testing.T) {
	db := New(time.Minute)
	var hash ktable.ID
	base := time.Now()
	db.LastExternalActivity = base.Add(time.Hour)
	db.Insert(hash, mkContact(1), base)

	later := base.Add(2 * time.Minute)
	if kv := db.Lookup(hash, later); kv != nil {
		t.Fatalf("expected record to be purged and deallocated, got %v", kv)
	}
	if db.TotalInfohashes() != 0 || db.TotalPeers() != 0 {
		t.Fatalf("counters should be zero after purge: %d/%d", db.TotalInfohashes(), db.TotalPeers())
	}
}

func TestLookupGuardsAgainstOfflineMassExpiry(t *testing.T) {
	db := New(time.Minute)
	var hash ktable.ID
	base := time.Now()
	// No recent external activity recorded (zero value), so even though
	// the peer is well past its eol, it must not be purged yet.
	db.Insert(hash, mkContact(1), base)

	later := base.Add(time.Hour)
	kv := db.Lookup(hash, later)
	if kv == nil {
		t.Fatal("peer should survive expiry while node has not observed recent external activity")
	}
}

func TestSweepExpiresAcrossRecords(t *testing.T) {
	db := New(time.Minute)
	base := time.Now()
	db.LastExternalActivity = base.Add(time.Hour)

	var h1, h2 ktable.ID
	h1[0], h2[0] = 1, 2
	db.Insert(h1, mkContact(1), base)
	db.Insert(h2, mkContact(2), base)

	db.Sweep(base.Add(2 * time.Minute))
	if db.TotalInfohashes() != 0 {
		t.Fatalf("sweep should have expired both records, got %d left", db.TotalInfohashes())
	}
}
