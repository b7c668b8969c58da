package ktable

import (
	"net"
	"time"

	"github.com/btdht/mldht/internal/dht/ktable/distip"
)

// DefaultRootLimit bounds how many levels the chain may grow to before
// the shallowest is evicted to make room for a deeper split.
const DefaultRootLimit = 40

const (
	// tableIPLimit bounds how many contacts from the same /tableSubnet
	// network may occupy the table as a whole, on top of the tighter
	// per-bucket limit in bucket.go.
	tableIPLimit = 10
	tableSubnet  = 24
)

// Table is the routing table: a chain of levels walked by the bits of a
// contact's id, each level branching away into a bucket list that holds
// whatever does not continue deeper.
type Table struct {
	self      ID
	chain     []*level
	rootLimit int

	wheel wheel
	ips   distip.DistinctNetSet

	totalNodes int
	badNodes   int

	// BootstrapContacts holds contacts supplied from outside the table
	// (e.g. command-line flags, a config file or a saved contact dump),
	// used before the table itself has enough good contacts to serve a
	// useful closest_k.
	BootstrapContacts []Contact

	// OnEvict, if set, is invoked for every Node dropped by a level
	// eviction or a bucket replacement, so the caller can do bookkeeping
	// (metrics, blacklist warmup, etc.).
	OnEvict func(*Node)
}

// New returns an empty Table rooted at self with the default level limit.
func New(self ID) *Table {
	return NewWithLimit(self, DefaultRootLimit)
}

// NewWithLimit returns an empty Table with an explicit level cap.
func NewWithLimit(self ID, rootLimit int) *Table {
	return &Table{
		self:      self,
		chain:     []*level{newLevel(0)},
		rootLimit: rootLimit,
		ips:       distip.DistinctNetSet{Subnet: tableSubnet, Limit: tableIPLimit},
	}
}

// admitIP reserves ip in both the table-wide and bucket-local diversity
// trackers, rejecting if either limit is already at capacity. LAN
// addresses are exempt, mirroring the teacher's addIP
// (p2p/discover/table.go).
func (t *Table) admitIP(b *bucket, ip net.IP) bool {
	if distip.IsLAN(ip) {
		return true
	}
	if !t.ips.Add(ip) {
		return false
	}
	if !b.ips.Add(ip) {
		t.ips.Remove(ip)
		return false
	}
	return true
}

// releaseIP undoes admitIP's bookkeeping for ip.
func (t *Table) releaseIP(b *bucket, ip net.IP) {
	if distip.IsLAN(ip) {
		return
	}
	t.ips.Remove(ip)
	b.ips.Remove(ip)
}

// untrackIP removes ip from the table-wide tracker only; used after a
// bucket has already reset its own tracker wholesale via clear().
func (t *Table) untrackIP(ip net.IP) {
	if distip.IsLAN(ip) {
		return
	}
	t.ips.Remove(ip)
}

// Self returns the local node id the table is rooted at.
func (t *Table) Self() ID { return t.self }

// TotalNodes returns the number of contacts currently held by the table.
func (t *Table) TotalNodes() int { return t.totalNodes }

// BadNodes returns the number of contacts currently flagged not-good.
func (t *Table) BadNodes() int { return t.badNodes }

// walk returns the level reached by following n's id bits from the chain
// head, and whether that level is the last one in the chain. Every chain
// level shares its prefix with self, so the last level is the deepest
// level whose prefix matches self -- the only candidate for splitting --
// whether or not id matches self at that level's own depth.
func (t *Table) walk(id ID) (*level, bool) {
	cur := t.chain[0]
	for {
		d := cur.depth
		if id.Bit(d) != t.self.Bit(d) {
			return cur, cur.next == nil
		}
		// Bits matched; is there a deeper in-tree level to continue into?
		next := cur.next
		if next == nil {
			return cur, true
		}
		cur = next
	}
}

// Insert places n into the table per the reached-level / split-on-demand
// algorithm. It returns true if n was placed (or already present and
// refreshed), false if the insert was rejected (level full, cannot split).
func (t *Table) Insert(n *Node) bool {
	if !n.Valid() {
		return false
	}
	if existing := t.Find(n.ID); existing != nil {
		existing.MarkGood()
		t.wheel.bump(existing)
		return true
	}
	return t.insert(n, 0)
}

// insert carries a recursion guard against runaway splitting on
// pathological inputs (shouldn't trigger in practice since each split
// strictly increases depth and split refuses to go past the id's last
// bit).
func (t *Table) insert(n *Node, depthGuard int) bool {
	if depthGuard > IDLen*8 {
		return false
	}
	lv, deepest := t.walk(n.ID)

	if b, idx, ok := lv.findSlot(); ok {
		if !t.admitIP(b, n.Contact.Addr()) {
			// IP diversity limit reached for n's subnet; reject even
			// though a slot is free, per BEP-42's Sybil-resistance intent.
			return false
		}
		if old := b.nodes[idx]; old != nil {
			t.wheel.remove(old)
			t.releaseIP(b, old.Contact.Addr())
			if !old.Good() {
				t.badNodes--
			}
			t.totalNodes--
			if t.OnEvict != nil {
				t.OnEvict(old)
			}
		}
		b.put(idx, n)
		t.wheel.pushBack(n)
		t.totalNodes++
		if !n.Good() {
			t.badNodes++
		}
		return true
	}

	if !deepest {
		return false
	}
	if !t.split(lv) {
		return false
	}
	return t.insert(n, depthGuard+1)
}

// split allocates the in-tree child of lv (depth+1) and migrates every
// contact whose next bit matches self into it, leaving the rest behind as
// lv's permanent away bucket-list contents. Evicts the shallowest level
// first if the chain is already at rootLimit.
func (t *Table) split(lv *level) bool {
	if lv.next != nil {
		return true // already split by a racing caller; shouldn't happen single-threaded
	}
	if lv.depth+1 >= IDLen*8 {
		return false // no id bit left to split on
	}
	if len(t.chain) >= t.rootLimit {
		t.evictShallowest()
	}
	child := newLevel(lv.depth + 1)
	lv.next = child
	t.chain = append(t.chain, child)

	var stay []*Node
	selfBit := t.self.Bit(lv.depth)
	for _, n := range lv.clear() {
		t.wheel.remove(n)
		// lv's buckets already reset their own trackers wholesale via
		// clear(); only the table-wide tracker still needs releasing.
		t.untrackIP(n.Contact.Addr())
		t.totalNodes--
		if !n.Good() {
			t.badNodes--
		}
		if n.ID.Bit(lv.depth) == selfBit {
			t.reinsertAfterSplit(child, n)
		} else {
			stay = append(stay, n)
		}
	}
	for _, n := range stay {
		b, idx, ok := lv.findSlot()
		if !ok || !t.admitIP(b, n.Contact.Addr()) {
			// Capacity regressed below what was already accepted, or the
			// contact's subnet is now over the diversity limit; drop.
			if t.OnEvict != nil {
				t.OnEvict(n)
			}
			continue
		}
		b.put(idx, n)
		t.wheel.pushBack(n)
		t.totalNodes++
		if !n.Good() {
			t.badNodes++
		}
	}
	return true
}

// reinsertAfterSplit places a contact migrated from the parent level
// straight into child (it is already known to belong there; no further
// splitting is attempted on its behalf here since child starts empty).
func (t *Table) reinsertAfterSplit(child *level, n *Node) {
	b, idx, ok := child.findSlot()
	if !ok || !t.admitIP(b, n.Contact.Addr()) {
		if t.OnEvict != nil {
			t.OnEvict(n)
		}
		return
	}
	b.put(idx, n)
	t.wheel.pushBack(n)
	t.totalNodes++
	if !n.Good() {
		t.badNodes++
	}
}

// evictShallowest drops the chain's shallowest (first) level, resetting
// every contact it held.
func (t *Table) evictShallowest() {
	if len(t.chain) == 0 {
		return
	}
	lv := t.chain[0]
	t.chain = t.chain[1:]
	for _, n := range lv.clear() {
		t.wheel.remove(n)
		t.untrackIP(n.Contact.Addr())
		t.totalNodes--
		if !n.Good() {
			t.badNodes--
		}
		if t.OnEvict != nil {
			t.OnEvict(n)
		}
	}
}

// Find returns the Node with the given id, or nil.
func (t *Table) Find(id ID) *Node {
	lv, _ := t.walk(id)
	return lv.find(id)
}

// ClosestK returns up to k valid, non-bad contacts ordered by decreasing
// depth of shared prefix with target (closest first): it walks the
// in-tree chain toward target's rank and collects bucket-list contents
// level by level, deepest first. refreshAfter is the cutoff IsBad checks
// LastResponseReceived against (typically now minus the scheduler's
// refresh interval); a contact that has merely missed a ping or two but
// answered within that window still counts.
func (t *Table) ClosestK(target ID, k int, refreshAfter time.Time) []*Node {
	lv, _ := t.walk(target)
	var levels []*level
	for l := t.chain[0]; l != nil; l = l.next {
		levels = append(levels, l)
		if l == lv {
			break
		}
	}
	out := make([]*Node, 0, k)
	for i := len(levels) - 1; i >= 0 && len(out) < k; i-- {
		for _, n := range levels[i].nodes() {
			if n.IsBad(refreshAfter) || !n.Valid() {
				continue
			}
			out = append(out, n)
			if len(out) == k {
				break
			}
		}
	}
	return out
}

// NextRefresh returns the Node at the head of the timeout wheel (least
// recently pinged), or nil if the table is empty.
func (t *Table) NextRefresh() *Node {
	return t.wheel.front()
}

// DrainDue pops every Node from the wheel whose LastRequestSent is older
// than now-refreshInterval, invoking fn for each. fn is expected to
// re-push the Node (via Touch or Bump) if it remains in the table.
func (t *Table) DrainDue(refreshInterval time.Duration, now time.Time, fn func(*Node)) {
	cutoff := now.Add(-refreshInterval)
	t.wheel.popExpired(func(n *Node) bool {
		return n.LastRequestSent.Before(cutoff)
	}, fn)
}

// PopDue pops and returns the Node at the head of the wheel if its
// LastRequestSent is older than cutoff, or nil otherwise. Unlike
// DrainDue, this lets a caller stop early (e.g. on transaction-pool
// exhaustion) partway through a sweep; a popped Node must be re-linked
// via Bump once the caller is done with it.
func (t *Table) PopDue(cutoff time.Time) *Node {
	n := t.wheel.front()
	if n == nil {
		return nil
	}
	if n.LastRequestSent.After(cutoff) {
		return nil
	}
	t.wheel.remove(n)
	return n
}

// Bump moves n to the tail of the timeout wheel, as if just touched.
func (t *Table) Bump(n *Node) {
	t.wheel.bump(n)
}

// Depth returns the current length of the level chain (for introspection
// and tests).
func (t *Table) Depth() int {
	return len(t.chain)
}

// AllNodes returns every contact currently held by the table, across all
// levels, for enumeration (dump/restore, statistics, the control socket).
func (t *Table) AllNodes() []*Node {
	out := make([]*Node, 0, t.totalNodes)
	for l := t.chain[0]; l != nil; l = l.next {
		out = append(out, l.nodes()...)
	}
	return out
}
