package ktable

import "github.com/btdht/mldht/internal/dht/ktable/distip"

// K is the bucket capacity and replication factor, per the classic
// Kademlia parameterization.
const K = 8

const (
	// bucketIPLimit bounds how many contacts from the same /bucketSubnet
	// network may occupy a single bucket, the generalization of a flat
	// table's per-bucket IP diversity limit to a per-bucket-list level.
	bucketIPLimit  = 2
	bucketSubnet   = 24
)

// bucket is a fixed-capacity slot array of Nodes, chained into a linked
// list within a level when more than one bucket is needed to hold
// contacts that diverge from the local id at the level's depth.
type bucket struct {
	nodes [K]*Node
	ips   distip.DistinctNetSet
	next  *bucket
}

func newBucket() *bucket {
	return &bucket{ips: distip.DistinctNetSet{Subnet: bucketSubnet, Limit: bucketIPLimit}}
}

// emptySlot returns the index of a free slot, or -1 if the bucket is full.
func (b *bucket) emptySlot() int {
	for i, n := range b.nodes {
		if n == nil {
			return i
		}
	}
	return -1
}

// worstReplaceable returns the index of a slot occupied by a non-good
// contact, suitable for eviction to make room for a fresh sighting, or -1
// if every occupied slot currently holds a good contact.
func (b *bucket) worstReplaceable() int {
	for i, n := range b.nodes {
		if n != nil && !n.Good() {
			return i
		}
	}
	return -1
}

// put installs n at slot i. IP diversity bookkeeping is the caller's
// responsibility (Table.admitIP/releaseIP), since it spans both this
// bucket's tracker and the table-wide one.
func (b *bucket) put(i int, n *Node) {
	b.nodes[i] = n
}

// find returns the Node with the given id, or nil.
func (b *bucket) find(id ID) *Node {
	for _, n := range b.nodes {
		if n != nil && n.ID == id {
			return n
		}
	}
	return nil
}

// clear empties the bucket, returning every Node that was present so the
// caller can unlink them from the timeout wheel.
func (b *bucket) clear() []*Node {
	var out []*Node
	for i, n := range b.nodes {
		if n != nil {
			out = append(out, n)
			b.nodes[i] = nil
		}
	}
	b.ips = distip.DistinctNetSet{Subnet: bucketSubnet, Limit: bucketIPLimit}
	return out
}
