// Package txn is the transaction registry: it correlates an inbound
// response with the outbound query that provoked it, carries a small
// tagged continuation for when that response (or a timeout) arrives, and
// reclaims transaction ids from a bounded pool.
package txn

import (
	"container/heap"
	"math/rand"
	"time"

	"github.com/btdht/mldht/internal/dht/ktable"
)

// PrefixLen and SuffixLen size the two halves of a transaction id: the
// prefix is the pool-allocated slot, the suffix is PRNG noise that lets a
// stale response from a reused prefix be told apart from a live one.
const (
	PrefixLen = 2
	SuffixLen = 2
	IDLen     = PrefixLen + SuffixLen
)

// ID is a minted transaction identifier.
type ID [IDLen]byte

func (id ID) prefix() uint16 {
	return uint16(id[0])<<8 | uint16(id[1])
}

// Kind tags the continuation stored alongside a minted transaction.
type Kind int

const (
	Ping Kind = iota
	FindNode
	GetPeers
	AnnouncePeer
)

// Context is the continuation associated with one outbound query: what
// kind of query it was, and whatever payload the caller needs to resume
// work when the matching response (or timeout) arrives.
type Context struct {
	Kind     Kind
	Target   ktable.ID // FindNode
	Infohash ktable.ID // GetPeers, AnnouncePeer
	SearchID uint64    // correlates GetPeers continuations back to a search.Search

	// OnTimeout is invoked by Expire for a transaction that was never
	// consumed before its deadline passed.
	OnTimeout func(tx ID, sentAt time.Time)
}

type entry struct {
	full     ID
	ctx      Context
	mintedAt time.Time
	// prev/next link entries (by prefix) into the expiry FIFO, since mint order is
	// monotonic in time and timeouts are a constant duration.
	prev, next uint16
	linked     bool
}

// prefixHeap is a min-heap of free prefixes, giving O(log N) mint/release
// over the bounded pool.
type prefixHeap []uint16

func (h prefixHeap) Len() int            { return len(h) }
func (h prefixHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h prefixHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *prefixHeap) Push(x interface{}) { *h = append(*h, x.(uint16)) }
func (h *prefixHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Registry is the bounded transaction pool.
type Registry struct {
	rng     *rand.Rand
	timeout time.Duration

	free    prefixHeap
	active  map[uint16]*entry
	headSeq uint16 // prefix at FIFO head, expiry candidate
	tailSeq uint16
	hasHead bool
}

// New returns a Registry whose prefix pool spans [0, capacity), so
// capacity also bounds the number of concurrently outstanding
// transactions. rng supplies the suffix bytes.
func New(capacity int, timeout time.Duration, rng *rand.Rand) *Registry {
	if capacity > 1<<16 {
		capacity = 1 << 16
	}
	r := &Registry{
		rng:     rng,
		timeout: timeout,
		active:  make(map[uint16]*entry, capacity),
	}
	r.free = make(prefixHeap, capacity)
	for i := range r.free {
		r.free[i] = uint16(i)
	}
	heap.Init(&r.free)
	return r
}

// HasFree reports whether the pool has an unallocated prefix.
func (r *Registry) HasFree() bool {
	return len(r.free) > 0
}

// Len returns the number of currently outstanding transactions.
func (r *Registry) Len() int {
	return len(r.active)
}

func (r *Registry) fifoPushBack(prefix uint16, e *entry) {
	if !r.hasHead {
		r.headSeq, r.tailSeq = prefix, prefix
		r.hasHead = true
		e.linked = true
		return
	}
	tail := r.active[r.tailSeq]
	tail.next = prefix
	e.prev = r.tailSeq
	r.tailSeq = prefix
	e.linked = true
}

func (r *Registry) fifoRemove(prefix uint16, e *entry) {
	if !e.linked {
		return
	}
	if r.headSeq == prefix && r.hasHead {
		if prefix == r.tailSeq {
			r.hasHead = false
		} else {
			r.headSeq = e.next
			if next := r.active[r.headSeq]; next != nil {
				// next.prev becomes irrelevant at head
			}
		}
	} else {
		if prev := r.active[e.prev]; prev != nil {
			prev.next = e.next
		}
		if r.tailSeq == prefix {
			r.tailSeq = e.prev
		} else if next := r.active[e.next]; next != nil {
			next.prev = e.prev
		}
	}
	e.linked = false
}

// Mint allocates a fresh transaction id for ctx, returning false if the
// pool is currently exhausted.
func (r *Registry) Mint(ctx Context, now time.Time) (ID, bool) {
	if len(r.free) == 0 {
		return ID{}, false
	}
	prefix := heap.Pop(&r.free).(uint16)

	var full ID
	full[0] = byte(prefix >> 8)
	full[1] = byte(prefix)
	var suffix [SuffixLen]byte
	r.rng.Read(suffix[:])
	copy(full[PrefixLen:], suffix[:])

	e := &entry{full: full, ctx: ctx, mintedAt: now}
	r.active[prefix] = e
	r.fifoPushBack(prefix, e)
	return full, true
}

// Consume looks up tx by its prefix, verifies the full id matches the one
// on record, removes the entry, and returns its Context. A second Consume
// of the same tx (or an id whose prefix was never minted, or whose
// suffix doesn't match) returns false.
func (r *Registry) Consume(tx ID, now time.Time) (Context, bool) {
	prefix := tx.prefix()
	e, ok := r.active[prefix]
	if !ok || e.full != tx {
		return Context{}, false
	}
	r.release(prefix, e)
	return e.ctx, true
}

func (r *Registry) release(prefix uint16, e *entry) {
	r.fifoRemove(prefix, e)
	delete(r.active, prefix)
	heap.Push(&r.free, prefix)
}

// Expire removes every transaction minted more than timeout ago, invoking
// its Context's OnTimeout hook (if set) before discarding it.
func (r *Registry) Expire(now time.Time) {
	for r.hasHead {
		e := r.active[r.headSeq]
		if e == nil || now.Sub(e.mintedAt) < r.timeout {
			return
		}
		prefix := r.headSeq
		full := e.full
		mintedAt := e.mintedAt
		hook := e.ctx.OnTimeout
		r.release(prefix, e)
		if hook != nil {
			hook(full, mintedAt)
		}
	}
}

// NextAvailableAt returns the time at which the pool will next have a
// free prefix, assuming no transaction is consumed before then: the
// earliest mint time plus the timeout. Returns the zero Time if a prefix
// is already free.
func (r *Registry) NextAvailableAt() time.Time {
	if r.HasFree() {
		return time.Time{}
	}
	if !r.hasHead {
		return time.Time{}
	}
	e := r.active[r.headSeq]
	return e.mintedAt.Add(r.timeout)
}
