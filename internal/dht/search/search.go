// Package search implements the recursive get_peers lookup: keep every
// contact seen so far for an infohash as a candidate ordered by XOR
// distance (the candidate set is not capped at K), query the closest
// un-queried one at each tick, and fold in whatever nodes/peers come
// back, until no un-queried candidate remains and no query is
// outstanding, or a deadline passes. A search does not stop early when
// the remaining candidates are all farther than those already queried.
package search

import (
	"time"

	"github.com/btdht/mldht/internal/dht/ktable"
	prque "gopkg.in/karalabe/cookiejar.v2/collections/prque"
	set "gopkg.in/fatih/set.v0"
)

// Alpha bounds the number of outstanding queries a single search may have
// in flight at once.
const Alpha = 3

// candidate is one contact known to a Search; whether it has already
// been queried is tracked separately in Search.queried.
type candidate struct {
	id      ktable.ID
	contact ktable.Contact
}

// Search is one in-progress recursive lookup for an infohash.
type Search struct {
	ID       uint64
	Infohash ktable.ID
	Deadline time.Time

	closest *prque.Prque // priority = -distance (prque is a max-heap)
	known   map[ktable.ID]candidate
	queried *set.Set // ids already queried

	outstanding int

	// Peers accumulates every peer contact reported by a get_peers
	// response seen so far.
	Peers []ktable.Contact

	done bool
}

// New starts a Search seeded with the closest contacts already known
// locally (typically Table.ClosestK(infohash, K)).
func New(id uint64, infohash ktable.ID, seed []*ktable.Node, deadline time.Time) *Search {
	s := &Search{
		ID:       id,
		Infohash: infohash,
		Deadline: deadline,
		closest:  prque.New(),
		known:    make(map[ktable.ID]candidate),
		queried:  set.New(),
	}
	for _, n := range seed {
		s.offer(n.ID, n.Contact)
	}
	return s
}

func (s *Search) priority(id ktable.ID) int64 {
	// prque pops the highest priority first; negate XOR distance (its
	// leading 63 bits, so the value is non-negative before negation) so
	// the closest contact sorts first.
	d := s.Infohash.Xor(id)
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(d[i])
	}
	return -int64(v >> 1)
}

// offer records a newly-learned contact as a lookup candidate if it was
// not already known.
func (s *Search) offer(id ktable.ID, c ktable.Contact) {
	if id.IsZero() {
		return
	}
	if _, ok := s.known[id]; ok {
		return
	}
	s.known[id] = candidate{id: id, contact: c}
	s.closest.Push(id, float32(s.priority(id)))
}

// NextQuery returns the closest un-queried contact to send get_peers to,
// and records it as in-flight. Returns false if there is nothing left to
// query within the outstanding budget.
func (s *Search) NextQuery() (ktable.ID, ktable.Contact, bool) {
	if s.outstanding >= Alpha {
		return ktable.ID{}, ktable.Contact{}, false
	}
	for !s.closest.Empty() {
		v, _ := s.closest.Pop()
		id := v.(ktable.ID)
		if s.queried.Has(id) {
			continue
		}
		s.queried.Add(id)
		s.outstanding++
		return id, s.known[id].contact, true
	}
	return ktable.ID{}, ktable.Contact{}, false
}

// Node is a candidate contact reported by a get_peers response.
type Node struct {
	ID      ktable.ID
	Contact ktable.Contact
}

// OnResult folds a get_peers response's nodes and peers into the search:
// every node becomes a fresh candidate; every peer is appended to Peers.
func (s *Search) OnResult(nodes []Node, peers []ktable.Contact) {
	s.outstanding--
	for _, n := range nodes {
		s.offer(n.ID, n.Contact)
	}
	s.Peers = append(s.Peers, peers...)
}

// OnTimeout records that an outstanding query never completed, freeing
// its budget slot without offering any new candidates.
func (s *Search) OnTimeout() {
	s.outstanding--
}

// Done reports whether the search should retire: no un-queried contact
// remains, or the deadline has passed.
func (s *Search) Done(now time.Time) bool {
	if s.done {
		return true
	}
	if !now.Before(s.Deadline) {
		s.done = true
		return true
	}
	if s.closest.Empty() && s.outstanding == 0 {
		s.done = true
		return true
	}
	return false
}
