// Package ipvote implements the node's external-IP election: a bounded
// ballot box keyed by candidate contact, guarded against repeat voters
// via a small two-hash bloom filter over voter IPs (BEP-42's "ip" hint
// voting scheme).
package ipvote

import (
	"hash/fnv"
	"net"

	"github.com/btdht/mldht/internal/dht/ktable"
)

// DefaultBloomBits is the size of the voter bloom filter, in bits. It is
// not persisted and is rebuilt from scratch whenever the node restarts or
// resets its election.
const DefaultBloomBits = 2048

// DefaultMaxCandidates bounds the ballot box; once full, new candidates
// are ignored until Reset.
const DefaultMaxCandidates = 32

// Election tracks votes for the node's external IP:port as reported by
// other nodes via find_node/get_peers/announce_peer "ip" hints.
type Election struct {
	bloom       []uint64 // bit set, packed 64 bits per word
	votes       map[ktable.Contact]int
	maxCandidates int
}

// New returns an empty Election.
func New() *Election {
	return NewWithCapacity(DefaultBloomBits, DefaultMaxCandidates)
}

// NewWithCapacity returns an empty Election with explicit bloom filter
// size (bits) and candidate bound.
func NewWithCapacity(bloomBits, maxCandidates int) *Election {
	words := (bloomBits + 63) / 64
	return &Election{
		bloom:         make([]uint64, words),
		votes:         make(map[ktable.Contact]int),
		maxCandidates: maxCandidates,
	}
}

func (e *Election) hashes(ip net.IP) (uint64, uint64) {
	h1 := fnv.New64a()
	h1.Write(ip)
	s1 := h1.Sum64()

	h2 := fnv.New64()
	h2.Write(ip)
	s2 := h2.Sum64()
	return s1, s2
}

func (e *Election) bitSet(idx uint64) bool {
	n := uint64(len(e.bloom)) * 64
	if n == 0 {
		return false
	}
	i := idx % n
	return e.bloom[i/64]&(1<<(i%64)) != 0
}

func (e *Election) bitSetAdd(idx uint64) {
	n := uint64(len(e.bloom)) * 64
	if n == 0 {
		return
	}
	i := idx % n
	e.bloom[i/64] |= 1 << (i % 64)
}

// seenVoter reports whether by's IP has (probably) already voted, and
// records it if not.
func (e *Election) seenVoter(by ktable.Contact) bool {
	ip := by.Addr()
	a, b := e.hashes(ip)
	seen := e.bitSet(a) && e.bitSet(b)
	if !seen {
		e.bitSetAdd(a)
		e.bitSetAdd(b)
	}
	return seen
}

// Vote records by's vote for candidate as the node's external contact,
// unless by has already voted (per the bloom filter) or the ballot box
// is full of distinct candidates.
func (e *Election) Vote(by, candidate ktable.Contact) {
	if e.seenVoter(by) {
		return
	}
	if _, ok := e.votes[candidate]; !ok && len(e.votes) >= e.maxCandidates {
		return
	}
	e.votes[candidate]++
}

// Winner returns the candidate with the most votes, if it has at least
// minVotes; ties are broken arbitrarily by Go's map iteration order.
func (e *Election) Winner(minVotes int) (ktable.Contact, bool) {
	var best ktable.Contact
	bestN := 0
	for c, n := range e.votes {
		if n > bestN {
			best, bestN = c, n
		}
	}
	if bestN < minVotes {
		return ktable.Contact{}, false
	}
	return best, true
}

// Reset clears every vote and the bloom filter, e.g. after a successful
// re-election of the node's id per BEP-42.
func (e *Election) Reset() {
	for i := range e.bloom {
		e.bloom[i] = 0
	}
	e.votes = make(map[ktable.Contact]int)
}
