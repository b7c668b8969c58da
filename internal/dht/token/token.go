// Package token mints and validates the opaque tokens a node hands out
// during get_peers so a later announce_peer from the same remote can be
// authenticated without any server-side session state beyond this map.
package token

import (
	"bytes"
	"math/rand"
	"time"
)

// Len is the width of a minted token, in bytes.
const Len = 5

// DefaultMaxAge is how long a minted token remains valid for a subsequent
// announce_peer.
const DefaultMaxAge = 10 * time.Minute

// Token is an opaque per-remote secret.
type Token [Len]byte

var zero Token

// IsZero reports whether t was never minted (the zero value).
func (t Token) IsZero() bool {
	return t == zero
}

type entry struct {
	token   Token
	mintedAt time.Time
}

// Store tracks the most recently minted token per remote id, keyed by
// whatever comparable key the caller uses to identify a remote (typically
// its Contact).
type Store struct {
	rng     *rand.Rand
	maxAge  time.Duration
	entries map[interface{}]entry
}

// NewStore returns a Store seeded from rng (the node's own PRNG, so token
// minting draws from the same deterministic-if-seeded stream as the rest
// of the node).
func NewStore(rng *rand.Rand, maxAge time.Duration) *Store {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Store{rng: rng, maxAge: maxAge, entries: make(map[interface{}]entry)}
}

// Mint draws five random bytes, retrying until the result is non-zero,
// and stores it as remote's current token.
func (s *Store) Mint(remote interface{}, now time.Time) Token {
	var tok Token
	for {
		s.rng.Read(tok[:])
		if !tok.IsZero() {
			break
		}
	}
	s.entries[remote] = entry{token: tok, mintedAt: now}
	return tok
}

// Valid reports whether tok is non-zero and equal to the token most
// recently minted for remote, and not older than maxAge.
func (s *Store) Valid(remote interface{}, tok Token, now time.Time) bool {
	if tok.IsZero() {
		return false
	}
	e, ok := s.entries[remote]
	if !ok {
		return false
	}
	if now.Sub(e.mintedAt) > s.maxAge {
		return false
	}
	return bytes.Equal(e.token[:], tok[:])
}

// Forget drops any token held for remote.
func (s *Store) Forget(remote interface{}) {
	delete(s.entries, remote)
}
