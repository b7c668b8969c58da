// Package ktable implements the Kademlia-style routing table: a tree of
// levels chained along the path of the local node's own id, each level
// branching into an "away" bucket list that does not split further.
//
// Unlike a classic flat array of distance buckets, only the path that
// shares a prefix with the local id is ever split; everything that
// diverges at some bit is parked in that level's bucket list for good.
package ktable

import (
	"encoding/hex"
	"math/bits"
)

// IDLen is the width of the DHT keyspace in bytes (160 bits).
const IDLen = 20

// ID is a 160-bit node id or infohash. Unlike a hash-derived type, it is a
// plain comparable array so it can be used directly as a map key.
type ID [IDLen]byte

// String renders the id as lowercase hex.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether every byte of id is zero.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Bit returns the value (0 or 1) of the i-th most significant bit of id.
func (id ID) Bit(i int) int {
	byteIdx := i / 8
	bitIdx := uint(7 - i%8)
	return int((id[byteIdx] >> bitIdx) & 1)
}

// Xor returns the bitwise XOR distance between id and other.
func (id ID) Xor(other ID) ID {
	var out ID
	for i := range id {
		out[i] = id[i] ^ other[i]
	}
	return out
}

// SharedPrefixLen returns the number of leading bits id and other have in
// common (the "rank" used to decide routing-table depth), in [0, 160].
func (id ID) SharedPrefixLen(other ID) int {
	n := 0
	for i := 0; i < IDLen; i++ {
		x := id[i] ^ other[i]
		if x == 0 {
			n += 8
			continue
		}
		n += bits.LeadingZeros8(x)
		break
	}
	return n
}

// Less reports whether id is numerically less than other, treating both
// as big-endian unsigned integers. Used to break ties deterministically
// in closest-contact comparisons.
func (id ID) Less(other ID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// CmpDistance compares the XOR distance from pivot to a versus pivot to b,
// returning -1, 0, or 1 the way bytes.Compare does. It is the 160-bit
// analogue of distcmp from a classic Kademlia implementation.
func CmpDistance(pivot, a, b ID) int {
	for i := 0; i < IDLen; i++ {
		da := pivot[i] ^ a[i]
		db := pivot[i] ^ b[i]
		if da != db {
			if da < db {
				return -1
			}
			return 1
		}
	}
	return 0
}

// LogDistance returns the index of the highest set bit of the XOR distance
// between a and b, or -1 if a == b. This is the 160-bit analogue of
// logdist: the depth at which a and b first diverge is IDLen*8-1-LogDistance.
func LogDistance(a, b ID) int {
	for i := 0; i < IDLen; i++ {
		x := a[i] ^ b[i]
		if x == 0 {
			continue
		}
		return (IDLen-1-i)*8 + bits.Len8(x) - 1
	}
	return -1
}
