package node

import (
	"encoding/binary"
	"hash/crc32"
	"net"
	"math/rand"

	"github.com/btdht/mldht/internal/dht/ktable"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// maskIPv4 clears every bit of ip that BEP-42 says must not influence the
// derived id, keeping only the bits that vary slowly for a given /24-ish
// network: the classic 0x030f3f3f mask.
func maskIPv4(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	n := binary.BigEndian.Uint32(v4)
	return n & 0x030f3f3f
}

// DeriveID computes a BEP-42-compliant node id for the given external
// IPv4 address, using rSeed (0-7) as the low-order randomization bits and
// rng to fill the remaining unconstrained bytes.
func DeriveID(ip net.IP, rSeed byte, rng *rand.Rand) ktable.ID {
	rSeed &= 0x7
	masked := maskIPv4(ip) | uint32(rSeed)<<29
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], masked)
	crc := crc32.Checksum(buf[:], castagnoli)

	var id ktable.ID
	id[0] = byte(crc >> 24)
	id[1] = byte(crc >> 16)
	id[2] = (byte(crc>>8) & 0xf8) | byte(rng.Intn(8))
	for i := 3; i < ktable.IDLen-1; i++ {
		id[i] = byte(rng.Intn(256))
	}
	id[ktable.IDLen-1] = rSeed
	return id
}

// IsStrict reports whether id is a valid BEP-42 derivation for ip: its
// trailing byte is the rSeed that was used to compute the leading three
// bytes, which must match exactly except for the low 3 bits of the third
// byte, which are free.
func IsStrict(ip net.IP, id ktable.ID) bool {
	rSeed := id[ktable.IDLen-1] & 0x7
	masked := maskIPv4(ip) | uint32(rSeed)<<29
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], masked)
	crc := crc32.Checksum(buf[:], castagnoli)

	if id[0] != byte(crc>>24) || id[1] != byte(crc>>16) {
		return false
	}
	return (id[2] & 0xf8) == (byte(crc>>8) & 0xf8)
}
