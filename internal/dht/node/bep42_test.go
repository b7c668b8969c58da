package node

import (
	"math/rand"
	"net"
	"testing"
	"testing/quick"
)

func TestDeriveIDIsStrict(t *testing.T) {
	f := func(seed int64, a, b, c, d byte, r byte) bool {
		ip := net.IPv4(a, b, c, d)
		rng := rand.New(rand.NewSource(seed))
		id := DeriveID(ip, r, rng)
		return IsStrict(ip, id)
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 500}); err != nil {
		t.Fatal(err)
	}
}

func TestIsStrictRejectsTamperedID(t *testing.T) {
	ip := net.IPv4(203, 0, 113, 5)
	rng := rand.New(rand.NewSource(1))
	id := DeriveID(ip, 3, rng)
	if !IsStrict(ip, id) {
		t.Fatal("freshly derived id should be strict")
	}
	id[0] ^= 0xff
	if IsStrict(ip, id) {
		t.Fatal("tampered id should not be strict")
	}
}
