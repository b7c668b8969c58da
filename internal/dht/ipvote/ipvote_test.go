package ipvote

import (
	"net"
	"testing"

	"github.com/btdht/mldht/internal/dht/ktable"
)

func TestWinnerRequiresMinVotes(t *testing.T) {
	e := New()
	candidate := ktable.NewContact(net.IPv4(203, 0, 113, 1), 6881)

	e.Vote(ktable.NewContact(net.IPv4(1, 1, 1, 1), 1), candidate)
	if _, ok := e.Winner(2); ok {
		t.Fatal("should not have a winner yet")
	}
	e.Vote(ktable.NewContact(net.IPv4(2, 2, 2, 2), 1), candidate)
	got, ok := e.Winner(2)
	if !ok || got != candidate {
		t.Fatalf("expected candidate to win, got %v ok=%v", got, ok)
	}
}

func TestRepeatVoterIgnored(t *testing.T) {
	e := New()
	voter := ktable.NewContact(net.IPv4(9, 9, 9, 9), 1)
	a := ktable.NewContact(net.IPv4(203, 0, 113, 1), 6881)
	b := ktable.NewContact(net.IPv4(203, 0, 113, 2), 6881)

	e.Vote(voter, a)
	e.Vote(voter, b) // same voter IP, different candidate: must be ignored
	if got, ok := e.Winner(1); !ok || got != a {
		t.Fatalf("second vote from same IP should be ignored, got %v ok=%v", got, ok)
	}
}

func TestResetClearsState(t *testing.T) {
	e := New()
	voter := ktable.NewContact(net.IPv4(9, 9, 9, 9), 1)
	candidate := ktable.NewContact(net.IPv4(203, 0, 113, 1), 6881)
	e.Vote(voter, candidate)
	e.Reset()
	if _, ok := e.Winner(1); ok {
		t.Fatal("winner should be cleared after reset")
	}
	// Same voter can vote again post-reset.
	e.Vote(voter, candidate)
	if _, ok := e.Winner(1); !ok {
		t.Fatal("vote after reset should count")
	}
}
