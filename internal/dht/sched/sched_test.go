package sched

import (
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/btdht/mldht/internal/dht/ktable"
	"github.com/btdht/mldht/internal/dht/peerdb"
	"github.com/btdht/mldht/internal/dht/txn"
)

func newScheduler(self ktable.ID) (*Scheduler, *[]ktable.Contact) {
	var sent []ktable.Contact
	s := &Scheduler{
		Self:  self,
		Table: ktable.New(self),
		Peers: peerdb.New(time.Hour),
		Txn:   txn.New(64, time.Minute, rand.New(rand.NewSource(1))),
		RNG:   rand.New(rand.NewSource(1)),
		Send: func(to ktable.Contact, buf []byte) error {
			sent = append(sent, to)
			return nil
		},
		Config: DefaultConfig(),
	}
	return s, &sent
}

func TestAwakePingsOverdueContacts(t *testing.T) {
	self := ktable.ID{}
	s, sent := newScheduler(self)
	s.Config.RefreshInterval = time.Minute

	var id ktable.ID
	id[0] = 1
	n := ktable.NewNode(id, ktable.NewContact(net.IPv4(1, 2, 3, 4), 6881))
	n.LastRequestSent = time.Now().Add(-time.Hour)
	s.Table.Insert(n)
	s.Awake(time.Now().Add(2 * time.Hour))
	if len(*sent) == 0 {
		t.Fatal("expected at least one ping to be sent")
	}
}

func TestAwakeReturnsFutureDeadline(t *testing.T) {
	self := ktable.ID{}
	s, _ := newScheduler(self)
	now := time.Now()
	next := s.Awake(now)
	if !next.After(now) {
		t.Fatalf("expected next deadline after now, got %v (now=%v)", next, now)
	}
}

func TestOnAwakeNATRateLimited(t *testing.T) {
	self := ktable.ID{}
	s, _ := newScheduler(self)
	s.Config.NATRefreshInterval = time.Hour
	calls := 0
	s.RefreshNAT = func(now time.Time) time.Time {
		calls++
		return now.Add(time.Hour)
	}
	now := time.Now()
	s.Awake(now)
	s.Awake(now.Add(time.Minute))
	if calls != 1 {
		t.Fatalf("NAT refresh should be rate limited, got %d calls", calls)
	}
}
