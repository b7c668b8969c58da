// Package sched implements the node's cooperative "awake" loop: the
// three periodic sub-tasks (ping/refresh sweep, discovery sweep, peer-db
// sweep) plus transaction expiry and NAT refresh, each run once per
// invocation and each yielding its own next deadline. The scheduler
// itself returns the minimum of those deadlines.
package sched

import (
	"math/rand"
	"time"

	"github.com/btdht/mldht/internal/dht/ktable"
	"github.com/btdht/mldht/internal/dht/krpc"
	"github.com/btdht/mldht/internal/dht/peerdb"
	"github.com/btdht/mldht/internal/dht/txn"
	"github.com/btdht/mldht/metrics"
)

// Config bounds the scheduler's periodic sub-tasks.
type Config struct {
	RefreshInterval    time.Duration
	TransactionTimeout time.Duration
	PercentageSeek     float64 // fraction of the routing table capacity considered "full"
	TableTarget        int     // total_nodes considered a full table, for PercentageSeek
	DiscoveryBatch     int     // how many find_node(self) queries a discovery sweep issues
	NATRefreshInterval time.Duration
}

// DefaultConfig mirrors the values a classic Kademlia refresh loop uses,
// adapted to this node's K=8 bucket size.
func DefaultConfig() Config {
	return Config{
		RefreshInterval:    15 * time.Minute,
		TransactionTimeout: 10 * time.Second,
		PercentageSeek:     0.8,
		TableTarget:        2000,
		DiscoveryBatch:     ktable.K,
		NATRefreshInterval: 5 * time.Minute,
	}
}

// Scheduler runs the three sub-tasks against one node's state.
type Scheduler struct {
	Self  ktable.ID
	Table *ktable.Table
	Peers *peerdb.DB
	Txn   *txn.Registry
	RNG   *rand.Rand

	// Send transmits an encoded datagram to a contact; non-nil error
	// counts as a send failure and the datagram is dropped.
	Send func(to ktable.Contact, buf []byte) error

	Config Config

	// RefreshNAT, if set, is invoked once per NATRefreshInterval and
	// returns the next time it should be invoked again.
	RefreshNAT func(now time.Time) time.Time

	lastNAT time.Time
}

// Awake runs every sub-task once and returns the earliest time the
// scheduler should be invoked again.
func (s *Scheduler) Awake(now time.Time) time.Time {
	start := now
	deadlines := make([]time.Time, 0, 4)

	deadlines = append(deadlines, s.onAwakePing(now))
	deadlines = append(deadlines, s.onAwakeDiscovery(now))
	s.Peers.Sweep(now)
	s.Txn.Expire(now)
	deadlines = append(deadlines, s.Txn.NextAvailableAt())
	deadlines = append(deadlines, s.onAwakeNAT(now))

	metrics.SchedulerTick.UpdateSince(start)

	best := now.Add(s.Config.RefreshInterval)
	for _, d := range deadlines {
		if d.IsZero() {
			continue
		}
		if d.Before(best) {
			best = d
		}
	}
	return best
}

// onAwakePing walks the timeout wheel, pinging every Node whose
// LastRequestSent is overdue. Stops early if the transaction pool is
// exhausted, in which case the next deadline is the pool's earliest
// expiry.
func (s *Scheduler) onAwakePing(now time.Time) time.Time {
	cutoff := now.Add(-s.Config.RefreshInterval)
	for {
		n := s.Table.PopDue(cutoff)
		if n == nil {
			break
		}
		tx, ok := s.Txn.Mint(txn.Context{Kind: txn.Ping}, now)
		if !ok {
			metrics.TxPoolExhausted.Mark(1)
			s.Table.Bump(n) // leave it at the front for next time
			return s.Txn.NextAvailableAt()
		}
		buf, err := krpc.EncodePing(make([]byte, 256), tx[:], s.Self)
		if err == nil {
			if err := s.Send(n.Contact, buf); err != nil {
				metrics.SendErrors.Mark(1)
			} else {
				metrics.QueryPingOut.Mark(1)
			}
		}
		n.MarkPinged(now)
		s.Table.Bump(n)
	}
	return time.Time{}
}

// onAwakeDiscovery compares the table's fill level to the configured
// target and, if under-filled, issues find_node(self) to good contacts
// (and, failing that, drains the bootstrap list) to learn more.
func (s *Scheduler) onAwakeDiscovery(now time.Time) time.Time {
	target := int(float64(s.Config.TableTarget) * s.Config.PercentageSeek)
	if s.Table.TotalNodes() >= target {
		return time.Time{}
	}

	sent := 0
	refreshAfter := now.Add(-s.Config.RefreshInterval)
	for _, n := range s.Table.ClosestK(s.Self, s.Config.DiscoveryBatch, refreshAfter) {
		if sent >= s.Config.DiscoveryBatch {
			break
		}
		if s.sendFindNodeSelf(n.Contact, now) {
			sent++
		} else {
			return s.Txn.NextAvailableAt()
		}
	}

	if sent == 0 && len(s.Table.BootstrapContacts) > 0 {
		c := s.Table.BootstrapContacts[0]
		if s.sendFindNodeSelf(c, now) {
			s.Table.BootstrapContacts = s.Table.BootstrapContacts[1:]
		} else {
			return s.Txn.NextAvailableAt()
		}
	}
	return time.Time{}
}

func (s *Scheduler) sendFindNodeSelf(to ktable.Contact, now time.Time) bool {
	tx, ok := s.Txn.Mint(txn.Context{Kind: txn.FindNode, Target: s.Self}, now)
	if !ok {
		metrics.TxPoolExhausted.Mark(1)
		return false
	}
	buf, err := krpc.EncodeFindNode(make([]byte, 256), tx[:], s.Self, s.Self)
	if err != nil {
		return true
	}
	if err := s.Send(to, buf); err != nil {
		metrics.SendErrors.Mark(1)
	} else {
		metrics.QueryFindNodeOut.Mark(1)
	}
	return true
}

// onAwakeNAT invokes RefreshNAT at most once per NATRefreshInterval.
func (s *Scheduler) onAwakeNAT(now time.Time) time.Time {
	if s.RefreshNAT == nil {
		return time.Time{}
	}
	if !s.lastNAT.IsZero() && now.Sub(s.lastNAT) < s.Config.NATRefreshInterval {
		return s.lastNAT.Add(s.Config.NATRefreshInterval)
	}
	s.lastNAT = now
	return s.RefreshNAT(now)
}
