// Package node wires the routing table, transaction registry, peer
// database, KRPC handler, scheduler, IP election, and search manager
// together into one long-lived node struct, passed by reference through
// every handler the way the teacher's p2p layer threads its own state.
package node

import (
	"math/rand"
	"net"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/btdht/mldht/internal/dht/ipvote"
	"github.com/btdht/mldht/internal/dht/krpc"
	"github.com/btdht/mldht/internal/dht/ktable"
	"github.com/btdht/mldht/internal/dht/peerdb"
	"github.com/btdht/mldht/internal/dht/search"
	"github.com/btdht/mldht/internal/dht/sched"
	"github.com/btdht/mldht/internal/dht/token"
	"github.com/btdht/mldht/internal/dht/txn"
	"github.com/btdht/mldht/logger/glog"
	"github.com/btdht/mldht/metrics"
)

// BlacklistSize bounds the LRU cache of contacts the node refuses to
// interact with, e.g. after repeated protocol violations.
const BlacklistSize = 4096

// Config bounds the node's subsystems; see sched.Config for scheduling
// parameters.
type Config struct {
	Sched          sched.Config
	PeerAgeRefresh time.Duration
	TxnPoolSize    int
	TableRootLimit int
	TokenMaxAge    time.Duration
}

// DefaultConfig returns the configuration a freshly-initialized node
// starts with.
func DefaultConfig() Config {
	return Config{
		Sched:          sched.DefaultConfig(),
		PeerAgeRefresh: 30 * time.Minute,
		TxnPoolSize:    1 << 14,
		TableRootLimit: ktable.DefaultRootLimit,
		TokenMaxAge:    token.DefaultMaxAge,
	}
}

// Send transmits an encoded datagram to a contact. Implemented by the
// UDP transport in cmd/dhtnode (or internal/dhttest's fake in tests).
type Send func(to ktable.Contact, buf []byte) error

// Node is the long-lived DHT participant: its id, its routing/peer/token
// state, and the subsystems built on top of them.
type Node struct {
	Self ktable.ID

	Table     *ktable.Table
	Peers     *peerdb.DB
	Tokens    *token.Store
	Txn       *txn.Registry
	Votes     *ipvote.Election
	Handler   *krpc.Handler
	Scheduler *sched.Scheduler

	rng        *rand.Rand
	xs         *xorshift
	blacklist  *lru.Cache
	searches   map[uint64]*search.Search
	nextSearch uint64

	cfg Config
}

// New constructs a Node rooted at self with the given send function and
// PRNG seed (0 draws a fixed non-deterministic-looking default, intended
// for tests that want reproducibility to pass an explicit seed).
func New(self ktable.ID, send Send, cfg Config, seed uint64) *Node {
	xs := newXorshift(seed)
	rng := rand.New(xs)

	blacklist, err := lru.New(BlacklistSize)
	if err != nil {
		// lru.New only fails for a non-positive size; BlacklistSize is a
		// compile-time constant, so this is unreachable in practice.
		glog.Fatalf("node: blacklist cache: %v", err)
	}

	n := &Node{
		Self:      self,
		Table:     ktable.NewWithLimit(self, cfg.TableRootLimit),
		Peers:     peerdb.New(cfg.PeerAgeRefresh),
		Tokens:    token.NewStore(rng, cfg.TokenMaxAge),
		Txn:       txn.New(cfg.TxnPoolSize, cfg.Sched.TransactionTimeout, rng),
		Votes:     ipvote.New(),
		rng:       rng,
		xs:        xs,
		blacklist: blacklist,
		searches:  make(map[uint64]*search.Search),
		cfg:       cfg,
	}
	n.Table.OnEvict = func(evicted *ktable.Node) {
		metrics.RoutingTableBadNodes.Update(int64(n.Table.BadNodes()))
	}

	n.Handler = &krpc.Handler{
		Self:            self,
		Table:           n.Table,
		Peers:           n.Peers,
		Tokens:          n.Tokens,
		Txn:             n.Txn,
		Votes:           n.Votes,
		RefreshInterval: cfg.Sched.RefreshInterval,
		Blacklisted: func(c ktable.Contact) bool {
			_, bad := n.blacklist.Get(c)
			return bad
		},
		OnFindNodeResult: n.onFindNodeResult,
		OnGetPeersResult: n.onGetPeersResult,
	}

	n.Scheduler = &sched.Scheduler{
		Self:   self,
		Table:  n.Table,
		Peers:  n.Peers,
		Txn:    n.Txn,
		RNG:    rng,
		Send:   send,
		Config: cfg.Sched,
	}
	return n
}

// Blacklist marks c as not to be interacted with.
func (n *Node) Blacklist(c ktable.Contact) {
	n.blacklist.Add(c, struct{}{})
}

// HandleDatagram processes one inbound datagram and returns the reply
// bytes (if any).
func (n *Node) HandleDatagram(buf []byte, from ktable.Contact, now time.Time) ([]byte, bool) {
	n.Peers.LastExternalActivity = now
	return n.Handler.Handle(buf, from, now)
}

// Awake drives the scheduler one tick and returns the next deadline.
func (n *Node) Awake(now time.Time) time.Time {
	return n.Scheduler.Awake(now)
}

// StartSearch begins a recursive get_peers lookup for infohash, seeded
// from the table's own closest-K, and returns its id for later polling
// via Search.
func (n *Node) StartSearch(infohash ktable.ID, timeout time.Duration, now time.Time) uint64 {
	n.nextSearch++
	id := n.nextSearch
	seed := n.Table.ClosestK(infohash, ktable.K, now.Add(-n.cfg.Sched.RefreshInterval))
	s := search.New(id, infohash, seed, now.Add(timeout))
	n.searches[id] = s
	n.pumpSearch(s, now)
	return id
}

// Search returns the in-progress (or completed) search by id.
func (n *Node) Search(id uint64) *search.Search {
	return n.searches[id]
}

// pumpSearch issues as many get_peers queries as the search's outstanding
// budget allows.
func (n *Node) pumpSearch(s *search.Search, now time.Time) {
	for {
		id, contact, ok := s.NextQuery()
		if !ok {
			return
		}
		tx, ok := n.Txn.Mint(txn.Context{Kind: txn.GetPeers, Infohash: s.Infohash, SearchID: s.ID}, now)
		if !ok {
			metrics.TxPoolExhausted.Mark(1)
			return
		}
		buf, err := krpc.EncodeGetPeers(make([]byte, 256), tx[:], n.Self, s.Infohash)
		if err != nil {
			continue
		}
		if err := n.Scheduler.Send(contact, buf); err != nil {
			metrics.SendErrors.Mark(1)
		} else {
			metrics.QueryGetPeersOut.Mark(1)
		}
		_ = id
	}
}

func (n *Node) onFindNodeResult(ctx txn.Context, from ktable.Contact, nodes []krpc.CompactNode) {
	for _, cn := range nodes {
		if cn.ID == n.Self || cn.ID.IsZero() {
			continue
		}
		n.Table.Insert(ktable.NewNode(cn.ID, cn.Contact))
	}
}

func (n *Node) onGetPeersResult(ctx txn.Context, from ktable.Contact, tok []byte, nodes []krpc.CompactNode, values []ktable.Contact, now time.Time) {
	s, ok := n.searches[ctx.SearchID]
	if !ok {
		return
	}
	searchNodes := make([]search.Node, 0, len(nodes))
	for _, cn := range nodes {
		searchNodes = append(searchNodes, search.Node{ID: cn.ID, Contact: cn.Contact})
	}
	s.OnResult(searchNodes, values)
	n.pumpSearch(s, now)
}

// ElectExternalAddr returns the node's best guess at its own external
// contact, if enough distinct voters agree, per BEP-42 ip-hint voting.
func (n *Node) ElectExternalAddr(minVotes int) (ktable.Contact, bool) {
	return n.Votes.Winner(minVotes)
}

// RenewIdentity re-derives the node's own id from elected to satisfy
// BEP-42 once enough external peers agree on the node's address. The
// caller is responsible for migrating routing-table state afterward
// (a new id generally means re-keying buckets); this only updates Self
// and the handler/scheduler copies of it.
func (n *Node) RenewIdentity(ip net.IP) {
	rSeed := byte(n.rng.Intn(8))
	id := DeriveID(ip, rSeed, n.rng)
	n.Self = id
	n.Handler.Self = id
	n.Scheduler.Self = id
}
