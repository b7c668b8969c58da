// Package peerdb is the announce_peer store: a map from infohash to the
// peers that have announced themselves for it, aged out by a shared
// timeout wheel and optionally mirrored to an on-disk cache.
package peerdb

import (
	"time"

	"github.com/btdht/mldht/internal/dht/ktable"
)

// peer is one announced contact within a KeyValue record.
type peer struct {
	contact      ktable.Contact
	lastActivity time.Time
	prev, next   *peer // intrusive doubly-linked timeout wheel
	kv           *KeyValue
}

// KeyValue associates an infohash with the peers that have announced it.
type KeyValue struct {
	Infohash ktable.ID
	head     *peer
}

// Peers returns every currently-held contact for the record, most
// recently added first (a refresh does not move an entry). Callers should
// prefer DB.Lookup, which purges expired entries before returning.
func (kv *KeyValue) Peers() []ktable.Contact {
	var out []ktable.Contact
	for p := kv.head; p != nil; p = p.next {
		out = append(out, p.contact)
	}
	return out
}

func (kv *KeyValue) linkFront(p *peer) {
	p.prev = nil
	p.next = kv.head
	if kv.head != nil {
		kv.head.prev = p
	}
	kv.head = p
}

func (kv *KeyValue) unlink(p *peer) {
	if p.prev != nil {
		p.prev.next = p.next
	} else if kv.head == p {
		kv.head = p.next
	}
	if p.next != nil {
		p.next.prev = p.prev
	}
	p.prev, p.next = nil, nil
}

// DB is the peer database: KeyValue records keyed by infohash, with a
// single timeout wheel shared across every record (mirroring the routing
// table's single wheel, per the shared intrusive-wheel design).
type DB struct {
	records map[ktable.ID]*KeyValue

	wheelHead, wheelTail *peer

	// PeerAgeRefresh is how long a peer entry survives without a refresh.
	PeerAgeRefresh time.Duration

	// LastExternalActivity is the node's own most recent observed
	// Internet activity (e.g. any inbound datagram). Expiry only takes
	// effect once this timestamp is itself past a record's eol, guarding
	// against mass expiry immediately after the node was offline.
	LastExternalActivity time.Time

	totalInfohashes int
	totalPeers      int
}

// New returns an empty peer database.
func New(peerAgeRefresh time.Duration) *DB {
	return &DB{records: make(map[ktable.ID]*KeyValue), PeerAgeRefresh: peerAgeRefresh}
}

func (db *DB) wheelPushBack(p *peer) {
	p.prev, p.next = nil, nil
	if db.wheelTail == nil {
		db.wheelHead, db.wheelTail = p, p
		return
	}
	p.prev = db.wheelTail
	db.wheelTail.next = p
	db.wheelTail = p
}

func (db *DB) wheelRemove(p *peer) {
	if p.prev != nil {
		p.prev.next = p.next
	} else if db.wheelHead == p {
		db.wheelHead = p.next
	}
	if p.next != nil {
		p.next.prev = p.prev
	} else if db.wheelTail == p {
		db.wheelTail = p.prev
	}
	p.prev, p.next = nil, nil
}

// Insert records contact as an announcer for infohash, refreshing it if
// already present.
func (db *DB) Insert(infohash ktable.ID, contact ktable.Contact, now time.Time) {
	kv, ok := db.records[infohash]
	if !ok {
		kv = &KeyValue{Infohash: infohash}
		db.records[infohash] = kv
		db.totalInfohashes++
	}
	for p := kv.head; p != nil; p = p.next {
		if p.contact.Equal(contact) {
			p.lastActivity = now
			db.wheelRemove(p)
			db.wheelPushBack(p)
			return
		}
	}
	p := &peer{contact: contact, lastActivity: now, kv: kv}
	kv.linkFront(p)
	db.wheelPushBack(p)
	db.totalPeers++
}

// TotalInfohashes returns the number of distinct infohashes currently tracked.
func (db *DB) TotalInfohashes() int { return db.totalInfohashes }

// TotalPeers returns the number of peer entries currently tracked, summed
// across every infohash.
func (db *DB) TotalPeers() int { return db.totalPeers }

// eol returns the expiry time of p.
func (db *DB) eol(p *peer) time.Time {
	return p.lastActivity.Add(db.PeerAgeRefresh)
}

// expired reports whether p is past its eol AND the node has observed
// more recent external activity than that eol (so a long offline period
// does not itself cause mass expiry the moment the node wakes back up).
func (db *DB) expired(p *peer, now time.Time) bool {
	eol := db.eol(p)
	if !eol.Before(now) {
		return false
	}
	return db.LastExternalActivity.After(eol)
}

// purge removes every expired peer from kv, releasing the record entirely
// if it becomes empty. Returns false if the record was deallocated.
func (db *DB) purge(kv *KeyValue, now time.Time) bool {
	p := kv.head
	for p != nil {
		nextP := p.next
		if db.expired(p, now) {
			kv.unlink(p)
			db.wheelRemove(p)
			db.totalPeers--
		}
		p = nextP
	}
	if kv.head == nil {
		delete(db.records, kv.Infohash)
		db.totalInfohashes--
		return false
	}
	return true
}

// Lookup returns the KeyValue record for infohash, first purging any of
// its expired peers. Returns nil if no record exists or it was emptied by
// the purge.
func (db *DB) Lookup(infohash ktable.ID, now time.Time) *KeyValue {
	kv, ok := db.records[infohash]
	if !ok {
		return nil
	}
	if !db.purge(kv, now) {
		return nil
	}
	return kv
}

// Sweep walks the shared timeout wheel from the head, removing every
// expired peer and dropping a KeyValue record once its last peer is gone,
// per the scheduler's peer-DB sub-task. It stops at the first peer that
// is not yet expired.
func (db *DB) Sweep(now time.Time) {
	for db.wheelHead != nil {
		p := db.wheelHead
		if !db.eol(p).Before(now) {
			break
		}
		if !db.expired(p, now) {
			// Not yet eligible under the external-activity guard; leave
			// it at the head so Sweep does not livelock rescanning it.
			break
		}
		kv := p.kv
		kv.unlink(p)
		db.wheelRemove(p)
		db.totalPeers--
		if kv.head == nil {
			delete(db.records, kv.Infohash)
			db.totalInfohashes--
		}
	}
}
