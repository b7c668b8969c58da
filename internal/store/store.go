// Package store persists a node's identity and routing table contacts
// across restarts, the DHT analogue of the teacher's bolt-backed
// accounts cache.
package store

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"

	"github.com/btdht/mldht/internal/dht/ktable"
	"github.com/btdht/mldht/logger"
	"github.com/btdht/mldht/logger/glog"
)

var (
	identityBucketName = []byte("identity")
	contactsBucketName = []byte("contacts")
	selfIDKey          = []byte("self")
	seedKey            = []byte("seed")
)

// DB is a bolt-backed store of a node's self id, PRNG seed, and the last
// known-good contacts from its routing table.
type DB struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bolt database at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	bdb, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := bdb.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(identityBucketName); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(contactsBucketName)
		return err
	}); err != nil {
		bdb.Close()
		return nil, err
	}
	return &DB{db: bdb}, nil
}

// Close releases the underlying bolt database.
func (d *DB) Close() error {
	return d.db.Close()
}

// SaveIdentity persists the node's self id and PRNG seed.
func (d *DB) SaveIdentity(self ktable.ID, seed uint64) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(identityBucketName)
		if err := b.Put(selfIDKey, append([]byte(nil), self[:]...)); err != nil {
			return err
		}
		var seedBuf [8]byte
		binary.BigEndian.PutUint64(seedBuf[:], seed)
		return b.Put(seedKey, seedBuf[:])
	})
}

// LoadIdentity retrieves the previously persisted self id and seed, if
// any. ok is false if nothing has been saved yet.
func (d *DB) LoadIdentity() (self ktable.ID, seed uint64, ok bool) {
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(identityBucketName)
		idBytes := b.Get(selfIDKey)
		seedBytes := b.Get(seedKey)
		if len(idBytes) != ktable.IDLen || len(seedBytes) != 8 {
			return nil
		}
		copy(self[:], idBytes)
		seed = binary.BigEndian.Uint64(seedBytes)
		ok = true
		return nil
	})
	if err != nil {
		glog.V(logger.Error).Infof("store: load identity: %v", err)
		return ktable.ID{}, 0, false
	}
	return self, seed, ok
}

// SaveContacts overwrites the persisted contact list with the given set
// of id/contact pairs, keyed by id so re-saving is idempotent.
func (d *DB) SaveContacts(nodes []*ktable.Node) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(contactsBucketName)
		if err := b.ForEach(func(k, v []byte) error {
			return b.Delete(k)
		}); err != nil {
			return err
		}
		for _, n := range nodes {
			if !n.Good() {
				continue
			}
			val := encodeContact(n.Contact)
			if err := b.Put(append([]byte(nil), n.ID[:]...), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadContacts retrieves the persisted contact list as bootstrap
// candidates.
func (d *DB) LoadContacts() ([]ktable.Contact, error) {
	var out []ktable.Contact
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(contactsBucketName)
		return b.ForEach(func(k, v []byte) error {
			c, ok := decodeContact(v)
			if !ok {
				return nil
			}
			out = append(out, c)
			return nil
		})
	})
	return out, err
}

// encodeContact serializes a Contact as 16 bytes of IP (v4-in-v6 form)
// followed by a big-endian port and a v6 flag byte.
func encodeContact(c ktable.Contact) []byte {
	buf := make([]byte, 19)
	copy(buf[:16], c.IP[:])
	binary.BigEndian.PutUint16(buf[16:18], c.Port)
	if c.IsV6 {
		buf[18] = 1
	}
	return buf
}

func decodeContact(buf []byte) (ktable.Contact, bool) {
	if len(buf) != 19 {
		return ktable.Contact{}, false
	}
	var c ktable.Contact
	copy(c.IP[:], buf[:16])
	c.Port = binary.BigEndian.Uint16(buf[16:18])
	c.IsV6 = buf[18] == 1
	return c, true
}
