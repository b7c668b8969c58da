package peerdb

import (
	"time"

	"github.com/btdht/mldht/internal/dht/ktable"
	"github.com/btdht/mldht/internal/leveldbutil"
)

// Snapshot mirrors a DB's records to an on-disk leveldb cache, so a
// restart does not have to wait for fresh announce_peer traffic to
// rebuild its peer set, the same role the teacher's LDBDatabase plays
// for chain data.
type Snapshot struct {
	ldb *leveldbutil.LDBDatabase
}

// OpenSnapshot opens (creating if absent) a leveldb-backed snapshot at
// path. cache/handles are MB/file-descriptor allowances, as accepted by
// leveldbutil.NewLDBDatabase.
func OpenSnapshot(path string, cache, handles int) (*Snapshot, error) {
	ldb, err := leveldbutil.NewLDBDatabase(path, cache, handles)
	if err != nil {
		return nil, err
	}
	return &Snapshot{ldb: ldb}, nil
}

// Close releases the underlying leveldb handle.
func (s *Snapshot) Close() { s.ldb.Close() }

// Save writes every currently-held record (infohash -> peers) to the
// snapshot, overwriting whatever it held for that infohash before.
func (s *Snapshot) Save(db *DB) error {
	batch := s.ldb.NewBatch()
	for infohash, kv := range db.records {
		peers := kv.Peers()
		buf := make([]byte, 0, len(peers)*contactEncodedLen)
		for _, c := range peers {
			buf = appendContact(buf, c)
		}
		if err := batch.Put(append([]byte(nil), infohash[:]...), buf); err != nil {
			return err
		}
	}
	return batch.Write()
}

// Load repopulates db from the snapshot, treating every restored peer
// as freshly active as of now (so it survives one full PeerAgeRefresh
// window before being swept, giving the node time to re-earn real
// announce_peer traffic for it).
func (s *Snapshot) Load(db *DB, now time.Time) error {
	iter := s.ldb.NewIterator()
	defer iter.Release()
	for iter.Next() {
		var infohash ktable.ID
		key := iter.Key()
		if len(key) != ktable.IDLen {
			continue
		}
		copy(infohash[:], key)
		for _, c := range decodeContacts(iter.Value()) {
			db.Insert(infohash, c, now)
		}
	}
	return iter.Error()
}

// contactEncodedLen is the fixed per-contact size used by the snapshot
// codec: 16-byte address, 2-byte big-endian port, 1 flag byte.
const contactEncodedLen = 19

func appendContact(buf []byte, c ktable.Contact) []byte {
	buf = append(buf, c.IP[:]...)
	buf = append(buf, byte(c.Port>>8), byte(c.Port))
	flag := byte(0)
	if c.IsV6 {
		flag = 1
	}
	return append(buf, flag)
}

func decodeContacts(buf []byte) []ktable.Contact {
	var out []ktable.Contact
	for len(buf) >= contactEncodedLen {
		var c ktable.Contact
		copy(c.IP[:], buf[:16])
		c.Port = uint16(buf[16])<<8 | uint16(buf[17])
		c.IsV6 = buf[18] != 0
		out = append(out, c)
		buf = buf[contactEncodedLen:]
	}
	return out
}
