package peerdb

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btdht/mldht/internal/dht/ktable"
)

func TestSnapshotSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peercache")

	db := New(30 * time.Minute)
	now := time.Now()
	infohash := ktable.ID{1, 2, 3}
	c1 := ktable.NewContact(net.IPv4(1, 1, 1, 1), 6881)
	c2 := ktable.NewContact(net.IPv4(2, 2, 2, 2), 6882)
	db.Insert(infohash, c1, now)
	db.Insert(infohash, c2, now)

	snap, err := OpenSnapshot(path, 16, 16)
	require.NoError(t, err)
	require.NoError(t, snap.Save(db))
	snap.Close()

	snap2, err := OpenSnapshot(path, 16, 16)
	require.NoError(t, err)
	defer snap2.Close()

	restored := New(30 * time.Minute)
	require.NoError(t, snap2.Load(restored, now))

	kv := restored.Lookup(infohash, now)
	require.NotNil(t, kv, "expected restored record for infohash")
	require.Len(t, kv.Peers(), 2)
}
