package store

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/btdht/mldht/internal/dht/ktable"
)

func tempStore(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routing.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestIdentityRoundTrip(t *testing.T) {
	db := tempStore(t)

	if _, _, ok := db.LoadIdentity(); ok {
		t.Fatal("expected no identity in a fresh store")
	}

	var self ktable.ID
	self[0] = 0xab
	if err := db.SaveIdentity(self, 0xdeadbeef); err != nil {
		t.Fatalf("failed to save identity: %v", err)
	}

	got, seed, ok := db.LoadIdentity()
	if !ok {
		t.Fatal("expected identity to load after save")
	}
	if got != self {
		t.Fatalf("id mismatch: got %v want %v", got, self)
	}
	if seed != 0xdeadbeef {
		t.Fatalf("seed mismatch: got %x", seed)
	}
}

func TestContactsRoundTrip(t *testing.T) {
	db := tempStore(t)

	var id1, id2 ktable.ID
	id1[0] = 1
	id2[0] = 2
	good := ktable.NewNode(id1, ktable.NewContact(net.IPv4(1, 2, 3, 4), 6881))
	good.MarkGood()
	bad := ktable.NewNode(id2, ktable.NewContact(net.IPv4(5, 6, 7, 8), 6882))

	if err := db.SaveContacts([]*ktable.Node{good, bad}); err != nil {
		t.Fatalf("failed to save contacts: %v", err)
	}

	contacts, err := db.LoadContacts()
	if err != nil {
		t.Fatalf("failed to load contacts: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("expected only the good contact to persist, got %s", spew.Sdump(contacts))
	}
	if contacts[0].Port != 6881 {
		t.Fatalf("unexpected contact loaded: %s", spew.Sdump(contacts[0]))
	}
}

func TestSaveContactsOverwritesPrevious(t *testing.T) {
	db := tempStore(t)

	var id1 ktable.ID
	id1[0] = 1
	n1 := ktable.NewNode(id1, ktable.NewContact(net.IPv4(1, 1, 1, 1), 1111))
	n1.MarkGood()
	if err := db.SaveContacts([]*ktable.Node{n1}); err != nil {
		t.Fatalf("failed first save: %v", err)
	}

	if err := db.SaveContacts(nil); err != nil {
		t.Fatalf("failed second save: %v", err)
	}

	contacts, err := db.LoadContacts()
	if err != nil {
		t.Fatalf("failed to load contacts: %v", err)
	}
	if len(contacts) != 0 {
		t.Fatalf("expected contacts cleared, got %d", len(contacts))
	}
}
