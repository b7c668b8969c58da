package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

func TestNodeSeedPersistency(t *testing.T) {
	dir := filepath.Join("path", "to", "datadir")
	memFS := &fs{afero.NewMemMapFs()}

	if _, err := memFS.Stat(filepath.Join(dir, datadirSeed)); err == nil {
		t.Fatalf("non-created seed file already exists")
	}

	c := &Config{DataDir: dir, fs: memFS}
	seed := c.NodeSeed()
	if seed == 0 {
		t.Fatal("expected non-zero seed")
	}
	if _, err := memFS.Stat(filepath.Join(dir, datadirSeed)); err != nil {
		t.Fatalf("seed not persisted to data directory: %v", err)
	}

	c2 := &Config{DataDir: dir, fs: memFS}
	if again := c2.NodeSeed(); again != seed {
		t.Fatalf("seed not stable across loads: got %x, want %x", again, seed)
	}
}

func TestNodeSeedExplicitOverride(t *testing.T) {
	c := &Config{DataDir: "ignored", Seed: 0xdeadbeef, fs: &fs{afero.NewMemMapFs()}}
	if got := c.NodeSeed(); got != 0xdeadbeef {
		t.Fatalf("explicit seed not honored: got %x", got)
	}
}

func TestNodeSeedEphemeralWhenNoDataDir(t *testing.T) {
	c := &Config{fs: &fs{afero.NewMemMapFs()}}
	a := c.NodeSeed()
	b := c.NodeSeed()
	if a == 0 || b == 0 {
		t.Fatal("expected non-zero ephemeral seeds")
	}
}

func TestBootstrapContactsEmptyWhenLocal(t *testing.T) {
	c := &Config{DataDir: "data", Local: true, fs: &fs{afero.NewMemMapFs()}}
	if contacts := c.BootstrapContacts(); contacts != nil {
		t.Fatalf("expected no bootstrap contacts in local mode, got %v", contacts)
	}
}

func TestBootstrapContactsParsesList(t *testing.T) {
	memFS := &fs{afero.NewMemMapFs()}
	dir := "data"
	if err := memFS.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create data dir: %v", err)
	}
	blob := []byte(`["127.0.0.1:6881", "not-an-address", "10.0.0.1:6882"]`)
	if err := afero.WriteFile(memFS, filepath.Join(dir, datadirBootstrapNodes), blob, 0644); err != nil {
		t.Fatalf("failed to write bootstrap file: %v", err)
	}
	c := &Config{DataDir: dir, fs: memFS}
	contacts := c.BootstrapContacts()
	if len(contacts) != 2 {
		t.Fatalf("expected 2 valid contacts, got %d: %v", len(contacts), contacts)
	}
}

func TestRoutingSnapshotPathEmptyWithoutDataDir(t *testing.T) {
	c := &Config{}
	if path := c.RoutingSnapshotPath(); path != "" {
		t.Fatalf("expected empty snapshot path, got %q", path)
	}
}
