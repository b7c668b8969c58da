// Package config collects the small set of values that tune a node's
// identity and bootstrap behavior, the DHT analogue of the teacher's
// node.Config: a data directory, a listen address, and a persisted
// identity seed in place of an enode private key.
package config

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/afero"

	"github.com/btdht/mldht/internal/dht/ktable"
	"github.com/btdht/mldht/logger"
	"github.com/btdht/mldht/logger/glog"
)

var (
	datadirSeed            = "node.seed"          // Path within the datadir to the PRNG seed
	datadirBootstrapNodes  = "bootstrap-nodes.json" // Path within the datadir to the bootstrap contact list
	datadirRoutingSnapshot = "routing.db"          // Path within the datadir to the bolt-backed routing snapshot
)

// fs wraps afero.FS so a zero Config still has a usable default and
// tests can swap in an in-memory filesystem.
type fs struct {
	afero.Fs
}

// Config tunes a single node's identity, listen address, and bootstrap
// behavior.
type Config struct {
	// DataDir is where the node's seed, bootstrap list, and routing
	// snapshot live. Empty means fully ephemeral: a random seed, no
	// snapshot persistence.
	DataDir string

	// BindAddr is the UDP address the node listens on, e.g. ":6881".
	BindAddr string

	// Local, when true, makes BootstrapContacts return no contacts at all;
	// useful for tests and LAN-only deployments. It does not affect NAT
	// port mapping.
	Local bool

	// Seed fixes the node's PRNG seed (and so its derived identity) when
	// non-zero, overriding any seed found in or written to DataDir.
	Seed uint64

	fs *fs
}

// RoutingSnapshotPath returns the full path to the bolt-backed routing
// table snapshot, or "" if DataDir is unset.
func (c *Config) RoutingSnapshotPath() string {
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, datadirRoutingSnapshot)
}

// NodeSeed retrieves the PRNG seed used to derive this node's identity
// and every other source of randomness it needs, checking any explicitly
// configured seed first, then falling back to one stored in DataDir, and
// finally generating and persisting a fresh one.
func (c *Config) NodeSeed() uint64 {
	if c.Seed != 0 {
		return c.Seed
	}
	if c.fs == nil {
		c.fs = &fs{afero.NewOsFs()}
	}
	if c.DataDir == "" {
		return randomSeed()
	}

	seedFile := filepath.Join(c.DataDir, datadirSeed)
	if blob, err := afero.ReadFile(c.fs, seedFile); err == nil {
		var seed uint64
		if _, err := fmt.Sscanf(string(blob), "%x", &seed); err == nil && seed != 0 {
			return seed
		}
		glog.V(logger.Error).Infof("could not parse node seed file: %s", seedFile)
	} else if !os.IsNotExist(err) {
		glog.Fatalf("could not read node seed file: %v", err)
	}

	seed := randomSeed()
	if err := c.fs.MkdirAll(c.DataDir, 0755); err != nil && !os.IsExist(err) {
		glog.Fatalf("could not create data directory: %v", err)
	}
	if err := afero.WriteFile(c.fs, seedFile, []byte(fmt.Sprintf("%x", seed)), 0600); err != nil {
		glog.V(logger.Error).Infof("failed to persist node seed: %v", err)
	}
	return seed
}

func randomSeed() uint64 {
	return uint64(rand.Int63())<<1 | 1
}

// BootstrapContacts parses the configured bootstrap contact list from
// DataDir. Each entry is a "host:port" string; malformed entries are
// skipped with a logged warning rather than aborting the whole list.
func (c *Config) BootstrapContacts() []ktable.Contact {
	if c.Local || c.DataDir == "" {
		return nil
	}
	if c.fs == nil {
		c.fs = &fs{afero.NewOsFs()}
	}
	path := filepath.Join(c.DataDir, datadirBootstrapNodes)
	if _, err := c.fs.Stat(path); err != nil {
		return nil
	}
	blob, err := afero.ReadFile(c.fs, path)
	if err != nil {
		glog.V(logger.Error).Infof("failed to access bootstrap nodes: %v", err)
		return nil
	}
	var addrs []string
	if err := json.Unmarshal(blob, &addrs); err != nil {
		glog.V(logger.Error).Infof("failed to load bootstrap nodes: %v", err)
		return nil
	}
	return parseContacts(addrs)
}

// parseContacts turns "host:port" strings into resolved contacts,
// skipping any that fail to parse or resolve.
func parseContacts(addrs []string) []ktable.Contact {
	var out []ktable.Contact
	for _, a := range addrs {
		if c, ok := ParseContact(a); ok {
			out = append(out, c)
		}
	}
	return out
}

// ParseContact resolves a single "host:port" string into a Contact,
// logging and returning false on any parse or resolution failure.
func ParseContact(addr string) (ktable.Contact, bool) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ktable.Contact{}, false
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		glog.V(logger.Error).Infof("bootstrap address %q: %v", addr, err)
		return ktable.Contact{}, false
	}
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		glog.V(logger.Error).Infof("bootstrap address %q: could not resolve host", addr)
		return ktable.Contact{}, false
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil || port <= 0 || port > 65535 {
		glog.V(logger.Error).Infof("bootstrap address %q: bad port", addr)
		return ktable.Contact{}, false
	}
	return ktable.NewContact(ips[0], uint16(port)), true
}

// DefaultBindAddr picks a platform-appropriate default listen address.
func DefaultBindAddr() string {
	if runtime.GOOS == "windows" {
		return ":6881"
	}
	return "0.0.0.0:6881"
}
