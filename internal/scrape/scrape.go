// Package scrape names the extension point for forwarding observed
// infohash activity to an external side channel (e.g. a SQLite-backed
// scrape database), without committing to any particular backend: no
// sqlite driver is present in this repo's dependency surface, so only
// a no-op Sink is provided here.
package scrape

import "github.com/btdht/mldht/internal/dht/ktable"

// Sink receives infohash activity observed on the wire. Calls must not
// block the caller for long; a real backend should buffer and flush
// asynchronously.
type Sink interface {
	Observe(infohash ktable.ID, peer ktable.Contact)
}

// Nop is the default Sink: it discards everything.
type Nop struct{}

func (Nop) Observe(ktable.ID, ktable.Contact) {}
