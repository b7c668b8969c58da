package ktable

import "time"

// Default thresholds governing goodness, grounded on the refresh/ping
// bookkeeping of a classic Kademlia bucket implementation.
const (
	// MaxOutstandingPings is the outstanding-ping count beyond which a
	// Node is a candidate for "bad", pending a successful refresh.
	MaxOutstandingPings = 3
)

// Node is one routing-table contact: a remote DHT node along with the
// bookkeeping needed to track its liveness and participate in the
// timeout wheel.
type Node struct {
	ID      ID
	Contact Contact

	LastRequestSent     time.Time
	LastResponseReceived time.Time
	LastActivity        time.Time

	OutstandingPings int
	good             bool

	// Token is a slot for a token associated with this node. Nothing in
	// this module sets or reads it; announce_peer tokens are minted and
	// checked by token.Store.
	Token []byte

	prev, next *Node
}

// NewNode constructs a freshly-seen Node, marked good until proven otherwise.
func NewNode(id ID, c Contact) *Node {
	now := time.Now()
	return &Node{
		ID:           id,
		Contact:      c,
		LastActivity: now,
		good:         true,
	}
}

// Valid reports whether n could be inserted into the table: non-zero id
// and a usable contact.
func (n *Node) Valid() bool {
	return !n.ID.IsZero() && n.Contact.Valid()
}

// Good reports whether n is currently considered reachable.
func (n *Node) Good() bool {
	return n.good
}

// MarkGood clears the bad flag and resets the outstanding-ping counter,
// called whenever n produces any activity (query or response).
func (n *Node) MarkGood() {
	n.good = true
	n.OutstandingPings = 0
	n.LastActivity = time.Now()
}

// MarkPinged records that a refresh ping was sent to n without (yet) a
// response, incrementing the outstanding counter and degrading goodness
// once the threshold is crossed.
func (n *Node) MarkPinged(now time.Time) {
	n.LastRequestSent = now
	n.OutstandingPings++
	if n.OutstandingPings > MaxOutstandingPings {
		n.good = false
	}
}

// MarkResponded records a response from n, restoring goodness.
func (n *Node) MarkResponded(now time.Time) {
	n.LastResponseReceived = now
	n.MarkGood()
}

// IsBad reports whether n has exceeded the outstanding-ping threshold and
// has not produced a response since refreshAfter.
func (n *Node) IsBad(refreshAfter time.Time) bool {
	return n.OutstandingPings > MaxOutstandingPings && n.LastResponseReceived.Before(refreshAfter)
}
