package krpc

import (
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/btdht/mldht/internal/bencode"
	"github.com/btdht/mldht/internal/dht/ipvote"
	"github.com/btdht/mldht/internal/dht/ktable"
	"github.com/btdht/mldht/internal/dht/peerdb"
	"github.com/btdht/mldht/internal/dht/token"
	"github.com/btdht/mldht/internal/dht/txn"
)

func newHandler(self ktable.ID) *Handler {
	return &Handler{
		Self:   self,
		Table:  ktable.New(self),
		Peers:  peerdb.New(time.Hour),
		Tokens: token.NewStore(rand.New(rand.NewSource(1)), token.DefaultMaxAge),
		Txn:    txn.New(64, time.Minute, rand.New(rand.NewSource(1))),
		Votes:  ipvote.New(),
	}
}

func contactOf(port int) ktable.Contact {
	return ktable.NewContact(net.IPv4(1, 2, 3, 4), uint16(port))
}

// Scenario 1: ping from B populates A's routing table and A replies with
// its own all-zero id.
func TestScenarioPing(t *testing.T) {
	h := newHandler(ktable.ID{})
	var bID ktable.ID
	copy(bID[:], []byte("abcdefghij0123456789"))

	req, err := Encode(make([]byte, 256), Message{
		Tx: []byte("aa"), Type: Query, Query: QPing,
		Args: map[string]bencode.Value{"id": bID[:]},
	})
	if err != nil {
		t.Fatal(err)
	}
	reply, ok := h.Handle(req, contactOf(6881), time.Now())
	if !ok {
		t.Fatal("expected a reply")
	}
	msg, err := Decode(reply)
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Tx) != "aa" || msg.Type != Response {
		t.Fatalf("unexpected reply envelope: %+v", msg)
	}
	id, _ := idFromArgs(msg.Return, "id")
	if id != (ktable.ID{}) {
		t.Fatalf("want all-zero id, got %x", id)
	}
	if h.Table.Find(bID) == nil {
		t.Fatal("B should now be in the routing table")
	}
}

// Scenario 2: find_node(target=self) returns a multiple-of-26 nodes blob.
func TestScenarioFindNode(t *testing.T) {
	h := newHandler(ktable.ID{})
	for i := 0; i < 5; i++ {
		var id ktable.ID
		id[0] = byte(0x10 + i)
		h.Table.Insert(ktable.NewNode(id, contactOf(7000+i)))
	}
	var requester ktable.ID
	requester[0] = 0xee

	req, _ := EncodeFindNode(make([]byte, 256), []byte("bb"), requester, ktable.ID{})
	reply, ok := h.Handle(req, contactOf(9000), time.Now())
	if !ok {
		t.Fatal("expected reply")
	}
	msg, err := Decode(reply)
	if err != nil {
		t.Fatal(err)
	}
	nodes, ok := msg.Return["nodes"].([]byte)
	if !ok {
		t.Fatal("nodes field missing or wrong type")
	}
	if len(nodes)%bencode.CompactNodeLen != 0 {
		t.Fatalf("nodes length %d not a multiple of %d", len(nodes), bencode.CompactNodeLen)
	}
}

// Scenario 3: get_peers then announce_peer with the right token succeeds;
// a reuse with a zeroed token is rejected with code 203.
func TestScenarioGetPeersThenAnnounce(t *testing.T) {
	h := newHandler(ktable.ID{})
	var infohash ktable.ID
	infohash[0] = 0x42
	var requester ktable.ID
	requester[0] = 0x77
	from := contactOf(6881)

	req, _ := EncodeGetPeers(make([]byte, 256), []byte("cc"), requester, infohash)
	reply, ok := h.Handle(req, from, time.Now())
	if !ok {
		t.Fatal("expected reply")
	}
	msg, err := Decode(reply)
	if err != nil {
		t.Fatal(err)
	}
	tok, ok := msg.Return["token"].([]byte)
	if !ok || len(tok) != token.Len {
		t.Fatalf("expected a %d-byte token, got %v", token.Len, tok)
	}
	var zero [token.Len]byte
	if string(tok) == string(zero[:]) {
		t.Fatal("token must be non-zero")
	}

	announceBuf, _ := EncodeAnnouncePeer(make([]byte, 256), []byte("dd"), requester, infohash, 6881, false, tok)
	announceReply, ok := h.Handle(announceBuf, from, time.Now())
	if !ok {
		t.Fatal("expected reply")
	}
	am, err := Decode(announceReply)
	if err != nil || am.Type != Response {
		t.Fatalf("announce should succeed: %+v err=%v", am, err)
	}

	badBuf, _ := EncodeAnnouncePeer(make([]byte, 256), []byte("ee"), requester, infohash, 6881, false, zero[:])
	badReply, ok := h.Handle(badBuf, from, time.Now())
	if !ok {
		t.Fatal("expected an error reply")
	}
	bm, err := Decode(badReply)
	if err != nil || bm.Type != Error || bm.ErrCode != ErrProtocol {
		t.Fatalf("expected protocol error 203, got %+v err=%v", bm, err)
	}
}
