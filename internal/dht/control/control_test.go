package control

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/btdht/mldht/internal/bencode"
	"github.com/btdht/mldht/internal/dht/krpc"
	"github.com/btdht/mldht/internal/dht/ktable"
	"github.com/btdht/mldht/internal/dht/node"
)

func newTestNode() *node.Node {
	var self ktable.ID
	self[0] = 1
	return node.New(self, func(to ktable.Contact, buf []byte) error { return nil }, node.DefaultConfig(), 42)
}

func TestStatisticsReportsTableState(t *testing.T) {
	srv := &Server{node: newTestNode()}
	id := ktable.ID{2}
	srv.node.Table.Insert(ktable.NewNode(id, ktable.NewContact(net.IPv4(1, 2, 3, 4), 6881)))

	msg := krpc.Message{Tx: []byte("aa"), Type: krpc.Query, Query: QStatistics, Args: map[string]bencode.Value{}}
	buf, err := krpc.Encode(make([]byte, 1024), msg)
	if err != nil {
		t.Fatalf("failed to encode statistics query: %v", err)
	}

	reply := srv.dispatch(buf, time.Now())
	resp, err := krpc.Decode(reply)
	if err != nil {
		t.Fatalf("failed to decode statistics reply: %v", err)
	}
	if resp.Type != krpc.Response {
		t.Fatalf("expected a response, got type %v", resp.Type)
	}
	if nodes, ok := resp.Return["nodes"].(int64); !ok || nodes < 1 {
		t.Fatalf("expected at least 1 node reported, got %v", resp.Return["nodes"])
	}
}

func TestDumpReturnsCompactNodes(t *testing.T) {
	srv := &Server{node: newTestNode()}
	id := ktable.ID{3}
	srv.node.Table.Insert(ktable.NewNode(id, ktable.NewContact(net.IPv4(5, 6, 7, 8), 6882)))

	msg := krpc.Message{Tx: []byte("bb"), Type: krpc.Query, Query: QDump, Args: map[string]bencode.Value{}}
	buf, err := krpc.Encode(make([]byte, 1024), msg)
	if err != nil {
		t.Fatalf("failed to encode dump query: %v", err)
	}

	reply := srv.dispatch(buf, time.Now())
	resp, err := krpc.Decode(reply)
	if err != nil {
		t.Fatalf("failed to decode dump reply: %v", err)
	}
	nodes, ok := resp.Return["nodes"].([]byte)
	if !ok || len(nodes)%bencode.CompactNodeLen != 0 || len(nodes) == 0 {
		t.Fatalf("expected a non-empty multiple-of-26 nodes blob, got %v", resp.Return["nodes"])
	}
}

func TestSearchStartsAndPolls(t *testing.T) {
	srv := &Server{node: newTestNode()}
	infohash := ktable.ID{9}

	msg := krpc.Message{
		Tx: []byte("cc"), Type: krpc.Query, Query: QSearch,
		Args: map[string]bencode.Value{"info_hash": append([]byte(nil), infohash[:]...)},
	}
	buf, err := krpc.Encode(make([]byte, 1024), msg)
	if err != nil {
		t.Fatalf("failed to encode search query: %v", err)
	}
	reply := srv.dispatch(buf, time.Now())
	resp, err := krpc.Decode(reply)
	if err != nil {
		t.Fatalf("failed to decode search reply: %v", err)
	}
	idBytes, ok := resp.Return["id"].([]byte)
	if !ok || len(idBytes) != 8 {
		t.Fatalf("expected an 8-byte search id, got %v", resp.Return["id"])
	}

	pollMsg := krpc.Message{
		Tx: []byte("dd"), Type: krpc.Query, Query: QSearch,
		Args: map[string]bencode.Value{
			"info_hash": append([]byte(nil), infohash[:]...),
			"id":        idBytes,
		},
	}
	pollBuf, err := krpc.Encode(make([]byte, 1024), pollMsg)
	if err != nil {
		t.Fatalf("failed to encode poll query: %v", err)
	}
	pollReply := srv.dispatch(pollBuf, time.Now())
	pollResp, err := krpc.Decode(pollReply)
	if err != nil {
		t.Fatalf("failed to decode poll reply: %v", err)
	}
	if _, ok := pollResp.Return["values"]; !ok {
		t.Fatal("expected a values field in the poll reply")
	}
}

func TestSearchUnknownIDErrors(t *testing.T) {
	srv := &Server{node: newTestNode()}
	infohash := ktable.ID{9}
	var badID [8]byte
	binary.BigEndian.PutUint64(badID[:], 9999)

	msg := krpc.Message{
		Tx: []byte("ee"), Type: krpc.Query, Query: QSearch,
		Args: map[string]bencode.Value{
			"info_hash": append([]byte(nil), infohash[:]...),
			"id":        badID[:],
		},
	}
	buf, err := krpc.Encode(make([]byte, 1024), msg)
	if err != nil {
		t.Fatalf("failed to encode query: %v", err)
	}
	reply := srv.dispatch(buf, time.Now())
	resp, err := krpc.Decode(reply)
	if err != nil {
		t.Fatalf("failed to decode reply: %v", err)
	}
	if resp.Type != krpc.Error {
		t.Fatal("expected an error reply for an unknown search id")
	}
}
