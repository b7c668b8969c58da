package dhttest

import (
	"net"
	"testing"
	"time"

	"github.com/btdht/mldht/internal/dht/krpc"
	"github.com/btdht/mldht/internal/dht/ktable"
	"github.com/btdht/mldht/internal/dht/node"
	"github.com/btdht/mldht/internal/dht/txn"
)

func TestPingRoundTripUpdatesBothTables(t *testing.T) {
	net1 := NewNetwork()

	var idA, idB ktable.ID
	idA[0] = 0xaa
	idB[0] = 0xbb
	addrA := ktable.NewContact(net.IPv4(127, 0, 0, 1), 6001)
	addrB := ktable.NewContact(net.IPv4(127, 0, 0, 1), 6002)

	cfg := node.DefaultConfig()
	a := net1.NewNode(idA, addrA, cfg, 1)
	b := net1.NewNode(idB, addrB, cfg, 2)

	now := time.Now()
	tx, ok := a.Txn.Mint(txn.Context{Kind: txn.Ping}, now)
	if !ok {
		t.Fatal("failed to mint ping transaction")
	}
	buf, err := krpc.EncodePing(make([]byte, 256), tx[:], idA)
	if err != nil {
		t.Fatalf("failed to encode ping: %v", err)
	}
	if err := a.Scheduler.Send(addrB, buf); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if b.Table.Find(idA) == nil {
		t.Fatal("expected B to learn about A from the inbound ping")
	}
	if a.Table.Find(idB) == nil {
		t.Fatal("expected A to learn about B from the pong reply")
	}
}

func TestFindNodeRoundTripReturnsCompactNodes(t *testing.T) {
	net1 := NewNetwork()

	var idA, idB, idC ktable.ID
	idA[0] = 0x10
	idB[0] = 0x20
	idC[0] = 0x30
	addrA := ktable.NewContact(net.IPv4(127, 0, 0, 1), 7001)
	addrB := ktable.NewContact(net.IPv4(127, 0, 0, 1), 7002)
	addrC := ktable.NewContact(net.IPv4(127, 0, 0, 1), 7003)

	cfg := node.DefaultConfig()
	a := net1.NewNode(idA, addrA, cfg, 11)
	b := net1.NewNode(idB, addrB, cfg, 22)
	net1.NewNode(idC, addrC, cfg, 33)

	b.Table.Insert(ktable.NewNode(idC, addrC))

	now := time.Now()
	tx, ok := a.Txn.Mint(txn.Context{Kind: txn.FindNode, Target: idC}, now)
	if !ok {
		t.Fatal("failed to mint find_node transaction")
	}
	buf, err := krpc.EncodeFindNode(make([]byte, 256), tx[:], idA, idC)
	if err != nil {
		t.Fatalf("failed to encode find_node: %v", err)
	}
	if err := a.Scheduler.Send(addrB, buf); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if a.Table.Find(idC) == nil {
		t.Fatal("expected A to learn about C from B's find_node response")
	}
}
