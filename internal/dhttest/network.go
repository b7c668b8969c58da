// Package dhttest provides a tiny in-process transport fake used to
// exercise full node-to-node protocol exchanges in tests without
// opening a real socket, the same role the teacher's discovery package
// gives its own pluggable transport seam.
package dhttest

import (
	"fmt"
	"time"

	"github.com/btdht/mldht/internal/dht/ktable"
	"github.com/btdht/mldht/internal/dht/node"
)

// Network routes datagrams between registered nodes by contact address.
type Network struct {
	nodes map[ktable.Contact]*node.Node
}

// NewNetwork returns an empty fake network.
func NewNetwork() *Network {
	return &Network{nodes: make(map[ktable.Contact]*node.Node)}
}

// Register associates addr with nd so future sends to addr reach it.
func (n *Network) Register(addr ktable.Contact, nd *node.Node) {
	n.nodes[addr] = nd
}

// Send returns a node.Send bound to from's address: calling it delivers
// buf to the node registered at the destination address, synchronously,
// and loops any reply straight back to from.
func (n *Network) Send(from ktable.Contact) node.Send {
	return func(to ktable.Contact, buf []byte) error {
		target, ok := n.nodes[to]
		if !ok {
			return fmt.Errorf("dhttest: no node registered at %v", to)
		}
		reply, ok := target.HandleDatagram(buf, from, time.Now())
		if !ok || reply == nil {
			return nil
		}
		if back, ok := n.nodes[from]; ok {
			back.HandleDatagram(reply, to, time.Now())
		}
		return nil
	}
}

// NewNode constructs a Node wired to addr on the network, registers it,
// and returns it.
func (n *Network) NewNode(self ktable.ID, addr ktable.Contact, cfg node.Config, seed uint64) *node.Node {
	nd := node.New(self, n.Send(addr), cfg, seed)
	n.Register(addr, nd)
	return nd
}
