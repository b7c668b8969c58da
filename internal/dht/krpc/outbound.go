package krpc

import (
	"github.com/btdht/mldht/internal/bencode"
	"github.com/btdht/mldht/internal/dht/ktable"
)

// EncodePing builds a ping query.
func EncodePing(dst []byte, tx []byte, self ktable.ID) ([]byte, error) {
	return Encode(dst, Message{
		Tx: tx, Type: Query, V: ImplementationTag, Query: QPing,
		Args: map[string]bencode.Value{"id": idBytes(self)},
	})
}

// EncodeFindNode builds a find_node query.
func EncodeFindNode(dst []byte, tx []byte, self, target ktable.ID) ([]byte, error) {
	return Encode(dst, Message{
		Tx: tx, Type: Query, V: ImplementationTag, Query: QFindNode,
		Args: map[string]bencode.Value{"id": idBytes(self), "target": idBytes(target)},
	})
}

// EncodeGetPeers builds a get_peers query.
func EncodeGetPeers(dst []byte, tx []byte, self, infohash ktable.ID) ([]byte, error) {
	return Encode(dst, Message{
		Tx: tx, Type: Query, V: ImplementationTag, Query: QGetPeers,
		Args: map[string]bencode.Value{"id": idBytes(self), "info_hash": idBytes(infohash)},
	})
}

// EncodeAnnouncePeer builds an announce_peer query. If impliedPort is
// true, port is ignored by the receiver in favor of the datagram's
// source port.
func EncodeAnnouncePeer(dst []byte, tx []byte, self, infohash ktable.ID, port uint16, impliedPort bool, tok []byte) ([]byte, error) {
	args := map[string]bencode.Value{
		"id":        idBytes(self),
		"info_hash": idBytes(infohash),
		"port":      int64(port),
		"token":     append([]byte(nil), tok...),
	}
	if impliedPort {
		args["implied_port"] = int64(1)
	}
	return Encode(dst, Message{Tx: tx, Type: Query, V: ImplementationTag, Query: QAnnouncePeer, Args: args})
}
