// Package krpc implements the KRPC message envelope used by the Mainline
// DHT: the query/response/error dictionary wrapper carried over the
// wire codec, plus the four query handlers.
package krpc

import (
	"github.com/btdht/mldht/internal/bencode"
	"github.com/btdht/mldht/internal/dht/ktable"
)

// MessageType is the KRPC "y" discriminator.
type MessageType string

const (
	Query    MessageType = "q"
	Response MessageType = "r"
	Error    MessageType = "e"
)

// Query names, the KRPC "q" values.
const (
	QPing         = "ping"
	QFindNode     = "find_node"
	QGetPeers     = "get_peers"
	QAnnouncePeer = "announce_peer"
)

// Error codes, per the KRPC spec.
const (
	ErrGeneric       = 201
	ErrServer        = 202
	ErrProtocol      = 203
	ErrMethodUnknown = 204
)

// ImplementationTag is the optional 4-byte "v" value stamped on outgoing
// messages.
var ImplementationTag = []byte("MLDH")

// Message is a decoded (or about-to-be-encoded) KRPC envelope.
type Message struct {
	Tx   []byte // "t"
	Type MessageType
	V    []byte // "v", optional

	// Query fields.
	Query string
	Args  map[string]bencode.Value

	// Response fields.
	Return map[string]bencode.Value

	// Error fields.
	ErrCode int
	ErrMsg  string
}

// Encode renders m into dst, returning the written slice.
func Encode(dst []byte, m Message) ([]byte, error) {
	enc := bencode.NewEncoder(dst)
	d := map[string]bencode.Value{
		"t": append([]byte(nil), m.Tx...),
		"y": []byte(m.Type),
	}
	if len(m.V) > 0 {
		d["v"] = append([]byte(nil), m.V...)
	}
	switch m.Type {
	case Query:
		d["q"] = []byte(m.Query)
		d["a"] = valueMap(m.Args)
	case Response:
		d["r"] = valueMap(m.Return)
	case Error:
		d["e"] = []bencode.Value{int64(m.ErrCode), []byte(m.ErrMsg)}
	}
	if err := enc.EncodeValue(d); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

func valueMap(m map[string]bencode.Value) bencode.Value {
	if m == nil {
		return map[string]bencode.Value{}
	}
	return bencode.Value(map[string]bencode.Value(m))
}

// Decode parses one KRPC message from buf.
func Decode(buf []byte) (Message, error) {
	dec := bencode.NewDecoder(buf)
	v, err := dec.Value()
	if err != nil {
		return Message{}, err
	}
	top, ok := v.(map[string]bencode.Value)
	if !ok {
		return Message{}, bencode.ErrType
	}
	var m Message
	if t, ok := top["t"].([]byte); ok {
		m.Tx = t
	}
	y, ok := top["y"].([]byte)
	if !ok {
		return Message{}, bencode.ErrMalformed
	}
	m.Type = MessageType(y)
	if vv, ok := top["v"].([]byte); ok {
		m.V = vv
	}

	switch m.Type {
	case Query:
		q, ok := top["q"].([]byte)
		if !ok {
			return Message{}, bencode.ErrMalformed
		}
		m.Query = string(q)
		a, ok := top["a"].(map[string]bencode.Value)
		if !ok {
			return Message{}, bencode.ErrMalformed
		}
		m.Args = a
	case Response:
		r, ok := top["r"].(map[string]bencode.Value)
		if !ok {
			return Message{}, bencode.ErrMalformed
		}
		m.Return = r
	case Error:
		e, ok := top["e"].([]bencode.Value)
		if !ok || len(e) != 2 {
			return Message{}, bencode.ErrMalformed
		}
		code, ok := e[0].(int64)
		if !ok {
			return Message{}, bencode.ErrMalformed
		}
		msg, ok := e[1].([]byte)
		if !ok {
			return Message{}, bencode.ErrMalformed
		}
		m.ErrCode = int(code)
		m.ErrMsg = string(msg)
	default:
		return Message{}, bencode.ErrMalformed
	}
	return m, nil
}

// idFromArgs extracts and validates the 20-byte id stored under key in an
// argument or return dict (e.g. "id", "target", "info_hash").
func idFromArgs(args map[string]bencode.Value, key string) (ktable.ID, bool) {
	raw, ok := args[key].([]byte)
	if !ok || len(raw) != ktable.IDLen {
		return ktable.ID{}, false
	}
	var id ktable.ID
	copy(id[:], raw)
	return id, true
}
