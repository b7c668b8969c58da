package krpc

import (
	"time"

	"github.com/btdht/mldht/internal/bencode"
	"github.com/btdht/mldht/internal/dht/ipvote"
	"github.com/btdht/mldht/internal/dht/ktable"
	"github.com/btdht/mldht/internal/dht/ktable/distip"
	"github.com/btdht/mldht/internal/dht/peerdb"
	"github.com/btdht/mldht/internal/dht/token"
	"github.com/btdht/mldht/internal/dht/txn"
	"github.com/btdht/mldht/metrics"
)

// MaxValues bounds how many compact peers a get_peers response returns.
const MaxValues = 50

// CompactNode is a decoded find_node/get_peers "nodes" entry.
type CompactNode struct {
	ID      ktable.ID
	Contact ktable.Contact
}

// Handler dispatches inbound KRPC datagrams against the local node's
// state. It holds no transport of its own; Handle returns the reply
// bytes (if any) for the caller to send.
type Handler struct {
	Self  ktable.ID
	Table *ktable.Table
	Peers *peerdb.DB
	Tokens *token.Store
	Txn   *txn.Registry
	Votes *ipvote.Election

	// RefreshInterval is the scheduler's refresh interval, used only to
	// derive the cutoff ClosestK needs to decide staleness; it does not
	// otherwise drive any timing in this package.
	RefreshInterval time.Duration

	// Blacklisted reports whether a source contact must be ignored
	// outright (no routing table touch, no reply).
	Blacklisted func(ktable.Contact) bool

	// OnPong, OnFindNodeResult, OnGetPeersResult are invoked from
	// handleResponse once a transaction is matched, letting the owning
	// node (and in turn an in-progress search) react to the payload.
	OnPong           func(from ktable.Contact)
	OnFindNodeResult func(ctx txn.Context, from ktable.Contact, nodes []CompactNode)
	OnGetPeersResult func(ctx txn.Context, from ktable.Contact, token []byte, nodes []CompactNode, values []ktable.Contact, now time.Time)
}

// Handle processes one inbound datagram from from, returning the reply
// to send (if any) and whether a reply should be sent at all.
func (h *Handler) Handle(buf []byte, from ktable.Contact, now time.Time) ([]byte, bool) {
	msg, err := Decode(buf)
	if err != nil {
		metrics.ParseErrors.Mark(1)
		return nil, false
	}

	switch msg.Type {
	case Query:
		return h.handleQuery(msg, from, now)
	case Response:
		h.handleResponse(msg, from, now)
		return nil, false
	case Error:
		metrics.ErrorIn.Mark(1)
		return nil, false
	default:
		return nil, false
	}
}

func (h *Handler) handleQuery(msg Message, from ktable.Contact, now time.Time) ([]byte, bool) {
	id, ok := idFromArgs(msg.Args, "id")
	if !ok || id.IsZero() || id == h.Self {
		return nil, false
	}
	if h.Blacklisted != nil && h.Blacklisted(from) {
		return nil, false
	}

	if n := h.Table.Find(id); n != nil {
		n.MarkGood()
		h.Table.Bump(n)
	} else {
		n := ktable.NewNode(id, from)
		h.Table.Insert(n)
	}
	if ipHint, ok := msg.Args["ip"].([]byte); ok {
		if ip, port, ok := bencode.DecodeCompactPeer(ipHint); ok {
			if err := distip.CheckRelayIP(from.Addr(), ip); err == nil {
				h.Votes.Vote(from, ktable.NewContact(ip, port))
			}
		}
	}

	switch msg.Query {
	case QPing:
		metrics.QueryPingIn.Mark(1)
		mlogKRPC.Send(mlogPingHandleFrom.SetDetailValues(from.Addr().String(), id.String()).String())
		return h.reply(msg, map[string]bencode.Value{"id": idBytes(h.Self)}, from), true
	case QFindNode:
		metrics.QueryFindNodeIn.Mark(1)
		target, ok := idFromArgs(msg.Args, "target")
		if !ok {
			return h.replyError(msg, ErrProtocol, "missing target"), true
		}
		mlogKRPC.Send(mlogFindNodeHandleFrom.SetDetailValues(from.Addr().String(), id.String(), target.String()).String())
		nodes := h.closestCompact(target, now)
		return h.reply(msg, map[string]bencode.Value{"id": idBytes(h.Self), "nodes": nodes}, from), true
	case QGetPeers:
		metrics.QueryGetPeersIn.Mark(1)
		infohash, ok := idFromArgs(msg.Args, "info_hash")
		if !ok {
			return h.replyError(msg, ErrProtocol, "missing info_hash"), true
		}
		mlogKRPC.Send(mlogGetPeersHandleFrom.SetDetailValues(from.Addr().String(), id.String(), infohash.String()).String())
		tok := h.Tokens.Mint(from, now)
		r := map[string]bencode.Value{"id": idBytes(h.Self), "token": tok[:]}
		if kv := h.Peers.Lookup(infohash, now); kv != nil {
			r["values"] = compactValues(kv.Peers())
		} else {
			r["nodes"] = h.closestCompact(infohash, now)
		}
		return h.reply(msg, r, from), true
	case QAnnouncePeer:
		metrics.QueryAnnouncePeerIn.Mark(1)
		return h.handleAnnounce(msg, from, now), true
	default:
		return h.replyError(msg, ErrMethodUnknown, "unknown method"), true
	}
}

func (h *Handler) handleAnnounce(msg Message, from ktable.Contact, now time.Time) []byte {
	infohash, ok := idFromArgs(msg.Args, "info_hash")
	if !ok {
		return h.replyError(msg, ErrProtocol, "missing info_hash")
	}
	rawTok, ok := msg.Args["token"].([]byte)
	if !ok || len(rawTok) != token.Len {
		return h.replyError(msg, ErrProtocol, "missing token")
	}
	var tok token.Token
	copy(tok[:], rawTok)
	valid := h.Tokens.Valid(from, tok, now)
	id, _ := idFromArgs(msg.Args, "id")
	mlogKRPC.Send(mlogAnnouncePeerHandleFrom.SetDetailValues(from.Addr().String(), id.String(), valid).String())
	if !valid {
		return h.replyError(msg, ErrProtocol, "invalid token")
	}

	port := from.Port
	if implied, ok := msg.Args["implied_port"].(int64); !ok || implied == 0 {
		if p, ok := msg.Args["port"].(int64); ok {
			port = uint16(p)
		}
	}
	chosen := from
	chosen.Port = port
	h.Peers.Insert(infohash, chosen, now)
	return h.reply(msg, map[string]bencode.Value{"id": idBytes(h.Self)}, from)
}

func (h *Handler) handleResponse(msg Message, from ktable.Contact, now time.Time) {
	if len(msg.Tx) != txn.IDLen {
		metrics.UnknownTransactions.Mark(1)
		return
	}
	var tx txn.ID
	copy(tx[:], msg.Tx)
	ctx, ok := h.Txn.Consume(tx, now)
	if !ok {
		metrics.UnknownTransactions.Mark(1)
		return
	}
	metrics.ResponseIn.Mark(1)
	mlogKRPC.Send(mlogResponseHandleFrom.SetDetailValues(from.Addr().String(), int(ctx.Kind)).String())

	id, idOK := idFromArgs(msg.Return, "id")
	if idOK {
		if n := h.Table.Find(id); n != nil {
			n.MarkResponded(now)
			h.Table.Bump(n)
		} else {
			n := ktable.NewNode(id, from)
			n.MarkResponded(now)
			h.Table.Insert(n)
		}
	}
	if ipHint, ok := msg.Return["ip"].([]byte); ok {
		if ip, port, ok := bencode.DecodeCompactPeer(ipHint); ok {
			if err := distip.CheckRelayIP(from.Addr(), ip); err == nil {
				h.Votes.Vote(from, ktable.NewContact(ip, port))
			}
		}
	}

	switch ctx.Kind {
	case txn.Ping:
		if h.OnPong != nil {
			h.OnPong(from)
		}
	case txn.FindNode:
		nodes := decodeNodes(msg.Return["nodes"])
		if h.OnFindNodeResult != nil {
			h.OnFindNodeResult(ctx, from, nodes)
		}
	case txn.GetPeers:
		nodes := decodeNodes(msg.Return["nodes"])
		values := decodeValues(msg.Return["values"])
		var tok []byte
		if t, ok := msg.Return["token"].([]byte); ok {
			tok = t
		}
		if h.OnGetPeersResult != nil {
			h.OnGetPeersResult(ctx, from, tok, nodes, values, now)
		}
	case txn.AnnouncePeer:
		// No further action: announce_peer's response carries only id.
	}
}

func (h *Handler) reply(q Message, ret map[string]bencode.Value, from ktable.Contact) []byte {
	buf := make([]byte, 2048)
	out, err := Encode(buf, Message{Tx: q.Tx, Type: Response, V: ImplementationTag, Return: ret})
	if err != nil {
		return nil
	}
	return out
}

func (h *Handler) replyError(q Message, code int, msg string) []byte {
	metrics.ErrorOut.Mark(1)
	buf := make([]byte, 512)
	out, err := Encode(buf, Message{Tx: q.Tx, Type: Error, ErrCode: code, ErrMsg: msg})
	if err != nil {
		return nil
	}
	return out
}

func (h *Handler) closestCompact(target ktable.ID, now time.Time) []byte {
	closest := h.Table.ClosestK(target, ktable.K, now.Add(-h.RefreshInterval))
	out := make([]byte, 0, len(closest)*bencode.CompactNodeLen)
	for _, n := range closest {
		var ok bool
		out, ok = bencode.EncodeCompactNode(out, n.ID, n.Contact.Addr(), n.Contact.Port)
		if !ok {
			continue
		}
	}
	mlogKRPC.Send(mlogFindNodeSendNodes.SetDetailValues(target.String(), len(closest)).String())
	return out
}

func idBytes(id ktable.ID) []byte {
	return append([]byte(nil), id[:]...)
}

func compactValues(peers []ktable.Contact) []bencode.Value {
	if len(peers) > MaxValues {
		peers = peers[:MaxValues]
	}
	out := make([]bencode.Value, 0, len(peers))
	for _, p := range peers {
		buf, ok := bencode.EncodeCompactPeer(nil, p.Addr(), p.Port)
		if !ok {
			continue
		}
		out = append(out, buf)
	}
	return out
}

func decodeNodes(v bencode.Value) []CompactNode {
	raw, ok := v.([]byte)
	if !ok {
		return nil
	}
	parts, ok := bencode.SplitCompactNodes(raw)
	if !ok {
		return nil
	}
	out := make([]CompactNode, 0, len(parts))
	for _, p := range parts {
		id, ip, port, ok := bencode.DecodeCompactNode(p)
		if !ok {
			continue
		}
		out = append(out, CompactNode{ID: id, Contact: ktable.NewContact(ip, port)})
	}
	return out
}

func decodeValues(v bencode.Value) []ktable.Contact {
	list, ok := v.([]bencode.Value)
	if !ok {
		return nil
	}
	out := make([]ktable.Contact, 0, len(list))
	for _, item := range list {
		raw, ok := item.([]byte)
		if !ok {
			continue
		}
		ip, port, ok := bencode.DecodeCompactPeer(raw)
		if !ok {
			continue
		}
		out = append(out, ktable.NewContact(ip, port))
	}
	return out
}
