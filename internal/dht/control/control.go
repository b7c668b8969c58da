// Package control implements the node's private management plane: a
// SOCK_SEQPACKET Unix domain socket, reusing the public wire codec but
// recognizing three private-scope queries the UDP port never answers
// (statistics, dump, search).
package control

import (
	"encoding/binary"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/btdht/mldht/internal/bencode"
	"github.com/btdht/mldht/internal/dht/krpc"
	"github.com/btdht/mldht/internal/dht/ktable"
	"github.com/btdht/mldht/internal/dht/node"
	"github.com/btdht/mldht/logger"
	"github.com/btdht/mldht/logger/glog"
)

// Query names recognized only on the control socket.
const (
	QStatistics = "statistics"
	QDump       = "dump"
	QSearch     = "search"
)

// MaxMessage bounds a single control request/response; SEQPACKET
// preserves message boundaries, so one Recvfrom reads exactly one query.
const MaxMessage = 8192

// SearchTimeout bounds a control-initiated search's lifetime when one is
// freshly started.
const SearchTimeout = 30 * time.Second

// Server listens for control connections and answers them one at a time
// against a single node's live state.
type Server struct {
	path string
	fd   int
	node *node.Node
}

// Listen creates (replacing any stale socket file at path) and binds a
// SEQPACKET listening socket.
func Listen(path string, n *node.Node) (*Server, error) {
	_ = unix.Unlink(path)
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Server{path: path, fd: fd, node: n}, nil
}

// Fd exposes the listening descriptor for a select-based event loop.
func (s *Server) Fd() int { return s.fd }

// Close shuts down the listening socket and removes the socket file.
func (s *Server) Close() error {
	err := unix.Close(s.fd)
	if rmErr := os.Remove(s.path); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

// Accept services exactly one pending connection: accept, read one
// SEQPACKET message, dispatch, reply, close. The control protocol is
// strictly one request per connection.
func (s *Server) Accept(now time.Time) error {
	cfd, _, err := unix.Accept(s.fd)
	if err != nil {
		return err
	}
	defer unix.Close(cfd)

	buf := make([]byte, MaxMessage)
	n, _, err := unix.Recvfrom(cfd, buf, 0)
	if err != nil {
		return err
	}
	reply := s.dispatch(buf[:n], now)
	if reply == nil {
		return nil
	}
	_, err = unix.Write(cfd, reply)
	return err
}

func (s *Server) dispatch(buf []byte, now time.Time) []byte {
	msg, err := krpc.Decode(buf)
	if err != nil || msg.Type != krpc.Query {
		glog.V(logger.Debug).Infof("control: malformed query: %v", err)
		return errorReply(msg.Tx, krpc.ErrProtocol, "malformed control query")
	}
	switch msg.Query {
	case QStatistics:
		return s.handleStatistics(msg)
	case QDump:
		return s.handleDump(msg)
	case QSearch:
		return s.handleSearch(msg, now)
	default:
		return errorReply(msg.Tx, krpc.ErrMethodUnknown, "unknown control query")
	}
}

func (s *Server) handleStatistics(msg krpc.Message) []byte {
	t := s.node.Table
	p := s.node.Peers
	ret := map[string]bencode.Value{
		"nodes":      int64(t.TotalNodes()),
		"bad_nodes":  int64(t.BadNodes()),
		"depth":      int64(t.Depth()),
		"infohashes": int64(p.TotalInfohashes()),
		"peers":      int64(p.TotalPeers()),
	}
	return reply(msg.Tx, ret)
}

func (s *Server) handleDump(msg krpc.Message) []byte {
	all := s.node.Table.AllNodes()
	out := make([]byte, 0, len(all)*bencode.CompactNodeLen)
	for _, n := range all {
		var ok bool
		out, ok = bencode.EncodeCompactNode(out, n.ID, n.Contact.Addr(), n.Contact.Port)
		if !ok {
			continue
		}
	}
	ret := map[string]bencode.Value{
		"id":    append([]byte(nil), s.node.Self[:]...),
		"nodes": out,
	}
	return reply(msg.Tx, ret)
}

func (s *Server) handleSearch(msg krpc.Message, now time.Time) []byte {
	raw, ok := msg.Args["info_hash"].([]byte)
	if !ok || len(raw) != ktable.IDLen {
		return errorReply(msg.Tx, krpc.ErrProtocol, "missing info_hash")
	}
	var infohash ktable.ID
	copy(infohash[:], raw)

	var id uint64
	if raw, ok := msg.Args["id"].([]byte); ok && len(raw) == 8 {
		id = binary.BigEndian.Uint64(raw)
	} else {
		id = s.node.StartSearch(infohash, SearchTimeout, now)
	}

	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], id)

	search := s.node.Search(id)
	if search == nil {
		return errorReply(msg.Tx, krpc.ErrServer, "unknown search id")
	}

	values := make([]bencode.Value, 0, len(search.Peers))
	for _, p := range search.Peers {
		buf, ok := bencode.EncodeCompactPeer(nil, p.Addr(), p.Port)
		if !ok {
			continue
		}
		values = append(values, buf)
	}
	done := int64(0)
	if search.Done(now) {
		done = 1
	}
	ret := map[string]bencode.Value{
		"id":     idBuf[:],
		"values": values,
		"done":   done,
	}
	return reply(msg.Tx, ret)
}

func reply(tx []byte, ret map[string]bencode.Value) []byte {
	buf, err := krpc.Encode(make([]byte, 4096), krpc.Message{Tx: tx, Type: krpc.Response, Return: ret})
	if err != nil {
		return nil
	}
	return buf
}

func errorReply(tx []byte, code int, msg string) []byte {
	buf, err := krpc.Encode(make([]byte, 512), krpc.Message{Tx: tx, Type: krpc.Error, ErrCode: code, ErrMsg: msg})
	if err != nil {
		return nil
	}
	return buf
}
