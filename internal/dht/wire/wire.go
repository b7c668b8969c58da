// Package wire is the node's non-blocking UDP socket layer: a
// net.UDPConn read either through Poll's short SetReadDeadline or, via
// Fd, from a poll(2)-based event loop, so a single goroutine can
// multiplex the DHT socket against the control socket and a signal pipe
// without ever blocking indefinitely on either one (teacher: p2p/discover historically
// read its packet conn the same way, behind a small transport seam).
package wire

import (
	"net"
	"time"

	"github.com/btdht/mldht/internal/dht/ktable"
	"github.com/btdht/mldht/logger"
	"github.com/btdht/mldht/logger/glog"
)

// MaxDatagram bounds a single inbound packet; anything larger is
// truncated by ReadFromUDP and then fails bencode decoding harmlessly.
const MaxDatagram = 1536

// PollInterval is how long a single Poll call blocks waiting for a
// packet before returning with ok=false and a nil error, letting the
// caller's event loop service the control socket and signal pipe in between.
const PollInterval = 100 * time.Millisecond

// Transport is the seam node traffic is sent and received through. The
// real implementation is *UDPTransport; internal/dhttest substitutes an
// in-process fake for tests.
type Transport interface {
	// Send transmits buf to to. Implements node.Send's signature exactly
	// so a Transport can be passed to node.New as-is.
	Send(to ktable.Contact, buf []byte) error

	// Poll blocks for up to PollInterval waiting for one inbound
	// datagram. ok is false on a read timeout (not an error: the caller
	// should just loop back into its own select).
	Poll() (buf []byte, from ktable.Contact, ok bool, err error)

	// LocalAddr returns the address the transport is bound to.
	LocalAddr() ktable.Contact

	Close() error
}

// UDPTransport is the production Transport: one bound, non-connected
// UDP socket.
type UDPTransport struct {
	conn *net.UDPConn
	self ktable.Contact
}

// Listen binds addr ("host:port" or ":port") as a UDP socket.
func Listen(addr string) (*UDPTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	local := conn.LocalAddr().(*net.UDPAddr)
	return &UDPTransport{
		conn: conn,
		self: ktable.NewContact(local.IP, uint16(local.Port)),
	}, nil
}

// Send writes buf as a single UDP datagram to to. Matches node.Send.
func (t *UDPTransport) Send(to ktable.Contact, buf []byte) error {
	_, err := t.conn.WriteToUDP(buf, &net.UDPAddr{IP: to.Addr(), Port: int(to.Port)})
	return err
}

// Poll reads at most one inbound datagram, giving up after PollInterval
// so the caller's event loop can go check other file descriptors.
func (t *UDPTransport) Poll() ([]byte, ktable.Contact, bool, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(PollInterval)); err != nil {
		return nil, ktable.Contact{}, false, err
	}
	buf := make([]byte, MaxDatagram)
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return nil, ktable.Contact{}, false, nil
		}
		return nil, ktable.Contact{}, false, err
	}
	from := ktable.NewContact(addr.IP, uint16(addr.Port))
	return buf[:n], from, true, nil
}

// LocalAddr returns the bound local address.
func (t *UDPTransport) LocalAddr() ktable.Contact { return t.self }

// Close releases the underlying socket.
func (t *UDPTransport) Close() error { return t.conn.Close() }

// Fd exposes the socket's file descriptor for a select/poll-based event
// loop that wants to multiplex it against other descriptors directly
// (the control socket, a signal pipe) rather than relying on Poll's own
// internal deadline.
func (t *UDPTransport) Fd() (uintptr, error) {
	raw, err := t.conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd uintptr
	if ctlErr := raw.Control(func(f uintptr) { fd = f }); ctlErr != nil {
		return 0, ctlErr
	}
	return fd, nil
}

// Pump runs Poll in a loop, invoking handle for every inbound datagram,
// sending back any reply handle asks for, until stop is closed or Poll
// returns a read error other than a timeout.
func Pump(t *UDPTransport, stop <-chan struct{}, handle func(buf []byte, from ktable.Contact, now time.Time) ([]byte, bool)) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		buf, from, ok, err := t.Poll()
		if err != nil {
			glog.V(logger.Error).Infof("wire: read error: %v", err)
			return
		}
		if !ok {
			continue
		}
		reply, send := handle(buf, from, time.Now())
		if !send {
			continue
		}
		if err := t.Send(from, reply); err != nil {
			glog.V(logger.Debug).Infof("wire: send to %v failed: %v", from, err)
		}
	}
}
