package bencode

import (
	"encoding/binary"
	"net"
)

// CompactPeerLen is the wire size of one compact IPv4 peer (4-byte address
// plus 2-byte big-endian port), as used in the "values" list of a get_peers
// response.
const CompactPeerLen = 6

// CompactNodeLen is the wire size of one compact IPv4 node info entry
// (20-byte node ID, 4-byte address, 2-byte big-endian port), as used in the
// "nodes" string of a find_node/get_peers response.
const CompactNodeLen = 26

// EncodeCompactPeer appends the 6-byte compact representation of ip:port.
// ip must be a 4-byte (or 4-in-16) IPv4 address; IPv6 peers have no compact
// form on this wire, so for them dst is returned unchanged with ok=false.
func EncodeCompactPeer(dst []byte, ip net.IP, port uint16) ([]byte, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return dst, false
	}
	dst = append(dst, v4...)
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], port)
	return append(dst, portBuf[:]...), true
}

// DecodeCompactPeer parses one 6-byte compact peer entry.
func DecodeCompactPeer(b []byte) (net.IP, uint16, bool) {
	if len(b) != CompactPeerLen {
		return nil, 0, false
	}
	ip := make(net.IP, 4)
	copy(ip, b[:4])
	return ip, binary.BigEndian.Uint16(b[4:6]), true
}

// EncodeCompactNode appends the 26-byte compact representation of a node:
// 20-byte ID followed by its 6-byte compact peer form.
func EncodeCompactNode(dst []byte, id [20]byte, ip net.IP, port uint16) ([]byte, bool) {
	dst = append(dst, id[:]...)
	return EncodeCompactPeer(dst, ip, port)
}

// DecodeCompactNode parses one 26-byte compact node entry.
func DecodeCompactNode(b []byte) (id [20]byte, ip net.IP, port uint16, ok bool) {
	if len(b) != CompactNodeLen {
		return id, nil, 0, false
	}
	copy(id[:], b[:20])
	ip, port, ok = DecodeCompactPeer(b[20:])
	return id, ip, port, ok
}

// SplitCompactNodes splits a "nodes" byte string into its fixed-size
// entries, failing if the length is not a multiple of CompactNodeLen.
func SplitCompactNodes(b []byte) ([][]byte, bool) {
	if len(b)%CompactNodeLen != 0 {
		return nil, false
	}
	n := len(b) / CompactNodeLen
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		out[i] = b[i*CompactNodeLen : (i+1)*CompactNodeLen]
	}
	return out, true
}
