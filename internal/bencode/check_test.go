package bencode

import (
	"testing"

	. "gopkg.in/check.v1"
)

// Hook up gocheck into the stdlib test runner, the same way the teacher's
// codec-adjacent packages do.
func Test(t *testing.T) { TestingT(t) }

type CompactSuite struct{}

var _ = Suite(&CompactSuite{})

func (s *CompactSuite) TestPeerRoundTrip(c *C) {
	buf := make([]byte, 0, CompactPeerLen)
	buf, ok := EncodeCompactPeer(buf, []byte{127, 0, 0, 1}, 6881)
	c.Assert(ok, Equals, true)
	c.Assert(buf, HasLen, CompactPeerLen)

	ip, port, ok := DecodeCompactPeer(buf)
	c.Assert(ok, Equals, true)
	c.Assert(ip.String(), Equals, "127.0.0.1")
	c.Assert(port, Equals, uint16(6881))
}

func (s *CompactSuite) TestNodeRoundTrip(c *C) {
	var id [20]byte
	for i := range id {
		id[i] = byte(i)
	}
	buf := make([]byte, 0, CompactNodeLen)
	buf, ok := EncodeCompactNode(buf, id, []byte{10, 0, 0, 1}, 1234)
	c.Assert(ok, Equals, true)

	gotID, ip, port, ok := DecodeCompactNode(buf)
	c.Assert(ok, Equals, true)
	c.Assert(gotID, Equals, id)
	c.Assert(ip.String(), Equals, "10.0.0.1")
	c.Assert(port, Equals, uint16(1234))
}

func (s *CompactSuite) TestSplitCompactNodesRejectsBadLength(c *C) {
	_, ok := SplitCompactNodes(make([]byte, CompactNodeLen+1))
	c.Assert(ok, Equals, false)

	parts, ok := SplitCompactNodes(make([]byte, CompactNodeLen*3))
	c.Assert(ok, Equals, true)
	c.Assert(parts, HasLen, 3)
}

func (s *CompactSuite) TestRejectsIPv6Peer(c *C) {
	_, ok := EncodeCompactPeer(nil, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}, 1)
	c.Assert(ok, Equals, false)
}
