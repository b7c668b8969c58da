package wire

import (
	"testing"
	"time"
)

func TestSendAndPollRoundTrip(t *testing.T) {
	a, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen a: %v", err)
	}
	defer a.Close()
	b, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen b: %v", err)
	}
	defer b.Close()

	if err := a.Send(b.LocalAddr(), []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	buf, from, ok, err := b.Poll()
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !ok {
		t.Fatal("expected a packet, got a timeout")
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q, want %q", buf, "hello")
	}
	if from.Port != a.LocalAddr().Port {
		t.Fatalf("from port %d, want %d", from.Port, a.LocalAddr().Port)
	}
}

func TestPollTimesOutWithoutAPacket(t *testing.T) {
	a, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer a.Close()

	start := time.Now()
	_, _, ok, err := a.Poll()
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if ok {
		t.Fatal("expected a timeout, got a packet")
	}
	if time.Since(start) < PollInterval/2 {
		t.Fatal("returned suspiciously fast for a deadline-based read")
	}
}
