package bencode

import (
	"bytes"
	"testing"
	"testing/quick"
)

func TestEncodeDecodeInt(t *testing.T) {
	cases := []int64{0, 1, -1, 42, -42, 1 << 16, -(1 << 16), 1<<31 - 1, -(1 << 31)}
	for _, v := range cases {
		buf := make([]byte, 64)
		enc := NewEncoder(buf)
		if err := enc.Int(v); err != nil {
			t.Fatalf("Int(%d): %v", v, err)
		}
		dec := NewDecoder(enc.Bytes())
		got, err := dec.Int()
		if err != nil {
			t.Fatalf("decode Int(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("Int round-trip: want %d got %d", v, got)
		}
		if !dec.Done() {
			t.Fatalf("Int(%d): decoder not exhausted", v)
		}
	}
}

func TestIntRangeSweep(t *testing.T) {
	buf := make([]byte, 32)
	for v := -(1 << 16); v <= (1 << 16); v++ {
		enc := NewEncoder(buf)
		if err := enc.Int(int64(v)); err != nil {
			t.Fatalf("Int(%d): %v", v, err)
		}
		dec := NewDecoder(enc.Bytes())
		got, err := dec.Int()
		if err != nil || got != int64(v) {
			t.Fatalf("round-trip %d: got %d, err %v", v, got, err)
		}
	}
}

func TestByteString(t *testing.T) {
	cases := [][]byte{{}, []byte("a"), []byte("spam"), bytes.Repeat([]byte("x"), 512)}
	for _, v := range cases {
		buf := make([]byte, 1024)
		enc := NewEncoder(buf)
		if err := enc.ByteString(v); err != nil {
			t.Fatalf("ByteString(%q): %v", v, err)
		}
		dec := NewDecoder(enc.Bytes())
		got, err := dec.ByteString()
		if err != nil {
			t.Fatalf("decode ByteString(%q): %v", v, err)
		}
		if !bytes.Equal(got, v) {
			t.Fatalf("ByteString round-trip: want %q got %q", v, got)
		}
	}
}

func TestListAndDict(t *testing.T) {
	v := map[string]Value{
		"t": []byte("aa"),
		"y": []byte("q"),
		"q": []byte("ping"),
		"a": map[string]Value{
			"id": bytes.Repeat([]byte{0x11}, 20),
		},
		"nums": []Value{int64(1), int64(2), int64(3)},
	}
	buf := make([]byte, 512)
	enc := NewEncoder(buf)
	if err := enc.EncodeValue(v); err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	dec := NewDecoder(enc.Bytes())
	got, err := dec.Value()
	if err != nil {
		t.Fatalf("decode Value: %v", err)
	}
	m, ok := got.(map[string]Value)
	if !ok {
		t.Fatalf("decoded value is not a dict: %T", got)
	}
	if string(m["y"].([]byte)) != "q" {
		t.Fatalf("y: want q got %q", m["y"])
	}
	a, ok := m["a"].(map[string]Value)
	if !ok {
		t.Fatalf("a is not a dict: %T", m["a"])
	}
	if !bytes.Equal(a["id"].([]byte), bytes.Repeat([]byte{0x11}, 20)) {
		t.Fatalf("a.id mismatch")
	}
	nums, ok := m["nums"].([]Value)
	if !ok || len(nums) != 3 {
		t.Fatalf("nums: %#v", m["nums"])
	}
}

// DictKeysAreSorted verifies dictionary keys are encoded in ASCII order,
// required for well-formed bencode and for byte-identical re-encoding.
func TestDictKeysAreSorted(t *testing.T) {
	v := map[string]Value{
		"z": int64(1),
		"a": int64(2),
		"m": int64(3),
	}
	buf := make([]byte, 64)
	enc := NewEncoder(buf)
	if err := enc.EncodeValue(v); err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	want := "d1:ai2e1:mi3e1:zi1ee"
	if string(enc.Bytes()) != want {
		t.Fatalf("key order: want %q got %q", want, enc.Bytes())
	}
}

func TestOverflowRestoresCursor(t *testing.T) {
	buf := make([]byte, 4)
	enc := NewEncoder(buf)
	if err := enc.ByteString([]byte("toolong")); err == nil {
		t.Fatalf("expected overflow error")
	}
	if enc.Pos() != 0 {
		t.Fatalf("cursor not restored after overflow: pos=%d", enc.Pos())
	}
}

func TestTruncatedByteStringRestoresCursor(t *testing.T) {
	dec := NewDecoder([]byte("10:short"))
	if _, err := dec.ByteString(); err != ErrTruncated {
		t.Fatalf("want ErrTruncated, got %v", err)
	}
	if dec.Pos() != 0 {
		t.Fatalf("cursor not restored after truncation: pos=%d", dec.Pos())
	}
}

func TestMalformedIntRestoresCursor(t *testing.T) {
	dec := NewDecoder([]byte("i-e"))
	if _, err := dec.Int(); err != ErrMalformed {
		t.Fatalf("want ErrMalformed, got %v", err)
	}
	if dec.Pos() != 0 {
		t.Fatalf("cursor not restored: pos=%d", dec.Pos())
	}
}

// TestSkipUnknownKey exercises the wildcard walk used by callers that only
// care about some keys of a dictionary (e.g. krpc ignoring an unknown "a" field).
func TestSkipUnknownKey(t *testing.T) {
	buf := make([]byte, 128)
	enc := NewEncoder(buf)
	v := map[string]Value{
		"known":   int64(7),
		"unknown": []Value{int64(1), []byte("x"), map[string]Value{"nested": int64(2)}},
	}
	if err := enc.EncodeValue(v); err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	dec := NewDecoder(enc.Bytes())
	if err := dec.BeginDict(); err != nil {
		t.Fatalf("BeginDict: %v", err)
	}
	var sawKnown bool
	for !dec.AtEnd() {
		k, err := dec.String()
		if err != nil {
			t.Fatalf("key: %v", err)
		}
		if k == "known" {
			sawKnown = true
			if _, err := dec.Int(); err != nil {
				t.Fatalf("known value: %v", err)
			}
			continue
		}
		if err := dec.Skip(); err != nil {
			t.Fatalf("Skip(%s): %v", k, err)
		}
	}
	if err := dec.EndDict(); err != nil {
		t.Fatalf("EndDict: %v", err)
	}
	if !sawKnown {
		t.Fatalf("did not find known key")
	}
}

// TestQuickIntRoundTrip checks arbitrary int64 values round-trip, mirroring
// the property-test style used for distance/log-distance in the routing
// table's grounding package.
func TestQuickIntRoundTrip(t *testing.T) {
	f := func(v int64) bool {
		buf := make([]byte, 32)
		enc := NewEncoder(buf)
		if err := enc.Int(v); err != nil {
			return false
		}
		dec := NewDecoder(enc.Bytes())
		got, err := dec.Int()
		return err == nil && got == v
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}

func TestQuickByteStringRoundTrip(t *testing.T) {
	f := func(v []byte) bool {
		buf := make([]byte, len(v)+16)
		enc := NewEncoder(buf)
		if err := enc.ByteString(v); err != nil {
			return false
		}
		dec := NewDecoder(enc.Bytes())
		got, err := dec.ByteString()
		return err == nil && bytes.Equal(got, v)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}
