// Package bencode implements the self-describing encoding used by the
// BitTorrent wire protocol: signed integers, byte strings, lists, and
// dictionaries with ASCII-sorted keys.
//
// Grammar:
//
//	integer:     i<base-10, optional leading '->e
//	byte string: <base-10 length>:<raw bytes>
//	list:        l<value>*e
//	dictionary:  d(<byte string key><value>)*e, encoded in key-sorted order
//
// Both Encoder and Decoder operate on a caller-owned byte buffer plus a
// cursor. Every call that can fail snapshots the cursor first and restores
// it on error, so a failed nested Encode/Decode never leaves the buffer or
// the cursor in a partially advanced state.
package bencode

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

var (
	// ErrOverflow is returned by an Encoder method that would write past
	// the end of the destination buffer.
	ErrOverflow = errors.New("bencode: buffer overflow")
	// ErrMalformed is returned by a Decoder method when the input does not
	// conform to the grammar.
	ErrMalformed = errors.New("bencode: malformed input")
	// ErrType is returned when the next value on the wire is not of the
	// type the caller asked for.
	ErrType = errors.New("bencode: unexpected type")
	// ErrTruncated is returned when a length prefix claims more bytes than
	// remain in the buffer.
	ErrTruncated = errors.New("bencode: truncated input")
)

// Encoder writes bencoded values into a fixed destination buffer.
type Encoder struct {
	buf []byte
	pos int
}

// NewEncoder wraps buf; encoded output is written starting at offset 0.
func NewEncoder(buf []byte) *Encoder {
	return &Encoder{buf: buf}
}

// Bytes returns the portion of the buffer written so far.
func (e *Encoder) Bytes() []byte {
	return e.buf[:e.pos]
}

// Pos returns the current write cursor.
func (e *Encoder) Pos() int {
	return e.pos
}

// Reset rewinds the write cursor to zero.
func (e *Encoder) Reset() {
	e.pos = 0
}

func (e *Encoder) writeByte(b byte) bool {
	if e.pos+1 > len(e.buf) {
		return false
	}
	e.buf[e.pos] = b
	e.pos++
	return true
}

func (e *Encoder) writeString(s string) bool {
	if e.pos+len(s) > len(e.buf) {
		return false
	}
	copy(e.buf[e.pos:], s)
	e.pos += len(s)
	return true
}

// Int encodes a signed integer: i<decimal>e.
func (e *Encoder) Int(v int64) error {
	before := e.pos
	ok := e.writeByte('i') &&
		e.writeString(strconv.FormatInt(v, 10)) &&
		e.writeByte('e')
	if !ok {
		e.pos = before
		return ErrOverflow
	}
	return nil
}

// ByteString encodes a byte string: <len>:<raw>.
func (e *Encoder) ByteString(v []byte) error {
	before := e.pos
	ok := e.writeString(strconv.Itoa(len(v))) && e.writeByte(':')
	if ok && e.pos+len(v) <= len(e.buf) {
		copy(e.buf[e.pos:], v)
		e.pos += len(v)
	} else {
		ok = false
	}
	if !ok {
		e.pos = before
		return ErrOverflow
	}
	return nil
}

// String is a convenience wrapper over ByteString for Go strings.
func (e *Encoder) String(v string) error {
	return e.ByteString([]byte(v))
}

// BeginList writes the 'l' list opener. The caller must encode zero or
// more values and call EndList.
func (e *Encoder) BeginList() error {
	if !e.writeByte('l') {
		return ErrOverflow
	}
	return nil
}

// EndList writes the list's closing 'e'.
func (e *Encoder) EndList() error {
	if !e.writeByte('e') {
		return ErrOverflow
	}
	return nil
}

// DictEntry is one key/value pair of a dictionary to be encoded.
// Value may be any value tree EncodeValue accepts (see Value).
type DictEntry struct {
	Key   string
	Value Value
}

// Value is a decoded (or to-be-encoded) bencode value tree: int64, []byte,
// []Value, or map[string]Value.
type Value interface{}

// EncodeValue encodes an arbitrary Value tree (as produced by Decoder.Value),
// restoring the cursor atomically on failure.
func (e *Encoder) EncodeValue(v Value) error {
	before := e.pos
	if err := e.encodeValue(v); err != nil {
		e.pos = before
		return err
	}
	return nil
}

func (e *Encoder) encodeValue(v Value) error {
	switch t := v.(type) {
	case int64:
		return e.Int(t)
	case int:
		return e.Int(int64(t))
	case []byte:
		return e.ByteString(t)
	case string:
		return e.String(t)
	case []Value:
		if err := e.BeginList(); err != nil {
			return err
		}
		for _, item := range t {
			if err := e.encodeValue(item); err != nil {
				return err
			}
		}
		return e.EndList()
	case map[string]Value:
		return e.encodeDict(t)
	default:
		return fmt.Errorf("bencode: unsupported value type %T", v)
	}
}

func (e *Encoder) encodeDict(d map[string]Value) error {
	if !e.writeByte('d') {
		return ErrOverflow
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := e.String(k); err != nil {
			return err
		}
		if err := e.encodeValue(d[k]); err != nil {
			return err
		}
	}
	return e.EndList()
}

// Decoder reads bencoded values from a fixed source buffer.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder wraps buf for reading starting at offset 0.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Pos returns the current read cursor.
func (d *Decoder) Pos() int {
	return d.pos
}

// Done reports whether the cursor has reached the end of the buffer.
func (d *Decoder) Done() bool {
	return d.pos >= len(d.buf)
}

func (d *Decoder) peek() (byte, bool) {
	if d.pos >= len(d.buf) {
		return 0, false
	}
	return d.buf[d.pos], true
}

// Int decodes i<decimal>e.
func (d *Decoder) Int() (int64, error) {
	before := d.pos
	b, ok := d.peek()
	if !ok || b != 'i' {
		d.pos = before
		return 0, ErrType
	}
	d.pos++
	end := d.indexByte('e')
	if end < 0 {
		d.pos = before
		return 0, ErrMalformed
	}
	numStr := string(d.buf[d.pos:end])
	if numStr == "" || numStr == "-" {
		d.pos = before
		return 0, ErrMalformed
	}
	v, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		d.pos = before
		return 0, ErrMalformed
	}
	d.pos = end + 1
	return v, nil
}

func (d *Decoder) indexByte(c byte) int {
	for i := d.pos; i < len(d.buf); i++ {
		if d.buf[i] == c {
			return i
		}
	}
	return -1
}

// ByteString decodes <len>:<raw>, returning a slice aliasing the source
// buffer (callers that retain the result past the next decode must copy).
func (d *Decoder) ByteString() ([]byte, error) {
	before := d.pos
	colon := -1
	for i := d.pos; i < len(d.buf); i++ {
		c := d.buf[i]
		if c == ':' {
			colon = i
			break
		}
		if c < '0' || c > '9' {
			d.pos = before
			return nil, ErrType
		}
	}
	if colon < 0 || colon == d.pos {
		d.pos = before
		return nil, ErrMalformed
	}
	n, err := strconv.Atoi(string(d.buf[d.pos:colon]))
	if err != nil || n < 0 {
		d.pos = before
		return nil, ErrMalformed
	}
	start := colon + 1
	if start+n > len(d.buf) {
		d.pos = before
		return nil, ErrTruncated
	}
	d.pos = start + n
	return d.buf[start : start+n], nil
}

// String is a convenience wrapper over ByteString returning a copy as string.
func (d *Decoder) String() (string, error) {
	b, err := d.ByteString()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// BeginList consumes the 'l' list opener.
func (d *Decoder) BeginList() error {
	b, ok := d.peek()
	if !ok || b != 'l' {
		return ErrType
	}
	d.pos++
	return nil
}

// AtEnd reports whether the next byte is the 'e' terminator of the
// innermost open list or dictionary, without consuming it.
func (d *Decoder) AtEnd() bool {
	b, ok := d.peek()
	return ok && b == 'e'
}

// EndList consumes the closing 'e' of a list.
func (d *Decoder) EndList() error {
	b, ok := d.peek()
	if !ok || b != 'e' {
		return ErrMalformed
	}
	d.pos++
	return nil
}

// BeginDict consumes the 'd' dictionary opener.
func (d *Decoder) BeginDict() error {
	b, ok := d.peek()
	if !ok || b != 'd' {
		return ErrType
	}
	d.pos++
	return nil
}

// EndDict consumes the closing 'e' of a dictionary.
func (d *Decoder) EndDict() error {
	return d.EndList()
}

// Skip walks over one arbitrary value of unknown shape, discarding it.
// Used to gracefully ignore unrecognized dictionary keys.
func (d *Decoder) Skip() error {
	before := d.pos
	if err := d.skip(); err != nil {
		d.pos = before
		return err
	}
	return nil
}

func (d *Decoder) skip() error {
	b, ok := d.peek()
	if !ok {
		return ErrMalformed
	}
	switch {
	case b == 'i':
		_, err := d.Int()
		return err
	case b == 'l':
		if err := d.BeginList(); err != nil {
			return err
		}
		for !d.AtEnd() {
			if err := d.skip(); err != nil {
				return err
			}
		}
		return d.EndList()
	case b == 'd':
		if err := d.BeginDict(); err != nil {
			return err
		}
		for !d.AtEnd() {
			if _, err := d.ByteString(); err != nil {
				return err
			}
			if err := d.skip(); err != nil {
				return err
			}
		}
		return d.EndDict()
	case b >= '0' && b <= '9':
		_, err := d.ByteString()
		return err
	default:
		return ErrMalformed
	}
}

// Value decodes one arbitrary value into a generic tree: int64, []byte,
// []Value, or map[string]Value. Byte strings are copied, unlike ByteString.
func (d *Decoder) Value() (Value, error) {
	before := d.pos
	v, err := d.decodeValue()
	if err != nil {
		d.pos = before
		return nil, err
	}
	return v, nil
}

func (d *Decoder) decodeValue() (Value, error) {
	b, ok := d.peek()
	if !ok {
		return nil, ErrMalformed
	}
	switch {
	case b == 'i':
		return d.Int()
	case b == 'l':
		if err := d.BeginList(); err != nil {
			return nil, err
		}
		var list []Value
		for !d.AtEnd() {
			v, err := d.decodeValue()
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		if err := d.EndList(); err != nil {
			return nil, err
		}
		return list, nil
	case b == 'd':
		if err := d.BeginDict(); err != nil {
			return nil, err
		}
		m := make(map[string]Value)
		for !d.AtEnd() {
			k, err := d.String()
			if err != nil {
				return nil, err
			}
			v, err := d.decodeValue()
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		if err := d.EndDict(); err != nil {
			return nil, err
		}
		return m, nil
	case b >= '0' && b <= '9':
		raw, err := d.ByteString()
		if err != nil {
			return nil, err
		}
		cp := make([]byte, len(raw))
		copy(cp, raw)
		return cp, nil
	default:
		return nil, ErrMalformed
	}
}
