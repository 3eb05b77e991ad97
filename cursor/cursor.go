// Package cursor implements sequential and random access reads over an
// in-memory buffer holding one of the game binary formats. All multi-byte
// values in those formats are little-endian.
package cursor

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/text/encoding/japanese"
)

// ErrOutOfBounds is returned when a read would extend past the end of the
// buffer. Reads never truncate or pad - a short buffer is a hard error.
var ErrOutOfBounds = errors.New("read past end of buffer")

// Cursor wraps an immutable byte buffer with a mutable read position. Every
// successful read advances the position by exactly the number of bytes
// consumed.
type Cursor struct {
	data []byte
	pos  int
}

func New(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Pos returns the current read position.
func (c *Cursor) Pos() int {
	return c.pos
}

// Len returns the total buffer length.
func (c *Cursor) Len() int {
	return len(c.data)
}

// Seek sets the read position. Positions past the buffer end are legal until
// the next read.
func (c *Cursor) Seek(pos int) {
	c.pos = pos
}

func (c *Cursor) check(n int) error {
	if n < 0 || c.pos < 0 || c.pos+n > len(c.data) {
		return fmt.Errorf("%w: %d bytes at offset %d, buffer is %d", ErrOutOfBounds, n, c.pos, len(c.data))
	}
	return nil
}

// ReadU32 reads a little-endian uint32.
func (c *Cursor) ReadU32() (uint32, error) {
	if err := c.check(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(c.data[c.pos:])
	c.pos += 4
	return v, nil
}

// ReadString reads a fixed-length string of n raw bytes. No terminator
// handling is performed, padding bytes are returned as is.
func (c *Cursor) ReadString(n int) (string, error) {
	if err := c.check(n); err != nil {
		return "", err
	}
	s := string(c.data[c.pos : c.pos+n])
	c.pos += n
	return s, nil
}

// ReadBytes reads n bytes and returns them as a fresh slice, so the result
// stays valid when the caller keeps it around.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if err := c.check(n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, c.data[c.pos:])
	c.pos += n
	return b, nil
}

// ReadZString consumes bytes up to and including the next zero byte (or the
// buffer end) and decodes them as Shift-JIS. Byte sequences invalid in
// Shift-JIS decode to U+FFFD instead of failing - malformed text must never
// abort an extraction. Returns ok=false when no bytes precede the
// terminator/EOF, which the string table scan uses as its end marker.
func (c *Cursor) ReadZString() (string, bool) {
	start := c.pos
	for c.pos < len(c.data) && c.data[c.pos] != 0 {
		c.pos++
	}
	raw := c.data[start:c.pos]
	if c.pos < len(c.data) {
		c.pos++ // consume terminator
	}
	if len(raw) == 0 {
		return "", false
	}
	decoded, err := japanese.ShiftJIS.NewDecoder().Bytes(raw)
	if err != nil {
		// the decoder substitutes U+FFFD on its own, this is unreachable for
		// any input
		return string(raw), true
	}
	return string(decoded), true
}
