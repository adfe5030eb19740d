// Package codec implements the self-describing, length-prefixed binary
// encoding shared by the flat-file VersionStore format and the binary
// wire protocol.
package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/quay/versiontracker"
)

// Boolean byte encodings. Any other byte value is a format error.
const (
	boolTrue  byte = 0x12
	boolFalse byte = 0x34
)

// Writer encodes primitive values in the BinaryCodec wire format.
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter returns a Writer that writes to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first error encountered by any Write* call, if any.
func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(p)
}

// WriteByte writes a single byte.
func (w *Writer) WriteByte(b byte) error {
	w.write([]byte{b})
	return w.err
}

// WriteShort writes a two's complement 16-bit integer.
func (w *Writer) WriteShort(v int16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	w.write(b[:])
	return w.err
}

// WriteInt writes a two's complement 32-bit integer.
func (w *Writer) WriteInt(v int32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.write(b[:])
	return w.err
}

// WriteLong writes a two's complement 64-bit integer.
func (w *Writer) WriteLong(v int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.write(b[:])
	return w.err
}

// WriteBoolean writes 0x12 for true and 0x34 for false.
func (w *Writer) WriteBoolean(v bool) error {
	if v {
		return w.WriteByte(boolTrue)
	}
	return w.WriteByte(boolFalse)
}

// WriteString writes a 1-byte present flag followed, if present, by a
// length-prefixed UTF-8 string. The empty string is written present
// with zero length; use WriteOptionalString for a true null.
func (w *Writer) WriteString(s string) error {
	return w.WriteOptionalString(&s)
}

// WriteOptionalString writes a 1-byte present flag and, when s is
// non-nil, an int32 length followed by the UTF-8 bytes.
func (w *Writer) WriteOptionalString(s *string) error {
	if s == nil {
		return w.WriteBoolean(false)
	}
	if err := w.WriteBoolean(true); err != nil {
		return err
	}
	if err := w.WriteInt(int32(len(*s))); err != nil {
		return err
	}
	w.write([]byte(*s))
	return w.err
}

// WriteByteArray writes a length-prefixed byte slice.
func (w *Writer) WriteByteArray(p []byte) error {
	if err := w.WriteInt(int32(len(p))); err != nil {
		return err
	}
	w.write(p)
	return w.err
}

// WriteTimestamp writes a present flag and, if t is non-nil, a signed
// 64-bit count of milliseconds since the Unix epoch, UTC.
func (w *Writer) WriteTimestamp(t *time.Time) error {
	if t == nil {
		return w.WriteBoolean(false)
	}
	if err := w.WriteBoolean(true); err != nil {
		return err
	}
	return w.WriteLong(t.UTC().UnixMilli())
}

// Reader decodes primitive values in the BinaryCodec wire format.
type Reader struct {
	r   *bufio.Reader
	eof bool
}

// NewReader returns a Reader that reads from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// IsEOF reports whether the underlying stream is exhausted. It is only
// meaningful between frames; calling it mid-frame gives no useful
// answer.
func (r *Reader) IsEOF() bool {
	if r.eof {
		return true
	}
	_, err := r.r.Peek(1)
	r.eof = errors.Is(err, io.EOF)
	return r.eof
}

func (r *Reader) fill(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			r.eof = true
			return nil, &versiontracker.Error{Kind: versiontracker.ErrInvalidFormat, Op: "codec.Reader", Message: "unexpected end of stream mid-frame", Inner: err}
		}
		return nil, &versiontracker.Error{Kind: versiontracker.ErrStorageIO, Op: "codec.Reader", Inner: err}
	}
	return b, nil
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.fill(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadShort reads a two's complement 16-bit integer.
func (r *Reader) ReadShort() (int16, error) {
	b, err := r.fill(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

// ReadInt reads a two's complement 32-bit integer.
func (r *Reader) ReadInt() (int32, error) {
	b, err := r.fill(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

// ReadLong reads a two's complement 64-bit integer.
func (r *Reader) ReadLong() (int64, error) {
	b, err := r.fill(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// ReadBoolean reads a boolean byte, rejecting any value other than the
// two defined encodings.
func (r *Reader) ReadBoolean() (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case boolTrue:
		return true, nil
	case boolFalse:
		return false, nil
	default:
		return false, &versiontracker.Error{Kind: versiontracker.ErrInvalidFormat, Op: "codec.Reader.ReadBoolean", Message: fmt.Sprintf("invalid boolean byte 0x%02x", b)}
	}
}

// ReadString reads a present flag and length-prefixed UTF-8 string. It
// returns "" if the value was written as absent.
func (r *Reader) ReadString() (string, error) {
	s, err := r.ReadOptionalString()
	if err != nil || s == nil {
		return "", err
	}
	return *s, nil
}

// ReadOptionalString mirrors WriteOptionalString.
func (r *Reader) ReadOptionalString() (*string, error) {
	present, err := r.ReadBoolean()
	if err != nil || !present {
		return nil, err
	}
	n, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	b, err := r.fill(int(n))
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// ReadByteArray reads a length-prefixed byte slice.
func (r *Reader) ReadByteArray() ([]byte, error) {
	n, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	return r.fill(int(n))
}

// ReadTimestamp mirrors WriteTimestamp.
func (r *Reader) ReadTimestamp() (*time.Time, error) {
	present, err := r.ReadBoolean()
	if err != nil || !present {
		return nil, err
	}
	ms, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}
