package codec

import (
	"errors"
	"io"

	"github.com/quay/versiontracker"
)

// Record tags. VersionData and EndOfFile are reserved by the format;
// readers stop at the first EndOfFile tag or a clean stream end,
// whichever comes first.
const (
	TagVersionData byte = 0x01
	TagEndOfFile   byte = 0xFF
)

// RecordWriter writes a tagged-record stream: each record is a 1-byte
// tag followed by codec-encoded payload.
type RecordWriter struct {
	*Writer
}

// NewRecordWriter returns a RecordWriter writing to w.
func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{Writer: NewWriter(w)}
}

// WriteEndOfFile terminates the record stream.
func (rw *RecordWriter) WriteEndOfFile() error {
	return rw.WriteByte(TagEndOfFile)
}

// RecordReader reads a tagged-record stream.
type RecordReader struct {
	*Reader
}

// NewRecordReader returns a RecordReader reading from r.
func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{Reader: NewReader(r)}
}

// NextTag returns the next record's tag, or io.EOF if the stream ended
// cleanly (either a TagEndOfFile record or the underlying reader being
// exhausted between records).
func (rr *RecordReader) NextTag() (byte, error) {
	if rr.IsEOF() {
		return 0, io.EOF
	}
	tag, err := rr.ReadByte()
	if err != nil {
		var verr *versiontracker.Error
		if errors.As(err, &verr) && verr.Kind == versiontracker.ErrInvalidFormat {
			return 0, io.EOF
		}
		return 0, err
	}
	if tag == TagEndOfFile {
		return 0, io.EOF
	}
	return tag, nil
}
