package codec

import (
	"bytes"
	"testing"
	"time"
)

func TestPrimitiveRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	deadbeef := uint32(0xdeadbeef)
	beef := uint16(0xbeef)

	if err := w.WriteString("test"); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteInt(int32(deadbeef)); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBoolean(true); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteByte(123); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBoolean(false); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteShort(int16(beef)); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteByteArray([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteLong(0x12345678); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteTimestamp(&ts); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteByteArray([]byte{2, 3, 4, 5}); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf)

	if s, err := r.ReadString(); err != nil || s != "test" {
		t.Fatalf("ReadString: %q, %v", s, err)
	}
	if v, err := r.ReadInt(); err != nil || v != int32(deadbeef) {
		t.Fatalf("ReadInt: %x, %v", v, err)
	}
	if v, err := r.ReadBoolean(); err != nil || v != true {
		t.Fatalf("ReadBoolean: %v, %v", v, err)
	}
	if v, err := r.ReadByte(); err != nil || v != 123 {
		t.Fatalf("ReadByte: %v, %v", v, err)
	}
	if v, err := r.ReadBoolean(); err != nil || v != false {
		t.Fatalf("ReadBoolean: %v, %v", v, err)
	}
	if v, err := r.ReadShort(); err != nil || v != int16(beef) {
		t.Fatalf("ReadShort: %x, %v", v, err)
	}
	if v, err := r.ReadByteArray(); err != nil || !bytes.Equal(v, []byte{1, 2, 3}) {
		t.Fatalf("ReadByteArray: %v, %v", v, err)
	}
	if v, err := r.ReadLong(); err != nil || v != 0x12345678 {
		t.Fatalf("ReadLong: %x, %v", v, err)
	}
	if v, err := r.ReadTimestamp(); err != nil || v == nil || !v.Equal(ts) {
		t.Fatalf("ReadTimestamp: %v, %v", v, err)
	}
	if v, err := r.ReadByteArray(); err != nil || !bytes.Equal(v, []byte{2, 3, 4, 5}) {
		t.Fatalf("ReadByteArray (tail): %v, %v", v, err)
	}

	if !r.IsEOF() {
		t.Fatal("IsEOF: want true immediately after the last read")
	}
}

func TestOptionalValues(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteOptionalString(nil); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteTimestamp(nil); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf)
	if s, err := r.ReadOptionalString(); err != nil || s != nil {
		t.Fatalf("ReadOptionalString: %v, %v", s, err)
	}
	if ts, err := r.ReadTimestamp(); err != nil || ts != nil {
		t.Fatalf("ReadTimestamp: %v, %v", ts, err)
	}
}

func TestReadBooleanInvalidByte(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0xAB}))
	if _, err := r.ReadBoolean(); err == nil {
		t.Fatal("want format error on invalid boolean byte")
	}
}

func TestRecordStreamStopsAtEndOfFile(t *testing.T) {
	var buf bytes.Buffer
	rw := NewRecordWriter(&buf)
	if err := rw.WriteByte(TagVersionData); err != nil {
		t.Fatal(err)
	}
	if err := rw.WriteString("payload-1"); err != nil {
		t.Fatal(err)
	}
	if err := rw.WriteByte(TagVersionData); err != nil {
		t.Fatal(err)
	}
	if err := rw.WriteString("payload-2"); err != nil {
		t.Fatal(err)
	}
	if err := rw.WriteEndOfFile(); err != nil {
		t.Fatal(err)
	}
	// A trailer after END_OF_FILE must never be read.
	if err := rw.WriteString("unreachable"); err != nil {
		t.Fatal(err)
	}

	rr := NewRecordReader(&buf)
	var got []string
	for {
		tag, err := rr.NextTag()
		if err != nil {
			break
		}
		if tag != TagVersionData {
			t.Fatalf("unexpected tag %x", tag)
		}
		s, err := rr.ReadString()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, s)
	}
	if len(got) != 2 || got[0] != "payload-1" || got[1] != "payload-2" {
		t.Fatalf("got %v", got)
	}
}

func TestRecordStreamStopsAtCleanEOF(t *testing.T) {
	var buf bytes.Buffer
	rw := NewRecordWriter(&buf)
	if err := rw.WriteByte(TagVersionData); err != nil {
		t.Fatal(err)
	}
	if err := rw.WriteString("only"); err != nil {
		t.Fatal(err)
	}
	// No END_OF_FILE tag: reader must treat a clean stream end the
	// same way.

	rr := NewRecordReader(&buf)
	tag, err := rr.NextTag()
	if err != nil || tag != TagVersionData {
		t.Fatalf("NextTag: %x, %v", tag, err)
	}
	if _, err := rr.ReadString(); err != nil {
		t.Fatal(err)
	}
	if _, err := rr.NextTag(); err == nil {
		t.Fatal("want io.EOF at clean stream end")
	}
}
