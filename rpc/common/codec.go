package common

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ValentinKolb/shmrt/lib/entityid"
	"github.com/ValentinKolb/shmrt/lib/nativebuf"
)

// --------------------------------------------------------------------------
// Encoder
// --------------------------------------------------------------------------

// Encoder appends fields in big endian byte order. Byte fields are prefixed with
// a 4 byte length, strings with a 2 byte length. The first error (a string or
// list that does not fit its length prefix) is sticky and reported by Err.
type Encoder struct {
	buf []byte
	err error
}

// NewEncoder returns an encoder with room for size bytes.
func NewEncoder(size int) *Encoder {
	return &Encoder{buf: make([]byte, 0, size)}
}

// Data returns the encoded bytes.
func (e *Encoder) Data() []byte { return e.buf }

// Err returns the first encoding error.
func (e *Encoder) Err() error { return e.err }

func (e *Encoder) U8(v uint8)   { e.buf = append(e.buf, v) }
func (e *Encoder) I8(v int8)    { e.buf = append(e.buf, byte(v)) }
func (e *Encoder) U16(v uint16) { e.buf = binary.BigEndian.AppendUint16(e.buf, v) }
func (e *Encoder) U32(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *Encoder) I32(v int32)  { e.U32(uint32(v)) }
func (e *Encoder) U64(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }
func (e *Encoder) I64(v int64)  { e.U64(uint64(v)) }
func (e *Encoder) F64(v float64) {
	e.U64(math.Float64bits(v))
}

func (e *Encoder) Bool(v bool) {
	if v {
		e.U8(1)
	} else {
		e.U8(0)
	}
}

// Bytes writes a 4 byte length followed by b.
func (e *Encoder) Bytes(b []byte) {
	if uint64(len(b)) > math.MaxUint32 {
		e.fail(fmt.Errorf("byte field of %d bytes exceeds the length prefix", len(b)))
		return
	}
	e.U32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

// Owned writes the contents of an owned buffer like Bytes. Ownership stays with the caller.
func (e *Encoder) Owned(o nativebuf.Owned) {
	e.Bytes(o.Bytes())
}

// String writes a 2 byte length followed by s.
func (e *Encoder) String(s string) {
	if len(s) > math.MaxUint16 {
		e.fail(fmt.Errorf("string of %d bytes exceeds the length prefix", len(s)))
		return
	}
	e.U16(uint16(len(s)))
	e.buf = append(e.buf, s...)
}

// Count writes the 2 byte element count of a list.
func (e *Encoder) Count(n int) {
	if n > math.MaxUint16 {
		e.fail(fmt.Errorf("list of %d elements exceeds the count prefix", n))
		return
	}
	e.U16(uint16(n))
}

func (e *Encoder) ID(id entityid.ID) { e.buf = append(e.buf, id[:]...) }

func (e *Encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

// Size helpers for SizeBytes implementations
func sizeBytes(b []byte) int          { return 4 + len(b) }
func sizeOwned(o nativebuf.Owned) int { return 4 + o.Len() }
func sizeString(s string) int         { return 2 + len(s) }

// --------------------------------------------------------------------------
// Decoder
// --------------------------------------------------------------------------

// Decoder reads fields written by Encoder. The first error is sticky: once a
// field is missing every later read returns the zero value and Err reports
// "data too short for <field>".
type Decoder struct {
	data []byte
	pos  int
	err  error
}

func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Err returns the first decoding error.
func (d *Decoder) Err() error { return d.err }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.data) - d.pos }

// Finish returns the first decoding error, or an error if unread bytes remain.
func (d *Decoder) Finish() error {
	if d.err != nil {
		return d.err
	}
	if n := d.Remaining(); n != 0 {
		return fmt.Errorf("%d trailing bytes after message", n)
	}
	return nil
}

func (d *Decoder) take(n int, field string) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.Remaining() < n {
		d.err = fmt.Errorf("data too short for %s", field)
		return nil
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b
}

func (d *Decoder) U8(field string) uint8 {
	if b := d.take(1, field); b != nil {
		return b[0]
	}
	return 0
}

func (d *Decoder) I8(field string) int8 { return int8(d.U8(field)) }

func (d *Decoder) Bool(field string) bool { return d.U8(field) != 0 }

func (d *Decoder) U16(field string) uint16 {
	if b := d.take(2, field); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (d *Decoder) U32(field string) uint32 {
	if b := d.take(4, field); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (d *Decoder) I32(field string) int32 { return int32(d.U32(field)) }

func (d *Decoder) U64(field string) uint64 {
	if b := d.take(8, field); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (d *Decoder) I64(field string) int64 { return int64(d.U64(field)) }

func (d *Decoder) F64(field string) float64 { return math.Float64frombits(d.U64(field)) }

// Bytes reads a length prefixed byte field. The result aliases the input.
func (d *Decoder) Bytes(field string) []byte {
	n := d.U32(field + " length")
	if d.err != nil {
		return nil
	}
	if uint64(n) > uint64(d.Remaining()) {
		d.err = fmt.Errorf("data too short for %s of length %d", field, n)
		return nil
	}
	if n == 0 {
		return nil
	}
	return d.take(int(n), field)
}

// BytesCopy reads a byte field into fresh memory.
func (d *Decoder) BytesCopy(field string) []byte {
	b := d.Bytes(field)
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Owned reads a byte field into a new owned buffer. The receiver of the
// decoded message owns it and must free it.
func (d *Decoder) Owned(field string) nativebuf.Owned {
	return nativebuf.From(d.Bytes(field))
}

func (d *Decoder) String(field string) string {
	n := d.U16(field + " length")
	if d.err != nil {
		return ""
	}
	if int(n) > d.Remaining() {
		d.err = fmt.Errorf("data too short for %s of length %d", field, n)
		return ""
	}
	return string(d.take(int(n), field))
}

// Count reads a list count and checks that at least minSize bytes per element remain.
func (d *Decoder) Count(field string, minSize int) int {
	n := int(d.U16(field + " count"))
	if d.err != nil {
		return 0
	}
	if minSize > 0 && n > d.Remaining()/minSize {
		d.err = fmt.Errorf("data too short for %d %s", n, field)
		return 0
	}
	return n
}

func (d *Decoder) ID(field string) entityid.ID {
	var id entityid.ID
	copy(id[:], d.take(entityid.Size, field))
	return id
}
