package store

import (
	"encoding/binary"
	"fmt"
	"slices"
)

// --------------------------------------------------------------------------
// Row encoding
// --------------------------------------------------------------------------

const rowHeaderSize = 4 + 4

// Row is a stored value together with its schema version and reference bytes.
type Row struct {
	SchemaVersion uint32
	Refs          []byte
	Value         []byte
}

// SizeBytes returns the exact number of bytes needed to encode the row
func (r Row) SizeBytes() int {
	return rowHeaderSize + len(r.Refs) + len(r.Value)
}

// Encode serializes the row with the format:
// 4 bytes schema version (big endian),
// 4 bytes refs length (big endian),
// N bytes refs,
// N bytes value
func (r Row) Encode() []byte {
	buf := make([]byte, r.SizeBytes())
	binary.BigEndian.PutUint32(buf[0:4], r.SchemaVersion)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(r.Refs)))
	copy(buf[8:], r.Refs)
	copy(buf[8+len(r.Refs):], r.Value)
	return buf
}

// DecodeRow parses an encoded row. The returned slices alias data.
func DecodeRow(data []byte) (Row, error) {
	if len(data) < rowHeaderSize {
		return Row{}, fmt.Errorf("data too short for row header")
	}
	refsLen := int(binary.BigEndian.Uint32(data[4:8]))
	if len(data) < rowHeaderSize+refsLen {
		return Row{}, fmt.Errorf("data too short for refs of length %d", refsLen)
	}
	return Row{
		SchemaVersion: binary.BigEndian.Uint32(data[0:4]),
		Refs:          data[8 : 8+refsLen],
		Value:         data[8+refsLen:],
	}, nil
}

// Clone returns a row that does not share memory with r
func (r Row) Clone() Row {
	return Row{
		SchemaVersion: r.SchemaVersion,
		Refs:          slices.Clone(r.Refs),
		Value:         slices.Clone(r.Value),
	}
}

// --------------------------------------------------------------------------
// Key layout
// --------------------------------------------------------------------------

// ReservedTableID is never a valid table. Internal meta rows live under it.
const ReservedTableID uint32 = 0xFFFFFFFF

// TablePrefix returns the 4 byte prefix shared by all keys of a table.
func TablePrefix(tableID uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, tableID)
}

// TableKey returns prefix(tableID) followed by suffix.
func TableKey(tableID uint32, suffix []byte) []byte {
	return append(TablePrefix(tableID), suffix...)
}

// SchemaKey is the meta family key holding the schema of a table.
func SchemaKey(tableID uint32) []byte {
	return TableKey(tableID, []byte("schema"))
}

// CounterKey is the meta family key of a named counter.
func CounterKey(name []byte) []byte {
	return TableKey(ReservedTableID, append([]byte("counter/"), name...))
}

// RefKey is the refs family key for references from one key to a target.
// Layout: target | from | u16 len(from), so all references of a target share the
// target as prefix and DropTable reaches them.
func RefKey(target, from []byte) []byte {
	key := make([]byte, 0, len(target)+len(from)+2)
	key = append(key, target...)
	key = append(key, from...)
	return binary.BigEndian.AppendUint16(key, uint16(len(from)))
}

// SplitRefKey is the inverse of RefKey.
func SplitRefKey(key []byte) (target, from []byte, err error) {
	if len(key) < 2 {
		return nil, nil, fmt.Errorf("data too short for ref key")
	}
	fromLen := int(binary.BigEndian.Uint16(key[len(key)-2:]))
	if len(key)-2 < fromLen {
		return nil, nil, fmt.Errorf("data too short for ref source of length %d", fromLen)
	}
	split := len(key) - 2 - fromLen
	return key[:split], key[split : len(key)-2], nil
}
