package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/shmrt/lib/store"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTApply CommandType = iota + 1 // Apply a batch of mutations atomically.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTApply:
		return "Apply"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// Command represents a command to be executed by the state machine (a single entry in the raft log)
type Command struct {
	Type  CommandType
	Batch []store.Mutation
}

const (
	commandHeaderSize  = 1 + 4                         // Type + mutation count
	mutationHeaderSize = 1 + 1 + 1 + 4 + 4 + 4 + 8    // Op + CF + Flags + SchemaVersion + TableID + Diff + Delta
	mutationFieldsSize = mutationHeaderSize + 4*4     // + length prefixes of Key, FromKey, Refs, Value
	flagOverride       = 1 << 0
	flagReturnPrevious = 1 << 1
)

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	size := commandHeaderSize
	for i := range command.Batch {
		m := &command.Batch[i]
		size += mutationFieldsSize + len(m.Key) + len(m.FromKey) + len(m.Refs) + len(m.Value)
	}
	return size
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for the command type,
// 4 bytes for the number of mutations (big endian),
// and for each mutation:
// 1 byte op, 1 byte column family, 1 byte flags,
// 4 bytes schema version, 4 bytes table id, 4 bytes diff, 8 bytes delta,
// and the length prefixed (4 bytes, big endian) key, from key, refs and value.
func (command *Command) Serialize() []byte {
	buf := make([]byte, 0, command.SizeBytes())

	buf = append(buf, byte(command.Type))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(command.Batch)))

	for i := range command.Batch {
		m := &command.Batch[i]

		var flags byte
		if m.Override {
			flags |= flagOverride
		}
		if m.ReturnPrevious {
			flags |= flagReturnPrevious
		}

		buf = append(buf, byte(m.Op), byte(m.CF), flags)
		buf = binary.BigEndian.AppendUint32(buf, m.SchemaVersion)
		buf = binary.BigEndian.AppendUint32(buf, m.TableID)
		buf = binary.BigEndian.AppendUint32(buf, uint32(m.Diff))
		buf = binary.BigEndian.AppendUint64(buf, m.Delta)
		buf = appendBytes(buf, m.Key)
		buf = appendBytes(buf, m.FromKey)
		buf = appendBytes(buf, m.Refs)
		buf = appendBytes(buf, m.Value)
	}

	return buf
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// Deserialize extracts all Command fields from a byte array.
// The byte slices of the mutations are copies and do not alias data.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < commandHeaderSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	count := int(binary.BigEndian.Uint32(data[1:5]))
	pos := commandHeaderSize

	// every mutation needs at least its fixed fields
	if count > (len(data)-pos)/mutationFieldsSize {
		return fmt.Errorf("data too short for %d mutations", count)
	}

	command.Batch = make([]store.Mutation, count)
	for i := 0; i < count; i++ {
		if len(data)-pos < mutationHeaderSize {
			return fmt.Errorf("data too short for mutation %d", i)
		}
		m := &command.Batch[i]
		m.Op = store.OpType(data[pos])
		m.CF = int8(data[pos+1])
		flags := data[pos+2]
		m.Override = flags&flagOverride != 0
		m.ReturnPrevious = flags&flagReturnPrevious != 0
		m.SchemaVersion = binary.BigEndian.Uint32(data[pos+3:])
		m.TableID = binary.BigEndian.Uint32(data[pos+7:])
		m.Diff = int32(binary.BigEndian.Uint32(data[pos+11:]))
		m.Delta = binary.BigEndian.Uint64(data[pos+15:])
		pos += mutationHeaderSize

		for _, field := range []struct {
			name string
			dst  *[]byte
		}{
			{"key", &m.Key},
			{"from key", &m.FromKey},
			{"refs", &m.Refs},
			{"value", &m.Value},
		} {
			b, n, err := readBytes(data[pos:], field.name)
			if err != nil {
				return fmt.Errorf("mutation %d: %w", i, err)
			}
			*field.dst = b
			pos += n
		}
	}

	if pos != len(data) {
		return fmt.Errorf("%d trailing bytes after command", len(data)-pos)
	}
	return nil
}

func readBytes(data []byte, name string) ([]byte, int, error) {
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("data too short for %s length", name)
	}
	n := int(binary.BigEndian.Uint32(data))
	if len(data)-4 < n {
		return nil, 0, fmt.Errorf("data too short for %s of length %d", name, n)
	}
	if n == 0 {
		return nil, 4, nil
	}
	b := make([]byte, n)
	copy(b, data[4:4+n])
	return b, 4 + n, nil
}

// --------------------------------------------------------------------------
// Results (returned in sm.Result.Data)
// --------------------------------------------------------------------------

// EncodeResults serializes the results of a successful batch:
// 4 bytes count, then per result 8 bytes count value and the length prefixed previous row.
func EncodeResults(results []store.MutationResult) []byte {
	size := 4
	for _, r := range results {
		size += 8 + 4 + len(r.Previous)
	}
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(results)))
	for _, r := range results {
		buf = binary.BigEndian.AppendUint64(buf, uint64(r.Count))
		buf = appendBytes(buf, r.Previous)
	}
	return buf
}

// DecodeResults is the inverse of EncodeResults.
func DecodeResults(data []byte) ([]store.MutationResult, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("data too short for results")
	}
	count := int(binary.BigEndian.Uint32(data))
	pos := 4
	if count > (len(data)-pos)/12 {
		return nil, fmt.Errorf("data too short for %d results", count)
	}

	results := make([]store.MutationResult, count)
	for i := range results {
		if len(data)-pos < 8 {
			return nil, fmt.Errorf("data too short for result %d", i)
		}
		results[i].Count = int64(binary.BigEndian.Uint64(data[pos:]))
		pos += 8
		prev, n, err := readBytes(data[pos:], "previous row")
		if err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
		results[i].Previous = prev
		pos += n
	}
	return results, nil
}
