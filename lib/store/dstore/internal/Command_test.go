package internal

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"testing"

	"github.com/ValentinKolb/shmrt/lib/store"
)

// TestSizeBytes tests the SizeBytes method
func TestSizeBytes(t *testing.T) {
	tests := []struct {
		name     string
		command  Command
		expected int
	}{
		{
			name:     "Empty batch",
			command:  Command{Type: CommandTApply},
			expected: 1 + 4, // Type + Count
		},
		{
			name: "Single insert",
			command: Command{Type: CommandTApply, Batch: []store.Mutation{
				{Op: store.OpInsert, Key: []byte("testkey"), Value: []byte("testvalue")},
			}},
			expected: 1 + 4 + 23 + 16 + 7 + 9, // Header + fixed fields + length prefixes + Key + Value
		},
		{
			name: "AddRef and DropTable",
			command: Command{Type: CommandTApply, Batch: []store.Mutation{
				{Op: store.OpAddRef, Key: []byte("t"), FromKey: []byte("from"), Diff: -1},
				{Op: store.OpDropTable, TableID: 3},
			}},
			expected: 1 + 4 + (39 + 1 + 4) + 39,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size := tt.command.SizeBytes()
			if size != tt.expected {
				t.Errorf("SizeBytes() = %v, want %v", size, tt.expected)
			}
		})
	}
}

// TestSerializeDeserialize tests both Serialize and Deserialize methods
func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{
			name:    "Empty batch",
			command: Command{Type: CommandTApply, Batch: []store.Mutation{}},
		},
		{
			name: "Insert with all flags",
			command: Command{Type: CommandTApply, Batch: []store.Mutation{{
				Op: store.OpInsert, CF: 2, SchemaVersion: 7, Key: []byte("testkey"),
				Refs: []byte{1, 2}, Value: []byte("testvalue"), Override: true, ReturnPrevious: true,
			}}},
		},
		{
			name: "Negative values",
			command: Command{Type: CommandTApply, Batch: []store.Mutation{
				{Op: store.OpAddRef, CF: -1, Key: []byte("target"), FromKey: []byte("from"), Diff: -42},
			}},
		},
		{
			name: "Large values",
			command: Command{Type: CommandTApply, Batch: []store.Mutation{
				{Op: store.OpIncrement, Key: []byte("counter"), Delta: 18446744073709551615},
				{Op: store.OpAlterSchema, TableID: 4294967294, Value: bytes.Repeat([]byte{0xAB}, 4096)},
			}},
		},
		{
			name: "Binary and unicode keys",
			command: Command{Type: CommandTApply, Batch: []store.Mutation{
				{Op: store.OpDelete, Key: []byte{0, 1, 2, 3, 254, 255}},
				{Op: store.OpUpdate, Key: []byte("你好世界"), Value: []byte("unicode test")},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.command.Serialize()

			var newCommand Command
			if err := newCommand.Deserialize(data); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}

			if newCommand.Type != tt.command.Type {
				t.Errorf("Type mismatch: got %v, want %v", newCommand.Type, tt.command.Type)
			}
			if !reflect.DeepEqual(newCommand.Batch, tt.command.Batch) {
				t.Errorf("Batch mismatch:\ngot  %+v\nwant %+v", newCommand.Batch, tt.command.Batch)
			}

			if tt.command.SizeBytes() != len(data) {
				t.Errorf("SizeBytes() = %d, but serialized data length = %d",
					tt.command.SizeBytes(), len(data))
			}
		})
	}
}

// TestDeserializeErrors tests error cases in Deserialize
func TestDeserializeErrors(t *testing.T) {
	header := func(count uint32) []byte {
		return binary.BigEndian.AppendUint32([]byte{byte(CommandTApply)}, count)
	}

	tests := []struct {
		name        string
		data        []byte
		expectedErr string
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectedErr: "data too short for command",
		},
		{
			name:        "Data too short (less than header)",
			data:        []byte{1, 2, 3},
			expectedErr: "data too short for command",
		},
		{
			name:        "Count exceeds data",
			data:        header(1000),
			expectedErr: "data too short for 1000 mutations",
		},
		{
			name: "Invalid key length",
			data: func() []byte {
				data := append(header(1), make([]byte, 39)...)
				// Key length directly follows the fixed fields
				binary.BigEndian.PutUint32(data[5+23:], 1000)
				return data
			}(),
			expectedErr: "mutation 0: data too short for key of length 1000",
		},
		{
			name: "Trailing bytes",
			data: func() []byte {
				cmd := Command{Type: CommandTApply, Batch: []store.Mutation{{Op: store.OpDelete, Key: []byte("k")}}}
				return append(cmd.Serialize(), 0, 0)
			}(),
			expectedErr: "2 trailing bytes after command",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			err := cmd.Deserialize(tt.data)

			if err == nil {
				t.Fatalf("Expected error but got nil")
			}
			if err.Error() != tt.expectedErr {
				t.Errorf("Expected error %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

// TestBinaryFormat tests the exact binary format of serialized commands
func TestBinaryFormat(t *testing.T) {
	cmd := Command{Type: CommandTApply, Batch: []store.Mutation{{
		Op:             store.OpInsert,
		CF:             -2,
		SchemaVersion:  12345,
		TableID:        7,
		Diff:           -1,
		Delta:          67890,
		Key:            []byte("testkey"),
		Value:          []byte("testvalue"),
		ReturnPrevious: true,
	}}}

	// Manually create the expected byte array
	var expected []byte
	expected = append(expected, byte(CommandTApply), 0, 0, 0, 1)
	expected = append(expected, byte(store.OpInsert), 0xFE, flagReturnPrevious)
	expected = binary.BigEndian.AppendUint32(expected, 12345)
	expected = binary.BigEndian.AppendUint32(expected, 7)
	expected = append(expected, 0xFF, 0xFF, 0xFF, 0xFF)
	expected = binary.BigEndian.AppendUint64(expected, 67890)
	expected = append(expected, 0, 0, 0, 7)
	expected = append(expected, "testkey"...)
	expected = append(expected, 0, 0, 0, 0) // FromKey
	expected = append(expected, 0, 0, 0, 0) // Refs
	expected = append(expected, 0, 0, 0, 9)
	expected = append(expected, "testvalue"...)

	serialized := cmd.Serialize()
	if !bytes.Equal(serialized, expected) {
		t.Errorf("Binary format does not match:\nGot:      %v\nExpected: %v", serialized, expected)
	}
}

// TestDeserializeCopies tests that deserialized mutations do not alias the input buffer
func TestDeserializeCopies(t *testing.T) {
	cmd := Command{Type: CommandTApply, Batch: []store.Mutation{{Op: store.OpInsert, Key: []byte("key"), Value: []byte("value")}}}
	data := cmd.Serialize()

	var out Command
	if err := out.Deserialize(data); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	for i := range data {
		data[i] = 0
	}
	if string(out.Batch[0].Key) != "key" || string(out.Batch[0].Value) != "value" {
		t.Errorf("deserialized command changed with its input: %+v", out.Batch[0])
	}
}

// TestResults tests EncodeResults and DecodeResults
func TestResults(t *testing.T) {
	results := []store.MutationResult{
		{Previous: []byte("old row")},
		{Count: -3},
		{Count: 1 << 40},
		{},
	}
	data := EncodeResults(results)

	decoded, err := DecodeResults(data)
	if err != nil {
		t.Fatalf("DecodeResults() error = %v", err)
	}
	if !reflect.DeepEqual(decoded, results) {
		t.Errorf("results mismatch:\ngot  %+v\nwant %+v", decoded, results)
	}

	if _, err := DecodeResults(data[:len(data)-1]); err == nil {
		t.Errorf("expected error for truncated results")
	}
	if _, err := DecodeResults(nil); err == nil || err.Error() != "data too short for results" {
		t.Errorf("unexpected error for empty results: %v", err)
	}
}
