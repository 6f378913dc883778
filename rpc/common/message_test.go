package common

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ValentinKolb/shmrt/lib/entityid"
	"github.com/ValentinKolb/shmrt/lib/mq"
	"github.com/ValentinKolb/shmrt/lib/nativebuf"
	"github.com/ValentinKolb/shmrt/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func owned(s string) nativebuf.Owned { return nativebuf.AllocString(s) }

func TestKVInsertRoundTrip(t *testing.T) {
	in := &KVInsert{
		KVHeader:         KVHeader{GroupID: 7, Token: 42, TxnHandle: 3},
		CF:               -1,
		SchemaVersion:    1,
		Key:              nativebuf.From([]byte{0x01, 0x02, 0x03}),
		Value:            owned("hello"),
		OverrideIfExists: true,
	}
	defer in.Free()

	payload, err := Marshal(in)
	require.NoError(t, err)
	// header + cf + schema + key + refs + value + flags
	assert.Equal(t, 24+1+4+(4+3)+(4+0)+(4+5)+1+1, len(payload))
	assert.Equal(t, in.SizeBytes(), len(payload))

	msg, err := Unmarshal(KindKVInsert, payload)
	require.NoError(t, err)
	out := msg.(*KVInsert)
	defer out.Free()

	assert.Equal(t, in.KVHeader, out.KVHeader)
	assert.Equal(t, int8(-1), out.CF)
	assert.Equal(t, uint32(1), out.SchemaVersion)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, out.Key.Bytes())
	assert.Equal(t, 3, out.Key.Len())
	assert.True(t, out.Refs.IsNil())
	assert.Equal(t, "hello", out.Value.String())
	assert.Equal(t, 5, out.Value.Len())
	assert.True(t, out.OverrideIfExists)
	assert.False(t, out.ReturnPrevious)

	// the decoded buffers are owned by the receiver, not aliases of the payload
	payload[len(payload)-3] = 'X'
	assert.Equal(t, "hello", out.Value.String())
}

// sampleMessages returns one populated message per kind.
func sampleMessages() []Message {
	id := entityid.NewGenerator(3).New()
	return []Message{
		&InvokeRequire{Source: SourceWorker, ContentType: ContentJSON, Token: 1, MessageID: id, Service: "svc.Echo", Args: []byte(`{"a":1}`),
			Session: &Session{Path: []SessionNode{{ID: id, Type: 2, Name: "org"}}, IsExternal: true, Tag: "t"}},
		&InvokeRequire{Source: SourceClient, ContentType: ContentBinary, Service: "svc.Nop"},
		&InvokeResponse{Source: SourceHost, Token: 1, MessageID: id, Error: InvokeErrServiceInnerError, ErrorMsg: "boom"},
		&KVInsert{KVHeader: KVHeader{GroupID: 1, Token: 2}, Key: owned("k"), Refs: owned("r"), Value: owned("v"), ReturnPrevious: true},
		&KVUpdate{KVHeader: KVHeader{GroupID: 1, Token: 3, TxnHandle: 9}, CF: 2, SchemaVersion: 5, Key: owned("k"), Value: owned("v2")},
		&KVDelete{KVHeader: KVHeader{Token: 4}, Key: owned("k"), Refs: owned("refs")},
		&KVGet{KVHeader: KVHeader{Token: 5}, CF: 1, Key: owned("k")},
		&KVScan{KVHeader: KVHeader{Token: 6}, BeginKey: owned("a"), EndKey: owned("z"), Skip: 2, Take: 10, Filter: nativebuf.From([]byte{1, 0, 0, 0, 1, 'a'}), ToIndexTarget: true},
		&KVAddRef{KVHeader: KVHeader{Token: 7}, TargetKey: owned("t"), FromKey: owned("f"), Diff: -2},
		&KVAlterSchema{KVHeader: KVHeader{Token: 8}, TableID: 4, Meta: owned(`{"v":2}`)},
		&KVDropTable{KVHeader: KVHeader{Token: 9}, TableID: 4},
		&KVBeginTxn{KVHeader: KVHeader{GroupID: 1, Token: 10}},
		&KVCommitTxn{KVHeader: KVHeader{Token: 11, TxnHandle: 1}},
		&KVRollbackTxn{KVHeader: KVHeader{Token: 12, TxnHandle: 1}},
		&KVCommandResponse{KVStatus: KVStatus{Token: 2, ErrorCode: store.RetCKeyExists, ErrorMsg: "exists"}, Count: 3, Result: owned("prev")},
		&KVGetResponse{KVStatus: KVStatus{Token: 5}, Value: owned("row")},
		&KVScanResponse{KVStatus: KVStatus{Token: 6}, Skipped: 2, Pairs: []KVPair{{Key: owned("a"), Value: owned("1")}, {Key: owned("b")}}},
		&KVBeginTxnResponse{KVStatus: KVStatus{Token: 10}, TxnHandle: 77},
		&GenPartitionRequest{Token: 13, TableID: 4, Flags: 0x123},
		&GenPartitionResponse{KVStatus: KVStatus{Token: 13}, PartitionID: PartitionID(5, 0x123)},
		&InvalidModelsCache{Services: []string{"a", "bc"}, Models: []uint64{1, 2, 3}},
		&MetricReport{Source: SourceWorker, PeerID: 3, Metrics: []Metric{{Name: "kv.calls", Kind: MetricCounter, Value: 12}, {Name: "lat", Kind: MetricHistogram, Value: 0.25}}},
		&DebugEvent{Session: "s1", Body: []byte(`{"seq":1}`)},
	}
}

func TestEncodedSizeAndReencode(t *testing.T) {
	seen := map[MessageKind]bool{}
	for _, msg := range sampleMessages() {
		seen[msg.Kind()] = true
		t.Run(msg.Kind().String(), func(t *testing.T) {
			defer Release(msg)

			payload, err := Marshal(msg)
			require.NoError(t, err)
			assert.Equal(t, msg.SizeBytes(), len(payload), "SizeBytes must match the encoding")

			decoded, err := Unmarshal(msg.Kind(), payload)
			require.NoError(t, err)
			defer Release(decoded)

			again, err := Marshal(decoded)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(payload, again), "decoding and encoding again must be lossless")
		})
	}
	for kind := range kindNames {
		assert.True(t, seen[kind], "no sample message for %s", kind)
	}
}

func TestInvokeSessionDecoded(t *testing.T) {
	id := entityid.NewGenerator(1).New()
	in := &InvokeRequire{Token: 9, Service: "a.b", Session: &Session{Path: []SessionNode{{ID: id, Type: 1, Name: "x"}, {Type: 2}}, Tag: "tag"}}
	payload, err := Marshal(in)
	require.NoError(t, err)

	msg, err := Unmarshal(KindInvokeRequire, payload)
	require.NoError(t, err)
	assert.Equal(t, in, msg)
}

func TestUnknownKind(t *testing.T) {
	for _, kind := range []MessageKind{0, 3, 99, 0xFF} {
		_, err := Unmarshal(kind, nil)
		assert.True(t, errors.Is(err, ErrUnknownKind), "kind %d: %v", kind, err)
		assert.False(t, kind.Valid())
	}
}

func TestDecodeErrors(t *testing.T) {
	insert := &KVInsert{Key: owned("abc"), Value: owned("hello")}
	payload, err := Marshal(insert)
	require.NoError(t, err)

	tests := []struct {
		name        string
		kind        MessageKind
		data        []byte
		expectedErr string
	}{
		{"Empty", KindKVInsert, nil, "decode kvInsert: data too short for group id"},
		{"HeaderOnly", KindKVInsert, payload[:24], "decode kvInsert: data too short for column family"},
		{"KeyLength", KindKVInsert, payload[:31], "decode kvInsert: data too short for key length"},
		{"KeyData", KindKVInsert, payload[:35], "decode kvInsert: data too short for key of length 3"},
		{"Trailing", KindKVInsert, append(append([]byte{}, payload...), 0), "decode kvInsert: 1 trailing bytes after message"},
		{"PairCount", KindKVScanResponse, hugePairCount(), "decode kvScanResponse: data too short for 4294967295 pairs"},
		{"ServiceCount", KindInvalidModelsCache, []byte{0xFF, 0xFF}, "decode invalidModelsCache: data too short for 65535 services"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.kind, tt.data)
			require.Error(t, err)
			assert.Equal(t, tt.expectedErr, err.Error())
		})
	}
}

// hugePairCount is a scan response that announces more pairs than it carries.
func hugePairCount() []byte {
	e := NewEncoder(0)
	status := KVStatus{Token: 1}
	status.encode(e)
	e.U32(0)          // skipped
	e.U32(0xFFFFFFFF) // pair count
	return e.Data()
}

func TestEncodeErrors(t *testing.T) {
	_, err := Marshal(&InvokeRequire{Service: strings.Repeat("s", 1<<16)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds the length prefix")

	_, err = Marshal(&InvalidModelsCache{Models: make([]uint64, 1<<16)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds the count prefix")
}

func TestIsResponse(t *testing.T) {
	responses := map[MessageKind]bool{
		KindInvokeResponse: true, KindKVCommandResponse: true, KindKVGetResponse: true,
		KindKVScanResponse: true, KindKVBeginTxnResponse: true, KindGenPartitionResponse: true,
	}
	for kind := range kindNames {
		assert.Equal(t, responses[kind], IsResponse(kind), kind.String())
	}
}

func TestKindJSON(t *testing.T) {
	data, err := json.Marshal(KindKVScan)
	require.NoError(t, err)
	assert.Equal(t, `"kvScan"`, string(data))

	var kind MessageKind
	require.NoError(t, json.Unmarshal(data, &kind))
	assert.Equal(t, KindKVScan, kind)

	assert.ErrorIs(t, json.Unmarshal([]byte(`"nope"`), &kind), ErrUnknownKind)
}

func TestPartitionID(t *testing.T) {
	id := PartitionID(5, 0xABCD)
	assert.Equal(t, uint64(5<<12|0xBCD), id)

	seq, flags := SplitPartitionID(id)
	assert.Equal(t, uint64(5), seq)
	assert.Equal(t, uint16(0xBCD), flags)

	assert.Less(t, PartitionID(MaxPartitionSeq, 0xFFF), uint64(1)<<44)
}

func TestKVStatus(t *testing.T) {
	var s KVStatus
	s.SetErr(nil)
	assert.NoError(t, s.Err())

	s.SetErr(store.NewError(store.RetCNotFound, "key 01 not found"))
	assert.Equal(t, store.RetCNotFound, s.ErrorCode)
	assert.Equal(t, "key 01 not found", s.ErrorMsg)
	assert.ErrorIs(t, s.Err(), store.NewError(store.RetCNotFound, ""))

	s.SetErr(errors.New("plain"))
	assert.Equal(t, store.RetCInternalError, s.ErrorCode)
}

func TestChannelConfigValidate(t *testing.T) {
	cfg := DefaultChannelConfig("test")
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.ChunkCount = 1
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.ChunkSize = 12
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Name = ""
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.ChunkCount = mq.MaxChunkCount + 1
	assert.Error(t, bad.Validate())

	assert.Equal(t, mq.DefaultMaxMessageSize, ChannelConfig{}.MaxMessageLen())
	limited := cfg
	limited.MaxMessageSize = 1024
	assert.Equal(t, 1024, limited.MaxMessageLen())
}
