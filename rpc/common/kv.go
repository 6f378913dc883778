package common

import (
	"fmt"

	"github.com/ValentinKolb/shmrt/lib/nativebuf"
	"github.com/ValentinKolb/shmrt/lib/store"
)

// Ownership of KV buffers:
//
// The sender allocates the nativebuf.Owned fields of a request and frees them
// after Marshal returned. Unmarshal allocates fresh Owned buffers on the
// receiving side, the receiver owns them and frees them with Free (or Release)
// once the store call returned. The same holds for responses in the opposite
// direction.

// --------------------------------------------------------------------------
// Common request and response headers
// --------------------------------------------------------------------------

// KVHeader is shared by all KV requests. TxnHandle 0 means the request is not
// part of a transaction.
//
// Layout: group id u64, token u64, txn handle u64.
type KVHeader struct {
	GroupID   uint64
	Token     uint64
	TxnHandle uint64
}

const kvHeaderSize = 8 + 8 + 8

func (h *KVHeader) GetToken() uint64      { return h.Token }
func (h *KVHeader) SetToken(token uint64) { h.Token = token }

func (h *KVHeader) encode(e *Encoder) {
	e.U64(h.GroupID)
	e.U64(h.Token)
	e.U64(h.TxnHandle)
}

func (h *KVHeader) decode(d *Decoder) {
	h.GroupID = d.U64("group id")
	h.Token = d.U64("token")
	h.TxnHandle = d.U64("txn handle")
}

// KVStatus is shared by all KV responses. ErrorCode is a store.RetCode.
//
// Layout: token u64, error code u64, error message (string).
type KVStatus struct {
	Token     uint64
	ErrorCode store.RetCode
	ErrorMsg  string
}

func (s *KVStatus) GetToken() uint64      { return s.Token }
func (s *KVStatus) SetToken(token uint64) { s.Token = token }

// SetErr stores the code and message of err (nil means success).
func (s *KVStatus) SetErr(err error) {
	s.ErrorCode = store.CodeOf(err)
	s.ErrorMsg = ""
	if err != nil {
		s.ErrorMsg = err.Error()
		if se, ok := err.(*store.Error); ok {
			s.ErrorMsg = se.Msg
		}
	}
}

// Err returns the carried error as *store.Error, or nil on success.
func (s *KVStatus) Err() error {
	if s.ErrorCode == store.RetCSuccess {
		return nil
	}
	return store.NewError(s.ErrorCode, s.ErrorMsg)
}

func (s *KVStatus) sizeBytes() int { return 8 + 8 + sizeString(s.ErrorMsg) }

func (s *KVStatus) encode(e *Encoder) {
	e.U64(s.Token)
	e.U64(uint64(s.ErrorCode))
	e.String(s.ErrorMsg)
}

func (s *KVStatus) decode(d *Decoder) {
	s.Token = d.U64("token")
	s.ErrorCode = store.RetCode(d.U64("error code"))
	s.ErrorMsg = d.String("error message")
}

// --------------------------------------------------------------------------
// Write requests
// --------------------------------------------------------------------------

// KVInsert inserts a row. Layout: header, cf i8, schema version u32, key, refs,
// value (bytes), override u8, return previous u8.
type KVInsert struct {
	KVHeader
	CF               int8
	SchemaVersion    uint32
	Key              nativebuf.Owned
	Refs             nativebuf.Owned
	Value            nativebuf.Owned
	OverrideIfExists bool
	ReturnPrevious   bool
}

func (m *KVInsert) Kind() MessageKind { return KindKVInsert }
func (m *KVInsert) Free()             { nativebuf.FreeAll(m.Key, m.Refs, m.Value) }

func (m *KVInsert) SizeBytes() int {
	return kvHeaderSize + 1 + 4 + sizeOwned(m.Key) + sizeOwned(m.Refs) + sizeOwned(m.Value) + 1 + 1
}

func (m *KVInsert) Encode(e *Encoder) {
	m.KVHeader.encode(e)
	e.I8(m.CF)
	e.U32(m.SchemaVersion)
	e.Owned(m.Key)
	e.Owned(m.Refs)
	e.Owned(m.Value)
	e.Bool(m.OverrideIfExists)
	e.Bool(m.ReturnPrevious)
}

func (m *KVInsert) Decode(d *Decoder) error {
	m.KVHeader.decode(d)
	m.CF = d.I8("column family")
	m.SchemaVersion = d.U32("schema version")
	m.Key = d.Owned("key")
	m.Refs = d.Owned("refs")
	m.Value = d.Owned("value")
	m.OverrideIfExists = d.Bool("override flag")
	m.ReturnPrevious = d.Bool("return previous flag")
	return d.Err()
}

// Mutation converts the request into a store mutation. The mutation aliases the
// owned buffers and must not outlive them.
func (m *KVInsert) Mutation() store.Mutation {
	return store.Mutation{
		Op: store.OpInsert, CF: m.CF, SchemaVersion: m.SchemaVersion,
		Key: m.Key.Bytes(), Refs: m.Refs.Bytes(), Value: m.Value.Bytes(),
		Override: m.OverrideIfExists, ReturnPrevious: m.ReturnPrevious,
	}
}

// KVUpdate replaces an existing row. Layout: header, cf i8, schema version u32,
// key, refs, value (bytes), return previous u8.
type KVUpdate struct {
	KVHeader
	CF             int8
	SchemaVersion  uint32
	Key            nativebuf.Owned
	Refs           nativebuf.Owned
	Value          nativebuf.Owned
	ReturnPrevious bool
}

func (m *KVUpdate) Kind() MessageKind { return KindKVUpdate }
func (m *KVUpdate) Free()             { nativebuf.FreeAll(m.Key, m.Refs, m.Value) }

func (m *KVUpdate) SizeBytes() int {
	return kvHeaderSize + 1 + 4 + sizeOwned(m.Key) + sizeOwned(m.Refs) + sizeOwned(m.Value) + 1
}

func (m *KVUpdate) Encode(e *Encoder) {
	m.KVHeader.encode(e)
	e.I8(m.CF)
	e.U32(m.SchemaVersion)
	e.Owned(m.Key)
	e.Owned(m.Refs)
	e.Owned(m.Value)
	e.Bool(m.ReturnPrevious)
}

func (m *KVUpdate) Decode(d *Decoder) error {
	m.KVHeader.decode(d)
	m.CF = d.I8("column family")
	m.SchemaVersion = d.U32("schema version")
	m.Key = d.Owned("key")
	m.Refs = d.Owned("refs")
	m.Value = d.Owned("value")
	m.ReturnPrevious = d.Bool("return previous flag")
	return d.Err()
}

func (m *KVUpdate) Mutation() store.Mutation {
	return store.Mutation{
		Op: store.OpUpdate, CF: m.CF, SchemaVersion: m.SchemaVersion,
		Key: m.Key.Bytes(), Refs: m.Refs.Bytes(), Value: m.Value.Bytes(),
		ReturnPrevious: m.ReturnPrevious,
	}
}

// KVDelete deletes a row. Refs names the references the row held, so the caller
// can release them in the same transaction. Layout: header, cf i8, key, refs
// (bytes), return previous u8.
type KVDelete struct {
	KVHeader
	CF             int8
	Key            nativebuf.Owned
	Refs           nativebuf.Owned
	ReturnPrevious bool
}

func (m *KVDelete) Kind() MessageKind { return KindKVDelete }
func (m *KVDelete) Free()             { nativebuf.FreeAll(m.Key, m.Refs) }

func (m *KVDelete) SizeBytes() int {
	return kvHeaderSize + 1 + sizeOwned(m.Key) + sizeOwned(m.Refs) + 1
}

func (m *KVDelete) Encode(e *Encoder) {
	m.KVHeader.encode(e)
	e.I8(m.CF)
	e.Owned(m.Key)
	e.Owned(m.Refs)
	e.Bool(m.ReturnPrevious)
}

func (m *KVDelete) Decode(d *Decoder) error {
	m.KVHeader.decode(d)
	m.CF = d.I8("column family")
	m.Key = d.Owned("key")
	m.Refs = d.Owned("refs")
	m.ReturnPrevious = d.Bool("return previous flag")
	return d.Err()
}

func (m *KVDelete) Mutation() store.Mutation {
	return store.Mutation{
		Op: store.OpDelete, CF: m.CF, Key: m.Key.Bytes(), Refs: m.Refs.Bytes(),
		ReturnPrevious: m.ReturnPrevious,
	}
}

// KVAddRef adds Diff to the reference counter of (TargetKey, FromKey).
// Layout: header, target key, from key (bytes), diff i32.
type KVAddRef struct {
	KVHeader
	TargetKey nativebuf.Owned
	FromKey   nativebuf.Owned
	Diff      int32
}

func (m *KVAddRef) Kind() MessageKind { return KindKVAddRef }
func (m *KVAddRef) Free()             { nativebuf.FreeAll(m.TargetKey, m.FromKey) }

func (m *KVAddRef) SizeBytes() int {
	return kvHeaderSize + sizeOwned(m.TargetKey) + sizeOwned(m.FromKey) + 4
}

func (m *KVAddRef) Encode(e *Encoder) {
	m.KVHeader.encode(e)
	e.Owned(m.TargetKey)
	e.Owned(m.FromKey)
	e.I32(m.Diff)
}

func (m *KVAddRef) Decode(d *Decoder) error {
	m.KVHeader.decode(d)
	m.TargetKey = d.Owned("target key")
	m.FromKey = d.Owned("from key")
	m.Diff = d.I32("diff")
	return d.Err()
}

func (m *KVAddRef) Mutation() store.Mutation {
	return store.Mutation{Op: store.OpAddRef, Key: m.TargetKey.Bytes(), FromKey: m.FromKey.Bytes(), Diff: m.Diff}
}

// KVAlterSchema stores Meta as schema of TableID. Layout: header, table id u32, meta (bytes).
type KVAlterSchema struct {
	KVHeader
	TableID uint32
	Meta    nativebuf.Owned
}

func (m *KVAlterSchema) Kind() MessageKind { return KindKVAlterSchema }
func (m *KVAlterSchema) Free()             { m.Meta.Free() }
func (m *KVAlterSchema) SizeBytes() int    { return kvHeaderSize + 4 + sizeOwned(m.Meta) }

func (m *KVAlterSchema) Encode(e *Encoder) {
	m.KVHeader.encode(e)
	e.U32(m.TableID)
	e.Owned(m.Meta)
}

func (m *KVAlterSchema) Decode(d *Decoder) error {
	m.KVHeader.decode(d)
	m.TableID = d.U32("table id")
	m.Meta = d.Owned("meta")
	return d.Err()
}

func (m *KVAlterSchema) Mutation() store.Mutation {
	return store.Mutation{Op: store.OpAlterSchema, TableID: m.TableID, Value: m.Meta.Bytes()}
}

// KVDropTable removes all rows of TableID. Layout: header, table id u32.
type KVDropTable struct {
	KVHeader
	TableID uint32
}

func (m *KVDropTable) Kind() MessageKind { return KindKVDropTable }
func (m *KVDropTable) SizeBytes() int    { return kvHeaderSize + 4 }

func (m *KVDropTable) Encode(e *Encoder) {
	m.KVHeader.encode(e)
	e.U32(m.TableID)
}

func (m *KVDropTable) Decode(d *Decoder) error {
	m.KVHeader.decode(d)
	m.TableID = d.U32("table id")
	return d.Err()
}

func (m *KVDropTable) Mutation() store.Mutation {
	return store.Mutation{Op: store.OpDropTable, TableID: m.TableID}
}

// KVWrite is implemented by every KV request that maps to a single mutation.
type KVWrite interface {
	Correlated
	Header() *KVHeader
	Mutation() store.Mutation
}

func (h *KVHeader) Header() *KVHeader { return h }

// --------------------------------------------------------------------------
// Read requests
// --------------------------------------------------------------------------

// KVGet reads one row. Layout: header, cf i8, key (bytes).
type KVGet struct {
	KVHeader
	CF  int8
	Key nativebuf.Owned
}

func (m *KVGet) Kind() MessageKind { return KindKVGet }
func (m *KVGet) Free()             { m.Key.Free() }
func (m *KVGet) SizeBytes() int    { return kvHeaderSize + 1 + sizeOwned(m.Key) }

func (m *KVGet) Encode(e *Encoder) {
	m.KVHeader.encode(e)
	e.I8(m.CF)
	e.Owned(m.Key)
}

func (m *KVGet) Decode(d *Decoder) error {
	m.KVHeader.decode(d)
	m.CF = d.I8("column family")
	m.Key = d.Owned("key")
	return d.Err()
}

// KVScan reads a key range. Filter is an encoded filter expression (empty for none).
// Layout: header, cf i8, begin key, end key (bytes), skip u32, take u32,
// filter (bytes), to index target u8.
type KVScan struct {
	KVHeader
	CF            int8
	BeginKey      nativebuf.Owned
	EndKey        nativebuf.Owned
	Skip          uint32
	Take          uint32
	Filter        nativebuf.Owned
	ToIndexTarget bool
}

func (m *KVScan) Kind() MessageKind { return KindKVScan }
func (m *KVScan) Free()             { nativebuf.FreeAll(m.BeginKey, m.EndKey, m.Filter) }

func (m *KVScan) SizeBytes() int {
	return kvHeaderSize + 1 + sizeOwned(m.BeginKey) + sizeOwned(m.EndKey) + 4 + 4 + sizeOwned(m.Filter) + 1
}

func (m *KVScan) Encode(e *Encoder) {
	m.KVHeader.encode(e)
	e.I8(m.CF)
	e.Owned(m.BeginKey)
	e.Owned(m.EndKey)
	e.U32(m.Skip)
	e.U32(m.Take)
	e.Owned(m.Filter)
	e.Bool(m.ToIndexTarget)
}

func (m *KVScan) Decode(d *Decoder) error {
	m.KVHeader.decode(d)
	m.CF = d.I8("column family")
	m.BeginKey = d.Owned("begin key")
	m.EndKey = d.Owned("end key")
	m.Skip = d.U32("skip")
	m.Take = d.U32("take")
	m.Filter = d.Owned("filter")
	m.ToIndexTarget = d.Bool("index target flag")
	return d.Err()
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

// KVBeginTxn opens a transaction. GroupID names the group the transaction starts
// on, later requests of the transaction may address other groups. Layout: header.
type KVBeginTxn struct{ KVHeader }

func (m *KVBeginTxn) Kind() MessageKind { return KindKVBeginTxn }
func (m *KVBeginTxn) SizeBytes() int    { return kvHeaderSize }
func (m *KVBeginTxn) Encode(e *Encoder) { m.KVHeader.encode(e) }

func (m *KVBeginTxn) Decode(d *Decoder) error {
	m.KVHeader.decode(d)
	return d.Err()
}

// KVCommitTxn commits TxnHandle. Layout: header.
type KVCommitTxn struct{ KVHeader }

func (m *KVCommitTxn) Kind() MessageKind { return KindKVCommitTxn }
func (m *KVCommitTxn) SizeBytes() int    { return kvHeaderSize }
func (m *KVCommitTxn) Encode(e *Encoder) { m.KVHeader.encode(e) }

func (m *KVCommitTxn) Decode(d *Decoder) error {
	m.KVHeader.decode(d)
	return d.Err()
}

// KVRollbackTxn discards TxnHandle. Layout: header.
type KVRollbackTxn struct{ KVHeader }

func (m *KVRollbackTxn) Kind() MessageKind { return KindKVRollbackTxn }
func (m *KVRollbackTxn) SizeBytes() int    { return kvHeaderSize }
func (m *KVRollbackTxn) Encode(e *Encoder) { m.KVHeader.encode(e) }

func (m *KVRollbackTxn) Decode(d *Decoder) error {
	m.KVHeader.decode(d)
	return d.Err()
}

// --------------------------------------------------------------------------
// Responses
// --------------------------------------------------------------------------

// KVCommandResponse answers all write requests and Commit/Rollback. Result holds the
// encoded previous row if it was requested and existed. Count is the AddRef total
// or the number of rows removed by DropTable.
// Layout: status, count i64, result (bytes).
type KVCommandResponse struct {
	KVStatus
	Count  int64
	Result nativebuf.Owned
}

func (m *KVCommandResponse) Kind() MessageKind { return KindKVCommandResponse }
func (m *KVCommandResponse) Free()             { m.Result.Free() }
func (m *KVCommandResponse) SizeBytes() int    { return m.KVStatus.sizeBytes() + 8 + sizeOwned(m.Result) }

func (m *KVCommandResponse) Encode(e *Encoder) {
	m.KVStatus.encode(e)
	e.I64(m.Count)
	e.Owned(m.Result)
}

func (m *KVCommandResponse) Decode(d *Decoder) error {
	m.KVStatus.decode(d)
	m.Count = d.I64("count")
	m.Result = d.Owned("result")
	return d.Err()
}

// KVGetResponse answers KVGet. Value is the encoded row (see store.DecodeRow),
// empty if the key was not found. Layout: status, value (bytes).
type KVGetResponse struct {
	KVStatus
	Value nativebuf.Owned
}

func (m *KVGetResponse) Kind() MessageKind { return KindKVGetResponse }
func (m *KVGetResponse) Free()             { m.Value.Free() }
func (m *KVGetResponse) SizeBytes() int    { return m.KVStatus.sizeBytes() + sizeOwned(m.Value) }

func (m *KVGetResponse) Encode(e *Encoder) {
	m.KVStatus.encode(e)
	e.Owned(m.Value)
}

func (m *KVGetResponse) Decode(d *Decoder) error {
	m.KVStatus.decode(d)
	m.Value = d.Owned("value")
	return d.Err()
}

// KVPair is one scan result. Value is the encoded row.
type KVPair struct {
	Key   nativebuf.Owned
	Value nativebuf.Owned
}

// KVScanResponse answers KVScan.
// Layout: status, skipped u32, pair count u32, pairs (key, value as bytes).
type KVScanResponse struct {
	KVStatus
	Skipped uint32
	Pairs   []KVPair
}

func (m *KVScanResponse) Kind() MessageKind { return KindKVScanResponse }

func (m *KVScanResponse) Free() {
	for _, p := range m.Pairs {
		nativebuf.FreeAll(p.Key, p.Value)
	}
}

func (m *KVScanResponse) SizeBytes() int {
	size := m.KVStatus.sizeBytes() + 4 + 4
	for _, p := range m.Pairs {
		size += sizeOwned(p.Key) + sizeOwned(p.Value)
	}
	return size
}

func (m *KVScanResponse) Encode(e *Encoder) {
	m.KVStatus.encode(e)
	e.U32(m.Skipped)
	e.U32(uint32(len(m.Pairs)))
	for _, p := range m.Pairs {
		e.Owned(p.Key)
		e.Owned(p.Value)
	}
}

func (m *KVScanResponse) Decode(d *Decoder) error {
	m.KVStatus.decode(d)
	m.Skipped = d.U32("skipped")
	n := d.U32("pair count")
	if d.Err() != nil {
		return d.Err()
	}
	if uint64(n) > uint64(d.Remaining()/8) {
		return fmt.Errorf("data too short for %d pairs", n)
	}
	m.Pairs = make([]KVPair, 0, n)
	for i := uint32(0); i < n; i++ {
		key := d.Owned("pair key")
		value := d.Owned("pair value")
		m.Pairs = append(m.Pairs, KVPair{Key: key, Value: value})
		if d.Err() != nil {
			return d.Err()
		}
	}
	return nil
}

// KVBeginTxnResponse answers KVBeginTxn. Layout: status, txn handle u64.
type KVBeginTxnResponse struct {
	KVStatus
	TxnHandle uint64
}

func (m *KVBeginTxnResponse) Kind() MessageKind { return KindKVBeginTxnResponse }
func (m *KVBeginTxnResponse) SizeBytes() int    { return m.KVStatus.sizeBytes() + 8 }

func (m *KVBeginTxnResponse) Encode(e *Encoder) {
	m.KVStatus.encode(e)
	e.U64(m.TxnHandle)
}

func (m *KVBeginTxnResponse) Decode(d *Decoder) error {
	m.KVStatus.decode(d)
	m.TxnHandle = d.U64("txn handle")
	return d.Err()
}
