package client

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/shmrt/lib/nativebuf"
	"github.com/ValentinKolb/shmrt/lib/store"
	"github.com/ValentinKolb/shmrt/lib/store/filter"
	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/transport"
	"github.com/rcrowley/go-metrics"
)

// WriteOptions modify Insert, Update and Delete.
type WriteOptions struct {
	// Override lets Insert replace an existing row
	Override bool
	// ReturnPrevious returns the row that was replaced or deleted
	ReturnPrevious bool
}

// WriteResult is the outcome of a write. Inside a transaction writes are only
// buffered and the result stays empty.
type WriteResult struct {
	Count    int64      // AddRef: new total, DropTable: removed rows
	Previous *store.Row // set if requested and the row existed
}

// --------------------------------------------------------------------------
// Operations shared by the client and transactions
// --------------------------------------------------------------------------

// kvOps issues KV requests, inside a transaction if txn is not 0.
type kvOps struct {
	*rpcClientAdapter
	txn  uint64
	done *atomic.Bool
}

func (o kvOps) header(group uint64) (common.KVHeader, error) {
	if o.done != nil && o.done.Load() {
		return common.KVHeader{}, store.NewError(store.RetCInvalidTxn, fmt.Sprintf("transaction %d already finished", o.txn))
	}
	return common.KVHeader{GroupID: group, TxnHandle: o.txn}, nil
}

// command sends a write request and converts the KVCommandResponse.
func (o kvOps) command(ctx context.Context, req common.KVWrite) (WriteResult, error) {
	defer common.Release(req)
	resp, err := invokeRPCRequest[*common.KVCommandResponse](ctx, o.rpcClientAdapter, req)
	if err != nil {
		return WriteResult{}, err
	}
	defer resp.Free()
	if err := resp.Err(); err != nil {
		return WriteResult{}, err
	}

	res := WriteResult{Count: resp.Count}
	if resp.Result.Len() > 0 {
		row, err := store.DecodeRow(resp.Result.Bytes())
		if err != nil {
			return WriteResult{}, fmt.Errorf("decode previous row: %w", err)
		}
		row = row.Clone()
		res.Previous = &row
	}
	return res, nil
}

// Insert writes a new row, see WriteOptions.
func (o kvOps) Insert(ctx context.Context, group uint64, cf int8, key []byte, row store.Row, opts WriteOptions) (WriteResult, error) {
	h, err := o.header(group)
	if err != nil {
		return WriteResult{}, err
	}
	return o.command(ctx, &common.KVInsert{
		KVHeader:         h,
		CF:               cf,
		SchemaVersion:    row.SchemaVersion,
		Key:              nativebuf.From(key),
		Refs:             nativebuf.From(row.Refs),
		Value:            nativebuf.From(row.Value),
		OverrideIfExists: opts.Override,
		ReturnPrevious:   opts.ReturnPrevious,
	})
}

// Update replaces an existing row.
func (o kvOps) Update(ctx context.Context, group uint64, cf int8, key []byte, row store.Row, opts WriteOptions) (WriteResult, error) {
	h, err := o.header(group)
	if err != nil {
		return WriteResult{}, err
	}
	return o.command(ctx, &common.KVUpdate{
		KVHeader:       h,
		CF:             cf,
		SchemaVersion:  row.SchemaVersion,
		Key:            nativebuf.From(key),
		Refs:           nativebuf.From(row.Refs),
		Value:          nativebuf.From(row.Value),
		ReturnPrevious: opts.ReturnPrevious,
	})
}

// Delete removes an existing row.
func (o kvOps) Delete(ctx context.Context, group uint64, cf int8, key []byte, opts WriteOptions) (WriteResult, error) {
	h, err := o.header(group)
	if err != nil {
		return WriteResult{}, err
	}
	return o.command(ctx, &common.KVDelete{
		KVHeader:       h,
		CF:             cf,
		Key:            nativebuf.From(key),
		ReturnPrevious: opts.ReturnPrevious,
	})
}

// AddRef adds diff to the reference counter of (target, from) and returns the
// new total.
func (o kvOps) AddRef(ctx context.Context, group uint64, target, from []byte, diff int32) (int64, error) {
	h, err := o.header(group)
	if err != nil {
		return 0, err
	}
	res, err := o.command(ctx, &common.KVAddRef{
		KVHeader:  h,
		TargetKey: nativebuf.From(target),
		FromKey:   nativebuf.From(from),
		Diff:      diff,
	})
	return res.Count, err
}

// AlterSchema stores the schema metadata of a table.
func (o kvOps) AlterSchema(ctx context.Context, group uint64, tableID uint32, meta []byte) error {
	h, err := o.header(group)
	if err != nil {
		return err
	}
	_, err = o.command(ctx, &common.KVAlterSchema{KVHeader: h, TableID: tableID, Meta: nativebuf.From(meta)})
	return err
}

// DropTable removes every row of a table and returns the number of removed rows.
func (o kvOps) DropTable(ctx context.Context, group uint64, tableID uint32) (int64, error) {
	h, err := o.header(group)
	if err != nil {
		return 0, err
	}
	res, err := o.command(ctx, &common.KVDropTable{KVHeader: h, TableID: tableID})
	return res.Count, err
}

// Get reads one row. The boolean return value indicates whether the key was found.
func (o kvOps) Get(ctx context.Context, group uint64, cf int8, key []byte) (store.Row, bool, error) {
	h, err := o.header(group)
	if err != nil {
		return store.Row{}, false, err
	}
	req := &common.KVGet{KVHeader: h, CF: cf, Key: nativebuf.From(key)}
	defer req.Free()

	resp, err := invokeRPCRequest[*common.KVGetResponse](ctx, o.rpcClientAdapter, req)
	if err != nil {
		return store.Row{}, false, err
	}
	defer resp.Free()
	if err := resp.Err(); err != nil {
		return store.Row{}, false, err
	}
	if resp.Value.Len() == 0 {
		return store.Row{}, false, nil
	}
	row, err := store.DecodeRow(resp.Value.Bytes())
	if err != nil {
		return store.Row{}, false, fmt.Errorf("decode row: %w", err)
	}
	return row.Clone(), true, nil
}

// Scan reads a key range, see store.ScanQuery.
func (o kvOps) Scan(ctx context.Context, group uint64, q store.ScanQuery) (store.ScanResult, error) {
	h, err := o.header(group)
	if err != nil {
		return store.ScanResult{}, err
	}
	req := &common.KVScan{
		KVHeader:      h,
		CF:            q.CF,
		BeginKey:      nativebuf.From(q.Begin),
		EndKey:        nativebuf.From(q.End),
		Skip:          q.Skip,
		Take:          q.Take,
		ToIndexTarget: q.ToIndexTarget,
	}
	if q.Filter != nil {
		req.Filter = nativebuf.From(filter.Encode(q.Filter))
	}
	defer req.Free()

	resp, err := invokeRPCRequest[*common.KVScanResponse](ctx, o.rpcClientAdapter, req)
	if err != nil {
		return store.ScanResult{}, err
	}
	defer resp.Free()
	if err := resp.Err(); err != nil {
		return store.ScanResult{}, err
	}

	res := store.ScanResult{Skipped: resp.Skipped, Pairs: make([]store.Pair, 0, len(resp.Pairs))}
	for _, p := range resp.Pairs {
		row, err := store.DecodeRow(p.Value.Bytes())
		if err != nil {
			return store.ScanResult{}, fmt.Errorf("decode row of %x: %w", p.Key.Bytes(), err)
		}
		res.Pairs = append(res.Pairs, store.Pair{Key: p.Key.Copy(), Row: row.Clone()})
	}
	return res, nil
}

// --------------------------------------------------------------------------
// KV client
// --------------------------------------------------------------------------

// KVClient issues KV requests to the host. Store failures are returned as
// *store.Error, channel failures as transport errors.
type KVClient struct {
	kvOps
}

// NewKVClient creates a KV client on a channel. registry may be nil, calls
// are then not measured.
func NewKVClient(channel transport.IChannel, registry metrics.Registry) *KVClient {
	return &KVClient{kvOps{rpcClientAdapter: &rpcClientAdapter{channel: channel, registry: registry}}}
}

// Begin opens a transaction on group.
func (c *KVClient) Begin(ctx context.Context, group uint64) (*Txn, error) {
	req := &common.KVBeginTxn{KVHeader: common.KVHeader{GroupID: group}}
	resp, err := invokeRPCRequest[*common.KVBeginTxnResponse](ctx, c.rpcClientAdapter, req)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return &Txn{kvOps{rpcClientAdapter: c.rpcClientAdapter, txn: resp.TxnHandle, done: &atomic.Bool{}}}, nil
}

// GenPartition returns a fresh partition id of a table, see common.PartitionID.
func (c *KVClient) GenPartition(ctx context.Context, tableID uint32, flags uint16) (uint64, error) {
	req := &common.GenPartitionRequest{TableID: tableID, Flags: flags}
	resp, err := invokeRPCRequest[*common.GenPartitionResponse](ctx, c.rpcClientAdapter, req)
	if err != nil {
		return 0, err
	}
	if err := resp.Err(); err != nil {
		return 0, err
	}
	return resp.PartitionID, nil
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

// Txn is an open transaction. Writes are buffered on the host until Commit,
// Get observes them. After Commit or Rollback every operation fails with
// RetCInvalidTxn.
type Txn struct {
	kvOps
}

// Handle returns the transaction handle.
func (t *Txn) Handle() uint64 { return t.txn }

// Commit applies the buffered writes and returns their number.
func (t *Txn) Commit(ctx context.Context) (int64, error) {
	if !t.done.CompareAndSwap(false, true) {
		return 0, store.NewError(store.RetCInvalidTxn, fmt.Sprintf("transaction %d already finished", t.txn))
	}
	req := &common.KVCommitTxn{KVHeader: common.KVHeader{TxnHandle: t.txn}}
	resp, err := invokeRPCRequest[*common.KVCommandResponse](ctx, t.rpcClientAdapter, req)
	if err != nil {
		return 0, err
	}
	defer resp.Free()
	return resp.Count, resp.Err()
}

// Rollback discards the buffered writes.
func (t *Txn) Rollback(ctx context.Context) error {
	if !t.done.CompareAndSwap(false, true) {
		return store.NewError(store.RetCInvalidTxn, fmt.Sprintf("transaction %d already finished", t.txn))
	}
	req := &common.KVRollbackTxn{KVHeader: common.KVHeader{TxnHandle: t.txn}}
	resp, err := invokeRPCRequest[*common.KVCommandResponse](ctx, t.rpcClientAdapter, req)
	if err != nil {
		return err
	}
	defer resp.Free()
	return resp.Err()
}
