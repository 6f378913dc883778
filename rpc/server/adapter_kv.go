package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/shmrt/lib/nativebuf"
	"github.com/ValentinKolb/shmrt/lib/store"
	"github.com/ValentinKolb/shmrt/lib/store/filter"
	"github.com/ValentinKolb/shmrt/rpc/common"
)

// newKVAdapter returns the adapter serving KV and transaction requests on the
// given groups.
func newKVAdapter(groups *groupRegistry, txns *txnTable) IHostAdapter {
	return &kvAdapterImpl{groups: groups, txns: txns}
}

type kvAdapterImpl struct {
	groups *groupRegistry
	txns   *txnTable
}

func (a *kvAdapterImpl) Kinds() []common.MessageKind {
	return []common.MessageKind{
		common.KindKVInsert, common.KindKVUpdate, common.KindKVDelete, common.KindKVAddRef,
		common.KindKVAlterSchema, common.KindKVDropTable, common.KindKVGet, common.KindKVScan,
		common.KindKVBeginTxn, common.KindKVCommitTxn, common.KindKVRollbackTxn,
	}
}

func (a *kvAdapterImpl) Handle(_ context.Context, req common.Message) common.Message {
	switch m := req.(type) {
	case *common.KVGet:
		return a.get(m)
	case *common.KVScan:
		return a.scan(m)
	case *common.KVBeginTxn:
		return a.begin(m)
	case *common.KVCommitTxn:
		return a.commit(m)
	case *common.KVRollbackTxn:
		return a.rollback(m)
	case common.KVWrite:
		return a.write(m)
	default:
		Logger.Errorf("kv adapter: unsupported message type %s", req.Kind())
		return nil
	}
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

func (a *kvAdapterImpl) write(m common.KVWrite) common.Message {
	resp := &common.KVCommandResponse{}
	resp.SetToken(m.GetToken())
	h := m.Header()

	if h.TxnHandle != 0 {
		tx, err := a.txns.lookup(h.TxnHandle)
		if err == nil {
			err = tx.buffer(h.TxnHandle, h.GroupID, m.Mutation())
		}
		resp.SetErr(err)
		return resp
	}

	s, err := a.groups.get(h.GroupID)
	if err != nil {
		resp.SetErr(err)
		return resp
	}
	results, err := s.Apply([]store.Mutation{m.Mutation()})
	if err != nil {
		resp.SetErr(err)
		return resp
	}
	if len(results) == 1 {
		resp.Count = results[0].Count
		resp.Result = nativebuf.From(results[0].Previous)
	}
	return resp
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

func (a *kvAdapterImpl) get(m *common.KVGet) common.Message {
	resp := &common.KVGetResponse{}
	resp.SetToken(m.GetToken())

	row, found, err := a.readRow(&m.KVHeader, m.CF, m.Key.Bytes())
	if err != nil {
		resp.SetErr(err)
		return resp
	}
	if found {
		resp.Value = nativebuf.From(row.Encode())
	}
	return resp
}

// readRow reads through the transaction buffer if the header names one.
func (a *kvAdapterImpl) readRow(h *common.KVHeader, cf int8, key []byte) (store.Row, bool, error) {
	if h.TxnHandle != 0 {
		tx, err := a.txns.lookup(h.TxnHandle)
		if err != nil {
			return store.Row{}, false, err
		}
		if row, found, decided := tx.lookupRow(h.GroupID, cf, key); decided {
			return row, found, nil
		}
	}
	s, err := a.groups.get(h.GroupID)
	if err != nil {
		return store.Row{}, false, err
	}
	return s.Get(cf, key)
}

func (a *kvAdapterImpl) scan(m *common.KVScan) common.Message {
	resp := &common.KVScanResponse{}
	resp.SetToken(m.GetToken())

	res, err := a.execScan(m)
	if err != nil {
		resp.SetErr(err)
		return resp
	}
	resp.Skipped = res.Skipped
	resp.Pairs = make([]common.KVPair, 0, len(res.Pairs))
	for _, p := range res.Pairs {
		resp.Pairs = append(resp.Pairs, common.KVPair{
			Key:   nativebuf.From(p.Key),
			Value: nativebuf.From(p.Row.Encode()),
		})
	}
	return resp
}

// execScan reads committed rows only, buffered writes of a transaction are
// not merged into scans.
func (a *kvAdapterImpl) execScan(m *common.KVScan) (store.ScanResult, error) {
	if m.TxnHandle != 0 {
		if _, err := a.txns.lookup(m.TxnHandle); err != nil {
			return store.ScanResult{}, err
		}
	}
	s, err := a.groups.get(m.GroupID)
	if err != nil {
		return store.ScanResult{}, err
	}

	q := store.ScanQuery{
		CF:            m.CF,
		Begin:         m.BeginKey.Bytes(),
		End:           m.EndKey.Bytes(),
		Skip:          m.Skip,
		Take:          m.Take,
		ToIndexTarget: m.ToIndexTarget,
	}
	if m.Filter.Len() > 0 {
		q.Filter, err = filter.Decode(m.Filter.Bytes())
		if err != nil {
			return store.ScanResult{}, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("invalid filter: %v", err))
		}
	}
	return s.Scan(q)
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

func (a *kvAdapterImpl) begin(m *common.KVBeginTxn) common.Message {
	resp := &common.KVBeginTxnResponse{}
	resp.SetToken(m.GetToken())
	if _, err := a.groups.get(m.GroupID); err != nil {
		resp.SetErr(err)
		return resp
	}
	resp.TxnHandle = a.txns.begin()
	return resp
}

// commit applies the batch of each touched group atomically, groups in
// ascending id order. A failing group stops the commit, groups applied before
// it stay applied. Count is the number of applied mutations.
func (a *kvAdapterImpl) commit(m *common.KVCommitTxn) common.Message {
	resp := &common.KVCommandResponse{}
	resp.SetToken(m.GetToken())

	tx, err := a.txns.finish(m.TxnHandle)
	if err != nil {
		resp.SetErr(err)
		return resp
	}

	ids, batches := tx.sortedBatches()
	for _, id := range ids {
		s, err := a.groups.get(id)
		if err == nil {
			_, err = s.Apply(batches[id])
		}
		if err != nil {
			if resp.Count > 0 {
				Logger.Warningf("transaction %d partially committed: group %d failed after %d mutations", m.TxnHandle, id, resp.Count)
			}
			resp.SetErr(err)
			return resp
		}
		resp.Count += int64(len(batches[id]))
	}
	return resp
}

func (a *kvAdapterImpl) rollback(m *common.KVRollbackTxn) common.Message {
	resp := &common.KVCommandResponse{}
	resp.SetToken(m.GetToken())
	_, err := a.txns.finish(m.TxnHandle)
	resp.SetErr(err)
	return resp
}
