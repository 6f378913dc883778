package server

import (
	"bytes"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/shmrt/lib/store"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

// txn buffers the writes of one transaction per group. Nothing reaches a
// store before Commit.
type txn struct {
	mu      sync.Mutex
	batches map[uint64][]store.Mutation
	done    bool
}

// txnTable maps handles to open transactions. Handles start at 1, 0 means
// "no transaction" on the wire.
type txnTable struct {
	next atomic.Uint64
	open *xsync.MapOf[uint64, *txn]
}

func newTxnTable() *txnTable {
	return &txnTable{open: xsync.NewMapOf[uint64, *txn]()}
}

func errInvalidTxn(handle uint64) error {
	return store.NewError(store.RetCInvalidTxn, fmt.Sprintf("transaction %d not found", handle))
}

func (t *txnTable) begin() uint64 {
	handle := t.next.Add(1)
	t.open.Store(handle, &txn{batches: make(map[uint64][]store.Mutation)})
	return handle
}

func (t *txnTable) lookup(handle uint64) (*txn, error) {
	tx, ok := t.open.Load(handle)
	if !ok {
		return nil, errInvalidTxn(handle)
	}
	return tx, nil
}

// finish removes the transaction. Only one caller wins a concurrent race.
func (t *txnTable) finish(handle uint64) (*txn, error) {
	tx, ok := t.open.LoadAndDelete(handle)
	if !ok {
		return nil, errInvalidTxn(handle)
	}
	tx.mu.Lock()
	tx.done = true
	tx.mu.Unlock()
	return tx, nil
}

func (t *txnTable) size() int { return t.open.Size() }

// buffer appends a copy of m to the batch of group.
func (tx *txn) buffer(handle, group uint64, m store.Mutation) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return errInvalidTxn(handle)
	}
	tx.batches[group] = append(tx.batches[group], cloneMutation(m))
	return nil
}

// lookupRow resolves a read against the buffered writes of group. decided is
// false when no buffered write touches the key and the store must be asked.
func (tx *txn) lookupRow(group uint64, cf int8, key []byte) (row store.Row, found, decided bool) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	batch := tx.batches[group]
	for i := len(batch) - 1; i >= 0; i-- {
		m := &batch[i]
		switch m.Op {
		case store.OpInsert, store.OpUpdate:
			if m.CF == cf && bytes.Equal(m.Key, key) {
				return store.Row{SchemaVersion: m.SchemaVersion, Refs: m.Refs, Value: m.Value}.Clone(), true, true
			}
		case store.OpDelete:
			if m.CF == cf && bytes.Equal(m.Key, key) {
				return store.Row{}, false, true
			}
		case store.OpDropTable:
			if bytes.HasPrefix(key, store.TablePrefix(m.TableID)) {
				return store.Row{}, false, true
			}
		}
	}
	return store.Row{}, false, false
}

// sortedBatches returns the touched groups in ascending order with their batches.
func (tx *txn) sortedBatches() ([]uint64, map[uint64][]store.Mutation) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	ids := make([]uint64, 0, len(tx.batches))
	for id := range tx.batches {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, tx.batches
}

func cloneMutation(m store.Mutation) store.Mutation {
	m.Key = slices.Clone(m.Key)
	m.FromKey = slices.Clone(m.FromKey)
	m.Refs = slices.Clone(m.Refs)
	m.Value = slices.Clone(m.Value)
	return m
}
