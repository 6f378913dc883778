package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/ValentinKolb/shmrt/lib/db"
)

// --------------------------------------------------------------------------
// Shared execution of mutations and queries (used by all IStore implementations)
// --------------------------------------------------------------------------

// ApplyBatch executes batch against w. It stops at the first failing mutation and
// returns its *Error; the caller must then discard all writes (db.KVDB.Update does
// this when the update function returns an error).
func ApplyBatch(w db.Writer, batch []Mutation) ([]MutationResult, error) {
	results := make([]MutationResult, 0, len(batch))
	for i := range batch {
		res, err := applyOne(w, &batch[i])
		if err != nil {
			return nil, NewError(err.Code, fmt.Sprintf("mutation %d (%s): %s", i, batch[i].Op, err.Msg))
		}
		results = append(results, res)
	}
	return results, nil
}

// FeaturesFor returns the database features a batch requires.
func FeaturesFor(batch []Mutation) db.Feature {
	feat := db.FeatureAtomicUpdate
	for i := range batch {
		switch batch[i].Op {
		case OpInsert, OpUpdate, OpAlterSchema, OpIncrement:
			feat |= db.FeatureGet | db.FeaturePut
		case OpDelete:
			feat |= db.FeatureGet | db.FeatureDelete
		case OpAddRef:
			feat |= db.FeatureGet | db.FeaturePut | db.FeatureDelete
		case OpDropTable:
			feat |= db.FeatureDeletePrefix
		}
	}
	return feat
}

func applyOne(w db.Writer, m *Mutation) (MutationResult, *Error) {
	var res MutationResult

	switch m.Op {
	case OpInsert, OpUpdate:
		if m.CF < 0 {
			return res, NewError(RetCInvalidOperation, fmt.Sprintf("column family %d is reserved", m.CF))
		}
		prev, exists := w.Get(m.CF, m.Key)
		if m.Op == OpInsert && exists && !m.Override {
			return res, NewError(RetCKeyExists, fmt.Sprintf("key %x already exists", m.Key))
		}
		if m.Op == OpUpdate && !exists {
			return res, NewError(RetCNotFound, fmt.Sprintf("key %x not found", m.Key))
		}
		row := Row{SchemaVersion: m.SchemaVersion, Refs: m.Refs, Value: m.Value}
		w.Put(m.CF, m.Key, row.Encode())
		if m.ReturnPrevious && exists {
			res.Previous = prev
		}

	case OpDelete:
		if m.CF < 0 {
			return res, NewError(RetCInvalidOperation, fmt.Sprintf("column family %d is reserved", m.CF))
		}
		prev, exists := w.Get(m.CF, m.Key)
		if !exists {
			return res, NewError(RetCNotFound, fmt.Sprintf("key %x not found", m.Key))
		}
		w.Delete(m.CF, m.Key)
		if m.ReturnPrevious {
			res.Previous = prev
		}

	case OpAddRef:
		if len(m.Key) == 0 {
			return res, NewError(RetCInvalidOperation, "empty reference target")
		}
		key := RefKey(m.Key, m.FromKey)
		var current int64
		if raw, ok := w.Get(db.CFRefs, key); ok {
			if len(raw) != 4 {
				return res, NewError(RetCInternalError, fmt.Sprintf("corrupt ref counter of length %d", len(raw)))
			}
			current = int64(int32(binary.BigEndian.Uint32(raw)))
		}
		total := current + int64(m.Diff)
		switch {
		case total < 0:
			return res, NewError(RetCInvalidOperation, fmt.Sprintf("reference count would drop to %d", total))
		case total > math.MaxInt32:
			return res, NewError(RetCInvalidOperation, "reference count overflow")
		case total == 0:
			w.Delete(db.CFRefs, key)
		default:
			w.Put(db.CFRefs, key, binary.BigEndian.AppendUint32(nil, uint32(int32(total))))
		}
		res.Count = total

	case OpAlterSchema:
		if m.TableID == ReservedTableID {
			return res, NewError(RetCInvalidOperation, "reserved table id")
		}
		w.Put(db.CFMeta, SchemaKey(m.TableID), m.Value)

	case OpDropTable:
		if m.TableID == ReservedTableID {
			return res, NewError(RetCInvalidOperation, "reserved table id")
		}
		prefix := TablePrefix(m.TableID)
		for _, cf := range w.ColumnFamilies() {
			res.Count += int64(w.DeletePrefix(cf, prefix))
		}

	case OpIncrement:
		if len(m.Key) == 0 {
			return res, NewError(RetCInvalidOperation, "empty counter name")
		}
		key := CounterKey(m.Key)
		var current uint64
		if raw, ok := w.Get(db.CFMeta, key); ok {
			if len(raw) != 8 {
				return res, NewError(RetCInternalError, fmt.Sprintf("corrupt counter of length %d", len(raw)))
			}
			current = binary.BigEndian.Uint64(raw)
		}
		next := current + m.Delta
		if next < current || next > math.MaxInt64 {
			return res, NewError(RetCInvalidOperation, "counter overflow")
		}
		w.Put(db.CFMeta, key, binary.BigEndian.AppendUint64(nil, next))
		res.Count = int64(next)

	default:
		return res, NewError(RetCInvalidOperation, fmt.Sprintf("unknown operation %s", m.Op))
	}
	return res, nil
}

// GetRow reads and decodes one row. The returned row does not alias database memory.
func GetRow(r db.Reader, cf int8, key []byte) (Row, bool, error) {
	raw, ok := r.Get(cf, key)
	if !ok {
		return Row{}, false, nil
	}
	row, err := DecodeRow(raw)
	if err != nil {
		return Row{}, false, NewError(RetCInternalError, fmt.Sprintf("corrupt row %x: %v", key, err))
	}
	return row, true, nil
}

// ExecScan runs q against r. With ToIndexTarget the value of each index row is
// the key of its target row in the default family. It reads several keys, so r
// must be a consistent view (e.g. the reader passed to db.KVDB.View).
func ExecScan(r db.Reader, q ScanQuery) (ScanResult, error) {
	var res ScanResult
	if q.CF < 0 {
		return res, NewError(RetCInvalidOperation, fmt.Sprintf("column family %d is reserved", q.CF))
	}
	if len(q.End) > 0 && slices.Compare(q.Begin, q.End) > 0 {
		return res, NewError(RetCInvalidOperation, "scan begin is after end")
	}

	var scanErr *Error
	r.AscendRange(q.CF, q.Begin, q.End, func(k, v []byte) bool {
		key, raw := k, v
		if q.ToIndexTarget {
			index, err := DecodeRow(v)
			if err != nil {
				scanErr = NewError(RetCInternalError, fmt.Sprintf("corrupt index row %x: %v", k, err))
				return false
			}
			target, ok := r.Get(db.CFDefault, index.Value)
			if !ok {
				// dangling index entry
				return true
			}
			key, raw = index.Value, target
		}

		row, err := DecodeRow(raw)
		if err != nil {
			scanErr = NewError(RetCInternalError, fmt.Sprintf("corrupt row %x: %v", key, err))
			return false
		}
		if !q.Filter.Match(key, row.SchemaVersion, row.Value) {
			return true
		}
		if res.Skipped < q.Skip {
			res.Skipped++
			return true
		}
		res.Pairs = append(res.Pairs, Pair{Key: slices.Clone(key), Row: row.Clone()})
		return q.Take == 0 || len(res.Pairs) < int(q.Take)
	})
	if scanErr != nil {
		return ScanResult{}, scanErr
	}
	return res, nil
}
