package lstore

import (
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/shmrt/lib/db"
	"github.com/ValentinKolb/shmrt/lib/store"
)

type storeImpl struct {
	db    db.KVDB
	index atomic.Uint64
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works on a single node.
// This works by using the maple engine from the db package directly.
func NewLocalStore(factory store.DBFactory) store.IStore {
	return &storeImpl{
		db:    factory(),
		index: atomic.Uint64{},
	}
}

// incAndGetIndex increments the index and returns the new value.
// It is used to ensure that each write operation has a unique index.
//
// Thread-safety: This method is thread-safe since it uses atomic operations.
func (s *storeImpl) incAndGetIndex() uint64 {
	return s.index.Add(1)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Apply(batch []store.Mutation) ([]store.MutationResult, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	if feat := store.FeaturesFor(batch); !s.db.SupportsFeature(feat) {
		return nil, store.NewError(store.RetCUnsupportedOperation, fmt.Sprintf("batch requires unsupported features (%b)", feat))
	}

	var results []store.MutationResult
	err := s.db.Update(s.incAndGetIndex(), func(w db.Writer) error {
		var err error
		results, err = store.ApplyBatch(w, batch)
		return err
	})
	if err != nil {
		if _, ok := err.(*store.Error); ok {
			return nil, err
		}
		return nil, store.NewError(store.RetCInternalError, err.Error())
	}
	return results, nil
}

func (s *storeImpl) Get(cf int8, key []byte) (store.Row, bool, error) {
	if !s.db.SupportsFeature(db.FeatureGet) {
		return store.Row{}, false, store.NewError(store.RetCUnsupportedOperation, "Get operation is not supported")
	}
	return store.GetRow(s.db, cf, key)
}

func (s *storeImpl) Scan(q store.ScanQuery) (store.ScanResult, error) {
	if !s.db.SupportsFeature(db.FeatureScan) {
		return store.ScanResult{}, store.NewError(store.RetCUnsupportedOperation, "Scan operation is not supported")
	}
	var res store.ScanResult
	err := s.db.View(func(r db.Reader) error {
		var err error
		res, err = store.ExecScan(r, q)
		return err
	})
	if err != nil {
		if _, ok := err.(*store.Error); ok {
			return store.ScanResult{}, err
		}
		return store.ScanResult{}, store.NewError(store.RetCInternalError, err.Error())
	}
	return res, nil
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return s.db.GetInfo(), nil
}
