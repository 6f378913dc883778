// Package lstore implements store.IStore for a replication group that lives in
// the memory of a single host. It wraps a db.KVDB created by a store.DBFactory
// and applies each mutation batch in one db.KVDB.Update call, so a batch is
// atomic: the first failing mutation rolls back the whole batch and its
// RetCode is returned.
//
// Every batch gets the next value of an atomic write index. The required
// engine features are checked before a batch runs, an engine lacking one
// yields RetCUnsupportedOperation.
//
//	factory := func() db.KVDB { return maple.NewMapleDB(nil) }
//	s := lstore.NewLocalStore(factory)
//
//	_, err := s.Apply([]store.Mutation{{Op: store.OpInsert, Key: key, Value: data}})
//	row, found, err := s.Get(db.CFDefault, key)
//
// Nothing is persisted. Use dstore for groups that must survive a restart.
package lstore
