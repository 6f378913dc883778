// Package testing provides a shared conformance suite and benchmarks for
// engines that satisfy the db.KVDB interface, covering column families,
// ordered iteration, atomic batches and snapshots.
//
// Example usage:
//
//	factory := func() db.KVDB {
//		return maple.NewMapleDB(nil)
//	}
//
//	testing.RunKVDBTests(t, "maple", factory)
//	testing.RunKVDBBenchmarks(b, "maple", factory)
package testing
