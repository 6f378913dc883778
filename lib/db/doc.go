// Package db provides a standardized interface for ordered key-value database implementations.
// It defines the KVDB interface that the store layer builds on while abstracting
// implementation details.
//
// Key Components:
//
//   - Column Families: Every key lives in a column family identified by an int8. The
//     non-negative families belong to callers (CFDefault and index families), the
//     negative ones are reserved for internal data (CFRefs, CFMeta).
//
//   - Reader and Writer: Reader offers point lookups and ordered range iteration
//     (AscendRange), Writer adds Put, Delete and DeletePrefix. Both are handed out by
//     KVDB.View and KVDB.Update.
//
//   - Atomic Updates: KVDB.Update runs a function against a Writer and either keeps all
//     of its writes or none of them (if the function returns an error or panics).
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method.
//
//   - Database Information: The DatabaseInfo structure provides standardized
//     reporting on database state, including size statistics, implementation type,
//     and implementation-specific metadata. Note: For most implementations all
//     size statistics will be estimated since a precise calculation can be
//     expensive.
//
// Note on the Write Index:
//   - Every Update carries a write index (the raft log index for replicated stores, an
//     atomic counter for local ones). The index only increases monotonically, attempts
//     to set a lower index are ignored. SetWriteIdx advances it without writing.
//   - Save persists the write index together with the data, so a restored snapshot
//     reports the index it was taken at.
//
// Related Packages:
//
// The engines/maple package (github.com/ValentinKolb/shmrt/lib/db/engines/maple) implements
// KVDB with one b-tree per column family and an undo log for atomic updates.
//
// The util package (github.com/ValentinKolb/shmrt/lib/db/util) provides complementary tools:
//   - SizeHistogram: Utilities for analyzing data size distributions
//   - LockFreeMPSC: A multi-producer single-consumer queue used as channel outbox
//
// The testing package (github.com/ValentinKolb/shmrt/lib/db/testing) provides
// standardized tests and benchmarks for database implementations that satisfy the db.KVDB interface.
//   - RunKVDBTests: Runs a standardized test suite to validate implementations
//   - RunKVDBBenchmarks: Provides performance benchmarks for comparing implementations
package db
