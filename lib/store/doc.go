// Package store provides the replication group abstraction used by the host: a
// column family aware row store with atomic write batches, reference counting,
// table level operations and filtered range scans. It serves as an abstraction
// layer over the lower-level db.KVDB implementations, adding the row encoding,
// write index management and standardized error reporting.
//
// Key Components:
//
//   - IStore Interface: The core abstraction. All writes are expressed as a batch of
//     Mutation values that either apply completely or not at all. Reads return decoded
//     Row values. The interface methods return *Error values with a RetCode.
//
//   - Execution: ApplyBatch, GetRow and ExecScan implement the semantics of all
//     operations on top of db.Writer and db.Reader, so every implementation behaves
//     identically.
//
//   - Key Layout: Row keys start with the 4 byte table id (TableKey). Schema metadata,
//     counters and reference counters live in the reserved column families of the db
//     package (SchemaKey, CounterKey, RefKey).
//
//   - DBFactory: A function type that abstracts the creation of underlying db.KVDB
//     instances.
//
// Implementations:
//
//	- Local Store (lstore): Applies batches directly to a db.KVDB instance and
//	  manages the write index with an atomic counter.
//	  Available in the "github.com/ValentinKolb/shmrt/lib/store/lstore" package.
//
//	- Distributed Store (dstore): Replicates batches with the Dragonboat RAFT
//	  consensus library and applies them on every replica.
//	  Available in the "github.com/ValentinKolb/shmrt/lib/store/dstore" package.
//
// Scan filters are described in the filter sub package.
package store
