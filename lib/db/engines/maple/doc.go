// Package maple implements an ordered key-value database (KVDB) with column
// families. It provides a complete implementation of the db.KVDB interface and
// serves as the storage engine behind every replication group.
//
// Key Components:
//
//   - mapleImpl: The central database structure implementing db.KVDB. It owns one
//     b-tree per column family and a monotonically increasing write index. The
//     write index is not generated by the database itself; the caller passes it
//     with every update (e.g. the raft log index) so snapshots and replays line up.
//
//   - Family: An ordered column family backed by github.com/google/btree. Keys are
//     kept as strings so that ordering is a plain byte-wise comparison. Family
//     also tracks the summed size of its keys and values for GetInfo.
//
//   - Undo Log: Every write performed inside Update records the previous state of
//     the key. If the update function fails (or panics) the log is replayed in
//     reverse, so an update either applies completely or not at all.
//
// Concurrency:
//
//   - Reads (Get, Has, AscendRange, View) take a shared lock and run concurrently.
//   - Updates take the exclusive lock and are serialized.
//   - Get returns copies. AscendRange hands out the stored slices, which are only
//     valid during the callback.
//
// Persistence Format: The database uses a compact binary format with the
// following structure:
//  1. Magic number "MAPLEDB\x00" to identify the file format
//  2. Version number (currently 4)
//  3. Write index at the time of the save
//  4. Number of column families
//  5. For each family: family id, number of entries, and for each entry the key
//     length, key, write index, value length and value bytes
//
// Save holds the shared lock, so the snapshot is a consistent cut. Load decodes
// the whole stream before swapping it in; a failed Load leaves the database
// untouched.
package maple
