// Package internal provides the communication protocol structures and serialization
// logic for the dstore package. It defines the wire format used to transmit operations
// between the store client and the distributed state machine.
//
// This package is intended for internal use by the dstore implementation and should
// not be imported directly by external code.
//
// The package consists of two main components:
//
//   - Command System: A Command carries one batch of store.Mutation values. Commands
//     are serialized and proposed to the RAFT cluster, executed atomically on the state
//     machine, and produce results that are returned to the client via EncodeResults.
//
//   - Query System: Defines read operations (Get, Scan, GetDBInfo) that retrieve data from
//     the database without modifying its state. Queries are executed locally on the
//     statemachine and therefore do not require serialization.
//
// Command Format:
//
//	- 1 byte: Command type (Apply)
//	- 4 bytes: Number of mutations (uint32, big endian)
//
//	followed by each mutation:
//
//	- 1 byte: Operation (store.OpType)
//	- 1 byte: Column family (int8)
//	- 1 byte: Flags (bit 0 Override, bit 1 ReturnPrevious)
//	- 4 bytes: Schema version
//	- 4 bytes: Table id
//	- 4 bytes: Diff (int32)
//	- 8 bytes: Delta
//	- Key, FromKey, Refs and Value, each as 4 bytes length followed by the data
//
// Result Format:
//
//	- 4 bytes: Number of results
//	- per result 8 bytes count (int64) and the length prefixed previous row
//
// Thread Safety:
//
//	The types in this package are not thread-safe and should not be shared
//	across goroutines without external synchronization. However, this is not
//	typically an issue as the RAFT protocol ensures sequential processing of
//	commands on the state machine.
package internal
