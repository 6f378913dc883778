package internal

import "github.com/ValentinKolb/shmrt/lib/store"

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGet       QueryType = iota // Retrieve a row by key.
	QueryTScan                       // Scan a key range.
	QueryTGetDBInfo                  // Retrieve metadata about the database underlying the machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGet:
		return "Get"
	case QueryTScan:
		return "Scan"
	case QueryTGetDBInfo:
		return "GetDBInfo"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or ReadStale
type Query struct {
	Type QueryType       // The type of Query to perform.
	CF   int8            // Column family of a Get.
	Key  []byte          // The key of a Get (empty for other queries).
	Scan store.ScanQuery // The range of a Scan.
}

// QueryResult is the result of a QueryTGet operation.
// Scans return store.ScanResult, GetDBInfo returns db.DatabaseInfo.
type QueryResult struct {
	Ok  bool
	Row store.Row
}
