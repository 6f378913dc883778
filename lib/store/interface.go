package store

import (
	"fmt"

	"github.com/ValentinKolb/shmrt/lib/db"
	"github.com/ValentinKolb/shmrt/lib/store/filter"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() db.KVDB

// IStore is the function table of one replication group.
// Write operations are grouped into batches that apply atomically. Failures of
// individual operations are reported as *Error (with a RetCode), failures of the
// store itself as *Error with RetCInternalError.
type IStore interface {
	// Apply executes all mutations of the batch in order. Either every mutation is
	// applied or none: on the first failing mutation the batch is rolled back and
	// its *Error is returned. On success there is one result per mutation.
	Apply(batch []Mutation) (results []MutationResult, err error)
	// Get returns the row stored for key. The boolean return value indicates whether the key was found.
	Get(cf int8, key []byte) (row Row, loaded bool, err error)
	// Scan returns the rows of a key range, see ScanQuery.
	Scan(q ScanQuery) (res ScanResult, err error)
	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// OpType identifies a mutation.
type OpType uint8

const (
	OpInsert      OpType = iota + 1 // Insert a row, fails with RetCKeyExists unless Override is set.
	OpUpdate                        // Replace an existing row, fails with RetCNotFound.
	OpDelete                        // Delete an existing row, fails with RetCNotFound.
	OpAddRef                        // Add Diff to the reference counter (Key, FromKey).
	OpAlterSchema                   // Store Value as schema metadata of TableID.
	OpDropTable                     // Delete every row of TableID in all column families.
	OpIncrement                     // Add Delta to the counter stored under Key in the meta family.
)

func (op OpType) String() string {
	switch op {
	case OpInsert:
		return "Insert"
	case OpUpdate:
		return "Update"
	case OpDelete:
		return "Delete"
	case OpAddRef:
		return "AddRef"
	case OpAlterSchema:
		return "AlterSchema"
	case OpDropTable:
		return "DropTable"
	case OpIncrement:
		return "Increment"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(op))
	}
}

// Mutation is a single write. Which fields are used depends on Op.
type Mutation struct {
	Op             OpType
	CF             int8
	SchemaVersion  uint32
	Key            []byte // row key, AddRef target key, Increment counter key
	FromKey        []byte // AddRef
	Refs           []byte
	Value          []byte // row value, AlterSchema metadata
	TableID        uint32 // AlterSchema, DropTable
	Diff           int32  // AddRef
	Delta          uint64 // Increment
	Override       bool   // Insert
	ReturnPrevious bool   // Insert, Update, Delete
}

// MutationResult is the outcome of one successful mutation.
type MutationResult struct {
	Previous []byte // encoded previous row if ReturnPrevious was set and the row existed
	Count    int64  // AddRef: new total, DropTable: removed rows, Increment: new value
}

// ScanQuery selects the rows of [Begin, End) in CF. An empty End means unbounded.
// Filter is evaluated per row; Skip counts matching rows to leave out, Take limits
// the result (0 means unlimited). With ToIndexTarget, CF is an index family whose
// row values are keys of the default family; those target rows are returned
// instead, Filter is evaluated against them and dangling index rows are skipped.
type ScanQuery struct {
	CF            int8
	Begin         []byte
	End           []byte
	Skip          uint32
	Take          uint32
	Filter        *filter.Expr
	ToIndexTarget bool
}

// Pair is one row of a scan result.
type Pair struct {
	Key []byte
	Row Row
}

// ScanResult is the result of Scan. Skipped is the number of matching rows that
// were actually skipped (less than Skip if the range ran out).
type ScanResult struct {
	Skipped uint32
	Pairs   []Pair
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("KVStoreError (code %s): %s", e.Code, e.Msg)
}

// Is reports whether target is a *Error with the same code, so that
// errors.Is(err, store.NewError(store.RetCNotFound, "")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new KVStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// CodeOf returns the RetCode carried by err. nil maps to RetCSuccess, errors
// that are not a *Error to RetCInternalError.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return RetCInternalError
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCKeyExists                           // 4: Insert of an existing key.
	RetCNotFound                            // 5: Update or delete of a missing key.
	RetCInvalidTxn                          // 6: Unknown or finished transaction handle.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCKeyExists:
		return "KeyExists"
	case RetCNotFound:
		return "NotFound"
	case RetCInvalidTxn:
		return "InvalidTxn"
	default:
		return fmt.Sprintf("Unknown(%d)", uint64(c))
	}
}
