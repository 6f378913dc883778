package db

import "io"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple Implementation = "maple"
)

// Column families. Non-negative families are free for data and index rows,
// negative ones are reserved for the store itself.
const (
	CFDefault int8 = 0
	CFRefs    int8 = -1
	CFMeta    int8 = -2
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureGet          Feature = 1 << iota // Support for Get and Has
	FeaturePut                              // Support for Put
	FeatureDelete                           // Support for Delete
	FeatureDeletePrefix                     // Support for DeletePrefix
	FeatureScan                             // Support for ordered AscendRange
	FeatureAtomicUpdate                     // Update applies all or nothing
	FeatureSave                             // Support for Save operations
	FeatureLoad                             // Support for Load operations
)

func (f Feature) String() string {
	switch f {
	case FeatureGet:
		return "Get"
	case FeaturePut:
		return "Put"
	case FeatureDelete:
		return "Delete"
	case FeatureDeletePrefix:
		return "DeletePrefix"
	case FeatureScan:
		return "Scan"
	case FeatureAtomicUpdate:
		return "AtomicUpdate"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	Entries           int            `json:"entries"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// Reader gives read access to ordered column families.
type Reader interface {
	// Get retrieves a copy of the value for an exact key.
	// The boolean return value indicates whether a value for the key was found.
	Get(cf int8, key []byte) (value []byte, loaded bool)

	// Has checks whether a key exists in the column family.
	Has(cf int8, key []byte) (loaded bool)

	// AscendRange calls fn for every key in [begin, end) in ascending order until fn
	// returns false. An empty end means no upper bound. The slices passed to fn belong
	// to the database, are only valid during the call and must not be modified.
	AscendRange(cf int8, begin, end []byte, fn func(key, value []byte) bool)

	// ColumnFamilies returns the ids of all existing column families in ascending order.
	ColumnFamilies() []int8
}

// Writer is handed to the function passed to KVDB.Update.
type Writer interface {
	Reader

	// Put inserts or replaces key. The database keeps its own copy of key and value.
	Put(cf int8, key, value []byte)

	// Delete removes key and reports whether it existed.
	Delete(cf int8, key []byte) (existed bool)

	// DeletePrefix removes every key starting with prefix and returns how many were removed.
	DeletePrefix(cf int8, prefix []byte) (removed int)
}

// KVDB defines an interface for ordered key-value databases with column families.
// All writes go through Update, which applies its changes atomically: if the update
// function returns an error, every change it made is rolled back.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
type KVDB interface {
	Reader

	// Update runs fn with exclusive write access. writeIndex is the logical timestamp
	// of the update and advances the database's write index.
	Update(writeIndex uint64, fn func(w Writer) error) (err error)

	// View runs fn with a consistent read-only view across several reads.
	View(fn func(r Reader) error) (err error)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the database to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load restores the database state data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// --------------------------------------------------------------------------
	// Write Index Operations
	// --------------------------------------------------------------------------

	// SetWriteIdx sets the current index of the database only if the provided index is greater than the current index.
	SetWriteIdx(index uint64)

	// WriteIdx returns the current index of the database.
	WriteIdx() (index uint64)

	// Close closes the database.
	Close() (err error)
}
