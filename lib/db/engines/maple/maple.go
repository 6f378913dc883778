package maple

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/shmrt/lib/db"
	"github.com/ValentinKolb/shmrt/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/shmrt/lib/db/util"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for database behavior and structure
const (
	magicNum     = "MAPLEDB\x00" // File format identifier
	mapleVersion = 4             // Database version
)

// ErrClosed is returned by Update and View after Close.
var ErrClosed = errors.New("maple: database closed")

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements an ordered database with one b-tree per column family
type mapleImpl struct {
	mu        sync.RWMutex
	families  map[int8]*internal.Family
	currIndex atomic.Uint64 // Current logical timestamp
	closed    atomic.Bool

	valueSizes *util.SizeHistogram // Sizes of values written since start
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	Families []int8 // Column families created up front (others are created on first write)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		Families: []int8{db.CFDefault, db.CFRefs, db.CFMeta},
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
func NewMapleDB(opts *DBOptions) db.KVDB {

	// Generate default options if not provided
	if opts == nil {
		opts = DefaultOptions()
	}

	maple := &mapleImpl{
		families:   make(map[int8]*internal.Family, len(opts.Families)),
		valueSizes: util.NewSizeHistogram(),
	}
	for _, cf := range opts.Families {
		maple.families[cf] = internal.NewFamily()
	}
	return maple
}

// family returns the column family cf, creating it if create is set.
// Callers must hold the lock (write lock if create is set).
func (maple *mapleImpl) family(cf int8, create bool) *internal.Family {
	f, ok := maple.families[cf]
	if !ok && create {
		f = internal.NewFamily()
		maple.families[cf] = f
	}
	return f
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Read Operations
// --------------------------------------------------------------------------

// Get retrieves a copy of the value stored for key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(cf int8, key []byte) ([]byte, bool) {
	maple.mu.RLock()
	defer maple.mu.RUnlock()
	return maple.get(cf, key)
}

// Has checks if a key exists
func (maple *mapleImpl) Has(cf int8, key []byte) bool {
	_, ok := maple.Get(cf, key)
	return ok
}

// AscendRange iterates [begin, end) in key order.
// fn must not call back into the database for writes.
func (maple *mapleImpl) AscendRange(cf int8, begin, end []byte, fn func(key, value []byte) bool) {
	maple.mu.RLock()
	defer maple.mu.RUnlock()
	maple.ascend(cf, begin, end, fn)
}

// ColumnFamilies returns all existing families in ascending order
func (maple *mapleImpl) ColumnFamilies() []int8 {
	maple.mu.RLock()
	defer maple.mu.RUnlock()
	return maple.familyIDs()
}

func (maple *mapleImpl) familyIDs() []int8 {
	cfs := make([]int8, 0, len(maple.families))
	for cf := range maple.families {
		cfs = append(cfs, cf)
	}
	slices.Sort(cfs)
	return cfs
}

func (maple *mapleImpl) get(cf int8, key []byte) ([]byte, bool) {
	f := maple.family(cf, false)
	if f == nil {
		return nil, false
	}
	e, ok := f.Get(key)
	if !ok {
		return nil, false
	}
	return slices.Clone(e.Value), true
}

func (maple *mapleImpl) ascend(cf int8, begin, end []byte, fn func(key, value []byte) bool) {
	f := maple.family(cf, false)
	if f == nil {
		return
	}
	f.Ascend(begin, end, func(e internal.Entry) bool {
		return fn([]byte(e.Key), e.Value)
	})
}

// View runs fn under a shared lock so that all reads see the same state
func (maple *mapleImpl) View(fn func(r db.Reader) error) error {
	if maple.closed.Load() {
		return ErrClosed
	}
	maple.mu.RLock()
	defer maple.mu.RUnlock()
	return fn(viewReader{maple})
}

type viewReader struct{ maple *mapleImpl }

func (v viewReader) Get(cf int8, key []byte) ([]byte, bool) { return v.maple.get(cf, key) }
func (v viewReader) Has(cf int8, key []byte) bool {
	_, ok := v.maple.get(cf, key)
	return ok
}
func (v viewReader) AscendRange(cf int8, begin, end []byte, fn func(key, value []byte) bool) {
	v.maple.ascend(cf, begin, end, fn)
}
func (v viewReader) ColumnFamilies() []int8 { return v.maple.familyIDs() }

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Write Operations
// --------------------------------------------------------------------------

// Update runs fn with exclusive access. If fn returns an error every change
// it made is reverted and the write index is left untouched.
//
// Thread-safety: Updates are serialized. fn must not call Update or View.
func (maple *mapleImpl) Update(writeIndex uint64, fn func(w db.Writer) error) (err error) {
	if maple.closed.Load() {
		return ErrClosed
	}
	maple.mu.Lock()
	defer maple.mu.Unlock()

	w := &updateWriter{maple: maple, index: writeIndex}
	defer func() {
		if r := recover(); r != nil {
			w.undo.Revert(maple.familyForUndo)
			panic(r)
		}
	}()

	if err = fn(w); err != nil {
		w.undo.Revert(maple.familyForUndo)
		return err
	}
	maple.SetWriteIdx(writeIndex)
	return nil
}

func (maple *mapleImpl) familyForUndo(cf int8) *internal.Family {
	return maple.family(cf, true)
}

// updateWriter is the db.Writer handed to Update functions
type updateWriter struct {
	maple *mapleImpl
	index uint64
	undo  internal.UndoLog
}

func (w *updateWriter) Get(cf int8, key []byte) ([]byte, bool) { return w.maple.get(cf, key) }

func (w *updateWriter) Has(cf int8, key []byte) bool {
	_, ok := w.maple.get(cf, key)
	return ok
}

func (w *updateWriter) AscendRange(cf int8, begin, end []byte, fn func(key, value []byte) bool) {
	w.maple.ascend(cf, begin, end, fn)
}

func (w *updateWriter) ColumnFamilies() []int8 { return w.maple.familyIDs() }

func (w *updateWriter) Put(cf int8, key, value []byte) {
	e := internal.Entry{
		Key:   string(key),
		Value: slices.Clone(value),
		Index: w.index,
	}
	if e.Value == nil {
		e.Value = []byte{}
	}
	old, replaced := w.maple.family(cf, true).Put(e)
	w.undo.Record(cf, e.Key, old, replaced)
	w.maple.valueSizes.AddSample(len(value))
}

func (w *updateWriter) Delete(cf int8, key []byte) bool {
	f := w.maple.family(cf, false)
	if f == nil {
		return false
	}
	old, ok := f.Delete(string(key))
	if ok {
		w.undo.Record(cf, old.Key, old, true)
	}
	return ok
}

func (w *updateWriter) DeletePrefix(cf int8, prefix []byte) int {
	f := w.maple.family(cf, false)
	if f == nil {
		return 0
	}
	// collect first, the tree must not be modified while iterating
	keys := f.KeysWithPrefix(prefix)
	for _, k := range keys {
		if old, ok := f.Delete(k); ok {
			w.undo.Record(cf, k, old, true)
		}
	}
	return len(keys)
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists the database to the writer.
// Writers are blocked for the duration of the save, readers are not.
func (maple *mapleImpl) Save(w io.Writer) error {
	maple.mu.RLock()
	defer maple.mu.RUnlock()

	// Use a buffered writer for better performance
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}

	// Write maple version
	if err := binary.Write(bw, binary.LittleEndian, uint8(mapleVersion)); err != nil {
		return err
	}

	// Write current write index
	if err := binary.Write(bw, binary.LittleEndian, maple.currIndex.Load()); err != nil {
		return err
	}

	// Write families in a stable order
	cfs := maple.familyIDs()

	if err := binary.Write(bw, binary.LittleEndian, uint32(len(cfs))); err != nil {
		return err
	}

	for _, cf := range cfs {
		f := maple.families[cf]

		if err := binary.Write(bw, binary.LittleEndian, cf); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint64(f.Tree.Len())); err != nil {
			return err
		}

		var werr error
		f.Tree.Ascend(func(e internal.Entry) bool {
			werr = writeEntry(bw, e)
			return werr == nil
		})
		if werr != nil {
			return werr
		}
	}

	// Flush buffer to ensure all data is written
	return bw.Flush()
}

func writeEntry(w io.Writer, e internal.Entry) error {
	// Write key
	if err := binary.Write(w, binary.LittleEndian, uint32(len(e.Key))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, e.Key); err != nil {
		return err
	}

	// Write created index
	if err := binary.Write(w, binary.LittleEndian, e.Index); err != nil {
		return err
	}

	// Write value
	if err := binary.Write(w, binary.LittleEndian, uint32(len(e.Value))); err != nil {
		return err
	}
	_, err := w.Write(e.Value)
	return err
}

// Load restores a database from the reader, replacing its current contents.
// On error the database keeps its previous state.
func (maple *mapleImpl) Load(r io.Reader) error {

	// Use a buffered reader for better performance
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}

	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}

	if int(version) != mapleVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, mapleVersion)
	}

	var writeIdx uint64
	if err := binary.Read(br, binary.LittleEndian, &writeIdx); err != nil {
		return err
	}

	var familyCount uint32
	if err := binary.Read(br, binary.LittleEndian, &familyCount); err != nil {
		return err
	}

	families := make(map[int8]*internal.Family, familyCount)
	for i := uint32(0); i < familyCount; i++ {
		var cf int8
		if err := binary.Read(br, binary.LittleEndian, &cf); err != nil {
			return err
		}
		var count uint64
		if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
			return err
		}

		f := internal.NewFamily()
		for j := uint64(0); j < count; j++ {
			e, err := readEntry(br)
			if err != nil {
				return err
			}
			f.Put(e)
		}
		families[cf] = f
	}

	maple.mu.Lock()
	defer maple.mu.Unlock()
	maple.families = families
	maple.currIndex.Store(writeIdx)
	return nil
}

func readEntry(r io.Reader) (internal.Entry, error) {
	var e internal.Entry

	var keyLen uint32
	if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
		return e, err
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return e, err
	}
	e.Key = string(key)

	if err := binary.Read(r, binary.LittleEndian, &e.Index); err != nil {
		return e, err
	}

	var valueLen uint32
	if err := binary.Read(r, binary.LittleEndian, &valueLen); err != nil {
		return e, err
	}
	e.Value = make([]byte, valueLen)
	if _, err := io.ReadFull(r, e.Value); err != nil {
		return e, err
	}
	return e, nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	maple.mu.RLock()
	defer maple.mu.RUnlock()

	entries := 0
	sizeBytes := 0
	perFamily := make(map[int8]int, len(maple.families))
	familySizes := make([]float64, 0, len(maple.families))
	for cf, f := range maple.families {
		n := f.Tree.Len()
		entries += n
		sizeBytes += f.SizeBytes
		perFamily[cf] = n
		familySizes = append(familySizes, float64(n))
	}

	// Metadata for this specific database implementation
	meta := &struct {
		CurrentWriteIndex  uint64                 `json:"current_write_index"`
		Families           map[int8]int           `json:"families"`
		FamilyDistribution util.DistributionStats `json:"family_distribution"`
		MedianValueSize    int                    `json:"median_value_size"`
		P99ValueSize       int                    `json:"p99_value_size"`
		Info               string                 `json:"info"`
	}{
		CurrentWriteIndex:  maple.currIndex.Load(),
		Families:           perFamily,
		FamilyDistribution: util.NewDistributionStats(familySizes),
		MedianValueSize:    maple.valueSizes.MedianEstimate(),
		P99ValueSize:       maple.valueSizes.Percentile(99),
		Info:               "Value sizes are estimates over all writes since start.",
	}

	return db.DatabaseInfo{
		SizeBytes: sizeBytes,
		Entries:   entries,
		DbType:    db.ImplMaple,
		SupportedFeatures: []db.Feature{
			db.FeatureGet, db.FeaturePut, db.FeatureDelete, db.FeatureDeletePrefix,
			db.FeatureScan, db.FeatureAtomicUpdate,
			db.FeatureSave, db.FeatureLoad,
		},
		Metadata: meta,
	}
}

func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeatureGet |
		db.FeaturePut |
		db.FeatureDelete |
		db.FeatureDeletePrefix |
		db.FeatureScan |
		db.FeatureAtomicUpdate |
		db.FeatureSave |
		db.FeatureLoad
	return supportedFeatures&feature == feature
}

// Close marks the database closed. Reads keep working on the last state.
func (maple *mapleImpl) Close() error {
	maple.closed.Store(true)
	return nil
}

// --------------------------------------------------------------------------
// Index and Timestamp Management
// --------------------------------------------------------------------------

// SetWriteIdx safely updates the current index
// It only updates if the new index is greater than the current one
//
// Thread-safety: This method is thread-safe and can be called concurrently.
// It uses atomic operations to ensure that the index only increases.
func (maple *mapleImpl) SetWriteIdx(newIdx uint64) {
	// Only update if the new index is greater
	for {
		currIdx := maple.currIndex.Load()
		if newIdx <= currIdx {
			return
		}
		if maple.currIndex.CompareAndSwap(currIdx, newIdx) {
			return
		}
	}
}

// WriteIdx returns the current index of the database
func (maple *mapleImpl) WriteIdx() uint64 {
	return maple.currIndex.Load()
}
