package internal

import (
	"bytes"
	"fmt"

	"github.com/google/btree"
)

// --------------------------------------------------------------------------
// Entry Type (key-value pair with metadata)
// --------------------------------------------------------------------------

// Entry stores a key-value pair with metadata
type Entry struct {
	Key   string // Key bytes, stored as string for cheap ordering
	Value []byte // Value bytes owned by the tree
	Index uint64 // Write index when this entry was created/updated
}

func (e Entry) String() string {
	return fmt.Sprintf("Entry{Key: %q, Len: %d, Index: %d}", e.Key, len(e.Value), e.Index)
}

func lessEntry(a, b Entry) bool {
	return a.Key < b.Key
}

// --------------------------------------------------------------------------
// Family Type (one ordered column family)
// --------------------------------------------------------------------------

const treeDegree = 32

// Family is one ordered column family. It is not safe for concurrent use;
// the database serializes access.
type Family struct {
	Tree      *btree.BTreeG[Entry]
	SizeBytes int // Sum of key and value lengths
}

// NewFamily creates an empty column family
func NewFamily() *Family {
	return &Family{Tree: btree.NewG[Entry](treeDegree, lessEntry)}
}

// Get returns the entry stored for key
func (f *Family) Get(key []byte) (Entry, bool) {
	return f.Tree.Get(Entry{Key: string(key)})
}

// Put stores e and returns the entry it replaced, if any
func (f *Family) Put(e Entry) (Entry, bool) {
	old, replaced := f.Tree.ReplaceOrInsert(e)
	f.SizeBytes += len(e.Key) + len(e.Value)
	if replaced {
		f.SizeBytes -= len(old.Key) + len(old.Value)
	}
	return old, replaced
}

// Delete removes key and returns the removed entry, if any
func (f *Family) Delete(key string) (Entry, bool) {
	old, ok := f.Tree.Delete(Entry{Key: key})
	if ok {
		f.SizeBytes -= len(old.Key) + len(old.Value)
	}
	return old, ok
}

// Ascend calls fn for each entry in [begin, end). An empty end means no upper bound.
func (f *Family) Ascend(begin, end []byte, fn func(e Entry) bool) {
	if len(end) == 0 {
		f.Tree.AscendGreaterOrEqual(Entry{Key: string(begin)}, fn)
		return
	}
	f.Tree.AscendRange(Entry{Key: string(begin)}, Entry{Key: string(end)}, fn)
}

// KeysWithPrefix returns all keys starting with prefix in ascending order
func (f *Family) KeysWithPrefix(prefix []byte) []string {
	var keys []string
	f.Tree.AscendGreaterOrEqual(Entry{Key: string(prefix)}, func(e Entry) bool {
		if !bytes.HasPrefix([]byte(e.Key), prefix) {
			return false
		}
		keys = append(keys, e.Key)
		return true
	})
	return keys
}

// --------------------------------------------------------------------------
// Undo Log (rollback of failed updates)
// --------------------------------------------------------------------------

// UndoRecord remembers the state of a key before it was modified
type UndoRecord struct {
	CF      int8
	Key     string
	Prev    Entry
	Existed bool
}

// UndoLog records changes of a running update so they can be reverted
type UndoLog struct {
	records []UndoRecord
}

// Record appends the previous state of a key
func (u *UndoLog) Record(cf int8, key string, prev Entry, existed bool) {
	u.records = append(u.records, UndoRecord{CF: cf, Key: key, Prev: prev, Existed: existed})
}

// Len returns the number of recorded changes
func (u *UndoLog) Len() int {
	return len(u.records)
}

// Revert restores all recorded keys in reverse order
func (u *UndoLog) Revert(family func(cf int8) *Family) {
	for i := len(u.records) - 1; i >= 0; i-- {
		r := u.records[i]
		f := family(r.CF)
		if r.Existed {
			f.Put(r.Prev)
		} else {
			f.Delete(r.Key)
		}
	}
	u.records = u.records[:0]
}
