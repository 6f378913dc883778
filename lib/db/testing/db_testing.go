package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/shmrt/lib/db"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory())
		})

		t.Run("ColumnFamilies", func(t *testing.T) {
			testColumnFamilies(t, factory())
		})

		t.Run("AscendRange", func(t *testing.T) {
			testAscendRange(t, factory())
		})

		t.Run("DeletePrefix", func(t *testing.T) {
			testDeletePrefix(t, factory())
		})

		t.Run("AtomicUpdate", func(t *testing.T) {
			testAtomicUpdate(t, factory())
		})

		t.Run("WriteIndex", func(t *testing.T) {
			testWriteIndex(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("ConcurrentUsage", func(t *testing.T) {
			testConcurrentUsage(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

// put writes a single key in its own update
func put(t testing.TB, database db.KVDB, cf int8, key string, value []byte, idx uint64) {
	err := database.Update(idx, func(w db.Writer) error {
		w.Put(cf, []byte(key), value)
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error during Update: %v", err)
	}
}

// keysIn collects all keys of [begin, end) in iteration order
func keysIn(database db.Reader, cf int8, begin, end string) []string {
	var keys []string
	var endBytes []byte
	if end != "" {
		endBytes = []byte(end)
	}
	database.AscendRange(cf, []byte(begin), endBytes, func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return true
	})
	return keys
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet)

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	put(t, database, db.CFDefault, testKey, testValue1, 1)

	result, exists := database.Get(db.CFDefault, []byte(testKey))
	if !exists {
		t.Errorf("Expected key %s to exist after Put", testKey)
	}

	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	put(t, database, db.CFDefault, testKey, testValue2, 2)

	result, exists = database.Get(db.CFDefault, []byte(testKey))
	if !exists {
		t.Errorf("Expected key %s to exist after Put", testKey)
	}

	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	_, exists = database.Get(db.CFDefault, []byte("nonexistent-key"))
	if exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	retrievedValue, _ := database.Get(db.CFDefault, []byte(testKey))
	retrievedValue[0] = 'X'

	originalValue, _ := database.Get(db.CFDefault, []byte(testKey))
	if bytes.Equal(retrievedValue, originalValue) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}

	// the database must keep its own copy of the input
	input := []byte("input-value")
	put(t, database, db.CFDefault, "input-key", input, 3)
	input[0] = 'X'
	result, _ = database.Get(db.CFDefault, []byte("input-key"))
	if !bytes.Equal(result, []byte("input-value")) {
		t.Errorf("Put should copy the value, got %s", result)
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet|db.FeatureDelete)

	put(t, database, db.CFDefault, "delete-key", []byte("value"), 1)

	var existed bool
	err := database.Update(2, func(w db.Writer) error {
		existed = w.Delete(db.CFDefault, []byte("delete-key"))
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error during Update: %v", err)
	}
	if !existed {
		t.Errorf("Expected Delete to report the key as existing")
	}

	if _, exists := database.Get(db.CFDefault, []byte("delete-key")); exists {
		t.Errorf("Expected key to be gone after Delete")
	}

	err = database.Update(3, func(w db.Writer) error {
		existed = w.Delete(db.CFDefault, []byte("delete-key"))
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error during Update: %v", err)
	}
	if existed {
		t.Errorf("Expected second Delete to report the key as missing")
	}
}

func testHas(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet)

	if database.Has(db.CFDefault, []byte("has-key")) {
		t.Errorf("Expected Has to return false before Put")
	}

	put(t, database, db.CFDefault, "has-key", nil, 1)

	if !database.Has(db.CFDefault, []byte("has-key")) {
		t.Errorf("Expected Has to return true for a key with an empty value")
	}
	value, _ := database.Get(db.CFDefault, []byte("has-key"))
	if len(value) != 0 {
		t.Errorf("Expected empty value, got %q", value)
	}
}

func testColumnFamilies(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet)

	families := []int8{db.CFDefault, db.CFRefs, db.CFMeta, 7, -100}
	for i, cf := range families {
		put(t, database, cf, "shared-key", []byte(fmt.Sprintf("value-%d", cf)), uint64(i+1))
	}

	for _, cf := range families {
		value, exists := database.Get(cf, []byte("shared-key"))
		if !exists {
			t.Errorf("Expected key in family %d", cf)
			continue
		}
		if expected := fmt.Sprintf("value-%d", cf); string(value) != expected {
			t.Errorf("Family %d: expected %s, got %s", cf, expected, value)
		}
	}

	if database.Has(42, []byte("shared-key")) {
		t.Errorf("Expected unused family to be empty")
	}

	cfs := database.ColumnFamilies()
	for i := 1; i < len(cfs); i++ {
		if cfs[i-1] >= cfs[i] {
			t.Errorf("Expected ascending column families, got %v", cfs)
		}
	}
	for _, cf := range families {
		found := false
		for _, c := range cfs {
			found = found || c == cf
		}
		if !found {
			t.Errorf("Expected family %d in %v", cf, cfs)
		}
	}
}

func testAscendRange(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureScan)

	// insert out of order, iteration must be sorted
	for i, k := range []string{"b2", "a1", "c3", "b1", "a2", "b3"} {
		put(t, database, db.CFDefault, k, []byte(k), uint64(i+1))
	}

	tests := []struct {
		name       string
		begin, end string
		expected   []string
	}{
		{"All", "", "", []string{"a1", "a2", "b1", "b2", "b3", "c3"}},
		{"FromB", "b", "", []string{"b1", "b2", "b3", "c3"}},
		{"BOnly", "b", "c", []string{"b1", "b2", "b3"}},
		{"EndExclusive", "a1", "b1", []string{"a1", "a2"}},
		{"Empty", "x", "", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := keysIn(database, db.CFDefault, tc.begin, tc.end)
			if fmt.Sprint(got) != fmt.Sprint(tc.expected) {
				t.Errorf("Expected %v, got %v", tc.expected, got)
			}
		})
	}

	// early stop
	count := 0
	database.AscendRange(db.CFDefault, nil, nil, func(_, _ []byte) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Errorf("Expected iteration to stop after 2 keys, got %d", count)
	}
}

func testDeletePrefix(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureDeletePrefix|db.FeatureScan)

	for i := 0; i < 10; i++ {
		put(t, database, db.CFDefault, fmt.Sprintf("t1/%02d", i), []byte("x"), uint64(i+1))
		put(t, database, db.CFDefault, fmt.Sprintf("t2/%02d", i), []byte("y"), uint64(i+20))
	}

	var removed int
	err := database.Update(100, func(w db.Writer) error {
		removed = w.DeletePrefix(db.CFDefault, []byte("t1/"))
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error during Update: %v", err)
	}

	if removed != 10 {
		t.Errorf("Expected 10 removed keys, got %d", removed)
	}
	if keys := keysIn(database, db.CFDefault, "t1/", "t2/"); len(keys) != 0 {
		t.Errorf("Expected no keys with prefix t1/, got %v", keys)
	}
	if keys := keysIn(database, db.CFDefault, "t2/", ""); len(keys) != 10 {
		t.Errorf("Expected 10 keys with prefix t2/, got %d", len(keys))
	}
}

func testAtomicUpdate(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureDelete|db.FeatureDeletePrefix|db.FeatureAtomicUpdate)

	put(t, database, db.CFDefault, "keep", []byte("original"), 1)
	put(t, database, db.CFDefault, "p/1", []byte("one"), 2)
	put(t, database, db.CFDefault, "p/2", []byte("two"), 3)

	errAbort := errors.New("abort")
	err := database.Update(10, func(w db.Writer) error {
		w.Put(db.CFDefault, []byte("keep"), []byte("changed"))
		w.Put(db.CFDefault, []byte("new"), []byte("value"))
		w.Put(db.CFRefs, []byte("new"), []byte("ref"))
		w.Delete(db.CFDefault, []byte("p/1"))
		w.DeletePrefix(db.CFDefault, []byte("p/"))

		// the update sees its own writes
		if v, ok := w.Get(db.CFDefault, []byte("keep")); !ok || string(v) != "changed" {
			t.Errorf("Expected update to see its own write, got %s", v)
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("Expected update error to be returned, got %v", err)
	}

	if v, _ := database.Get(db.CFDefault, []byte("keep")); string(v) != "original" {
		t.Errorf("Expected rollback of 'keep', got %s", v)
	}
	if database.Has(db.CFDefault, []byte("new")) || database.Has(db.CFRefs, []byte("new")) {
		t.Errorf("Expected rollback of inserted keys")
	}
	if keys := keysIn(database, db.CFDefault, "p/", "p0"); len(keys) != 2 {
		t.Errorf("Expected rollback of prefix delete, got %v", keys)
	}
	if database.WriteIdx() != 3 {
		t.Errorf("Expected write index to stay at 3 after a failed update, got %d", database.WriteIdx())
	}
}

func testWriteIndex(t *testing.T, database db.KVDB) {
	defer database.Close()

	if database.WriteIdx() != 0 {
		t.Errorf("Expected fresh database to have write index 0")
	}

	put(t, database, db.CFDefault, "k", []byte("v"), 5)
	if database.WriteIdx() != 5 {
		t.Errorf("Expected write index 5, got %d", database.WriteIdx())
	}

	database.SetWriteIdx(3)
	if database.WriteIdx() != 5 {
		t.Errorf("Write index must never decrease, got %d", database.WriteIdx())
	}

	database.SetWriteIdx(9)
	if database.WriteIdx() != 9 {
		t.Errorf("Expected write index 9, got %d", database.WriteIdx())
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	database2 := factory()

	// close the databases after the test
	defer database.Close()
	defer database2.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet|db.FeatureSave|db.FeatureLoad)

	numEntries := 1000
	originalKeys := make([]string, numEntries)
	originalValues := make([][]byte, numEntries)

	err := database.Update(uint64(numEntries), func(w db.Writer) error {
		for i := 0; i < numEntries; i++ {
			key := fmt.Sprintf("save-load-test-key-%d", i)
			value := []byte(fmt.Sprintf("save-load-test-value-%d", i))
			originalKeys[i] = key
			originalValues[i] = value

			w.Put(int8(i%3), []byte(key), value)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error during Update: %v", err)
	}

	// stale content of the target must be replaced
	put(t, database2, db.CFDefault, "stale", []byte("stale"), 1)

	var buf bytes.Buffer
	err = database.Save(&buf)
	if err != nil {
		t.Errorf("Unexpected error during Save: %v", err)
	}

	err = database2.Load(&buf)
	if err != nil {
		t.Errorf("Unexpected error during Load: %v", err)
	}

	for i := 0; i < numEntries; i++ {
		key := originalKeys[i]
		expectedValue := originalValues[i]

		actualValue, exists := database2.Get(int8(i%3), []byte(key))
		if !exists {
			t.Errorf("Key %s not found after Load", key)
			continue
		}

		if !bytes.Equal(actualValue, expectedValue) {
			t.Errorf("Value mismatch for key %s: expected %s, got %s", key, expectedValue, actualValue)
		}
	}

	if database2.Has(db.CFDefault, []byte("stale")) {
		t.Errorf("Expected Load to replace the previous state")
	}
	if database2.WriteIdx() != database.WriteIdx() {
		t.Errorf("Expected write index %d after Load, got %d", database.WriteIdx(), database2.WriteIdx())
	}

	if err := database2.Load(bytes.NewReader([]byte("garbage"))); err == nil {
		t.Errorf("Expected error when loading garbage")
	}
	if database2.GetInfo().Entries != numEntries {
		t.Errorf("Failed Load must keep the previous state")
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet)

	tests := []struct {
		name  string
		key   []byte
		value []byte
	}{
		{"EmptyKey", []byte{}, []byte("empty-key-value")},
		{"BinaryKey", []byte{0x00, 0xFF, 0x00, 0x01}, []byte("binary")},
		{"LargeValue", []byte("large"), bytes.Repeat([]byte{0xAB}, 1<<20)},
		{"UnicodeKey", []byte("schlüssel-🔑"), []byte("unicode")},
	}

	for i, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := database.Update(uint64(i+1), func(w db.Writer) error {
				w.Put(db.CFDefault, tc.key, tc.value)
				return nil
			})
			if err != nil {
				t.Fatalf("Unexpected error during Update: %v", err)
			}

			value, exists := database.Get(db.CFDefault, tc.key)
			if !exists {
				t.Fatalf("Expected key %q to exist", tc.key)
			}
			if !bytes.Equal(value, tc.value) {
				t.Errorf("Value mismatch for key %q", tc.key)
			}
		})
	}

	info := database.GetInfo()
	if info.Entries != len(tests) {
		t.Errorf("Expected %d entries in info, got %d", len(tests), info.Entries)
	}
}

func testConcurrentUsage(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet|db.FeatureScan)

	const writers, perWriter = 8, 200
	var (
		wg  sync.WaitGroup
		idx uint64
		mu  sync.Mutex
	)

	nextIdx := func() uint64 {
		mu.Lock()
		defer mu.Unlock()
		idx++
		return idx
	}

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := fmt.Sprintf("w%d/%04d", w, i)
				_ = database.Update(nextIdx(), func(wr db.Writer) error {
					wr.Put(db.CFDefault, []byte(key), []byte(key))
					return nil
				})

				// concurrent readers
				if v, ok := database.Get(db.CFDefault, []byte(key)); !ok || string(v) != key {
					t.Errorf("Expected to read own write %s", key)
				}
				_ = database.View(func(r db.Reader) error {
					r.AscendRange(db.CFDefault, []byte(fmt.Sprintf("w%d/", w)), nil, func(_, _ []byte) bool {
						return false
					})
					return nil
				})
			}
		}(w)
	}
	wg.Wait()

	if n := len(keysIn(database, db.CFDefault, "", "")); n != writers*perWriter {
		t.Errorf("Expected %d keys, got %d", writers*perWriter, n)
	}
	if database.WriteIdx() != writers*perWriter {
		t.Errorf("Expected write index %d, got %d", writers*perWriter, database.WriteIdx())
	}
}
