package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/shmrt/lib/db"
)

// RunKVDBBenchmarks runs all benchmarks for a key-value database implementations
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {

	b.Run("Put", func(b *testing.B) {
		benchmarkPut(b, factory())
	})

	b.Run("PutExisting", func(b *testing.B) {
		benchmarkPutExisting(b, factory())
	})

	b.Run("PutLargeValue", func(b *testing.B) {
		benchmarkPutLargeValue(b, factory())
	})

	b.Run("Batch", func(b *testing.B) {
		benchmarkBatch(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("Has(not)", func(b *testing.B) {
		benchmarkHasNot(b, factory())
	})

	b.Run("Scan", func(b *testing.B) {
		benchmarkScan(b, factory())
	})

	b.Run("SaveLoad", func(b *testing.B) {
		benchmarkSaveLoad(b, factory)
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// populate writes numKeys keys in a single update
func populate(b *testing.B, database db.KVDB, numKeys int) []string {
	keys := make([]string, numKeys)
	err := database.Update(1, func(w db.Writer) error {
		for i := 0; i < numKeys; i++ {
			keys[i] = fmt.Sprintf("test-key-%08d", i)
			w.Put(db.CFDefault, []byte(keys[i]), []byte(fmt.Sprintf("test-value-%d", i)))
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}
	return keys
}

// Benchmark for single Put updates
func benchmarkPut(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut)

	var idx atomic.Uint64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := idx.Add(1)
			key := []byte(fmt.Sprintf("test-key-%d", i))
			value := []byte(fmt.Sprintf("test-value-%d", i))
			_ = database.Update(i, func(w db.Writer) error {
				w.Put(db.CFDefault, key, value)
				return nil
			})
		}
	})
}

// Benchmark for Put with existing keys
func benchmarkPutExisting(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut)

	// Prepare data
	numKeys := 10000
	keys := populate(b, database, numKeys)
	var idx atomic.Uint64
	idx.Store(1)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := []byte(keys[counter%numKeys])
			value := []byte(fmt.Sprintf("test-value-%d", counter))
			_ = database.Update(idx.Add(1), func(w db.Writer) error {
				w.Put(db.CFDefault, key, value)
				return nil
			})
			counter++
		}
	})
}

// Benchmark for Put with large values
func benchmarkPutLargeValue(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut)

	largeValue := make([]byte, 1*1024*1024) // 1MB
	var idx atomic.Uint64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := idx.Add(1)
			key := []byte(fmt.Sprintf("test-key-%d", i%64))
			_ = database.Update(i, func(w db.Writer) error {
				w.Put(db.CFDefault, key, largeValue)
				return nil
			})
		}
	})
}

// Benchmark for updates that write 64 keys at once
func benchmarkBatch(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut|db.FeatureAtomicUpdate)

	value := []byte("batch-value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = database.Update(uint64(i+1), func(w db.Writer) error {
			for j := 0; j < 64; j++ {
				w.Put(db.CFDefault, []byte(fmt.Sprintf("batch-%d-%d", i, j)), value)
			}
			return nil
		})
	}
}

// Parallel benchmarking for Get operation
func benchmarkGet(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut|db.FeatureGet)

	// Prepare data
	numKeys := 10000
	keys := populate(b, database, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			database.Get(db.CFDefault, []byte(keys[counter%numKeys]))
			counter++
		}
	})
}

// Parallel benchmarking for Has operation (with key miss)
func benchmarkHasNot(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureGet)
	key := []byte("test-key")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			database.Has(db.CFDefault, key)
		}
	})
}

// Benchmark for short ordered scans
func benchmarkScan(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut|db.FeatureScan)

	numKeys := 10000
	keys := populate(b, database, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			n := 0
			database.AscendRange(db.CFDefault, []byte(keys[counter%numKeys]), nil, func(_, _ []byte) bool {
				n++
				return n < 100
			})
			counter++
		}
	})
}

// Benchmark for Save and Load operations
// For these operations, parallelization is not meaningful as they typically
// lock the entire database
func benchmarkSaveLoad(b *testing.B, factory DBFactory) {

	database := factory()

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut|db.FeatureSave|db.FeatureLoad)

	// Create a database with some data
	populate(b, database, 10000)

	b.Run("Save", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			var buf bytes.Buffer
			database.Save(&buf)
		}
	})

	// Prepare a data buffer for Load benchmark
	var loadBuf bytes.Buffer
	database.Save(&loadBuf)
	data := loadBuf.Bytes()

	b.Run("Load", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			loadDB := factory()
			loadDB.Load(bytes.NewReader(data))
			loadDB.Close()
		}
	})
}

// Benchmark for mixed usage patterns
func benchmarkMixedUsage(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut|db.FeatureGet|db.FeatureDelete|db.FeatureScan)

	// Number of pre-populated keys
	numKeys := 100000
	if b.N < numKeys {
		numKeys = b.N
	}
	keys := populate(b, database, numKeys)

	var idx atomic.Uint64
	idx.Store(1)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

		for pb.Next() {
			key := []byte(keys[rnd.Intn(numKeys)])

			// 60% get, 25% put, 10% delete, 5% scan
			switch p := rnd.Intn(100); {
			case p < 60:
				database.Get(db.CFDefault, key)
			case p < 85:
				_ = database.Update(idx.Add(1), func(w db.Writer) error {
					w.Put(db.CFDefault, key, []byte("mixed-value"))
					return nil
				})
			case p < 95:
				_ = database.Update(idx.Add(1), func(w db.Writer) error {
					w.Delete(db.CFDefault, key)
					return nil
				})
			default:
				n := 0
				database.AscendRange(db.CFDefault, key, nil, func(_, _ []byte) bool {
					n++
					return n < 10
				})
			}
		}
	})
}
