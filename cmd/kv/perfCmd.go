package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/ValentinKolb/shmrt/cmd/util"
	"github.com/ValentinKolb/shmrt/lib/store"
	"github.com/ValentinKolb/shmrt/rpc/client"
	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for a running host",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make(map[string]bool)
)

// benchmarks in the order they run
var perfTests = []string{"insert", "insert-large", "get", "update", "delete", "scan", "txn", "mixed"}

func init() {
	key := "skip"
	perfTestCmd.Flags().StringSlice(key, nil, util.WrapString("Benchmarks to skip (comma separated - e.g. insert,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the insert-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = viper.GetInt("threads")
	for _, s := range viper.GetStringSlice("skip") {
		perfSkip[s] = true
	}
	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	conf, err := util.GetChannelConfig()
	if err != nil {
		return err
	}

	fmt.Println("Performance testing tool for shmrt hosts")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Channel: %s (%d x %d bytes)\n", conf.Name, conf.ChunkCount, conf.ChunkSize)
	fmt.Printf("Group: %d\n", group())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()
	fmt.Println("starting tests...")

	ctx := context.Background()
	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	value := []byte("test")

	insert := func(k []byte, v []byte) error {
		_, err := kvClient.Insert(ctx, group(), cf(), k, store.Row{Value: v}, client.WriteOptions{Override: true})
		return err
	}
	remove := func(k []byte) error {
		_, err := kvClient.Delete(ctx, group(), cf(), k, client.WriteOptions{})
		return err
	}

	ops := map[string]struct {
		prefill bool
		op      func(counter int, k []byte) error
	}{
		"insert":       {op: func(_ int, k []byte) error { return insert(k, value) }},
		"insert-large": {op: func(_ int, k []byte) error { return insert(k, largeValue) }},
		"get": {prefill: true, op: func(_ int, k []byte) error {
			_, _, err := kvClient.Get(ctx, group(), cf(), k)
			return err
		}},
		"update": {prefill: true, op: func(_ int, k []byte) error {
			_, err := kvClient.Update(ctx, group(), cf(), k, store.Row{Value: value}, client.WriteOptions{})
			return err
		}},
		"delete": {prefill: true, op: func(_ int, k []byte) error {
			err := remove(k)
			if store.CodeOf(err) == store.RetCNotFound {
				return nil
			}
			return err
		}},
		"scan": {prefill: true, op: func(_ int, k []byte) error {
			_, err := kvClient.Scan(ctx, group(), store.ScanQuery{CF: cf(), Begin: k, Take: 10})
			return err
		}},
		"txn": {prefill: true, op: func(_ int, k []byte) error {
			txn, err := kvClient.Begin(ctx, group())
			if err != nil {
				return err
			}
			if _, _, err := txn.Get(ctx, group(), cf(), k); err != nil {
				_ = txn.Rollback(ctx)
				return err
			}
			if _, err := txn.Insert(ctx, group(), cf(), k, store.Row{Value: value}, client.WriteOptions{Override: true}); err != nil {
				_ = txn.Rollback(ctx)
				return err
			}
			_, err = txn.Commit(ctx)
			return err
		}},
		"mixed": {prefill: true, op: func(counter int, k []byte) error {
			var err error
			switch counter % 4 {
			case 0:
				err = insert(k, value)
			case 1:
				_, _, err = kvClient.Get(ctx, group(), cf(), k)
			case 2:
				err = remove(k)
			case 3:
				_, err = kvClient.Scan(ctx, group(), store.ScanQuery{CF: cf(), Begin: k, Take: 1})
			}
			if store.CodeOf(err) == store.RetCNotFound {
				return nil
			}
			return err
		}},
	}

	results := make(map[string]testing.BenchmarkResult)
	for _, name := range perfTests {
		test := ops[name]
		result := testing.Benchmark(func(b *testing.B) {
			if perfSkip[name] {
				return
			}

			getKey, iter := getKeys(name)

			if test.prefill {
				iter(func(k []byte) {
					if err := insert(k, value); err != nil {
						log.Printf("(%s) - error inserting key: %v\n", name, err)
					}
				})
			}

			b.Cleanup(func() {
				iter(func(k []byte) {
					if err := remove(k); err != nil && store.CodeOf(err) != store.RetCNotFound {
						log.Printf("(%s) - error deleting key: %v\n", name, err)
					}
				})
			})

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if err := test.op(counter, getKey(counter)); err != nil {
						log.Printf("(%s) - error: %v\n", name, err)
					}
					counter++
				}
			})
		})

		results[name] = result
		printResult(name, result)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, conf); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) []byte, func(func([]byte))) {
	keys := make([][]byte, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = key(fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i))
	}

	getKey := func(i int) []byte {
		return keys[i%perfKeySpread]
	}

	iterateKeys := func(fn func([]byte)) {
		for _, k := range keys {
			fn(k)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, conf common.ChannelConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Channel", "ChunkCount", "ChunkSize", "HandlerWorkers", "Timeout",
		"Group", "Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, test := range perfTests {
		result, ok := results[test]
		if !ok {
			continue
		}
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			conf.Name,
			strconv.FormatUint(uint64(conf.ChunkCount), 10),
			strconv.FormatUint(uint64(conf.ChunkSize), 10),
			strconv.Itoa(conf.Workers),
			conf.Timeout.String(),
			strconv.FormatUint(group(), 10),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
