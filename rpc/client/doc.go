// Package client implements the worker side of a channel.
//
// The package focuses on:
//   - KV access to the replication groups of the host, with transactions
//   - Calls into host services through Invoke
//   - Serving worker services to the host
//   - Caching model metadata until the host invalidates it
//   - Reporting worker metrics to the host
//
// Key Components:
//
//   - KVClient: Insert, Update, Delete, AddRef, AlterSchema, DropTable, Get,
//     Scan, Begin and GenPartition. Store failures come back as *store.Error.
//
//   - Txn: an open transaction with the same operations plus Commit and
//     Rollback. It is unusable after either.
//
//   - InvokeClient: Invoke encodes arguments with a serializer and returns
//     callee failures as *InvokeFailure.
//
//   - MetricsReporter: posts an rcrowley/go-metrics registry as MetricReport.
//
//   - ModelCache: model metadata keyed by service and model id.
//
//   - Worker: ties the above to one channel and runs it.
//
// Usage Example:
//
//	ch, err := shm.Dial(common.DefaultChannelConfig("app"))
//	if err != nil {
//	  log.Fatal(err)
//	}
//	w := client.NewWorker(common.WorkerConfig{PeerID: 1, MetricsInterval: 10 * time.Second}, ch)
//	defer w.Close()
//	go w.Run(ctx)
//
//	_, err = w.KV().Insert(ctx, 1, 0, []byte("key"), store.Row{Value: []byte("value")}, client.WriteOptions{})
//	row, found, err := w.KV().Get(ctx, 1, 0, []byte("key"))
//
// Thread Safety:
//
//	All clients are thread-safe and can be used concurrently from multiple
//	goroutines. A Txn may be shared, but Commit and Rollback end it for all users.
package client
