// Package server implements the host side of a channel. The host owns the
// replication groups and answers the requests a worker sends over the channel.
//
// The package focuses on:
//   - Routing catalog messages to adapters by message kind
//   - KV operations and host buffered transactions on local and raft groups
//   - Host services callable through Invoke
//   - Partition ids drawn from counters in the meta group
//   - Collecting worker metric reports next to the host's own request metrics
//
// Key Components:
//
//   - IHostAdapter: Interface for the handlers of one message family.
//
//   - Host: Creates the groups of a common.HostConfig, registers itself as the
//     channel handler and runs the channel and the metrics endpoint.
//
// Transactions: writes with a transaction handle are buffered per group and
// applied on commit, one atomic batch per group in ascending group order.
// Gets inside a transaction see the buffered writes, scans read committed rows.
//
// Usage Example:
//
//	config := common.HostConfig{
//	  Channel: common.DefaultChannelConfig("app"),
//	  Shards: []common.HostShard{
//	    {ShardID: 1, Type: common.ShardTypeLocal},
//	  },
//	  MetaGroup: 1,
//	}
//
//	ch, err := shm.Listen(config.Channel)
//	if err != nil {
//	  log.Fatal(err)
//	}
//	host, err := server.NewHost(config, ch)
//	if err != nil {
//	  log.Fatal(err)
//	}
//	defer host.Close()
//
//	if err := host.Run(ctx); err != nil {
//	  log.Fatal(err)
//	}
package server
