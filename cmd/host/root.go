package host

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/shmrt/cmd/util"
	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/debug"
	"github.com/ValentinKolb/shmrt/rpc/server"
	"github.com/ValentinKolb/shmrt/rpc/service"
	"github.com/ValentinKolb/shmrt/rpc/transport/shm"
	"github.com/cespare/xxhash/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	hostCmdConfig = &common.HostConfig{}
	HostCmd       = &cobra.Command{
		Use:     "host",
		Short:   "Start the host side of a channel",
		Long:    `Create the shared memory channel and serve the storage engine and host services to the attached worker. The configuration can be set via command line flags or environment variables. The format of the environment variables is SHMRT_<flag> (e.g. SHMRT_CHUNK_SIZE=8192)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupChannelFlags(HostCmd)

	key := "groups"
	HostCmd.PersistentFlags().String(key, "1=lstore", util.WrapString("Comma-separated list of groups to serve. Format: ID=TYPE where TYPE is one of: dstore, lstore"))

	key = "auto-create-groups"
	HostCmd.PersistentFlags().Bool(key, false, util.WrapString("Create a local group for unknown group ids instead of failing the request"))

	key = "meta-group"
	HostCmd.PersistentFlags().Uint64(key, 1, util.WrapString("Group holding the partition counters"))

	key = "metrics-endpoint"
	HostCmd.PersistentFlags().String(key, "", util.WrapString("Address of the Prometheus endpoint (e.g. :9100), empty disables it"))

	key = "debug"
	HostCmd.PersistentFlags().Bool(key, false, util.WrapString("Open a debug session channel that a debug adapter can attach to"))

	key = "debug-session"
	HostCmd.PersistentFlags().String(key, "", util.WrapString("Id of the debug session, a random one is generated if empty"))

	key = "rtt-millisecond"
	HostCmd.PersistentFlags().Int(key, 100, util.WrapString("(dstore) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. \nOther raft configuration parameters (ElectionRTT=value/10, HeartbeatRTT=value/100) are derived from this value"))

	key = "snapshot-entries"
	HostCmd.PersistentFlags().Int(key, 10, util.WrapString("(dstore) SnapshotEntries defines how often the state machine should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. SnapshotEntries can be set to 0 to disable such automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	HostCmd.PersistentFlags().Int(key, 5, util.WrapString("(dstore) CompactionOverhead defines the number of snapshots that should be retained in the system. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	HostCmd.PersistentFlags().String(key, "data", util.WrapString("(dstore) DataDir is the directory used for storing the snapshots"))

	key = "replica-id"
	HostCmd.PersistentFlags().String(key, "", util.WrapString("(dstore) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	HostCmd.PersistentFlags().String(key, "", util.WrapString("(dstore) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "raft-timeout"
	HostCmd.PersistentFlags().Int64(key, 5, util.WrapString("(dstore) Timeout of raft proposals in seconds"))
}

// parseGroups parses the ID=TYPE list of the groups flag
func parseGroups(groups string) ([]common.HostShard, error) {
	var shards []common.HostShard
	for _, groupConfig := range strings.Split(groups, ",") {
		if strings.TrimSpace(groupConfig) == "" {
			continue
		}
		parts := strings.Split(groupConfig, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid group format: %s (expected ID=TYPE)", groupConfig)
		}

		groupID, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid group ID %s: %v", parts[0], err)
		}

		var shardType common.ShardType
		switch strings.TrimSpace(parts[1]) {
		case "dstore":
			shardType = common.ShardTypeDistributed
		case "lstore":
			shardType = common.ShardTypeLocal
		default:
			return nil, fmt.Errorf("invalid group type: %s (expected one of: dstore, lstore)", parts[1])
		}

		shards = append(shards, common.HostShard{ShardID: groupID, Type: shardType})
	}
	return shards, nil
}

// processConfig reads the flags and environment variables and converts them to the host configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := util.InitLogging(); err != nil {
		return err
	}

	channel, err := util.GetChannelConfig()
	if err != nil {
		return err
	}
	hostCmdConfig.Channel = channel

	if hostCmdConfig.Shards, err = parseGroups(viper.GetString("groups")); err != nil {
		return err
	}

	hostCmdConfig.AutoCreateGroups = viper.GetBool("auto-create-groups")
	hostCmdConfig.MetaGroup = viper.GetUint64("meta-group")
	hostCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	hostCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	hostCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	hostCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	hostCmdConfig.DataDir = viper.GetString("data-dir")
	hostCmdConfig.TimeoutSecond = viper.GetInt64("raft-timeout")
	hostCmdConfig.LogLevel = viper.GetString("log-level")

	// parse replica id
	if id := viper.GetString("replica-id"); id != "" {
		hostCmdConfig.ReplicaID = xxhash.Sum64String(id)
	} else if hostCmdConfig.HasDistributedShard() {
		return fmt.Errorf("ReplicaId is required for dstore groups")
	}

	// parse cluster members
	if clusterMembers := viper.GetString("cluster-members"); clusterMembers != "" {
		hostCmdConfig.ClusterMembers = make(map[uint64]string)
		for _, member := range strings.Split(clusterMembers, ",") {
			parts := strings.Split(member, "=")
			if len(parts) != 2 {
				return fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
			}
			hostCmdConfig.ClusterMembers[xxhash.Sum64String(parts[0])] = parts[1]
		}
	} else if hostCmdConfig.HasDistributedShard() {
		return fmt.Errorf("ClusterMembers is required for dstore groups")
	}

	if _, ok := hostCmdConfig.ClusterMembers[hostCmdConfig.ReplicaID]; !ok && hostCmdConfig.HasDistributedShard() {
		return fmt.Errorf("no address found for replica ID %d in cluster members", hostCmdConfig.ReplicaID)
	}

	return nil
}

// run creates the channel and serves it until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	channel, err := shm.Listen(hostCmdConfig.Channel)
	if err != nil {
		return err
	}

	h, err := server.NewHost(*hostCmdConfig, channel)
	if err != nil {
		_ = channel.Close()
		return err
	}
	defer h.Close()

	h.RegisterService("echo", service.Typed(func(_ context.Context, _ service.Call, args map[string]any) (map[string]any, error) {
		return args, nil
	}))

	ctx, cancel := util.SignalContext()
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Run(ctx) })

	if viper.GetBool("debug") {
		session := viper.GetString("debug-session")
		if session == "" {
			session = debug.NewSession()
		}
		debugConfig := hostCmdConfig.Channel
		debugConfig.Name = debug.ChannelName(hostCmdConfig.Channel.Name, session)

		debugChannel, err := shm.Listen(debugConfig)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("open debug channel: %w", err)
		}
		defer debugChannel.Close()

		bridge := debug.NewBridge(debugChannel, session)
		defer bridge.Close()

		fmt.Printf("debug session %s (attach with: shmrt debug-adapter --channel %s --session %s)\n",
			session, hostCmdConfig.Channel.Name, session)

		g.Go(func() error { return debugChannel.Serve(ctx) })
		g.Go(func() error { return h.ServeDebugger(ctx, bridge) })
	}

	if err := g.Wait(); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
