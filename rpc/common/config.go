package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/shmrt/lib/mq"
	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for dstore groups)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the HostConfig to the Dragonboat Config of one shard
func (c *HostConfig) ToDragonboatConfig(shardId uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            shardId,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *HostConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// Channel configuration
// --------------------------------------------------------------------------

// ChannelConfig describes the pair of queues between one host and its worker.
// The host creates the queues <Name>_h2w and <Name>_w2h, the worker opens them.
type ChannelConfig struct {
	Name       string
	ChunkCount uint32        // chunks per queue (ring nodes), at least 2
	ChunkSize  uint32        // bytes per chunk including the chunk header
	Workers    int           // handler goroutines for incoming requests
	Timeout    time.Duration // bound for writes and calls without a context deadline

	// MaxMessageSize bounds the encoded size of a single message in both
	// directions, 0 selects mq.DefaultMaxMessageSize
	MaxMessageSize uint32
}

// DefaultChannelConfig returns the defaults used by the CLI.
func DefaultChannelConfig(name string) ChannelConfig {
	return ChannelConfig{
		Name:       name,
		ChunkCount: 64,
		ChunkSize:  4096,
		Workers:    8,
		Timeout:    5 * time.Second,

		MaxMessageSize: mq.DefaultMaxMessageSize,
	}
}

// Validate checks the channel parameters.
func (c ChannelConfig) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("channel name must not be empty")
	case c.ChunkCount < 2:
		return fmt.Errorf("channel needs at least 2 chunks, got %d", c.ChunkCount)
	case c.ChunkCount > mq.MaxChunkCount:
		return fmt.Errorf("channel holds at most %d chunks, got %d", mq.MaxChunkCount, c.ChunkCount)
	case c.ChunkSize <= mq.ChunkHeaderSize:
		return fmt.Errorf("chunk size %d leaves no room for payload", c.ChunkSize)
	case c.Workers < 1:
		return fmt.Errorf("channel needs at least 1 worker, got %d", c.Workers)
	}
	return nil
}

func (c ChannelConfig) addTo(addSection func(string), addField func(string, string)) {
	addSection("Channel")
	addField("Name", c.Name)
	addField("Chunks", fmt.Sprintf("%d x %d bytes", c.ChunkCount, c.ChunkSize))
	addField("Handler Workers", strconv.Itoa(c.Workers))
	addField("Timeout", c.Timeout.String())
	addField("Max Message Size", fmt.Sprintf("%d bytes", c.MaxMessageLen()))
}

// MaxMessageLen returns MaxMessageSize with the default applied.
func (c ChannelConfig) MaxMessageLen() int {
	if c.MaxMessageSize == 0 {
		return mq.DefaultMaxMessageSize
	}
	return int(c.MaxMessageSize)
}

// --------------------------------------------------------------------------
// Host configuration struct
// --------------------------------------------------------------------------

type ShardType string

const (
	ShardTypeLocal       ShardType = "lstore"
	ShardTypeDistributed ShardType = "dstore"
)

// HostShard is one replication group served by the host.
type HostShard struct {
	// ShardID is the group id used by KV messages
	ShardID uint64
	Type    ShardType
}

// HostConfig holds all configuration parameters of a host process.
type HostConfig struct {
	Channel ChannelConfig

	// Replication groups
	Shards []HostShard
	// AutoCreateGroups creates a local group for unknown group ids instead of failing
	AutoCreateGroups bool
	// MetaGroup holds the partition counters
	MetaGroup uint64

	// Dragonboat parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// Distributed store parameters
	TimeoutSecond int64

	// Metrics endpoint (e.g. ":9100"), empty disables it
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// HasDistributedShard checks if the configuration contains any raft backed groups
func (c *HostConfig) HasDistributedShard() bool {
	for _, shard := range c.Shards {
		if shard.Type == ShardTypeDistributed {
			return true
		}
	}
	return false
}

// String returns a formatted string representation of the configuration
func (c *HostConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	c.Channel.addTo(addSection, addField)

	addSection("Host")
	addField("Metrics Endpoint", c.MetricsEndpoint)
	addField("Log Level", c.LogLevel)

	// Shards
	addSection("Groups")
	for _, shard := range c.Shards {
		addField(strconv.FormatUint(shard.ShardID, 10), string(shard.Type))
	}
	addField("Auto Create", fmt.Sprintf("%t", c.AutoCreateGroups))
	addField("Meta Group", strconv.FormatUint(c.MetaGroup, 10))

	if c.HasDistributedShard() {
		// Node Identity
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))

		// RAFT parameters
		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))
		addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

		// Storage
		addSection("Storage")
		addField("Data Directory", c.DataDir)

		addSection("Cluster")
		sb.WriteString("  Initial Cluster Members:\n")

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// Worker configuration struct
// --------------------------------------------------------------------------

type WorkerConfig struct {
	Channel ChannelConfig
	// PeerID is used for entity ids generated by the worker and for metric reports
	PeerID uint16
	// MetricsInterval is the period of MetricReport messages, 0 disables reporting
	MetricsInterval time.Duration
	LogLevel        string
}

// String returns a formatted string representation of the worker configuration
func (c *WorkerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	c.Channel.addTo(addSection, addField)

	addSection("Worker")
	addField("Peer ID", strconv.Itoa(int(c.PeerID)))
	addField("Metrics Interval", c.MetricsInterval.String())
	addField("Log Level", c.LogLevel)

	return sb.String()
}
