package server

import (
	"fmt"
	"slices"
	"time"

	"github.com/ValentinKolb/shmrt/lib/db"
	"github.com/ValentinKolb/shmrt/lib/db/engines/maple"
	"github.com/ValentinKolb/shmrt/lib/store"
	"github.com/ValentinKolb/shmrt/lib/store/dstore"
	"github.com/ValentinKolb/shmrt/lib/store/lstore"
	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/lni/dragonboat/v4"
	"github.com/puzpuzpuz/xsync/v3"
)

// groupRegistry owns the replication groups of a host. Local groups are plain
// stores, distributed groups are raft shards on a shared NodeHost.
type groupRegistry struct {
	autoCreate bool
	dbFactory  store.DBFactory
	nodeHost   *dragonboat.NodeHost
	groups     *xsync.MapOf[uint64, store.IStore]
}

func newGroupRegistry(cfg *common.HostConfig) (*groupRegistry, error) {
	r := &groupRegistry{
		autoCreate: cfg.AutoCreateGroups,
		dbFactory:  func() db.KVDB { return maple.NewMapleDB(nil) },
		groups:     xsync.NewMapOf[uint64, store.IStore](),
	}

	if cfg.HasDistributedShard() {
		// Only create the NodeHost if we have distributed groups
		nh, err := dragonboat.NewNodeHost(cfg.ToNodeHostConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create node host: %w", err)
		}
		r.nodeHost = nh
	}

	timeout := time.Duration(cfg.TimeoutSecond) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	for _, shard := range cfg.Shards {
		if _, exists := r.groups.Load(shard.ShardID); exists {
			r.close()
			return nil, fmt.Errorf("group %d configured twice", shard.ShardID)
		}

		switch shard.Type {
		case common.ShardTypeLocal:
			r.groups.Store(shard.ShardID, lstore.NewLocalStore(r.dbFactory))
			Logger.Infof("created local group %d", shard.ShardID)

		case common.ShardTypeDistributed:
			err := r.nodeHost.StartConcurrentReplica(cfg.ClusterMembers, false,
				dstore.CreateStateMachineFactory(r.dbFactory), cfg.ToDragonboatConfig(shard.ShardID))
			if err != nil {
				r.close()
				return nil, fmt.Errorf("failed to start group %d: %w", shard.ShardID, err)
			}
			r.groups.Store(shard.ShardID, dstore.NewDistributedStore(r.nodeHost, shard.ShardID, timeout))
			Logger.Infof("started raft group %d", shard.ShardID)

		default:
			r.close()
			return nil, fmt.Errorf("invalid group type %q for group %d", shard.Type, shard.ShardID)
		}
	}
	return r, nil
}

// get returns the store of a group. Unknown groups are created as local
// groups when auto creation is enabled.
func (r *groupRegistry) get(id uint64) (store.IStore, error) {
	if s, ok := r.groups.Load(id); ok {
		return s, nil
	}
	if !r.autoCreate {
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("group %d not found", id))
	}
	s, loaded := r.groups.LoadOrCompute(id, func() store.IStore {
		return lstore.NewLocalStore(r.dbFactory)
	})
	if !loaded {
		Logger.Infof("created local group %d on first use", id)
	}
	return s, nil
}

// ids returns the group ids in ascending order.
func (r *groupRegistry) ids() []uint64 {
	ids := make([]uint64, 0, r.groups.Size())
	r.groups.Range(func(id uint64, _ store.IStore) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}

func (r *groupRegistry) close() {
	if r.nodeHost != nil {
		r.nodeHost.Close()
		r.nodeHost = nil
	}
}
