package client

import (
	"slices"

	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
)

type modelKey struct {
	service string
	model   uint64
}

// ModelCache keeps model metadata the worker loaded from services. The host
// invalidates entries with InvalidModelsCache.
type ModelCache struct {
	entries *xsync.MapOf[modelKey, []byte]
}

func NewModelCache() *ModelCache {
	return &ModelCache{entries: xsync.NewMapOf[modelKey, []byte]()}
}

// Get returns the cached metadata of a model.
func (c *ModelCache) Get(service string, model uint64) ([]byte, bool) {
	return c.entries.Load(modelKey{service, model})
}

// Put caches a copy of meta.
func (c *ModelCache) Put(service string, model uint64, meta []byte) {
	c.entries.Store(modelKey{service, model}, slices.Clone(meta))
}

// GetOrLoad returns the cached metadata or caches the result of load.
// Concurrent callers for the same model run load once.
func (c *ModelCache) GetOrLoad(service string, model uint64, load func() ([]byte, error)) ([]byte, error) {
	var loadErr error
	meta, _ := c.entries.Compute(modelKey{service, model}, func(old []byte, loaded bool) ([]byte, bool) {
		if loaded {
			return old, false
		}
		meta, err := load()
		if err != nil {
			loadErr = err
			return nil, true
		}
		return meta, false
	})
	return meta, loadErr
}

// Len returns the number of cached models.
func (c *ModelCache) Len() int { return c.entries.Size() }

// Invalidate drops every entry of one of the listed services and every entry
// of one of the listed models. A message listing neither clears the cache. It
// returns the number of dropped entries.
func (c *ModelCache) Invalidate(msg *common.InvalidModelsCache) int {
	if len(msg.Services) == 0 && len(msg.Models) == 0 {
		n := c.entries.Size()
		c.entries.Clear()
		return n
	}

	dropped := 0
	c.entries.Range(func(k modelKey, _ []byte) bool {
		if slices.Contains(msg.Services, k.service) || slices.Contains(msg.Models, k.model) {
			c.entries.Delete(k)
			dropped++
		}
		return true
	})
	return dropped
}
