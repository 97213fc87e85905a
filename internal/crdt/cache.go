package crdt

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/calimero-network/core/pkg/ids"
)

// EntityCache is a shared, bounded hot-entity cache sitting in front of
// decode-from-store: the merkle recomputation pass re-reads an
// entity's ancestors on every dirty write, and the sync reconciliation
// loop re-reads the same few DAG heads and root entities across many
// cycles, so a small LRU of decoded *Entity values avoids repeated
// json.Unmarshal and bbolt round-trips for the working set any one
// context actually touches.
type EntityCache struct {
	cache *lru.Cache[cacheKey, *Entity]
}

type cacheKey struct {
	contextID ids.ContextId
	entityID  ids.EntityId
	private   bool
}

// NewEntityCache builds a shared cache holding up to size decoded
// entities across all contexts and trees. A Tree is constructed with a
// *EntityCache (possibly nil, meaning "no caching") via NewTreeWithCache.
func NewEntityCache(size int) (*EntityCache, error) {
	c, err := lru.New[cacheKey, *Entity](size)
	if err != nil {
		return nil, err
	}
	return &EntityCache{cache: c}, nil
}

func (c *EntityCache) get(contextID ids.ContextId, id ids.EntityId, private bool) (*Entity, bool) {
	if c == nil {
		return nil, false
	}
	e, ok := c.cache.Get(cacheKey{contextID, id, private})
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

func (c *EntityCache) put(contextID ids.ContextId, id ids.EntityId, private bool, e *Entity) {
	if c == nil {
		return
	}
	cp := *e
	c.cache.Add(cacheKey{contextID, id, private}, &cp)
}
