package crdt

import (
	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/store"
	"github.com/calimero-network/core/pkg/ids"
)

// Tree is the per-invocation facade the execution engine sees: a typed
// container API over a store.Temporal staging layer. It
// never writes private-state entities to the synced column; callers
// choose the column explicitly via each method's private argument.
type Tree struct {
	tx        *store.Temporal
	contextID ids.ContextId
	cache     *EntityCache
	// staged overlays the shared cache with this transaction's own writes,
	// published into the shared cache only after the temporal layer
	// commits — a discarded invocation must leave no trace, cache
	// included.
	staged map[stagedKey]*Entity
	dirty  map[ids.EntityId]bool
	order  []ids.EntityId // insertion order, for deterministic delta payloads
}

type stagedKey struct {
	id      ids.EntityId
	private bool
}

// NewTree opens a tree over a context-scoped temporal staging layer, with
// no hot-entity cache in front of it.
func NewTree(tx *store.Temporal, contextID ids.ContextId) *Tree {
	return NewTreeWithCache(tx, contextID, nil)
}

// NewTreeWithCache is NewTree with a shared EntityCache consulted before
// every decode-from-store; writes and deletes are staged per transaction
// and reach the cache only through PublishCache — the
// node orchestrator wires one EntityCache across every context's Tree
// instances, since the working set of hot ancestors is what actually
// gets re-read on each invocation's merkle recomputation pass.
func NewTreeWithCache(tx *store.Temporal, contextID ids.ContextId, cache *EntityCache) *Tree {
	return &Tree{tx: tx, contextID: contextID, cache: cache, staged: make(map[stagedKey]*Entity), dirty: make(map[ids.EntityId]bool)}
}

func (t *Tree) entityKey(id ids.EntityId) []byte {
	key := make([]byte, 0, len(t.contextID)+len(id))
	key = append(key, t.contextID.Bytes()...)
	key = append(key, id.Bytes()...)
	return key
}

// column picks the synced or private-state column for id, per the
// invariant that private-state entities are never emitted in deltas.
func (t *Tree) column(private bool) store.Column {
	if private {
		return store.ColumnContextPrivate
	}
	return store.ColumnContextState
}

// Get resolves an entity by id, consulting this transaction's own staged
// writes first, then the shared EntityCache (if any), before decoding
// from the temporal store.
func (t *Tree) Get(id ids.EntityId, private bool) (*Entity, bool, error) {
	if e, ok := t.staged[stagedKey{id, private}]; ok {
		return e, true, nil
	}
	if e, ok := t.cache.get(t.contextID, id, private); ok {
		return e, true, nil
	}
	raw, ok, err := t.tx.Get(t.column(private), t.entityKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	e, err := DecodeEntity(raw)
	if err != nil {
		return nil, false, calerr.Wrap(calerr.KindStorage, err, "decode entity")
	}
	t.cache.put(t.contextID, id, private, e)
	return e, true, nil
}

// Put stores e, marking it and (transitively, in RecomputeHashes) its
// ancestors dirty so their merkle hashes get recomputed.
func (t *Tree) Put(e *Entity, private bool) error {
	raw, err := e.Encode()
	if err != nil {
		return calerr.Wrap(calerr.KindStorage, err, "encode entity")
	}
	t.tx.Put(t.column(private), t.entityKey(e.ID), raw)
	t.staged[stagedKey{e.ID, private}] = e
	t.markDirty(e.ID)
	return nil
}

// PublishCache flushes this transaction's staged entities into the shared
// EntityCache. Call it only after the underlying temporal layer has
// committed; a discarded transaction simply never publishes.
func (t *Tree) PublishCache() {
	for k, e := range t.staged {
		t.cache.put(t.contextID, k.id, k.private, e)
	}
}

// Delete tombstones e: sets deleted_at to nowNanos and clears the
// data. The entry itself is retained until the retention window
// expires and the sweeper removes it.
func (t *Tree) Delete(id ids.EntityId, private bool, nowNanos int64) error {
	e, ok, err := t.Get(id, private)
	if err != nil {
		return err
	}
	if !ok {
		return calerr.Newf(calerr.KindNotFound, "entity %s not found", id)
	}
	e.Data = nil
	e.DeletedAt = &nowNanos
	e.UpdatedAt = nowNanos
	return t.Put(e, private)
}

// EnsureRoot creates id as an empty root entity (Parent zero, no
// children yet) if it does not already exist, the precondition every
// storage_write relies on before it can link a new top-level key as the
// root's child in RecomputeHashes. A pre-existing root is left untouched
// and is not marked dirty.
func (t *Tree) EnsureRoot(id ids.EntityId, private bool) error {
	_, ok, err := t.Get(id, private)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	// TypeLWWRegister: the root carries no Data of its own (nothing ever
	// storage_writes to it directly), so its merge dispatch must not
	// require decodable Data the way TypeORMap/TypeGCounter/TypeRGA do.
	// Its Children are unioned by Merge regardless of Type (see
	// internal/crdt/merge.go), which is the only thing that matters here.
	root := &Entity{ID: id, Type: TypeLWWRegister}
	return t.Put(root, private)
}

func (t *Tree) markDirty(id ids.EntityId) {
	if !t.dirty[id] {
		t.dirty[id] = true
		t.order = append(t.order, id)
	}
}

// RecomputeHashes walks every dirty entity bottom-up, recomputing its
// merkle hash and propagating the new hash into its parent's ChildRef,
// marking the parent dirty in turn; ancestor propagation is lazy,
// happening only in this commit-time pass.
// It returns the final set of touched entities in a stable order, the
// basis for the commit's delta payload.
func (t *Tree) RecomputeHashes(private bool) ([]*Entity, error) {
	touched := make(map[ids.EntityId]*Entity)
	queue := append([]ids.EntityId(nil), t.order...)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		e, ok := touched[id]
		if !ok {
			loaded, exists, err := t.Get(id, private)
			if err != nil {
				return nil, err
			}
			if !exists {
				continue
			}
			e = loaded
		}

		e.MerkleHash = ComputeMerkleHash(e)
		touched[id] = e
		if err := t.Put(e, private); err != nil {
			return nil, err
		}

		if e.Parent.IsZero() {
			continue
		}
		parent, ok := touched[e.Parent]
		if !ok {
			loaded, exists, err := t.Get(e.Parent, private)
			if err != nil {
				return nil, err
			}
			if !exists {
				continue
			}
			parent = loaded
		}
		upsertChild(parent, ChildRef{ID: e.ID, MerkleHash: e.MerkleHash})
		touched[e.Parent] = parent
		if !t.dirty[e.Parent] {
			t.dirty[e.Parent] = true
			t.order = append(t.order, e.Parent)
		}
		// Re-queue the parent even when it is already dirty: it may have
		// been hashed earlier in this pass, before this child was linked.
		queue = append(queue, e.Parent)
	}

	out := make([]*Entity, 0, len(t.order))
	for _, id := range t.order {
		if e, ok := touched[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func upsertChild(parent *Entity, ref ChildRef) {
	for i, c := range parent.Children {
		if c.ID == ref.ID {
			parent.Children[i] = ref
			return
		}
	}
	parent.Children = append(parent.Children, ref)
}

// DirtyEntities returns the ids marked dirty so far, in insertion order.
func (t *Tree) DirtyEntities() []ids.EntityId {
	return append([]ids.EntityId(nil), t.order...)
}
