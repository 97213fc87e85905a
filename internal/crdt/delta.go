package crdt

import (
	"crypto/sha256"
	"encoding/json"
	"sort"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/store"
	"github.com/calimero-network/core/pkg/ids"
)

// Delta is the opaque encoded record of the write path: the
// set of changed entities, their new metadata, and their new data,
// produced once per successful invocation.
type Delta struct {
	ID        ids.Hash      `json:"id"`
	ContextID ids.ContextId `json:"context_id"`
	Parents   []ids.Hash    `json:"parents"`
	Author    ids.PublicKey `json:"author"`
	Timestamp int64         `json:"timestamp"`
	Entities  []*Entity     `json:"entities"`
}

// sortedParents returns parents sorted for a canonical, order-independent
// delta id.
func sortedParents(parents []ids.Hash) []ids.Hash {
	out := append([]ids.Hash(nil), parents...)
	sort.Slice(out, func(i, j int) bool { return lessBytes(out[i].Bytes(), out[j].Bytes()) })
	return out
}

// BuildDelta assembles a Delta and computes its id as
// H(context_id ‖ sorted_parents ‖ payload).
func BuildDelta(contextID ids.ContextId, author ids.PublicKey, timestamp int64, parents []ids.Hash, entities []*Entity) (*Delta, error) {
	d := &Delta{
		ContextID: contextID,
		Parents:   sortedParents(parents),
		Author:    author,
		Timestamp: timestamp,
		Entities:  entities,
	}
	payload, err := json.Marshal(struct {
		Entities  []*Entity `json:"entities"`
		Author    ids.PublicKey `json:"author"`
		Timestamp int64     `json:"timestamp"`
	}{entities, author, timestamp})
	if err != nil {
		return nil, calerr.Wrap(calerr.KindStorage, err, "encode delta payload")
	}

	h := sha256.New()
	h.Write(contextID.Bytes())
	for _, p := range d.Parents {
		h.Write(p.Bytes())
	}
	h.Write(payload)
	d.ID = ids.HashFromBytes(h.Sum(nil))
	return d, nil
}

// Encode serialises the delta for DAG storage or wire transmission.
func (d *Delta) Encode() ([]byte, error) { return json.Marshal(d) }

// DecodeDelta parses a delta encoded by Encode.
func DecodeDelta(b []byte) (*Delta, error) {
	var d Delta
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DAG is the per-node store of received/produced deltas and the current
// causal frontier ("heads") per context.
type DAG struct {
	st *store.Store
}

// NewDAG wraps st for delta DAG bookkeeping.
func NewDAG(st *store.Store) *DAG { return &DAG{st: st} }

func deltaKey(contextID ids.ContextId, id ids.Hash) []byte {
	key := make([]byte, 0, len(contextID)+1+len(id))
	key = append(key, contextID.Bytes()...)
	key = append(key, 'd')
	key = append(key, id.Bytes()...)
	return key
}

func headsKey(contextID ids.ContextId) []byte {
	key := make([]byte, 0, len(contextID)+1)
	key = append(key, contextID.Bytes()...)
	key = append(key, 'h')
	return key
}

// Get fetches a previously appended delta.
func (g *DAG) Get(contextID ids.ContextId, id ids.Hash) (*Delta, bool, error) {
	raw, ok, err := g.st.Get(store.ColumnDeltaDAG, deltaKey(contextID, id))
	if err != nil || !ok {
		return nil, false, err
	}
	d, err := DecodeDelta(raw)
	if err != nil {
		return nil, false, calerr.Wrap(calerr.KindStorage, err, "decode delta")
	}
	return d, true, nil
}

// Has reports whether id is already known for contextID.
func (g *DAG) Has(contextID ids.ContextId, id ids.Hash) (bool, error) {
	return g.st.Has(store.ColumnDeltaDAG, deltaKey(contextID, id))
}

// MissingParents returns the subset of d.Parents not yet known locally,
// the set to request via DeltaRequest.
func (g *DAG) MissingParents(d *Delta) ([]ids.Hash, error) {
	var missing []ids.Hash
	for _, p := range d.Parents {
		ok, err := g.Has(d.ContextID, p)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

// Heads returns the current maximal anti-chain of the DAG for a context.
func (g *DAG) Heads(contextID ids.ContextId) ([]ids.Hash, error) {
	raw, ok, err := g.st.Get(store.ColumnDeltaDAG, headsKey(contextID))
	if err != nil || !ok {
		return nil, err
	}
	var heads []ids.Hash
	if err := json.Unmarshal(raw, &heads); err != nil {
		return nil, calerr.Wrap(calerr.KindStorage, err, "decode heads")
	}
	return heads, nil
}

func (g *DAG) setHeads(contextID ids.ContextId, heads []ids.Hash) error {
	raw, err := json.Marshal(heads)
	if err != nil {
		return err
	}
	return g.st.Put(store.ColumnDeltaDAG, headsKey(contextID), raw)
}

// Append records d in the DAG and advances the context's heads: every
// parent of d is removed from the frontier and d itself is added,
// step 3. Append requires all of d's parents to already
// be known; callers must check MissingParents first. Re-appending a
// known delta is a no-op, keeping delta application idempotent.
func (g *DAG) Append(d *Delta) error {
	known, err := g.Has(d.ContextID, d.ID)
	if err != nil {
		return err
	}
	if known {
		return nil
	}
	raw, err := d.Encode()
	if err != nil {
		return calerr.Wrap(calerr.KindStorage, err, "encode delta")
	}
	if err := g.st.Put(store.ColumnDeltaDAG, deltaKey(d.ContextID, d.ID), raw); err != nil {
		return calerr.Wrap(calerr.KindStorage, err, "persist delta")
	}

	heads, err := g.Heads(d.ContextID)
	if err != nil {
		return err
	}
	parentSet := make(map[ids.Hash]bool, len(d.Parents))
	for _, p := range d.Parents {
		parentSet[p] = true
	}
	next := make([]ids.Hash, 0, len(heads)+1)
	for _, h := range heads {
		if !parentSet[h] {
			next = append(next, h)
		}
	}
	next = append(next, d.ID)
	return g.setHeads(d.ContextID, next)
}

// Apply merges every entity carried by d into the local tree, dispatching
// by CRDT type, then recomputes merkle hashes along
// every affected path (step 2). The caller commits the underlying
// temporal layer and appends d to the DAG (step 3) once Apply succeeds.
func Apply(reg *Registry, tree *Tree, d *Delta, private bool) error {
	for _, incoming := range d.Entities {
		existing, ok, err := tree.Get(incoming.ID, private)
		if err != nil {
			return err
		}
		var merged *Entity
		if !ok {
			merged = incoming
		} else {
			merged, err = Merge(reg, existing, incoming)
			if err != nil {
				return calerr.Wrap(calerr.KindProtocol, err, "merge entity "+incoming.ID.String())
			}
		}
		if err := tree.Put(merged, private); err != nil {
			return err
		}
	}
	_, err := tree.RecomputeHashes(private)
	return err
}
