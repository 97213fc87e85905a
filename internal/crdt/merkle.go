package crdt

import (
	"crypto/sha256"
	"sort"

	"github.com/calimero-network/core/pkg/ids"
)

// ContextAnchor derives the stable per-context namespace value entity ids
// are keyed from. It is deliberately independent of the context's own
// (post-commit, ever-changing) root_hash: deriving a storage key's
// EntityId from the mutable root hash would remap every key to a new id
// on the invocation immediately following the one that wrote it, since
// committing a write changes the root hash that produced the id in the
// first place. Anchoring on the context id instead keeps
// DeriveEntityID(anchor, key) stable for the life of the context.
func ContextAnchor(contextID ids.ContextId) ids.Hash {
	return ids.HashFromBytes(contextID.Bytes())
}

// RootEntityID is the id of a context's implicit root entity: the
// zero-path entity beneath ContextAnchor whose Children enumerate every
// top-level storage_write key and whose MerkleHash is the context's
// root_hash.
func RootEntityID(contextID ids.ContextId) ids.EntityId {
	return DeriveEntityID(ContextAnchor(contextID))
}

// ComputeMerkleHash is a pure function: an entity's merkle hash
// depends only on its type tag, its data, and its children's ids and
// hashes — sorted by child id so that write order never affects the
// result. Entities may carry an arbitrary, possibly-zero number of
// children.
func ComputeMerkleHash(e *Entity) ids.Hash {
	children := append([]ChildRef(nil), e.Children...)
	sort.Slice(children, func(i, j int) bool {
		return lessBytes(children[i].ID.Bytes(), children[j].ID.Bytes())
	})

	h := sha256.New()
	h.Write([]byte{byte(e.Type)})
	h.Write(e.Data)
	for _, c := range children {
		h.Write(c.ID.Bytes())
		h.Write(c.MerkleHash.Bytes())
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return ids.Hash(out)
}

func lessBytes(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// DeriveEntityID computes the EntityId of a child addressed by path
// beneath parent, a deterministic function of the anchor hash and the
// path. rootHash anchors the id to a specific context so two contexts never
// collide even with identical paths.
func DeriveEntityID(rootHash ids.Hash, path ...string) ids.EntityId {
	h := sha256.New()
	h.Write(rootHash.Bytes())
	for _, p := range path {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return ids.NewEntityId(h.Sum(nil))
}
