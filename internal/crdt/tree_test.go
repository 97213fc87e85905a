package crdt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core/internal/store"
	"github.com/calimero-network/core/pkg/ids"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTreeRecomputeHashesPropagatesToParent(t *testing.T) {
	s := openTestStore(t)
	contextID := ids.NewContextId(bytes32(1))
	rootID := ids.NewEntityId(bytes32(2))
	childID := ids.NewEntityId(bytes32(3))

	tx := s.Begin()
	tree := NewTree(tx, contextID)

	root := &Entity{ID: rootID, Type: TypeORMap}
	require.NoError(t, tree.Put(root, false))

	child := &Entity{ID: childID, Parent: rootID, Type: TypeLWWRegister, Data: []byte("v1"), UpdatedAt: 1, AuthorID: authorID(1)}
	require.NoError(t, tree.Put(child, false))

	touched, err := tree.RecomputeHashes(false)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	var gotRoot, gotChild *Entity
	for _, e := range touched {
		if e.ID == rootID {
			gotRoot = e
		}
		if e.ID == childID {
			gotChild = e
		}
	}
	require.NotNil(t, gotRoot)
	require.NotNil(t, gotChild)
	require.NotEqual(t, ids.Hash{}, gotChild.MerkleHash)

	require.Len(t, gotRoot.Children, 1)
	require.Equal(t, childID, gotRoot.Children[0].ID)
	require.Equal(t, gotChild.MerkleHash, gotRoot.Children[0].MerkleHash)
}

func TestTreeDeleteSetsTombstone(t *testing.T) {
	s := openTestStore(t)
	contextID := ids.NewContextId(bytes32(1))
	id := ids.NewEntityId(bytes32(2))

	tx := s.Begin()
	tree := NewTree(tx, contextID)
	require.NoError(t, tree.Put(&Entity{ID: id, Type: TypeLWWRegister, Data: []byte("v")}, false))
	require.NoError(t, tree.Delete(id, false, 12345))

	e, ok, err := tree.Get(id, false)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, e.IsTombstoned())
	require.Nil(t, e.Data)
}

func TestTreePrivateColumnIsolation(t *testing.T) {
	s := openTestStore(t)
	contextID := ids.NewContextId(bytes32(1))
	id := ids.NewEntityId(bytes32(2))

	tx := s.Begin()
	tree := NewTree(tx, contextID)
	require.NoError(t, tree.Put(&Entity{ID: id, Type: TypeLWWRegister, Data: []byte("secret")}, true))

	_, ok, err := tree.Get(id, false)
	require.NoError(t, err)
	require.False(t, ok, "private writes must not appear in the synced column")

	got, ok, err := tree.Get(id, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("secret"), got.Data)
}

func TestDiscardedTreeLeavesNoTraceInSharedCache(t *testing.T) {
	s := openTestStore(t)
	cache, err := NewEntityCache(16)
	require.NoError(t, err)
	contextID := ids.NewContextId(bytes32(1))
	id := ids.NewEntityId(bytes32(2))

	tx := s.Begin()
	tree := NewTreeWithCache(tx, contextID, cache)
	require.NoError(t, tree.Put(&Entity{ID: id, Type: TypeLWWRegister, Data: []byte("uncommitted")}, false))
	tx.Discard()

	tx2 := s.Begin()
	defer tx2.Discard()
	fresh := NewTreeWithCache(tx2, contextID, cache)
	_, ok, err := fresh.Get(id, false)
	require.NoError(t, err)
	require.False(t, ok, "a discarded transaction's writes must not survive via the cache")
}

func TestPublishCacheMakesCommittedEntitiesVisible(t *testing.T) {
	s := openTestStore(t)
	cache, err := NewEntityCache(16)
	require.NoError(t, err)
	contextID := ids.NewContextId(bytes32(1))
	id := ids.NewEntityId(bytes32(2))

	tx := s.Begin()
	tree := NewTreeWithCache(tx, contextID, cache)
	require.NoError(t, tree.Put(&Entity{ID: id, Type: TypeLWWRegister, Data: []byte("v")}, false))
	require.NoError(t, tx.Commit())
	tree.PublishCache()

	tx2 := s.Begin()
	defer tx2.Discard()
	fresh := NewTreeWithCache(tx2, contextID, cache)
	got, ok, err := fresh.Get(id, false)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), got.Data)
}
