package crdt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core/pkg/ids"
)

func TestBuildDeltaIDStableUnderParentOrder(t *testing.T) {
	contextID := ids.NewContextId(bytes32(1))
	author := authorID(1)
	p1 := ids.HashFromBytes(bytes32(10))
	p2 := ids.HashFromBytes(bytes32(11))
	entities := []*Entity{{ID: ids.NewEntityId(bytes32(2)), Type: TypeLWWRegister, Data: []byte("v")}}

	d1, err := BuildDelta(contextID, author, 100, []ids.Hash{p1, p2}, entities)
	require.NoError(t, err)
	d2, err := BuildDelta(contextID, author, 100, []ids.Hash{p2, p1}, entities)
	require.NoError(t, err)

	require.Equal(t, d1.ID, d2.ID)
}

func TestDAGAppendAdvancesHeads(t *testing.T) {
	s := openTestStore(t)
	dag := NewDAG(s)
	contextID := ids.NewContextId(bytes32(1))
	author := authorID(1)

	d1, err := BuildDelta(contextID, author, 1, nil, []*Entity{{ID: ids.NewEntityId(bytes32(2)), Type: TypeLWWRegister}})
	require.NoError(t, err)
	require.NoError(t, dag.Append(d1))

	heads, err := dag.Heads(contextID)
	require.NoError(t, err)
	require.Equal(t, []ids.Hash{d1.ID}, heads)

	d2, err := BuildDelta(contextID, author, 2, []ids.Hash{d1.ID}, []*Entity{{ID: ids.NewEntityId(bytes32(3)), Type: TypeLWWRegister}})
	require.NoError(t, err)
	require.NoError(t, dag.Append(d2))

	heads, err = dag.Heads(contextID)
	require.NoError(t, err)
	require.Equal(t, []ids.Hash{d2.ID}, heads, "d1 should have been replaced as a head by its child d2")
}

func TestDAGMissingParents(t *testing.T) {
	s := openTestStore(t)
	dag := NewDAG(s)
	contextID := ids.NewContextId(bytes32(1))
	missingParent := ids.HashFromBytes(bytes32(99))

	d, err := BuildDelta(contextID, authorID(1), 1, []ids.Hash{missingParent}, nil)
	require.NoError(t, err)

	missing, err := dag.MissingParents(d)
	require.NoError(t, err)
	require.Equal(t, []ids.Hash{missingParent}, missing)
}

func TestApplyMergesIncomingEntity(t *testing.T) {
	s := openTestStore(t)
	contextID := ids.NewContextId(bytes32(1))
	id := ids.NewEntityId(bytes32(2))

	tx := s.Begin()
	tree := NewTree(tx, contextID)
	require.NoError(t, tree.Put(&Entity{ID: id, Type: TypeLWWRegister, Data: []byte("old"), UpdatedAt: 1, AuthorID: authorID(1)}, false))
	require.NoError(t, tx.Commit())

	tx2 := s.Begin()
	tree2 := NewTree(tx2, contextID)
	d := &Delta{
		ContextID: contextID,
		Entities:  []*Entity{{ID: id, Type: TypeLWWRegister, Data: []byte("new"), UpdatedAt: 2, AuthorID: authorID(2)}},
	}
	require.NoError(t, Apply(NewRegistry(), tree2, d, false))
	require.NoError(t, tx2.Commit())

	tx3 := s.Begin()
	tree3 := NewTree(tx3, contextID)
	got, ok, err := tree3.Get(id, false)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("new"), got.Data, "higher updated_at should win the LWW merge")
}
