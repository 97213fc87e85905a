package crdt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core/pkg/ids"
)

func TestComputeMerkleHashIsPureFunction(t *testing.T) {
	e := &Entity{
		ID:   ids.NewEntityId(bytes32(1)),
		Type: TypeLWWRegister,
		Data: []byte("hello"),
	}
	h1 := ComputeMerkleHash(e)
	h2 := ComputeMerkleHash(e)
	require.Equal(t, h1, h2)

	e.Data = []byte("world")
	h3 := ComputeMerkleHash(e)
	require.NotEqual(t, h1, h3)
}

func TestComputeMerkleHashIgnoresChildOrder(t *testing.T) {
	childA := ChildRef{ID: ids.NewEntityId(bytes32(1)), MerkleHash: ids.HashFromBytes(bytes32(10))}
	childB := ChildRef{ID: ids.NewEntityId(bytes32(2)), MerkleHash: ids.HashFromBytes(bytes32(20))}

	e1 := &Entity{ID: ids.NewEntityId(bytes32(99)), Type: TypeORMap, Children: []ChildRef{childA, childB}}
	e2 := &Entity{ID: ids.NewEntityId(bytes32(99)), Type: TypeORMap, Children: []ChildRef{childB, childA}}

	require.Equal(t, ComputeMerkleHash(e1), ComputeMerkleHash(e2))
}

func TestDeriveEntityIDDeterministic(t *testing.T) {
	root := ids.HashFromBytes(bytes32(5))
	a := DeriveEntityID(root, "members", "alice")
	b := DeriveEntityID(root, "members", "alice")
	c := DeriveEntityID(root, "members", "bob")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func bytes32(seed byte) []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = seed
	}
	return b
}
