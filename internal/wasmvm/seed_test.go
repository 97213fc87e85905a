package wasmvm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core/pkg/ids"
)

func hash32(seed byte) ids.Hash {
	var b [32]byte
	b[0] = seed
	return ids.Hash(b)
}

func TestDeriveSeedDeterministicAcrossParentOrder(t *testing.T) {
	ctx := ids.NewContextId(make([]byte, 32))
	caller := ids.NewPublicKey(make([]byte, 32))
	input := []byte("payload")

	p1, p2 := hash32(1), hash32(2)

	s1 := DeriveSeed(ctx, []ids.Hash{p1, p2}, caller, input)
	s2 := DeriveSeed(ctx, []ids.Hash{p2, p1}, caller, input)
	require.Equal(t, s1, s2, "parent order must not affect the derived seed")
}

func TestDeriveSeedChangesWithInput(t *testing.T) {
	ctx := ids.NewContextId(make([]byte, 32))
	caller := ids.NewPublicKey(make([]byte, 32))

	s1 := DeriveSeed(ctx, nil, caller, []byte("a"))
	s2 := DeriveSeed(ctx, nil, caller, []byte("b"))
	require.NotEqual(t, s1, s2)
}

func TestDRBGDeterministicStream(t *testing.T) {
	seed := [32]byte(hash32(7))

	d1 := newDRBG(seed)
	d2 := newDRBG(seed)

	first := d1.Next(16)
	require.Equal(t, first, d2.Next(16))
	require.NotEqual(t, first, d1.Next(16), "successive draws from the same stream must differ")
}

func TestDRBGNextLength(t *testing.T) {
	d := newDRBG([32]byte(hash32(1)))
	require.Len(t, d.Next(1), 1)
	require.Len(t, d.Next(33), 33)
	require.Len(t, d.Next(64), 64)
}
