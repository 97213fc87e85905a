package crdt

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core/pkg/ids"
)

func authorID(seed byte) ids.PublicKey { return ids.NewPublicKey(bytes32(seed)) }

func TestMergeLWWHigherTimestampWins(t *testing.T) {
	a := &Entity{Type: TypeLWWRegister, Data: []byte("a"), UpdatedAt: 100, AuthorID: authorID(1)}
	b := &Entity{Type: TypeLWWRegister, Data: []byte("b"), UpdatedAt: 200, AuthorID: authorID(2)}

	merged, err := Merge(nil, a, b)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), merged.Data)

	merged, err = Merge(nil, b, a)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), merged.Data)
}

func TestMergeLWWTieBreaksByAuthor(t *testing.T) {
	a := &Entity{Type: TypeLWWRegister, Data: []byte("a"), UpdatedAt: 100, AuthorID: authorID(1)}
	b := &Entity{Type: TypeLWWRegister, Data: []byte("b"), UpdatedAt: 100, AuthorID: authorID(2)}

	merged, err := Merge(nil, a, b)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), merged.Data, "higher author_id should win the tie")
}

func gcounterData(t *testing.T, m map[string]uint64) []byte {
	t.Helper()
	b, err := json.Marshal(GCounterState(m))
	require.NoError(t, err)
	return b
}

func TestMergeGCounterComponentwiseMax(t *testing.T) {
	a := &Entity{Type: TypeGCounter, Data: gcounterData(t, map[string]uint64{"alice": 3, "bob": 1})}
	b := &Entity{Type: TypeGCounter, Data: gcounterData(t, map[string]uint64{"alice": 2, "bob": 5, "carol": 1})}

	merged, err := Merge(nil, a, b)
	require.NoError(t, err)

	var out GCounterState
	require.NoError(t, json.Unmarshal(merged.Data, &out))
	require.Equal(t, uint64(3), out["alice"])
	require.Equal(t, uint64(5), out["bob"])
	require.Equal(t, uint64(1), out["carol"])
}

func TestMergeGCounterCommutative(t *testing.T) {
	a := &Entity{Type: TypeGCounter, Data: gcounterData(t, map[string]uint64{"alice": 3})}
	b := &Entity{Type: TypeGCounter, Data: gcounterData(t, map[string]uint64{"alice": 7})}

	ab, err := Merge(nil, a, b)
	require.NoError(t, err)
	ba, err := Merge(nil, b, a)
	require.NoError(t, err)

	var abState, baState GCounterState
	require.NoError(t, json.Unmarshal(ab.Data, &abState))
	require.NoError(t, json.Unmarshal(ba.Data, &baState))
	require.Equal(t, abState, baState)
}

func orSetData(t *testing.T, elements map[string][]byte, tombstones map[string]bool) []byte {
	t.Helper()
	b, err := json.Marshal(ORSetState{Elements: elements, Tombstones: tombstones})
	require.NoError(t, err)
	return b
}

func TestMergeORSetUnionAndTombstones(t *testing.T) {
	a := &Entity{Type: TypeORSet, Data: orSetData(t, map[string][]byte{"tag1": []byte("x")}, nil)}
	b := &Entity{Type: TypeORSet, Data: orSetData(t, map[string][]byte{"tag2": []byte("y")}, map[string]bool{"tag1": true})}

	merged, err := Merge(nil, a, b)
	require.NoError(t, err)

	var out ORSetState
	require.NoError(t, json.Unmarshal(merged.Data, &out))
	require.Len(t, out.Elements, 2)
	require.True(t, out.Tombstones["tag1"])
	require.False(t, out.Tombstones["tag2"])
}

func TestMergeCustomNoRegistrationFailsLoudly(t *testing.T) {
	a := &Entity{Type: TypeCustom, CustomTag: "counter-widget", Data: []byte("1")}
	b := &Entity{Type: TypeCustom, CustomTag: "counter-widget", Data: []byte("2")}

	_, err := Merge(NewRegistry(), a, b)
	require.Error(t, err)
}

func TestMergeCustomRegisteredFunctionUsed(t *testing.T) {
	reg := NewRegistry()
	reg.Register("sum", func(existing, incoming []byte) ([]byte, error) {
		return []byte("merged"), nil
	})

	a := &Entity{Type: TypeCustom, CustomTag: "sum", Data: []byte("1")}
	b := &Entity{Type: TypeCustom, CustomTag: "sum", Data: []byte("2")}

	merged, err := Merge(reg, a, b)
	require.NoError(t, err)
	require.Equal(t, []byte("merged"), merged.Data)
}

func TestMergeCustomFailingFunctionFallsBackToLWW(t *testing.T) {
	reg := NewRegistry()
	reg.Register("flaky", func(existing, incoming []byte) ([]byte, error) {
		return nil, errors.New("widget merge exploded")
	})

	a := &Entity{Type: TypeCustom, CustomTag: "flaky", Data: []byte("a"), UpdatedAt: 1, AuthorID: authorID(1)}
	b := &Entity{Type: TypeCustom, CustomTag: "flaky", Data: []byte("b"), UpdatedAt: 2, AuthorID: authorID(2)}

	merged, err := Merge(reg, a, b)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), merged.Data)
}
