package wasmvm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func smallLimits() Limits {
	return Limits{
		MaxRegisters:         4,
		MaxRegisterSize:      8,
		MaxRegistersCapacity: 16,
	}
}

func TestRegistersSetGetRoundTrip(t *testing.T) {
	r := NewRegisters(smallLimits())
	require.Equal(t, uint32(registerUnset), r.Len(0))

	require.Nil(t, r.Set(0, []byte("abcd")))
	v, ok := r.Get(0)
	require.True(t, ok)
	require.Equal(t, []byte("abcd"), v)
	require.Equal(t, uint32(4), r.Len(0))
}

func TestRegistersRejectsOversizedValue(t *testing.T) {
	r := NewRegisters(smallLimits())
	err := r.Set(0, []byte("this is far too long"))
	require.NotNil(t, err)
	require.Equal(t, ErrorResourceExhausted, err.Kind)
}

func TestRegistersRejectsTooManyRegisters(t *testing.T) {
	r := NewRegisters(smallLimits())
	for i := uint64(0); i < 4; i++ {
		require.Nil(t, r.Set(i, []byte("x")))
	}
	err := r.Set(4, []byte("x"))
	require.NotNil(t, err)
	require.Equal(t, ErrorResourceExhausted, err.Kind)
}

func TestRegistersRejectsAggregateCapacity(t *testing.T) {
	r := NewRegisters(smallLimits())
	require.Nil(t, r.Set(0, []byte("12345678")))
	require.Nil(t, r.Set(1, []byte("12345678")))
	// overwriting an existing register frees its old bytes first
	require.Nil(t, r.Set(0, []byte("1234")))

	err := r.Set(2, []byte("12345678"))
	require.NotNil(t, err)
	require.Equal(t, ErrorResourceExhausted, err.Kind)
}

func TestRegistersOverwriteDoesNotLeakCapacity(t *testing.T) {
	r := NewRegisters(smallLimits())
	require.Nil(t, r.Set(0, []byte("12345678")))
	for i := 0; i < 10; i++ {
		require.Nil(t, r.Set(0, []byte("12345678")))
	}
	require.Equal(t, uint64(8), r.capUsed)
}
