package calerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapNilIsNil(t *testing.T) {
	require.NoError(t, Wrap(KindStorage, nil, "whatever"))
}

func TestAsRoundTrip(t *testing.T) {
	base := errors.New("disk full")
	err := Wrap(KindStorage, base, "writing delta")

	kind, ok := As(err)
	require.True(t, ok)
	require.Equal(t, KindStorage, kind)
	require.True(t, Is(err, KindStorage))
	require.False(t, Is(err, KindCrypto))
	require.ErrorIs(t, err, base)
}

func TestAsOnPlainError(t *testing.T) {
	_, ok := As(errors.New("plain"))
	require.False(t, ok)
}
