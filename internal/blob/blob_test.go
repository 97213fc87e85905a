package blob

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core/internal/store"
	"github.com/calimero-network/core/pkg/ids"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m, err := NewManager(st, filepath.Join(t.TempDir(), "blobs"), 4)
	require.NoError(t, err)
	return m
}

func TestAddGetRoundTrip(t *testing.T) {
	m := newTestManager(t)
	content := []byte("hello calimero blob manager, this spans several chunks")

	id, size, err := m.Add(context.Background(), bytes.NewReader(content), nil, nil)
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), size)

	has, err := m.Has(id)
	require.NoError(t, err)
	require.True(t, has)

	r, err := m.Get(id)
	require.NoError(t, err)
	require.NotNil(t, r)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestAddIsContentAddressed(t *testing.T) {
	m := newTestManager(t)
	content := []byte("identical content")

	id1, _, err := m.Add(context.Background(), bytes.NewReader(content), nil, nil)
	require.NoError(t, err)
	id2, _, err := m.Add(context.Background(), bytes.NewReader(content), nil, nil)
	require.NoError(t, err)

	require.Equal(t, id1, id2)
}

func TestAddHashMismatchDiscardsData(t *testing.T) {
	m := newTestManager(t)
	content := []byte("some content")
	wrong := ids.NewBlobId(bytes.Repeat([]byte{0xAB}, 32))

	_, _, err := m.Add(context.Background(), bytes.NewReader(content), nil, &wrong)
	require.Error(t, err)

	has, err := m.Has(wrong)
	require.NoError(t, err)
	require.False(t, has)
}

func TestGetMissingReturnsNil(t *testing.T) {
	m := newTestManager(t)
	var missing ids.BlobId
	r, err := m.Get(missing)
	require.NoError(t, err)
	require.Nil(t, r)
}

func TestMetaRoundTrip(t *testing.T) {
	m := newTestManager(t)
	content := []byte("meta check")

	id, _, err := m.Add(context.Background(), bytes.NewReader(content), nil, nil)
	require.NoError(t, err)

	meta, ok, err := m.Meta(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(len(content)), meta.Size)
	require.False(t, meta.Bundle)
	require.NotEmpty(t, meta.CID)
}
