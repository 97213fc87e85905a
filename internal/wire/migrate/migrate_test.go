package migrate

import (
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/calimero-network/core/internal/testutil"
)

// newSandbox gives each test an isolated scratch directory for its
// source, backup, and target database files.
func newSandbox(t *testing.T) *testutil.Sandbox {
	t.Helper()
	sb, err := testutil.NewSandbox()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sb.Cleanup() })
	return sb
}

func seedStore(t *testing.T, path string, bucket string, kv map[string]string) {
	t.Helper()
	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		for k, v := range kv {
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func readAll(t *testing.T, path, bucket string) map[string]string {
	t.Helper()
	db, err := bolt.Open(path, 0o600, &bolt.Options{ReadOnly: true})
	require.NoError(t, err)
	defer db.Close()

	out := map[string]string{}
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	require.NoError(t, err)
	return out
}

func TestBackupPreservesContent(t *testing.T) {
	sb := newSandbox(t)
	src := sb.Path("src.db")
	backup := sb.Path("src.db.bak")

	seedStore(t, src, "context_meta", map[string]string{"a": "1", "b": "2"})

	require.NoError(t, Backup(src, backup))
	require.Equal(t, readAll(t, src, "context_meta"), readAll(t, backup, "context_meta"))
}

func TestRemapRenamesBucketContents(t *testing.T) {
	sb := newSandbox(t)
	src := sb.Path("src.db")
	dst := sb.Path("dst.db")

	seedStore(t, src, "old_context_state", map[string]string{"k1": "v1", "k2": "v2"})

	require.NoError(t, Remap(src, dst, []BucketRename{{From: "old_context_state", To: "context_state"}}))
	require.Equal(t, map[string]string{"k1": "v1", "k2": "v2"}, readAll(t, dst, "context_state"))
}

func TestRemapRejectsMissingSourceBucket(t *testing.T) {
	sb := newSandbox(t)
	src := sb.Path("src.db")
	dst := sb.Path("dst.db")

	seedStore(t, src, "something_else", map[string]string{"k": "v"})

	err := Remap(src, dst, []BucketRename{{From: "missing_bucket", To: "context_state"}})
	require.Error(t, err)
}

func TestRestoreFromBackupRoundTrip(t *testing.T) {
	sb := newSandbox(t)
	src := sb.Path("src.db")
	backup := sb.Path("src.db.bak")
	target := sb.Path("target.db")

	seedStore(t, src, "aliases", map[string]string{"alias1": "id1"})
	require.NoError(t, Backup(src, backup))
	require.NoError(t, RestoreFromBackup(backup, target))

	require.Equal(t, readAll(t, src, "aliases"), readAll(t, target, "aliases"))
}
