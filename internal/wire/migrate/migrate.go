// Package migrate rewrites a persisted column layout: it reads the
// source layout and writes a target layout, taking an intermediate
// backup via bbolt's own Tx.WriteTo first. bbolt buckets are not
// self-describing, so a renamed or restructured column can never be
// read by an old binary; that transition goes through this explicit
// tool rather than an in-place, silent upgrade.
package migrate

import (
	"io"
	"os"

	bolt "go.etcd.io/bbolt"

	"github.com/calimero-network/core/internal/calerr"
)

// BucketRename describes one source-bucket-to-target-bucket rename
// applied verbatim (key/value pairs copied as-is). Use Remap for
// anything beyond a rename.
type BucketRename struct {
	From string
	To   string
}

// Backup takes a consistent snapshot of the bbolt file at srcPath and
// writes it to backupPath using bbolt's native backup facility
// (Tx.WriteTo), taken before any layout-changing migration.
func Backup(srcPath, backupPath string) error {
	db, err := bolt.Open(srcPath, 0o600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return calerr.Wrap(calerr.KindStorage, err, "open source store for backup")
	}
	defer db.Close()

	out, err := os.OpenFile(backupPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return calerr.Wrap(calerr.KindStorage, err, "create backup file")
	}
	defer out.Close()

	err = db.View(func(tx *bolt.Tx) error {
		_, err := tx.WriteTo(out)
		return err
	})
	if err != nil {
		return calerr.Wrap(calerr.KindStorage, err, "write backup")
	}
	return nil
}

// Remap opens srcPath read-only and dstPath fresh, copying every bucket
// named in renames from source to target under its new name, bucket
// contents unchanged. It is the caller's responsibility to have taken a
// Backup of srcPath first; Remap does not do so itself so a caller can
// choose the backup's location independent of dstPath.
func Remap(srcPath, dstPath string, renames []BucketRename) error {
	src, err := bolt.Open(srcPath, 0o600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return calerr.Wrap(calerr.KindStorage, err, "open source store")
	}
	defer src.Close()

	dst, err := bolt.Open(dstPath, 0o600, nil)
	if err != nil {
		return calerr.Wrap(calerr.KindStorage, err, "open target store")
	}
	defer dst.Close()

	for _, r := range renames {
		if err := copyBucket(src, dst, r.From, r.To); err != nil {
			return err
		}
	}
	return nil
}

func copyBucket(src, dst *bolt.DB, from, to string) error {
	return src.View(func(stx *bolt.Tx) error {
		sb := stx.Bucket([]byte(from))
		if sb == nil {
			return calerr.Newf(calerr.KindNotFound, "source bucket %q does not exist", from)
		}
		return dst.Update(func(dtx *bolt.Tx) error {
			db, err := dtx.CreateBucketIfNotExists([]byte(to))
			if err != nil {
				return calerr.Wrapf(calerr.KindStorage, err, "create target bucket %q", to)
			}
			return sb.ForEach(func(k, v []byte) error {
				return db.Put(append([]byte(nil), k...), append([]byte(nil), v...))
			})
		})
	})
}

// RestoreFromBackup overwrites dstPath with the contents of backupPath,
// the rollback half of the migration tool: if a migration run is aborted
// or found to have produced a bad target file, the original layout is
// recovered by copying the backup back into place.
func RestoreFromBackup(backupPath, dstPath string) error {
	in, err := os.Open(backupPath)
	if err != nil {
		return calerr.Wrap(calerr.KindStorage, err, "open backup file")
	}
	defer in.Close()

	out, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return calerr.Wrap(calerr.KindStorage, err, "create restore target")
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return calerr.Wrap(calerr.KindStorage, err, "copy backup into place")
	}
	return nil
}
