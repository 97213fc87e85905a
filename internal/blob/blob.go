// Package blob implements the content-addressed blob manager: streamed
// adds hashed incrementally, BlobId-keyed fetches (each blob's CID is
// recorded in its Meta), and bundle detection. Blobs live in a local chunked file store and are exchanged
// over sync streams, never fetched from an external gateway or pinning
// service.
package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/store"
	"github.com/calimero-network/core/pkg/ids"
)

// bundleMagic prefixes a multi-file WASM package blob; bundles are
// detected by this prefix and flagged in Meta.Bundle. Their contents are
// not unpacked: a bundle blob is stored and returned as raw bytes.
var bundleMagic = []byte("CLMRBNDL")

// Meta is the metadata persisted per blob in store.ColumnBlobMeta.
type Meta struct {
	Size   int64  `json:"size"`
	CID    string `json:"cid"`
	Bundle bool   `json:"bundle"`
}

// Manager streams blobs to content-addressed local files, hashing as it
// goes, and serves them back by BlobId.
type Manager struct {
	st        *store.Store
	dir       string
	chunkSize int

	mu       sync.Mutex
	inflight map[ids.BlobId]chan struct{} // one concurrent add per BlobId
}

// NewManager wires a blob manager rooted at dir, using st for metadata.
func NewManager(st *store.Store, dir string, chunkSize int) (*Manager, error) {
	if chunkSize <= 0 {
		chunkSize = 256 * 1024
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, calerr.Wrap(calerr.KindStorage, err, "create blob dir "+dir)
	}
	return &Manager{st: st, dir: dir, chunkSize: chunkSize, inflight: make(map[ids.BlobId]chan struct{})}, nil
}

func (m *Manager) path(id ids.BlobId) string {
	return filepath.Join(m.dir, hex.EncodeToString(id.Bytes()))
}

func metaKey(id ids.BlobId) []byte { return append([]byte(nil), id.Bytes()...) }

// cidForDigest renders the CIDv1-raw-SHA2-256 identity string
// from an already-computed SHA-256 digest, kept purely for the Meta.CID
// field's human-readable form (the physical BlobId is the raw 32-byte
// digest, per pkg/ids).
func cidForDigest(digest []byte) (string, error) {
	encodedMH, err := mh.Encode(digest, mh.SHA2_256)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, encodedMH).String(), nil
}

func (m *Manager) putMeta(id ids.BlobId, meta Meta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return calerr.Wrap(calerr.KindStorage, err, "encode blob meta")
	}
	if err := m.st.Put(store.ColumnBlobMeta, metaKey(id), raw); err != nil {
		return calerr.Wrap(calerr.KindStorage, err, "persist blob meta")
	}
	return nil
}

func decodeMeta(raw []byte) (Meta, error) {
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Meta{}, calerr.Wrap(calerr.KindStorage, err, "decode blob meta")
	}
	return meta, nil
}

// Add streams r to a content-addressed local file in fixed-size chunks,
// hashing incrementally, and returns the resulting BlobId and actual
// byte size. If expectedHash is non-nil and the computed id differs, the
// partial data is discarded and an error returned.
// Concurrent Add calls for the same eventual BlobId are serialized; since
// adds are content-addressed, the loser simply observes the winner's
// result once it lands.
func (m *Manager) Add(ctx context.Context, r io.Reader, expectedSize *int64, expectedHash *ids.BlobId) (ids.BlobId, int64, error) {
	tmp, err := os.CreateTemp(m.dir, "incoming-*")
	if err != nil {
		return ids.BlobId{}, 0, calerr.Wrap(calerr.KindStorage, err, "create temp blob file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	h := sha256.New()
	buf := make([]byte, m.chunkSize)
	var total int64
	for {
		select {
		case <-ctx.Done():
			tmp.Close()
			return ids.BlobId{}, 0, ctx.Err()
		default:
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				tmp.Close()
				return ids.BlobId{}, 0, calerr.Wrap(calerr.KindStorage, werr, "write blob chunk")
			}
			h.Write(buf[:n])
			total += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			tmp.Close()
			return ids.BlobId{}, 0, calerr.Wrap(calerr.KindStorage, rerr, "read blob stream")
		}
	}
	if err := tmp.Close(); err != nil {
		return ids.BlobId{}, 0, calerr.Wrap(calerr.KindStorage, err, "close temp blob file")
	}

	if expectedSize != nil && *expectedSize != total {
		return ids.BlobId{}, 0, calerr.Newf(calerr.KindInvalidArgument, "blob size mismatch: expected %d got %d", *expectedSize, total)
	}

	digest := h.Sum(nil)
	id := ids.NewBlobId(digest)

	if expectedHash != nil && *expectedHash != id {
		return ids.BlobId{}, 0, calerr.New(calerr.KindInvalidArgument, "blob hash mismatch")
	}

	done, first := m.claim(id)
	if !first {
		<-done
		return id, total, nil
	}
	defer m.release(id, done)

	final := m.path(id)
	if _, statErr := os.Stat(final); statErr == nil {
		return id, total, nil // already have it; content-addressed dedupe
	}

	isBundle, err := m.peekBundle(tmpPath)
	if err != nil {
		return ids.BlobId{}, 0, err
	}

	if err := os.Rename(tmpPath, final); err != nil {
		return ids.BlobId{}, 0, calerr.Wrap(calerr.KindStorage, err, "install blob")
	}

	cidStr, err := cidForDigest(digest)
	if err != nil {
		return ids.BlobId{}, 0, calerr.Wrap(calerr.KindStorage, err, "render blob cid")
	}

	meta := Meta{Size: total, CID: cidStr, Bundle: isBundle}
	if err := m.putMeta(id, meta); err != nil {
		return ids.BlobId{}, 0, err
	}
	return id, total, nil
}

func (m *Manager) peekBundle(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, calerr.Wrap(calerr.KindStorage, err, "reopen temp blob for magic check")
	}
	defer f.Close()
	head := make([]byte, len(bundleMagic))
	n, _ := io.ReadFull(f, head)
	return n == len(bundleMagic) && bytes.Equal(head, bundleMagic), nil
}

func (m *Manager) claim(id ids.BlobId) (chan struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.inflight[id]; ok {
		return ch, false
	}
	ch := make(chan struct{})
	m.inflight[id] = ch
	return ch, true
}

func (m *Manager) release(id ids.BlobId, done chan struct{}) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
	close(done)
}

// Get opens the blob for reading. A missing blob returns (nil, nil)
// rather than an error.
func (m *Manager) Get(id ids.BlobId) (io.ReadCloser, error) {
	return m.GetRange(id, 0)
}

// GetRange opens the blob positioned at offset, for range reads.
func (m *Manager) GetRange(id ids.BlobId, offset int64) (io.ReadCloser, error) {
	f, err := os.Open(m.path(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, calerr.Wrap(calerr.KindStorage, err, "open blob")
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, calerr.Wrap(calerr.KindStorage, err, "seek blob")
		}
	}
	return f, nil
}

// Has reports whether id is known locally.
func (m *Manager) Has(id ids.BlobId) (bool, error) {
	_, err := os.Stat(m.path(id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, calerr.Wrap(calerr.KindStorage, err, "stat blob")
	}
	return true, nil
}

// Meta returns stored metadata for id, if known.
func (m *Manager) Meta(id ids.BlobId) (Meta, bool, error) {
	raw, ok, err := m.st.Get(store.ColumnBlobMeta, metaKey(id))
	if err != nil || !ok {
		return Meta{}, false, err
	}
	meta, err := decodeMeta(raw)
	if err != nil {
		return Meta{}, false, err
	}
	return meta, true, nil
}

// List enumerates every known BlobId.
func (m *Manager) List() ([]ids.BlobId, error) {
	var out []ids.BlobId
	err := m.st.IteratePrefix(store.ColumnBlobMeta, nil, func(e store.Entry) error {
		if len(e.Key) != 32 {
			return nil
		}
		out = append(out, ids.NewBlobId(e.Key))
		return nil
	})
	return out, err
}
