// Package store implements the typed column-oriented key-value layer:
// every logical table (application meta, blob meta and chunks, context
// meta, context members, context state, context private state, delta
// DAG, aliases) is a distinct "column", all backed by a single bbolt
// database. Each column is its own bbolt bucket, so keys in different
// columns can never collide.
package store

import (
	"bytes"
	"sort"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/calimero-network/core/internal/calerr"
)

// Column names the logical tables. Each is a distinct
// bbolt bucket, so collisions across columns are impossible without
// a key-level tag; physical keys are stored exactly as the caller
// passes them.
type Column string

const (
	ColumnApplicationMeta    Column = "application_meta"
	ColumnBlobMeta           Column = "blob_meta"
	ColumnContextMeta        Column = "context_meta"
	ColumnContextMembers     Column = "context_members"
	ColumnContextState       Column = "context_state"
	ColumnContextPrivate     Column = "context_private_state"
	ColumnDeltaDAG           Column = "delta_dag"
	ColumnAliases            Column = "aliases"
	// ColumnIdentities persists the member keypairs this node owns. No
	// private key material ever leaves the owning node, and one identity
	// can be a member of many contexts, so the keys need a durable home
	// distinct from any context-scoped column.
	ColumnIdentities Column = "identities"
)

// allColumns is the fixed bucket set created on open. Store never creates
// a bucket lazily: an unknown column is a programming error, not a
// runtime condition.
var allColumns = []Column{
	ColumnApplicationMeta,
	ColumnBlobMeta,
	ColumnContextMeta,
	ColumnContextMembers,
	ColumnContextState,
	ColumnContextPrivate,
	ColumnDeltaDAG,
	ColumnAliases,
	ColumnIdentities,
}

// PrivateColumns lists columns that must never be emitted in a delta or
// broadcast: the private-state column is never emitted in deltas.
var PrivateColumns = map[Column]bool{
	ColumnContextPrivate: true,
}

// Store is the embedded KV store. All methods are safe for concurrent
// use; bbolt serializes writers internally and readers never block
// writers single-threaded-per-column model.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures
// every column bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, calerr.Wrap(calerr.KindStorage, err, "open store "+path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, col := range allColumns {
			if _, err := tx.CreateBucketIfNotExists([]byte(col)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, calerr.Wrap(calerr.KindStorage, err, "create columns")
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get reads a single value. A missing key returns (nil, false, nil).
func (s *Store) Get(col Column, key []byte) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(col))
		if b == nil {
			return calerr.Newf(calerr.KindInvalidArgument, "unknown column %q", col)
		}
		v := b.Get(key)
		if v == nil {
			return nil
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// Has reports whether key exists in col without copying its value.
func (s *Store) Has(col Column, key []byte) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(col))
		if b == nil {
			return calerr.Newf(calerr.KindInvalidArgument, "unknown column %q", col)
		}
		found = b.Get(key) != nil
		return nil
	})
	return found, err
}

// Put writes key/value atomically.
func (s *Store) Put(col Column, key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(col))
		if b == nil {
			return calerr.Newf(calerr.KindInvalidArgument, "unknown column %q", col)
		}
		return b.Put(key, value)
	})
}

// Delete removes key from col. Deleting an absent key is a no-op.
func (s *Store) Delete(col Column, key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(col))
		if b == nil {
			return calerr.Newf(calerr.KindInvalidArgument, "unknown column %q", col)
		}
		return b.Delete(key)
	})
}

// Entry is a single key/value pair yielded by an iteration.
type Entry struct {
	Key   []byte
	Value []byte
}

// IteratePrefix yields every key/value pair in col whose key starts with
// prefix, in lexicographic order (bbolt's native cursor order).
func (s *Store) IteratePrefix(col Column, prefix []byte, fn func(Entry) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(col))
		if b == nil {
			return calerr.Newf(calerr.KindInvalidArgument, "unknown column %q", col)
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			entry := Entry{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)}
			if err := fn(entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// op is one staged mutation recorded by a Temporal layer.
type op struct {
	col    Column
	key    []byte
	value  []byte
	delete bool
}

// Temporal stages writes for a single invocation (one WASM call, one
// config mutation) and commits or discards them atomically; a failed
// invocation drops its staged writes and nothing persists.
//
// Reads fall through to staged writes first, then the underlying store,
// so a read-your-writes invocation sees its own uncommitted mutations.
type Temporal struct {
	mu      sync.Mutex
	base    *Store
	ops     []op
	dirty   map[string]op // "col\x00key" -> latest op, for read-your-writes and for dirty-entity enumeration
}

// Begin opens a temporal staging layer over s.
func (s *Store) Begin() *Temporal {
	return &Temporal{base: s, dirty: make(map[string]op)}
}

func dirtyKey(col Column, key []byte) string {
	return string(col) + "\x00" + string(key)
}

// Get resolves key, preferring a staged write over the committed value.
func (t *Temporal) Get(col Column, key []byte) ([]byte, bool, error) {
	t.mu.Lock()
	if o, ok := t.dirty[dirtyKey(col, key)]; ok {
		t.mu.Unlock()
		if o.delete {
			return nil, false, nil
		}
		return o.value, true, nil
	}
	t.mu.Unlock()
	return t.base.Get(col, key)
}

// Has is Get without the value copy.
func (t *Temporal) Has(col Column, key []byte) (bool, error) {
	t.mu.Lock()
	if o, ok := t.dirty[dirtyKey(col, key)]; ok {
		t.mu.Unlock()
		return !o.delete, nil
	}
	t.mu.Unlock()
	return t.base.Has(col, key)
}

// Put stages a write. It is not visible to other Temporal layers or to
// the base Store until Commit.
func (t *Temporal) Put(col Column, key, value []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o := op{col: col, key: append([]byte(nil), key...), value: append([]byte(nil), value...)}
	t.ops = append(t.ops, o)
	t.dirty[dirtyKey(col, key)] = o
}

// Delete stages a tombstone write.
func (t *Temporal) Delete(col Column, key []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o := op{col: col, key: append([]byte(nil), key...), delete: true}
	t.ops = append(t.ops, o)
	t.dirty[dirtyKey(col, key)] = o
}

// DirtyKeys returns the keys touched by this invocation, one Entry per
// touched (column, key) pair, sorted by key. The column is not part of
// the returned Entry.
func (t *Temporal) DirtyKeys() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.dirty))
	for _, o := range t.dirty {
		out = append(out, Entry{Key: append([]byte(nil), o.key...)})
		_ = o.col
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out
}

// Commit applies every staged op to the base Store in a single bbolt
// transaction: either all writes land, or none do.
func (t *Temporal) Commit() error {
	t.mu.Lock()
	ops := t.ops
	t.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}

	err := t.base.db.Update(func(tx *bolt.Tx) error {
		for _, o := range ops {
			b := tx.Bucket([]byte(o.col))
			if b == nil {
				return calerr.Newf(calerr.KindInvalidArgument, "unknown column %q", o.col)
			}
			if o.delete {
				if err := b.Delete(o.key); err != nil {
					return err
				}
				continue
			}
			if err := b.Put(o.key, o.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return calerr.Wrap(calerr.KindStorage, err, "commit temporal writes")
	}
	return nil
}

// Discard drops every staged write without touching the base Store, the
// path taken when an invocation fails.
func (t *Temporal) Discard() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops = nil
	t.dirty = make(map[string]op)
}
