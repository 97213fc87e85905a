// Package crdt implements the entity tree and CRDT merge semantics: a
// merkle-hashed tree of typed entities (maps, sets, lists, registers,
// counters) backed by internal/store, with a delta DAG for causal
// replication. Merkle hashes cover a variable-fanout tree keyed by
// entity; merge dispatch for Custom entities follows a three-way
// registered/missing/failed scheme.
package crdt

import (
	"encoding/json"
	"time"

	"github.com/calimero-network/core/pkg/ids"
)

// Type tags the CRDT semantics of an entity and is persisted with it,
// since merge dispatch depends on it.
type Type uint8

const (
	TypeLWWRegister Type = iota
	TypeGCounter
	TypeORSet
	TypeORMap
	TypeRGA
	TypeCustom
)

func (t Type) String() string {
	switch t {
	case TypeLWWRegister:
		return "LWWRegister"
	case TypeGCounter:
		return "GCounter"
	case TypeORSet:
		return "ORSet"
	case TypeORMap:
		return "ORMap"
	case TypeRGA:
		return "RGA"
	case TypeCustom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// ChildRef names a child entity and caches its merkle hash, so a parent's
// hash can be recomputed without re-reading every descendant.
type ChildRef struct {
	ID         ids.EntityId `json:"id"`
	MerkleHash ids.Hash     `json:"merkle_hash"`
}

// Entity is one node of the state tree: a map, set, list, register,
// counter, or an application-defined custom type. Collections are
// entities; their elements are child entities.
type Entity struct {
	ID         ids.EntityId  `json:"id"`
	Parent     ids.EntityId  `json:"parent"` // zero for the context root
	Type       Type          `json:"type"`
	CustomTag  string        `json:"custom_tag,omitempty"` // app-registered merge key, set only when Type == TypeCustom
	Data       []byte        `json:"data"`
	Children   []ChildRef    `json:"children"`
	MerkleHash ids.Hash      `json:"merkle_hash"`
	UpdatedAt  int64         `json:"updated_at"` // nanoseconds
	AuthorID   ids.PublicKey `json:"author_id"`
	DeletedAt  *int64        `json:"deleted_at,omitempty"`
}

// IsTombstoned reports whether the entity has been deleted.
func (e *Entity) IsTombstoned() bool { return e.DeletedAt != nil }

// EligibleForGC reports whether e's tombstone is older than retention,
// measured against nowNanos.
func (e *Entity) EligibleForGC(nowNanos int64, retention time.Duration) bool {
	if e.DeletedAt == nil {
		return false
	}
	return nowNanos-*e.DeletedAt >= retention.Nanoseconds()
}

// Encode serialises the entity for storage / delta payloads.
func (e *Entity) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEntity parses an entity encoded by Encode.
func DecodeEntity(b []byte) (*Entity, error) {
	var e Entity
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
