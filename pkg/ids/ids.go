// Package ids defines the opaque 32-byte identifiers used throughout
// Calimero: contexts, applications, blobs, member public keys and CRDT
// entities. Every flavour shares the same physical representation and
// differs only by a compile-time phantom tag: the tag documents intent
// and stops cross-role mixups at compile time, at no runtime cost.
package ids

import (
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
)

// roleContext, roleApplication, etc. exist only at compile time: Go has no
// template specialisation, so the tag is carried via a distinct named type
// per role rather than a generic parameter over an enum value.
type (
	roleContext     struct{}
	roleApplication struct{}
	roleBlob        struct{}
	rolePublicKey   struct{}
	roleEntity      struct{}
)

// ID is a 32-byte opaque identifier tagged with a role R that exists only
// at compile time (it adds no runtime cost: sizeof(ID[R]) == 32).
type ID[R any] [32]byte

type (
	ContextId     = ID[roleContext]
	ApplicationId = ID[roleApplication]
	BlobId        = ID[roleBlob]
	PublicKey     = ID[rolePublicKey]
	EntityId      = ID[roleEntity]
)

// Hash is a SHA-256 digest. It is not role-tagged: equality of hashes
// defines equality of the hashed content regardless of what produced it.
type Hash [32]byte

// String renders the identifier as base58, the surface representation
// shared by all identifier flavours.
func (id ID[R]) String() string {
	return base58.Encode(id[:])
}

// IsZero reports whether id is the all-zero identifier (never assigned).
func (id ID[R]) IsZero() bool {
	return id == ID[R]{}
}

// Bytes returns the identifier's raw 32 bytes.
func (id ID[R]) Bytes() []byte {
	return id[:]
}

// MarshalJSON renders the identifier as its base58 string form.
func (id ID[R]) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON parses the identifier from its base58 string form.
func (id *ID[R]) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse[R](s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse decodes a base58-rendered identifier of role R.
func Parse[R any](s string) (ID[R], error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return ID[R]{}, fmt.Errorf("ids: decode base58: %w", err)
	}
	if len(raw) != 32 {
		return ID[R]{}, fmt.Errorf("ids: expected 32 bytes, got %d", len(raw))
	}
	var id ID[R]
	copy(id[:], raw)
	return id, nil
}

// FromBytes wraps a 32-byte slice as an identifier of role R. It panics if
// b is not exactly 32 bytes, matching the package's invariant that every
// identifier is fixed-size; callers working with untrusted lengths should
// check len(b) first.
func FromBytes[R any](b []byte) ID[R] {
	if len(b) != 32 {
		panic(fmt.Sprintf("ids: FromBytes: expected 32 bytes, got %d", len(b)))
	}
	var id ID[R]
	copy(id[:], b)
	return id
}

// String renders the hash as base58.
func (h Hash) String() string {
	return base58.Encode(h[:])
}

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Bytes returns the hash's raw 32 bytes.
func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("ids: decode hash: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("ids: expected 32-byte hash, got %d", len(raw))
	}
	copy(h[:], raw)
	return nil
}

// HashFromBytes wraps a 32-byte slice as a Hash, panicking on wrong length
// for the same reason as FromBytes.
func HashFromBytes(b []byte) Hash {
	if len(b) != 32 {
		panic(fmt.Sprintf("ids: HashFromBytes: expected 32 bytes, got %d", len(b)))
	}
	var h Hash
	copy(h[:], b)
	return h
}

// Per-role constructors and parsers.
//
// Go cannot infer an unexported role type from outside this package, so
// FromBytes[roleBlob] and Parse[roleBlob] are only callable here. Every
// other package in the module goes through these named wrappers instead.

func NewContextId(b []byte) ContextId         { return FromBytes[roleContext](b) }
func NewApplicationId(b []byte) ApplicationId { return FromBytes[roleApplication](b) }
func NewBlobId(b []byte) BlobId               { return FromBytes[roleBlob](b) }
func NewPublicKey(b []byte) PublicKey         { return FromBytes[rolePublicKey](b) }
func NewEntityId(b []byte) EntityId           { return FromBytes[roleEntity](b) }

func ParseContextId(s string) (ContextId, error)         { return Parse[roleContext](s) }
func ParseApplicationId(s string) (ApplicationId, error) { return Parse[roleApplication](s) }
func ParseBlobId(s string) (BlobId, error)               { return Parse[roleBlob](s) }
func ParsePublicKey(s string) (PublicKey, error)         { return Parse[rolePublicKey](s) }
func ParseEntityId(s string) (EntityId, error)           { return Parse[roleEntity](s) }
