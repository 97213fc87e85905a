package node

import (
	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/crypto"
	"github.com/calimero-network/core/internal/store"
	"github.com/calimero-network/core/pkg/ids"
)

// NewIdentity mints a fresh Ed25519 keypair and stores its private key
// under store.ColumnIdentities, making it one of this node's owned
// identities, usable as a context member without it being the node's
// primary sync identity.
func (n *Node) NewIdentity() (ids.PublicKey, error) {
	pub, priv, err := crypto.GenerateIdentity()
	if err != nil {
		return ids.PublicKey{}, err
	}
	id := ids.NewPublicKey(pub)
	if err := n.store.Put(store.ColumnIdentities, id.Bytes(), priv); err != nil {
		return ids.PublicKey{}, err
	}
	return id, nil
}

// ListIdentities returns every identity this node holds a private key
// for, including the primary sync identity.
func (n *Node) ListIdentities() ([]ids.PublicKey, error) {
	var out []ids.PublicKey
	err := n.store.IteratePrefix(store.ColumnIdentities, nil, func(e store.Entry) error {
		// identityPrimaryKey is a distinguishable non-32-byte sentinel
		// key pointing at which of these is primary, not an identity
		// record itself.
		if len(e.Key) != 32 {
			return nil
		}
		out = append(out, ids.NewPublicKey(e.Key))
		return nil
	})
	return out, err
}

// HasIdentity reports whether this node holds a private key for pub.
func (n *Node) HasIdentity(pub ids.PublicKey) (bool, error) {
	return n.store.Has(store.ColumnIdentities, pub.Bytes())
}

func aliasKey(name string) []byte { return []byte(name) }

// AliasSet binds name to identity, overwriting any prior binding.
func (n *Node) AliasSet(name string, identity ids.PublicKey) error {
	return n.store.Put(store.ColumnAliases, aliasKey(name), append([]byte(nil), identity.Bytes()...))
}

// AliasRemove drops name's binding, if any.
func (n *Node) AliasRemove(name string) error {
	return n.store.Delete(store.ColumnAliases, aliasKey(name))
}

// AliasList returns every alias binding, keyed by name.
func (n *Node) AliasList() (map[string]ids.PublicKey, error) {
	out := make(map[string]ids.PublicKey)
	err := n.store.IteratePrefix(store.ColumnAliases, nil, func(e store.Entry) error {
		if len(e.Value) != 32 {
			return calerr.Newf(calerr.KindStorage, "alias %q: corrupt identity binding", string(e.Key))
		}
		out[string(e.Key)] = ids.NewPublicKey(e.Value)
		return nil
	})
	return out, err
}

// AliasGet resolves name to the identity it was bound to, if any.
func (n *Node) AliasGet(name string) (ids.PublicKey, bool, error) {
	raw, ok, err := n.store.Get(store.ColumnAliases, aliasKey(name))
	if err != nil || !ok {
		return ids.PublicKey{}, ok, err
	}
	if len(raw) != 32 {
		return ids.PublicKey{}, false, calerr.Newf(calerr.KindStorage, "alias %q: corrupt identity binding", name)
	}
	return ids.NewPublicKey(raw), true, nil
}
