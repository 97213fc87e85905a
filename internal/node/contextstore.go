package node

import (
	"github.com/sirupsen/logrus"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/crdt"
	"github.com/calimero-network/core/internal/store"
	"github.com/calimero-network/core/pkg/ids"
)

// Node implements syncmgr.ContextStore so the sync manager can drive
// cycles purely against this interface without importing internal/node
// (which would cycle back into syncmgr).

// allContextIDs enumerates every locally known context, propagating
// errors — used internally where a failure must abort the caller rather
// than silently degrade to an empty set.
func (n *Node) allContextIDs() ([]ids.ContextId, error) {
	var out []ids.ContextId
	err := n.store.IteratePrefix(store.ColumnContextMeta, nil, func(e store.Entry) error {
		if len(e.Key) != 32 {
			return nil
		}
		out = append(out, ids.NewContextId(e.Key))
		return nil
	})
	return out, err
}

// Contexts implements syncmgr.ContextStore. Its signature has no error
// return, so a storage failure here is logged and treated as "no
// contexts this tick" rather than aborting the sync scheduler.
func (n *Node) Contexts() []ids.ContextId {
	out, err := n.allContextIDs()
	if err != nil {
		logrus.WithError(err).Warn("node: list contexts for sync")
		return nil
	}
	return out
}

func contextMembersKey(contextID ids.ContextId) []byte { return append([]byte(nil), contextID.Bytes()...) }

// Members implements syncmgr.ContextStore, returning the locally cached
// membership set last refreshed by SyncContextConfig.
func (n *Node) Members(contextID ids.ContextId) ([]ids.PublicKey, error) {
	raw, ok, err := n.store.Get(store.ColumnContextMembers, contextMembersKey(contextID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var ml memberList
	if err := unmarshalJSON(raw, &ml); err != nil {
		return nil, calerr.Wrap(calerr.KindStorage, err, "decode context members")
	}
	return ml.Members, nil
}

func (n *Node) putMembers(contextID ids.ContextId, members []ids.PublicKey) error {
	raw, err := marshalJSON(memberList{Members: members})
	if err != nil {
		return calerr.Wrap(calerr.KindInvalidArgument, err, "encode context members")
	}
	return n.store.Put(store.ColumnContextMembers, contextMembersKey(contextID), raw)
}

// RequiredBlob implements syncmgr.ContextStore: a context requires its
// application's blob to be present locally before the runtime can invoke
// it.
func (n *Node) RequiredBlob(contextID ids.ContextId) (ids.BlobId, bool, error) {
	ctx, ok, err := n.getContext(contextID)
	if err != nil || !ok {
		return ids.BlobId{}, false, err
	}
	app, ok, err := n.getApplication(ctx.ApplicationID)
	if err != nil || !ok {
		return ids.BlobId{}, false, err
	}
	return app.BlobID, true, nil
}

// Heads implements syncmgr.ContextStore.
func (n *Node) Heads(contextID ids.ContextId) ([]ids.Hash, error) {
	return n.dag.Heads(contextID)
}

// GetDelta implements syncmgr.ContextStore.
func (n *Node) GetDelta(contextID ids.ContextId, id ids.Hash) (*crdt.Delta, bool, error) {
	return n.dag.Get(contextID, id)
}

// ApplyDelta implements syncmgr.ContextStore: merge d into local state
// under a fresh temporal layer, commit atomically, then extend the DAG.
// Takes the same per-context lock Invoke does, so incoming merges are
// serialized with local invocations.
func (n *Node) ApplyDelta(contextID ids.ContextId, d *crdt.Delta) error {
	lock := n.contextLock(contextID)
	lock.Lock()
	defer lock.Unlock()

	tx := n.store.Begin()
	tree := crdt.NewTreeWithCache(tx, contextID, n.cache)
	rootID := crdt.RootEntityID(contextID)
	if err := tree.EnsureRoot(rootID, false); err != nil {
		tx.Discard()
		return err
	}
	if err := crdt.Apply(n.merge, tree, d, false); err != nil {
		tx.Discard()
		return err
	}
	if _, err := tree.RecomputeHashes(false); err != nil {
		tx.Discard()
		return err
	}
	root, ok, err := tree.Get(rootID, false)
	if err != nil {
		tx.Discard()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	tree.PublishCache()
	if err := n.dag.Append(d); err != nil {
		return err
	}
	if ok {
		if c, known, cerr := n.getContext(contextID); cerr == nil && known {
			c.RootHash = root.MerkleHash
			_ = n.putContext(c)
		}
	}
	return nil
}

// SyncContextConfig implements syncmgr.ContextStore, refreshing a
// context's membership from its chain-agnostic config client — called by
// the sync responder when an inbound party_id is not yet recognised as a
// member.
func (n *Node) SyncContextConfig(contextID ids.ContextId) error {
	ctx, ok, err := n.getContext(contextID)
	if err != nil {
		return err
	}
	if !ok {
		return calerr.Newf(calerr.KindNotFound, "context %s not known locally", contextID.String())
	}
	client := n.chainClientFor(ctx.NetworkID, ctx.ContractID)

	bg := backgroundCtx()
	revision, err := client.MembersRevision(bg)
	if err != nil {
		return err
	}
	members, err := client.Members(bg, 0, ^uint64(0))
	if err != nil {
		return err
	}
	if err := n.putMembers(contextID, members); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"context": contextID.String(), "revision": revision, "members": len(members)}).Debug("node: synced context config")
	return nil
}

func (n *Node) getContext(contextID ids.ContextId) (*Context, bool, error) {
	raw, ok, err := n.store.Get(store.ColumnContextMeta, contextMetaKey(contextID))
	if err != nil || !ok {
		return nil, ok, err
	}
	c, err := decodeContext(raw)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func (n *Node) putContext(c *Context) error {
	raw, err := c.encode()
	if err != nil {
		return calerr.Wrap(calerr.KindInvalidArgument, err, "encode context meta")
	}
	return n.store.Put(store.ColumnContextMeta, contextMetaKey(c.ID), raw)
}

func (n *Node) getApplication(appID ids.ApplicationId) (*Application, bool, error) {
	raw, ok, err := n.store.Get(store.ColumnApplicationMeta, append([]byte(nil), appID.Bytes()...))
	if err != nil || !ok {
		return nil, ok, err
	}
	a, err := decodeApplication(raw)
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}
