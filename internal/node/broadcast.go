package node

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/crdt"
	"github.com/calimero-network/core/internal/syncmgr"
	"github.com/calimero-network/core/internal/wire"
	"github.com/calimero-network/core/pkg/ids"
)

// subscribeContext joins a context's gossip topic and launches a reader
// goroutine that merges every inbound StateDelta broadcast directly, or
// falls back to a full sync cycle when the delta's parents are not yet
// known locally. Gossip is a fast path; the sync protocol is the
// fallback that always converges.
func (n *Node) subscribeContext(ctx context.Context, contextID ids.ContextId) error {
	ch, err := n.host.Subscribe(syncmgr.ContextTopic(contextID))
	if err != nil {
		return err
	}
	subCtx, cancel := context.WithCancel(ctx)

	n.mu.Lock()
	n.unsub[contextID] = cancel
	n.mu.Unlock()

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				n.handleGossip(contextID, msg.Data)
			}
		}
	}()
	return nil
}

func (n *Node) unsubscribeContext(contextID ids.ContextId) {
	n.mu.Lock()
	cancel, ok := n.unsub[contextID]
	delete(n.unsub, contextID)
	n.mu.Unlock()
	if ok {
		cancel()
	}
}

// handleGossip decodes an inbound StateDelta broadcast, validates its
// author against the context's member snapshot, and either merges it
// immediately or enqueues a full sync cycle to recover the gap. A delta
// from a non-member is dropped: mesh reachability alone never grants
// write access to a context's state.
func (n *Node) handleGossip(contextID ids.ContextId, raw []byte) {
	sd, err := wire.DecodeStateDelta(raw)
	if err != nil {
		logrus.WithError(err).Warn("node: malformed gossip state delta")
		return
	}
	if sd.ContextID != contextID {
		return
	}

	if err := n.authorizeAuthor(contextID, sd.AuthorID); err != nil {
		logrus.WithError(err).WithField("context", contextID.String()).Warn("node: drop gossip delta")
		return
	}

	d, err := crdt.DecodeDelta(sd.Payload)
	if err != nil {
		logrus.WithError(err).Warn("node: malformed gossip delta payload")
		return
	}
	if d.Author != sd.AuthorID {
		logrus.WithField("context", contextID.String()).Warn("node: drop gossip delta with mismatched author")
		return
	}

	missing, err := n.dagMissingParents(contextID, d)
	if err != nil {
		logrus.WithError(err).Warn("node: check missing parents")
		return
	}
	if len(missing) > 0 {
		n.sync.Enqueue(contextID)
		return
	}

	if err := n.ApplyDelta(contextID, d); err != nil {
		logrus.WithError(err).WithField("context", contextID.String()).Warn("node: apply gossip delta")
		n.sync.Enqueue(contextID)
	}
}

// authorizeAuthor checks a gossip author against the context's current
// members, refreshing membership from the chain-agnostic config client
// once on a miss before giving up, the same discipline the sync
// responder applies to an inbound stream's party_id.
func (n *Node) authorizeAuthor(contextID ids.ContextId, author ids.PublicKey) error {
	if ok, err := n.isMember(contextID, author); err != nil {
		return err
	} else if ok {
		return nil
	}

	if err := n.SyncContextConfig(contextID); err != nil {
		return calerr.Wrap(calerr.KindProtocol, err, "refresh context config")
	}

	ok, err := n.isMember(contextID, author)
	if err != nil {
		return err
	}
	if !ok {
		return calerr.Newf(calerr.KindPermissionDenied, "author %s is not a member of context %s", author.String(), contextID.String())
	}
	return nil
}

func (n *Node) isMember(contextID ids.ContextId, identity ids.PublicKey) (bool, error) {
	members, err := n.Members(contextID)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m == identity {
			return true, nil
		}
	}
	return false, nil
}

func (n *Node) dagMissingParents(contextID ids.ContextId, d *crdt.Delta) ([]ids.Hash, error) {
	var missing []ids.Hash
	for _, p := range d.Parents {
		known, err := n.dag.Has(contextID, p)
		if err != nil {
			return nil, err
		}
		if !known {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

// broadcastDelta publishes d as a StateDelta gossip message on its
// context's topic.
func (n *Node) broadcastDelta(ctx context.Context, contextID ids.ContextId, author ids.PublicKey, rootHash ids.Hash, d *crdt.Delta) error {
	payload, err := d.Encode()
	if err != nil {
		return err
	}
	raw, err := wire.EncodeStateDelta(wire.StateDelta{
		ContextID: contextID,
		AuthorID:  author,
		RootHash:  rootHash,
		Payload:   payload,
	})
	if err != nil {
		return err
	}
	return n.host.Broadcast(ctx, syncmgr.ContextTopic(contextID), raw)
}
