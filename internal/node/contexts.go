package node

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/store"
	"github.com/calimero-network/core/pkg/ids"
)

// CreateContext mints a new context bound to applicationID, registers it
// with the (networkID, contractID) signed-config verifier under this
// node's own identity as its first member, and starts participating in
// its gossip mesh.
func (n *Node) CreateContext(ctx context.Context, applicationID ids.ApplicationId, networkID, contractID string) (*Context, error) {
	if _, ok, err := n.getApplication(applicationID); err != nil {
		return nil, err
	} else if !ok {
		return nil, calerr.Newf(calerr.KindNotFound, "application %s not installed", applicationID.String())
	}

	raw, err := randomBytes32()
	if err != nil {
		return nil, err
	}
	contextID := ids.NewContextId(raw[:])

	client := n.chainClientFor(networkID, contractID)
	if err := client.AddContext(ctx, contextID, applicationID, n.pub, n.priv); err != nil {
		return nil, err
	}

	c := &Context{ID: contextID, ApplicationID: applicationID, NetworkID: networkID, ContractID: contractID, CreatedAt: nowNanos()}
	if err := n.putContext(c); err != nil {
		return nil, err
	}
	if err := n.putMembers(contextID, []ids.PublicKey{n.pub}); err != nil {
		return nil, err
	}
	if err := n.subscribeContext(ctx, contextID); err != nil {
		return nil, err
	}
	return c, nil
}

// ListContexts returns every context this node locally participates in.
//
func (n *Node) ListContexts() ([]*Context, error) {
	contextIDs, err := n.allContextIDs()
	if err != nil {
		return nil, err
	}
	out := make([]*Context, 0, len(contextIDs))
	for _, cid := range contextIDs {
		c, ok, err := n.getContext(cid)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// LeaveContext removes this node's identity from contextID's membership
// on the verifier, stops participating in its gossip mesh, and drops the
// local context record. The synced and private state columns are left in
// place for the GC sweeper's normal tombstone-retention path rather than
// force-deleted here.
func (n *Node) LeaveContext(ctx context.Context, contextID ids.ContextId) error {
	c, ok, err := n.getContext(contextID)
	if err != nil {
		return err
	}
	if !ok {
		return calerr.Newf(calerr.KindNotFound, "context %s not known locally", contextID.String())
	}

	client := n.chainClientFor(c.NetworkID, c.ContractID)
	if err := client.RemoveMembers(ctx, []ids.PublicKey{n.pub}, n.pub, n.priv); err != nil {
		return err
	}

	n.unsubscribeContext(contextID)
	return n.store.Delete(store.ColumnContextMeta, contextMetaKey(contextID))
}

// ReinstallApplication rebinds contextID to applicationID, recording the
// change with the context's signed-config verifier first so every member
// observes the same application revision. The context's CRDT state is
// untouched: reinstallation swaps the code, not the data.
func (n *Node) ReinstallApplication(ctx context.Context, contextID ids.ContextId, applicationID ids.ApplicationId) error {
	if _, ok, err := n.getApplication(applicationID); err != nil {
		return err
	} else if !ok {
		return calerr.Newf(calerr.KindNotFound, "application %s not installed", applicationID.String())
	}

	c, ok, err := n.getContext(contextID)
	if err != nil {
		return err
	}
	if !ok {
		return calerr.Newf(calerr.KindNotFound, "context %s not known locally", contextID.String())
	}

	client := n.chainClientFor(c.NetworkID, c.ContractID)
	if err := client.UpdateApplication(ctx, applicationID, n.pub, n.priv); err != nil {
		return err
	}

	c.ApplicationID = applicationID
	return n.putContext(c)
}

// ProxyContract resolves contextID's proxy contract address from its
// signed-config verifier.
func (n *Node) ProxyContract(ctx context.Context, contextID ids.ContextId) (string, error) {
	c, ok, err := n.getContext(contextID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", calerr.Newf(calerr.KindNotFound, "context %s not known locally", contextID.String())
	}
	return n.chainClientFor(c.NetworkID, c.ContractID).ProxyContract(ctx)
}

// InviteContext grants identity membership on contextID's verifier and
// returns an opaque, base64-encoded token carrying everything Join needs
// to bind the context locally. Delivering the token to the invitee is
// the caller's job; invitations have no transport of their own.
func (n *Node) InviteContext(ctx context.Context, contextID ids.ContextId, identity ids.PublicKey) (string, error) {
	c, ok, err := n.getContext(contextID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", calerr.Newf(calerr.KindNotFound, "context %s not known locally", contextID.String())
	}

	client := n.chainClientFor(c.NetworkID, c.ContractID)
	if err := client.AddMembers(ctx, []ids.PublicKey{identity}, n.pub, n.priv); err != nil {
		return "", err
	}

	payload := InvitationPayload{ContextID: contextID, ApplicationID: c.ApplicationID, NetworkID: c.NetworkID, ContractID: c.ContractID}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", calerr.Wrap(calerr.KindInvalidArgument, err, "encode invitation")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// JoinContext decodes a token produced by InviteContext, confirms this
// node's identity is already a recognised member, and begins
// participating in the context's gossip mesh and sync schedule.
//
func (n *Node) JoinContext(ctx context.Context, token string) (*Context, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, calerr.Wrap(calerr.KindInvalidArgument, err, "decode invitation token")
	}
	var payload InvitationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, calerr.Wrap(calerr.KindInvalidArgument, err, "decode invitation payload")
	}

	client := n.chainClientFor(payload.NetworkID, payload.ContractID)
	isMember, err := client.HasMember(ctx, n.pub)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, calerr.New(calerr.KindPermissionDenied, "join: identity not yet granted membership")
	}

	c := &Context{ID: payload.ContextID, ApplicationID: payload.ApplicationID, NetworkID: payload.NetworkID, ContractID: payload.ContractID, CreatedAt: nowNanos()}
	if err := n.putContext(c); err != nil {
		return nil, err
	}
	if err := n.SyncContextConfig(c.ID); err != nil {
		return nil, err
	}
	if err := n.subscribeContext(ctx, c.ID); err != nil {
		return nil, err
	}
	n.sync.Enqueue(c.ID)
	return c, nil
}
