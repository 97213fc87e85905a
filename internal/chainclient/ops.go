package chainclient

import (
	"context"
	"crypto/ed25519"
	"encoding/json"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/pkg/ids"
)

// Method names for the verifier's query/mutate operations. These cross
// the wire as Request.Method, so a Transport implementation
// can dispatch on them directly.
const (
	MethodApplication         = "application"
	MethodApplicationRevision = "application_revision"
	MethodMembers             = "members"
	MethodHasMember           = "has_member"
	MethodMembersRevision     = "members_revision"
	MethodPrivileges          = "privileges"
	MethodProxyContract       = "proxy_contract"
	MethodFetchNonce          = "fetch_nonce"

	MethodAddContext           = "add_context"
	MethodUpdateApplication    = "update_application"
	MethodAddMembers           = "add_members"
	MethodRemoveMembers        = "remove_members"
	MethodGrant                = "grant"
	MethodRevoke               = "revoke"
	MethodUpdateProxyContract  = "update_proxy_contract"
)

// Capability is a grantable privilege over a context, the unit the
// grant/revoke pair operates on.
type Capability string

const (
	CapabilityManageApplication Capability = "manage_application"
	CapabilityManageMembers     Capability = "manage_members"
	CapabilityProxy             Capability = "proxy"
)

// Application returns the application bound to this client's context.
func (c *Client) Application(ctx context.Context) (ids.ApplicationId, error) {
	resp, err := c.query(ctx, MethodApplication, nil)
	if err != nil {
		return ids.ApplicationId{}, err
	}
	var out struct {
		ApplicationID string `json:"application_id"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return ids.ApplicationId{}, calerr.Wrap(calerr.KindExternal, err, "decode application response")
	}
	return ids.ParseApplicationId(out.ApplicationID)
}

// ApplicationRevision returns the monotonic revision counter of the
// bound application, incremented on every UpdateApplication.
func (c *Client) ApplicationRevision(ctx context.Context) (uint64, error) {
	resp, err := c.query(ctx, MethodApplicationRevision, nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		Revision uint64 `json:"revision"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return 0, calerr.Wrap(calerr.KindExternal, err, "decode application_revision response")
	}
	return out.Revision, nil
}

// Members returns up to length member identities starting at offset.
func (c *Client) Members(ctx context.Context, offset, length uint64) ([]ids.PublicKey, error) {
	resp, err := c.query(ctx, MethodMembers, struct {
		Offset uint64 `json:"offset"`
		Length uint64 `json:"length"`
	}{offset, length})
	if err != nil {
		return nil, err
	}
	var out struct {
		Members []string `json:"members"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, calerr.Wrap(calerr.KindExternal, err, "decode members response")
	}
	members := make([]ids.PublicKey, 0, len(out.Members))
	for _, m := range out.Members {
		pk, err := ids.ParsePublicKey(m)
		if err != nil {
			return nil, calerr.Wrap(calerr.KindExternal, err, "decode member identity")
		}
		members = append(members, pk)
	}
	return members, nil
}

// HasMember reports whether identity currently belongs to this context.
func (c *Client) HasMember(ctx context.Context, identity ids.PublicKey) (bool, error) {
	resp, err := c.query(ctx, MethodHasMember, struct {
		Identity string `json:"identity"`
	}{identity.String()})
	if err != nil {
		return false, err
	}
	var out struct {
		HasMember bool `json:"has_member"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return false, calerr.Wrap(calerr.KindExternal, err, "decode has_member response")
	}
	return out.HasMember, nil
}

// MembersRevision returns the monotonic revision counter of the member
// set, incremented on every AddMembers/RemoveMembers.
func (c *Client) MembersRevision(ctx context.Context) (uint64, error) {
	resp, err := c.query(ctx, MethodMembersRevision, nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		Revision uint64 `json:"revision"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return 0, calerr.Wrap(calerr.KindExternal, err, "decode members_revision response")
	}
	return out.Revision, nil
}

// Privileges returns the capability set held by each requested identity.
func (c *Client) Privileges(ctx context.Context, identities []ids.PublicKey) (map[string][]Capability, error) {
	strs := make([]string, len(identities))
	for i, id := range identities {
		strs[i] = id.String()
	}
	resp, err := c.query(ctx, MethodPrivileges, struct {
		Identities []string `json:"identities"`
	}{strs})
	if err != nil {
		return nil, err
	}
	var out map[string][]Capability
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, calerr.Wrap(calerr.KindExternal, err, "decode privileges response")
	}
	return out, nil
}

// ProxyContract returns the address of the context's proxy contract, if
// one has been configured.
func (c *Client) ProxyContract(ctx context.Context) (string, error) {
	resp, err := c.query(ctx, MethodProxyContract, nil)
	if err != nil {
		return "", err
	}
	var out struct {
		ProxyContract string `json:"proxy_contract"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", calerr.Wrap(calerr.KindExternal, err, "decode proxy_contract response")
	}
	return out.ProxyContract, nil
}

// FetchNonce returns the next expected nonce for identity, which every
// mutate it issues must carry exactly.
func (c *Client) FetchNonce(ctx context.Context, identity ids.PublicKey) (uint64, error) {
	resp, err := c.query(ctx, MethodFetchNonce, struct {
		Identity string `json:"identity"`
	}{identity.String()})
	if err != nil {
		return 0, err
	}
	var out struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return 0, calerr.Wrap(calerr.KindExternal, err, "decode fetch_nonce response")
	}
	return out.Nonce, nil
}

// mutateBody is embedded in every mutate's signed payload so the
// verifier can enforce the nonce discipline without a side channel.
type mutateBody struct {
	Nonce uint64 `json:"nonce"`
	Body  any    `json:"body"`
}

// mutateWithNonce fetches identity's current nonce, signs and sends the
// mutate, and retries exactly once on a nonce-rejection Protocol error,
// refreshing the nonce first.
func (c *Client) mutateWithNonce(ctx context.Context, method string, identity ids.PublicKey, priv ed25519.PrivateKey, body any) ([]byte, error) {
	for attempt := 0; attempt < 2; attempt++ {
		nonce, err := c.FetchNonce(ctx, identity)
		if err != nil {
			return nil, err
		}
		resp, err := c.mutate(ctx, method, mutateBody{Nonce: nonce, Body: body}, priv)
		if err == nil {
			return resp, nil
		}
		if calerr.Is(err, calerr.KindProtocol) && attempt == 0 {
			continue
		}
		return nil, err
	}
	return nil, calerr.New(calerr.KindProtocol, "mutate rejected after nonce refresh")
}

// AddContext registers a new context with the verifier.
func (c *Client) AddContext(ctx context.Context, contextID ids.ContextId, applicationID ids.ApplicationId, identity ids.PublicKey, priv ed25519.PrivateKey) error {
	_, err := c.mutateWithNonce(ctx, MethodAddContext, identity, priv, struct {
		ContextID     string `json:"context_id"`
		ApplicationID string `json:"application_id"`
	}{contextID.String(), applicationID.String()})
	return err
}

// UpdateApplication repoints the context at a new application, the
// verifier half of an application reinstallation.
func (c *Client) UpdateApplication(ctx context.Context, applicationID ids.ApplicationId, identity ids.PublicKey, priv ed25519.PrivateKey) error {
	_, err := c.mutateWithNonce(ctx, MethodUpdateApplication, identity, priv, struct {
		ApplicationID string `json:"application_id"`
	}{applicationID.String()})
	return err
}

// AddMembers adds identities to the context's member set.
func (c *Client) AddMembers(ctx context.Context, members []ids.PublicKey, identity ids.PublicKey, priv ed25519.PrivateKey) error {
	strs := make([]string, len(members))
	for i, m := range members {
		strs[i] = m.String()
	}
	_, err := c.mutateWithNonce(ctx, MethodAddMembers, identity, priv, struct {
		Members []string `json:"members"`
	}{strs})
	return err
}

// RemoveMembers removes identities from the context's member set.
func (c *Client) RemoveMembers(ctx context.Context, members []ids.PublicKey, identity ids.PublicKey, priv ed25519.PrivateKey) error {
	strs := make([]string, len(members))
	for i, m := range members {
		strs[i] = m.String()
	}
	_, err := c.mutateWithNonce(ctx, MethodRemoveMembers, identity, priv, struct {
		Members []string `json:"members"`
	}{strs})
	return err
}

// Grant extends capability to target, signed by identity.
func (c *Client) Grant(ctx context.Context, target ids.PublicKey, capability Capability, identity ids.PublicKey, priv ed25519.PrivateKey) error {
	_, err := c.mutateWithNonce(ctx, MethodGrant, identity, priv, struct {
		Target     string     `json:"target"`
		Capability Capability `json:"capability"`
	}{target.String(), capability})
	return err
}

// Revoke withdraws capability from target, signed by identity.
func (c *Client) Revoke(ctx context.Context, target ids.PublicKey, capability Capability, identity ids.PublicKey, priv ed25519.PrivateKey) error {
	_, err := c.mutateWithNonce(ctx, MethodRevoke, identity, priv, struct {
		Target     string     `json:"target"`
		Capability Capability `json:"capability"`
	}{target.String(), capability})
	return err
}

// UpdateProxyContract repoints the context's proxy contract address.
func (c *Client) UpdateProxyContract(ctx context.Context, proxyContract string, identity ids.PublicKey, priv ed25519.PrivateKey) error {
	_, err := c.mutateWithNonce(ctx, MethodUpdateProxyContract, identity, priv, struct {
		ProxyContract string `json:"proxy_contract"`
	}{proxyContract})
	return err
}
