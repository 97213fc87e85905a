// Package node implements the orchestrator: it owns context lifecycle,
// wires internal/store, internal/blob, internal/crdt, internal/wasmvm,
// internal/chainclient, internal/p2p, internal/syncmgr and internal/gc
// together, and exposes the node's management surface as Go methods.
package node

import (
	"encoding/json"
	"time"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/pkg/ids"
)

// Context is the local bookkeeping record for one context this node
// participates in: which application it runs and which signed-config
// verifier (chainclient binding) governs its membership.
type Context struct {
	ID            ids.ContextId     `json:"id"`
	ApplicationID ids.ApplicationId `json:"application_id"`
	// RootHash is the merkle hash of the root CRDT entity, refreshed
	// after every successful Invoke or ApplyDelta. Zero until the
	// context's first write.
	RootHash   ids.Hash `json:"root_hash"`
	NetworkID  string   `json:"network_id"`
	ContractID string   `json:"contract_id"`
	CreatedAt  int64    `json:"created_at"`
}

func (c *Context) encode() ([]byte, error) { return json.Marshal(c) }

func decodeContext(b []byte) (*Context, error) {
	var c Context
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, calerr.Wrap(calerr.KindStorage, err, "decode context meta")
	}
	return &c, nil
}

// Application is the local record of an installed application blob.
type Application struct {
	ID          ids.ApplicationId `json:"id"`
	BlobID      ids.BlobId        `json:"blob_id"`
	Size        int64             `json:"size"`
	InstalledAt int64             `json:"installed_at"`
}

func (a *Application) encode() ([]byte, error) { return json.Marshal(a) }

func decodeApplication(b []byte) (*Application, error) {
	var a Application
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, calerr.Wrap(calerr.KindStorage, err, "decode application meta")
	}
	return &a, nil
}

// memberList is the locally cached membership set for a context, refreshed
// from the chain-agnostic config client by SyncContextConfig.
type memberList struct {
	Members []ids.PublicKey `json:"members"`
}

// InvitationPayload is the opaque, out-of-band token InviteContext
// produces and JoinContext consumes: everything a joining node needs to
// bind the context locally once its public key has been granted
// membership on the verifier side (the Invite/Join pair has no
// transport of its own — delivering the token is the caller's job, e.g.
// over an out-of-band channel or a CLI argument).
type InvitationPayload struct {
	ContextID     ids.ContextId     `json:"context_id"`
	ApplicationID ids.ApplicationId `json:"application_id"`
	NetworkID     string            `json:"network_id"`
	ContractID    string            `json:"contract_id"`
}

func nowNanos() int64 { return time.Now().UnixNano() }
