// Package chainclient implements the chain-agnostic signed-configuration
// client: query/mutate access to an external verifier (the on-chain or
// off-chain authority that owns a context's membership and application
// metadata), behind a single Transport abstraction. The client composes
// calls against that narrow seam without knowing per-chain wire
// formats; encoding is per-protocol and lives in the Transport
// implementation.
package chainclient

import (
	"context"
	"crypto/ed25519"
	"encoding/json"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/pkg/ids"
)

// OperationKind distinguishes a read from an authenticated write, so a
// Transport can route queries and mutates differently without parsing
// the method name.
type OperationKind uint8

const (
	OperationRead OperationKind = iota
	OperationWrite
)

// Request is the opaque envelope a Transport receives: which network
// and contract to address, which operation kind and method, plus the
// already-serialized (and, for writes, already-signed) payload.
type Request struct {
	NetworkID  string
	ContractID string
	Kind       OperationKind
	Method     string
	Payload    []byte
	// Identity is the signer's public key for a Write request, in the
	// same string form pkg/ids renders it. Ed25519 signatures carry no
	// recoverable public key the way an EVM ecrecover does, so the
	// verifier has no way to know who to check a mutate's signature
	// against without this — it is not part of the signed payload
	// itself because the signer is the transport-level caller, not
	// part of the mutate body any two peers need to agree on. Unset
	// for Read requests.
	Identity string
}

// Transport is the single seam between the client and a concrete chain
// or off-chain verifier. Exactly one reference implementation
// (chainclient/evmcompat) ships with this module; production adapters
// for real networks are out of scope.
type Transport interface {
	Call(ctx context.Context, req Request) ([]byte, error)
}

// Client composes Transport calls into the typed query/mutate surface,
// handling canonical payload construction, signing, and nonce
// discipline for mutates.
type Client struct {
	transport  Transport
	networkID  string
	contractID string
}

// New constructs a Client bound to one (network, contract) pair, mirroring
// a context's `proxy_contract` binding.
func New(transport Transport, networkID, contractID string) *Client {
	return &Client{transport: transport, networkID: networkID, contractID: contractID}
}

// query issues a read-only call and returns its raw opaque response.
func (c *Client) query(ctx context.Context, method string, args any) ([]byte, error) {
	payload, err := canonicalJSON(args)
	if err != nil {
		return nil, calerr.Wrap(calerr.KindInvalidArgument, err, "encode query args")
	}
	resp, err := c.transport.Call(ctx, Request{
		NetworkID:  c.networkID,
		ContractID: c.contractID,
		Kind:       OperationRead,
		Method:     method,
		Payload:    payload,
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// mutate signs body with signer's identity key and issues an
// authenticated write's "mutate request is always a
// signed payload".
func (c *Client) mutate(ctx context.Context, method string, body any, signer ed25519.PrivateKey) ([]byte, error) {
	signed, err := Sign(body, signer)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(signed)
	if err != nil {
		return nil, calerr.Wrap(calerr.KindInvalidArgument, err, "encode signed payload")
	}
	pub, ok := signer.Public().(ed25519.PublicKey)
	if !ok {
		return nil, calerr.New(calerr.KindInvalidArgument, "mutate: signer is not an ed25519 key")
	}
	resp, err := c.transport.Call(ctx, Request{
		NetworkID:  c.networkID,
		ContractID: c.contractID,
		Kind:       OperationWrite,
		Method:     method,
		Payload:    payload,
		Identity:   ids.NewPublicKey(pub).String(),
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
