// Package evmcompat is the reference chainclient.Transport adapter: it
// exercises the abstract Transport contract against an EVM-shaped
// verifier without implementing a real JSON-RPC client. Contract
// identities are rendered as common.Address, and method routing uses
// the same Keccak256-derived 4-byte selector scheme Solidity ABI
// encoding uses (crypto.Keccak256([]byte(signature))[:4]), computed
// here over chainclient's Method strings instead of a real Solidity
// signature.
package evmcompat

import (
	"context"
	"encoding/hex"
	"sync"

	gethcommon "github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/chainclient"
)

// Selector is the 4-byte Keccak256-derived method identifier used to
// route calls, the same scheme the Solidity ABI uses for function
// dispatch.
type Selector [4]byte

// MethodSelector derives the selector for method, matching
// go-ethereum's crypto.Keccak256 over an ABI-style signature string.
func MethodSelector(method string) Selector {
	sum := gethcrypto.Keccak256([]byte(method + "()"))
	var sel Selector
	copy(sel[:], sum[:4])
	return sel
}

// Handler answers one routed call against a contract's in-memory state.
// identity is the signer's public key (in pkg/ids string form) for a
// write, populated from chainclient.Request.Identity; empty for a read.
type Handler func(ctx context.Context, identity string, payload []byte) ([]byte, error)

// Verifier is an in-process stand-in for an EVM contract acting as a
// context's signed-configuration verifier: a table of method selectors
// to handlers, addressed by its deployment address.
type Verifier struct {
	Address  gethcommon.Address
	handlers map[Selector]Handler
}

// NewVerifier constructs an empty Verifier at address, ready for
// handler registration via Handle.
func NewVerifier(address gethcommon.Address) *Verifier {
	return &Verifier{Address: address, handlers: make(map[Selector]Handler)}
}

// Handle registers the handler invoked for method, regardless of
// whether it is called as a query or a mutate —
// Read/Write distinction is enforced by the caller (chainclient.Client),
// not the verifier.
func (v *Verifier) Handle(method string, h Handler) {
	v.handlers[MethodSelector(method)] = h
}

// Transport is the chainclient.Transport implementation routing calls to
// registered Verifiers by their hex contract address.
type Transport struct {
	mu        sync.RWMutex
	verifiers map[string]*Verifier
}

// NewTransport constructs an empty Transport.
func NewTransport() *Transport {
	return &Transport{verifiers: make(map[string]*Verifier)}
}

// Register makes v reachable at its own address for any NetworkID.
func (t *Transport) Register(v *Verifier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.verifiers[v.Address.Hex()] = v
}

// Call implements chainclient.Transport, routing req to the verifier
// named by req.ContractID (an EVM hex address) and the handler whose
// selector matches req.Method.
func (t *Transport) Call(ctx context.Context, req chainclient.Request) ([]byte, error) {
	if !gethcommon.IsHexAddress(req.ContractID) {
		return nil, calerr.Newf(calerr.KindInvalidArgument, "evmcompat: invalid contract id %q", req.ContractID)
	}

	t.mu.RLock()
	v, ok := t.verifiers[gethcommon.HexToAddress(req.ContractID).Hex()]
	t.mu.RUnlock()
	if !ok {
		return nil, calerr.Newf(calerr.KindNotFound, "evmcompat: unknown contract %s", req.ContractID)
	}

	sel := MethodSelector(req.Method)
	h, ok := v.handlers[sel]
	if !ok {
		return nil, calerr.Newf(calerr.KindInvalidArgument, "evmcompat: method %q (selector %s) not implemented", req.Method, hex.EncodeToString(sel[:]))
	}
	return h(ctx, req.Identity, req.Payload)
}
