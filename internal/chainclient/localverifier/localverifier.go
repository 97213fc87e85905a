// Package localverifier is a persistent, file-backed stand-in for an
// external signed-configuration authority:
// every context's membership, application binding, and proxy contract
// address lives in one JSON file on local disk rather than on a real
// chain, wired behind chainclient/evmcompat's Transport so calimerod can
// create and manage contexts without a pre-deployed verifier contract.
//
// State is disk-persisted rather than held in memory because a CLI
// invocation is a fresh process each time; callers address a contract
// by its id, never its internals.
package localverifier

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	gethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/chainclient"
	"github.com/calimero-network/core/internal/chainclient/evmcompat"
	"github.com/calimero-network/core/internal/crypto"
	"github.com/calimero-network/core/pkg/ids"
)

// DefaultAddress is the well-known verifier contract calimerod registers
// automatically, so `context create` works against a freshly initialised
// node without first deploying anything.
var DefaultAddress = gethcommon.HexToAddress("0x000000000000000000000000000000ca11be70")

// DefaultNetworkID names the network a context is bound to when the
// caller does not override it.
const DefaultNetworkID = "local"

type contractState struct {
	ApplicationID       string              `json:"application_id"`
	ApplicationRevision uint64              `json:"application_revision"`
	Members             []string            `json:"members"`
	MembersRevision     uint64              `json:"members_revision"`
	Nonces              map[string]uint64   `json:"nonces"`
	Privileges          map[string][]string `json:"privileges"`
	ProxyContract       string              `json:"proxy_contract"`
}

func newContractState() *contractState {
	return &contractState{Nonces: make(map[string]uint64), Privileges: make(map[string][]string)}
}

func (s *contractState) isMember(identity string) bool {
	for _, m := range s.Members {
		if m == identity {
			return true
		}
	}
	return false
}

func (s *contractState) removeMember(identity string) {
	out := s.Members[:0]
	for _, m := range s.Members {
		if m != identity {
			out = append(out, m)
		}
	}
	s.Members = out
}

// Store holds every contract this process has registered, persisted as
// one JSON document and kept in sync with an evmcompat.Transport.
type Store struct {
	path      string
	mu        sync.Mutex
	contracts map[string]*contractState // checksummed hex address (addr.Hex()) -> state
	transport *evmcompat.Transport
}

// Open loads (or initialises) a Store backed by path, with
// localverifier.DefaultAddress already registered against the shared
// Transport it returns via Transport().
func Open(path string) (*Store, error) {
	s := &Store{path: path, contracts: make(map[string]*contractState), transport: evmcompat.NewTransport()}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(raw) > 0 {
			if jerr := json.Unmarshal(raw, &s.contracts); jerr != nil {
				return nil, calerr.Wrap(calerr.KindStorage, jerr, "decode local verifier store")
			}
		}
	case os.IsNotExist(err):
		// fresh store
	default:
		return nil, calerr.Wrap(calerr.KindStorage, err, "read local verifier store")
	}

	for addr := range s.contracts {
		s.registerLocked(gethcommon.HexToAddress(addr))
	}
	s.EnsureContract(DefaultAddress)
	return s, nil
}

// Transport returns the chainclient.Transport backing every contract
// this Store has registered.
func (s *Store) Transport() chainclient.Transport { return s.transport }

// EnsureContract makes addr callable, creating empty state and
// registering a verifier for it if this is the first time addr is seen.
func (s *Store) EnsureContract(addr gethcommon.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := addr.Hex()
	if _, ok := s.contracts[key]; ok {
		return
	}
	s.contracts[key] = newContractState()
	s.registerLocked(addr)
	_ = s.flushLocked()
}

// registerLocked builds and registers the evmcompat.Verifier for addr.
// Every handler closes over addr's hex key and looks up current state
// through s at call time, so repeated registration is unnecessary and
// updates made by one call are visible to the next.
func (s *Store) registerLocked(addr gethcommon.Address) {
	key := addr.Hex()
	v := evmcompat.NewVerifier(addr)

	v.Handle(chainclient.MethodApplication, func(ctx context.Context, identity string, payload []byte) ([]byte, error) {
		st := s.get(key)
		return json.Marshal(struct {
			ApplicationID string `json:"application_id"`
		}{st.ApplicationID})
	})
	v.Handle(chainclient.MethodApplicationRevision, func(ctx context.Context, identity string, payload []byte) ([]byte, error) {
		st := s.get(key)
		return json.Marshal(struct {
			Revision uint64 `json:"revision"`
		}{st.ApplicationRevision})
	})
	v.Handle(chainclient.MethodMembers, func(ctx context.Context, identity string, payload []byte) ([]byte, error) {
		var args struct {
			Offset uint64 `json:"offset"`
			Length uint64 `json:"length"`
		}
		if err := json.Unmarshal(payload, &args); err != nil {
			return nil, calerr.Wrap(calerr.KindInvalidArgument, err, "decode members query")
		}
		st := s.get(key)
		members := st.Members
		if args.Offset > uint64(len(members)) {
			members = nil
		} else {
			members = members[args.Offset:]
		}
		if args.Length < uint64(len(members)) {
			members = members[:args.Length]
		}
		return json.Marshal(struct {
			Members []string `json:"members"`
		}{members})
	})
	v.Handle(chainclient.MethodHasMember, func(ctx context.Context, identity string, payload []byte) ([]byte, error) {
		var args struct {
			Identity string `json:"identity"`
		}
		if err := json.Unmarshal(payload, &args); err != nil {
			return nil, calerr.Wrap(calerr.KindInvalidArgument, err, "decode has_member query")
		}
		st := s.get(key)
		return json.Marshal(struct {
			HasMember bool `json:"has_member"`
		}{st.isMember(args.Identity)})
	})
	v.Handle(chainclient.MethodMembersRevision, func(ctx context.Context, identity string, payload []byte) ([]byte, error) {
		st := s.get(key)
		return json.Marshal(struct {
			Revision uint64 `json:"revision"`
		}{st.MembersRevision})
	})
	v.Handle(chainclient.MethodPrivileges, func(ctx context.Context, identity string, payload []byte) ([]byte, error) {
		var args struct {
			Identities []string `json:"identities"`
		}
		if err := json.Unmarshal(payload, &args); err != nil {
			return nil, calerr.Wrap(calerr.KindInvalidArgument, err, "decode privileges query")
		}
		st := s.get(key)
		out := make(map[string][]chainclient.Capability, len(args.Identities))
		for _, id := range args.Identities {
			caps := st.Privileges[id]
			typed := make([]chainclient.Capability, len(caps))
			for i, c := range caps {
				typed[i] = chainclient.Capability(c)
			}
			out[id] = typed
		}
		return json.Marshal(out)
	})
	v.Handle(chainclient.MethodProxyContract, func(ctx context.Context, identity string, payload []byte) ([]byte, error) {
		st := s.get(key)
		return json.Marshal(struct {
			ProxyContract string `json:"proxy_contract"`
		}{st.ProxyContract})
	})
	v.Handle(chainclient.MethodFetchNonce, func(ctx context.Context, identity string, payload []byte) ([]byte, error) {
		var args struct {
			Identity string `json:"identity"`
		}
		if err := json.Unmarshal(payload, &args); err != nil {
			return nil, calerr.Wrap(calerr.KindInvalidArgument, err, "decode fetch_nonce query")
		}
		st := s.get(key)
		return json.Marshal(struct {
			Nonce uint64 `json:"nonce"`
		}{st.Nonces[args.Identity]})
	})

	v.Handle(chainclient.MethodAddContext, func(ctx context.Context, identity string, payload []byte) ([]byte, error) {
		var inner struct {
			ContextID     string `json:"context_id"`
			ApplicationID string `json:"application_id"`
		}
		if err := s.mutate(key, identity, payload, nil, &inner); err != nil {
			return nil, err
		}
		s.mu.Lock()
		st := s.contracts[key]
		st.ApplicationID = inner.ApplicationID
		st.ApplicationRevision++
		if !st.isMember(identity) {
			st.Members = append(st.Members, identity)
			st.MembersRevision++
		}
		err := s.flushLocked()
		s.mu.Unlock()
		return []byte("{}"), err
	})
	v.Handle(chainclient.MethodUpdateApplication, func(ctx context.Context, identity string, payload []byte) ([]byte, error) {
		var inner struct {
			ApplicationID string `json:"application_id"`
		}
		if err := s.mutate(key, identity, payload, requireCapability(chainclient.CapabilityManageApplication), &inner); err != nil {
			return nil, err
		}
		s.mu.Lock()
		st := s.contracts[key]
		st.ApplicationID = inner.ApplicationID
		st.ApplicationRevision++
		err := s.flushLocked()
		s.mu.Unlock()
		return []byte("{}"), err
	})
	v.Handle(chainclient.MethodAddMembers, func(ctx context.Context, identity string, payload []byte) ([]byte, error) {
		var inner struct {
			Members []string `json:"members"`
		}
		if err := s.mutate(key, identity, payload, requireCapability(chainclient.CapabilityManageMembers), &inner); err != nil {
			return nil, err
		}
		s.mu.Lock()
		st := s.contracts[key]
		for _, m := range inner.Members {
			if !st.isMember(m) {
				st.Members = append(st.Members, m)
			}
		}
		st.MembersRevision++
		err := s.flushLocked()
		s.mu.Unlock()
		return []byte("{}"), err
	})
	v.Handle(chainclient.MethodRemoveMembers, func(ctx context.Context, identity string, payload []byte) ([]byte, error) {
		var inner struct {
			Members []string `json:"members"`
		}
		// A member may always remove itself;
		// removing anyone else requires manage_members.
		selfLeaveOnly := func(st *contractState, identity string) error {
			if len(inner.Members) == 1 && inner.Members[0] == identity {
				return nil
			}
			return requireCapability(chainclient.CapabilityManageMembers)(st, identity)
		}
		if err := s.mutate(key, identity, payload, selfLeaveOnly, &inner); err != nil {
			return nil, err
		}
		s.mu.Lock()
		st := s.contracts[key]
		for _, m := range inner.Members {
			st.removeMember(m)
			delete(st.Privileges, m)
		}
		st.MembersRevision++
		err := s.flushLocked()
		s.mu.Unlock()
		return []byte("{}"), err
	})
	v.Handle(chainclient.MethodGrant, func(ctx context.Context, identity string, payload []byte) ([]byte, error) {
		var inner struct {
			Target     string                   `json:"target"`
			Capability chainclient.Capability `json:"capability"`
		}
		if err := s.mutate(key, identity, payload, requireCapability(chainclient.CapabilityManageMembers), &inner); err != nil {
			return nil, err
		}
		s.mu.Lock()
		st := s.contracts[key]
		if !hasCapability(st.Privileges[inner.Target], inner.Capability) {
			st.Privileges[inner.Target] = append(st.Privileges[inner.Target], string(inner.Capability))
		}
		err := s.flushLocked()
		s.mu.Unlock()
		return []byte("{}"), err
	})
	v.Handle(chainclient.MethodRevoke, func(ctx context.Context, identity string, payload []byte) ([]byte, error) {
		var inner struct {
			Target     string                   `json:"target"`
			Capability chainclient.Capability `json:"capability"`
		}
		if err := s.mutate(key, identity, payload, requireCapability(chainclient.CapabilityManageMembers), &inner); err != nil {
			return nil, err
		}
		s.mu.Lock()
		st := s.contracts[key]
		caps := st.Privileges[inner.Target][:0]
		for _, c := range st.Privileges[inner.Target] {
			if c != string(inner.Capability) {
				caps = append(caps, c)
			}
		}
		st.Privileges[inner.Target] = caps
		err := s.flushLocked()
		s.mu.Unlock()
		return []byte("{}"), err
	})
	v.Handle(chainclient.MethodUpdateProxyContract, func(ctx context.Context, identity string, payload []byte) ([]byte, error) {
		var inner struct {
			ProxyContract string `json:"proxy_contract"`
		}
		if err := s.mutate(key, identity, payload, requireCapability(chainclient.CapabilityProxy), &inner); err != nil {
			return nil, err
		}
		s.mu.Lock()
		st := s.contracts[key]
		st.ProxyContract = inner.ProxyContract
		err := s.flushLocked()
		s.mu.Unlock()
		return []byte("{}"), err
	})

	s.transport.Register(v)
}

func hasCapability(caps []string, want chainclient.Capability) bool {
	for _, c := range caps {
		if c == string(want) {
			return true
		}
	}
	return false
}

// permCheck is consulted by mutate once the signer's identity has been
// verified against the signature and its nonce accepted; it decides
// whether that identity may actually carry out the mutate.
type permCheck func(st *contractState, identity string) error

// requireCapability allows identity through if it is the contract's
// first-ever member (the context's creator, trusted with every
// capability until it explicitly delegates one away) or if it holds
// capability explicitly via a prior Grant.
func requireCapability(capability chainclient.Capability) permCheck {
	return func(st *contractState, identity string) error {
		if len(st.Members) > 0 && st.Members[0] == identity {
			return nil
		}
		if hasCapability(st.Privileges[identity], capability) {
			return nil
		}
		return calerr.Newf(calerr.KindPermissionDenied, "mutate: identity lacks %s", capability)
	}
}

// allowSelfOr wraps check so identity also passes when it names itself
// as the sole target, e.g. a member always being able to remove itself
// regardless of manage_members.
func allowSelfOr(targets []string, identity string, check permCheck) permCheck {
	if len(targets) == 1 && targets[0] == identity {
		return func(*contractState, string) error { return nil }
	}
	return check
}

func (s *Store) get(key string) *contractState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contracts[key]
}

// mutate verifies payload's signature, decodes the signed body into out,
// then — holding the contract's lock for the rest of the check —
// enforces nonce discipline and, if check is non-nil, a permission
// requirement, consuming the nonce only once both pass. Ed25519
// signatures carry no recoverable public key (unlike an EVM ecrecover),
// so identity must name the claimed signer; mutate verifies the
// signature actually matches that claim before trusting anything else
// about the request.
func (s *Store) mutate(key, identity string, payload []byte, check permCheck, out any) error {
	if identity == "" {
		return calerr.New(calerr.KindPermissionDenied, "mutate: no signer identity")
	}
	pub, err := ids.ParsePublicKey(identity)
	if err != nil {
		return calerr.Wrap(calerr.KindInvalidArgument, err, "mutate: decode signer identity")
	}

	var sp chainclient.SignedPayload
	if err := json.Unmarshal(payload, &sp); err != nil {
		return calerr.Wrap(calerr.KindInvalidArgument, err, "mutate: decode signed payload envelope")
	}
	if !crypto.Verify(ed25519.PublicKey(pub.Bytes()), sp.Payload, sp.Signature) {
		return calerr.New(calerr.KindCrypto, "mutate: signature does not match claimed identity")
	}

	var body struct {
		Nonce uint64          `json:"nonce"`
		Body  json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(sp.Payload, &body); err != nil {
		return calerr.Wrap(calerr.KindInvalidArgument, err, "mutate: decode mutate body")
	}
	if len(body.Body) > 0 {
		if err := json.Unmarshal(body.Body, out); err != nil {
			return calerr.Wrap(calerr.KindInvalidArgument, err, "mutate: decode inner body")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.contracts[key]
	if !ok {
		return calerr.Newf(calerr.KindNotFound, "mutate: unknown contract %s", key)
	}
	expected := st.Nonces[identity]
	if body.Nonce != expected {
		return calerr.Newf(calerr.KindProtocol, "mutate: nonce %d, expected %d", body.Nonce, expected)
	}
	if check != nil {
		if err := check(st, identity); err != nil {
			return err
		}
	}
	st.Nonces[identity] = expected + 1
	return nil
}

func (s *Store) flushLocked() error {
	raw, err := json.MarshalIndent(s.contracts, "", "  ")
	if err != nil {
		return calerr.Wrap(calerr.KindInvalidArgument, err, "encode local verifier store")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return calerr.Wrap(calerr.KindStorage, err, "create local verifier store dir")
	}
	return calerr.Wrap(calerr.KindStorage, os.WriteFile(s.path, raw, 0o600), "write local verifier store")
}
