package syncmgr

import (
	"context"
	"crypto/ed25519"
	"io"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/crdt"
	"github.com/calimero-network/core/internal/crypto"
	"github.com/calimero-network/core/internal/p2p"
	"github.com/calimero-network/core/internal/wire"
	"github.com/calimero-network/core/pkg/ids"
)

// memberPeers resolves every current member of a context to its libp2p
// peer.ID, so mesh peer selection (which only knows peer.ID) can be
// matched back to the member identity (PublicKey) the protocol speaks.
func (m *Manager) memberPeers(contextID ids.ContextId) (map[peer.ID]ids.PublicKey, error) {
	members, err := m.store.Members(contextID)
	if err != nil {
		return nil, err
	}
	out := make(map[peer.ID]ids.PublicKey, len(members))
	for _, mem := range members {
		pid, err := p2p.PeerIDFromPublicKey(mem)
		if err != nil {
			continue
		}
		out[pid] = mem
	}
	return out, nil
}

// RunCycle drives one full Select → BlobCheck → Reconcile initiator
// pass for a context. A per-context lock prevents
// concurrent cycles for the same context; a cycle already in flight makes
// this a no-op rather than blocking the caller.
func (m *Manager) RunCycle(ctx context.Context, contextID ids.ContextId) error {
	lock := m.lockFor(contextID)
	if !lock.TryLock() {
		return nil
	}
	defer lock.Unlock()

	peers := m.host.MeshPeers(ContextTopic(contextID))
	if len(peers) == 0 {
		return nil
	}

	memberOf, err := m.memberPeers(contextID)
	if err != nil {
		return err
	}

	target, _, err := m.selectPeer(ctx, contextID, peers, memberOf)
	if err != nil || target == "" {
		return err
	}
	theirPub, ok := memberOf[target]
	if !ok {
		return nil
	}

	if err := m.blobCheck(ctx, contextID, target, theirPub); err != nil {
		return err
	}

	return m.reconcile(ctx, contextID, target, theirPub)
}

// selectPeer implements the Select state: prefer a peer known
// to carry state when we have none locally, otherwise choose uniformly
// among the mesh.
func (m *Manager) selectPeer(ctx context.Context, contextID ids.ContextId, peers []peer.ID, memberOf map[peer.ID]ids.PublicKey) (peer.ID, bool, error) {
	localHeads, err := m.store.Heads(contextID)
	if err != nil {
		return "", false, err
	}
	if len(localHeads) > 0 {
		sample := m.host.SamplePeers(ContextTopic(contextID), 1)
		if len(sample) == 0 {
			return "", false, nil
		}
		return sample[0], true, nil
	}

	n := m.cfg.PeersPerTick
	if n <= 0 || n > len(peers) {
		n = len(peers)
	}
	candidates := m.host.SamplePeers(ContextTopic(contextID), n)
	for _, p := range candidates {
		theirPub, ok := memberOf[p]
		if !ok {
			continue
		}
		heads, root, err := m.queryDagHeads(ctx, contextID, p, theirPub)
		if err != nil {
			continue
		}
		if len(heads) > 0 && !root.IsZero() {
			return p, true, nil
		}
	}
	if len(candidates) > 0 {
		return candidates[0], false, nil
	}
	return "", false, nil
}

// openSession dials peer pid under ProtocolID and writes the plaintext
// Init frame — party_id must be legible to the responder before any
// shared key can be derived — returning a session seeded from the Init's
// own next_nonce. The caller binds the AEAD key via bindKey once it knows
// theirPub.
func (m *Manager) openSession(ctx context.Context, pid peer.ID, contextID ids.ContextId, payload wire.Payload) (*session, error) {
	stream, err := m.host.OpenStream(ctx, pid, ProtocolID)
	if err != nil {
		return nil, err
	}

	nonce, err := crypto.NextNonce()
	if err != nil {
		stream.Close()
		return nil, err
	}
	init := wire.InitMessage{ContextID: contextID, PartyID: m.pub, Payload: payload}
	copy(init.NextNonce[:], nonce)

	if err := wire.WriteFrame(stream, wire.EncodeInit(init)); err != nil {
		stream.Close()
		return nil, err
	}

	return &session{stream: stream, nonce: init.NextNonce}, nil
}

// bindKey derives and installs the shared key for an already-opened
// session once the peer's identity is known.
func (s *session) bindKey(ourPriv ed25519.PrivateKey, theirPub ids.PublicKey) error {
	key, err := crypto.SharedKey(ourPriv, ed25519.PublicKey(theirPub.Bytes()))
	if err != nil {
		return err
	}
	s.key = key
	return nil
}

// queryDagHeads opens a stream requesting DagHeadsRequest and returns the
// peer's reported heads and root hash.
func (m *Manager) queryDagHeads(ctx context.Context, contextID ids.ContextId, pid peer.ID, theirPub ids.PublicKey) ([]ids.Hash, ids.Hash, error) {
	s, err := m.openSession(ctx, pid, contextID, wire.Payload{Kind: wire.PayloadDagHeadsRequest, ContextID: contextID})
	if err != nil {
		return nil, ids.Hash{}, err
	}
	defer s.stream.Close()
	if err := s.bindKey(m.priv, theirPub); err != nil {
		return nil, ids.Hash{}, err
	}

	resp, err := s.recv()
	if err != nil {
		s.sendOpaqueError()
		return nil, ids.Hash{}, err
	}
	if resp.Kind != wire.PayloadDagHeadsResponse {
		return nil, ids.Hash{}, calerr.New(calerr.KindProtocol, "sync: expected dag_heads_response")
	}
	return resp.DagHeads, resp.RootHash, nil
}

// blobCheck implements the BlobCheck state: if the context's
// application blob is absent locally, fetch it chunk by chunk over a
// dedicated BlobShare stream until the empty-chunk sentinel, then install
// it via the blob manager's content-addressed writer.
func (m *Manager) blobCheck(ctx context.Context, contextID ids.ContextId, pid peer.ID, theirPub ids.PublicKey) error {
	blobID, required, err := m.store.RequiredBlob(contextID)
	if err != nil {
		return err
	}
	if !required {
		return nil
	}
	have, err := m.blobs.Has(blobID)
	if err != nil {
		return err
	}
	if have {
		return nil
	}

	s, err := m.openSession(ctx, pid, contextID, wire.Payload{Kind: wire.PayloadBlobShare, BlobID: blobID})
	if err != nil {
		return err
	}
	defer s.stream.Close()
	if err := s.bindKey(m.priv, theirPub); err != nil {
		return err
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, _, addErr := m.blobs.Add(ctx, pr, nil, &blobID)
		done <- addErr
	}()

	for {
		chunk, err := s.recvChunk()
		if err != nil {
			pw.CloseWithError(err)
			<-done
			return err
		}
		if len(chunk) == 0 {
			pw.Close()
			break
		}
		if _, err := pw.Write(chunk); err != nil {
			pw.CloseWithError(err)
			<-done
			return calerr.Wrap(calerr.KindStorage, err, "pipe blob chunk")
		}
	}
	return <-done
}

// reconcile implements the Reconcile state: request the peer's
// DAG heads, request every delta we lack transitively (including missing
// parents), apply each, and repeat until heads match or the cycle's
// timeout (budget) is exhausted.
func (m *Manager) reconcile(ctx context.Context, contextID ids.ContextId, pid peer.ID, theirPub ids.PublicKey) error {
	theirHeads, _, err := m.queryDagHeads(ctx, contextID, pid, theirPub)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil // budget exhausted; partial progress is kept
		default:
		}

		var missing []ids.Hash
		for _, h := range theirHeads {
			known, err := m.hasLocalDelta(contextID, h)
			if err != nil {
				return err
			}
			if !known {
				missing = append(missing, h)
			}
		}
		if len(missing) == 0 {
			return nil
		}

		for _, want := range missing {
			if err := m.fetchDeltaChain(ctx, contextID, pid, theirPub, want); err != nil {
				return err
			}
		}

		theirHeads, _, err = m.queryDagHeads(ctx, contextID, pid, theirPub)
		if err != nil {
			return err
		}
	}
}

func (m *Manager) hasLocalDelta(contextID ids.ContextId, id ids.Hash) (bool, error) {
	_, ok, err := m.store.GetDelta(contextID, id)
	return ok, err
}

// fetchDeltaChain requests want and, transitively, any of its parents we
// still lack, applying each as soon as its own parents are satisfied.
func (m *Manager) fetchDeltaChain(ctx context.Context, contextID ids.ContextId, pid peer.ID, theirPub ids.PublicKey, want ids.Hash) error {
	seen := map[ids.Hash]bool{}
	var visit func(id ids.Hash) error
	visit = func(id ids.Hash) error {
		if seen[id] {
			return nil
		}
		seen[id] = true

		known, err := m.hasLocalDelta(contextID, id)
		if err != nil {
			return err
		}
		if known {
			return nil
		}

		d, err := m.requestDelta(ctx, contextID, pid, theirPub, id)
		if err != nil {
			return err
		}
		for _, parent := range d.Parents {
			if err := visit(parent); err != nil {
				return err
			}
		}
		return m.store.ApplyDelta(contextID, d)
	}
	return visit(want)
}

// requestDelta opens a DeltaRequest stream; the responder echoes the
// DeltaRequest payload as acknowledgement, then the encoded delta follows
// as a single chunk frame (the DeltaRequest/response pair has
// no distinct response payload kind of its own — the request itself is
// the only MessagePayload variant named for it).
func (m *Manager) requestDelta(ctx context.Context, contextID ids.ContextId, pid peer.ID, theirPub ids.PublicKey, deltaID ids.Hash) (*crdt.Delta, error) {
	s, err := m.openSession(ctx, pid, contextID, wire.Payload{Kind: wire.PayloadDeltaRequest, ContextID: contextID, DeltaID: deltaID})
	if err != nil {
		return nil, err
	}
	defer s.stream.Close()
	if err := s.bindKey(m.priv, theirPub); err != nil {
		return nil, err
	}

	resp, err := s.recv()
	if err != nil {
		s.sendOpaqueError()
		return nil, err
	}
	if resp.Kind != wire.PayloadDeltaRequest {
		return nil, calerr.New(calerr.KindProtocol, "sync: expected delta response")
	}
	raw, err := s.recvChunk()
	if err != nil {
		return nil, err
	}
	return crdt.DecodeDelta(raw)
}

// recvChunk reads one raw encrypted frame as a length-delimited byte
// chunk (the BlobCheck chunk stream and the delta payload
// continuation frame following a DeltaRequest response), advancing the
// session's nonce chain the same way recv does but without the Message
// envelope: chunk frames carry only data and their own chained nonce.
func (s *session) recvChunk() ([]byte, error) {
	plaintext, err := wire.ReadEncryptedFrame(s.stream, s.key, s.nonce[:])
	if err != nil {
		return nil, err
	}
	if len(plaintext) < wire.NonceSize {
		return nil, calerr.New(calerr.KindProtocol, "sync: truncated chunk frame")
	}
	data := plaintext[:len(plaintext)-wire.NonceSize]
	copy(s.nonce[:], plaintext[len(plaintext)-wire.NonceSize:])
	return data, nil
}

// sendChunk writes data (nil/empty is the empty-chunk sentinel) as a
// chunk frame with its own chained nonce appended, mirroring recvChunk's
// framing.
func (s *session) sendChunk(data []byte) error {
	next, err := crypto.NextNonce()
	if err != nil {
		return err
	}
	plaintext := append(append([]byte(nil), data...), next...)
	if err := wire.WriteEncryptedFrame(s.stream, s.key, s.nonce[:], plaintext); err != nil {
		return err
	}
	copy(s.nonce[:], next)
	return nil
}
