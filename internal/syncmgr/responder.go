package syncmgr

import (
	"bytes"
	"crypto/sha256"
	"io"
	"sort"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/sirupsen/logrus"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/wire"
	"github.com/calimero-network/core/pkg/ids"
)

// blobChunkSize bounds each chunk frame of a BlobShare response, kept
// well under wire.MaxFrameSize once AEAD overhead and the trailing nonce
// are added.
const blobChunkSize = 256 * 1024

// handleStream is the libp2p stream handler registered for ProtocolID:
// read the Init frame, resolve the sender's membership, and dispatch to
// the matching protocol handler. The first frame's payload provides
// all context needed to proceed; nothing peeks further before the
// hand-off.
func (m *Manager) handleStream(stream network.Stream) {
	defer stream.Close()

	raw, err := wire.ReadFrame(stream)
	if err != nil {
		logrus.WithError(err).Debug("syncmgr: read init frame")
		return
	}
	init, err := wire.DecodeInit(raw)
	if err != nil {
		logrus.WithError(err).Debug("syncmgr: decode init frame")
		return
	}

	if err := m.authorize(init.ContextID, init.PartyID); err != nil {
		logrus.WithError(err).WithField("party", init.PartyID.String()).Debug("syncmgr: unauthorized party_id")
		return
	}

	s := &session{stream: stream, nonce: init.NextNonce}
	if err := s.bindKey(m.priv, init.PartyID); err != nil {
		logrus.WithError(err).Debug("syncmgr: bind key")
		return
	}

	var handleErr error
	switch init.Payload.Kind {
	case wire.PayloadKeyShare:
		handleErr = m.respondKeyShare(s)
	case wire.PayloadBlobShare:
		handleErr = m.respondBlobShare(s, init.Payload.BlobID)
	case wire.PayloadDeltaRequest:
		handleErr = m.respondDeltaRequest(init.ContextID, s, init.Payload.DeltaID)
	case wire.PayloadDagHeadsRequest:
		handleErr = m.respondDagHeadsRequest(init.ContextID, s)
	default:
		handleErr = calerr.Newf(calerr.KindProtocol, "sync: unexpected init payload kind %d", init.Payload.Kind)
	}
	if handleErr != nil {
		logrus.WithError(handleErr).Debug("syncmgr: responder failed")
		s.sendOpaqueError()
	}
}

// authorize checks init.PartyID against the context's current members,
// refreshing membership from the chain-agnostic config client once on a
// miss before giving up.
func (m *Manager) authorize(contextID ids.ContextId, partyID ids.PublicKey) error {
	if ok, err := m.isMember(contextID, partyID); err != nil {
		return err
	} else if ok {
		return nil
	}

	if err := m.store.SyncContextConfig(contextID); err != nil {
		return calerr.Wrap(calerr.KindProtocol, err, "refresh context config")
	}

	ok, err := m.isMember(contextID, partyID)
	if err != nil {
		return err
	}
	if !ok {
		return calerr.Newf(calerr.KindPermissionDenied, "party %s is not a member of context %s", partyID.String(), contextID.String())
	}
	return nil
}

func (m *Manager) isMember(contextID ids.ContextId, partyID ids.PublicKey) (bool, error) {
	members, err := m.store.Members(contextID)
	if err != nil {
		return false, err
	}
	for _, mem := range members {
		if mem == partyID {
			return true, nil
		}
	}
	return false, nil
}

// respondKeyShare acknowledges a KeyShare handshake with no further data;
// the handshake itself (Init's party_id plus both sides' static Ed25519
// identities) is all KeyShare establishes.
func (m *Manager) respondKeyShare(s *session) error {
	return s.send(wire.Payload{Kind: wire.PayloadKeyShare})
}

// respondBlobShare streams the requested blob back in blobChunkSize
// frames, terminated by an empty-chunk sentinel, the responder half of
// the initiator's BlobCheck state.
func (m *Manager) respondBlobShare(s *session, blobID ids.BlobId) error {
	r, err := m.blobs.Get(blobID)
	if err != nil {
		return err
	}
	if r == nil {
		return calerr.Newf(calerr.KindNotFound, "blob %s not found", blobID.String())
	}
	defer r.Close()

	buf := make([]byte, blobChunkSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if err := s.sendChunk(buf[:n]); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return s.sendChunk(nil)
		}
		if readErr != nil {
			return calerr.Wrap(calerr.KindStorage, readErr, "read blob for share")
		}
	}
}

// respondDeltaRequest echoes the DeltaRequest payload as acknowledgement
// and then sends the encoded delta as a single chunk frame.
func (m *Manager) respondDeltaRequest(contextID ids.ContextId, s *session, deltaID ids.Hash) error {
	d, ok, err := m.store.GetDelta(contextID, deltaID)
	if err != nil {
		return err
	}
	if !ok {
		return calerr.Newf(calerr.KindNotFound, "delta %s not found", deltaID.String())
	}
	if err := s.send(wire.Payload{Kind: wire.PayloadDeltaRequest, ContextID: contextID, DeltaID: deltaID}); err != nil {
		return err
	}
	raw, err := d.Encode()
	if err != nil {
		return err
	}
	return s.sendChunk(raw)
}

// respondDagHeadsRequest reports the local DAG frontier for contextID.
func (m *Manager) respondDagHeadsRequest(contextID ids.ContextId, s *session) error {
	heads, err := m.store.Heads(contextID)
	if err != nil {
		return err
	}
	return s.send(wire.Payload{Kind: wire.PayloadDagHeadsResponse, DagHeads: heads, RootHash: rootHashOf(heads)})
}

// rootHashOf renders a deterministic digest of a DAG frontier, the
// cheap "does this peer have any state at all" signal the Select state
// consults before preferring a peer. It carries no causal
// meaning beyond "zero iff heads is empty": the reconcile pass below
// still compares heads directly, never this digest.
func rootHashOf(heads []ids.Hash) ids.Hash {
	if len(heads) == 0 {
		return ids.Hash{}
	}
	sorted := append([]ids.Hash(nil), heads...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i].Bytes(), sorted[j].Bytes()) < 0 })
	h := sha256.New()
	for _, head := range sorted {
		h.Write(head.Bytes())
	}
	return ids.HashFromBytes(h.Sum(nil))
}
