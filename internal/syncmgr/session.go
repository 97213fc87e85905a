package syncmgr

import (
	"io"

	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/crypto"
	"github.com/calimero-network/core/internal/wire"
)

// ProtocolID is the libp2p protocol every direct sync stream speaks.
const ProtocolID = protocol.ID("/calimero/sync/1.0.0")

// session tracks the encrypted-frame state for one side of one stream:
// the X25519-derived shared key, the single chained nonce carried by
// next_nonce (each frame's nonce is supplied in the previous frame's
// next_nonce — one chain shared by both directions, so a nonce is never
// reused under the same key regardless of who writes next), and the
// per-direction sequence_id counters, strictly +1 per frame in each
// direction. stream is declared as the
// io.ReadWriteCloser subset of network.Stream this package actually
// needs, so tests can drive a session over a plain net.Pipe.
type session struct {
	stream  io.ReadWriteCloser
	key     []byte
	nonce   [wire.NonceSize]byte // nonce to use for the next frame written by EITHER side
	sendSeq uint64
	recvSeq uint64
}

// send seals payload as the next Message frame, stamping the strictly
// incrementing local sequence_id and a fresh chained nonce for whichever
// side writes next.
func (s *session) send(payload wire.Payload) error {
	next, err := crypto.NextNonce()
	if err != nil {
		return err
	}
	msg := wire.Message{SequenceID: s.sendSeq, Payload: payload}
	copy(msg.NextNonce[:], next)

	plaintext := wire.EncodeMessage(msg)
	if err := wire.WriteEncryptedFrame(s.stream, s.key, s.nonce[:], plaintext); err != nil {
		return err
	}
	s.sendSeq++
	copy(s.nonce[:], next)
	return nil
}

// sendOpaqueError aborts the stream without leaking why to the peer;
// the detail stays in the caller's local error.
func (s *session) sendOpaqueError() {
	_ = s.send(wire.Payload{Kind: wire.PayloadOpaqueError})
}

// recv reads and decrypts the next Message frame, validating its
// sequence_id against the expected remote counter and advancing the
// shared nonce chain. Any failure — decrypt, decode, or sequence mismatch
// — is the trigger to terminate the stream with OpaqueError;
// callers do that via sendOpaqueError before returning the error.
func (s *session) recv() (wire.Payload, error) {
	plaintext, err := wire.ReadEncryptedFrame(s.stream, s.key, s.nonce[:])
	if err != nil {
		return wire.Payload{}, err
	}
	msg, err := wire.DecodeMessage(plaintext)
	if err != nil {
		return wire.Payload{}, err
	}
	if msg.SequenceID != s.recvSeq {
		return wire.Payload{}, calerr.Newf(calerr.KindProtocol, "sync: sequence_id %d, expected %d", msg.SequenceID, s.recvSeq)
	}
	s.recvSeq++
	copy(s.nonce[:], msg.NextNonce[:])
	if msg.Payload.Kind == wire.PayloadOpaqueError {
		return wire.Payload{}, calerr.New(calerr.KindProtocol, "sync: peer aborted stream")
	}
	return msg.Payload, nil
}
