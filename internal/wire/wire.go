// Package wire implements the binary wire formats: the gossip
// StateDelta envelope (fixed-size little-endian integers) and the
// direct-stream frames (a 4-byte big-endian length prefix), both
// hand-laid-out with explicit length prefixes, deliberately not a reflection-based codec —
// these layouts are a compatibility surface, and changing a message's
// shape means changing this file.
package wire

import (
	"encoding/binary"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/pkg/ids"
)

// MaxGossipMessageSize is the default deployment limit on an encoded
// StateDelta gossip message.
const MaxGossipMessageSize = 1 << 20

// MaxFrameSize is the hard cap on one direct-stream frame.
const MaxFrameSize = 1 << 20

// StateDelta is the gossip envelope broadcast on a context's topic.
type StateDelta struct {
	ContextID ids.ContextId
	AuthorID  ids.PublicKey
	RootHash  ids.Hash
	Payload   []byte
}

// EncodeStateDelta serializes d as context_id‖author_id‖root_hash‖
// len(payload):u32‖payload, all fixed-size fields little-endian.
func EncodeStateDelta(d StateDelta) ([]byte, error) {
	if len(d.Payload) > MaxGossipMessageSize {
		return nil, calerr.Newf(calerr.KindResourceExhausted, "state delta payload %d bytes exceeds max %d", len(d.Payload), MaxGossipMessageSize)
	}
	out := make([]byte, 0, 32+32+32+4+len(d.Payload))
	out = append(out, d.ContextID.Bytes()...)
	out = append(out, d.AuthorID.Bytes()...)
	out = append(out, d.RootHash.Bytes()...)
	var ln [4]byte
	binary.LittleEndian.PutUint32(ln[:], uint32(len(d.Payload)))
	out = append(out, ln[:]...)
	out = append(out, d.Payload...)
	return out, nil
}

// DecodeStateDelta parses the output of EncodeStateDelta.
func DecodeStateDelta(raw []byte) (StateDelta, error) {
	if len(raw) < 32+32+32+4 {
		return StateDelta{}, calerr.New(calerr.KindProtocol, "state delta: truncated header")
	}
	var d StateDelta
	d.ContextID = ids.NewContextId(raw[0:32])
	d.AuthorID = ids.NewPublicKey(raw[32:64])
	d.RootHash = ids.HashFromBytes(raw[64:96])
	ln := binary.LittleEndian.Uint32(raw[96:100])
	if ln > MaxGossipMessageSize {
		return StateDelta{}, calerr.Newf(calerr.KindResourceExhausted, "state delta declares payload %d bytes, exceeds max %d", ln, MaxGossipMessageSize)
	}
	if uint32(len(raw)-100) < ln {
		return StateDelta{}, calerr.New(calerr.KindProtocol, "state delta: truncated payload")
	}
	d.Payload = append([]byte(nil), raw[100:100+ln]...)
	return d, nil
}

// WriteFrame length-prefixes payload with a 4-byte big-endian length
// and writes it to w.
func WriteFrame(w frameWriter, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return calerr.Newf(calerr.KindResourceExhausted, "frame payload %d bytes exceeds max %d", len(payload), MaxFrameSize)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return calerr.Wrap(calerr.KindProtocol, err, "write frame header")
	}
	if _, err := w.Write(payload); err != nil {
		return calerr.Wrap(calerr.KindProtocol, err, "write frame payload")
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r, rejecting frames
// that declare a length over MaxFrameSize before allocating a buffer for
// them (a malicious or buggy peer must not be able to force an
// arbitrarily large allocation).
func ReadFrame(r frameReader) ([]byte, error) {
	var hdr [4]byte
	if _, err := readFull(r, hdr[:]); err != nil {
		return nil, calerr.Wrap(calerr.KindProtocol, err, "read frame header")
	}
	ln := binary.BigEndian.Uint32(hdr[:])
	if ln > MaxFrameSize {
		return nil, calerr.Newf(calerr.KindResourceExhausted, "peer declared frame size %d exceeds max %d", ln, MaxFrameSize)
	}
	buf := make([]byte, ln)
	if _, err := readFull(r, buf); err != nil {
		return nil, calerr.Wrap(calerr.KindProtocol, err, "read frame payload")
	}
	return buf, nil
}

// frameWriter/frameReader are the io.Writer/io.Reader subset this
// package needs, named locally so callers can pass a net.Stream or any
// io.ReadWriter without an import cycle concern.
type frameWriter interface {
	Write(p []byte) (int, error)
}

type frameReader interface {
	Read(p []byte) (int, error)
}

func readFull(r frameReader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
