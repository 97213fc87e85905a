// The sync stream message schema: the Init/Message envelope
// every sync stream carries, and the InitPayload/MessagePayload variant
// set. Encoding follows this package's fixed-layout, explicit-tag
// convention rather than a generic sum-type serializer: a 1-byte variant
// tag followed by that variant's fixed fields, mirroring how
// StateDelta is encoded in wire.go.
package wire

import (
	"encoding/binary"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/pkg/ids"
)

// NonceSize is the length of the next_nonce field, matching
// internal/crypto's AEAD nonce size.
const NonceSize = 12

// PayloadKind tags which InitPayload/MessagePayload variant follows.
type PayloadKind uint8

const (
	PayloadKeyShare PayloadKind = iota
	PayloadBlobShare
	PayloadDeltaRequest
	PayloadDagHeadsRequest
	PayloadDagHeadsResponse
	// PayloadOpaqueError aborts the stream without revealing why: a
	// handshake or decrypt failure is reported to the peer as this single
	// opaque variant, never the underlying calerr.Kind or message, so a
	// stream can't be used to probe for distinguishable failure reasons.
	PayloadOpaqueError
)

// Payload is the tagged union of the InitPayload/MessagePayload
// variants. Only the fields relevant to Kind are populated; callers
// switch on Kind before reading them.
type Payload struct {
	Kind PayloadKind

	// PayloadBlobShare
	BlobID ids.BlobId

	// PayloadDeltaRequest
	ContextID ids.ContextId
	DeltaID   ids.Hash

	// PayloadDagHeadsRequest uses ContextID only.

	// PayloadDagHeadsResponse
	DagHeads []ids.Hash
	RootHash ids.Hash
}

// InitMessage is the first frame of every sync stream.
type InitMessage struct {
	ContextID ids.ContextId
	PartyID   ids.PublicKey
	Payload   Payload
	NextNonce [NonceSize]byte
}

// Message is a subsequent, strictly-sequenced stream frame.
type Message struct {
	SequenceID uint64
	Payload    Payload
	NextNonce  [NonceSize]byte
}

// EncodePayload serializes a Payload by variant.
func EncodePayload(p Payload) []byte {
	buf := []byte{byte(p.Kind)}
	switch p.Kind {
	case PayloadKeyShare, PayloadOpaqueError:
		// no fields
	case PayloadBlobShare:
		buf = append(buf, p.BlobID.Bytes()...)
	case PayloadDeltaRequest:
		buf = append(buf, p.ContextID.Bytes()...)
		buf = append(buf, p.DeltaID.Bytes()...)
	case PayloadDagHeadsRequest:
		buf = append(buf, p.ContextID.Bytes()...)
	case PayloadDagHeadsResponse:
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(p.DagHeads)))
		buf = append(buf, n[:]...)
		for _, h := range p.DagHeads {
			buf = append(buf, h.Bytes()...)
		}
		buf = append(buf, p.RootHash.Bytes()...)
	}
	return buf
}

// DecodePayload parses the output of EncodePayload, returning the
// remaining unconsumed bytes.
func DecodePayload(raw []byte) (Payload, []byte, error) {
	if len(raw) < 1 {
		return Payload{}, nil, calerr.New(calerr.KindProtocol, "payload: missing tag")
	}
	kind := PayloadKind(raw[0])
	rest := raw[1:]
	var p Payload
	p.Kind = kind
	switch kind {
	case PayloadKeyShare, PayloadOpaqueError:
		return p, rest, nil
	case PayloadBlobShare:
		if len(rest) < 32 {
			return Payload{}, nil, calerr.New(calerr.KindProtocol, "blob_share: truncated")
		}
		p.BlobID = ids.NewBlobId(rest[:32])
		return p, rest[32:], nil
	case PayloadDeltaRequest:
		if len(rest) < 64 {
			return Payload{}, nil, calerr.New(calerr.KindProtocol, "delta_request: truncated")
		}
		p.ContextID = ids.NewContextId(rest[:32])
		p.DeltaID = ids.HashFromBytes(rest[32:64])
		return p, rest[64:], nil
	case PayloadDagHeadsRequest:
		if len(rest) < 32 {
			return Payload{}, nil, calerr.New(calerr.KindProtocol, "dag_heads_request: truncated")
		}
		p.ContextID = ids.NewContextId(rest[:32])
		return p, rest[32:], nil
	case PayloadDagHeadsResponse:
		if len(rest) < 4 {
			return Payload{}, nil, calerr.New(calerr.KindProtocol, "dag_heads_response: truncated count")
		}
		n := binary.LittleEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint64(len(rest)) < uint64(n)*32+32 {
			return Payload{}, nil, calerr.New(calerr.KindProtocol, "dag_heads_response: truncated heads")
		}
		p.DagHeads = make([]ids.Hash, n)
		for i := uint32(0); i < n; i++ {
			p.DagHeads[i] = ids.HashFromBytes(rest[:32])
			rest = rest[32:]
		}
		p.RootHash = ids.HashFromBytes(rest[:32])
		return p, rest[32:], nil
	default:
		return Payload{}, nil, calerr.Newf(calerr.KindProtocol, "payload: unknown kind %d", kind)
	}
}

// EncodeInit serializes an InitMessage.
func EncodeInit(m InitMessage) []byte {
	out := append([]byte(nil), m.ContextID.Bytes()...)
	out = append(out, m.PartyID.Bytes()...)
	out = append(out, EncodePayload(m.Payload)...)
	out = append(out, m.NextNonce[:]...)
	return out
}

// DecodeInit parses the output of EncodeInit.
func DecodeInit(raw []byte) (InitMessage, error) {
	if len(raw) < 64 {
		return InitMessage{}, calerr.New(calerr.KindProtocol, "init: truncated header")
	}
	var m InitMessage
	m.ContextID = ids.NewContextId(raw[:32])
	m.PartyID = ids.NewPublicKey(raw[32:64])
	payload, rest, err := DecodePayload(raw[64:])
	if err != nil {
		return InitMessage{}, err
	}
	m.Payload = payload
	if len(rest) < NonceSize {
		return InitMessage{}, calerr.New(calerr.KindProtocol, "init: truncated next_nonce")
	}
	copy(m.NextNonce[:], rest[:NonceSize])
	return m, nil
}

// OpaqueErrorMessage builds the abort frame a responder or initiator
// sends in place of any further handshake detail, carrying the next
// sequence id and a fresh nonce like any other Message.
func OpaqueErrorMessage(sequenceID uint64, nextNonce [NonceSize]byte) Message {
	return Message{SequenceID: sequenceID, Payload: Payload{Kind: PayloadOpaqueError}, NextNonce: nextNonce}
}

// EncodeMessage serializes a Message.
func EncodeMessage(m Message) []byte {
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], m.SequenceID)
	out := append([]byte(nil), seq[:]...)
	out = append(out, EncodePayload(m.Payload)...)
	out = append(out, m.NextNonce[:]...)
	return out
}

// DecodeMessage parses the output of EncodeMessage.
func DecodeMessage(raw []byte) (Message, error) {
	if len(raw) < 8 {
		return Message{}, calerr.New(calerr.KindProtocol, "message: truncated sequence_id")
	}
	var m Message
	m.SequenceID = binary.LittleEndian.Uint64(raw[:8])
	payload, rest, err := DecodePayload(raw[8:])
	if err != nil {
		return Message{}, err
	}
	m.Payload = payload
	if len(rest) < NonceSize {
		return Message{}, calerr.New(calerr.KindProtocol, "message: truncated next_nonce")
	}
	copy(m.NextNonce[:], rest[:NonceSize])
	return m, nil
}
