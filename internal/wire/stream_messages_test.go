package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core/pkg/ids"
)

func TestEncodeDecodePayloadVariants(t *testing.T) {
	cases := []Payload{
		{Kind: PayloadKeyShare},
		{Kind: PayloadBlobShare, BlobID: ids.NewBlobId(bytesOf(1))},
		{Kind: PayloadDeltaRequest, ContextID: ids.NewContextId(bytesOf(2)), DeltaID: ids.HashFromBytes(bytesOf(3))},
		{Kind: PayloadDagHeadsRequest, ContextID: ids.NewContextId(bytesOf(4))},
		{
			Kind:     PayloadDagHeadsResponse,
			DagHeads: []ids.Hash{ids.HashFromBytes(bytesOf(5)), ids.HashFromBytes(bytesOf(6))},
			RootHash: ids.HashFromBytes(bytesOf(7)),
		},
	}
	for _, c := range cases {
		raw := EncodePayload(c)
		got, rest, err := DecodePayload(raw)
		require.NoError(t, err)
		require.Empty(t, rest)
		require.Equal(t, c, got)
	}
}

func TestDecodePayloadRejectsUnknownKind(t *testing.T) {
	_, _, err := DecodePayload([]byte{0xff})
	require.Error(t, err)
}

func TestDecodePayloadRejectsTruncatedBlobShare(t *testing.T) {
	_, _, err := DecodePayload([]byte{byte(PayloadBlobShare), 1, 2, 3})
	require.Error(t, err)
}

func TestInitMessageRoundTrip(t *testing.T) {
	m := InitMessage{
		ContextID: ids.NewContextId(bytesOf(1)),
		PartyID:   ids.NewPublicKey(bytesOf(2)),
		Payload:   Payload{Kind: PayloadDagHeadsRequest, ContextID: ids.NewContextId(bytesOf(1))},
	}
	m.NextNonce[0] = 0xAB

	got, err := DecodeInit(EncodeInit(m))
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestMessageRoundTrip(t *testing.T) {
	m := Message{
		SequenceID: 42,
		Payload:    Payload{Kind: PayloadKeyShare},
	}
	m.NextNonce[5] = 0xCD

	got, err := DecodeMessage(EncodeMessage(m))
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestDecodeInitRejectsTruncated(t *testing.T) {
	_, err := DecodeInit(make([]byte, 10))
	require.Error(t, err)
}

func TestDecodeMessageRejectsTruncated(t *testing.T) {
	_, err := DecodeMessage(make([]byte, 2))
	require.Error(t, err)
}
