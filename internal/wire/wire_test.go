package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core/pkg/ids"
)

func TestStateDeltaRoundTrip(t *testing.T) {
	d := StateDelta{
		ContextID: ids.NewContextId(bytesOf(1)),
		AuthorID:  ids.NewPublicKey(bytesOf(2)),
		RootHash:  ids.HashFromBytes(bytesOf(3)),
		Payload:   []byte("hello world"),
	}
	raw, err := EncodeStateDelta(d)
	require.NoError(t, err)

	got, err := DecodeStateDelta(raw)
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestStateDeltaRejectsOversizedPayload(t *testing.T) {
	d := StateDelta{Payload: make([]byte, MaxGossipMessageSize+1)}
	_, err := EncodeStateDelta(d)
	require.Error(t, err)
}

func TestDecodeStateDeltaRejectsTruncatedHeader(t *testing.T) {
	_, err := DecodeStateDelta(make([]byte, 10))
	require.Error(t, err)
}

func TestDecodeStateDeltaRejectsTruncatedPayload(t *testing.T) {
	d := StateDelta{Payload: []byte("abc")}
	raw, err := EncodeStateDelta(d)
	require.NoError(t, err)
	_, err = DecodeStateDelta(raw[:len(raw)-1])
	require.Error(t, err)
}

func TestDecodeStateDeltaRejectsOversizedDeclaredLength(t *testing.T) {
	raw := make([]byte, 100)
	raw[96] = 0xff
	raw[97] = 0xff
	raw[98] = 0xff
	raw[99] = 0xff
	_, err := DecodeStateDelta(raw)
	require.Error(t, err)
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("a message")))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("a message"), got)
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, make([]byte, MaxFrameSize+1))
	require.Error(t, err)
}

func TestReadFrameRejectsOversizedDeclaredLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := ReadFrame(&buf)
	require.Error(t, err)
}

func TestReadFrameRejectsTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 10})
	buf.Write([]byte("short"))
	_, err := ReadFrame(&buf)
	require.Error(t, err)
}

func bytesOf(seed byte) []byte {
	b := make([]byte, 32)
	b[0] = seed
	return b
}
