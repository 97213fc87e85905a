package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadEncryptedFrameRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	nonce := bytes.Repeat([]byte{0x22}, 12)

	var buf bytes.Buffer
	require.NoError(t, WriteEncryptedFrame(&buf, key, nonce, []byte("secret message")))

	got, err := ReadEncryptedFrame(&buf, key, nonce)
	require.NoError(t, err)
	require.Equal(t, []byte("secret message"), got)
}

func TestReadEncryptedFrameRejectsWrongNonce(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	nonce := bytes.Repeat([]byte{0x22}, 12)
	wrongNonce := bytes.Repeat([]byte{0x33}, 12)

	var buf bytes.Buffer
	require.NoError(t, WriteEncryptedFrame(&buf, key, nonce, []byte("secret message")))

	_, err := ReadEncryptedFrame(&buf, key, wrongNonce)
	require.Error(t, err)
}

func TestReadEncryptedFrameRejectsWrongKey(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	wrongKey := bytes.Repeat([]byte{0x44}, 32)
	nonce := bytes.Repeat([]byte{0x22}, 12)

	var buf bytes.Buffer
	require.NoError(t, WriteEncryptedFrame(&buf, key, nonce, []byte("secret message")))

	_, err := ReadEncryptedFrame(&buf, wrongKey, nonce)
	require.Error(t, err)
}
