package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateIdentity()
	require.NoError(t, err)

	msg := []byte("add_members payload")
	sig := Sign(priv, msg)
	require.True(t, Verify(pub, msg, sig))
	require.False(t, Verify(pub, []byte("tampered"), sig))
}

func TestSharedKeyAgreement(t *testing.T) {
	aPub, aPriv, err := GenerateIdentity()
	require.NoError(t, err)
	bPub, bPriv, err := GenerateIdentity()
	require.NoError(t, err)

	k1, err := SharedKey(aPriv, bPub)
	require.NoError(t, err)
	k2, err := SharedKey(bPriv, aPub)
	require.NoError(t, err)
	require.Equal(t, k1, k2)
	require.Len(t, k1, 32)
}

func TestSealOpenRoundTrip(t *testing.T) {
	_, aPriv, err := GenerateIdentity()
	require.NoError(t, err)
	bPub, _, err := GenerateIdentity()
	require.NoError(t, err)

	key, err := SharedKey(aPriv, bPub)
	require.NoError(t, err)

	nonce, err := NextNonce()
	require.NoError(t, err)

	pt := []byte("delta payload bytes")
	ct, err := Seal(key, nonce, pt, []byte("aad"))
	require.NoError(t, err)

	out, err := Open(key, nonce, ct, []byte("aad"))
	require.NoError(t, err)
	require.Equal(t, pt, out)

	_, err = Open(key, nonce, ct, []byte("wrong-aad"))
	require.Error(t, err)
}

func TestOpenRejectsWrongNonce(t *testing.T) {
	key := make([]byte, 32)
	n1, err := NextNonce()
	require.NoError(t, err)
	n2, err := NextNonce()
	require.NoError(t, err)

	ct, err := Seal(key, n1, []byte("hello"), nil)
	require.NoError(t, err)

	_, err = Open(key, n2, ct, nil)
	require.Error(t, err)
}
