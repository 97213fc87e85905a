// Package crypto implements the node's identity and transport
// cryptography: plain Ed25519 signing/verification for member
// identities and signed-config payloads, X25519-derived shared secrets
// for the per-peer sync stream key, and a chacha20poly1305 AEAD sealed
// and opened under an explicit, frame-chained 12-byte nonce — each frame
// hands the next frame its nonce, drawn at random by NextNonce.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/calimero-network/core/internal/calerr"
)

// GenerateIdentity creates a new Ed25519 keypair for a member identity.
func GenerateIdentity() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, calerr.Wrap(calerr.KindCrypto, err, "generate identity")
	}
	return pub, priv, nil
}

// Sign signs msg with priv, the signature half of SignedPayload and the
// stream handshake.
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// Verify checks sig over msg under pub.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}

// SharedKey derives the X25519 shared secret between our identity's
// private scalar and the peer's Ed25519 public key, converted to the
// Montgomery form X25519 requires. Both sides of a sync stream derive the
// same 32-byte key, the "X25519-derived shared key between the two
// identities.
func SharedKey(ourPriv ed25519.PrivateKey, theirPub ed25519.PublicKey) ([]byte, error) {
	ourX, err := ed25519PrivateToX25519(ourPriv)
	if err != nil {
		return nil, err
	}
	theirX, err := ed25519PublicToX25519(theirPub)
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(ourX, theirX)
	if err != nil {
		return nil, calerr.Wrap(calerr.KindCrypto, err, "derive x25519 shared key")
	}
	return shared, nil
}

// Seal encrypts plaintext under key using the 12-byte nonce supplied by
// the previous frame. It never draws its own random nonce;
// nonce chaining is the caller's (internal/syncmgr's) responsibility.
func Seal(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, calerr.Newf(calerr.KindCrypto, "nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open decrypts and authenticates ciphertext produced by Seal. Any
// decryption failure is reported as KindCrypto; the
// caller must terminate the stream with OpaqueError on this, never
// leaking the underlying reason to the peer.
func Open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, calerr.Newf(calerr.KindCrypto, "nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	pt, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, calerr.Wrap(calerr.KindCrypto, err, "open sealed frame")
	}
	return pt, nil
}

func newAEAD(key []byte) (cipherAEAD, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, calerr.Newf(calerr.KindCrypto, "key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, calerr.Wrap(calerr.KindCrypto, err, "build aead")
	}
	return aead, nil
}

// cipherAEAD is the subset of cipher.AEAD this package uses, named to
// avoid importing crypto/cipher just for the type name in signatures.
type cipherAEAD interface {
	NonceSize() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// NonceSize is the frame nonce length, 12 bytes.
const NonceSize = chacha20poly1305.NonceSize

// NextNonce draws a fresh random 12-byte nonce to hand to the peer as
// this frame's "next_nonce", seeding the chain for the following frame.
func NextNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, calerr.Wrap(calerr.KindCrypto, err, "draw nonce")
	}
	return nonce, nil
}
