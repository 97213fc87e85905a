package crypto

import (
	"crypto/ed25519"
	"crypto/sha512"
	"math/big"

	"github.com/calimero-network/core/internal/calerr"
)

// The standard Ed25519 field prime 2^255 - 19.
var fieldPrime = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(19))

// ed25519PrivateToX25519 converts an Ed25519 private key to the X25519
// scalar used by curve25519.X25519, following the standard construction:
// the Ed25519 signing scalar *is* SHA-512(seed)[:32] with the usual
// clamping, which is exactly the Montgomery-curve private scalar.
func ed25519PrivateToX25519(priv ed25519.PrivateKey) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, calerr.Newf(calerr.KindCrypto, "invalid ed25519 private key size %d", len(priv))
	}
	seed := priv.Seed()
	h := sha512.Sum512(seed)
	scalar := make([]byte, 32)
	copy(scalar, h[:32])
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64
	return scalar, nil
}

// ed25519PublicToX25519 converts an Ed25519 public key (a compressed
// twisted-Edwards point) to its Montgomery-curve u-coordinate via the
// standard birational map u = (1+y)/(1-y) mod p, where y is recovered by
// clearing the compressed point's sign bit.
func ed25519PublicToX25519(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, calerr.Newf(calerr.KindCrypto, "invalid ed25519 public key size %d", len(pub))
	}

	// Recover y by clearing the sign bit carried in the top bit of the
	// last byte of the little-endian compressed point.
	yBytes := make([]byte, 32)
	copy(yBytes, pub)
	yBytes[31] &= 0x7f

	y := new(big.Int).SetBytes(reverseBytes(yBytes))

	one := big.NewInt(1)
	num := new(big.Int).Add(one, y)
	num.Mod(num, fieldPrime)
	den := new(big.Int).Sub(one, y)
	den.Mod(den, fieldPrime)

	denInv := new(big.Int).ModInverse(den, fieldPrime)
	if denInv == nil {
		return nil, calerr.New(calerr.KindCrypto, "public key has no valid montgomery u-coordinate")
	}

	u := new(big.Int).Mul(num, denInv)
	u.Mod(u, fieldPrime)

	out := make([]byte, 32)
	uBytes := u.Bytes()
	copy(out[32-len(uBytes):], uBytes)
	return reverseBytes(out), nil
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
