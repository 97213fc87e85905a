package chainclient

import (
	"crypto/ed25519"
	"encoding/json"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/crypto"
)

// SignedPayload is the wire shape of the `SignedPayload<T>`:
// the canonical JSON encoding of a typed mutate body plus an Ed25519
// signature over it. Go has no type-witness generic phantom field to
// carry here the way the original does — the verifier recovers T by
// trying to unmarshal Payload into the method's known request type,
// which the Method field on the enclosing Request already names.
type SignedPayload struct {
	Payload   []byte `json:"payload"`
	Signature []byte `json:"signature"`
}

// canonicalJSON serializes v deterministically: encoding/json already
// sorts map[string]any keys and struct field order is fixed by the
// type's declaration, so a plain Marshal is canonical for every payload
// shape this client produces, without a bespoke canonicalizer.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Sign builds the SignedPayload for body, signing its canonical encoding
// with priv. Exported so chainclient/evmcompat and other Transport
// implementations can verify against the same construction in tests.
func Sign(body any, priv ed25519.PrivateKey) (*SignedPayload, error) {
	payload, err := canonicalJSON(body)
	if err != nil {
		return nil, calerr.Wrap(calerr.KindInvalidArgument, err, "canonicalize mutate body")
	}
	return &SignedPayload{
		Payload:   payload,
		Signature: crypto.Sign(priv, payload),
	}, nil
}

// VerifySigned checks sp's signature under pub and, on success, decodes
// its payload into out.
func VerifySigned(sp *SignedPayload, pub ed25519.PublicKey, out any) error {
	if !crypto.Verify(pub, sp.Payload, sp.Signature) {
		return calerr.New(calerr.KindCrypto, "signed payload: signature verification failed")
	}
	if err := json.Unmarshal(sp.Payload, out); err != nil {
		return calerr.Wrap(calerr.KindInvalidArgument, err, "decode signed payload body")
	}
	return nil
}
