// Post-handshake direct-stream frames wrap an AEAD-sealed payload with
// the plain length-prefixed frame codec. The nonce for
// each frame is not drawn here: the Init/Message schema
// carries an explicit `next_nonce` field inside the (plaintext-adjacent)
// message itself, chosen by the sender and echoed by the receiver on its
// next write, so internal/syncmgr owns the chain — this file only seals
// and frames one message at a time under whatever nonce it is given.
package wire

import (
	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/crypto"
)

// WriteEncryptedFrame seals payload under key/nonce and writes it as a
// length-prefixed frame to w.
func WriteEncryptedFrame(w frameWriter, key, nonce, payload []byte) error {
	ciphertext, err := crypto.Seal(key, nonce, payload, nil)
	if err != nil {
		return err
	}
	return WriteFrame(w, ciphertext)
}

// ReadEncryptedFrame reads one length-prefixed frame from r and opens it
// under key/nonce. Any authentication failure is reported as KindCrypto;
// the caller must terminate the stream with OpaqueError
// on this rather than leak the underlying reason to the peer.
func ReadEncryptedFrame(r frameReader, key, nonce []byte) ([]byte, error) {
	ciphertext, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	plaintext, err := crypto.Open(key, nonce, ciphertext, nil)
	if err != nil {
		return nil, calerr.Wrap(calerr.KindCrypto, err, "open stream frame")
	}
	return plaintext, nil
}
