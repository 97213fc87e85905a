package node

import (
	"context"
	"crypto/rand"
	"encoding/json"

	"github.com/calimero-network/core/internal/calerr"
)

func marshalJSON(v any) ([]byte, error)   { return json.Marshal(v) }
func unmarshalJSON(b []byte, v any) error { return json.Unmarshal(b, v) }
func backgroundCtx() context.Context      { return context.Background() }

// randomBytes32 fills a fresh 32-byte identifier from the OS CSPRNG, used
// to mint new context/application ids that have no content to hash.
func randomBytes32() ([32]byte, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return b, calerr.Wrap(calerr.KindCrypto, err, "generate random id")
	}
	return b, nil
}
