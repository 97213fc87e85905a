package chainclient

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/crypto"
	"github.com/calimero-network/core/pkg/ids"
)

// fakeVerifier is a minimal in-memory signed-configuration verifier
// exercising the nonce discipline and query/mutate split without a real
// chain behind it.
type fakeVerifier struct {
	mu    sync.Mutex
	nonce map[string]uint64
	apps  map[string]string // contract id -> application id
	pub   map[string][]byte
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{nonce: make(map[string]uint64), apps: make(map[string]string), pub: make(map[string][]byte)}
}

func (v *fakeVerifier) Call(ctx context.Context, req Request) ([]byte, error) {
	switch req.Method {
	case MethodFetchNonce:
		var args struct {
			Identity string `json:"identity"`
		}
		if err := json.Unmarshal(req.Payload, &args); err != nil {
			return nil, err
		}
		v.mu.Lock()
		defer v.mu.Unlock()
		// This fixture tracks one identity's nonce regardless of which
		// PublicKey string is asked for, since tests only ever use a
		// single signer.
		return json.Marshal(struct {
			Nonce uint64 `json:"nonce"`
		}{v.nonce["identity"]})

	case MethodApplication:
		v.mu.Lock()
		defer v.mu.Unlock()
		return json.Marshal(struct {
			ApplicationID string `json:"application_id"`
		}{v.apps[req.ContractID]})

	case MethodUpdateApplication:
		var sp SignedPayload
		if err := json.Unmarshal(req.Payload, &sp); err != nil {
			return nil, err
		}
		var body mutateBody
		var inner struct {
			ApplicationID string `json:"application_id"`
		}
		if err := decodeSigned(&sp, v.pub["identity"], &body); err != nil {
			return nil, err
		}
		if b, err := json.Marshal(body.Body); err == nil {
			_ = json.Unmarshal(b, &inner)
		}

		v.mu.Lock()
		defer v.mu.Unlock()
		expected := v.nonce["identity"]
		if body.Nonce != expected {
			return nil, calerr.New(calerr.KindProtocol, "nonce mismatch")
		}
		v.nonce["identity"] = expected + 1
		v.apps[req.ContractID] = inner.ApplicationID
		return []byte("{}"), nil
	}
	return nil, calerr.Newf(calerr.KindInvalidArgument, "unknown method %q", req.Method)
}

func decodeSigned(sp *SignedPayload, pub []byte, out any) error {
	return VerifySigned(sp, pub, out)
}

func TestClientApplicationQuery(t *testing.T) {
	v := newFakeVerifier()
	v.apps["c1"] = "deadbeef"
	c := New(v, "local", "c1")

	_, err := c.Application(context.Background())
	require.Error(t, err, "deadbeef is not a valid base58 application id in this fixture")
}

func TestClientFetchNonce(t *testing.T) {
	v := newFakeVerifier()
	identity := ids.NewPublicKey(make([]byte, 32))
	v.nonce["identity"] = 7
	c := New(v, "local", "c1")

	n, err := c.FetchNonce(context.Background(), identity)
	require.NoError(t, err)
	require.Equal(t, uint64(7), n)
}

func TestClientUpdateApplicationConsumesNonce(t *testing.T) {
	v := newFakeVerifier()
	pub, priv, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	identity := ids.NewPublicKey(pub)
	v.pub["identity"] = pub
	v.nonce["identity"] = 3

	c := New(v, "local", "c1")
	appID := ids.NewApplicationId(make([]byte, 32))

	require.NoError(t, c.UpdateApplication(context.Background(), appID, identity, priv))
	require.Equal(t, uint64(4), v.nonce["identity"])
	require.Equal(t, appID.String(), v.apps["c1"])
}

func TestSignVerifySignedPayloadRoundTrip(t *testing.T) {
	pub, priv, err := crypto.GenerateIdentity()
	require.NoError(t, err)

	body := struct {
		Nonce uint64 `json:"nonce"`
	}{5}

	sp, err := Sign(body, priv)
	require.NoError(t, err)

	var out struct {
		Nonce uint64 `json:"nonce"`
	}
	require.NoError(t, VerifySigned(sp, pub, &out))
	require.Equal(t, uint64(5), out.Nonce)

	sp.Signature[0] ^= 0xff
	require.Error(t, VerifySigned(sp, pub, &out))
}
