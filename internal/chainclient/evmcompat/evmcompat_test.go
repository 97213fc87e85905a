package evmcompat

import (
	"context"
	"testing"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core/internal/chainclient"
)

func TestTransportRoutesRegisteredMethod(t *testing.T) {
	addr := gethcommon.HexToAddress("0x00000000000000000000000000000000000001")
	v := NewVerifier(addr)
	v.Handle(chainclient.MethodApplication, func(ctx context.Context, identity string, payload []byte) ([]byte, error) {
		return []byte(`{"application_id":"ok"}`), nil
	})

	transport := NewTransport()
	transport.Register(v)

	resp, err := transport.Call(context.Background(), chainclient.Request{
		ContractID: addr.Hex(),
		Method:     chainclient.MethodApplication,
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"application_id":"ok"}`, string(resp))
}

func TestTransportRejectsUnknownContract(t *testing.T) {
	transport := NewTransport()
	_, err := transport.Call(context.Background(), chainclient.Request{
		ContractID: "0x0000000000000000000000000000000000000002",
		Method:     chainclient.MethodApplication,
	})
	require.Error(t, err)
}

func TestTransportRejectsInvalidContractID(t *testing.T) {
	transport := NewTransport()
	_, err := transport.Call(context.Background(), chainclient.Request{
		ContractID: "not-an-address",
		Method:     chainclient.MethodApplication,
	})
	require.Error(t, err)
}

func TestTransportRejectsUnregisteredMethod(t *testing.T) {
	addr := gethcommon.HexToAddress("0x00000000000000000000000000000000000003")
	v := NewVerifier(addr)
	transport := NewTransport()
	transport.Register(v)

	_, err := transport.Call(context.Background(), chainclient.Request{
		ContractID: addr.Hex(),
		Method:     chainclient.MethodFetchNonce,
	})
	require.Error(t, err)
}

func TestMethodSelectorIsStable(t *testing.T) {
	require.Equal(t, MethodSelector("application"), MethodSelector("application"))
	require.NotEqual(t, MethodSelector("application"), MethodSelector("fetch_nonce"))
}
