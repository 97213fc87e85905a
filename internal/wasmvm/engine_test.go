package wasmvm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core/pkg/ids"
)

// buildModule assembles a minimal wasm binary by hand: one exported
// memory with the given encoded limits and one exported no-op function
// named "run". Hand-laying the bytes keeps these tests free of any wasm
// toolchain dependency.
func buildModule(memLimits []byte) []byte {
	header := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	typeSec := []byte{0x01, 0x04, 0x01, 0x60, 0x00, 0x00}
	funcSec := []byte{0x03, 0x02, 0x01, 0x00}
	memBody := append([]byte{0x01}, memLimits...) // one memory entry
	memSec := append([]byte{0x05, byte(len(memBody))}, memBody...)
	exportSec := []byte{0x07, 0x10, 0x02,
		0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
		0x03, 'r', 'u', 'n', 0x00, 0x00}
	codeSec := []byte{0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b}

	var out []byte
	for _, sec := range [][]byte{header, typeSec, funcSec, memSec, exportSec, codeSec} {
		out = append(out, sec...)
	}
	return out
}

// boundedModule declares memory min=1 max=16 pages, well inside
// DefaultLimits.
func boundedModule() []byte { return buildModule([]byte{0x01, 0x01, 0x10}) }

// overdeclaredModule declares memory max=65536 pages (4 GiB).
func overdeclaredModule() []byte { return buildModule([]byte{0x01, 0x01, 0x80, 0x80, 0x04}) }

// unboundedModule declares memory with no maximum at all.
func unboundedModule() []byte { return buildModule([]byte{0x00, 0x01}) }

func testInvocation(t *testing.T, export string) Invocation {
	t.Helper()
	_, tree := openTestTree(t)
	contextID := ids.NewContextId(make([]byte, 32))
	return Invocation{
		ContextID: contextID,
		Export:    export,
		Caller:    ids.NewPublicKey(hash32(7).Bytes()),
		Input:     []byte("input"),
		RootHash:  hash32(1),
		Tree:      tree,
	}
}

func TestInvokeRunsExportedFunction(t *testing.T) {
	e := NewEngine(DefaultLimits())

	receipt, err := e.Invoke(boundedModule(), testInvocation(t, "run"), 42)
	require.NoError(t, err)
	require.True(t, receipt.Success)
	require.Nil(t, receipt.Err)
}

func TestInvokeRejectsOverdeclaredMemory(t *testing.T) {
	e := NewEngine(DefaultLimits())

	receipt, err := e.Invoke(overdeclaredModule(), testInvocation(t, "run"), 42)
	require.NoError(t, err)
	require.False(t, receipt.Success)
	require.Equal(t, ErrorResourceExhausted, receipt.Err.Kind)
}

func TestInvokeRejectsUnboundedMemory(t *testing.T) {
	e := NewEngine(DefaultLimits())

	receipt, err := e.Invoke(unboundedModule(), testInvocation(t, "run"), 42)
	require.NoError(t, err)
	require.False(t, receipt.Success)
	require.Equal(t, ErrorResourceExhausted, receipt.Err.Kind)
}

func TestInvokeMissingExportFails(t *testing.T) {
	e := NewEngine(DefaultLimits())

	receipt, err := e.Invoke(boundedModule(), testInvocation(t, "does_not_exist"), 42)
	require.NoError(t, err)
	require.False(t, receipt.Success)
	require.Equal(t, ErrorExecution, receipt.Err.Kind)
}

func TestInvokeRejectsGarbageBytecode(t *testing.T) {
	e := NewEngine(DefaultLimits())

	receipt, err := e.Invoke([]byte("not wasm at all"), testInvocation(t, "run"), 42)
	require.NoError(t, err)
	require.False(t, receipt.Success)
	require.Equal(t, ErrorExecution, receipt.Err.Kind)
}
