package wasmvm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core/internal/crdt"
	"github.com/calimero-network/core/internal/store"
	"github.com/calimero-network/core/pkg/ids"
)

func openTestTree(t *testing.T) (*store.Store, *crdt.Tree) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	tx := s.Begin()
	return s, crdt.NewTree(tx, ids.NewContextId(make([]byte, 32)))
}

func newTestHost(t *testing.T, tree *crdt.Tree) *HostState {
	t.Helper()
	limits := DefaultLimits()
	contextID := ids.NewContextId(make([]byte, 32))
	executor := ids.NewPublicKey(hash32(9).Bytes())
	seed := DeriveSeed(contextID, nil, executor, []byte("input"))
	return NewHostState(limits, contextID, executor, []byte("hello"), hash32(1), tree, seed, 42)
}

func TestHostInputAndReadRegister(t *testing.T) {
	_, tree := openTestTree(t)
	h := newTestHost(t, tree)

	require.Nil(t, h.HostInput(0))
	require.Equal(t, uint32(len("hello")), h.RegisterLen(0))

	mem := make([]byte, 64)
	require.Nil(t, h.ReadRegister(mem, 0, 10))
	require.Equal(t, []byte("hello"), mem[10:15])
}

func TestReadRegisterOnUnsetRegisterFails(t *testing.T) {
	_, tree := openTestTree(t)
	h := newTestHost(t, tree)

	mem := make([]byte, 16)
	err := h.ReadRegister(mem, 5, 0)
	require.NotNil(t, err)
	require.Equal(t, ErrorExecution, err.Kind)
}

func TestValueReturnRejectsBadTag(t *testing.T) {
	_, tree := openTestTree(t)
	h := newTestHost(t, tree)

	mem := []byte("ok")
	err := h.ValueReturn(mem, 2, 0, 2)
	require.NotNil(t, err)
	require.False(t, h.Returned)
}

func TestValueReturnRecordsValue(t *testing.T) {
	_, tree := openTestTree(t)
	h := newTestHost(t, tree)

	mem := []byte("result-bytes")
	require.Nil(t, h.ValueReturn(mem, 0, 0, uint32(len(mem))))
	require.True(t, h.Returned)
	require.Equal(t, uint8(0), h.ReturnTag)
	require.Equal(t, mem, h.ReturnValue)
}

func TestContextIDAndExecutorIDReg(t *testing.T) {
	_, tree := openTestTree(t)
	h := newTestHost(t, tree)

	require.Nil(t, h.ContextIDReg(0))
	v, ok := h.Registers.Get(0)
	require.True(t, ok)
	require.Equal(t, h.ContextID.Bytes(), v)

	require.Nil(t, h.ExecutorIDReg(1))
	v, ok = h.Registers.Get(1)
	require.True(t, ok)
	require.Equal(t, h.ExecutorID.Bytes(), v)
}

func TestStorageWriteThenRead(t *testing.T) {
	_, tree := openTestTree(t)
	h := newTestHost(t, tree)

	mem := make([]byte, 0, 64)
	mem = append(mem, []byte("mykey")...)
	mem = append(mem, []byte("myvalue")...)

	keyPtr, keyLen := uint32(0), uint32(5)
	valPtr, valLen := uint32(5), uint32(7)

	existed, err := h.StorageWrite(mem, keyPtr, keyLen, valPtr, valLen, 0, 100, h.ExecutorID)
	require.Nil(t, err)
	require.False(t, existed, "first write has no prior value")

	found, err := h.StorageRead(mem, keyPtr, keyLen, 1)
	require.Nil(t, err)
	require.True(t, found)

	v, ok := h.Registers.Get(1)
	require.True(t, ok)
	require.Equal(t, []byte("myvalue"), v)

	existed, err = h.StorageWrite(mem, keyPtr, keyLen, valPtr, valLen, 2, 200, h.ExecutorID)
	require.Nil(t, err)
	require.True(t, existed, "second write overwrites an existing entry")
}

func TestStorageReadMissingKeyReturnsFalse(t *testing.T) {
	_, tree := openTestTree(t)
	h := newTestHost(t, tree)

	mem := []byte("nope!")
	found, err := h.StorageRead(mem, 0, 5, 0)
	require.Nil(t, err)
	require.False(t, found)
}

func TestStorageRemoveTombstones(t *testing.T) {
	_, tree := openTestTree(t)
	h := newTestHost(t, tree)

	mem := make([]byte, 0, 32)
	mem = append(mem, []byte("gone")...)
	mem = append(mem, []byte("val")...)

	_, err := h.StorageWrite(mem, 0, 4, 4, 3, 0, 10, h.ExecutorID)
	require.Nil(t, err)

	existed, err := h.StorageRemove(mem, 0, 4, 1, 20)
	require.Nil(t, err)
	require.True(t, existed)

	found, err := h.StorageRead(mem, 0, 4, 2)
	require.Nil(t, err)
	require.False(t, found, "a tombstoned entity reads as absent")
}

func TestStorageWriteRejectsOversizedKey(t *testing.T) {
	_, tree := openTestTree(t)
	h := newTestHost(t, tree)
	h.Limits.MaxStorageKeySize = 2

	mem := []byte("toolongkey")
	_, err := h.StorageWrite(mem, 0, 10, 0, 0, 0, 1, h.ExecutorID)
	require.NotNil(t, err)
	require.Equal(t, ErrorResourceExhausted, err.Kind)
}

func TestLogEnforcesLimits(t *testing.T) {
	_, tree := openTestTree(t)
	h := newTestHost(t, tree)
	h.Limits.MaxLogs = 1
	h.Limits.MaxLogSize = 3

	mem := []byte("hi")
	require.Nil(t, h.Log(mem, 0, 2))
	require.Equal(t, []string{"hi"}, h.Logs)

	err := h.Log(mem, 0, 2)
	require.NotNil(t, err, "second log call breaches max_logs")

	h2 := newTestHost(t, tree)
	h2.Limits.MaxLogSize = 1
	err = h2.Log(mem, 0, 2)
	require.NotNil(t, err, "log line longer than max_log_size is rejected")
}

func TestEmitRecordsEvent(t *testing.T) {
	_, tree := openTestTree(t)
	h := newTestHost(t, tree)

	mem := []byte("kindpayload")
	require.Nil(t, h.Emit(mem, 0, 4, 4, 7))
	require.Len(t, h.Events, 1)
	require.Equal(t, "kind", h.Events[0].Kind)
	require.Equal(t, []byte("payload"), h.Events[0].Data)
}

func TestGenerateUUIDIsDeterministicForSameSeed(t *testing.T) {
	_, tree := openTestTree(t)
	h1 := newTestHost(t, tree)
	h2 := newTestHost(t, tree)

	require.Nil(t, h1.GenerateUUID(0))
	require.Nil(t, h2.GenerateUUID(0))

	v1, _ := h1.Registers.Get(0)
	v2, _ := h2.Registers.Get(0)
	require.Equal(t, v1, v2)
	require.Len(t, v1, 16)
	require.Equal(t, byte(0x40), v1[6]&0xf0, "version-4 stamp")
	require.Equal(t, byte(0x80), v1[8]&0xc0, "RFC 4122 variant")
}

func TestTimeNowWritesFrozenTimestamp(t *testing.T) {
	_, tree := openTestTree(t)
	h := newTestHost(t, tree)

	require.Nil(t, h.TimeNow(0))
	v, ok := h.Registers.Get(0)
	require.True(t, ok)

	var got uint64
	for i := 0; i < 8; i++ {
		got |= uint64(v[i]) << (8 * i)
	}
	require.Equal(t, uint64(42), got)
}

func TestRandomBytesFillsMemory(t *testing.T) {
	_, tree := openTestTree(t)
	h := newTestHost(t, tree)

	mem := make([]byte, 16)
	require.Nil(t, h.RandomBytes(mem, 0, 16))
	require.NotEqual(t, make([]byte, 16), mem)
}

func TestPanicReportsLocation(t *testing.T) {
	_, tree := openTestTree(t)
	h := newTestHost(t, tree)

	mem := []byte("guest.go")
	err := h.Panic(mem, 0, 8, 12, 3)
	require.NotNil(t, err)
	require.Contains(t, err.Message, "guest.go:12:3")
}

func TestReadMemOutOfBounds(t *testing.T) {
	mem := make([]byte, 4)
	_, err := readMem(mem, 2, 10)
	require.NotNil(t, err)
}

func TestWriteMemOutOfBounds(t *testing.T) {
	mem := make([]byte, 4)
	err := writeMem(mem, 2, []byte("too long"))
	require.NotNil(t, err)
}
