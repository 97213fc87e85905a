// This file holds the pure, wasmer-independent host logic: every ABI
// function is implemented here against an explicit guest-memory slice so
// it can be unit tested without instantiating a real WASM module. engine.go
// wires these methods to wasmer.NewFunction closures that pass
// instance.Exports memory's Data() as that slice.
package wasmvm

import (
	"github.com/google/uuid"

	"github.com/calimero-network/core/internal/crdt"
	"github.com/calimero-network/core/pkg/ids"
)

// HostState is one invocation's mutable host-side context: its registers,
// emitted logs/events, return value, resource limits, deterministic RNG,
// and the CRDT tree its storage_* calls read and write.
type HostState struct {
	Limits    Limits
	Registers *Registers

	ContextID  ids.ContextId
	ExecutorID ids.PublicKey
	Input      []byte
	// RootHash is the stable per-context anchor storage_* keys are
	// derived against (crdt.ContextAnchor(ContextID)) — despite the
	// name, callers must NOT pass the context's current, post-commit
	// merkle root_hash here: that value changes on every successful
	// invocation, which would silently remap every existing key to a
	// new EntityId on the very next call.
	RootHash ids.Hash

	Tree    *crdt.Tree
	Private bool // storage_* calls never touch the private column; a separate ABI extension would be needed for that

	RNG      *drbg
	NowNanos int64

	Logs   []string
	Events []Event

	ReturnTag   uint8
	ReturnValue []byte
	Returned    bool

	Fault *ExecutionError
}

// NewHostState constructs the per-invocation host context. now is the
// caller-supplied timestamp time_now reports for the whole invocation;
// it is frozen for the invocation's duration and not derived from seed.
func NewHostState(limits Limits, contextID ids.ContextId, executor ids.PublicKey, input []byte, rootHash ids.Hash, tree *crdt.Tree, seed [32]byte, now int64) *HostState {
	return &HostState{
		Limits:     limits,
		Registers:  NewRegisters(limits),
		ContextID:  contextID,
		ExecutorID: executor,
		Input:      input,
		RootHash:   rootHash,
		Tree:       tree,
		RNG:        newDRBG(seed),
		NowNanos:   now,
	}
}

func readMem(mem []byte, ptr, ln uint32) ([]byte, *ExecutionError) {
	if uint64(ptr)+uint64(ln) > uint64(len(mem)) {
		return nil, &ExecutionError{Kind: ErrorExecution, Message: "guest memory read out of bounds"}
	}
	out := make([]byte, ln)
	copy(out, mem[ptr:ptr+ln])
	return out, nil
}

func writeMem(mem []byte, ptr uint32, data []byte) *ExecutionError {
	if uint64(ptr)+uint64(len(data)) > uint64(len(mem)) {
		return &ExecutionError{Kind: ErrorExecution, Message: "guest memory write out of bounds"}
	}
	copy(mem[ptr:], data)
	return nil
}

// HostInput copies the invocation's input into reg.
func (h *HostState) HostInput(reg uint64) *ExecutionError {
	if err := h.Registers.Set(reg, h.Input); err != nil {
		return err
	}
	return nil
}

// RegisterLen reports the length of reg, or registerUnset.
func (h *HostState) RegisterLen(reg uint64) uint32 {
	return h.Registers.Len(reg)
}

// ReadRegister copies reg's content into guest memory at ptr.
func (h *HostState) ReadRegister(mem []byte, reg uint64, ptr uint32) *ExecutionError {
	v, ok := h.Registers.Get(reg)
	if !ok {
		return &ExecutionError{Kind: ErrorExecution, Message: "read_register: register unset"}
	}
	return writeMem(mem, ptr, v)
}

// ValueReturn sets this invocation's return value. tag must be 0 (ok) or
// 1 (err).
func (h *HostState) ValueReturn(mem []byte, tag uint8, ptr, ln uint32) *ExecutionError {
	if tag > 1 {
		return &ExecutionError{Kind: ErrorExecution, Message: "value_return: invalid tag"}
	}
	data, err := readMem(mem, ptr, ln)
	if err != nil {
		return err
	}
	h.ReturnTag = tag
	h.ReturnValue = data
	h.Returned = true
	return nil
}

// ContextIDReg writes the 32-byte context id into reg.
func (h *HostState) ContextIDReg(reg uint64) *ExecutionError {
	return h.Registers.Set(reg, h.ContextID.Bytes())
}

// ExecutorIDReg writes the 32-byte executor (caller) id into reg.
func (h *HostState) ExecutorIDReg(reg uint64) *ExecutionError {
	return h.Registers.Set(reg, h.ExecutorID.Bytes())
}

func (h *HostState) entityIDForKey(key []byte) ids.EntityId {
	return crdt.DeriveEntityID(h.RootHash, string(key))
}

// rootEntityID is the id of this invocation's context root entity (the
// zero-path entity beneath h.RootHash), the Parent every freshly-created
// top-level key entity links to so its hash folds into the context's
// root_hash at commit time.
func (h *HostState) rootEntityID() ids.EntityId {
	return crdt.DeriveEntityID(h.RootHash)
}

// StorageRead reads the entity addressed by key into reg, returning
// whether it (and is not tombstoned) was present.
func (h *HostState) StorageRead(mem []byte, keyPtr, keyLen uint32, reg uint64) (bool, *ExecutionError) {
	if keyLen > h.Limits.MaxStorageKeySize {
		return false, &ExecutionError{Kind: ErrorResourceExhausted, Message: "storage key exceeds max_storage_key_size"}
	}
	key, err := readMem(mem, keyPtr, keyLen)
	if err != nil {
		return false, err
	}
	e, ok, serr := h.Tree.Get(h.entityIDForKey(key), false)
	if serr != nil {
		return false, &ExecutionError{Kind: ErrorStorageFault, Message: serr.Error()}
	}
	if !ok || e.IsTombstoned() {
		return false, nil
	}
	if rerr := h.Registers.Set(reg, e.Data); rerr != nil {
		return false, rerr
	}
	return true, nil
}

// StorageWrite stores val under key, returning whether a prior
// non-tombstoned value existed.
func (h *HostState) StorageWrite(mem []byte, keyPtr, keyLen, valPtr, valLen uint32, reg uint64, nowNanos int64, author ids.PublicKey) (bool, *ExecutionError) {
	if keyLen > h.Limits.MaxStorageKeySize {
		return false, &ExecutionError{Kind: ErrorResourceExhausted, Message: "storage key exceeds max_storage_key_size"}
	}
	if valLen > h.Limits.MaxStorageValueSize {
		return false, &ExecutionError{Kind: ErrorResourceExhausted, Message: "storage value exceeds max_storage_value_size"}
	}
	key, err := readMem(mem, keyPtr, keyLen)
	if err != nil {
		return false, err
	}
	val, err := readMem(mem, valPtr, valLen)
	if err != nil {
		return false, err
	}

	id := h.entityIDForKey(key)
	existing, ok, serr := h.Tree.Get(id, false)
	if serr != nil {
		return false, &ExecutionError{Kind: ErrorStorageFault, Message: serr.Error()}
	}
	existed := ok && !existing.IsTombstoned()

	e := &crdt.Entity{ID: id, Type: crdt.TypeLWWRegister, Data: val, UpdatedAt: nowNanos, AuthorID: author}
	if ok {
		e.Parent = existing.Parent
		e.Children = existing.Children
	} else {
		e.Parent = h.rootEntityID()
	}
	if perr := h.Tree.Put(e, false); perr != nil {
		return false, &ExecutionError{Kind: ErrorStorageFault, Message: perr.Error()}
	}
	if rerr := h.Registers.Set(reg, boolReg(existed)); rerr != nil {
		return false, rerr
	}
	return existed, nil
}

// StorageRemove tombstones the entity at key.
func (h *HostState) StorageRemove(mem []byte, keyPtr, keyLen uint32, reg uint64, nowNanos int64) (bool, *ExecutionError) {
	key, err := readMem(mem, keyPtr, keyLen)
	if err != nil {
		return false, err
	}
	id := h.entityIDForKey(key)
	derr := h.Tree.Delete(id, false, nowNanos)
	existed := derr == nil
	if rerr := h.Registers.Set(reg, boolReg(existed)); rerr != nil {
		return false, rerr
	}
	return existed, nil
}

func boolReg(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

// Log appends a log line, enforcing max_logs/max_log_size.
func (h *HostState) Log(mem []byte, ptr, ln uint32) *ExecutionError {
	if uint32(len(h.Logs)) >= h.Limits.MaxLogs {
		return &ExecutionError{Kind: ErrorResourceExhausted, Message: "max_logs exceeded"}
	}
	if ln > h.Limits.MaxLogSize {
		return &ExecutionError{Kind: ErrorResourceExhausted, Message: "log line exceeds max_log_size"}
	}
	data, err := readMem(mem, ptr, ln)
	if err != nil {
		return err
	}
	h.Logs = append(h.Logs, string(data))
	return nil
}

// Emit appends an event, enforcing max_events/max_event_kind_size/max_event_data_size.
func (h *HostState) Emit(mem []byte, kindPtr, kindLen, dataPtr, dataLen uint32) *ExecutionError {
	if uint32(len(h.Events)) >= h.Limits.MaxEvents {
		return &ExecutionError{Kind: ErrorResourceExhausted, Message: "max_events exceeded"}
	}
	if kindLen > h.Limits.MaxEventKindSize {
		return &ExecutionError{Kind: ErrorResourceExhausted, Message: "event kind exceeds max_event_kind_size"}
	}
	if dataLen > h.Limits.MaxEventDataSize {
		return &ExecutionError{Kind: ErrorResourceExhausted, Message: "event data exceeds max_event_data_size"}
	}
	kind, err := readMem(mem, kindPtr, kindLen)
	if err != nil {
		return err
	}
	data, err := readMem(mem, dataPtr, dataLen)
	if err != nil {
		return err
	}
	h.Events = append(h.Events, Event{Kind: string(kind), Data: data})
	return nil
}

// GenerateUUID writes a 16-byte deterministic value derived from the
// invocation seed into reg. The bytes are stamped as a version-4 UUID so
// guest code that parses them as RFC 4122 sees a well-formed value, but
// the randomness is the seeded stream, not host entropy.
func (h *HostState) GenerateUUID(reg uint64) *ExecutionError {
	var raw [16]byte
	copy(raw[:], h.RNG.Next(16))
	u, err := uuid.FromBytes(raw[:])
	if err != nil {
		return &ExecutionError{Kind: ErrorFatal, Message: "derive uuid: " + err.Error()}
	}
	u[6] = (u[6] & 0x0f) | 0x40
	u[8] = (u[8] & 0x3f) | 0x80
	return h.Registers.Set(reg, u[:])
}

// TimeNow writes the frozen, caller-supplied invocation timestamp into reg.
func (h *HostState) TimeNow(reg uint64) *ExecutionError {
	var buf [8]byte
	n := uint64(h.NowNanos)
	for i := 0; i < 8; i++ {
		buf[i] = byte(n >> (8 * i))
	}
	return h.Registers.Set(reg, buf[:])
}

// RandomBytes fills guest memory at ptr with ln deterministic bytes.
func (h *HostState) RandomBytes(mem []byte, ptr, ln uint32) *ExecutionError {
	return writeMem(mem, ptr, h.RNG.Next(int(ln)))
}

// Panic always aborts the invocation, recording the guest-reported
// source location.
func (h *HostState) Panic(mem []byte, filePtr, fileLen uint32, line, col uint32) *ExecutionError {
	file, _ := readMem(mem, filePtr, fileLen)
	return &ExecutionError{Kind: ErrorExecution, Message: "guest panic at " + string(file) + ":" + itoa(line) + ":" + itoa(col)}
}

func itoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
