package wasmvm

import "math"

// registerUnset is the register_len result for an unset register.
const registerUnset = math.MaxUint32

// Registers is the host-side scratch space the ABI's register model
// addresses: host functions write values here (input, storage reads,
// identifiers) and the guest copies them out via read_register.
type Registers struct {
	limits  Limits
	values  map[uint64][]byte
	capUsed uint64
}

// NewRegisters allocates an empty register file bounded by limits.
func NewRegisters(limits Limits) *Registers {
	return &Registers{limits: limits, values: make(map[uint64][]byte)}
}

// Set stores data under reg, enforcing max_registers, max_register_size,
// and the aggregate max_registers_capacity. Breaching any of them is a
// ResourceExhausted host error.
func (r *Registers) Set(reg uint64, data []byte) *ExecutionError {
	if uint32(len(data)) > r.limits.MaxRegisterSize {
		return &ExecutionError{Kind: ErrorResourceExhausted, Message: "register value exceeds max_register_size"}
	}
	if _, exists := r.values[reg]; !exists && uint32(len(r.values)) >= r.limits.MaxRegisters {
		return &ExecutionError{Kind: ErrorResourceExhausted, Message: "max_registers exceeded"}
	}

	var freed uint64
	if old, ok := r.values[reg]; ok {
		freed = uint64(len(old))
	}
	newUsed := r.capUsed - freed + uint64(len(data))
	if newUsed > r.limits.MaxRegistersCapacity {
		return &ExecutionError{Kind: ErrorResourceExhausted, Message: "max_registers_capacity exceeded"}
	}

	r.capUsed = newUsed
	r.values[reg] = append([]byte(nil), data...)
	return nil
}

// Len returns the length of reg's contents, or registerUnset if reg has
// never been written.
func (r *Registers) Len(reg uint64) uint32 {
	v, ok := r.values[reg]
	if !ok {
		return registerUnset
	}
	return uint32(len(v))
}

// Get returns reg's contents and whether it has been set.
func (r *Registers) Get(reg uint64) ([]byte, bool) {
	v, ok := r.values[reg]
	return v, ok
}
