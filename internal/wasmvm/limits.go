// Package wasmvm implements the single-threaded WASM execution sandbox:
// one wasmer-go runtime per invocation, a fixed host ABI wired under
// the "env" import namespace, deterministic seeding of
// randomness/uuids, a frozen per-invocation time, and hard resource limits that abort the
// invocation without persisting any state on breach.
package wasmvm

// Limits enumerates the sandbox's resource ceilings. MaxMemoryPages is
// enforced at module load: a module whose exported memory declares a
// minimum or maximum beyond the ceiling is rejected before a single
// instruction runs. Breaching any other limit aborts the invocation
// with a host error; no state changes persist (the caller discards the
// temporal store). There is deliberately no host stack-size ceiling:
// the embedded wasmer-go runtime exposes no stack reservation knob, so
// advertising one here would be a silent no-op.
type Limits struct {
	MaxMemoryPages uint32

	MaxRegisters         uint32
	MaxRegisterSize      uint32
	MaxRegistersCapacity uint64 // aggregate bytes across all live registers

	MaxLogs    uint32
	MaxLogSize uint32

	MaxEvents        uint32
	MaxEventKindSize uint32
	MaxEventDataSize uint32

	MaxStorageKeySize   uint32
	MaxStorageValueSize uint32
}

// DefaultLimits returns conservative defaults suitable for tests; a real
// node always supplies Limits derived from pkg/config.
func DefaultLimits() Limits {
	return Limits{
		MaxMemoryPages:       1024,
		MaxRegisters:         64,
		MaxRegisterSize:      4 << 20,
		MaxRegistersCapacity: 64 * (4 << 20),
		MaxLogs:              256,
		MaxLogSize:           16 * 1024,
		MaxEvents:            256,
		MaxEventKindSize:     128,
		MaxEventDataSize:     64 * 1024,
		MaxStorageKeySize:    1024,
		MaxStorageValueSize:  10 << 20,
	}
}
