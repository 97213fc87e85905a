package wasmvm

import (
	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/calimero-network/core/internal/crdt"
	"github.com/calimero-network/core/pkg/ids"
)

// Invocation names the inputs to one call into the WASM sandbox: the
// context and application-defined export to run, the caller's identity,
// raw input bytes, the causal frontier the resulting delta will be
// parented on, and the context-scoped tree this invocation's storage_*
// calls operate over.
type Invocation struct {
	ContextID  ids.ContextId
	Export     string
	Caller     ids.PublicKey
	Input      []byte
	Parents []ids.Hash
	// RootHash is the stable per-context key-derivation anchor
	// (crdt.ContextAnchor(ContextID)), not the context's mutable
	// post-commit merkle root_hash — see HostState.RootHash.
	RootHash ids.Hash
	Tree     *crdt.Tree
}

// Engine runs WASM modules under a fixed resource budget. One Engine may
// run any number of invocations; each Invoke call gets its own
// wasmer.Store/Module/Instance, so invocations never share runtime
// state.
type Engine struct {
	limits Limits
	engine *wasmer.Engine
}

// NewEngine constructs an Engine bounded by limits.
func NewEngine(limits Limits) *Engine {
	return &Engine{limits: limits, engine: wasmer.NewEngine()}
}

// Invoke runs inv.Export in code, returning the invocation's receipt.
// On any failure (guest panic, trap, resource
// limit, storage fault) the returned Receipt has Success=false and no
// writes should be considered to have happened — the caller discards
// inv.Tree's underlying temporal store rather than committing it.
func (e *Engine) Invoke(code []byte, inv Invocation, nowNanos int64) (*Receipt, error) {
	seed := DeriveSeed(inv.ContextID, inv.Parents, inv.Caller, inv.Input)
	host := NewHostState(e.limits, inv.ContextID, inv.Caller, inv.Input, inv.RootHash, inv.Tree, seed, nowNanos)
	wired := &wasmerHost{HostState: host}

	store := wasmer.NewStore(e.engine)
	mod, err := wasmer.NewModule(store, code)
	if err != nil {
		return execErrorReceipt(&ExecutionError{Kind: ErrorExecution, Message: "compile module: " + err.Error()}), nil
	}

	if fault := checkDeclaredMemory(mod, e.limits.MaxMemoryPages); fault != nil {
		return execErrorReceipt(fault), nil
	}

	imports := registerHost(store, wired)
	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return execErrorReceipt(&ExecutionError{Kind: ErrorExecution, Message: "instantiate module: " + err.Error()}), nil
	}
	defer instance.Close()

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return execErrorReceipt(&ExecutionError{Kind: ErrorExecution, Message: "wasm memory export missing"}), nil
	}
	wired.mem = mem

	export, err := instance.Exports.GetFunction(inv.Export)
	if err != nil {
		return execErrorReceipt(&ExecutionError{Kind: ErrorExecution, Message: "export not found: " + inv.Export}), nil
	}

	if _, err := export(); err != nil {
		if host.Fault != nil {
			return execErrorReceipt(host.Fault), nil
		}
		return execErrorReceipt(&ExecutionError{Kind: ErrorExecution, Message: "trap: " + err.Error()}), nil
	}

	if host.Fault != nil {
		return execErrorReceipt(host.Fault), nil
	}

	return &Receipt{
		Success:     true,
		ReturnTag:   host.ReturnTag,
		ReturnValue: host.ReturnValue,
		Logs:        host.Logs,
		Events:      host.Events,
	}, nil
}

func execErrorReceipt(e *ExecutionError) *Receipt {
	return &Receipt{Success: false, Err: e}
}

// checkDeclaredMemory bounds guest memory by maxPages: a module whose
// exported memory declares a minimum above the ceiling, a maximum above
// it, or no maximum at all (wasmer reports that as an effectively
// unlimited maximum) is rejected before instantiation, so an
// over-declared module never executes.
func checkDeclaredMemory(mod *wasmer.Module, maxPages uint32) *ExecutionError {
	for _, export := range mod.Exports() {
		mt := export.Type().IntoMemoryType()
		if mt == nil {
			continue
		}
		limits := mt.Limits()
		if limits.Minimum() > maxPages {
			return &ExecutionError{Kind: ErrorResourceExhausted, Message: "declared memory minimum exceeds max_memory_pages"}
		}
		if limits.Maximum() > maxPages {
			return &ExecutionError{Kind: ErrorResourceExhausted, Message: "declared memory maximum exceeds max_memory_pages"}
		}
	}
	return nil
}

// wasmerHost pairs the pure HostState with the wasmer.Memory export,
// keeping HostState itself free of any wasmer-go dependency so its ABI
// logic stays unit-testable against a plain []byte.
type wasmerHost struct {
	*HostState
	mem *wasmer.Memory
}

// registerHost converts HostState's pure Go methods into the ABI's "env"
// namespace wasm imports: one wasmer.NewFunction per host call, reading
// arguments as wasmer.Value and reporting faults by setting host.Fault
// and returning a non-nil error so the enclosing export call traps.
func registerHost(store *wasmer.Store, h *wasmerHost) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	fail := func(err *ExecutionError) ([]wasmer.Value, error) {
		h.Fault = err
		return nil, err
	}

	input := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I64)), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := h.HostInput(uint64(args[0].I64())); err != nil {
				return fail(err)
			}
			return []wasmer.Value{}, nil
		})

	registerLen := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I64)), wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I64))),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			return []wasmer.Value{wasmer.NewI64(int64(h.RegisterLen(uint64(args[0].I64()))))}, nil
		})

	readRegister := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I64), wasmer.ValueKind(wasmer.I32)), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := h.ReadRegister(h.mem.Data(), uint64(args[0].I64()), uint32(args[1].I32())); err != nil {
				return fail(err)
			}
			return []wasmer.Value{}, nil
		})

	valueReturn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32)), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			tag, ptr, ln := uint8(args[0].I32()), uint32(args[1].I32()), uint32(args[2].I32())
			if err := h.ValueReturn(h.mem.Data(), tag, ptr, ln); err != nil {
				return fail(err)
			}
			return []wasmer.Value{}, nil
		})

	contextID := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I64)), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := h.ContextIDReg(uint64(args[0].I64())); err != nil {
				return fail(err)
			}
			return []wasmer.Value{}, nil
		})

	executorID := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I64)), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := h.ExecutorIDReg(uint64(args[0].I64())); err != nil {
				return fail(err)
			}
			return []wasmer.Value{}, nil
		})

	storageRead := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I64)), wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32))),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			found, err := h.StorageRead(h.mem.Data(), uint32(args[0].I32()), uint32(args[1].I32()), uint64(args[2].I64()))
			if err != nil {
				return fail(err)
			}
			return []wasmer.Value{wasmer.NewI32(boolI32(found))}, nil
		})

	storageWrite := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I64)), wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32))),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			existed, err := h.StorageWrite(h.mem.Data(), uint32(args[0].I32()), uint32(args[1].I32()), uint32(args[2].I32()), uint32(args[3].I32()), uint64(args[4].I64()), h.NowNanos, h.ExecutorID)
			if err != nil {
				return fail(err)
			}
			return []wasmer.Value{wasmer.NewI32(boolI32(existed))}, nil
		})

	storageRemove := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I64)), wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32))),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			existed, err := h.StorageRemove(h.mem.Data(), uint32(args[0].I32()), uint32(args[1].I32()), uint64(args[2].I64()), h.NowNanos)
			if err != nil {
				return fail(err)
			}
			return []wasmer.Value{wasmer.NewI32(boolI32(existed))}, nil
		})

	logFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32)), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := h.Log(h.mem.Data(), uint32(args[0].I32()), uint32(args[1].I32())); err != nil {
				return fail(err)
			}
			return []wasmer.Value{}, nil
		})

	emit := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32)), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := h.Emit(h.mem.Data(), uint32(args[0].I32()), uint32(args[1].I32()), uint32(args[2].I32()), uint32(args[3].I32())); err != nil {
				return fail(err)
			}
			return []wasmer.Value{}, nil
		})

	generateUUID := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I64)), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := h.GenerateUUID(uint64(args[0].I64())); err != nil {
				return fail(err)
			}
			return []wasmer.Value{}, nil
		})

	timeNow := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I64)), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := h.TimeNow(uint64(args[0].I64())); err != nil {
				return fail(err)
			}
			return []wasmer.Value{}, nil
		})

	randomBytes := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32)), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := h.RandomBytes(h.mem.Data(), uint32(args[0].I32()), uint32(args[1].I32())); err != nil {
				return fail(err)
			}
			return []wasmer.Value{}, nil
		})

	panicFn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32)), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			err := h.Panic(h.mem.Data(), uint32(args[0].I32()), uint32(args[1].I32()), uint32(args[2].I32()), uint32(args[3].I32()))
			return fail(err)
		})

	imports.Register("env", map[string]wasmer.IntoExtern{
		"input":          input,
		"register_len":   registerLen,
		"read_register":  readRegister,
		"value_return":   valueReturn,
		"context_id":     contextID,
		"executor_id":    executorID,
		"storage_read":   storageRead,
		"storage_write":  storageWrite,
		"storage_remove": storageRemove,
		"log":            logFn,
		"emit":           emit,
		"generate_uuid":  generateUUID,
		"time_now":       timeNow,
		"random_bytes":   randomBytes,
		"panic":          panicFn,
	})

	return imports
}

func boolI32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
