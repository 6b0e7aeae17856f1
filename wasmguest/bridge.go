// Package wasmguest is the Guest Bridge: sole custodian of a compiled guest
// WebAssembly module and its live instances, and the only code in this
// module allowed to read or write a guest instance's linear memory.
//
// It implements a length-prefixed message-passing ABI: every transferred
// message sits at an offset p into the guest's linear memory with a 4-byte
// little-endian length prefix (including those 4 bytes) at p-4, and every
// payload crossing the boundary is wrapped in a Request{data} /
// Response{data|error} envelope (see envelope.go).
package wasmguest

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// hostModuleName is the import namespace the guest uses for host-provided
// functions, matching the reference resolver's wasmtime linker definitions
// ("wasm_msg").
const hostModuleName = "wasm_msg"

// Required guest exports, named per the reference resolver's wasmtime
// bindings (wasm_msg_alloc, wasm_msg_free, wasm_msg_guest_*).
const (
	exportAlloc        = "wasm_msg_alloc"
	exportFree         = "wasm_msg_free"
	exportSetState     = "wasm_msg_guest_set_resolver_state"
	exportResolve      = "wasm_msg_guest_resolve_with_sticky"
	exportFlushLogs    = "wasm_msg_guest_flush_logs"
	importCurrentTime  = "wasm_msg_host_current_time"
	importLogResolve   = "wasm_msg_host_log_resolve"
	importLogAssign    = "wasm_msg_host_log_assign"
	importThreadID     = "wasm_msg_host_current_thread_id"
)

// Module is a compiled, immutable guest module. It is reusable across many
// instances.
type Module struct {
	runtime         wazero.Runtime
	compiled        wazero.CompiledModule
	instanceCounter uint64
}

// Compile loads and compiles a guest module from wasmBytes, registering the
// host-callable functions the guest imports. The returned Module should be
// closed exactly once, after every Instance it created has been closed.
func Compile(ctx context.Context, wasmBytes []byte) (*Module, error) {
	runtime := wazero.NewRuntime(ctx)

	if err := registerHostFunctions(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("wasmguest: register host functions: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("wasmguest: compile module: %w", err)
	}

	return &Module{runtime: runtime, compiled: compiled}, nil
}

// Close releases the runtime and every resource derived from it, including
// any instances that were not explicitly closed. Call it once, after the
// Module is no longer needed.
func (m *Module) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

// NewInstance creates a fresh live guest instance from the compiled module.
// Each instance has its own linear memory and is owned exclusively by its
// caller (the Supervisor): discard it on trap, never mutate it in place.
func (m *Module) NewInstance(ctx context.Context) (*Instance, error) {
	name := fmt.Sprintf("guest-%d", atomic.AddUint64(&m.instanceCounter, 1))
	cfg := wazero.NewModuleConfig().WithName(name)

	mod, err := m.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("wasmguest: instantiate module: %w", err)
	}

	inst := &Instance{
		module:    mod,
		alloc:     mod.ExportedFunction(exportAlloc),
		free:      mod.ExportedFunction(exportFree),
		setState:  mod.ExportedFunction(exportSetState),
		resolve:   mod.ExportedFunction(exportResolve),
		flushLogs: mod.ExportedFunction(exportFlushLogs),
	}
	if inst.alloc == nil || inst.free == nil || inst.setState == nil || inst.resolve == nil || inst.flushLogs == nil {
		_ = mod.Close(ctx)
		return nil, fmt.Errorf("wasmguest: guest module %q is missing one or more required exports", name)
	}
	return inst, nil
}

// Instance is one live guest execution context. It is not safe for
// concurrent use — the Supervisor is responsible for serializing all calls
// into it.
type Instance struct {
	module    api.Module
	alloc     api.Function
	free      api.Function
	setState  api.Function
	resolve   api.Function
	flushLogs api.Function
}

// Close tears down this instance's linear memory and function table. It does
// not affect the compiled Module or any other instance.
func (i *Instance) Close(ctx context.Context) error {
	return i.module.Close(ctx)
}

// SetState pushes a new opaque state payload into the guest via
// wasm_msg_guest_set_resolver_state.
func (i *Instance) SetState(ctx context.Context, stateBytes []byte) error {
	_, err := i.call(ctx, "set_state", i.setState, stateBytes)
	return err
}

// Resolve asks the guest to resolve a structured evaluation request via
// wasm_msg_guest_resolve_with_sticky, returning the guest's structured
// response bytes unchanged (the host does not interpret them).
func (i *Instance) Resolve(ctx context.Context, request []byte) ([]byte, error) {
	return i.call(ctx, "resolve", i.resolve, request)
}

// FlushLogs asks the guest to hand back its buffered log bytes via
// wasm_msg_guest_flush_logs. The returned slice may be empty.
func (i *Instance) FlushLogs(ctx context.Context) ([]byte, error) {
	return i.call(ctx, "flush_logs", i.flushLogs, nil)
}

// call implements one full round-trip for a guest entry point: transfer the
// request into linear memory, invoke the entry point, consume and decode the
// response. A wazero call error (the guest trapped) or a malformed envelope
// become errors the Supervisor will reload on; a guest-reported
// Response.error is returned unchanged.
func (i *Instance) call(ctx context.Context, op string, fn api.Function, payload []byte) ([]byte, error) {
	reqPtr, err := i.transfer(ctx, payload)
	if err != nil {
		return nil, &TrapError{Operation: op, Err: err}
	}

	results, err := fn.Call(ctx, uint64(reqPtr))
	if err != nil {
		return nil, &TrapError{Operation: op, Err: err}
	}
	resPtr := uint32(results[0])

	raw, err := i.consume(ctx, resPtr)
	if err != nil {
		return nil, &TrapError{Operation: op, Err: err}
	}

	decoded, err := decodeResponse(raw)
	if err != nil {
		return nil, &EnvelopeError{Operation: op, Err: err}
	}
	if decoded.isError {
		return nil, &GuestError{Operation: op, Message: decoded.errMsg}
	}
	return decoded.data, nil
}

// transfer allocates space in the instance's linear memory for payload
// wrapped in a Request envelope, writes it, and returns its offset.
func (i *Instance) transfer(ctx context.Context, payload []byte) (uint32, error) {
	req := encodeRequest(payload)

	results, err := i.alloc.Call(ctx, uint64(len(req)))
	if err != nil {
		return 0, fmt.Errorf("alloc: %w", err)
	}
	ptr := uint32(results[0])

	if !i.module.Memory().Write(ptr, req) {
		return 0, fmt.Errorf("write %d bytes at offset %d: out of bounds", len(req), ptr)
	}
	return ptr, nil
}

// consume reads the length-prefixed block at addr, makes a defensive copy
// (the bytes returned by api.Memory.Read may alias live linear memory), frees
// the block on the guest side, and returns the copy.
func (i *Instance) consume(ctx context.Context, addr uint32) ([]byte, error) {
	mem := i.module.Memory()

	prefix, ok := mem.Read(addr-4, 4)
	if !ok {
		return nil, fmt.Errorf("read length prefix at offset %d: out of bounds", addr-4)
	}
	total := binary.LittleEndian.Uint32(prefix)
	if total < 4 {
		return nil, fmt.Errorf("invalid block length %d at offset %d", total, addr)
	}
	length := total - 4

	view, ok := mem.Read(addr, length)
	if !ok {
		return nil, fmt.Errorf("read %d bytes at offset %d: out of bounds", length, addr)
	}
	data := make([]byte, len(view))
	copy(data, view)

	if _, err := i.free.Call(ctx, uint64(addr)); err != nil {
		return nil, fmt.Errorf("free offset %d: %w", addr, err)
	}
	return data, nil
}

// registerHostFunctions instantiates the "wasm_msg" host module that every
// guest instance created from this runtime imports from. current_time must
// return a fresh timestamp on every call; it must never cache.
func registerHostFunctions(ctx context.Context, runtime wazero.Runtime) error {
	builder := runtime.NewHostModuleBuilder(hostModuleName)

	builder.NewFunctionBuilder().
		WithFunc(hostCurrentTime).
		Export(importCurrentTime)

	builder.NewFunctionBuilder().
		WithFunc(hostLogAck).
		Export(importLogResolve)

	builder.NewFunctionBuilder().
		WithFunc(hostLogAck).
		Export(importLogAssign)

	builder.NewFunctionBuilder().
		WithFunc(hostCurrentThreadID).
		Export(importThreadID)

	_, err := builder.Instantiate(ctx)
	return err
}

// hostCurrentTime implements wasm_msg_host_current_time: it must return a
// fresh wall-clock timestamp on every call, serialized as a
// google.protobuf.Timestamp and wrapped in a Response envelope.
func hostCurrentTime(ctx context.Context, mod api.Module, _ uint32) uint32 {
	data, err := proto.Marshal(timestamppb.Now())
	if err != nil {
		return writeHostResponse(ctx, mod, encodeResponseError(err.Error()))
	}
	return writeHostResponse(ctx, mod, encodeResponseData(data))
}

// hostLogAck implements the optional wasm_msg_host_log_resolve and
// wasm_msg_host_log_assign hooks. Both accept an opaque record the host does
// not interpret and reply with an empty acknowledgement; a host that wants
// to observe these events (out of scope for this module) would decode the
// incoming offset the same way Instance.consume does before acknowledging.
func hostLogAck(ctx context.Context, mod api.Module, _ uint32) uint32 {
	return writeHostResponse(ctx, mod, encodeResponseData(nil))
}

// hostCurrentThreadID implements wasm_msg_host_current_thread_id. It returns
// a raw i32, not an enveloped Response — this host runs the Supervisor's
// guarantee that no two calls into a given instance overlap, so a single
// stable thread id (0) is always correct.
func hostCurrentThreadID(context.Context, api.Module) uint32 {
	return 0
}

// writeHostResponse allocates space for payload in mod's own linear memory
// (via its exported alloc function) and writes payload there, returning the
// offset, or 0 if the allocation or write failed. 0 is never a valid
// payload offset because alloc always reserves its length prefix first.
func writeHostResponse(ctx context.Context, mod api.Module, payload []byte) uint32 {
	alloc := mod.ExportedFunction(exportAlloc)
	if alloc == nil {
		return 0
	}
	results, err := alloc.Call(ctx, uint64(len(payload)))
	if err != nil {
		return 0
	}
	ptr := uint32(results[0])
	if !mod.Memory().Write(ptr, payload) {
		return 0
	}
	return ptr
}
