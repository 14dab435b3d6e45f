// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WazeroRuntime loads plugin components through wazero. Loaded modules are
// cached by key so a plugin invoked repeatedly within a process lifetime is
// compiled once. The guest/host wire convention below (an `alloc` export
// plus a packed ptr<<32|len return value) is one reasonable choice among
// several a real component-model ABI could make; the component-model
// internals themselves are out of scope (spec.md §4.F Non-goals).
type WazeroRuntime struct {
	runtime wazero.Runtime

	mu      sync.Mutex
	modules map[string]wazero.CompiledModule
}

// NewWazeroRuntime constructs a Runtime backed by a single shared wazero
// runtime instance.
func NewWazeroRuntime(ctx context.Context) (*WazeroRuntime, error) {
	rt := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return nil, fmt.Errorf("plugin: instantiating WASI: %w", err)
	}
	return &WazeroRuntime{runtime: rt, modules: make(map[string]wazero.CompiledModule)}, nil
}

// Close releases every compiled module and the underlying wazero runtime.
func (w *WazeroRuntime) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}

// LoadComponent compiles (once, cached by key) and instantiates the given
// WASM bytes, returning a callable Instance.
func (w *WazeroRuntime) LoadComponent(ctx context.Context, key string, wasmBytes []byte) (Instance, error) {
	w.mu.Lock()
	compiled, ok := w.modules[key]
	w.mu.Unlock()

	if !ok {
		var err error
		compiled, err = w.runtime.CompileModule(ctx, wasmBytes)
		if err != nil {
			return nil, fmt.Errorf("plugin: compiling module %q: %w", key, err)
		}
		w.mu.Lock()
		w.modules[key] = compiled
		w.mu.Unlock()
	}

	// Anonymous, so the same compiled module can be instantiated on every load.
	mod, err := w.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, fmt.Errorf("plugin: instantiating module %q: %w", key, err)
	}

	return &wazeroInstance{mod: mod}, nil
}

type wazeroInstance struct {
	mod api.Module
}

// Call writes payload into the guest's linear memory via its `alloc`
// export, invokes the named export with (ptr, len), and reads the result
// back out of a packed ptr<<32|len return value.
func (i *wazeroInstance) Call(ctx context.Context, export string, payload []byte) ([]byte, error) {
	fn := i.mod.ExportedFunction(export)
	if fn == nil {
		return nil, fmt.Errorf("export %q not found", export)
	}
	alloc := i.mod.ExportedFunction("alloc")
	if alloc == nil {
		return nil, fmt.Errorf("guest module has no alloc export")
	}

	results, err := alloc.Call(ctx, uint64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("calling alloc: %w", err)
	}
	ptr := uint32(results[0])

	mem := i.mod.Memory()
	if !mem.Write(ptr, payload) {
		return nil, fmt.Errorf("writing payload to guest memory out of range")
	}

	results, err = fn.Call(ctx, uint64(ptr), uint64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("calling %q: %w", export, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%q returned no result", export)
	}

	packed := results[0]
	resultPtr := uint32(packed >> 32)
	resultLen := uint32(packed & 0xFFFFFFFF)

	out, ok := mem.Read(resultPtr, resultLen)
	if !ok {
		return nil, fmt.Errorf("reading result from guest memory out of range")
	}
	// Copy out of guest memory: the backing buffer is invalidated the
	// moment the guest reuses it.
	buf := make([]byte, len(out))
	copy(buf, out)
	return buf, nil
}
