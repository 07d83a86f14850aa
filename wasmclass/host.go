// Package wasmclass runs class methods compiled to WebAssembly. Guests import
// the host module "cls" and export one function per method with the
// signature () -> i32; the result is the method's status.
//
// A guest never sees a Handle or a pointer into the host. Within a call it
// names buffers by small ids: 0 is the input, 1 the output and every
// successful read adds the next id.
package wasmclass

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// HostModuleName is the import module guests link against.
const HostModuleName = "cls"

// Host owns a wazero runtime with the cls host module instantiated.
type Host struct {
	runtime wazero.Runtime
	logger  zerolog.Logger
}

type hostOptions struct {
	logger      zerolog.Logger
	memoryPages uint32
}

type HostOption func(*hostOptions)

func WithLogger(logger zerolog.Logger) HostOption {
	return func(o *hostOptions) {
		o.logger = logger
	}
}

// WithMemoryLimitPages bounds guest memory, in 64KiB pages.
func WithMemoryLimitPages(pages uint32) HostOption {
	return func(o *hostOptions) {
		o.memoryPages = pages
	}
}

func NewHost(ctx context.Context, opts ...HostOption) (*Host, error) {
	o := hostOptions{logger: zerolog.Nop(), memoryPages: 256}
	for _, opt := range opts {
		opt(&o)
	}

	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithMemoryLimitPages(o.memoryPages))
	h := &Host{runtime: r, logger: o.logger}
	if _, err := h.hostModule().Instantiate(ctx); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("instantiating host module: %w", err)
	}
	return h, nil
}

func (h *Host) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

// Compile validates a guest and returns the method exported under export.
func (h *Host) Compile(ctx context.Context, wasm []byte, export string) (*Module, error) {
	compiled, err := h.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("compiling guest: %w", err)
	}
	def, ok := compiled.ExportedFunctions()[export]
	if !ok {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("guest does not export %q", export)
	}
	if len(def.ParamTypes()) != 0 || len(def.ResultTypes()) != 1 || def.ResultTypes()[0] != api.ValueTypeI32 {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("guest export %q must have type () -> i32", export)
	}
	return &Module{host: h, compiled: compiled, export: export}, nil
}

func (h *Host) hostModule() wazero.HostModuleBuilder {
	b := h.runtime.NewHostModuleBuilder(HostModuleName)
	funcs := []struct {
		name string
		fn   any
	}{
		{"input", hostInput},
		{"output", hostOutput},
		{"bl_length", hostBufferLength},
		{"bl_read", hostBufferRead},
		{"bl_append", hostBufferAppend},
		{"bl_append_bytes", hostBufferAppendBytes},
		{"bl_clear", hostBufferClear},
		{"log", hostLog},
		{"create", hostCreate},
		{"remove", hostRemove},
		{"read", hostRead},
		{"write", hostWrite},
	}
	for _, f := range funcs {
		b.NewFunctionBuilder().WithFunc(f.fn).Export(f.name)
	}
	return b
}
