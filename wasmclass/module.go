package wasmclass

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/objclass/goclass"
	"github.com/objclass/goclass/types"
)

// Module is a compiled guest method.
type Module struct {
	host     *Host
	compiled wazero.CompiledModule
	export   string
}

// Method adapts the guest to a goclass.Method. Every call runs in a fresh
// guest instance, so nothing the guest keeps in memory or globals survives
// an invocation.
func (m *Module) Method() goclass.Method {
	return m.call
}

// Register adds the guest to c under name.
func (m *Module) Register(c *goclass.Class, name string, flags types.MethodFlags) error {
	return c.Register(name, flags, m.Method())
}

func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// invocation is the host side state of one guest call.
type invocation struct {
	cls     goclass.Context
	buffers []goclass.BufferList
	host    *Host
}

type invocationKey struct{}

func (m *Module) call(cls goclass.Context) (int, error) {
	inv := &invocation{
		cls:     cls,
		buffers: []goclass.BufferList{cls.Input(), cls.Output()},
		host:    m.host,
	}
	ctx := context.WithValue(context.Background(), invocationKey{}, inv)

	// anonymous so concurrent calls can each have an instance
	mod, err := m.host.runtime.InstantiateModule(ctx, m.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return 0, fmt.Errorf("instantiating guest: %w", err)
	}
	defer mod.Close(ctx)

	results, err := mod.ExportedFunction(m.export).Call(ctx)
	if err != nil {
		return 0, fmt.Errorf("guest %s: %w", m.export, err)
	}
	return int(api.DecodeI32(results[0])), nil
}

func invocationFrom(ctx context.Context) *invocation {
	return ctx.Value(invocationKey{}).(*invocation)
}

func (inv *invocation) buffer(id int32) (goclass.BufferList, bool) {
	if id < 0 || int(id) >= len(inv.buffers) {
		return nil, false
	}
	return inv.buffers[id], true
}

func (inv *invocation) add(bl goclass.BufferList) int32 {
	inv.buffers = append(inv.buffers, bl)
	return int32(len(inv.buffers) - 1)
}
