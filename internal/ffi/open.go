//go:build darwin || linux

package ffi

import (
	"fmt"

	"github.com/ebitengine/purego"

	"github.com/objclass/goclass"
)

// Open loads the native class runtime from path and resolves every symbol the
// bridge needs. A missing symbol is an error; nothing is loaded lazily.
func Open(path string) (*Library, error) {
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	lib := &Library{handle: h}
	for _, sym := range lib.symbols() {
		ptr, err := purego.Dlsym(h, sym.name)
		if err != nil {
			_ = purego.Dlclose(h)
			return nil, fmt.Errorf("resolving %s in %s: %w", sym.name, path, err)
		}
		purego.RegisterFunc(sym.fn, ptr)
	}
	return lib, nil
}

// Close unloads a library returned by Open. Libraries built in Go have
// nothing to release.
func (l *Library) Close() error {
	if l.handle == 0 {
		return nil
	}
	err := purego.Dlclose(l.handle)
	l.handle = 0
	return err
}

// Export registers every method of class with the native runtime. Each
// method gets a C callback of the form
//
//	int32_t (*)(void *hctx, void *in, void *out)
//
// that runs Runtime.Handle. Callbacks are never released, so export a class
// once per process.
func (r *Runtime) Export(class *goclass.Class) error {
	for _, name := range class.Methods() {
		method := name
		cb := purego.NewCallback(func(hctx, in, out uintptr) uintptr {
			return uintptr(int(r.Handle(class, method, hctx, in, out)))
		})
		flags, _ := class.Flags(method)
		if err := check("register_method", r.lib.RegisterMethod(class.Name(), method, int32(flags), cb)); err != nil {
			return fmt.Errorf("exporting %s.%s: %w", class.Name(), method, err)
		}
		r.logger.Info().Str("class", class.Name()).Str("method", method).Stringer("flags", flags).Msg("exported method")
	}
	return nil
}
