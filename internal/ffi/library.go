// Package ffi binds the bridge to the storage daemon's native class runtime
// without cgo. The daemon side is a shared object exporting the cls_go_*
// symbols; every pointer it hands out (context, buffer) is opaque to Go and
// only ever reaches the bridge as a types.Handle.
package ffi

import (
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/objclass/goclass/types"
)

// Library holds the native entry points. Each field mirrors one C symbol of
// the same name with a cls_go_ prefix; all of them return a negative errno on
// failure. Open fills them from a shared object, tests fill them with Go
// functions.
type Library struct {
	Log               func(level int32, msg string)
	Remove            func(hctx uintptr) int32
	Create            func(hctx uintptr, exclusive bool) int32
	Read              func(hctx uintptr, offset, length int32, out *uintptr) int32
	Write             func(hctx uintptr, offset, length int32, bl uintptr) int32
	BufferLength      func(bl uintptr) int32
	BufferCopy        func(bl uintptr, dst *byte, capacity int32) int32
	BufferAppend      func(dst, src uintptr) int32
	BufferAppendBytes func(dst uintptr, data *byte, n int32) int32
	BufferClear       func(bl uintptr) int32
	RegisterMethod    func(class, method string, flags int32, fn uintptr) int32

	handle uintptr
}

// symbols maps C symbol names to the fields they are loaded into.
func (l *Library) symbols() []struct {
	name string
	fn   any
} {
	return []struct {
		name string
		fn   any
	}{
		{"cls_go_log", &l.Log},
		{"cls_go_remove", &l.Remove},
		{"cls_go_create", &l.Create},
		{"cls_go_read", &l.Read},
		{"cls_go_write", &l.Write},
		{"cls_go_bl_length", &l.BufferLength},
		{"cls_go_bl_copy", &l.BufferCopy},
		{"cls_go_bl_append", &l.BufferAppend},
		{"cls_go_bl_append_bytes", &l.BufferAppendBytes},
		{"cls_go_bl_clear", &l.BufferClear},
		{"cls_go_register_method", &l.RegisterMethod},
	}
}

// DefaultLibraryName is the file name of the native class runtime on this OS.
func DefaultLibraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libcls_go.dylib"
	default:
		return "libcls_go.so"
	}
}

// check turns a native return code into an error.
func check(op string, rc int32) error {
	if rc < 0 {
		return &types.NativeError{Op: op, Code: types.Status(rc)}
	}
	return nil
}

// int32Arg narrows an offset or length for the C ABI.
func int32Arg(op string, v int) (int32, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, &types.NativeError{Op: op, Code: types.StatusFromErrno(unix.EINVAL)}
	}
	return int32(v), nil
}

func errorf(op string, errno unix.Errno, format string, args ...any) error {
	return fmt.Errorf("%s: %s: %w", op, fmt.Sprintf(format, args...), &types.NativeError{Op: op, Code: types.StatusFromErrno(errno)})
}
