package ffi

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/objclass/goclass"
	"github.com/objclass/goclass/types"
)

// Runtime implements goclass.Native on top of a Library. Native pointers are
// never shown to class code: each entry from the daemon opens a frame that
// maps the handles minted for that call to the pointers behind them. The
// frame is dropped when the call returns, which makes every handle of the
// call stale.
type Runtime struct {
	lib        *Library
	logger     zerolog.Logger
	maxHandles int

	gen    atomic.Uint64
	frames sync.Map // generation -> *frame
}

var _ goclass.Native = (*Runtime)(nil)

type Option func(*Runtime)

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// WithMaxHandles bounds the handles one call may mint.
func WithMaxHandles(n int) Option {
	return func(r *Runtime) {
		r.maxHandles = n
	}
}

func NewRuntime(lib *Library, opts ...Option) *Runtime {
	r := &Runtime{
		lib:        lib,
		logger:     zerolog.Nop(),
		maxHandles: types.DefaultNativeConfig().MaxHandles,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type frame struct {
	arena *types.Arena

	mu   sync.Mutex
	ptrs map[types.Handle]uintptr
}

func (r *Runtime) enter() *frame {
	f := &frame{
		arena: types.NewArena(r.gen.Add(1), r.maxHandles),
		ptrs:  make(map[types.Handle]uintptr),
	}
	r.frames.Store(f.arena.Generation(), f)
	return f
}

func (r *Runtime) leave(f *frame) {
	f.arena.Close()
	r.frames.Delete(f.arena.Generation())
}

func (f *frame) mint(kind types.Kind, ptr uintptr) (types.Handle, error) {
	h, err := f.arena.Mint(kind)
	if err != nil {
		return types.Handle{}, err
	}
	f.mu.Lock()
	f.ptrs[h] = ptr
	f.mu.Unlock()
	return h, nil
}

// resolve returns the frame that minted h and the native pointer behind it.
func (r *Runtime) resolve(op string, h types.Handle, kind types.Kind) (*frame, uintptr, error) {
	v, ok := r.frames.Load(h.Generation())
	if !ok {
		return nil, 0, &types.HandleError{Op: op, Handle: h, Stale: true}
	}
	f := v.(*frame)
	if !f.arena.Owns(h) {
		return nil, 0, &types.HandleError{Op: op, Handle: h, Stale: true}
	}
	if h.Kind() != kind {
		return nil, 0, &types.HandleError{Op: op, Handle: h}
	}
	f.mu.Lock()
	ptr := f.ptrs[h]
	f.mu.Unlock()
	return f, ptr, nil
}

// Handle is the entry point for one call from the daemon. in may be 0 for
// methods called without input, in which case the input is empty.
func (r *Runtime) Handle(class *goclass.Class, method string, hctx, in, out uintptr) types.Status {
	f := r.enter()
	defer r.leave(f)

	hc, err := f.mint(types.KindContext, hctx)
	if err != nil {
		return r.entryFailed(class, method, err)
	}
	ho, err := f.mint(types.KindBuffer, out)
	if err != nil {
		return r.entryFailed(class, method, err)
	}
	if in == 0 {
		return class.DispatchRaw(r, method, hc, nil, ho)
	}
	hi, err := f.mint(types.KindBuffer, in)
	if err != nil {
		return r.entryFailed(class, method, err)
	}
	return class.Dispatch(r, method, hc, hi, ho)
}

// HandleRaw is the entry point for daemons that pass the input bytes
// directly. input must stay valid until HandleRaw returns.
func (r *Runtime) HandleRaw(class *goclass.Class, method string, hctx uintptr, input *byte, n int32, out uintptr) types.Status {
	f := r.enter()
	defer r.leave(f)

	hc, err := f.mint(types.KindContext, hctx)
	if err != nil {
		return r.entryFailed(class, method, err)
	}
	ho, err := f.mint(types.KindBuffer, out)
	if err != nil {
		return r.entryFailed(class, method, err)
	}
	var data []byte
	if input != nil && n > 0 {
		data = unsafe.Slice(input, n)
	}
	return class.DispatchRaw(r, method, hc, data, ho)
}

func (r *Runtime) entryFailed(class *goclass.Class, method string, err error) types.Status {
	r.logger.Error().Err(err).Str("class", class.Name()).Str("method", method).Msg("cannot enter call")
	return types.ToStatus(err)
}

func (r *Runtime) Log(level int, msg string) {
	r.lib.Log(int32(level), msg)
}

func (r *Runtime) Remove(hctx types.Handle) error {
	_, ptr, err := r.resolve("remove", hctx, types.KindContext)
	if err != nil {
		return err
	}
	return check("remove", r.lib.Remove(ptr))
}

func (r *Runtime) Create(hctx types.Handle, exclusive bool) error {
	_, ptr, err := r.resolve("create", hctx, types.KindContext)
	if err != nil {
		return err
	}
	return check("create", r.lib.Create(ptr, exclusive))
}

func (r *Runtime) Read(hctx types.Handle, offset, length int) (types.Handle, error) {
	f, ptr, err := r.resolve("read", hctx, types.KindContext)
	if err != nil {
		return types.Handle{}, err
	}
	off, err := int32Arg("read", offset)
	if err != nil {
		return types.Handle{}, err
	}
	n, err := int32Arg("read", length)
	if err != nil {
		return types.Handle{}, err
	}
	var bl uintptr
	if err := check("read", r.lib.Read(ptr, off, n, &bl)); err != nil {
		return types.Handle{}, err
	}
	h, err := f.mint(types.KindBuffer, bl)
	if err != nil {
		r.logger.Warn().Err(err).Msg("read: cannot mint buffer handle")
		return types.Handle{}, &types.NativeError{Op: "read", Code: types.StatusFromErrno(unix.EMFILE)}
	}
	return h, nil
}

func (r *Runtime) Write(hctx types.Handle, offset, length int, bl types.Handle) error {
	_, ptr, err := r.resolve("write", hctx, types.KindContext)
	if err != nil {
		return err
	}
	_, src, err := r.resolve("write", bl, types.KindBuffer)
	if err != nil {
		return err
	}
	off, err := int32Arg("write", offset)
	if err != nil {
		return err
	}
	n, err := int32Arg("write", length)
	if err != nil {
		return err
	}
	return check("write", r.lib.Write(ptr, off, n, src))
}

func (r *Runtime) BufferBytes(bl types.Handle) ([]byte, error) {
	_, ptr, err := r.resolve("bl_get_bytes", bl, types.KindBuffer)
	if err != nil {
		return nil, err
	}
	n := r.lib.BufferLength(ptr)
	if err := check("bl_get_bytes", n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if n == 0 {
		return out, nil
	}
	copied := r.lib.BufferCopy(ptr, &out[0], n)
	if err := check("bl_get_bytes", copied); err != nil {
		return nil, err
	}
	if copied > n {
		return nil, errorf("bl_get_bytes", unix.EIO, "native copied %d bytes into %d", copied, n)
	}
	return out[:copied], nil
}

func (r *Runtime) BufferLength(bl types.Handle) (int, error) {
	_, ptr, err := r.resolve("bl_length", bl, types.KindBuffer)
	if err != nil {
		return 0, err
	}
	n := r.lib.BufferLength(ptr)
	if err := check("bl_length", n); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *Runtime) BufferAppend(dst, src types.Handle) error {
	_, d, err := r.resolve("bl_append", dst, types.KindBuffer)
	if err != nil {
		return err
	}
	_, s, err := r.resolve("bl_append", src, types.KindBuffer)
	if err != nil {
		return err
	}
	return check("bl_append", r.lib.BufferAppend(d, s))
}

func (r *Runtime) BufferAppendBytes(dst types.Handle, data []byte) error {
	_, d, err := r.resolve("bl_append_bytes", dst, types.KindBuffer)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	n, err := int32Arg("bl_append_bytes", len(data))
	if err != nil {
		return err
	}
	return check("bl_append_bytes", r.lib.BufferAppendBytes(d, &data[0], n))
}

func (r *Runtime) BufferClear(bl types.Handle) error {
	_, ptr, err := r.resolve("bl_clear", bl, types.KindBuffer)
	if err != nil {
		return err
	}
	return check("bl_clear", r.lib.BufferClear(ptr))
}
