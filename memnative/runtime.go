// Package memnative is an in-memory stand-in for the storage daemon's native
// runtime. It mints invocation-scoped handles, owns the buffers they name,
// stages object mutations per invocation and commits them to a cometbft-db
// database when the method succeeds.
//
// It is meant for tests and for the clsrun harness. It implements
// goclass.Native.
package memnative

import (
	"fmt"
	"sync"
	"sync/atomic"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/objclass/goclass"
	"github.com/objclass/goclass/types"
)

// Runtime is the in-memory native runtime.
type Runtime struct {
	cfg    types.NativeConfig
	db     dbm.DB
	logger zerolog.Logger

	// generation of the latest invocation
	gen atomic.Uint64

	mu    sync.Mutex
	calls map[uint64]*invocation

	// one lock per object; invocations on the same object run one at a time
	objectLocks sync.Map

	sink logSink

	// native is what classes see; r unless an interceptor wraps it
	native goclass.Native
}

var _ goclass.Native = (*Runtime)(nil)

// Option configures a Runtime.
type Option func(*Runtime)

// WithDB stores objects in db instead of a fresh MemDB.
func WithDB(db dbm.DB) Option {
	return func(r *Runtime) {
		r.db = db
	}
}

// WithLogger mirrors native log lines and runtime events to logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// WithInterceptor wraps the native surface handed to classes, for tracing
// or fault injection. Handles still resolve against the Runtime.
func WithInterceptor(wrap func(goclass.Native) goclass.Native) Option {
	return func(r *Runtime) {
		r.native = wrap(r)
	}
}

// New creates a runtime. The zero value of cfg is not valid; start from
// types.DefaultNativeConfig.
func New(cfg types.NativeConfig, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runtime{
		cfg:    cfg,
		logger: zerolog.Nop(),
		calls:  make(map[uint64]*invocation),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.db == nil {
		r.db = dbm.NewMemDB()
	}
	if r.native == nil {
		r.native = r
	}
	r.sink = logSink{backlog: cfg.LogBacklog, logger: r.logger}
	return r, nil
}

// Close releases the database.
func (r *Runtime) Close() error {
	return r.db.Close()
}

// Request is one method call on one object.
type Request struct {
	Object string
	Method string
	Input  []byte
	// Raw hands the input to the class as a raw byte view (DispatchRaw)
	// instead of a buffer handle.
	Raw bool
}

// Result is what the caller of a method call gets back.
type Result struct {
	Status types.Status
	Output []byte
}

// Exec runs one method invocation of class against an object. Staged object
// mutations are committed only if the status is non-negative. The returned
// error reports failures of the runtime itself, never of the method.
func (r *Runtime) Exec(class *goclass.Class, req Request) (Result, error) {
	unlock := r.lockObject(req.Object)
	defer unlock()

	inv, err := r.begin(req)
	if err != nil {
		return Result{}, err
	}
	defer r.end(inv)

	var status types.Status
	if req.Raw {
		status = class.DispatchRaw(r.native, req.Method, inv.hctx, cloneBytes(req.Input), inv.out)
	} else {
		status = class.Dispatch(r.native, req.Method, inv.hctx, inv.in, inv.out)
	}

	inv.mu.Lock()
	res := Result{Status: status, Output: cloneBytes(inv.buffers[inv.out].data)}
	inv.mu.Unlock()

	if !status.OK() {
		r.logger.Debug().Str("object", req.Object).Str("method", req.Method).
			Int32("status", int32(status)).Msg("discarding staged changes")
		return res, nil
	}
	if err := r.commit(inv); err != nil {
		return res, fmt.Errorf("committing %q: %w", req.Object, err)
	}
	return res, nil
}

func (r *Runtime) lockObject(oid string) func() {
	m, _ := r.objectLocks.LoadOrStore(oid, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// begin opens the arena of a new invocation and mints its handles.
func (r *Runtime) begin(req Request) (*invocation, error) {
	gen := r.gen.Add(1)
	inv := &invocation{
		arena:   types.NewArena(gen, r.cfg.MaxHandles),
		oid:     req.Object,
		buffers: make(map[types.Handle]*buffer),
	}

	var err error
	if inv.hctx, err = inv.arena.Mint(types.KindContext); err != nil {
		return nil, err
	}
	if !req.Raw {
		if inv.in, err = inv.newBuffer(cloneBytes(req.Input)); err != nil {
			return nil, err
		}
	}
	if inv.out, err = inv.newBuffer(nil); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.calls[gen] = inv
	r.mu.Unlock()
	return inv, nil
}

// end invalidates every handle of the invocation.
func (r *Runtime) end(inv *invocation) {
	inv.arena.Close()
	r.mu.Lock()
	delete(r.calls, inv.arena.Generation())
	r.mu.Unlock()
}

// invocation is the native state of one method call.
type invocation struct {
	mu      sync.Mutex
	arena   *types.Arena
	oid     string
	hctx    types.Handle
	in      types.Handle
	out     types.Handle
	buffers map[types.Handle]*buffer
	txn     txn
}

type buffer struct {
	data []byte
}

func (inv *invocation) newBuffer(data []byte) (types.Handle, error) {
	h, err := inv.arena.Mint(types.KindBuffer)
	if err != nil {
		return types.Handle{}, err
	}
	inv.buffers[h] = &buffer{data: data}
	return h, nil
}

// lookup finds the live invocation that minted h.
func (r *Runtime) lookup(op string, h types.Handle) (*invocation, error) {
	r.mu.Lock()
	inv := r.calls[h.Generation()]
	r.mu.Unlock()
	if inv == nil || !inv.arena.Owns(h) {
		return nil, &types.HandleError{Op: op, Handle: h, Stale: true}
	}
	return inv, nil
}

func (r *Runtime) context(op string, h types.Handle) (*invocation, error) {
	inv, err := r.lookup(op, h)
	if err != nil {
		return nil, err
	}
	if h.Kind() != types.KindContext {
		return nil, &types.HandleError{Op: op, Handle: h}
	}
	return inv, nil
}

// buffer must be called with inv.mu held.
func (inv *invocation) buffer(op string, h types.Handle) (*buffer, error) {
	if h.Generation() != inv.arena.Generation() || h.Kind() != types.KindBuffer {
		return nil, &types.HandleError{Op: op, Handle: h}
	}
	b, ok := inv.buffers[h]
	if !ok {
		return nil, &types.HandleError{Op: op, Handle: h}
	}
	return b, nil
}

func (r *Runtime) bufferInvocation(op string, h types.Handle) (*invocation, error) {
	inv, err := r.lookup(op, h)
	if err != nil {
		return nil, err
	}
	if h.Kind() != types.KindBuffer {
		return nil, &types.HandleError{Op: op, Handle: h}
	}
	return inv, nil
}

func (r *Runtime) BufferBytes(h types.Handle) ([]byte, error) {
	inv, err := r.bufferInvocation("bl_get_bytes", h)
	if err != nil {
		return nil, err
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	b, err := inv.buffer("bl_get_bytes", h)
	if err != nil {
		return nil, err
	}
	return cloneBytes(b.data), nil
}

func (r *Runtime) BufferLength(h types.Handle) (int, error) {
	inv, err := r.bufferInvocation("bl_length", h)
	if err != nil {
		return 0, err
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	b, err := inv.buffer("bl_length", h)
	if err != nil {
		return 0, err
	}
	return len(b.data), nil
}

func (r *Runtime) BufferAppend(dst, src types.Handle) error {
	inv, err := r.bufferInvocation("bl_append", dst)
	if err != nil {
		return err
	}
	if _, err := r.bufferInvocation("bl_append", src); err != nil {
		return err
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	d, err := inv.buffer("bl_append", dst)
	if err != nil {
		return err
	}
	s, err := inv.buffer("bl_append", src)
	if err != nil {
		return err
	}
	d.data = append(d.data, s.data...)
	return nil
}

func (r *Runtime) BufferAppendBytes(dst types.Handle, data []byte) error {
	inv, err := r.bufferInvocation("bl_append_bytes", dst)
	if err != nil {
		return err
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	d, err := inv.buffer("bl_append_bytes", dst)
	if err != nil {
		return err
	}
	d.data = append(d.data, data...)
	return nil
}

func (r *Runtime) BufferClear(h types.Handle) error {
	inv, err := r.bufferInvocation("bl_clear", h)
	if err != nil {
		return err
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	b, err := inv.buffer("bl_clear", h)
	if err != nil {
		return err
	}
	b.data = b.data[:0]
	return nil
}

func nativeErr(op string, errno unix.Errno) error {
	return &types.NativeError{Op: op, Code: types.StatusFromErrno(errno)}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
