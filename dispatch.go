package goclass

import (
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"github.com/objclass/goclass/types"
)

// Phase is the progress of a single dispatch.
type Phase int

const (
	// PhaseEntered: the native runtime called in, no method looked up yet.
	PhaseEntered Phase = iota
	// PhaseContextBound: the method is known and its Context is built.
	PhaseContextBound
	// PhaseRunning: the method body is executing.
	PhaseRunning
	// PhaseResultReady: the method returned and its status is computed.
	PhaseResultReady
	// PhaseReturned: the status is on its way back to the native runtime.
	PhaseReturned
)

func (p Phase) String() string {
	switch p {
	case PhaseEntered:
		return "entered"
	case PhaseContextBound:
		return "context_bound"
	case PhaseRunning:
		return "running"
	case PhaseResultReady:
		return "result_ready"
	case PhaseReturned:
		return "returned"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Dispatch runs method with a Context bound to the given handles and returns
// the status for the native caller. It is the entry point the native runtime
// calls once per request.
//
// Dispatch never panics. Everything it builds is dropped before it returns.
func (c *Class) Dispatch(native Native, method string, hctx, in, out types.Handle) types.Status {
	return c.dispatch(native, method, func(flags types.MethodFlags) *callContext {
		return newContext(native, flags, hctx, in, out)
	})
}

// DispatchRaw is the variant where the native runtime passes the input bytes
// directly instead of an input buffer handle. The input view is read-only
// and aliases input for the duration of the call.
func (c *Class) DispatchRaw(native Native, method string, hctx types.Handle, input []byte, out types.Handle) types.Status {
	return c.dispatch(native, method, func(flags types.MethodFlags) *callContext {
		return newRawContext(native, flags, hctx, input, out)
	})
}

// dispatchCall tracks one dispatch through its phases.
type dispatchCall struct {
	method string
	phase  Phase
}

func (c *Class) dispatch(native Native, method string, bind func(types.MethodFlags) *callContext) (status types.Status) {
	start := time.Now()
	call := &dispatchCall{method: method, phase: PhaseEntered}

	// Last line of defence: nothing below is expected to panic, but if it does
	// the native caller still gets a status.
	defer func() {
		if rec := recover(); rec != nil {
			err := &types.PanicError{Value: rec, Phase: call.phase.String(), Stack: debug.Stack()}
			status = err.Status()
			c.report(call, status, err, start)
		}
	}()

	entry, ok := c.lookup(method)
	if !ok {
		err := &types.UnknownMethodError{Class: c.name, Method: method}
		logNative(native, types.LogLevelError, err.Error())
		status = types.ToStatus(err)
		c.report(call, status, err, start)
		return status
	}

	ctx := bind(entry.flags)
	call.phase = PhaseContextBound

	result, err := call.run(ctx, entry.fn)
	status, err = resultStatus(result, err)
	if err != nil {
		ctx.Log(types.LogLevelError, fmt.Sprintf("%s.%s failed: %v", c.name, method, err))
	} else {
		ctx.Log(types.LogLevelInfo, fmt.Sprintf("len = %d", ctx.inputLength()))
	}
	c.report(call, status, err, start)
	return status
}

// run is the only place user code executes. Panics are turned into a
// *types.PanicError.
func (d *dispatchCall) run(ctx Context, fn Method) (result int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = 0
			err = &types.PanicError{Value: rec, Phase: d.phase.String(), Stack: debug.Stack()}
		}
	}()

	d.phase = PhaseRunning
	result, err = fn(ctx)
	if err == nil && result >= 0 {
		d.phase = PhaseResultReady
	}
	return result, err
}

func resultStatus(result int, err error) (types.Status, error) {
	switch {
	case err != nil:
		return types.ToStatus(err), err
	case result > math.MaxInt32:
		err = fmt.Errorf("method result %d does not fit in a status", result)
		return types.ToStatus(err), err
	case result < 0:
		s := types.StatusIO
		if result >= math.MinInt32 {
			s = types.Status(result)
		}
		return s, fmt.Errorf("method returned %s", s)
	default:
		return types.Status(result), nil
	}
}

func (c *Class) report(call *dispatchCall, status types.Status, err error, start time.Time) {
	failedIn := call.phase
	call.phase = PhaseReturned

	outcome := "ok"
	var perr *types.PanicError
	switch {
	case errors.As(err, &perr):
		outcome = "panic"
		c.logger.Error().
			Str("method", call.method).
			Int32("status", int32(status)).
			Str("phase", perr.Phase).
			Interface("panic", perr.Value).
			Bytes("stack", perr.Stack).
			Msg("panic in method")
	case err != nil:
		outcome = "error"
		c.logger.Warn().
			Str("method", call.method).
			Int32("status", int32(status)).
			Stringer("phase", failedIn).
			Err(err).
			Dur("elapsed", time.Since(start)).
			Msg("method failed")
	default:
		c.logger.Debug().
			Str("method", call.method).
			Int32("status", int32(status)).
			Dur("elapsed", time.Since(start)).
			Msg("dispatch")
	}

	if c.metrics != nil {
		c.metrics.observe(c.name, call.method, outcome, start)
	}
}

// logNative writes to the native log when no Context exists yet.
func logNative(native Native, level int, msg string) {
	defer func() { _ = recover() }()
	native.Log(level, msg)
}
