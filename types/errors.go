package types

import (
	"errors"
	"fmt"
)

// StatusError is an error that knows which Status it should be reported as.
type StatusError interface {
	error
	Status() Status
}

var (
	_ StatusError = (*NativeError)(nil)
	_ StatusError = (*HandleError)(nil)
	_ StatusError = (*ForeignBufferError)(nil)
	_ StatusError = (*ReadOnlyBufferError)(nil)
	_ StatusError = (*MethodFlagError)(nil)
	_ StatusError = (*UnknownMethodError)(nil)
	_ StatusError = (*PanicError)(nil)
)

// NativeError is a failure reported by the native layer. The bridge never
// reinterprets it: Code is passed through as the dispatch status.
type NativeError struct {
	Op   string
	Code Status
}

func (e *NativeError) Error() string {
	return fmt.Sprintf("native %s: %s", e.Op, e.Code)
}

func (e *NativeError) Status() Status {
	if e.Code >= 0 {
		return StatusIO
	}
	return e.Code
}

// HandleError means a Handle is not usable: it belongs to an invocation that
// already ended (Stale) or it names the wrong kind of object.
type HandleError struct {
	Op     string
	Handle Handle
	Stale  bool
}

func (e *HandleError) Error() string {
	if e.Stale {
		return fmt.Sprintf("%s: stale handle %s", e.Op, e.Handle)
	}
	return fmt.Sprintf("%s: bad handle %s", e.Op, e.Handle)
}

func (e *HandleError) Status() Status {
	if e.Stale {
		return StatusStale
	}
	return StatusBadHandle
}

// ForeignBufferError is raised (by panic) when a BufferList from another
// invocation, or one not backed by the native runtime, is passed where a
// native buffer of the current invocation is required.
type ForeignBufferError struct {
	Op   string
	Want uint64
	Got  uint64
}

func (e *ForeignBufferError) Error() string {
	if e.Got == 0 {
		return fmt.Sprintf("%s: buffer is not a native buffer of invocation %d", e.Op, e.Want)
	}
	return fmt.Sprintf("%s: buffer belongs to invocation %d, not %d", e.Op, e.Got, e.Want)
}

func (e *ForeignBufferError) Status() Status { return StatusInvalid }

// ReadOnlyBufferError is returned when mutating the raw input view.
type ReadOnlyBufferError struct {
	Op string
}

func (e *ReadOnlyBufferError) Error() string {
	return fmt.Sprintf("%s: buffer is read-only", e.Op)
}

func (e *ReadOnlyBufferError) Status() Status { return StatusReadOnly }

// MethodFlagError is returned when a method uses an operation its
// registration flags do not allow.
type MethodFlagError struct {
	Op    string
	Flags MethodFlags
}

func (e *MethodFlagError) Error() string {
	return fmt.Sprintf("%s: not permitted for method with flags %s", e.Op, e.Flags)
}

func (e *MethodFlagError) Status() Status { return StatusPermission }

// UnknownMethodError is returned when dispatching a method that was never registered.
type UnknownMethodError struct {
	Class  string
	Method string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("class %q has no method %q", e.Class, e.Method)
}

func (e *UnknownMethodError) Status() Status { return StatusUnsupported }

// PanicError captures a panic recovered at the dispatch boundary.
type PanicError struct {
	Value any
	Phase string
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic during %s: %v", e.Phase, e.Value)
}

// Unwrap exposes the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func (e *PanicError) Status() Status {
	var se StatusError
	if err := e.Unwrap(); err != nil && errors.As(err, &se) {
		return se.Status()
	}
	return StatusIO
}

// ToStatus maps an error to the status reported to the native caller.
// This is the only place where errors become statuses.
func ToStatus(err error) Status {
	if err == nil {
		return StatusOK
	}
	var se StatusError
	if errors.As(err, &se) {
		if s := se.Status(); s < 0 {
			return s
		}
	}
	return StatusIO
}
