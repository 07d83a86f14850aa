// Package goclass lets object class methods written in Go run inside a
// storage daemon's per-object request pipeline.
//
// The daemon (the native runtime) calls Class.Dispatch once per request with
// three handles: the call context, the input buffer and the output buffer.
// Dispatch wraps them in a Context, runs the registered Method and reports the
// outcome as a types.Status. Nothing a Method does, including panicking, can
// unwind into the native caller.
//
// Handles, Contexts and BufferLists are only valid while the Dispatch call
// that produced them is running. Do not keep them around.
package goclass

import (
	"github.com/objclass/goclass/types"
)

// Native is the set of entry points the native runtime provides to the bridge.
// Failures are returned as errors and passed through unchanged; typically they
// are *types.NativeError values carrying the native status.
type Native interface {
	// Log is fire-and-forget. It must not block on delivery.
	Log(level int, msg string)

	Remove(hctx types.Handle) error
	Create(hctx types.Handle, exclusive bool) error
	Read(hctx types.Handle, offset, length int) (types.Handle, error)
	Write(hctx types.Handle, offset, length int, bl types.Handle) error

	BufferBytes(bl types.Handle) ([]byte, error)
	BufferLength(bl types.Handle) (int, error)
	BufferAppend(dst, src types.Handle) error
	BufferAppendBytes(dst types.Handle, data []byte) error
	BufferClear(bl types.Handle) error
}

// BufferList is a view over a native-owned byte buffer.
//
// Views do not own or cache bytes: two views of the same buffer see each
// other's mutations.
type BufferList interface {
	// Bytes returns a copy of the current contents.
	Bytes() ([]byte, error)
	Length() (int, error)
	// Append adds the contents of other to the end of this buffer. other must
	// come from the same invocation; anything else is a programming error and
	// panics with *types.ForeignBufferError.
	Append(other BufferList) error
	// AppendBytes adds a copy of data to the end of this buffer.
	AppendBytes(data []byte) error
	Clear() error
}

// Context is the capability surface of one method invocation.
type Context interface {
	// Input and Output return fresh views on every call.
	Input() BufferList
	Output() BufferList

	// Log is best effort and never fails.
	Log(level int, msg string)

	Remove() error
	Create(exclusive bool) error
	// Read returns length bytes of the stored object starting at offset.
	// A length of 0 reads to the end of the object.
	Read(offset, length int) (BufferList, error)
	// Write stores length bytes of bl at offset. It only becomes durable if
	// the native transaction commits.
	Write(offset, length int, bl BufferList) error
}

// Method is user logic run by the dispatcher. A non-negative result is
// reported as the status; a non-nil error (or a negative result) fails the
// invocation.
type Method func(ctx Context) (int, error)
