package goclass

import (
	"github.com/objclass/goclass/types"
)

// bufferList is the native-backed BufferList. It only stores a reference;
// every operation goes to the native runtime.
type bufferList struct {
	native Native
	h      types.Handle
}

var _ BufferList = (*bufferList)(nil)

func newBufferList(native Native, h types.Handle) *bufferList {
	return &bufferList{native: native, h: h}
}

func (b *bufferList) Bytes() ([]byte, error) {
	return b.native.BufferBytes(b.h)
}

func (b *bufferList) Length() (int, error) {
	return b.native.BufferLength(b.h)
}

func (b *bufferList) Append(other BufferList) error {
	switch o := other.(type) {
	case *rawBufferList:
		if o.gen != b.h.Generation() {
			panic(&types.ForeignBufferError{Op: "append", Want: b.h.Generation(), Got: o.gen})
		}
		return b.native.BufferAppendBytes(b.h, o.data)
	default:
		src := sameInvocation("append", b.h, other)
		return b.native.BufferAppend(b.h, src)
	}
}

func (b *bufferList) AppendBytes(data []byte) error {
	return b.native.BufferAppendBytes(b.h, data)
}

func (b *bufferList) Clear() error {
	return b.native.BufferClear(b.h)
}

// sameInvocation returns the handle behind other, panicking if other is not a
// native buffer minted in the same invocation as h.
func sameInvocation(op string, h types.Handle, other BufferList) types.Handle {
	o, ok := other.(*bufferList)
	if !ok || o == nil {
		panic(&types.ForeignBufferError{Op: op, Want: h.Generation()})
	}
	if o.h.Generation() != h.Generation() {
		panic(&types.ForeignBufferError{Op: op, Want: h.Generation(), Got: o.h.Generation()})
	}
	return o.h
}

// rawBufferList is the read-only input view used by DispatchRaw, where the
// native side hands over the input bytes directly instead of a buffer handle.
// It aliases the bytes it was given.
type rawBufferList struct {
	gen  uint64
	data []byte
}

var _ BufferList = (*rawBufferList)(nil)

func (r *rawBufferList) Bytes() ([]byte, error) {
	out := make([]byte, len(r.data))
	copy(out, r.data)
	return out, nil
}

func (r *rawBufferList) Length() (int, error) {
	return len(r.data), nil
}

func (r *rawBufferList) Append(BufferList) error {
	return &types.ReadOnlyBufferError{Op: "append"}
}

func (r *rawBufferList) AppendBytes([]byte) error {
	return &types.ReadOnlyBufferError{Op: "append_bytes"}
}

func (r *rawBufferList) Clear() error {
	return &types.ReadOnlyBufferError{Op: "clear"}
}
