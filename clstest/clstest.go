// Package clstest provides in-memory Context and BufferList implementations
// for unit testing methods without any native runtime.
package clstest

import (
	"github.com/objclass/goclass"
	"github.com/objclass/goclass/types"
)

type store struct {
	data []byte
}

// BufferList is an in-memory BufferList. Copies of the same BufferList and
// views returned for the same buffer share their bytes.
type BufferList struct {
	s *store
}

var _ goclass.BufferList = BufferList{}

// NewBufferList creates a buffer holding a copy of data.
func NewBufferList(data []byte) BufferList {
	return BufferList{s: &store{data: append([]byte(nil), data...)}}
}

func (b BufferList) Bytes() ([]byte, error) {
	return append([]byte{}, b.s.data...), nil
}

func (b BufferList) Length() (int, error) {
	return len(b.s.data), nil
}

func (b BufferList) Append(other goclass.BufferList) error {
	o, ok := other.(BufferList)
	if !ok {
		panic(&types.ForeignBufferError{Op: "append"})
	}
	b.s.data = append(b.s.data, o.s.data...)
	return nil
}

func (b BufferList) AppendBytes(data []byte) error {
	b.s.data = append(b.s.data, data...)
	return nil
}

func (b BufferList) Clear() error {
	b.s.data = b.s.data[:0]
	return nil
}

// Context is an in-memory Context. Fields may be set directly before the
// method runs and inspected afterwards.
type Context struct {
	Flags  types.MethodFlags
	Object []byte
	Exists bool
	Lines  []string

	// Fail makes the named operation ("remove", "create", "read", "write")
	// return the given error.
	Fail map[string]error

	in  BufferList
	out BufferList
}

var _ goclass.Context = (*Context)(nil)

// NewContext returns a context with read and write permission, the given
// input and an empty output. No object exists yet.
func NewContext(input []byte) *Context {
	return &Context{
		Flags: types.MethodRead | types.MethodWrite,
		Fail:  map[string]error{},
		in:    NewBufferList(input),
		out:   NewBufferList(nil),
	}
}

// WithObject makes the stored object exist with the given contents.
func (c *Context) WithObject(data []byte) *Context {
	c.Object = append([]byte{}, data...)
	c.Exists = true
	return c
}

// OutputBytes returns the current output contents.
func (c *Context) OutputBytes() []byte {
	out, _ := c.out.Bytes()
	return out
}

func (c *Context) Input() goclass.BufferList  { return c.in }
func (c *Context) Output() goclass.BufferList { return c.out }

func (c *Context) Log(_ int, msg string) {
	c.Lines = append(c.Lines, msg)
}

func (c *Context) Remove() error {
	if err := c.check("remove", types.MethodWrite); err != nil {
		return err
	}
	if !c.Exists {
		return &types.NativeError{Op: "remove", Code: types.StatusNotFound}
	}
	c.Object, c.Exists = nil, false
	return nil
}

func (c *Context) Create(exclusive bool) error {
	if err := c.check("create", types.MethodWrite); err != nil {
		return err
	}
	if c.Exists {
		if exclusive {
			return &types.NativeError{Op: "create", Code: types.StatusExists}
		}
		return nil
	}
	c.Object, c.Exists = []byte{}, true
	return nil
}

// Read clamps the range to the object like the default native policy.
func (c *Context) Read(offset, length int) (goclass.BufferList, error) {
	if err := c.check("read", types.MethodRead); err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 {
		return nil, &types.NativeError{Op: "read", Code: types.StatusInvalid}
	}
	if !c.Exists {
		return nil, &types.NativeError{Op: "read", Code: types.StatusNotFound}
	}
	end := len(c.Object)
	if offset > end {
		offset = end
	}
	if length > 0 && length < end-offset {
		end = offset + length
	}
	return NewBufferList(c.Object[offset:end]), nil
}

func (c *Context) Write(offset, length int, bl goclass.BufferList) error {
	if err := c.check("write", types.MethodWrite); err != nil {
		return err
	}
	src, ok := bl.(BufferList)
	if !ok {
		panic(&types.ForeignBufferError{Op: "write"})
	}
	if offset < 0 || length < 0 || len(src.s.data) < length {
		return &types.NativeError{Op: "write", Code: types.StatusInvalid}
	}
	if offset > types.DefaultMaxObjectSize-length {
		return &types.NativeError{Op: "write", Code: types.StatusTooBig}
	}
	if end := offset + length; end > len(c.Object) {
		grown := make([]byte, end)
		copy(grown, c.Object)
		c.Object = grown
	}
	copy(c.Object[offset:], src.s.data[:length])
	c.Exists = true
	return nil
}

func (c *Context) check(op string, flag types.MethodFlags) error {
	if err := c.Fail[op]; err != nil {
		return err
	}
	if !c.Flags.Has(flag) {
		return &types.MethodFlagError{Op: op, Flags: c.Flags}
	}
	return nil
}
