package goclass

import (
	"github.com/objclass/goclass/types"
)

// callContext is the native-backed Context. Building one performs no native
// calls: it only keeps the handles it was given.
type callContext struct {
	native Native
	flags  types.MethodFlags

	hctx types.Handle
	in   types.Handle
	out  types.Handle

	// set by DispatchRaw instead of in
	raw *rawBufferList
}

var _ Context = (*callContext)(nil)

func newContext(native Native, flags types.MethodFlags, hctx, in, out types.Handle) *callContext {
	return &callContext{native: native, flags: flags, hctx: hctx, in: in, out: out}
}

func newRawContext(native Native, flags types.MethodFlags, hctx types.Handle, input []byte, out types.Handle) *callContext {
	return &callContext{
		native: native,
		flags:  flags,
		hctx:   hctx,
		out:    out,
		raw:    &rawBufferList{gen: hctx.Generation(), data: input},
	}
}

func (c *callContext) Input() BufferList {
	if c.raw != nil {
		return c.raw
	}
	return newBufferList(c.native, c.in)
}

func (c *callContext) Output() BufferList {
	return newBufferList(c.native, c.out)
}

// inputLength is used for the dispatch log line. It never fails the call.
func (c *callContext) inputLength() (n int) {
	defer func() {
		if recover() != nil {
			n = -1
		}
	}()
	n, err := c.Input().Length()
	if err != nil {
		return -1
	}
	return n
}

func (c *callContext) Log(level int, msg string) {
	defer func() {
		// a broken log sink must not change the outcome of the call
		_ = recover()
	}()
	c.native.Log(level, msg)
}

func (c *callContext) Remove() error {
	if err := c.require("remove", types.MethodWrite); err != nil {
		return err
	}
	return c.native.Remove(c.hctx)
}

func (c *callContext) Create(exclusive bool) error {
	if err := c.require("create", types.MethodWrite); err != nil {
		return err
	}
	return c.native.Create(c.hctx, exclusive)
}

func (c *callContext) Read(offset, length int) (BufferList, error) {
	if err := c.require("read", types.MethodRead); err != nil {
		return nil, err
	}
	h, err := c.native.Read(c.hctx, offset, length)
	if err != nil {
		return nil, err
	}
	return newBufferList(c.native, h), nil
}

func (c *callContext) Write(offset, length int, bl BufferList) error {
	if err := c.require("write", types.MethodWrite); err != nil {
		return err
	}
	src := sameInvocation("write", c.hctx, bl)
	return c.native.Write(c.hctx, offset, length, src)
}

func (c *callContext) require(op string, flag types.MethodFlags) error {
	if !c.flags.Has(flag) {
		return &types.MethodFlagError{Op: op, Flags: c.flags}
	}
	return nil
}
