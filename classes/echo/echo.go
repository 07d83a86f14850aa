// Package echo is the example object class. Its methods are the smallest
// useful exercises of the bridge: copy input to output, copy the stored
// object to output, and store the input as the object.
package echo

import (
	"fmt"

	"github.com/objclass/goclass"
	"github.com/objclass/goclass/types"
)

// Method names as registered by Register.
const (
	MethodEcho       = "echo"
	MethodEchoObject = "echo_object"
	MethodStoreInput = "store_input"
)

// Echo appends the input buffer to the output buffer unchanged.
func Echo(ctx goclass.Context) (int, error) {
	if err := ctx.Output().Append(ctx.Input()); err != nil {
		return 0, fmt.Errorf("echo: %w", err)
	}
	return 0, nil
}

// EchoObject appends the whole stored object to the output buffer.
func EchoObject(ctx goclass.Context) (int, error) {
	data, err := ctx.Read(0, 0)
	if err != nil {
		return 0, fmt.Errorf("echo_object: %w", err)
	}
	if err := ctx.Output().Append(data); err != nil {
		return 0, fmt.Errorf("echo_object: %w", err)
	}
	return 0, nil
}

// StoreInput writes the input buffer at the start of the stored object.
func StoreInput(ctx goclass.Context) (int, error) {
	input := ctx.Input()
	n, err := input.Length()
	if err != nil {
		return 0, fmt.Errorf("store_input: %w", err)
	}
	if err := ctx.Write(0, n, input); err != nil {
		return 0, fmt.Errorf("store_input: %w", err)
	}
	return 0, nil
}

// Register adds the echo methods to c.
func Register(c *goclass.Class) error {
	methods := []struct {
		name  string
		flags types.MethodFlags
		fn    goclass.Method
	}{
		{MethodEcho, types.MethodRead, Echo},
		{MethodEchoObject, types.MethodRead, EchoObject},
		{MethodStoreInput, types.MethodRead | types.MethodWrite, StoreInput},
	}
	for _, m := range methods {
		if err := c.Register(m.name, m.flags, m.fn); err != nil {
			return err
		}
	}
	return nil
}
