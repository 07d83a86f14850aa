package wasmclass

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"golang.org/x/sys/unix"

	"github.com/objclass/goclass/types"
)

const (
	inputID  int32 = 0
	outputID int32 = 1
)

var (
	errBadID = &types.NativeError{Op: "guest", Code: types.StatusBadHandle}
	errFault = &types.NativeError{Op: "guest", Code: types.StatusFromErrno(unix.EFAULT)}
)

// guard runs one host call for the guest. Failures never trap the guest:
// they come back as a negative status the guest can act on.
func guard(ctx context.Context, op string, fn func(inv *invocation) (int32, error)) (status int32) {
	inv := invocationFrom(ctx)
	defer func() {
		if rec := recover(); rec != nil {
			err := &types.PanicError{Value: rec, Phase: "host " + op}
			inv.host.logger.Warn().Err(err).Msg("host call panicked")
			status = int32(err.Status())
		}
	}()
	n, err := fn(inv)
	if err != nil {
		inv.host.logger.Debug().Err(err).Str("op", op).Msg("host call failed")
		return int32(types.ToStatus(err))
	}
	return n
}

func readGuest(mod api.Module, ptr, n int32) ([]byte, error) {
	if mod.Memory() == nil || ptr < 0 || n < 0 {
		return nil, errFault
	}
	b, ok := mod.Memory().Read(uint32(ptr), uint32(n))
	if !ok {
		return nil, errFault
	}
	return b, nil
}

func hostInput(context.Context, api.Module) int32  { return inputID }
func hostOutput(context.Context, api.Module) int32 { return outputID }

func hostBufferLength(ctx context.Context, _ api.Module, id int32) int32 {
	return guard(ctx, "bl_length", func(inv *invocation) (int32, error) {
		bl, ok := inv.buffer(id)
		if !ok {
			return 0, errBadID
		}
		n, err := bl.Length()
		return int32(n), err
	})
}

// hostBufferRead copies up to capacity bytes of a buffer into guest memory
// and returns how many were copied.
func hostBufferRead(ctx context.Context, mod api.Module, id, ptr, capacity int32) int32 {
	return guard(ctx, "bl_read", func(inv *invocation) (int32, error) {
		bl, ok := inv.buffer(id)
		if !ok {
			return 0, errBadID
		}
		data, err := bl.Bytes()
		if err != nil {
			return 0, err
		}
		if capacity < 0 || mod.Memory() == nil {
			return 0, errFault
		}
		if int(capacity) < len(data) {
			data = data[:capacity]
		}
		if !mod.Memory().Write(uint32(ptr), data) {
			return 0, errFault
		}
		return int32(len(data)), nil
	})
}

func hostBufferAppend(ctx context.Context, _ api.Module, dst, src int32) int32 {
	return guard(ctx, "bl_append", func(inv *invocation) (int32, error) {
		d, ok := inv.buffer(dst)
		if !ok {
			return 0, errBadID
		}
		s, ok := inv.buffer(src)
		if !ok {
			return 0, errBadID
		}
		return 0, d.Append(s)
	})
}

func hostBufferAppendBytes(ctx context.Context, mod api.Module, dst, ptr, n int32) int32 {
	return guard(ctx, "bl_append_bytes", func(inv *invocation) (int32, error) {
		d, ok := inv.buffer(dst)
		if !ok {
			return 0, errBadID
		}
		data, err := readGuest(mod, ptr, n)
		if err != nil {
			return 0, err
		}
		return 0, d.AppendBytes(data)
	})
}

func hostBufferClear(ctx context.Context, _ api.Module, id int32) int32 {
	return guard(ctx, "bl_clear", func(inv *invocation) (int32, error) {
		bl, ok := inv.buffer(id)
		if !ok {
			return 0, errBadID
		}
		return 0, bl.Clear()
	})
}

func hostLog(ctx context.Context, mod api.Module, level, ptr, n int32) int32 {
	return guard(ctx, "log", func(inv *invocation) (int32, error) {
		msg, err := readGuest(mod, ptr, n)
		if err != nil {
			return 0, err
		}
		inv.cls.Log(int(level), string(msg))
		return 0, nil
	})
}

func hostCreate(ctx context.Context, _ api.Module, exclusive int32) int32 {
	return guard(ctx, "create", func(inv *invocation) (int32, error) {
		return 0, inv.cls.Create(exclusive != 0)
	})
}

func hostRemove(ctx context.Context, _ api.Module) int32 {
	return guard(ctx, "remove", func(inv *invocation) (int32, error) {
		return 0, inv.cls.Remove()
	})
}

// hostRead returns the id of a new buffer holding the range.
func hostRead(ctx context.Context, _ api.Module, offset, length int32) int32 {
	return guard(ctx, "read", func(inv *invocation) (int32, error) {
		bl, err := inv.cls.Read(int(offset), int(length))
		if err != nil {
			return 0, err
		}
		return inv.add(bl), nil
	})
}

func hostWrite(ctx context.Context, _ api.Module, offset, length, id int32) int32 {
	return guard(ctx, "write", func(inv *invocation) (int32, error) {
		bl, ok := inv.buffer(id)
		if !ok {
			return 0, errBadID
		}
		return 0, inv.cls.Write(int(offset), int(length), bl)
	})
}
