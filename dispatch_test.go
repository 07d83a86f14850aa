package goclass_test

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objclass/goclass"
	"github.com/objclass/goclass/classes/echo"
	"github.com/objclass/goclass/clstest"
	"github.com/objclass/goclass/memnative"
	"github.com/objclass/goclass/types"
)

func newRuntime(t *testing.T) *memnative.Runtime {
	t.Helper()
	rt, err := memnative.New(types.DefaultNativeConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func exec(t *testing.T, rt *memnative.Runtime, class *goclass.Class, method string, input []byte) memnative.Result {
	t.Helper()
	res, err := rt.Exec(class, memnative.Request{Object: "obj", Method: method, Input: input})
	require.NoError(t, err)
	return res
}

func TestDispatchEcho(t *testing.T) {
	class := goclass.NewClass("jvm")
	require.NoError(t, echo.Register(class))
	rt := newRuntime(t)

	res := exec(t, rt, class, echo.MethodEcho, []byte("ABC"))
	assert.Equal(t, types.StatusOK, res.Status)
	assert.Equal(t, []byte("ABC"), res.Output)
	assert.Equal(t, []memnative.LogLine{{Level: types.LogLevelInfo, Message: "len = 3"}}, rt.Logs())
}

func TestDispatchEchoEmptyInput(t *testing.T) {
	class := goclass.NewClass("jvm")
	require.NoError(t, echo.Register(class))
	rt := newRuntime(t)

	res := exec(t, rt, class, echo.MethodEcho, nil)
	assert.Equal(t, types.StatusOK, res.Status)
	assert.Empty(t, res.Output)
	assert.Equal(t, "len = 0", rt.Logs()[0].Message)
}

func TestDispatchLeavesInputUnchanged(t *testing.T) {
	var after []byte
	class := goclass.NewClass("jvm")
	class.MustRegister("echo", types.MethodRead, func(ctx goclass.Context) (int, error) {
		if err := ctx.Output().Append(ctx.Input()); err != nil {
			return 0, err
		}
		var err error
		after, err = ctx.Input().Bytes()
		return 0, err
	})
	rt := newRuntime(t)

	res := exec(t, rt, class, "echo", []byte("ABC"))
	require.Equal(t, types.StatusOK, res.Status)
	assert.Equal(t, []byte("ABC"), after)
}

func TestDispatchPositiveResult(t *testing.T) {
	class := goclass.NewClass("jvm")
	class.MustRegister("seven", types.MethodRead, func(goclass.Context) (int, error) {
		return 7, nil
	})
	rt := newRuntime(t)

	res := exec(t, rt, class, "seven", nil)
	assert.Equal(t, types.Status(7), res.Status)
	assert.Len(t, rt.Logs(), 1)
}

func TestBufferViewsAlias(t *testing.T) {
	var seen int
	class := goclass.NewClass("jvm")
	class.MustRegister("alias", types.MethodRead, func(ctx goclass.Context) (int, error) {
		first, second := ctx.Output(), ctx.Output()
		if err := first.Append(ctx.Input()); err != nil {
			return 0, err
		}
		var err error
		seen, err = second.Length()
		return 0, err
	})
	rt := newRuntime(t)

	res := exec(t, rt, class, "alias", []byte("hello"))
	require.Equal(t, types.StatusOK, res.Status)
	assert.Equal(t, 5, seen)
	assert.Equal(t, []byte("hello"), res.Output)
}

func TestHandlesDoNotOutliveInvocation(t *testing.T) {
	var kept goclass.BufferList
	class := goclass.NewClass("jvm")
	class.MustRegister("keep", types.MethodRead, func(ctx goclass.Context) (int, error) {
		kept = ctx.Output()
		return 0, nil
	})
	class.MustRegister("use_stale", types.MethodRead, func(ctx goclass.Context) (int, error) {
		_, err := kept.Length()
		return 0, err
	})
	class.MustRegister("append_stale", types.MethodRead, func(ctx goclass.Context) (int, error) {
		return 0, ctx.Output().Append(kept)
	})
	class.MustRegister("write_stale", types.MethodRead|types.MethodWrite, func(ctx goclass.Context) (int, error) {
		return 0, ctx.Write(0, 0, kept)
	})
	rt := newRuntime(t)

	require.Equal(t, types.StatusOK, exec(t, rt, class, "keep", nil).Status)
	require.NotNil(t, kept)

	assert.Equal(t, types.StatusStale, exec(t, rt, class, "use_stale", nil).Status)
	assert.Equal(t, types.StatusInvalid, exec(t, rt, class, "append_stale", nil).Status)
	assert.Equal(t, types.StatusInvalid, exec(t, rt, class, "write_stale", nil).Status)
}

func TestCreateExclusive(t *testing.T) {
	class := goclass.NewClass("jvm")
	class.MustRegister("create_excl", types.MethodWrite, func(ctx goclass.Context) (int, error) {
		return 0, ctx.Create(true)
	})
	class.MustRegister("create", types.MethodWrite, func(ctx goclass.Context) (int, error) {
		return 0, ctx.Create(false)
	})
	rt := newRuntime(t)

	assert.Equal(t, types.StatusOK, exec(t, rt, class, "create_excl", nil).Status)
	data, ok, err := rt.Object("obj")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, data)

	assert.Equal(t, types.StatusExists, exec(t, rt, class, "create_excl", nil).Status)
	assert.Equal(t, types.StatusOK, exec(t, rt, class, "create", nil).Status)
}

func TestRemove(t *testing.T) {
	class := goclass.NewClass("jvm")
	class.MustRegister("remove", types.MethodWrite, func(ctx goclass.Context) (int, error) {
		return 0, ctx.Remove()
	})
	rt := newRuntime(t)

	assert.Equal(t, types.StatusNotFound, exec(t, rt, class, "remove", nil).Status)

	require.NoError(t, rt.PutObject("obj", []byte("data")))
	assert.Equal(t, types.StatusOK, exec(t, rt, class, "remove", nil).Status)
	_, ok, err := rt.Object("obj")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailuresAreContained(t *testing.T) {
	specs := map[string]struct {
		flags  types.MethodFlags
		fn     goclass.Method
		status types.Status
	}{
		"returned error": {
			flags:  types.MethodRead,
			fn:     func(goclass.Context) (int, error) { return 0, errors.New("boom") },
			status: types.StatusIO,
		},
		"wrapped native error": {
			flags: types.MethodRead,
			fn: func(ctx goclass.Context) (int, error) {
				_, err := ctx.Read(0, 0)
				return 0, fmt.Errorf("reading: %w", err)
			},
			status: types.StatusNotFound,
		},
		"panic with string": {
			flags:  types.MethodRead,
			fn:     func(goclass.Context) (int, error) { panic("boom") },
			status: types.StatusIO,
		},
		"panic with status error": {
			flags: types.MethodRead,
			fn: func(goclass.Context) (int, error) {
				panic(fmt.Errorf("wrapped: %w", &types.NativeError{Op: "x", Code: types.StatusRange}))
			},
			status: types.StatusRange,
		},
		"nil dereference": {
			flags: types.MethodRead,
			fn: func(goclass.Context) (int, error) {
				var p *struct{ n int }
				return p.n, nil
			},
			status: types.StatusIO,
		},
		"foreign buffer": {
			flags: types.MethodRead,
			fn: func(ctx goclass.Context) (int, error) {
				return 0, ctx.Output().Append(clstest.NewBufferList([]byte("x")))
			},
			status: types.StatusInvalid,
		},
		"write without permission": {
			flags:  types.MethodRead,
			fn:     func(ctx goclass.Context) (int, error) { return 0, ctx.Remove() },
			status: types.StatusPermission,
		},
		"read without permission": {
			flags: types.MethodWrite,
			fn: func(ctx goclass.Context) (int, error) {
				_, err := ctx.Read(0, 0)
				return 0, err
			},
			status: types.StatusPermission,
		},
		"negative result": {
			flags:  types.MethodRead,
			fn:     func(goclass.Context) (int, error) { return int(types.StatusNotFound), nil },
			status: types.StatusNotFound,
		},
		"result too large": {
			flags:  types.MethodRead,
			fn:     func(goclass.Context) (int, error) { return math.MaxInt32 + 1, nil },
			status: types.StatusIO,
		},
	}
	for name, spec := range specs {
		t.Run(name, func(t *testing.T) {
			class := goclass.NewClass("jvm")
			class.MustRegister("m", spec.flags, spec.fn)
			rt := newRuntime(t)

			res := exec(t, rt, class, "m", []byte("input"))
			assert.Equal(t, spec.status, res.Status)

			logs := rt.Logs()
			require.Len(t, logs, 1)
			assert.Equal(t, types.LogLevelError, logs[0].Level)
			assert.True(t, strings.HasPrefix(logs[0].Message, "jvm.m failed: "), logs[0].Message)
		})
	}
}

func TestFailedMethodDiscardsChanges(t *testing.T) {
	class := goclass.NewClass("jvm")
	class.MustRegister("write_then_fail", types.MethodRead|types.MethodWrite, func(ctx goclass.Context) (int, error) {
		if err := ctx.Write(0, 5, ctx.Input()); err != nil {
			return 0, err
		}
		if err := ctx.Output().Append(ctx.Input()); err != nil {
			return 0, err
		}
		return 0, errors.New("changed my mind")
	})
	rt := newRuntime(t)

	res := exec(t, rt, class, "write_then_fail", []byte("hello"))
	assert.Equal(t, types.StatusIO, res.Status)
	// output produced before the failure still reaches the caller
	assert.Equal(t, []byte("hello"), res.Output)

	_, ok, err := rt.Object("obj")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnknownMethod(t *testing.T) {
	class := goclass.NewClass("jvm")
	require.NoError(t, echo.Register(class))
	rt := newRuntime(t)

	res := exec(t, rt, class, "nope", []byte("x"))
	assert.Equal(t, types.StatusUnsupported, res.Status)
	logs := rt.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, types.LogLevelError, logs[0].Level)
	assert.Contains(t, logs[0].Message, `"nope"`)
}

func TestDispatchRaw(t *testing.T) {
	class := goclass.NewClass("jvm")
	require.NoError(t, echo.Register(class))
	class.MustRegister("mutate_input", types.MethodRead, func(ctx goclass.Context) (int, error) {
		return 0, ctx.Input().Append(ctx.Output())
	})
	class.MustRegister("store_raw", types.MethodRead|types.MethodWrite, func(ctx goclass.Context) (int, error) {
		return 0, ctx.Write(0, 1, ctx.Input())
	})
	rt := newRuntime(t)

	res, err := rt.Exec(class, memnative.Request{Object: "obj", Method: echo.MethodEcho, Input: []byte("ABC"), Raw: true})
	require.NoError(t, err)
	assert.Equal(t, types.StatusOK, res.Status)
	assert.Equal(t, []byte("ABC"), res.Output)
	assert.Equal(t, "len = 3", rt.Logs()[0].Message)

	res, err = rt.Exec(class, memnative.Request{Object: "obj", Method: "mutate_input", Input: []byte("ABC"), Raw: true})
	require.NoError(t, err)
	assert.Equal(t, types.StatusReadOnly, res.Status)

	res, err = rt.Exec(class, memnative.Request{Object: "obj", Method: "store_raw", Input: []byte("ABC"), Raw: true})
	require.NoError(t, err)
	assert.Equal(t, types.StatusInvalid, res.Status)
}

func TestRegisterErrors(t *testing.T) {
	noop := func(goclass.Context) (int, error) { return 0, nil }
	class := goclass.NewClass("jvm")

	require.Error(t, class.Register("", types.MethodRead, noop))
	require.Error(t, class.Register("m", types.MethodRead, nil))
	require.Error(t, class.Register("m", 0, noop))
	require.NoError(t, class.Register("m", types.MethodRead, noop))
	require.Error(t, class.Register("m", types.MethodWrite, noop))
	assert.Panics(t, func() { class.MustRegister("m", types.MethodRead, noop) })

	// registries are per class
	other := goclass.NewClass("other")
	require.NoError(t, other.Register("m", types.MethodRead, noop))
	assert.Equal(t, []string{"m"}, class.Methods())
}

func TestDispatchLogging(t *testing.T) {
	var buf bytes.Buffer
	class := goclass.NewClass("jvm", goclass.WithLogger(zerolog.New(&buf)))
	class.MustRegister("explode", types.MethodRead, func(goclass.Context) (int, error) {
		panic("kaboom")
	})
	rt := newRuntime(t)

	res := exec(t, rt, class, "explode", nil)
	assert.Equal(t, types.StatusIO, res.Status)

	out := buf.String()
	assert.Contains(t, out, `"class":"jvm"`)
	assert.Contains(t, out, `"method":"explode"`)
	assert.Contains(t, out, `"phase":"running"`)
	assert.Contains(t, out, "panic in method")
}

func TestDispatchMetrics(t *testing.T) {
	m := goclass.NewMetrics("objclass")
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(m.Collector()))

	class := goclass.NewClass("jvm", goclass.WithMetrics(m))
	require.NoError(t, echo.Register(class))
	class.MustRegister("fail", types.MethodRead, func(goclass.Context) (int, error) {
		return 0, errors.New("no")
	})
	class.MustRegister("explode", types.MethodRead, func(goclass.Context) (int, error) {
		panic("no")
	})
	rt := newRuntime(t)

	exec(t, rt, class, echo.MethodEcho, []byte("a"))
	exec(t, rt, class, echo.MethodEcho, []byte("b"))
	exec(t, rt, class, "fail", nil)
	exec(t, rt, class, "explode", nil)

	families, err := reg.Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "objclass_dispatch_calls") {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			counts[labels["method"]+"/"+labels["outcome"]] += metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{
		"echo/ok":       2,
		"fail/error":    1,
		"explode/panic": 1,
	}, counts)
}

// panickingLog is a native surface whose log sink always panics.
type panickingLog struct {
	goclass.Native
}

func (panickingLog) Log(int, string) {
	panic("log sink down")
}

func TestPanickingLogSink(t *testing.T) {
	rt, err := memnative.New(types.DefaultNativeConfig(), memnative.WithInterceptor(func(n goclass.Native) goclass.Native {
		return panickingLog{Native: n}
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	class := goclass.NewClass("jvm")
	require.NoError(t, echo.Register(class))
	class.MustRegister("chatty", types.MethodRead, func(ctx goclass.Context) (int, error) {
		ctx.Log(types.LogLevelDebug, "starting")
		return 0, ctx.Output().Append(ctx.Input())
	})

	res := exec(t, rt, class, echo.MethodEcho, []byte("ABC"))
	assert.Equal(t, types.StatusOK, res.Status)
	assert.Equal(t, []byte("ABC"), res.Output)

	res = exec(t, rt, class, "chatty", []byte("ABC"))
	assert.Equal(t, types.StatusOK, res.Status)
	assert.Equal(t, []byte("ABC"), res.Output)

	res = exec(t, rt, class, "nope", nil)
	assert.Equal(t, types.StatusUnsupported, res.Status)

	assert.Empty(t, rt.Logs())
}
