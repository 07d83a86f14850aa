//go:build (darwin || linux) && (amd64 || arm64)

package ffi

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objclass/goclass/classes/echo"
	"github.com/objclass/goclass/types"
)

func TestOpenMissingLibrary(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), DefaultLibraryName()))
	require.Error(t, err)
}

func TestExport(t *testing.T) {
	d := newFakeDaemon()
	r := NewRuntime(d.library())

	require.NoError(t, r.Export(echoClass(t)))
	assert.Equal(t, map[string]int32{
		"jvm.echo":        int32(types.MethodRead),
		"jvm.echo_object": int32(types.MethodRead),
		"jvm.store_input": int32(types.MethodRead | types.MethodWrite),
	}, d.registered)
}

func TestExportRejected(t *testing.T) {
	d := newFakeDaemon()
	lib := d.library()
	lib.RegisterMethod = func(_, _ string, _ int32, _ uintptr) int32 { return -1 }
	r := NewRuntime(lib)

	err := r.Export(echoClass(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jvm."+echo.MethodEcho)
}

func TestCloseGoLibrary(t *testing.T) {
	lib := newFakeDaemon().library()
	require.NoError(t, lib.Close())
}
