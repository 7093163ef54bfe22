package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konradgithuup/io-backends/pkg/backend"
)

// mustCreate creates namespace/name and fails the test if it errors.
func mustCreate(t *testing.T, b *backend.Backend, namespace, name string) *backend.ObjectHandle {
	t.Helper()
	h, err := b.Create(namespace, name)
	require.NoError(t, err, "Create should succeed")
	require.NotNil(t, h)
	return h
}

// mustOpen opens namespace/name and fails the test if it errors.
func mustOpen(t *testing.T, b *backend.Backend, namespace, name string) *backend.ObjectHandle {
	t.Helper()
	h, err := b.Open(namespace, name)
	require.NoError(t, err, "Open should succeed")
	require.NotNil(t, h)
	return h
}

// mustWrite writes all of data at offset.
func mustWrite(t *testing.T, b *backend.Backend, h *backend.ObjectHandle, data []byte, offset uint64) {
	t.Helper()
	n, err := b.Write(h, data, offset, uint64(len(data)))
	require.NoError(t, err, "Write should succeed")
	require.Equal(t, uint64(len(data)), n, "Write should report all bytes written")
}

// mustRead reads length bytes at offset and returns what was read.
func mustRead(t *testing.T, b *backend.Backend, h *backend.ObjectHandle, offset, length uint64) []byte {
	t.Helper()
	buf := make([]byte, length)
	n, err := b.Read(h, buf, offset, length)
	require.NoError(t, err, "Read should succeed")
	require.LessOrEqual(t, n, length)
	return buf[:n]
}

// mustStatus returns the object status.
func mustStatus(t *testing.T, b *backend.Backend, h *backend.ObjectHandle) backend.Status {
	t.Helper()
	st, err := b.Status(h)
	require.NoError(t, err, "Status should succeed")
	return st
}

// assertSize checks the logical size reported by Status.
func assertSize(t *testing.T, b *backend.Backend, h *backend.ObjectHandle, expected uint64) {
	t.Helper()
	assert.Equal(t, expected, mustStatus(t, b, h).Size, "size mismatch")
}

// assertAction checks that err is a *BackendError tagged with action.
func assertAction(t *testing.T, err error, action backend.Action) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, action, backend.ActionOf(err), "error action mismatch: %v", err)
}

// pattern returns n deterministic bytes derived from seed.
func pattern(seed byte, n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed + byte(i*7)
	}
	return data
}
