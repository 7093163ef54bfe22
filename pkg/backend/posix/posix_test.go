package posix

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/ncw/directio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/konradgithuup/io-backends/pkg/backend"
	backendtest "github.com/konradgithuup/io-backends/pkg/backend/testing"
)

func newEngine(t *testing.T, opts Options) backend.Engine {
	t.Helper()
	e, err := NewEngine(opts)
	require.NoError(t, err)
	return e
}

func TestPosixEngine(t *testing.T) {
	suite := &backendtest.EngineTestSuite{
		NewEngine: func(t *testing.T) backend.Engine {
			return newEngine(t, Options{})
		},
	}
	suite.Run(t)
}

func TestPosixEngineFdatasync(t *testing.T) {
	suite := &backendtest.EngineTestSuite{
		NewEngine: func(t *testing.T) backend.Engine {
			return newEngine(t, Options{SyncMode: SyncFdatasync})
		},
	}
	suite.Run(t)
}

// skipWithoutDirectIO skips when the filesystem backing t.TempDir rejects
// O_DIRECT.
func skipWithoutDirectIO(t *testing.T) {
	t.Helper()

	f, err := os.Create(filepath.Join(t.TempDir(), "probe"))
	require.NoError(t, err)
	defer f.Close()

	if err := setDirect(int(f.Fd())); err != nil {
		if errors.Is(err, unix.EINVAL) {
			t.Skip("filesystem does not support O_DIRECT")
		}
		require.NoError(t, err)
	}
}

func TestPosixEngineDirect(t *testing.T) {
	suite := &backendtest.EngineTestSuite{
		NewEngine: func(t *testing.T) backend.Engine {
			skipWithoutDirectIO(t)
			return newEngine(t, Options{Direct: true})
		},
	}
	suite.Run(t)
}

func TestNewEngineRejectsUnknownSyncMode(t *testing.T) {
	_, err := NewEngine(Options{SyncMode: "fsync-everything"})
	assert.Error(t, err)

	e, err := NewEngine(Options{})
	require.NoError(t, err)
	assert.Equal(t, SyncNone, e.opts.SyncMode)
	assert.Equal(t, EngineName, e.Name())
}

func TestAlignedSpan(t *testing.T) {
	block := uint64(directio.BlockSize)

	tests := []struct {
		start, end         uint64
		wantStart, wantEnd uint64
	}{
		{0, 1, 0, block},
		{0, block, 0, block},
		{1, block + 1, 0, 2 * block},
		{block - 1, block + 1, 0, 2 * block},
		{block, block, block, block},
		{3*block + 5, 3*block + 6, 3 * block, 4 * block},
	}

	for _, tc := range tests {
		gotStart, gotEnd := alignedSpan(tc.start, tc.end)
		assert.Equal(t, tc.wantStart, gotStart, "start of [%d, %d)", tc.start, tc.end)
		assert.Equal(t, tc.wantEnd, gotEnd, "end of [%d, %d)", tc.start, tc.end)
	}
}

func TestObjectAfterClose(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "obj"))
	require.NoError(t, err)

	obj, err := newEngine(t, Options{}).Open(f)
	require.NoError(t, err)
	require.NoError(t, obj.Close())
	require.NoError(t, obj.Close(), "close is idempotent")

	_, err = obj.Read(make([]byte, 1), 0, 1)
	assert.ErrorIs(t, err, backend.ErrClosed)
	_, err = obj.Write([]byte("x"), 0, 1)
	assert.ErrorIs(t, err, backend.ErrClosed)
	_, err = obj.Status()
	assert.ErrorIs(t, err, backend.ErrClosed)
	assert.ErrorIs(t, obj.Sync(), backend.ErrClosed)
}

func TestWriteOffsetOverflow(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "obj"))
	require.NoError(t, err)

	obj, err := newEngine(t, Options{}).Open(f)
	require.NoError(t, err)
	defer obj.Close()

	_, err = obj.Write([]byte("x"), 1<<63, 1)
	assert.ErrorIs(t, err, unix.EOVERFLOW)
	assert.Equal(t, backend.ActionWrite, backend.ActionOf(err))
}

func TestBouncePool(t *testing.T) {
	for _, size := range []int{smallBounceSize, 2 * smallBounceSize, mediumBounceSize, largeBounceSize, largeBounceSize + smallBounceSize} {
		buf := getBounce(size)
		require.Len(t, buf, size)
		assert.Zero(t, uintptr(unsafe.Pointer(&buf[0]))%uintptr(directio.AlignSize), "size %d", size)

		for i := range buf {
			buf[i] = 0xAA
		}
		putBounce(buf)

		// Reused buffers come back zeroed.
		again := getBounce(size)
		assert.Equal(t, make([]byte, size), again, "size %d", size)
		putBounce(again)
	}
}
