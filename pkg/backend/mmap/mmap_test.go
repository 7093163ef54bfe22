package mmap

import (
	"bytes"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konradgithuup/io-backends/pkg/backend"
	backendtest "github.com/konradgithuup/io-backends/pkg/backend/testing"
)

func TestMmapEngine(t *testing.T) {
	suite := &backendtest.EngineTestSuite{
		NewEngine: func(t *testing.T) backend.Engine {
			return NewEngine(Options{})
		},
	}
	suite.Run(t)
}

// A single-page minimum forces remaps on almost every appending write.
func TestMmapEngineSmallCapacity(t *testing.T) {
	suite := &backendtest.EngineTestSuite{
		NewEngine: func(t *testing.T) backend.Engine {
			return NewEngine(Options{MinCapacity: 1})
		},
	}
	suite.Run(t)
}

// openObject opens a fresh file in a temp dir, optionally pre-filled.
func openObject(t *testing.T, e *Engine, content []byte) *Object {
	t.Helper()

	path := filepath.Join(t.TempDir(), "obj")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)

	obj, err := e.Open(f)
	require.NoError(t, err)
	t.Cleanup(func() { _ = obj.Close() })

	return obj.(*Object)
}

func TestNewEngineRoundsCapacity(t *testing.T) {
	page := uint64(os.Getpagesize())

	assert.Equal(t, uint64(DefaultMinCapacity), NewEngine(Options{}).MinCapacity())
	assert.Equal(t, page, NewEngine(Options{MinCapacity: 1}).MinCapacity())
	assert.Equal(t, 2*page, NewEngine(Options{MinCapacity: page + 1}).MinCapacity())
}

func TestOpenCapacity(t *testing.T) {
	e := NewEngine(Options{})

	small := openObject(t, e, []byte("Hello, world!"))
	assert.Equal(t, uint64(DefaultMinCapacity), small.Capacity())

	st, err := small.Status()
	require.NoError(t, err)
	assert.Equal(t, uint64(13), st.Size)

	big := openObject(t, e, make([]byte, DefaultMinCapacity+10))
	assert.Equal(t, uint64(DefaultMinCapacity+10), big.Capacity())
}

func TestGrowthBoundary(t *testing.T) {
	var grown []uint64
	e := NewEngine(Options{OnGrow: func(c uint64) { grown = append(grown, c) }})
	obj := openObject(t, e, nil)

	c := obj.Capacity()
	require.Equal(t, uint64(DefaultMinCapacity), c)

	n, err := obj.Write([]byte{0xAB, 0xCD}, c-1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	assert.Equal(t, 2*(c+1), obj.Capacity(), "mapping grows to twice the new logical size")
	assert.Equal(t, []uint64{2 * (c + 1)}, grown)

	buf := make([]byte, 2)
	n, err = obj.Read(buf, c-1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
	assert.Equal(t, []byte{0xAB, 0xCD}, buf)

	st, err := obj.Status()
	require.NoError(t, err)
	assert.Equal(t, c+1, st.Size)
}

func TestWriteWithinCapacityDoesNotRemap(t *testing.T) {
	var grown int
	e := NewEngine(Options{OnGrow: func(uint64) { grown++ }})
	obj := openObject(t, e, nil)

	_, err := obj.Write(make([]byte, 4096), 0, 4096)
	require.NoError(t, err)
	_, err = obj.Write(make([]byte, 4096), DefaultMinCapacity-4096, 4096)
	require.NoError(t, err)

	assert.Zero(t, grown)
	assert.Equal(t, uint64(DefaultMinCapacity), obj.Capacity())
}

func TestFileLengthTracksLogicalSize(t *testing.T) {
	obj := openObject(t, NewEngine(Options{}), nil)

	_, err := obj.Write([]byte("abc"), 10, 3)
	require.NoError(t, err)

	info, err := obj.f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(13), info.Size())
}

func TestReadClamp(t *testing.T) {
	obj := openObject(t, NewEngine(Options{}), []byte("0123456789"))
	buf := make([]byte, 32)

	n, err := obj.Read(buf, 10, 5)
	require.NoError(t, err)
	assert.Zero(t, n, "offset == size")

	n, err = obj.Read(buf, 1<<40, 5)
	require.NoError(t, err)
	assert.Zero(t, n, "offset > capacity")

	n, err = obj.Read(buf, 7, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n, "offset < size < offset+length")
	assert.Equal(t, []byte("789"), buf[:n])
}

func TestMalformedWrite(t *testing.T) {
	var grown int
	obj := openObject(t, NewEngine(Options{OnGrow: func(uint64) { grown++ }}), nil)

	n, err := obj.Write([]byte("ab"), DefaultMinCapacity*4, 3)
	require.NoError(t, err)
	assert.Zero(t, n)

	st, err := obj.Status()
	require.NoError(t, err)
	assert.Zero(t, st.Size)
	assert.Zero(t, grown)
}

// TestGrowthCorrectness checks after every random write that the size is
// max(previous, offset+length) and the range reads back as written.
func TestGrowthCorrectness(t *testing.T) {
	obj := openObject(t, NewEngine(Options{MinCapacity: 1}), nil)
	rng := rand.New(rand.NewPCG(1, 2))

	var model []byte
	for i := range 200 {
		offset := rng.Uint64N(256 << 10)
		length := 1 + rng.Uint64N(8<<10)
		data := make([]byte, length)
		for j := range data {
			data[j] = byte(rng.Uint32())
		}

		n, err := obj.Write(data, offset, length)
		require.NoError(t, err)
		require.Equal(t, length, n)

		end := offset + length
		if end > uint64(len(model)) {
			model = append(model, make([]byte, end-uint64(len(model)))...)
		}
		copy(model[offset:end], data)

		st, err := obj.Status()
		require.NoError(t, err)
		require.Equal(t, uint64(len(model)), st.Size, "write %d", i)
		require.GreaterOrEqual(t, obj.Capacity(), st.Size)

		got := make([]byte, length)
		n, err = obj.Read(got, offset, length)
		require.NoError(t, err)
		require.Equal(t, length, n)
		require.True(t, bytes.Equal(data, got), "write %d: range read back mismatch", i)
	}

	got := make([]byte, len(model))
	n, err := obj.Read(got, 0, uint64(len(got)))
	require.NoError(t, err)
	require.Equal(t, uint64(len(model)), n)
	assert.True(t, bytes.Equal(model, got))
}

func TestSyncPersistsThroughFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obj")
	f, err := os.Create(path)
	require.NoError(t, err)

	obj, err := NewEngine(Options{}).Open(f)
	require.NoError(t, err)

	_, err = obj.Write([]byte("mapped"), 0, 6)
	require.NoError(t, err)
	require.NoError(t, obj.Sync())
	require.NoError(t, obj.Close())
	require.NoError(t, obj.Close(), "close is idempotent")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("mapped"), content)

	_, err = obj.Read(make([]byte, 1), 0, 1)
	assert.ErrorIs(t, err, backend.ErrClosed)
	assert.ErrorIs(t, obj.Sync(), backend.ErrClosed)
}

func TestOpenFailureClosesFile(t *testing.T) {
	// A directory cannot be mapped.
	f, err := os.Open(t.TempDir())
	require.NoError(t, err)

	_, err = NewEngine(Options{}).Open(f)
	require.Error(t, err)
	assert.Equal(t, backend.ActionInit, backend.ActionOf(err))

	assert.ErrorIs(t, f.Close(), os.ErrClosed, "engine must close the file on failure")
}
