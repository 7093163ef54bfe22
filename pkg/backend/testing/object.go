package testing

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konradgithuup/io-backends/pkg/backend"
)

// RunObjectTests executes the Object contract tests.
func (suite *EngineTestSuite) RunObjectTests(t *testing.T) {
	t.Run("HelloWorld", suite.testHelloWorld)
	t.Run("Read_ClampToSize", suite.testReadClampToSize)
	t.Run("Read_ClampToBuffer", suite.testReadClampToBuffer)
	t.Run("Read_EmptyObject", suite.testReadEmptyObject)
	t.Run("Write_GrowsSize", suite.testWriteGrowsSize)
	t.Run("Write_Sparse", suite.testWriteSparse)
	t.Run("Write_Overwrite", suite.testWriteOverwrite)
	t.Run("Write_ZeroLength", suite.testWriteZeroLength)
	t.Run("Write_ShortBuffer", suite.testWriteShortBuffer)
	t.Run("Write_Large", suite.testWriteLarge)
	t.Run("Sync", suite.testSync)
	t.Run("Status_ModTime", suite.testStatusModTime)
	t.Run("Persistence", suite.testPersistence)
	t.Run("Close_Twice", suite.testCloseTwice)
	t.Run("Operations_AfterClose", suite.testOperationsAfterClose)
	t.Run("Equivalence", suite.testEquivalence)
}

// ============================================================================
// End-to-End
// ============================================================================

func (suite *EngineTestSuite) testHelloWorld(t *testing.T) {
	b := suite.newBackend(t)
	h := mustCreate(t, b, "", "a")

	data := []byte("Hello, world!")
	n, err := b.Write(h, data, 0, uint64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, uint64(13), n)

	assertSize(t, b, h, 13)

	assert.Equal(t, []byte("world!"), mustRead(t, b, h, 7, 6))
	assert.Equal(t, []byte(", wor"), mustRead(t, b, h, 5, 5))

	require.NoError(t, b.Close(h))
	assert.False(t, b.Cache().Contains(h.Key), "key should be gone after close")
}

// ============================================================================
// Read
// ============================================================================

func (suite *EngineTestSuite) testReadClampToSize(t *testing.T) {
	b := suite.newBackend(t)
	h := mustCreate(t, b, "", "clamp")
	mustWrite(t, b, h, []byte("0123456789"), 0)

	// offset < size < offset+length
	assert.Equal(t, []byte("89"), mustRead(t, b, h, 8, 10))

	// offset == size
	assert.Empty(t, mustRead(t, b, h, 10, 5))

	// offset > size
	assert.Empty(t, mustRead(t, b, h, 1000, 5))

	assertSize(t, b, h, 10)
}

func (suite *EngineTestSuite) testReadClampToBuffer(t *testing.T) {
	b := suite.newBackend(t)
	h := mustCreate(t, b, "", "buffer")
	mustWrite(t, b, h, []byte("0123456789"), 0)

	buf := make([]byte, 4)
	n, err := b.Read(h, buf, 2, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)
	assert.Equal(t, []byte("2345"), buf)
}

func (suite *EngineTestSuite) testReadEmptyObject(t *testing.T) {
	b := suite.newBackend(t)
	h := mustCreate(t, b, "", "empty")

	assert.Empty(t, mustRead(t, b, h, 0, 16))
	assertSize(t, b, h, 0)
}

// ============================================================================
// Write
// ============================================================================

func (suite *EngineTestSuite) testWriteGrowsSize(t *testing.T) {
	b := suite.newBackend(t)
	h := mustCreate(t, b, "", "grow")

	writes := []struct {
		offset uint64
		length int
	}{
		{0, 10},
		{5, 10},
		{2, 3},
		{4000, 200},
		{100, 1},
	}

	var size uint64
	for i, w := range writes {
		data := pattern(byte(i+1), w.length)
		mustWrite(t, b, h, data, w.offset)

		size = max(size, w.offset+uint64(w.length))
		assertSize(t, b, h, size)
		assert.Equal(t, data, mustRead(t, b, h, w.offset, uint64(w.length)))
	}
}

func (suite *EngineTestSuite) testWriteSparse(t *testing.T) {
	b := suite.newBackend(t)
	h := mustCreate(t, b, "", "sparse")

	mustWrite(t, b, h, []byte("tail"), 100)
	assertSize(t, b, h, 104)

	assert.Equal(t, make([]byte, 100), mustRead(t, b, h, 0, 100))
	assert.Equal(t, []byte("tail"), mustRead(t, b, h, 100, 4))
}

func (suite *EngineTestSuite) testWriteOverwrite(t *testing.T) {
	b := suite.newBackend(t)
	h := mustCreate(t, b, "", "overwrite")

	mustWrite(t, b, h, []byte("Hello, world!"), 0)
	mustWrite(t, b, h, []byte("WORLD"), 7)

	assertSize(t, b, h, 13)
	assert.Equal(t, []byte("Hello, WORLD!"), mustRead(t, b, h, 0, 13))
}

func (suite *EngineTestSuite) testWriteZeroLength(t *testing.T) {
	b := suite.newBackend(t)
	h := mustCreate(t, b, "", "zero")

	n, err := b.Write(h, []byte("ignored"), 50, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
	assertSize(t, b, h, 0)
}

func (suite *EngineTestSuite) testWriteShortBuffer(t *testing.T) {
	b := suite.newBackend(t)
	h := mustCreate(t, b, "", "short")
	mustWrite(t, b, h, []byte("abc"), 0)

	n, err := b.Write(h, []byte("xyz"), 100, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	assertSize(t, b, h, 3)
	assert.Equal(t, []byte("abc"), mustRead(t, b, h, 0, 10))
}

func (suite *EngineTestSuite) testWriteLarge(t *testing.T) {
	b := suite.newBackend(t)
	h := mustCreate(t, b, "", "large")

	// Larger than the default mmap capacity.
	data := pattern(3, 3<<20+123)
	mustWrite(t, b, h, data, 0)

	assertSize(t, b, h, uint64(len(data)))
	got := mustRead(t, b, h, 0, uint64(len(data)))
	assert.True(t, bytes.Equal(data, got), "large read back mismatch")
}

// ============================================================================
// Sync and Status
// ============================================================================

func (suite *EngineTestSuite) testSync(t *testing.T) {
	b := suite.newBackend(t)
	h := mustCreate(t, b, "", "sync")
	mustWrite(t, b, h, []byte("durable"), 0)

	require.NoError(t, b.Sync(h))

	onDisk, err := os.ReadFile(h.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), onDisk)
}

func (suite *EngineTestSuite) testStatusModTime(t *testing.T) {
	b := suite.newBackend(t)
	h := mustCreate(t, b, "", "mtime")
	mustWrite(t, b, h, []byte("x"), 0)

	st := mustStatus(t, b, h)
	assert.WithinDuration(t, time.Now(), st.Time(), time.Minute)
}

// ============================================================================
// Lifecycle
// ============================================================================

func (suite *EngineTestSuite) testPersistence(t *testing.T) {
	b := suite.newBackend(t)
	h := mustCreate(t, b, "ns", "persist")
	data := pattern(9, 5000)
	mustWrite(t, b, h, data, 0)
	require.NoError(t, b.Sync(h))
	require.NoError(t, b.Close(h))

	// The backing file holds exactly the logical size.
	info, err := os.Stat(filepath.Join(b.Root(), "ns", "persist"))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), info.Size())

	h = mustOpen(t, b, "ns", "persist")
	assertSize(t, b, h, uint64(len(data)))
	assert.Equal(t, data, mustRead(t, b, h, 0, uint64(len(data))))
}

func (suite *EngineTestSuite) testCloseTwice(t *testing.T) {
	b := suite.newBackend(t)
	h := mustCreate(t, b, "", "twice")

	require.NoError(t, b.Close(h))

	err := b.Close(h)
	assertAction(t, err, backend.ActionClose)
	assert.ErrorIs(t, err, backend.ErrNotCached)
}

func (suite *EngineTestSuite) testOperationsAfterClose(t *testing.T) {
	b := suite.newBackend(t)
	h := mustCreate(t, b, "", "closed")
	require.NoError(t, b.Close(h))

	buf := make([]byte, 4)

	_, err := b.Read(h, buf, 0, 4)
	assertAction(t, err, backend.ActionRead)
	assert.ErrorIs(t, err, backend.ErrNotCached)

	_, err = b.Write(h, buf, 0, 4)
	assertAction(t, err, backend.ActionWrite)
	assert.ErrorIs(t, err, backend.ErrNotCached)

	_, err = b.Status(h)
	assertAction(t, err, backend.ActionStatus)

	err = b.Sync(h)
	assertAction(t, err, backend.ActionSync)
}

// ============================================================================
// Equivalence
// ============================================================================

// op is one step of the equivalence script. Writes use pattern(seed, length).
type op struct {
	write  bool
	reopen bool
	offset uint64
	length uint64
	seed   byte
}

// equivalenceScript crosses page, block and default mapping boundaries.
var equivalenceScript = []op{
	{write: true, offset: 0, length: 13, seed: 1},
	{offset: 0, length: 13},
	{offset: 5, length: 100},
	{write: true, offset: 4093, length: 10, seed: 2},
	{offset: 4090, length: 20},
	{write: true, offset: 100000, length: 5000, seed: 3},
	{offset: 99990, length: 6000},
	{reopen: true},
	{offset: 0, length: 105000},
	{write: true, offset: 1<<20 - 1, length: 2, seed: 4},
	{offset: 1<<20 - 4, length: 8},
	{write: true, offset: 7, length: 1 << 20, seed: 5},
	{offset: 1<<20 - 8, length: 64},
	{offset: 1 << 30, length: 8},
	{reopen: true},
	{offset: 0, length: 2 << 20},
}

// testEquivalence drives the script against the engine and against an
// in-memory model. Every engine matching the model byte for byte is what
// makes the engines interchangeable.
func (suite *EngineTestSuite) testEquivalence(t *testing.T) {
	b := suite.newBackend(t)
	h := mustCreate(t, b, "", "equivalence")

	var model []byte
	for i, step := range equivalenceScript {
		switch {
		case step.reopen:
			require.NoError(t, b.Close(h), "step %d", i)
			h = mustOpen(t, b, "", "equivalence")

		case step.write:
			data := pattern(step.seed, int(step.length))
			mustWrite(t, b, h, data, step.offset)

			end := step.offset + step.length
			if end > uint64(len(model)) {
				model = append(model, make([]byte, end-uint64(len(model)))...)
			}
			copy(model[step.offset:end], data)

		default:
			got := mustRead(t, b, h, step.offset, step.length)

			var want []byte
			if step.offset < uint64(len(model)) {
				end := min(step.offset+step.length, uint64(len(model)))
				want = model[step.offset:end]
			}
			require.True(t, bytes.Equal(want, got), "step %d: read(%d, %d) mismatch (got %d bytes, want %d)",
				i, step.offset, step.length, len(got), len(want))
		}

		require.Equal(t, uint64(len(model)), mustStatus(t, b, h).Size, "step %d: size mismatch", i)
	}
}
