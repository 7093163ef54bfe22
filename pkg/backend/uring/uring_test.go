//go:build linux

package uring

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/konradgithuup/io-backends/pkg/backend"
	backendtest "github.com/konradgithuup/io-backends/pkg/backend/testing"
)

// newEngine returns an engine or skips the test when io_uring is not
// available (old kernel, seccomp, io_uring_disabled sysctl).
func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := NewEngine(opts)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	return e
}

// newRing returns a ring or skips the test.
func newRing(t *testing.T, cfg RingConfig) *Ring {
	t.Helper()
	r, err := NewRing(cfg)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestUringEngine(t *testing.T) {
	suite := &backendtest.EngineTestSuite{
		NewEngine: func(t *testing.T) backend.Engine {
			return newEngine(t, Options{})
		},
	}
	suite.Run(t)
}

func TestUringEngineSQPoll(t *testing.T) {
	suite := &backendtest.EngineTestSuite{
		NewEngine: func(t *testing.T) backend.Engine {
			return newEngine(t, Options{SQPoll: true, MaxRings: 2})
		},
	}
	suite.Run(t)
}

func TestABILayout(t *testing.T) {
	assert.Equal(t, uintptr(120), unsafe.Sizeof(params{}))
	assert.Equal(t, uintptr(40), unsafe.Sizeof(sqringOffsets{}))
	assert.Equal(t, uintptr(40), unsafe.Sizeof(cqringOffsets{}))
	assert.Equal(t, uintptr(sqeSize), unsafe.Sizeof(sqe{}))
	assert.Equal(t, uintptr(cqeSize), unsafe.Sizeof(cqe{}))

	assert.Equal(t, uintptr(32), unsafe.Offsetof(sqe{}.UserData))
	assert.Equal(t, uintptr(24), unsafe.Offsetof(sqe{}.Len))
}

func TestFindCompletion(t *testing.T) {
	cqes := make([]cqe, 8)
	const mask = 7

	// Completions wrap around the end of the ring.
	cqes[6] = cqe{UserData: 40, Res: -5}
	cqes[7] = cqe{UserData: 41, Res: 100}
	cqes[0] = cqe{UserData: 42, Res: 7}

	res, ok := findCompletion(cqes, mask, 6, 9, 42)
	require.True(t, ok)
	assert.Equal(t, int32(7), res)

	res, ok = findCompletion(cqes, mask, 6, 9, 41)
	require.True(t, ok)
	assert.Equal(t, int32(100), res, "result of 41, not of a neighbouring entry")

	_, ok = findCompletion(cqes, mask, 6, 9, 43)
	assert.False(t, ok)

	_, ok = findCompletion(cqes, mask, 6, 6, 40)
	assert.False(t, ok, "empty range")
}

func TestRingCorrelation(t *testing.T) {
	r := newRing(t, RingConfig{Entries: DefaultQueueDepth})

	f, err := os.Create(filepath.Join(t.TempDir(), "ring"))
	require.NoError(t, err)
	defer f.Close()
	fd := int(f.Fd())

	assert.Zero(t, r.LastID())

	// Every operation gets the next id and the byte count of its own
	// completion: writes and reads alternate with different lengths.
	for i := 1; i <= 50; i++ {
		data := []byte(fmt.Sprintf("record-%03d|%s", i, strings.Repeat("x", i)))

		n, err := r.Write(fd, data, uint64(i*1000))
		require.NoError(t, err)
		require.Equal(t, len(data), n)
		require.Equal(t, uint64(2*i-1), r.LastID())

		got := make([]byte, len(data)+3)
		n, err = r.Read(fd, got, uint64(i*1000))
		require.NoError(t, err)
		require.Equal(t, len(data), n, "short read ends at EOF")
		require.Equal(t, data, got[:n])
		require.Equal(t, uint64(2*i), r.LastID())
	}
}

func TestRingZeroLength(t *testing.T) {
	r := newRing(t, RingConfig{Entries: DefaultQueueDepth})

	n, err := r.Read(0, nil, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, r.LastID(), "nothing submitted")
}

func TestRingErrorResult(t *testing.T) {
	r := newRing(t, RingConfig{Entries: DefaultQueueDepth})

	f, err := os.Open(t.TempDir())
	require.NoError(t, err)
	defer f.Close()

	// Reading a directory completes with -EISDIR.
	_, err = r.Read(int(f.Fd()), make([]byte, 16), 0)
	require.Error(t, err)
	assert.False(t, errors.Is(err, backend.ErrMissingCompletion))
}

func TestPoolBoundsRings(t *testing.T) {
	_ = newRing(t, RingConfig{Entries: DefaultQueueDepth})

	p := NewPool(RingConfig{Entries: DefaultQueueDepth}, 2)
	defer p.Close()

	var active, peak atomic.Int32
	var g errgroup.Group
	for range 16 {
		g.Go(func() error {
			return p.Do(func(*Ring) error {
				n := active.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.LessOrEqual(t, p.Size(), 2)
	assert.GreaterOrEqual(t, p.Size(), 1)
}

func TestPoolReusesRings(t *testing.T) {
	_ = newRing(t, RingConfig{Entries: DefaultQueueDepth})

	p := NewPool(RingConfig{Entries: DefaultQueueDepth}, 4)
	defer p.Close()

	var first, second *Ring
	require.NoError(t, p.Do(func(r *Ring) error { first = r; return nil }))
	require.NoError(t, p.Do(func(r *Ring) error { second = r; return nil }))

	assert.Same(t, first, second)
	assert.Equal(t, 1, p.Size())
}

func TestPoolDiscardsBrokenRing(t *testing.T) {
	_ = newRing(t, RingConfig{Entries: DefaultQueueDepth})

	p := NewPool(RingConfig{Entries: DefaultQueueDepth}, 4)
	defer p.Close()

	broken := backend.Errorf(backend.ActionInternal, "id 1: %w", backend.ErrMissingCompletion)
	err := p.Do(func(*Ring) error { return broken })
	assert.ErrorIs(t, err, backend.ErrMissingCompletion)
	assert.Equal(t, 0, p.Size())

	var next *Ring
	require.NoError(t, p.Do(func(r *Ring) error { next = r; return nil }))
	assert.Zero(t, next.LastID(), "a fresh ring replaces the discarded one")
}

func TestPoolClosed(t *testing.T) {
	p := NewPool(RingConfig{Entries: DefaultQueueDepth}, 1)
	require.NoError(t, p.Close())

	err := p.Do(func(*Ring) error { return nil })
	assert.ErrorIs(t, err, backend.ErrClosed)
}

// TestConcurrentCorrelation drives many goroutines through a small pool.
// Each reads back a region only it wrote, so any completion handed to the
// wrong caller shows up as a content or length mismatch.
func TestConcurrentCorrelation(t *testing.T) {
	e := newEngine(t, Options{MaxRings: 3})
	defer e.Close()

	f, err := os.Create(filepath.Join(t.TempDir(), "shared"))
	require.NoError(t, err)

	obj, err := e.Open(f)
	require.NoError(t, err)
	defer obj.Close()

	const workers, region = 12, 333

	var g errgroup.Group
	for w := range workers {
		g.Go(func() error {
			data := make([]byte, region+w)
			for i := range data {
				data[i] = byte(w)
			}
			offset := uint64(w * 1000)

			for range 20 {
				n, err := obj.Write(data, offset, uint64(len(data)))
				if err != nil {
					return err
				}
				if n != uint64(len(data)) {
					return fmt.Errorf("worker %d: wrote %d", w, n)
				}

				got := make([]byte, len(data))
				n, err = obj.Read(got, offset, uint64(len(got)))
				if err != nil {
					return err
				}
				if n != uint64(len(data)) {
					return fmt.Errorf("worker %d: read %d", w, n)
				}
				for _, c := range got {
					if c != byte(w) {
						return fmt.Errorf("worker %d: foreign byte %d", w, c)
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, e.Pool().Size(), 3)
}
