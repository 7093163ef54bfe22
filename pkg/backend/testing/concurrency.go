package testing

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	concurrentWorkers = 8
	concurrentRounds  = 32
	concurrentChunk   = 512
)

// RunConcurrencyTests executes tests that drive one backend from many
// goroutines.
func (suite *EngineTestSuite) RunConcurrencyTests(t *testing.T) {
	t.Run("DistinctObjects", suite.testConcurrentDistinctObjects)
	t.Run("SharedObject", suite.testConcurrentSharedObject)
	t.Run("OpenClose", suite.testConcurrentOpenClose)
}

// testConcurrentDistinctObjects gives every worker its own object.
func (suite *EngineTestSuite) testConcurrentDistinctObjects(t *testing.T) {
	b := suite.newBackend(t)

	var g errgroup.Group
	for w := range concurrentWorkers {
		g.Go(func() error {
			h, err := b.Create("workers", fmt.Sprintf("w%d", w))
			if err != nil {
				return err
			}

			for r := range concurrentRounds {
				data := pattern(byte(w*concurrentRounds+r), concurrentChunk)
				offset := uint64(r * concurrentChunk)
				if _, err := b.Write(h, data, offset, uint64(len(data))); err != nil {
					return err
				}

				buf := make([]byte, concurrentChunk)
				n, err := b.Read(h, buf, offset, uint64(len(buf)))
				if err != nil {
					return err
				}
				if !bytes.Equal(data, buf[:n]) {
					return fmt.Errorf("worker %d round %d: read back mismatch", w, r)
				}
			}

			st, err := b.Status(h)
			if err != nil {
				return err
			}
			if st.Size != concurrentRounds*concurrentChunk {
				return fmt.Errorf("worker %d: size %d", w, st.Size)
			}
			return b.Close(h)
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 0, b.Cache().Len())
}

// testConcurrentSharedObject has every worker write its own disjoint region
// of one object, then read all regions concurrently.
func (suite *EngineTestSuite) testConcurrentSharedObject(t *testing.T) {
	b := suite.newBackend(t)
	h := mustCreate(t, b, "", "shared")

	var writers errgroup.Group
	for w := range concurrentWorkers {
		writers.Go(func() error {
			data := pattern(byte(w), concurrentChunk)
			_, err := b.Write(h, data, uint64(w*concurrentChunk), uint64(len(data)))
			return err
		})
	}
	require.NoError(t, writers.Wait())
	assertSize(t, b, h, concurrentWorkers*concurrentChunk)

	var readers errgroup.Group
	for w := range concurrentWorkers {
		readers.Go(func() error {
			buf := make([]byte, concurrentChunk)
			n, err := b.Read(h, buf, uint64(w*concurrentChunk), uint64(len(buf)))
			if err != nil {
				return err
			}
			if !bytes.Equal(pattern(byte(w), concurrentChunk), buf[:n]) {
				return fmt.Errorf("region %d mismatch", w)
			}
			return nil
		})
	}
	require.NoError(t, readers.Wait())
}

// testConcurrentOpenClose opens and closes the same file repeatedly from
// many goroutines. Every open gets its own descriptor and cache entry.
func (suite *EngineTestSuite) testConcurrentOpenClose(t *testing.T) {
	b := suite.newBackend(t)
	h := mustCreate(t, b, "", "reopened")
	mustWrite(t, b, h, []byte("Hello, world!"), 0)
	require.NoError(t, b.Close(h))

	var g errgroup.Group
	for range concurrentWorkers {
		g.Go(func() error {
			for range concurrentRounds {
				h, err := b.Open("", "reopened")
				if err != nil {
					return err
				}

				buf := make([]byte, 6)
				if _, err := b.Read(h, buf, 7, 6); err != nil {
					return err
				}
				if string(buf) != "world!" {
					return fmt.Errorf("unexpected content %q", buf)
				}

				if err := b.Close(h); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 0, b.Cache().Len())
}
