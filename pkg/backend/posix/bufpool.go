package posix

import (
	"sync"

	"github.com/ncw/directio"
)

// ============================================================================
// Bounce Buffer Pool for Direct I/O
// ============================================================================
//
// O_DIRECT transfers need block-aligned memory. Every direct read or write
// goes through a bounce buffer covering the aligned span of the request, so
// buffers are pooled by size class instead of allocated per call.
//
// Buffers larger than largeBounceSize are allocated directly and not pooled.

const (
	// smallBounceSize covers requests within a single block.
	smallBounceSize = directio.BlockSize

	// mediumBounceSize covers typical record-sized requests.
	mediumBounceSize = 64 << 10

	// largeBounceSize covers bulk transfers.
	largeBounceSize = 1 << 20
)

// bouncePool manages aligned byte slices organized by size class.
type bouncePool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
}

func newAligned(size int) *[]byte {
	buf := directio.AlignedBlock(size)
	// Pin the capacity to the size class so Put can recognise it.
	buf = buf[:size:size]
	return &buf
}

var globalBouncePool = &bouncePool{
	small:  sync.Pool{New: func() any { return newAligned(smallBounceSize) }},
	medium: sync.Pool{New: func() any { return newAligned(mediumBounceSize) }},
	large:  sync.Pool{New: func() any { return newAligned(largeBounceSize) }},
}

// Get returns a zeroed, block-aligned slice of exactly size bytes.
func (p *bouncePool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= smallBounceSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= mediumBounceSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= largeBounceSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return *newAligned(size)
	}

	buf := (*bufPtr)[:size]
	// Bytes not covered by a later pread would otherwise leak from the
	// previous user into the file.
	clear(buf)
	return buf
}

// Put returns buf to the pool. Buffers not obtained from a size class are
// dropped.
func (p *bouncePool) Put(buf []byte) {
	if buf == nil {
		return
	}

	full := buf[:cap(buf)]
	switch cap(buf) {
	case smallBounceSize:
		p.small.Put(&full)
	case mediumBounceSize:
		p.medium.Put(&full)
	case largeBounceSize:
		p.large.Put(&full)
	}
}

func getBounce(size int) []byte {
	return globalBouncePool.Get(size)
}

func putBounce(buf []byte) {
	globalBouncePool.Put(buf)
}
