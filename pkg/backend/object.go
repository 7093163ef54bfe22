package backend

import (
	"os"
	"time"
)

// ============================================================================
// Object Interface
// ============================================================================

// Object is the capability every storage engine implements for one open file.
//
// An Object exclusively owns the *os.File it was opened from. While it lives
// in the ObjectCache nothing else may hold a reference to it; once removed,
// the caller that received it is responsible for calling Close.
//
// Size Semantics:
// All sizes reported and enforced by an Object are logical sizes. An engine
// may allocate more (the mmap engine keeps a larger mapping to amortise
// growth) but never exposes bytes past the logical size.
//
// Thread Safety:
// Objects are not safe for concurrent mutation on their own. The ObjectCache
// serialises Write and Sync against everything else and allows Read and
// Status to run concurrently.
type Object interface {
	// Read copies up to length bytes starting at offset into buf and returns
	// the number of bytes copied.
	//
	// The effective length is min(length, len(buf)). A range extending past
	// end-of-data is clamped and yields fewer bytes, never an error. Reading
	// at or beyond end-of-data yields zero bytes.
	Read(buf []byte, offset, length uint64) (uint64, error)

	// Write stores length bytes of buf at offset and returns the number of
	// bytes written. Writing past the logical size extends it to
	// offset+length; the backing file grows transparently.
	//
	// A request naming more bytes than buf holds is malformed: nothing is
	// written, nothing grows and the result is 0.
	Write(buf []byte, offset, length uint64) (uint64, error)

	// Sync flushes buffered state to the backing store. What that means is
	// engine-specific: a no-op for posix and uring, msync for mmap.
	Sync() error

	// Status reports the modification time and logical size.
	Status() (Status, error)

	// Close releases everything the object owns (mapping, file descriptor).
	// It is safe to call more than once.
	Close() error
}

// Status is the result of Object.Status.
type Status struct {
	// ModTime is the modification time in seconds since the Unix epoch.
	ModTime int64

	// Size is the logical size in bytes, not the allocated capacity.
	Size uint64
}

// Time returns ModTime as a time.Time.
func (s Status) Time() time.Time {
	return time.Unix(s.ModTime, 0)
}

// ============================================================================
// Engine Interface
// ============================================================================

// Engine opens Objects of one concrete storage strategy.
//
// The Backend and ObjectCache only ever see Engine and Object, so swapping
// the engine requires no change outside the factory that builds it.
type Engine interface {
	// Name identifies the engine ("posix", "mmap", "uring").
	Name() string

	// Open wraps f, taking ownership of it. Engines that need auxiliary state
	// set it up here. If Open fails, f has been closed.
	Open(f *os.File) (Object, error)
}

// ClampLength returns min(length, len(buf)). Engines use it to bound the
// effective request length by the buffer the caller actually supplied.
func ClampLength(buf []byte, length uint64) uint64 {
	return min(length, uint64(len(buf)))
}

// MalformedWrite reports whether a write names more bytes than buf holds.
func MalformedWrite(buf []byte, length uint64) bool {
	return length > uint64(len(buf))
}
