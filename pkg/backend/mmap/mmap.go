// Package mmap implements the memory-mapped storage engine.
//
// Each object maps its file MAP_SHARED read/write. The mapping is kept
// larger than the file so that appends usually only extend the file; when a
// write runs past the mapping, it is remapped at twice the new logical size
// and may move.
//
// Sizes:
//
//	logical size   = file length = bytes visible to Read and Status
//	capacity       = mapping length >= logical size
//
// Bytes between the logical size and the capacity are never touched: they
// lie past EOF and accessing them would fault.
package mmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/konradgithuup/io-backends/internal/logger"
	"github.com/konradgithuup/io-backends/pkg/backend"
)

// EngineName identifies the mmap engine in configuration and catalogs.
const EngineName = "mmap"

// DefaultMinCapacity is the smallest mapping an object starts with.
const DefaultMinCapacity = 1 << 20

// Options configures the mmap engine.
type Options struct {
	// MinCapacity is the smallest initial mapping in bytes. Zero means
	// DefaultMinCapacity. It is rounded up to the page size.
	MinCapacity uint64

	// OnGrow, if set, is called after a mapping grew to capacity bytes.
	OnGrow func(capacity uint64)
}

// Engine opens mmap Objects.
type Engine struct {
	opts Options
}

// NewEngine returns an engine with opts applied.
func NewEngine(opts Options) *Engine {
	if opts.MinCapacity == 0 {
		opts.MinCapacity = DefaultMinCapacity
	}
	page := uint64(os.Getpagesize())
	if rem := opts.MinCapacity % page; rem != 0 {
		opts.MinCapacity += page - rem
	}
	return &Engine{opts: opts}
}

func (e *Engine) Name() string {
	return EngineName
}

// MinCapacity returns the effective minimum mapping size.
func (e *Engine) MinCapacity() uint64 {
	return e.opts.MinCapacity
}

func (e *Engine) Open(f *os.File) (backend.Object, error) {
	fd := int(f.Fd())

	st, err := backend.Fstat(fd)
	if err != nil {
		_ = f.Close()
		return nil, backend.Errorf(backend.ActionInit, "failed to stat %s: %w", f.Name(), err)
	}

	capacity := max(e.opts.MinCapacity, st.Size)
	data, err := unix.Mmap(fd, 0, int(capacity), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, backend.Errorf(backend.ActionInit, "failed to map %d bytes of %s: %w", capacity, f.Name(), err)
	}

	logger.Debug("Mapped %s: size %d, capacity %d", f.Name(), st.Size, capacity)

	return &Object{
		f:      f,
		fd:     fd,
		data:   data,
		size:   st.Size,
		onGrow: e.opts.OnGrow,
	}, nil
}

// Object is an open, memory-mapped file.
type Object struct {
	f  *os.File
	fd int

	// data is the mapping; len(data) is the capacity.
	data []byte

	// size is the logical size and always equals the file length.
	size uint64

	onGrow func(capacity uint64)
}

// Capacity returns the current mapping length.
func (o *Object) Capacity() uint64 {
	return uint64(len(o.data))
}

func (o *Object) Read(buf []byte, offset, length uint64) (uint64, error) {
	if o.f == nil {
		return 0, backend.NewError(backend.ActionRead, backend.ErrClosed)
	}

	length = backend.ClampLength(buf, length)
	if offset >= o.size || length == 0 {
		return 0, nil
	}

	end := o.size
	if length < o.size-offset {
		end = offset + length
	}

	n := copy(buf, o.data[offset:end])
	return uint64(n), nil
}

func (o *Object) Write(buf []byte, offset, length uint64) (uint64, error) {
	if o.f == nil {
		return 0, backend.NewError(backend.ActionWrite, backend.ErrClosed)
	}
	if length == 0 || backend.MalformedWrite(buf, length) {
		return 0, nil
	}
	if err := backend.CheckRange(offset, length); err != nil {
		return 0, backend.NewError(backend.ActionWrite, err)
	}

	newEnd := offset + length
	if newEnd > o.size {
		if err := o.extend(newEnd); err != nil {
			return 0, backend.NewError(backend.ActionWrite, err)
		}
	}

	n := copy(o.data[offset:newEnd], buf[:length])
	return uint64(n), nil
}

// extend grows the file to newEnd and, if needed, the mapping to twice
// that. The file grows first so the mapping never covers bytes past EOF
// that a write will touch. If remapping fails the file is truncated back
// and the object is unchanged.
func (o *Object) extend(newEnd uint64) error {
	if err := unix.Ftruncate(o.fd, int64(newEnd)); err != nil {
		return fmt.Errorf("failed to extend file to %d bytes: %w", newEnd, err)
	}

	if newEnd > o.Capacity() {
		if err := o.remap(2 * newEnd); err != nil {
			if rerr := unix.Ftruncate(o.fd, int64(o.size)); rerr != nil {
				logger.Error("Failed to restore length %d of %s: %v", o.size, o.f.Name(), rerr)
			}
			return err
		}
	}

	o.size = newEnd
	return nil
}

// remap resizes the mapping to capacity bytes. The base address may move,
// which invalidates every slice previously taken from o.data.
func (o *Object) remap(capacity uint64) error {
	data, err := unix.Mremap(o.data, int(capacity), unix.MREMAP_MAYMOVE)
	if err != nil {
		return fmt.Errorf("failed to remap %s to %d bytes: %w", o.f.Name(), capacity, err)
	}

	logger.Debug("Remapped %s: capacity %d -> %d", o.f.Name(), len(o.data), capacity)
	o.data = data

	if o.onGrow != nil {
		o.onGrow(capacity)
	}
	return nil
}

func (o *Object) Sync() error {
	if o.f == nil {
		return backend.NewError(backend.ActionSync, backend.ErrClosed)
	}
	return backend.NewError(backend.ActionSync, unix.Msync(o.data, unix.MS_SYNC))
}

func (o *Object) Status() (backend.Status, error) {
	if o.f == nil {
		return backend.Status{}, backend.NewError(backend.ActionStatus, backend.ErrClosed)
	}

	st, err := backend.Fstat(o.fd)
	if err != nil {
		return backend.Status{}, backend.NewError(backend.ActionStatus, err)
	}
	st.Size = o.size
	return st, nil
}

// Close unmaps the memory and closes the underlying file.
func (o *Object) Close() error {
	if o.f == nil {
		return nil
	}

	var err error
	if o.data != nil {
		err = unix.Munmap(o.data)
		o.data = nil
	}
	if closeErr := o.f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	o.f = nil

	return backend.NewError(backend.ActionClose, err)
}
