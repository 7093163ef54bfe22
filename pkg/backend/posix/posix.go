// Package posix implements the positioned-I/O storage engine.
//
// Reads and writes go straight to pread(2)/pwrite(2) on the object's
// descriptor. There is no user-space buffering and no growth logic: the
// kernel extends the file on writes past EOF.
//
// Direct mode additionally sets O_DIRECT on the descriptor, bypassing the
// page cache. All I/O then goes through block-aligned bounce buffers.
package posix

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/konradgithuup/io-backends/internal/logger"
	"github.com/konradgithuup/io-backends/pkg/backend"
)

// EngineName identifies the posix engine in configuration and catalogs.
const EngineName = "posix"

// SyncMode selects what Sync does.
type SyncMode string

const (
	// SyncNone makes Sync a no-op. Data reaches the page cache on every
	// write already.
	SyncNone SyncMode = "none"

	// SyncFdatasync flushes file data (and the size) to the device.
	SyncFdatasync SyncMode = "fdatasync"
)

// Options configures the posix engine.
type Options struct {
	// Direct opens objects with O_DIRECT.
	Direct bool

	// SyncMode defaults to SyncNone.
	SyncMode SyncMode
}

// Engine opens posix Objects.
type Engine struct {
	opts Options
}

// NewEngine validates opts and returns an engine.
func NewEngine(opts Options) (*Engine, error) {
	switch opts.SyncMode {
	case "":
		opts.SyncMode = SyncNone
	case SyncNone, SyncFdatasync:
	default:
		return nil, fmt.Errorf("unknown posix sync mode %q", opts.SyncMode)
	}
	return &Engine{opts: opts}, nil
}

func (e *Engine) Name() string {
	return EngineName
}

func (e *Engine) Open(f *os.File) (backend.Object, error) {
	fd := int(f.Fd())

	if !e.opts.Direct {
		return &Object{f: f, fd: fd, syncMode: e.opts.SyncMode}, nil
	}

	if err := setDirect(fd); err != nil {
		_ = f.Close()
		return nil, backend.Errorf(backend.ActionInit, "failed to enable O_DIRECT on %s: %w", f.Name(), err)
	}
	logger.Debug("Enabled O_DIRECT on %s", f.Name())

	return &Object{f: f, fd: fd, syncMode: e.opts.SyncMode, direct: true}, nil
}

// Object is an open file accessed with positioned I/O.
type Object struct {
	f        *os.File
	fd       int
	syncMode SyncMode
	direct   bool
}

func (o *Object) Read(buf []byte, offset, length uint64) (uint64, error) {
	if o.f == nil {
		return 0, backend.NewError(backend.ActionRead, backend.ErrClosed)
	}

	length = backend.ClampLength(buf, length)
	if err := backend.CheckRange(offset, length); err != nil {
		return 0, backend.NewError(backend.ActionRead, err)
	}

	var (
		n   uint64
		err error
	)
	if o.direct {
		n, err = o.readDirect(buf[:length], offset)
	} else {
		n, err = preadFull(o.fd, buf[:length], offset)
	}
	if err != nil {
		return n, backend.NewError(backend.ActionRead, err)
	}
	return n, nil
}

func (o *Object) Write(buf []byte, offset, length uint64) (uint64, error) {
	if o.f == nil {
		return 0, backend.NewError(backend.ActionWrite, backend.ErrClosed)
	}

	if backend.MalformedWrite(buf, length) {
		return 0, nil
	}
	if err := backend.CheckRange(offset, length); err != nil {
		return 0, backend.NewError(backend.ActionWrite, err)
	}

	var (
		n   uint64
		err error
	)
	if o.direct {
		n, err = o.writeDirect(buf[:length], offset)
	} else {
		n, err = pwriteFull(o.fd, buf[:length], offset)
	}
	if err != nil {
		return n, backend.NewError(backend.ActionWrite, err)
	}
	return n, nil
}

func (o *Object) Sync() error {
	if o.f == nil {
		return backend.NewError(backend.ActionSync, backend.ErrClosed)
	}
	if o.syncMode != SyncFdatasync {
		return nil
	}
	return backend.NewError(backend.ActionSync, unix.Fdatasync(o.fd))
}

func (o *Object) Status() (backend.Status, error) {
	if o.f == nil {
		return backend.Status{}, backend.NewError(backend.ActionStatus, backend.ErrClosed)
	}
	st, err := backend.Fstat(o.fd)
	if err != nil {
		return backend.Status{}, backend.NewError(backend.ActionStatus, err)
	}
	return st, nil
}

func (o *Object) Close() error {
	if o.f == nil {
		return nil
	}
	err := o.f.Close()
	o.f = nil
	return backend.NewError(backend.ActionClose, err)
}

// preadFull reads until buf is full or EOF.
func preadFull(fd int, buf []byte, offset uint64) (uint64, error) {
	var total int
	for total < len(buf) {
		n, err := unix.Pread(fd, buf[total:], int64(offset)+int64(total))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return uint64(total), err
		}
		if n == 0 {
			break
		}
		total += n
	}
	return uint64(total), nil
}

// pwriteFull writes all of buf.
func pwriteFull(fd int, buf []byte, offset uint64) (uint64, error) {
	var total int
	for total < len(buf) {
		n, err := unix.Pwrite(fd, buf[total:], int64(offset)+int64(total))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return uint64(total), err
		}
		if n == 0 {
			return uint64(total), io.ErrShortWrite
		}
		total += n
	}
	return uint64(total), nil
}
