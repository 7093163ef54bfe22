//go:build linux

// Package uring implements the io_uring storage engine.
//
// Every read or write is one submission on a ring borrowed from the
// engine's Pool: the entry is tagged with the ring's next correlation id,
// submitted, and the caller blocks until a completion arrives. The result
// is taken from the completion carrying the same id; if there is none the
// call fails with backend.ErrMissingCompletion and is not retried.
//
// Sync is a no-op. The engine relies on the kernel's write completion and
// issues no explicit flush.
package uring

import (
	"fmt"
	"os"
	"runtime"

	"github.com/konradgithuup/io-backends/internal/logger"
	"github.com/konradgithuup/io-backends/pkg/backend"
)

// EngineName identifies the uring engine in configuration and catalogs.
const EngineName = "uring"

const (
	// DefaultQueueDepth is the submission queue depth of each ring.
	DefaultQueueDepth = 8

	// DefaultSQThreadIdle is the SQPOLL thread idle timeout in milliseconds.
	DefaultSQThreadIdle = 1000
)

// Options configures the uring engine.
type Options struct {
	// QueueDepth defaults to DefaultQueueDepth.
	QueueDepth uint32

	// SQPoll enables kernel-side submission polling.
	SQPoll bool

	// SQThreadIdle defaults to DefaultSQThreadIdle.
	SQThreadIdle uint32

	// MaxRings bounds the number of rings. Zero means GOMAXPROCS.
	MaxRings int
}

// Engine opens uring Objects. All objects of an engine share its ring pool.
type Engine struct {
	pool *Pool
}

// NewEngine sets up one ring eagerly so that a kernel without io_uring
// support (or a seccomp policy blocking it) is reported here rather than
// on the first read.
func NewEngine(opts Options) (*Engine, error) {
	if opts.QueueDepth == 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.SQThreadIdle == 0 {
		opts.SQThreadIdle = DefaultSQThreadIdle
	}
	if opts.MaxRings <= 0 {
		opts.MaxRings = runtime.GOMAXPROCS(0)
	}

	pool := NewPool(RingConfig{
		Entries:      opts.QueueDepth,
		SQPoll:       opts.SQPoll,
		SQThreadIdle: opts.SQThreadIdle,
	}, opts.MaxRings)

	if err := pool.Do(func(*Ring) error { return nil }); err != nil {
		return nil, backend.Errorf(backend.ActionInit, "io_uring unavailable: %w", err)
	}

	logger.Debug("uring engine ready: queue depth %d, sqpoll %v, max rings %d",
		opts.QueueDepth, opts.SQPoll, opts.MaxRings)
	return &Engine{pool: pool}, nil
}

func (e *Engine) Name() string {
	return EngineName
}

// Pool exposes the engine's ring pool.
func (e *Engine) Pool() *Pool {
	return e.pool
}

func (e *Engine) Open(f *os.File) (backend.Object, error) {
	return &Object{f: f, fd: int(f.Fd()), pool: e.pool}, nil
}

// Close releases the engine's rings.
func (e *Engine) Close() error {
	return e.pool.Close()
}

// Object is an open file accessed through io_uring.
type Object struct {
	f    *os.File
	fd   int
	pool *Pool
}

func (o *Object) Read(buf []byte, offset, length uint64) (uint64, error) {
	if o.f == nil {
		return 0, backend.NewError(backend.ActionRead, backend.ErrClosed)
	}

	length = backend.ClampLength(buf, length)
	if err := backend.CheckRange(offset, length); err != nil {
		return 0, backend.NewError(backend.ActionRead, err)
	}

	var n int
	err := o.pool.Do(func(r *Ring) error {
		var err error
		n, err = r.Read(o.fd, buf[:length], offset)
		return err
	})
	if err != nil {
		return 0, backend.WithAction(err, backend.ActionRead)
	}
	return uint64(n), nil
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

	var n int
	err := o.pool.Do(func(r *Ring) error {
		var err error
		n, err = r.Write(o.fd, buf[:length], offset)
		return err
	})
	if err != nil {
		return 0, backend.WithAction(err, backend.ActionWrite)
	}
	if uint64(n) < length {
		logger.Debug("Short io_uring write on %s: %d/%d b", o.f.Name(), n, length)
	}
	return uint64(n), nil
}

// Sync is a no-op.
func (o *Object) Sync() error {
	if o.f == nil {
		return backend.NewError(backend.ActionSync, backend.ErrClosed)
	}
	return nil
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
	if err != nil {
		return backend.NewError(backend.ActionClose, fmt.Errorf("failed to close %d: %w", o.fd, err))
	}
	return nil
}
