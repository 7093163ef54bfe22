//go:build linux

package uring

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/konradgithuup/io-backends/internal/logger"
	"github.com/konradgithuup/io-backends/pkg/backend"
)

// errRingFull is returned when the submission queue has no free slot. With
// one operation in flight per ring this indicates a kernel that stopped
// consuming submissions.
var errRingFull = errors.New("submission queue full")

// RingConfig configures ring setup.
type RingConfig struct {
	// Entries is the submission queue depth.
	Entries uint32

	// SQPoll enables a kernel submission polling thread.
	SQPoll bool

	// SQThreadIdle is the polling thread's idle timeout in milliseconds.
	SQThreadIdle uint32
}

// Ring is one io_uring instance: a submission and a completion queue shared
// with the kernel.
//
// A Ring is not safe for concurrent use. The Pool guarantees that at most
// one goroutine drives a ring at a time, and every operation submits
// exactly one entry and waits for its completion before returning.
type Ring struct {
	fd     int
	sqpoll bool

	sqRing  []byte
	cqRing  []byte
	sqeMem  []byte
	sharedQ bool

	sqHead    *uint32
	sqTail    *uint32
	sqMask    uint32
	sqEntries uint32
	sqFlags   *uint32
	sqArray   []uint32
	sqes      []sqe

	cqHead *uint32
	cqTail *uint32
	cqMask uint32
	cqes   []cqe

	// nextID is the last correlation id handed out. Ids start at 1.
	nextID uint64
}

// NewRing sets up a ring. If SQPoll is requested but refused with EPERM
// (unprivileged kernels before 5.11), the ring falls back to
// interrupt-driven submission and logs a warning.
func NewRing(cfg RingConfig) (*Ring, error) {
	r, err := setupRing(cfg)
	if errors.Is(err, unix.EPERM) && cfg.SQPoll {
		logger.Warn("io_uring SQPOLL refused (%v), falling back to interrupt-driven submission", err)
		cfg.SQPoll = false
		r, err = setupRing(cfg)
	}
	return r, err
}

func setupRing(cfg RingConfig) (*Ring, error) {
	var p params
	if cfg.SQPoll {
		p.Flags |= setupSQPoll
		p.SqThreadIdle = cfg.SQThreadIdle
	}

	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(cfg.Entries), uintptr(unsafe.Pointer(&p)), 0)
	if errno != 0 {
		return nil, fmt.Errorf("io_uring_setup: %w", errno)
	}

	r := &Ring{fd: int(fd), sqpoll: cfg.SQPoll}
	if err := r.mapQueues(&p); err != nil {
		_ = r.Close()
		return nil, err
	}

	logger.Debug("Set up io_uring fd %d: %d sq entries, %d cq entries, sqpoll=%v",
		r.fd, p.SqEntries, p.CqEntries, cfg.SQPoll)
	return r, nil
}

func (r *Ring) mapQueues(p *params) error {
	sqSize := int(p.SqOff.Array + p.SqEntries*4)
	cqSize := int(p.CqOff.Cqes + p.CqEntries*cqeSize)

	const prot = unix.PROT_READ | unix.PROT_WRITE
	const flags = unix.MAP_SHARED | unix.MAP_POPULATE

	var err error
	if p.Features&featSingleMmap != 0 {
		size := max(sqSize, cqSize)
		r.sqRing, err = unix.Mmap(r.fd, offSQRing, size, prot, flags)
		if err != nil {
			return fmt.Errorf("failed to map rings: %w", err)
		}
		r.cqRing = r.sqRing
		r.sharedQ = true
	} else {
		r.sqRing, err = unix.Mmap(r.fd, offSQRing, sqSize, prot, flags)
		if err != nil {
			return fmt.Errorf("failed to map submission ring: %w", err)
		}
		r.cqRing, err = unix.Mmap(r.fd, offCQRing, cqSize, prot, flags)
		if err != nil {
			return fmt.Errorf("failed to map completion ring: %w", err)
		}
	}

	r.sqeMem, err = unix.Mmap(r.fd, offSQEs, int(p.SqEntries)*sqeSize, prot, flags)
	if err != nil {
		return fmt.Errorf("failed to map submission entries: %w", err)
	}

	r.sqHead = (*uint32)(unsafe.Pointer(&r.sqRing[p.SqOff.Head]))
	r.sqTail = (*uint32)(unsafe.Pointer(&r.sqRing[p.SqOff.Tail]))
	r.sqMask = *(*uint32)(unsafe.Pointer(&r.sqRing[p.SqOff.RingMask]))
	r.sqEntries = *(*uint32)(unsafe.Pointer(&r.sqRing[p.SqOff.RingEntries]))
	r.sqFlags = (*uint32)(unsafe.Pointer(&r.sqRing[p.SqOff.Flags]))
	r.sqArray = unsafe.Slice((*uint32)(unsafe.Pointer(&r.sqRing[p.SqOff.Array])), p.SqEntries)
	r.sqes = unsafe.Slice((*sqe)(unsafe.Pointer(&r.sqeMem[0])), p.SqEntries)

	r.cqHead = (*uint32)(unsafe.Pointer(&r.cqRing[p.CqOff.Head]))
	r.cqTail = (*uint32)(unsafe.Pointer(&r.cqRing[p.CqOff.Tail]))
	r.cqMask = *(*uint32)(unsafe.Pointer(&r.cqRing[p.CqOff.RingMask]))
	r.cqes = unsafe.Slice((*cqe)(unsafe.Pointer(&r.cqRing[p.CqOff.Cqes])), p.CqEntries)

	return nil
}

// Read reads into buf from fd at offset and returns the kernel's byte
// count.
func (r *Ring) Read(fd int, buf []byte, offset uint64) (int, error) {
	return r.do(opRead, fd, buf, offset)
}

// Write writes buf to fd at offset and returns the kernel's byte count.
func (r *Ring) Write(fd int, buf []byte, offset uint64) (int, error) {
	return r.do(opWrite, fd, buf, offset)
}

// LastID returns the most recently allocated correlation id.
func (r *Ring) LastID() uint64 {
	return r.nextID
}

// do submits one operation tagged with a fresh correlation id, waits for a
// completion and returns the result of the completion carrying that id.
func (r *Ring) do(opcode uint8, fd int, buf []byte, offset uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if len(buf) > maxRW {
		buf = buf[:maxRW]
	}

	// The kernel reads and writes buf asynchronously (from the SQ thread
	// in SQPOLL mode); it must not move until the completion is reaped.
	var pinner runtime.Pinner
	pinner.Pin(&buf[0])
	defer pinner.Unpin()

	r.nextID++
	id := r.nextID

	if err := r.push(sqe{
		Opcode:   opcode,
		Flags:    sqeIOHardlink,
		Fd:       int32(fd),
		Off:      offset,
		Addr:     uint64(uintptr(unsafe.Pointer(&buf[0]))),
		Len:      uint32(len(buf)),
		UserData: id,
	}); err != nil {
		return 0, err
	}

	if err := r.enter(); err != nil {
		return 0, err
	}

	res, ok := r.reap(id)
	if !ok {
		return 0, backend.Errorf(backend.ActionInternal, "correlation id %d: %w", id, backend.ErrMissingCompletion)
	}
	if res < 0 {
		return 0, unix.Errno(-res)
	}
	return int(res), nil
}

// push places e in the next free submission slot and publishes it.
func (r *Ring) push(e sqe) error {
	head := atomic.LoadUint32(r.sqHead)
	tail := atomic.LoadUint32(r.sqTail)
	if tail-head >= r.sqEntries {
		return errRingFull
	}

	idx := tail & r.sqMask
	r.sqes[idx] = e
	r.sqArray[idx] = idx

	atomic.StoreUint32(r.sqTail, tail+1)
	return nil
}

// enter submits the pending entry and blocks until a completion is
// available.
func (r *Ring) enter() error {
	flags := enterGetEvents
	if r.sqpoll && atomic.LoadUint32(r.sqFlags)&sqNeedWakeup != 0 {
		flags |= enterSQWakeup
	}

	for {
		_, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER, uintptr(r.fd), 1, 1, uintptr(flags), 0, 0)
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return fmt.Errorf("io_uring_enter: %w", errno)
		}
	}
}

// reap consumes every available completion and returns the result of the
// one tagged id.
func (r *Ring) reap(id uint64) (int32, bool) {
	head := atomic.LoadUint32(r.cqHead)
	tail := atomic.LoadUint32(r.cqTail)

	res, ok := findCompletion(r.cqes, r.cqMask, head, tail, id)

	atomic.StoreUint32(r.cqHead, tail)
	return res, ok
}

// findCompletion scans cqes[head..tail) for the entry tagged id.
func findCompletion(cqes []cqe, mask, head, tail uint32, id uint64) (int32, bool) {
	for ; head != tail; head++ {
		c := &cqes[head&mask]
		if c.UserData == id {
			return c.Res, true
		}
	}
	return 0, false
}

// Close unmaps the queues and closes the ring descriptor.
func (r *Ring) Close() error {
	var errs []error
	if r.sqeMem != nil {
		errs = append(errs, unix.Munmap(r.sqeMem))
		r.sqeMem = nil
	}
	if r.cqRing != nil && !r.sharedQ {
		errs = append(errs, unix.Munmap(r.cqRing))
	}
	r.cqRing = nil
	if r.sqRing != nil {
		errs = append(errs, unix.Munmap(r.sqRing))
		r.sqRing = nil
	}
	if r.fd >= 0 {
		errs = append(errs, unix.Close(r.fd))
		r.fd = -1
	}
	return errors.Join(errs...)
}
