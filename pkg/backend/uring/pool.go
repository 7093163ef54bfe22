//go:build linux

package uring

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/konradgithuup/io-backends/internal/logger"
	"github.com/konradgithuup/io-backends/pkg/backend"
)

// Pool hands out rings for exclusive use.
//
// Goroutines have no stable identity to hang a per-thread ring on, so the
// pool plays that role: a caller checks a ring out for one operation and
// returns it afterwards. Rings are created lazily, at most maxRings exist,
// and an idle ring is reused by the next caller. A ring is never driven by
// two goroutines at once, so the ring itself needs no locking.
type Pool struct {
	cfg RingConfig
	sem *semaphore.Weighted

	mu      sync.Mutex
	idle    []*Ring
	created int
	closed  bool
}

// NewPool returns an empty pool bounded to maxRings rings.
func NewPool(cfg RingConfig, maxRings int) *Pool {
	return &Pool{
		cfg: cfg,
		sem: semaphore.NewWeighted(int64(maxRings)),
	}
}

// Do runs fn on an exclusively held ring. A ring that reported a missing
// completion is discarded instead of being returned to the pool: a late
// completion for the abandoned id would otherwise be seen by the next
// caller.
func (p *Pool) Do(fn func(*Ring) error) error {
	r, err := p.acquire(context.Background())
	if err != nil {
		return err
	}

	err = fn(r)
	p.release(r, !errors.Is(err, backend.ErrMissingCompletion))
	return err
}

func (p *Pool) acquire(ctx context.Context) (*Ring, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, backend.ErrClosed
	}
	if n := len(p.idle); n > 0 {
		r := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return r, nil
	}
	cfg := p.cfg
	p.mu.Unlock()

	r, err := NewRing(cfg)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}

	p.mu.Lock()
	p.created++
	if cfg.SQPoll && !r.sqpoll {
		// Do not retry SQPOLL for every new ring.
		p.cfg.SQPoll = false
	}
	p.mu.Unlock()

	return r, nil
}

func (p *Pool) release(r *Ring, healthy bool) {
	defer p.sem.Release(1)

	p.mu.Lock()
	if healthy && !p.closed {
		p.idle = append(p.idle, r)
		p.mu.Unlock()
		return
	}
	p.created--
	p.mu.Unlock()

	if err := r.Close(); err != nil {
		logger.Warn("Failed to close io_uring: %v", err)
	}
}

// Size returns the number of live rings.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// Close closes idle rings. Rings still checked out are closed when they
// are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.created -= len(idle)
	p.mu.Unlock()

	var errs []error
	for _, r := range idle {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}
