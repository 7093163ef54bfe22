package backend

import (
	"fmt"
	"sync"

	"github.com/konradgithuup/io-backends/internal/logger"
)

// ObjectCache owns every open Object, keyed by the integer identity of its
// file descriptor.
//
// Locking:
// One readers-writer lock guards the whole map. ExecuteRead holds it shared
// for the duration of the operation; Insert, Remove and ExecuteWrite hold it
// exclusively. Writes to different objects are therefore serialised against
// each other. That is the scalability ceiling of this cache: if write
// concurrency across distinct objects becomes a bottleneck, shard the map or
// move to per-entry locks.
//
// Failure Containment:
// A panic raised by an operation while the lock is held is recovered, the
// lock is released and the call fails with an Internal error wrapping
// ErrPanic. Later calls are unaffected.
type ObjectCache struct {
	mu      sync.RWMutex
	objects map[int]Object

	// onResize receives the size after every insert, remove and drain. It
	// runs under the write lock, so successive calls see sizes in mutation
	// order.
	onResize func(int)
}

// NewObjectCache returns an empty cache.
func NewObjectCache() *ObjectCache {
	logger.Debug("Initializing new object store")
	return &ObjectCache{
		objects: make(map[int]Object),
	}
}

// OnResize registers fn to be called with the number of live objects after
// every mutation. fn must not call back into the cache.
func (c *ObjectCache) OnResize(fn func(int)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onResize = fn
}

// resized must be called with c.mu held exclusively.
func (c *ObjectCache) resized() {
	if c.onResize != nil {
		c.onResize(len(c.objects))
	}
}

// Insert takes ownership of obj under key. It fails with ErrAlreadyCached if
// key is live, which guards against descriptor reuse races.
func (c *ObjectCache) Insert(key int, obj Object) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.objects[key]; exists {
		return Errorf(ActionInternal, "cannot insert object %d: %w", key, ErrAlreadyCached)
	}

	c.objects[key] = obj
	c.resized()
	return nil
}

// Remove hands ownership of the object stored under key back to the caller.
// It fails with ErrNotCached if key is absent, which guards against double
// close. The caller must Close the returned object.
func (c *ObjectCache) Remove(key int) (Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, exists := c.objects[key]
	if !exists {
		return nil, Errorf(ActionInternal, "cannot remove object %d: %w", key, ErrNotCached)
	}

	delete(c.objects, key)
	c.resized()
	return obj, nil
}

// ExecuteRead runs fn against the object under key while holding the lock
// shared. fn's error is returned unchanged.
func (c *ObjectCache) ExecuteRead(key int, fn func(Object) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.execute(key, fn)
}

// ExecuteWrite runs fn against the object under key while holding the lock
// exclusively. fn's error is returned unchanged.
func (c *ObjectCache) ExecuteWrite(key int, fn func(Object) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.execute(key, fn)
}

// execute must be called with c.mu held.
func (c *ObjectCache) execute(key int, fn func(Object) error) (err error) {
	obj, exists := c.objects[key]
	if !exists {
		return Errorf(ActionInternal, "cannot execute action on object %d: %w", key, ErrNotCached)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered panic in operation on object %d: %v", key, r)
			err = &BackendError{
				Action: ActionInternal,
				Msg:    fmt.Sprintf("%v: %v", ErrPanic, r),
				Err:    ErrPanic,
			}
		}
	}()

	return fn(obj)
}

// Contains reports whether key is live. Intended for tests and diagnostics.
func (c *ObjectCache) Contains(key int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, exists := c.objects[key]
	return exists
}

// Len returns the number of live objects.
func (c *ObjectCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.objects)
}

// Drain removes every object and returns them. The caller owns the result.
func (c *ObjectCache) Drain() []Object {
	c.mu.Lock()
	defer c.mu.Unlock()

	drained := make([]Object, 0, len(c.objects))
	for key, obj := range c.objects {
		drained = append(drained, obj)
		delete(c.objects, key)
	}
	c.resized()
	return drained
}
