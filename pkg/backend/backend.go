package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/konradgithuup/io-backends/internal/logger"
	"github.com/konradgithuup/io-backends/pkg/catalog"
)

// Backend resolves namespace/name pairs below a root directory, opens them
// through an Engine and keeps the resulting Objects in an ObjectCache.
//
// Every error returned by a Backend method is a *BackendError tagged with the
// Action of that method, so a caller can report failures with one log line.
//
// Thread Safety:
// All methods are safe for concurrent use. Reads and status queries on
// cached objects run concurrently; writes, syncs, inserts and removals are
// serialised by the cache (see ObjectCache).
type Backend struct {
	root    string
	engine  Engine
	cache   *ObjectCache
	catalog catalog.Catalog
	metrics BackendMetrics
}

// Option configures a Backend.
type Option func(*Backend)

// WithCatalog records every created and opened object in c. The backend
// closes c in Fini.
func WithCatalog(c catalog.Catalog) Option {
	return func(b *Backend) {
		b.catalog = c
	}
}

// WithMetrics reports operations to m. A nil m disables metrics.
func WithMetrics(m BackendMetrics) Option {
	return func(b *Backend) {
		if m != nil {
			b.metrics = m
		}
	}
}

// New initialises a backend rooted at root, creating the directory if it
// does not exist.
func New(root string, engine Engine, opts ...Option) (*Backend, error) {
	logger.Info("Initializing %s backend in namespace %s", engine.Name(), root)

	if root == "" {
		return nil, Errorf(ActionInit, "namespace root is empty: %w", ErrInvalidName)
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, NewError(ActionInit, err)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, Errorf(ActionInit, "failed to create namespace directory: %w", err)
	}

	b := &Backend{
		root:    root,
		engine:  engine,
		cache:   NewObjectCache(),
		metrics: NoopMetrics(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.cache.OnResize(b.metrics.SetCachedObjects)

	return b, nil
}

// Root returns the absolute namespace root directory.
func (b *Backend) Root() string {
	return b.root
}

// Engine returns the engine objects are opened with.
func (b *Backend) Engine() Engine {
	return b.engine
}

// Catalog returns the catalog objects are recorded in, or nil.
func (b *Backend) Catalog() catalog.Catalog {
	return b.catalog
}

// Cache exposes the object cache for diagnostics.
func (b *Backend) Cache() *ObjectCache {
	return b.cache
}

// ============================================================================
// Lifecycle
// ============================================================================

// Create creates name below namespace (which may be empty), failing if it
// already exists. Missing parent directories are created.
func (b *Backend) Create(namespace, name string) (*ObjectHandle, error) {
	start := time.Now()
	h, err := b.create(namespace, name)
	b.observe(ActionCreate, 0, start, err)
	return h, err
}

func (b *Backend) create(namespace, name string) (*ObjectHandle, error) {
	path, err := b.objectPath(namespace, name)
	if err != nil {
		return nil, WithAction(err, ActionCreate)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, Errorf(ActionCreate, "failed to create parent directory of %s: %w", path, err)
	}

	logger.Debug("Create new file: %s", path)

	// O_APPEND must not be set: pwrite on an O_APPEND descriptor ignores
	// the offset on Linux.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, NewError(ActionCreate, err)
	}

	h, err := b.register(f, namespace, name, path, ActionCreate)
	if err != nil {
		if rerr := os.Remove(path); rerr != nil {
			logger.Warn("Failed to remove %s after failed create: %v", path, rerr)
		}
		return nil, err
	}

	b.recordObject(h, time.Now().Unix())
	return h, nil
}

// Open opens an existing object.
func (b *Backend) Open(namespace, name string) (*ObjectHandle, error) {
	start := time.Now()
	h, err := b.open(namespace, name)
	b.observe(ActionOpen, 0, start, err)
	return h, err
}

func (b *Backend) open(namespace, name string) (*ObjectHandle, error) {
	path, err := b.objectPath(namespace, name)
	if err != nil {
		return nil, WithAction(err, ActionOpen)
	}

	logger.Debug("Open path: %s", path)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, NewError(ActionOpen, err)
	}

	h, err := b.register(f, namespace, name, path, ActionOpen)
	if err != nil {
		return nil, err
	}

	b.recordObject(h, 0)
	return h, nil
}

// register hands f to the engine and caches the resulting object. f is
// closed on failure.
func (b *Backend) register(f *os.File, namespace, name, path string, action Action) (*ObjectHandle, error) {
	key := int(f.Fd())

	obj, err := b.engine.Open(f)
	if err != nil {
		return nil, WithAction(err, action)
	}

	if err := b.cache.Insert(key, obj); err != nil {
		_ = obj.Close()
		return nil, WithAction(err, action)
	}

	return &ObjectHandle{Key: key, Namespace: namespace, Name: name, Path: path}, nil
}

// Close releases the object. The handle must not be used afterwards; closing
// it twice fails with ErrNotCached.
func (b *Backend) Close(h *ObjectHandle) error {
	start := time.Now()
	err := b.release(h, ActionClose)
	b.observe(ActionClose, 0, start, err)
	return err
}

// Delete closes the object and removes its file and catalog record.
func (b *Backend) Delete(h *ObjectHandle) error {
	start := time.Now()
	err := b.delete(h)
	b.observe(ActionDelete, 0, start, err)
	return err
}

func (b *Backend) delete(h *ObjectHandle) error {
	if err := b.release(h, ActionDelete); err != nil {
		return err
	}

	logger.Debug("Delete file: %s", h.Path)

	if err := os.Remove(h.Path); err != nil {
		return NewError(ActionDelete, err)
	}

	if b.catalog != nil {
		if err := b.catalog.Delete(context.Background(), h.Namespace, h.Name); err != nil {
			logger.Warn("Failed to delete catalog record %s: %v", catalog.Key(h.Namespace, h.Name), err)
		}
	}
	return nil
}

// release removes the object from the cache and closes it.
func (b *Backend) release(h *ObjectHandle, action Action) error {
	obj, err := b.cache.Remove(h.Key)
	if err != nil {
		return WithAction(err, action)
	}

	if err := obj.Close(); err != nil {
		return WithAction(err, action)
	}
	return nil
}

// Fini closes every object still open, the engine if it holds resources of
// its own, and the catalog. The backend must not be used afterwards.
func (b *Backend) Fini() error {
	logger.Info("Releasing backend")

	var errs []error
	for _, obj := range b.cache.Drain() {
		if err := obj.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if c, ok := b.engine.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s engine: %w", b.engine.Name(), err))
		}
	}

	if b.catalog != nil {
		if err := b.catalog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close catalog: %w", err))
		}
	}

	return NewError(ActionFini, errors.Join(errs...))
}

// ============================================================================
// Object Operations
// ============================================================================

// Status reports the modification time and logical size of the object.
func (b *Backend) Status(h *ObjectHandle) (Status, error) {
	start := time.Now()

	var st Status
	err := b.cache.ExecuteRead(h.Key, func(obj Object) error {
		var err error
		st, err = obj.Status()
		return err
	})
	err = WithAction(err, ActionStatus)

	b.observe(ActionStatus, 0, start, err)
	return st, err
}

// Sync flushes the object to its backing store.
func (b *Backend) Sync(h *ObjectHandle) error {
	start := time.Now()

	err := b.cache.ExecuteWrite(h.Key, func(obj Object) error {
		return obj.Sync()
	})
	err = WithAction(err, ActionSync)

	b.observe(ActionSync, 0, start, err)
	return err
}

// Read reads up to length bytes at offset into buf.
func (b *Backend) Read(h *ObjectHandle, buf []byte, offset, length uint64) (uint64, error) {
	start := time.Now()

	var n uint64
	err := b.cache.ExecuteRead(h.Key, func(obj Object) error {
		var err error
		n, err = obj.Read(buf, offset, length)
		return err
	})
	err = WithAction(err, ActionRead)

	if err == nil {
		logger.Debug("Read %d/%d b, offset %d b, path %s", n, length, offset, h.Path)
	}
	b.observe(ActionRead, n, start, err)
	return n, err
}

// Write writes length bytes of buf at offset.
func (b *Backend) Write(h *ObjectHandle, buf []byte, offset, length uint64) (uint64, error) {
	start := time.Now()

	var n uint64
	err := b.cache.ExecuteWrite(h.Key, func(obj Object) error {
		var err error
		n, err = obj.Write(buf, offset, length)
		return err
	})
	err = WithAction(err, ActionWrite)

	if err == nil {
		logger.Debug("Wrote %d/%d b, offset %d b, path %s", n, length, offset, h.Path)
	}
	b.observe(ActionWrite, n, start, err)
	return n, err
}

// ============================================================================
// Listing
// ============================================================================

// GetAll returns an iterator over every entry of namespace.
func (b *Backend) GetAll(namespace string) (*Iterator, error) {
	it, err := b.iterator(namespace, "")
	return it, WithAction(err, ActionCreateIterAll)
}

// GetByPrefix returns an iterator over the entries of namespace whose name
// starts with prefix.
func (b *Backend) GetByPrefix(namespace, prefix string) (*Iterator, error) {
	it, err := b.iterator(namespace, prefix)
	return it, WithAction(err, ActionCreateIterPrefix)
}

func (b *Backend) iterator(namespace, prefix string) (*Iterator, error) {
	path, err := b.namespacePath(namespace)
	if err != nil {
		return nil, err
	}
	return newIterator(path, prefix)
}

// ============================================================================
// Helpers
// ============================================================================

// namespacePath resolves namespace below the root. The empty namespace is
// the root itself.
func (b *Backend) namespacePath(namespace string) (string, error) {
	if namespace == "" {
		return b.root, nil
	}
	if !filepath.IsLocal(namespace) {
		return "", Errorf(ActionInternal, "namespace %q: %w", namespace, ErrInvalidName)
	}
	return filepath.Join(b.root, namespace), nil
}

// objectPath resolves namespace/name below the root. Names may contain
// directories but must not be empty, absolute or escape the namespace.
func (b *Backend) objectPath(namespace, name string) (string, error) {
	dir, err := b.namespacePath(namespace)
	if err != nil {
		return "", err
	}
	if !filepath.IsLocal(name) {
		return "", Errorf(ActionInternal, "object name %q: %w", name, ErrInvalidName)
	}
	return filepath.Join(dir, name), nil
}

// recordObject stores h in the catalog. Catalog failures are logged but
// never fail the operation. created is zero for opens, in which case an
// existing record keeps its creation time.
func (b *Backend) recordObject(h *ObjectHandle, created int64) {
	if b.catalog == nil {
		return
	}

	ctx := context.Background()
	if created == 0 {
		if rec, err := b.catalog.Get(ctx, h.Namespace, h.Name); err == nil {
			created = rec.Created
		}
	}

	rec := catalog.Record{
		Namespace: h.Namespace,
		Name:      h.Name,
		Path:      h.Path,
		Engine:    b.engine.Name(),
		Key:       int64(h.Key),
		Created:   created,
	}
	if err := b.catalog.Put(ctx, rec); err != nil {
		logger.Warn("Failed to record %s in catalog: %v", catalog.Key(h.Namespace, h.Name), err)
	}
}

func (b *Backend) observe(action Action, bytes uint64, start time.Time, err error) {
	b.metrics.ObserveOperation(action.String(), b.engine.Name(), bytes, time.Since(start), err)
}
