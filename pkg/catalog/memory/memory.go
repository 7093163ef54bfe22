// Package memory implements an in-process catalog.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/konradgithuup/io-backends/pkg/catalog"
)

// MemoryCatalog implements catalog.Catalog with a map guarded by a
// readers-writer lock. Records are lost when the process exits.
type MemoryCatalog struct {
	mu      sync.RWMutex
	records map[string]catalog.Record
}

// NewMemoryCatalog returns an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		records: make(map[string]catalog.Record),
	}
}

func (c *MemoryCatalog) Put(ctx context.Context, rec catalog.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.records[catalog.Key(rec.Namespace, rec.Name)] = rec
	return nil
}

func (c *MemoryCatalog) Get(ctx context.Context, namespace, name string) (catalog.Record, error) {
	if err := ctx.Err(); err != nil {
		return catalog.Record{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[catalog.Key(namespace, name)]
	if !ok {
		return catalog.Record{}, catalog.ErrRecordNotFound
	}
	return rec, nil
}

func (c *MemoryCatalog) Delete(ctx context.Context, namespace, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.records, catalog.Key(namespace, name))
	return nil
}

func (c *MemoryCatalog) List(ctx context.Context, namespace, prefix string) ([]catalog.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []catalog.Record
	for _, rec := range c.records {
		if rec.Namespace == namespace && strings.HasPrefix(rec.Name, prefix) {
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *MemoryCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = make(map[string]catalog.Record)
	return nil
}
