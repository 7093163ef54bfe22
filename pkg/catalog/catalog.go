// Package catalog keeps the object handle metadata of a backend: which
// namespace/name pairs exist, where they live on disk and which engine
// created them.
//
// The catalog carries no engine state. It is a correlating record that
// survives restarts (badger implementation) or lives for the process
// lifetime (memory implementation), used for status logging and for
// cleaning up records on delete.
package catalog

import (
	"context"
	"errors"
)

var (
	// ErrRecordNotFound indicates no record exists for the namespace/name pair.
	ErrRecordNotFound = errors.New("catalog record not found")

	// ErrInvalidRecord indicates a record without a name.
	ErrInvalidRecord = errors.New("invalid catalog record")
)

// Record describes one object known to the backend.
type Record struct {
	Namespace string
	Name      string
	Path      string
	Engine    string

	// Key is the object cache key (file descriptor) of the most recent open.
	Key int64

	// Created is the creation time in seconds since the Unix epoch.
	Created int64
}

// Validate checks the fields required to address a record. The namespace
// may be empty: objects can live directly below the backend root.
func (r Record) Validate() error {
	if r.Name == "" {
		return ErrInvalidRecord
	}
	return nil
}

// Catalog stores Records keyed by namespace and name.
//
// Implementations must be safe for concurrent use.
type Catalog interface {
	// Put inserts or replaces the record for rec.Namespace/rec.Name.
	Put(ctx context.Context, rec Record) error

	// Get returns the record or ErrRecordNotFound.
	Get(ctx context.Context, namespace, name string) (Record, error)

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, namespace, name string) error

	// List returns the records of namespace whose name starts with prefix,
	// ordered by name. An empty prefix lists the whole namespace.
	List(ctx context.Context, namespace, prefix string) ([]Record, error)

	// Close releases the catalog's resources.
	Close() error
}

// Key returns the canonical "namespace/name" key of a record.
func Key(namespace, name string) string {
	return namespace + "/" + name
}

