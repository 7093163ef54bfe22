// Package badger implements a persistent catalog on BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/konradgithuup/io-backends/internal/logger"
	"github.com/konradgithuup/io-backends/pkg/catalog"
)

// BadgerCatalog implements catalog.Catalog using BadgerDB for persistence.
//
// Records survive restarts, so a backend that is re-initialised over an
// existing namespace still knows which objects it created, with which engine,
// and when.
//
// Thread Safety:
// BadgerDB transactions are safe for concurrent use; the catalog adds no
// locking of its own.
type BadgerCatalog struct {
	db *badger.DB
}

// Config configures a BadgerCatalog.
type Config struct {
	// Path is the directory BadgerDB stores its files in.
	Path string

	// InMemory runs BadgerDB without touching disk. Path is ignored.
	InMemory bool
}

// NewBadgerCatalog opens (or creates) the database at cfg.Path.
func NewBadgerCatalog(ctx context.Context, cfg Config) (*BadgerCatalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger catalog path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	// Records are tiny; compression is not worth it
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	logger.Debug("Opened badger catalog at %q (in-memory=%v)", cfg.Path, cfg.InMemory)
	return &BadgerCatalog{db: db}, nil
}

func (c *BadgerCatalog) Put(ctx context.Context, rec catalog.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	value, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyObject(rec.Namespace, rec.Name), value)
	})
}

func (c *BadgerCatalog) Get(ctx context.Context, namespace, name string) (catalog.Record, error) {
	if err := ctx.Err(); err != nil {
		return catalog.Record{}, err
	}

	var rec catalog.Record
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyObject(namespace, name))
		if err == badger.ErrKeyNotFound {
			return catalog.ErrRecordNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get record: %w", err)
		}

		return item.Value(func(val []byte) error {
			decoded, err := decodeRecord(val)
			if err != nil {
				return err
			}
			rec = decoded
			return nil
		})
	})
	if err != nil {
		return catalog.Record{}, err
	}
	return rec, nil
}

func (c *BadgerCatalog) Delete(ctx context.Context, namespace, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(keyObject(namespace, name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (c *BadgerCatalog) List(ctx context.Context, namespace, prefix string) ([]catalog.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []catalog.Record
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyObjectScan(namespace, prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeRecord(val)
				if err != nil {
					return err
				}
				out = append(out, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BadgerCatalog) Close() error {
	return c.db.Close()
}
