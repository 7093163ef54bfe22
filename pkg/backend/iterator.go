package backend

import (
	"io"
	"os"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/konradgithuup/io-backends/internal/logger"
)

// iteratorBatchSize is the number of directory entries fetched per getdents.
const iteratorBatchSize = 64

// Iterator enumerates the entries of one namespace directory lazily,
// optionally filtered by a literal name prefix.
//
// The iterator is single-use. It releases its directory handle when it is
// exhausted or on the first error; Next then keeps returning ("", false, nil).
// Callers that stop early must call Close.
type Iterator struct {
	dir    *os.File
	prefix string
	batch  []os.DirEntry
}

func newIterator(path, prefix string) (*Iterator, error) {
	dir, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := dir.Stat()
	if err != nil {
		_ = dir.Close()
		return nil, err
	}
	if !info.IsDir() {
		_ = dir.Close()
		return nil, &os.PathError{Op: "readdir", Path: path, Err: syscall.ENOTDIR}
	}

	return &Iterator{dir: dir, prefix: prefix}, nil
}

// Next returns the next matching entry name. ok is false once the directory
// is exhausted.
func (it *Iterator) Next() (string, bool, error) {
	for {
		if it.dir == nil {
			return "", false, nil
		}

		if len(it.batch) == 0 {
			entries, err := it.dir.ReadDir(iteratorBatchSize)
			if err == io.EOF || (err == nil && len(entries) == 0) {
				logger.Debug("End of iterator reached. Releasing iterator.")
				it.Close()
				return "", false, nil
			}
			if err != nil {
				logger.Debug("An error occurred. Releasing iterator.")
				it.Close()
				return "", false, NewError(ActionIter, err)
			}
			it.batch = entries
		}

		entry := it.batch[0]
		it.batch = it.batch[1:]

		name := entry.Name()
		if !utf8.ValidString(name) {
			it.Close()
			return "", false, Errorf(ActionIter, "%q: %w", name, ErrNonUTF8Name)
		}

		if strings.HasPrefix(name, it.prefix) {
			return name, true, nil
		}
	}
}

// Close releases the directory handle. It is safe to call more than once.
func (it *Iterator) Close() error {
	if it.dir == nil {
		return nil
	}
	err := it.dir.Close()
	it.dir = nil
	it.batch = nil
	return err
}

// Collect drains the iterator into a slice.
func (it *Iterator) Collect() ([]string, error) {
	var names []string
	for {
		name, ok, err := it.Next()
		if err != nil {
			return names, err
		}
		if !ok {
			return names, nil
		}
		names = append(names, name)
	}
}
