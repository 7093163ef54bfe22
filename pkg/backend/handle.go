package backend

import "fmt"

// ObjectHandle identifies an open object. It is returned by Create and Open
// and handed back on every later call.
type ObjectHandle struct {
	// Key is the object cache key: the integer value of the file descriptor
	// at open time.
	Key int

	Namespace string
	Name      string

	// Path is the resolved filesystem path.
	Path string
}

func (h *ObjectHandle) String() string {
	return fmt.Sprintf("%s (fd %d)", h.Path, h.Key)
}
