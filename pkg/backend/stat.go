package backend

import (
	"math"

	"golang.org/x/sys/unix"
)

// Fstat reads the modification time and on-disk size of fd.
func Fstat(fd int) (Status, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return Status{}, err
	}
	return Status{ModTime: st.Mtim.Sec, Size: uint64(st.Size)}, nil
}

// CheckRange fails if offset+length does not fit a signed 64-bit file
// offset.
func CheckRange(offset, length uint64) error {
	if offset > math.MaxInt64 || length > math.MaxInt64-offset {
		return unix.EOVERFLOW
	}
	return nil
}
