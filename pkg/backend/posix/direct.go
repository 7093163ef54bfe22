package posix

import (
	"github.com/ncw/directio"
	"golang.org/x/sys/unix"

	"github.com/konradgithuup/io-backends/pkg/backend"
)

// setDirect adds O_DIRECT to the status flags of fd. Filesystems without
// direct I/O support (tmpfs on older kernels, some FUSE mounts) fail with
// EINVAL.
func setDirect(fd int) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return err
	}
	_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_DIRECT)
	return err
}

// alignedSpan widens [start, end) to block boundaries.
func alignedSpan(start, end uint64) (uint64, uint64) {
	block := uint64(directio.BlockSize)
	alignedStart := start - start%block
	alignedEnd := end
	if rem := end % block; rem != 0 {
		alignedEnd += block - rem
	}
	return alignedStart, alignedEnd
}

// preadAligned fills buf from an O_DIRECT descriptor. A read that stops off
// a block boundary hit EOF; continuing from there would be misaligned.
func preadAligned(fd int, buf []byte, offset uint64) (uint64, error) {
	var total int
	for total < len(buf) {
		n, err := unix.Pread(fd, buf[total:], int64(offset)+int64(total))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return uint64(total), err
		}
		total += n
		if n == 0 || n%directio.BlockSize != 0 {
			break
		}
	}
	return uint64(total), nil
}

// readDirect reads the clamped range through an aligned bounce buffer.
func (o *Object) readDirect(buf []byte, offset uint64) (uint64, error) {
	st, err := backend.Fstat(o.fd)
	if err != nil {
		return 0, err
	}
	if offset >= st.Size || len(buf) == 0 {
		return 0, nil
	}

	end := min(offset+uint64(len(buf)), st.Size)
	alignedStart, alignedEnd := alignedSpan(offset, end)

	bounce := getBounce(int(alignedEnd - alignedStart))
	defer putBounce(bounce)

	got, err := preadAligned(o.fd, bounce, alignedStart)
	if err != nil {
		return 0, err
	}

	// The file may have shrunk between fstat and pread.
	avail := alignedStart + got
	if avail <= offset {
		return 0, nil
	}
	end = min(end, avail)

	n := copy(buf, bounce[offset-alignedStart:end-alignedStart])
	return uint64(n), nil
}

// writeDirect performs a read-modify-write of the aligned span around
// [offset, offset+len(buf)) and trims the file back to its logical size.
func (o *Object) writeDirect(buf []byte, offset uint64) (uint64, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	st, err := backend.Fstat(o.fd)
	if err != nil {
		return 0, err
	}

	end := offset + uint64(len(buf))
	alignedStart, alignedEnd := alignedSpan(offset, end)

	bounce := getBounce(int(alignedEnd - alignedStart))
	defer putBounce(bounce)

	if alignedStart < st.Size {
		if _, err := preadAligned(o.fd, bounce, alignedStart); err != nil {
			return 0, err
		}
	}

	copy(bounce[offset-alignedStart:], buf)

	if _, err := pwriteFull(o.fd, bounce, alignedStart); err != nil {
		return 0, err
	}

	size := max(st.Size, end)
	if alignedEnd > size {
		if err := unix.Ftruncate(o.fd, int64(size)); err != nil {
			return 0, err
		}
	}

	return uint64(len(buf)), nil
}
