//go:build linux

package uring

// Kernel ABI of io_uring (include/uapi/linux/io_uring.h). Only what the
// engine uses is declared.

const (
	opRead  uint8 = 22 // IORING_OP_READ
	opWrite uint8 = 23 // IORING_OP_WRITE

	sqeIOHardlink uint8 = 1 << 3 // IOSQE_IO_HARDLINK

	setupSQPoll uint32 = 1 << 1 // IORING_SETUP_SQPOLL

	enterGetEvents uint32 = 1 << 0 // IORING_ENTER_GETEVENTS
	enterSQWakeup  uint32 = 1 << 1 // IORING_ENTER_SQ_WAKEUP

	sqNeedWakeup uint32 = 1 << 0 // IORING_SQ_NEED_WAKEUP

	featSingleMmap uint32 = 1 << 0 // IORING_FEAT_SINGLE_MMAP

	offSQRing int64 = 0          // IORING_OFF_SQ_RING
	offCQRing int64 = 0x8000000  // IORING_OFF_CQ_RING
	offSQEs   int64 = 0x10000000 // IORING_OFF_SQES

	sqeSize = 64
	cqeSize = 16

	// maxRW is the kernel's MAX_RW_COUNT for a 4 KiB page size.
	maxRW = 0x7ffff000
)

// sqringOffsets is struct io_sqring_offsets.
type sqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Flags       uint32
	Dropped     uint32
	Array       uint32
	Resv1       uint32
	UserAddr    uint64
}

// cqringOffsets is struct io_cqring_offsets.
type cqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Overflow    uint32
	Cqes        uint32
	Flags       uint32
	Resv1       uint32
	UserAddr    uint64
}

// params is struct io_uring_params.
type params struct {
	SqEntries    uint32
	CqEntries    uint32
	Flags        uint32
	SqThreadCPU  uint32
	SqThreadIdle uint32
	Features     uint32
	WqFd         uint32
	Resv         [3]uint32
	SqOff        sqringOffsets
	CqOff        cqringOffsets
}

// sqe is struct io_uring_sqe, restricted to the read/write layout.
type sqe struct {
	Opcode      uint8
	Flags       uint8
	Ioprio      uint16
	Fd          int32
	Off         uint64
	Addr        uint64
	Len         uint32
	RwFlags     uint32
	UserData    uint64
	BufIndex    uint16
	Personality uint16
	SpliceFdIn  int32
	Addr3       uint64
	_           uint64
}

// cqe is struct io_uring_cqe.
type cqe struct {
	UserData uint64
	Res      int32
	Flags    uint32
}
