/*
 * Copyright 2024 The propd Authors.
 */

//go:build linux

package futex

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// futexWait/futexWake intentionally omit FUTEX_PRIVATE_FLAG: the area
	// words these guard live in MAP_SHARED files mapped independently by
	// the service process and every client process (spec §2, §3.5), and
	// a private futex is keyed per address space -- a FUTEX_WAKE issued
	// by the service would never reach a FUTEX_WAIT parked in a client's
	// own mm, even though both map the same physical page. Using the
	// shared (non-private) futex class is required for cross-process
	// wake to ever be observed (spec §5 "cannot miss a change").
	futexWait = 0 // FUTEX_WAIT
	futexWake = 1 // FUTEX_WAKE
)

func wait(addr *uint32, expect uint32, timeout time.Duration) error {
	var ts *unix.Timespec
	if timeout > 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWait),
		uintptr(expect),
		uintptr(unsafe.Pointer(ts)),
		0, 0,
	)

	switch errno {
	case 0, unix.EAGAIN:
		// EAGAIN: *addr != expect by the time the kernel checked --
		// the caller re-checks and decides whether to re-park.
		return nil
	case unix.ETIMEDOUT:
		return ErrTimeout
	case unix.EINTR:
		// Spurious wake from a signal; the caller re-checks and re-parks.
		return nil
	default:
		return errno
	}
}

func wake(addr *uint32, n int) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWake),
		uintptr(n),
		0, 0, 0,
	)
	if errno != 0 {
		return 0, errno
	}
	return int(r1), nil
}
