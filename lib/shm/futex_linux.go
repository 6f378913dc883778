//go:build linux

package shm

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// futex operations without FUTEX_PRIVATE_FLAG, waiters live in other processes
const (
	futexWaitOp = 0
	futexWakeOp = 1
)

// futexWait blocks while *addr == val, up to timeout (negative waits forever).
// Spurious returns are fine, callers re-check the counter.
func futexWait(addr *uint32, val uint32, timeout time.Duration) {
	var tsp *unix.Timespec
	if timeout >= 0 {
		ts := unix.NsecToTimespec(timeout.Nanoseconds())
		tsp = &ts
	}
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWaitOp,
		uintptr(val),
		uintptr(unsafe.Pointer(tsp)),
		0, 0,
	)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR, unix.ETIMEDOUT:
	default:
		Logger.Warningf("futex wait failed: %v", errno)
	}
}

// futexWake wakes up to n waiters blocked on addr.
func futexWake(addr *uint32, n int) {
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWakeOp,
		uintptr(n),
		0, 0, 0,
	)
	if errno != 0 {
		Logger.Warningf("futex wake failed: %v", errno)
	}
}
