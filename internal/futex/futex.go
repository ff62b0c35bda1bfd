/*
 * Copyright 2024 The propd Authors.
 */

// Package futex provides the wait/wake primitive the property area's
// reader/writer protocol uses for change notification (spec §5, §9):
// a thread parks on a 32-bit memory word and is woken either by an
// explicit wake from the writer or by the word's value no longer
// matching the comparand it parked on.
//
// On Linux this is the real futex(2) syscall. Everywhere else it is
// simulated with a condition variable keyed by address, since the
// property-area format itself (spec §1, "cross-platform reimplementation")
// is not Linux-specific even though the notification primitive it
// originally rode on is.
package futex

import "time"

// ErrTimeout is returned by Wait when the timeout elapses without the
// word changing or a wake being posted.
var ErrTimeout = errTimeout{}

type errTimeout struct{}

func (errTimeout) Error() string { return "futex: wait timed out" }
func (errTimeout) Timeout() bool { return true }

// Wait parks the calling goroutine until one of:
//   - *addr no longer equals expect (checked atomically before parking,
//     so a change that lands between the caller's load and the call to
//     Wait is never missed);
//   - a Wake targeting addr is observed;
//   - timeout elapses, in which case Wait returns ErrTimeout.
//
// A timeout of 0 waits forever.
func Wait(addr *uint32, expect uint32, timeout time.Duration) error {
	return wait(addr, expect, timeout)
}

// Wake wakes up to n goroutines parked on addr via Wait. n = MaxWakeAll
// wakes every waiter, matching the writer protocol's "wake-all" step
// (spec §4.1 step 6).
func Wake(addr *uint32, n int) (int, error) {
	return wake(addr, n)
}

// MaxWakeAll requests that Wake wake every waiter on the address.
const MaxWakeAll = 1<<31 - 1
