/*
 * Copyright 2024 The propd Authors.
 */

//go:build !windows

package proparea

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapShared maps the whole of f MAP_SHARED, PROT_READ (and PROT_WRITE when
// writable). The returned slice's length equals the file size at the time of
// the call.
func mmapShared(f *os.File, writable bool) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func munmap(data []byte) error {
	return unix.Munmap(data)
}

// flockExclusive takes a non-blocking advisory exclusive lock, used by the
// service at startup (spec §5, "the service takes an exclusive file lock").
func flockExclusive(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}
