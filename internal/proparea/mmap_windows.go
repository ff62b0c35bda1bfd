/*
 * Copyright 2024 The propd Authors.
 */

//go:build windows

package proparea

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// mmapShared maps the whole of f as a shared file mapping. Windows has no
// direct MAP_SHARED/PROT_WRITE equivalent to POSIX mmap, so this goes through
// CreateFileMapping/MapViewOfFile the way the rest of the Go ecosystem's
// Windows mmap shims do.
func mmapShared(f *os.File, writable bool) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()

	protect := uint32(windows.PAGE_READONLY)
	access := uint32(windows.FILE_MAP_READ)
	if writable {
		protect = windows.PAGE_READWRITE
		access = windows.FILE_MAP_WRITE
	}

	h, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, protect, uint32(size>>32), uint32(size), nil)
	if err != nil {
		return nil, err
	}
	defer windows.CloseHandle(h)

	addr, err := windows.MapViewOfFile(h, access, 0, 0, uintptr(size))
	if err != nil {
		return nil, err
	}

	var data []byte
	sh := (*sliceHeader)(unsafe.Pointer(&data))
	sh.Data = addr
	sh.Len = int(size)
	sh.Cap = int(size)
	return data, nil
}

type sliceHeader struct {
	Data uintptr
	Len  int
	Cap  int
}

func munmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&data[0]))
	return windows.UnmapViewOfFile(addr)
}

// flockExclusive locks the whole file exclusively, non-blocking.
func flockExclusive(f *os.File) error {
	ol := new(windows.Overlapped)
	return windows.LockFileEx(windows.Handle(f.Fd()), windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, ^uint32(0), ^uint32(0), ol)
}
