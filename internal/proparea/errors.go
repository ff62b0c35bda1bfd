/*
 * Copyright 2024 The propd Authors.
 */

package proparea

import "errors"

var (
	// ErrBadMagic is returned by OpenReadOnly/OpenWriter when the file
	// does not start with the expected magic word.
	ErrBadMagic = errors.New("proparea: bad magic")
	// ErrBadVersion is returned by OpenReadOnly/OpenWriter when the area's
	// version word is neither 1 nor 2.
	ErrBadVersion = errors.New("proparea: unsupported version")
	// ErrTruncated is returned by OpenReadOnly/OpenWriter when the file is smaller than a
	// header, or smaller than the size its own header claims.
	ErrTruncated = errors.New("proparea: truncated area file")
	// ErrExists is returned by Create when create-exclusive was
	// requested and the path already exists.
	ErrExists = errors.New("proparea: area file already exists")
	// ErrNotFound is returned by Find (and Get via it) when no prop_info
	// matches the requested name.
	ErrNotFound = errors.New("proparea: property not found")
	// ErrAlreadyExists is returned by Add when the name is already
	// present in the area.
	ErrAlreadyExists = errors.New("proparea: property already exists")
	// ErrAreaFull is returned by Add/Update when the bump allocator has
	// no room left for the requested bytes.
	ErrAreaFull = errors.New("proparea: area full")
	// ErrInvalidName is returned for an empty name, a name with an empty
	// dot-separated segment, or (by Add) a name longer than 31 bytes. The
	// character class is not checked here.
	ErrInvalidName = errors.New("proparea: invalid property name")
	// ErrValueTooLong is returned when a value exceeds the inline limit
	// for a non-ro.* property, or when a long ro.* value is written to a
	// version-1 area, which has no long-value heap.
	ErrValueTooLong = errors.New("proparea: value too long")
	// ErrReadOnly is returned by Update when the target is a read-only
	// area (opened via OpenReadOnly).
	ErrReadOnly = errors.New("proparea: area is read-only")
	// ErrTimedOut is returned by Wait/WaitProp when the timeout elapses.
	ErrTimedOut = errors.New("proparea: wait timed out")
)
