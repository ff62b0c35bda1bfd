/*
 * Copyright 2024 The propd Authors.
 */

// Package proparea implements the property-area file: a packed trie and
// value heap in one mmap'd file, with the wait-free reader protocol and the
// single-writer protocol described by the property-area spec (C1).
package proparea

import (
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/greenfield-labs/propd/internal/futex"
)

// Area is a handle on one property-area file, either read-only (any number
// of readers may hold one) or the single read-write handle owned by the
// service (spec §3.5).
type Area struct {
	f        *os.File
	data     []byte
	writable bool
	version  uint32

	// writeMu serializes Add/Update; the spec enforces a single logical
	// writer per area at the service layer, this is a second, cheap line
	// of defense inside the package itself.
	writeMu sync.Mutex
}

// OpenReadOnly maps path read-only, validating the header (spec §4.1
// "open_readonly"). Any number of readers may hold a handle concurrently.
func OpenReadOnly(path string) (*Area, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return openCommon(f, false)
}

// OpenWriter maps path read-write for the service's exclusive writer handle.
// It additionally takes the advisory exclusive lock described in spec §5;
// lock contention means another service instance is already running and is
// a fatal condition for the caller to surface.
func OpenWriter(path string) (*Area, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	if err := flockExclusive(f); err != nil {
		f.Close()
		return nil, err
	}
	return openCommon(f, true)
}

func openCommon(f *os.File, writable bool) (*Area, error) {
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < headerSize {
		f.Close()
		return nil, ErrTruncated
	}

	data, err := mmapShared(f, writable)
	if err != nil {
		f.Close()
		return nil, err
	}

	magic := le32(data, offMagic)
	if magic != areaMagic {
		munmap(data)
		f.Close()
		return nil, ErrBadMagic
	}
	version := le32(data, offVersion)
	if version != VersionInline && version != VersionLongValue {
		munmap(data)
		f.Close()
		return nil, ErrBadVersion
	}
	size := le32(data, offSize)
	if uint32(len(data)) < size {
		munmap(data)
		f.Close()
		return nil, ErrTruncated
	}

	return &Area{f: f, data: data, writable: writable, version: version}, nil
}

// Create bump-allocates a zeroed file of size bytes, writes the header, and
// seats an empty root trie node (spec §4.1 "create"). If exclusive is true
// and path already exists, ErrExists is returned.
func Create(path string, size uint32, version uint32, exclusive bool) (*Area, error) {
	if size < headerSize+trieNodeSize {
		size = headerSize + trieNodeSize
	}

	flags := os.O_RDWR | os.O_CREATE
	if exclusive {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrExists
		}
		return nil, err
	}

	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	data, err := mmapShared(f, true)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	putLe32(data, offMagic, areaMagic)
	putLe32(data, offVersion, version)
	putLe32(data, offSize, size)
	putLe32(data, offBumpOffset, headerSize)
	putLe32(data, offSerial, 0)
	putLe32(data, offRootOffset, 0)

	a := &Area{f: f, data: data, writable: true, version: version}

	root, err := a.allocNode()
	if err != nil {
		munmap(data)
		f.Close()
		os.Remove(path)
		return nil, err
	}
	putLe32(data, offRootOffset, root)

	return a, nil
}

// Close unmaps and closes the underlying file.
func (a *Area) Close() error {
	munmap(a.data)
	return a.f.Close()
}

// Version reports which area format (spec §3.2) this handle was opened as.
func (a *Area) Version() uint32 { return a.version }

func (a *Area) headerSerialPtr() *uint32 {
	return (*uint32)(unsafe.Pointer(&a.data[offSerial]))
}

// Serial loads the area header's serial with acquire semantics (spec §4.1
// "serial()"). It is bumped on every successful write and is the futex
// target for wait_any.
func (a *Area) Serial() uint32 {
	return atomic.LoadUint32(a.headerSerialPtr())
}

func (a *Area) bumpHeaderSerial() {
	atomic.AddUint32(a.headerSerialPtr(), 1)
}

// Wait parks until the header serial no longer equals expect, or timeout
// elapses.
func (a *Area) Wait(expect uint32, timeout time.Duration) error {
	return waitOnSerial(a.headerSerialPtr(), expect, timeout)
}

// WaitProp parks until the prop_info at propOffset's serial no longer
// equals expect, or timeout elapses (spec §4.3 "wait(index)").
func (a *Area) WaitProp(propOffset uint32, expect uint32, timeout time.Duration) error {
	return waitOnSerial(serialPtr(a.data, propOffset), expect, timeout)
}

// PropSerial loads a specific prop_info's serial, for callers that already
// hold a PropIndex and want a comparand for WaitProp.
func (a *Area) PropSerial(propOffset uint32) uint32 {
	return atomic.LoadUint32(serialPtr(a.data, propOffset))
}

func waitOnSerial(addr *uint32, expect uint32, timeout time.Duration) error {
	err := futex.Wait(addr, expect, timeout)
	if err == futex.ErrTimeout {
		return ErrTimedOut
	}
	return err
}

func wakeOnSerial(addr *uint32) {
	futex.Wake(addr, futex.MaxWakeAll)
}

// Find walks the trie dot-segment by dot-segment (spec §4.1 "find") and
// returns the offset of the matching prop_info record.
func (a *Area) Find(name string) (uint32, error) {
	segs := splitName(name)
	if len(segs) == 0 || !validSegments(segs) {
		return 0, ErrInvalidName
	}
	root := le32(a.data, offRootOffset)
	node, ok := findNode(a.data, root, segs)
	if !ok {
		return 0, ErrNotFound
	}
	prop := le32(a.data, node+tnPropOffset)
	if prop == 0 {
		return 0, ErrNotFound
	}
	return prop, nil
}

// Read implements the wait-free reader protocol (spec §4.1 "read").
func (a *Area) Read(propOffset uint32) (value []byte, serial uint32) {
	return readProp(a.data, propOffset)
}

// Get is a convenience wrapping Find+Read.
func (a *Area) Get(name string) ([]byte, error) {
	prop, err := a.Find(name)
	if err != nil {
		return nil, err
	}
	val, _ := a.Read(prop)
	return val, nil
}

// Add allocates trie nodes as needed and a new prop_info record (spec §4.1
// "add"). name must not already exist.
func (a *Area) Add(name string, value []byte) (uint32, error) {
	if !a.writable {
		return 0, ErrReadOnly
	}
	segs := splitName(name)
	if len(segs) == 0 || !validSegments(segs) || len(name) > 31 {
		return 0, ErrInvalidName
	}
	if err := a.checkValueLen(name, len(value)); err != nil {
		return 0, err
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if _, err := a.findLocked(name); err == nil {
		return 0, ErrAlreadyExists
	}

	node, err := a.ensurePathLocked(segs)
	if err != nil {
		return 0, err
	}
	if le32(a.data, node+tnPropOffset) != 0 {
		return 0, ErrAlreadyExists
	}

	longOff, err := a.maybeAllocLongValue(name, value)
	if err != nil {
		return 0, err
	}

	prop, err := a.allocPropInfo(name, value, longOff)
	if err != nil {
		return 0, err
	}

	// Publish: the node is reachable from the trie the instant this
	// store lands, so prop must be fully initialized first.
	putLe32(a.data, node+tnPropOffset, prop)

	return prop, nil
}

// Update overwrites the value of an existing prop_info in place, following
// the writer protocol (spec §4.1 "update").
func (a *Area) Update(propOffset uint32, name string, value []byte) error {
	if !a.writable {
		return ErrReadOnly
	}
	if err := a.checkValueLen(name, len(value)); err != nil {
		return err
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	longOff, err := a.maybeAllocLongValue(name, value)
	if err != nil {
		return err
	}
	a.writeProp(propOffset, value, longOff)
	return nil
}

func (a *Area) checkValueLen(name string, n int) error {
	if isReadOnlyName(name) {
		return nil
	}
	if n > MaxInlineValueLen {
		return ErrValueTooLong
	}
	return nil
}

// MaxInlineValueLen mirrors propwire.MaxInlineValueLen without importing
// the wire package, since proparea must not depend on the transport layer.
const MaxInlineValueLen = 91

func isReadOnlyName(name string) bool {
	return len(name) >= 3 && name[:3] == "ro."
}

func (a *Area) maybeAllocLongValue(name string, value []byte) (uint32, error) {
	if len(value) <= MaxInlineValueLen {
		return 0, nil
	}
	if !isReadOnlyName(name) {
		return 0, ErrValueTooLong
	}
	if a.version != VersionLongValue {
		return 0, ErrValueTooLong
	}
	off, err := a.alloc(4 + uint32(len(value)))
	if err != nil {
		return 0, err
	}
	putLe32(a.data, off, uint32(len(value)))
	copy(a.data[off+4:off+4+uint32(len(value))], value)
	return off, nil
}

func (a *Area) findLocked(name string) (uint32, error) {
	segs := splitName(name)
	root := le32(a.data, offRootOffset)
	node, ok := findNode(a.data, root, segs)
	if !ok {
		return 0, ErrNotFound
	}
	prop := le32(a.data, node+tnPropOffset)
	if prop == 0 {
		return 0, ErrNotFound
	}
	return prop, nil
}

// ensurePathLocked walks from root, creating any missing trie nodes for
// segs, and returns the offset of the final segment's node. Caller holds
// writeMu.
func (a *Area) ensurePathLocked(segs []string) (uint32, error) {
	cur := le32(a.data, offRootOffset)
	for _, seg := range segs {
		childField := cur + tnChildrenOffset
		node, found := searchSiblings(a.data, le32(a.data, childField), seg)
		if !found {
			var err error
			node, err = a.allocNamedNode(seg)
			if err != nil {
				return 0, err
			}
			insertSibling(a.data, childField, node, seg)
		}
		cur = node
	}
	return cur, nil
}

// Iterate performs a pre-order walk of the trie, delivering each prop_info
// exactly once (spec §4.1 "iterate").
func (a *Area) Iterate(fn func(name string, value []byte, serial uint32)) {
	root := le32(a.data, offRootOffset)
	a.walk(root, fn)
}

func (a *Area) walk(node uint32, fn func(name string, value []byte, serial uint32)) {
	if node == 0 {
		return
	}
	if prop := le32(a.data, node+tnPropOffset); prop != 0 {
		val, serial := readProp(a.data, prop)
		fn(propName(a.data, prop), val, serial)
	}
	a.walkSiblings(le32(a.data, node+tnChildrenOffset), fn)
}

func (a *Area) walkSiblings(node uint32, fn func(name string, value []byte, serial uint32)) {
	if node == 0 {
		return
	}
	a.walkSiblings(le32(a.data, node+tnLeftOffset), fn)
	a.walk(node, fn)
	a.walkSiblings(le32(a.data, node+tnRightOffset), fn)
}

// ForeachChangedSince visits only entries whose serial's counter is >= the
// counter embedded in serialAfter (spec §4.1 "foreach_prop_info").
func (a *Area) ForeachChangedSince(serialAfter uint32, fn func(name string, value []byte, serial uint32)) {
	_, _, minCounter := SplitSerial(serialAfter)
	a.Iterate(func(name string, value []byte, serial uint32) {
		_, _, counter := SplitSerial(serial)
		if counter >= minCounter {
			fn(name, value, serial)
		}
	})
}
