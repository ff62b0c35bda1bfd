/*
 * Copyright 2024 The propd Authors.
 */

package proparea

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

// serialPtr returns an atomic-capable pointer to the serial word at the
// start of a prop_info record. mmap'd memory is ordinary addressable memory
// once mapped, so sync/atomic's usual guarantees apply to it the same as to
// any other uint32 in the process.
func serialPtr(data []byte, propOffset uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&data[propOffset+piSerial]))
}

// spinRetries is the bounded spin (spec §4.1: "suggested: 128 iterations of
// pause-yield") tolerated before a reader escalates to FUTEX_WAIT.
const spinRetries = 128

// readProp implements the wait-free reader protocol (spec §4.1):
// load serial, retry while dirty, copy bytes, reload serial and compare.
func readProp(data []byte, propOffset uint32) (value []byte, serial uint32) {
	for {
		for attempt := 0; attempt < spinRetries; attempt++ {
			s1 := atomic.LoadUint32(serialPtr(data, propOffset))
			if length, dirty, _ := SplitSerial(s1); !dirty {
				val := copyPropValue(data, propOffset, length, s1)
				s2 := atomic.LoadUint32(serialPtr(data, propOffset))
				if s2 == s1 {
					return val, s1
				}
				// Changed mid-read; retry.
				break
			}
			runtime.Gosched()
		}
		// Escalate: park on the serial word until it changes.
		s1 := atomic.LoadUint32(serialPtr(data, propOffset))
		if _, dirty, _ := SplitSerial(s1); !dirty {
			continue
		}
		_ = waitOnSerial(serialPtr(data, propOffset), s1, 0)
	}
}

func copyPropValue(data []byte, propOffset uint32, length int, serial uint32) []byte {
	longOff := le32(data, propOffset+piLongValueOffset)
	if longOff == 0 {
		if length > piValueLen {
			length = piValueLen
		}
		buf := make([]byte, length)
		copy(buf, data[propOffset+piValue:propOffset+piValue+uint32(length)])
		return buf
	}

	// Long ro.* value: a u32 length followed by that many bytes, bump-
	// allocated in the heap. The inline serial's length byte cannot hold
	// values over 255, so the heap record carries the authoritative
	// length.
	n := le32(data, longOff)
	buf := make([]byte, n)
	copy(buf, data[longOff+4:longOff+4+n])
	return buf
}

// writeProp implements the single-writer protocol (spec §4.1 "Writer
// protocol"): mark dirty, copy bytes, clear dirty with the new length,
// bump the area header serial, then wake everyone parked on either word.
func (a *Area) writeProp(propOffset uint32, value []byte, longOff uint32) {
	sp := serialPtr(a.data, propOffset)
	prev := atomic.LoadUint32(sp)
	_, _, counter := SplitSerial(prev)
	counter++

	dirtySerial := MakeSerial(len(value), true, counter)
	atomic.StoreUint32(sp, dirtySerial)

	if longOff != 0 {
		putLe32(a.data, propOffset+piLongValueOffset, longOff)
	} else {
		putLe32(a.data, propOffset+piLongValueOffset, 0)
		n := copy(a.data[propOffset+piValue:propOffset+piValue+piValueLen], value)
		for i := n; i < piValueLen; i++ {
			a.data[propOffset+piValue+uint32(i)] = 0
		}
	}

	cleanSerial := MakeSerial(len(value), false, counter)
	atomic.StoreUint32(sp, cleanSerial)

	a.bumpHeaderSerial()

	wakeOnSerial(sp)
	wakeOnSerial(a.headerSerialPtr())
}

func propName(data []byte, propOffset uint32) string {
	n := data[propOffset+piNameLen]
	return string(data[propOffset+piNameStart : propOffset+piNameStart+uint32(n)])
}
