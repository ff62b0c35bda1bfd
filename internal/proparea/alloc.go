/*
 * Copyright 2024 The propd Authors.
 */

package proparea

// alloc bump-allocates n bytes (4-byte aligned) from the area heap. Offsets
// are never freed or moved (spec §3.2 invariant); exhaustion is a hard
// error with no remap (spec §3.2 "Area size is fixed at creation").
func (a *Area) alloc(n uint32) (uint32, error) {
	n = align4(n)
	bump := le32(a.data, offBumpOffset)
	size := le32(a.data, offSize)
	if bump+n > size {
		return 0, ErrAreaFull
	}
	putLe32(a.data, offBumpOffset, bump+n)
	return bump, nil
}

// allocNode allocates a zeroed, unlinked trie node.
func (a *Area) allocNode() (uint32, error) {
	off, err := a.alloc(trieNodeSize)
	if err != nil {
		return 0, err
	}
	for i := uint32(0); i < trieNodeSize; i++ {
		a.data[off+i] = 0
	}
	return off, nil
}

// allocNamedNode allocates the length-prefixed segment bytes plus a node
// pointing at them.
func (a *Area) allocNamedNode(seg string) (uint32, error) {
	nameOff, err := a.alloc(1 + uint32(len(seg)))
	if err != nil {
		return 0, err
	}
	a.data[nameOff] = byte(len(seg))
	copy(a.data[nameOff+1:nameOff+1+uint32(len(seg))], seg)

	node, err := a.allocNode()
	if err != nil {
		return 0, err
	}
	putLe32(a.data, node+tnNameOffset, nameOff)
	return node, nil
}

// allocPropInfo allocates and fully initializes a new prop_info record
// (serial clean, counter 0) before it is ever linked into the trie.
func (a *Area) allocPropInfo(name string, value []byte, longValueOffset uint32) (uint32, error) {
	size := propInfoFixedSize + uint32(len(name))
	off, err := a.alloc(size)
	if err != nil {
		return 0, err
	}

	serial := MakeSerial(len(value), false, 0)
	putLe32(a.data, off+piSerial, serial)
	putLe32(a.data, off+piLongValueOffset, longValueOffset)

	if longValueOffset == 0 {
		n := copy(a.data[off+piValue:off+piValue+piValueLen], value)
		for i := n; i < piValueLen; i++ {
			a.data[off+piValue+uint32(i)] = 0
		}
	} else {
		for i := 0; i < piValueLen; i++ {
			a.data[off+piValue+uint32(i)] = 0
		}
	}

	a.data[off+piNameLen] = byte(len(name))
	copy(a.data[off+piNameStart:off+piNameStart+uint32(len(name))], name)

	return off, nil
}
