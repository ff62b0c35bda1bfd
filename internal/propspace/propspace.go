/*
 * Copyright 2024 The propd Authors.
 */

// Package propspace aggregates many property-area files into one logical
// namespace (C3): routing a get through the context index, enumerating
// every area in deterministic order, and waiting on whichever area's
// serial changes first.
package propspace

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/greenfield-labs/propd/internal/propctx"
	"github.com/greenfield-labs/propd/internal/proparea"
)

// Space holds one Area handle per context, opened read-only, plus the
// routing index used to find the right one for a given name.
type Space struct {
	ctx   *propctx.Index
	areas map[string]*proparea.Area
	// order is the deterministic area load order used by Iterate (spec
	// §3.4 "area load order, then pre-order trie walk").
	order []string
}

// Open loads ctx and mmaps every area file named by ctx.Contexts() out of
// areaDir, in context-name sorted order (a concrete, deterministic choice
// for spec §3.4's unspecified "area load order").
func Open(ctx *propctx.Index, areaDir string) (*Space, error) {
	contexts := append([]string(nil), ctx.Contexts()...)
	sort.Strings(contexts)

	areas := make(map[string]*proparea.Area, len(contexts))
	for _, c := range contexts {
		a, err := proparea.OpenReadOnly(filepath.Join(areaDir, c))
		if err != nil {
			for _, opened := range areas {
				opened.Close()
			}
			return nil, err
		}
		areas[c] = a
	}

	return &Space{ctx: ctx, areas: areas, order: contexts}, nil
}

// Close unmaps every area held by the Space.
func (s *Space) Close() error {
	var firstErr error
	for _, a := range s.areas {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Get routes name via the context index, then delegates to that area's
// find+read (spec §4.3 "get(name)").
func (s *Space) Get(name string) ([]byte, error) {
	ctx, err := s.ctx.Route(name)
	if err != nil {
		return nil, err
	}
	area, ok := s.areas[ctx]
	if !ok {
		return nil, proparea.ErrNotFound
	}
	return area.Get(name)
}

// WaitName routes name to its area and parks on that specific prop_info's
// serial word until it changes or timeout elapses (spec §4.3 "wait(index)
// waits on a specific prop_info.serial word").
func (s *Space) WaitName(name string, timeout time.Duration) error {
	ctx, err := s.ctx.Route(name)
	if err != nil {
		return err
	}
	area, ok := s.areas[ctx]
	if !ok {
		return proparea.ErrNotFound
	}
	prop, err := area.Find(name)
	if err != nil {
		return err
	}

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		before := area.PropSerial(prop)
		remaining := timeout
		if timeout > 0 {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return proparea.ErrTimedOut
			}
		}
		err := area.WaitProp(prop, before, remaining)
		after := area.PropSerial(prop)
		if after != before {
			return nil
		}
		if err == proparea.ErrTimedOut {
			return proparea.ErrTimedOut
		}
	}
}

// Iterate walks every area in load order, then each area's trie in
// pre-order (spec §3.4 "Enumerate all entries... in deterministic order").
func (s *Space) Iterate(fn func(name string, value []byte)) {
	for _, c := range s.order {
		s.areas[c].Iterate(func(name string, value []byte, _ uint32) {
			fn(name, value)
		})
	}
}

// waitAnyPollInterval bounds each park in WaitAny. A write to an area other
// than the one parked on does not wake that futex, so the combined serial
// is re-checked at least this often.
const waitAnyPollInterval = 10 * time.Millisecond

// WaitAny loads every area's serial, then parks on whichever is currently
// the maximum, looping because the next change may land in a different
// area (spec §4.3 "wait_any()"). Each park lasts at most
// waitAnyPollInterval. It returns the new combined serial once any area
// advances, or ErrTimedOut.
func (s *Space) WaitAny(timeout time.Duration) (uint64, error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		before := s.combinedSerial()
		maxCtx, maxSerial := s.maxSerialArea()

		remaining := timeout
		if timeout > 0 {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return 0, proparea.ErrTimedOut
			}
		}

		park := remaining
		if park <= 0 || park > waitAnyPollInterval {
			park = waitAnyPollInterval
		}
		s.areas[maxCtx].Wait(maxSerial, park)
		after := s.combinedSerial()
		if after != before {
			return after, nil
		}
		// Nothing changed yet (park expired or spurious wake); the
		// overall deadline is checked at the top of the loop, which also
		// re-evaluates which area is now maximal.
	}
}

// Change is one property visited by ChangedSince.
type Change struct {
	Name  string
	Value []byte
}

// AreaSerials snapshots every area's current header serial, keyed by
// context. The result is a baseline for a later ChangedSince call, the
// same pairing WaitAny's caller uses to know what to look at once it
// wakes (spec §4.3 "wait_any... the area with the next change may
// differ").
func (s *Space) AreaSerials() map[string]uint32 {
	out := make(map[string]uint32, len(s.order))
	for _, c := range s.order {
		out[c] = s.areas[c].Serial()
	}
	return out
}

// ChangedSince visits every property, across every area, whose prop_info
// serial has advanced past the corresponding baseline in `since` (spec
// §4.1 "foreach_prop_info(serial_after, callback)... used for diff-style
// waits"). An area missing from since is treated as baseline zero, i.e.
// every entry in that area is reported. This lets a caller pair WaitAny
// with a targeted diff instead of a full Iterate rescan of every area.
func (s *Space) ChangedSince(since map[string]uint32) []Change {
	var out []Change
	for _, c := range s.order {
		s.areas[c].ForeachChangedSince(since[c], func(name string, value []byte, _ uint32) {
			out = append(out, Change{Name: name, Value: value})
		})
	}
	return out
}

func (s *Space) maxSerialArea() (string, uint32) {
	var maxCtx string
	var maxSerial uint32
	first := true
	for _, c := range s.order {
		serial := s.areas[c].Serial()
		if first || serial > maxSerial {
			maxSerial = serial
			maxCtx = c
			first = false
		}
	}
	return maxCtx, maxSerial
}

// combinedSerial sums every area's serial into one monotonically
// nondecreasing value suitable for detecting "something changed" across
// the whole namespace without picking a single area's word as the sole
// futex target.
func (s *Space) combinedSerial() uint64 {
	var total uint64
	for _, c := range s.order {
		total += uint64(s.areas[c].Serial())
	}
	return total
}
