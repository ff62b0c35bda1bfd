/*
 * Copyright 2024 The propd Authors.
 */

// Package propbuild implements the offline area builder (C4): given
// build.prop-style key/value text and a property_contexts routing table, it
// produces one property-area file per context plus a manifest describing
// where each landed.
package propbuild

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/satori/uuid"

	"github.com/greenfield-labs/propd/internal/propctx"
	"github.com/greenfield-labs/propd/internal/proparea"
)

// HeadroomMultiplier sizes each area file at this multiple of its packed
// contents, so the service has room to add properties later (spec §4.4
// step 2, "headroom multiplier (e.g., ×2)").
const HeadroomMultiplier = 2

// Manifest records, for a single build, which context landed in which
// file and under which build id (spec §4.4 step 4).
type Manifest struct {
	BuildID  string            `json:"build_id"`
	Areas    map[string]string `json:"areas"` // context -> filename
	Version  uint32            `json:"version"`
}

// ParseBuildProp reads `key=value` lines (spec §6 "build.prop text"),
// `#` comments, blank lines skipped, and repeated keys overriding earlier
// occurrences (last-wins, same as the area Add/Update collision rule in
// spec §4.4 step 3).
func ParseBuildProp(r io.Reader) (map[string]string, error) {
	props := map[string]string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.IndexByte(line, '=')
		if i < 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		val := strings.TrimSpace(line[i+1:])
		props[key] = val
	}
	return props, scanner.Err()
}

// packedSize estimates the on-disk bytes a (name, value) pair consumes:
// a generous constant per trie level plus the prop_info record itself,
// used only to size the headroom-multiplied area file, not to lay out the
// file itself (proparea.Area does the real bump allocation).
func packedSize(name, value string) uint32 {
	segBytes := uint32(0)
	for _, seg := range strings.Split(name, ".") {
		segBytes += uint32(len(seg)) + 1 /* len byte */ + 20 /* trie node */
	}
	return segBytes + 20 /* extra node slack */ + 101 + uint32(len(name)) + uint32(len(value))
}

// Build groups props by their resolved context, creates one area file per
// context sized with headroom, inserts every key (the map holds one value
// per key; ParseBuildProp already kept the last occurrence), and writes a
// manifest alongside (spec §4.4).
func Build(ctx *propctx.Index, props map[string]string, outDir string, version uint32) (*Manifest, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, err
	}

	grouped := map[string]map[string]string{}
	for name, value := range props {
		c, err := ctx.Route(name)
		if err != nil {
			return nil, fmt.Errorf("propbuild: routing %q: %w", name, err)
		}
		if grouped[c] == nil {
			grouped[c] = map[string]string{}
		}
		grouped[c][name] = value
	}

	manifest := &Manifest{
		BuildID: uuid.NewV4().String(),
		Areas:   map[string]string{},
		Version: version,
	}

	for context, kv := range grouped {
		var total uint32
		for name, value := range kv {
			total += packedSize(name, value)
		}
		size := total * HeadroomMultiplier
		if size < 4096 {
			size = 4096
		}

		path := filepath.Join(outDir, context)
		area, err := proparea.Create(path, size, version, false)
		if err != nil {
			return nil, fmt.Errorf("propbuild: creating area %q: %w", context, err)
		}

		for name, value := range kv {
			if _, err := area.Add(name, []byte(value)); err != nil {
				area.Close()
				return nil, fmt.Errorf("propbuild: adding %q to %q: %w", name, context, err)
			}
		}
		area.Close()

		manifest.Areas[context] = context
	}

	return manifest, writeManifest(outDir, manifest)
}

func writeManifest(outDir string, m *Manifest) error {
	f, err := os.Create(filepath.Join(outDir, "property_info.json"))
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// LoadManifest reads back a manifest written by Build, for tooling that
// wants to know which files exist without re-parsing property_contexts.
func LoadManifest(outDir string) (*Manifest, error) {
	f, err := os.Open(filepath.Join(outDir, "property_info.json"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var m Manifest
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}
