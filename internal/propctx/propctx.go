/*
 * Copyright 2024 The propd Authors.
 */

// Package propctx parses property_contexts files into a longest-match
// routing table from property name to the backing area file name (C2).
package propctx

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// ErrNoMatch is returned by Route when no rule, including a bare "*"
// fallback, matches the name.
var ErrNoMatch = errors.New("propctx: no matching context")

// Rule is one parsed line of a property_contexts file.
type Rule struct {
	Pattern string // exact name, or a name ending in "*"
	Context string
	Prefix  bool
	seq     int // definition order, for tie-breaking among equal specificity
}

// Index is the loaded, specificity-ordered routing table.
type Index struct {
	rules []Rule
}

// Load concatenates one or more property_contexts files and builds the
// routing table (spec §4.2 "load"). Rules are sorted by pattern
// specificity: exact matches first, then prefixes ordered longest-first,
// with the bare "*" wildcard always last as the fallback. Duplicate exact
// rules: first occurrence wins.
func Load(paths ...string) (*Index, error) {
	var rules []Rule
	seq := 0
	seen := map[string]bool{}

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		err = parseFile(f, &rules, &seq, seen)
		f.Close()
		if err != nil {
			return nil, err
		}
	}

	sortRules(rules)
	return &Index{rules: rules}, nil
}

// LoadReader is Load for an already-open reader, used by tests and by
// callers that have the text in memory (e.g. from an embedded manifest).
func LoadReader(r io.Reader) (*Index, error) {
	var rules []Rule
	seq := 0
	seen := map[string]bool{}
	if err := parseFile(r, &rules, &seq, seen); err != nil {
		return nil, err
	}
	sortRules(rules)
	return &Index{rules: rules}, nil
}

func parseFile(r io.Reader, rules *[]Rule, seq *int, seen map[string]bool) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pattern, context := fields[0], fields[1]
		prefix := strings.HasSuffix(pattern, "*")

		if !prefix {
			if seen[pattern] {
				fmt.Fprintf(os.Stderr, "propctx: duplicate exact rule for %q, keeping first\n", pattern)
				continue
			}
			seen[pattern] = true
		}

		*rules = append(*rules, Rule{Pattern: pattern, Context: context, Prefix: prefix, seq: *seq})
		*seq++
	}
	return scanner.Err()
}

// sortRules orders exact matches before prefixes, longer prefixes before
// shorter ones, and the bare "*" last; ties keep definition order (spec
// §4.2 "keeps definition order for ties").
func sortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Prefix != b.Prefix {
			return !a.Prefix // exact (false) sorts before prefix (true)
		}
		if a.Prefix && b.Prefix {
			if a.Pattern == "*" && b.Pattern != "*" {
				return false
			}
			if b.Pattern == "*" && a.Pattern != "*" {
				return true
			}
			if len(a.Pattern) != len(b.Pattern) {
				return len(a.Pattern) > len(b.Pattern)
			}
		}
		return a.seq < b.seq
	})
}

// Route returns the context (backing area file name) for name, choosing
// the most specific matching rule (spec §4.2 "route"). ErrNoMatch is
// returned if nothing matches, including the absence of a "*" fallback.
func (ix *Index) Route(name string) (string, error) {
	for _, r := range ix.rules {
		if r.Prefix {
			prefix := strings.TrimSuffix(r.Pattern, "*")
			if strings.HasPrefix(name, prefix) {
				return r.Context, nil
			}
		} else if r.Pattern == name {
			return r.Context, nil
		}
	}
	return "", ErrNoMatch
}

// Contexts returns the distinct set of backing-file names referenced by
// the loaded rules (spec §4.2 "contexts()").
func (ix *Index) Contexts() []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range ix.rules {
		if !seen[r.Context] {
			seen[r.Context] = true
			out = append(out, r.Context)
		}
	}
	return out
}

// Rules exposes the sorted rule set, mainly for the builder (C4) and
// debug tooling.
func (ix *Index) Rules() []Rule {
	return ix.rules
}
