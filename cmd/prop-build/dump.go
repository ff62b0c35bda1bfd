/*
 * Copyright 2024 The propd Authors.
 */

package main

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/greenfield-labs/propd/internal/proparea"
)

// dumpArea flattens an area file's trie to CSV on stdout: name, value,
// serial. This mirrors ap.configd's debug dump of a config tree, adapted
// to a property area's flat name/value/serial records instead of a
// leaf/internal config tree.
func dumpArea(path string) error {
	area, err := proparea.OpenReadOnly(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer area.Close()

	w := csv.NewWriter(os.Stdout)
	var walkErr error
	area.Iterate(func(name string, value []byte, serial uint32) {
		length, dirty, counter := proparea.SplitSerial(serial)
		row := []string{
			name,
			string(value),
			fmt.Sprintf("len=%d dirty=%t counter=%d", length, dirty, counter),
		}
		if err := w.Write(row); err != nil {
			walkErr = err
		}
	})
	w.Flush()
	if walkErr != nil {
		return walkErr
	}
	return w.Error()
}
