/*
 * Copyright 2024 The propd Authors.
 */

package propd

import (
	"strings"

	"github.com/greenfield-labs/propd/internal/propwire"
)

// validateName checks the character class and length rules shared by the
// wire layer and the area layer (spec §3.1, §4.6 "Validate").
func validateName(name string) error {
	if name == "" || len(name) > 31 {
		return propwire.NewError(propwire.KindInvalidName)
	}
	for _, c := range name {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			c == '.' || c == '_' || c == '-' || c == ':' || c == '@') {
			return propwire.NewError(propwire.KindInvalidName)
		}
	}
	return nil
}

// validateValue enforces the 91-byte inline ceiling for everything except
// ro.* names (spec §4.6 "Value length").
func validateValue(name, value string) error {
	for i := 0; i < len(value); i++ {
		if value[i] == 0 {
			return propwire.NewError(propwire.KindInvalidValue)
		}
	}
	if isReadOnly(name) {
		return nil
	}
	if len(value) > maxInlineValueLen {
		return propwire.NewError(propwire.KindInvalidValue)
	}
	return nil
}

const maxInlineValueLen = 91

func isReadOnly(name string) bool {
	return strings.HasPrefix(name, "ro.")
}

func isPersist(name string) bool {
	return strings.HasPrefix(name, "persist.")
}

func isControl(name string) bool {
	return strings.HasPrefix(name, "ctl.")
}
