// Package jsonutil decodes loosely typed JSON values from operator requests,
// where numbers sometimes arrive quoted and strings sometimes arrive bare.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexibleStringValue converts a json.RawMessage to a string, accepting
// numbers and booleans as well. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if numVal == float64(int64(numVal)) {
			return fmt.Sprintf("%d", int64(numVal))
		}
		return fmt.Sprintf("%g", numVal)
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return fmt.Sprintf("%t", boolVal)
	}

	return string(raw)
}

// FlexibleIntValue converts a json.RawMessage holding a whole number, either
// bare or quoted, to an int. Null or empty input returns def.
func FlexibleIntValue(raw json.RawMessage, def int) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return def, nil
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if numVal != float64(int64(numVal)) {
			return 0, fmt.Errorf("expected a whole number, got %g", numVal)
		}
		return int(numVal), nil
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		n, err := strconv.Atoi(strings.TrimSpace(strVal))
		if err != nil {
			return 0, fmt.Errorf("expected a whole number, got %q", strVal)
		}
		return n, nil
	}

	return 0, fmt.Errorf("expected a whole number, got %s", string(raw))
}
