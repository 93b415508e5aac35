// Package jsonutil decodes loosely typed JSON sent by form controls.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexibleInt decodes an integer sent either as a JSON number or as a numeric
// string, as HTML select values are. ok is false for null or empty input.
func FlexibleInt(raw json.RawMessage) (value int, ok bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false, nil
	}

	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return parseInt(num.String())
	}

	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, false, fmt.Errorf("expected number or string, got %s", raw)
	}
	str = strings.TrimSpace(str)
	if str == "" {
		return 0, false, nil
	}
	return parseInt(str)
}

func parseInt(s string) (int, bool, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true, nil
	}
	// 60.0 from clients that only have floats
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false, fmt.Errorf("%q is not an integer", s)
	}
	return int(f), true, nil
}
