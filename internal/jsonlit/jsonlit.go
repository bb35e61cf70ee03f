// Package jsonlit parses the relaxed JSON literals people type into a console.
// Input is JSON5 (unquoted identifier keys, single-quoted strings, trailing
// commas and comments), decoded by a pure parser that never evaluates it.
//
// Values decode to map[string]any, []any, string, bool, nil, int64 (for
// integral numbers that float64 represents exactly) and float64.
package jsonlit

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/yosuke-furukawa/json5/encoding/json5"
)

// MaxDepth bounds object/array nesting.
const MaxDepth = 256

// maxExactInt is the largest integer float64 holds without rounding.
const maxExactInt = 1 << 53

// SyntaxError describes where parsing failed. Offset is -1 when the decoder
// did not report a position.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	if e.Offset < 0 {
		return e.Msg
	}
	return fmt.Sprintf("%s at offset %d", e.Msg, e.Offset)
}

// Parse parses exactly one value. Surrounding whitespace is allowed.
func Parse(s string) (any, error) {
	return decode(s, 0)
}

// ParseObject parses exactly one value and requires it to be an object.
func ParseObject(s string) (map[string]any, error) {
	v, err := Parse(s)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &SyntaxError{Offset: 0, Msg: "value is not an object"}
	}
	return obj, nil
}

// ParseList parses a comma-separated list of values, as found between the
// parentheses of a call expression. Empty input yields an empty list.
func ParseList(s string) ([]any, error) {
	if strings.TrimSpace(s) == "" {
		return []any{}, nil
	}

	// the newline ends a trailing line comment before the closing bracket
	v, err := decode("["+s+"\n]", 1)
	if err != nil {
		return nil, err
	}
	list, ok := v.([]any)
	if !ok {
		return nil, &SyntaxError{Offset: 0, Msg: "arguments are not a list"}
	}
	return list, nil
}

// decode runs the JSON5 decoder over s. shift is the number of bytes
// prepended to the caller's text and is removed from reported offsets.
func decode(s string, shift int) (any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, &SyntaxError{Offset: 0, Msg: "unexpected end of input"}
	}

	var v any
	if err := json5.Unmarshal([]byte(s), &v); err != nil {
		return nil, syntaxError(err, shift)
	}
	return normalize(v, 0)
}

func syntaxError(err error, shift int) error {
	var syn *json5.SyntaxError
	if errors.As(err, &syn) {
		off := int(syn.Offset) - shift
		if off < 0 {
			off = 0
		}
		return &SyntaxError{Offset: off, Msg: syn.Error()}
	}
	return &SyntaxError{Offset: -1, Msg: err.Error()}
}

// normalize enforces the depth cap, rejects non-finite numbers and turns
// exact integral floats into int64.
func normalize(v any, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, &SyntaxError{Offset: -1, Msg: fmt.Sprintf("nesting exceeds %d levels", MaxDepth)}
	}

	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			n, err := normalize(child, depth+1)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case []any:
		for i, child := range t {
			n, err := normalize(child, depth+1)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	case float64:
		if math.IsInf(t, 0) || math.IsNaN(t) {
			return nil, &SyntaxError{Offset: -1, Msg: "non-finite number"}
		}
		if t == math.Trunc(t) && math.Abs(t) <= maxExactInt {
			return int64(t), nil
		}
		return t, nil
	}
	return v, nil
}
