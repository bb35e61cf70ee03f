package oplog

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Part is a segment of an entry body: either prose or a complete JSON value.
type Part struct {
	Text string
	JSON bool
}

// Split segments body into prose and JSON parts. A JSON part is the shortest
// balanced {...} or [...] run that parses as valid JSON; its text is
// re-indented with two spaces. Everything else is prose and kept verbatim.
// Concatenating the Text of prose parts with the compact form of JSON parts
// reproduces the body's information without flattening its structure.
func Split(body string) []Part {
	var parts []Part
	b := &brackets{s: body, match: make(map[int]int)}

	// prose runs from text to the next JSON part
	text, pos := 0, 0
	for pos < len(body) {
		i := strings.IndexAny(body[pos:], "{[")
		if i == -1 {
			break
		}
		start := pos + i
		pos = start + 1

		end := b.closing(start)
		if end == -1 {
			continue
		}
		candidate := body[start : end+1]
		if !json.Valid([]byte(candidate)) {
			continue
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(candidate), "", "  "); err != nil {
			continue
		}

		if start > text {
			parts = append(parts, Part{Text: body[text:start]})
		}
		parts = append(parts, Part{Text: buf.String(), JSON: true})
		text, pos = end+1, end+1
	}
	if text < len(body) {
		parts = append(parts, Part{Text: body[text:]})
	}

	return parts
}

// HasJSON reports whether body contains at least one JSON fragment.
func HasJSON(body string) bool {
	for _, p := range Split(body) {
		if p.JSON {
			return true
		}
	}
	return false
}

// brackets memoizes bracket matching over one body. A scan records the
// partner of every bracket it passes outside a string, so later starts that
// scan already covered are answered without rescanning.
type brackets struct {
	s     string
	match map[int]int // open index to closing index, -1 when unmatched
	steps int
}

// closing returns the index of the bracket closing s[start], or -1.
func (b *brackets) closing(start int) int {
	if end, ok := b.match[start]; ok {
		return end
	}
	b.scan(start)
	return b.match[start]
}

// scan walks from start until the bracket there is closed. Double-quoted
// strings are skipped, honouring backslash escapes.
func (b *brackets) scan(start int) {
	var open []int
	inString := false
	escaped := false

	for i := start; i < len(b.s); i++ {
		b.steps++
		c := b.s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{', '[':
			open = append(open, i)
		case '}', ']':
			top := open[len(open)-1]
			open = open[:len(open)-1]
			b.match[top] = i
			if len(open) == 0 {
				return
			}
		}
	}
	for _, i := range open {
		b.match[i] = -1
	}
}
