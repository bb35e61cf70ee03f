package console

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// prettyJSON renders v with two-space indentation. Keys of maps come out
// sorted; HTML characters are not escaped.
func prettyJSON(v any) string {
	return encodeJSON(v, "  ")
}

// compactJSON renders v on one line.
func compactJSON(v any) string {
	return encodeJSON(v, "")
}

func encodeJSON(v any, indent string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// prettyBody re-indents b when it is valid JSON and returns it verbatim
// otherwise.
func prettyBody(b []byte) string {
	if len(bytes.TrimSpace(b)) == 0 {
		return ""
	}
	if json.Valid(b) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, bytes.TrimSpace(b), "", "  "); err == nil {
			return buf.String()
		}
	}
	return string(b)
}

