package main

import (
	"errors"
	"strings"
	"unicode"
)

var errUnterminatedQuote = errors.New("unterminated quote")

// splitArgs splits a console line into words. Whitespace inside quotes or
// inside (), [] and {} does not split, so object literals and call
// expressions stay whole. Quotes are kept, except that a word which is a
// single quoted string is unquoted.
func splitArgs(s string) ([]string, error) {
	var (
		words   []string
		cur     strings.Builder
		quote   rune
		escaped bool
		depth   int
		started bool
	)

	flush := func() {
		if !started {
			return
		}
		words = append(words, unquoteWord(cur.String()))
		cur.Reset()
		started = false
	}

	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case quote != 0:
			switch r {
			case '\\':
				escaped = true
			case quote:
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '(' || r == '[' || r == '{':
			depth++
		case r == ')' || r == ']' || r == '}':
			if depth > 0 {
				depth--
			}
		case depth == 0 && unicode.IsSpace(r):
			flush()
			continue
		}
		cur.WriteRune(r)
		started = true
	}
	if quote != 0 {
		return nil, errUnterminatedQuote
	}
	flush()
	return words, nil
}

// unquoteWord strips the quotes of a word that is exactly one quoted string.
// Escaped quote characters and backslashes inside it are unescaped; other
// escapes are left as written.
func unquoteWord(w string) string {
	if len(w) < 2 || (w[0] != '"' && w[0] != '\'') {
		return w
	}
	q := w[0]
	var b strings.Builder
	for i := 1; i < len(w); i++ {
		switch c := w[i]; c {
		case '\\':
			if i+1 < len(w) && (w[i+1] == q || w[i+1] == '\\') {
				i++
				b.WriteByte(w[i])
				continue
			}
			b.WriteByte(c)
			if i+1 < len(w) {
				i++
				b.WriteByte(w[i])
			}
		case q:
			if i == len(w)-1 {
				return b.String()
			}
			return w
		default:
			b.WriteByte(c)
		}
	}
	return w
}
