// Package parser turns a free-form query string into the ordered term list
// the executor expects. Terms are matched verbatim against path segments,
// so no case folding or stemming happens here.
package parser

import (
	"strings"
	"unicode"
)

// Parse splits query on whitespace and commas. Empty pieces are dropped and
// the order of the remaining terms is kept, as are repeats: a term given
// twice counts twice.
func Parse(query string) []string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	terms := make([]string, 0, len(fields))
	terms = append(terms, fields...)
	return terms
}
