package sqlexec

import "strings"

// Quoting here is a compatibility shim: statements reaching the engine bind
// values as parameters wherever possible, and these helpers cover only what
// parameters cannot express, which is dynamic identifiers and the SQL text
// the in-engine helper functions assemble for themselves. Every call site
// that embeds external text goes through one of these, never raw
// concatenation.

// Quote escapes s for embedding inside a single-quoted SQL literal by
// doubling every apostrophe. The surrounding quotes are the caller's.
func Quote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// QuoteN quotes exactly the first n bytes of s, for embedded strings that
// carry their own length instead of a terminator.
func QuoteN(s string, n int) string {
	if n < len(s) {
		s = s[:n]
	}
	return Quote(s)
}

// Literal renders an optional string as a complete SQL literal: the NULL
// keyword when absent, a quoted '...' literal otherwise.
func Literal(s *string) string {
	if s == nil {
		return "NULL"
	}
	return "'" + Quote(*s) + "'"
}

// Ident quotes a table or column name.
func Ident(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
