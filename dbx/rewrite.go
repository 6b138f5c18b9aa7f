package dbx

import (
	"strconv"
	"strings"
)

// Rewrite converts the neutral `?` placeholder dialect to the backend's.
// SQLite takes `?` as-is; Postgres gets `$1…$n`. Question marks inside
// single-quoted string literals are left untouched.
func Rewrite(dialect Dialect, query string) string {
	if dialect != DialectPostgres || !strings.ContainsRune(query, '?') {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inLiteral := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			// '' inside a literal is an escaped quote, not a terminator.
			if inLiteral && i+1 < len(query) && query[i+1] == '\'' {
				b.WriteString("''")
				i++
				continue
			}
			inLiteral = !inLiteral
			b.WriteByte(c)
		case c == '?' && !inLiteral:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
