package postgres

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/koustreak/pgsafe/errs"
)

// checkSQL rejects statement text the native transport cannot carry.
func checkSQL(sql string) error {
	if i := strings.IndexByte(sql, 0); i >= 0 {
		return errs.Op("Execute", errs.ErrKindEncoding, fmt.Sprintf("statement contains a NUL byte at offset %d", i))
	}
	if !utf8.ValidString(sql) {
		return errs.Op("Execute", errs.ErrKindEncoding, "statement is not valid UTF-8")
	}
	return nil
}

// countPlaceholders returns the highest $N placeholder number in sql, which
// is the number of parameters the server will expect. Placeholders inside
// string literals, quoted identifiers, comments and dollar-quoted bodies do
// not count.
func countPlaceholders(sql string) int {
	highest := 0
	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == '\'':
			escapes := i > 0 && (sql[i-1] == 'E' || sql[i-1] == 'e') && (i < 2 || !isIdentByte(sql[i-2]))
			i = skipQuoted(sql, i+1, '\'', escapes)
		case c == '"':
			i = skipQuoted(sql, i+1, '"', false)
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			if nl := strings.IndexByte(sql[i:], '\n'); nl >= 0 {
				i += nl + 1
			} else {
				i = len(sql)
			}
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			i = skipBlockComment(sql, i+2)
		case c == '$':
			if i > 0 && isIdentByte(sql[i-1]) {
				i++
				continue
			}
			if n, end, ok := placeholderAt(sql, i+1); ok {
				if n > highest {
					highest = n
				}
				i = end
				continue
			}
			if tag, ok := dollarTagAt(sql, i); ok {
				body := i + len(tag)
				if end := strings.Index(sql[body:], tag); end >= 0 {
					i = body + end + len(tag)
				} else {
					i = len(sql)
				}
				continue
			}
			i++
		default:
			i++
		}
	}
	return highest
}

// skipQuoted returns the index just past the closing quote. A doubled quote
// is an escaped quote; with escapes set a backslash also escapes.
func skipQuoted(sql string, i int, quote byte, escapes bool) int {
	for i < len(sql) {
		switch sql[i] {
		case '\\':
			if escapes {
				i += 2
				continue
			}
		case quote:
			if i+1 < len(sql) && sql[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(sql)
}

// skipBlockComment handles nested /* */ comments.
func skipBlockComment(sql string, i int) int {
	depth := 1
	for i < len(sql) && depth > 0 {
		switch {
		case strings.HasPrefix(sql[i:], "/*"):
			depth++
			i += 2
		case strings.HasPrefix(sql[i:], "*/"):
			depth--
			i += 2
		default:
			i++
		}
	}
	return i
}

func placeholderAt(sql string, i int) (n, end int, ok bool) {
	end = i
	for end < len(sql) && sql[end] >= '0' && sql[end] <= '9' {
		// Server limit is 65535 parameters; stop growing well before overflow.
		if n < 1<<20 {
			n = n*10 + int(sql[end]-'0')
		}
		end++
	}
	return n, end, end > i
}

// dollarTagAt returns the opening tag ($$ or $name$) of a dollar-quoted
// string starting at i.
func dollarTagAt(sql string, i int) (string, bool) {
	j := i + 1
	for j < len(sql) && isIdentByte(sql[j]) {
		if j == i+1 && sql[j] >= '0' && sql[j] <= '9' {
			return "", false
		}
		j++
	}
	if j < len(sql) && sql[j] == '$' {
		return sql[i : j+1], true
	}
	return "", false
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 0x80 ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
