package migrate

import (
	"fmt"
	"io"
	"strings"
)

// Step is one statement of a migration script.
type Step struct {
	Ordinal   int
	Statement string
}

// Parse splits a SQL script on top-level semicolons. Semicolons inside
// quoted strings, quoted identifiers, postgres dollar-quoted bodies and
// comments do not split. Comments are dropped and empty statements skipped.
func Parse(r io.Reader) ([]Step, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read migration: %w", err)
	}
	src := string(raw)

	var (
		steps []Step
		cur   strings.Builder
	)
	flush := func() {
		stmt := strings.TrimSpace(cur.String())
		cur.Reset()
		if stmt != "" {
			steps = append(steps, Step{Ordinal: len(steps) + 1, Statement: stmt})
		}
	}

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ';':
			flush()
			i++
		case c == '-' && strings.HasPrefix(src[i:], "--"):
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				i = len(src)
			} else {
				i += end
			}
		case c == '/' && strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated block comment at offset %d", i)
			}
			cur.WriteByte(' ')
			i += end + 4
		case c == '\'' || c == '"' || c == '`':
			end := quotedEnd(src, i, c)
			if end < 0 {
				return nil, fmt.Errorf("unterminated %c quote at offset %d", c, i)
			}
			cur.WriteString(src[i:end])
			i = end
		case c == '$':
			tag, ok := dollarTag(src[i:])
			if !ok {
				cur.WriteByte(c)
				i++
				continue
			}
			end := strings.Index(src[i+len(tag):], tag)
			if end < 0 {
				return nil, fmt.Errorf("unterminated %s body at offset %d", tag, i)
			}
			stop := i + len(tag) + end + len(tag)
			cur.WriteString(src[i:stop])
			i = stop
		default:
			cur.WriteByte(c)
			i++
		}
	}
	flush()
	return steps, nil
}

// quotedEnd returns the offset just past the quote opened at start. A
// doubled quote character is an escaped quote. Inside string literals a
// backslash escapes the next character, as in mysql and postgres E'' strings.
func quotedEnd(src string, start int, q byte) int {
	for i := start + 1; i < len(src); i++ {
		if src[i] == '\\' && q != '`' {
			i++
			continue
		}
		if src[i] != q {
			continue
		}
		if i+1 < len(src) && src[i+1] == q {
			i++
			continue
		}
		return i + 1
	}
	return -1
}

// dollarTag recognizes $$ and $name$ openers.
func dollarTag(s string) (string, bool) {
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '$':
			return s[:i+1], true
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > 1 && c >= '0' && c <= '9':
		default:
			return "", false
		}
	}
	return "", false
}

// Statements returns the statement text of each step.
func Statements(steps []Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Statement
	}
	return out
}
