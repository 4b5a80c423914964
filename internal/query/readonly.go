package query

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	leadingKeyword = regexp.MustCompile(`^\s*\(*\s*([A-Za-z_]+)`)
	writeKeyword   = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|attach|detach|pragma|truncate|vacuum|reindex|grant|revoke|merge|upsert|copy|into|set|begin|commit|rollback|savepoint|release|call|exec|execute|load|install)\b`)
)

// EnsureReadOnly is the executor's own check that sql is a single SELECT or
// WITH statement. It blanks out string literals, quoted identifiers and
// comments before looking at keywords.
func EnsureReadOnly(sql string) error {
	text := maskLiterals(sql)
	body := strings.TrimSpace(text)
	for strings.HasSuffix(body, ";") {
		body = strings.TrimSpace(strings.TrimSuffix(body, ";"))
	}
	if body == "" {
		return fmt.Errorf("%w: empty statement", ErrNotReadOnly)
	}
	if strings.Contains(body, ";") {
		return fmt.Errorf("%w: more than one statement", ErrNotReadOnly)
	}
	match := leadingKeyword.FindStringSubmatch(body)
	if match == nil {
		return fmt.Errorf("%w: no leading keyword", ErrNotReadOnly)
	}
	switch strings.ToUpper(match[1]) {
	case "SELECT", "WITH":
	default:
		return fmt.Errorf("%w: %s", ErrNotReadOnly, strings.ToUpper(match[1]))
	}
	if kw := writeKeyword.FindString(body); kw != "" {
		return fmt.Errorf("%w: contains %s", ErrNotReadOnly, strings.ToUpper(kw))
	}
	return nil
}

// maskLiterals replaces quoted text and comments with spaces so keyword
// checks only see SQL structure.
func maskLiterals(sql string) string {
	out := []byte(sql)
	for i := 0; i < len(out); i++ {
		switch c := out[i]; {
		case c == '\'' || c == '"' || c == '`':
			i = blankUntil(out, i, c)
		case c == '[':
			i = blankUntil(out, i, ']')
		case c == '-' && i+1 < len(out) && out[i+1] == '-':
			for i < len(out) && out[i] != '\n' {
				out[i] = ' '
				i++
			}
		case c == '/' && i+1 < len(out) && out[i+1] == '*':
			end := strings.Index(string(out[i+2:]), "*/")
			stop := len(out)
			if end >= 0 {
				stop = i + 2 + end + 2
			}
			for ; i < stop; i++ {
				out[i] = ' '
			}
			i--
		}
	}
	return string(out)
}

// blankUntil blanks the quoted run opened at start and returns the index of
// its closing quote. Doubled quotes stay inside the run.
func blankUntil(buf []byte, start int, closer byte) int {
	buf[start] = ' '
	for i := start + 1; i < len(buf); i++ {
		if buf[i] == closer {
			if closer != ']' && i+1 < len(buf) && buf[i+1] == closer {
				buf[i], buf[i+1] = ' ', ' '
				i++
				continue
			}
			buf[i] = ' '
			return i
		}
		buf[i] = ' '
	}
	return len(buf)
}
