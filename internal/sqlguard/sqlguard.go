// Package sqlguard statically checks candidate SQL before it reaches a
// database. Only a single read-only statement that names real tables and
// columns is accepted.
package sqlguard

import (
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/schema"
)

type Reason string

const (
	ReasonUnparseable        Reason = "unparseable"
	ReasonNonReadOnly        Reason = "non-read-only-operation"
	ReasonUnknownIdentifier  Reason = "unknown-identifier"
	ReasonMultipleStatements Reason = "multiple-statements"
)

// Retryable reports whether a fresh synthesis attempt may fix the rejection.
func (r Reason) Retryable() bool {
	return r == ReasonUnknownIdentifier
}

type Verdict struct {
	Accepted bool
	Reason   Reason
	Detail   string
}

func (v Verdict) String() string {
	if v.Accepted {
		return "accepted"
	}
	return fmt.Sprintf("rejected: %s: %s", v.Reason, v.Detail)
}

func accept() Verdict {
	return Verdict{Accepted: true}
}

func reject(reason Reason, format string, args ...any) Verdict {
	return Verdict{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Validator checks statements against one schema. It is safe for concurrent
// use.
type Validator struct {
	index *schema.Index
}

func New(s *schema.Schema) *Validator {
	return &Validator{index: schema.NewIndex(s)}
}

// Validate is a convenience for one-off checks.
func Validate(sql string, s *schema.Schema) Verdict {
	return New(s).Validate(sql)
}

// Validate runs the checks in order and stops at the first failure:
// parseability, read-only operation, identifier existence, single statement.
// Text opening with a write keyword is non-read-only even when it does not
// parse.
func (v *Validator) Validate(sql string) Verdict {
	verdict := v.validate(sql)
	if verdict.Reason == ReasonUnparseable {
		if word, ok := leadingWriteKeyword(sql); ok {
			return reject(ReasonNonReadOnly, "%s statements are not allowed", word)
		}
	}
	return verdict
}

func (v *Validator) validate(sql string) Verdict {
	tokens, err := tokenize(sql)
	if err != nil {
		return reject(ReasonUnparseable, "%v", err)
	}
	statements, verdict := splitStatements(tokens)
	if !verdict.Accepted {
		return verdict
	}
	first := statements[0]
	if verdict := checkShape(first); !verdict.Accepted {
		return verdict
	}

	for _, stmt := range statements {
		if verdict := checkReadOnly(stmt); !verdict.Accepted {
			return verdict
		}
	}

	if verdict := newResolver(v.index, first).resolve(); !verdict.Accepted {
		return verdict
	}

	if len(statements) > 1 {
		return reject(ReasonMultipleStatements, "found %d statements, expected exactly one", len(statements))
	}
	return accept()
}

// splitStatements cuts the token stream on top-level semicolons and checks
// parenthesis balance. Empty statements are dropped.
func splitStatements(tokens []token) ([][]token, Verdict) {
	var (
		statements [][]token
		current    []token
		depth      int
	)
	for _, tok := range tokens {
		switch {
		case tok.is("("):
			depth++
		case tok.is(")"):
			depth--
			if depth < 0 {
				return nil, reject(ReasonUnparseable, "unbalanced parenthesis at offset %d", tok.pos)
			}
		case tok.is(";") && depth == 0:
			if len(current) > 0 {
				statements = append(statements, current)
			}
			current = nil
			continue
		}
		current = append(current, tok)
	}
	if depth != 0 {
		return nil, reject(ReasonUnparseable, "unbalanced parenthesis")
	}
	if len(current) > 0 {
		statements = append(statements, current)
	}
	if len(statements) == 0 {
		return nil, reject(ReasonUnparseable, "empty statement")
	}
	return statements, accept()
}

func checkShape(stmt []token) Verdict {
	lead, ok := leadingWord(stmt)
	if !ok {
		return reject(ReasonUnparseable, "statement must start with a keyword")
	}
	upper := lead.upper()
	_, isStatement := statementKeywords[upper]
	_, isWrite := writeKeywords[upper]
	if !isStatement && !isWrite {
		return reject(ReasonUnparseable, "statement must start with a keyword, found %q", lead.text)
	}
	if len(stmt) < 2 && !isWrite {
		return reject(ReasonUnparseable, "incomplete statement %q", lead.text)
	}
	return accept()
}

func checkReadOnly(stmt []token) Verdict {
	lead, ok := leadingWord(stmt)
	if !ok {
		return reject(ReasonNonReadOnly, "statement does not start with SELECT or WITH")
	}
	if _, allowed := allowedLeading[lead.upper()]; !allowed {
		return reject(ReasonNonReadOnly, "%s statements are not allowed", lead.upper())
	}
	for _, tok := range stmt {
		if tok.kind != tokWord {
			continue
		}
		if _, write := writeKeywords[tok.upper()]; write {
			return reject(ReasonNonReadOnly, "keyword %s is not allowed in a read-only query", tok.upper())
		}
	}
	return accept()
}

// leadingWord skips opening parentheses, as in "(SELECT ...) UNION ...".
func leadingWord(stmt []token) (token, bool) {
	for _, tok := range stmt {
		if tok.is("(") {
			continue
		}
		return tok, tok.kind == tokWord
	}
	return token{}, false
}

// leadingWriteKeyword reads the first word of raw text, skipping blanks and
// opening parentheses.
func leadingWriteKeyword(sql string) (string, bool) {
	rest := strings.TrimLeft(sql, " \t\r\n(")
	end := strings.IndexFunc(rest, func(r rune) bool {
		return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if end < 0 {
		end = len(rest)
	}
	word := strings.ToUpper(rest[:end])
	if _, ok := writeKeywords[word]; !ok {
		return "", false
	}
	return word, true
}
