package sqlguard

import (
	"strings"

	"github.com/askdb/askdb/internal/schema"
)

// resolver checks that every table, qualifier and column a statement names
// exists. Scoping is flat: a column is accepted when any table referenced
// anywhere in the statement has it.
type resolver struct {
	index  *schema.Index
	tokens []token
	skip   []bool
	parent []int

	// sources maps a lower-cased table name or alias to its schema table,
	// or to "" for CTEs, derived tables and table functions.
	sources    map[string]string
	referenced []string
	// names holds aliases, CTE names, CTE columns and window names.
	names map[string]struct{}
}

var argumentFromFuncs = wordSet("EXTRACT", "SUBSTRING", "TRIM", "OVERLAY", "POSITION")

func newResolver(index *schema.Index, tokens []token) *resolver {
	r := &resolver{
		index:   index,
		tokens:  tokens,
		skip:    make([]bool, len(tokens)),
		parent:  make([]int, len(tokens)),
		sources: map[string]string{},
		names:   map[string]struct{}{},
	}
	var stack []int
	for i, tok := range tokens {
		r.parent[i] = -1
		if len(stack) > 0 {
			r.parent[i] = stack[len(stack)-1]
		}
		switch {
		case tok.is("("):
			stack = append(stack, i)
		case tok.is(")") && len(stack) > 0:
			stack = stack[:len(stack)-1]
		}
	}
	return r
}

func (r *resolver) resolve() Verdict {
	if verdict := r.collect(); !verdict.Accepted {
		return verdict
	}
	return r.check()
}

func (r *resolver) at(i int) token {
	if i < 0 || i >= len(r.tokens) {
		return token{kind: tokSymbol}
	}
	return r.tokens[i]
}

// collect registers CTEs, table references and aliases, and rejects table
// names that do not exist.
func (r *resolver) collect() Verdict {
	for i, tok := range r.tokens {
		switch {
		case tok.isWord("WITH"):
			r.collectCTEs(i + 1)
		case tok.isWord("FROM") && r.isTableFrom(i):
			if verdict := r.collectTableList(i + 1); !verdict.Accepted {
				return verdict
			}
		case tok.isWord("JOIN"):
			if verdict := r.collectTableList(i + 1); !verdict.Accepted {
				return verdict
			}
		case tok.isWord("AS") && r.at(i+1).isIdent():
			r.addName(i + 1)
		case (tok.isWord("WINDOW") || tok.isWord("OVER")) && r.at(i+1).isIdent():
			r.addName(i + 1)
		case tok.isIdent() && !r.skip[i] && endsValue(r.at(i-1)) && !r.at(i+1).is("(") && !r.at(i+1).is("."):
			// Two adjacent values: the second one is an alias.
			r.addName(i)
		}
	}
	return accept()
}

func (r *resolver) isTableFrom(i int) bool {
	if r.at(i - 1).isWord("DISTINCT") {
		return false
	}
	if p := r.parent[i]; p > 0 {
		fn := r.at(p - 1)
		if fn.kind == tokWord {
			if _, ok := argumentFromFuncs[fn.upper()]; ok {
				return false
			}
		}
	}
	return true
}

func (r *resolver) collectCTEs(i int) {
	if r.at(i).isWord("RECURSIVE") {
		i++
	}
	for r.at(i).isIdent() {
		name := r.at(i)
		r.skip[i] = true
		key := strings.ToLower(name.text)
		r.sources[key] = ""
		r.names[key] = struct{}{}
		i++
		if r.at(i).is("(") {
			i = r.collectNameList(i)
		}
		if !r.at(i).isWord("AS") {
			return
		}
		i++
		if r.at(i).isWord("NOT") {
			i++
		}
		if r.at(i).isWord("MATERIALIZED") {
			i++
		}
		if !r.at(i).is("(") {
			return
		}
		i = r.matching(i) + 1
		if !r.at(i).is(",") {
			return
		}
		i++
	}
}

// collectNameList registers every identifier inside the parenthesised list
// starting at i and returns the index after the closing parenthesis.
func (r *resolver) collectNameList(i int) int {
	end := r.matching(i)
	for j := i + 1; j < end; j++ {
		if r.tokens[j].isIdent() {
			r.addName(j)
		}
	}
	return end + 1
}

func (r *resolver) collectTableList(i int) Verdict {
	for {
		next, verdict := r.collectTableRef(i)
		if !verdict.Accepted {
			return verdict
		}
		if !r.at(next).is(",") {
			return accept()
		}
		i = next + 1
	}
}

func (r *resolver) collectTableRef(i int) (int, Verdict) {
	if r.at(i).isWord("LATERAL") || r.at(i).isWord("ONLY") {
		i++
	}
	base := ""
	switch tok := r.at(i); {
	case tok.is("("):
		i = r.matching(i) + 1
	case tok.isIdent():
		start := i
		for r.at(i+1).is(".") && r.at(i+2).isIdent() {
			i += 2
		}
		name := r.at(i)
		for j := start; j <= i; j++ {
			r.skip[j] = true
		}
		i++
		if r.at(i).is("(") {
			return i, reject(ReasonUnknownIdentifier, "table function %q is not allowed", name.text)
		}
		key := strings.ToLower(name.text)
		if source, ok := r.sources[key]; ok && source == "" {
			break
		}
		canonical, ok := r.index.CanonicalTable(name.text)
		if !ok {
			return i, reject(ReasonUnknownIdentifier, "table %q does not exist", name.text)
		}
		base = canonical
		r.sources[key] = canonical
		r.referenced = append(r.referenced, canonical)
	default:
		return i, accept()
	}

	if r.at(i).isWord("AS") {
		i++
	}
	if r.at(i).isIdent() {
		key := strings.ToLower(r.at(i).text)
		r.sources[key] = base
		r.skip[i] = true
		i++
		if r.at(i).is("(") {
			i = r.collectNameList(i)
		}
	}
	return i, accept()
}

func (r *resolver) addName(i int) {
	r.names[strings.ToLower(r.tokens[i].text)] = struct{}{}
	r.skip[i] = true
}

// check walks the remaining identifiers and resolves each one.
func (r *resolver) check() Verdict {
	for i := 0; i < len(r.tokens); i++ {
		tok := r.tokens[i]
		if r.skip[i] || !tok.isIdent() {
			continue
		}
		prev := r.at(i - 1)
		if prev.is(".") || prev.is("::") {
			continue
		}
		if r.at(i + 1).is("(") {
			continue
		}
		if r.at(i+1).is(".") && (r.at(i+2).isIdent() || r.at(i+2).is("*") || r.at(i+2).kind == tokWord) {
			if verdict := r.checkQualified(tok, r.at(i+2)); !verdict.Accepted {
				return verdict
			}
			i += 2
			continue
		}
		if verdict := r.checkColumn(tok); !verdict.Accepted {
			return verdict
		}
	}
	return accept()
}

func (r *resolver) checkQualified(qualifier, column token) Verdict {
	key := strings.ToLower(qualifier.text)
	base, ok := r.sources[key]
	if !ok {
		if _, named := r.names[key]; named {
			return accept()
		}
		canonical, isTable := r.index.CanonicalTable(qualifier.text)
		if !isTable {
			return reject(ReasonUnknownIdentifier, "unknown table or alias %q", qualifier.text)
		}
		base = canonical
	}
	if base == "" || column.is("*") {
		return accept()
	}
	if !r.index.HasColumn(base, column.text) {
		return reject(ReasonUnknownIdentifier, "column %q does not exist in table %s", column.text, base)
	}
	return accept()
}

func (r *resolver) checkColumn(tok token) Verdict {
	key := strings.ToLower(tok.text)
	if _, ok := r.names[key]; ok {
		return accept()
	}
	if _, ok := r.sources[key]; ok {
		return accept()
	}
	for _, table := range r.referenced {
		if r.index.HasColumn(table, tok.text) {
			return accept()
		}
	}
	if len(r.referenced) == 0 {
		return reject(ReasonUnknownIdentifier, "column %q does not belong to any table in the query", tok.text)
	}
	return reject(ReasonUnknownIdentifier, "column %q does not exist in %s", tok.text, strings.Join(r.referenced, ", "))
}

// matching returns the index of the parenthesis closing the one at i.
func (r *resolver) matching(i int) int {
	depth := 0
	for j := i; j < len(r.tokens); j++ {
		switch {
		case r.tokens[j].is("("):
			depth++
		case r.tokens[j].is(")"):
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return len(r.tokens) - 1
}

// endsValue reports whether a token can end an expression, so an identifier
// right after it must be an alias.
func endsValue(tok token) bool {
	switch tok.kind {
	case tokQuotedIdent, tokString, tokNumber, tokParam:
		return true
	case tokWord:
		return !isReserved(tok.text) || tok.isWord("END") || tok.isWord("NULL") ||
			tok.isWord("TRUE") || tok.isWord("FALSE")
	case tokSymbol:
		return tok.is(")")
	}
	return false
}
