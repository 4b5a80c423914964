package sqlguard

import "strings"

type tokenKind int

const (
	tokWord tokenKind = iota
	tokQuotedIdent
	tokString
	tokNumber
	tokParam
	tokSymbol
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// isKeyword reports whether the token is an unquoted reserved word.
func (t token) isKeyword() bool {
	return t.kind == tokWord && isReserved(t.text)
}

// isIdent reports whether the token names a table, column or alias.
func (t token) isIdent() bool {
	return t.kind == tokQuotedIdent || (t.kind == tokWord && !isReserved(t.text))
}

func (t token) is(symbol string) bool {
	return t.kind == tokSymbol && t.text == symbol
}

func (t token) isWord(word string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, word)
}

func (t token) upper() string {
	return strings.ToUpper(t.text)
}

// allowedLeading is the closed set of statement kinds that may run.
var allowedLeading = map[string]struct{}{
	"SELECT": {},
	"WITH":   {},
}

var writeKeywords = wordSet(
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE", "ATTACH", "DETACH", "PRAGMA",
	"TRUNCATE", "VACUUM", "REINDEX", "GRANT", "REVOKE", "MERGE", "UPSERT", "COPY", "INTO",
	"SET", "BEGIN", "COMMIT", "ROLLBACK", "SAVEPOINT", "RELEASE", "CALL", "EXEC", "EXECUTE",
	"LOAD", "INSTALL",
)

// statementKeywords may open a statement. Anything else in leading position
// means the text is not SQL at all.
var statementKeywords = wordSet(
	"SELECT", "WITH", "VALUES", "EXPLAIN", "SHOW", "DESCRIBE", "USE", "ANALYZE", "REPLACE",
	"TABLE", "FROM", "SUMMARIZE", "EXPORT", "IMPORT", "CHECKPOINT", "PREPARE", "DEALLOCATE",
	"LISTEN", "NOTIFY", "LOCK", "DECLARE", "FETCH", "CLOSE", "DO", "RESET", "DISCARD", "START",
	"END", "ABORT", "COMMENT", "SECURITY", "REFRESH", "CLUSTER",
)

var reservedWords = wordSet(
	"SELECT", "WITH", "RECURSIVE", "MATERIALIZED", "AS", "FROM", "WHERE", "GROUP", "BY", "HAVING",
	"ORDER", "LIMIT", "OFFSET", "FETCH", "NEXT", "FIRST", "LAST", "ONLY", "ROWS", "ROW",
	"UNION", "INTERSECT", "EXCEPT", "ALL", "DISTINCT", "ON", "USING", "JOIN", "INNER", "LEFT",
	"RIGHT", "FULL", "OUTER", "CROSS", "NATURAL", "LATERAL", "AND", "OR", "NOT", "IS", "NULL",
	"IN", "LIKE", "ILIKE", "GLOB", "REGEXP", "SIMILAR", "ESCAPE", "BETWEEN", "EXISTS", "ANY",
	"SOME", "CASE", "WHEN", "THEN", "ELSE", "END", "CAST", "TRUE", "FALSE", "ASC", "DESC",
	"NULLS", "COLLATE", "NOCASE", "OVER", "PARTITION", "WINDOW", "RANGE", "GROUPS",
	"PRECEDING", "FOLLOWING", "UNBOUNDED", "CURRENT", "FILTER", "WITHIN", "INTERVAL", "DATE",
	"TIME", "TIMESTAMP", "YEAR", "MONTH", "DAY", "HOUR", "MINUTE", "SECOND", "EPOCH", "DOW",
	"DOY", "WEEK", "QUARTER", "CURRENT_DATE", "CURRENT_TIME", "CURRENT_TIMESTAMP", "TO",
	"VALUES", "TIES", "PERCENT", "QUALIFY", "TABLE", "EXCLUDE", "OTHERS", "NO", "FOR", "OF",
	"EXTRACT", "SUBSTRING", "TRIM", "LEADING", "TRAILING", "BOTH", "POSITION", "OVERLAY",
	"PLACING", "ZONE", "AT", "LOCAL", "LOCALTIME", "LOCALTIMESTAMP", "ARRAY", "ISNULL", "NOTNULL",
	"ORDINALITY", "DEFAULT",
)

func wordSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, word := range words {
		out[word] = struct{}{}
	}
	return out
}

func isReserved(word string) bool {
	upper := strings.ToUpper(word)
	if _, ok := reservedWords[upper]; ok {
		return true
	}
	_, ok := writeKeywords[upper]
	return ok
}
