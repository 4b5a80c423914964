package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/askdb/askdb/internal/completion"
)

// NoAnswerSentinel is the exact reply the model gives for questions the
// schema cannot answer.
const NoAnswerSentinel = "NO_ANSWER"

// MaxCompletionAttempts bounds completion calls per synthesis.
const MaxCompletionAttempts = 2

var (
	ErrExtraction    = errors.New("no single SQL statement in completion")
	ErrNotAnswerable = errors.New("question cannot be answered from the schema")
)

const synthesisSystemPrompt = `You are a SQL expert working with a %s database.
Write exactly one read-only SQL query (SELECT or WITH ... SELECT) that answers the user's question.

Rules:
1. Only generate SELECT queries. Never INSERT, UPDATE, DELETE, DROP, ALTER, CREATE, PRAGMA or ATTACH.
2. Use only the tables and columns listed in the schema below, with the exact spelling shown.
3. Use JOINs along the listed foreign keys when the answer needs more than one table.
4. Return only the SQL query. No explanation, no markdown.
5. If the question cannot be answered with this database, reply with exactly NO_ANSWER.

DATABASE SCHEMA:
%s`

// Synthesizer turns a question into one candidate statement.
type Synthesizer struct {
	completer completion.Completer
	dialect   string
	maxTokens int
}

func NewSynthesizer(completer completion.Completer, dialect string) *Synthesizer {
	return &Synthesizer{completer: completer, dialect: dialectName(dialect), maxTokens: 512}
}

func (s *Synthesizer) Synthesize(ctx context.Context, question, schemaText, hint string) (Candidate, error) {
	req := completion.Request{
		System:    fmt.Sprintf(synthesisSystemPrompt, s.dialect, schemaText),
		Prompt:    synthesisPrompt(question, hint),
		MaxTokens: s.maxTokens,
	}

	var lastErr error
	for attempt := 1; attempt <= MaxCompletionAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Candidate{}, fmt.Errorf("%w: %v", completion.ErrUnavailable, err)
		}
		text, err := s.completer.Complete(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		sql, err := ExtractSQL(text)
		if errors.Is(err, ErrNotAnswerable) {
			return Candidate{}, err
		}
		if err != nil {
			lastErr = err
			continue
		}
		return Candidate{Question: question, SQL: sql}, nil
	}
	return Candidate{}, lastErr
}

func synthesisPrompt(question, hint string) string {
	var b strings.Builder
	b.WriteString("Generate SQL for: ")
	b.WriteString(question)
	if hint != "" {
		b.WriteString("\n\n")
		b.WriteString(hint)
	}
	return b.String()
}

func dialectName(dialect string) string {
	switch strings.ToLower(dialect) {
	case "postgres", "postgresql":
		return "PostgreSQL"
	case "duckdb":
		return "DuckDB"
	default:
		return "SQLite"
	}
}

var (
	fencedBlock   = regexp.MustCompile("(?s)```[A-Za-z]*[ \t]*\r?\n?(.*?)```")
	statementHead = regexp.MustCompile(`(?i)^\s*\(*\s*(select|with)\b`)
	sqlVerb       = regexp.MustCompile(`(?i)^\s*\(*\s*(select|with|insert|update|delete|drop|alter|create|pragma|attach|detach|replace|truncate|values|explain|begin|commit|rollback|vacuum|grant|revoke|merge|copy|set|call)\b`)
)

// ExtractSQL isolates one statement from a completion. It prefers the first
// fenced block, then the first line opening with SELECT or WITH, and drops
// prose after the terminating semicolon.
func ExtractSQL(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if strings.ToUpper(strings.Trim(trimmed, "\"'`.")) == NoAnswerSentinel {
		return "", ErrNotAnswerable
	}

	body := trimmed
	if match := fencedBlock.FindStringSubmatch(trimmed); match != nil {
		body = match[1]
	} else {
		lines := strings.Split(trimmed, "\n")
		for i, line := range lines {
			if statementHead.MatchString(line) {
				body = strings.Join(lines[i:], "\n")
				break
			}
		}
	}

	chunks := splitTopLevel(body)
	var statements []string
	for i, chunk := range chunks {
		if strings.TrimSpace(stripComments(chunk)) == "" {
			continue
		}
		if i > 0 && len(statements) > 0 && !sqlVerb.MatchString(stripComments(chunk)) {
			// Trailing prose after the terminating semicolon.
			break
		}
		statements = append(statements, strings.TrimSpace(chunk))
	}
	if len(statements) != 1 {
		return "", fmt.Errorf("%w: found %d statements", ErrExtraction, len(statements))
	}
	if strings.EqualFold(statements[0], NoAnswerSentinel) {
		return "", ErrNotAnswerable
	}
	return statements[0], nil
}

// splitTopLevel cuts text on semicolons outside quotes and comments. An
// unterminated quote runs to the end of the text.
func splitTopLevel(text string) []string {
	var (
		chunks []string
		start  int
		quote  byte
	)
	for i := 0; i < len(text); i++ {
		ch := text[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"' || ch == '`':
			quote = ch
		case ch == '[':
			quote = ']'
		case ch == '-' && i+1 < len(text) && text[i+1] == '-':
			for i < len(text) && text[i] != '\n' {
				i++
			}
		case ch == '/' && i+1 < len(text) && text[i+1] == '*':
			end := strings.Index(text[i+2:], "*/")
			if end < 0 {
				i = len(text)
			} else {
				i += end + 3
			}
		case ch == ';':
			chunks = append(chunks, text[start:i])
			start = i + 1
		}
	}
	return append(chunks, text[start:])
}

var (
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

func stripComments(sql string) string {
	return lineComment.ReplaceAllString(blockComment.ReplaceAllString(sql, " "), " ")
}
