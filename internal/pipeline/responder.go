package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/completion"
	"github.com/askdb/askdb/internal/query"
)

const responseSystemPrompt = `You are a helpful assistant that explains database query results in natural language.

Answer the user's question in a few clear sentences using only the rows provided.
Do not invent rows, values or totals that are not in the results.
Do not mention SQL, tables or other technical details unless the user asked for them.
If the results were truncated, say that the list may be incomplete.`

const maxResponseAttempts = 2

// Responder turns execution results into the final answer text.
type Responder struct {
	completer completion.Completer
	maxTokens int
}

func NewResponder(completer completion.Completer) *Responder {
	return &Responder{completer: completer, maxTokens: 512}
}

// Respond never returns empty text. Zero rows and failed executions get
// fixed wording without a completion call.
func (r *Responder) Respond(ctx context.Context, question string, candidate *Candidate, result *query.Result, execErr error) (string, Outcome) {
	if execErr != nil || result == nil {
		return ExecutionFailedAnswer, OutcomeExecutionFailed
	}
	if result.RowCount == 0 {
		return NoDataAnswer, OutcomeNoData
	}

	sql := ""
	if candidate != nil {
		sql = candidate.SQL
	}
	req := completion.Request{
		System:    responseSystemPrompt,
		Prompt:    responsePrompt(question, sql, *result),
		MaxTokens: r.maxTokens,
	}
	for attempt := 0; attempt < maxResponseAttempts && ctx.Err() == nil; attempt++ {
		text, err := r.completer.Complete(ctx, req)
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text), OutcomeAnswered
		}
	}
	return RenderResult(*result), OutcomeAnswered
}

func responsePrompt(question, sql string, result query.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User question: %s\n", question)
	if sql != "" {
		fmt.Fprintf(&b, "SQL query used: %s\n", sql)
	}
	fmt.Fprintf(&b, "Columns: %s\n", strings.Join(result.Columns, ", "))
	fmt.Fprintf(&b, "Results (%d rows):\n", result.RowCount)
	for i, record := range result.Records() {
		fmt.Fprintf(&b, "%d. %s\n", i+1, formatRecord(record))
	}
	if result.Truncated {
		fmt.Fprintf(&b, "(Only the first %d rows are shown; more rows matched.)\n", result.RowCount)
	}
	b.WriteString("\nProvide a natural language answer to the user's question based on these results.")
	return b.String()
}

// RenderResult is the deterministic answer used when no completion is
// available.
func RenderResult(result query.Result) string {
	var b strings.Builder
	noun := "rows"
	if result.RowCount == 1 {
		noun = "row"
	}
	fmt.Fprintf(&b, "Here is what I found (%d %s", result.RowCount, noun)
	if result.Truncated {
		b.WriteString(", more rows matched")
	}
	b.WriteString("):")
	for _, record := range result.Records() {
		b.WriteString("\n- ")
		b.WriteString(formatRecord(record))
	}
	return b.String()
}

func formatRecord(record query.Record) string {
	parts := make([]string, 0, len(record))
	for _, field := range record {
		parts = append(parts, fmt.Sprintf("%s=%s", field.Column, formatValue(field.Value)))
	}
	return strings.Join(parts, ", ")
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
