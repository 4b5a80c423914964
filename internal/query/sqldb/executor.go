package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
)

// Executor runs read-only statements on a database/sql pool. Each call
// holds its own pooled connection for the duration of the query.
type Executor struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

func New(db *sql.DB, dialect Dialect, logger *slog.Logger) *Executor {
	return &Executor{db: db, dialect: dialect, logger: observability.LoggerOrDiscard(logger)}
}

func (e *Executor) DB() *sql.DB {
	return e.db
}

func (e *Executor) Dialect() Dialect {
	return e.dialect
}

func (e *Executor) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

func (e *Executor) Close() error {
	return e.db.Close()
}

func (e *Executor) ExecuteReadOnly(ctx context.Context, request query.Request) (query.Result, error) {
	if err := query.EnsureReadOnly(request.SQL); err != nil {
		return query.Result{}, &query.ExecError{Message: err.Error(), Err: err}
	}
	sqlText := stripTrailingSemicolons(request.SQL)
	rowCap := request.RowCap
	if rowCap <= 0 {
		rowCap = query.DefaultRowCap
	}
	if request.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, request.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := e.run(ctx, sqlText, rowCap)
	result.Duration = time.Since(start)
	if err != nil {
		execErr := toExecError(ctx, err)
		observability.IncrementQueryFailure(execErr.Timeout)
		e.logger.WarnContext(ctx, "query_failed",
			slog.String("run_id", observability.RunIDFromContext(ctx)),
			slog.Bool("timeout", execErr.Timeout),
			slog.String("error", execErr.Message),
		)
		return query.Result{Duration: result.Duration}, execErr
	}
	observability.ObserveQueryRows(result.RowCount, result.Truncated)
	e.logger.DebugContext(ctx, "query_executed",
		slog.String("run_id", observability.RunIDFromContext(ctx)),
		slog.Int("rows", result.RowCount),
		slog.Bool("truncated", result.Truncated),
		slog.String("duration", result.Duration.String()),
	)
	return result, nil
}

func (e *Executor) run(ctx context.Context, sqlText string, rowCap int) (query.Result, error) {
	if e.dialect == DialectPostgres {
		tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return query.Result{}, fmt.Errorf("begin read-only transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		rows, err := tx.QueryContext(ctx, sqlText)
		if err != nil {
			return query.Result{}, err
		}
		return collect(rows, rowCap)
	}

	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, err
	}
	return collect(rows, rowCap)
}

// collect reads at most rowCap rows and reports whether more were available.
func collect(rows *sql.Rows, rowCap int) (query.Result, error) {
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	truncated := false
	for rows.Next() {
		if len(resultRows) == rowCap {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return query.Result{
		Columns:   columns,
		Rows:      resultRows,
		RowCount:  len(resultRows),
		Truncated: truncated,
	}, nil
}

func toExecError(ctx context.Context, err error) *query.ExecError {
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	message := err.Error()
	if timeout {
		message = "statement exceeded the query timeout"
	} else if errors.Is(err, context.Canceled) {
		message = "statement was cancelled"
	}
	return &query.ExecError{Message: message, Timeout: timeout, Err: err}
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case time.Time:
			normalized[i] = typed.UTC().Format(time.RFC3339)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
