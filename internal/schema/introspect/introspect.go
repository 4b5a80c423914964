// Package introspect reads a schema.Schema from a live database.
package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/query/sqldb"
	"github.com/askdb/askdb/internal/schema"
)

type Options struct {
	// SampleRows is the number of rows read per table for the prompt.
	SampleRows int
	// Tables restricts the schema to the named tables when non-empty.
	Tables []string
	// Namespace is the PostgreSQL schema or DuckDB catalog schema to read.
	Namespace string
}

type loader interface {
	tables(ctx context.Context) ([]string, error)
	table(ctx context.Context, name string) (schema.Table, error)
}

func Load(ctx context.Context, db *sql.DB, dialect sqldb.Dialect, opts Options) (*schema.Schema, error) {
	var l loader
	switch dialect {
	case sqldb.DialectSQLite:
		l = sqliteLoader{db: db}
	case sqldb.DialectPostgres:
		l = newInfoSchemaLoader(db, firstNonEmpty(opts.Namespace, "public"), dollarPlaceholder)
	case sqldb.DialectDuckDB:
		l = newInfoSchemaLoader(db, firstNonEmpty(opts.Namespace, "main"), questionPlaceholder)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	names, err := l.tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	names, err = filterTables(names, opts.Tables)
	if err != nil {
		return nil, err
	}

	out := &schema.Schema{Tables: make([]schema.Table, 0, len(names))}
	for _, name := range names {
		table, err := l.table(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("describe table %q: %w", name, err)
		}
		if opts.SampleRows > 0 {
			qualified := quoteIdent(name)
			if dialect == sqldb.DialectPostgres {
				qualified = quoteIdent(firstNonEmpty(opts.Namespace, "public")) + "." + qualified
			}
			table.SampleColumns, table.SampleRows, err = sampleRows(ctx, db, qualified, table.PrimaryKey(), opts.SampleRows)
			if err != nil {
				return nil, fmt.Errorf("sample table %q: %w", name, err)
			}
		}
		out.Tables = append(out.Tables, table)
	}
	return out, nil
}

func filterTables(names, wanted []string) ([]string, error) {
	if len(wanted) == 0 {
		return names, nil
	}
	byLower := make(map[string]string, len(names))
	for _, name := range names {
		byLower[strings.ToLower(name)] = name
	}
	out := make([]string, 0, len(wanted))
	for _, want := range wanted {
		name, ok := byLower[strings.ToLower(want)]
		if !ok {
			return nil, fmt.Errorf("table %q not found", want)
		}
		out = append(out, name)
	}
	return out, nil
}

func sampleRows(ctx context.Context, db *sql.DB, qualified string, pk []string, limit int) ([]string, [][]string, error) {
	stmt := "SELECT * FROM " + qualified
	if len(pk) > 0 {
		ordered := make([]string, len(pk))
		for i, col := range pk {
			ordered[i] = quoteIdent(col)
		}
		stmt += " ORDER BY " + strings.Join(ordered, ", ")
	}
	stmt += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out [][]string
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, nil, err
		}
		row := make([]string, len(values))
		for i, value := range values {
			row[i] = formatValue(value)
		}
		out = append(out, row)
	}
	return columns, out, rows.Err()
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(typed)
	case time.Time:
		return typed.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(typed)
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
