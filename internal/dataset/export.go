package dataset

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/storage"
)

const exportBatchRows = 1024

// ExportedTable describes one parquet object written by Export.
type ExportedTable struct {
	Table string
	Key   string
	Rows  int64
	Bytes int64
}

type columnKind int

const (
	kindString columnKind = iota
	kindInt
	kindFloat
)

// Export writes each table of s, read from db, as <prefix>/<table>/part-0.parquet
// so the DuckDB backend can serve the same data. Every column is optional.
func Export(ctx context.Context, db *sql.DB, s *schema.Schema, w storage.ObjectWriter, prefix string, logger *slog.Logger) ([]ExportedTable, error) {
	if db == nil || w == nil {
		return nil, fmt.Errorf("database and object writer are required")
	}
	if s == nil || len(s.Tables) == 0 {
		return nil, fmt.Errorf("no tables to export")
	}
	logger = observability.LoggerOrDiscard(logger)
	out := make([]ExportedTable, 0, len(s.Tables))
	for _, table := range s.Tables {
		start := time.Now()
		key, err := storage.TableFileKey(prefix, table.Name, 0)
		if err != nil {
			return nil, err
		}
		data, rows, err := encodeTable(ctx, db, table)
		if err != nil {
			return nil, fmt.Errorf("encode table %q: %w", table.Name, err)
		}
		if _, err := w.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: storage.ParquetContentType}); err != nil {
			return nil, fmt.Errorf("publish table %q: %w", table.Name, err)
		}
		logger.InfoContext(ctx, "dataset_table_exported",
			slog.String("table", table.Name),
			slog.String("key", key),
			slog.Int64("rows", rows),
			slog.Int("bytes", len(data)),
			slog.String("duration", time.Since(start).String()),
		)
		out = append(out, ExportedTable{Table: table.Name, Key: key, Rows: rows, Bytes: int64(len(data))})
	}
	return out, nil
}

func encodeTable(ctx context.Context, db *sql.DB, table schema.Table) ([]byte, int64, error) {
	if len(table.Columns) == 0 {
		return nil, 0, fmt.Errorf("table has no columns")
	}
	group := parquet.Group{}
	kinds := make([]columnKind, len(table.Columns))
	quoted := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		kinds[i] = kindOf(col.Type)
		group[col.Name] = parquet.Optional(nodeFor(kinds[i]))
		quoted[i] = quoteIdent(col.Name)
	}
	sch := parquet.NewSchema(table.Name, group)

	// Group fields are ordered by name, which fixes the leaf column indexes.
	leaf := map[string]int{}
	for i, field := range sch.Fields() {
		leaf[field.Name()] = i
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), quoteIdent(table.Name)))
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, sch)
	batch := make([]parquet.Row, 0, exportBatchRows)
	var count int64
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := writer.WriteRows(batch); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	values := make([]any, len(table.Columns))
	targets := make([]any, len(table.Columns))
	for i := range values {
		targets[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(targets...); err != nil {
			return nil, 0, fmt.Errorf("scan row: %w", err)
		}
		row := make(parquet.Row, len(table.Columns))
		for i, col := range table.Columns {
			index := leaf[col.Name]
			value, err := toParquetValue(kinds[i], values[i])
			if err != nil {
				return nil, 0, fmt.Errorf("column %q: %w", col.Name, err)
			}
			if value.IsNull() {
				row[index] = value.Level(0, 0, index)
			} else {
				row[index] = value.Level(0, 1, index)
			}
		}
		batch = append(batch, row)
		count++
		if len(batch) == exportBatchRows {
			if err := flush(); err != nil {
				return nil, 0, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate rows: %w", err)
	}
	if err := flush(); err != nil {
		return nil, 0, err
	}
	if err := writer.Close(); err != nil {
		return nil, 0, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), count, nil
}

// kindOf follows SQLite type affinity: INT anywhere means integer, REAL,
// FLOA, DOUB and the decimal types mean floating point, the rest is text.
func kindOf(declared string) columnKind {
	upper := strings.ToUpper(declared)
	switch {
	case strings.Contains(upper, "INT"):
		return kindInt
	case strings.Contains(upper, "REAL"), strings.Contains(upper, "FLOA"), strings.Contains(upper, "DOUB"),
		strings.Contains(upper, "NUMERIC"), strings.Contains(upper, "DECIMAL"):
		return kindFloat
	default:
		return kindString
	}
}

func nodeFor(kind columnKind) parquet.Node {
	switch kind {
	case kindInt:
		return parquet.Int(64)
	case kindFloat:
		return parquet.Leaf(parquet.DoubleType)
	default:
		return parquet.String()
	}
}

func toParquetValue(kind columnKind, raw any) (parquet.Value, error) {
	if raw == nil {
		return parquet.Value{}, nil
	}
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	switch kind {
	case kindInt:
		switch v := raw.(type) {
		case int64:
			return parquet.ValueOf(v), nil
		case float64:
			return parquet.ValueOf(int64(v)), nil
		case string:
			parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return parquet.Value{}, fmt.Errorf("value %q is not an integer", v)
			}
			return parquet.ValueOf(parsed), nil
		}
	case kindFloat:
		switch v := raw.(type) {
		case float64:
			return parquet.ValueOf(v), nil
		case int64:
			return parquet.ValueOf(float64(v)), nil
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return parquet.Value{}, fmt.Errorf("value %q is not a number", v)
			}
			return parquet.ValueOf(parsed), nil
		}
	default:
		switch v := raw.(type) {
		case string:
			return parquet.ValueOf(v), nil
		case time.Time:
			return parquet.ValueOf(v.UTC().Format(time.RFC3339)), nil
		default:
			return parquet.ValueOf(fmt.Sprint(v)), nil
		}
	}
	return parquet.Value{}, fmt.Errorf("unsupported value %T", raw)
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
