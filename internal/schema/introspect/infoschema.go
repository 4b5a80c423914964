package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/askdb/askdb/internal/schema"
)

type placeholderFunc func(n int) string

func dollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }
func questionPlaceholder(int) string { return "?" }

// infoSchemaLoader reads information_schema, which PostgreSQL and DuckDB
// both expose with the same shape.
type infoSchemaLoader struct {
	db        *sql.DB
	namespace string
	ph        placeholderFunc
}

func newInfoSchemaLoader(db *sql.DB, namespace string, ph placeholderFunc) infoSchemaLoader {
	return infoSchemaLoader{db: db, namespace: namespace, ph: ph}
}

func (l infoSchemaLoader) tables(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf(`
SELECT table_name
FROM information_schema.tables
WHERE table_schema = %s AND table_type IN ('BASE TABLE', 'VIEW')
ORDER BY table_name`, l.ph(1)), l.namespace)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

func (l infoSchemaLoader) table(ctx context.Context, name string) (schema.Table, error) {
	table := schema.Table{Name: name}

	pk, err := l.primaryKey(ctx, name)
	if err != nil {
		return schema.Table{}, fmt.Errorf("primary key: %w", err)
	}
	pkSet := make(map[string]struct{}, len(pk))
	for _, col := range pk {
		pkSet[col] = struct{}{}
	}

	rows, err := l.db.QueryContext(ctx, fmt.Sprintf(`
SELECT column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = %s AND table_name = %s
ORDER BY ordinal_position`, l.ph(1), l.ph(2)), l.namespace, name)
	if err != nil {
		return schema.Table{}, fmt.Errorf("columns: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var colName, dataType, isNullable string
		if err := rows.Scan(&colName, &dataType, &isNullable); err != nil {
			return schema.Table{}, fmt.Errorf("scan column: %w", err)
		}
		_, isPK := pkSet[colName]
		table.Columns = append(table.Columns, schema.Column{
			Name:       colName,
			Type:       dataType,
			Nullable:   strings.EqualFold(isNullable, "YES") && !isPK,
			PrimaryKey: isPK,
		})
	}
	if err := rows.Err(); err != nil {
		return schema.Table{}, err
	}

	fks, err := l.foreignKeys(ctx, name)
	if err != nil {
		return schema.Table{}, fmt.Errorf("foreign keys: %w", err)
	}
	table.ForeignKeys = fks
	return table, nil
}

func (l infoSchemaLoader) primaryKey(ctx context.Context, name string) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf(`
SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
 AND tc.table_name = kcu.table_name
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = %s AND tc.table_name = %s
ORDER BY kcu.ordinal_position`, l.ph(1), l.ph(2)), l.namespace, name)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

func (l infoSchemaLoader) foreignKeys(ctx context.Context, name string) ([]schema.ForeignKey, error) {
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf(`
SELECT kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
 AND tc.table_name = kcu.table_name
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name
 AND ccu.constraint_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = %s AND tc.table_name = %s
ORDER BY kcu.ordinal_position`, l.ph(1), l.ph(2)), l.namespace, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []schema.ForeignKey
	for rows.Next() {
		var fk schema.ForeignKey
		if err := rows.Scan(&fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return nil, err
		}
		out = append(out, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortForeignKeys(out)
	return out, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, rows.Err()
}

func sortForeignKeys(fks []schema.ForeignKey) {
	sort.SliceStable(fks, func(i, j int) bool {
		if fks[i].Column != fks[j].Column {
			return fks[i].Column < fks[j].Column
		}
		return fks[i].RefTable < fks[j].RefTable
	})
}
