package introspect

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/askdb/askdb/internal/schema"
)

type sqliteLoader struct {
	db *sql.DB
}

func (l sqliteLoader) tables(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (l sqliteLoader) table(ctx context.Context, name string) (schema.Table, error) {
	table := schema.Table{Name: name}

	rows, err := l.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name)))
	if err != nil {
		return schema.Table{}, fmt.Errorf("table_info: %w", err)
	}
	for rows.Next() {
		var (
			cid       int
			colName   string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dfltValue, &pk); err != nil {
			_ = rows.Close()
			return schema.Table{}, fmt.Errorf("scan table_info: %w", err)
		}
		table.Columns = append(table.Columns, schema.Column{
			Name:       colName,
			Type:       colType,
			Nullable:   notNull == 0 && pk == 0,
			PrimaryKey: pk > 0,
		})
	}
	if err := rows.Close(); err != nil {
		return schema.Table{}, err
	}

	fkRows, err := l.db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteIdent(name)))
	if err != nil {
		return schema.Table{}, fmt.Errorf("foreign_key_list: %w", err)
	}
	defer func() { _ = fkRows.Close() }()
	for fkRows.Next() {
		var (
			id, seq                  int
			refTable, from           string
			to                       sql.NullString
			onUpdate, onDelete, mtch string
		)
		if err := fkRows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &mtch); err != nil {
			return schema.Table{}, fmt.Errorf("scan foreign_key_list: %w", err)
		}
		table.ForeignKeys = append(table.ForeignKeys, schema.ForeignKey{
			Column:    from,
			RefTable:  refTable,
			RefColumn: to.String,
		})
	}
	if err := fkRows.Err(); err != nil {
		return schema.Table{}, err
	}
	sortForeignKeys(table.ForeignKeys)
	return table, nil
}
