// Package schema holds the relational schema askdb answers questions about
// and renders it into the text handed to the language model.
package schema

import (
	"fmt"
	"strings"
)

type Schema struct {
	Tables []Table
}

type Table struct {
	Name          string
	Columns       []Column
	ForeignKeys   []ForeignKey
	SampleColumns []string
	SampleRows    [][]string
}

type Column struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
}

type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// PrimaryKey returns the key columns in declaration order.
func (t Table) PrimaryKey() []string {
	var out []string
	for _, col := range t.Columns {
		if col.PrimaryKey {
			out = append(out, col.Name)
		}
	}
	return out
}

func (t Table) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return Column{}, false
}

func (s *Schema) Table(name string) (Table, bool) {
	if s == nil {
		return Table{}, false
	}
	for _, table := range s.Tables {
		if strings.EqualFold(table.Name, name) {
			return table, true
		}
	}
	return Table{}, false
}

func (s *Schema) TableNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		names = append(names, table.Name)
	}
	return names
}

// FormatRelations renders the foreign keys of s in the form ParseRelations
// reads.
func FormatRelations(s *Schema) string {
	if s == nil {
		return ""
	}
	var parts []string
	for _, table := range s.Tables {
		for _, fk := range table.ForeignKeys {
			parts = append(parts, table.Name+"."+fk.Column+"->"+fk.RefTable+"."+fk.RefColumn)
		}
	}
	return strings.Join(parts, ",")
}

// ParseRelations parses foreign keys written as "Table.col->Ref.col",
// separated by commas or newlines.
func ParseRelations(raw string) (map[string][]ForeignKey, error) {
	out := map[string][]ForeignKey{}
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '\n' || r == ';' })
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		left, right, ok := strings.Cut(field, "->")
		if !ok {
			return nil, fmt.Errorf("relation %q: missing ->", field)
		}
		srcTable, srcCol, err := splitQualified(left)
		if err != nil {
			return nil, fmt.Errorf("relation %q: %w", field, err)
		}
		refTable, refCol, err := splitQualified(right)
		if err != nil {
			return nil, fmt.Errorf("relation %q: %w", field, err)
		}
		out[srcTable] = append(out[srcTable], ForeignKey{Column: srcCol, RefTable: refTable, RefColumn: refCol})
	}
	return out, nil
}

// WithRelations returns a copy of s with the given foreign keys added to
// the matching tables. Relations naming unknown tables are reported.
func (s *Schema) WithRelations(relations map[string][]ForeignKey) (*Schema, error) {
	out := &Schema{Tables: make([]Table, len(s.Tables))}
	copy(out.Tables, s.Tables)
	for name, fks := range relations {
		idx := -1
		for i := range out.Tables {
			if strings.EqualFold(out.Tables[i].Name, name) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("relation source table %q not found", name)
		}
		table := out.Tables[idx]
		table.ForeignKeys = append(append([]ForeignKey(nil), table.ForeignKeys...), fks...)
		for _, fk := range fks {
			if _, ok := table.Column(fk.Column); !ok {
				return nil, fmt.Errorf("relation column %s.%s not found", table.Name, fk.Column)
			}
			if _, ok := s.Table(fk.RefTable); !ok {
				return nil, fmt.Errorf("relation target table %q not found", fk.RefTable)
			}
		}
		out.Tables[idx] = table
	}
	return out, nil
}

func splitQualified(raw string) (string, string, error) {
	table, column, ok := strings.Cut(strings.TrimSpace(raw), ".")
	table = strings.TrimSpace(table)
	column = strings.TrimSpace(column)
	if !ok || table == "" || column == "" {
		return "", "", fmt.Errorf("expected table.column, got %q", raw)
	}
	return table, column, nil
}
