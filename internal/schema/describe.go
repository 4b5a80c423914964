package schema

import (
	"strings"
	"unicode/utf8"
)

const maxSampleValueLen = 60

// Describe renders s as plain text: every table with its primary key, every
// column with type and nullability, every foreign key, and sample rows when
// present. The output depends only on s.
func Describe(s *Schema) string {
	if s == nil || len(s.Tables) == 0 {
		return "(no tables)\n"
	}
	var b strings.Builder
	for i, table := range s.Tables {
		if i > 0 {
			b.WriteString("\n")
		}
		describeTable(&b, table)
	}
	return b.String()
}

func describeTable(b *strings.Builder, table Table) {
	b.WriteString("TABLE ")
	b.WriteString(table.Name)
	if pk := table.PrimaryKey(); len(pk) > 0 {
		b.WriteString(" (PK: ")
		b.WriteString(strings.Join(pk, ", "))
		b.WriteString(")")
	}
	b.WriteString("\n")

	for _, col := range table.Columns {
		b.WriteString("  ")
		b.WriteString(col.Name)
		b.WriteString(": ")
		if col.Type == "" {
			b.WriteString("ANY")
		} else {
			b.WriteString(strings.ToUpper(col.Type))
		}
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
		b.WriteString("\n")
	}

	if len(table.ForeignKeys) > 0 {
		b.WriteString("  FOREIGN KEYS:\n")
		for _, fk := range table.ForeignKeys {
			b.WriteString("    ")
			b.WriteString(fk.Column)
			b.WriteString(" -> ")
			b.WriteString(fk.RefTable)
			b.WriteString(".")
			b.WriteString(fk.RefColumn)
			b.WriteString("\n")
		}
	}

	if len(table.SampleRows) > 0 && len(table.SampleColumns) > 0 {
		b.WriteString("  SAMPLE ROWS (")
		b.WriteString(strings.Join(table.SampleColumns, " | "))
		b.WriteString("):\n")
		for _, row := range table.SampleRows {
			values := make([]string, len(row))
			for i, value := range row {
				values[i] = clip(value)
			}
			b.WriteString("    ")
			b.WriteString(strings.Join(values, " | "))
			b.WriteString("\n")
		}
	}
}

func clip(value string) string {
	value = strings.Join(strings.Fields(value), " ")
	if utf8.RuneCountInString(value) <= maxSampleValueLen {
		return value
	}
	runes := []rune(value)
	return string(runes[:maxSampleValueLen]) + "…"
}
