package schema

import "strings"

// Index is a case-insensitive view of a Schema built once and shared
// read-only between goroutines.
type Index struct {
	tables map[string]map[string]struct{}
	names  map[string]string
}

func NewIndex(s *Schema) *Index {
	idx := &Index{
		tables: map[string]map[string]struct{}{},
		names:  map[string]string{},
	}
	if s == nil {
		return idx
	}
	for _, table := range s.Tables {
		key := strings.ToLower(table.Name)
		cols := make(map[string]struct{}, len(table.Columns))
		for _, col := range table.Columns {
			cols[strings.ToLower(col.Name)] = struct{}{}
		}
		idx.tables[key] = cols
		idx.names[key] = table.Name
	}
	return idx
}

func (i *Index) HasTable(name string) bool {
	_, ok := i.tables[strings.ToLower(name)]
	return ok
}

func (i *Index) HasColumn(table, column string) bool {
	cols, ok := i.tables[strings.ToLower(table)]
	if !ok {
		return false
	}
	_, ok = cols[strings.ToLower(column)]
	return ok
}

// CanonicalTable returns the declared spelling of a table name.
func (i *Index) CanonicalTable(name string) (string, bool) {
	canonical, ok := i.names[strings.ToLower(name)]
	return canonical, ok
}

func (i *Index) Len() int {
	return len(i.tables)
}
