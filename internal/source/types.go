package source

import "strings"

type ColumnInfo struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Key      string  `json:"key"`
	Default  *string `json:"default,omitempty"`
	Extra    string  `json:"extra,omitempty"`
}

// Generated reports whether the server computes the column's value.
func (c ColumnInfo) Generated() bool { return IsGenerated(c.Extra) }

// HasDefault reports whether an INSERT may omit the column.
func (c ColumnInfo) HasDefault() bool {
	return c.Default != nil || c.Generated() ||
		strings.Contains(strings.ToLower(c.Extra), "auto_increment")
}

// IsGenerated matches the EXTRA values of VIRTUAL and STORED generated
// columns. DEFAULT_GENERATED only marks an expression default, and those
// columns accept explicit values.
func IsGenerated(extra string) bool {
	e := strings.ToUpper(extra)
	return strings.Contains(e, "VIRTUAL GENERATED") || strings.Contains(e, "STORED GENERATED")
}

// TableInfo is the browsing view of a table: live row count plus column detail.
type TableInfo struct {
	Database string       `json:"database"`
	Name     string       `json:"table"`
	RowCount int64        `json:"row_count"`
	Columns  []ColumnInfo `json:"columns"`
}

// TableDescriptor is read fresh for every transfer. Columns fixes the order
// used both for reading rows and binding the write statement.
type TableDescriptor struct {
	Name       string
	Columns    []string
	PrimaryKey []string
}

func (d TableDescriptor) HasPrimaryKey() bool {
	return len(d.PrimaryKey) > 0
}

// UpdatableColumns returns the non-key columns in declaration order.
func (d TableDescriptor) UpdatableColumns() []string {
	keys := make(map[string]bool, len(d.PrimaryKey))
	for _, k := range d.PrimaryKey {
		keys[k] = true
	}
	var cols []string
	for _, c := range d.Columns {
		if !keys[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

// KeyIndexes maps each primary key column to its position in Columns.
// ok is false if a key column is missing from Columns.
func (d TableDescriptor) KeyIndexes() (idx []int, ok bool) {
	pos := make(map[string]int, len(d.Columns))
	for i, c := range d.Columns {
		pos[c] = i
	}
	for _, k := range d.PrimaryKey {
		i, found := pos[k]
		if !found {
			return nil, false
		}
		idx = append(idx, i)
	}
	return idx, true
}
