package transfer

import (
	"fmt"
	"strings"

	"github.com/alexanderjulianmartinez/db-transfer/internal/source"
	"github.com/alexanderjulianmartinez/db-transfer/internal/source/mysql"
)

// WriteMode is how rows are applied to the target table.
type WriteMode int

const (
	// ModeUpsert inserts and, on key conflict, overwrites every non-key column.
	ModeUpsert WriteMode = iota + 1
	// ModeInsertIgnore skips rows that violate any unique constraint.
	ModeInsertIgnore
)

func (m WriteMode) String() string {
	switch m {
	case ModeUpsert:
		return "upsert"
	case ModeInsertIgnore:
		return "insert-ignore"
	}
	return "unknown"
}

// WriteStatement builds the per-row write for d. Keyed tables get an upsert
// that never reassigns key columns. A table whose columns are all key columns
// has nothing to update and, like a key-less table, gets INSERT IGNORE.
func WriteStatement(d source.TableDescriptor) (string, WriteMode) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(d.Columns)), ", ")
	cols := mysql.QuoteIdents(d.Columns)
	table := mysql.QuoteIdent(d.Name)

	updatable := d.UpdatableColumns()
	if !d.HasPrimaryKey() || len(updatable) == 0 {
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, cols, placeholders), ModeInsertIgnore
	}

	assignments := make([]string, len(updatable))
	for i, c := range updatable {
		q := mysql.QuoteIdent(c)
		assignments[i] = fmt.Sprintf("%s = VALUES(%s)", q, q)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		table, cols, placeholders, strings.Join(assignments, ", ")), ModeUpsert
}

// BatchWindow is one page of the source read.
type BatchWindow struct {
	Offset int64
	Size   int64
}

// pager walks a table in windows. Keyed tables are read in primary key order
// from a keyset cursor, so a page never depends on the engine returning rows
// in the same order twice. Key-less tables fall back to LIMIT/OFFSET.
// Windows are clamped so no more than total rows are ever requested.
type pager struct {
	desc   source.TableDescriptor
	keyIdx []int
	total  int64
	size   int64

	window BatchWindow
	cursor []any
}

func newPager(d source.TableDescriptor, total int64, batchSize int) (*pager, error) {
	p := &pager{desc: d, total: total, size: int64(batchSize)}
	if d.HasPrimaryKey() {
		idx, ok := d.KeyIndexes()
		if !ok {
			return nil, fmt.Errorf("primary key of %s references columns outside %v", d.Name, d.Columns)
		}
		p.keyIdx = idx
	}
	return p, nil
}

// next returns the window to read, or false once the snapshot total is reached.
func (p *pager) next() (BatchWindow, bool) {
	remaining := p.total - p.window.Offset
	if remaining <= 0 {
		return BatchWindow{}, false
	}
	size := p.size
	if remaining < size {
		size = remaining
	}
	return BatchWindow{Offset: p.window.Offset, Size: size}, true
}

// query builds the SELECT for w. Columns are listed explicitly in descriptor
// order so scanned values line up with the write statement.
func (p *pager) query(w BatchWindow) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", mysql.QuoteIdents(p.desc.Columns), mysql.QuoteIdent(p.desc.Name))

	if p.keyIdx == nil {
		b.WriteString(" LIMIT ? OFFSET ?")
		return b.String(), []any{w.Size, w.Offset}
	}

	keys := mysql.QuoteIdents(p.desc.PrimaryKey)
	args := make([]any, 0, len(p.cursor)+1)
	if p.cursor != nil {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(p.cursor)), ", ")
		fmt.Fprintf(&b, " WHERE (%s) > (%s)", keys, marks)
		args = append(args, p.cursor...)
	}
	fmt.Fprintf(&b, " ORDER BY %s LIMIT ?", keys)
	return b.String(), append(args, w.Size)
}

// advance records a read page. It reports false when the page came back short,
// which ends the walk.
func (p *pager) advance(w BatchWindow, rows [][]any) bool {
	p.window = BatchWindow{Offset: w.Offset + int64(len(rows)), Size: w.Size}
	if len(rows) > 0 && p.keyIdx != nil {
		last := rows[len(rows)-1]
		cursor := make([]any, len(p.keyIdx))
		for i, idx := range p.keyIdx {
			cursor[i] = cursorValue(last[idx])
		}
		p.cursor = cursor
	}
	return int64(len(rows)) == w.Size
}

// cursorValue turns raw bytes into a string so the comparison uses the key
// column's collation rather than binary ordering.
func cursorValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
