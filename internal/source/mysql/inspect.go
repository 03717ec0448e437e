package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alexanderjulianmartinez/db-transfer/internal/source"
)

// TableInfo reads the live row count and column detail of database.table.
// The count is an exact COUNT(*), not the catalog estimate.
func (i *Inspector) TableInfo(ctx context.Context, conn *Conn, database, table string) (*source.TableInfo, error) {
	var rowCount int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", QuoteIdent(database), QuoteIdent(table))
	if err := conn.DB().QueryRowContext(ctx, query).Scan(&rowCount); err != nil {
		return nil, fmt.Errorf("count %s.%s: %w", database, table, err)
	}

	columns, err := i.Columns(ctx, conn, database, table)
	if err != nil {
		return nil, err
	}

	return &source.TableInfo{
		Database: database,
		Name:     table,
		RowCount: rowCount,
		Columns:  columns,
	}, nil
}

// Columns returns full column detail in declaration order.
func (i *Inspector) Columns(ctx context.Context, conn *Conn, database, table string) ([]source.ColumnInfo, error) {
	rows, err := conn.DB().QueryContext(ctx, `
		SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_KEY, COLUMN_DEFAULT, EXTRA
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`, database, table)
	if err != nil {
		return nil, fmt.Errorf("columns of %s.%s: %w", database, table, err)
	}
	defer rows.Close()

	var cols []source.ColumnInfo
	for rows.Next() {
		var (
			name, columnType, nullable, key, extra string
			def                                    sql.NullString
		)
		if err := rows.Scan(&name, &columnType, &nullable, &key, &def, &extra); err != nil {
			return nil, err
		}
		col := source.ColumnInfo{
			Name:     name,
			Type:     columnType,
			Nullable: nullable == "YES",
			Key:      key,
			Extra:    extra,
		}
		if def.Valid {
			col.Default = &def.String
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s.%s not found", database, table)
	}
	return cols, nil
}
