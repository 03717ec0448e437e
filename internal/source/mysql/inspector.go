package mysql

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/alexanderjulianmartinez/db-transfer/internal/logging"
	"github.com/alexanderjulianmartinez/db-transfer/internal/source"
)

// systemSchemas are created by every MySQL server and never offered for transfer.
var systemSchemas = map[string]bool{
	"information_schema": true,
	"mysql":              true,
	"performance_schema": true,
	"sys":                true,
}

// Inspector reads structure from a MySQL server. Queries carry the caller's
// context and nothing else: there is no timeout at this layer.
type Inspector struct {
	logger *zap.Logger
}

func NewInspector(logger *zap.Logger) *Inspector {
	return &Inspector{logger: logging.OrNop(logger)}
}

// ListDatabases returns user databases in server order. A failed query is
// logged and yields an empty list.
func (i *Inspector) ListDatabases(ctx context.Context, conn *Conn) []string {
	names, err := i.queryStrings(ctx, conn, "SHOW DATABASES")
	if err != nil {
		i.logger.Error("list databases", zap.Error(err))
		return []string{}
	}
	dbs := make([]string, 0, len(names))
	for _, name := range names {
		if !systemSchemas[strings.ToLower(name)] {
			dbs = append(dbs, name)
		}
	}
	i.logger.Info("found user databases", zap.Int("count", len(dbs)))
	return dbs
}

// ListTables returns the tables of database. A failed query is logged and
// yields an empty list.
func (i *Inspector) ListTables(ctx context.Context, conn *Conn, database string) []string {
	tables, err := i.queryStrings(ctx, conn, `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME
	`, database)
	if err != nil {
		i.logger.Error("list tables", zap.String("database", database), zap.Error(err))
		return []string{}
	}
	if tables == nil {
		tables = []string{}
	}
	i.logger.Info("found tables", zap.String("database", database), zap.Int("count", len(tables)))
	return tables
}

// DescribeColumns returns the writable column names of a table in the
// connection's database, in declaration order. Generated columns are left
// out: the server rejects explicit values for them.
func (i *Inspector) DescribeColumns(ctx context.Context, conn *Conn, table string) ([]string, error) {
	rows, err := conn.DB().QueryContext(ctx, `
		SELECT COLUMN_NAME, EXTRA
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`, table)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	seen := 0
	for rows.Next() {
		var name, extra string
		if err := rows.Scan(&name, &extra); err != nil {
			return nil, fmt.Errorf("describe %s: %w", table, err)
		}
		seen++
		if source.IsGenerated(extra) {
			i.logger.Debug("skipping generated column", zap.String("table", table), zap.String("column", name))
			continue
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	if seen == 0 {
		return nil, fmt.Errorf("describe %s: table has no columns or does not exist", table)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("describe %s: every column is generated", table)
	}
	return cols, nil
}

// PrimaryKeyColumns returns the primary key columns ordered by their position
// in the key, which can differ from declaration order.
func (i *Inspector) PrimaryKeyColumns(ctx context.Context, conn *Conn, table string) ([]string, error) {
	keys, err := i.queryStrings(ctx, conn, `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION
	`, table)
	if err != nil {
		return nil, fmt.Errorf("primary key of %s: %w", table, err)
	}
	return keys, nil
}

// Describe builds the descriptor used by one transfer.
func (i *Inspector) Describe(ctx context.Context, conn *Conn, table string) (source.TableDescriptor, error) {
	cols, err := i.DescribeColumns(ctx, conn, table)
	if err != nil {
		return source.TableDescriptor{}, err
	}
	keys, err := i.PrimaryKeyColumns(ctx, conn, table)
	if err != nil {
		return source.TableDescriptor{}, err
	}
	return source.TableDescriptor{Name: table, Columns: cols, PrimaryKey: keys}, nil
}

// RowCount runs a live COUNT(*) on a table of the connection's database.
func (i *Inspector) RowCount(ctx context.Context, conn *Conn, table string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", QuoteIdent(table))
	if err := conn.DB().QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return count, nil
}

// ShowCreateTable returns the table's full CREATE TABLE statement.
func (i *Inspector) ShowCreateTable(ctx context.Context, conn *Conn, table string) (string, error) {
	var name, ddl string
	query := fmt.Sprintf("SHOW CREATE TABLE %s", QuoteIdent(table))
	if err := conn.DB().QueryRowContext(ctx, query).Scan(&name, &ddl); err != nil {
		return "", fmt.Errorf("show create table %s: %w", table, err)
	}
	return ddl, nil
}

// TableExists checks the catalog of the connection's database.
func (i *Inspector) TableExists(ctx context.Context, conn *Conn, table string) (bool, error) {
	var count int
	err := conn.DB().QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
	`, conn.Database(), table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return count > 0, nil
}

func (i *Inspector) queryStrings(ctx context.Context, conn *Conn, query string, args ...any) ([]string, error) {
	rows, err := conn.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// QuoteIdent backtick-quotes an identifier, doubling embedded backticks.
func QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QuoteIdents quotes each name and joins them with ", ".
func QuoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
