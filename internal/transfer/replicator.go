package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/alexanderjulianmartinez/db-transfer/internal/config"
	"github.com/alexanderjulianmartinez/db-transfer/internal/events"
	"github.com/alexanderjulianmartinez/db-transfer/internal/logging"
	"github.com/alexanderjulianmartinez/db-transfer/internal/source/mysql"
	"github.com/alexanderjulianmartinez/db-transfer/pkg/types"
)

// Replicator copies one table from a source to a target connection.
//
// Every batch is committed on its own. A failure rolls back only the batch in
// flight; earlier batches stay applied and the table is reported as failed.
// Re-running converges for keyed tables because the write is an upsert; for
// key-less tables INSERT IGNORE only deduplicates against unique indexes, so a
// re-run without one duplicates rows.
type Replicator struct {
	inspector *mysql.Inspector
	observer  events.Observer
	logger    *zap.Logger
	batchSize int
}

func NewReplicator(inspector *mysql.Inspector, observer events.Observer, logger *zap.Logger, batchSize int) *Replicator {
	if batchSize <= 0 {
		batchSize = config.DefaultBatchSize
	}
	if observer == nil {
		observer = events.Nop{}
	}
	return &Replicator{
		inspector: inspector,
		observer:  observer,
		logger:    logging.OrNop(logger),
		batchSize: batchSize,
	}
}

func (r *Replicator) BatchSize() int { return r.batchSize }

// EnsureTargetTable creates table in the target from the source's own CREATE
// TABLE statement when the target lacks it. An existing target table is left
// as is, whatever its structure.
func (r *Replicator) EnsureTargetTable(ctx context.Context, src, dst *mysql.Conn, table string) (created bool, err error) {
	ddl, err := r.inspector.ShowCreateTable(ctx, src, table)
	if err != nil {
		return false, types.SchemaError("capture ddl", err)
	}

	exists, err := r.inspector.TableExists(ctx, dst, table)
	if err != nil {
		return false, types.SchemaError("check target", err)
	}
	if exists {
		r.logger.Info("table already exists in target database", zap.String("table", table))
		return false, nil
	}

	tx, err := dst.DB().BeginTx(ctx, nil)
	if err != nil {
		return false, types.SchemaError("create target table", err)
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		_ = tx.Rollback()
		return false, types.SchemaError("create target table", fmt.Errorf("%s: %w", table, err))
	}
	if err := tx.Commit(); err != nil {
		return false, types.SchemaError("create target table", err)
	}
	r.logger.Info("created table in target database", zap.String("table", table), zap.String("database", dst.Database()))
	return true, nil
}

// ReplicateTable copies every row of table. The returned error is nil exactly
// when the result status is success.
func (r *Replicator) ReplicateTable(ctx context.Context, src, dst *mysql.Conn, table string) (types.TransferResult, error) {
	log := r.logger.With(zap.String("table", table))
	log.Info("starting data transfer")

	if _, err := r.EnsureTargetTable(ctx, src, dst, table); err != nil {
		log.Error("error creating target table", zap.Error(err))
		return types.ErrorResult("Failed to create target table", err), err
	}

	desc, err := r.inspector.Describe(ctx, src, table)
	if err != nil {
		err = types.SchemaError("describe", err)
		return types.ErrorResult("Failed to read table structure", err), err
	}

	total, err := r.inspector.RowCount(ctx, src, table)
	if err != nil {
		err = types.TransferError("count rows", err)
		return types.ErrorResult("Error transferring data", err), err
	}
	log.Info("total rows to transfer", zap.Int64("total", total))
	if total == 0 {
		return types.TransferResult{Status: types.StatusSuccess, Message: "No data to transfer"}, nil
	}

	stmt, mode := WriteStatement(desc)
	pg, err := newPager(desc, total, r.batchSize)
	if err != nil {
		err = types.SchemaError("describe", err)
		return types.ErrorResult("Failed to read table structure", err), err
	}
	log.Debug("write statement", zap.Stringer("mode", mode), zap.String("sql", stmt))

	var transferred int64
	fail := func(op string, window BatchWindow, err error) (types.TransferResult, error) {
		err = types.TransferError(op, err)
		log.Error("error transferring data", zap.Int64("offset", window.Offset), zap.Error(err))
		res := types.ErrorResult("Error transferring data", err)
		res.RowsTransferred = transferred
		res.TotalRows = total
		return res, err
	}

	for {
		window, ok := pg.next()
		if !ok {
			break
		}
		query, args := pg.query(window)
		rows, err := readPage(ctx, src, query, args, len(desc.Columns))
		if err != nil {
			return fail("read batch", window, err)
		}
		if len(rows) == 0 {
			break
		}
		if err := writeBatch(ctx, dst, stmt, rows); err != nil {
			return fail("write batch", window, err)
		}

		transferred += int64(len(rows))
		log.Info("processed batch", zap.Int64("transferred", window.Offset+int64(len(rows))), zap.Int64("total", total))
		r.observer.BatchCommitted(table, transferred, total)

		if !pg.advance(window, rows) {
			break
		}
	}

	log.Info("data transfer completed", zap.Int64("rows", transferred))
	return types.TransferResult{
		Status:          types.StatusSuccess,
		RowsTransferred: transferred,
		TotalRows:       total,
		Message:         fmt.Sprintf("Successfully transferred %d rows", transferred),
	}, nil
}

// readPage materializes one window. Values are scanned into interface slots
// so the driver's representation passes through to the write unchanged.
func readPage(ctx context.Context, conn *mysql.Conn, query string, args []any, width int) ([][]any, error) {
	rows, err := conn.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page [][]any
	for rows.Next() {
		values := make([]any, width)
		ptrs := make([]any, width)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		page = append(page, values)
	}
	return page, rows.Err()
}

// writeBatch applies rows in one transaction and commits it. On any error the
// transaction is rolled back before returning.
func writeBatch(ctx context.Context, conn *mysql.Conn, query string, rows [][]any) (err error) {
	tx, err := conn.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err = stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
