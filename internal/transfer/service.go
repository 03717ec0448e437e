package transfer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alexanderjulianmartinez/db-transfer/internal/config"
	"github.com/alexanderjulianmartinez/db-transfer/internal/drift"
	"github.com/alexanderjulianmartinez/db-transfer/internal/events"
	"github.com/alexanderjulianmartinez/db-transfer/internal/logging"
	"github.com/alexanderjulianmartinez/db-transfer/internal/source"
	"github.com/alexanderjulianmartinez/db-transfer/internal/source/mysql"
	"github.com/alexanderjulianmartinez/db-transfer/pkg/types"
)

// Dialer opens and releases connections; *mysql.Manager is the production one.
type Dialer interface {
	Open(ctx context.Context, cfg config.ConnectionConfig) (*mysql.Conn, error)
	Close(conn *mysql.Conn)
}

type Options struct {
	Logger    *zap.Logger
	Observer  events.Observer
	BatchSize int
}

// Service is the function surface consumed by the CLI and HTTP layers.
//
// It holds no run state and takes no locks: two overlapping runs against the
// same target race each other. Callers serialize runs (see progress.Tracker).
type Service struct {
	cfg        *config.Config
	dialer     Dialer
	inspector  *mysql.Inspector
	replicator *Replicator
	observer   events.Observer
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(cfg *config.Config, dialer Dialer, opts Options) *Service {
	logger := logging.OrNop(opts.Logger)
	observer := opts.Observer
	if observer == nil {
		observer = events.Nop{}
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = cfg.BatchSize
	}
	inspector := mysql.NewInspector(logger)
	return &Service{
		cfg:        cfg,
		dialer:     dialer,
		inspector:  inspector,
		replicator: NewReplicator(inspector, observer, logger, batchSize),
		observer:   observer,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Service) Config() *config.Config { return s.cfg }

// ListDatabases returns user databases on the configured server. Only a
// connection failure is an error; a failed listing yields an empty slice.
func (s *Service) ListDatabases(ctx context.Context) ([]string, error) {
	conn, err := s.dialer.Open(ctx, s.cfg.Server.WithDatabase(""))
	if err != nil {
		return []string{}, err
	}
	defer s.dialer.Close(conn)
	return s.inspector.ListDatabases(ctx, conn), nil
}

// ListTables has the same failure policy as ListDatabases.
func (s *Service) ListTables(ctx context.Context, database string) ([]string, error) {
	conn, err := s.dialer.Open(ctx, s.cfg.Server.WithDatabase(""))
	if err != nil {
		return []string{}, err
	}
	defer s.dialer.Close(conn)
	return s.inspector.ListTables(ctx, conn, database), nil
}

func (s *Service) TableInfo(ctx context.Context, database, table string) (*source.TableInfo, error) {
	conn, err := s.dialer.Open(ctx, s.cfg.Server.WithDatabase(""))
	if err != nil {
		return nil, err
	}
	defer s.dialer.Close(conn)
	return s.inspector.TableInfo(ctx, conn, database, table)
}

// TransferSingleTable copies sourceDB.table to targetDB.table over
// connections opened for this call only and released on every exit path.
func (s *Service) TransferSingleTable(ctx context.Context, sourceDB, targetDB, table string) (result types.TransferResult) {
	start := s.now()
	s.logger.Info("starting transfer",
		zap.String("source", sourceDB+"."+table),
		zap.String("target", targetDB+"."+table))

	var src, dst *mysql.Conn
	defer func() {
		s.dialer.Close(src)
		s.dialer.Close(dst)
	}()
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("unexpected failure: %v", p)
			s.logger.Error("single table transfer panicked", zap.String("table", table), zap.Any("panic", p))
			result = types.ErrorResult("Transfer failed", err)
			s.observer.TableFailed(table, err)
		}
		result.Duration = s.now().Sub(start)
		result.DurationSeconds = result.Duration.Seconds()
		s.observer.RunFinished(result)
	}()

	s.observer.TableStarted(table)

	var err error
	if src, err = s.dialer.Open(ctx, s.cfg.Server.WithDatabase(sourceDB)); err != nil {
		s.observer.TableFailed(table, err)
		return types.ErrorResult("Transfer failed", err)
	}
	if dst, err = s.dialer.Open(ctx, s.cfg.Server.WithDatabase(targetDB)); err != nil {
		s.observer.TableFailed(table, err)
		return types.ErrorResult("Transfer failed", err)
	}

	result, _ = s.replicateOne(ctx, src, dst, table)
	return result
}

// TransferAllTables copies every configured table, in order, over one shared
// source and one shared target connection. A failing table is recorded and
// the loop moves on.
func (s *Service) TransferAllTables(ctx context.Context) (result types.TransferResult) {
	start := s.now()
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("bulk transfer panicked", zap.Any("panic", p))
			result = types.ErrorResult("Unexpected error", fmt.Errorf("%v", p))
		}
		result.Duration = s.now().Sub(start)
		result.DurationSeconds = result.Duration.Seconds()
		s.observer.RunFinished(result)
	}()

	tables := s.cfg.Tables
	if len(tables) == 0 {
		return types.ErrorResult("No tables specified in configuration", nil)
	}

	src, dst, err := s.connectConfigured(ctx)
	if err != nil {
		s.logger.Error("failed to connect to databases", zap.Error(err))
		return types.ErrorResult("Failed to connect to databases", err)
	}
	defer func() {
		s.dialer.Close(src)
		s.dialer.Close(dst)
	}()

	s.logger.Info("starting bulk transfer", zap.Int("tables", len(tables)))
	result = types.TransferResult{
		Tables:          make(map[string]types.TransferResult, len(tables)),
		TableOrder:      append([]string(nil), tables...),
		TablesProcessed: len(tables),
	}

	succeeded := 0
	for _, table := range tables {
		s.observer.TableStarted(table)
		res, err := s.replicateOne(ctx, src, dst, table)
		result.Tables[table] = res
		result.RowsTransferred += res.RowsTransferred
		result.TotalRows += res.TotalRows
		if err != nil {
			s.logger.Error("failed to transfer table", zap.String("table", table), zap.String("message", res.Message))
			continue
		}
		succeeded++
	}

	switch {
	case succeeded == len(tables):
		result.Status = types.StatusSuccess
		result.Message = "Transfer completed"
	case succeeded > 0:
		result.Status = types.StatusPartialSuccess
		result.Message = "Transfer completed with some errors"
	default:
		result.Status = types.StatusError
		result.Message = fmt.Sprintf("Transfer failed for all %d tables", len(tables))
	}
	return result
}

// replicateOne copies one table and sends its completion or failure signal.
// A panic in the copy or in an observer fails only this table.
func (s *Service) replicateOne(ctx context.Context, src, dst *mysql.Conn, table string) (res types.TransferResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("unexpected failure: %v", p)
			s.logger.Error("table transfer panicked", zap.String("table", table), zap.Any("panic", p))
			res = types.ErrorResult("Transfer failed", err)
			s.observer.TableFailed(table, err)
		}
	}()

	res, err = s.replicator.ReplicateTable(ctx, src, dst, table)
	if err != nil {
		s.observer.TableFailed(table, err)
		return res, err
	}
	s.observer.TableCompleted(table, res.RowsTransferred)
	return res, nil
}

// CompareTable reports column differences between the configured source and
// target copies of table. It never modifies either side.
func (s *Service) CompareTable(ctx context.Context, table string) (*drift.Report, error) {
	src, dst, err := s.connectConfigured(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.dialer.Close(src)
		s.dialer.Close(dst)
	}()

	srcCols, err := s.inspector.Columns(ctx, src, src.Database(), table)
	if err != nil {
		return nil, types.SchemaError("read source columns", err)
	}
	exists, err := s.inspector.TableExists(ctx, dst, table)
	if err != nil {
		return nil, types.SchemaError("check target", err)
	}
	if !exists {
		return drift.Compare(table, srcCols, nil), nil
	}
	dstCols, err := s.inspector.Columns(ctx, dst, dst.Database(), table)
	if err != nil {
		return nil, types.SchemaError("read target columns", err)
	}
	return drift.Compare(table, srcCols, dstCols), nil
}

func (s *Service) connectConfigured(ctx context.Context) (src, dst *mysql.Conn, err error) {
	src, err = s.dialer.Open(ctx, s.cfg.SourceDB)
	if err != nil {
		return nil, nil, err
	}
	dst, err = s.dialer.Open(ctx, s.cfg.TargetDB)
	if err != nil {
		s.dialer.Close(src)
		return nil, nil, err
	}
	s.logger.Info("connected to both databases")
	return src, dst, nil
}
