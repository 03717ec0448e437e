package events

import (
	"go.uber.org/zap"

	"github.com/alexanderjulianmartinez/db-transfer/internal/logging"
	"github.com/alexanderjulianmartinez/db-transfer/pkg/types"
)

// Observer receives progress signals from a transfer. Calls arrive on the
// transferring goroutine, in order, and must not block for long.
type Observer interface {
	TableStarted(table string)
	BatchCommitted(table string, transferred, total int64)
	TableCompleted(table string, rowsTransferred int64)
	TableFailed(table string, err error)
	RunFinished(result types.TransferResult)
}

// Nop ignores every signal.
type Nop struct{}

func (Nop) TableStarted(string)                 {}
func (Nop) BatchCommitted(string, int64, int64) {}
func (Nop) TableCompleted(string, int64)        {}
func (Nop) TableFailed(string, error)           {}
func (Nop) RunFinished(types.TransferResult)    {}

type multi []Observer

// Multi fans signals out to every non-nil observer in order.
func Multi(observers ...Observer) Observer {
	var m multi
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	if len(m) == 0 {
		return Nop{}
	}
	if len(m) == 1 {
		return m[0]
	}
	return m
}

func (m multi) TableStarted(table string) {
	for _, o := range m {
		o.TableStarted(table)
	}
}

func (m multi) BatchCommitted(table string, transferred, total int64) {
	for _, o := range m {
		o.BatchCommitted(table, transferred, total)
	}
}

func (m multi) TableCompleted(table string, rows int64) {
	for _, o := range m {
		o.TableCompleted(table, rows)
	}
}

func (m multi) TableFailed(table string, err error) {
	for _, o := range m {
		o.TableFailed(table, err)
	}
}

func (m multi) RunFinished(result types.TransferResult) {
	for _, o := range m {
		o.RunFinished(result)
	}
}

// Logger writes each signal as a structured log line.
type Logger struct {
	log *zap.Logger
}

func NewLogger(log *zap.Logger) *Logger {
	return &Logger{log: logging.OrNop(log)}
}

func (l *Logger) TableStarted(table string) {
	l.log.Info("transferring table", zap.String("table", table))
}

// BatchCommitted logs at debug; the replicator already logs each batch.
func (l *Logger) BatchCommitted(table string, transferred, total int64) {
	l.log.Debug("batch committed", zap.String("table", table), zap.Int64("transferred", transferred), zap.Int64("total", total))
}

func (l *Logger) TableCompleted(table string, rows int64) {
	l.log.Info("table transfer completed", zap.String("table", table), zap.Int64("rows", rows))
}

func (l *Logger) TableFailed(table string, err error) {
	l.log.Error("table transfer failed", zap.String("table", table), zap.Error(err))
}

func (l *Logger) RunFinished(result types.TransferResult) {
	l.log.Info("transfer finished",
		zap.String("status", result.Status),
		zap.String("message", result.Message),
		zap.Int64("rows_transferred", result.RowsTransferred),
		zap.Duration("duration", result.Duration),
	)
}
