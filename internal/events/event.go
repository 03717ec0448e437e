package events

import (
	"time"

	"github.com/alexanderjulianmartinez/db-transfer/pkg/types"
)

// Event kinds carried by Event.Type.
const (
	TypeTableStarted   = "table_started"
	TypeBatchCommitted = "batch_committed"
	TypeTableCompleted = "table_completed"
	TypeTableFailed    = "table_failed"
	TypeRunFinished    = "run_finished"
)

// Event is the serialized form of an Observer signal, shared by the Kafka
// publisher and the websocket stream.
type Event struct {
	Type        string                `json:"type"`
	Table       string                `json:"table,omitempty"`
	Transferred int64                 `json:"rows_transferred,omitempty"`
	Total       int64                 `json:"total_rows,omitempty"`
	Error       string                `json:"error,omitempty"`
	Result      *types.TransferResult `json:"result,omitempty"`
	At          time.Time             `json:"at"`
}

// Sink receives events built from Observer signals.
type Sink interface {
	Emit(Event)
}

// Recorder adapts a Sink to the Observer interface.
type Recorder struct {
	Sink Sink
	Now  func() time.Time
}

func (r Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r Recorder) TableStarted(table string) {
	r.Sink.Emit(Event{Type: TypeTableStarted, Table: table, At: r.now()})
}

func (r Recorder) BatchCommitted(table string, transferred, total int64) {
	r.Sink.Emit(Event{Type: TypeBatchCommitted, Table: table, Transferred: transferred, Total: total, At: r.now()})
}

func (r Recorder) TableCompleted(table string, rows int64) {
	r.Sink.Emit(Event{Type: TypeTableCompleted, Table: table, Transferred: rows, At: r.now()})
}

func (r Recorder) TableFailed(table string, err error) {
	ev := Event{Type: TypeTableFailed, Table: table, At: r.now()}
	if err != nil {
		ev.Error = err.Error()
	}
	r.Sink.Emit(ev)
}

func (r Recorder) RunFinished(result types.TransferResult) {
	r.Sink.Emit(Event{Type: TypeRunFinished, Result: &result, Transferred: result.RowsTransferred, Total: result.TotalRows, At: r.now()})
}
