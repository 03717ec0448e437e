package progress

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alexanderjulianmartinez/db-transfer/pkg/types"
)

// Run states reported by Snapshot.Status.
const (
	StateIdle      = "idle"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateError     = "error"
)

// Kind names what a run transfers.
type Kind string

const (
	KindSingle Kind = "single"
	KindAll    Kind = "all"
)

var ErrRunInProgress = errors.New("transfer is already in progress")

// RunID identifies one run admitted by Begin.
type RunID uint64

// Snapshot is a consistent copy of the tracker state.
type Snapshot struct {
	Status          string                `json:"status"`
	Kind            Kind                  `json:"kind,omitempty"`
	Message         string                `json:"message"`
	CurrentTable    string                `json:"current_table,omitempty"`
	TablesCompleted int                   `json:"tables_completed"`
	TotalTables     int                   `json:"total_tables"`
	RowsTransferred int64                 `json:"rows_transferred"`
	TotalRows       int64                 `json:"total_rows"`
	DurationSeconds *float64              `json:"duration_seconds"`
	Result          *types.TransferResult `json:"result"`
	LastRun         *time.Time            `json:"last_run"`
}

// Running reports whether the snapshot was taken during a run.
func (s Snapshot) Running() bool { return s.Status == StateRunning }

// Tracker holds the status of the one run a process may have in flight. It
// implements events.Observer; every method is safe for concurrent use.
type Tracker struct {
	mu  sync.Mutex
	now func() time.Time

	run             RunID
	status          string
	kind            Kind
	message         string
	currentTable    string
	tablesCompleted int
	totalTables     int
	rows            int64
	totalRows       int64
	start, end      time.Time
	result          *types.TransferResult
	lastRun         *time.Time
}

func NewTracker() *Tracker {
	return &Tracker{now: time.Now, status: StateIdle, message: "Ready to transfer"}
}

// Begin moves the tracker to running and returns the new run's id. It fails
// with ErrRunInProgress while another run has not finished.
func (t *Tracker) Begin(kind Kind, totalTables int) (RunID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StateRunning {
		return 0, ErrRunInProgress
	}
	t.run++
	t.status = StateRunning
	t.kind = kind
	t.message = "Transfer in progress..."
	t.currentTable = ""
	t.tablesCompleted = 0
	t.totalTables = totalTables
	t.rows, t.totalRows = 0, 0
	t.start = t.now()
	t.end = time.Time{}
	t.result = nil
	return t.run, nil
}

// Finish ends run with result unless the run already finished. It reports
// whether it changed the state; a stale id never touches a newer run.
func (t *Tracker) Finish(run RunID, result types.TransferResult) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if run != t.run || t.status != StateRunning {
		return false
	}
	t.finish(result)
	return true
}

// Fail ends run without a result, for failures that happen outside the
// transfer itself. It has Finish's stale-id rule.
func (t *Tracker) Fail(run RunID, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if run != t.run || t.status != StateRunning {
		return false
	}
	t.status = StateError
	t.end = t.now()
	t.message = fmt.Sprintf("Transfer failed: %v", err)
	t.result = &types.TransferResult{Status: types.StatusError, Message: err.Error()}
	t.markRun()
	return true
}

func (t *Tracker) TableStarted(table string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentTable = table
	t.rows, t.totalRows = 0, 0
	t.message = "Processing table: " + table
}

func (t *Tracker) BatchCommitted(_ string, transferred, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows, t.totalRows = transferred, total
}

func (t *Tracker) TableCompleted(string, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tablesCompleted++
	if t.totalTables > 0 {
		pct := float64(t.tablesCompleted) / float64(t.totalTables) * 100
		t.message = fmt.Sprintf("Completed %d/%d tables (%.1f%%)", t.tablesCompleted, t.totalTables, pct)
	}
}

// TableFailed leaves the counters alone; the failure shows up in the result.
func (t *Tracker) TableFailed(string, error) {}

func (t *Tracker) RunFinished(result types.TransferResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finish(result)
}

func (t *Tracker) finish(result types.TransferResult) {
	t.end = t.now()
	r := result
	t.result = &r
	switch result.Status {
	case types.StatusSuccess:
		t.status = StateCompleted
		t.message = "Transfer completed successfully!"
	case types.StatusPartialSuccess:
		t.status = StateCompleted
		t.message = "Transfer completed with some errors"
	default:
		t.status = StateError
		t.message = "Transfer failed: " + result.Message
	}
	t.markRun()
}

func (t *Tracker) markRun() {
	at := t.end
	t.lastRun = &at
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Snapshot{
		Status:          t.status,
		Kind:            t.kind,
		Message:         t.message,
		CurrentTable:    t.currentTable,
		TablesCompleted: t.tablesCompleted,
		TotalTables:     t.totalTables,
		RowsTransferred: t.rows,
		TotalRows:       t.totalRows,
	}
	if !t.start.IsZero() {
		end := t.end
		if end.IsZero() {
			end = t.now()
		}
		d := end.Sub(t.start).Seconds()
		s.DurationSeconds = &d
	}
	if t.result != nil {
		r := *t.result
		s.Result = &r
	}
	if t.lastRun != nil {
		at := *t.lastRun
		s.LastRun = &at
	}
	return s
}
