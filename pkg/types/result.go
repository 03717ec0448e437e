package types

import "time"

// Status values reported in a TransferResult.
const (
	StatusSuccess        = "success"
	StatusPartialSuccess = "partial_success"
	StatusError          = "error"
)

// TransferResult is produced once per single-table or whole-run invocation.
// Tables is only populated for whole-run results; TableOrder preserves the
// configured order of its keys.
type TransferResult struct {
	Status          string                    `json:"status"`
	RowsTransferred int64                     `json:"rows_transferred"`
	TotalRows       int64                     `json:"total_rows"`
	Message         string                    `json:"message"`
	Duration        time.Duration             `json:"-"`
	DurationSeconds float64                   `json:"duration_seconds,omitempty"`
	TablesProcessed int                       `json:"tables_processed,omitempty"`
	Tables          map[string]TransferResult `json:"results,omitempty"`
	TableOrder      []string                  `json:"-"`
}

func (r TransferResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// ErrorResult builds an error result carrying only a message.
func ErrorResult(format string, err error) TransferResult {
	msg := format
	if err != nil {
		msg = format + ": " + err.Error()
	}
	return TransferResult{Status: StatusError, Message: msg}
}
