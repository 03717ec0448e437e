package drift

import (
	"strings"

	"github.com/alexanderjulianmartinez/db-transfer/internal/source"
)

type Issue struct {
	Table    string `json:"table"`
	Column   string `json:"column,omitempty"`
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	FromType string `json:"from_type,omitempty"`
	ToType   string `json:"to_type,omitempty"`
}

type Report struct {
	Table  string  `json:"table"`
	Issues []Issue `json:"issues"`
}

// Blocking reports whether any issue would make the copy fail.
func (r *Report) Blocking() bool {
	for _, iss := range r.Issues {
		if iss.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Compare lists column differences from src to dst. An empty dst means the
// target table does not exist yet.
func Compare(table string, src, dst []source.ColumnInfo) *Report {
	report := &Report{Table: table}
	if len(dst) == 0 {
		report.add(Issue{Table: table, Kind: "table_missing"})
		return report
	}

	dstCols := make(map[string]source.ColumnInfo, len(dst))
	for _, c := range dst {
		dstCols[strings.ToLower(c.Name)] = c
	}
	srcCols := make(map[string]bool, len(src))

	for _, sc := range src {
		srcCols[strings.ToLower(sc.Name)] = true
		if sc.Generated() {
			// never copied
			continue
		}
		dc, ok := dstCols[strings.ToLower(sc.Name)]
		if !ok {
			report.add(Issue{Table: table, Column: sc.Name, Kind: "column_removed"})
			continue
		}
		if !strings.EqualFold(sc.Type, dc.Type) {
			report.add(Issue{Table: table, Column: sc.Name, Kind: "type_changed", FromType: sc.Type, ToType: dc.Type})
		}
		if sc.Nullable && !dc.Nullable {
			report.add(Issue{Table: table, Column: sc.Name, Kind: "nullable_to_notnull"})
		}
	}
	for _, dc := range dst {
		if srcCols[strings.ToLower(dc.Name)] {
			continue
		}
		kind := "column_added"
		if !dc.Nullable && !dc.HasDefault() {
			kind = "column_added_required"
		}
		report.add(Issue{Table: table, Column: dc.Name, Kind: kind})
	}
	return report
}

func (r *Report) add(iss Issue) {
	iss.Severity = SeverityForChange(iss.Kind)
	iss.Message = MessageForChange(iss.Kind)
	r.Issues = append(r.Issues, iss)
}
