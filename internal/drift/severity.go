package drift

// Centralized severity and message helpers for source/target column drift.
// Rules:
// - BLOCK when copying rows would fail
// - WARN when rows copy but values may be coerced
// - INFO for differences the copy ignores

const (
	SeverityInfo  = "INFO"
	SeverityWarn  = "WARN"
	SeverityBlock = "BLOCK"
)

// Change kinds supported:
// "column_added", "column_added_required", "column_removed", "nullable_to_notnull",
// "type_changed", "table_missing"
func SeverityForChange(kind string) string {
	switch kind {
	case "column_removed", "column_added_required", "nullable_to_notnull":
		return SeverityBlock
	case "type_changed":
		return SeverityWarn
	case "column_added", "table_missing":
		return SeverityInfo
	default:
		return SeverityInfo
	}
}

// MessageForChange returns a concise message for the given change kind.
func MessageForChange(kind string) string {
	switch kind {
	case "column_added":
		return "present in target but not in source"
	case "column_added_required":
		return "present in target but not in source, NOT NULL without a default"
	case "column_removed":
		return "present in source but missing in target"
	case "nullable_to_notnull":
		return "nullable in source, NOT NULL in target"
	case "type_changed":
		return "type mismatch"
	case "table_missing":
		return "table missing in target; it will be created from the source definition"
	default:
		return ""
	}
}
