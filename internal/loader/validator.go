package loader

import (
	"fmt"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/source"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/tables"
)

// ValidationResult contains the outcome of document checks. Findings are
// reported, never used to reject rows.
type ValidationResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
}

// ValidateDocument performs quality checks on a parsed document and the rows
// it produced:
// - declared channel_info.message_count matches the records present
// - no message id repeats within the file
// - message ids are positive
// - the partition date is a calendar date
// - channel identity came from the file rather than its path
func ValidateDocument(doc *tables.Document, rows []tables.MessageRow) ValidationResult {
	result := ValidationResult{Passed: true}

	if declared := doc.DeclaredMessageCount(); declared != nil && *declared != int64(doc.MessageCount()) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("message_count mismatch: channel_info declares %d, file has %d", *declared, doc.MessageCount()))
	}

	seen := make(map[int64]bool, len(rows))
	for _, row := range rows {
		if seen[row.MessageID] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("duplicate message id %d", row.MessageID))
		}
		seen[row.MessageID] = true

		if row.MessageID <= 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("message id %d is not positive", row.MessageID))
			result.Passed = false
		}
	}

	if !source.IsPartitionDate(doc.Key.Date) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("partition date %q is not YYYY-MM-DD", doc.Key.Date))
	}

	if doc.Channel.FromPath {
		result.Warnings = append(result.Warnings, "channel identity derived from file path")
	}

	if dropped := doc.Dropped(); len(dropped) > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d records dropped", len(dropped)))
	}

	return result
}
