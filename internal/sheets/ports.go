// Package sheets defines the spreadsheet-backed outbound ports.
package sheets

import (
	"context"

	"fintrack/internal/core"
)

// Ports for outbound adapters.
type (
	// ReportArchiver appends a sent monthly report to a spreadsheet.
	ReportArchiver interface {
		ArchiveMonthlyReport(ctx context.Context, user core.User, report core.MonthlyReport) error
	}
)
