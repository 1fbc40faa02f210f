package google

import (
	"strings"

	"fintrack/internal/core"
)

// Header is the column layout of the report sheet.
var Header = []any{"Month", "User", "Account", "Income", "Expenses", "Net", "Transactions", "Categories", "Insights"}

// reportRows renders a report as sheet rows: one per account, then a
// "Total" row carrying the cross-account figures and the insights.
func reportRows(user core.User, report core.MonthlyReport) [][]any {
	month := report.Month.Format("2006-01")
	who := user.Email
	if who == "" {
		who = user.ID
	}

	rows := make([][]any, 0, len(report.Accounts)+1)
	for _, a := range report.Accounts {
		name := a.AccountName
		if a.IsDefault {
			name += " (default)"
		}
		rows = append(rows, []any{
			month,
			who,
			name,
			core.FormatAmount(a.TotalIncome),
			core.FormatAmount(a.TotalExpenses),
			core.FormatAmount(a.Net()),
			a.TransactionCount,
			formatCategories(core.MonthlyReport{ByCategory: a.ByCategory}.Categories()),
			"",
		})
	}

	rows = append(rows, []any{
		month,
		who,
		"Total",
		core.FormatAmount(report.TotalIncome),
		core.FormatAmount(report.TotalExpenses),
		core.FormatAmount(report.Net()),
		report.TransactionCount,
		formatCategories(report.Categories()),
		strings.Join(report.Insights, " | "),
	})
	return rows
}

func formatCategories(cats []core.CategoryAmount) string {
	parts := make([]string, 0, len(cats))
	for _, c := range cats {
		parts = append(parts, c.Name+": "+core.FormatAmount(c.Amount))
	}
	return strings.Join(parts, "; ")
}
