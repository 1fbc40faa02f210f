package notify

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

var (
	warnLevel   = decimal.NewFromInt(75)
	dangerLevel = decimal.NewFromInt(90)
)

var funcs = template.FuncMap{
	"money": core.FormatAmount,
	"pct":   func(d decimal.Decimal) string { return d.StringFixed(1) },
}

var budgetAlertTmpl = template.Must(template.New("budget").Funcs(funcs).Parse(
	`Hello {{.Name}},

You've used {{pct .Alert.PercentageUsed}}% of your monthly budget for {{.Alert.AccountName}}.

Budget Amount: {{money .Alert.BudgetAmount}}
Spent So Far:  {{money .Alert.TotalExpenses}}
Remaining:     {{money .Remaining}}
{{with .Warning}}
{{.}}
{{end}}
Track your finances intelligently with fintrack
`))

var monthlyReportTmpl = template.Must(template.New("report").Funcs(funcs).Parse(
	`Hello {{.Name}},

Here is your financial summary for {{.Report.MonthName}} across all accounts.

Total Income:   {{money .Report.TotalIncome}}
Total Expenses: {{money .Report.TotalExpenses}}
Net:            {{money .Net}}
Transactions:   {{.Report.TransactionCount}}
{{if .Categories}}
Expenses by category:
{{range .Categories}}  - {{.Name}}: {{money .Amount}}
{{end}}{{end}}
Accounts:
{{range .Report.Accounts}}  - {{.AccountName}}{{if .IsDefault}} (default){{end}}: income {{money .TotalIncome}}, expenses {{money .TotalExpenses}}, net {{money .Net}}
{{end}}{{if .Report.Insights}}
Insights:
{{range .Report.Insights}}  * {{.}}
{{end}}{{end}}
Track your finances intelligently with fintrack
`))

// Mailer renders domain notifications and hands them to a Sender.
type Mailer struct {
	sender Sender
}

func NewMailer(sender Sender) *Mailer {
	return &Mailer{sender: sender}
}

func (m *Mailer) SendBudgetAlert(ctx context.Context, alert core.BudgetAlert) error {
	body, err := render(budgetAlertTmpl, map[string]any{
		"Name":      displayName(alert.Recipient),
		"Alert":     alert,
		"Remaining": alert.BudgetAmount.Sub(alert.TotalExpenses),
		"Warning":   budgetWarning(alert.PercentageUsed),
	})
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, Message{
		To:      []string{alert.Recipient.Email},
		Subject: BudgetAlertSubject(alert.AccountName),
		Text:    body,
	})
}

func (m *Mailer) SendMonthlyReport(ctx context.Context, user core.User, report core.MonthlyReport) error {
	body, err := render(monthlyReportTmpl, map[string]any{
		"Name":       displayName(user),
		"Report":     report,
		"Net":        report.Net(),
		"Categories": report.Categories(),
	})
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, Message{
		To:      []string{user.Email},
		Subject: MonthlyReportSubject(report),
		Text:    body,
	})
}

func BudgetAlertSubject(accountName string) string {
	return "Budget Alert for " + accountName
}

func MonthlyReportSubject(report core.MonthlyReport) string {
	return fmt.Sprintf("Your Financial Report for %s - All Accounts", report.MonthName())
}

func budgetWarning(pct decimal.Decimal) string {
	switch {
	case pct.GreaterThanOrEqual(dangerLevel):
		return fmt.Sprintf("You're at %s%% of your budget. Consider reducing spending to avoid going over limit.", pct.StringFixed(1))
	case pct.GreaterThanOrEqual(warnLevel):
		return fmt.Sprintf("You're at %s%% of your budget. Keep an eye on your expenses.", pct.StringFixed(1))
	}
	return ""
}

func displayName(u core.User) string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	return "there"
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s email: %w", t.Name(), err)
	}
	return buf.String(), nil
}
