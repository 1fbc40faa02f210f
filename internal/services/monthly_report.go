package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/insights"
)

type ReportStore interface {
	ListUsers(ctx context.Context) ([]core.User, error)
	ListAccounts(ctx context.Context, userID string) ([]core.Account, error)
	ListTransactions(ctx context.Context, accountID string, from, to time.Time) ([]core.Transaction, error)
}

type ReportNotifier interface {
	SendMonthlyReport(ctx context.Context, user core.User, report core.MonthlyReport) error
}

// ReportArchiver keeps a copy of each sent report somewhere durable.
type ReportArchiver interface {
	ArchiveMonthlyReport(ctx context.Context, user core.User, report core.MonthlyReport) error
}

const DefaultInsightTimeout = 30 * time.Second

// ReportRunResult summarizes one reporting pass.
type ReportRunResult struct {
	Users   int
	Sent    int
	Skipped int
	Failed  int
}

// MonthlyReporter builds and sends the previous month's report per user.
type MonthlyReporter struct {
	store          ReportStore
	insights       insights.Generator
	notifier       ReportNotifier
	archiver       ReportArchiver
	insightTimeout time.Duration
	now            func() time.Time
}

func NewMonthlyReporter(store ReportStore, gen insights.Generator, notifier ReportNotifier) *MonthlyReporter {
	if gen == nil {
		gen = insights.Static{}
	}
	return &MonthlyReporter{
		store:          store,
		insights:       gen,
		notifier:       notifier,
		insightTimeout: DefaultInsightTimeout,
		now:            time.Now,
	}
}

// WithArchiver enables archiving; archive failures are only logged.
func (r *MonthlyReporter) WithArchiver(a ReportArchiver) *MonthlyReporter {
	r.archiver = a
	return r
}

func (r *MonthlyReporter) WithInsightTimeout(d time.Duration) *MonthlyReporter {
	r.insightTimeout = d
	return r
}

func (r *MonthlyReporter) WithClock(now func() time.Time) *MonthlyReporter {
	r.now = now
	return r
}

// Run reports the calendar month before now for every user. A notifier
// failure for one user is logged and counted but not returned: rerunning the
// job would resend every report already delivered.
func (r *MonthlyReporter) Run(ctx context.Context) (ReportRunResult, error) {
	var res ReportRunResult
	users, err := r.store.ListUsers(ctx)
	if err != nil {
		return res, fmt.Errorf("list users: %w", err)
	}

	from, to := core.PreviousMonth(r.now())
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Users++

		report, ok, err := r.BuildReport(ctx, u.ID, from, to)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to build monthly report", "user_id", u.ID, "error", err)
			res.Failed++
			continue
		}
		if !ok {
			res.Skipped++
			continue
		}

		report.Insights = r.generateInsights(ctx, report)

		if err := r.notifier.SendMonthlyReport(ctx, u, report); err != nil {
			slog.ErrorContext(ctx, "Failed to send monthly report",
				"user_id", u.ID,
				"month", report.MonthName(),
				"error", fmt.Errorf("%w: %w", core.ErrExternalService, err))
			res.Failed++
			continue
		}
		res.Sent++

		if r.archiver != nil {
			if err := r.archiver.ArchiveMonthlyReport(ctx, u, report); err != nil {
				slog.WarnContext(ctx, "Failed to archive monthly report", "user_id", u.ID, "error", err)
			}
		}
	}

	slog.InfoContext(ctx, "Monthly reports complete",
		"month", from.Format("January 2006"),
		"users", res.Users,
		"sent", res.Sent,
		"skipped", res.Skipped,
		"failed", res.Failed)
	return res, nil
}

// BuildReport aggregates a user's accounts over [from, to]. Accounts with no
// transactions are left out; ok is false when no account had any.
func (r *MonthlyReporter) BuildReport(ctx context.Context, userID string, from, to time.Time) (core.MonthlyReport, bool, error) {
	report := core.MonthlyReport{UserID: userID, Month: core.StartOfMonth(from)}

	accounts, err := r.store.ListAccounts(ctx, userID)
	if err != nil {
		return report, false, fmt.Errorf("list accounts: %w", err)
	}
	for _, a := range accounts {
		txs, err := r.store.ListTransactions(ctx, a.ID, from, to)
		if err != nil {
			return report, false, fmt.Errorf("list transactions for %s: %w", a.ID, err)
		}
		if len(txs) == 0 {
			continue
		}
		stats := core.NewAccountStats(a)
		for _, tx := range txs {
			stats.Add(tx)
		}
		report.Merge(stats)
	}

	return report, len(report.Accounts) > 0, nil
}

func (r *MonthlyReporter) generateInsights(ctx context.Context, report core.MonthlyReport) []string {
	ictx, cancel := context.WithTimeout(ctx, r.insightTimeout)
	defer cancel()

	got, err := r.insights.Generate(ictx, report)
	if err != nil || len(got) == 0 {
		slog.WarnContext(ctx, "Insight generation failed, using fallback",
			"user_id", report.UserID,
			"error", err)
		return insights.Fallback()
	}
	if len(got) > insights.MaxInsights {
		got = got[:insights.MaxInsights]
	}
	return got
}
