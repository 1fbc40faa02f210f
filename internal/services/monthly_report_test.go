package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/insights"
	"fintrack/internal/ledger"
	"fintrack/internal/ledger/memory"
)

type fakeReportNotifier struct {
	sent []core.MonthlyReport
	err  error
}

func (f *fakeReportNotifier) SendMonthlyReport(_ context.Context, _ core.User, r core.MonthlyReport) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, r)
	return nil
}

type fakeArchiver struct {
	archived int
	err      error
}

func (f *fakeArchiver) ArchiveMonthlyReport(context.Context, core.User, core.MonthlyReport) error {
	f.archived++
	return f.err
}

type stubGenerator struct {
	out   []string
	err   error
	block bool
}

func (g stubGenerator) Generate(ctx context.Context, _ core.MonthlyReport) ([]string, error) {
	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return g.out, g.err
}

func addTx(t *testing.T, s *memory.Store, id, accountID string, typ core.TransactionType, amount, category string, date time.Time) {
	t.Helper()
	err := s.Apply(context.Background(), ledger.CreateTransaction{Transaction: core.Transaction{
		ID:          id,
		Type:        typ,
		Amount:      decimal.RequireFromString(amount),
		Description: id,
		Date:        date,
		Category:    category,
		Status:      core.StatusCompleted,
		UserID:      "u1",
		AccountID:   accountID,
	}})
	if err != nil {
		t.Fatal(err)
	}
}

// reportLedger has two accounts with January activity and one idle account.
func reportLedger(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := newLedger(t, 0)
	_ = s.CreateAccount(ctx, core.Account{ID: "a2", UserID: "u1", Name: "Savings"})
	_ = s.CreateAccount(ctx, core.Account{ID: "a3", UserID: "u1", Name: "Idle"})

	jan := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }
	addTx(t, s, "t1", "a1", core.Income, "3000", "salary", jan(1))
	addTx(t, s, "t2", "a1", core.Expense, "1000", "rent", jan(2))
	addTx(t, s, "t3", "a1", core.Expense, "150.25", "food", jan(31))
	addTx(t, s, "t4", "a2", core.Income, "200", "interest", jan(15))
	addTx(t, s, "t5", "a2", core.Expense, "49.75", "food", jan(20))
	addTx(t, s, "feb", "a1", core.Expense, "999", "rent", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	return s
}

func TestMonthlyReporter_AggregatesPreviousMonth(t *testing.T) {
	s := reportLedger(t)
	n := &fakeReportNotifier{}
	a := &fakeArchiver{}
	gen := stubGenerator{out: []string{"one", "two", "three", "four"}}

	res, err := NewMonthlyReporter(s, gen, n).
		WithArchiver(a).
		WithClock(fixedClock(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))).
		Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Sent != 1 || res.Users != 1 {
		t.Fatalf("Run() = %+v, want 1 sent", res)
	}
	if a.archived != 1 {
		t.Errorf("archived = %d, want 1", a.archived)
	}

	r := n.sent[0]
	if r.MonthName() != "January 2025" {
		t.Errorf("MonthName() = %q", r.MonthName())
	}
	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"income", r.TotalIncome, "3200"},
		{"expenses", r.TotalExpenses, "1200"},
		{"net", r.Net(), "2000"},
		{"food", r.ByCategory["food"], "200"},
		{"rent", r.ByCategory["rent"], "1000"},
	}
	for _, c := range checks {
		if !c.got.Equal(decimal.RequireFromString(c.want)) {
			t.Errorf("%s = %s, want %s", c.name, c.got, c.want)
		}
	}
	if r.TransactionCount != 5 {
		t.Errorf("TransactionCount = %d, want 5", r.TransactionCount)
	}
	if len(r.Accounts) != 2 {
		t.Errorf("accounts = %d, want 2 (idle account omitted)", len(r.Accounts))
	}
	if len(r.Insights) != insights.MaxInsights {
		t.Errorf("insights = %q, want 3", r.Insights)
	}
}

func TestMonthlyReporter_SkipsUsersWithoutActivity(t *testing.T) {
	s := newLedger(t, 0)
	n := &fakeReportNotifier{}
	res, err := NewMonthlyReporter(s, nil, n).
		WithClock(fixedClock(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))).
		Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Skipped != 1 || len(n.sent) != 0 {
		t.Errorf("Run() = %+v, sent %d; want skipped", res, len(n.sent))
	}
}

func TestMonthlyReporter_InsightFallback(t *testing.T) {
	tests := []struct {
		name string
		gen  insights.Generator
	}{
		{"generator error", stubGenerator{err: errors.New("quota")}},
		{"empty result", stubGenerator{}},
		{"timeout", stubGenerator{block: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &fakeReportNotifier{}
			_, err := NewMonthlyReporter(reportLedger(t), tt.gen, n).
				WithInsightTimeout(10 * time.Millisecond).
				WithClock(fixedClock(time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC))).
				Run(context.Background())
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(n.sent) != 1 {
				t.Fatalf("sent = %d, want 1", len(n.sent))
			}
			want := insights.Fallback()
			got := n.sent[0].Insights
			if len(got) != len(want) || got[0] != want[0] {
				t.Errorf("insights = %q, want fallback", got)
			}
		})
	}
}

func TestMonthlyReporter_NotifierFailureIsCounted(t *testing.T) {
	n := &fakeReportNotifier{err: errors.New("smtp down")}
	a := &fakeArchiver{}
	res, err := NewMonthlyReporter(reportLedger(t), nil, n).
		WithArchiver(a).
		WithClock(fixedClock(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))).
		Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Failed != 1 || res.Sent != 0 {
		t.Errorf("Run() = %+v, want 1 failed", res)
	}
	if a.archived != 0 {
		t.Errorf("archived = %d, want 0", a.archived)
	}
}

func TestMonthlyReporter_ArchiveFailureDoesNotFail(t *testing.T) {
	n := &fakeReportNotifier{}
	res, err := NewMonthlyReporter(reportLedger(t), nil, n).
		WithArchiver(&fakeArchiver{err: errors.New("sheets down")}).
		WithClock(fixedClock(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))).
		Run(context.Background())
	if err != nil || res.Sent != 1 {
		t.Errorf("Run() = %+v, %v; want sent", res, err)
	}
}
