package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/ledger/memory"
)

type fakeAlertNotifier struct {
	mu     sync.Mutex
	alerts []core.BudgetAlert
	err    error
}

func (f *fakeAlertNotifier) SendBudgetAlert(_ context.Context, a core.BudgetAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeAlertNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func addExpense(t *testing.T, s *memory.Store, id, accountID string, amount int64, date time.Time) {
	t.Helper()
	err := s.Apply(context.Background(), ledger.CreateTransaction{Transaction: core.Transaction{
		ID:          id,
		Type:        core.Expense,
		Amount:      decimal.NewFromInt(amount),
		Description: "spend " + id,
		Date:        date,
		Category:    "food",
		Status:      core.StatusCompleted,
		UserID:      "u1",
		AccountID:   accountID,
	}})
	if err != nil {
		t.Fatal(err)
	}
}

func addBudget(t *testing.T, s *memory.Store, amount int64, lastAlert *time.Time) {
	t.Helper()
	b := core.Budget{ID: "b1", UserID: "u1", Amount: decimal.NewFromInt(amount), LastAlertSent: lastAlert}
	if err := s.CreateBudget(context.Background(), b); err != nil {
		t.Fatal(err)
	}
}

func lastAlertSent(t *testing.T, s *memory.Store) *time.Time {
	t.Helper()
	budgets, err := s.ListBudgets(context.Background())
	if err != nil || len(budgets) != 1 {
		t.Fatalf("ListBudgets() = %v, %v", budgets, err)
	}
	return budgets[0].LastAlertSent
}

func TestBudgetMonitor_AlertsOverThreshold(t *testing.T) {
	s := newLedger(t, 0)
	addBudget(t, s, 1000, nil)
	addExpense(t, s, "e1", "a1", 500, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))
	addExpense(t, s, "e2", "a1", 350, time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC))
	addExpense(t, s, "old", "a1", 900, time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC))

	now := time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC)
	n := &fakeAlertNotifier{}
	res, err := NewBudgetMonitor(s, n).WithClock(fixedClock(now)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Alerted != 1 || res.Checked != 1 {
		t.Errorf("Run() = %+v, want 1 alerted", res)
	}
	if n.count() != 1 {
		t.Fatalf("alerts = %d, want 1", n.count())
	}

	a := n.alerts[0]
	if !a.PercentageUsed.Equal(decimal.NewFromInt(85)) {
		t.Errorf("PercentageUsed = %s, want 85", a.PercentageUsed)
	}
	if !a.TotalExpenses.Equal(decimal.NewFromInt(850)) {
		t.Errorf("TotalExpenses = %s, want 850", a.TotalExpenses)
	}
	if a.Recipient.Email != "ada@example.com" || a.AccountName != "Main" {
		t.Errorf("alert = %+v", a)
	}
	if got := lastAlertSent(t, s); got == nil || !got.Equal(now) {
		t.Errorf("LastAlertSent = %v, want %v", got, now)
	}
}

func TestBudgetMonitor_OncePerMonth(t *testing.T) {
	earlier := time.Date(2025, 1, 3, 9, 0, 0, 0, time.UTC)
	s := newLedger(t, 0)
	addBudget(t, s, 1000, &earlier)
	addExpense(t, s, "e1", "a1", 950, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))

	n := &fakeAlertNotifier{}
	m := NewBudgetMonitor(s, n).WithClock(fixedClock(time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)))
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n.count() != 0 {
		t.Errorf("alerts = %d, want 0", n.count())
	}
	if got := lastAlertSent(t, s); !got.Equal(earlier) {
		t.Errorf("LastAlertSent changed to %v", got)
	}

	// A new month re-arms the budget.
	addExpense(t, s, "e2", "a1", 900, time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC))
	m.WithClock(fixedClock(time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)))
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n.count() != 1 {
		t.Errorf("alerts after month rollover = %d, want 1", n.count())
	}
}

func TestBudgetMonitor_RepeatedRunsSendOnce(t *testing.T) {
	s := newLedger(t, 0)
	addBudget(t, s, 100, nil)
	addExpense(t, s, "e1", "a1", 100, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))

	n := &fakeAlertNotifier{}
	m := NewBudgetMonitor(s, n).WithClock(fixedClock(time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)))
	for range 3 {
		if _, err := m.Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	}
	if n.count() != 1 {
		t.Errorf("alerts = %d, want 1", n.count())
	}
}

func TestBudgetMonitor_Skips(t *testing.T) {
	tests := []struct {
		name        string
		budget      int64
		spent       int64
		noDefault   bool
		wantSkipped int
	}{
		{name: "zero budget", budget: 0, spent: 100, wantSkipped: 1},
		{name: "under threshold", budget: 1000, spent: 799, wantSkipped: 0},
		{name: "no default account", budget: 100, spent: 0, noDefault: true, wantSkipped: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := memory.New()
			_ = s.CreateUser(ctx, core.User{ID: "u1", Email: "ada@example.com"})
			_ = s.CreateAccount(ctx, core.Account{ID: "a1", UserID: "u1", Name: "Main", IsDefault: !tt.noDefault})
			addBudget(t, s, tt.budget, nil)
			if tt.spent > 0 {
				addExpense(t, s, "e1", "a1", tt.spent, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))
			}

			n := &fakeAlertNotifier{}
			res, err := NewBudgetMonitor(s, n).
				WithClock(fixedClock(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))).
				Run(ctx)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.Skipped != tt.wantSkipped || res.Alerted != 0 {
				t.Errorf("Run() = %+v, want skipped %d", res, tt.wantSkipped)
			}
			if n.count() != 0 {
				t.Errorf("alerts = %d, want 0", n.count())
			}
		})
	}
}

func TestBudgetMonitor_NotifierFailureLeavesBudgetArmed(t *testing.T) {
	s := newLedger(t, 0)
	addBudget(t, s, 100, nil)
	addExpense(t, s, "e1", "a1", 90, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))

	n := &fakeAlertNotifier{err: errors.New("smtp down")}
	m := NewBudgetMonitor(s, n).WithClock(fixedClock(time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)))

	res, err := m.Run(context.Background())
	if !errors.Is(err, core.ErrExternalService) {
		t.Fatalf("Run() error = %v, want ErrExternalService", err)
	}
	if res.Failed != 1 {
		t.Errorf("Run() = %+v, want 1 failed", res)
	}
	if got := lastAlertSent(t, s); got != nil {
		t.Errorf("LastAlertSent = %v, want nil", got)
	}

	n.err = nil
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("retry Run() error = %v", err)
	}
	if n.count() != 1 {
		t.Errorf("alerts after retry = %d, want 1", n.count())
	}
}

func TestShouldAlert(t *testing.T) {
	now := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	sameMonth := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	lastMonth := time.Date(2025, 2, 28, 23, 0, 0, 0, time.UTC)
	eighty := decimal.NewFromInt(80)

	tests := []struct {
		name string
		pct  int64
		last *time.Time
		want bool
	}{
		{"below", 79, nil, false},
		{"at threshold", 80, nil, true},
		{"alerted this month", 95, &sameMonth, false},
		{"alerted last month", 95, &lastMonth, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldAlert(decimal.NewFromInt(tt.pct), eighty, tt.last, now); got != tt.want {
				t.Errorf("ShouldAlert() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBudgetMonitor_MissingOwnerIsLoggedAndSkipped(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	ctx := context.Background()
	s := memory.New()
	_ = s.CreateAccount(ctx, core.Account{ID: "a1", UserID: "u1", Name: "Main", IsDefault: true})
	addBudget(t, s, 100, nil)
	addExpense(t, s, "e1", "a1", 90, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))

	n := &fakeAlertNotifier{}
	res, err := NewBudgetMonitor(s, n).
		WithClock(fixedClock(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))).
		Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Skipped != 1 || res.Alerted != 0 || n.count() != 0 {
		t.Errorf("Run() = %+v, alerts = %d, want 1 skipped and no alerts", res, n.count())
	}

	out := buf.String()
	for _, want := range []string{`"msg":"Budget owner not found, skipping"`, `"budget_id":"b1"`, `"user_id":"u1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s:\n%s", want, out)
		}
	}
}
