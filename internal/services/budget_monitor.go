package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

// DefaultAlertThreshold is the percentage of budget used that raises an alert.
var DefaultAlertThreshold = decimal.NewFromInt(80)

var hundred = decimal.NewFromInt(100)

type BudgetStore interface {
	ledger.Mutator
	ledger.BudgetReader
	GetDefaultAccount(ctx context.Context, userID string) (core.Account, error)
	SumExpenses(ctx context.Context, accountID string, from, to time.Time) (decimal.Decimal, error)
	GetUser(ctx context.Context, id string) (core.User, error)
}

type AlertNotifier interface {
	SendBudgetAlert(ctx context.Context, alert core.BudgetAlert) error
}

// BudgetRunResult summarizes one monitor pass.
type BudgetRunResult struct {
	Checked int
	Alerted int
	Skipped int
	Failed  int
}

// BudgetMonitor raises at most one alert per budget per calendar month.
type BudgetMonitor struct {
	store     BudgetStore
	notifier  AlertNotifier
	threshold decimal.Decimal
	now       func() time.Time
}

func NewBudgetMonitor(store BudgetStore, notifier AlertNotifier) *BudgetMonitor {
	return &BudgetMonitor{
		store:     store,
		notifier:  notifier,
		threshold: DefaultAlertThreshold,
		now:       time.Now,
	}
}

// WithThreshold sets the alert percentage.
func (m *BudgetMonitor) WithThreshold(pct decimal.Decimal) *BudgetMonitor {
	m.threshold = pct
	return m
}

func (m *BudgetMonitor) WithClock(now func() time.Time) *BudgetMonitor {
	m.now = now
	return m
}

// Run checks every budget. A failing budget does not stop the pass; all
// failures are returned joined so the caller can retry. Retrying is safe
// because already-alerted budgets are skipped.
func (m *BudgetMonitor) Run(ctx context.Context) (BudgetRunResult, error) {
	var res BudgetRunResult
	budgets, err := m.store.ListBudgets(ctx)
	if err != nil {
		return res, fmt.Errorf("list budgets: %w", err)
	}

	now := m.now()
	var errs []error
	for _, b := range budgets {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++
		alerted, err := m.checkBudget(ctx, b, now)
		switch {
		case err != nil && isSkip(err):
			res.Skipped++
		case err != nil:
			res.Failed++
			errs = append(errs, fmt.Errorf("budget %s: %w", b.ID, err))
		case alerted:
			res.Alerted++
		}
	}

	slog.InfoContext(ctx, "Budget check complete",
		"checked", res.Checked,
		"alerted", res.Alerted,
		"skipped", res.Skipped,
		"failed", res.Failed)

	return res, errors.Join(errs...)
}

func isSkip(err error) bool {
	return errors.Is(err, core.ErrNoDefaultAccount) || errors.Is(err, core.ErrZeroBudget) || core.IsSoft(err)
}

func (m *BudgetMonitor) checkBudget(ctx context.Context, b core.Budget, now time.Time) (bool, error) {
	if !b.Amount.IsPositive() {
		slog.WarnContext(ctx, "Budget amount is zero, skipping", "budget_id", b.ID, "user_id", b.UserID)
		return false, core.ErrZeroBudget
	}
	if b.LastAlertSent != nil && core.SameMonth(*b.LastAlertSent, now) {
		return false, nil
	}

	account, err := m.store.GetDefaultAccount(ctx, b.UserID)
	if errors.Is(err, core.ErrNoDefaultAccount) {
		slog.WarnContext(ctx, "No default account for budget owner, skipping", "budget_id", b.ID, "user_id", b.UserID)
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("default account: %w", err)
	}

	spent, err := m.store.SumExpenses(ctx, account.ID, core.StartOfMonth(now), now)
	if err != nil {
		return false, fmt.Errorf("sum expenses: %w", err)
	}

	pct := PercentageUsed(spent, b.Amount)
	if !ShouldAlert(pct, m.threshold, b.LastAlertSent, now) {
		return false, nil
	}

	user, err := m.store.GetUser(ctx, b.UserID)
	if errors.Is(err, core.ErrNotFound) {
		slog.WarnContext(ctx, "Budget owner not found, skipping", "budget_id", b.ID, "user_id", b.UserID)
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("load budget owner: %w", err)
	}

	alert := core.BudgetAlert{
		Recipient:      user,
		BudgetID:       b.ID,
		AccountName:    account.Name,
		PercentageUsed: pct.Round(1),
		BudgetAmount:   b.Amount,
		TotalExpenses:  spent,
	}
	if err := m.notifier.SendBudgetAlert(ctx, alert); err != nil {
		return false, fmt.Errorf("%w: send budget alert: %w", core.ErrExternalService, err)
	}

	err = m.store.Apply(ctx, ledger.MarkBudgetAlerted{
		BudgetID:              b.ID,
		ExpectedLastAlertSent: b.LastAlertSent,
		SentAt:                now,
	})
	if errors.Is(err, core.ErrConflict) {
		slog.WarnContext(ctx, "Budget alert recorded concurrently", "budget_id", b.ID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %w", core.ErrMutationFailed, err)
	}

	slog.InfoContext(ctx, "Budget alert sent",
		"budget_id", b.ID,
		"user_id", b.UserID,
		"percentage_used", pct.StringFixed(1),
		"budget", core.FormatAmount(b.Amount),
		"spent", core.FormatAmount(spent))
	return true, nil
}

// PercentageUsed returns spent/budget*100. The caller guarantees budget > 0.
func PercentageUsed(spent, budget decimal.Decimal) decimal.Decimal {
	return spent.Div(budget).Mul(hundred)
}

// ShouldAlert applies the threshold and once-per-calendar-month rule.
func ShouldAlert(pct, threshold decimal.Decimal, lastAlertSent *time.Time, now time.Time) bool {
	if pct.LessThan(threshold) {
		return false
	}
	return lastAlertSent == nil || !core.SameMonth(*lastAlertSent, now)
}
