package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

// RecurringStore is what the processor needs from the ledger.
type RecurringStore interface {
	ledger.Mutator
	GetTransaction(ctx context.Context, id, userID string) (core.Transaction, error)
}

// RecurringProcessor materializes one due template into a child transaction.
type RecurringProcessor struct {
	store RecurringStore
	now   func() time.Time
	newID func() string
}

// NewRecurringProcessor creates a new recurring transaction processor
func NewRecurringProcessor(store RecurringStore) *RecurringProcessor {
	return &RecurringProcessor{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// WithClock overrides the time source.
func (p *RecurringProcessor) WithClock(now func() time.Time) *RecurringProcessor {
	p.now = now
	return p
}

// Process fires the template named by item if it is still due. It reports
// whether a child transaction was created. Missing, no-longer-due and
// lost-race templates are skipped without error so duplicate deliveries are
// harmless.
func (p *RecurringProcessor) Process(ctx context.Context, item core.WorkItem) (bool, error) {
	if p.store == nil {
		return false, fmt.Errorf("processor not properly initialized")
	}
	if err := item.Validate(); err != nil {
		return false, err
	}

	now := p.now()
	tmpl, err := p.store.GetTransaction(ctx, item.TransactionID, item.UserID)
	if errors.Is(err, core.ErrNotFound) {
		slog.InfoContext(ctx, "Recurring template not found, skipping",
			"transaction_id", item.TransactionID,
			"user_id", item.UserID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load template: %w", err)
	}

	if !tmpl.IsDue(now) {
		slog.DebugContext(ctx, "Recurring template not due, skipping",
			"transaction_id", tmpl.ID,
			"next_recurring_date", tmpl.NextRecurringDate)
		return false, nil
	}

	next, err := NextRecurringDate(now, tmpl.RecurringInterval)
	if err != nil {
		return false, err
	}

	child := core.Transaction{
		ID:          p.newID(),
		Type:        tmpl.Type,
		Amount:      tmpl.Amount,
		Description: tmpl.Description + core.RecurringSuffix,
		Date:        core.StartOfDay(now),
		Category:    tmpl.Category,
		Status:      core.StatusCompleted,
		UserID:      tmpl.UserID,
		AccountID:   tmpl.AccountID,
	}

	err = p.store.Apply(ctx,
		ledger.CreateTransaction{Transaction: child},
		ledger.IncrementBalance{AccountID: tmpl.AccountID, Delta: child.SignedAmount()},
		ledger.AdvanceRecurrence{
			TransactionID:         tmpl.ID,
			ExpectedLastProcessed: tmpl.LastProcessed,
			LastProcessed:         now,
			NextRecurringDate:     next,
		},
	)
	if errors.Is(err, core.ErrConflict) {
		slog.InfoContext(ctx, "Recurring template fired concurrently, skipping",
			"transaction_id", tmpl.ID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %w", core.ErrMutationFailed, err)
	}

	slog.InfoContext(ctx, "Created transaction from recurring template",
		"template_id", tmpl.ID,
		"transaction_id", child.ID,
		"user_id", tmpl.UserID,
		"type", tmpl.Type,
		"amount", core.FormatAmount(tmpl.Amount),
		"interval", tmpl.RecurringInterval,
		"next_recurring_date", next.Format(time.RFC3339))

	return true, nil
}

// ProcessMessage adapts Process to the queue handler signature.
func (p *RecurringProcessor) ProcessMessage(ctx context.Context, item core.WorkItem) error {
	_, err := p.Process(ctx, item)
	return err
}
