package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/jobs"
)

type DueLister interface {
	ListDueRecurring(ctx context.Context, now time.Time) ([]core.Transaction, error)
}

// RecurringDispatcher selects due templates and publishes one work item per
// template. It never mutates the ledger.
type RecurringDispatcher struct {
	store     DueLister
	publisher jobs.Publisher
	now       func() time.Time
}

func NewRecurringDispatcher(store DueLister, publisher jobs.Publisher) *RecurringDispatcher {
	return &RecurringDispatcher{store: store, publisher: publisher, now: time.Now}
}

func (d *RecurringDispatcher) WithClock(now func() time.Time) *RecurringDispatcher {
	d.now = now
	return d
}

// Dispatch publishes a work item for every template due now and returns how
// many were published. Publish failures do not stop the fan-out; they are
// returned joined.
func (d *RecurringDispatcher) Dispatch(ctx context.Context) (int, error) {
	now := d.now()
	due, err := d.store.ListDueRecurring(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due recurring: %w", err)
	}

	slog.InfoContext(ctx, "Dispatching recurring transactions",
		"due", len(due),
		"as_of", now.Format(time.RFC3339))

	var (
		published int
		errs      []error
	)
	for _, tx := range due {
		msg := jobs.NewRecurringMessage(core.WorkItem{TransactionID: tx.ID, UserID: tx.UserID})
		if err := d.publisher.Publish(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "Failed to publish recurring work item",
				"transaction_id", tx.ID,
				"user_id", tx.UserID,
				"error", err)
			errs = append(errs, fmt.Errorf("publish %s: %w", tx.ID, err))
			continue
		}
		published++
	}

	return published, errors.Join(errs...)
}
