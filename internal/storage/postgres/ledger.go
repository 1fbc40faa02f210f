package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

// Apply runs every op inside one read-committed transaction. The
// compare-and-swap ops rely on row locks taken by UPDATE, so two batches
// advancing the same template serialize and the loser sees zero rows.
func (r *Repository) Apply(ctx context.Context, ops ...ledger.Op) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin ledger mutation: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, op := range ops {
		if err := applyOp(ctx, tx, op); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger mutation: %w", err)
	}
	return nil
}

func applyOp(ctx context.Context, tx pgx.Tx, op ledger.Op) error {
	switch o := op.(type) {
	case ledger.CreateTransaction:
		t := o.Transaction
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
		}
		_, err := tx.Exec(ctx, `INSERT INTO transactions (id, type, amount, description, date, category, status,
			user_id, account_id, is_recurring, recurring_interval, last_processed, next_recurring_date)
			VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			t.ID, string(t.Type), t.Amount.String(), t.Description, trunc(t.Date), t.Category, string(t.Status),
			t.UserID, t.AccountID, t.IsRecurring, string(t.RecurringInterval),
			truncPtr(t.LastProcessed), truncPtr(t.NextRecurringDate))
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		return nil

	case ledger.IncrementBalance:
		tag, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance + $1::numeric WHERE id = $2`,
			o.Delta.String(), o.AccountID)
		if err != nil {
			return fmt.Errorf("increment balance: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("account %s: %w", o.AccountID, core.ErrNotFound)
		}
		return nil

	case ledger.AdvanceRecurrence:
		tag, err := tx.Exec(ctx, `UPDATE transactions SET last_processed = $1, next_recurring_date = $2
			WHERE id = $3 AND last_processed IS NOT DISTINCT FROM $4::timestamptz`,
			trunc(o.LastProcessed), trunc(o.NextRecurringDate), o.TransactionID, truncPtr(o.ExpectedLastProcessed))
		if err != nil {
			return fmt.Errorf("advance recurrence: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return missingOrConflict(ctx, tx, "transactions", o.TransactionID)
		}
		return nil

	case ledger.MarkBudgetAlerted:
		tag, err := tx.Exec(ctx, `UPDATE budgets SET last_alert_sent = $1
			WHERE id = $2 AND last_alert_sent IS NOT DISTINCT FROM $3::timestamptz`,
			trunc(o.SentAt), o.BudgetID, truncPtr(o.ExpectedLastAlertSent))
		if err != nil {
			return fmt.Errorf("mark budget alerted: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return missingOrConflict(ctx, tx, "budgets", o.BudgetID)
		}
		return nil
	}
	return fmt.Errorf("%w: unsupported op %T", core.ErrInvalidInput, op)
}

func missingOrConflict(ctx context.Context, tx pgx.Tx, table, id string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check %s %s: %w", table, id, err)
	}
	if !exists {
		return fmt.Errorf("%s %s: %w", table, id, core.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", table, id, core.ErrConflict)
}
