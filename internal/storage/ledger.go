package storage

import (
	"context"
	"database/sql"
	"fmt"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

// Apply runs every op inside one SQLite transaction.
func (r *SQLiteRepository) Apply(ctx context.Context, ops ...ledger.Op) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger mutation: %w", err)
	}
	defer tx.Rollback()

	for i, op := range ops {
		if err := applyOp(ctx, tx, op); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger mutation: %w", err)
	}
	return nil
}

func applyOp(ctx context.Context, tx *sql.Tx, op ledger.Op) error {
	switch o := op.(type) {
	case ledger.CreateTransaction:
		t := o.Transaction
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO transactions (`+txColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, string(t.Type), core.ToCents(t.Amount), t.Description, t.Date.UnixMilli(), t.Category,
			string(t.Status), t.UserID, t.AccountID, boolInt(t.IsRecurring), string(t.RecurringInterval),
			toMillis(t.LastProcessed), toMillis(t.NextRecurringDate))
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		return nil

	case ledger.IncrementBalance:
		res, err := tx.ExecContext(ctx,
			`UPDATE accounts SET balance_cents = balance_cents + ? WHERE id = ?`,
			core.ToCents(o.Delta), o.AccountID)
		if err != nil {
			return fmt.Errorf("increment balance: %w", err)
		}
		if ok, err := affectedOne(res); !ok {
			if err != nil {
				return err
			}
			return fmt.Errorf("account %s: %w", o.AccountID, core.ErrNotFound)
		}
		return nil

	case ledger.AdvanceRecurrence:
		expected := toMillis(o.ExpectedLastProcessed)
		res, err := tx.ExecContext(ctx, `UPDATE transactions
			SET last_processed = ?, next_recurring_date = ?
			WHERE id = ? AND ((? IS NULL AND last_processed IS NULL) OR last_processed = ?)`,
			o.LastProcessed.UnixMilli(), o.NextRecurringDate.UnixMilli(), o.TransactionID, expected, expected)
		if err != nil {
			return fmt.Errorf("advance recurrence: %w", err)
		}
		if ok, err := affectedOne(res); !ok {
			if err != nil {
				return err
			}
			return missingOrConflict(ctx, tx, "transactions", o.TransactionID)
		}
		return nil

	case ledger.MarkBudgetAlerted:
		expected := toMillis(o.ExpectedLastAlertSent)
		res, err := tx.ExecContext(ctx, `UPDATE budgets SET last_alert_sent = ?
			WHERE id = ? AND ((? IS NULL AND last_alert_sent IS NULL) OR last_alert_sent = ?)`,
			o.SentAt.UnixMilli(), o.BudgetID, expected, expected)
		if err != nil {
			return fmt.Errorf("mark budget alerted: %w", err)
		}
		if ok, err := affectedOne(res); !ok {
			if err != nil {
				return err
			}
			return missingOrConflict(ctx, tx, "budgets", o.BudgetID)
		}
		return nil
	}
	return fmt.Errorf("%w: unsupported op %T", core.ErrInvalidInput, op)
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// missingOrConflict tells a lost compare-and-swap apart from a missing row.
func missingOrConflict(ctx context.Context, tx *sql.Tx, table, id string) error {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE id = ?`, id).Scan(&n); err != nil {
		return fmt.Errorf("check %s %s: %w", table, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, core.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", table, id, core.ErrConflict)
}
