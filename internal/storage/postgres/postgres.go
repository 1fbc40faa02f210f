// Package postgres is the PostgreSQL ledger.Store. Amounts live in NUMERIC
// columns and cross the boundary as text, so no float conversion happens.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

type Repository struct {
	pool *pgxpool.Pool
}

var _ ledger.Store = (*Repository)(nil)

// New connects, pings and migrates.
func New(ctx context.Context, url string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := RunMigrations(url); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.InfoContext(ctx, "Postgres ledger ready")
	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const txColumns = `id, type, amount::text, description, date, category, status, user_id, account_id,
	is_recurring, recurring_interval, last_processed, next_recurring_date`

func (r *Repository) GetTransaction(ctx context.Context, id, userID string) (core.Transaction, error) {
	tx, err := scanTransaction(r.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return tx, nil
}

func (r *Repository) ListDueRecurring(ctx context.Context, now time.Time) ([]core.Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+txColumns+` FROM transactions
		WHERE is_recurring AND status = 'COMPLETED'
		AND (last_processed IS NULL OR next_recurring_date <= $1)
		ORDER BY date, id`, now)
	if err != nil {
		return nil, fmt.Errorf("list due recurring: %w", err)
	}
	return collectTransactions(rows)
}

func (r *Repository) ListTransactions(ctx context.Context, accountID string, from, to time.Time) ([]core.Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+txColumns+` FROM transactions
		WHERE account_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date, id`, accountID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return collectTransactions(rows)
}

func (r *Repository) SumExpenses(ctx context.Context, accountID string, from, to time.Time) (decimal.Decimal, error) {
	var total string
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0)::text FROM transactions
		WHERE account_id = $1 AND type = 'EXPENSE' AND date BETWEEN $2 AND $3`,
		accountID, from, to).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum expenses: %w", err)
	}
	return decimal.NewFromString(total)
}

const accountColumns = `id, user_id, name, balance::text, is_default`

func (r *Repository) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) GetAccount(ctx context.Context, id string) (core.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Account{}, core.ErrNotFound
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

func (r *Repository) GetDefaultAccount(ctx context.Context, userID string) (core.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 AND is_default`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Account{}, core.ErrNoDefaultAccount
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get default account: %w", err)
	}
	return a, nil
}

func (r *Repository) ListBudgets(ctx context.Context) ([]core.Budget, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, amount::text, last_alert_sent FROM budgets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		var (
			b      core.Budget
			amount string
		)
		if err := rows.Scan(&b.ID, &b.UserID, &amount, &b.LastAlertSent); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("budget %s amount: %w", b.ID, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repository) GetUser(ctx context.Context, id string) (core.User, error) {
	var u core.User
	err := r.pool.QueryRow(ctx, `SELECT id, name, email FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.User{}, core.ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (r *Repository) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, email FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []core.User
	for rows.Next() {
		var u core.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repository) CreateUser(ctx context.Context, u core.User) error {
	if _, err := r.pool.Exec(ctx, `INSERT INTO users (id, name, email) VALUES ($1, $2, $3)`, u.ID, u.Name, u.Email); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *Repository) CreateAccount(ctx context.Context, a core.Account) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (id, user_id, name, balance, is_default) VALUES ($1, $2, $3, $4::numeric, $5)`,
		a.ID, a.UserID, a.Name, a.Balance.String(), a.IsDefault)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (r *Repository) CreateBudget(ctx context.Context, b core.Budget) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO budgets (id, user_id, amount, last_alert_sent) VALUES ($1, $2, $3::numeric, $4)`,
		b.ID, b.UserID, b.Amount.String(), truncPtr(b.LastAlertSent))
	if err != nil {
		return fmt.Errorf("create budget: %w", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (core.Account, error) {
	var (
		a       core.Account
		balance string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &balance, &a.IsDefault); err != nil {
		return core.Account{}, err
	}
	var err error
	a.Balance, err = decimal.NewFromString(balance)
	return a, err
}

func scanTransaction(row pgx.Row) (core.Transaction, error) {
	var (
		tx                    core.Transaction
		typ, status, interval string
		amount                string
	)
	err := row.Scan(&tx.ID, &typ, &amount, &tx.Description, &tx.Date, &tx.Category, &status,
		&tx.UserID, &tx.AccountID, &tx.IsRecurring, &interval, &tx.LastProcessed, &tx.NextRecurringDate)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.Type = core.TransactionType(typ)
	tx.Status = core.TransactionStatus(status)
	tx.RecurringInterval = core.RecurringInterval(interval)
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %s amount: %w", tx.ID, err)
	}
	return tx, nil
}

func collectTransactions(rows pgx.Rows) ([]core.Transaction, error) {
	defer rows.Close()
	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// Timestamps are stored at millisecond precision so compare-and-swap
// expectations read back from any store match exactly.
func trunc(t time.Time) time.Time {
	return t.Truncate(time.Millisecond)
}

func truncPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := trunc(*t)
	return &v
}
