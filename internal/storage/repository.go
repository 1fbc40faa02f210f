package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/ledger"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

var _ ledger.Store = (*SQLiteRepository)(nil)

// dsn enables foreign keys and lets concurrent writers wait instead of
// failing with SQLITE_BUSY.
func dsn(dbPath string) string {
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; serializing on the pool keeps Apply batches
	// from interleaving.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn(dbPath)); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping implements the admin readiness check.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const txColumns = `id, type, amount_cents, description, date, category, status, user_id, account_id,
	is_recurring, recurring_interval, last_processed, next_recurring_date`

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id, userID string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return tx, nil
}

// ListDueRecurring mirrors core.Transaction.IsDue in SQL.
func (r *SQLiteRepository) ListDueRecurring(ctx context.Context, now time.Time) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+txColumns+` FROM transactions
		WHERE is_recurring = 1 AND status = 'COMPLETED'
		AND (last_processed IS NULL OR (next_recurring_date IS NOT NULL AND next_recurring_date <= ?))
		ORDER BY date, id`, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list due recurring: %w", err)
	}
	return collectTransactions(rows)
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, accountID string, from, to time.Time) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+txColumns+` FROM transactions
		WHERE account_id = ? AND date >= ? AND date <= ?
		ORDER BY date, id`, accountID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return collectTransactions(rows)
}

func (r *SQLiteRepository) SumExpenses(ctx context.Context, accountID string, from, to time.Time) (decimal.Decimal, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount_cents), 0) FROM transactions
		WHERE account_id = ? AND type = 'EXPENSE' AND date >= ? AND date <= ?`,
		accountID, from.UnixMilli(), to.UnixMilli()).Scan(&cents)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum expenses: %w", err)
	}
	return core.FromCents(cents), nil
}

func (r *SQLiteRepository) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, balance_cents, is_default FROM accounts WHERE user_id = ? ORDER BY id`, userID)
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

func (r *SQLiteRepository) GetAccount(ctx context.Context, id string) (core.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, balance_cents, is_default FROM accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.ErrNotFound
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

func (r *SQLiteRepository) GetDefaultAccount(ctx context.Context, userID string) (core.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, balance_cents, is_default FROM accounts WHERE user_id = ? AND is_default = 1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.ErrNoDefaultAccount
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get default account: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) ListBudgets(ctx context.Context) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, user_id, amount_cents, last_alert_sent FROM budgets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		var (
			b     core.Budget
			cents int64
			sent  sql.NullInt64
		)
		if err := rows.Scan(&b.ID, &b.UserID, &cents, &sent); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		b.Amount = core.FromCents(cents)
		b.LastAlertSent = fromMillis(sent)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (core.User, error) {
	var u core.User
	err := r.db.QueryRowContext(ctx, `SELECT id, name, email FROM users WHERE id = ?`, id).Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, email FROM users ORDER BY id`)
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

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (id, name, email) VALUES (?, ?, ?)`, u.ID, u.Name, u.Email)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	slog.InfoContext(ctx, "User created", "user_id", u.ID)
	return nil
}

func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, name, balance_cents, is_default) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, core.ToCents(a.Balance), boolInt(a.IsDefault))
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	slog.InfoContext(ctx, "Account created", "account_id", a.ID, "user_id", a.UserID, "default", a.IsDefault)
	return nil
}

func (r *SQLiteRepository) CreateBudget(ctx context.Context, b core.Budget) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO budgets (id, user_id, amount_cents, last_alert_sent) VALUES (?, ?, ?, ?)`,
		b.ID, b.UserID, core.ToCents(b.Amount), toMillis(b.LastAlertSent))
	if err != nil {
		return fmt.Errorf("create budget: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (core.Account, error) {
	var (
		a         core.Account
		cents     int64
		isDefault int64
	)
	if err := s.Scan(&a.ID, &a.UserID, &a.Name, &cents, &isDefault); err != nil {
		return core.Account{}, err
	}
	a.Balance = core.FromCents(cents)
	a.IsDefault = isDefault == 1
	return a, nil
}

func scanTransaction(s scanner) (core.Transaction, error) {
	var (
		tx          core.Transaction
		typ, status string
		interval    string
		cents, date int64
		recurring   int64
		last, next  sql.NullInt64
	)
	err := s.Scan(&tx.ID, &typ, &cents, &tx.Description, &date, &tx.Category, &status,
		&tx.UserID, &tx.AccountID, &recurring, &interval, &last, &next)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.Type = core.TransactionType(typ)
	tx.Status = core.TransactionStatus(status)
	tx.RecurringInterval = core.RecurringInterval(interval)
	tx.Amount = core.FromCents(cents)
	tx.Date = time.UnixMilli(date).UTC()
	tx.IsRecurring = recurring == 1
	tx.LastProcessed = fromMillis(last)
	tx.NextRecurringDate = fromMillis(next)
	return tx, nil
}

func collectTransactions(rows *sql.Rows) ([]core.Transaction, error) {
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

func toMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
