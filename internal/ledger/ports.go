// Package ledger defines the persisted ledger and the only primitive allowed
// to change it: an all-or-nothing batch of writes applied by Apply.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

// Op is one write inside an atomic ledger mutation.
type Op interface {
	isOp()
}

type (
	// CreateTransaction inserts a new transaction record.
	CreateTransaction struct {
		Transaction core.Transaction
	}

	// IncrementBalance adds Delta (possibly negative) to an account balance.
	IncrementBalance struct {
		AccountID string
		Delta     decimal.Decimal
	}

	// AdvanceRecurrence moves a template forward. The write only applies if the
	// stored lastProcessed still equals ExpectedLastProcessed (nil means never
	// processed); otherwise the whole batch fails with core.ErrConflict.
	AdvanceRecurrence struct {
		TransactionID         string
		ExpectedLastProcessed *time.Time
		LastProcessed         time.Time
		NextRecurringDate     time.Time
	}

	// MarkBudgetAlerted records an alert. Same compare-and-swap rule as
	// AdvanceRecurrence, on lastAlertSent.
	MarkBudgetAlerted struct {
		BudgetID              string
		ExpectedLastAlertSent *time.Time
		SentAt                time.Time
	}
)

func (CreateTransaction) isOp() {}
func (IncrementBalance) isOp()  {}
func (AdvanceRecurrence) isOp() {}
func (MarkBudgetAlerted) isOp() {}

// Ports consumed by the jobs.
type (
	Mutator interface {
		// Apply commits every op or none of them.
		Apply(ctx context.Context, ops ...Op) error
	}

	TransactionReader interface {
		// GetTransaction returns core.ErrNotFound when no transaction with that
		// id belongs to userID.
		GetTransaction(ctx context.Context, id, userID string) (core.Transaction, error)
		// ListDueRecurring returns every template for which IsDue(now) holds.
		ListDueRecurring(ctx context.Context, now time.Time) ([]core.Transaction, error)
		// ListTransactions returns the account's transactions dated in [from, to].
		ListTransactions(ctx context.Context, accountID string, from, to time.Time) ([]core.Transaction, error)
		// SumExpenses totals EXPENSE amounts for the account dated in [from, to].
		SumExpenses(ctx context.Context, accountID string, from, to time.Time) (decimal.Decimal, error)
	}

	AccountReader interface {
		ListAccounts(ctx context.Context, userID string) ([]core.Account, error)
		GetAccount(ctx context.Context, id string) (core.Account, error)
		// GetDefaultAccount returns core.ErrNoDefaultAccount if the user has none.
		GetDefaultAccount(ctx context.Context, userID string) (core.Account, error)
	}

	BudgetReader interface {
		ListBudgets(ctx context.Context) ([]core.Budget, error)
	}

	UserReader interface {
		GetUser(ctx context.Context, id string) (core.User, error)
		ListUsers(ctx context.Context) ([]core.User, error)
	}

	// Seeder creates the records that user actions own. Used by tooling and tests.
	Seeder interface {
		CreateUser(ctx context.Context, u core.User) error
		CreateAccount(ctx context.Context, a core.Account) error
		CreateBudget(ctx context.Context, b core.Budget) error
	}

	// Store is the full persisted ledger.
	Store interface {
		Mutator
		TransactionReader
		AccountReader
		BudgetReader
		UserReader
		Seeder
		// Ping reports whether the backing store is reachable.
		Ping(ctx context.Context) error
		Close() error
	}
)

// SameInstant compares two optional timestamps at millisecond precision,
// the resolution every store persists.
func SameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.UnixMilli() == b.UnixMilli()
}
