// Package memory is an in-process ledger.Store used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

type Store struct {
	mu       sync.RWMutex
	users    map[string]core.User
	accounts map[string]core.Account
	txs      map[string]core.Transaction
	budgets  map[string]core.Budget
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:    map[string]core.User{},
		accounts: map[string]core.Account{},
		txs:      map[string]core.Transaction{},
		budgets:  map[string]core.Budget{},
	}
}

// Apply stages every op against copies of the touched tables and swaps them
// in only when all ops succeed.
func (s *Store) Apply(ctx context.Context, ops ...ledger.Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts := maps.Clone(s.accounts)
	txs := maps.Clone(s.txs)
	budgets := maps.Clone(s.budgets)

	for i, op := range ops {
		if err := applyOp(op, accounts, txs, budgets); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
	}
	s.accounts, s.txs, s.budgets = accounts, txs, budgets
	return nil
}

func applyOp(op ledger.Op, accounts map[string]core.Account, txs map[string]core.Transaction, budgets map[string]core.Budget) error {
	switch o := op.(type) {
	case ledger.CreateTransaction:
		tx := o.Transaction
		if err := tx.Validate(); err != nil {
			return fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
		}
		if _, ok := txs[tx.ID]; ok || tx.ID == "" {
			return fmt.Errorf("%w: duplicate transaction id %q", core.ErrInvalidInput, tx.ID)
		}
		if _, ok := accounts[tx.AccountID]; !ok {
			return fmt.Errorf("account %s: %w", tx.AccountID, core.ErrNotFound)
		}
		tx.Date = truncate(tx.Date)
		txs[tx.ID] = tx
	case ledger.IncrementBalance:
		acc, ok := accounts[o.AccountID]
		if !ok {
			return fmt.Errorf("account %s: %w", o.AccountID, core.ErrNotFound)
		}
		acc.Balance = acc.Balance.Add(o.Delta)
		accounts[o.AccountID] = acc
	case ledger.AdvanceRecurrence:
		tx, ok := txs[o.TransactionID]
		if !ok {
			return fmt.Errorf("transaction %s: %w", o.TransactionID, core.ErrNotFound)
		}
		if !ledger.SameInstant(tx.LastProcessed, o.ExpectedLastProcessed) {
			return fmt.Errorf("transaction %s: %w", o.TransactionID, core.ErrConflict)
		}
		last, next := truncate(o.LastProcessed), truncate(o.NextRecurringDate)
		tx.LastProcessed, tx.NextRecurringDate = &last, &next
		txs[o.TransactionID] = tx
	case ledger.MarkBudgetAlerted:
		b, ok := budgets[o.BudgetID]
		if !ok {
			return fmt.Errorf("budget %s: %w", o.BudgetID, core.ErrNotFound)
		}
		if !ledger.SameInstant(b.LastAlertSent, o.ExpectedLastAlertSent) {
			return fmt.Errorf("budget %s: %w", o.BudgetID, core.ErrConflict)
		}
		sent := truncate(o.SentAt)
		b.LastAlertSent = &sent
		budgets[o.BudgetID] = b
	default:
		return fmt.Errorf("%w: unsupported op %T", core.ErrInvalidInput, op)
	}
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id, userID string) (core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	if !ok || tx.UserID != userID {
		return core.Transaction{}, core.ErrNotFound
	}
	return tx, nil
}

func (s *Store) ListDueRecurring(_ context.Context, now time.Time) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Transaction
	for _, tx := range s.txs {
		if tx.IsDue(now) {
			out = append(out, tx)
		}
	}
	sortTxs(out)
	return out, nil
}

func (s *Store) ListTransactions(_ context.Context, accountID string, from, to time.Time) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Transaction
	for _, tx := range s.txs {
		if tx.AccountID == accountID && inRange(tx.Date, from, to) {
			out = append(out, tx)
		}
	}
	sortTxs(out)
	return out, nil
}

func (s *Store) SumExpenses(_ context.Context, accountID string, from, to time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, tx := range s.txs {
		if tx.AccountID == accountID && tx.Type == core.Expense && inRange(tx.Date, from, to) {
			total = total.Add(tx.Amount)
		}
	}
	return total, nil
}

func (s *Store) ListAccounts(_ context.Context, userID string) ([]core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Account
	for _, a := range s.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return core.Account{}, core.ErrNotFound
	}
	return a, nil
}

func (s *Store) GetDefaultAccount(_ context.Context, userID string) (core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.UserID == userID && a.IsDefault {
			return a, nil
		}
	}
	return core.Account{}, core.ErrNoDefaultAccount
}

func (s *Store) ListBudgets(_ context.Context) ([]core.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Budget, 0, len(s.budgets))
	for _, b := range s.budgets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetUser(_ context.Context, id string) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return core.User{}, core.ErrNotFound
	}
	return u, nil
}

func (s *Store) ListUsers(_ context.Context) ([]core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, u core.User) error {
	if u.ID == "" {
		return fmt.Errorf("%w: empty user id", core.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

// CreateAccount enforces at most one default account per user.
func (s *Store) CreateAccount(_ context.Context, a core.Account) error {
	if a.ID == "" || a.UserID == "" {
		return fmt.Errorf("%w: account requires id and user id", core.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.IsDefault {
		for _, other := range s.accounts {
			if other.UserID == a.UserID && other.IsDefault && other.ID != a.ID {
				return fmt.Errorf("%w: user %s already has a default account", core.ErrInvalidInput, a.UserID)
			}
		}
	}
	s.accounts[a.ID] = a
	return nil
}

func (s *Store) CreateBudget(_ context.Context, b core.Budget) error {
	if err := b.Validate(); err != nil || b.ID == "" {
		return fmt.Errorf("%w: budget requires id and user id", core.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.LastAlertSent != nil {
		sent := truncate(*b.LastAlertSent)
		b.LastAlertSent = &sent
	}
	s.budgets[b.ID] = b
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) Ping(context.Context) error { return nil }

func truncate(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).In(t.Location())
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

func sortTxs(txs []core.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.Before(txs[j].Date)
		}
		return txs[i].ID < txs[j].ID
	})
}
