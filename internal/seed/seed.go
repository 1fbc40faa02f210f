// Package seed loads users, accounts, budgets and recurring templates from a
// JSON fixture into a ledger store.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

type Fixture struct {
	Users     []User     `json:"users"`
	Accounts  []Account  `json:"accounts"`
	Budgets   []Budget   `json:"budgets"`
	Recurring []Template `json:"recurring"`
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Account struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	IsDefault bool            `json:"isDefault"`
}

type Budget struct {
	ID     string          `json:"id"`
	UserID string          `json:"userId"`
	Amount decimal.Decimal `json:"amount"`
}

// Template is a recurring transaction. Date is YYYY-MM-DD.
type Template struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"userId"`
	AccountID   string                 `json:"accountId"`
	Type        core.TransactionType   `json:"type"`
	Amount      decimal.Decimal        `json:"amount"`
	Description string                 `json:"description"`
	Category    string                 `json:"category"`
	Interval    core.RecurringInterval `json:"interval"`
	Date        string                 `json:"date"`
}

// Result counts what was written.
type Result struct {
	Users     int
	Accounts  int
	Budgets   int
	Templates int
}

// Decode reads a fixture. Unknown fields are rejected.
func Decode(r io.Reader) (Fixture, error) {
	var f Fixture
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return Fixture{}, fmt.Errorf("%w: decode fixture: %w", core.ErrInvalidInput, err)
	}
	return f, nil
}

// Templates converts the fixture's recurring entries, assigning ids where
// missing. Seeded templates are never processed yet, so they fire on the
// next dispatch.
func (f Fixture) Templates() ([]core.Transaction, error) {
	out := make([]core.Transaction, 0, len(f.Recurring))
	for i, t := range f.Recurring {
		date, err := time.Parse(time.DateOnly, t.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: recurring[%d] date %q", core.ErrInvalidInput, i, t.Date)
		}
		tx := core.Transaction{
			ID:                orNewID(t.ID),
			Type:              t.Type,
			Amount:            t.Amount,
			Description:       t.Description,
			Date:              date,
			Category:          t.Category,
			Status:            core.StatusCompleted,
			UserID:            t.UserID,
			AccountID:         t.AccountID,
			IsRecurring:       true,
			RecurringInterval: t.Interval,
		}
		if err := tx.Validate(); err != nil {
			return nil, fmt.Errorf("%w: recurring[%d]: %w", core.ErrInvalidInput, i, err)
		}
		out = append(out, tx)
	}
	return out, nil
}

// Apply writes the fixture in dependency order: users, accounts, budgets,
// then templates. It stops at the first failure; earlier writes stay.
func Apply(ctx context.Context, store ledger.Store, f Fixture) (Result, error) {
	var res Result

	templates, err := f.Templates()
	if err != nil {
		return res, err
	}

	for _, u := range f.Users {
		if err := store.CreateUser(ctx, core.User{ID: orNewID(u.ID), Name: u.Name, Email: u.Email}); err != nil {
			return res, fmt.Errorf("user %s: %w", u.ID, err)
		}
		res.Users++
	}
	for _, a := range f.Accounts {
		acc := core.Account{ID: orNewID(a.ID), UserID: a.UserID, Name: a.Name, Balance: a.Balance, IsDefault: a.IsDefault}
		if err := store.CreateAccount(ctx, acc); err != nil {
			return res, fmt.Errorf("account %s: %w", a.ID, err)
		}
		res.Accounts++
	}
	for _, b := range f.Budgets {
		if err := store.CreateBudget(ctx, core.Budget{ID: orNewID(b.ID), UserID: b.UserID, Amount: b.Amount}); err != nil {
			return res, fmt.Errorf("budget %s: %w", b.ID, err)
		}
		res.Budgets++
	}
	for _, tx := range templates {
		if err := store.Apply(ctx, ledger.CreateTransaction{Transaction: tx}); err != nil {
			return res, fmt.Errorf("template %s: %w", tx.ID, err)
		}
		res.Templates++
	}

	slog.InfoContext(ctx, "Fixture applied",
		"users", res.Users,
		"accounts", res.Accounts,
		"budgets", res.Budgets,
		"templates", res.Templates)
	return res, nil
}

func orNewID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}
