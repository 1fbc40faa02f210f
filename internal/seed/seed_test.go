package seed

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/ledger/memory"
)

const fixture = `{
  "users": [{"id": "u1", "name": "Ada", "email": "ada@example.com"}],
  "accounts": [
    {"id": "a1", "userId": "u1", "name": "Main", "balance": "1500.00", "isDefault": true},
    {"id": "a2", "userId": "u1", "name": "Savings", "balance": 200}
  ],
  "budgets": [{"id": "b1", "userId": "u1", "amount": "1000"}],
  "recurring": [
    {"id": "t1", "userId": "u1", "accountId": "a1", "type": "EXPENSE", "amount": "950.00",
     "description": "Rent", "category": "housing", "interval": "MONTHLY", "date": "2025-01-31"},
    {"userId": "u1", "accountId": "a1", "type": "INCOME", "amount": "3200",
     "description": "Salary", "category": "salary", "interval": "MONTHLY", "date": "2025-01-27"}
  ]
}`

func TestApply(t *testing.T) {
	ctx := context.Background()
	f, err := Decode(strings.NewReader(fixture))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	store := memory.New()
	res, err := Apply(ctx, store, f)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res != (Result{Users: 1, Accounts: 2, Budgets: 1, Templates: 2}) {
		t.Errorf("Apply() = %+v", res)
	}

	acc, err := store.GetDefaultAccount(ctx, "u1")
	if err != nil || acc.ID != "a1" || !acc.Balance.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("GetDefaultAccount() = %+v, %v", acc, err)
	}

	due, err := store.ListDueRecurring(ctx, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ListDueRecurring() error = %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("due templates = %d, want 2", len(due))
	}
	for _, tx := range due {
		if tx.ID == "" || tx.Status != core.StatusCompleted || tx.LastProcessed != nil {
			t.Errorf("template = %+v", tx)
		}
	}
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"users": [], "expenses": []}`))
	if !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("Decode() error = %v, want ErrInvalidInput", err)
	}
}

func TestTemplates_Invalid(t *testing.T) {
	tests := []struct {
		name string
		tmpl Template
	}{
		{"bad date", Template{UserID: "u1", AccountID: "a1", Type: core.Expense, Interval: core.Monthly, Date: "31/01/2025"}},
		{"bad interval", Template{UserID: "u1", AccountID: "a1", Type: core.Expense, Interval: "HOURLY", Date: "2025-01-31"}},
		{"bad type", Template{UserID: "u1", AccountID: "a1", Type: "TRANSFER", Interval: core.Daily, Date: "2025-01-31"}},
		{"negative", Template{UserID: "u1", AccountID: "a1", Type: core.Expense, Interval: core.Daily, Date: "2025-01-31", Amount: decimal.NewFromInt(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Fixture{Recurring: []Template{tt.tmpl}}
			if _, err := f.Templates(); !errors.Is(err, core.ErrInvalidInput) {
				t.Errorf("Templates() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestApply_InvalidTemplateWritesNothing(t *testing.T) {
	store := memory.New()
	f := Fixture{
		Users:     []User{{ID: "u1"}},
		Recurring: []Template{{UserID: "u1", AccountID: "a1", Type: core.Expense, Interval: "HOURLY", Date: "2025-01-31"}},
	}
	if _, err := Apply(context.Background(), store, f); err == nil {
		t.Fatal("Apply() expected error")
	}
	if users, _ := store.ListUsers(context.Background()); len(users) != 0 {
		t.Errorf("users = %v, want none", users)
	}
}
