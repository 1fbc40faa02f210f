//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

// Run with: POSTGRES_TEST_URL=postgres://... go test -tags=integration ./internal/storage/postgres

func TestIntegration_ApplyAndCompareAndSwap(t *testing.T) {
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set, skipping integration test")
	}

	ctx := context.Background()
	repo, err := New(ctx, url)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer repo.Close()

	suffix := uuid.NewString()
	userID, accountID, txID := "u-"+suffix, "a-"+suffix, "t-"+suffix
	if err := repo.CreateUser(ctx, core.User{ID: userID, Email: "it@example.com"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateAccount(ctx, core.Account{ID: accountID, UserID: userID, Balance: decimal.RequireFromString("100.10"), IsDefault: true}); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	template := core.Transaction{
		ID: txID, Type: core.Income, Amount: decimal.RequireFromString("0.30"), Date: now,
		Status: core.StatusCompleted, UserID: userID, AccountID: accountID,
		IsRecurring: true, RecurringInterval: core.Weekly,
	}
	err = repo.Apply(ctx,
		ledger.CreateTransaction{Transaction: template},
		ledger.IncrementBalance{AccountID: accountID, Delta: template.SignedAmount()},
		ledger.AdvanceRecurrence{TransactionID: txID, LastProcessed: now, NextRecurringDate: now.AddDate(0, 0, 7)},
	)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	err = repo.Apply(ctx, ledger.AdvanceRecurrence{TransactionID: txID, LastProcessed: now, NextRecurringDate: now})
	if !errors.Is(err, core.ErrConflict) {
		t.Errorf("stale advance = %v, want ErrConflict", err)
	}

	acc, err := repo.GetAccount(ctx, accountID)
	if err != nil {
		t.Fatal(err)
	}
	if want := decimal.RequireFromString("100.40"); !acc.Balance.Equal(want) {
		t.Errorf("balance = %s, want %s", acc.Balance, want)
	}
}
