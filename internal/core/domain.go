package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  TransactionType = "INCOME"
	Expense TransactionType = "EXPENSE"
)

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

const (
	Daily   RecurringInterval = "DAILY"
	Weekly  RecurringInterval = "WEEKLY"
	Monthly RecurringInterval = "MONTHLY"
	Yearly  RecurringInterval = "YEARLY"
	// NoInterval marks a transaction that does not recur.
	NoInterval RecurringInterval = ""
)

// RecurringSuffix is appended to the description of every spawned transaction.
const RecurringSuffix = " (Recurring)"

type (
	TransactionType   string
	TransactionStatus string
	RecurringInterval string

	User struct {
		ID    string
		Name  string
		Email string
	}

	Account struct {
		ID        string
		UserID    string
		Name      string
		Balance   decimal.Decimal
		IsDefault bool
	}

	Transaction struct {
		ID          string
		Type        TransactionType
		Amount      decimal.Decimal // non-negative magnitude; sign comes from Type
		Description string
		Date        time.Time
		Category    string
		Status      TransactionStatus
		UserID      string
		AccountID   string

		IsRecurring       bool
		RecurringInterval RecurringInterval
		LastProcessed     *time.Time
		NextRecurringDate *time.Time
	}

	Budget struct {
		ID            string
		UserID        string
		Amount        decimal.Decimal
		LastAlertSent *time.Time
	}

	// WorkItem identifies one template to materialize.
	WorkItem struct {
		TransactionID string
		UserID        string
	}
)

var (
	ErrInvalidType     = errors.New("invalid transaction type")
	ErrInvalidStatus   = errors.New("invalid transaction status")
	ErrInvalidInterval = errors.New("invalid recurring interval")
	ErrNegativeAmount  = errors.New("amount must not be negative")
	ErrEmptyAccount    = errors.New("empty account id")
	ErrEmptyUser       = errors.New("empty user id")
)

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (i RecurringInterval) Valid() bool {
	switch i {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// SignedAmount returns the balance delta this transaction causes on its account.
func (t Transaction) SignedAmount() decimal.Decimal {
	if t.Type == Expense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// IsDue reports whether a template is eligible to fire at now:
// recurring, completed, and either never processed or past its next date.
func (t Transaction) IsDue(now time.Time) bool {
	if !t.IsRecurring || t.Status != StatusCompleted {
		return false
	}
	if t.LastProcessed == nil {
		return true
	}
	return t.NextRecurringDate != nil && !t.NextRecurringDate.After(now)
}

func (t Transaction) Validate() error {
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	if !t.Status.Valid() {
		return ErrInvalidStatus
	}
	if t.Amount.IsNegative() {
		return ErrNegativeAmount
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrEmptyAccount
	}
	if strings.TrimSpace(t.UserID) == "" {
		return ErrEmptyUser
	}
	if t.Date.IsZero() {
		return errors.New("date cannot be zero")
	}
	if t.IsRecurring && !t.RecurringInterval.Valid() {
		return ErrInvalidInterval
	}
	if len(t.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return nil
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.UserID) == "" {
		return ErrEmptyUser
	}
	if b.Amount.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}

func (w WorkItem) Validate() error {
	if strings.TrimSpace(w.TransactionID) == "" {
		return errors.Join(ErrInvalidInput, errors.New("missing transaction id"))
	}
	if strings.TrimSpace(w.UserID) == "" {
		return errors.Join(ErrInvalidInput, errors.New("missing user id"))
	}
	return nil
}
