package core

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount decimal.Decimal
}

// AccountStats aggregates one account's transactions over a period.
type AccountStats struct {
	AccountID        string
	AccountName      string
	IsDefault        bool
	TotalIncome      decimal.Decimal
	TotalExpenses    decimal.Decimal
	TransactionCount int
	ByCategory       map[string]decimal.Decimal
}

func NewAccountStats(a Account) AccountStats {
	return AccountStats{
		AccountID:   a.ID,
		AccountName: a.Name,
		IsDefault:   a.IsDefault,
		ByCategory:  map[string]decimal.Decimal{},
	}
}

func (s AccountStats) Net() decimal.Decimal {
	return s.TotalIncome.Sub(s.TotalExpenses)
}

// Add folds one transaction into the stats. Expenses contribute to
// TotalExpenses and ByCategory; every other type counts as income.
func (s *AccountStats) Add(tx Transaction) {
	s.TransactionCount++
	if tx.Type == Expense {
		s.TotalExpenses = s.TotalExpenses.Add(tx.Amount)
		s.ByCategory[tx.Category] = s.ByCategory[tx.Category].Add(tx.Amount)
		return
	}
	s.TotalIncome = s.TotalIncome.Add(tx.Amount)
}

// MonthlyReport is the cross-account summary for one user and one month.
type MonthlyReport struct {
	UserID           string
	Month            time.Time // first instant of the reported month
	TotalIncome      decimal.Decimal
	TotalExpenses    decimal.Decimal
	TransactionCount int
	ByCategory       map[string]decimal.Decimal
	Accounts         []AccountStats
	Insights         []string
}

// Merge adds one account's stats into the report totals.
func (r *MonthlyReport) Merge(s AccountStats) {
	if r.ByCategory == nil {
		r.ByCategory = map[string]decimal.Decimal{}
	}
	r.TotalIncome = r.TotalIncome.Add(s.TotalIncome)
	r.TotalExpenses = r.TotalExpenses.Add(s.TotalExpenses)
	r.TransactionCount += s.TransactionCount
	for cat, amt := range s.ByCategory {
		r.ByCategory[cat] = r.ByCategory[cat].Add(amt)
	}
	r.Accounts = append(r.Accounts, s)
}

func (r MonthlyReport) Net() decimal.Decimal {
	return r.TotalIncome.Sub(r.TotalExpenses)
}

// MonthName renders the reported month as "January 2025".
func (r MonthlyReport) MonthName() string {
	return r.Month.Format("January 2006")
}

// Categories returns ByCategory sorted by amount descending, then by name.
func (r MonthlyReport) Categories() []CategoryAmount {
	out := make([]CategoryAmount, 0, len(r.ByCategory))
	for name, amt := range r.ByCategory {
		out = append(out, CategoryAmount{Name: name, Amount: amt})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// BudgetAlert is handed to the notifier when spend crosses the threshold.
type BudgetAlert struct {
	Recipient      User
	BudgetID       string
	AccountName    string
	PercentageUsed decimal.Decimal
	BudgetAmount   decimal.Decimal
	TotalExpenses  decimal.Decimal
}
