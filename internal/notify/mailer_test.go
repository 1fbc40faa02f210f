package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

type recordingSender struct {
	sent []Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func TestSendBudgetAlert(t *testing.T) {
	tests := []struct {
		name        string
		pct         string
		wantWarning string
	}{
		{"below warning", "60", ""},
		{"warning", "80", "Keep an eye on your expenses."},
		{"danger", "95.25", "Consider reducing spending"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &recordingSender{}
			alert := core.BudgetAlert{
				Recipient:      core.User{Name: "Ada", Email: "ada@example.com"},
				AccountName:    "Main",
				PercentageUsed: decimal.RequireFromString(tt.pct),
				BudgetAmount:   decimal.NewFromInt(1000),
				TotalExpenses:  decimal.NewFromInt(850),
			}
			if err := NewMailer(s).SendBudgetAlert(context.Background(), alert); err != nil {
				t.Fatalf("SendBudgetAlert() error = %v", err)
			}

			msg := s.sent[0]
			if msg.Subject != "Budget Alert for Main" {
				t.Errorf("Subject = %q", msg.Subject)
			}
			if len(msg.To) != 1 || msg.To[0] != "ada@example.com" {
				t.Errorf("To = %v", msg.To)
			}
			for _, want := range []string{"Hello Ada", "1000.00", "850.00", "Remaining:     150.00"} {
				if !strings.Contains(msg.Text, want) {
					t.Errorf("body missing %q:\n%s", want, msg.Text)
				}
			}
			hasWarning := strings.Contains(msg.Text, "You're at")
			if (tt.wantWarning != "") != hasWarning || !strings.Contains(msg.Text, tt.wantWarning) {
				t.Errorf("warning = %v, want %q:\n%s", hasWarning, tt.wantWarning, msg.Text)
			}
		})
	}
}

func TestSendMonthlyReport(t *testing.T) {
	report := core.MonthlyReport{
		UserID:           "u1",
		Month:            time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		TotalIncome:      decimal.NewFromInt(3000),
		TotalExpenses:    decimal.NewFromInt(1200),
		TransactionCount: 4,
		ByCategory: map[string]decimal.Decimal{
			"rent": decimal.NewFromInt(1000),
			"food": decimal.NewFromInt(200),
		},
		Accounts: []core.AccountStats{{
			AccountName:   "Main",
			IsDefault:     true,
			TotalIncome:   decimal.NewFromInt(3000),
			TotalExpenses: decimal.NewFromInt(1200),
		}},
		Insights: []string{"Spend less on rent."},
	}

	s := &recordingSender{}
	err := NewMailer(s).SendMonthlyReport(context.Background(), core.User{Email: "ada@example.com"}, report)
	if err != nil {
		t.Fatalf("SendMonthlyReport() error = %v", err)
	}

	msg := s.sent[0]
	if msg.Subject != "Your Financial Report for January 2025 - All Accounts" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	for _, want := range []string{
		"Hello there",
		"Net:            1800.00",
		"  - rent: 1000.00\n  - food: 200.00",
		"Main (default): income 3000.00, expenses 1200.00, net 1800.00",
		"* Spend less on rent.",
	} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Text)
		}
	}
}

func TestMailer_PropagatesSenderError(t *testing.T) {
	want := errors.New("relay refused")
	m := NewMailer(&recordingSender{err: want})
	err := m.SendBudgetAlert(context.Background(), core.BudgetAlert{Recipient: core.User{Email: "a@b.c"}})
	if !errors.Is(err, want) {
		t.Errorf("SendBudgetAlert() error = %v, want %v", err, want)
	}
}

func TestSMTPConfig_Enabled(t *testing.T) {
	tests := []struct {
		cfg  SMTPConfig
		want bool
	}{
		{SMTPConfig{}, false},
		{SMTPConfig{Host: "smtp.example.com"}, false},
		{SMTPConfig{Host: "smtp.example.com", From: "noreply@example.com"}, true},
	}
	for _, tt := range tests {
		if got := tt.cfg.Enabled(); got != tt.want {
			t.Errorf("Enabled(%+v) = %v, want %v", tt.cfg, got, tt.want)
		}
	}
}

func TestSMTPSender_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", From: "a@b.c"})
	if err := s.Send(ctx, Message{To: []string{"x@y.z"}}); !errors.Is(err, context.Canceled) {
		t.Errorf("Send() error = %v, want context.Canceled", err)
	}
}
