// Package insights turns a monthly report into a few short narrative tips.
package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fintrack/internal/core"
)

// MaxInsights caps how many strings a report carries.
const MaxInsights = 3

var ErrEmptyResponse = errors.New("empty insight response")

// Generator produces insights for a report. Implementations may fail; the
// caller substitutes Fallback.
type Generator interface {
	Generate(ctx context.Context, report core.MonthlyReport) ([]string, error)
}

var fallback = []string{
	"Your highest expense category this month deserves a closer look.",
	"Try setting a small savings goal for the coming month.",
	"Review recurring expenses to spot easy opportunities to save.",
}

// Fallback returns a fresh copy of the fixed insight list.
func Fallback() []string {
	return append([]string(nil), fallback...)
}

// Static always returns the fallback list. Used when no model is configured.
type Static struct{}

func (Static) Generate(context.Context, core.MonthlyReport) ([]string, error) {
	return Fallback(), nil
}

// BuildPrompt renders the aggregate numbers the model sees.
func BuildPrompt(r core.MonthlyReport) string {
	var b strings.Builder
	b.WriteString("Analyze this financial data and provide 3 concise, actionable insights.\n")
	b.WriteString("Focus on spending patterns and practical advice.\n")
	b.WriteString("Keep it friendly and conversational.\n\n")
	fmt.Fprintf(&b, "Financial Data for %s:\n", r.MonthName())
	fmt.Fprintf(&b, "- Total Income: %s\n", core.FormatAmount(r.TotalIncome))
	fmt.Fprintf(&b, "- Total Expenses: %s\n", core.FormatAmount(r.TotalExpenses))
	fmt.Fprintf(&b, "- Net Income: %s\n", core.FormatAmount(r.Net()))

	cats := r.Categories()
	parts := make([]string, 0, len(cats))
	for _, c := range cats {
		parts = append(parts, fmt.Sprintf("%s: %s", c.Name, core.FormatAmount(c.Amount)))
	}
	fmt.Fprintf(&b, "- Expense Categories: %s\n\n", strings.Join(parts, ", "))

	b.WriteString("Respond ONLY with a JSON array like:\n")
	b.WriteString(`["insight 1", "insight 2", "insight 3"]`)
	return b.String()
}

// ParseInsights extracts a JSON string array from raw model output, dropping
// blank entries and keeping at most MaxInsights.
func ParseInsights(raw string) ([]string, error) {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return nil, ErrEmptyResponse
	}

	var items []string
	if err := json.Unmarshal([]byte(clean), &items); err != nil {
		return nil, fmt.Errorf("unmarshal insights: %w", err)
	}

	out := make([]string, 0, MaxInsights)
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == MaxInsights {
			break
		}
	}
	if len(out) == 0 {
		return nil, ErrEmptyResponse
	}
	return out, nil
}

// cleanModelJSON strips Markdown fences and any text around the outermost
// JSON array.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return ""
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}
