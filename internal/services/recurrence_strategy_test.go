package services

import (
	"errors"
	"testing"
	"time"

	"fintrack/internal/core"
)

func TestNextRecurringDate(t *testing.T) {
	tests := []struct {
		name     string
		from     time.Time
		interval core.RecurringInterval
		want     time.Time
	}{
		{
			name:     "daily",
			from:     time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC),
			interval: core.Daily,
			want:     time.Date(2024, 1, 16, 9, 30, 0, 0, time.UTC),
		},
		{
			name:     "daily crosses year",
			from:     time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
			interval: core.Daily,
			want:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "weekly",
			from:     time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC),
			interval: core.Weekly,
			want:     time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "monthly",
			from:     time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
			interval: core.Monthly,
			want:     time.Date(2024, 4, 15, 12, 0, 0, 0, time.UTC),
		},
		{
			name:     "monthly clamps to leap february",
			from:     time.Date(2024, 1, 31, 8, 0, 0, 0, time.UTC),
			interval: core.Monthly,
			want:     time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC),
		},
		{
			name:     "monthly clamps to short month",
			from:     time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
			interval: core.Monthly,
			want:     time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "monthly december rolls year",
			from:     time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
			interval: core.Monthly,
			want:     time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "yearly",
			from:     time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			interval: core.Yearly,
			want:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "yearly clamps leap day",
			from:     time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
			interval: core.Yearly,
			want:     time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextRecurringDate(tt.from, tt.interval)
			if err != nil {
				t.Fatalf("NextRecurringDate() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextRecurringDate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextRecurringDateAlwaysMovesForward(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, interval := range []core.RecurringInterval{core.Daily, core.Weekly, core.Monthly, core.Yearly} {
		for d := 0; d < 800; d += 7 {
			from := start.AddDate(0, 0, d)
			got, err := NextRecurringDate(from, interval)
			if err != nil {
				t.Fatal(err)
			}
			if !got.After(from) {
				t.Fatalf("%s from %v gave %v", interval, from, got)
			}
		}
	}
}

func TestGetAdvancerUnknown(t *testing.T) {
	if _, err := GetAdvancer("HOURLY"); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("GetAdvancer() error = %v, want ErrInvalidInput", err)
	}
}

type fortnightly struct{}

func (fortnightly) Advance(from time.Time) time.Time { return from.AddDate(0, 0, 14) }

func TestRegisterAdvancer(t *testing.T) {
	RegisterAdvancer("FORTNIGHTLY", fortnightly{})
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := NextRecurringDate(from, "FORTNIGHTLY")
	if err != nil || !got.Equal(from.AddDate(0, 0, 14)) {
		t.Errorf("NextRecurringDate() = %v, %v", got, err)
	}
}
