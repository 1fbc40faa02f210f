package core

import (
	"testing"
	"time"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1.00", true},
		{"1.0", "1.00", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"0.01", "0.01", true},
		{"1.005", "1.01", true}, // half-up rounding
		{" 2.50 ", "2.50", true},
		{"0", "0.00", true},
		{"-1", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || FormatAmount(got) != tc.out {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, FormatAmount(got), err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestCentsRoundTrip(t *testing.T) {
	for _, c := range []int64{0, 1, 99, 100, 123456, -250} {
		if got := ToCents(FromCents(c)); got != c {
			t.Errorf("ToCents(FromCents(%d)) = %d", c, got)
		}
	}
	d, _ := ParseAmount("12,345")
	if got := ToCents(d); got != 1235 {
		t.Errorf("ToCents(12.345) = %d, want 1235", got)
	}
}

func TestMonthBoundaries(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	start, end := PreviousMonth(now)
	if want := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
	if want := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond); !end.Equal(want) {
		t.Errorf("end = %v, want %v", end, want)
	}
	if got := StartOfDay(now); !got.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("StartOfDay = %v", got)
	}
	if DaysIn(2024, time.February, time.UTC) != 29 {
		t.Errorf("leap february should have 29 days")
	}
	if !SameMonth(start, end) || SameMonth(start, now) {
		t.Errorf("SameMonth mismatch")
	}
}
