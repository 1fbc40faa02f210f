// Package services provides business logic and orchestration services.
//
// This file implements the Strategy Pattern for advancing recurring
// transactions. Each interval (daily, weekly, monthly, yearly) has its own
// strategy that computes the next firing date.

package services

import (
	"fmt"
	"sync"
	"time"

	"fintrack/internal/core"
)

// Advancer is the strategy interface for moving a recurrence forward by
// exactly one unit of its interval.
type Advancer interface {
	Advance(from time.Time) time.Time
}

// DailyAdvancer adds one calendar day.
type DailyAdvancer struct{}

func (DailyAdvancer) Advance(from time.Time) time.Time {
	return from.AddDate(0, 0, 1)
}

// WeeklyAdvancer adds seven calendar days.
type WeeklyAdvancer struct{}

func (WeeklyAdvancer) Advance(from time.Time) time.Time {
	return from.AddDate(0, 0, 7)
}

// MonthlyAdvancer adds one calendar month, clamping the day to the last day
// of the target month (Jan 31 -> Feb 28/29).
type MonthlyAdvancer struct{}

func (MonthlyAdvancer) Advance(from time.Time) time.Time {
	return addMonthsClamped(from, 1)
}

// YearlyAdvancer adds one calendar year with the same clamping rule
// (Feb 29 -> Feb 28).
type YearlyAdvancer struct{}

func (YearlyAdvancer) Advance(from time.Time) time.Time {
	return addMonthsClamped(from, 12)
}

// addMonthsClamped keeps time of day and location. time.AddDate normalizes
// overflow (Jan 31 + 1 month = Mar 3), which is never what a bill date means.
func addMonthsClamped(from time.Time, months int) time.Time {
	y, m, d := from.Date()
	first := time.Date(y, m, 1, 0, 0, 0, 0, from.Location()).AddDate(0, months, 0)
	last := core.DaysIn(first.Year(), first.Month(), from.Location())
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d,
		from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location())
}

var (
	advancersMu sync.RWMutex
	// advancers maps intervals to their strategies.
	advancers = map[core.RecurringInterval]Advancer{
		core.Daily:   DailyAdvancer{},
		core.Weekly:  WeeklyAdvancer{},
		core.Monthly: MonthlyAdvancer{},
		core.Yearly:  YearlyAdvancer{},
	}
)

// GetAdvancer returns the strategy for an interval.
func GetAdvancer(interval core.RecurringInterval) (Advancer, error) {
	advancersMu.RLock()
	defer advancersMu.RUnlock()
	a, ok := advancers[interval]
	if !ok {
		return nil, fmt.Errorf("%w: unknown recurring interval %q", core.ErrInvalidInput, interval)
	}
	return a, nil
}

// RegisterAdvancer registers a strategy for a new interval.
func RegisterAdvancer(interval core.RecurringInterval, a Advancer) {
	advancersMu.Lock()
	defer advancersMu.Unlock()
	advancers[interval] = a
}

// NextRecurringDate advances from by one unit of interval.
func NextRecurringDate(from time.Time, interval core.RecurringInterval) (time.Time, error) {
	a, err := GetAdvancer(interval)
	if err != nil {
		return time.Time{}, err
	}
	return a.Advance(from), nil
}
