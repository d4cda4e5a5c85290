// Package recurrence expands a booking start date into its scheduled occurrences.
package recurrence

import (
	"time"

	"github.com/homeserve/marketplace/internal/models"
	"github.com/homeserve/marketplace/pkg/apperror"
)

const (
	// DefaultHorizonMonths bounds a recurring rule that has no end date.
	DefaultHorizonMonths = 3
	// DefaultMaxOccurrences rejects rules that would expand into an unbounded series.
	DefaultMaxOccurrences = 520
)

// Rule describes how a booking repeats.
type Rule struct {
	IsRecurring bool
	Type        models.RecurrenceType
	Interval    int
	EndDate     *time.Time
}

// Expander holds the bounds applied to every expansion.
type Expander struct {
	HorizonMonths  int
	MaxOccurrences int
}

// NewExpander returns an expander; non-positive values take the package defaults.
func NewExpander(horizonMonths, maxOccurrences int) *Expander {
	if horizonMonths <= 0 {
		horizonMonths = DefaultHorizonMonths
	}
	if maxOccurrences <= 0 {
		maxOccurrences = DefaultMaxOccurrences
	}
	return &Expander{HorizonMonths: horizonMonths, MaxOccurrences: maxOccurrences}
}

// Expand uses the package defaults.
func Expand(start time.Time, rule Rule) ([]time.Time, error) {
	return NewExpander(0, 0).Expand(start, rule)
}

// EndDate returns the effective end of a recurring rule.
func (e *Expander) EndDate(start time.Time, rule Rule) time.Time {
	if rule.EndDate != nil {
		return *rule.EndDate
	}
	return addMonths(start, e.HorizonMonths)
}

// Expand returns the ordered occurrence dates, start included.
func (e *Expander) Expand(start time.Time, rule Rule) ([]time.Time, error) {
	const op = "recurrence.expand"

	if !rule.IsRecurring || rule.Type == models.RecurrenceNone || rule.Type == "" {
		return []time.Time{start}, nil
	}
	if rule.Type != models.RecurrenceWeekly && rule.Type != models.RecurrenceMonthly {
		// Unsupported type: book the first occurrence only.
		return []time.Time{start}, nil
	}
	if rule.Interval <= 0 {
		return nil, apperror.New(apperror.KindInvalidRecurrenceRule, op, "recurrence interval must be at least 1, got %d", rule.Interval)
	}

	end := e.EndDate(start, rule)
	if end.Before(start) {
		return nil, apperror.New(apperror.KindInvalidRecurrenceRule, op, "recurrence end date is before the start date")
	}

	dates := []time.Time{start}
	for k := 1; ; k++ {
		var next time.Time
		if rule.Type == models.RecurrenceWeekly {
			next = start.AddDate(0, 0, 7*rule.Interval*k)
		} else {
			next = addMonths(start, rule.Interval*k)
		}
		if next.After(end) {
			break
		}
		if len(dates) == e.MaxOccurrences {
			return nil, apperror.New(apperror.KindInvalidRecurrenceRule, op, "recurrence expands beyond %d occurrences", e.MaxOccurrences)
		}
		dates = append(dates, next)
	}
	return dates, nil
}

// addMonths adds calendar months, clamping the day to the target month's length.
// time.AddDate would roll Jan 31 + 1 month into March.
func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}
