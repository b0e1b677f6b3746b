// Package dates computes collection windows for billing data.
//
// Cloud providers finalize billing data with a delay, so the default window
// is a single day N days in the past (T-N). Backfill runs widen the window
// to a historical range ending at the same T-N day.
package dates

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// nowFunc is swapped in tests.
var nowFunc = time.Now

// Today returns the current calendar date in the local timezone.
func Today() civil.Date {
	return civil.DateOf(nowFunc())
}

// Range calculates the [start, end] collection window.
//
// Explicit start/end dates win over everything else. Otherwise end defaults
// to today minus lookbackDays, and start is either equal to end (daily run)
// or backfillDays before it (backfill run).
func Range(today civil.Date, backfill bool, lookbackDays, backfillDays int, start, end civil.Date) (civil.Date, civil.Date) {
	if start.IsValid() && end.IsValid() {
		return start, end
	}

	if !end.IsValid() {
		end = today.AddDays(-lookbackDays)
	}

	if !start.IsValid() {
		if backfill {
			start = end.AddDays(-backfillDays)
		} else {
			start = end
		}
	}

	return start, end
}

// Parse parses a YYYY-MM-DD date string.
func Parse(s string) (civil.Date, error) {
	d, err := civil.ParseDate(s)
	if err != nil {
		return civil.Date{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return d, nil
}

// Days returns every date between start and end, inclusive.
func Days(start, end civil.Date) []civil.Date {
	var days []civil.Date
	for d := start; !d.After(end); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}
