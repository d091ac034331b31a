/*
abstraction.go - Day/month abstraction rules resolved against dated windows

PURPOSE:
  Licences and returns describe when water may be taken as a day/month rule
  ("1 November to 31 March") with no year attached. Before any matching or
  allocation can happen the rule has to be turned into concrete dated
  periods that fall inside a reference window (a billing period or a
  charge period).

IN-YEAR vs OUT-YEAR:
  In-year:  end day/month falls on or after start day/month (1 Apr - 31 Oct)
  Out-year: end day/month falls before start day/month (1 Nov - 31 Mar) and
            the period wraps into the following calendar year

RESOLUTION:
  1. Anchor the rule at the reference window's start year
  2. If the end lands before the start, push the end into the next year
  3. Consider that period plus the same period one year earlier and later
  4. Keep the candidates that overlap the window, clipped to it

  The result is ordered previous, current, next. An empty result is valid
  and means the rule never applies within the window.

EXAMPLE:
  ref := generic.FinancialYear(2023) // 2022-04-01 .. 2023-03-31
  rule := generic.AbstractionRule{StartDay: 1, StartMonth: 1, EndDay: 31, EndMonth: 12}
  generic.ResolveAbstractionPeriods(ref, rule)
  // [2022-04-01 .. 2022-12-31] [2023-01-01 .. 2023-03-31]

SEE ALSO:
  - period.go: Period type, overlap and intersection
*/
package generic

import (
	"fmt"
	"time"
)

// AbstractionRule is a yearless day/month window.
type AbstractionRule struct {
	StartDay   int
	StartMonth int
	EndDay     int
	EndMonth   int
}

// Validate checks the day and month fields are in calendar range.
func (r AbstractionRule) Validate() error {
	if r.StartMonth < 1 || r.StartMonth > 12 || r.EndMonth < 1 || r.EndMonth > 12 {
		return &ValidationError{Field: "abstractionPeriod", Reason: fmt.Sprintf("month out of range in %s", r)}
	}
	if r.StartDay < 1 || r.StartDay > 31 || r.EndDay < 1 || r.EndDay > 31 {
		return &ValidationError{Field: "abstractionPeriod", Reason: fmt.Sprintf("day out of range in %s", r)}
	}
	return nil
}

// OutYear is true when the rule wraps a calendar year boundary.
func (r AbstractionRule) OutYear() bool {
	if r.EndMonth != r.StartMonth {
		return r.EndMonth < r.StartMonth
	}
	return r.EndDay < r.StartDay
}

func (r AbstractionRule) String() string {
	return fmt.Sprintf("%02d-%02d to %02d-%02d", r.StartDay, r.StartMonth, r.EndDay, r.EndMonth)
}

// anchored returns the rule's period with its start in the given year.
func (r AbstractionRule) anchored(year int) Period {
	start := NewTimePoint(year, time.Month(r.StartMonth), r.StartDay)
	end := NewTimePoint(year, time.Month(r.EndMonth), r.EndDay)
	if end.Before(start) {
		end = NewTimePoint(year+1, time.Month(r.EndMonth), r.EndDay)
	}
	return Period{Start: start, End: end}
}

// ResolveAbstractionPeriods returns the concrete periods of rule that fall
// within reference, each clipped to reference.
func ResolveAbstractionPeriods(reference Period, rule AbstractionRule) []Period {
	year := reference.Start.Year()
	candidates := []Period{
		rule.anchored(year - 1),
		rule.anchored(year),
		rule.anchored(year + 1),
	}

	var periods []Period
	for _, candidate := range candidates {
		if clipped, ok := candidate.Intersect(reference); ok {
			periods = append(periods, clipped)
		}
	}
	return periods
}
