package generic

import "time"

// =============================================================================
// PERIOD - Inclusive, day-granular date range
// =============================================================================

// Period is a closed date range [Start, End].
//
// Examples:
//   - Financial year 2023: 1 Apr 2022 - 31 Mar 2023
//   - Charge period: the part of a billing period a charge version covers
//   - Abstraction period: 1 Nov 2022 - 31 Mar 2023
type Period struct {
	Start TimePoint
	End   TimePoint
}

// NewPeriod builds a period, rejecting one whose end precedes its start.
func NewPeriod(start, end TimePoint) (Period, error) {
	p := Period{Start: start, End: end}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate reports ErrInvalidPeriod when End is before Start.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() || p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// ContainsPeriod returns true if other lies entirely within p.
func (p Period) ContainsPeriod(other Period) bool {
	return p.Contains(other.Start) && p.Contains(other.End)
}

// Overlaps is true when the two ranges share at least one day.
func (p Period) Overlaps(other Period) bool {
	return p.Start.BeforeOrEqual(other.End) && p.End.AfterOrEqual(other.Start)
}

// Intersect clips p to other. ok is false when they do not overlap.
func (p Period) Intersect(other Period) (clipped Period, ok bool) {
	if !p.Overlaps(other) {
		return Period{}, false
	}
	return Period{
		Start: Latest(p.Start, other.Start),
		End:   Earliest(p.End, other.End),
	}, true
}

// Days returns the number of days in the period, both ends included.
func (p Period) Days() int {
	return DaysBetween(p.Start, p.End) + 1
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// PeriodsOverlap reports whether any period in a overlaps any period in b.
func PeriodsOverlap(a, b []Period) bool {
	for _, pa := range a {
		for _, pb := range b {
			if pa.Overlaps(pb) {
				return true
			}
		}
	}
	return false
}

// LatestEnd returns the latest end date across periods. ok is false for an
// empty list.
func LatestEnd(periods []Period) (end TimePoint, ok bool) {
	for i, p := range periods {
		if i == 0 || p.End.After(end) {
			end = p.End
		}
	}
	return end, len(periods) > 0
}

// =============================================================================
// FINANCIAL YEAR - The billing period shape used today
// =============================================================================

// FinancialYearStartMonth is the month a financial year begins in.
const FinancialYearStartMonth = time.April

// FinancialYear returns 1 April (ending-1) to 31 March (ending).
func FinancialYear(ending int) Period {
	start := NewTimePoint(ending-1, FinancialYearStartMonth, 1)
	return Period{Start: start, End: start.AddYears(1).AddDays(-1)}
}

// FinancialYearFor returns the financial year containing the given date.
func FinancialYearFor(date TimePoint) Period {
	year := date.Year()
	start := NewTimePoint(year, FinancialYearStartMonth, 1)

	// If date is before the financial year start, we're in the previous year
	if date.Before(start) {
		return FinancialYear(year)
	}
	return FinancialYear(year + 1)
}
