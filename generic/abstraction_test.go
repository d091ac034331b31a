package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/abstraction-billing/generic"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(s string) generic.TimePoint {
	return generic.MustParseTimePoint(s)
}

func period(start, end string) generic.Period {
	return generic.Period{Start: date(start), End: date(end)}
}

func rule(startDay, startMonth, endDay, endMonth int) generic.AbstractionRule {
	return generic.AbstractionRule{
		StartDay:   startDay,
		StartMonth: startMonth,
		EndDay:     endDay,
		EndMonth:   endMonth,
	}
}

// =============================================================================
// ABSTRACTION PERIOD RESOLUTION
// =============================================================================

func TestResolveAbstractionPeriods_FullYearInYear_SplitsAcrossCalendarYears(t *testing.T) {
	// GIVEN: A financial year reference spanning 2022 and 2023
	// WHEN: Resolving an all-year rule (1 Jan - 31 Dec)
	// THEN: Two contiguous clipped periods whose union is the reference

	ref := generic.FinancialYear(2023)

	periods := generic.ResolveAbstractionPeriods(ref, rule(1, 1, 31, 12))

	require.Len(t, periods, 2)
	assert.Equal(t, period("2022-04-01", "2022-12-31"), periods[0])
	assert.Equal(t, period("2023-01-01", "2023-03-31"), periods[1])

	assert.True(t, periods[0].Start.Equal(ref.Start), "union should start at the reference start")
	assert.True(t, periods[1].End.Equal(ref.End), "union should end at the reference end")
	assert.True(t, periods[0].End.AddDays(1).Equal(periods[1].Start), "periods should be contiguous")
	assert.Equal(t, ref.Days(), periods[0].Days()+periods[1].Days())
}

func TestResolveAbstractionPeriods_OutYear_WholeReferenceContained(t *testing.T) {
	// GIVEN: Reference Nov-Dec 2022 and an Oct-Mar rule
	// THEN: The Oct 2022 - Mar 2023 period contains the whole reference

	ref := period("2022-11-01", "2022-12-31")

	periods := generic.ResolveAbstractionPeriods(ref, rule(1, 10, 31, 3))

	assert.Equal(t, []generic.Period{period("2022-11-01", "2022-12-31")}, periods)
}

func TestResolveAbstractionPeriods_NoOverlap_Empty(t *testing.T) {
	ref := period("2023-08-01", "2023-09-30")

	periods := generic.ResolveAbstractionPeriods(ref, rule(1, 10, 31, 3))

	assert.Empty(t, periods)
}

func TestResolveAbstractionPeriods_OutYearOverFinancialYear_TwoClippedPeriods(t *testing.T) {
	// GIVEN: Financial year 2022/23 and a 1 Nov - 31 Mar rule
	// THEN: The tail of the previous winter is outside the reference, so
	//       only the Nov 2022 - Mar 2023 winter survives

	ref := generic.FinancialYear(2023)

	periods := generic.ResolveAbstractionPeriods(ref, rule(1, 11, 31, 3))

	assert.Equal(t, []generic.Period{period("2022-11-01", "2023-03-31")}, periods)
}

func TestResolveAbstractionPeriods_OutYearCalendarReference_PreviousAndCurrent(t *testing.T) {
	// GIVEN: Calendar year 2023 and a 1 Nov - 31 Mar rule
	// THEN: Jan-Mar belongs to the winter that started in 2022, Nov-Dec to
	//       the one starting in 2023. Order is previous, current.

	ref := period("2023-01-01", "2023-12-31")

	periods := generic.ResolveAbstractionPeriods(ref, rule(1, 11, 31, 3))

	require.Len(t, periods, 2)
	assert.Equal(t, period("2023-01-01", "2023-03-31"), periods[0])
	assert.Equal(t, period("2023-11-01", "2023-12-31"), periods[1])
}

func TestResolveAbstractionPeriods_InYearSummer_ClippedToReference(t *testing.T) {
	ref := generic.FinancialYear(2023)

	periods := generic.ResolveAbstractionPeriods(ref, rule(1, 4, 31, 10))

	assert.Equal(t, []generic.Period{period("2022-04-01", "2022-10-31")}, periods)
}

func TestResolveAbstractionPeriods_ResultsAlwaysInsideReference(t *testing.T) {
	refs := []generic.Period{
		generic.FinancialYear(2023),
		generic.FinancialYear(2024),
		period("2022-06-15", "2022-09-01"),
		period("2023-02-01", "2023-02-28"),
	}
	rules := []generic.AbstractionRule{
		rule(1, 1, 31, 12),
		rule(1, 4, 31, 10),
		rule(1, 11, 31, 3),
		rule(15, 6, 14, 6),
		rule(1, 3, 28, 2),
	}

	for _, ref := range refs {
		for _, r := range rules {
			for _, p := range generic.ResolveAbstractionPeriods(ref, r) {
				if p.Start.After(p.End) {
					t.Errorf("%s over %s: period %s ends before it starts", r, ref, p)
				}
				if !ref.ContainsPeriod(p) {
					t.Errorf("%s over %s: period %s escapes the reference", r, ref, p)
				}
			}
		}
	}
}

func TestAbstractionRule_OutYear(t *testing.T) {
	assert.True(t, rule(1, 11, 31, 3).OutYear())
	assert.False(t, rule(1, 4, 31, 10).OutYear())
	assert.False(t, rule(1, 1, 31, 12).OutYear())
	assert.True(t, rule(15, 6, 14, 6).OutYear())
}

func TestAbstractionRule_Validate(t *testing.T) {
	assert.NoError(t, rule(1, 1, 31, 12).Validate())

	err := rule(1, 13, 31, 3).Validate()
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	err = rule(0, 1, 31, 3).Validate()
	var ve *generic.ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, "abstractionPeriod", ve.Field)
}

// =============================================================================
// FINANCIAL YEAR
// =============================================================================

func TestFinancialYear(t *testing.T) {
	fy := generic.FinancialYear(2023)

	assert.Equal(t, generic.NewTimePoint(2022, time.April, 1), fy.Start)
	assert.Equal(t, generic.NewTimePoint(2023, time.March, 31), fy.End)
	assert.Equal(t, 365, fy.Days())
}

func TestFinancialYearFor(t *testing.T) {
	assert.Equal(t, generic.FinancialYear(2023), generic.FinancialYearFor(date("2023-03-31")))
	assert.Equal(t, generic.FinancialYear(2024), generic.FinancialYearFor(date("2023-04-01")))
}
