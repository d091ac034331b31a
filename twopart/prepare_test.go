package twopart_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/abstraction-billing/generic"
	"github.com/warp/abstraction-billing/twopart"
)

// =============================================================================
// RETURN PREPARATION
// =============================================================================

func TestPrepareReturnLog_ConvertsAndSums(t *testing.T) {
	lines := monthlyLines("r1", 3, 1500)
	r1 := completedReturn("r1", lines)

	twopart.PrepareReturnLog(r1, billingPeriod)

	assertAmount(t, 4.5, r1.Quantity)
	assertAmount(t, 0, r1.AllocatedQuantity)
	for _, line := range lines {
		assertAmount(t, 1.5, line.Unallocated)
		assert.Equal(t, generic.UnitCubicMetres, line.Quantity.Unit, "submitted quantity is kept")
	}
	assert.Equal(t, []generic.Period{billingPeriod}, r1.AbstractionPeriods)
	assert.False(t, r1.AbstractionOutsidePeriod)
	assert.False(t, r1.Matched)
}

func TestPrepareReturnLog_AbstractionOutsidePeriod(t *testing.T) {
	tests := []struct {
		name     string
		quantity int64
		expected bool
	}{
		{name: "volume outside the season", quantity: 1000, expected: true},
		{name: "zero reported outside the season", quantity: 0, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inSeason := &twopart.ReturnLine{ID: "jun", StartDate: day("2022-06-01"), EndDate: day("2022-06-30"), Quantity: m3(2000)}
			december := &twopart.ReturnLine{ID: "dec", StartDate: day("2022-12-01"), EndDate: day("2022-12-31"), Quantity: m3(tt.quantity)}
			r1 := completedReturn("r1", []*twopart.ReturnLine{december, inSeason})
			r1.AbstractionRule = aprilToOctober()

			twopart.PrepareReturnLog(r1, billingPeriod)

			assert.Equal(t, tt.expected, r1.AbstractionOutsidePeriod)
		})
	}
}

func TestPrepareReturnLogs_ResetsPreviousPass(t *testing.T) {
	lines := monthlyLines("r1", 1, 4000)
	r1 := completedReturn("r1", lines)
	r1.Matched = true
	r1.AllocatedQuantity = ml(3)
	lines[0].Unallocated = ml(1)
	l := licence("L1", nil, r1)

	twopart.PrepareReturnLogs(l, billingPeriod)

	assert.False(t, r1.Matched)
	assertAmount(t, 0, r1.AllocatedQuantity)
	assertAmount(t, 4, lines[0].Unallocated)
	assert.Same(t, r1, l.ReturnLog("r1"))
	assert.Nil(t, l.ReturnLog("missing"))
}

// =============================================================================
// CHARGE PERIOD
// =============================================================================

func TestDetermineChargePeriod(t *testing.T) {
	end := func(s string) *generic.TimePoint {
		d := day(s)
		return &d
	}

	tests := []struct {
		name     string
		start    string
		end      *generic.TimePoint
		revoked  *generic.TimePoint
		expected *generic.Period
	}{
		{
			name:     "open ended version covers the billing period",
			start:    "2019-04-01",
			expected: &billingPeriod,
		},
		{
			name:     "version starting mid-year",
			start:    "2022-10-01",
			expected: &generic.Period{Start: day("2022-10-01"), End: day("2023-03-31")},
		},
		{
			name:     "version ending mid-year",
			start:    "2020-01-01",
			end:      end("2022-08-31"),
			expected: &generic.Period{Start: day("2022-04-01"), End: day("2022-08-31")},
		},
		{
			name:     "licence revoked before version end",
			start:    "2020-01-01",
			end:      end("2022-12-31"),
			revoked:  end("2022-09-30"),
			expected: &generic.Period{Start: day("2022-04-01"), End: day("2022-09-30")},
		},
		{
			name:  "version ended before the billing period",
			start: "2020-01-01",
			end:   end("2022-03-31"),
		},
		{
			name:  "version starts after the billing period",
			start: "2023-04-01",
		},
		{
			name:    "licence revoked before the billing period",
			start:   "2020-01-01",
			revoked: end("2021-06-30"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := licence("L1", nil)
			l.RevokedDate = tt.revoked
			cv := &twopart.ChargeVersion{ID: "cv1", StartDate: day(tt.start), EndDate: tt.end}

			period, ok := twopart.DetermineChargePeriod(l, cv, billingPeriod)

			if tt.expected == nil {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, *tt.expected, period)
		})
	}
}

func TestLicence_EndDateIsEarliest(t *testing.T) {
	l := licence("L1", nil)
	expired, lapsed := day("2024-01-01"), day("2023-06-30")
	l.ExpiredDate = &expired
	l.LapsedDate = &lapsed

	end := l.EndDate()

	require.NotNil(t, end)
	assert.Equal(t, lapsed, *end)
	assert.Nil(t, licence("L2", nil).EndDate())
}

// =============================================================================
// CHARGE VERSION PREPARATION
// =============================================================================

func TestPrepareChargeVersion_SortsBySubsistenceChargeStable(t *testing.T) {
	cv := chargeVersion("cv1",
		reference("a", 10, 500),
		reference("b", 10, 900),
		reference("c", 10, 500),
		reference("d", 10, 100),
	)

	twopart.PrepareChargeVersion(licence("L1", nil), cv, billingPeriod)

	var order []string
	for _, ref := range cv.ChargeReferences {
		order = append(order, ref.ID)
	}
	assert.Equal(t, []string{"b", "a", "c", "d"}, order)
}

func TestPrepareChargeVersion_ResolvesElementsAgainstChargePeriod(t *testing.T) {
	el := element("e1", 10)
	el.AbstractionRule = generic.AbstractionRule{StartDay: 1, StartMonth: 11, EndDay: 31, EndMonth: 3}
	el.AllocatedQuantity = ml(5)
	el.ChargeDatesOverlap = true
	cv := chargeVersion("cv1", reference("cr1", 10, 100, el))
	cv.StartDate = day("2023-01-01")

	twopart.PrepareChargeVersion(licence("L1", nil), cv, billingPeriod)

	require.NotNil(t, cv.ChargePeriod)
	assert.Equal(t, day("2023-01-01"), cv.ChargePeriod.Start)
	assert.Equal(t, []generic.Period{{Start: day("2023-01-01"), End: day("2023-03-31")}}, el.AbstractionPeriods)
	assertAmount(t, 0, el.AllocatedQuantity)
	assert.False(t, el.ChargeDatesOverlap)
	assert.NotNil(t, el.ReturnLogs)
	assert.Empty(t, el.ReturnLogs)
}

func TestPrepareChargeVersion_OutsideBillingPeriod(t *testing.T) {
	el := element("e1", 10)
	cv := chargeVersion("cv1", reference("cr1", 10, 100, el))
	cv.StartDate = day("2023-06-01")

	twopart.PrepareChargeVersion(licence("L1", nil), cv, billingPeriod)

	assert.Nil(t, cv.ChargePeriod)
	assert.Empty(t, el.AbstractionPeriods)
}

// =============================================================================
// MATCHING
// =============================================================================

func TestMatchReturnsToElement(t *testing.T) {
	el := element("e1", 10)
	el.AbstractionPeriods = []generic.Period{{Start: day("2022-04-01"), End: day("2022-10-31")}}

	matching := completedReturn("r1", nil)
	matching.AbstractionPeriods = []generic.Period{{Start: day("2022-06-01"), End: day("2022-09-30")}}

	wrongPurpose := completedReturn("r2", nil)
	wrongPurpose.Purposes[0].Tertiary.Code = "420"
	wrongPurpose.AbstractionPeriods = matching.AbstractionPeriods

	wrongSeason := completedReturn("r3", nil)
	wrongSeason.AbstractionPeriods = []generic.Period{{Start: day("2022-11-01"), End: day("2023-03-31")}}

	secondPurpose := completedReturn("r4", nil)
	secondPurpose.Purposes = append([]twopart.ReturnPurpose{{Tertiary: twopart.PurposeCode{Code: "420"}}}, secondPurpose.Purposes...)
	secondPurpose.AbstractionPeriods = matching.AbstractionPeriods
	secondPurpose.ReviewReturnID = "rr-4"

	matched := twopart.MatchReturnsToElement(el, []*twopart.ReturnLog{matching, wrongPurpose, wrongSeason, secondPurpose})

	require.Len(t, matched, 2)
	assert.Equal(t, "r1", matched[0].ID)
	assert.Equal(t, "r4", matched[1].ID)
	assert.True(t, matching.Matched)
	assert.False(t, wrongPurpose.Matched)
	assert.False(t, wrongSeason.Matched)

	require.Len(t, el.ReturnLogs, 2)
	assert.Equal(t, "rr-4", el.ReturnLogs[1].ReviewReturnID)
	assertAmount(t, 0, el.ReturnLogs[0].AllocatedQuantity)
}
