package twopart_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/abstraction-billing/generic"
	"github.com/warp/abstraction-billing/twopart"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

var billingPeriod = generic.FinancialYear(2023) // 2022-04-01 .. 2023-03-31

const purposeSpray = "400"

func day(s string) generic.TimePoint { return generic.MustParseTimePoint(s) }
func ml(v float64) generic.Amount    { return generic.Megalitres(v) }
func m3(v int64) generic.Amount      { return generic.NewAmountFromInt(v, generic.UnitCubicMetres) }

// aprilToMarch is an out-year rule covering the whole financial year.
func aprilToMarch() generic.AbstractionRule {
	return generic.AbstractionRule{StartDay: 1, StartMonth: 4, EndDay: 31, EndMonth: 3}
}

func aprilToOctober() generic.AbstractionRule {
	return generic.AbstractionRule{StartDay: 1, StartMonth: 4, EndDay: 31, EndMonth: 10}
}

// monthlyLines builds n calendar-month lines from April 2022, each
// reporting perLine cubic metres.
func monthlyLines(returnID string, n int, perLine int64) []*twopart.ReturnLine {
	lines := make([]*twopart.ReturnLine, 0, n)
	for i := 0; i < n; i++ {
		start := generic.NewTimePoint(2022, time.April+time.Month(i), 1)
		end := generic.NewTimePoint(2022, time.April+time.Month(i+1), 1).AddDays(-1)
		lines = append(lines, &twopart.ReturnLine{
			ID:        fmt.Sprintf("%s-line-%d", returnID, i+1),
			StartDate: start,
			EndDate:   end,
			Quantity:  m3(perLine),
		})
	}
	return lines
}

func returnLog(id string, status twopart.ReturnStatus, lines []*twopart.ReturnLine) *twopart.ReturnLog {
	r := &twopart.ReturnLog{
		ID:              id,
		ReturnReference: "ref-" + id,
		StartDate:       billingPeriod.Start,
		EndDate:         billingPeriod.End,
		DueDate:         day("2023-04-28"),
		Status:          status,
		AbstractionRule: aprilToMarch(),
		Purposes: []twopart.ReturnPurpose{
			{Tertiary: twopart.PurposeCode{Code: purposeSpray, Description: "Spray Irrigation - Direct"}},
		},
	}
	if lines != nil {
		r.Submission = &twopart.ReturnSubmission{ID: id + "-sub", Lines: lines}
	}
	return r
}

func completedReturn(id string, lines []*twopart.ReturnLine) *twopart.ReturnLog {
	return returnLog(id, twopart.ReturnStatusCompleted, lines)
}

func element(id string, authorised float64) *twopart.ChargeElement {
	return &twopart.ChargeElement{
		ID:                       id,
		Description:              "Spray irrigation " + id,
		AuthorisedAnnualQuantity: ml(authorised),
		Purpose:                  twopart.ElementPurpose{LegacyID: purposeSpray, Description: "Spray Irrigation - Direct"},
		AbstractionRule:          aprilToMarch(),
	}
}

func reference(id string, volume float64, subsistence int64, elements ...*twopart.ChargeElement) *twopart.ChargeReference {
	return &twopart.ChargeReference{
		ID:     id,
		Volume: ml(volume),
		ChargeCategory: twopart.ChargeCategory{
			Reference:         "4.6." + id,
			SubsistenceCharge: subsistence,
		},
		ChargeElements: elements,
	}
}

func chargeVersion(id string, refs ...*twopart.ChargeReference) *twopart.ChargeVersion {
	return &twopart.ChargeVersion{
		ID:               id,
		StartDate:        day("2022-04-01"),
		ChangeReason:     "Strategic review of charges (SRoC)",
		ChargeReferences: refs,
	}
}

func licence(id string, versions []*twopart.ChargeVersion, returns ...*twopart.ReturnLog) *twopart.Licence {
	return &twopart.Licence{
		ID:             id,
		LicenceRef:     "01/" + id,
		StartDate:      day("2000-01-01"),
		ChargeVersions: versions,
		ReturnLogs:     returns,
	}
}

func process(t *testing.T, l *twopart.Licence) *generic.MemoryLedger {
	t.Helper()
	ledger, err := twopart.NewEngine(twopart.DefaultPolicy()).Process(l, billingPeriod)
	require.NoError(t, err)
	return ledger
}

func assertAmount(t *testing.T, expected float64, actual generic.Amount) {
	t.Helper()
	assert.True(t, actual.Equal(ml(expected)), "expected %v Ml, got %s", expected, actual)
}
