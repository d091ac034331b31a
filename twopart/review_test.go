package twopart_test

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/abstraction-billing/twopart"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func TestReviewBuilder_RowsPerMatch(t *testing.T) {
	// GIVEN: e1 matched to r1 and r2, e2 matched to nothing, r3 matched to nothing
	// WHEN: Review rows are built
	// THEN: One result per (element, return) pair plus one per unmatched side

	e1 := element("e1", 20)
	e2 := element("e2", 5)
	e2.Purpose.LegacyID = "999"
	ref := reference("cr1", 30, 100, e1, e2)
	cv := chargeVersion("cv1", ref)
	r1 := completedReturn("r1", monthlyLines("r1", 2, 4000))
	r2 := completedReturn("r2", monthlyLines("r2", 2, 4000))
	r3 := completedReturn("r3", monthlyLines("r3", 1, 1000))
	r3.Purposes[0].Tertiary.Code = "420"
	l := licence("L1", []*twopart.ChargeVersion{cv}, r1, r2, r3)
	ledger := process(t, l)

	builder := &twopart.ReviewBuilder{NewID: sequentialIDs()}
	set := builder.Build("bill-run-1", l, ledger.Transfers())

	assert.Equal(t, "bill-run-1", set.Licence.BillRunID)
	assert.Equal(t, l.Status, set.Licence.Status)
	assert.Len(t, set.ReturnResults, 3)
	assert.Len(t, set.ElementResults, 2)
	require.Len(t, set.Results, 4)
	assert.Len(t, set.Transfers, len(ledger.Transfers()))

	returnRows := map[string]string{}
	for _, row := range set.ReturnResults {
		returnRows[row.ReturnID] = row.ID
	}
	elementRows := map[string]string{}
	for _, row := range set.ElementResults {
		elementRows[row.ChargeElementID] = row.ID
	}

	for _, result := range set.Results[:2] {
		assert.Equal(t, "cv1", result.ChargeVersionID)
		assert.Equal(t, "cr1", result.ChargeReferenceID)
		assert.Equal(t, cv.ChangeReason, result.ChargeVersionChangeReason)
		require.NotNil(t, result.ChargePeriod)
		assert.Equal(t, billingPeriod, *result.ChargePeriod)
		assert.Equal(t, elementRows["e1"], *result.ReviewChargeElementResultID)
	}
	assert.Equal(t, returnRows["r1"], *set.Results[0].ReviewReturnResultID)
	assert.Equal(t, returnRows["r2"], *set.Results[1].ReviewReturnResultID)

	unmatchedElement := set.Results[2]
	assert.Equal(t, elementRows["e2"], *unmatchedElement.ReviewChargeElementResultID)
	assert.Nil(t, unmatchedElement.ReviewReturnResultID)

	unmatchedReturn := set.Results[3]
	assert.Equal(t, returnRows["r3"], *unmatchedReturn.ReviewReturnResultID)
	assert.Nil(t, unmatchedReturn.ReviewChargeElementResultID)
	assert.Empty(t, unmatchedReturn.ChargeVersionID)
	assert.Nil(t, unmatchedReturn.ChargePeriod)
}

func TestBuildReview_UsesUUIDs(t *testing.T) {
	el := element("e1", 10)
	l := licence("L1", []*twopart.ChargeVersion{chargeVersion("cv1", reference("cr1", 10, 100, el))},
		completedReturn("r1", monthlyLines("r1", 1, 4000)))
	process(t, l)

	set := twopart.BuildReview("bill-run-1", l)

	_, err := uuid.Parse(set.Licence.ID)
	assert.NoError(t, err)
	require.Len(t, set.Results, 1)
	_, err = uuid.Parse(set.Results[0].ID)
	assert.NoError(t, err)
	assert.Equal(t, []string{purposeSpray}, set.ReturnResults[0].Purposes)
}
