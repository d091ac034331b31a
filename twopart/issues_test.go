package twopart_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/abstraction-billing/generic"
	"github.com/warp/abstraction-billing/twopart"
)

// classifiedLicence builds a licence with one element already matched to
// one fully allocated completed return.
func classifiedLicence() (*twopart.Licence, *twopart.ChargeReference, *twopart.ChargeElement, *twopart.ReturnLog) {
	el := element("e1", 32)
	el.ReturnLogs = []*twopart.MatchedReturn{{ReturnID: "r1", AllocatedQuantity: ml(10)}}
	el.AllocatedQuantity = ml(10)
	ref := reference("cr1", 32, 1000, el)

	r1 := completedReturn("r1", nil)
	r1.Quantity = ml(10)
	r1.AllocatedQuantity = ml(10)
	r1.Matched = true

	return licence("L1", []*twopart.ChargeVersion{chargeVersion("cv1", ref)}, r1), ref, el, r1
}

func TestClassifyLicence_AggregateAndChargeDatesOverlap(t *testing.T) {
	// GIVEN: One element with chargeDatesOverlap set under an aggregate of 1.25
	// WHEN: The licence is classified
	// THEN: Both issues are raised and everything goes to review

	l, ref, el, _ := classifiedLicence()
	aggregate := decimal.RequireFromString("1.25")
	ref.Aggregate = &aggregate
	el.ChargeDatesOverlap = true

	twopart.ClassifyLicence(l)

	assert.Contains(t, el.Issues, twopart.IssueAggregateFactor)
	assert.Contains(t, el.Issues, twopart.IssueOverlapOfChargeDates)
	assert.Equal(t, twopart.StatusReview, el.Status)
	assert.Equal(t, twopart.StatusReview, l.Status)
	assert.Equal(t, []twopart.Issue{
		twopart.IssueAggregateFactor,
		twopart.IssueOverlapOfChargeDates,
		twopart.IssueMultipleIssues,
	}, l.Issues)
}

func TestClassifyLicence_AggregateOfOneIsNotAnIssue(t *testing.T) {
	l, ref, el, _ := classifiedLicence()
	one := decimal.NewFromInt(1)
	ref.Aggregate = &one

	twopart.ClassifyLicence(l)

	assert.Empty(t, el.Issues)
	assert.Equal(t, twopart.StatusReady, el.Status)
	assert.Equal(t, twopart.StatusReady, l.Status)
	assert.Empty(t, l.Issues)
}

func TestClassifyLicence_ReturnIssues(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *twopart.ReturnLog)
		issue  twopart.Issue
		status twopart.ReviewStatus
	}{
		{
			name:   "abstraction outside period",
			modify: func(r *twopart.ReturnLog) { r.AbstractionOutsidePeriod = true },
			issue:  twopart.IssueAbstractionOutsidePeriod,
			status: twopart.StatusReady,
		},
		{
			name:   "under query",
			modify: func(r *twopart.ReturnLog) { r.UnderQuery = true },
			issue:  twopart.IssueCheckingQuery,
			status: twopart.StatusReview,
		},
		{
			name:   "over abstraction",
			modify: func(r *twopart.ReturnLog) { r.Quantity = ml(12) },
			issue:  twopart.IssueOverAbstraction,
			status: twopart.StatusReady,
		},
		{
			name:   "received not processed",
			modify: func(r *twopart.ReturnLog) { r.Status = twopart.ReturnStatusReceived },
			issue:  twopart.IssueReturnsReceivedNotProc,
			status: twopart.StatusReview,
		},
		{
			name: "received late",
			modify: func(r *twopart.ReturnLog) {
				received := day("2023-05-10")
				r.ReceivedDate = &received
			},
			issue:  twopart.IssueReturnsReceivedLate,
			status: twopart.StatusReady,
		},
		{
			name:   "due",
			modify: func(r *twopart.ReturnLog) { r.Status = twopart.ReturnStatusDue },
			issue:  twopart.IssueNoReturnsReceived,
			status: twopart.StatusReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _, _, r1 := classifiedLicence()
			tt.modify(r1)

			twopart.ClassifyLicence(l)

			assert.Equal(t, []twopart.Issue{tt.issue}, r1.Issues)
			assert.Equal(t, tt.status, r1.ReviewStatus)
			assert.Equal(t, tt.status, l.Status)
			assert.Contains(t, l.Issues, tt.issue)
		})
	}
}

func TestClassifyLicence_ReceivedOnTimeIsNotLate(t *testing.T) {
	l, _, _, r1 := classifiedLicence()
	received := r1.DueDate
	r1.ReceivedDate = &received

	twopart.ClassifyLicence(l)

	assert.Empty(t, r1.Issues)
}

func TestClassifyLicence_UnmatchedElement(t *testing.T) {
	l, _, el, r1 := classifiedLicence()
	el.ReturnLogs = nil
	r1.Matched = false

	twopart.ClassifyLicence(l)

	assert.Equal(t, []twopart.Issue{twopart.IssueUnableToMatchReturn}, el.Issues)
	assert.Equal(t, twopart.StatusReview, l.Status)
}

func TestClassifyLicence_MultipleIssuesAppendedOnce(t *testing.T) {
	l, _, el, r1 := classifiedLicence()
	r1.AbstractionOutsidePeriod = true
	r1.Quantity = ml(12)

	second := completedReturn("r2", nil)
	second.AbstractionOutsidePeriod = true
	second.Quantity = generic.ZeroMegalitres()
	second.AllocatedQuantity = generic.ZeroMegalitres()
	l.ReturnLogs = append(l.ReturnLogs, second)
	el.ReturnLogs = append(el.ReturnLogs, &twopart.MatchedReturn{ReturnID: "r2"})

	twopart.ClassifyLicence(l)

	assert.Equal(t, []twopart.Issue{
		twopart.IssueAbstractionOutsidePeriod,
		twopart.IssueOverAbstraction,
		twopart.IssueMultipleIssues,
	}, l.Issues)
	assert.Equal(t, twopart.StatusReady, l.Status)
}

func TestIssue_TriggersReview(t *testing.T) {
	review := []twopart.Issue{
		twopart.IssueAggregateFactor,
		twopart.IssueCheckingQuery,
		twopart.IssueOverlapOfChargeDates,
		twopart.IssueReturnsReceivedNotProc,
		twopart.IssueReturnSplitOverRefs,
		twopart.IssueUnableToMatchReturn,
	}
	for _, issue := range review {
		assert.True(t, issue.TriggersReview(), issue)
	}

	ready := []twopart.Issue{
		twopart.IssueAbstractionOutsidePeriod,
		twopart.IssueNoReturnsReceived,
		twopart.IssueOverAbstraction,
		twopart.IssueReturnsReceivedLate,
		twopart.IssueSomeReturnsNotReceived,
		twopart.IssueMultipleIssues,
	}
	for _, issue := range ready {
		assert.False(t, issue.TriggersReview(), issue)
	}
}
