package twopart

import "sort"

// =============================================================================
// ISSUES
// =============================================================================

// Issue is a reviewer-facing reason a licence may need checking.
type Issue string

const (
	IssueAbstractionOutsidePeriod Issue = "Abstraction outside period"
	IssueAggregateFactor          Issue = "Aggregate factor"
	IssueCheckingQuery            Issue = "Checking query"
	IssueNoReturnsReceived        Issue = "No returns received"
	IssueOverAbstraction          Issue = "Over abstraction"
	IssueOverlapOfChargeDates     Issue = "Overlap of charge dates"
	IssueReturnsReceivedNotProc   Issue = "Returns received but not processed"
	IssueReturnsReceivedLate      Issue = "Returns received late"
	IssueReturnSplitOverRefs      Issue = "Return split over charge references"
	IssueSomeReturnsNotReceived   Issue = "Some returns not received"
	IssueUnableToMatchReturn      Issue = "Unable to match return"
	IssueMultipleIssues           Issue = "Multiple issues"
)

// reviewIssues put whatever raises them into review.
var reviewIssues = map[Issue]bool{
	IssueAggregateFactor:        true,
	IssueCheckingQuery:          true,
	IssueOverlapOfChargeDates:   true,
	IssueReturnsReceivedNotProc: true,
	IssueReturnSplitOverRefs:    true,
	IssueUnableToMatchReturn:    true,
}

// TriggersReview reports whether the issue forces review status.
func (i Issue) TriggersReview() bool { return reviewIssues[i] }

func statusFor(issues []Issue) ReviewStatus {
	for _, issue := range issues {
		if issue.TriggersReview() {
			return StatusReview
		}
	}
	return StatusReady
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// ClassifyLicence derives issues and a ready/review status for every return,
// every charge element and the licence itself. It runs after allocation and
// only reads allocation state.
//
// An element is also put into review when any return it matched is in
// review. The licence is in review when any issue anywhere triggers it.
func ClassifyLicence(licence *Licence) {
	splits := referencesPerReturn(licence)

	for _, returnLog := range licence.ReturnLogs {
		returnLog.Issues = returnIssues(returnLog, splits[returnLog.ID])
		returnLog.ReviewStatus = statusFor(returnLog.Issues)
	}

	all := make(map[Issue]bool)
	for _, returnLog := range licence.ReturnLogs {
		for _, issue := range returnLog.Issues {
			all[issue] = true
		}
	}

	licence.Elements(func(_ *ChargeVersion, ref *ChargeReference, el *ChargeElement) {
		el.Issues = elementIssues(licence, ref, el)
		el.Status = statusFor(el.Issues)
		for _, returnLog := range licence.matchedReturns(el) {
			if returnLog.ReviewStatus == StatusReview {
				el.Status = StatusReview
			}
		}
		for _, issue := range el.Issues {
			all[issue] = true
		}
	})

	licence.Issues = licenceIssues(all)
	licence.Status = statusFor(licence.Issues)
}

func returnIssues(returnLog *ReturnLog, referenceCount int) []Issue {
	var issues []Issue
	if returnLog.AbstractionOutsidePeriod {
		issues = append(issues, IssueAbstractionOutsidePeriod)
	}
	if returnLog.UnderQuery {
		issues = append(issues, IssueCheckingQuery)
	}
	if returnLog.Status == ReturnStatusDue {
		issues = append(issues, IssueNoReturnsReceived)
	}
	if returnLog.Quantity.GreaterThan(returnLog.AllocatedQuantity) {
		issues = append(issues, IssueOverAbstraction)
	}
	if returnLog.Status == ReturnStatusReceived {
		issues = append(issues, IssueReturnsReceivedNotProc)
	}
	if returnLog.ReceivedLate() {
		issues = append(issues, IssueReturnsReceivedLate)
	}
	if referenceCount > 1 {
		issues = append(issues, IssueReturnSplitOverRefs)
	}
	return issues
}

func elementIssues(licence *Licence, ref *ChargeReference, el *ChargeElement) []Issue {
	var issues []Issue
	if ref.HasAggregateFactor() {
		issues = append(issues, IssueAggregateFactor)
	}
	if el.ChargeDatesOverlap {
		issues = append(issues, IssueOverlapOfChargeDates)
	}

	matched := licence.matchedReturns(el)
	if len(matched) == 0 {
		return append(issues, IssueUnableToMatchReturn)
	}

	due := 0
	for _, returnLog := range matched {
		if returnLog.Status == ReturnStatusDue {
			due++
		}
	}
	switch {
	case due == len(matched):
		issues = append(issues, IssueNoReturnsReceived)
	case due > 0:
		issues = append(issues, IssueSomeReturnsNotReceived)
	}
	return issues
}

// referencesPerReturn counts the distinct charge references each return was
// matched under.
func referencesPerReturn(licence *Licence) map[string]int {
	seen := make(map[string]map[string]bool)
	licence.Elements(func(_ *ChargeVersion, ref *ChargeReference, el *ChargeElement) {
		for _, m := range el.ReturnLogs {
			if seen[m.ReturnID] == nil {
				seen[m.ReturnID] = make(map[string]bool)
			}
			seen[m.ReturnID][ref.ID] = true
		}
	})

	counts := make(map[string]int, len(seen))
	for returnID, refs := range seen {
		counts[returnID] = len(refs)
	}
	return counts
}

// licenceIssues sorts and de-duplicates, then appends "Multiple issues" when
// there is more than one.
func licenceIssues(set map[Issue]bool) []Issue {
	issues := make([]Issue, 0, len(set)+1)
	for issue := range set {
		issues = append(issues, issue)
	}
	sort.Slice(issues, func(i, j int) bool { return issues[i] < issues[j] })
	if len(issues) > 1 {
		issues = append(issues, IssueMultipleIssues)
	}
	return issues
}

// HasIssue reports whether issues contains target.
func HasIssue(issues []Issue, target Issue) bool {
	for _, issue := range issues {
		if issue == target {
			return true
		}
	}
	return false
}
