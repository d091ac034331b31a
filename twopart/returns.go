package twopart

import (
	"github.com/warp/abstraction-billing/generic"
)

// =============================================================================
// RETURN PREPARATION
// =============================================================================

// PrepareReturnLogs readies every return log on the licence for a matching
// pass over billingPeriod. Preparation is idempotent: derived state from a
// previous pass is discarded.
func PrepareReturnLogs(licence *Licence, billingPeriod generic.Period) {
	for _, returnLog := range licence.ReturnLogs {
		PrepareReturnLog(returnLog, billingPeriod)
	}
	licence.indexReturns()
}

// PrepareReturnLog resolves the return's abstraction periods, converts its
// line quantities to megalitres and resets allocation state.
//
// The abstraction-outside-period flag is raised when any line carrying
// volume falls wholly outside the return's own abstraction periods. Lines
// reporting zero are routinely submitted for closed-season months and do not
// raise it.
func PrepareReturnLog(returnLog *ReturnLog, billingPeriod generic.Period) {
	returnLog.AbstractionPeriods = generic.ResolveAbstractionPeriods(billingPeriod, returnLog.AbstractionRule)
	returnLog.Quantity = generic.ZeroMegalitres()
	returnLog.AllocatedQuantity = generic.ZeroMegalitres()
	returnLog.AbstractionOutsidePeriod = false
	returnLog.Matched = false
	returnLog.NilReturn = false
	returnLog.Issues = nil
	returnLog.ReviewStatus = ""

	if returnLog.Submission == nil {
		return
	}
	returnLog.NilReturn = returnLog.Submission.NilReturn

	for _, line := range returnLog.Submission.Lines {
		ml := line.Megalitres()
		line.Unallocated = ml
		returnLog.Quantity = returnLog.Quantity.Add(ml)

		if ml.IsPositive() && !generic.PeriodsOverlap([]generic.Period{line.Period()}, returnLog.AbstractionPeriods) {
			returnLog.AbstractionOutsidePeriod = true
		}
	}
}
