package twopart

import "github.com/warp/abstraction-billing/generic"

// MatchReturnsToElement finds the returns an element can draw volume from.
//
// A return matches when one of its tertiary purposes equals the element's
// legacy purpose id and its abstraction periods overlap the element's. Each
// match is recorded on the element by return id and the return is flagged
// as matched. Matches keep the input order of returnLogs.
func MatchReturnsToElement(el *ChargeElement, returnLogs []*ReturnLog) []*ReturnLog {
	var matched []*ReturnLog
	for _, returnLog := range returnLogs {
		if !returnLog.HasPurpose(el.Purpose.LegacyID) {
			continue
		}
		if !generic.PeriodsOverlap(el.AbstractionPeriods, returnLog.AbstractionPeriods) {
			continue
		}

		if el.MatchedReturn(returnLog.ID) == nil {
			el.ReturnLogs = append(el.ReturnLogs, &MatchedReturn{
				ReturnID:          returnLog.ID,
				ReviewReturnID:    returnLog.ReviewReturnID,
				AllocatedQuantity: generic.ZeroMegalitres(),
			})
		}
		returnLog.Matched = true
		matched = append(matched, returnLog)
	}
	return matched
}
