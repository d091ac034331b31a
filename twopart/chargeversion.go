package twopart

import (
	"sort"

	"github.com/warp/abstraction-billing/generic"
)

// =============================================================================
// CHARGE VERSION PREPARATION
// =============================================================================

// DetermineChargePeriod returns the part of the billing period during which
// the charge version applies. The window is bounded by the version's own
// dates and by the licence ending (expired, lapsed or revoked). ok is false
// when nothing of the billing period is left.
func DetermineChargePeriod(licence *Licence, chargeVersion *ChargeVersion, billingPeriod generic.Period) (generic.Period, bool) {
	start := generic.Latest(billingPeriod.Start, chargeVersion.StartDate)
	end := billingPeriod.End
	if chargeVersion.EndDate != nil {
		end = generic.Earliest(end, *chargeVersion.EndDate)
	}
	if licence != nil {
		if licenceEnd := licence.EndDate(); licenceEnd != nil {
			end = generic.Earliest(end, *licenceEnd)
		}
	}

	if end.Before(start) {
		return generic.Period{}, false
	}
	return generic.Period{Start: start, End: end}, true
}

// PrepareChargeVersion orders the version's charge references by
// subsistence charge, highest first, sets its charge period and readies
// every charge element for matching.
//
// Ties keep their original order. When the version does not overlap the
// billing period its elements get no abstraction periods and so can never
// match a return.
func PrepareChargeVersion(licence *Licence, chargeVersion *ChargeVersion, billingPeriod generic.Period) {
	sort.SliceStable(chargeVersion.ChargeReferences, func(i, j int) bool {
		return chargeVersion.ChargeReferences[i].ChargeCategory.SubsistenceCharge >
			chargeVersion.ChargeReferences[j].ChargeCategory.SubsistenceCharge
	})

	chargeVersion.ChargePeriod = nil
	if period, ok := DetermineChargePeriod(licence, chargeVersion, billingPeriod); ok {
		chargeVersion.ChargePeriod = &period
	}

	for _, ref := range chargeVersion.ChargeReferences {
		ref.AllocatedQuantity = generic.ZeroMegalitres()
		for _, el := range ref.ChargeElements {
			prepareChargeElement(el, chargeVersion.ChargePeriod)
		}
	}
}

func prepareChargeElement(el *ChargeElement, chargePeriod *generic.Period) {
	el.AbstractionPeriods = nil
	if chargePeriod != nil {
		el.AbstractionPeriods = generic.ResolveAbstractionPeriods(*chargePeriod, el.AbstractionRule)
	}
	el.ReturnLogs = []*MatchedReturn{}
	el.AllocatedQuantity = generic.ZeroMegalitres()
	el.ChargeDatesOverlap = false
	el.Issues = nil
	el.Status = ""
}
