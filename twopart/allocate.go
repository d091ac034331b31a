package twopart

import (
	"fmt"

	"github.com/warp/abstraction-billing/generic"
)

// =============================================================================
// ALLOCATOR - Moves volume from returns onto charge elements
// =============================================================================
//
// Every movement goes through transfer(), which appends to the ledger and
// then updates the line, element, match record, return and charge reference
// together. A failed append leaves the model untouched.
//
// CEILINGS:
//   element.AllocatedQuantity   <= element.AuthorisedAnnualQuantity
//   reference.AllocatedQuantity <= reference.Volume
//
// Requests above the headroom are clamped, never rejected.

// Allocator allocates return volumes for one licence pass.
type Allocator struct {
	ledger generic.Ledger
}

func NewAllocator(ledger generic.Ledger) *Allocator {
	return &Allocator{ledger: ledger}
}

// Ledger returns the transfer log the allocator writes to.
func (a *Allocator) Ledger() generic.Ledger { return a.ledger }

// movement is one transfer's worth of state to update.
type movement struct {
	kind      generic.TransferKind
	element   *ChargeElement
	reference *ChargeReference
	returnLog *ReturnLog  // nil for fallback
	line      *ReturnLine // only for line transfers
	amount    generic.Amount
}

func (a *Allocator) transfer(m movement) error {
	t := generic.Transfer{
		Kind:     m.kind,
		TargetID: m.element.ID,
		PoolID:   m.reference.ID,
		Amount:   m.amount,
	}
	switch {
	case m.line != nil:
		t.SourceID = m.line.ID
		t.CarrierID = m.returnLog.ID
	case m.returnLog != nil:
		t.SourceID = m.returnLog.ID
		t.CarrierID = m.returnLog.ID
	default:
		t.SourceID = m.reference.ID
	}

	if _, err := a.ledger.Append(t); err != nil {
		return fmt.Errorf("allocate %s to element %s: %w", m.amount, m.element.ID, err)
	}

	if m.line != nil {
		m.line.Unallocated = m.line.Unallocated.Sub(m.amount)
	}
	m.element.AllocatedQuantity = m.element.AllocatedQuantity.Add(m.amount)
	m.reference.AllocatedQuantity = m.reference.AllocatedQuantity.Add(m.amount)
	if m.returnLog != nil {
		m.returnLog.AllocatedQuantity = m.returnLog.AllocatedQuantity.Add(m.amount)
		if match := m.element.MatchedReturn(m.returnLog.ID); match != nil {
			match.AllocatedQuantity = match.AllocatedQuantity.Add(m.amount)
		}
	}
	return nil
}

// =============================================================================
// COMPLETED RETURNS - Volume from submitted lines
// =============================================================================

// Allocate takes volume from the submission lines of the element's matched
// returns, in match order and line order, until the element or its
// reference reaches its ceiling.
//
// Excluded returns (nil, under query, not completed, no lines) are skipped.
// Lines ending after the element's last abstraction period are never used.
// Element periods are clipped to the charge period, so a line crossing the
// charge period end is skipped before it is checked. Only a line crossing
// the charge period start marks the element with ChargeDatesOverlap.
func (a *Allocator) Allocate(el *ChargeElement, matched []*ReturnLog, chargePeriod generic.Period, ref *ChargeReference) error {
	latestEnd, hasPeriods := generic.LatestEnd(el.AbstractionPeriods)
	if !hasPeriods {
		return nil
	}

	for _, returnLog := range matched {
		if returnLog.ExcludedFromAllocation() {
			continue
		}
		if el.allowance().Exhausted() || ref.allowance().Exhausted() {
			return nil
		}

		for _, line := range matchingLines(el, returnLog) {
			headroom := generic.Headroom(el.allowance(), ref.allowance())
			if !headroom.IsPositive() {
				break
			}
			if line.EndDate.After(latestEnd) {
				continue
			}

			if straddles(line.Period(), chargePeriod) {
				el.ChargeDatesOverlap = true
			}

			err := a.transfer(movement{
				kind:      generic.TransferLine,
				element:   el,
				reference: ref,
				returnLog: returnLog,
				line:      line,
				amount:    line.Unallocated.Min(headroom),
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// matchingLines returns the return's lines that overlap the element's
// abstraction periods and still have volume to give.
func matchingLines(el *ChargeElement, returnLog *ReturnLog) []*ReturnLine {
	var lines []*ReturnLine
	for _, line := range returnLog.Lines() {
		if !line.Unallocated.IsPositive() {
			continue
		}
		if generic.PeriodsOverlap([]generic.Period{line.Period()}, el.AbstractionPeriods) {
			lines = append(lines, line)
		}
	}
	return lines
}

// straddles is true when the line crosses the start or end of the charge
// period rather than sitting inside or outside it.
func straddles(line, chargePeriod generic.Period) bool {
	crossesEnd := line.Start.Before(chargePeriod.End) && line.End.After(chargePeriod.End)
	crossesStart := line.Start.Before(chargePeriod.Start) && line.End.After(chargePeriod.Start)
	return crossesEnd || crossesStart
}

// =============================================================================
// DUE RETURNS - Assumed worst-case liability
// =============================================================================

// AllocateDue gives the element all its remaining headroom when any matched
// return is still due. The volume is credited to the first due return; an
// unsubmitted return has no lines to draw from.
func (a *Allocator) AllocateDue(el *ChargeElement, matched []*ReturnLog, ref *ChargeReference) error {
	for _, returnLog := range matched {
		if returnLog.Status != ReturnStatusDue {
			continue
		}

		headroom := generic.Headroom(el.allowance(), ref.allowance())
		if !headroom.IsPositive() {
			return nil
		}
		return a.transfer(movement{
			kind:      generic.TransferDue,
			element:   el,
			reference: ref,
			returnLog: returnLog,
			amount:    headroom,
		})
	}
	return nil
}

// =============================================================================
// FALLBACK - Authorised volume when nothing matched
// =============================================================================

// AllocateFallback shares the reference volume across its elements in
// element order, each up to its authorised quantity. Earlier elements are
// filled before later ones see anything.
func (a *Allocator) AllocateFallback(ref *ChargeReference) error {
	for _, el := range ref.ChargeElements {
		headroom := generic.Headroom(el.allowance(), ref.allowance())
		if !headroom.IsPositive() {
			continue
		}
		err := a.transfer(movement{
			kind:      generic.TransferFallback,
			element:   el,
			reference: ref,
			amount:    headroom,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
