// Package twopart implements two-part tariff return matching and volume
// allocation. It uses the generic engine's periods, volumes and ledger with
// the licence, charge and return model of an abstraction licence.
package twopart

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/abstraction-billing/generic"
)

// =============================================================================
// STATUSES
// =============================================================================

// ReturnStatus is the lifecycle state of a return log.
type ReturnStatus string

const (
	ReturnStatusDue       ReturnStatus = "due"       // not yet submitted
	ReturnStatusReceived  ReturnStatus = "received"  // submitted, not validated
	ReturnStatusCompleted ReturnStatus = "completed" // submitted and validated
	ReturnStatusVoid      ReturnStatus = "void"
)

// Valid reports whether s is a known status.
func (s ReturnStatus) Valid() bool {
	switch s {
	case ReturnStatusDue, ReturnStatusReceived, ReturnStatusCompleted, ReturnStatusVoid:
		return true
	}
	return false
}

// ReviewStatus is the outcome of classification for a licence, element or
// return.
type ReviewStatus string

const (
	StatusReady  ReviewStatus = "ready"
	StatusReview ReviewStatus = "review"
)

// =============================================================================
// RETURNS
// =============================================================================

// PurposeCode is one level of the purpose hierarchy.
type PurposeCode struct {
	Code        string
	Description string
}

// ReturnPurpose carries the tertiary purpose that return matching uses.
type ReturnPurpose struct {
	Tertiary PurposeCode
}

// ReturnLine is one dated volume reported on a submission.
//
// Quantity is the volume as submitted (cubic metres) and never changes.
// Unallocated starts at Quantity in megalitres and only ever decreases.
type ReturnLine struct {
	ID          string
	StartDate   generic.TimePoint
	EndDate     generic.TimePoint
	Quantity    generic.Amount
	Unallocated generic.Amount
}

func (l *ReturnLine) Period() generic.Period {
	return generic.Period{Start: l.StartDate, End: l.EndDate}
}

// Megalitres is the line quantity in the unit allocation works in.
func (l *ReturnLine) Megalitres() generic.Amount {
	return l.Quantity.ToMegalitres()
}

// Allocated is what has been taken from the line so far.
func (l *ReturnLine) Allocated() generic.Amount {
	return l.Megalitres().Sub(l.Unallocated)
}

// ReturnSubmission is the current submission of a return log.
type ReturnSubmission struct {
	ID        string
	NilReturn bool
	Lines     []*ReturnLine
}

// ReturnLog is a regulatory return for one abstraction point and period.
type ReturnLog struct {
	ID              string
	ReturnReference string
	Description     string
	StartDate       generic.TimePoint
	EndDate         generic.TimePoint
	DueDate         generic.TimePoint
	ReceivedDate    *generic.TimePoint
	Status          ReturnStatus
	UnderQuery      bool
	AbstractionRule generic.AbstractionRule
	Purposes        []ReturnPurpose
	Submission      *ReturnSubmission

	// ReviewReturnID links to an earlier review result for this return.
	ReviewReturnID string

	// Derived by PrepareReturnLogs and the allocation pass
	NilReturn                bool
	AbstractionPeriods       []generic.Period
	AbstractionOutsidePeriod bool
	Quantity                 generic.Amount
	AllocatedQuantity        generic.Amount
	Matched                  bool

	// Derived by ClassifyLicence
	Issues       []Issue
	ReviewStatus ReviewStatus
}

// Lines returns the current submission's lines, or nil with no submission.
func (r *ReturnLog) Lines() []*ReturnLine {
	if r.Submission == nil {
		return nil
	}
	return r.Submission.Lines
}

// ExcludedFromAllocation is true for returns whose volumes cannot be used:
// nil returns, returns under query, anything not completed, and
// submissions with no lines.
func (r *ReturnLog) ExcludedFromAllocation() bool {
	return r.NilReturn ||
		r.UnderQuery ||
		r.Status != ReturnStatusCompleted ||
		len(r.Lines()) == 0
}

// HasPurpose reports whether any tertiary purpose has the given code.
func (r *ReturnLog) HasPurpose(code string) bool {
	for _, p := range r.Purposes {
		if p.Tertiary.Code == code {
			return true
		}
	}
	return false
}

// ReceivedLate is true when the return came in after its due date.
func (r *ReturnLog) ReceivedLate() bool {
	if r.ReceivedDate == nil || r.DueDate.IsZero() {
		return false
	}
	return r.ReceivedDate.After(r.DueDate)
}

// =============================================================================
// CHARGE HIERARCHY
// =============================================================================

// ElementPurpose is the purpose a charge element authorises.
type ElementPurpose struct {
	LegacyID    string
	Description string
}

// MatchedReturn links a charge element to a return by id. It records how
// much of the element's allocation came from that return.
type MatchedReturn struct {
	ReturnID          string
	ReviewReturnID    string
	AllocatedQuantity generic.Amount
}

// ChargeElement is the finest-grained authorisation: one purpose, one
// abstraction rule, one authorised annual quantity.
type ChargeElement struct {
	ID                       string
	Description              string
	AuthorisedAnnualQuantity generic.Amount
	Purpose                  ElementPurpose
	AbstractionRule          generic.AbstractionRule

	// Derived by PrepareChargeVersion and the allocation pass
	AbstractionPeriods []generic.Period
	ReturnLogs         []*MatchedReturn
	AllocatedQuantity  generic.Amount
	ChargeDatesOverlap bool

	// Derived by ClassifyLicence
	Issues []Issue
	Status ReviewStatus
}

func (e *ChargeElement) allowance() generic.Allowance {
	return generic.Allowance{Ceiling: e.AuthorisedAnnualQuantity, Allocated: e.AllocatedQuantity}
}

// MatchedReturn looks up the match record for a return.
func (e *ChargeElement) MatchedReturn(returnID string) *MatchedReturn {
	for _, m := range e.ReturnLogs {
		if m.ReturnID == returnID {
			return m
		}
	}
	return nil
}

// ChargeCategory is the banding a charge reference belongs to.
type ChargeCategory struct {
	Reference         string
	ShortDescription  string
	SubsistenceCharge int64 // pence
}

// ChargeReference groups charge elements under a shared volume ceiling.
type ChargeReference struct {
	ID             string
	Description    string
	Volume         generic.Amount
	Aggregate      *decimal.Decimal
	ChargeCategory ChargeCategory
	ChargeElements []*ChargeElement

	// Derived by the allocation pass; the sum of its elements' allocations
	AllocatedQuantity generic.Amount
}

func (r *ChargeReference) allowance() generic.Allowance {
	return generic.Allowance{Ceiling: r.Volume, Allocated: r.AllocatedQuantity}
}

// HasAggregateFactor is true when an aggregate other than 1 applies.
func (r *ChargeReference) HasAggregateFactor() bool {
	return r.Aggregate != nil && !r.Aggregate.Equal(decimal.NewFromInt(1))
}

// hasMatches is true when any element matched at least one return.
func (r *ChargeReference) hasMatches() bool {
	for _, e := range r.ChargeElements {
		if len(e.ReturnLogs) > 0 {
			return true
		}
	}
	return false
}

// ChargeVersion is a dated set of charge references for a licence.
type ChargeVersion struct {
	ID               string
	StartDate        generic.TimePoint
	EndDate          *generic.TimePoint
	ChangeReason     string
	ChargeReferences []*ChargeReference

	// ChargePeriod is nil when the version does not overlap the billing period.
	ChargePeriod *generic.Period
}

// =============================================================================
// LICENCE
// =============================================================================

// Licence owns its charge versions and the pool of return logs that every
// charge element draws from. One licence is processed by one pass at a time.
type Licence struct {
	ID             string
	LicenceRef     string
	StartDate      generic.TimePoint
	ExpiredDate    *generic.TimePoint
	LapsedDate     *generic.TimePoint
	RevokedDate    *generic.TimePoint
	ChargeVersions []*ChargeVersion
	ReturnLogs     []*ReturnLog

	// Derived by ClassifyLicence
	Status ReviewStatus
	Issues []Issue

	returnIndex map[string]*ReturnLog
}

// ReturnLog finds a return by id through the licence's index.
func (l *Licence) ReturnLog(id string) *ReturnLog {
	if l.returnIndex == nil || len(l.returnIndex) != len(l.ReturnLogs) {
		l.indexReturns()
	}
	return l.returnIndex[id]
}

func (l *Licence) indexReturns() {
	l.returnIndex = make(map[string]*ReturnLog, len(l.ReturnLogs))
	for _, r := range l.ReturnLogs {
		l.returnIndex[r.ID] = r
	}
}

// matchedReturns resolves an element's match records into return logs,
// in match order.
func (l *Licence) matchedReturns(e *ChargeElement) []*ReturnLog {
	out := make([]*ReturnLog, 0, len(e.ReturnLogs))
	for _, m := range e.ReturnLogs {
		if r := l.ReturnLog(m.ReturnID); r != nil {
			out = append(out, r)
		}
	}
	return out
}

// EndDate is the earliest of the licence's expired, lapsed and revoked
// dates, or nil when none is set.
func (l *Licence) EndDate() *generic.TimePoint {
	var end *generic.TimePoint
	for _, d := range []*generic.TimePoint{l.ExpiredDate, l.LapsedDate, l.RevokedDate} {
		if d == nil {
			continue
		}
		if end == nil || d.Before(*end) {
			v := *d
			end = &v
		}
	}
	return end
}

// ActiveIn reports whether the licence is in force at some point in period.
func (l *Licence) ActiveIn(period generic.Period) bool {
	if !l.StartDate.IsZero() && l.StartDate.After(period.End) {
		return false
	}
	if end := l.EndDate(); end != nil && end.Before(period.Start) {
		return false
	}
	return true
}

// Elements calls fn for every charge element with its owning version and
// reference, in processing order.
func (l *Licence) Elements(fn func(cv *ChargeVersion, ref *ChargeReference, el *ChargeElement)) {
	for _, cv := range l.ChargeVersions {
		for _, ref := range cv.ChargeReferences {
			for _, el := range ref.ChargeElements {
				fn(cv, ref, el)
			}
		}
	}
}

// Validate rejects graphs that upstream fetch services should never
// produce: missing ids, bad dates, negative volumes.
func (l *Licence) Validate() error {
	if l.ID == "" {
		return &generic.ValidationError{Field: "licence.id", Reason: "required"}
	}

	seen := make(map[string]bool, len(l.ReturnLogs))
	for _, r := range l.ReturnLogs {
		if err := validateReturnLog(r); err != nil {
			return fmt.Errorf("licence %s: %w", l.LicenceRef, err)
		}
		if seen[r.ID] {
			return fmt.Errorf("licence %s: %w", l.LicenceRef,
				&generic.ValidationError{Field: "returnLog.id", Reason: "duplicate " + r.ID})
		}
		seen[r.ID] = true
	}

	for _, cv := range l.ChargeVersions {
		if err := validateChargeVersion(cv); err != nil {
			return fmt.Errorf("licence %s: %w", l.LicenceRef, err)
		}
	}
	return nil
}

func validateReturnLog(r *ReturnLog) error {
	if r.ID == "" {
		return &generic.ValidationError{Field: "returnLog.id", Reason: "required"}
	}
	if !r.Status.Valid() {
		return &generic.ValidationError{Field: "returnLog.status", Reason: fmt.Sprintf("unknown status %q", r.Status)}
	}
	if err := r.AbstractionRule.Validate(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(r.Lines()))
	for _, line := range r.Lines() {
		if line.ID == "" {
			return &generic.ValidationError{Field: "returnLine.id", Reason: "required on return " + r.ID}
		}
		if seen[line.ID] {
			return &generic.ValidationError{Field: "returnLine.id", Reason: fmt.Sprintf("duplicate %q on return %s", line.ID, r.ID)}
		}
		seen[line.ID] = true
		if line.Quantity.IsNegative() {
			return &generic.ValidationError{Field: "returnLine.quantity", Reason: "negative on " + line.ID}
		}
		if err := line.Period().Validate(); err != nil {
			return &generic.ValidationError{Field: "returnLine.dates", Reason: err.Error() + " on " + line.ID}
		}
	}
	return nil
}

func validateChargeVersion(cv *ChargeVersion) error {
	if cv.StartDate.IsZero() {
		return &generic.ValidationError{Field: "chargeVersion.startDate", Reason: "required on " + cv.ID}
	}
	if cv.EndDate != nil && cv.EndDate.Before(cv.StartDate) {
		return &generic.ValidationError{Field: "chargeVersion.endDate", Reason: "before start on " + cv.ID}
	}
	for _, ref := range cv.ChargeReferences {
		if ref.Volume.IsNegative() {
			return &generic.ValidationError{Field: "chargeReference.volume", Reason: "negative on " + ref.ID}
		}
		for _, el := range ref.ChargeElements {
			if el.AuthorisedAnnualQuantity.IsNegative() {
				return &generic.ValidationError{Field: "chargeElement.authorisedAnnualQuantity", Reason: "negative on " + el.ID}
			}
			if err := el.AbstractionRule.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}
