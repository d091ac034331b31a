package twopart

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/abstraction-billing/generic"
)

// =============================================================================
// REVIEW RESULTS - What a bill run persists per licence
// =============================================================================
//
// ROWS:
//   ReviewLicence               one per licence, carries status and issues
//   ReviewChargeElementResult   one per charge element
//   ReviewReturnResult          one per return log
//   ReviewResult                one per (element, matched return) pair,
//                               plus one per unmatched element and one per
//                               unmatched return
//
// ReviewResult rows link to the element and return rows by id. A link is
// nil where the row has no element or no return.

type ReviewLicence struct {
	ID         string
	BillRunID  string
	LicenceID  string
	LicenceRef string
	Status     ReviewStatus
	Issues     []Issue
}

type ReviewChargeElementResult struct {
	ID                       string
	ChargeElementID          string
	Description              string
	AuthorisedAnnualQuantity generic.Amount
	AllocatedQuantity        generic.Amount
	Aggregate                *decimal.Decimal
	ChargeDatesOverlap       bool
	Status                   ReviewStatus
	Issues                   []Issue
}

type ReviewReturnResult struct {
	ID                       string
	ReturnID                 string
	ReturnReference          string
	Description              string
	StartDate                generic.TimePoint
	EndDate                  generic.TimePoint
	ReturnStatus             ReturnStatus
	UnderQuery               bool
	NilReturn                bool
	Quantity                 generic.Amount
	AllocatedQuantity        generic.Amount
	AbstractionOutsidePeriod bool
	Purposes                 []string
	Status                   ReviewStatus
	Issues                   []Issue
}

type ReviewResult struct {
	ID                          string
	BillRunID                   string
	LicenceID                   string
	ChargeVersionID             string
	ChargeReferenceID           string
	ChargePeriod                *generic.Period
	ChargeVersionChangeReason   string
	ReviewChargeElementResultID *string
	ReviewReturnResultID        *string
}

// ReviewSet is everything persisted for one licence in one bill run.
type ReviewSet struct {
	Licence        ReviewLicence
	Results        []ReviewResult
	ElementResults []ReviewChargeElementResult
	ReturnResults  []ReviewReturnResult
	Transfers      []generic.Transfer
}

// =============================================================================
// BUILDER
// =============================================================================

// ReviewBuilder turns a classified licence into review rows.
type ReviewBuilder struct {
	NewID func() string
}

func NewReviewBuilder() *ReviewBuilder {
	return &ReviewBuilder{NewID: uuid.NewString}
}

// BuildReview builds the review rows for a processed licence with uuid
// identifiers.
func BuildReview(billRunID string, licence *Licence) *ReviewSet {
	return NewReviewBuilder().Build(billRunID, licence, nil)
}

// Build builds the review rows and attaches the allocation transfers.
func (b *ReviewBuilder) Build(billRunID string, licence *Licence, transfers []generic.Transfer) *ReviewSet {
	set := &ReviewSet{
		Licence: ReviewLicence{
			ID:         b.NewID(),
			BillRunID:  billRunID,
			LicenceID:  licence.ID,
			LicenceRef: licence.LicenceRef,
			Status:     licence.Status,
			Issues:     licence.Issues,
		},
		Transfers: transfers,
	}

	returnRows := make(map[string]string, len(licence.ReturnLogs))
	for _, returnLog := range licence.ReturnLogs {
		row := b.returnResult(returnLog)
		returnRows[returnLog.ID] = row.ID
		set.ReturnResults = append(set.ReturnResults, row)
	}

	licence.Elements(func(cv *ChargeVersion, ref *ChargeReference, el *ChargeElement) {
		elementRow := b.elementResult(ref, el)
		set.ElementResults = append(set.ElementResults, elementRow)

		base := ReviewResult{
			BillRunID:                 billRunID,
			LicenceID:                 licence.ID,
			ChargeVersionID:           cv.ID,
			ChargeReferenceID:         ref.ID,
			ChargePeriod:              cv.ChargePeriod,
			ChargeVersionChangeReason: cv.ChangeReason,
		}

		if len(el.ReturnLogs) == 0 {
			result := base
			result.ID = b.NewID()
			result.ReviewChargeElementResultID = ptr(elementRow.ID)
			set.Results = append(set.Results, result)
			return
		}

		for _, m := range el.ReturnLogs {
			result := base
			result.ID = b.NewID()
			result.ReviewChargeElementResultID = ptr(elementRow.ID)
			if rowID, ok := returnRows[m.ReturnID]; ok {
				result.ReviewReturnResultID = ptr(rowID)
			}
			set.Results = append(set.Results, result)
		}
	})

	for _, returnLog := range licence.ReturnLogs {
		if returnLog.Matched {
			continue
		}
		set.Results = append(set.Results, ReviewResult{
			ID:                   b.NewID(),
			BillRunID:            billRunID,
			LicenceID:            licence.ID,
			ReviewReturnResultID: ptr(returnRows[returnLog.ID]),
		})
	}
	return set
}

func (b *ReviewBuilder) elementResult(ref *ChargeReference, el *ChargeElement) ReviewChargeElementResult {
	return ReviewChargeElementResult{
		ID:                       b.NewID(),
		ChargeElementID:          el.ID,
		Description:              el.Description,
		AuthorisedAnnualQuantity: el.AuthorisedAnnualQuantity,
		AllocatedQuantity:        el.AllocatedQuantity,
		Aggregate:                ref.Aggregate,
		ChargeDatesOverlap:       el.ChargeDatesOverlap,
		Status:                   el.Status,
		Issues:                   el.Issues,
	}
}

func (b *ReviewBuilder) returnResult(returnLog *ReturnLog) ReviewReturnResult {
	purposes := make([]string, 0, len(returnLog.Purposes))
	for _, p := range returnLog.Purposes {
		purposes = append(purposes, p.Tertiary.Code)
	}
	return ReviewReturnResult{
		ID:                       b.NewID(),
		ReturnID:                 returnLog.ID,
		ReturnReference:          returnLog.ReturnReference,
		Description:              returnLog.Description,
		StartDate:                returnLog.StartDate,
		EndDate:                  returnLog.EndDate,
		ReturnStatus:             returnLog.Status,
		UnderQuery:               returnLog.UnderQuery,
		NilReturn:                returnLog.NilReturn,
		Quantity:                 returnLog.Quantity,
		AllocatedQuantity:        returnLog.AllocatedQuantity,
		AbstractionOutsidePeriod: returnLog.AbstractionOutsidePeriod,
		Purposes:                 purposes,
		Status:                   returnLog.ReviewStatus,
		Issues:                   returnLog.Issues,
	}
}

func ptr(s string) *string { return &s }
