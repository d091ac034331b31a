/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Bill runs:
    BillRunDTO, RunSummaryDTO, CreateBillRunRequest

  Licences:
    LicenceSummaryDTO

  Review:
    ReviewLicenceDTO, ReviewDTO, ElementResultDTO, ReturnResultDTO,
    ResultDTO, TransferDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VOLUMES:
  Megalitres as decimal strings ("12.5"). Never floats.

SEE ALSO:
  - handlers.go: Uses these types
  - twopart/review.go: The rows these mirror
*/
package api

import (
	"time"

	"github.com/warp/abstraction-billing/generic"
	"github.com/warp/abstraction-billing/twopart"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// CreateBillRunRequest queues a two-part tariff bill run.
type CreateBillRunRequest struct {
	RegionID            string `json:"region_id"`
	FinancialYearEnding int    `json:"financial_year_ending"`
}

type BillRunDTO struct {
	ID                 string         `json:"id"`
	RegionID           string         `json:"region_id"`
	BillingPeriodStart string         `json:"billing_period_start"`
	BillingPeriodEnd   string         `json:"billing_period_end"`
	Status             string         `json:"status"`
	Summary            *RunSummaryDTO `json:"summary,omitempty"`
	CreatedAt          string         `json:"created_at"`
	UpdatedAt          string         `json:"updated_at"`
}

type RunSummaryDTO struct {
	Licences   int   `json:"licences"`
	Processed  int   `json:"processed"`
	Failed     int   `json:"failed"`
	Ready      int   `json:"ready"`
	Review     int   `json:"review"`
	DurationMS int64 `json:"duration_ms"`
}

// LicenceSummaryDTO lists a stored licence document without its graph.
type LicenceSummaryDTO struct {
	ID             string `json:"id"`
	LicenceRef     string `json:"licence_ref"`
	StartDate      string `json:"start_date"`
	ChargeVersions int    `json:"charge_versions"`
	ReturnLogs     int    `json:"return_logs"`
}

type StoreLicencesResponse struct {
	RegionID string `json:"region_id"`
	Stored   int    `json:"stored"`
}

type ReviewLicenceDTO struct {
	ID         string   `json:"id"`
	LicenceID  string   `json:"licence_id"`
	LicenceRef string   `json:"licence_ref"`
	Status     string   `json:"status"`
	Issues     []string `json:"issues"`
}

// ReviewDTO is everything stored for one licence in a bill run.
type ReviewDTO struct {
	Licence        ReviewLicenceDTO   `json:"licence"`
	ChargeElements []ElementResultDTO `json:"charge_elements"`
	Returns        []ReturnResultDTO  `json:"returns"`
	Results        []ResultDTO        `json:"results"`
	Transfers      []TransferDTO      `json:"transfers"`
}

type ElementResultDTO struct {
	ID                       string   `json:"id"`
	ChargeElementID          string   `json:"charge_element_id"`
	Description              string   `json:"description,omitempty"`
	AuthorisedAnnualQuantity string   `json:"authorised_annual_quantity"`
	AllocatedQuantity        string   `json:"allocated_quantity"`
	Aggregate                *string  `json:"aggregate,omitempty"`
	ChargeDatesOverlap       bool     `json:"charge_dates_overlap"`
	Status                   string   `json:"status"`
	Issues                   []string `json:"issues"`
}

type ReturnResultDTO struct {
	ID                       string   `json:"id"`
	ReturnID                 string   `json:"return_id"`
	ReturnReference          string   `json:"return_reference,omitempty"`
	Description              string   `json:"description,omitempty"`
	StartDate                string   `json:"start_date"`
	EndDate                  string   `json:"end_date"`
	ReturnStatus             string   `json:"return_status"`
	UnderQuery               bool     `json:"under_query"`
	NilReturn                bool     `json:"nil_return"`
	Quantity                 string   `json:"quantity"`
	AllocatedQuantity        string   `json:"allocated_quantity"`
	AbstractionOutsidePeriod bool     `json:"abstraction_outside_period"`
	Purposes                 []string `json:"purposes"`
	Status                   string   `json:"status"`
	Issues                   []string `json:"issues"`
}

type ResultDTO struct {
	ID                          string  `json:"id"`
	ChargeVersionID             string  `json:"charge_version_id,omitempty"`
	ChargeReferenceID           string  `json:"charge_reference_id,omitempty"`
	ChargePeriodStart           string  `json:"charge_period_start,omitempty"`
	ChargePeriodEnd             string  `json:"charge_period_end,omitempty"`
	ChargeVersionChangeReason   string  `json:"charge_version_change_reason,omitempty"`
	ReviewChargeElementResultID *string `json:"review_charge_element_result_id"`
	ReviewReturnResultID        *string `json:"review_return_result_id"`
}

type TransferDTO struct {
	Sequence  int    `json:"sequence"`
	Kind      string `json:"kind"`
	SourceID  string `json:"source_id"`
	CarrierID string `json:"carrier_id,omitempty"`
	TargetID  string `json:"target_id"`
	PoolID    string `json:"pool_id"`
	Amount    string `json:"amount"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Licences    int    `json:"licences"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
	Process    bool   `json:"process"` // run the queued bill run straight away
}

// LoadScenarioResponse names what a loaded scenario created.
type LoadScenarioResponse struct {
	Scenario ScenarioDTO `json:"scenario"`
	RegionID string      `json:"region_id"`
	BillRun  BillRunDTO  `json:"bill_run"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toBillRunDTO(b *twopart.BillRun) BillRunDTO {
	dto := BillRunDTO{
		ID:                 b.ID,
		RegionID:           b.RegionID,
		BillingPeriodStart: b.BillingPeriod.Start.String(),
		BillingPeriodEnd:   b.BillingPeriod.End.String(),
		Status:             string(b.Status),
		CreatedAt:          b.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          b.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if b.Summary.Licences > 0 || b.Status != twopart.BillRunQueued {
		dto.Summary = &RunSummaryDTO{
			Licences:   b.Summary.Licences,
			Processed:  b.Summary.Processed,
			Failed:     b.Summary.Failed,
			Ready:      b.Summary.Ready,
			Review:     b.Summary.Review,
			DurationMS: b.Summary.Duration.Milliseconds(),
		}
	}
	return dto
}

func toReviewLicenceDTO(l twopart.ReviewLicence) ReviewLicenceDTO {
	return ReviewLicenceDTO{
		ID:         l.ID,
		LicenceID:  l.LicenceID,
		LicenceRef: l.LicenceRef,
		Status:     string(l.Status),
		Issues:     issueNames(l.Issues),
	}
}

func toReviewDTO(set *twopart.ReviewSet) ReviewDTO {
	dto := ReviewDTO{
		Licence:        toReviewLicenceDTO(set.Licence),
		ChargeElements: make([]ElementResultDTO, 0, len(set.ElementResults)),
		Returns:        make([]ReturnResultDTO, 0, len(set.ReturnResults)),
		Results:        make([]ResultDTO, 0, len(set.Results)),
		Transfers:      make([]TransferDTO, 0, len(set.Transfers)),
	}

	for _, el := range set.ElementResults {
		row := ElementResultDTO{
			ID:                       el.ID,
			ChargeElementID:          el.ChargeElementID,
			Description:              el.Description,
			AuthorisedAnnualQuantity: ml(el.AuthorisedAnnualQuantity),
			AllocatedQuantity:        ml(el.AllocatedQuantity),
			ChargeDatesOverlap:       el.ChargeDatesOverlap,
			Status:                   string(el.Status),
			Issues:                   issueNames(el.Issues),
		}
		if el.Aggregate != nil {
			row.Aggregate = strPtr(el.Aggregate.String())
		}
		dto.ChargeElements = append(dto.ChargeElements, row)
	}

	for _, ret := range set.ReturnResults {
		dto.Returns = append(dto.Returns, ReturnResultDTO{
			ID:                       ret.ID,
			ReturnID:                 ret.ReturnID,
			ReturnReference:          ret.ReturnReference,
			Description:              ret.Description,
			StartDate:                ret.StartDate.String(),
			EndDate:                  ret.EndDate.String(),
			ReturnStatus:             string(ret.ReturnStatus),
			UnderQuery:               ret.UnderQuery,
			NilReturn:                ret.NilReturn,
			Quantity:                 ml(ret.Quantity),
			AllocatedQuantity:        ml(ret.AllocatedQuantity),
			AbstractionOutsidePeriod: ret.AbstractionOutsidePeriod,
			Purposes:                 ret.Purposes,
			Status:                   string(ret.Status),
			Issues:                   issueNames(ret.Issues),
		})
	}

	for _, r := range set.Results {
		row := ResultDTO{
			ID:                          r.ID,
			ChargeVersionID:             r.ChargeVersionID,
			ChargeReferenceID:           r.ChargeReferenceID,
			ChargeVersionChangeReason:   r.ChargeVersionChangeReason,
			ReviewChargeElementResultID: r.ReviewChargeElementResultID,
			ReviewReturnResultID:        r.ReviewReturnResultID,
		}
		if r.ChargePeriod != nil {
			row.ChargePeriodStart = r.ChargePeriod.Start.String()
			row.ChargePeriodEnd = r.ChargePeriod.End.String()
		}
		dto.Results = append(dto.Results, row)
	}

	for _, t := range set.Transfers {
		dto.Transfers = append(dto.Transfers, TransferDTO{
			Sequence:  t.Sequence,
			Kind:      string(t.Kind),
			SourceID:  t.SourceID,
			CarrierID: t.CarrierID,
			TargetID:  t.TargetID,
			PoolID:    t.PoolID,
			Amount:    ml(t.Amount),
		})
	}
	return dto
}

func ml(a generic.Amount) string {
	return a.ToMegalitres().String()
}

func issueNames(issues []twopart.Issue) []string {
	names := make([]string, len(issues))
	for i, issue := range issues {
		names[i] = string(issue)
	}
	return names
}
