/*
Package factory provides JSON to Go licence conversion.

PURPOSE:
  Converts licence documents, the shape the fetch services hand over, into
  the twopart.Licence graph the engine works on. Every date, rule and
  quantity is checked here so the engine can assume well-formed input.

JSON SCHEMA:
  {
    "id": "lic-1",
    "licence_ref": "01/123",
    "start_date": "2010-04-01",
    "revoked_date": null,
    "charge_versions": [
      {
        "id": "cv-1",
        "start_date": "2022-04-01",
        "change_reason": "Strategic review of charges (SRoC)",
        "charge_references": [
          {
            "id": "cr-1",
            "volume": 32,
            "aggregate": 1.25,
            "charge_category": {"reference": "4.6.12", "subsistence_charge": 68400},
            "charge_elements": [
              {
                "id": "ce-1",
                "authorised_annual_quantity": 32,
                "purpose": {"legacy_id": "400"},
                "abstraction_period": {"start_day": 1, "start_month": 4, "end_day": 31, "end_month": 3}
              }
            ]
          }
        ]
      }
    ],
    "return_logs": [
      {
        "id": "v1:1:01/123:1001:2022-04-01:2023-03-31",
        "status": "completed",
        "start_date": "2022-04-01",
        "end_date": "2023-03-31",
        "due_date": "2023-04-28",
        "abstraction_period": {"start_day": 1, "start_month": 4, "end_day": 31, "end_month": 3},
        "purposes": [{"tertiary": {"code": "400"}}],
        "submission": {
          "id": "sub-1",
          "nil_return": false,
          "lines": [{"id": "l-1", "start_date": "2022-04-01", "end_date": "2022-04-30", "quantity": 4000}]
        }
      }
    ]
  }

UNITS:
  Charge volumes and authorised quantities are megalitres. Line quantities
  are cubic metres as submitted.

USAGE:
  f := factory.NewLicenceFactory()
  licence, err := f.ParseLicence(jsonString)
  if errors.Is(err, generic.ErrInvalidInput) {
      // reject the document
  }

SEE ALSO:
  - twopart/types.go: The licence graph
  - store/sqlite/sqlite.go: Stores documents and fetches licences through this factory
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/abstraction-billing/generic"
	"github.com/warp/abstraction-billing/twopart"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// LicenceDocument is the JSON representation of a licence.
type LicenceDocument struct {
	ID             string                  `json:"id"`
	LicenceRef     string                  `json:"licence_ref"`
	StartDate      string                  `json:"start_date"`
	ExpiredDate    *string                 `json:"expired_date,omitempty"`
	LapsedDate     *string                 `json:"lapsed_date,omitempty"`
	RevokedDate    *string                 `json:"revoked_date,omitempty"`
	ChargeVersions []ChargeVersionDocument `json:"charge_versions"`
	ReturnLogs     []ReturnLogDocument     `json:"return_logs"`
}

type ChargeVersionDocument struct {
	ID               string                    `json:"id"`
	StartDate        string                    `json:"start_date"`
	EndDate          *string                   `json:"end_date,omitempty"`
	ChangeReason     string                    `json:"change_reason,omitempty"`
	ChargeReferences []ChargeReferenceDocument `json:"charge_references"`
}

type ChargeReferenceDocument struct {
	ID             string                  `json:"id"`
	Description    string                  `json:"description,omitempty"`
	Volume         decimal.Decimal         `json:"volume"`
	Aggregate      *decimal.Decimal        `json:"aggregate,omitempty"`
	ChargeCategory ChargeCategoryDocument  `json:"charge_category"`
	ChargeElements []ChargeElementDocument `json:"charge_elements"`
}

type ChargeCategoryDocument struct {
	Reference         string `json:"reference"`
	ShortDescription  string `json:"short_description,omitempty"`
	SubsistenceCharge int64  `json:"subsistence_charge"` // pence
}

type ChargeElementDocument struct {
	ID                       string                    `json:"id"`
	Description              string                    `json:"description,omitempty"`
	AuthorisedAnnualQuantity decimal.Decimal           `json:"authorised_annual_quantity"`
	Purpose                  PurposeDocument           `json:"purpose"`
	AbstractionPeriod        AbstractionPeriodDocument `json:"abstraction_period"`
}

type PurposeDocument struct {
	LegacyID    string `json:"legacy_id"`
	Description string `json:"description,omitempty"`
}

type AbstractionPeriodDocument struct {
	StartDay   int `json:"start_day"`
	StartMonth int `json:"start_month"`
	EndDay     int `json:"end_day"`
	EndMonth   int `json:"end_month"`
}

type ReturnLogDocument struct {
	ID                string                    `json:"id"`
	ReturnReference   string                    `json:"return_reference,omitempty"`
	Description       string                    `json:"description,omitempty"`
	StartDate         string                    `json:"start_date"`
	EndDate           string                    `json:"end_date"`
	DueDate           string                    `json:"due_date,omitempty"`
	ReceivedDate      *string                   `json:"received_date,omitempty"`
	Status            string                    `json:"status"`
	UnderQuery        bool                      `json:"under_query,omitempty"`
	AbstractionPeriod AbstractionPeriodDocument `json:"abstraction_period"`
	Purposes          []ReturnPurposeDocument   `json:"purposes"`
	ReviewReturnID    string                    `json:"review_return_id,omitempty"`
	Submission        *SubmissionDocument       `json:"submission,omitempty"`
}

type ReturnPurposeDocument struct {
	Tertiary PurposeCodeDocument `json:"tertiary"`
}

type PurposeCodeDocument struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

type SubmissionDocument struct {
	ID        string         `json:"id"`
	NilReturn bool           `json:"nil_return"`
	Lines     []LineDocument `json:"lines"`
}

type LineDocument struct {
	ID        string          `json:"id"`
	StartDate string          `json:"start_date"`
	EndDate   string          `json:"end_date"`
	Quantity  decimal.Decimal `json:"quantity"` // cubic metres
}

// =============================================================================
// LICENCE FACTORY
// =============================================================================

// LicenceFactory converts licence documents to the engine's licence graph.
type LicenceFactory struct{}

func NewLicenceFactory() *LicenceFactory {
	return &LicenceFactory{}
}

// ParseLicence parses a JSON string into a validated Licence.
func (f *LicenceFactory) ParseLicence(jsonStr string) (*twopart.Licence, error) {
	var doc LicenceDocument
	if err := json.Unmarshal([]byte(jsonStr), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse licence JSON: %w: %v", generic.ErrInvalidInput, err)
	}
	return f.FromDocument(doc)
}

// ParseLicences parses a JSON array of licence documents. The documents
// are returned alongside the licences so callers can store them verbatim.
func (f *LicenceFactory) ParseLicences(data []byte) ([]LicenceDocument, []*twopart.Licence, error) {
	var docs []LicenceDocument
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, nil, fmt.Errorf("failed to parse licences JSON: %w: %v", generic.ErrInvalidInput, err)
	}

	licences := make([]*twopart.Licence, 0, len(docs))
	for i, doc := range docs {
		licence, err := f.FromDocument(doc)
		if err != nil {
			return nil, nil, fmt.Errorf("licence %d: %w", i, err)
		}
		licences = append(licences, licence)
	}
	return docs, licences, nil
}

// FromDocument converts a decoded document into a validated Licence.
func (f *LicenceFactory) FromDocument(doc LicenceDocument) (*twopart.Licence, error) {
	p := &parser{}

	licence := &twopart.Licence{
		ID:          doc.ID,
		LicenceRef:  doc.LicenceRef,
		StartDate:   p.date("licence.start_date", doc.StartDate),
		ExpiredDate: p.optionalDate("licence.expired_date", doc.ExpiredDate),
		LapsedDate:  p.optionalDate("licence.lapsed_date", doc.LapsedDate),
		RevokedDate: p.optionalDate("licence.revoked_date", doc.RevokedDate),
	}

	for _, cv := range doc.ChargeVersions {
		licence.ChargeVersions = append(licence.ChargeVersions, p.chargeVersion(cv))
	}
	for _, rl := range doc.ReturnLogs {
		licence.ReturnLogs = append(licence.ReturnLogs, p.returnLog(rl))
	}

	if p.err != nil {
		return nil, fmt.Errorf("licence %s: %w", doc.LicenceRef, p.err)
	}
	if err := licence.Validate(); err != nil {
		return nil, err
	}
	return licence, nil
}

// =============================================================================
// PARSER - Collects the first validation error
// =============================================================================

type parser struct {
	err error
}

func (p *parser) fail(field, reason string) {
	if p.err == nil {
		p.err = &generic.ValidationError{Field: field, Reason: reason}
	}
}

func (p *parser) date(field, value string) generic.TimePoint {
	if value == "" {
		p.fail(field, "required")
		return generic.TimePoint{}
	}
	tp, err := generic.ParseTimePoint(value)
	if err != nil {
		p.fail(field, fmt.Sprintf("malformed date %q", value))
	}
	return tp
}

func (p *parser) optionalDate(field string, value *string) *generic.TimePoint {
	if value == nil || *value == "" {
		return nil
	}
	tp := p.date(field, *value)
	return &tp
}

func (p *parser) quantity(field string, value decimal.Decimal, unit generic.Unit) generic.Amount {
	if value.IsNegative() {
		p.fail(field, "must not be negative")
	}
	return generic.NewAmountFromDecimal(value, unit)
}

func (p *parser) rule(field string, doc AbstractionPeriodDocument) generic.AbstractionRule {
	rule := generic.AbstractionRule{
		StartDay:   doc.StartDay,
		StartMonth: doc.StartMonth,
		EndDay:     doc.EndDay,
		EndMonth:   doc.EndMonth,
	}
	if err := rule.Validate(); err != nil {
		p.fail(field, err.Error())
	}
	return rule
}

func (p *parser) chargeVersion(doc ChargeVersionDocument) *twopart.ChargeVersion {
	cv := &twopart.ChargeVersion{
		ID:           doc.ID,
		StartDate:    p.date("charge_version.start_date", doc.StartDate),
		EndDate:      p.optionalDate("charge_version.end_date", doc.EndDate),
		ChangeReason: doc.ChangeReason,
	}
	for _, ref := range doc.ChargeReferences {
		cv.ChargeReferences = append(cv.ChargeReferences, p.chargeReference(ref))
	}
	return cv
}

func (p *parser) chargeReference(doc ChargeReferenceDocument) *twopart.ChargeReference {
	ref := &twopart.ChargeReference{
		ID:          doc.ID,
		Description: doc.Description,
		Volume:      p.quantity("charge_reference.volume", doc.Volume, generic.UnitMegalitres),
		Aggregate:   doc.Aggregate,
		ChargeCategory: twopart.ChargeCategory{
			Reference:         doc.ChargeCategory.Reference,
			ShortDescription:  doc.ChargeCategory.ShortDescription,
			SubsistenceCharge: doc.ChargeCategory.SubsistenceCharge,
		},
	}
	if doc.Aggregate != nil && !doc.Aggregate.IsPositive() {
		p.fail("charge_reference.aggregate", "must be positive")
	}
	for _, el := range doc.ChargeElements {
		ref.ChargeElements = append(ref.ChargeElements, &twopart.ChargeElement{
			ID:                       el.ID,
			Description:              el.Description,
			AuthorisedAnnualQuantity: p.quantity("charge_element.authorised_annual_quantity", el.AuthorisedAnnualQuantity, generic.UnitMegalitres),
			Purpose:                  twopart.ElementPurpose{LegacyID: el.Purpose.LegacyID, Description: el.Purpose.Description},
			AbstractionRule:          p.rule("charge_element.abstraction_period", el.AbstractionPeriod),
		})
	}
	return ref
}

func (p *parser) returnLog(doc ReturnLogDocument) *twopart.ReturnLog {
	status := twopart.ReturnStatus(doc.Status)
	if !status.Valid() {
		p.fail("return_log.status", fmt.Sprintf("unknown status %q", doc.Status))
	}

	rl := &twopart.ReturnLog{
		ID:              doc.ID,
		ReturnReference: doc.ReturnReference,
		Description:     doc.Description,
		StartDate:       p.date("return_log.start_date", doc.StartDate),
		EndDate:         p.date("return_log.end_date", doc.EndDate),
		ReceivedDate:    p.optionalDate("return_log.received_date", doc.ReceivedDate),
		Status:          status,
		UnderQuery:      doc.UnderQuery,
		AbstractionRule: p.rule("return_log.abstraction_period", doc.AbstractionPeriod),
		ReviewReturnID:  doc.ReviewReturnID,
	}
	if doc.DueDate != "" {
		rl.DueDate = p.date("return_log.due_date", doc.DueDate)
	}
	for _, purpose := range doc.Purposes {
		rl.Purposes = append(rl.Purposes, twopart.ReturnPurpose{
			Tertiary: twopart.PurposeCode{Code: purpose.Tertiary.Code, Description: purpose.Tertiary.Description},
		})
	}

	if doc.Submission != nil {
		sub := &twopart.ReturnSubmission{ID: doc.Submission.ID, NilReturn: doc.Submission.NilReturn}
		seen := make(map[string]bool, len(doc.Submission.Lines))
		for _, line := range doc.Submission.Lines {
			// Transfers are keyed by line id
			switch {
			case line.ID == "":
				p.fail("return_line.id", "required")
			case seen[line.ID]:
				p.fail("return_line.id", fmt.Sprintf("duplicate %q", line.ID))
			}
			seen[line.ID] = true
			sub.Lines = append(sub.Lines, &twopart.ReturnLine{
				ID:        line.ID,
				StartDate: p.date("return_line.start_date", line.StartDate),
				EndDate:   p.date("return_line.end_date", line.EndDate),
				Quantity:  p.quantity("return_line.quantity", line.Quantity, generic.UnitCubicMetres),
			})
		}
		rl.Submission = sub
	}
	return rl
}
