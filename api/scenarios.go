/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built licence sets that populate the store with realistic
	data for demos. Each scenario stores licence documents for one region
	and queues a bill run for the 2022/23 financial year.

AVAILABLE SCENARIOS:

	ready-licence:         Returns fully cover the element, nothing to review
	over-abstraction:      Returns exceed the authorised quantity
	returns-not-received:  A due return stands in for the authorised volume
	split-references:      One return shared by two charge references
	aggregate-query:       Aggregate factor and a return under query
	full-region:           Every licence above in one region

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Validate the licence documents through the factory
 3. Store them for the demo region
 4. Queue a bill run, and process it when asked to

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "split-references", "process": true}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ProcessBillRun
  - factory/licence.go: Licence document schema
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/abstraction-billing/factory"
	"github.com/warp/abstraction-billing/twopart"
)

// DemoRegionID is the region every scenario stores its licences under.
const DemoRegionID = "demo-region"

// DemoFinancialYear is the financial year ending of every queued demo run.
const DemoFinancialYear = 2023

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	licences func() []factory.LicenceDocument
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "ready-licence",
			Name:        "Ready Licence",
			Description: "Summer spray irrigation, monthly returns fully allocated",
		},
		licences: func() []factory.LicenceDocument { return []factory.LicenceDocument{readyLicence()} },
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "over-abstraction",
			Name:        "Over Abstraction",
			Description: "Returns total 30 Ml against 24 Ml authorised",
		},
		licences: func() []factory.LicenceDocument { return []factory.LicenceDocument{overAbstractionLicence()} },
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "returns-not-received",
			Name:        "Returns Not Received",
			Description: "Due return allocated the authorised quantity",
		},
		licences: func() []factory.LicenceDocument { return []factory.LicenceDocument{dueReturnLicence()} },
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "split-references",
			Name:        "Return Split Over References",
			Description: "One return matched under two charge references",
		},
		licences: func() []factory.LicenceDocument { return []factory.LicenceDocument{splitReferencesLicence()} },
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "aggregate-query",
			Name:        "Aggregate and Query",
			Description: "Aggregate factor on the reference and a return under query",
		},
		licences: func() []factory.LicenceDocument { return []factory.LicenceDocument{aggregateQueryLicence()} },
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "full-region",
			Name:        "Full Region",
			Description: "Every demo licence in one bill run",
		},
		licences: func() []factory.LicenceDocument {
			return []factory.LicenceDocument{
				readyLicence(),
				overAbstractionLicence(),
				dueReturnLicence(),
				splitReferencesLicence(),
				aggregateQueryLicence(),
			}
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

func (s scenario) dto() ScenarioDTO {
	dto := s.ScenarioDTO
	dto.Licences = len(s.licences())
	return dto
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.dto()
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.RLock()
	current := h.currentScenario
	h.scenarioMu.RUnlock()

	s, ok := findScenario(current)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, s.dto())
}

// LoadScenario resets the store and loads the requested scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	resp, err := h.loadScenario(context.WithoutCancel(r.Context()), s, req.Process)
	if err != nil {
		writeDomainError(w, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.scenarioMu.Lock()
	h.currentScenario = ""
	h.scenarioMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) loadScenario(ctx context.Context, s scenario, process bool) (*LoadScenarioResponse, error) {
	docs := s.licences()
	for _, doc := range docs {
		if _, err := h.LicenceFactory.FromDocument(doc); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", s.ID, err)
		}
	}

	if err := h.Store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	if err := h.Store.SaveLicenceDocuments(ctx, DemoRegionID, docs); err != nil {
		return nil, fmt.Errorf("store licences: %w", err)
	}

	billRun := twopart.NewBillRun(h.NewID(), DemoRegionID, DemoFinancialYear, h.Now())
	if err := h.Store.SaveBillRun(ctx, billRun); err != nil {
		return nil, fmt.Errorf("queue bill run: %w", err)
	}

	if process {
		processed, err := h.ProcessBillRun(ctx, billRun.ID)
		if err != nil {
			return nil, err
		}
		billRun = processed
	}

	h.scenarioMu.Lock()
	h.currentScenario = s.ID
	h.scenarioMu.Unlock()

	return &LoadScenarioResponse{Scenario: s.dto(), RegionID: DemoRegionID, BillRun: toBillRunDTO(billRun)}, nil
}

// =============================================================================
// DEMO LICENCES
// =============================================================================

func readyLicence() factory.LicenceDocument {
	return demoLicence("lic-ready", "03/28/61/0001",
		[]factory.ChargeReferenceDocument{
			demoReference("cr-ready", 20, 68400, demoElement("ce-ready", 20, "400", summer)),
		},
		demoReturn("ret-ready", "400", "completed", summer, 2000, 2000, 2000, 2000, 2000, 2000, 2000),
	)
}

func overAbstractionLicence() factory.LicenceDocument {
	return demoLicence("lic-over", "03/28/61/0002",
		[]factory.ChargeReferenceDocument{
			demoReference("cr-over", 24, 68400, demoElement("ce-over", 24, "400", allYear)),
		},
		demoReturn("ret-over", "400", "completed", allYear, 5000, 5000, 5000, 5000, 5000, 5000),
	)
}

func dueReturnLicence() factory.LicenceDocument {
	due := demoReturn("ret-due", "420", "due", allYear)
	due.Submission = nil
	return demoLicence("lic-due", "03/28/61/0003",
		[]factory.ChargeReferenceDocument{
			demoReference("cr-due", 15, 31200, demoElement("ce-due", 15, "420", allYear)),
		},
		due,
	)
}

func splitReferencesLicence() factory.LicenceDocument {
	return demoLicence("lic-split", "03/28/61/0004",
		[]factory.ChargeReferenceDocument{
			demoReference("cr-split-a", 6, 68400, demoElement("ce-split-a", 6, "400", allYear)),
			demoReference("cr-split-b", 10, 31200, demoElement("ce-split-b", 10, "400", allYear)),
		},
		demoReturn("ret-split", "400", "completed", allYear, 4000, 4000, 4000),
	)
}

func aggregateQueryLicence() factory.LicenceDocument {
	ref := demoReference("cr-agg", 12, 68400, demoElement("ce-agg", 12, "400", allYear))
	factor := decimal.RequireFromString("0.5")
	ref.Aggregate = &factor

	queried := demoReturn("ret-agg", "400", "completed", allYear, 3000, 3000)
	queried.UnderQuery = true
	return demoLicence("lic-agg", "03/28/61/0005", []factory.ChargeReferenceDocument{ref}, queried)
}

// =============================================================================
// BUILDERS
// =============================================================================

var (
	allYear = factory.AbstractionPeriodDocument{StartDay: 1, StartMonth: 4, EndDay: 31, EndMonth: 3}
	summer  = factory.AbstractionPeriodDocument{StartDay: 1, StartMonth: 4, EndDay: 31, EndMonth: 10}
)

func demoLicence(id, ref string, refs []factory.ChargeReferenceDocument, returns ...factory.ReturnLogDocument) factory.LicenceDocument {
	return factory.LicenceDocument{
		ID:         id,
		LicenceRef: ref,
		StartDate:  "2015-04-01",
		ChargeVersions: []factory.ChargeVersionDocument{{
			ID:               id + "-cv",
			StartDate:        "2022-04-01",
			ChangeReason:     "Strategic review of charges (SRoC)",
			ChargeReferences: refs,
		}},
		ReturnLogs: returns,
	}
}

func demoReference(id string, volume, subsistence int64, elements ...factory.ChargeElementDocument) factory.ChargeReferenceDocument {
	return factory.ChargeReferenceDocument{
		ID:     id,
		Volume: decimal.NewFromInt(volume),
		ChargeCategory: factory.ChargeCategoryDocument{
			Reference:         "4.6.x",
			SubsistenceCharge: subsistence,
		},
		ChargeElements: elements,
	}
}

func demoElement(id string, authorised int64, purpose string, period factory.AbstractionPeriodDocument) factory.ChargeElementDocument {
	return factory.ChargeElementDocument{
		ID:                       id,
		AuthorisedAnnualQuantity: decimal.NewFromInt(authorised),
		Purpose:                  factory.PurposeDocument{LegacyID: purpose},
		AbstractionPeriod:        period,
	}
}

// demoReturn builds a 2022/23 return with one line per month from April,
// quantities in cubic metres.
func demoReturn(id, purpose, status string, period factory.AbstractionPeriodDocument, monthly ...int64) factory.ReturnLogDocument {
	lines := make([]factory.LineDocument, len(monthly))
	for i, m3 := range monthly {
		start := time.Date(2022, time.April+time.Month(i), 1, 0, 0, 0, 0, time.UTC)
		lines[i] = factory.LineDocument{
			ID:        fmt.Sprintf("%s-l%d", id, i+1),
			StartDate: start.Format("2006-01-02"),
			EndDate:   start.AddDate(0, 1, -1).Format("2006-01-02"),
			Quantity:  decimal.NewFromInt(m3),
		}
	}

	return factory.ReturnLogDocument{
		ID:                id,
		StartDate:         "2022-04-01",
		EndDate:           "2023-03-31",
		DueDate:           "2023-04-28",
		Status:            status,
		AbstractionPeriod: period,
		Purposes:          []factory.ReturnPurposeDocument{{Tertiary: factory.PurposeCodeDocument{Code: purpose}}},
		Submission:        &factory.SubmissionDocument{ID: id + "-sub", Lines: lines},
	}
}
