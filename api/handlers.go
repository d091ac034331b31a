/*
handlers.go - HTTP API handlers for the two-part tariff engine

PURPOSE:
  Operates the match and allocate engine over HTTP: load licence documents,
  queue and process bill runs, read back review results. This is not a
  presenter layer; responses mirror the stored rows.

ENDPOINTS:
  Health:
    GET    /api/health                               Store reachable

  Licences:
    POST   /api/regions/{regionId}/licences          Store licence documents
    GET    /api/regions/{regionId}/licences          List stored licences

  Bill runs:
    POST   /api/bill-runs                            Queue a bill run
    GET    /api/bill-runs                            List (?status=queued)
    GET    /api/bill-runs/{id}                       Bill run with summary
    POST   /api/bill-runs/{id}/process               Match and allocate now

  Review:
    GET    /api/bill-runs/{id}/review                Review licences
    GET    /api/bill-runs/{id}/review/{licenceId}    Result rows for a licence

  Scenarios:
    GET    /api/scenarios                            List demo scenarios
    POST   /api/scenarios/load                       Load a demo scenario

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Licence documents, bill runs, review results
  - Engine: Match and allocate with the configured policy
  - Logger/Metrics: Handed to every orchestrator it builds

  One bill run is processed at a time. The scheduler and the process
  endpoint share the same lock.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Bill run or licence not found
  - 409: Bill run not queued
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/warp/abstraction-billing/factory"
	"github.com/warp/abstraction-billing/generic"
	"github.com/warp/abstraction-billing/twopart"
	"go.uber.org/zap"
)

// Store is what the API needs from persistence. Both store/sqlite and
// store/memory satisfy it.
type Store interface {
	twopart.LicenceFetcher
	twopart.ResultPersister
	twopart.BillRunRecorder

	Ping(ctx context.Context) error
	GetBillRun(ctx context.Context, id string) (*twopart.BillRun, error)
	ListBillRuns(ctx context.Context, status twopart.BillRunStatus) ([]*twopart.BillRun, error)
	SaveLicenceDocuments(ctx context.Context, regionID string, docs []factory.LicenceDocument) error
	ListLicenceDocuments(ctx context.Context, regionID string) ([]factory.LicenceDocument, error)
	ListReviewLicences(ctx context.Context, billRunID string) ([]twopart.ReviewLicence, error)
	GetReview(ctx context.Context, billRunID, licenceID string) (*twopart.ReviewSet, error)
	Reset(ctx context.Context) error
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store          Store
	LicenceFactory *factory.LicenceFactory
	Engine         *twopart.Engine
	Logger         *zap.Logger
	Observer       twopart.Observer
	Now            func() time.Time
	NewID          func() string

	runMu sync.Mutex

	// Track currently loaded scenario
	scenarioMu      sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler with the given store.
func NewHandler(store Store, engine *twopart.Engine, logger *zap.Logger, observer twopart.Observer) *Handler {
	if engine == nil {
		engine = twopart.NewEngine(twopart.DefaultPolicy())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:          store,
		LicenceFactory: factory.NewLicenceFactory(),
		Engine:         engine,
		Logger:         logger,
		Observer:       observer,
		Now:            time.Now,
		NewID:          uuid.NewString,
	}
}

// ProcessBillRun runs match and allocate for a queued bill run. It reloads
// the bill run under the processing lock so a run is never processed twice.
// Cancelling ctx mid-run puts the bill run back in the queue.
func (h *Handler) ProcessBillRun(ctx context.Context, billRunID string) (*twopart.BillRun, error) {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	billRun, err := h.Store.GetBillRun(ctx, billRunID)
	if err != nil {
		return nil, err
	}

	opts := []twopart.Option{
		twopart.WithEngine(h.Engine),
		twopart.WithRecorder(h.Store),
		twopart.WithLogger(h.Logger),
		twopart.WithClock(h.Now),
	}
	if h.Observer != nil {
		opts = append(opts, twopart.WithObserver(h.Observer))
	}
	orchestrator := twopart.NewOrchestrator(h.Store, h.Store, opts...)

	if _, err := orchestrator.Run(ctx, billRun); err != nil {
		return billRun, err
	}
	return billRun, nil
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// LICENCE HANDLERS
// =============================================================================

// StoreLicences validates and stores a JSON array of licence documents.
// Nothing is stored if any document is rejected.
func (h *Handler) StoreLicences(w http.ResponseWriter, r *http.Request) {
	regionID := chi.URLParam(r, "regionId")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}

	docs, _, err := h.LicenceFactory.ParseLicences(body)
	if err != nil {
		writeDomainError(w, "Invalid licence documents", err)
		return
	}

	if err := h.Store.SaveLicenceDocuments(r.Context(), regionID, docs); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store licences", err)
		return
	}

	writeJSON(w, http.StatusCreated, StoreLicencesResponse{RegionID: regionID, Stored: len(docs)})
}

func (h *Handler) ListLicences(w http.ResponseWriter, r *http.Request) {
	docs, err := h.Store.ListLicenceDocuments(r.Context(), chi.URLParam(r, "regionId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list licences", err)
		return
	}

	dtos := make([]LicenceSummaryDTO, len(docs))
	for i, doc := range docs {
		dtos[i] = LicenceSummaryDTO{
			ID:             doc.ID,
			LicenceRef:     doc.LicenceRef,
			StartDate:      doc.StartDate,
			ChargeVersions: len(doc.ChargeVersions),
			ReturnLogs:     len(doc.ReturnLogs),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BILL RUN HANDLERS
// =============================================================================

func (h *Handler) CreateBillRun(w http.ResponseWriter, r *http.Request) {
	var req CreateBillRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.RegionID == "" {
		writeDomainError(w, "Invalid bill run", &generic.ValidationError{Field: "region_id", Reason: "required"})
		return
	}
	if req.FinancialYearEnding < 2000 || req.FinancialYearEnding > 2100 {
		writeDomainError(w, "Invalid bill run", &generic.ValidationError{
			Field:  "financial_year_ending",
			Reason: fmt.Sprintf("%d out of range", req.FinancialYearEnding),
		})
		return
	}

	billRun := twopart.NewBillRun(h.NewID(), req.RegionID, req.FinancialYearEnding, h.Now())
	if err := h.Store.SaveBillRun(r.Context(), billRun); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create bill run", err)
		return
	}

	writeJSON(w, http.StatusCreated, toBillRunDTO(billRun))
}

func (h *Handler) ListBillRuns(w http.ResponseWriter, r *http.Request) {
	status := twopart.BillRunStatus(r.URL.Query().Get("status"))
	billRuns, err := h.Store.ListBillRuns(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list bill runs", err)
		return
	}

	dtos := make([]BillRunDTO, len(billRuns))
	for i, b := range billRuns {
		dtos[i] = toBillRunDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetBillRun(w http.ResponseWriter, r *http.Request) {
	billRun, err := h.Store.GetBillRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get bill run", err)
		return
	}
	writeJSON(w, http.StatusOK, toBillRunDTO(billRun))
}

// ProcessBillRunHandler runs a queued bill run synchronously. The run
// outlives the request: a client that disconnects does not cancel it.
func (h *Handler) ProcessBillRunHandler(w http.ResponseWriter, r *http.Request) {
	billRun, err := h.ProcessBillRun(context.WithoutCancel(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to process bill run", err)
		return
	}
	writeJSON(w, http.StatusOK, toBillRunDTO(billRun))
}

// =============================================================================
// REVIEW HANDLERS
// =============================================================================

func (h *Handler) ListReview(w http.ResponseWriter, r *http.Request) {
	billRunID := chi.URLParam(r, "id")
	if _, err := h.Store.GetBillRun(r.Context(), billRunID); err != nil {
		writeDomainError(w, "Failed to get bill run", err)
		return
	}

	licences, err := h.Store.ListReviewLicences(r.Context(), billRunID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list review licences", err)
		return
	}

	dtos := make([]ReviewLicenceDTO, len(licences))
	for i, l := range licences {
		dtos[i] = toReviewLicenceDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetReview(w http.ResponseWriter, r *http.Request) {
	set, err := h.Store.GetReview(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "licenceId"))
	if err != nil {
		writeDomainError(w, "Failed to get review", err)
		return
	}
	writeJSON(w, http.StatusOK, toReviewDTO(set))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError picks the status from the error's sentinel.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case generic.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func strPtr(s string) *string {
	return &s
}
