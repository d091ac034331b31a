/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Licence upload validation
- Bill run lifecycle (queue, process, review)
- Error status mapping (400, 404, 409)
- /metrics exposure
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/abstraction-billing/observability"
	"github.com/warp/abstraction-billing/store/sqlite"
	"go.uber.org/zap"
)

const uploadJSON = `[{
  "id": "lic-1",
  "licence_ref": "01/123",
  "start_date": "2010-04-01",
  "charge_versions": [{
    "id": "cv-1",
    "start_date": "2022-04-01",
    "charge_references": [{
      "id": "cr-1",
      "volume": 10,
      "charge_category": {"reference": "4.6.1", "subsistence_charge": 1000},
      "charge_elements": [{
        "id": "ce-1",
        "authorised_annual_quantity": 10,
        "purpose": {"legacy_id": "400"},
        "abstraction_period": {"start_day": 1, "start_month": 4, "end_day": 31, "end_month": 3}
      }]
    }]
  }],
  "return_logs": [{
    "id": "ret-1",
    "status": "completed",
    "start_date": "2022-04-01",
    "end_date": "2023-03-31",
    "abstraction_period": {"start_day": 1, "start_month": 4, "end_day": 31, "end_month": 3},
    "purposes": [{"tertiary": {"code": "400"}}],
    "submission": {"id": "sub-1", "lines": [{"id": "l-1", "start_date": "2022-06-01", "end_date": "2022-06-30", "quantity": 3000}]}
  }]
}]`

type testServer struct {
	handler *Handler
	router  http.Handler
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	h := NewHandler(store, nil, zap.NewNop(), metrics)
	ids := 0
	h.NewID = func() string {
		ids++
		return fmt.Sprintf("br-%d", ids)
	}
	h.Now = func() time.Time { return time.Date(2023, 5, 1, 9, 0, 0, 0, time.UTC) }

	return &testServer{
		handler: h,
		router:  NewRouter(h, RouterConfig{Gatherer: registry, Requests: metrics}),
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBillRunLifecycle(t *testing.T) {
	// GIVEN: A region with one licence uploaded
	// WHEN: A bill run is queued and processed
	// THEN: The run is in review state and the licence review shows the allocation

	s := setupTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/regions/region-1/licences", uploadJSON)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[StoreLicencesResponse](t, rec).Stored)

	rec = s.do(t, http.MethodGet, "/api/regions/region-1/licences", "")
	require.Equal(t, http.StatusOK, rec.Code)
	licences := decode[[]LicenceSummaryDTO](t, rec)
	require.Len(t, licences, 1)
	assert.Equal(t, 1, licences[0].ReturnLogs)

	rec = s.do(t, http.MethodPost, "/api/bill-runs", `{"region_id": "region-1", "financial_year_ending": 2023}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[BillRunDTO](t, rec)
	assert.Equal(t, "br-1", created.ID)
	assert.Equal(t, "queued", created.Status)
	assert.Equal(t, "2022-04-01", created.BillingPeriodStart)
	assert.Nil(t, created.Summary)

	rec = s.do(t, http.MethodPost, "/api/bill-runs/br-1/process", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	processed := decode[BillRunDTO](t, rec)
	assert.Equal(t, "review", processed.Status)
	require.NotNil(t, processed.Summary)
	assert.Equal(t, 1, processed.Summary.Processed)
	assert.Equal(t, 1, processed.Summary.Ready)

	rec = s.do(t, http.MethodGet, "/api/bill-runs/br-1/review", "")
	require.Equal(t, http.StatusOK, rec.Code)
	review := decode[[]ReviewLicenceDTO](t, rec)
	require.Len(t, review, 1)
	assert.Equal(t, "ready", review[0].Status)
	assert.Empty(t, review[0].Issues)

	rec = s.do(t, http.MethodGet, "/api/bill-runs/br-1/review/lic-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[ReviewDTO](t, rec)
	require.Len(t, detail.ChargeElements, 1)
	assert.Equal(t, "3", detail.ChargeElements[0].AllocatedQuantity)
	require.Len(t, detail.Returns, 1)
	assert.Equal(t, "3", detail.Returns[0].Quantity)
	require.Len(t, detail.Transfers, 1)
	assert.Equal(t, "l-1", detail.Transfers[0].SourceID)

	rec = s.do(t, http.MethodGet, "/api/bill-runs?status=review", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]BillRunDTO](t, rec), 1)
}

func TestProcessBillRun_Twice(t *testing.T) {
	s := setupTestServer(t)
	s.do(t, http.MethodPost, "/api/regions/region-1/licences", uploadJSON)
	s.do(t, http.MethodPost, "/api/bill-runs", `{"region_id": "region-1", "financial_year_ending": 2023}`)

	first := s.do(t, http.MethodPost, "/api/bill-runs/br-1/process", "")
	second := s.do(t, http.MethodPost, "/api/bill-runs/br-1/process", "")

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestProcessBillRun_OutlivesClientDisconnect(t *testing.T) {
	// GIVEN: A queued bill run
	// WHEN: The process request arrives with its context already cancelled
	// THEN: The run still completes, and a second request is refused

	s := setupTestServer(t)
	s.do(t, http.MethodPost, "/api/regions/region-1/licences", uploadJSON)
	s.do(t, http.MethodPost, "/api/bill-runs", `{"region_id": "region-1", "financial_year_ending": 2023}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/bill-runs/br-1/process", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "review", decode[BillRunDTO](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/api/bill-runs/br-1/review", "")
	assert.Len(t, decode[[]ReviewLicenceDTO](t, rec), 1)

	rec = s.do(t, http.MethodPost, "/api/bill-runs/br-1/process", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStoreLicences_RejectsInvalidDocuments(t *testing.T) {
	s := setupTestServer(t)
	invalid := strings.Replace(uploadJSON, `"quantity": 3000`, `"quantity": -3000`, 1)

	rec := s.do(t, http.MethodPost, "/api/regions/region-1/licences", invalid)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "return_line.quantity")

	rec = s.do(t, http.MethodGet, "/api/regions/region-1/licences", "")
	assert.Empty(t, decode[[]LicenceSummaryDTO](t, rec))
}

func TestErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "missing bill run", method: http.MethodGet, path: "/api/bill-runs/nope", status: http.StatusNotFound},
		{name: "process missing bill run", method: http.MethodPost, path: "/api/bill-runs/nope/process", status: http.StatusNotFound},
		{name: "review of missing bill run", method: http.MethodGet, path: "/api/bill-runs/nope/review", status: http.StatusNotFound},
		{name: "review of missing licence", method: http.MethodGet, path: "/api/bill-runs/nope/review/lic-1", status: http.StatusNotFound},
		{name: "bill run without region", method: http.MethodPost, path: "/api/bill-runs", body: `{"financial_year_ending": 2023}`, status: http.StatusBadRequest},
		{name: "bill run with bad year", method: http.MethodPost, path: "/api/bill-runs", body: `{"region_id": "r", "financial_year_ending": 23}`, status: http.StatusBadRequest},
		{name: "malformed body", method: http.MethodPost, path: "/api/bill-runs", body: `{`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestServer(t)

			rec := s.do(t, tt.method, tt.path, tt.body)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestServer(t)
	s.do(t, http.MethodPost, "/api/regions/region-1/licences", uploadJSON)
	s.do(t, http.MethodPost, "/api/bill-runs", `{"region_id": "region-1", "financial_year_ending": 2023}`)
	s.do(t, http.MethodPost, "/api/bill-runs/br-1/process", "")

	rec := s.do(t, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `two_part_tariff_licences_processed_total{status="ready"} 1`)
	assert.Contains(t, body, `two_part_tariff_bill_runs_total{status="review"} 1`)
	assert.Contains(t, body, `route="/api/bill-runs/{id}/process"`)
}
