package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/abstraction-billing/factory"
	"github.com/warp/abstraction-billing/generic"
	"github.com/warp/abstraction-billing/store/memory"
	"github.com/warp/abstraction-billing/twopart"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var _ twopart.ResultClearer = (*memory.Store)(nil)

const licenceJSON = `{
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
}`

func seeded(t *testing.T) (*memory.Store, *twopart.BillRun) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	docs, _, err := factory.NewLicenceFactory().ParseLicences([]byte("[" + licenceJSON + "]"))
	require.NoError(t, err)
	require.NoError(t, store.SaveLicenceDocuments(ctx, "region-1", docs))

	billRun := twopart.NewBillRun("br-1", "region-1", 2023, time.Date(2023, 5, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, store.SaveBillRun(ctx, billRun))
	return store, billRun
}

func TestMemory_BillRunLifecycle(t *testing.T) {
	// GIVEN: A stored licence and a queued bill run
	// WHEN: The bill run is processed against the memory store
	// THEN: The review and the finished status can be read back

	store, billRun := seeded(t)
	ctx := context.Background()

	o := twopart.NewOrchestrator(store, store, twopart.WithRecorder(store))
	_, err := o.Run(ctx, billRun)
	require.NoError(t, err)

	stored, err := store.GetBillRun(ctx, "br-1")
	require.NoError(t, err)
	assert.Equal(t, twopart.BillRunReview, stored.Status)

	review, err := store.GetReview(ctx, "br-1", "lic-1")
	require.NoError(t, err)
	require.Len(t, review.ElementResults, 1)
	assert.True(t, review.ElementResults[0].AllocatedQuantity.Equal(generic.Megalitres(3)))
	assert.Equal(t, twopart.StatusReady, review.Licence.Status)

	licences, err := store.ListReviewLicences(ctx, "br-1")
	require.NoError(t, err)
	assert.Len(t, licences, 1)
}

func TestMemory_GetBillRunReturnsCopy(t *testing.T) {
	store, billRun := seeded(t)

	billRun.Status = twopart.BillRunError
	stored, err := store.GetBillRun(context.Background(), "br-1")

	require.NoError(t, err)
	assert.Equal(t, twopart.BillRunQueued, stored.Status)
}

func TestMemory_PersistRequiresBillRun(t *testing.T) {
	store := memory.New()
	set := &twopart.ReviewSet{Licence: twopart.ReviewLicence{BillRunID: "missing", LicenceID: "lic-1"}}

	err := store.PersistReview(context.Background(), set)

	assert.ErrorIs(t, err, generic.ErrBillRunNotFound)
}

func TestMemory_NotFound(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	_, err := store.GetBillRun(ctx, "br-1")
	assert.ErrorIs(t, err, generic.ErrBillRunNotFound)

	_, err = store.GetReview(ctx, "br-1", "lic-1")
	assert.ErrorIs(t, err, generic.ErrLicenceNotFound)
}

func TestMemory_FetchFiltersByRegionAndPeriod(t *testing.T) {
	store, _ := seeded(t)
	ctx := context.Background()

	licences, err := store.FetchLicences(ctx, "region-1", generic.FinancialYear(2023))
	require.NoError(t, err)
	assert.Len(t, licences, 1)

	licences, err = store.FetchLicences(ctx, "region-1", generic.FinancialYear(2009))
	require.NoError(t, err)
	assert.Empty(t, licences, "licence starts after the 2009 billing period")

	licences, err = store.FetchLicences(ctx, "region-2", generic.FinancialYear(2023))
	require.NoError(t, err)
	assert.Empty(t, licences)
}

func TestMemory_FetchSkipsInvalidDocument(t *testing.T) {
	// GIVEN: A region holding one valid document and one with a malformed start date
	// WHEN: The licences are fetched
	// THEN: Only the valid licence comes back and the bad one is logged

	core, logs := observer.New(zap.WarnLevel)
	store := memory.New(memory.WithLogger(zap.New(core)))
	ctx := context.Background()

	docs, _, err := factory.NewLicenceFactory().ParseLicences([]byte("[" + licenceJSON + "]"))
	require.NoError(t, err)
	docs = append(docs, factory.LicenceDocument{ID: "lic-bad", LicenceRef: "00/000", StartDate: "not-a-date"})
	require.NoError(t, store.SaveLicenceDocuments(ctx, "region-1", docs))

	licences, err := store.FetchLicences(ctx, "region-1", generic.FinancialYear(2023))

	require.NoError(t, err)
	require.Len(t, licences, 1)
	assert.Equal(t, "lic-1", licences[0].ID)
	entries := logs.FilterMessage("skipping invalid licence document").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "lic-bad", entries[0].ContextMap()["licence_id"])
}

func TestMemory_ClearReview(t *testing.T) {
	store, billRun := seeded(t)
	ctx := context.Background()
	o := twopart.NewOrchestrator(store, store, twopart.WithRecorder(store))
	_, err := o.Run(ctx, billRun)
	require.NoError(t, err)

	require.NoError(t, store.ClearReview(ctx, "br-1"))

	licences, err := store.ListReviewLicences(ctx, "br-1")
	require.NoError(t, err)
	assert.Empty(t, licences)
	_, err = store.GetReview(ctx, "br-1", "lic-1")
	assert.ErrorIs(t, err, generic.ErrLicenceNotFound)
}

func TestMemory_Reset(t *testing.T) {
	store, _ := seeded(t)
	ctx := context.Background()

	require.NoError(t, store.Reset(ctx))

	runs, err := store.ListBillRuns(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, runs)
}
