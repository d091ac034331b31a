package twopart

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/abstraction-billing/generic"
	"go.uber.org/zap"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// LicenceFetcher supplies the licences to bill for a region and period.
type LicenceFetcher interface {
	FetchLicences(ctx context.Context, regionID string, billingPeriod generic.Period) ([]*Licence, error)
}

// ResultPersister stores one licence's review rows. Each call replaces
// whatever was stored before for that bill run and licence.
type ResultPersister interface {
	PersistReview(ctx context.Context, set *ReviewSet) error
}

// ResultClearer is implemented by persisters that can drop every review row
// stored for a bill run. A cancelled run uses it so no partial results are
// left behind.
type ResultClearer interface {
	ClearReview(ctx context.Context, billRunID string) error
}

// BillRunRecorder saves bill run status changes.
type BillRunRecorder interface {
	SaveBillRun(ctx context.Context, billRun *BillRun) error
}

// Observer receives engine events for metrics.
type Observer interface {
	LicenceProcessed(licence *Licence, elapsed time.Duration)
	LicenceFailed(stage string)
	BillRunFinished(status BillRunStatus, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) LicenceProcessed(*Licence, time.Duration)     {}
func (nopObserver) LicenceFailed(string)                         {}
func (nopObserver) BillRunFinished(BillRunStatus, time.Duration) {}

// =============================================================================
// ORCHESTRATOR - Drives a bill run licence by licence
// =============================================================================

// Orchestrator runs match and allocate for every licence of a bill run.
//
// Licences are processed one after another, each fully persisted before the
// next starts. A licence that fails validation, allocation or persistence is
// logged and counted and the run carries on.
type Orchestrator struct {
	fetcher   LicenceFetcher
	persister ResultPersister
	recorder  BillRunRecorder
	engine    *Engine
	review    *ReviewBuilder
	logger    *zap.Logger
	observer  Observer
	now       func() time.Time
}

type Option func(*Orchestrator)

func WithEngine(engine *Engine) Option          { return func(o *Orchestrator) { o.engine = engine } }
func WithReviewBuilder(b *ReviewBuilder) Option { return func(o *Orchestrator) { o.review = b } }
func WithLogger(logger *zap.Logger) Option      { return func(o *Orchestrator) { o.logger = logger } }
func WithObserver(observer Observer) Option     { return func(o *Orchestrator) { o.observer = observer } }
func WithRecorder(r BillRunRecorder) Option     { return func(o *Orchestrator) { o.recorder = r } }
func WithClock(now func() time.Time) Option     { return func(o *Orchestrator) { o.now = now } }

func NewOrchestrator(fetcher LicenceFetcher, persister ResultPersister, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fetcher:   fetcher,
		persister: persister,
		engine:    NewEngine(DefaultPolicy()),
		review:    NewReviewBuilder(),
		logger:    zap.NewNop(),
		observer:  nopObserver{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes a queued bill run and returns its summary. The bill run is
// moved through processing to its final status.
//
// An error is returned only when the run as a whole cannot proceed: the bill
// run is not queued, the licences cannot be fetched, or ctx is cancelled.
// Per-licence failures are reported in the summary.
//
// Cancellation puts the bill run back in the queue with its partial results
// cleared, so it can be processed again from the start.
func (o *Orchestrator) Run(ctx context.Context, billRun *BillRun) (RunSummary, error) {
	started := o.now()
	if err := billRun.Start(started); err != nil {
		return RunSummary{}, err
	}
	o.record(ctx, billRun)

	logger := o.logger.With(
		zap.String("bill_run_id", billRun.ID),
		zap.String("region_id", billRun.RegionID),
		zap.String("billing_period", billRun.BillingPeriod.String()),
	)

	licences, err := o.fetcher.FetchLicences(ctx, billRun.RegionID, billRun.BillingPeriod)
	if ctxErr := ctx.Err(); ctxErr != nil {
		o.requeue(ctx, billRun, logger, 0, ctxErr)
		return RunSummary{}, ctxErr
	}
	if err != nil {
		o.fail(ctx, billRun, started)
		logger.Error("fetch licences failed", zap.Error(err))
		return RunSummary{}, fmt.Errorf("fetch licences for bill run %s: %w", billRun.ID, err)
	}

	summary := RunSummary{Licences: len(licences)}
	for _, licence := range licences {
		if err := ctx.Err(); err != nil {
			o.requeue(ctx, billRun, logger, summary.Processed, err)
			return summary, err
		}

		status, err := o.processLicence(ctx, billRun, licence, logger)
		if ctxErr := ctx.Err(); err != nil && ctxErr != nil {
			o.requeue(ctx, billRun, logger, summary.Processed, ctxErr)
			return summary, ctxErr
		}
		if err != nil {
			summary.Failed++
			continue
		}
		summary.Processed++
		if status == StatusReview {
			summary.Review++
		} else {
			summary.Ready++
		}
	}

	summary.Duration = o.now().Sub(started)
	billRun.Finish(summary, o.now())
	o.record(ctx, billRun)
	o.observer.BillRunFinished(billRun.Status, summary.Duration)

	logger.Info("bill run processed",
		zap.String("status", string(billRun.Status)),
		zap.Int("licences", summary.Licences),
		zap.Int("failed", summary.Failed),
		zap.Int("ready", summary.Ready),
		zap.Int("review", summary.Review),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (o *Orchestrator) processLicence(ctx context.Context, billRun *BillRun, licence *Licence, logger *zap.Logger) (ReviewStatus, error) {
	started := o.now()
	logger = logger.With(zap.String("licence_id", licence.ID), zap.String("licence_ref", licence.LicenceRef))

	ledger, err := o.engine.Process(licence, billRun.BillingPeriod)
	if err != nil {
		o.observer.LicenceFailed("allocate")
		logger.Error("match and allocate failed", zap.Error(err))
		return "", err
	}

	set := o.review.Build(billRun.ID, licence, ledger.Transfers())
	if err := o.persister.PersistReview(ctx, set); err != nil {
		o.observer.LicenceFailed("persist")
		logger.Error("persist review failed", zap.Error(err))
		return "", err
	}

	elapsed := o.now().Sub(started)
	o.observer.LicenceProcessed(licence, elapsed)
	logger.Debug("licence processed",
		zap.String("status", string(licence.Status)),
		zap.Int("issues", len(licence.Issues)),
		zap.Duration("duration", elapsed),
	)
	return licence.Status, nil
}

func (o *Orchestrator) fail(ctx context.Context, billRun *BillRun, started time.Time) {
	billRun.Fail(o.now())
	o.record(ctx, billRun)
	o.observer.BillRunFinished(billRun.Status, o.now().Sub(started))
}

// requeue returns a cancelled bill run to the queue. ctx is already done, so
// clearing and recording run on a context that keeps its values only.
func (o *Orchestrator) requeue(ctx context.Context, billRun *BillRun, logger *zap.Logger, processed int, cause error) {
	ctx = context.WithoutCancel(ctx)

	if clearer, ok := o.persister.(ResultClearer); ok {
		if err := clearer.ClearReview(ctx, billRun.ID); err != nil {
			logger.Error("clear partial review failed", zap.Error(err))
		}
	}
	billRun.Requeue(o.now())
	o.record(ctx, billRun)

	logger.Warn("bill run cancelled and requeued", zap.Int("processed", processed), zap.Error(cause))
}

func (o *Orchestrator) record(ctx context.Context, billRun *BillRun) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.SaveBillRun(ctx, billRun); err != nil {
		o.logger.Error("save bill run failed", zap.String("bill_run_id", billRun.ID), zap.Error(err))
	}
}
