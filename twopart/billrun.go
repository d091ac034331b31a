package twopart

import (
	"fmt"
	"time"

	"github.com/warp/abstraction-billing/generic"
)

// =============================================================================
// BILL RUN - One region, one billing period
// =============================================================================

type BillRunStatus string

const (
	BillRunQueued     BillRunStatus = "queued"
	BillRunProcessing BillRunStatus = "processing"
	BillRunReview     BillRunStatus = "review" // licences ready for review
	BillRunEmpty      BillRunStatus = "empty"  // nothing to bill
	BillRunError      BillRunStatus = "error"
)

type BillRun struct {
	ID            string
	RegionID      string
	BillingPeriod generic.Period
	Status        BillRunStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Summary       RunSummary
}

// NewBillRun queues a bill run for a region's financial year.
func NewBillRun(id, regionID string, financialYearEnding int, now time.Time) *BillRun {
	return &BillRun{
		ID:            id,
		RegionID:      regionID,
		BillingPeriod: generic.FinancialYear(financialYearEnding),
		Status:        BillRunQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Start moves a queued bill run to processing.
func (b *BillRun) Start(now time.Time) error {
	if b.Status != BillRunQueued {
		return fmt.Errorf("start bill run %s in status %s: %w", b.ID, b.Status, generic.ErrBillRunNotQueued)
	}
	b.Status = BillRunProcessing
	b.UpdatedAt = now
	return nil
}

// Finish records the summary and the status it implies.
func (b *BillRun) Finish(summary RunSummary, now time.Time) {
	b.Summary = summary
	b.Status = summary.Status()
	b.UpdatedAt = now
}

// Requeue returns a processing bill run to the queue and forgets its
// summary.
func (b *BillRun) Requeue(now time.Time) {
	b.Status = BillRunQueued
	b.Summary = RunSummary{}
	b.UpdatedAt = now
}

// Fail marks the bill run as errored.
func (b *BillRun) Fail(now time.Time) {
	b.Status = BillRunError
	b.UpdatedAt = now
}

// RunSummary counts what happened to each licence in a bill run.
type RunSummary struct {
	Licences  int
	Processed int
	Failed    int
	Ready     int
	Review    int
	Duration  time.Duration
}

// Status derives the bill run outcome: empty when there was nothing to
// process, error when every licence failed, review otherwise.
func (s RunSummary) Status() BillRunStatus {
	switch {
	case s.Licences == 0:
		return BillRunEmpty
	case s.Processed == 0:
		return BillRunError
	default:
		return BillRunReview
	}
}
