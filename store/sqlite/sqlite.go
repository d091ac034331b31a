/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Stores licence documents for the fetch side of a bill run and the review
  results for the persist side. In production, the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  twopart.LicenceFetcher:   Licences for a region and billing period
  twopart.ResultPersister:  Review rows and allocation transfers per licence
  twopart.BillRunRecorder:  Bill run status changes
  twopart.ResultClearer:    Drops a cancelled bill run's partial results

REPLACE, NOT APPEND:
  Processing a licence again replaces what was stored for that bill run
  and licence. The review_licences row is deleted (cascading to its
  results, element rows, return rows and transfers) and written again in
  one transaction. A half-written licence is never visible.

KEY TABLES:
  bill_runs:                      Region, billing period, status
  licence_documents:              Licence JSON as supplied upstream
  review_licences:                One per licence per bill run
  review_charge_element_results:  Element allocation outcome
  review_return_results:          Return allocation outcome
  review_results:                 Links element and return rows with charge context
  allocation_transfers:           Ledger of every volume movement

VOLUMES:
  Stored as decimal strings in megalitres. Never REAL.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  orchestrator := twopart.NewOrchestrator(store, store, twopart.WithRecorder(store))

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - twopart/orchestrator.go: The collaborators this store implements
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/abstraction-billing/factory"
	"github.com/warp/abstraction-billing/generic"
	"github.com/warp/abstraction-billing/twopart"
	"go.uber.org/zap"
)

// Store implements the bill run storage interfaces using SQLite.
type Store struct {
	db       *sql.DB
	mu       sync.RWMutex
	licences *factory.LicenceFactory
	logger   *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used to report stored licence documents that
// no longer build a licence graph.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each :memory: connection is its own database
	db.SetMaxOpenConns(1)

	store := &Store{db: db, licences: factory.NewLicenceFactory(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Bill runs
	CREATE TABLE IF NOT EXISTS bill_runs (
		id TEXT PRIMARY KEY,
		region_id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		status TEXT NOT NULL,
		summary_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bill_runs_status
		ON bill_runs(status, created_at);

	-- Licence documents (fetch side)
	CREATE TABLE IF NOT EXISTS licence_documents (
		id TEXT PRIMARY KEY,
		region_id TEXT NOT NULL,
		licence_ref TEXT NOT NULL,
		document_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_licence_documents_region
		ON licence_documents(region_id, licence_ref);

	-- Review licences (persist side)
	CREATE TABLE IF NOT EXISTS review_licences (
		id TEXT PRIMARY KEY,
		bill_run_id TEXT NOT NULL REFERENCES bill_runs(id) ON DELETE CASCADE,
		licence_id TEXT NOT NULL,
		licence_ref TEXT NOT NULL,
		status TEXT NOT NULL,
		issues_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(bill_run_id, licence_id)
	);

	CREATE TABLE IF NOT EXISTS review_charge_element_results (
		id TEXT PRIMARY KEY,
		review_licence_id TEXT NOT NULL REFERENCES review_licences(id) ON DELETE CASCADE,
		charge_element_id TEXT NOT NULL,
		description TEXT,
		authorised_annual_quantity TEXT NOT NULL,
		allocated_quantity TEXT NOT NULL,
		aggregate TEXT,
		charge_dates_overlap BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL,
		issues_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS review_return_results (
		id TEXT PRIMARY KEY,
		review_licence_id TEXT NOT NULL REFERENCES review_licences(id) ON DELETE CASCADE,
		return_id TEXT NOT NULL,
		return_reference TEXT,
		description TEXT,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		return_status TEXT NOT NULL,
		under_query BOOLEAN NOT NULL DEFAULT FALSE,
		nil_return BOOLEAN NOT NULL DEFAULT FALSE,
		quantity TEXT NOT NULL,
		allocated_quantity TEXT NOT NULL,
		abstraction_outside_period BOOLEAN NOT NULL DEFAULT FALSE,
		purposes_json TEXT NOT NULL,
		status TEXT NOT NULL,
		issues_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS review_results (
		id TEXT PRIMARY KEY,
		review_licence_id TEXT NOT NULL REFERENCES review_licences(id) ON DELETE CASCADE,
		bill_run_id TEXT NOT NULL,
		licence_id TEXT NOT NULL,
		charge_version_id TEXT,
		charge_reference_id TEXT,
		charge_period_start TEXT,
		charge_period_end TEXT,
		charge_version_change_reason TEXT,
		review_charge_element_result_id TEXT,
		review_return_result_id TEXT,
		position INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_review_results_licence
		ON review_results(review_licence_id, position);

	-- Allocation transfers (append-only within a review)
	CREATE TABLE IF NOT EXISTS allocation_transfers (
		review_licence_id TEXT NOT NULL REFERENCES review_licences(id) ON DELETE CASCADE,
		sequence INTEGER NOT NULL,
		kind TEXT NOT NULL,
		source_id TEXT NOT NULL,
		carrier_id TEXT,
		target_id TEXT NOT NULL,
		pool_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		PRIMARY KEY (review_licence_id, sequence)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BILL RUNS
// =============================================================================

// SaveBillRun inserts or updates a bill run.
func (s *Store) SaveBillRun(ctx context.Context, billRun *twopart.BillRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaryJSON, err := json.Marshal(summaryRecord{
		Licences:   billRun.Summary.Licences,
		Processed:  billRun.Summary.Processed,
		Failed:     billRun.Summary.Failed,
		Ready:      billRun.Summary.Ready,
		Review:     billRun.Summary.Review,
		DurationMS: billRun.Summary.Duration.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	query := `
		INSERT INTO bill_runs (id, region_id, period_start, period_end, status, summary_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			summary_json = excluded.summary_json,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		billRun.ID,
		billRun.RegionID,
		billRun.BillingPeriod.Start.String(),
		billRun.BillingPeriod.End.String(),
		string(billRun.Status),
		string(summaryJSON),
		billRun.CreatedAt.UTC().Format(time.RFC3339),
		billRun.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save bill run: %w", err)
	}
	return nil
}

// GetBillRun retrieves a bill run by ID.
func (s *Store) GetBillRun(ctx context.Context, id string) (*twopart.BillRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, region_id, period_start, period_end, status, summary_json, created_at, updated_at
		FROM bill_runs WHERE id = ?
	`, id)

	billRun, err := scanBillRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bill run %s: %w", id, generic.ErrBillRunNotFound)
	}
	return billRun, err
}

// ListBillRuns returns bill runs oldest first, optionally filtered by status.
func (s *Store) ListBillRuns(ctx context.Context, status twopart.BillRunStatus) ([]*twopart.BillRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, region_id, period_start, period_end, status, summary_json, created_at, updated_at
		FROM bill_runs
	`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bill runs: %w", err)
	}
	defer rows.Close()

	var billRuns []*twopart.BillRun
	for rows.Next() {
		billRun, err := scanBillRun(rows)
		if err != nil {
			return nil, err
		}
		billRuns = append(billRuns, billRun)
	}
	return billRuns, rows.Err()
}

type summaryRecord struct {
	Licences   int   `json:"licences"`
	Processed  int   `json:"processed"`
	Failed     int   `json:"failed"`
	Ready      int   `json:"ready"`
	Review     int   `json:"review"`
	DurationMS int64 `json:"duration_ms"`
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBillRun(row scanner) (*twopart.BillRun, error) {
	var (
		b                    twopart.BillRun
		start, end, status   string
		summaryJSON          sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&b.ID, &b.RegionID, &start, &end, &status, &summaryJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	b.Status = twopart.BillRunStatus(status)
	b.BillingPeriod = generic.Period{Start: parseDate(start), End: parseDate(end)}
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	if summaryJSON.Valid && summaryJSON.String != "" {
		var rec summaryRecord
		if err := json.Unmarshal([]byte(summaryJSON.String), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode summary for bill run %s: %w", b.ID, err)
		}
		b.Summary = twopart.RunSummary{
			Licences:  rec.Licences,
			Processed: rec.Processed,
			Failed:    rec.Failed,
			Ready:     rec.Ready,
			Review:    rec.Review,
			Duration:  time.Duration(rec.DurationMS) * time.Millisecond,
		}
	}
	return &b, nil
}

// =============================================================================
// LICENCE DOCUMENTS (fetch side)
// =============================================================================

// SaveLicenceDocuments stores documents for a region, replacing any with the
// same licence id.
func (s *Store) SaveLicenceDocuments(ctx context.Context, regionID string, docs []factory.LicenceDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	query := `
		INSERT INTO licence_documents (id, region_id, licence_ref, document_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			region_id = excluded.region_id,
			licence_ref = excluded.licence_ref,
			document_json = excluded.document_json,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC().Format(time.RFC3339)
	for _, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal licence %s: %w", doc.ID, err)
		}
		if _, err := sqlTx.ExecContext(ctx, query, doc.ID, regionID, doc.LicenceRef, string(data), now, now); err != nil {
			return fmt.Errorf("failed to save licence %s: %w", doc.ID, err)
		}
	}

	return sqlTx.Commit()
}

// ListLicenceDocuments returns a region's documents ordered by licence ref.
func (s *Store) ListLicenceDocuments(ctx context.Context, regionID string) ([]factory.LicenceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT document_json FROM licence_documents
		WHERE region_id = ?
		ORDER BY licence_ref ASC, id ASC
	`, regionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query licence documents: %w", err)
	}
	defer rows.Close()

	var docs []factory.LicenceDocument
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var doc factory.LicenceDocument
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return nil, fmt.Errorf("failed to decode licence document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// FetchLicences builds a fresh licence graph for every stored licence of
// the region that is in force during the billing period. Documents that
// fail to build are logged and left out so one bad licence cannot stall
// the region.
func (s *Store) FetchLicences(ctx context.Context, regionID string, billingPeriod generic.Period) ([]*twopart.Licence, error) {
	docs, err := s.ListLicenceDocuments(ctx, regionID)
	if err != nil {
		return nil, err
	}

	var licences []*twopart.Licence
	for _, doc := range docs {
		licence, err := s.licences.FromDocument(doc)
		if err != nil {
			s.logger.Warn("skipping invalid licence document",
				zap.String("region_id", regionID),
				zap.String("licence_id", doc.ID),
				zap.String("licence_ref", doc.LicenceRef),
				zap.Error(err),
			)
			continue
		}
		if licence.ActiveIn(billingPeriod) {
			licences = append(licences, licence)
		}
	}
	return licences, nil
}

// =============================================================================
// REVIEW RESULTS (persist side)
// =============================================================================

// PersistReview replaces the stored review for the set's bill run and
// licence in a single transaction.
func (s *Store) PersistReview(ctx context.Context, set *twopart.ReviewSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	lic := set.Licence
	if _, err := sqlTx.ExecContext(ctx,
		"DELETE FROM review_licences WHERE bill_run_id = ? AND licence_id = ?",
		lic.BillRunID, lic.LicenceID,
	); err != nil {
		return fmt.Errorf("failed to clear review for licence %s: %w", lic.LicenceID, err)
	}

	if _, err := sqlTx.ExecContext(ctx, `
		INSERT INTO review_licences (id, bill_run_id, licence_id, licence_ref, status, issues_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, lic.ID, lic.BillRunID, lic.LicenceID, lic.LicenceRef, string(lic.Status),
		issuesJSON(lic.Issues), time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to insert review licence %s: %w", lic.LicenceID, err)
	}

	for _, el := range set.ElementResults {
		if err := insertElementResult(ctx, sqlTx, lic.ID, el); err != nil {
			return err
		}
	}
	for _, ret := range set.ReturnResults {
		if err := insertReturnResult(ctx, sqlTx, lic.ID, ret); err != nil {
			return err
		}
	}
	for i, result := range set.Results {
		if err := insertResult(ctx, sqlTx, lic.ID, i, result); err != nil {
			return err
		}
	}
	for _, t := range set.Transfers {
		if err := appendTransfer(ctx, sqlTx, lic.ID, t); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertElementResult(ctx context.Context, db execer, reviewLicenceID string, el twopart.ReviewChargeElementResult) error {
	var aggregate sql.NullString
	if el.Aggregate != nil {
		aggregate = sql.NullString{String: el.Aggregate.String(), Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO review_charge_element_results
		(id, review_licence_id, charge_element_id, description, authorised_annual_quantity,
		 allocated_quantity, aggregate, charge_dates_overlap, status, issues_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		el.ID,
		reviewLicenceID,
		el.ChargeElementID,
		el.Description,
		el.AuthorisedAnnualQuantity.ToMegalitres().String(),
		el.AllocatedQuantity.ToMegalitres().String(),
		aggregate,
		el.ChargeDatesOverlap,
		string(el.Status),
		issuesJSON(el.Issues),
	)
	if err != nil {
		return fmt.Errorf("failed to insert element result %s: %w", el.ChargeElementID, err)
	}
	return nil
}

func insertReturnResult(ctx context.Context, db execer, reviewLicenceID string, ret twopart.ReviewReturnResult) error {
	purposes, err := json.Marshal(ret.Purposes)
	if err != nil {
		return fmt.Errorf("failed to marshal purposes: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO review_return_results
		(id, review_licence_id, return_id, return_reference, description, start_date, end_date,
		 return_status, under_query, nil_return, quantity, allocated_quantity,
		 abstraction_outside_period, purposes_json, status, issues_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ret.ID,
		reviewLicenceID,
		ret.ReturnID,
		ret.ReturnReference,
		ret.Description,
		ret.StartDate.String(),
		ret.EndDate.String(),
		string(ret.ReturnStatus),
		ret.UnderQuery,
		ret.NilReturn,
		ret.Quantity.ToMegalitres().String(),
		ret.AllocatedQuantity.ToMegalitres().String(),
		ret.AbstractionOutsidePeriod,
		string(purposes),
		string(ret.Status),
		issuesJSON(ret.Issues),
	)
	if err != nil {
		return fmt.Errorf("failed to insert return result %s: %w", ret.ReturnID, err)
	}
	return nil
}

func insertResult(ctx context.Context, db execer, reviewLicenceID string, position int, r twopart.ReviewResult) error {
	var start, end sql.NullString
	if r.ChargePeriod != nil {
		start = nullString(r.ChargePeriod.Start.String())
		end = nullString(r.ChargePeriod.End.String())
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO review_results
		(id, review_licence_id, bill_run_id, licence_id, charge_version_id, charge_reference_id,
		 charge_period_start, charge_period_end, charge_version_change_reason,
		 review_charge_element_result_id, review_return_result_id, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		reviewLicenceID,
		r.BillRunID,
		r.LicenceID,
		nullString(r.ChargeVersionID),
		nullString(r.ChargeReferenceID),
		start,
		end,
		nullString(r.ChargeVersionChangeReason),
		nullStringPtr(r.ReviewChargeElementResultID),
		nullStringPtr(r.ReviewReturnResultID),
		position,
	)
	if err != nil {
		return fmt.Errorf("failed to insert review result: %w", err)
	}
	return nil
}

func appendTransfer(ctx context.Context, db execer, reviewLicenceID string, t generic.Transfer) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO allocation_transfers
		(review_licence_id, sequence, kind, source_id, carrier_id, target_id, pool_id, amount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		reviewLicenceID,
		t.Sequence,
		string(t.Kind),
		t.SourceID,
		nullString(t.CarrierID),
		t.TargetID,
		t.PoolID,
		t.Amount.ToMegalitres().String(),
	)
	if err != nil {
		return fmt.Errorf("failed to append transfer %d: %w", t.Sequence, err)
	}
	return nil
}

// ClearReview deletes every review row stored for the bill run.
func (s *Store) ClearReview(ctx context.Context, billRunID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM review_licences WHERE bill_run_id = ?", billRunID); err != nil {
		return fmt.Errorf("failed to clear review for bill run %s: %w", billRunID, err)
	}
	return nil
}

// ListReviewLicences returns the review licences of a bill run ordered by
// licence ref.
func (s *Store) ListReviewLicences(ctx context.Context, billRunID string) ([]twopart.ReviewLicence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bill_run_id, licence_id, licence_ref, status, issues_json
		FROM review_licences
		WHERE bill_run_id = ?
		ORDER BY licence_ref ASC
	`, billRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to query review licences: %w", err)
	}
	defer rows.Close()

	var licences []twopart.ReviewLicence
	for rows.Next() {
		lic, err := scanReviewLicence(rows)
		if err != nil {
			return nil, err
		}
		licences = append(licences, lic)
	}
	return licences, rows.Err()
}

// GetReview loads everything stored for one licence in a bill run.
func (s *Store) GetReview(ctx context.Context, billRunID, licenceID string) (*twopart.ReviewSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lic, err := scanReviewLicence(s.db.QueryRowContext(ctx, `
		SELECT id, bill_run_id, licence_id, licence_ref, status, issues_json
		FROM review_licences
		WHERE bill_run_id = ? AND licence_id = ?
	`, billRunID, licenceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("licence %s in bill run %s: %w", licenceID, billRunID, generic.ErrLicenceNotFound)
	}
	if err != nil {
		return nil, err
	}

	set := &twopart.ReviewSet{Licence: lic}
	if set.ElementResults, err = s.elementResults(ctx, lic.ID); err != nil {
		return nil, err
	}
	if set.ReturnResults, err = s.returnResults(ctx, lic.ID); err != nil {
		return nil, err
	}
	if set.Results, err = s.results(ctx, lic.ID); err != nil {
		return nil, err
	}
	if set.Transfers, err = s.transfers(ctx, lic.ID); err != nil {
		return nil, err
	}
	return set, nil
}

func scanReviewLicence(row scanner) (twopart.ReviewLicence, error) {
	var (
		lic            twopart.ReviewLicence
		status, issues string
	)
	if err := row.Scan(&lic.ID, &lic.BillRunID, &lic.LicenceID, &lic.LicenceRef, &status, &issues); err != nil {
		return twopart.ReviewLicence{}, err
	}
	lic.Status = twopart.ReviewStatus(status)
	lic.Issues = parseIssues(issues)
	return lic, nil
}

func (s *Store) elementResults(ctx context.Context, reviewLicenceID string) ([]twopart.ReviewChargeElementResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, charge_element_id, description, authorised_annual_quantity, allocated_quantity,
		       aggregate, charge_dates_overlap, status, issues_json
		FROM review_charge_element_results
		WHERE review_licence_id = ?
		ORDER BY rowid ASC
	`, reviewLicenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query element results: %w", err)
	}
	defer rows.Close()

	var results []twopart.ReviewChargeElementResult
	for rows.Next() {
		var (
			r                      twopart.ReviewChargeElementResult
			description, aggregate sql.NullString
			authorised, allocated  string
			status, issues         string
		)
		if err := rows.Scan(&r.ID, &r.ChargeElementID, &description, &authorised, &allocated,
			&aggregate, &r.ChargeDatesOverlap, &status, &issues); err != nil {
			return nil, err
		}
		r.Description = description.String
		r.AuthorisedAnnualQuantity = parseAmount(authorised)
		r.AllocatedQuantity = parseAmount(allocated)
		if aggregate.Valid {
			d := generic.MustParseDecimal(aggregate.String)
			r.Aggregate = &d
		}
		r.Status = twopart.ReviewStatus(status)
		r.Issues = parseIssues(issues)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) returnResults(ctx context.Context, reviewLicenceID string) ([]twopart.ReviewReturnResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, return_id, return_reference, description, start_date, end_date, return_status,
		       under_query, nil_return, quantity, allocated_quantity, abstraction_outside_period,
		       purposes_json, status, issues_json
		FROM review_return_results
		WHERE review_licence_id = ?
		ORDER BY rowid ASC
	`, reviewLicenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query return results: %w", err)
	}
	defer rows.Close()

	var results []twopart.ReviewReturnResult
	for rows.Next() {
		var (
			r                        twopart.ReviewReturnResult
			reference, description   sql.NullString
			start, end, returnStatus string
			quantity, allocated      string
			purposes, status, issues string
		)
		if err := rows.Scan(&r.ID, &r.ReturnID, &reference, &description, &start, &end, &returnStatus,
			&r.UnderQuery, &r.NilReturn, &quantity, &allocated, &r.AbstractionOutsidePeriod,
			&purposes, &status, &issues); err != nil {
			return nil, err
		}
		r.ReturnReference = reference.String
		r.Description = description.String
		r.StartDate = parseDate(start)
		r.EndDate = parseDate(end)
		r.ReturnStatus = twopart.ReturnStatus(returnStatus)
		r.Quantity = parseAmount(quantity)
		r.AllocatedQuantity = parseAmount(allocated)
		if err := json.Unmarshal([]byte(purposes), &r.Purposes); err != nil {
			return nil, fmt.Errorf("failed to decode purposes: %w", err)
		}
		r.Status = twopart.ReviewStatus(status)
		r.Issues = parseIssues(issues)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) results(ctx context.Context, reviewLicenceID string) ([]twopart.ReviewResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bill_run_id, licence_id, charge_version_id, charge_reference_id,
		       charge_period_start, charge_period_end, charge_version_change_reason,
		       review_charge_element_result_id, review_return_result_id
		FROM review_results
		WHERE review_licence_id = ?
		ORDER BY position ASC
	`, reviewLicenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query review results: %w", err)
	}
	defer rows.Close()

	var results []twopart.ReviewResult
	for rows.Next() {
		var (
			r                      twopart.ReviewResult
			versionID, referenceID sql.NullString
			start, end, reason     sql.NullString
			elementID, returnID    sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.BillRunID, &r.LicenceID, &versionID, &referenceID,
			&start, &end, &reason, &elementID, &returnID); err != nil {
			return nil, err
		}
		r.ChargeVersionID = versionID.String
		r.ChargeReferenceID = referenceID.String
		r.ChargeVersionChangeReason = reason.String
		if start.Valid && end.Valid {
			r.ChargePeriod = &generic.Period{Start: parseDate(start.String), End: parseDate(end.String)}
		}
		r.ReviewChargeElementResultID = stringPtr(elementID)
		r.ReviewReturnResultID = stringPtr(returnID)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) transfers(ctx context.Context, reviewLicenceID string) ([]generic.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, kind, source_id, carrier_id, target_id, pool_id, amount
		FROM allocation_transfers
		WHERE review_licence_id = ?
		ORDER BY sequence ASC
	`, reviewLicenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var transfers []generic.Transfer
	for rows.Next() {
		var (
			t            generic.Transfer
			kind, amount string
			carrier      sql.NullString
		)
		if err := rows.Scan(&t.Sequence, &kind, &t.SourceID, &carrier, &t.TargetID, &t.PoolID, &amount); err != nil {
			return nil, err
		}
		t.Kind = generic.TransferKind(kind)
		t.CarrierID = carrier.String
		t.Amount = parseAmount(amount)
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"allocation_transfers", "review_results", "review_return_results",
		"review_charge_element_results", "review_licences", "bill_runs", "licence_documents",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullString(*s)
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func parseAmount(value string) generic.Amount {
	return generic.NewAmountFromDecimal(generic.MustParseDecimal(value), generic.UnitMegalitres)
}

func parseDate(value string) generic.TimePoint {
	tp, _ := generic.ParseTimePoint(value)
	return tp
}

func issuesJSON(issues []twopart.Issue) string {
	if len(issues) == 0 {
		return "[]"
	}
	names := make([]string, len(issues))
	for i, issue := range issues {
		names[i] = string(issue)
	}
	data, _ := json.Marshal(names)
	return string(data)
}

func parseIssues(data string) []twopart.Issue {
	var names []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &names); err != nil {
		return nil
	}
	issues := make([]twopart.Issue, len(names))
	for i, name := range names {
		issues[i] = twopart.Issue(name)
	}
	return issues
}
