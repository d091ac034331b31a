// Package memory provides an in-memory bill run store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/abstraction-billing/factory"
	"github.com/warp/abstraction-billing/generic"
	"github.com/warp/abstraction-billing/twopart"
	"go.uber.org/zap"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Store struct {
	mu        sync.RWMutex
	billRuns  map[string]twopart.BillRun
	documents map[string]map[string]factory.LicenceDocument // region -> licence id
	reviews   map[key]*twopart.ReviewSet
	licences  *factory.LicenceFactory
	logger    *zap.Logger
}

type key struct {
	BillRunID string
	LicenceID string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger reports stored documents that no longer build a licence.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func New(opts ...Option) *Store {
	s := &Store{
		billRuns:  make(map[string]twopart.BillRun),
		documents: make(map[string]map[string]factory.LicenceDocument),
		reviews:   make(map[key]*twopart.ReviewSet),
		licences:  factory.NewLicenceFactory(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

// SaveBillRun stores a copy of the bill run, replacing any with the same id.
func (s *Store) SaveBillRun(_ context.Context, billRun *twopart.BillRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.billRuns[billRun.ID] = *billRun
	return nil
}

func (s *Store) GetBillRun(_ context.Context, id string) (*twopart.BillRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	billRun, ok := s.billRuns[id]
	if !ok {
		return nil, fmt.Errorf("bill run %s: %w", id, generic.ErrBillRunNotFound)
	}
	return &billRun, nil
}

// ListBillRuns returns bill runs oldest first, optionally filtered by status.
func (s *Store) ListBillRuns(_ context.Context, status twopart.BillRunStatus) ([]*twopart.BillRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*twopart.BillRun
	for _, billRun := range s.billRuns {
		if status != "" && billRun.Status != status {
			continue
		}
		b := billRun
		result = append(result, &b)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *Store) SaveLicenceDocuments(_ context.Context, regionID string, docs []factory.LicenceDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		for region, byID := range s.documents {
			if region != regionID {
				delete(byID, doc.ID)
			}
		}
		if s.documents[regionID] == nil {
			s.documents[regionID] = make(map[string]factory.LicenceDocument)
		}
		s.documents[regionID][doc.ID] = doc
	}
	return nil
}

// ListLicenceDocuments returns a region's documents ordered by licence ref.
func (s *Store) ListLicenceDocuments(_ context.Context, regionID string) ([]factory.LicenceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]factory.LicenceDocument, 0, len(s.documents[regionID]))
	for _, doc := range s.documents[regionID] {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].LicenceRef != docs[j].LicenceRef {
			return docs[i].LicenceRef < docs[j].LicenceRef
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

// FetchLicences builds a fresh graph per document so no state survives
// between bill runs. A document that fails to build is logged and skipped.
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

// PersistReview replaces whatever was stored for the bill run and licence.
func (s *Store) PersistReview(_ context.Context, set *twopart.ReviewSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.billRuns[set.Licence.BillRunID]; !ok {
		return fmt.Errorf("bill run %s: %w", set.Licence.BillRunID, generic.ErrBillRunNotFound)
	}
	s.reviews[key{BillRunID: set.Licence.BillRunID, LicenceID: set.Licence.LicenceID}] = copySet(set)
	return nil
}

// ClearReview drops every review stored for the bill run.
func (s *Store) ClearReview(_ context.Context, billRunID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.reviews {
		if k.BillRunID == billRunID {
			delete(s.reviews, k)
		}
	}
	return nil
}

// ListReviewLicences returns a bill run's review licences ordered by licence ref.
func (s *Store) ListReviewLicences(_ context.Context, billRunID string) ([]twopart.ReviewLicence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []twopart.ReviewLicence
	for k, set := range s.reviews {
		if k.BillRunID == billRunID {
			result = append(result, set.Licence)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LicenceRef < result[j].LicenceRef })
	return result, nil
}

func (s *Store) GetReview(_ context.Context, billRunID, licenceID string) (*twopart.ReviewSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.reviews[key{BillRunID: billRunID, LicenceID: licenceID}]
	if !ok {
		return nil, fmt.Errorf("licence %s in bill run %s: %w", licenceID, billRunID, generic.ErrLicenceNotFound)
	}
	return copySet(set), nil
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.billRuns = make(map[string]twopart.BillRun)
	s.documents = make(map[string]map[string]factory.LicenceDocument)
	s.reviews = make(map[key]*twopart.ReviewSet)
	return nil
}

func copySet(set *twopart.ReviewSet) *twopart.ReviewSet {
	return &twopart.ReviewSet{
		Licence:        set.Licence,
		Results:        append([]twopart.ReviewResult(nil), set.Results...),
		ElementResults: append([]twopart.ReviewChargeElementResult(nil), set.ElementResults...),
		ReturnResults:  append([]twopart.ReviewReturnResult(nil), set.ReturnResults...),
		Transfers:      append([]generic.Transfer(nil), set.Transfers...),
	}
}
