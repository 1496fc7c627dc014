// Package nav is the read path for scheme NAVs: a thin read-through layer
// over internal/store, falling back to internal/quote on a cache miss.
// The bulk refresh lives in internal/navrefresh, which writes its results
// through Record; the read path here writes only the NAV it just fetched.
package nav

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/indiafolio/mfledger/internal/model"
	"github.com/indiafolio/mfledger/internal/money"
	"github.com/indiafolio/mfledger/internal/quote"
	"github.com/indiafolio/mfledger/internal/store"
)

// Service resolves current and historical NAVs for a scheme.
type Service struct {
	store      store.Store
	quoteCli   *quote.Client
	historyCap int
	retryMax   int
}

// New creates a NAV service. historyCap bounds the per-scheme NavHistory
// series (spec §4.3's "NavHistory.nav.historyCap").
func New(st store.Store, quoteCli *quote.Client, historyCap int) *Service {
	if historyCap <= 0 {
		historyCap = 30
	}
	return &Service{store: st, quoteCli: quoteCli, historyCap: historyCap, retryMax: 3}
}

// WithRetryMax overrides the number of provider retries GetLatest performs
// on a cache miss before giving up (spec §7: "surfaced as NavUnavailable
// to BUY/SELL only after retries"). Returns the same Service for chaining.
func (s *Service) WithRetryMax(retryMax int) *Service {
	if retryMax > 0 {
		s.retryMax = retryMax
	}
	return s
}

// GetLatest returns the current NAV for schemeCode, serving from the
// store's LatestNav cache when present and falling back to a live
// provider fetch on a miss. A live fetch result is persisted before being
// returned, so a cold scheme is only ever fetched once per miss. The
// provider fetch is retried with backoff before this call reports failure.
func (s *Service) GetLatest(ctx context.Context, schemeCode int) (model.LatestNav, error) {
	cached, err := s.store.GetLatestNav(ctx, schemeCode)
	if err != nil {
		return model.LatestNav{}, err
	}
	if cached != nil {
		return *cached, nil
	}

	var q quote.Quote
	err = quote.RetryWithBackoff(ctx, s.retryMax, 200*time.Millisecond, func() error {
		var fetchErr error
		q, fetchErr = s.quoteCli.FetchLatest(ctx, schemeCode)
		return fetchErr
	})
	if errors.Is(err, quote.ErrSchemeUnknown) {
		return model.LatestNav{}, err
	}
	if err != nil {
		return model.LatestNav{}, fmt.Errorf("%w: %v", model.ErrNavUnavailable, err)
	}

	latest := model.LatestNav{
		SchemeCode: schemeCode,
		Nav:        money.RoundNav(q.Nav),
		AsOfDate:   q.AsOfDate,
		UpdatedAt:  time.Now(),
	}
	if err := s.Record(ctx, latest); err != nil {
		return model.LatestNav{}, err
	}
	return latest, nil
}

// Record writes a freshly observed NAV to both the LatestNav row (subject
// to the store's monotone-by-date rule) and the bounded NavHistory series.
// This is the single write path shared by GetLatest's cache-miss fetch and
// internal/navrefresh's batch jobs.
func (s *Service) Record(ctx context.Context, latest model.LatestNav) error {
	if err := s.store.UpsertLatestNav(ctx, latest); err != nil {
		return err
	}
	return s.store.InsertNavHistory(ctx, latest.SchemeCode, model.NavHistoryEntry{
		Date: latest.AsOfDate,
		Nav:  latest.Nav,
	}, s.historyCap)
}

// History returns up to limit NAV history entries for schemeCode, newest
// first, from the store only — it never calls the provider.
func (s *Service) History(ctx context.Context, schemeCode int, limit int) ([]model.NavHistoryEntry, error) {
	return s.store.GetNavHistory(ctx, schemeCode, limit)
}

// AsOf returns the latest NavHistory entry on or before asOf, or nil if
// the series has no entry that old (spec §4.5's history valuation lookup).
func (s *Service) AsOf(ctx context.Context, schemeCode int, asOf time.Time) (*model.NavHistoryEntry, error) {
	return s.store.GetNavHistoryAsOf(ctx, schemeCode, asOf)
}
