package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/indiafolio/mfledger/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache over LatestNav and Position — the two reads the valuation and
// position services hit on every request. Writes go to the primary store
// and invalidate the relevant cache key; everything else passes through.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Portfolio (passthrough) ---

func (s *CachedStore) GetOrCreatePortfolio(ctx context.Context, userID string, schemeCode int, openingNav decimal.Decimal, now time.Time) (model.Portfolio, bool, error) {
	return s.primary.GetOrCreatePortfolio(ctx, userID, schemeCode, openingNav, now)
}

func (s *CachedStore) GetPortfolio(ctx context.Context, userID string, schemeCode int) (model.Portfolio, error) {
	return s.primary.GetPortfolio(ctx, userID, schemeCode)
}

func (s *CachedStore) DeletePortfolio(ctx context.Context, portfolioID string) error {
	return s.primary.DeletePortfolio(ctx, portfolioID)
}

func (s *CachedStore) ListPortfoliosByUser(ctx context.Context, userID string) ([]model.Portfolio, error) {
	return s.primary.ListPortfoliosByUser(ctx, userID)
}

// --- Position (read-through, write invalidates) ---

func (s *CachedStore) GetPosition(ctx context.Context, portfolioID string) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(portfolioID)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		s.cachePosition(ctx, p)
	}
	return p, nil
}

func (s *CachedStore) UpsertPosition(ctx context.Context, pos model.Position) error {
	if err := s.primary.UpsertPosition(ctx, pos); err != nil {
		return err
	}
	s.cachePosition(ctx, &pos)
	return nil
}

func (s *CachedStore) DeletePosition(ctx context.Context, portfolioID string) error {
	if err := s.primary.DeletePosition(ctx, portfolioID); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(portfolioID))
	return nil
}

func (s *CachedStore) ListActiveSchemeCodes(ctx context.Context) ([]int, error) {
	return s.primary.ListActiveSchemeCodes(ctx)
}

// --- Transaction log (passthrough) ---

func (s *CachedStore) NextSeqNo(ctx context.Context) (int64, error) {
	return s.primary.NextSeqNo(ctx)
}

func (s *CachedStore) AppendTransaction(ctx context.Context, tx model.Transaction) error {
	return s.primary.AppendTransaction(ctx, tx)
}

func (s *CachedStore) ListTransactions(ctx context.Context, portfolioID string) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, portfolioID)
}

func (s *CachedStore) ListTransactionsPage(ctx context.Context, userID string, schemeCode *int, txType *model.TxType, page, limit int) ([]model.Transaction, int, error) {
	return s.primary.ListTransactionsPage(ctx, userID, schemeCode, txType, page, limit)
}

// --- NAV store (read-through on LatestNav, write invalidates) ---

func (s *CachedStore) GetLatestNav(ctx context.Context, schemeCode int) (*model.LatestNav, error) {
	data, err := s.rdb.Get(ctx, latestNavKey(schemeCode)).Bytes()
	if err == nil {
		var n model.LatestNav
		if json.Unmarshal(data, &n) == nil {
			return &n, nil
		}
	}

	n, err := s.primary.GetLatestNav(ctx, schemeCode)
	if err != nil {
		return nil, err
	}
	if n != nil {
		s.cacheLatestNav(ctx, n)
	}
	return n, nil
}

func (s *CachedStore) UpsertLatestNav(ctx context.Context, nav model.LatestNav) error {
	if err := s.primary.UpsertLatestNav(ctx, nav); err != nil {
		return err
	}
	// Invalidate rather than write the pushed value directly: UpsertLatestNav
	// in the primary may have rejected it as stale (monotone-by-date), and
	// the cache must not get ahead of the store of record.
	s.rdb.Del(ctx, latestNavKey(nav.SchemeCode))
	return nil
}

func (s *CachedStore) GetNavHistory(ctx context.Context, schemeCode int, limit int) ([]model.NavHistoryEntry, error) {
	return s.primary.GetNavHistory(ctx, schemeCode, limit)
}

func (s *CachedStore) GetNavHistoryAsOf(ctx context.Context, schemeCode int, asOf time.Time) (*model.NavHistoryEntry, error) {
	return s.primary.GetNavHistoryAsOf(ctx, schemeCode, asOf)
}

func (s *CachedStore) InsertNavHistory(ctx context.Context, schemeCode int, entry model.NavHistoryEntry, historyCap int) error {
	return s.primary.InsertNavHistory(ctx, schemeCode, entry, historyCap)
}

// --- Scheme catalog (passthrough) ---

func (s *CachedStore) UpsertScheme(ctx context.Context, scheme model.Scheme) error {
	return s.primary.UpsertScheme(ctx, scheme)
}

func (s *CachedStore) GetScheme(ctx context.Context, schemeCode int) (*model.Scheme, error) {
	return s.primary.GetScheme(ctx, schemeCode)
}

func (s *CachedStore) ListSchemes(ctx context.Context) ([]model.Scheme, error) {
	return s.primary.ListSchemes(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cachePosition(ctx context.Context, p *model.Position) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, positionKey(p.PortfolioID), data, s.ttl)
	}
}

func (s *CachedStore) cacheLatestNav(ctx context.Context, n *model.LatestNav) {
	if data, err := json.Marshal(n); err == nil {
		s.rdb.Set(ctx, latestNavKey(n.SchemeCode), data, s.ttl)
	}
}

func positionKey(portfolioID string) string  { return fmt.Sprintf("position:%s", portfolioID) }
func latestNavKey(schemeCode int) string     { return fmt.Sprintf("nav:latest:%d", schemeCode) }
