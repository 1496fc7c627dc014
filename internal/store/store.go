// Package store defines the persistence interface for the portfolio
// ledger. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache over the NAV store and position snapshots), and
// in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/indiafolio/mfledger/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer over LatestNav and Position
// reads. All Portfolio/Position/Transaction writes are expected to be
// called with the caller already holding the relevant
// coordination.Locker key — Store implementations do not serialize
// writes themselves.
type Store interface {
	// --- Portfolio ---

	// GetOrCreatePortfolio resolves the Portfolio for (userID, schemeCode),
	// creating it with the given openingNav/now if absent. created reports
	// whether this call performed the insert. On a losing race against a
	// concurrent insert, the implementation loads and returns the winner's
	// row with created=false rather than an error — per spec §4.2 step 1
	// ("the losing side loads the existing Portfolio").
	GetOrCreatePortfolio(ctx context.Context, userID string, schemeCode int, openingNav decimal.Decimal, now time.Time) (portfolio model.Portfolio, created bool, err error)

	// GetPortfolio returns the Portfolio for (userID, schemeCode), or
	// model.ErrNoPosition if none exists.
	GetPortfolio(ctx context.Context, userID string, schemeCode int) (model.Portfolio, error)

	// DeletePortfolio removes a Portfolio row. Callers must have already
	// verified the empty-position/empty-log precondition (spec §4.2
	// REMOVE); the store does not re-check it.
	DeletePortfolio(ctx context.Context, portfolioID string) error

	// ListPortfoliosByUser returns every Portfolio owned by userID,
	// regardless of whether its Position currently holds any units — used
	// by GET /api/portfolio/list and the valuation service.
	ListPortfoliosByUser(ctx context.Context, userID string) ([]model.Portfolio, error)

	// --- Position ---

	// GetPosition returns the cached Position for portfolioID, or nil if
	// none is cached (e.g. after a SELL brought units to zero).
	GetPosition(ctx context.Context, portfolioID string) (*model.Position, error)

	// UpsertPosition writes the Position cache.
	UpsertPosition(ctx context.Context, pos model.Position) error

	// DeletePosition removes the Position cache row (units reached zero).
	DeletePosition(ctx context.Context, portfolioID string) error

	// ListActiveSchemeCodes returns the distinct schemeCodes referenced by
	// any non-empty Position, for NAV refresh workload discovery (§4.4).
	ListActiveSchemeCodes(ctx context.Context) ([]int, error)

	// --- Transaction log ---

	// NextSeqNo returns a fresh, strictly increasing sequence number used
	// to break ties between transactions sharing a timestamp.
	NextSeqNo(ctx context.Context) (int64, error)

	// AppendTransaction appends an immutable transaction record.
	AppendTransaction(ctx context.Context, tx model.Transaction) error

	// ListTransactions returns every transaction for a portfolio ordered
	// by (time, seqNo) ascending.
	ListTransactions(ctx context.Context, portfolioID string) ([]model.Transaction, error)

	// ListTransactionsPage returns a filtered, paginated view for the
	// GET /api/transactions endpoint (§6). page is 1-based.
	ListTransactionsPage(ctx context.Context, userID string, schemeCode *int, txType *model.TxType, page, limit int) (txs []model.Transaction, total int, err error)

	// --- NAV store ---

	// GetLatestNav returns the stored LatestNav row, or nil if absent.
	GetLatestNav(ctx context.Context, schemeCode int) (*model.LatestNav, error)

	// UpsertLatestNav writes LatestNav, enforcing the monotone-by-date
	// invariant of spec §4.3: a write with an older asOfDate than the
	// stored row must not regress the stored value; ties resolve by the
	// latest updatedAt.
	UpsertLatestNav(ctx context.Context, nav model.LatestNav) error

	// GetNavHistory returns up to limit entries for schemeCode, newest
	// first.
	GetNavHistory(ctx context.Context, schemeCode int, limit int) ([]model.NavHistoryEntry, error)

	// GetNavHistoryAsOf returns the latest history entry with date <= asOf,
	// or nil if none exists.
	GetNavHistoryAsOf(ctx context.Context, schemeCode int, asOf time.Time) (*model.NavHistoryEntry, error)

	// InsertNavHistory upserts a dated NAV entry, evicting the oldest entry
	// if the series would exceed historyCap.
	InsertNavHistory(ctx context.Context, schemeCode int, entry model.NavHistoryEntry, historyCap int) error

	// --- Scheme catalog ---

	UpsertScheme(ctx context.Context, scheme model.Scheme) error
	GetScheme(ctx context.Context, schemeCode int) (*model.Scheme, error)
	ListSchemes(ctx context.Context) ([]model.Scheme, error)
}
