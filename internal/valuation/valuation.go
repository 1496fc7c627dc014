// Package valuation implements the read-only PortfolioValue and
// PortfolioHistory operations of spec §4.5. It never mutates state; it
// composes internal/store, internal/nav, and internal/ledger (for the
// historical per-date unit replay) into a single portfolio view.
package valuation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/indiafolio/mfledger/internal/catalog"
	"github.com/indiafolio/mfledger/internal/ledger"
	"github.com/indiafolio/mfledger/internal/metrics"
	"github.com/indiafolio/mfledger/internal/model"
	"github.com/indiafolio/mfledger/internal/money"
	"github.com/indiafolio/mfledger/internal/nav"
	"github.com/indiafolio/mfledger/internal/risk"
	"github.com/indiafolio/mfledger/internal/store"
)

// Service computes portfolio valuations.
type Service struct {
	store   store.Store
	navSvc  *nav.Service
	catalog *catalog.Service
	limiter *risk.ConcentrationLimiter
}

// New creates a valuation Service. limiter may be nil, in which case
// PortfolioValue never attaches concentration flags.
func New(st store.Store, navSvc *nav.Service, cat *catalog.Service, limiter *risk.ConcentrationLimiter) *Service {
	return &Service{store: st, navSvc: navSvc, catalog: cat, limiter: limiter}
}

// PortfolioValue computes the current valuation of every open position
// held by userID. A scheme with no NAV available degrades gracefully:
// currentNav falls back to avgNav and the position is flagged
// NavMissing — the whole portfolio call never fails because one scheme's
// NAV is unavailable (spec §4.5).
func (s *Service) PortfolioValue(ctx context.Context, userID string) (model.PortfolioValuation, error) {
	portfolios, err := s.store.ListPortfoliosByUser(ctx, userID)
	if err != nil {
		return model.PortfolioValuation{}, err
	}

	out := model.PortfolioValuation{UserID: userID, AsOfDate: time.Now()}
	fundHouses := make(map[int]string)

	for _, portfolio := range portfolios {
		schemeCode := portfolio.SchemeCode
		pos, err := s.store.GetPosition(ctx, portfolio.PortfolioID)
		if err != nil || pos == nil || money.IsZeroWithEpsilon(pos.TotalUnits) {
			continue
		}

		currentNav := pos.AvgNav
		navMissing := true
		if latest, err := s.navSvc.GetLatest(ctx, schemeCode); err == nil {
			currentNav = latest.Nav
			navMissing = false
		}

		currentValue := money.RoundAmount(pos.TotalUnits.Mul(currentNav))
		unrealizedPL := currentValue.Sub(pos.InvestedValue)

		schemeName := ""
		if sc, err := s.catalog.Get(ctx, schemeCode); err == nil && sc != nil {
			schemeName = sc.SchemeName
			fundHouses[schemeCode] = sc.FundHouse
		}

		vp := model.ValuedPosition{
			SchemeCode:    schemeCode,
			SchemeName:    schemeName,
			Units:         pos.TotalUnits,
			AvgNav:        pos.AvgNav,
			CurrentNav:    currentNav,
			InvestedValue: pos.InvestedValue,
			CurrentValue:  currentValue,
			UnrealizedPL:  unrealizedPL,
			NavMissing:    navMissing,
		}

		out.Positions = append(out.Positions, vp)
		out.TotalInvestedValue = out.TotalInvestedValue.Add(pos.InvestedValue)
		out.TotalCurrentValue = out.TotalCurrentValue.Add(currentValue)
		out.TotalUnrealizedPL = out.TotalUnrealizedPL.Add(unrealizedPL)
	}

	if s.limiter != nil {
		out.ConcentrationFlags = s.limiter.Check(out.Positions, fundHouses, out.TotalCurrentValue)
		for _, f := range out.ConcentrationFlags {
			metrics.ConcentrationFlagsTotal.WithLabelValues(f.Reason).Inc()
		}
	}

	return out, nil
}

// PortfolioHistory computes a daily time series of total value and
// unrealized P/L for userID over [start, end] inclusive (spec §4.5). For
// each date, a position only contributes if it was opened on or before
// that date and the FIFO replay of its transaction log up to that date
// yields units > 0. The NAV used for a date is the latest NavHistory
// entry on or before that date, falling back to the position's avgNav
// (computed from the replay) when no history entry exists yet.
func (s *Service) PortfolioHistory(ctx context.Context, userID string, start, end time.Time) ([]model.HistoryPoint, error) {
	portfolios, err := s.store.ListPortfoliosByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	type schemeTxs struct {
		schemeCode int
		openedAt   time.Time
		txs        []model.Transaction
	}

	var schemes []schemeTxs
	for _, portfolio := range portfolios {
		txs, err := s.store.ListTransactions(ctx, portfolio.PortfolioID)
		if err != nil {
			continue
		}
		schemes = append(schemes, schemeTxs{
			schemeCode: portfolio.SchemeCode,
			openedAt:   portfolio.OpenedAt,
			txs:        ledger.SortTransactions(txs),
		})
	}

	var points []model.HistoryPoint
	for d := truncateDay(start); !d.After(truncateDay(end)); d = d.AddDate(0, 0, 1) {
		totalValue := decimal.Zero
		unrealizedPL := decimal.Zero

		for _, sc := range schemes {
			if sc.openedAt.After(d) {
				continue
			}
			upTo := transactionsUpTo(sc.txs, d)
			if len(upTo) == 0 {
				continue
			}
			pos := ledger.Replay(upTo)
			if money.IsZeroWithEpsilon(pos.TotalUnits) {
				continue
			}

			navOnDate := pos.AvgNav
			if entry, err := s.navSvc.AsOf(ctx, sc.schemeCode, d); err == nil && entry != nil {
				navOnDate = entry.Nav
			}

			value := money.RoundAmount(pos.TotalUnits.Mul(navOnDate))
			totalValue = totalValue.Add(value)
			unrealizedPL = unrealizedPL.Add(value.Sub(pos.InvestedValue))
		}

		points = append(points, model.HistoryPoint{
			Date:         d,
			TotalValue:   totalValue,
			UnrealizedPL: unrealizedPL,
		})
	}

	return points, nil
}

func transactionsUpTo(sortedTxs []model.Transaction, d time.Time) []model.Transaction {
	cutoff := d.AddDate(0, 0, 1)
	var out []model.Transaction
	for _, tx := range sortedTxs {
		if tx.Time.Before(cutoff) {
			out = append(out, tx)
		}
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
