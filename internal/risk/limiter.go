// Package risk implements a per-scheme and per-fund-house concentration
// guard over a portfolio's valuation. It is adapted from the teacher's
// internal/correlation position limiter: the same prefix-matching idea
// that grouped correlated H3 geographic cells here groups schemes sharing
// a fund house. Unlike the teacher's limiter, this one never blocks a
// trade — spec has no margin/correlation concept, so it produces an
// advisory flag for internal/valuation to surface, not an error.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/indiafolio/mfledger/internal/model"
)

// ConcentrationLimiter flags portfolios that are overweight in a single
// scheme or fund house.
type ConcentrationLimiter struct {
	// MaxPerScheme is the maximum fraction (0-1) of total portfolio value
	// that any single scheme may represent before being flagged.
	MaxPerScheme decimal.Decimal

	// MaxPerFundHouse is the maximum fraction (0-1) of total portfolio
	// value that schemes sharing a fund house may represent before being
	// flagged.
	MaxPerFundHouse decimal.Decimal
}

// NewConcentrationLimiter creates a limiter with the given thresholds.
func NewConcentrationLimiter(maxPerScheme, maxPerFundHouse decimal.Decimal) *ConcentrationLimiter {
	return &ConcentrationLimiter{
		MaxPerScheme:    maxPerScheme,
		MaxPerFundHouse: maxPerFundHouse,
	}
}

// holding pairs a ValuedPosition with the fund house it belongs to, so
// the caller doesn't need internal/catalog wired into this package —
// callers already resolved scheme names via internal/catalog and can pass
// the fund house straight through.
type holding struct {
	schemeCode   int
	fundHouse    string
	currentValue decimal.Decimal
}

// Check inspects a portfolio's positions and total value, returning any
// concentration flags. totalValue of zero produces no flags (nothing to
// be concentrated in).
func (l *ConcentrationLimiter) Check(positions []model.ValuedPosition, fundHouses map[int]string, totalValue decimal.Decimal) []model.ConcentrationFlag {
	if totalValue.IsZero() || totalValue.IsNegative() {
		return nil
	}

	holdings := make([]holding, 0, len(positions))
	byFundHouse := make(map[string]decimal.Decimal)
	for _, p := range positions {
		fh := fundHouses[p.SchemeCode]
		holdings = append(holdings, holding{schemeCode: p.SchemeCode, fundHouse: fh, currentValue: p.CurrentValue})
		if fh != "" {
			byFundHouse[fh] = byFundHouse[fh].Add(p.CurrentValue)
		}
	}

	var flags []model.ConcentrationFlag
	for _, h := range holdings {
		fraction := h.currentValue.Div(totalValue)
		if fraction.GreaterThan(l.MaxPerScheme) {
			flags = append(flags, model.ConcentrationFlag{
				SchemeCode: h.schemeCode,
				Fraction:   fraction.Round(4),
				Reason:     "scheme exceeds max per-scheme concentration",
			})
		}
	}

	for fh, value := range byFundHouse {
		fraction := value.Div(totalValue)
		if fraction.GreaterThan(l.MaxPerFundHouse) {
			flags = append(flags, model.ConcentrationFlag{
				FundHouse: fh,
				Fraction:  fraction.Round(4),
				Reason:    "fund house exceeds max concentration across schemes",
			})
		}
	}

	return flags
}
