// Package model defines the core domain types shared across the portfolio
// ledger. All monetary values use shopspring/decimal — never float64 for
// money or units.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role distinguishes a regular investor from an administrator.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is the identity that owns Portfolios.
type User struct {
	UserID string `json:"user_id" db:"user_id"`
	Name   string `json:"name" db:"name"`
	Email  string `json:"email" db:"email"`
	Role   Role   `json:"role" db:"role"`
}

// Scheme is read-mostly metadata for a mutual fund scheme. SchemeCode is
// the provider's integer identifier, always in [100000, 999999].
type Scheme struct {
	SchemeCode int    `json:"scheme_code" db:"scheme_code"`
	SchemeName string `json:"scheme_name" db:"scheme_name"`
	FundHouse  string `json:"fund_house" db:"fund_house"`
	Category   string `json:"category" db:"category"`
	Type       string `json:"type" db:"type"`
}

// Portfolio is the logical handle for a (userId, schemeCode) pair. At most
// one Portfolio exists per pair; it is created on first BUY.
type Portfolio struct {
	PortfolioID string          `json:"portfolio_id" db:"portfolio_id"`
	UserID      string          `json:"user_id" db:"user_id"`
	SchemeCode  int             `json:"scheme_code" db:"scheme_code"`
	OpenedAt    time.Time       `json:"opened_at" db:"opened_at"`
	OpeningNav  decimal.Decimal `json:"opening_nav" db:"opening_nav"`
}

// Position is the cached aggregate over a Portfolio's Transaction log. It
// must always be recomputable by replaying the log (see internal/ledger
// and internal/position); the cache must never disagree with the replay
// beyond money.Epsilon.
type Position struct {
	PortfolioID   string          `json:"portfolio_id" db:"portfolio_id"`
	SchemeCode    int             `json:"scheme_code" db:"scheme_code"`
	TotalUnits    decimal.Decimal `json:"total_units" db:"total_units"`
	InvestedValue decimal.Decimal `json:"invested_value" db:"invested_value"`
	AvgNav        decimal.Decimal `json:"avg_nav" db:"avg_nav"`
}

// TxType enumerates the two transaction kinds this ledger records.
type TxType string

const (
	TxBuy  TxType = "BUY"
	TxSell TxType = "SELL"
)

// Transaction is an append-only ledger entry. Never mutated or deleted.
// SeqNo is a monotonically increasing insertion-order counter assigned by
// the store; it is the deterministic tie-breaker for transactions sharing
// a timestamp (spec calls this "txId ascending" — SeqNo is the ordered
// txId here, see DESIGN.md).
type Transaction struct {
	TxID        string          `json:"tx_id" db:"tx_id"`
	SeqNo       int64           `json:"-" db:"seq_no"`
	PortfolioID string          `json:"portfolio_id" db:"portfolio_id"`
	SchemeCode  int             `json:"scheme_code" db:"scheme_code"`
	Type        TxType          `json:"type" db:"type"`
	Units       decimal.Decimal `json:"units" db:"units"`
	Nav         decimal.Decimal `json:"nav" db:"nav"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Time        time.Time       `json:"time" db:"time"`
	// RealizedPL is set only for SELL transactions.
	RealizedPL *decimal.Decimal `json:"realized_pl,omitempty" db:"realized_pl"`
}

// LatestNav is the most recently observed authoritative NAV for a scheme.
// At most one row exists per schemeCode.
type LatestNav struct {
	SchemeCode int             `json:"scheme_code" db:"scheme_code"`
	Nav        decimal.Decimal `json:"nav" db:"nav"`
	AsOfDate   time.Time       `json:"as_of_date" db:"as_of_date"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// NavHistoryEntry is one dated point in a scheme's bounded NAV history.
type NavHistoryEntry struct {
	Date time.Time       `json:"date" db:"date"`
	Nav  decimal.Decimal `json:"nav" db:"nav"`
}

// RefreshFailure records one scheme's failure during a NAV refresh run.
type RefreshFailure struct {
	SchemeCode int    `json:"scheme_code"`
	Error      string `json:"error"`
}

// RunSummary is the result of one NAV refresh engine run.
type RunSummary struct {
	Total      int              `json:"total"`
	Successes  []int            `json:"successes"`
	Failures   []RefreshFailure `json:"failures"`
	DurationMs int64            `json:"duration_ms"`
	StartedAt  time.Time        `json:"started_at"`
}

// ValuedPosition is a Position joined with the latest NAV for API responses.
type ValuedPosition struct {
	SchemeCode    int             `json:"scheme_code"`
	SchemeName    string          `json:"scheme_name"`
	Units         decimal.Decimal `json:"units"`
	AvgNav        decimal.Decimal `json:"avg_nav"`
	CurrentNav    decimal.Decimal `json:"current_nav"`
	InvestedValue decimal.Decimal `json:"invested_value"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	UnrealizedPL  decimal.Decimal `json:"unrealized_pl"`
	NavMissing    bool            `json:"nav_missing"`
}

// ConcentrationFlag is an advisory warning that a portfolio is overweight
// in a single scheme or fund house. It is produced by internal/risk and
// never blocks a trade.
type ConcentrationFlag struct {
	SchemeCode int             `json:"scheme_code,omitempty"`
	FundHouse  string          `json:"fund_house,omitempty"`
	Fraction   decimal.Decimal `json:"fraction"`
	Reason     string          `json:"reason"`
}

// PortfolioValuation is the response shape for PortfolioValue.
type PortfolioValuation struct {
	UserID              string              `json:"user_id"`
	Positions           []ValuedPosition    `json:"positions"`
	TotalInvestedValue  decimal.Decimal     `json:"total_invested_value"`
	TotalCurrentValue   decimal.Decimal     `json:"total_current_value"`
	TotalUnrealizedPL   decimal.Decimal     `json:"total_unrealized_pl"`
	ConcentrationFlags  []ConcentrationFlag `json:"concentration_flags,omitempty"`
	AsOfDate            time.Time           `json:"as_of_date"`
}

// HistoryPoint is one day of a portfolio value time series.
type HistoryPoint struct {
	Date         time.Time       `json:"date"`
	TotalValue   decimal.Decimal `json:"total_value"`
	UnrealizedPL decimal.Decimal `json:"unrealized_pl"`
}
