package model

import "errors"

// Sentinel errors returned by the position engine and NAV store. HTTP
// handlers translate these to status codes (see internal/api).
var (
	// ErrNoPosition is returned by SELL when the portfolio does not exist.
	ErrNoPosition = errors.New("position: no open position for this scheme")

	// ErrInsufficientUnits is returned by SELL when unitsToSell exceeds the
	// held units, beyond money.Epsilon tolerance.
	ErrInsufficientUnits = errors.New("position: insufficient units to sell")

	// ErrHasTransactions is returned by REMOVE when the transaction log for
	// the portfolio is non-empty.
	ErrHasTransactions = errors.New("position: portfolio has transaction history and cannot be removed")

	// ErrDuplicatePortfolio is returned when a portfolio creation races and
	// loses to a concurrent insert for the same (userId, schemeCode).
	ErrDuplicatePortfolio = errors.New("position: portfolio already exists for this scheme")

	// ErrSchemeNotFound is returned when a schemeCode is not in the catalog.
	ErrSchemeNotFound = errors.New("catalog: scheme not found")

	// ErrInvalidSchemeCode is returned when a schemeCode is outside
	// [100000, 999999].
	ErrInvalidSchemeCode = errors.New("catalog: scheme code out of range")

	// ErrNavUnavailable is returned by BUY/SELL when no NAV can be obtained
	// from the cache or the quote provider.
	ErrNavUnavailable = errors.New("nav: no NAV available for scheme")

	// ErrRefreshAlreadyRunning is returned when a refresh run is triggered
	// while another is still in flight.
	ErrRefreshAlreadyRunning = errors.New("navrefresh: a refresh run is already in progress")
)
