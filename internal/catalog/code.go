package catalog

import (
	"fmt"

	"github.com/indiafolio/mfledger/internal/model"
)

// ErrInvalidSchemeCode is an alias for model.ErrInvalidSchemeCode, kept
// local so callers in this package don't need to import model just to
// compare sentinel errors.
var ErrInvalidSchemeCode = model.ErrInvalidSchemeCode

// ValidCategories and ValidTypes enumerate the scheme metadata values this
// ledger recognizes. Unlike the provider's scheme master, these are not
// exhaustive — they exist to catch obviously malformed catalog entries
// before they're persisted, not to encode every AMFI classification.
var ValidCategories = map[string]bool{
	"Equity":  true,
	"Debt":    true,
	"Hybrid":  true,
	"Other":   true,
	"Unknown": true,
}

var ValidTypes = map[string]bool{
	"Open Ended Schemes":    true,
	"Close Ended Schemes":   true,
	"Interval Fund Schemes": true,
}

// ValidateSchemeCode checks that code falls in the provider's valid scheme
// code range [100000, 999999] (spec §2 glossary: "schemeCode"). It does not
// check the catalog for existence; that's ErrSchemeNotFound's job.
func ValidateSchemeCode(code int) error {
	if code < 100000 || code > 999999 {
		return fmt.Errorf("%w: %d (expected 6-digit code in [100000, 999999])", ErrInvalidSchemeCode, code)
	}
	return nil
}
