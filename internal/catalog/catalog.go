// Package catalog manages the scheme master — the read-mostly metadata
// (name, fund house, category, type) describing each schemeCode this
// ledger can hold a position in. It is grounded on the ticker
// parsing/validation shape of the teacher's internal/contract package,
// replacing H3-cell/ticker-regex parsing with the mutual-fund scheme code
// range check in code.go.
package catalog

import (
	"context"

	"github.com/indiafolio/mfledger/internal/model"
	"github.com/indiafolio/mfledger/internal/quote"
	"github.com/indiafolio/mfledger/internal/store"
)

// Service resolves and refreshes scheme metadata.
type Service struct {
	store    store.Store
	quoteCli *quote.Client
}

// New creates a catalog Service.
func New(st store.Store, quoteCli *quote.Client) *Service {
	return &Service{store: st, quoteCli: quoteCli}
}

// Get returns the cached Scheme for schemeCode, or model.ErrSchemeNotFound
// if it has never been seeded into the catalog. It does not fall back to
// the provider — Refresh (or the seed CLI) is responsible for populating
// the catalog ahead of time.
func (s *Service) Get(ctx context.Context, schemeCode int) (*model.Scheme, error) {
	if err := ValidateSchemeCode(schemeCode); err != nil {
		return nil, err
	}
	sc, err := s.store.GetScheme(ctx, schemeCode)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, model.ErrSchemeNotFound
	}
	return sc, nil
}

// List returns every scheme currently in the catalog.
func (s *Service) List(ctx context.Context) ([]model.Scheme, error) {
	return s.store.ListSchemes(ctx)
}

// Refresh fetches the provider's full fund list and upserts it into the
// catalog. Schemes with a code outside the valid range or missing a name
// are skipped rather than aborting the whole refresh — one malformed
// provider row should not block the rest of the catalog from loading.
func (s *Service) Refresh(ctx context.Context) (int, error) {
	funds, err := s.quoteCli.ListFunds(ctx)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, f := range funds {
		if ValidateSchemeCode(f.SchemeCode) != nil || f.SchemeName == "" {
			continue
		}
		sc := model.Scheme{
			SchemeCode: f.SchemeCode,
			SchemeName: f.SchemeName,
			FundHouse:  f.FundHouse,
			Category:   normalizeCategory(f.Category),
			Type:       normalizeType(f.Type),
		}
		if err := s.store.UpsertScheme(ctx, sc); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

func normalizeCategory(raw string) string {
	if raw == "" {
		return "Unknown"
	}
	if ValidCategories[raw] {
		return raw
	}
	return "Other"
}

func normalizeType(raw string) string {
	if ValidTypes[raw] {
		return raw
	}
	return "Open Ended Schemes"
}
