package valuation_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/indiafolio/mfledger/internal/catalog"
	"github.com/indiafolio/mfledger/internal/model"
	"github.com/indiafolio/mfledger/internal/money"
	"github.com/indiafolio/mfledger/internal/nav"
	"github.com/indiafolio/mfledger/internal/quote"
	"github.com/indiafolio/mfledger/internal/risk"
	"github.com/indiafolio/mfledger/internal/store"
	"github.com/indiafolio/mfledger/internal/valuation"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func seedPortfolio(t *testing.T, ms *store.MemoryStore, userID string, schemeCode int, units, avgNav, invested string) {
	t.Helper()
	ctx := context.Background()
	pf, _, err := ms.GetOrCreatePortfolio(ctx, userID, schemeCode, mustDecimal(t, avgNav), time.Now())
	if err != nil {
		t.Fatalf("GetOrCreatePortfolio: %v", err)
	}
	err = ms.UpsertPosition(ctx, model.Position{
		PortfolioID:   pf.PortfolioID,
		SchemeCode:    schemeCode,
		TotalUnits:    mustDecimal(t, units),
		AvgNav:        mustDecimal(t, avgNav),
		InvestedValue: mustDecimal(t, invested),
	})
	if err != nil {
		t.Fatalf("UpsertPosition: %v", err)
	}
}

func seedScheme(t *testing.T, ms *store.MemoryStore, schemeCode int, name, fundHouse string) {
	t.Helper()
	err := ms.UpsertScheme(context.Background(), model.Scheme{
		SchemeCode: schemeCode,
		SchemeName: name,
		FundHouse:  fundHouse,
		Category:   "Equity",
		Type:       "Open Ended Schemes",
	})
	if err != nil {
		t.Fatalf("UpsertScheme: %v", err)
	}
}

func TestPortfolioValue_UsesLatestNavWhenAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"meta":{},"data":[{"date":"03-08-2026","nav":"120.0000"}]}`)
	}))
	defer srv.Close()

	ms := store.NewMemoryStore()
	seedPortfolio(t, ms, "user-1", 118834, "100.000", "100.0000", "10000.00")
	seedScheme(t, ms, 118834, "Growth Fund", "AAA AMC")

	cli := quote.New(quote.Config{BaseURL: srv.URL})
	navSvc := nav.New(ms, cli, 30)
	cat := catalog.New(ms, cli)
	svc := valuation.New(ms, navSvc, cat, nil)

	out, err := svc.PortfolioValue(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("PortfolioValue: %v", err)
	}
	if len(out.Positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(out.Positions))
	}
	p := out.Positions[0]
	if p.NavMissing {
		t.Error("expected NavMissing=false")
	}
	if !p.CurrentValue.Equal(money.RoundAmount(mustDecimal(t, "12000.00"))) {
		t.Errorf("current value = %s, want 12000.00", p.CurrentValue)
	}
	if p.SchemeName != "Growth Fund" {
		t.Errorf("scheme name = %s, want Growth Fund", p.SchemeName)
	}
}

func TestPortfolioValue_DegradesGracefullyOnMissingNav(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ms := store.NewMemoryStore()
	seedPortfolio(t, ms, "user-1", 118834, "50.000", "200.0000", "10000.00")

	cli := quote.New(quote.Config{BaseURL: srv.URL})
	navSvc := nav.New(ms, cli, 30)
	cat := catalog.New(ms, cli)
	svc := valuation.New(ms, navSvc, cat, nil)

	out, err := svc.PortfolioValue(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("PortfolioValue should not fail on missing NAV: %v", err)
	}
	if len(out.Positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(out.Positions))
	}
	if !out.Positions[0].NavMissing {
		t.Error("expected NavMissing=true")
	}
	if !out.Positions[0].CurrentNav.Equal(mustDecimal(t, "200.0000")) {
		t.Errorf("expected fallback to avgNav, got %s", out.Positions[0].CurrentNav)
	}
}

func TestPortfolioValue_AttachesConcentrationFlags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"meta":{},"data":[{"date":"03-08-2026","nav":"100.0000"}]}`)
	}))
	defer srv.Close()

	ms := store.NewMemoryStore()
	seedPortfolio(t, ms, "user-1", 118834, "90.000", "100.0000", "9000.00")
	seedScheme(t, ms, 118834, "Growth Fund", "AAA AMC")

	cli := quote.New(quote.Config{BaseURL: srv.URL})
	navSvc := nav.New(ms, cli, 30)
	cat := catalog.New(ms, cli)
	limiter := risk.NewConcentrationLimiter(mustDecimal(t, "0.5"), mustDecimal(t, "0.9"))
	svc := valuation.New(ms, navSvc, cat, limiter)

	out, err := svc.PortfolioValue(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("PortfolioValue: %v", err)
	}
	// One scheme is 100% of the portfolio, so both the per-scheme (0.5) and
	// the per-fund-house (0.9) limits are exceeded.
	if len(out.ConcentrationFlags) != 2 {
		t.Fatalf("expected 2 concentration flags, got %d: %+v", len(out.ConcentrationFlags), out.ConcentrationFlags)
	}
	if out.ConcentrationFlags[0].SchemeCode != 118834 {
		t.Errorf("expected flag on scheme 118834, got %d", out.ConcentrationFlags[0].SchemeCode)
	}
}

func TestPortfolioHistory_ReplaysUnitsUpToEachDate(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	pf, _, err := ms.GetOrCreatePortfolio(ctx, "user-1", 118834, mustDecimal(t, "100.0"), time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("GetOrCreatePortfolio: %v", err)
	}

	seqNo, _ := ms.NextSeqNo(ctx)
	err = ms.AppendTransaction(ctx, model.Transaction{
		PortfolioID: pf.PortfolioID,
		SeqNo:       seqNo,
		SchemeCode:  118834,
		Type:        model.TxBuy,
		Units:       mustDecimal(t, "100.000"),
		Nav:         mustDecimal(t, "100.0000"),
		Amount:      mustDecimal(t, "10000.00"),
		Time:        time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("AppendTransaction: %v", err)
	}

	cli := quote.New(quote.Config{BaseURL: "http://unused.invalid"})
	navSvc := nav.New(ms, cli, 30)
	cat := catalog.New(ms, cli)
	svc := valuation.New(ms, navSvc, cat, nil)

	start := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	points, err := svc.PortfolioHistory(ctx, "user-1", start, end)
	if err != nil {
		t.Fatalf("PortfolioHistory: %v", err)
	}
	if len(points) != 4 {
		t.Fatalf("expected 4 daily points, got %d", len(points))
	}
	if !points[0].TotalValue.IsZero() {
		t.Errorf("expected zero value before the position opened, got %s", points[0].TotalValue)
	}
	if !points[3].TotalValue.Equal(mustDecimal(t, "10000.00")) {
		t.Errorf("expected 10000.00 on the day after the buy, got %s", points[3].TotalValue)
	}
}
