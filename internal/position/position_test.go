package position_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/indiafolio/mfledger/internal/coordination"
	"github.com/indiafolio/mfledger/internal/model"
	"github.com/indiafolio/mfledger/internal/position"
	"github.com/indiafolio/mfledger/internal/store"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newEngine() *position.Engine {
	return position.New(store.NewMemoryStore(), coordination.NewLocker())
}

func TestBuy_CreatesPortfolioAndPosition(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	res, err := e.Buy(ctx, "user-1", 119551, d("100"), d("10.00"), now)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if !res.Position.TotalUnits.Equal(d("100")) {
		t.Errorf("totalUnits = %s, want 100", res.Position.TotalUnits)
	}
	if !res.Position.AvgNav.Equal(d("10.00")) {
		t.Errorf("avgNav = %s, want 10.00", res.Position.AvgNav)
	}
}

func TestBuy_SecondBuyUpdatesWeightedAvgNav(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	e.Buy(ctx, "user-1", 119551, d("50"), d("10"), now)
	res, err := e.Buy(ctx, "user-1", 119551, d("50"), d("14"), now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if !res.Position.TotalUnits.Equal(d("100")) {
		t.Errorf("totalUnits = %s, want 100", res.Position.TotalUnits)
	}
	if !res.Position.AvgNav.Equal(d("12")) {
		t.Errorf("avgNav = %s, want 12 (weighted average)", res.Position.AvgNav)
	}
}

// Scenario A from spec §8.
func TestSell_ScenarioA_RealizedPL(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	t1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)

	if _, err := e.Buy(ctx, "user-1", 119551, d("100"), d("10.00"), t1); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	res, err := e.Sell(ctx, "user-1", 119551, d("40"), d("12.50"), t2)
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if !res.RealizedPL.Equal(d("100.00")) {
		t.Errorf("realizedPL = %s, want 100.00", res.RealizedPL)
	}
	if !res.RemainingUnits.Equal(d("60")) {
		t.Errorf("remainingUnits = %s, want 60", res.RemainingUnits)
	}
}

func TestSell_InsufficientUnits(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	e.Buy(ctx, "user-1", 119551, d("10"), d("10"), now)
	_, err := e.Sell(ctx, "user-1", 119551, d("20"), d("10"), now.Add(time.Hour))
	if !errors.Is(err, model.ErrInsufficientUnits) {
		t.Errorf("err = %v, want ErrInsufficientUnits", err)
	}
}

func TestSell_NoPosition(t *testing.T) {
	e := newEngine()
	_, err := e.Sell(context.Background(), "user-1", 119551, d("10"), d("10"), time.Now())
	if !errors.Is(err, model.ErrNoPosition) {
		t.Errorf("err = %v, want ErrNoPosition", err)
	}
}

func TestSell_ExactlyAllUnitsDeletesPosition(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	e := position.New(st, coordination.NewLocker())
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	res, _ := e.Buy(ctx, "user-1", 119551, d("100"), d("10"), now)
	sellRes, err := e.Sell(ctx, "user-1", 119551, d("100"), d("11"), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if !sellRes.RemainingUnits.IsZero() {
		t.Errorf("remainingUnits = %s, want 0", sellRes.RemainingUnits)
	}

	pos, err := st.GetPosition(ctx, res.Portfolio.PortfolioID)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos != nil {
		t.Errorf("expected Position row to be deleted once units reached zero, got %+v", pos)
	}
}

func TestRemove_FailsWithOpenPosition(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	e.Buy(ctx, "user-1", 119551, d("10"), d("10"), now)
	err := e.Remove(ctx, "user-1", 119551)
	if !errors.Is(err, model.ErrHasTransactions) {
		t.Errorf("err = %v, want ErrHasTransactions", err)
	}
}

func TestReconcile_MatchesAfterBuyAndSell(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	res, _ := e.Buy(ctx, "user-1", 119551, d("100"), d("10"), now)
	e.Sell(ctx, "user-1", 119551, d("40"), d("12.5"), now.Add(time.Hour))

	replayed, matches, err := e.Reconcile(ctx, res.Portfolio.PortfolioID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !matches {
		t.Errorf("expected replayed position to match cache, replayed = %+v", replayed)
	}
}
