package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/indiafolio/mfledger/internal/ledger"
	"github.com/indiafolio/mfledger/internal/model"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func buy(units, nav string, t time.Time, seq int64) model.Transaction {
	return model.Transaction{
		TxID: "buy", SeqNo: seq, Type: model.TxBuy,
		Units: d(units), Nav: d(nav), Time: t,
	}
}

func sell(units, nav string, t time.Time, seq int64) model.Transaction {
	return model.Transaction{
		TxID: "sell", SeqNo: seq, Type: model.TxSell,
		Units: d(units), Nav: d(nav), Time: t,
	}
}

func TestOpenLots_FIFOAcrossMultipleLots(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	txs := []model.Transaction{
		buy("50", "10", t1, 1),
		buy("50", "14", t2, 2),
	}

	lots := ledger.OpenLots(ledger.SortTransactions(txs))
	if len(lots) != 2 {
		t.Fatalf("expected 2 open lots, got %d", len(lots))
	}
	if !lots[0].RemainingUnits.Equal(d("50")) || !lots[0].Nav.Equal(d("10")) {
		t.Errorf("unexpected head lot: %+v", lots[0])
	}
	if !lots[1].RemainingUnits.Equal(d("50")) || !lots[1].Nav.Equal(d("14")) {
		t.Errorf("unexpected tail lot: %+v", lots[1])
	}
}

// Scenario B from spec §8.
func TestConsume_ScenarioB(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	txs := []model.Transaction{
		buy("50", "10", t1, 1),
		buy("50", "14", t2, 2),
	}
	lots := ledger.OpenLots(ledger.SortTransactions(txs))

	result := ledger.Consume(lots, d("70"), d("15"))

	wantPL := d("270")
	if !result.RealizedPL.Equal(wantPL) {
		t.Errorf("realizedPL = %s, want %s", result.RealizedPL, wantPL)
	}
	if len(result.RemainingLots) != 1 {
		t.Fatalf("expected 1 remaining lot, got %d", len(result.RemainingLots))
	}
	if !result.RemainingLots[0].RemainingUnits.Equal(d("30")) {
		t.Errorf("remaining units = %s, want 30", result.RemainingLots[0].RemainingUnits)
	}
	if !result.RemainingLots[0].Nav.Equal(d("14")) {
		t.Errorf("remaining lot nav = %s, want 14", result.RemainingLots[0].Nav)
	}
}

// Scenario A from spec §8.
func TestConsume_ScenarioA(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	txs := []model.Transaction{buy("100", "10.00", t1, 1)}
	lots := ledger.OpenLots(ledger.SortTransactions(txs))

	result := ledger.Consume(lots, d("40"), d("12.50"))

	if !result.RealizedPL.Equal(d("100.00")) {
		t.Errorf("realizedPL = %s, want 100.00", result.RealizedPL)
	}
	if !ledger.TotalUnits(result.RemainingLots).Equal(d("60")) {
		t.Errorf("remaining units = %s, want 60", ledger.TotalUnits(result.RemainingLots))
	}
}

func TestOpenLots_TieBreakBySeqNo(t *testing.T) {
	same := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	txs := []model.Transaction{
		buy("10", "20", same, 2),
		buy("5", "22", same, 1),
	}
	lots := ledger.OpenLots(ledger.SortTransactions(txs))
	if len(lots) != 2 {
		t.Fatalf("expected 2 lots, got %d", len(lots))
	}
	// seq 1 (units=5, nav=22) must come first despite later slice position.
	if !lots[0].RemainingUnits.Equal(d("5")) || !lots[0].Nav.Equal(d("22")) {
		t.Errorf("head lot should be the seq=1 buy, got %+v", lots[0])
	}
}

func TestReplay_RoundTripBuyThenSellSameUnitsAndNav(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	txs := ledger.SortTransactions([]model.Transaction{
		buy("100", "10", t1, 1),
		sell("100", "10", t2, 2),
	})

	lots := ledger.OpenLots(txs[:1])
	result := ledger.Consume(lots, d("100"), d("10"))
	if !result.RealizedPL.IsZero() {
		t.Errorf("realizedPL = %s, want 0", result.RealizedPL)
	}

	pos := ledger.Replay(txs)
	if !pos.TotalUnits.IsZero() {
		t.Errorf("replayed totalUnits = %s, want 0", pos.TotalUnits)
	}
	if !pos.InvestedValue.IsZero() {
		t.Errorf("replayed investedValue = %s, want 0", pos.InvestedValue)
	}
}

func TestReplay_MatchesIncrementalPosition(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	txs := ledger.SortTransactions([]model.Transaction{
		buy("100", "10.00", t1, 1),
		sell("40", "12.50", t2, 2),
	})

	pos := ledger.Replay(txs)
	if !pos.TotalUnits.Equal(d("60")) {
		t.Errorf("totalUnits = %s, want 60", pos.TotalUnits)
	}
	if !pos.InvestedValue.Equal(d("600.00")) {
		t.Errorf("investedValue = %s, want 600.00", pos.InvestedValue)
	}
	if !pos.AvgNav.Equal(d("10")) {
		t.Errorf("avgNav = %s, want 10", pos.AvgNav)
	}
}
