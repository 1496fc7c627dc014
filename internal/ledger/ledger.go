// Package ledger implements the deterministic FIFO lot accounting rules
// that turn an ordered Transaction log into an open-lot queue and a
// realized profit/loss figure. It contains no persistence and no locking —
// it is pure domain logic over model.Transaction, exercised directly by
// internal/position and by the replay-equivalence reconciliation in §7 of
// the spec.
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/indiafolio/mfledger/internal/model"
	"github.com/indiafolio/mfledger/internal/money"
)

// Lot is one open FIFO BUY lot: units bought at a NAV that have not yet
// been consumed by a later SELL.
type Lot struct {
	RemainingUnits decimal.Decimal
	Nav            decimal.Decimal
	Time           time.Time
	TxID           string
}

// SortTransactions orders transactions ascending by (Time, SeqNo). SeqNo is
// the monotonic insertion-order counter assigned by the store and is the
// spec's "txId ascending" tie-breaker for identical timestamps.
func SortTransactions(txs []model.Transaction) []model.Transaction {
	out := make([]model.Transaction, len(txs))
	copy(out, txs)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].SeqNo < out[j].SeqNo
	})
	return out
}

// OpenLots replays a sorted transaction log into the current open-lot
// queue, in FIFO order (oldest lot first). It walks every BUY into a tail
// lot and consumes lots from the head for every SELL encountered along the
// way — this is the general-purpose replay used both to price a fresh SELL
// and to rebuild a Position from scratch for reconciliation.
func OpenLots(sortedTxs []model.Transaction) []Lot {
	var lots []Lot
	head := 0

	for _, tx := range sortedTxs {
		switch tx.Type {
		case model.TxBuy:
			lots = append(lots, Lot{
				RemainingUnits: tx.Units,
				Nav:            tx.Nav,
				Time:           tx.Time,
				TxID:           tx.TxID,
			})
		case model.TxSell:
			toConsume := tx.Units
			for toConsume.IsPositive() && head < len(lots) {
				lot := &lots[head]
				if money.IsZeroWithEpsilon(lot.RemainingUnits) {
					head++
					continue
				}
				if lot.RemainingUnits.GreaterThan(toConsume) {
					lot.RemainingUnits = lot.RemainingUnits.Sub(toConsume)
					toConsume = decimal.Zero
				} else {
					toConsume = toConsume.Sub(lot.RemainingUnits)
					lot.RemainingUnits = decimal.Zero
					head++
				}
			}
		}
	}

	open := make([]Lot, 0, len(lots)-head)
	for _, l := range lots[head:] {
		if !money.IsZeroWithEpsilon(l.RemainingUnits) {
			open = append(open, l)
		}
	}
	return open
}

// ConsumeResult is the outcome of consuming unitsToSell from the head of
// an open-lot queue.
type ConsumeResult struct {
	RealizedPL     decimal.Decimal
	RemainingLots  []Lot
	ConsumedUnits  decimal.Decimal
}

// Consume walks unitsToSell off the head of lots, accumulating realized
// P/L at currentNav per spec §4.2 step 3. It never mutates the input
// slice. Callers are responsible for checking that the queue holds at
// least unitsToSell (within money.Epsilon) beforehand — Consume itself
// simply stops when the queue is exhausted.
func Consume(lots []Lot, unitsToSell, currentNav decimal.Decimal) ConsumeResult {
	remaining := make([]Lot, len(lots))
	copy(remaining, lots)

	toConsume := unitsToSell
	realizedPL := decimal.Zero
	consumed := decimal.Zero
	head := 0

	for toConsume.IsPositive() && head < len(remaining) {
		lot := &remaining[head]
		var delta decimal.Decimal
		if lot.RemainingUnits.GreaterThan(toConsume) {
			delta = toConsume
		} else {
			delta = lot.RemainingUnits
		}

		realizedPL = realizedPL.Add(currentNav.Sub(lot.Nav).Mul(delta))
		consumed = consumed.Add(delta)
		lot.RemainingUnits = lot.RemainingUnits.Sub(delta)
		toConsume = toConsume.Sub(delta)

		if money.IsZeroWithEpsilon(lot.RemainingUnits) {
			head++
		}
	}

	out := make([]Lot, 0, len(remaining)-head)
	for _, l := range remaining[head:] {
		if !money.IsZeroWithEpsilon(l.RemainingUnits) {
			out = append(out, l)
		}
	}

	return ConsumeResult{
		RealizedPL:    realizedPL,
		RemainingLots: out,
		ConsumedUnits: consumed,
	}
}

// TotalUnits sums the remaining units across an open-lot queue.
func TotalUnits(lots []Lot) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lots {
		total = total.Add(l.RemainingUnits)
	}
	return total
}

// Replay rebuilds the {totalUnits, investedValue, avgNav} aggregate from a
// full, sorted transaction log by summing BUY/SELL units directly (spec
// §8 invariant 1), independent of the FIFO lot mechanics used for pricing
// a specific SELL. investedValue/avgNav follow the same avgNav-preservation
// convention as internal/position: a BUY sets avgNav = investedValue /
// totalUnits, a SELL leaves avgNav unchanged and sets investedValue =
// totalUnits * avgNav.
func Replay(sortedTxs []model.Transaction) model.Position {
	totalUnits := decimal.Zero
	investedValue := decimal.Zero
	avgNav := decimal.Zero

	for _, tx := range sortedTxs {
		switch tx.Type {
		case model.TxBuy:
			if totalUnits.IsZero() {
				totalUnits = tx.Units
				investedValue = tx.Units.Mul(tx.Nav)
			} else {
				totalUnits = totalUnits.Add(tx.Units)
				investedValue = investedValue.Add(tx.Units.Mul(tx.Nav))
			}
			if totalUnits.IsPositive() {
				avgNav = investedValue.Div(totalUnits)
			}
		case model.TxSell:
			totalUnits = totalUnits.Sub(tx.Units)
			if totalUnits.IsPositive() {
				investedValue = totalUnits.Mul(avgNav)
			} else {
				investedValue = decimal.Zero
			}
		}
	}

	if !totalUnits.IsPositive() {
		totalUnits = decimal.Zero
		investedValue = decimal.Zero
	}

	var portfolioID string
	var schemeCode int
	if len(sortedTxs) > 0 {
		portfolioID = sortedTxs[0].PortfolioID
		schemeCode = sortedTxs[0].SchemeCode
	}

	return model.Position{
		PortfolioID:   portfolioID,
		SchemeCode:    schemeCode,
		TotalUnits:    totalUnits,
		InvestedValue: investedValue,
		AvgNav:        avgNav,
	}
}
