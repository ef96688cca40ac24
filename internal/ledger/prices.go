package ledger

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/creatorpad/settlement-engine/internal/journal"
	"github.com/creatorpad/settlement-engine/internal/model"
	"github.com/creatorpad/settlement-engine/internal/ring"
)

// PriceHistoryCap bounds the price history used for volatility.
const PriceHistoryCap = 100

// PriceHistory keeps the most recent spot prices.
type PriceHistory struct {
	buf *ring.Buffer[model.PricePoint]
}

// NewPriceHistory returns an empty history holding PriceHistoryCap points.
func NewPriceHistory() *PriceHistory {
	return &PriceHistory{buf: ring.New[model.PricePoint](PriceHistoryCap)}
}

// Record appends a price observation.
func (p *PriceHistory) Record(j *journal.Journal, price *uint256.Int, at time.Time) {
	p.buf.Push(j, model.PricePoint{Price: new(uint256.Int).Set(price), Timestamp: at})
}

// Len returns the number of stored points.
func (p *PriceHistory) Len() int { return p.buf.Len() }

// Points returns up to n points, newest first.
func (p *PriceHistory) Points(n int) []model.PricePoint { return p.buf.Newest(n) }

// Volatility returns (max - min) * 100 / max over the buffer, or 0 when the
// buffer is empty or every price is zero.
func (p *PriceHistory) Volatility() uint64 {
	if p.buf.Len() == 0 {
		return 0
	}
	var lo, hi *uint256.Int
	p.buf.Walk(func(pt model.PricePoint) bool {
		if lo == nil || pt.Price.Lt(lo) {
			lo = pt.Price
		}
		if hi == nil || pt.Price.Gt(hi) {
			hi = pt.Price
		}
		return true
	})
	if hi.IsZero() {
		return 0
	}
	spread := new(uint256.Int).Sub(hi, lo)
	spread.Mul(spread, uint256.NewInt(100))
	return spread.Div(spread, hi).Uint64()
}
