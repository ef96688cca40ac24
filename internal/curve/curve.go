// Package curve implements the linear bonding curve used before a token's AMM
// pool is seeded.
//
// Price is a function of the cumulative supply sold s over the sale supply S:
//
//	price(s) = P0 + (P1 - P0) * s / S
//
// where P1 is the price at which the whole sale supply is worth the target
// market cap and P0 = P1 / InitialPriceDivisor. Prices are wei per 1e18 token
// units. Buy costs round up and sell proceeds round down, so selling what was
// just bought never returns more than was paid.
package curve

import (
	"errors"

	"github.com/holiman/uint256"
)

const (
	// InitialPriceDivisor sets the opening price relative to the final price.
	InitialPriceDivisor uint64 = 100

	bpsDenominator uint64 = 10000
)

var (
	// ErrInvalidSupply is returned when the sale supply is zero.
	ErrInvalidSupply = errors.New("curve: sale supply must be positive")

	// ErrPriceTooLow is returned when the target market cap is too small for
	// the supply to produce a non-zero opening price.
	ErrPriceTooLow = errors.New("curve: target market cap too small for supply")

	// ErrSupplyExhausted is returned when a trade moves past either end of
	// the curve.
	ErrSupplyExhausted = errors.New("curve: trade exceeds available supply")

	// ErrZeroAmount is returned for zero-sized trades.
	ErrZeroAmount = errors.New("curve: amount must be positive")

	// ErrOverflow is returned when an intermediate product exceeds 256 bits.
	ErrOverflow = errors.New("curve: arithmetic overflow")

	wad = uint256.NewInt(1_000_000_000_000_000_000)
)

// Curve is an immutable linear bonding curve configuration.
type Curve struct {
	supply    *uint256.Int
	targetCap *uint256.Int
	p0        *uint256.Int
	p1        *uint256.Int
}

// New builds a curve over saleSupply token units that reaches targetMarketCap
// wei when fully sold.
func New(saleSupply, targetMarketCap *uint256.Int) (*Curve, error) {
	if saleSupply == nil || saleSupply.IsZero() {
		return nil, ErrInvalidSupply
	}
	if targetMarketCap == nil {
		return nil, ErrPriceTooLow
	}
	p1, overflow := new(uint256.Int).MulOverflow(targetMarketCap, wad)
	if overflow {
		return nil, ErrOverflow
	}
	p1.Div(p1, saleSupply)
	p0 := new(uint256.Int).Div(p1, uint256.NewInt(InitialPriceDivisor))
	if p0.IsZero() {
		return nil, ErrPriceTooLow
	}
	return &Curve{
		supply:    new(uint256.Int).Set(saleSupply),
		targetCap: new(uint256.Int).Set(targetMarketCap),
		p0:        p0,
		p1:        p1,
	}, nil
}

// WithTargetMarketCap returns a curve over the same supply with a new target.
func (c *Curve) WithTargetMarketCap(targetMarketCap *uint256.Int) (*Curve, error) {
	return New(c.supply, targetMarketCap)
}

// Supply returns the sale supply S.
func (c *Curve) Supply() *uint256.Int { return new(uint256.Int).Set(c.supply) }

// TargetMarketCap returns the configured target market cap in wei.
func (c *Curve) TargetMarketCap() *uint256.Int { return new(uint256.Int).Set(c.targetCap) }

// Price returns the spot price after sold units have been sold.
func (c *Curve) Price(sold *uint256.Int) *uint256.Int {
	s := sold
	if s.Gt(c.supply) {
		s = c.supply
	}
	slope := new(uint256.Int).Sub(c.p1, c.p0)
	delta := new(uint256.Int).Mul(slope, s)
	delta.Div(delta, c.supply)
	return delta.Add(delta, c.p0)
}

// integral returns the numerator and denominator of the area under the curve
// from sold to sold+n, in wei:
//
//	(2*S*P0*n + (P1-P0)*(2*s*n + n^2)) / (2*S*1e18)
func (c *Curve) integral(sold, n *uint256.Int) (num, den *uint256.Int, err error) {
	end, overflow := new(uint256.Int).AddOverflow(sold, n)
	if overflow || end.Gt(c.supply) {
		return nil, nil, ErrSupplyExhausted
	}

	mul := func(x, y *uint256.Int) *uint256.Int {
		if err != nil {
			return new(uint256.Int)
		}
		z, o := new(uint256.Int).MulOverflow(x, y)
		if o {
			err = ErrOverflow
		}
		return z
	}

	twoS := new(uint256.Int).Lsh(c.supply, 1)
	base := mul(mul(twoS, c.p0), n)

	twoSN := mul(new(uint256.Int).Lsh(sold, 1), n)
	nn := mul(n, n)
	span, o := new(uint256.Int).AddOverflow(twoSN, nn)
	if o && err == nil {
		err = ErrOverflow
	}
	slope := new(uint256.Int).Sub(c.p1, c.p0)
	ramp := mul(slope, span)

	num, o = new(uint256.Int).AddOverflow(base, ramp)
	if o && err == nil {
		err = ErrOverflow
	}
	den = mul(twoS, wad)
	if err != nil {
		return nil, nil, err
	}
	return num, den, nil
}

// BuyCost returns the wei needed to buy n units after sold, rounded up.
func (c *Curve) BuyCost(sold, n *uint256.Int) (*uint256.Int, error) {
	if n == nil || n.IsZero() {
		return nil, ErrZeroAmount
	}
	num, den, err := c.integral(sold, n)
	if err != nil {
		return nil, err
	}
	cost := new(uint256.Int).Add(num, den)
	cost.SubUint64(cost, 1)
	return cost.Div(cost, den), nil
}

// SellProceeds returns the wei released by selling n units back down the
// curve from sold, rounded down.
func (c *Curve) SellProceeds(sold, n *uint256.Int) (*uint256.Int, error) {
	if n == nil || n.IsZero() {
		return nil, ErrZeroAmount
	}
	if n.Gt(sold) {
		return nil, ErrSupplyExhausted
	}
	start := new(uint256.Int).Sub(sold, n)
	num, den, err := c.integral(start, n)
	if err != nil {
		return nil, err
	}
	return num.Div(num, den), nil
}

// TokensForEth returns the largest n such that BuyCost(sold, n) <= budget.
// The answer is found by bisection over the remaining supply, which is exact
// for the monotone cost function.
func (c *Curve) TokensForEth(sold, budget *uint256.Int) (*uint256.Int, error) {
	if budget == nil || budget.IsZero() {
		return nil, ErrZeroAmount
	}
	if sold.Gt(c.supply) {
		return nil, ErrSupplyExhausted
	}
	lo := new(uint256.Int)
	hi := new(uint256.Int).Sub(c.supply, sold)
	for lo.Lt(hi) {
		// mid = lo + (hi-lo+1)/2, biased up so the loop always shrinks.
		mid := new(uint256.Int).Sub(hi, lo)
		mid.AddUint64(mid, 1)
		mid.Rsh(mid, 1)
		mid.Add(mid, lo)

		cost, err := c.BuyCost(sold, mid)
		if err != nil {
			return nil, err
		}
		if cost.Gt(budget) {
			hi = mid.SubUint64(mid, 1)
		} else {
			lo = mid
		}
	}
	return lo, nil
}

// Premium returns the extra wei charged on top of cost while the streaming
// bonus is active: ceil(cost * bonusBps / 10000).
func Premium(cost *uint256.Int, bonusBps uint64) *uint256.Int {
	if bonusBps == 0 || cost.IsZero() {
		return new(uint256.Int)
	}
	p := new(uint256.Int).Mul(cost, uint256.NewInt(bonusBps))
	p.AddUint64(p, bpsDenominator-1)
	return p.Div(p, uint256.NewInt(bpsDenominator))
}
