// Package amm implements the constant-product (x*y=k) market maker that
// settles creator-token trades against an ETH/token reserve pair.
//
// The market maker is stateless: reserves are passed in and the resulting
// reserves are returned as part of every quote, so the same code path serves
// read-only quotes and executed trades. All amounts are wei-denominated
// unsigned 256-bit integers; division always rounds toward zero, exactly as
// the on-chain formulas do.
package amm

import (
	"errors"

	"github.com/holiman/uint256"
)

const (
	// DefaultFeeBps is the flat trading fee: 30 basis points (0.3%).
	DefaultFeeBps uint64 = 30

	// FeeDenominator is the basis-point denominator.
	FeeDenominator uint64 = 10000
)

var (
	// ErrZeroInput is returned when a trade or quote is requested for zero.
	ErrZeroInput = errors.New("amm: input amount must be positive")

	// ErrZeroOutput is returned when a trade would pay out nothing.
	ErrZeroOutput = errors.New("amm: trade output rounds to zero")

	// ErrInsufficientLiquidity is returned when a trade would drain a reserve
	// to zero or ask for more than it holds.
	ErrInsufficientLiquidity = errors.New("amm: trade would drain the reserve")

	// ErrEmptyReserves is returned when either reserve is zero.
	ErrEmptyReserves = errors.New("amm: reserves must be positive")

	// ErrInvalidFee is returned when the fee is not below the denominator.
	ErrInvalidFee = errors.New("amm: fee must be below the denominator")

	// ErrOverflow is returned when an intermediate product exceeds 256 bits.
	ErrOverflow = errors.New("amm: arithmetic overflow")

	// Wad is the 1e18 fixed-point scale used for prices.
	Wad = uint256.NewInt(1_000_000_000_000_000_000)

	feeDenominator = uint256.NewInt(FeeDenominator)
)

// Pool is a snapshot of the ETH and token reserves.
type Pool struct {
	ETH   *uint256.Int `json:"eth"`
	Token *uint256.Int `json:"token"`
}

// K returns ETH*Token.
func (p Pool) K() (*uint256.Int, error) {
	k, overflow := new(uint256.Int).MulOverflow(p.ETH, p.Token)
	if overflow {
		return nil, ErrOverflow
	}
	return k, nil
}

func (p Pool) validate() error {
	if p.ETH == nil || p.Token == nil || p.ETH.IsZero() || p.Token.IsZero() {
		return ErrEmptyReserves
	}
	return nil
}

// BuyQuote is the full breakdown of an ETH -> token swap.
type BuyQuote struct {
	EthIn       *uint256.Int
	Fee         *uint256.Int
	EthAfterFee *uint256.Int
	TokensOut   *uint256.Int
	After       Pool
}

// SellQuote is the full breakdown of a token -> ETH swap.
type SellQuote struct {
	TokenAmount *uint256.Int
	GrossEthOut *uint256.Int
	Fee         *uint256.Int
	NetEthOut   *uint256.Int
	After       Pool
}

// MarketMaker prices swaps against a constant-product pool with a flat fee.
type MarketMaker struct {
	feeBps uint64
}

// NewMarketMaker creates a market maker charging feeBps basis points.
func NewMarketMaker(feeBps uint64) (*MarketMaker, error) {
	if feeBps >= FeeDenominator {
		return nil, ErrInvalidFee
	}
	return &MarketMaker{feeBps: feeBps}, nil
}

// FeeBps returns the trading fee in basis points.
func (m *MarketMaker) FeeBps() uint64 {
	return m.feeBps
}

// Fee returns amount*feeBps/10000.
func (m *MarketMaker) Fee(amount *uint256.Int) *uint256.Int {
	fee := new(uint256.Int).Mul(amount, uint256.NewInt(m.feeBps))
	return fee.Div(fee, feeDenominator)
}

// QuoteBuy prices a buy of ethIn wei. The fee is taken from the input before
// the swap:
//
//	fee       = ethIn * feeBps / 10000
//	tokensOut = T - (E * T) / (E + ethIn - fee)
func (m *MarketMaker) QuoteBuy(p Pool, ethIn *uint256.Int) (BuyQuote, error) {
	if err := p.validate(); err != nil {
		return BuyQuote{}, err
	}
	if ethIn == nil || ethIn.IsZero() {
		return BuyQuote{}, ErrZeroInput
	}

	fee := m.Fee(ethIn)
	afterFee := new(uint256.Int).Sub(ethIn, fee)

	k, err := p.K()
	if err != nil {
		return BuyQuote{}, err
	}
	newETH, overflow := new(uint256.Int).AddOverflow(p.ETH, afterFee)
	if overflow {
		return BuyQuote{}, ErrOverflow
	}
	newToken := new(uint256.Int).Div(k, newETH)
	if newToken.IsZero() {
		return BuyQuote{}, ErrInsufficientLiquidity
	}
	tokensOut := new(uint256.Int).Sub(p.Token, newToken)
	if tokensOut.IsZero() {
		return BuyQuote{}, ErrZeroOutput
	}

	return BuyQuote{
		EthIn:       new(uint256.Int).Set(ethIn),
		Fee:         fee,
		EthAfterFee: afterFee,
		TokensOut:   tokensOut,
		After:       Pool{ETH: newETH, Token: newToken},
	}, nil
}

// QuoteSell prices a sell of tokenAmount tokens. The fee is taken from the
// gross ETH output; the reserve releases the gross amount:
//
//	gross = E - (E * T) / (T + tokenAmount)
//	net   = gross - gross * feeBps / 10000
func (m *MarketMaker) QuoteSell(p Pool, tokenAmount *uint256.Int) (SellQuote, error) {
	if err := p.validate(); err != nil {
		return SellQuote{}, err
	}
	if tokenAmount == nil || tokenAmount.IsZero() {
		return SellQuote{}, ErrZeroInput
	}

	k, err := p.K()
	if err != nil {
		return SellQuote{}, err
	}
	newToken, overflow := new(uint256.Int).AddOverflow(p.Token, tokenAmount)
	if overflow {
		return SellQuote{}, ErrOverflow
	}
	newETH := new(uint256.Int).Div(k, newToken)
	if newETH.IsZero() {
		return SellQuote{}, ErrInsufficientLiquidity
	}
	gross := new(uint256.Int).Sub(p.ETH, newETH)
	fee := m.Fee(gross)
	net := new(uint256.Int).Sub(gross, fee)
	if net.IsZero() {
		return SellQuote{}, ErrZeroOutput
	}

	return SellQuote{
		TokenAmount: new(uint256.Int).Set(tokenAmount),
		GrossEthOut: gross,
		Fee:         fee,
		NetEthOut:   net,
		After:       Pool{ETH: newETH, Token: newToken},
	}, nil
}

// EthInForTokens returns the smallest ETH input whose QuoteBuy yields at
// least n tokens. It inverts the integer formula exactly, so
// QuoteBuy(EthInForTokens(n)).TokensOut >= n and one wei less falls short.
func (m *MarketMaker) EthInForTokens(p Pool, n *uint256.Int) (*uint256.Int, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if n == nil || n.IsZero() {
		return nil, ErrZeroInput
	}
	if !n.Lt(p.Token) {
		return nil, ErrInsufficientLiquidity
	}

	k, err := p.K()
	if err != nil {
		return nil, err
	}

	// floor(k/D) <= T-n  <=>  D >= floor(k/(T-n+1)) + 1
	remaining := new(uint256.Int).Sub(p.Token, n)
	remaining.AddUint64(remaining, 1)
	minETH := new(uint256.Int).Div(k, remaining)
	minETH.AddUint64(minETH, 1)
	afterFee := new(uint256.Int).Sub(minETH, p.ETH)

	return m.GrossForNet(afterFee)
}

// GrossForNet returns the smallest input whose after-fee amount is at least
// net: the least g with g - Fee(g) >= net.
func (m *MarketMaker) GrossForNet(net *uint256.Int) (*uint256.Int, error) {
	if net.IsZero() {
		return new(uint256.Int), nil
	}
	keep := uint256.NewInt(FeeDenominator - m.feeBps)
	gross, overflow := new(uint256.Int).MulOverflow(net, feeDenominator)
	if overflow {
		return nil, ErrOverflow
	}
	gross.Add(gross, keep)
	gross.SubUint64(gross, 1)
	gross.Div(gross, keep)

	// The ceiling estimate can overshoot by a wei or two; step down.
	for gross.GtUint64(1) {
		lower := new(uint256.Int).SubUint64(gross, 1)
		if new(uint256.Int).Sub(lower, m.Fee(lower)).Lt(net) {
			break
		}
		gross = lower
	}
	return gross, nil
}

// Price returns the spot price of one whole token (1e18 units) in wei:
// ETH * 1e18 / Token.
func Price(p Pool) *uint256.Int {
	if p.validate() != nil {
		return new(uint256.Int)
	}
	price, overflow := new(uint256.Int).MulOverflow(p.ETH, Wad)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return price.Div(price, p.Token)
}

// AddLiquidity returns the tokens that must accompany ethIn to keep the
// reserve ratio (rounded up in the pool's favour) and the resulting pool.
func AddLiquidity(p Pool, ethIn *uint256.Int) (*uint256.Int, Pool, error) {
	if err := p.validate(); err != nil {
		return nil, Pool{}, err
	}
	if ethIn == nil || ethIn.IsZero() {
		return nil, Pool{}, ErrZeroInput
	}
	num, overflow := new(uint256.Int).MulOverflow(ethIn, p.Token)
	if overflow {
		return nil, Pool{}, ErrOverflow
	}
	num.Add(num, p.ETH)
	num.SubUint64(num, 1)
	tokens := num.Div(num, p.ETH)

	return tokens, Pool{
		ETH:   new(uint256.Int).Add(p.ETH, ethIn),
		Token: new(uint256.Int).Add(p.Token, tokens),
	}, nil
}

// RemoveLiquidity withdraws shareBps/10000 of both reserves. A full
// withdrawal is refused because the pool must never reach zero.
func RemoveLiquidity(p Pool, shareBps uint64) (ethOut, tokensOut *uint256.Int, after Pool, err error) {
	if err := p.validate(); err != nil {
		return nil, nil, Pool{}, err
	}
	if shareBps == 0 {
		return nil, nil, Pool{}, ErrZeroInput
	}
	if shareBps >= FeeDenominator {
		return nil, nil, Pool{}, ErrInsufficientLiquidity
	}
	share := uint256.NewInt(shareBps)
	ethOut = new(uint256.Int).Mul(p.ETH, share)
	ethOut.Div(ethOut, feeDenominator)
	tokensOut = new(uint256.Int).Mul(p.Token, share)
	tokensOut.Div(tokensOut, feeDenominator)
	if ethOut.IsZero() || tokensOut.IsZero() {
		return nil, nil, Pool{}, ErrZeroOutput
	}

	after = Pool{
		ETH:   new(uint256.Int).Sub(p.ETH, ethOut),
		Token: new(uint256.Int).Sub(p.Token, tokensOut),
	}
	return ethOut, tokensOut, after, nil
}
