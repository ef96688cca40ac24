package settlement

import (
	"github.com/holiman/uint256"

	"github.com/creatorpad/settlement-engine/internal/amm"
	"github.com/creatorpad/settlement-engine/internal/curve"
	"github.com/creatorpad/settlement-engine/internal/model"
)

// Market is the pricer's view of engine state.
type Market struct {
	ETH       *uint256.Int // ETH reserve (curve collateral on the curve path)
	Token     *uint256.Int // tokens still held by the pool or curve
	Streaming bool
}

// BuyQuote is a priced buy.
type BuyQuote struct {
	EthIn     *uint256.Int `json:"eth_in"`
	Fee       *uint256.Int `json:"fee"`
	Premium   *uint256.Int `json:"premium"` // streaming bonus, paid to the creator
	ToReserve *uint256.Int `json:"to_reserve"`
	TokensOut *uint256.Int `json:"tokens_out"`
	After     Market       `json:"-"`
}

// SellQuote is a priced sell.
type SellQuote struct {
	TokenAmount *uint256.Int `json:"token_amount"`
	GrossEthOut *uint256.Int `json:"gross_eth_out"`
	Fee         *uint256.Int `json:"fee"`
	NetEthOut   *uint256.Int `json:"net_eth_out"`
	After       Market       `json:"-"`
}

// Pricer prices trades against engine state. Quotes are pure: the engine
// applies After when it executes, so quoting and settling share one code path.
type Pricer interface {
	Model() model.PricingModel
	QuoteBuy(m Market, ethIn *uint256.Int) (BuyQuote, error)
	QuoteSell(m Market, tokenAmount *uint256.Int) (SellQuote, error)
	// BuyCost returns the smallest ETH value that buys at least n tokens.
	BuyCost(m Market, n *uint256.Int) (*uint256.Int, error)
	SpotPrice(m Market) *uint256.Int
}

type ammPricer struct {
	mm *amm.MarketMaker
}

func (p ammPricer) Model() model.PricingModel { return model.ModelAMM }

func (p ammPricer) QuoteBuy(m Market, ethIn *uint256.Int) (BuyQuote, error) {
	q, err := p.mm.QuoteBuy(amm.Pool{ETH: m.ETH, Token: m.Token}, ethIn)
	if err != nil {
		return BuyQuote{}, err
	}
	return BuyQuote{
		EthIn:     q.EthIn,
		Fee:       q.Fee,
		Premium:   new(uint256.Int),
		ToReserve: q.EthAfterFee,
		TokensOut: q.TokensOut,
		After:     Market{ETH: q.After.ETH, Token: q.After.Token, Streaming: m.Streaming},
	}, nil
}

func (p ammPricer) QuoteSell(m Market, tokenAmount *uint256.Int) (SellQuote, error) {
	q, err := p.mm.QuoteSell(amm.Pool{ETH: m.ETH, Token: m.Token}, tokenAmount)
	if err != nil {
		return SellQuote{}, err
	}
	return SellQuote{
		TokenAmount: q.TokenAmount,
		GrossEthOut: q.GrossEthOut,
		Fee:         q.Fee,
		NetEthOut:   q.NetEthOut,
		After:       Market{ETH: q.After.ETH, Token: q.After.Token, Streaming: m.Streaming},
	}, nil
}

func (p ammPricer) BuyCost(m Market, n *uint256.Int) (*uint256.Int, error) {
	return p.mm.EthInForTokens(amm.Pool{ETH: m.ETH, Token: m.Token}, n)
}

func (p ammPricer) SpotPrice(m Market) *uint256.Int {
	return amm.Price(amm.Pool{ETH: m.ETH, Token: m.Token})
}

// curvePricer settles against the linear bonding curve. The trading fee is
// charged like the pool's; while the creator is live, buyers also pay a
// premium of bonusBps on top of the curve cost.
type curvePricer struct {
	c        *curve.Curve
	mm       *amm.MarketMaker
	bonusBps uint64
}

func (p curvePricer) Model() model.PricingModel { return model.ModelCurve }

func (p curvePricer) sold(m Market) *uint256.Int {
	s := p.c.Supply()
	if m.Token.Gt(s) {
		return new(uint256.Int)
	}
	return s.Sub(s, m.Token)
}

func (p curvePricer) QuoteBuy(m Market, ethIn *uint256.Int) (BuyQuote, error) {
	if ethIn == nil || ethIn.IsZero() {
		return BuyQuote{}, amm.ErrZeroInput
	}
	fee := p.mm.Fee(ethIn)
	net := new(uint256.Int).Sub(ethIn, fee)

	budget := net
	if m.Streaming && p.bonusBps > 0 {
		budget = new(uint256.Int).Mul(net, uint256.NewInt(amm.FeeDenominator))
		budget.Div(budget, uint256.NewInt(amm.FeeDenominator+p.bonusBps))
	}
	if budget.IsZero() {
		return BuyQuote{}, amm.ErrZeroOutput
	}

	sold := p.sold(m)
	tokens, err := p.c.TokensForEth(sold, budget)
	if err != nil {
		return BuyQuote{}, err
	}
	if tokens.IsZero() {
		if sold.Eq(p.c.Supply()) {
			return BuyQuote{}, curve.ErrSupplyExhausted
		}
		return BuyQuote{}, amm.ErrZeroOutput
	}
	cost, err := p.c.BuyCost(sold, tokens)
	if err != nil {
		return BuyQuote{}, err
	}
	premium := new(uint256.Int)
	if m.Streaming {
		premium = curve.Premium(cost, p.bonusBps)
	}

	// Rounding dust between the curve cost and the budget stays in the
	// reserve as extra collateral.
	toReserve := new(uint256.Int).Sub(net, premium)
	return BuyQuote{
		EthIn:     new(uint256.Int).Set(ethIn),
		Fee:       fee,
		Premium:   premium,
		ToReserve: toReserve,
		TokensOut: tokens,
		After: Market{
			ETH:       new(uint256.Int).Add(m.ETH, toReserve),
			Token:     new(uint256.Int).Sub(m.Token, tokens),
			Streaming: m.Streaming,
		},
	}, nil
}

func (p curvePricer) QuoteSell(m Market, tokenAmount *uint256.Int) (SellQuote, error) {
	if tokenAmount == nil || tokenAmount.IsZero() {
		return SellQuote{}, amm.ErrZeroInput
	}
	gross, err := p.c.SellProceeds(p.sold(m), tokenAmount)
	if err != nil {
		return SellQuote{}, err
	}
	if gross.Gt(m.ETH) {
		return SellQuote{}, ErrInsufficientReserve
	}
	fee := p.mm.Fee(gross)
	net := new(uint256.Int).Sub(gross, fee)
	if net.IsZero() {
		return SellQuote{}, amm.ErrZeroOutput
	}
	return SellQuote{
		TokenAmount: new(uint256.Int).Set(tokenAmount),
		GrossEthOut: gross,
		Fee:         fee,
		NetEthOut:   net,
		After: Market{
			ETH:       new(uint256.Int).Sub(m.ETH, gross),
			Token:     new(uint256.Int).Add(m.Token, tokenAmount),
			Streaming: m.Streaming,
		},
	}, nil
}

func (p curvePricer) BuyCost(m Market, n *uint256.Int) (*uint256.Int, error) {
	cost, err := p.c.BuyCost(p.sold(m), n)
	if err != nil {
		return nil, err
	}
	need := new(uint256.Int).Set(cost)
	if m.Streaming {
		need.Add(need, curve.Premium(cost, p.bonusBps))
	}
	return p.mm.GrossForNet(need)
}

func (p curvePricer) SpotPrice(m Market) *uint256.Int {
	return p.c.Price(p.sold(m))
}
