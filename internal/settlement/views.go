package settlement

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/creatorpad/settlement-engine/internal/amm"
	"github.com/creatorpad/settlement-engine/internal/guard"
	"github.com/creatorpad/settlement-engine/internal/model"
	"github.com/creatorpad/settlement-engine/internal/risk"
)

// Reserves is a snapshot of the engine's ETH accounting.
type Reserves struct {
	EthReserve   *uint256.Int `json:"eth_reserve"`
	TokenReserve *uint256.Int `json:"token_reserve"`
	FeePool      *uint256.Int `json:"fee_pool"`
	EthBalance   *uint256.Int `json:"eth_balance"`
}

// GetCurrentPrice returns the spot price of one whole token in wei.
func (e *Engine) GetCurrentPrice() *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pricer.SpotPrice(e.market)
}

// Reserves returns the current reserves and balances.
func (e *Engine) Reserves() Reserves {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Reserves{
		EthReserve:   new(uint256.Int).Set(e.market.ETH),
		TokenReserve: new(uint256.Int).Set(e.market.Token),
		FeePool:      new(uint256.Int).Set(e.feePool),
		EthBalance:   new(uint256.Int).Set(e.balance),
	}
}

// BalanceOf returns a holder's token balance.
func (e *Engine) BalanceOf(addr common.Address) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.holders.BalanceOf(addr)
}

// HolderCount returns the number of addresses with a positive balance.
func (e *Engine) HolderCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.holders.Count()
}

// GuardState returns the rate-limit state of a user.
func (e *Engine) GuardState(addr common.Address) (guard.RateState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.guard.State(addr)
}

// GetTopTraders returns the leaderboard, highest volume first.
func (e *Engine) GetTopTraders() []model.TopTrader {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trades.TopTraders()
}

// GetTradeHistory returns up to limit trades, newest first.
func (e *Engine) GetTradeHistory(limit int) []model.TradeRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trades.Recent(limit)
}

// GetPriceHistory returns up to limit price points, newest first.
func (e *Engine) GetPriceHistory(limit int) []model.PricePoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.prices.Points(limit)
}

// GetTokenStats returns the analytics snapshot.
func (e *Engine) GetTokenStats() model.TokenStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	now := e.clock.Now().UTC()

	price := e.pricer.SpotPrice(e.market)
	stats := model.TokenStats{
		TokenInfo:          e.info,
		CurrentPrice:       price,
		MarketCap:          e.marketCap(price),
		CirculatingSupply:  new(uint256.Int).Sub(e.info.TotalSupply, e.market.Token),
		EthReserve:         new(uint256.Int).Set(e.market.ETH),
		TokenReserve:       new(uint256.Int).Set(e.market.Token),
		EthBalance:         new(uint256.Int).Set(e.balance),
		HolderCount:        e.holders.Count(),
		TotalTrades:        e.trades.TotalTrades(),
		TotalUniqueTraders: e.trades.UniqueTraders(),
		TotalVolume:        e.trades.TotalVolume(),
		DailyVolume:        e.trades.DailyVolume(),
		Volume24h:          e.trades.Volume24h(now),
		CreatorFeePool:     new(uint256.Int).Set(e.feePool),
		CreatorFeesClaimed: new(uint256.Int).Set(e.claimed),
		LiquidityLocked:    e.liquidityLocked(now),
		Streaming:          e.market.Streaming,
	}
	stats.TotalSupply = new(uint256.Int).Set(e.info.TotalSupply)
	if !e.lockUntil.IsZero() {
		stats.LiquidityLockedUntil = e.lockUntil
	}
	return stats
}

// GetRiskAssessment scores the token's current risk.
func (e *Engine) GetRiskAssessment() model.RiskAssessment {
	e.mu.RLock()
	defer e.mu.RUnlock()
	now := e.clock.Now().UTC()

	return risk.Assess(risk.Inputs{
		MarketCap:       e.marketCap(e.pricer.SpotPrice(e.market)),
		EthBalance:      e.balance,
		CreatorBalance:  e.holders.BalanceOf(e.info.Creator),
		TotalSupply:     e.info.TotalSupply,
		DailyVolume:     e.trades.DailyVolume(),
		Volatility:      e.prices.Volatility(),
		LaunchedAt:      e.info.LaunchedAt,
		Now:             now,
		LiquidityLocked: e.liquidityLocked(now),
		Multisig:        e.cfg.Multisig,
	})
}

// marketCap values the whole supply at price.
func (e *Engine) marketCap(price *uint256.Int) *uint256.Int {
	mc, overflow := new(uint256.Int).MulOverflow(price, e.info.TotalSupply)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return mc.Div(mc, amm.Wad)
}

func (e *Engine) liquidityLocked(now time.Time) bool {
	return now.Before(e.lockUntil)
}
