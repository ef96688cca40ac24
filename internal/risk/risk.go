// Package risk scores a token's risk from its reserves, holder concentration,
// trading activity and price history.
//
// Scoring is additive. Each metric contributes points by threshold and the
// total is capped at 100:
//
//	liquidity ratio   >1000%: 30   >500%: 20   >200%: 10   no ETH backing: 30
//	concentration     >50%: 30     >20%: 20    >10%: 10
//	volume ratio      >100%: 15    <1%: 10
//	volatility        >50%: 25     >20%: 15    >10%: 5
//	contract age      <1 day: 10   <7 days: 5
//	liquidity lock    unlocked: 10
//	multisig          absent: 5
//	audit             (100 - audit score) / 10
//
// Levels: low <25, medium <50, high <75, critical otherwise.
package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/holiman/uint256"

	"github.com/creatorpad/settlement-engine/internal/model"
)

// AuditScore is the fixed audit score applied to every token.
const AuditScore = 80

// Inputs are the raw figures the scorer works from.
type Inputs struct {
	MarketCap       *uint256.Int
	EthBalance      *uint256.Int
	CreatorBalance  *uint256.Int
	TotalSupply     *uint256.Int
	DailyVolume     *uint256.Int
	Volatility      uint64 // percent, from the price history
	LaunchedAt      time.Time
	Now             time.Time
	LiquidityLocked bool
	Multisig        bool
}

// Assess computes the risk assessment. It never fails; undefined ratios
// (zero denominators) are reported as 0.
func Assess(in Inputs) model.RiskAssessment {
	a := model.RiskAssessment{
		LiquidityRatio:      percent(in.MarketCap, in.EthBalance),
		HolderConcentration: percent(in.CreatorBalance, in.TotalSupply),
		TradingVolumeRatio:  percent(in.DailyVolume, in.MarketCap),
		PriceVolatility:     in.Volatility,
		AuditScore:          AuditScore,
		LiquidityLocked:     in.LiquidityLocked,
		Multisig:            in.Multisig,
		Factors:             []string{},
	}
	if in.Now.After(in.LaunchedAt) {
		a.ContractAgeDays = uint64(in.Now.Sub(in.LaunchedAt) / (24 * time.Hour))
	}

	var score uint64
	add := func(points uint64, format string, args ...any) {
		score += points
		a.Factors = append(a.Factors, fmt.Sprintf(format, args...))
	}

	switch r := a.LiquidityRatio; {
	case isZero(in.EthBalance) && !isZero(in.MarketCap):
		add(30, "no ETH backing")
	case r > 1000:
		add(30, "market cap is %d%% of ETH backing", r)
	case r > 500:
		add(20, "market cap is %d%% of ETH backing", r)
	case r > 200:
		add(10, "market cap is %d%% of ETH backing", r)
	}

	switch c := a.HolderConcentration; {
	case c > 50:
		add(30, "creator holds %d%% of supply", c)
	case c > 20:
		add(20, "creator holds %d%% of supply", c)
	case c > 10:
		add(10, "creator holds %d%% of supply", c)
	}

	switch v := a.TradingVolumeRatio; {
	case v > 100:
		add(15, "daily volume is %d%% of market cap", v)
	case v < 1:
		add(10, "thin trading: daily volume under 1%% of market cap")
	}

	switch v := a.PriceVolatility; {
	case v > 50:
		add(25, "price spread %d%% over recent trades", v)
	case v > 20:
		add(15, "price spread %d%% over recent trades", v)
	case v > 10:
		add(5, "price spread %d%% over recent trades", v)
	}

	switch age := in.Now.Sub(in.LaunchedAt); {
	case age < 24*time.Hour:
		add(10, "launched less than a day ago")
	case age < 7*24*time.Hour:
		add(5, "launched less than a week ago")
	}

	if !in.LiquidityLocked {
		add(10, "liquidity not locked")
	}
	if !in.Multisig {
		add(5, "no multisig control")
	}
	if p := uint64((100 - AuditScore) / 10); p > 0 {
		add(p, "audit score %d", AuditScore)
	}

	a.Score = min(score, 100)
	a.Level = LevelFor(a.Score)
	return a
}

// LevelFor buckets a score.
func LevelFor(score uint64) model.RiskLevel {
	switch {
	case score < 25:
		return model.RiskLow
	case score < 50:
		return model.RiskMedium
	case score < 75:
		return model.RiskHigh
	default:
		return model.RiskCritical
	}
}

// percent returns num*100/den saturated to uint64, or 0 when den is zero.
func percent(num, den *uint256.Int) uint64 {
	if isZero(num) || isZero(den) {
		return 0
	}
	n, overflow := new(uint256.Int).MulOverflow(num, uint256.NewInt(100))
	if overflow {
		// num*100 exceeds 256 bits; divide first.
		n = new(uint256.Int).Div(num, den)
		if !n.IsUint64() || n.Uint64() > math.MaxUint64/100 {
			return math.MaxUint64
		}
		return n.Uint64() * 100
	}
	n.Div(n, den)
	if !n.IsUint64() {
		return math.MaxUint64
	}
	return n.Uint64()
}

func isZero(x *uint256.Int) bool { return x == nil || x.IsZero() }
