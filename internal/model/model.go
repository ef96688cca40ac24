// Package model defines the core domain types shared across the settlement
// engine. All on-chain amounts are wei or token base units held in
// holiman/uint256 integers, never float64.
package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PricingModel selects the pricer strategy a token settles against.
type PricingModel string

const (
	// ModelAMM is the constant-product pool (mainnet path).
	ModelAMM PricingModel = "amm"

	// ModelCurve is the linear bonding curve (pre-AMM path).
	ModelCurve PricingModel = "curve"
)

// TradeRecord is an immutable record of a settled buy or sell.
// Once created, these are never modified or deleted.
type TradeRecord struct {
	ID          string         `json:"id"`
	Token       common.Address `json:"token"`
	Trader      common.Address `json:"trader"`
	IsBuy       bool           `json:"is_buy"`
	TokenAmount *uint256.Int   `json:"token_amount"`
	EthValue    *uint256.Int   `json:"eth_value"` // ETH paid in (buy) or paid out net (sell)
	Fee         *uint256.Int   `json:"fee"`
	Price       *uint256.Int   `json:"price"` // spot price after the trade
	Block       uint64         `json:"block"`
	Timestamp   time.Time      `json:"timestamp"`
	Index       uint64         `json:"index"` // 0-based position in the token's settlement order
}

// TopTrader is one slot of the top-10 leaderboard.
type TopTrader struct {
	Trader         common.Address `json:"trader"`
	TotalVolume    *uint256.Int   `json:"total_volume"`
	CurrentBalance *uint256.Int   `json:"current_balance"`
	TradeCount     uint64         `json:"trade_count"`
	FirstTradeTime time.Time      `json:"first_trade_time"`
}

// PricePoint is one entry of the bounded price history.
type PricePoint struct {
	Price     *uint256.Int `json:"price"`
	Timestamp time.Time    `json:"timestamp"`
}

// TokenInfo is the static description of a launched token.
type TokenInfo struct {
	Address     common.Address `json:"address"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	Creator     common.Address `json:"creator"`
	Model       PricingModel   `json:"model"`
	TotalSupply *uint256.Int   `json:"total_supply"`
	LaunchedAt  time.Time      `json:"launched_at"`
}

// TokenStats is the analytics view returned by getTokenStats.
type TokenStats struct {
	TokenInfo

	CurrentPrice         *uint256.Int `json:"current_price"`
	MarketCap            *uint256.Int `json:"market_cap"`
	CirculatingSupply    *uint256.Int `json:"circulating_supply"`
	EthReserve           *uint256.Int `json:"eth_reserve"`
	TokenReserve         *uint256.Int `json:"token_reserve"`
	EthBalance           *uint256.Int `json:"eth_balance"`
	HolderCount          uint64       `json:"holder_count"`
	TotalTrades          uint64       `json:"total_trades"`
	TotalUniqueTraders   uint64       `json:"total_unique_traders"`
	TotalVolume          *uint256.Int `json:"total_volume"`
	DailyVolume          *uint256.Int `json:"daily_volume"`
	Volume24h            *uint256.Int `json:"volume_24h"`
	CreatorFeePool       *uint256.Int `json:"creator_fee_pool"`
	CreatorFeesClaimed   *uint256.Int `json:"creator_fees_claimed"`
	LiquidityLocked      bool         `json:"liquidity_locked"`
	LiquidityLockedUntil time.Time    `json:"liquidity_locked_until,omitempty"`
	Streaming            bool         `json:"streaming"`
}

// RiskLevel buckets a risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskAssessment is the output of the risk scorer. Ratios are integer
// percentages, saturated at the uint64 range.
type RiskAssessment struct {
	Level               RiskLevel `json:"level"`
	Score               uint64    `json:"score"` // 0-100
	LiquidityRatio      uint64    `json:"liquidity_ratio"`
	HolderConcentration uint64    `json:"holder_concentration"`
	TradingVolumeRatio  uint64    `json:"trading_volume_ratio"`
	PriceVolatility     uint64    `json:"price_volatility"`
	ContractAgeDays     uint64    `json:"contract_age_days"`
	AuditScore          uint64    `json:"audit_score"`
	LiquidityLocked     bool      `json:"liquidity_locked"`
	Multisig            bool      `json:"multisig"`
	Factors             []string  `json:"factors"`
}
