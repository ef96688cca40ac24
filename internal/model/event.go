package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventType names an event in the settlement engine's indexing vocabulary.
type EventType string

const (
	EventTokenPurchased     EventType = "TokenPurchased"
	EventTokenSold          EventType = "TokenSold"
	EventPriceUpdate        EventType = "PriceUpdate"
	EventLargeTrade         EventType = "LargeTrade"
	EventSuspiciousActivity EventType = "SuspiciousActivity"
	EventTradeRecorded      EventType = "TradeRecorded"
	EventTopTraderUpdated   EventType = "TopTraderUpdated"
	EventHolderMilestone    EventType = "HolderMilestone"
	EventMEVAttemptBlocked  EventType = "MEVAttemptBlocked"
	EventPriceImpactWarning EventType = "PriceImpactWarning"

	EventCommitSubmitted        EventType = "CommitSubmitted"
	EventCreatorFeesClaimed     EventType = "CreatorFeesClaimed"
	EventLiquidityLocked        EventType = "LiquidityLocked"
	EventLiquidityChanged       EventType = "LiquidityChanged"
	EventCurveReconfigured      EventType = "CurveReconfigured"
	EventStreamingStatusChanged EventType = "StreamingStatusChanged"
	EventMigratedToAMM          EventType = "MigratedToAMM"
)

// Event is one entry of the engine's event log. Data holds one of the
// payload structs below.
type Event struct {
	Type      EventType      `json:"type"`
	Token     common.Address `json:"token"`
	Block     uint64         `json:"block"`
	Timestamp time.Time      `json:"timestamp"`
	Data      any            `json:"data"`
}

// TokenPurchased is emitted for every settled buy.
type TokenPurchased struct {
	Buyer      common.Address `json:"buyer"`
	EthIn      *uint256.Int   `json:"eth_in"`
	Fee        *uint256.Int   `json:"fee"`
	TokensOut  *uint256.Int   `json:"tokens_out"`
	NewPrice   *uint256.Int   `json:"new_price"`
	ViaCommit  bool           `json:"via_commit"`
	BonusPaid  *uint256.Int   `json:"bonus_paid,omitempty"`
	TradeIndex uint64         `json:"trade_index"`
}

// TokenSold is emitted for every settled sell.
type TokenSold struct {
	Seller      common.Address `json:"seller"`
	TokenAmount *uint256.Int   `json:"token_amount"`
	GrossEthOut *uint256.Int   `json:"gross_eth_out"`
	Fee         *uint256.Int   `json:"fee"`
	NetEthOut   *uint256.Int   `json:"net_eth_out"`
	NewPrice    *uint256.Int   `json:"new_price"`
	TradeIndex  uint64         `json:"trade_index"`
}

// PriceUpdate carries the post-trade spot price and reserves.
type PriceUpdate struct {
	Price        *uint256.Int `json:"price"`
	EthReserve   *uint256.Int `json:"eth_reserve"`
	TokenReserve *uint256.Int `json:"token_reserve"`
}

// LargeTrade flags a trade at or above the configured ETH threshold.
type LargeTrade struct {
	Trader   common.Address `json:"trader"`
	EthValue *uint256.Int   `json:"eth_value"`
	IsBuy    bool           `json:"is_buy"`
}

// SuspiciousActivity flags an address trading rapidly within one block.
type SuspiciousActivity struct {
	Trader     common.Address `json:"trader"`
	TradeCount uint32         `json:"trade_count"`
	Reason     string         `json:"reason"`
}

// TradeRecorded mirrors the appended trade record.
type TradeRecorded struct {
	Trade      TradeRecord `json:"trade"`
	TradeIndex uint64      `json:"trade_index"`
}

// TopTraderUpdated reports a trader's new leaderboard slot.
type TopTraderUpdated struct {
	Trader      common.Address `json:"trader"`
	Rank        int            `json:"rank"` // 1-based
	TotalVolume *uint256.Int   `json:"total_volume"`
}

// HolderMilestone reports that the holder count reached a milestone.
type HolderMilestone struct {
	HolderCount uint64 `json:"holder_count"`
}

// MEVAttemptBlocked reports a guard rejection. It is delivered to monitoring
// even though the rejected transaction itself left no state behind.
type MEVAttemptBlocked struct {
	Trader common.Address `json:"trader"`
	Reason string         `json:"reason"`
	Detail string         `json:"detail"`
}

// PriceImpactWarning flags a trade that moved the price by at least the
// warning threshold.
type PriceImpactWarning struct {
	Trader      common.Address `json:"trader"`
	ImpactBps   uint64         `json:"impact_bps"`
	PriceBefore *uint256.Int   `json:"price_before"`
	PriceAfter  *uint256.Int   `json:"price_after"`
}

// CommitSubmitted reports a registered commit-reveal hash.
type CommitSubmitted struct {
	User common.Address `json:"user"`
	Hash common.Hash    `json:"hash"`
}

// CreatorFeesClaimed reports a fee pool withdrawal.
type CreatorFeesClaimed struct {
	Creator common.Address `json:"creator"`
	Amount  *uint256.Int   `json:"amount"`
}

// LiquidityLocked reports the one-time liquidity lock.
type LiquidityLocked struct {
	Until time.Time `json:"until"`
}

// LiquidityChanged reports a creator liquidity add or removal.
type LiquidityChanged struct {
	Added        bool         `json:"added"`
	EthAmount    *uint256.Int `json:"eth_amount"`
	TokenAmount  *uint256.Int `json:"token_amount"`
	EthReserve   *uint256.Int `json:"eth_reserve"`
	TokenReserve *uint256.Int `json:"token_reserve"`
}

// CurveReconfigured reports a target market cap change.
type CurveReconfigured struct {
	OldTargetMarketCap *uint256.Int `json:"old_target_market_cap"`
	NewTargetMarketCap *uint256.Int `json:"new_target_market_cap"`
}

// StreamingStatusChanged reports the creator going live or offline.
type StreamingStatusChanged struct {
	Live bool `json:"live"`
}

// MigratedToAMM reports the switch from the curve to the AMM pool.
type MigratedToAMM struct {
	EthReserve   *uint256.Int `json:"eth_reserve"`
	TokenReserve *uint256.Int `json:"token_reserve"`
}
