package trade

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/creatorpad/settlement-engine/internal/guard"
	"github.com/creatorpad/settlement-engine/internal/model"
	"github.com/creatorpad/settlement-engine/internal/settlement"
	"github.com/creatorpad/settlement-engine/internal/units"
)

// --- Request types ---

// TxRequest carries the transaction fields every mutating call needs. Value
// is a decimal wei string.
//
// Sender is taken at its word unless the service requires signed requests,
// in which case the body must be signed by Sender (see SignatureHeader) and
// Deadline, in unix seconds, bounds the signature's lifetime.
type TxRequest struct {
	Sender   common.Address `json:"sender"`
	Value    *uint256.Int   `json:"value,omitempty"`
	GasPrice uint64         `json:"gas_price,omitempty"`
	Deadline int64          `json:"deadline,omitempty"`
}

func (r TxRequest) tx() TxRequest { return r }

func (r TxRequest) validate() error {
	if r.Sender == (common.Address{}) {
		return errors.New("sender is required")
	}
	return nil
}

// BuyRequest is the JSON body for POST /tokens/{address}/buy.
type BuyRequest struct {
	TxRequest
	MinTokensOut *uint256.Int `json:"min_tokens_out"`
}

// RevealRequest is the JSON body for POST /tokens/{address}/reveal.
type RevealRequest struct {
	TxRequest
	MinTokensOut *uint256.Int `json:"min_tokens_out"`
	Salt         common.Hash  `json:"salt"`
}

// SellRequest is the JSON body for POST /tokens/{address}/sell.
type SellRequest struct {
	TxRequest
	TokenAmount *uint256.Int `json:"token_amount"`
	MinEthOut   *uint256.Int `json:"min_eth_out"`
}

// CommitRequest is the JSON body for POST /tokens/{address}/commit.
type CommitRequest struct {
	TxRequest
	Hash common.Hash `json:"hash"`
}

// LockRequest is the JSON body for POST /tokens/{address}/lock-liquidity.
// Period is a Go duration string such as "720h".
type LockRequest struct {
	TxRequest
	Period string `json:"period"`
}

// AddLiquidityRequest is the JSON body for POST /tokens/{address}/liquidity/add.
type AddLiquidityRequest struct {
	TxRequest
	MaxTokens *uint256.Int `json:"max_tokens,omitempty"`
}

// RemoveLiquidityRequest is the JSON body for POST /tokens/{address}/liquidity/remove.
type RemoveLiquidityRequest struct {
	TxRequest
	ShareBps uint64 `json:"share_bps"`
}

// StreamingRequest is the JSON body for POST /tokens/{address}/streaming.
type StreamingRequest struct {
	TxRequest
	Live bool `json:"live"`
}

// TargetCapRequest is the JSON body for POST /tokens/{address}/target-market-cap.
type TargetCapRequest struct {
	TxRequest
	TargetMarketCap *uint256.Int `json:"target_market_cap"`
}

// --- Response types ---

// Amount is a base-unit value with its human rendering (ETH or whole
// tokens).
type Amount struct {
	Raw   *uint256.Int    `json:"raw"`
	Units decimal.Decimal `json:"units"`
}

func amount(v *uint256.Int) Amount {
	if v == nil {
		v = new(uint256.Int)
	}
	return Amount{Raw: v, Units: units.ToDecimal(v)}
}

// TradeResponse is returned from buy, reveal and sell.
type TradeResponse struct {
	settlement.Receipt
	Human TradeHuman `json:"human"`
}

// TradeHuman renders a receipt's amounts in ETH and whole tokens.
type TradeHuman struct {
	EthValue    decimal.Decimal `json:"eth_value"`
	TokenAmount decimal.Decimal `json:"token_amount"`
	Fee         decimal.Decimal `json:"fee"`
	PriceAfter  decimal.Decimal `json:"price_after"`
}

func tradeResponse(r settlement.Receipt) TradeResponse {
	return TradeResponse{
		Receipt: r,
		Human: TradeHuman{
			EthValue:    units.ToDecimal(r.Trade.EthValue),
			TokenAmount: units.ToDecimal(r.Trade.TokenAmount),
			Fee:         units.ToDecimal(r.Fee),
			PriceAfter:  units.ToDecimal(r.PriceAfter),
		},
	}
}

// TokenSummary is one entry of GET /tokens.
type TokenSummary struct {
	model.TokenInfo
	Live  bool    `json:"live"`
	Price *Amount `json:"price,omitempty"`
}

// PriceResponse is returned from GET /tokens/{address}/price.
type PriceResponse struct {
	Token        common.Address     `json:"token"`
	Model        model.PricingModel `json:"model"`
	Block        uint64             `json:"block"`
	Price        Amount             `json:"price"`
	EthReserve   Amount             `json:"eth_reserve"`
	TokenReserve Amount             `json:"token_reserve"`
	Streaming    bool               `json:"streaming"`
}

// BuyCostResponse answers GET /quote/buy?tokens=.
type BuyCostResponse struct {
	TokenAmount Amount `json:"token_amount"`
	Cost        Amount `json:"cost"`
}

// BuyQuoteResponse answers GET /quote/buy?eth=.
type BuyQuoteResponse struct {
	EthIn     Amount `json:"eth_in"`
	Fee       Amount `json:"fee"`
	Premium   Amount `json:"premium"`
	ToReserve Amount `json:"to_reserve"`
	TokensOut Amount `json:"tokens_out"`
}

// SellQuoteResponse answers GET /quote/sell?tokens=.
type SellQuoteResponse struct {
	TokenAmount Amount `json:"token_amount"`
	GrossEthOut Amount `json:"gross_eth_out"`
	Fee         Amount `json:"fee"`
	NetEthOut   Amount `json:"net_eth_out"`
}

// StatsResponse is returned from GET /tokens/{address}/stats.
type StatsResponse struct {
	model.TokenStats
	Human StatsHuman `json:"human"`
}

// StatsHuman renders the headline stats in ETH and whole tokens.
type StatsHuman struct {
	CurrentPrice      decimal.Decimal `json:"current_price"`
	MarketCap         decimal.Decimal `json:"market_cap"`
	CirculatingSupply decimal.Decimal `json:"circulating_supply"`
	EthReserve        decimal.Decimal `json:"eth_reserve"`
	TotalVolume       decimal.Decimal `json:"total_volume"`
	Volume24h         decimal.Decimal `json:"volume_24h"`
	CreatorFeePool    decimal.Decimal `json:"creator_fee_pool"`
}

func statsResponse(st model.TokenStats) StatsResponse {
	return StatsResponse{
		TokenStats: st,
		Human: StatsHuman{
			CurrentPrice:      units.ToDecimal(st.CurrentPrice),
			MarketCap:         units.ToDecimal(st.MarketCap),
			CirculatingSupply: units.ToDecimal(st.CirculatingSupply),
			EthReserve:        units.ToDecimal(st.EthReserve),
			TotalVolume:       units.ToDecimal(st.TotalVolume),
			Volume24h:         units.ToDecimal(st.Volume24h),
			CreatorFeePool:    units.ToDecimal(st.CreatorFeePool),
		},
	}
}

// BalanceResponse is returned from GET /tokens/{address}/balances/{holder}.
type BalanceResponse struct {
	Token   common.Address   `json:"token"`
	Holder  common.Address   `json:"holder"`
	Balance Amount           `json:"balance"`
	Guard   *guard.RateState `json:"guard,omitempty"`
}

// ClaimResponse is returned from POST /claim-fees.
type ClaimResponse struct {
	Amount Amount `json:"amount"`
}

// LockResponse is returned from POST /lock-liquidity.
type LockResponse struct {
	LockedUntil time.Time `json:"locked_until"`
}

// LiquidityResponse is returned from the liquidity endpoints.
type LiquidityResponse struct {
	EthAmount   Amount `json:"eth_amount"`
	TokenAmount Amount `json:"token_amount"`
}
