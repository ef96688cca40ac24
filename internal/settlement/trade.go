package settlement

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/creatorpad/settlement-engine/internal/guard"
	"github.com/creatorpad/settlement-engine/internal/ledger"
	"github.com/creatorpad/settlement-engine/internal/metrics"
	"github.com/creatorpad/settlement-engine/internal/model"
)

// Receipt describes a settled trade.
type Receipt struct {
	Trade       model.TradeRecord `json:"trade"`
	Index       uint64            `json:"index"`
	Fee         *uint256.Int      `json:"fee"`
	Premium     *uint256.Int      `json:"premium,omitempty"`
	GrossEthOut *uint256.Int      `json:"gross_eth_out,omitempty"`
	PriceBefore *uint256.Int      `json:"price_before"`
	PriceAfter  *uint256.Int      `json:"price_after"`
	ImpactBps   uint64            `json:"impact_bps"`
	Flagged     bool              `json:"flagged"`
}

// BuyTokens spends tx.Value on tokens, rejecting if fewer than minTokensOut
// would be received.
func (e *Engine) BuyTokens(ctx context.Context, tx TxContext, minTokensOut *uint256.Int) (Receipt, error) {
	var r Receipt
	err := e.execute(ctx, "buy", tx, func(t *txn) error {
		var err error
		r, err = e.buy(t, minTokensOut, false)
		return err
	})
	return r, err
}

// BuyTokensWithReveal settles a purchase previously committed with
// CommitTokenPurchase. The commit must hash (sender, token address,
// minTokensOut, tx.Value, salt).
func (e *Engine) BuyTokensWithReveal(ctx context.Context, tx TxContext, minTokensOut *uint256.Int, salt [32]byte) (Receipt, error) {
	var r Receipt
	err := e.execute(ctx, "buy_reveal", tx, func(t *txn) error {
		hash := guard.CommitHash(tx.Sender, e.cfg.Address, orZero(minTokensOut), tx.value(), salt)
		if err := e.guard.Reveal(t.j, hash, tx.Sender, tx.Block, t.now); err != nil {
			return err
		}
		var err error
		r, err = e.buy(t, minTokensOut, true)
		return err
	})
	return r, err
}

func (e *Engine) buy(t *txn, minTokensOut *uint256.Int, viaCommit bool) (Receipt, error) {
	value := t.tx.value()
	if value.IsZero() {
		return Receipt{}, fmt.Errorf("%w: buy requires ETH", ErrInvalidAmount)
	}

	verdict, err := e.guard.Check(t.j, guard.Request{
		User:     t.tx.Sender,
		Block:    t.tx.Block,
		Now:      t.now,
		GasPrice: t.tx.GasPrice,
		Value:    value,
	})
	if err != nil {
		return Receipt{}, err
	}

	q, err := e.pricer.QuoteBuy(e.market, value)
	if err != nil {
		return Receipt{}, err
	}
	if q.TokensOut.Lt(orZero(minTokensOut)) {
		return Receipt{}, fmt.Errorf("%w: %s tokens out, minimum %s", ErrSlippage, q.TokensOut.Dec(), minTokensOut.Dec())
	}
	if q.TokensOut.Gt(e.market.Token) {
		return Receipt{}, fmt.Errorf("%w: %s tokens out of %s", ErrInsufficientReserve, q.TokensOut.Dec(), e.market.Token.Dec())
	}

	priceBefore := e.pricer.SpotPrice(e.market)
	fees := new(uint256.Int).Add(q.Fee, q.Premium)
	set(t.j, &e.market, q.After)
	set(t.j, &e.feePool, new(uint256.Int).Add(e.feePool, fees))
	set(t.j, &e.balance, new(uint256.Int).Add(e.balance, value))

	holdersBefore := e.holders.Count()
	if _, err := e.holders.Credit(t.j, t.tx.Sender, q.TokensOut); err != nil {
		return Receipt{}, err
	}
	priceAfter := e.pricer.SpotPrice(e.market)

	rec := model.TradeRecord{
		ID:          uuid.New().String(),
		Token:       e.cfg.Address,
		Trader:      t.tx.Sender,
		IsBuy:       true,
		TokenAmount: q.TokensOut,
		EthValue:    new(uint256.Int).Set(value),
		Fee:         fees,
		Price:       priceAfter,
		Block:       t.tx.Block,
		Timestamp:   t.now,
	}
	recorded := e.trades.Record(t.j, rec, e.holders.BalanceOf(t.tx.Sender))
	rec.Index = recorded.Index
	e.prices.Record(t.j, priceAfter, t.now)

	receipt := Receipt{
		Trade:       rec,
		Index:       recorded.Index,
		Fee:         q.Fee,
		Premium:     q.Premium,
		PriceBefore: priceBefore,
		PriceAfter:  priceAfter,
		ImpactBps:   impactBps(priceBefore, priceAfter),
		Flagged:     verdict.Flagged || verdict.FrontRunSuspect,
	}

	t.emit(e, model.EventTokenPurchased, model.TokenPurchased{
		Buyer:      t.tx.Sender,
		EthIn:      rec.EthValue,
		Fee:        q.Fee,
		TokensOut:  q.TokensOut,
		NewPrice:   priceAfter,
		ViaCommit:  viaCommit,
		BonusPaid:  q.Premium,
		TradeIndex: recorded.Index,
	})
	e.emitTradeEvents(t, rec, recorded, verdict, receipt, holdersBefore)

	metrics.TradesTotal.WithLabelValues("buy").Inc()
	metrics.TokenVolume.WithLabelValues(e.cfg.Address.Hex(), "buy").Add(weiToEth(value))
	metrics.HolderCount.WithLabelValues(e.cfg.Address.Hex()).Set(float64(e.holders.Count()))
	e.log.Info("trade settled",
		"trade_id", rec.ID,
		"side", "buy",
		"trader", t.tx.Sender.Hex(),
		"eth_in", value.Dec(),
		"tokens_out", q.TokensOut.Dec(),
		"fee", fees.Dec(),
		"new_price", priceAfter.Dec(),
		"via_commit", viaCommit,
	)
	return receipt, nil
}

// SellTokens sells tokenAmount back to the pricer, rejecting if the net ETH
// paid out would be below minEthOut.
func (e *Engine) SellTokens(ctx context.Context, tx TxContext, tokenAmount, minEthOut *uint256.Int) (Receipt, error) {
	var receipt Receipt
	err := e.execute(ctx, "sell", tx, func(t *txn) error {
		if !tx.value().IsZero() {
			return fmt.Errorf("%w: sell does not accept ETH", ErrInvalidParameter)
		}
		if tokenAmount == nil || tokenAmount.IsZero() {
			return fmt.Errorf("%w: sell amount must be positive", ErrInvalidAmount)
		}
		if bal := e.holders.BalanceOf(tx.Sender); bal.Lt(tokenAmount) {
			return fmt.Errorf("%w: %s holds %s, selling %s",
				ledger.ErrInsufficientBalance, tx.Sender.Hex(), bal.Dec(), tokenAmount.Dec())
		}

		q, err := e.pricer.QuoteSell(e.market, tokenAmount)
		if err != nil {
			return err
		}
		verdict, err := e.guard.Check(t.j, guard.Request{
			User:     tx.Sender,
			Block:    tx.Block,
			Now:      t.now,
			GasPrice: tx.GasPrice,
			Value:    q.GrossEthOut,
		})
		if err != nil {
			return err
		}
		if q.NetEthOut.Lt(orZero(minEthOut)) {
			return fmt.Errorf("%w: %s wei out, minimum %s", ErrSlippage, q.NetEthOut.Dec(), minEthOut.Dec())
		}

		priceBefore := e.pricer.SpotPrice(e.market)
		holdersBefore := e.holders.Count()
		if _, err := e.holders.Debit(t.j, tx.Sender, tokenAmount); err != nil {
			return err
		}
		set(t.j, &e.market, q.After)
		set(t.j, &e.feePool, new(uint256.Int).Add(e.feePool, q.Fee))
		priceAfter := e.pricer.SpotPrice(e.market)

		rec := model.TradeRecord{
			ID:          uuid.New().String(),
			Token:       e.cfg.Address,
			Trader:      tx.Sender,
			IsBuy:       false,
			TokenAmount: new(uint256.Int).Set(tokenAmount),
			EthValue:    q.NetEthOut,
			Fee:         q.Fee,
			Price:       priceAfter,
			Block:       tx.Block,
			Timestamp:   t.now,
		}
		recorded := e.trades.Record(t.j, rec, e.holders.BalanceOf(tx.Sender))
		rec.Index = recorded.Index
		e.prices.Record(t.j, priceAfter, t.now)

		receipt = Receipt{
			Trade:       rec,
			Index:       recorded.Index,
			Fee:         q.Fee,
			GrossEthOut: q.GrossEthOut,
			PriceBefore: priceBefore,
			PriceAfter:  priceAfter,
			ImpactBps:   impactBps(priceBefore, priceAfter),
			Flagged:     verdict.Flagged || verdict.FrontRunSuspect,
		}

		t.emit(e, model.EventTokenSold, model.TokenSold{
			Seller:      tx.Sender,
			TokenAmount: rec.TokenAmount,
			GrossEthOut: q.GrossEthOut,
			Fee:         q.Fee,
			NetEthOut:   q.NetEthOut,
			NewPrice:    priceAfter,
			TradeIndex:  recorded.Index,
		})
		e.emitTradeEvents(t, rec, recorded, verdict, receipt, holdersBefore)

		if err := e.pay(t, tx.Sender, q.NetEthOut); err != nil {
			return err
		}

		holders := e.holders.Count()
		t.onCommit(func() {
			metrics.TradesTotal.WithLabelValues("sell").Inc()
			metrics.TokenVolume.WithLabelValues(e.cfg.Address.Hex(), "sell").Add(weiToEth(q.NetEthOut))
			metrics.HolderCount.WithLabelValues(e.cfg.Address.Hex()).Set(float64(holders))
			e.log.Info("trade settled",
				"trade_id", rec.ID,
				"side", "sell",
				"trader", tx.Sender.Hex(),
				"tokens_in", tokenAmount.Dec(),
				"eth_out", q.NetEthOut.Dec(),
				"fee", q.Fee.Dec(),
				"new_price", priceAfter.Dec(),
			)
		})
		return nil
	})
	return receipt, err
}

// emitTradeEvents queues the analytics events shared by buys and sells.
func (e *Engine) emitTradeEvents(t *txn, rec model.TradeRecord, recorded ledger.Recorded, verdict guard.Verdict, r Receipt, holdersBefore uint64) {
	t.emit(e, model.EventTradeRecorded, model.TradeRecorded{Trade: rec, TradeIndex: recorded.Index})

	if recorded.TopChanged {
		t.emit(e, model.EventTopTraderUpdated, model.TopTraderUpdated{
			Trader:      rec.Trader,
			Rank:        recorded.Rank,
			TotalVolume: recorded.TotalVolume,
		})
	}
	if m, ok := ledger.CrossedMilestone(holdersBefore, e.holders.Count()); ok {
		t.emit(e, model.EventHolderMilestone, model.HolderMilestone{HolderCount: m})
	}
	if verdict.Flagged {
		t.emit(e, model.EventSuspiciousActivity, model.SuspiciousActivity{
			Trader:     rec.Trader,
			TradeCount: verdict.TradesInBlock,
			Reason:     "rapid_trading",
		})
	}
	if verdict.FrontRunSuspect {
		t.emit(e, model.EventSuspiciousActivity, model.SuspiciousActivity{
			Trader:     rec.Trader,
			TradeCount: verdict.TradesInBlock,
			Reason:     "gas_price_anomaly",
		})
	}

	size := rec.EthValue
	if r.GrossEthOut != nil {
		size = r.GrossEthOut
	}
	if !size.Lt(e.cfg.LargeTradeThreshold) {
		t.emit(e, model.EventLargeTrade, model.LargeTrade{Trader: rec.Trader, EthValue: size, IsBuy: rec.IsBuy})
	}
	if r.ImpactBps >= e.cfg.PriceImpactWarnBps {
		t.emit(e, model.EventPriceImpactWarning, model.PriceImpactWarning{
			Trader:      rec.Trader,
			ImpactBps:   r.ImpactBps,
			PriceBefore: r.PriceBefore,
			PriceAfter:  r.PriceAfter,
		})
	}
	t.emit(e, model.EventPriceUpdate, model.PriceUpdate{
		Price:        r.PriceAfter,
		EthReserve:   new(uint256.Int).Set(e.market.ETH),
		TokenReserve: new(uint256.Int).Set(e.market.Token),
	})
}

// --- quotes ---

// CalculateBuyCost returns the smallest ETH value whose BuyTokens call
// receives at least tokenAmount tokens at the current state.
func (e *Engine) CalculateBuyCost(tokenAmount *uint256.Int) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if tokenAmount == nil || tokenAmount.IsZero() {
		return nil, reject("quote_buy", ErrInvalidAmount)
	}
	cost, err := e.pricer.BuyCost(e.market, tokenAmount)
	if err != nil {
		return nil, reject("quote_buy", err)
	}
	return cost, nil
}

// QuoteBuy prices a buy of ethIn wei exactly as BuyTokens would settle it.
func (e *Engine) QuoteBuy(ethIn *uint256.Int) (BuyQuote, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	q, err := e.pricer.QuoteBuy(e.market, orZero(ethIn))
	if err != nil {
		return BuyQuote{}, reject("quote_buy", err)
	}
	return q, nil
}

// CalculateSellPrice prices a sell of tokenAmount exactly as SellTokens
// would settle it.
func (e *Engine) CalculateSellPrice(tokenAmount *uint256.Int) (SellQuote, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	q, err := e.pricer.QuoteSell(e.market, orZero(tokenAmount))
	if err != nil {
		return SellQuote{}, reject("quote_sell", err)
	}
	return q, nil
}

// impactBps returns |after - before| * 10000 / before.
func impactBps(before, after *uint256.Int) uint64 {
	if before.IsZero() {
		return 0
	}
	diff := new(uint256.Int)
	if after.Gt(before) {
		diff.Sub(after, before)
	} else {
		diff.Sub(before, after)
	}
	diff.Mul(diff, uint256.NewInt(10_000))
	diff.Div(diff, before)
	if !diff.IsUint64() {
		return ^uint64(0)
	}
	return diff.Uint64()
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
