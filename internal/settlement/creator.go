package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/creatorpad/settlement-engine/internal/amm"
	"github.com/creatorpad/settlement-engine/internal/guard"
	"github.com/creatorpad/settlement-engine/internal/model"
)

// CommitTokenPurchase registers a commit hash for a later
// BuyTokensWithReveal.
func (e *Engine) CommitTokenPurchase(ctx context.Context, tx TxContext, hash common.Hash) error {
	return e.execute(ctx, "commit", tx, func(t *txn) error {
		if !tx.value().IsZero() {
			return fmt.Errorf("%w: commit does not accept ETH", ErrInvalidParameter)
		}
		if hash == (common.Hash{}) {
			return fmt.Errorf("%w: empty commit hash", ErrInvalidParameter)
		}
		if err := e.guard.Commit(t.j, hash, tx.Sender, tx.Block, t.now); err != nil {
			return err
		}
		t.emit(e, model.EventCommitSubmitted, model.CommitSubmitted{User: tx.Sender, Hash: hash})
		return nil
	})
}

// CommitHash computes the hash a buyer commits to for this token.
func (e *Engine) CommitHash(buyer common.Address, minTokensOut, value *uint256.Int, salt [32]byte) common.Hash {
	return guard.CommitHash(buyer, e.cfg.Address, orZero(minTokensOut), orZero(value), salt)
}

// PruneCommits drops expired commits.
func (e *Engine) PruneCommits() int {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.guard.PruneCommits(e.clock.Now().UTC())
	if n > 0 {
		e.log.Debug("pruned expired commits", "count", n)
	}
	return n
}

// PruneIdleTraders drops guard state for traders who can no longer be
// throttled by it.
func (e *Engine) PruneIdleTraders() int {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.guard.PruneIdle(e.clock.Now().UTC())
	if n > 0 {
		e.log.Debug("pruned idle trader state", "count", n)
	}
	return n
}

// ClaimCreatorFees pays the whole fee pool to the creator.
func (e *Engine) ClaimCreatorFees(ctx context.Context, tx TxContext) (*uint256.Int, error) {
	var amount *uint256.Int
	err := e.execute(ctx, "claim_fees", tx, func(t *txn) error {
		if err := e.requireCreator(tx); err != nil {
			return err
		}
		if e.feePool.IsZero() {
			return ErrNothingToClaim
		}
		amount = new(uint256.Int).Set(e.feePool)
		set(t.j, &e.feePool, new(uint256.Int))
		set(t.j, &e.claimed, new(uint256.Int).Add(e.claimed, amount))
		t.emit(e, model.EventCreatorFeesClaimed, model.CreatorFeesClaimed{Creator: tx.Sender, Amount: amount})
		if err := e.pay(t, tx.Sender, amount); err != nil {
			return err
		}
		t.onCommit(func() { e.log.Info("creator fees claimed", "amount", amount.Dec()) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// LockLiquidity locks the pool for period. It can be set once.
func (e *Engine) LockLiquidity(ctx context.Context, tx TxContext, period time.Duration) error {
	return e.execute(ctx, "lock_liquidity", tx, func(t *txn) error {
		if err := e.requireCreator(tx); err != nil {
			return err
		}
		if !e.lockUntil.IsZero() {
			return fmt.Errorf("%w: already locked until %s", ErrLiquidityLocked, e.lockUntil.Format(time.RFC3339))
		}
		if period < MinLockPeriod {
			return fmt.Errorf("%w: lock period %s is below %s", ErrInvalidParameter, period, MinLockPeriod)
		}
		until := t.now.Add(period)
		set(t.j, &e.lockUntil, until)
		t.emit(e, model.EventLiquidityLocked, model.LiquidityLocked{Until: until})
		e.log.Info("liquidity locked", "until", until)
		return nil
	})
}

// AddLiquidity deposits tx.Value ETH and the matching tokens from the
// creator's balance into the pool, keeping the price unchanged. maxTokens
// bounds the tokens taken (nil means no bound).
func (e *Engine) AddLiquidity(ctx context.Context, tx TxContext, maxTokens *uint256.Int) (*uint256.Int, error) {
	var tokens *uint256.Int
	err := e.execute(ctx, "add_liquidity", tx, func(t *txn) error {
		if err := e.requireCreator(tx); err != nil {
			return err
		}
		if e.pricer.Model() != model.ModelAMM {
			return fmt.Errorf("%w: liquidity is managed by the curve", ErrWrongModel)
		}
		need, after, err := amm.AddLiquidity(amm.Pool{ETH: e.market.ETH, Token: e.market.Token}, tx.value())
		if err != nil {
			return err
		}
		if maxTokens != nil && need.Gt(maxTokens) {
			return fmt.Errorf("%w: needs %s tokens, maximum %s", ErrSlippage, need.Dec(), maxTokens.Dec())
		}
		if _, err := e.holders.Debit(t.j, tx.Sender, need); err != nil {
			return err
		}
		e.trades.SetBalance(t.j, tx.Sender, e.holders.BalanceOf(tx.Sender))
		set(t.j, &e.market, Market{ETH: after.ETH, Token: after.Token, Streaming: e.market.Streaming})
		set(t.j, &e.balance, new(uint256.Int).Add(e.balance, tx.value()))
		tokens = need

		t.emit(e, model.EventLiquidityChanged, model.LiquidityChanged{
			Added:        true,
			EthAmount:    new(uint256.Int).Set(tx.value()),
			TokenAmount:  need,
			EthReserve:   after.ETH,
			TokenReserve: after.Token,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// RemoveLiquidity withdraws shareBps/10000 of both reserves to the creator.
// It is refused while the liquidity lock is active.
func (e *Engine) RemoveLiquidity(ctx context.Context, tx TxContext, shareBps uint64) (ethOut, tokensOut *uint256.Int, err error) {
	err = e.execute(ctx, "remove_liquidity", tx, func(t *txn) error {
		if err := e.requireCreator(tx); err != nil {
			return err
		}
		if e.pricer.Model() != model.ModelAMM {
			return fmt.Errorf("%w: liquidity is managed by the curve", ErrWrongModel)
		}
		if t.now.Before(e.lockUntil) {
			return fmt.Errorf("%w: until %s", ErrLiquidityLocked, e.lockUntil.Format(time.RFC3339))
		}
		eth, tok, after, err := amm.RemoveLiquidity(amm.Pool{ETH: e.market.ETH, Token: e.market.Token}, shareBps)
		if err != nil {
			return err
		}
		set(t.j, &e.market, Market{ETH: after.ETH, Token: after.Token, Streaming: e.market.Streaming})
		if _, err := e.holders.Credit(t.j, tx.Sender, tok); err != nil {
			return err
		}
		e.trades.SetBalance(t.j, tx.Sender, e.holders.BalanceOf(tx.Sender))
		ethOut, tokensOut = eth, tok

		t.emit(e, model.EventLiquidityChanged, model.LiquidityChanged{
			Added:        false,
			EthAmount:    eth,
			TokenAmount:  tok,
			EthReserve:   after.ETH,
			TokenReserve: after.Token,
		})
		return e.pay(t, tx.Sender, eth)
	})
	if err != nil {
		return nil, nil, err
	}
	return ethOut, tokensOut, nil
}

// UpdateTargetMarketCap reshapes the bonding curve. It is allowed once,
// within ReconfigureWindow of launch, and only if the ETH reserve still
// covers the new curve's cost of the supply already sold.
func (e *Engine) UpdateTargetMarketCap(ctx context.Context, tx TxContext, newCap *uint256.Int) error {
	return e.execute(ctx, "update_target_market_cap", tx, func(t *txn) error {
		if err := e.requireCreator(tx); err != nil {
			return err
		}
		cp, ok := e.pricer.(curvePricer)
		if !ok {
			return fmt.Errorf("%w: no bonding curve", ErrWrongModel)
		}
		if e.reconfig {
			return fmt.Errorf("%w: already reconfigured", ErrCurveFrozen)
		}
		if deadline := e.info.LaunchedAt.Add(ReconfigureWindow); t.now.After(deadline) {
			return fmt.Errorf("%w: window closed at %s", ErrCurveFrozen, deadline.Format(time.RFC3339))
		}
		if newCap == nil || newCap.IsZero() {
			return fmt.Errorf("%w: target market cap must be positive", ErrInvalidParameter)
		}
		next, err := e.curve.WithTargetMarketCap(newCap)
		if err != nil {
			return err
		}
		if sold := cp.sold(e.market); !sold.IsZero() {
			owed, err := next.BuyCost(new(uint256.Int), sold)
			if err != nil {
				return err
			}
			if owed.Gt(e.market.ETH) {
				return fmt.Errorf("%w: new curve values sold supply at %s wei, reserve holds %s",
					ErrInvalidParameter, owed.Dec(), e.market.ETH.Dec())
			}
		}

		old := e.curve.TargetMarketCap()
		set(t.j, &e.curve, next)
		cp.c = next
		set[Pricer](t.j, &e.pricer, cp)
		set(t.j, &e.reconfig, true)
		t.emit(e, model.EventCurveReconfigured, model.CurveReconfigured{
			OldTargetMarketCap: old,
			NewTargetMarketCap: next.TargetMarketCap(),
		})
		e.log.Info("curve reconfigured", "old_target", old.Dec(), "new_target", newCap.Dec())
		return nil
	})
}

// SetStreaming records whether the creator is live. On the curve path a
// live creator earns the streaming bonus on every buy.
func (e *Engine) SetStreaming(ctx context.Context, tx TxContext, live bool) error {
	return e.execute(ctx, "set_streaming", tx, func(t *txn) error {
		if err := e.requireCreator(tx); err != nil {
			return err
		}
		if e.market.Streaming == live {
			return nil
		}
		next := e.market
		next.Streaming = live
		set(t.j, &e.market, next)
		t.emit(e, model.EventStreamingStatusChanged, model.StreamingStatusChanged{Live: live})
		return nil
	})
}

// MigrateToAMM moves a curve token onto the constant-product pool, seeding
// it with the curve's ETH collateral and unsold tokens.
func (e *Engine) MigrateToAMM(ctx context.Context, tx TxContext) error {
	return e.execute(ctx, "migrate", tx, func(t *txn) error {
		if err := e.requireCreator(tx); err != nil {
			return err
		}
		if e.pricer.Model() != model.ModelCurve {
			return fmt.Errorf("%w: already on the AMM", ErrWrongModel)
		}
		if e.market.ETH.IsZero() || e.market.Token.IsZero() {
			return fmt.Errorf("%w: pool needs both reserves, have %s wei and %s tokens",
				ErrInsufficientReserve, e.market.ETH.Dec(), e.market.Token.Dec())
		}
		set[Pricer](t.j, &e.pricer, ammPricer{mm: e.mm})
		set(t.j, &e.info.Model, model.ModelAMM)
		t.emit(e, model.EventMigratedToAMM, model.MigratedToAMM{
			EthReserve:   new(uint256.Int).Set(e.market.ETH),
			TokenReserve: new(uint256.Int).Set(e.market.Token),
		})
		e.log.Info("migrated to amm", "eth_reserve", e.market.ETH.Dec(), "token_reserve", e.market.Token.Dec())
		return nil
	})
}
