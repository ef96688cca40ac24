// Package settlement is the per-token settlement engine: it prices buys and
// sells through a swappable Pricer, runs every trade past the MEV guard,
// keeps holder balances and trade analytics, and emits the indexing events.
//
// Each mutating operation is one atomic transaction. Writers are serialized
// by a mutex, every state change is journaled, and a failed operation is
// rolled back to the exact state it started from before its error is
// returned. ETH payouts run last, outside the state lock, and a failed payout
// rolls the operation back. Events are buffered and published only after
// commit.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/creatorpad/settlement-engine/internal/amm"
	"github.com/creatorpad/settlement-engine/internal/curve"
	"github.com/creatorpad/settlement-engine/internal/guard"
	"github.com/creatorpad/settlement-engine/internal/journal"
	"github.com/creatorpad/settlement-engine/internal/ledger"
	"github.com/creatorpad/settlement-engine/internal/metrics"
	"github.com/creatorpad/settlement-engine/internal/model"
)

// MinLockPeriod is the shortest liquidity lock a creator may set.
const MinLockPeriod = 7 * 24 * time.Hour

// ReconfigureWindow is how long after launch the curve may be reconfigured.
const ReconfigureWindow = 24 * time.Hour

// TxContext carries the caller-supplied transaction fields: sender, attached
// ETH value, block number and gas price.
type TxContext struct {
	Sender   common.Address
	Value    *uint256.Int
	Block    uint64
	GasPrice uint64
}

func (tx TxContext) value() *uint256.Int {
	if tx.Value == nil {
		return new(uint256.Int)
	}
	return tx.Value
}

// Engine settles trades for one creator token.
type Engine struct {
	log   *slog.Logger
	clock clockwork.Clock
	cfg   Config
	info  model.TokenInfo
	mm    *amm.MarketMaker

	writeMu sync.Mutex   // serializes mutating operations through their payouts
	mu      sync.RWMutex // guards the state below

	pricer    Pricer
	curve     *curve.Curve // nil for AMM launches
	market    Market
	holders   *ledger.Holders
	trades    *ledger.Ledger
	prices    *ledger.PriceHistory
	guard     *guard.Guard
	feePool   *uint256.Int
	claimed   *uint256.Int
	balance   *uint256.Int // ETH held: reserve + fee pool
	lockUntil time.Time    // zero until LockLiquidity
	reconfig  bool         // curve already reconfigured
}

// New launches a token engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := cfg.Params

	mm, err := amm.NewMarketMaker(p.FeeBps)
	if err != nil {
		return nil, err
	}
	g, err := guard.New(cfg.Guard)
	if err != nil {
		return nil, err
	}

	now := cfg.Clock.Now().UTC()
	e := &Engine{
		log:   cfg.Logger.With("token", cfg.Address.Hex(), "symbol", p.Symbol),
		clock: cfg.Clock,
		cfg:   cfg,
		info: model.TokenInfo{
			Address:     cfg.Address,
			Name:        p.Name,
			Symbol:      p.Symbol,
			Creator:     p.Creator,
			Model:       p.Model,
			TotalSupply: new(uint256.Int).Set(p.TotalSupply),
			LaunchedAt:  now,
		},
		mm:      mm,
		holders: ledger.NewHolders(),
		trades:  ledger.New(cfg.HistoryCap, now),
		prices:  ledger.NewPriceHistory(),
		guard:   g,
		feePool: new(uint256.Int),
		claimed: new(uint256.Int),
		market: Market{
			ETH:   new(uint256.Int).Set(p.InitialEth),
			Token: p.SaleSupply(),
		},
		balance: new(uint256.Int).Set(p.InitialEth),
	}

	switch p.Model {
	case model.ModelCurve:
		c, err := curve.New(p.SaleSupply(), p.TargetMarketCap)
		if err != nil {
			return nil, err
		}
		e.curve = c
		e.pricer = curvePricer{c: c, mm: mm, bonusBps: p.StreamingBonusBps}
	default:
		e.pricer = ammPricer{mm: mm}
	}

	if _, err := e.holders.Credit(nil, p.Creator, p.CreatorAllocation()); err != nil {
		return nil, err
	}
	e.prices.Record(nil, e.pricer.SpotPrice(e.market), now)

	e.log.Info("token launched",
		"name", p.Name,
		"creator", p.Creator.Hex(),
		"model", p.Model,
		"total_supply", p.TotalSupply.Dec(),
		"initial_eth", p.InitialEth.Dec(),
	)
	return e, nil
}

// Address returns the token address.
func (e *Engine) Address() common.Address { return e.cfg.Address }

// Info returns the static token description and current pricing model.
func (e *Engine) Info() model.TokenInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	info := e.info
	info.TotalSupply = new(uint256.Int).Set(e.info.TotalSupply)
	return info
}

// --- transactions ---

type inFlightKey struct{ e *Engine }

// txn is the working state of one operation.
type txn struct {
	op        string
	ctx       context.Context
	j         *journal.Journal
	now       time.Time
	tx        TxContext
	events    []model.Event
	payouts   []payout
	committed []func()
}

type payout struct {
	to     common.Address
	amount *uint256.Int
}

// onCommit defers f until the operation has committed.
func (t *txn) onCommit(f func()) { t.committed = append(t.committed, f) }

func (t *txn) emit(e *Engine, typ model.EventType, data any) {
	t.events = append(t.events, model.Event{
		Type:      typ,
		Token:     e.cfg.Address,
		Block:     t.tx.Block,
		Timestamp: t.now,
		Data:      data,
	})
}

// execute runs fn as one atomic operation.
//
// fn runs under the state lock. Payouts it queued run after the state lock is
// released but before the journal commits, so a payer may read the engine's
// views, which already reflect the operation. Other mutating operations wait
// on writeMu until the payouts settle; a failed payout reverts the journal.
func (e *Engine) execute(ctx context.Context, op string, tx TxContext, fn func(t *txn) error) error {
	if ctx.Value(inFlightKey{e}) != nil {
		return e.rejected(ctx, op, tx, ErrReentrant)
	}

	start := e.clock.Now()
	t := &txn{
		op:  op,
		ctx: context.WithValue(ctx, inFlightKey{e}, struct{}{}),
		j:   &journal.Journal{},
		now: start.UTC(),
		tx:  tx,
	}

	err := func() error {
		e.writeMu.Lock()
		defer e.writeMu.Unlock()
		// Stamped under the lock so timestamps follow settlement order.
		t.now = e.clock.Now().UTC()
		if err := e.apply(t, fn); err != nil {
			return err
		}
		return e.settle(t)
	}()
	metrics.TradeLatency.WithLabelValues(op).Observe(e.clock.Since(start).Seconds())
	if err != nil {
		return e.rejected(ctx, op, tx, err)
	}

	for _, f := range t.committed {
		f()
	}
	e.cfg.Publisher.Publish(ctx, t.events)
	return nil
}

// apply runs fn under the state lock and reverts on failure.
func (e *Engine) apply(t *txn, fn func(t *txn) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			t.j.Revert()
			panic(r)
		}
	}()
	if err := fn(t); err != nil {
		t.j.Revert()
		return err
	}
	if err := e.checkSolvency(); err != nil {
		t.j.Revert()
		return err
	}
	return nil
}

// settle sends the queued payouts and commits, or reverts if one fails.
func (e *Engine) settle(t *txn) (err error) {
	revert := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		t.j.Revert()
	}
	defer func() {
		if r := recover(); r != nil {
			revert()
			panic(r)
		}
	}()
	for _, p := range t.payouts {
		if err := e.cfg.Payer.Pay(t.ctx, p.to, p.amount); err != nil {
			revert()
			// The payer's error may itself be a rejection from a reentrant
			// call; the outer operation still failed on the payout.
			return &RejectError{Op: t.op, Reason: ReasonPayoutFailed, Err: fmt.Errorf("%w: %w", ErrPayoutFailed, err)}
		}
	}
	t.j.Commit()
	return nil
}

// rejected logs and counts a failed operation and reports guard rejections
// to monitoring.
func (e *Engine) rejected(ctx context.Context, op string, tx TxContext, err error) error {
	err = reject(op, err)
	reason, _ := ReasonOf(err)
	metrics.Rejections.WithLabelValues(op, string(reason)).Inc()

	if !reason.Guard() && reason != ReasonReentrancy {
		e.log.Debug("operation rejected", "op", op, "sender", tx.Sender.Hex(), "reason", reason, "error", err)
		return err
	}
	e.log.Warn("operation blocked",
		"op", op,
		"sender", tx.Sender.Hex(),
		"block", tx.Block,
		"gas_price", tx.GasPrice,
		"reason", reason,
		"error", err,
	)
	if reason.Guard() {
		e.cfg.Publisher.Publish(ctx, []model.Event{{
			Type:      model.EventMEVAttemptBlocked,
			Token:     e.cfg.Address,
			Block:     tx.Block,
			Timestamp: e.clock.Now().UTC(),
			Data: model.MEVAttemptBlocked{
				Trader: tx.Sender,
				Reason: string(reason),
				Detail: err.Error(),
			},
		}})
	}
	return err
}

// checkSolvency verifies the ETH held equals reserve plus fee pool.
func (e *Engine) checkSolvency() error {
	want := new(uint256.Int).Add(e.market.ETH, e.feePool)
	if !e.balance.Eq(want) {
		return fmt.Errorf("%w: balance %s, reserve %s + fee pool %s",
			ErrInvariant, e.balance.Dec(), e.market.ETH.Dec(), e.feePool.Dec())
	}
	return nil
}

func (e *Engine) requireCreator(tx TxContext) error {
	if tx.Sender != e.info.Creator {
		return fmt.Errorf("%w: %s", ErrUnauthorized, tx.Sender.Hex())
	}
	return nil
}

// pay debits the engine balance and queues amount for the recipient. The
// transfer itself runs once every state change of the operation is in place.
func (e *Engine) pay(t *txn, to common.Address, amount *uint256.Int) error {
	if e.balance.Lt(amount) {
		return fmt.Errorf("%w: paying %s from balance %s", ErrInvariant, amount.Dec(), e.balance.Dec())
	}
	set(t.j, &e.balance, new(uint256.Int).Sub(e.balance, amount))
	t.payouts = append(t.payouts, payout{to: to, amount: new(uint256.Int).Set(amount)})
	return nil
}

// set assigns v to *dst and journals the previous value.
func set[T any](j *journal.Journal, dst *T, v T) {
	prev := *dst
	j.Append(func() { *dst = prev })
	*dst = v
}

// weiToEth renders wei in ETH for metrics and logs.
func weiToEth(v *uint256.Int) float64 {
	return decimal.NewFromBigInt(v.ToBig(), -18).InexactFloat64()
}
