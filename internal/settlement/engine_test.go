package settlement

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorpad/settlement-engine/internal/launch"
	"github.com/creatorpad/settlement-engine/internal/model"
)

var (
	creator   = common.HexToAddress("0x00000000000000000000000000000000000c0de5")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000070c3")
	epoch     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func u(s string) *uint256.Int {
	return uint256.MustFromDecimal(s)
}

func eth(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

func milliEth(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e15))
}

func trader(n int) common.Address {
	return common.BigToAddress(uint256.NewInt(0x1000 + uint64(n)).ToBig())
}

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Publish(_ context.Context, events []model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recorder) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) last(typ model.EventType) (model.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == typ {
			return r.events[i], true
		}
	}
	return model.Event{}, false
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type harness struct {
	e     *Engine
	rec   *recorder
	clock *clockwork.FakeClock
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newAMM launches a pool with 10 ETH against one million tokens.
func newAMM(t *testing.T, opts ...func(*Config)) harness {
	t.Helper()
	return newEngine(t, launch.Params{
		Name:        "Luna",
		Symbol:      "LUNA",
		Creator:     creator,
		TotalSupply: eth(1_000_000),
		InitialEth:  eth(10),
	}, opts...)
}

// newCurve launches a bonding curve with 20% of one billion tokens kept by
// the creator and a 100 ETH target.
func newCurve(t *testing.T, opts ...func(*Config)) harness {
	t.Helper()
	return newEngine(t, launch.Params{
		Name:                 "Luna",
		Symbol:               "LUNA",
		Creator:              creator,
		Model:                model.ModelCurve,
		CreatorAllocationBps: 2000,
	}, opts...)
}

func newEngine(t *testing.T, params launch.Params, opts ...func(*Config)) harness {
	t.Helper()
	rec := &recorder{}
	clock := clockwork.NewFakeClockAt(epoch)
	cfg := Config{
		Logger:    testLogger(),
		Clock:     clock,
		Address:   tokenAddr,
		Params:    params,
		Publisher: rec,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	return harness{e: e, rec: rec, clock: clock}
}

func buyTx(sender common.Address, value *uint256.Int, block uint64) TxContext {
	return TxContext{Sender: sender, Value: value, Block: block}
}

func sellTx(sender common.Address, block uint64) TxContext {
	return TxContext{Sender: sender, Block: block}
}

func requireReason(t *testing.T, err error, want Reason) {
	t.Helper()
	require.Error(t, err)
	got, ok := ReasonOf(err)
	require.True(t, ok, "not a RejectError: %v", err)
	require.Equal(t, want, got, "error: %v", err)
}

type snapshot struct {
	reserves Reserves
	holders  uint64
	trades   uint64
	price    *uint256.Int
	balances map[common.Address]*uint256.Int
}

func snap(e *Engine, addrs ...common.Address) snapshot {
	s := snapshot{
		reserves: e.Reserves(),
		holders:  e.HolderCount(),
		trades:   e.GetTokenStats().TotalTrades,
		price:    e.GetCurrentPrice(),
		balances: make(map[common.Address]*uint256.Int),
	}
	for _, a := range addrs {
		s.balances[a] = e.BalanceOf(a)
	}
	return s
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Params: launch.Params{Name: "Luna", Symbol: "LUNA", Creator: creator, InitialEth: eth(1)}})
	require.Error(t, err, "missing address")

	_, err = New(Config{Address: tokenAddr, Params: launch.Params{Name: "Luna", Symbol: "LUNA", Creator: creator}})
	require.ErrorIs(t, err, launch.ErrInvalidSeed)
}

func TestNew_Launch(t *testing.T) {
	t.Parallel()
	h := newCurve(t)

	info := h.e.Info()
	assert.Equal(t, model.ModelCurve, info.Model)
	assert.Equal(t, epoch, info.LaunchedAt)
	assert.Equal(t, launch.DefaultTotalSupply, info.TotalSupply)

	assert.Equal(t, eth(200_000_000), h.e.BalanceOf(creator))
	assert.Equal(t, uint64(1), h.e.HolderCount())
	r := h.e.Reserves()
	assert.Equal(t, eth(800_000_000), r.TokenReserve)
	assert.True(t, r.EthReserve.IsZero())
}

// Reserves of 10 ETH / 1M tokens, buy with 1 ETH.
func TestBuyTokens_BasicScenario(t *testing.T) {
	t.Parallel()
	h := newAMM(t)
	assert.Equal(t, u("10000000000000"), h.e.GetCurrentPrice())

	r, err := h.e.BuyTokens(context.Background(), buyTx(alice, eth(1), 1), nil)
	require.NoError(t, err)

	assert.Equal(t, u("3000000000000000"), r.Fee)
	assert.Equal(t, u("90661089388014913158135"), r.Trade.TokenAmount)
	assert.Equal(t, u("12093400900000"), r.PriceAfter)
	assert.Equal(t, uint64(2093), r.ImpactBps)

	res := h.e.Reserves()
	assert.Equal(t, u("10997000000000000000"), res.EthReserve)
	assert.Equal(t, u("909338910611985086841865"), res.TokenReserve)
	assert.Equal(t, u("3000000000000000"), res.FeePool)
	assert.Equal(t, eth(11), res.EthBalance)
	assert.Equal(t, r.Trade.TokenAmount, h.e.BalanceOf(alice))

	assert.Equal(t, []model.EventType{
		model.EventTokenPurchased,
		model.EventTradeRecorded,
		model.EventTopTraderUpdated,
		model.EventPriceImpactWarning,
		model.EventPriceUpdate,
	}, h.rec.types())
	ev, ok := h.rec.last(model.EventTokenPurchased)
	require.True(t, ok)
	assert.Equal(t, tokenAddr, ev.Token)
	assert.Equal(t, uint64(1), ev.Block)
	assert.Equal(t, epoch, ev.Timestamp)
}

func TestBuyTokens_SlippageRejected(t *testing.T) {
	t.Parallel()
	h := newAMM(t)
	before := snap(h.e, alice)

	_, err := h.e.BuyTokens(context.Background(), buyTx(alice, eth(1), 1), u("90661089388014913158136"))
	requireReason(t, err, ReasonSlippage)
	require.ErrorIs(t, err, ErrSlippage)

	assert.Equal(t, before, snap(h.e, alice))
	assert.Empty(t, h.rec.types())
	_, tracked := h.e.GuardState(alice)
	assert.False(t, tracked, "rejected trade left guard state behind")

	// Exactly the computed amount is accepted.
	_, err = h.e.BuyTokens(context.Background(), buyTx(alice, eth(1), 1), u("90661089388014913158135"))
	require.NoError(t, err)
}

func TestBuyTokens_ZeroValue(t *testing.T) {
	t.Parallel()
	h := newAMM(t)
	_, err := h.e.BuyTokens(context.Background(), buyTx(alice, nil, 1), nil)
	requireReason(t, err, ReasonInvalidAmount)
}

func TestCalculateBuyCost_MatchesExecution(t *testing.T) {
	t.Parallel()
	h := newAMM(t)
	ctx := context.Background()
	_, err := h.e.BuyTokens(ctx, buyTx(bob, milliEth(2500), 1), nil)
	require.NoError(t, err)

	want := eth(12_345)
	cost, err := h.e.CalculateBuyCost(want)
	require.NoError(t, err)

	q, err := h.e.QuoteBuy(cost)
	require.NoError(t, err)
	short, err := h.e.QuoteBuy(new(uint256.Int).SubUint64(cost, 1))
	require.NoError(t, err)
	assert.True(t, short.TokensOut.Lt(want), "one wei less must fall short")

	r, err := h.e.BuyTokens(ctx, buyTx(alice, cost, 2), want)
	require.NoError(t, err)
	assert.Equal(t, cost, r.Trade.EthValue)
	assert.Equal(t, q.TokensOut, r.Trade.TokenAmount)
	assert.False(t, r.Trade.TokenAmount.Lt(want))

	_, err = h.e.CalculateBuyCost(h.e.Reserves().TokenReserve)
	requireReason(t, err, ReasonInsufficientReserve)
	_, err = h.e.CalculateBuyCost(new(uint256.Int))
	requireReason(t, err, ReasonInvalidAmount)
}

func TestSellTokens_RoundTripNeverProfitable(t *testing.T) {
	t.Parallel()
	h := newAMM(t)
	ctx := context.Background()

	for i, spend := range []*uint256.Int{milliEth(1), eth(1), eth(7)} {
		block := uint64(10 * (i + 1))
		r, err := h.e.BuyTokens(ctx, buyTx(alice, spend, block), nil)
		require.NoError(t, err)

		quote, err := h.e.CalculateSellPrice(r.Trade.TokenAmount)
		require.NoError(t, err)
		s, err := h.e.SellTokens(ctx, sellTx(alice, block+1), r.Trade.TokenAmount, nil)
		require.NoError(t, err)

		assert.Equal(t, quote.NetEthOut, s.Trade.EthValue)
		assert.True(t, s.Trade.EthValue.Lt(spend), "spent %s, got back %s", spend.Dec(), s.Trade.EthValue.Dec())
	}
	assert.True(t, h.e.BalanceOf(alice).IsZero())
	assert.Equal(t, uint64(0), h.e.HolderCount())
}

func TestSellTokens_Rejections(t *testing.T) {
	t.Parallel()
	h := newAMM(t)
	ctx := context.Background()
	r, err := h.e.BuyTokens(ctx, buyTx(alice, eth(1), 1), nil)
	require.NoError(t, err)
	held := r.Trade.TokenAmount

	_, err = h.e.SellTokens(ctx, sellTx(alice, 2), new(uint256.Int).AddUint64(held, 1), nil)
	requireReason(t, err, ReasonInsufficientBalance)

	_, err = h.e.SellTokens(ctx, sellTx(bob, 2), uint256.NewInt(1), nil)
	requireReason(t, err, ReasonInsufficientBalance)

	_, err = h.e.SellTokens(ctx, sellTx(alice, 2), new(uint256.Int), nil)
	requireReason(t, err, ReasonInvalidAmount)

	_, err = h.e.SellTokens(ctx, buyTx(alice, eth(1), 2), held, nil)
	requireReason(t, err, ReasonInvalidParameter)

	_, err = h.e.SellTokens(ctx, sellTx(alice, 2), held, eth(1))
	requireReason(t, err, ReasonSlippage)

	assert.Equal(t, held, h.e.BalanceOf(alice))
}

func TestBuyTokens_SameBlockThrottle(t *testing.T) {
	t.Parallel()
	h := newAMM(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		r, err := h.e.BuyTokens(ctx, buyTx(alice, milliEth(1), 100), nil)
		require.NoError(t, err, "trade %d", i)
		assert.Equal(t, i > 3, r.Flagged, "trade %d", i)
	}
	ev, ok := h.rec.last(model.EventSuspiciousActivity)
	require.True(t, ok)
	assert.Equal(t, uint32(5), ev.Data.(model.SuspiciousActivity).TradeCount)

	h.rec.reset()
	before := snap(h.e, alice)
	_, err := h.e.BuyTokens(ctx, buyTx(alice, milliEth(1), 100), nil)
	requireReason(t, err, ReasonSameBlockThrottle)
	assert.Equal(t, before, snap(h.e, alice))

	ev, ok = h.rec.last(model.EventMEVAttemptBlocked)
	require.True(t, ok)
	blocked := ev.Data.(model.MEVAttemptBlocked)
	assert.Equal(t, alice, blocked.Trader)
	assert.Equal(t, string(ReasonSameBlockThrottle), blocked.Reason)
	assert.Equal(t, []model.EventType{model.EventMEVAttemptBlocked}, h.rec.types())

	_, err = h.e.BuyTokens(ctx, buyTx(alice, milliEth(1), 101), nil)
	require.NoError(t, err)
	st, ok := h.e.GuardState(alice)
	require.True(t, ok)
	assert.True(t, st.Flagged)
	assert.Equal(t, uint32(1), st.RapidTradeCount)
}

func TestBuyTokens_GuardReasons(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("block delay", func(t *testing.T) {
		t.Parallel()
		h := newAMM(t, func(c *Config) { c.Guard.BlockDelay = 3 })
		_, err := h.e.BuyTokens(ctx, buyTx(alice, milliEth(1), 10), nil)
		require.NoError(t, err)
		_, err = h.e.BuyTokens(ctx, buyTx(alice, milliEth(1), 12), nil)
		requireReason(t, err, ReasonBlockDelay)
		_, err = h.e.BuyTokens(ctx, buyTx(alice, milliEth(1), 13), nil)
		require.NoError(t, err)
	})

	t.Run("rate limit", func(t *testing.T) {
		t.Parallel()
		h := newAMM(t, func(c *Config) { c.Guard.MaxVolumePerWindow = eth(2) })
		_, err := h.e.BuyTokens(ctx, buyTx(alice, eth(1), 1), nil)
		require.NoError(t, err)
		_, err = h.e.BuyTokens(ctx, buyTx(alice, milliEth(1001), 2), nil)
		requireReason(t, err, ReasonRateLimit)

		h.clock.Advance(2 * time.Minute)
		_, err = h.e.BuyTokens(ctx, buyTx(alice, milliEth(1001), 3), nil)
		require.NoError(t, err)
	})

	t.Run("front run", func(t *testing.T) {
		t.Parallel()
		h := newAMM(t)
		tx := buyTx(alice, milliEth(1), 1)
		tx.GasPrice = 20_000_000_000
		_, err := h.e.BuyTokens(ctx, tx, nil)
		require.NoError(t, err)

		tx = buyTx(bob, milliEth(1), 1)
		tx.GasPrice = 50_000_000_000
		_, err = h.e.BuyTokens(ctx, tx, nil)
		requireReason(t, err, ReasonFrontRun)
		ev, ok := h.rec.last(model.EventMEVAttemptBlocked)
		require.True(t, ok)
		assert.Equal(t, string(ReasonFrontRun), ev.Data.(model.MEVAttemptBlocked).Reason)
	})
}

func TestCommitReveal(t *testing.T) {
	t.Parallel()
	h := newAMM(t)
	ctx := context.Background()
	salt := [32]byte{42}
	minOut := eth(1000)
	value := eth(1)
	hash := h.e.CommitHash(alice, minOut, value, salt)

	require.NoError(t, h.e.CommitTokenPurchase(ctx, sellTx(alice, 10), hash))
	err := h.e.CommitTokenPurchase(ctx, sellTx(alice, 10), hash)
	requireReason(t, err, ReasonInvalidCommit)

	// Same block as the commit.
	_, err = h.e.BuyTokensWithReveal(ctx, buyTx(alice, value, 10), minOut, salt)
	requireReason(t, err, ReasonInvalidCommit)

	// Mismatched parameters hash to an unknown commit.
	_, err = h.e.BuyTokensWithReveal(ctx, buyTx(alice, eth(2), 11), minOut, salt)
	requireReason(t, err, ReasonInvalidCommit)
	_, err = h.e.BuyTokensWithReveal(ctx, buyTx(bob, value, 11), minOut, salt)
	requireReason(t, err, ReasonInvalidCommit)

	r, err := h.e.BuyTokensWithReveal(ctx, buyTx(alice, value, 11), minOut, salt)
	require.NoError(t, err)
	assert.False(t, r.Trade.TokenAmount.Lt(minOut))
	ev, ok := h.rec.last(model.EventTokenPurchased)
	require.True(t, ok)
	assert.True(t, ev.Data.(model.TokenPurchased).ViaCommit)

	_, err = h.e.BuyTokensWithReveal(ctx, buyTx(alice, value, 12), minOut, salt)
	requireReason(t, err, ReasonInvalidCommit)
}

func TestCommitReveal_FailedBuyKeepsCommit(t *testing.T) {
	t.Parallel()
	h := newAMM(t)
	ctx := context.Background()
	salt := [32]byte{7}
	// More tokens than 1 ETH can buy.
	greedy := eth(500_000)
	hash := h.e.CommitHash(alice, greedy, eth(1), salt)
	require.NoError(t, h.e.CommitTokenPurchase(ctx, sellTx(alice, 1), hash))

	_, err := h.e.BuyTokensWithReveal(ctx, buyTx(alice, eth(1), 2), greedy, salt)
	requireReason(t, err, ReasonSlippage)

	// The rolled-back reveal did not consume the commit.
	c, ok := h.e.guard.PendingCommit(hash)
	require.True(t, ok)
	assert.False(t, c.Revealed)
}

func TestPruneCommits(t *testing.T) {
	t.Parallel()
	h := newAMM(t, func(c *Config) { c.Guard.CommitTTL = time.Hour })
	ctx := context.Background()
	require.NoError(t, h.e.CommitTokenPurchase(ctx, sellTx(alice, 1), common.Hash{1}))

	assert.Zero(t, h.e.PruneCommits())
	h.clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, h.e.PruneCommits())
}

func TestPruneIdleTraders(t *testing.T) {
	t.Parallel()
	h := newAMM(t)
	ctx := context.Background()

	_, err := h.e.BuyTokens(ctx, buyTx(alice, eth(1), 10), nil)
	require.NoError(t, err)
	_, err = h.e.BuyTokens(ctx, buyTx(bob, eth(1), 11), nil)
	require.NoError(t, err)
	assert.Zero(t, h.e.PruneIdleTraders(), "volume windows are still open")

	h.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, h.e.PruneIdleTraders())
	_, ok := h.e.GuardState(alice)
	assert.False(t, ok)
	_, ok = h.e.GuardState(bob)
	assert.True(t, ok, "bob traded in the latest block")

	// Holdings are untouched.
	assert.False(t, h.e.BalanceOf(alice).IsZero())
}

func TestHolderCount_MatchesBalances(t *testing.T) {
	t.Parallel()
	h := newAMM(t)
	ctx := context.Background()
	users := make([]common.Address, 6)
	for i := range users {
		users[i] = trader(i)
	}

	block := uint64(1)
	for step := 0; step < 120; step++ {
		block++
		user := users[(step*7)%len(users)]
		bal := h.e.BalanceOf(user)
		switch {
		case bal.IsZero() || step%3 == 0:
			_, err := h.e.BuyTokens(ctx, buyTx(user, milliEth(uint64(step%5+1)*10), block), nil)
			require.NoError(t, err)
		case step%2 == 0:
			_, err := h.e.SellTokens(ctx, sellTx(user, block), bal, nil)
			require.NoError(t, err)
		default:
			half := new(uint256.Int).Rsh(bal, 1)
			if half.IsZero() {
				continue
			}
			_, err := h.e.SellTokens(ctx, sellTx(user, block), half, nil)
			require.NoError(t, err)
		}

		var positive uint64
		for _, a := range append(users, creator) {
			if !h.e.BalanceOf(a).IsZero() {
				positive++
			}
		}
		require.Equal(t, positive, h.e.HolderCount(), "step %d", step)
	}
}

func TestReserves_ConstantProductHolds(t *testing.T) {
	t.Parallel()
	h := newAMM(t)
	ctx := context.Background()

	for i := 0; i < 40; i++ {
		before := h.e.Reserves()
		kBefore := new(uint256.Int).Mul(before.EthReserve, before.TokenReserve)
		block := uint64(i + 1)
		if i%3 == 2 {
			bal := h.e.BalanceOf(alice)
			_, err := h.e.SellTokens(ctx, sellTx(alice, block), new(uint256.Int).Rsh(bal, 1), nil)
			require.NoError(t, err)
		} else {
			_, err := h.e.BuyTokens(ctx, buyTx(alice, milliEth(uint64(i+1)*37), block), nil)
			require.NoError(t, err)
		}
		after := h.e.Reserves()
		kAfter := new(uint256.Int).Mul(after.EthReserve, after.TokenReserve)
		bound := new(uint256.Int).Add(kAfter, after.EthReserve)
		bound.Add(bound, after.TokenReserve)
		require.False(t, bound.Lt(kBefore), "trade %d lost more than rounding", i)
		require.Equal(t, new(uint256.Int).Add(after.EthReserve, after.FeePool), after.EthBalance)
	}
}

func TestTopTraders_TenIncreasingAndSmallNewcomer(t *testing.T) {
	t.Parallel()
	h := newAMM(t)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		_, err := h.e.BuyTokens(ctx, buyTx(trader(i), eth(uint64(i)), uint64(i)), nil)
		require.NoError(t, err)
	}
	_, err := h.e.BuyTokens(ctx, buyTx(trader(11), milliEth(500), 11), nil)
	require.NoError(t, err)

	top := h.e.GetTopTraders()
	require.Len(t, top, 10)
	for i, e := range top {
		assert.Equal(t, trader(10-i), e.Trader)
		assert.Equal(t, eth(uint64(10-i)), e.TotalVolume)
		assert.Equal(t, h.e.BalanceOf(e.Trader), e.CurrentBalance)
		assert.Equal(t, uint64(1), e.TradeCount)
	}
}

func TestHolderMilestone(t *testing.T) {
	t.Parallel()
	h := newAMM(t)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		_, err := h.e.BuyTokens(ctx, buyTx(trader(i), milliEth(1), uint64(i)), nil)
		require.NoError(t, err)
		_, hit := h.rec.last(model.EventHolderMilestone)
		assert.Equal(t, i == 10, hit, "buyer %d", i)
	}
	ev, _ := h.rec.last(model.EventHolderMilestone)
	assert.Equal(t, uint64(10), ev.Data.(model.HolderMilestone).HolderCount)
}

func TestLargeTradeEvent(t *testing.T) {
	t.Parallel()
	h := newAMM(t)
	_, err := h.e.BuyTokens(context.Background(), buyTx(alice, eth(10), 1), nil)
	require.NoError(t, err)
	ev, ok := h.rec.last(model.EventLargeTrade)
	require.True(t, ok)
	assert.Equal(t, eth(10), ev.Data.(model.LargeTrade).EthValue)
	assert.True(t, ev.Data.(model.LargeTrade).IsBuy)
}

func TestPayoutFailureRollsBack(t *testing.T) {
	t.Parallel()
	fail := false
	h := newAMM(t, func(c *Config) {
		c.Payer = PayerFunc(func(context.Context, common.Address, *uint256.Int) error {
			if fail {
				return io.ErrUnexpectedEOF
			}
			return nil
		})
	})
	ctx := context.Background()
	r, err := h.e.BuyTokens(ctx, buyTx(alice, eth(1), 1), nil)
	require.NoError(t, err)

	fail = true
	h.rec.reset()
	before := snap(h.e, alice)
	guardBefore, _ := h.e.GuardState(alice)

	_, err = h.e.SellTokens(ctx, sellTx(alice, 2), r.Trade.TokenAmount, nil)
	requireReason(t, err, ReasonPayoutFailed)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	assert.Equal(t, before, snap(h.e, alice))
	guardAfter, _ := h.e.GuardState(alice)
	assert.Equal(t, guardBefore, guardAfter)
	assert.Empty(t, h.rec.types())
}

func TestPayerReadsViews(t *testing.T) {
	t.Parallel()
	var e *Engine
	var seen *uint256.Int
	var reserves Reserves
	fail := false
	h := newAMM(t, func(c *Config) {
		c.Payer = PayerFunc(func(_ context.Context, to common.Address, _ *uint256.Int) error {
			seen = e.BalanceOf(to)
			reserves = e.Reserves()
			_ = e.GetTokenStats()
			if fail {
				return io.ErrUnexpectedEOF
			}
			return nil
		})
	})
	e = h.e
	ctx := context.Background()

	r, err := e.BuyTokens(ctx, buyTx(alice, eth(1), 1), nil)
	require.NoError(t, err)
	half := new(uint256.Int).Div(r.Trade.TokenAmount, uint256.NewInt(2))

	sell := func(block uint64) error {
		done := make(chan error, 1)
		go func() {
			_, err := e.SellTokens(ctx, sellTx(alice, block), half, nil)
			done <- err
		}()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("SellTokens did not return while the payer read views")
			return nil
		}
	}

	fail = true
	before := snap(e, alice)
	requireReason(t, sell(2), ReasonPayoutFailed)
	// The payer saw the sale applied, and the failed payout undid it.
	assert.Equal(t, new(uint256.Int).Sub(r.Trade.TokenAmount, half), seen)
	assert.Equal(t, before, snap(e, alice))

	fail = false
	require.NoError(t, sell(3))
	assert.Equal(t, e.BalanceOf(alice), seen)
	assert.Equal(t, e.Reserves(), reserves)
}

func TestReentrancyRejected(t *testing.T) {
	t.Parallel()
	var e *Engine
	var inner error
	h := newAMM(t, func(c *Config) {
		c.Payer = PayerFunc(func(ctx context.Context, to common.Address, _ *uint256.Int) error {
			_, inner = e.SellTokens(ctx, sellTx(to, 3), uint256.NewInt(1), nil)
			return inner
		})
	})
	e = h.e
	ctx := context.Background()

	r, err := e.BuyTokens(ctx, buyTx(alice, eth(1), 1), nil)
	require.NoError(t, err)
	before := snap(e, alice)

	_, err = e.SellTokens(ctx, sellTx(alice, 2), r.Trade.TokenAmount, nil)
	requireReason(t, err, ReasonPayoutFailed)
	requireReason(t, inner, ReasonReentrancy)
	require.ErrorIs(t, inner, ErrReentrant)
	assert.Equal(t, before, snap(e, alice))
}

func TestClaimCreatorFees(t *testing.T) {
	t.Parallel()
	var paid *uint256.Int
	h := newAMM(t, func(c *Config) {
		c.Payer = PayerFunc(func(_ context.Context, to common.Address, amount *uint256.Int) error {
			if to == creator {
				paid = amount
			}
			return nil
		})
	})
	ctx := context.Background()

	_, err := h.e.ClaimCreatorFees(ctx, sellTx(creator, 1))
	requireReason(t, err, ReasonNothingToClaim)

	_, err = h.e.BuyTokens(ctx, buyTx(alice, eth(1), 1), nil)
	require.NoError(t, err)

	_, err = h.e.ClaimCreatorFees(ctx, sellTx(alice, 2))
	requireReason(t, err, ReasonUnauthorized)

	amount, err := h.e.ClaimCreatorFees(ctx, sellTx(creator, 2))
	require.NoError(t, err)
	assert.Equal(t, u("3000000000000000"), amount)
	assert.Equal(t, amount, paid)

	stats := h.e.GetTokenStats()
	assert.True(t, stats.CreatorFeePool.IsZero())
	assert.Equal(t, amount, stats.CreatorFeesClaimed)
	assert.Equal(t, stats.EthReserve, stats.EthBalance)
}

func TestLiquidityLockAndRemoval(t *testing.T) {
	t.Parallel()
	h := newAMM(t)
	ctx := context.Background()

	err := h.e.LockLiquidity(ctx, sellTx(alice, 1), 30*24*time.Hour)
	requireReason(t, err, ReasonUnauthorized)
	err = h.e.LockLiquidity(ctx, sellTx(creator, 1), 6*24*time.Hour)
	requireReason(t, err, ReasonInvalidParameter)

	require.NoError(t, h.e.LockLiquidity(ctx, sellTx(creator, 1), MinLockPeriod))
	err = h.e.LockLiquidity(ctx, sellTx(creator, 2), 30*24*time.Hour)
	requireReason(t, err, ReasonLiquidityLocked)

	stats := h.e.GetTokenStats()
	assert.True(t, stats.LiquidityLocked)
	assert.Equal(t, epoch.Add(MinLockPeriod), stats.LiquidityLockedUntil)
	assert.True(t, h.e.GetRiskAssessment().LiquidityLocked)

	_, _, err = h.e.RemoveLiquidity(ctx, sellTx(creator, 3), 1000)
	requireReason(t, err, ReasonLiquidityLocked)

	h.clock.Advance(MinLockPeriod + time.Second)
	price := h.e.GetCurrentPrice()
	ethOut, tokensOut, err := h.e.RemoveLiquidity(ctx, sellTx(creator, 4), 1000)
	require.NoError(t, err)
	assert.Equal(t, eth(1), ethOut)
	assert.Equal(t, eth(100_000), tokensOut)
	assert.Equal(t, tokensOut, h.e.BalanceOf(creator))
	assert.Equal(t, price, h.e.GetCurrentPrice())

	_, _, err = h.e.RemoveLiquidity(ctx, sellTx(creator, 5), 10_000)
	requireReason(t, err, ReasonInsufficientReserve)
}

func TestAddLiquidity(t *testing.T) {
	t.Parallel()
	h := newEngine(t, launch.Params{
		Name:                 "Luna",
		Symbol:               "LUNA",
		Creator:              creator,
		TotalSupply:          eth(1_000_000),
		CreatorAllocationBps: 1000,
		InitialEth:           eth(9),
	})
	ctx := context.Background()
	price := h.e.GetCurrentPrice()

	_, err := h.e.AddLiquidity(ctx, buyTx(alice, eth(1), 1), nil)
	requireReason(t, err, ReasonUnauthorized)

	_, err = h.e.AddLiquidity(ctx, buyTx(creator, eth(1), 1), eth(1))
	requireReason(t, err, ReasonSlippage)

	tokens, err := h.e.AddLiquidity(ctx, buyTx(creator, eth(1), 1), nil)
	require.NoError(t, err)
	assert.Equal(t, eth(100_000), tokens)
	assert.Equal(t, eth(0), h.e.BalanceOf(creator))
	assert.Equal(t, uint64(0), h.e.HolderCount())
	assert.Equal(t, price, h.e.GetCurrentPrice())

	res := h.e.Reserves()
	assert.Equal(t, eth(10), res.EthReserve)
	assert.Equal(t, eth(1_000_000), res.TokenReserve)
	assert.Equal(t, eth(10), res.EthBalance)

	_, err = h.e.AddLiquidity(ctx, buyTx(creator, eth(1), 2), nil)
	requireReason(t, err, ReasonInsufficientBalance)
}

func TestStatsAndRisk(t *testing.T) {
	t.Parallel()
	h := newAMM(t)
	ctx := context.Background()
	_, err := h.e.BuyTokens(ctx, buyTx(alice, eth(1), 1), nil)
	require.NoError(t, err)
	_, err = h.e.BuyTokens(ctx, buyTx(bob, eth(1), 2), nil)
	require.NoError(t, err)

	stats := h.e.GetTokenStats()
	assert.Equal(t, "LUNA", stats.Symbol)
	assert.Equal(t, uint64(2), stats.TotalTrades)
	assert.Equal(t, uint64(2), stats.TotalUniqueTraders)
	assert.Equal(t, uint64(2), stats.HolderCount)
	assert.Equal(t, eth(2), stats.TotalVolume)
	assert.Equal(t, eth(2), stats.DailyVolume)
	assert.Equal(t, eth(2), stats.Volume24h)
	assert.Equal(t, h.e.GetCurrentPrice(), stats.CurrentPrice)
	circulating := new(uint256.Int).Add(h.e.BalanceOf(alice), h.e.BalanceOf(bob))
	assert.Equal(t, circulating, stats.CirculatingSupply)

	history := h.e.GetTradeHistory(1)
	require.Len(t, history, 1)
	assert.Equal(t, bob, history[0].Trader)
	assert.Len(t, h.e.GetPriceHistory(0), 3)

	h.clock.Advance(25 * time.Hour)
	assert.True(t, h.e.GetTokenStats().Volume24h.IsZero())

	a := h.e.GetRiskAssessment()
	assert.Equal(t, uint64(1), a.ContractAgeDays)
	assert.Equal(t, uint64(0), a.HolderConcentration)
	assert.NotEmpty(t, a.Level)
	assert.LessOrEqual(t, a.Score, uint64(100))
}
