package guard

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorpad/settlement-engine/internal/journal"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func eth(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

func newGuard(t *testing.T, cfg Config) *Guard {
	t.Helper()
	g, err := New(cfg)
	require.NoError(t, err)
	return g
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	t.Run("fills defaults", func(t *testing.T) {
		t.Parallel()
		var cfg Config
		require.NoError(t, cfg.Validate())
		assert.Equal(t, uint32(5), cfg.MaxTradesPerBlock)
		assert.Equal(t, uint32(3), cfg.FlagThreshold)
		assert.Equal(t, time.Minute, cfg.Window)
		assert.Equal(t, 5*time.Minute, cfg.GasWindow)
		assert.Equal(t, uint64(200), cfg.FrontRunThresholdPct)
		assert.Equal(t, int64(1), cfg.RevealDelay)
		assert.Equal(t, 24*time.Hour, cfg.CommitTTL)
		assert.Zero(t, cfg.BlockDelay)
	})

	t.Run("rejects flag threshold at or above the cap", func(t *testing.T) {
		t.Parallel()
		cfg := Config{MaxTradesPerBlock: 3, FlagThreshold: 3}
		require.Error(t, cfg.Validate())
	})

	t.Run("rejects threshold below 100 percent", func(t *testing.T) {
		t.Parallel()
		cfg := Config{FrontRunThresholdPct: 50}
		require.Error(t, cfg.Validate())
	})
}

func TestCheck_SameBlockThrottle(t *testing.T) {
	t.Parallel()
	g := newGuard(t, Config{})
	now := time.Unix(1_700_000_000, 0)

	for i := 1; i <= 5; i++ {
		v, err := g.Check(nil, Request{User: alice, Block: 100, Now: now, Value: eth(1)})
		require.NoError(t, err, "trade %d", i)
		assert.Equal(t, uint32(i), v.TradesInBlock)
		assert.Equal(t, i > 3, v.Flagged, "trade %d", i)
	}

	_, err := g.Check(nil, Request{User: alice, Block: 100, Now: now, Value: eth(1)})
	require.ErrorIs(t, err, ErrSameBlockLimit)

	// Other users are unaffected.
	_, err = g.Check(nil, Request{User: bob, Block: 100, Now: now, Value: eth(1)})
	require.NoError(t, err)

	// A new block resets the counter; the flag sticks.
	v, err := g.Check(nil, Request{User: alice, Block: 101, Now: now, Value: eth(1)})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), v.TradesInBlock)
	assert.False(t, v.Flagged)

	st, ok := g.State(alice)
	require.True(t, ok)
	assert.True(t, st.Flagged)
	assert.Equal(t, 1, g.FlaggedCount())
}

func TestCheck_BlockDelay(t *testing.T) {
	t.Parallel()
	g := newGuard(t, Config{BlockDelay: 2})
	now := time.Unix(1_700_000_000, 0)

	_, err := g.Check(nil, Request{User: alice, Block: 10, Now: now})
	require.NoError(t, err)

	_, err = g.Check(nil, Request{User: alice, Block: 11, Now: now})
	require.ErrorIs(t, err, ErrBlockDelay)

	_, err = g.Check(nil, Request{User: alice, Block: 12, Now: now})
	require.NoError(t, err)
}

func TestCheck_VolumeWindow(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	g := newGuard(t, Config{MaxVolumePerWindow: eth(10)})

	_, err := g.Check(nil, Request{User: alice, Block: 1, Now: clock.Now(), Value: eth(6)})
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	_, err = g.Check(nil, Request{User: alice, Block: 2, Now: clock.Now(), Value: eth(4)})
	require.NoError(t, err, "exactly at the cap is allowed")

	clock.Advance(10 * time.Second)
	_, err = g.Check(nil, Request{User: alice, Block: 3, Now: clock.Now(), Value: uint256.NewInt(1)})
	require.ErrorIs(t, err, ErrRateLimited)

	// The first entry ages out of the window.
	clock.Advance(45 * time.Second)
	_, err = g.Check(nil, Request{User: alice, Block: 4, Now: clock.Now(), Value: eth(5)})
	require.NoError(t, err)
}

func TestCheck_FrontRun(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	g := newGuard(t, Config{})

	// No baseline yet: anything goes.
	_, err := g.Check(nil, Request{User: alice, Block: 1, Now: clock.Now(), GasPrice: 10})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), g.GasAverage())

	// Exactly twice the reference passes, above it fails.
	_, err = g.Check(nil, Request{User: bob, Block: 1, Now: clock.Now(), GasPrice: 20})
	require.NoError(t, err)
	// historical = (10*70 + 15*30)/100 = 11
	assert.Equal(t, uint64(11), g.GasAverage())

	_, err = g.Check(nil, Request{User: alice, Block: 2, Now: clock.Now(), GasPrice: 23})
	require.ErrorIs(t, err, ErrFrontRun)

	// Zero gas price skips the heuristic and is not sampled.
	_, err = g.Check(nil, Request{User: alice, Block: 2, Now: clock.Now()})
	require.NoError(t, err)
	assert.Equal(t, uint64(11), g.GasAverage())
}

func TestCheck_FrontRunFlagOnly(t *testing.T) {
	t.Parallel()
	g := newGuard(t, Config{FrontRunFlagOnly: true})
	now := time.Unix(1_700_000_000, 0)

	_, err := g.Check(nil, Request{User: alice, Block: 1, Now: now, GasPrice: 10})
	require.NoError(t, err)
	v, err := g.Check(nil, Request{User: bob, Block: 1, Now: now, GasPrice: 1000})
	require.NoError(t, err)
	assert.True(t, v.FrontRunSuspect)
}

func TestCheck_RejectionLeavesNoTrace(t *testing.T) {
	t.Parallel()
	g := newGuard(t, Config{MaxVolumePerWindow: eth(1)})
	now := time.Unix(1_700_000_000, 0)

	_, err := g.Check(nil, Request{User: alice, Block: 7, Now: now, Value: eth(2)})
	require.ErrorIs(t, err, ErrRateLimited)

	_, ok := g.State(alice)
	assert.False(t, ok)
}

func TestCheck_JournalRevert(t *testing.T) {
	t.Parallel()
	g := newGuard(t, Config{MaxVolumePerWindow: eth(10)})
	now := time.Unix(1_700_000_000, 0)

	_, err := g.Check(nil, Request{User: alice, Block: 1, Now: now, Value: eth(5), GasPrice: 10})
	require.NoError(t, err)
	before, _ := g.State(alice)

	j := &journal.Journal{}
	_, err = g.Check(j, Request{User: alice, Block: 1, Now: now, Value: eth(5), GasPrice: 12})
	require.NoError(t, err)
	_, err = g.Check(j, Request{User: bob, Block: 1, Now: now, Value: eth(1), GasPrice: 12})
	require.NoError(t, err)
	j.Revert()

	after, _ := g.State(alice)
	assert.Equal(t, before, after)
	_, ok := g.State(bob)
	assert.False(t, ok)
	assert.Equal(t, uint64(10), g.GasAverage())

	// The reverted volume no longer counts.
	_, err = g.Check(nil, Request{User: alice, Block: 2, Now: now, Value: eth(5)})
	require.NoError(t, err)
}

func TestCheck_LargeGasPricesDoNotOverflow(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	g := newGuard(t, Config{})
	const price = 300_000_000_000_000_000 // 3e17 wei

	for i, user := range []common.Address{alice, bob, alice, bob} {
		_, err := g.Check(nil, Request{User: user, Block: uint64(i + 1), Now: clock.Now(), GasPrice: price})
		require.NoError(t, err, "trade %d", i)
		assert.Equal(t, uint64(price), g.GasAverage(), "trade %d", i)
		clock.Advance(time.Second)
	}

	// The heuristic still fires above twice the reference.
	_, err := g.Check(nil, Request{User: alice, Block: 9, Now: clock.Now(), GasPrice: 2*price + 1})
	require.ErrorIs(t, err, ErrFrontRun)
}

func TestPruneIdle(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	g := newGuard(t, Config{BlockDelay: 2})

	_, err := g.Check(nil, Request{User: alice, Block: 10, Now: clock.Now(), Value: eth(1)})
	require.NoError(t, err)
	_, err = g.Check(nil, Request{User: bob, Block: 11, Now: clock.Now(), Value: eth(1)})
	require.NoError(t, err)

	// Volume windows still hold both trades.
	assert.Zero(t, g.PruneIdle(clock.Now()))

	clock.Advance(2 * time.Minute)
	// At head 11 alice's block delay has not elapsed and bob traded at head.
	assert.Zero(t, g.PruneIdle(clock.Now()))

	carol := common.HexToAddress("0x00000000000000000000000000000000000ca201")
	_, err = g.Check(nil, Request{User: carol, Block: 12, Now: clock.Now()})
	require.NoError(t, err)
	// Head 12: alice is idle, bob waits out the delay until block 13.
	assert.Equal(t, 1, g.PruneIdle(clock.Now()))
	_, ok := g.State(alice)
	assert.False(t, ok)
	_, ok = g.State(bob)
	assert.True(t, ok)
	assert.Equal(t, 2, g.Users())

	// A pruned user starts afresh.
	_, err = g.Check(nil, Request{User: alice, Block: 12, Now: clock.Now()})
	require.NoError(t, err)
}
