// Package guard implements the per-user MEV and rate-limit checks that run
// before a trade settles.
//
// A trade is accepted only if it passes, in order: the block-delay gate, the
// same-block throttle, the rolling volume window and the gas-price front-run
// heuristic. Checks run before any guard state changes, and every change is
// recorded in the caller's journal, so a rejection (or a later failure of the
// enclosing transaction) leaves the guard exactly as it was.
package guard

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/creatorpad/settlement-engine/internal/journal"
)

var (
	// ErrBlockDelay is returned when a user trades again before BlockDelay
	// blocks have passed since their last accepted trade.
	ErrBlockDelay = errors.New("guard: block delay not elapsed")

	// ErrSameBlockLimit is returned for the trade that pushes a user past
	// MaxTradesPerBlock within one block.
	ErrSameBlockLimit = errors.New("guard: too many trades in one block")

	// ErrRateLimited is returned when a trade would push a user's volume in
	// the rolling window beyond MaxVolumePerWindow.
	ErrRateLimited = errors.New("guard: volume rate limit exceeded")

	// ErrFrontRun is returned when a trade's gas price is anomalously high
	// relative to the rolling average.
	ErrFrontRun = errors.New("guard: gas price indicates front-running")
)

// Config holds the guard policy. Zero fields take the defaults in Validate.
type Config struct {
	// BlockDelay is the number of blocks a user must wait after an accepted
	// trade before the next one. Zero disables the gate.
	BlockDelay uint64

	// MaxTradesPerBlock is the hard per-address cap within one block.
	MaxTradesPerBlock uint32

	// FlagThreshold marks an address as flagged once its same-block trade
	// count exceeds it. Flagged addresses may keep trading.
	FlagThreshold uint32

	// Window is the span of the rolling volume window.
	Window time.Duration

	// MaxVolumePerWindow caps a user's ETH volume within Window. Nil or zero
	// disables the check.
	MaxVolumePerWindow *uint256.Int

	// GasWindow is how far back gas samples count toward the recent average.
	GasWindow time.Duration

	// FrontRunThresholdPct rejects gas prices above this percentage of the
	// rolling average (200 = twice the average).
	FrontRunThresholdPct uint64

	// FrontRunFlagOnly reports suspected front-running without rejecting.
	FrontRunFlagOnly bool

	// RevealDelay is the minimum number of blocks between a commit and its
	// reveal. Negative allows a reveal in the commit's own block.
	RevealDelay int64

	// CommitTTL expires unrevealed commits. Negative keeps them forever.
	CommitTTL time.Duration
}

// Validate fills defaults.
func (c *Config) Validate() error {
	if c.MaxTradesPerBlock == 0 {
		c.MaxTradesPerBlock = 5
	}
	if c.FlagThreshold == 0 {
		c.FlagThreshold = 3
	}
	if c.FlagThreshold >= c.MaxTradesPerBlock {
		return fmt.Errorf("guard: flag threshold %d must be below the per-block cap %d",
			c.FlagThreshold, c.MaxTradesPerBlock)
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.GasWindow <= 0 {
		c.GasWindow = 5 * time.Minute
	}
	if c.FrontRunThresholdPct == 0 {
		c.FrontRunThresholdPct = 200
	}
	if c.FrontRunThresholdPct < 100 {
		return fmt.Errorf("guard: front-run threshold %d%% must be at least 100%%", c.FrontRunThresholdPct)
	}
	if c.RevealDelay == 0 {
		c.RevealDelay = 1
	}
	if c.RevealDelay < 0 {
		c.RevealDelay = -1
	}
	if c.CommitTTL == 0 {
		c.CommitTTL = 24 * time.Hour
	}
	return nil
}

// RateState is the per-user guard state.
type RateState struct {
	LastBlock       uint64 `json:"last_block"`
	HasTraded       bool   `json:"has_traded"`
	RapidTradeCount uint32 `json:"rapid_trade_count"`
	Flagged         bool   `json:"flagged"`

	window []volumeEntry
}

type volumeEntry struct {
	at    time.Time
	value *uint256.Int
}

// Request describes one trade attempt.
type Request struct {
	User     common.Address
	Block    uint64
	Now      time.Time
	GasPrice uint64 // wei; zero skips the front-run heuristic
	Value    *uint256.Int
}

// Verdict reports non-fatal observations about an accepted trade.
type Verdict struct {
	TradesInBlock   uint32
	Flagged         bool // the same-block count crossed FlagThreshold
	FrontRunSuspect bool // only set when FrontRunFlagOnly is enabled
}

// Guard holds per-user rate state, the global gas tracker and the
// commit-reveal book for one token.
type Guard struct {
	cfg     Config
	users   map[common.Address]*RateState
	head    uint64 // highest block with an accepted trade
	gas     gasTracker
	commits map[common.Hash]*Commit
}

// New creates a guard with the given policy.
func New(cfg Config) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Guard{
		cfg:     cfg,
		users:   make(map[common.Address]*RateState),
		gas:     gasTracker{window: cfg.GasWindow},
		commits: make(map[common.Hash]*Commit),
	}, nil
}

// Config returns the validated policy.
func (g *Guard) Config() Config { return g.cfg }

// Check validates a trade and, if it passes, records it. All state changes
// are journaled in j.
func (g *Guard) Check(j *journal.Journal, req Request) (Verdict, error) {
	st, exists := g.users[req.User]
	if !exists {
		st = &RateState{}
	}

	// 1. Block-delay gate.
	if g.cfg.BlockDelay > 0 && st.HasTraded && req.Block < st.LastBlock+g.cfg.BlockDelay {
		return Verdict{}, fmt.Errorf("%w: last trade at block %d, next allowed at %d",
			ErrBlockDelay, st.LastBlock, st.LastBlock+g.cfg.BlockDelay)
	}

	// 2. Same-block throttle.
	count := uint32(1)
	if st.HasTraded && st.LastBlock == req.Block {
		count = st.RapidTradeCount + 1
	}
	if count > g.cfg.MaxTradesPerBlock {
		return Verdict{}, fmt.Errorf("%w: trade %d in block %d (max %d)",
			ErrSameBlockLimit, count, req.Block, g.cfg.MaxTradesPerBlock)
	}
	verdict := Verdict{TradesInBlock: count, Flagged: count > g.cfg.FlagThreshold}

	// 3. Rolling volume window.
	window := pruneWindow(st.window, req.Now.Add(-g.cfg.Window))
	if err := g.checkVolume(window, req.Value); err != nil {
		return Verdict{}, err
	}

	// 4. Front-run heuristic.
	if req.GasPrice > 0 {
		if ref := g.gas.historical; ref > 0 && exceedsPct(req.GasPrice, ref, g.cfg.FrontRunThresholdPct) {
			if !g.cfg.FrontRunFlagOnly {
				return Verdict{}, fmt.Errorf("%w: gas price %d vs rolling average %d",
					ErrFrontRun, req.GasPrice, ref)
			}
			verdict.FrontRunSuspect = true
		}
	}

	// Accepted: record.
	if exists {
		prev := *st
		j.Append(func() { *st = prev })
	} else {
		g.users[req.User] = st
		j.Append(func() { delete(g.users, req.User) })
	}
	if req.Block > g.head {
		prevHead := g.head
		j.Append(func() { g.head = prevHead })
		g.head = req.Block
	}
	st.LastBlock = req.Block
	st.HasTraded = true
	st.RapidTradeCount = count
	if verdict.Flagged {
		st.Flagged = true
	}
	if req.Value != nil && !req.Value.IsZero() {
		window = append(window[:len(window):len(window)], volumeEntry{at: req.Now, value: new(uint256.Int).Set(req.Value)})
	}
	st.window = window

	if req.GasPrice > 0 {
		g.gas.record(j, req.Now, req.GasPrice)
	}
	return verdict, nil
}

// checkVolume sums the user's window and rejects if value would exceed the
// cap. Mirrors an aggregate exposure limit: existing + delta <= max.
func (g *Guard) checkVolume(window []volumeEntry, value *uint256.Int) error {
	limit := g.cfg.MaxVolumePerWindow
	if limit == nil || limit.IsZero() || value == nil {
		return nil
	}
	total := new(uint256.Int).Set(value)
	for _, e := range window {
		total.Add(total, e.value)
	}
	if total.Gt(limit) {
		return fmt.Errorf("%w: %s wei in %s (max %s)", ErrRateLimited, total.Dec(), g.cfg.Window, limit.Dec())
	}
	return nil
}

// pruneWindow drops entries at or before cutoff. Entries are in time order.
func pruneWindow(window []volumeEntry, cutoff time.Time) []volumeEntry {
	i := 0
	for i < len(window) && !window[i].at.After(cutoff) {
		i++
	}
	return window[i:]
}

// exceedsPct reports whether price > ref * pct / 100.
func exceedsPct(price, ref, pct uint64) bool {
	p := new(uint256.Int).Mul(uint256.NewInt(price), uint256.NewInt(100))
	r := new(uint256.Int).Mul(uint256.NewInt(ref), uint256.NewInt(pct))
	return p.Gt(r)
}

// PruneIdle drops the rate state of users who can no longer be gated by it:
// their volume window is empty, later blocks have been traded in, and any
// block delay has elapsed. A pruned user's flag goes with it. Returns the
// number of users removed.
func (g *Guard) PruneIdle(now time.Time) int {
	cutoff := now.Add(-g.cfg.Window)
	n := 0
	for user, st := range g.users {
		if len(pruneWindow(st.window, cutoff)) > 0 {
			continue
		}
		if st.LastBlock >= g.head || g.head < st.LastBlock+g.cfg.BlockDelay {
			continue
		}
		delete(g.users, user)
		n++
	}
	return n
}

// Users returns the number of users with rate state.
func (g *Guard) Users() int { return len(g.users) }

// State returns a copy of a user's rate state.
func (g *Guard) State(user common.Address) (RateState, bool) {
	st, ok := g.users[user]
	if !ok {
		return RateState{}, false
	}
	cp := *st
	cp.window = nil
	return cp, true
}

// FlaggedCount returns the number of flagged addresses.
func (g *Guard) FlaggedCount() int {
	n := 0
	for _, st := range g.users {
		if st.Flagged {
			n++
		}
	}
	return n
}

// GasAverage returns the current decayed gas price reference.
func (g *Guard) GasAverage() uint64 { return g.gas.historical }
