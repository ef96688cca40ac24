// Package ledger keeps per-token trade analytics: holder balances, the trade
// history, per-trader statistics, the top-trader leaderboard, daily volume and
// the price history used for volatility.
//
// Every mutator takes the enclosing transaction's journal so a failed
// settlement leaves the ledger untouched.
package ledger

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/creatorpad/settlement-engine/internal/journal"
	"github.com/creatorpad/settlement-engine/internal/model"
	"github.com/creatorpad/settlement-engine/internal/ring"
)

// DefaultHistoryCap is the number of trade records kept in memory.
const DefaultHistoryCap = 10_000

// VolumeWindow is the span of the daily and trailing volume figures.
const VolumeWindow = 24 * time.Hour

// TraderStats is the cumulative activity of one address.
type TraderStats struct {
	TotalVolume    *uint256.Int `json:"total_volume"`
	TradeCount     uint64       `json:"trade_count"`
	FirstTradeTime time.Time    `json:"first_trade_time"`
}

// Recorded describes what Record changed.
type Recorded struct {
	Index       uint64
	FirstTrade  bool
	Rank        int // 1-based leaderboard rank, 0 if not listed
	TopChanged  bool
	TotalVolume *uint256.Int // trader's cumulative volume after the trade
}

// Ledger is the trade history and derived statistics of one token.
type Ledger struct {
	trades  *ring.Buffer[model.TradeRecord]
	total   uint64
	traders map[common.Address]*TraderStats
	top     TopTable

	totalVolume     *uint256.Int
	dailyVolume     *uint256.Int
	lastVolumeReset time.Time
}

// New creates a ledger keeping at most historyCap records in memory (zero
// means DefaultHistoryCap). start seeds the daily volume window.
func New(historyCap int, start time.Time) *Ledger {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	return &Ledger{
		trades:          ring.New[model.TradeRecord](historyCap),
		traders:         make(map[common.Address]*TraderStats),
		totalVolume:     new(uint256.Int),
		dailyVolume:     new(uint256.Int),
		lastVolumeReset: start,
	}
}

// Record appends a settled trade. balance is the trader's token balance after
// the trade, shown on the leaderboard.
func (l *Ledger) Record(j *journal.Journal, rec model.TradeRecord, balance *uint256.Int) Recorded {
	prevTotal := l.total
	prevTotalVolume, prevDaily, prevReset := l.totalVolume, l.dailyVolume, l.lastVolumeReset
	j.Append(func() {
		l.total = prevTotal
		l.totalVolume = prevTotalVolume
		l.dailyVolume = prevDaily
		l.lastVolumeReset = prevReset
	})

	rec.Index = l.total
	l.trades.Push(j, rec)
	l.total++
	l.totalVolume = new(uint256.Int).Add(l.totalVolume, rec.EthValue)
	if rec.Timestamp.Sub(l.lastVolumeReset) > VolumeWindow {
		l.dailyVolume = new(uint256.Int).Set(rec.EthValue)
		l.lastVolumeReset = rec.Timestamp
	} else {
		l.dailyVolume = new(uint256.Int).Add(l.dailyVolume, rec.EthValue)
	}

	st, seen := l.traders[rec.Trader]
	if seen {
		prev := *st
		j.Append(func() { *st = prev })
	} else {
		st = &TraderStats{TotalVolume: new(uint256.Int), FirstTradeTime: rec.Timestamp}
		l.traders[rec.Trader] = st
		j.Append(func() { delete(l.traders, rec.Trader) })
	}
	st.TotalVolume = new(uint256.Int).Add(st.TotalVolume, rec.EthValue)
	st.TradeCount++

	rank, changed := l.top.Update(j, model.TopTrader{
		Trader:         rec.Trader,
		TotalVolume:    st.TotalVolume,
		CurrentBalance: new(uint256.Int).Set(balance),
		TradeCount:     st.TradeCount,
		FirstTradeTime: st.FirstTradeTime,
	})
	if !changed {
		rank = l.top.Rank(rec.Trader)
	}

	return Recorded{
		Index:       l.total - 1,
		FirstTrade:  !seen,
		Rank:        rank,
		TopChanged:  changed,
		TotalVolume: new(uint256.Int).Set(st.TotalVolume),
	}
}

// SetBalance refreshes a leaderboard entry after a balance change that did not
// come from a trade.
func (l *Ledger) SetBalance(j *journal.Journal, trader common.Address, balance *uint256.Int) {
	l.top.SetBalance(j, trader, balance)
}

// Recent returns up to limit records, newest first. limit <= 0 returns all
// records held in memory.
func (l *Ledger) Recent(limit int) []model.TradeRecord { return l.trades.Newest(limit) }

// TotalTrades returns the number of trades ever recorded, including records
// evicted from memory.
func (l *Ledger) TotalTrades() uint64 { return l.total }

// UniqueTraders returns the number of distinct addresses that have traded.
func (l *Ledger) UniqueTraders() uint64 { return uint64(len(l.traders)) }

// TotalVolume returns the all-time ETH volume.
func (l *Ledger) TotalVolume() *uint256.Int { return new(uint256.Int).Set(l.totalVolume) }

// DailyVolume returns the volume accumulated since the last daily reset.
func (l *Ledger) DailyVolume() *uint256.Int { return new(uint256.Int).Set(l.dailyVolume) }

// LastVolumeReset returns when the daily volume last restarted.
func (l *Ledger) LastVolumeReset() time.Time { return l.lastVolumeReset }

// Volume24h sums the ETH value of trades within VolumeWindow of now, scanning
// from the newest record and stopping at the first older one.
func (l *Ledger) Volume24h(now time.Time) *uint256.Int {
	cutoff := now.Add(-VolumeWindow)
	sum := new(uint256.Int)
	l.trades.Walk(func(rec model.TradeRecord) bool {
		if rec.Timestamp.Before(cutoff) {
			return false
		}
		sum.Add(sum, rec.EthValue)
		return true
	})
	return sum
}

// Trader returns a copy of a trader's statistics.
func (l *Ledger) Trader(addr common.Address) (TraderStats, bool) {
	st, ok := l.traders[addr]
	if !ok {
		return TraderStats{}, false
	}
	return TraderStats{
		TotalVolume:    new(uint256.Int).Set(st.TotalVolume),
		TradeCount:     st.TradeCount,
		FirstTradeTime: st.FirstTradeTime,
	}, true
}

// TopTraders returns the leaderboard, highest volume first.
func (l *Ledger) TopTraders() []model.TopTrader { return l.top.Entries() }
