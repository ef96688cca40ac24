package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/creatorpad/settlement-engine/internal/journal"
	"github.com/creatorpad/settlement-engine/internal/model"
)

// TopSize is the number of leaderboard slots.
const TopSize = 10

// TopTable is the leaderboard, kept in strictly descending TotalVolume order
// after every update. Among equal volumes the earlier entrant ranks first.
type TopTable struct {
	entries []model.TopTrader
}

// Update places entry by its cumulative volume. It returns the 1-based rank
// and whether the table changed. A newcomer enters a full table only by
// strictly exceeding the lowest occupant.
func (t *TopTable) Update(j *journal.Journal, entry model.TopTrader) (int, bool) {
	idx := t.indexOf(entry.Trader)
	if idx < 0 && len(t.entries) == TopSize && !entry.TotalVolume.Gt(t.entries[TopSize-1].TotalVolume) {
		return 0, false
	}

	t.snapshot(j)
	next := make([]model.TopTrader, 0, TopSize+1)
	for i, e := range t.entries {
		if i != idx {
			next = append(next, e)
		}
	}
	pos := len(next)
	for i, e := range next {
		if entry.TotalVolume.Gt(e.TotalVolume) {
			pos = i
			break
		}
	}
	next = append(next, model.TopTrader{})
	copy(next[pos+1:], next[pos:])
	next[pos] = entry
	if len(next) > TopSize {
		next = next[:TopSize]
	}
	t.entries = next
	return pos + 1, true
}

// SetBalance refreshes the CurrentBalance of a listed trader.
func (t *TopTable) SetBalance(j *journal.Journal, trader common.Address, balance *uint256.Int) {
	idx := t.indexOf(trader)
	if idx < 0 {
		return
	}
	t.snapshot(j)
	next := make([]model.TopTrader, len(t.entries))
	copy(next, t.entries)
	next[idx].CurrentBalance = new(uint256.Int).Set(balance)
	t.entries = next
}

// Entries returns a copy of the table, highest volume first.
func (t *TopTable) Entries() []model.TopTrader {
	out := make([]model.TopTrader, len(t.entries))
	copy(out, t.entries)
	return out
}

// Rank returns the 1-based rank of trader, or 0 if not listed.
func (t *TopTable) Rank(trader common.Address) int {
	return t.indexOf(trader) + 1
}

func (t *TopTable) indexOf(trader common.Address) int {
	for i, e := range t.entries {
		if e.Trader == trader {
			return i
		}
	}
	return -1
}

// snapshot records the current slice. Updates always build a fresh slice, so
// the saved header stays valid.
func (t *TopTable) snapshot(j *journal.Journal) {
	prev := t.entries
	j.Append(func() { t.entries = prev })
}
