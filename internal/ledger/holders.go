package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/creatorpad/settlement-engine/internal/journal"
)

// ErrInsufficientBalance is returned when a debit exceeds the holder's balance.
var ErrInsufficientBalance = errors.New("ledger: insufficient balance")

// Milestones are the holder counts that trigger a HolderMilestone event.
var Milestones = []uint64{10, 50, 100, 250, 500, 1000, 5000, 10000}

// Holders tracks token balances and the number of non-zero holders.
type Holders struct {
	balances map[common.Address]*uint256.Int
	count    uint64
}

// NewHolders returns an empty holder ledger.
func NewHolders() *Holders {
	return &Holders{balances: make(map[common.Address]*uint256.Int)}
}

// BalanceOf returns the balance of addr (zero if unknown).
func (h *Holders) BalanceOf(addr common.Address) *uint256.Int {
	if b, ok := h.balances[addr]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

// Count returns the number of addresses holding a positive balance.
func (h *Holders) Count() uint64 { return h.count }

// Credit adds amount to addr. It reports whether addr became a holder.
func (h *Holders) Credit(j *journal.Journal, addr common.Address, amount *uint256.Int) (bool, error) {
	if amount.IsZero() {
		return false, nil
	}
	prev, had := h.balances[addr]
	next, overflow := new(uint256.Int).AddOverflow(h.BalanceOf(addr), amount)
	if overflow {
		return false, fmt.Errorf("ledger: balance overflow for %s", addr.Hex())
	}
	h.set(j, addr, prev, had, next)
	return !had, nil
}

// Debit removes amount from addr. It reports whether addr stopped being a
// holder.
func (h *Holders) Debit(j *journal.Journal, addr common.Address, amount *uint256.Int) (bool, error) {
	if amount.IsZero() {
		return false, nil
	}
	prev, had := h.balances[addr]
	if !had || prev.Lt(amount) {
		return false, fmt.Errorf("%w: %s holds %s, needs %s",
			ErrInsufficientBalance, addr.Hex(), h.BalanceOf(addr).Dec(), amount.Dec())
	}
	next := new(uint256.Int).Sub(prev, amount)
	h.set(j, addr, prev, had, next)
	return next.IsZero(), nil
}

// set stores next (deleting zero balances) and keeps count exact across the
// 0 <-> positive transitions.
func (h *Holders) set(j *journal.Journal, addr common.Address, prev *uint256.Int, had bool, next *uint256.Int) {
	prevCount := h.count
	j.Append(func() {
		if had {
			h.balances[addr] = prev
		} else {
			delete(h.balances, addr)
		}
		h.count = prevCount
	})

	switch {
	case next.IsZero():
		delete(h.balances, addr)
		if had {
			h.count--
		}
	default:
		h.balances[addr] = next
		if !had {
			h.count++
		}
	}
}

// CrossedMilestone returns the highest milestone m with prev < m <= next.
func CrossedMilestone(prev, next uint64) (uint64, bool) {
	var hit uint64
	for _, m := range Milestones {
		if prev < m && m <= next {
			hit = m
		}
	}
	return hit, hit != 0
}
