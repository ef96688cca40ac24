// Package chain derives block numbers for transactions submitted over HTTP.
package chain

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultBlockTime matches Ethereum mainnet's 12 second slots.
const DefaultBlockTime = 12 * time.Second

// BlockClock maps wall-clock time onto a block height: one block every
// BlockTime since Genesis, starting at block 1.
type BlockClock struct {
	Clock     clockwork.Clock
	Genesis   time.Time
	BlockTime time.Duration
}

// NewBlockClock starts a chain at the clock's current time.
func NewBlockClock(clock clockwork.Clock, blockTime time.Duration) (*BlockClock, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if blockTime == 0 {
		blockTime = DefaultBlockTime
	}
	if blockTime < 0 {
		return nil, errors.New("chain: block time must be positive")
	}
	return &BlockClock{Clock: clock, Genesis: clock.Now(), BlockTime: blockTime}, nil
}

// Now returns the current time.
func (c *BlockClock) Now() time.Time { return c.Clock.Now() }

// Block returns the current block number.
func (c *BlockClock) Block() uint64 {
	return c.BlockAt(c.Clock.Now())
}

// BlockAt returns the block number at t. Times before genesis are block 1.
func (c *BlockClock) BlockAt(t time.Time) uint64 {
	elapsed := t.Sub(c.Genesis)
	if elapsed < 0 {
		return 1
	}
	return uint64(elapsed/c.BlockTime) + 1
}

// BlockStart returns the time block n began.
func (c *BlockClock) BlockStart(n uint64) time.Time {
	if n <= 1 {
		return c.Genesis
	}
	return c.Genesis.Add(time.Duration(n-1) * c.BlockTime)
}
