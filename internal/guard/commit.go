package guard

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/creatorpad/settlement-engine/internal/journal"
)

var (
	ErrCommitExists   = errors.New("guard: commit already registered")
	ErrUnknownCommit  = errors.New("guard: unknown commit")
	ErrCommitOwner    = errors.New("guard: commit belongs to another address")
	ErrCommitUsed     = errors.New("guard: commit already revealed")
	ErrCommitTooEarly = errors.New("guard: reveal delay not elapsed")
	ErrCommitExpired  = errors.New("guard: commit expired")
)

// Commit is a registered purchase commitment.
type Commit struct {
	Hash     common.Hash    `json:"hash"`
	User     common.Address `json:"user"`
	Block    uint64         `json:"block"`
	Time     time.Time      `json:"time"`
	Revealed bool           `json:"revealed"`
}

// CommitHash binds a purchase to its buyer, the engine it targets, its bounds
// and a secret salt.
func CommitHash(user, engine common.Address, minTokensOut, value *uint256.Int, salt [32]byte) common.Hash {
	minOut := minTokensOut.Bytes32()
	val := value.Bytes32()
	return crypto.Keccak256Hash(user.Bytes(), engine.Bytes(), minOut[:], val[:], salt[:])
}

// Commit registers a commitment.
func (g *Guard) Commit(j *journal.Journal, hash common.Hash, user common.Address, block uint64, now time.Time) error {
	if _, ok := g.commits[hash]; ok {
		return fmt.Errorf("%w: %s", ErrCommitExists, hash.Hex())
	}
	g.commits[hash] = &Commit{Hash: hash, User: user, Block: block, Time: now}
	j.Append(func() { delete(g.commits, hash) })
	return nil
}

// Reveal consumes a commitment. Revealed hashes stay in the book until they
// expire, so a reveal cannot be replayed within the commit's lifetime.
func (g *Guard) Reveal(j *journal.Journal, hash common.Hash, user common.Address, block uint64, now time.Time) error {
	c, ok := g.commits[hash]
	switch {
	case !ok:
		return fmt.Errorf("%w: %s", ErrUnknownCommit, hash.Hex())
	case c.User != user:
		return fmt.Errorf("%w: %s", ErrCommitOwner, hash.Hex())
	case c.Revealed:
		return fmt.Errorf("%w: %s", ErrCommitUsed, hash.Hex())
	case block < c.Block+g.revealDelay():
		return fmt.Errorf("%w: committed at block %d, reveal allowed from %d",
			ErrCommitTooEarly, c.Block, c.Block+g.revealDelay())
	case g.expired(c, now):
		return fmt.Errorf("%w: committed at %s", ErrCommitExpired, c.Time.Format(time.RFC3339))
	}
	c.Revealed = true
	j.Append(func() { c.Revealed = false })
	return nil
}

// PendingCommit returns a copy of a registered commit.
func (g *Guard) PendingCommit(hash common.Hash) (Commit, bool) {
	c, ok := g.commits[hash]
	if !ok {
		return Commit{}, false
	}
	return *c, true
}

// PruneCommits drops expired commits, revealed or not, and returns how many
// were removed. Once pruned, the same hash may be committed afresh.
func (g *Guard) PruneCommits(now time.Time) int {
	n := 0
	for h, c := range g.commits {
		if g.expired(c, now) {
			delete(g.commits, h)
			n++
		}
	}
	return n
}

func (g *Guard) revealDelay() uint64 {
	if g.cfg.RevealDelay < 0 {
		return 0
	}
	return uint64(g.cfg.RevealDelay)
}

func (g *Guard) expired(c *Commit, now time.Time) bool {
	return g.cfg.CommitTTL > 0 && now.After(c.Time.Add(g.cfg.CommitTTL))
}
