package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/creatorpad/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[common.Address]*model.TokenInfo
	trades []model.TradeRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens: make(map[common.Address]*model.TokenInfo),
	}
}

func (s *MemoryStore) SaveToken(_ context.Context, t *model.TokenInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[t.Address]; ok {
		return fmt.Errorf("%w: token %s", ErrExists, t.Address.Hex())
	}
	s.tokens[t.Address] = copyToken(t)
	return nil
}

func (s *MemoryStore) UpdateTokenModel(_ context.Context, addr common.Address, m model.PricingModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[addr]
	if !ok {
		return fmt.Errorf("%w: token %s", ErrNotFound, addr.Hex())
	}
	t.Model = m
	return nil
}

func (s *MemoryStore) GetToken(_ context.Context, addr common.Address) (*model.TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("%w: token %s", ErrNotFound, addr.Hex())
	}
	return copyToken(t), nil
}

func (s *MemoryStore) ListTokens(_ context.Context) ([]model.TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := make([]model.TokenInfo, 0, len(s.tokens))
	for _, t := range s.tokens {
		tokens = append(tokens, *copyToken(t))
	}
	sort.Slice(tokens, func(i, j int) bool {
		if !tokens[i].LaunchedAt.Equal(tokens[j].LaunchedAt) {
			return tokens[i].LaunchedAt.After(tokens[j].LaunchedAt)
		}
		return tokens[i].Address.Hex() < tokens[j].Address.Hex()
	})
	return tokens, nil
}

func (s *MemoryStore) InsertTrade(_ context.Context, trade *model.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *trade)
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, token common.Address, limit int) ([]model.TradeRecord, error) {
	return s.newest(limit, func(t *model.TradeRecord) bool { return t.Token == token }), nil
}

func (s *MemoryStore) ListTradesByTrader(_ context.Context, trader common.Address, limit int) ([]model.TradeRecord, error) {
	return s.newest(limit, func(t *model.TradeRecord) bool { return t.Trader == trader }), nil
}

// newest returns matching trades, latest settled first. Archive writes can
// arrive out of settlement order, so results are ordered by timestamp and
// then by the token's trade index.
func (s *MemoryStore) newest(limit int, match func(*model.TradeRecord) bool) []model.TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.TradeRecord{}
	for i := len(s.trades) - 1; i >= 0; i-- {
		if match(&s.trades[i]) {
			result = append(result, s.trades[i])
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.Index > b.Index
	})
	if limit = normLimit(limit); len(result) > limit {
		result = result[:limit]
	}
	return result
}

func copyToken(t *model.TokenInfo) *model.TokenInfo {
	cp := *t
	if t.TotalSupply != nil {
		cp.TotalSupply = new(uint256.Int).Set(t.TotalSupply)
	}
	return &cp
}
