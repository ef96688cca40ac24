package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/creatorpad/settlement-engine/internal/model"
)

// recentTrades is how many of a token's newest trades the cache holds.
const recentTrades = DefaultListLimit

// CachedStore wraps a primary Store with a Redis read-through cache. Writes
// go to the primary store and invalidate the cache; reads check Redis first
// then fall back to the primary. Redis errors degrade to the primary.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
	log     *slog.Logger
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration, log *slog.Logger) *CachedStore {
	if log == nil {
		log = slog.Default()
	}
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		log:     log,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveToken(ctx context.Context, t *model.TokenInfo) error {
	if err := s.primary.SaveToken(ctx, t); err != nil {
		return err
	}
	s.cache(ctx, tokenKey(t.Address), t)
	return nil
}

func (s *CachedStore) UpdateTokenModel(ctx context.Context, addr common.Address, m model.PricingModel) error {
	if err := s.primary.UpdateTokenModel(ctx, addr, m); err != nil {
		return err
	}
	s.invalidate(ctx, tokenKey(addr))
	return nil
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.TradeRecord) error {
	if err := s.primary.InsertTrade(ctx, t); err != nil {
		return err
	}
	s.invalidate(ctx, tradesKey(t.Token))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetToken(ctx context.Context, addr common.Address) (*model.TokenInfo, error) {
	var t model.TokenInfo
	if s.lookup(ctx, tokenKey(addr), &t) {
		return &t, nil
	}

	tp, err := s.primary.GetToken(ctx, addr)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, tokenKey(addr), tp)
	return tp, nil
}

// ListTrades serves limits up to the cached window from Redis.
func (s *CachedStore) ListTrades(ctx context.Context, token common.Address, limit int) ([]model.TradeRecord, error) {
	limit = normLimit(limit)
	if limit > recentTrades {
		return s.primary.ListTrades(ctx, token, limit)
	}

	var trades []model.TradeRecord
	if !s.lookup(ctx, tradesKey(token), &trades) {
		var err error
		trades, err = s.primary.ListTrades(ctx, token, recentTrades)
		if err != nil {
			return nil, err
		}
		s.cache(ctx, tradesKey(token), trades)
	}
	if len(trades) > limit {
		trades = trades[:limit]
	}
	return trades, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListTokens(ctx context.Context) ([]model.TokenInfo, error) {
	return s.primary.ListTokens(ctx)
}

func (s *CachedStore) ListTradesByTrader(ctx context.Context, trader common.Address, limit int) ([]model.TradeRecord, error) {
	return s.primary.ListTradesByTrader(ctx, trader, limit)
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.log.Warn("cache read failed", "key", key, "error", err)
		}
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.log.Warn("cache write failed", "key", key, "error", err)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, key string) {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		s.log.Warn("cache invalidation failed", "key", key, "error", err)
	}
}

func tokenKey(addr common.Address) string  { return fmt.Sprintf("token:%s", strings.ToLower(addr.Hex())) }
func tradesKey(addr common.Address) string { return fmt.Sprintf("trades:%s", strings.ToLower(addr.Hex())) }
