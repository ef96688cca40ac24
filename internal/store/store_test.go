package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorpad/settlement-engine/internal/model"
)

var (
	tokenA = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	epoch  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func token(addr common.Address, launched time.Time) *model.TokenInfo {
	return &model.TokenInfo{
		Address:     addr,
		Name:        "Luna",
		Symbol:      "LUNA",
		Creator:     alice,
		Model:       model.ModelCurve,
		TotalSupply: uint256.MustFromDecimal("1000000000000000000000000000"),
		LaunchedAt:  launched,
	}
}

func tradeRec(tok, trader common.Address, block uint64) *model.TradeRecord {
	return &model.TradeRecord{
		ID:          uuid.NewString(),
		Token:       tok,
		Trader:      trader,
		IsBuy:       block%2 == 1,
		TokenAmount: uint256.MustFromDecimal("90661089388014913158135"),
		EthValue:    uint256.NewInt(1e18),
		Fee:         uint256.NewInt(3e15),
		Price:       uint256.NewInt(12093400900000),
		Block:       block,
		Timestamp:   epoch.Add(time.Duration(block) * 12 * time.Second),
		Index:       block,
	}
}

// exerciseStore runs the Store contract against any implementation.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.SaveToken(ctx, token(tokenA, epoch)))
	require.NoError(t, s.SaveToken(ctx, token(tokenB, epoch.Add(time.Hour))))
	err := s.SaveToken(ctx, token(tokenA, epoch))
	require.ErrorIs(t, err, ErrExists)

	got, err := s.GetToken(ctx, tokenA)
	require.NoError(t, err)
	assert.Equal(t, token(tokenA, epoch), got)

	_, err = s.GetToken(ctx, common.HexToAddress("0x01"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpdateTokenModel(ctx, tokenA, model.ModelAMM))
	got, err = s.GetToken(ctx, tokenA)
	require.NoError(t, err)
	assert.Equal(t, model.ModelAMM, got.Model)
	require.ErrorIs(t, s.UpdateTokenModel(ctx, common.HexToAddress("0x01"), model.ModelAMM), ErrNotFound)

	tokens, err := s.ListTokens(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, tokenB, tokens[0].Address, "newest first")

	var inserted []*model.TradeRecord
	for block := uint64(1); block <= 6; block++ {
		tok, trader := tokenA, alice
		if block%3 == 0 {
			tok = tokenB
		}
		if block%2 == 0 {
			trader = bob
		}
		rec := tradeRec(tok, trader, block)
		require.NoError(t, s.InsertTrade(ctx, rec))
		inserted = append(inserted, rec)
	}

	trades, err := s.ListTrades(ctx, tokenA, 0)
	require.NoError(t, err)
	require.Len(t, trades, 4)
	assert.Equal(t, []uint64{5, 4, 2, 1}, blocks(trades))
	assert.Equal(t, *inserted[4], trades[0])

	trades, err = s.ListTrades(ctx, tokenA, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 4}, blocks(trades))

	trades, err = s.ListTradesByTrader(ctx, bob, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{6, 4, 2}, blocks(trades))

	trades, err = s.ListTrades(ctx, common.HexToAddress("0x01"), 10)
	require.NoError(t, err)
	assert.Empty(t, trades)

	// Archive writes can land out of settlement order.
	require.NoError(t, s.InsertTrade(ctx, tradeRec(tokenB, alice, 9)))
	require.NoError(t, s.InsertTrade(ctx, tradeRec(tokenB, alice, 8)))
	trades, err = s.ListTrades(ctx, tokenB, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{9, 8, 6}, blocks(trades))
	assert.Equal(t, uint64(9), trades[0].Index)
	trades, err = s.ListTradesByTrader(ctx, alice, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{9, 8, 5}, blocks(trades))
}

func blocks(trades []model.TradeRecord) []uint64 {
	out := make([]uint64, len(trades))
	for i, t := range trades {
		out[i] = t.Block
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	tok := token(tokenA, epoch)
	require.NoError(t, s.SaveToken(ctx, tok))
	tok.TotalSupply.SetUint64(1)

	got, err := s.GetToken(ctx, tokenA)
	require.NoError(t, err)
	got.Name = "changed"
	again, err := s.GetToken(ctx, tokenA)
	require.NoError(t, err)
	assert.Equal(t, "Luna", again.Name)
	assert.NotEqual(t, uint64(1), again.TotalSupply.Uint64())
}

// fakeRedis implements the Get/Set/Del subset of redis.Cmdable the cache
// uses.
type fakeRedis struct {
	redis.Cmdable
	mu   sync.Mutex
	data map[string][]byte
	gets map[string]int
	down bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string][]byte{}, gets: map[string]int{}}
}

var errDown = errors.New("redis: connection refused")

func (r *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets[key]++
	if r.down {
		return redis.NewStringResult("", errDown)
	}
	v, ok := r.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (r *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return redis.NewStatusResult("", errDown)
	}
	r.data[key] = value.([]byte)
	return redis.NewStatusResult("OK", nil)
}

func (r *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return redis.NewIntResult(0, errDown)
	}
	var n int64
	for _, k := range keys {
		if _, ok := r.data[k]; ok {
			delete(r.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (r *fakeRedis) has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.data[key]
	return ok
}

// countingStore counts primary reads.
type countingStore struct {
	Store
	mu          sync.Mutex
	tokenReads  int
	tradeListed int
}

func (c *countingStore) GetToken(ctx context.Context, addr common.Address) (*model.TokenInfo, error) {
	c.mu.Lock()
	c.tokenReads++
	c.mu.Unlock()
	return c.Store.GetToken(ctx, addr)
}

func (c *countingStore) ListTrades(ctx context.Context, token common.Address, limit int) ([]model.TradeRecord, error) {
	c.mu.Lock()
	c.tradeListed++
	c.mu.Unlock()
	return c.Store.ListTrades(ctx, token, limit)
}

func TestCachedStore_Contract(t *testing.T) {
	t.Parallel()
	exerciseStore(t, NewCachedStore(NewMemoryStore(), newFakeRedis(), time.Minute, nil))
}

func TestCachedStore_ReadThroughAndInvalidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	primary := &countingStore{Store: NewMemoryStore()}
	rdb := newFakeRedis()
	s := NewCachedStore(primary, rdb, time.Minute, nil)

	require.NoError(t, s.SaveToken(ctx, token(tokenA, epoch)))
	assert.True(t, rdb.has(tokenKey(tokenA)), "save warms the cache")

	got, err := s.GetToken(ctx, tokenA)
	require.NoError(t, err)
	assert.Equal(t, "LUNA", got.Symbol)
	assert.Equal(t, 0, primary.tokenReads)

	require.NoError(t, s.UpdateTokenModel(ctx, tokenA, model.ModelAMM))
	assert.False(t, rdb.has(tokenKey(tokenA)))
	got, err = s.GetToken(ctx, tokenA)
	require.NoError(t, err)
	assert.Equal(t, model.ModelAMM, got.Model)
	assert.Equal(t, 1, primary.tokenReads)

	require.NoError(t, s.InsertTrade(ctx, tradeRec(tokenA, alice, 1)))
	_, err = s.ListTrades(ctx, tokenA, 10)
	require.NoError(t, err)
	_, err = s.ListTrades(ctx, tokenA, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, primary.tradeListed)

	require.NoError(t, s.InsertTrade(ctx, tradeRec(tokenA, bob, 2)))
	trades, err := s.ListTrades(ctx, tokenA, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 1}, blocks(trades))
	assert.Equal(t, 2, primary.tradeListed)

	_, err = s.ListTrades(ctx, tokenA, recentTrades+1)
	require.NoError(t, err)
	assert.Equal(t, 3, primary.tradeListed, "large limits bypass the cache")
}

func TestCachedStore_RedisDownFallsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rdb := newFakeRedis()
	rdb.down = true
	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute, nil)

	require.NoError(t, s.SaveToken(ctx, token(tokenA, epoch)))
	got, err := s.GetToken(ctx, tokenA)
	require.NoError(t, err)
	assert.Equal(t, tokenA, got.Address)
	require.NoError(t, s.InsertTrade(ctx, tradeRec(tokenA, alice, 1)))
	trades, err := s.ListTrades(ctx, tokenA, 0)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestKeys(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "token:0x000000000000000000000000000000000000aaaa", tokenKey(tokenA))
	assert.Equal(t, "trades:0x000000000000000000000000000000000000aaaa", tradesKey(tokenA))
}

func TestParseNumeric(t *testing.T) {
	t.Parallel()
	top := new(uint256.Int).SetAllOne()
	v, err := parseNumeric(numeric(top))
	require.NoError(t, err)
	assert.Equal(t, top, v)
	assert.Equal(t, "0", numeric(nil))

	_, err = parseNumeric("1.5")
	require.Error(t, err)
	_, err = parseNumeric("-1")
	require.Error(t, err)
}
