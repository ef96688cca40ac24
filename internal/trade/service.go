// Package trade exposes the settlement engines over HTTP: launching tokens,
// trading, creator operations and the analytics views.
//
// Amounts travel as decimal wei strings. Responses also carry human ETH and
// token amounts rendered with shopspring/decimal.
package trade

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"

	"github.com/creatorpad/settlement-engine/internal/chain"
	"github.com/creatorpad/settlement-engine/internal/guard"
	"github.com/creatorpad/settlement-engine/internal/launch"
	"github.com/creatorpad/settlement-engine/internal/metrics"
	"github.com/creatorpad/settlement-engine/internal/model"
	"github.com/creatorpad/settlement-engine/internal/settlement"
	"github.com/creatorpad/settlement-engine/internal/store"
)

// Config configures the Service.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Blocks *chain.BlockClock

	Store     store.Store
	Publisher settlement.Publisher
	Payer     settlement.Payer

	// Registry is the address launched token addresses derive from.
	Registry common.Address

	// RequireSignatures makes every POST body carry its sender's signature.
	// Without it the API trusts the sender field, which suits local
	// simulation only.
	RequireSignatures bool

	Guard               guard.Config
	LargeTradeThreshold *uint256.Int
	PriceImpactWarnBps  uint64
	HistoryCap          int
}

// Validate fills defaults.
func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Blocks == nil {
		b, err := chain.NewBlockClock(cfg.Clock, chain.DefaultBlockTime)
		if err != nil {
			return err
		}
		cfg.Blocks = b
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore()
	}
	if cfg.Registry == (common.Address{}) {
		return fmt.Errorf("trade: registry address is required")
	}
	return nil
}

// Service holds the live engines, one per launched token. Each engine
// serializes its own writers; the registry mutex only guards the map and
// the launch nonce.
type Service struct {
	log *slog.Logger
	cfg Config

	mu      sync.RWMutex
	engines map[common.Address]*settlement.Engine
	nonce   uint64
}

// NewService creates a Service. The launch nonce resumes after the tokens
// already archived in the store so new addresses never collide with them.
func NewService(ctx context.Context, cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	archived, err := cfg.Store.ListTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("trade: load token registry: %w", err)
	}
	return &Service{
		log:     cfg.Logger,
		cfg:     cfg,
		engines: make(map[common.Address]*settlement.Engine),
		nonce:   uint64(len(archived)),
	}, nil
}

// LaunchRequest is the JSON body for POST /tokens. With signed requests
// required, the creator signs it.
type LaunchRequest struct {
	launch.Params
	Multisig bool  `json:"multisig"`
	Deadline int64 `json:"deadline,omitempty"`
}

// Launch validates p, starts an engine for it and archives the token.
func (s *Service) Launch(ctx context.Context, req LaunchRequest) (*settlement.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := launch.TokenAddress(s.cfg.Registry, s.nonce)
	e, err := settlement.New(settlement.Config{
		Logger:              s.log,
		Clock:               s.cfg.Clock,
		Address:             addr,
		Params:              req.Params,
		Guard:               s.cfg.Guard,
		HistoryCap:          s.cfg.HistoryCap,
		LargeTradeThreshold: s.cfg.LargeTradeThreshold,
		PriceImpactWarnBps:  s.cfg.PriceImpactWarnBps,
		Multisig:            req.Multisig,
		Publisher:           s.cfg.Publisher,
		Payer:               s.cfg.Payer,
	})
	if err != nil {
		return nil, err
	}
	info := e.Info()
	if err := s.cfg.Store.SaveToken(ctx, &info); err != nil {
		return nil, fmt.Errorf("%w: %w", errArchive, err)
	}
	s.engines[addr] = e
	s.nonce++
	metrics.ActiveTokens.Set(float64(len(s.engines)))
	return e, nil
}

// Engine returns the live engine of a token.
func (s *Service) Engine(addr common.Address) (*settlement.Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.engines[addr]
	return e, ok
}

// Engines returns the live engines ordered by address.
func (s *Service) Engines() []*settlement.Engine {
	s.mu.RLock()
	out := make([]*settlement.Engine, 0, len(s.engines))
	for _, e := range s.engines {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address().Cmp(out[j].Address()) < 0
	})
	return out
}

// Tx builds the transaction context of an HTTP-submitted call at the
// current block.
func (s *Service) Tx(sender common.Address, value *uint256.Int, gasPrice uint64) settlement.TxContext {
	return settlement.TxContext{
		Sender:   sender,
		Value:    value,
		Block:    s.cfg.Blocks.Block(),
		GasPrice: gasPrice,
	}
}

// PruneCommits drops expired commits across all engines.
func (s *Service) PruneCommits() int {
	n := 0
	for _, e := range s.Engines() {
		n += e.PruneCommits()
	}
	return n
}

// PruneIdleTraders drops idle guard state across all engines.
func (s *Service) PruneIdleTraders() int {
	n := 0
	for _, e := range s.Engines() {
		n += e.PruneIdleTraders()
	}
	return n
}

// RunMaintenance prunes expired commits and idle trader state every interval
// until ctx is done.
func (s *Service) RunMaintenance(ctx context.Context, interval time.Duration) error {
	ticker := s.cfg.Clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if n := s.PruneCommits(); n > 0 {
				s.log.Info("pruned expired commits", "count", n)
			}
			if n := s.PruneIdleTraders(); n > 0 {
				s.log.Info("pruned idle trader state", "count", n)
			}
		}
	}
}

// archive appends a settled trade to the store. The engine already holds
// the trade, so a failed write is logged and not surfaced.
func (s *Service) archive(ctx context.Context, rec model.TradeRecord) {
	if err := s.cfg.Store.InsertTrade(context.WithoutCancel(ctx), &rec); err != nil {
		s.log.Error("failed to archive trade", "trade_id", rec.ID, "token", rec.Token.Hex(), "error", err)
	}
}

// migrated records a pricing model change in the store.
func (s *Service) migrated(ctx context.Context, addr common.Address) {
	if err := s.cfg.Store.UpdateTokenModel(context.WithoutCancel(ctx), addr, model.ModelAMM); err != nil {
		s.log.Error("failed to archive migration", "token", addr.Hex(), "error", err)
	}
}

// LogPayer returns a Payer that records payouts in the log. It stands in
// for the on-chain transfer when the engine runs as a service.
func LogPayer(log *slog.Logger) settlement.Payer {
	return settlement.PayerFunc(func(_ context.Context, to common.Address, amount *uint256.Int) error {
		log.Info("payout", "to", to.Hex(), "amount", amount.Dec())
		return nil
	})
}
