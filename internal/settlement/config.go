package settlement

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"

	"github.com/creatorpad/settlement-engine/internal/guard"
	"github.com/creatorpad/settlement-engine/internal/launch"
	"github.com/creatorpad/settlement-engine/internal/model"
)

// Defaults.
const (
	DefaultPriceImpactWarnBps = 500
)

// DefaultLargeTradeThreshold is 10 ETH.
var DefaultLargeTradeThreshold = new(uint256.Int).Mul(uint256.NewInt(10), uint256.NewInt(1e18))

// Publisher receives the events of every committed operation, in order.
type Publisher interface {
	Publish(ctx context.Context, events []model.Event)
}

// Payer moves ETH out of the engine. It is called after all internal state
// has been updated and outside the engine's state lock; an error rolls the
// whole operation back. A payer may read any view, which already reflects
// the operation. The context carries the engine's in-flight marker, so a
// mutating call made with that context is rejected as reentrant. A mutating
// call on any other context waits for the current operation and never
// returns.
type Payer interface {
	Pay(ctx context.Context, to common.Address, amount *uint256.Int) error
}

// PayerFunc adapts a function to Payer.
type PayerFunc func(ctx context.Context, to common.Address, amount *uint256.Int) error

func (f PayerFunc) Pay(ctx context.Context, to common.Address, amount *uint256.Int) error {
	return f(ctx, to, amount)
}

type nopPayer struct{}

func (nopPayer) Pay(context.Context, common.Address, *uint256.Int) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, []model.Event) {}

// Config configures one token's engine.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// Address is the token's address; it is bound into commit hashes.
	Address common.Address

	Params launch.Params
	Guard  guard.Config

	HistoryCap          int
	LargeTradeThreshold *uint256.Int
	PriceImpactWarnBps  uint64

	// Multisig reports whether the creator key is a multisig. It only
	// feeds the risk assessment.
	Multisig bool

	Publisher Publisher
	Payer     Payer
}

// Validate fills defaults and validates the launch parameters.
func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Address == (common.Address{}) {
		return errors.New("settlement: token address is required")
	}
	if err := cfg.Params.Validate(); err != nil {
		return err
	}
	if cfg.LargeTradeThreshold == nil {
		cfg.LargeTradeThreshold = new(uint256.Int).Set(DefaultLargeTradeThreshold)
	}
	if cfg.PriceImpactWarnBps == 0 {
		cfg.PriceImpactWarnBps = DefaultPriceImpactWarnBps
	}
	if cfg.Publisher == nil {
		cfg.Publisher = nopPublisher{}
	}
	if cfg.Payer == nil {
		cfg.Payer = nopPayer{}
	}
	return nil
}
