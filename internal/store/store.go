// Package store archives launched tokens and settled trades. Implementations
// include PostgreSQL (durable archive), Redis (read-through cache) and
// in-memory (for testing and single-process runs).
//
// The archive is written after settlement; the engines' in-memory state is
// authoritative for pricing and balances.
package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/creatorpad/settlement-engine/internal/model"
)

// ErrNotFound is returned when a token does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrExists is returned when a token address is already registered.
var ErrExists = errors.New("store: already exists")

// DefaultListLimit caps trade listings when the caller passes no limit.
const DefaultListLimit = 100

// Store is the persistence interface.
type Store interface {
	// --- Token registry ---

	// SaveToken registers a new token.
	SaveToken(ctx context.Context, token *model.TokenInfo) error

	// UpdateTokenModel records a pricing model change (curve migration).
	UpdateTokenModel(ctx context.Context, addr common.Address, m model.PricingModel) error

	// GetToken retrieves a token by address.
	GetToken(ctx context.Context, addr common.Address) (*model.TokenInfo, error)

	// ListTokens returns all tokens, newest first.
	ListTokens(ctx context.Context) ([]model.TokenInfo, error)

	// --- Immutable trade archive ---

	// InsertTrade appends a settled trade.
	InsertTrade(ctx context.Context, trade *model.TradeRecord) error

	// ListTrades returns up to limit trades of a token, newest first.
	ListTrades(ctx context.Context, token common.Address, limit int) ([]model.TradeRecord, error)

	// ListTradesByTrader returns up to limit trades by one address across
	// all tokens, newest first.
	ListTradesByTrader(ctx context.Context, trader common.Address, limit int) ([]model.TradeRecord, error)
}

func normLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
