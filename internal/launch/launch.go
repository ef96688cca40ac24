// Package launch validates creator token launch parameters and derives the
// deterministic token address.
package launch

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/creatorpad/settlement-engine/internal/model"
)

// Limits and defaults.
const (
	MaxCreatorAllocationBps = 2000
	MaxFeeBps               = 1000
	MaxStreamingBonusBps    = 5000
	DefaultFeeBps           = 30
	DefaultStreamingBonus   = 500
)

var (
	// DefaultTotalSupply is one billion tokens of 18 decimals.
	DefaultTotalSupply = new(uint256.Int).Mul(uint256.NewInt(1_000_000_000), uint256.NewInt(1e18))

	// DefaultTargetMarketCap is 100 ETH.
	DefaultTargetMarketCap = new(uint256.Int).Mul(uint256.NewInt(100), uint256.NewInt(1e18))
)

// nameRegex: 1-32 chars, starting with a letter or digit.
// Example: Luna Live 2
var nameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._'-]{0,31}$`)

// symbolRegex: 2-10 uppercase letters or digits, starting with a letter.
// Example: LUNA
var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,9}$`)

var (
	ErrInvalidName       = errors.New("launch: invalid token name")
	ErrInvalidSymbol     = errors.New("launch: invalid token symbol")
	ErrInvalidModel      = errors.New("launch: unsupported pricing model")
	ErrInvalidSupply     = errors.New("launch: invalid total supply")
	ErrInvalidAllocation = errors.New("launch: creator allocation out of range")
	ErrInvalidSeed       = errors.New("launch: invalid initial ETH")
	ErrInvalidFee        = errors.New("launch: fee out of range")
	ErrInvalidBonus      = errors.New("launch: streaming bonus out of range")
	ErrMissingCreator    = errors.New("launch: creator address required")
)

// Params describe a token launch.
type Params struct {
	Name    string             `json:"name"`
	Symbol  string             `json:"symbol"`
	Creator common.Address     `json:"creator"`
	Model   model.PricingModel `json:"model"`

	// TotalSupply is the full token supply in base units.
	TotalSupply *uint256.Int `json:"total_supply"`

	// CreatorAllocationBps is the share of TotalSupply credited to the
	// creator at launch. The rest is for sale.
	CreatorAllocationBps uint64 `json:"creator_allocation_bps"`

	// InitialEth seeds the AMM pool's ETH reserve. Curve launches start with
	// an empty reserve and must leave it unset.
	InitialEth *uint256.Int `json:"initial_eth"`

	// TargetMarketCap shapes the bonding curve. Ignored by AMM launches.
	TargetMarketCap *uint256.Int `json:"target_market_cap"`

	FeeBps            uint64 `json:"fee_bps"`
	StreamingBonusBps uint64 `json:"streaming_bonus_bps"`
}

// Validate normalizes the params and fills defaults.
func (p *Params) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	if !nameRegex.MatchString(p.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, p.Name)
	}
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	if !symbolRegex.MatchString(p.Symbol) {
		return fmt.Errorf("%w: %q (expected 2-10 letters or digits)", ErrInvalidSymbol, p.Symbol)
	}
	if p.Creator == (common.Address{}) {
		return ErrMissingCreator
	}

	if p.Model == "" {
		p.Model = model.ModelAMM
	}
	if p.Model != model.ModelAMM && p.Model != model.ModelCurve {
		return fmt.Errorf("%w: %s", ErrInvalidModel, p.Model)
	}

	if p.TotalSupply == nil {
		p.TotalSupply = new(uint256.Int).Set(DefaultTotalSupply)
	}
	if p.TotalSupply.IsZero() {
		return ErrInvalidSupply
	}
	if p.CreatorAllocationBps > MaxCreatorAllocationBps {
		return fmt.Errorf("%w: %d bps (max %d)", ErrInvalidAllocation, p.CreatorAllocationBps, MaxCreatorAllocationBps)
	}
	if p.SaleSupply().IsZero() {
		return fmt.Errorf("%w: nothing left for sale", ErrInvalidSupply)
	}

	if p.FeeBps == 0 {
		p.FeeBps = DefaultFeeBps
	}
	if p.FeeBps > MaxFeeBps {
		return fmt.Errorf("%w: %d bps (max %d)", ErrInvalidFee, p.FeeBps, MaxFeeBps)
	}

	switch p.Model {
	case model.ModelAMM:
		if p.InitialEth == nil || p.InitialEth.IsZero() {
			return fmt.Errorf("%w: AMM launches need a positive ETH seed", ErrInvalidSeed)
		}
	case model.ModelCurve:
		if p.InitialEth != nil && !p.InitialEth.IsZero() {
			return fmt.Errorf("%w: curve launches start with an empty reserve", ErrInvalidSeed)
		}
		if p.InitialEth == nil {
			p.InitialEth = new(uint256.Int)
		}
		if p.TargetMarketCap == nil || p.TargetMarketCap.IsZero() {
			p.TargetMarketCap = new(uint256.Int).Set(DefaultTargetMarketCap)
		}
		if p.StreamingBonusBps == 0 {
			p.StreamingBonusBps = DefaultStreamingBonus
		}
		if p.StreamingBonusBps > MaxStreamingBonusBps {
			return fmt.Errorf("%w: %d bps (max %d)", ErrInvalidBonus, p.StreamingBonusBps, MaxStreamingBonusBps)
		}
	}
	return nil
}

// CreatorAllocation returns the tokens credited to the creator at launch.
func (p *Params) CreatorAllocation() *uint256.Int {
	a := new(uint256.Int).Mul(p.TotalSupply, uint256.NewInt(p.CreatorAllocationBps))
	return a.Div(a, uint256.NewInt(10_000))
}

// SaleSupply returns the tokens placed in the pool or on the curve.
func (p *Params) SaleSupply() *uint256.Int {
	return new(uint256.Int).Sub(p.TotalSupply, p.CreatorAllocation())
}

// TokenAddress derives the address of the nonce-th token launched by the
// registry, the same way a factory contract's CREATE would.
func TokenAddress(registry common.Address, nonce uint64) common.Address {
	return crypto.CreateAddress(registry, nonce)
}
