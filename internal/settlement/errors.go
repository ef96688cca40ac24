package settlement

import (
	"errors"
	"fmt"

	"github.com/creatorpad/settlement-engine/internal/amm"
	"github.com/creatorpad/settlement-engine/internal/curve"
	"github.com/creatorpad/settlement-engine/internal/guard"
	"github.com/creatorpad/settlement-engine/internal/launch"
	"github.com/creatorpad/settlement-engine/internal/ledger"
)

var (
	ErrReentrant           = errors.New("settlement: reentrant call")
	ErrInvalidAmount       = errors.New("settlement: invalid amount")
	ErrSlippage            = errors.New("settlement: slippage bound violated")
	ErrInsufficientReserve = errors.New("settlement: insufficient reserve")
	ErrInvalidParameter    = errors.New("settlement: invalid parameter")
	ErrUnauthorized        = errors.New("settlement: caller is not the creator")
	ErrCurveFrozen         = errors.New("settlement: curve is frozen")
	ErrLiquidityLocked     = errors.New("settlement: liquidity locked")
	ErrWrongModel          = errors.New("settlement: operation not supported by pricing model")
	ErrNothingToClaim      = errors.New("settlement: fee pool is empty")
	ErrInvariant           = errors.New("settlement: balance invariant violated")
	ErrPayoutFailed        = errors.New("settlement: payout failed")
)

// Reason is a stable, machine-parseable rejection code.
type Reason string

const (
	ReasonInvalidAmount       Reason = "invalid_amount"
	ReasonSlippage            Reason = "slippage"
	ReasonInsufficientReserve Reason = "insufficient_reserve"
	ReasonInsufficientBalance Reason = "insufficient_balance"
	ReasonInvalidParameter    Reason = "invalid_parameter"

	ReasonRateLimit         Reason = "rate_limit"
	ReasonFrontRun          Reason = "front_run"
	ReasonBlockDelay        Reason = "block_delay"
	ReasonSameBlockThrottle Reason = "same_block_throttle"
	ReasonInvalidCommit     Reason = "invalid_commit"

	ReasonUnauthorized    Reason = "unauthorized"
	ReasonReentrancy      Reason = "reentrancy"
	ReasonCurveFrozen     Reason = "curve_frozen"
	ReasonLiquidityLocked Reason = "liquidity_locked"
	ReasonWrongModel      Reason = "wrong_model"
	ReasonNothingToClaim  Reason = "nothing_to_claim"
	ReasonInvariant       Reason = "invariant_violation"
	ReasonPayoutFailed    Reason = "payout_failed"
)

// Guard reports whether the reason comes from the MEV / rate-limit guard.
func (r Reason) Guard() bool {
	switch r {
	case ReasonRateLimit, ReasonFrontRun, ReasonBlockDelay, ReasonSameBlockThrottle, ReasonInvalidCommit:
		return true
	}
	return false
}

// RejectError is returned by every engine operation that fails. The engine
// state is exactly as it was before the call.
type RejectError struct {
	Op     string
	Reason Reason
	Err    error
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s rejected (%s): %v", e.Op, e.Reason, e.Err)
}

func (e *RejectError) Unwrap() error { return e.Err }

// ReasonOf extracts the rejection reason from err.
func ReasonOf(err error) (Reason, bool) {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}

var reasons = []struct {
	err    error
	reason Reason
}{
	{ErrReentrant, ReasonReentrancy},

	{guard.ErrBlockDelay, ReasonBlockDelay},
	{guard.ErrSameBlockLimit, ReasonSameBlockThrottle},
	{guard.ErrRateLimited, ReasonRateLimit},
	{guard.ErrFrontRun, ReasonFrontRun},
	{guard.ErrCommitExists, ReasonInvalidCommit},
	{guard.ErrUnknownCommit, ReasonInvalidCommit},
	{guard.ErrCommitOwner, ReasonInvalidCommit},
	{guard.ErrCommitUsed, ReasonInvalidCommit},
	{guard.ErrCommitTooEarly, ReasonInvalidCommit},
	{guard.ErrCommitExpired, ReasonInvalidCommit},

	{ErrUnauthorized, ReasonUnauthorized},
	{ErrSlippage, ReasonSlippage},
	{ErrCurveFrozen, ReasonCurveFrozen},
	{ErrLiquidityLocked, ReasonLiquidityLocked},
	{ErrWrongModel, ReasonWrongModel},
	{ErrNothingToClaim, ReasonNothingToClaim},
	{ErrPayoutFailed, ReasonPayoutFailed},
	{ErrInvariant, ReasonInvariant},

	{ledger.ErrInsufficientBalance, ReasonInsufficientBalance},

	{ErrInsufficientReserve, ReasonInsufficientReserve},
	{amm.ErrInsufficientLiquidity, ReasonInsufficientReserve},
	{amm.ErrEmptyReserves, ReasonInsufficientReserve},
	{curve.ErrSupplyExhausted, ReasonInsufficientReserve},

	{ErrInvalidAmount, ReasonInvalidAmount},
	{amm.ErrZeroInput, ReasonInvalidAmount},
	{amm.ErrZeroOutput, ReasonInvalidAmount},
	{curve.ErrZeroAmount, ReasonInvalidAmount},

	{ErrInvalidParameter, ReasonInvalidParameter},
	{curve.ErrPriceTooLow, ReasonInvalidParameter},
	{curve.ErrInvalidSupply, ReasonInvalidParameter},
	{launch.ErrInvalidFee, ReasonInvalidParameter},
}

// classify maps err to its reason. Anything unrecognised (overflow, for
// instance) is an invariant violation.
func classify(err error) Reason {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonInvariant
}

// reject wraps err for op unless it already is a RejectError.
func reject(op string, err error) error {
	var re *RejectError
	if errors.As(err, &re) {
		return err
	}
	return &RejectError{Op: op, Reason: classify(err), Err: err}
}
