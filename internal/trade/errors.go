package trade

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/creatorpad/settlement-engine/internal/settlement"
)

var errArchive = errors.New("trade: archive failed")

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// StatusOf maps a rejection reason to an HTTP status.
func StatusOf(reason settlement.Reason) int {
	switch reason {
	case settlement.ReasonInvalidAmount, settlement.ReasonInvalidParameter:
		return http.StatusBadRequest
	case settlement.ReasonUnauthorized:
		return http.StatusForbidden
	case settlement.ReasonRateLimit, settlement.ReasonSameBlockThrottle, settlement.ReasonBlockDelay:
		return http.StatusTooManyRequests
	case settlement.ReasonSlippage,
		settlement.ReasonInsufficientReserve,
		settlement.ReasonInsufficientBalance,
		settlement.ReasonFrontRun,
		settlement.ReasonInvalidCommit,
		settlement.ReasonReentrancy,
		settlement.ReasonCurveFrozen,
		settlement.ReasonLiquidityLocked,
		settlement.ReasonWrongModel,
		settlement.ReasonNothingToClaim:
		return http.StatusConflict
	case settlement.ReasonPayoutFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeReject writes an engine rejection with its reason code.
func writeReject(w http.ResponseWriter, err error) {
	reason, ok := settlement.ReasonOf(err)
	if !ok {
		writeError(w, err.Error(), "", http.StatusInternalServerError)
		return
	}
	writeError(w, err.Error(), string(reason), StatusOf(reason))
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message, reason string, status int) {
	writeJSON(w, status, ErrorResponse{Error: message, Reason: reason})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
