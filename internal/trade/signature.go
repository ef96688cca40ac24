package trade

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureHeader carries the sender's EIP-191 personal signature over
// SigningPayload when the service requires signed requests.
const SignatureHeader = "X-Signature"

// MaxDeadlineAhead bounds how far in the future a signed request's deadline
// may lie. A signature can be replayed until its deadline passes.
const MaxDeadlineAhead = 5 * time.Minute

const (
	reasonInvalidSignature = "invalid_signature"
	maxBodyBytes           = 1 << 20
)

var (
	errNoSignature   = errors.New("signed request required: missing " + SignatureHeader + " header")
	errBadSignature  = errors.New("signature does not match the sender")
	errDeadlinePast  = errors.New("signed request deadline has passed")
	errDeadlineAhead = errors.New("signed request deadline is too far ahead")
)

// signedBody is a request body attributed to one signer.
type signedBody interface {
	signer() (common.Address, int64)
}

func (r TxRequest) signer() (common.Address, int64)     { return r.Sender, r.Deadline }
func (r LaunchRequest) signer() (common.Address, int64) { return r.Creator, r.Deadline }

// SigningPayload returns the message a client signs: the request method and
// path, a newline, then the exact JSON body sent.
func SigningPayload(method, path string, body []byte) []byte {
	payload := make([]byte, 0, len(method)+len(path)+len(body)+2)
	payload = append(payload, method...)
	payload = append(payload, ' ')
	payload = append(payload, path...)
	payload = append(payload, '\n')
	return append(payload, body...)
}

// SignRequest signs a request body as key's owner and returns the hex value
// for SignatureHeader.
func SignRequest(key *ecdsa.PrivateKey, method, path string, body []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(SigningPayload(method, path, body)), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// recoverSigner returns the address that produced sig over the request.
func recoverSigner(sig, method, path string, body []byte) (common.Address, error) {
	raw, err := hexutil.Decode(sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(raw) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(raw))
	}
	if raw[crypto.RecoveryIDOffset] >= 27 {
		raw[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(SigningPayload(method, path, body)), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// decodeSigned decodes the body into dst and, when signed requests are
// required, checks that the body's signer produced the signature header and
// that its deadline is current.
func (s *Service) decodeSigned(w http.ResponseWriter, r *http.Request, dst signedBody) bool {
	if !s.cfg.RequireSignatures {
		return decode(w, r, dst)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, "invalid request body: "+err.Error(), "", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, "invalid request body: "+err.Error(), "", http.StatusBadRequest)
		return false
	}
	if err := s.verify(r, body, dst); err != nil {
		writeError(w, err.Error(), reasonInvalidSignature, http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Service) verify(r *http.Request, body []byte, dst signedBody) error {
	sig := r.Header.Get(SignatureHeader)
	if sig == "" {
		return errNoSignature
	}
	want, deadline := dst.signer()

	now := s.cfg.Clock.Now()
	at := time.Unix(deadline, 0)
	switch {
	case !at.After(now):
		return errDeadlinePast
	case at.After(now.Add(MaxDeadlineAhead)):
		return errDeadlineAhead
	}

	got, err := recoverSigner(sig, r.Method, r.URL.Path, body)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: signed by %s", errBadSignature, got.Hex())
	}
	return nil
}
