package trade

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/creatorpad/settlement-engine/internal/model"
	"github.com/creatorpad/settlement-engine/internal/settlement"
	"github.com/creatorpad/settlement-engine/internal/store"
	"github.com/creatorpad/settlement-engine/internal/units"
)

// maxListLimit caps ?limit= on history endpoints.
const maxListLimit = 1000

// Routes mounts the API on r. Trade and creator endpoints pass through
// limit when it is not nil.
func (s *Service) Routes(r chi.Router, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}

	r.Get("/tokens", s.ListTokens)
	r.With(limit).Post("/tokens", s.LaunchToken)
	r.Get("/traders/{trader}/trades", s.GetTraderTrades)

	r.Route("/tokens/{address}", func(r chi.Router) {
		r.Get("/", s.GetToken)
		r.Get("/price", s.GetPrice)
		r.Get("/prices", s.GetPriceHistory)
		r.Get("/quote/buy", s.QuoteBuy)
		r.Get("/quote/sell", s.QuoteSell)
		r.Get("/stats", s.GetStats)
		r.Get("/top-traders", s.GetTopTraders)
		r.Get("/trades", s.GetTrades)
		r.Get("/trades/archive", s.GetArchivedTrades)
		r.Get("/risk", s.GetRisk)
		r.Get("/balances/{holder}", s.GetBalance)

		r.Group(func(r chi.Router) {
			r.Use(limit)
			r.Post("/buy", s.Buy)
			r.Post("/sell", s.Sell)
			r.Post("/commit", s.Commit)
			r.Post("/reveal", s.Reveal)
			r.Post("/claim-fees", s.ClaimFees)
			r.Post("/lock-liquidity", s.LockLiquidity)
			r.Post("/liquidity/add", s.AddLiquidity)
			r.Post("/liquidity/remove", s.RemoveLiquidity)
			r.Post("/streaming", s.SetStreaming)
			r.Post("/target-market-cap", s.UpdateTargetMarketCap)
			r.Post("/migrate", s.Migrate)
		})
	})
}

// --- Registry ---

// LaunchToken handles POST /tokens.
func (s *Service) LaunchToken(w http.ResponseWriter, r *http.Request) {
	var req LaunchRequest
	if !s.decodeSigned(w, r, &req) {
		return
	}
	e, err := s.Launch(r.Context(), req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, store.ErrExists) {
			status = http.StatusConflict
		} else if errors.Is(err, errArchive) {
			status = http.StatusInternalServerError
		}
		writeError(w, err.Error(), "", status)
		return
	}
	writeJSON(w, http.StatusCreated, statsResponse(e.GetTokenStats()))
}

// ListTokens handles GET /tokens. It lists the archive, marking tokens with
// a live engine and adding their current price.
func (s *Service) ListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.cfg.Store.ListTokens(r.Context())
	if err != nil {
		writeError(w, "failed to list tokens", "", http.StatusInternalServerError)
		return
	}
	out := make([]TokenSummary, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, s.summary(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetToken handles GET /tokens/{address}.
func (s *Service) GetToken(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	if e, ok := s.Engine(addr); ok {
		writeJSON(w, http.StatusOK, s.summary(e.Info()))
		return
	}
	info, err := s.cfg.Store.GetToken(r.Context(), addr)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "token not found", "", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load token", "", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.summary(*info))
}

func (s *Service) summary(info model.TokenInfo) TokenSummary {
	e, ok := s.Engine(info.Address)
	if !ok {
		return TokenSummary{TokenInfo: info}
	}
	price := amount(e.GetCurrentPrice())
	return TokenSummary{TokenInfo: e.Info(), Live: true, Price: &price}
}

// --- Views ---

// GetPrice handles GET /tokens/{address}/price.
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	st := e.GetTokenStats()
	writeJSON(w, http.StatusOK, PriceResponse{
		Token:        st.Address,
		Model:        st.Model,
		Block:        s.cfg.Blocks.Block(),
		Price:        amount(st.CurrentPrice),
		EthReserve:   amount(st.EthReserve),
		TokenReserve: amount(st.TokenReserve),
		Streaming:    st.Streaming,
	})
}

// GetPriceHistory handles GET /tokens/{address}/prices?limit=.
func (s *Service) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, nonNil(e.GetPriceHistory(limit)))
}

// QuoteBuy handles GET /tokens/{address}/quote/buy. ?tokens= returns the
// ETH cost of at least that many tokens; ?eth= prices a buy of that value.
func (s *Service) QuoteBuy(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	switch {
	case q.Get("tokens") != "":
		n, ok := queryAmount(w, r, "tokens")
		if !ok {
			return
		}
		cost, err := e.CalculateBuyCost(n)
		if err != nil {
			writeReject(w, err)
			return
		}
		writeJSON(w, http.StatusOK, BuyCostResponse{TokenAmount: amount(n), Cost: amount(cost)})
	case q.Get("eth") != "":
		v, ok := queryAmount(w, r, "eth")
		if !ok {
			return
		}
		quote, err := e.QuoteBuy(v)
		if err != nil {
			writeReject(w, err)
			return
		}
		writeJSON(w, http.StatusOK, BuyQuoteResponse{
			EthIn:     amount(quote.EthIn),
			Fee:       amount(quote.Fee),
			Premium:   amount(quote.Premium),
			ToReserve: amount(quote.ToReserve),
			TokensOut: amount(quote.TokensOut),
		})
	default:
		writeError(w, "one of tokens or eth is required", "", http.StatusBadRequest)
	}
}

// QuoteSell handles GET /tokens/{address}/quote/sell?tokens=.
func (s *Service) QuoteSell(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	n, ok := queryAmount(w, r, "tokens")
	if !ok {
		return
	}
	quote, err := e.CalculateSellPrice(n)
	if err != nil {
		writeReject(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SellQuoteResponse{
		TokenAmount: amount(quote.TokenAmount),
		GrossEthOut: amount(quote.GrossEthOut),
		Fee:         amount(quote.Fee),
		NetEthOut:   amount(quote.NetEthOut),
	})
}

// GetStats handles GET /tokens/{address}/stats.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statsResponse(e.GetTokenStats()))
}

// GetTopTraders handles GET /tokens/{address}/top-traders.
func (s *Service) GetTopTraders(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, nonNil(e.GetTopTraders()))
}

// GetTrades handles GET /tokens/{address}/trades?limit=. It reads the
// engine's in-memory history.
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, nonNil(e.GetTradeHistory(limit)))
}

// GetArchivedTrades handles GET /tokens/{address}/trades/archive?limit=. It
// reads the store, so it also serves tokens without a live engine.
func (s *Service) GetArchivedTrades(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	trades, err := s.cfg.Store.ListTrades(r.Context(), addr, limit)
	if err != nil {
		writeError(w, "failed to load trade archive", "", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(trades))
}

// GetTraderTrades handles GET /traders/{trader}/trades?limit=.
func (s *Service) GetTraderTrades(w http.ResponseWriter, r *http.Request) {
	trader, ok := pathAddress(w, r, "trader")
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	trades, err := s.cfg.Store.ListTradesByTrader(r.Context(), trader, limit)
	if err != nil {
		writeError(w, "failed to load trade archive", "", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(trades))
}

// GetRisk handles GET /tokens/{address}/risk.
func (s *Service) GetRisk(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.GetRiskAssessment())
}

// GetBalance handles GET /tokens/{address}/balances/{holder}.
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	holder, ok := pathAddress(w, r, "holder")
	if !ok {
		return
	}
	resp := BalanceResponse{
		Token:   e.Address(),
		Holder:  holder,
		Balance: amount(e.BalanceOf(holder)),
	}
	if st, ok := e.GuardState(holder); ok {
		resp.Guard = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Trading ---

// Buy handles POST /tokens/{address}/buy.
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	var req BuyRequest
	if !s.decodeTx(w, r, &req) {
		return
	}
	rec, err := e.BuyTokens(r.Context(), s.Tx(req.Sender, req.Value, req.GasPrice), req.MinTokensOut)
	s.settled(w, r, rec, err)
}

// Reveal handles POST /tokens/{address}/reveal.
func (s *Service) Reveal(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	var req RevealRequest
	if !s.decodeTx(w, r, &req) {
		return
	}
	rec, err := e.BuyTokensWithReveal(r.Context(), s.Tx(req.Sender, req.Value, req.GasPrice), req.MinTokensOut, req.Salt)
	s.settled(w, r, rec, err)
}

// Sell handles POST /tokens/{address}/sell.
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	var req SellRequest
	if !s.decodeTx(w, r, &req) {
		return
	}
	rec, err := e.SellTokens(r.Context(), s.Tx(req.Sender, req.Value, req.GasPrice), req.TokenAmount, req.MinEthOut)
	s.settled(w, r, rec, err)
}

func (s *Service) settled(w http.ResponseWriter, r *http.Request, rec settlement.Receipt, err error) {
	if err != nil {
		writeReject(w, err)
		return
	}
	s.archive(r.Context(), rec.Trade)
	writeJSON(w, http.StatusOK, tradeResponse(rec))
}

// Commit handles POST /tokens/{address}/commit.
func (s *Service) Commit(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	var req CommitRequest
	if !s.decodeTx(w, r, &req) {
		return
	}
	tx := s.Tx(req.Sender, req.Value, req.GasPrice)
	if err := e.CommitTokenPurchase(r.Context(), tx, req.Hash); err != nil {
		writeReject(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"hash": req.Hash, "block": tx.Block})
}

// --- Creator operations ---

// ClaimFees handles POST /tokens/{address}/claim-fees.
func (s *Service) ClaimFees(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	var req TxRequest
	if !s.decodeTx(w, r, &req) {
		return
	}
	paid, err := e.ClaimCreatorFees(r.Context(), s.Tx(req.Sender, req.Value, req.GasPrice))
	if err != nil {
		writeReject(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimResponse{Amount: amount(paid)})
}

// LockLiquidity handles POST /tokens/{address}/lock-liquidity.
func (s *Service) LockLiquidity(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	var req LockRequest
	if !s.decodeTx(w, r, &req) {
		return
	}
	period, err := time.ParseDuration(req.Period)
	if err != nil {
		writeError(w, "period must be a duration such as 720h", string(settlement.ReasonInvalidParameter), http.StatusBadRequest)
		return
	}
	if err := e.LockLiquidity(r.Context(), s.Tx(req.Sender, req.Value, req.GasPrice), period); err != nil {
		writeReject(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LockResponse{LockedUntil: e.GetTokenStats().LiquidityLockedUntil})
}

// AddLiquidity handles POST /tokens/{address}/liquidity/add.
func (s *Service) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	var req AddLiquidityRequest
	if !s.decodeTx(w, r, &req) {
		return
	}
	tx := s.Tx(req.Sender, req.Value, req.GasPrice)
	tokens, err := e.AddLiquidity(r.Context(), tx, req.MaxTokens)
	if err != nil {
		writeReject(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LiquidityResponse{EthAmount: amount(req.Value), TokenAmount: amount(tokens)})
}

// RemoveLiquidity handles POST /tokens/{address}/liquidity/remove.
func (s *Service) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	var req RemoveLiquidityRequest
	if !s.decodeTx(w, r, &req) {
		return
	}
	eth, tokens, err := e.RemoveLiquidity(r.Context(), s.Tx(req.Sender, req.Value, req.GasPrice), req.ShareBps)
	if err != nil {
		writeReject(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LiquidityResponse{EthAmount: amount(eth), TokenAmount: amount(tokens)})
}

// SetStreaming handles POST /tokens/{address}/streaming.
func (s *Service) SetStreaming(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	var req StreamingRequest
	if !s.decodeTx(w, r, &req) {
		return
	}
	if err := e.SetStreaming(r.Context(), s.Tx(req.Sender, req.Value, req.GasPrice), req.Live); err != nil {
		writeReject(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"streaming": req.Live})
}

// UpdateTargetMarketCap handles POST /tokens/{address}/target-market-cap.
func (s *Service) UpdateTargetMarketCap(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	var req TargetCapRequest
	if !s.decodeTx(w, r, &req) {
		return
	}
	if err := e.UpdateTargetMarketCap(r.Context(), s.Tx(req.Sender, req.Value, req.GasPrice), req.TargetMarketCap); err != nil {
		writeReject(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse(e.GetTokenStats()))
}

// Migrate handles POST /tokens/{address}/migrate.
func (s *Service) Migrate(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w, r)
	if !ok {
		return
	}
	var req TxRequest
	if !s.decodeTx(w, r, &req) {
		return
	}
	if err := e.MigrateToAMM(r.Context(), s.Tx(req.Sender, req.Value, req.GasPrice)); err != nil {
		writeReject(w, err)
		return
	}
	s.migrated(r.Context(), e.Address())
	writeJSON(w, http.StatusOK, statsResponse(e.GetTokenStats()))
}

// --- Helpers ---

// engine resolves the {address} path parameter to a live engine.
func (s *Service) engine(w http.ResponseWriter, r *http.Request) (*settlement.Engine, bool) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return nil, false
	}
	e, ok := s.Engine(addr)
	if !ok {
		writeError(w, "token not found", "", http.StatusNotFound)
		return nil, false
	}
	return e, true
}

func pathAddress(w http.ResponseWriter, r *http.Request, param string) (common.Address, bool) {
	raw := chi.URLParam(r, param)
	if !common.IsHexAddress(raw) {
		writeError(w, "invalid address: "+raw, "", http.StatusBadRequest)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func queryAmount(w http.ResponseWriter, r *http.Request, key string) (*uint256.Int, bool) {
	v, err := units.ParseWei(r.URL.Query().Get(key))
	if err != nil {
		writeError(w, err.Error(), string(settlement.ReasonInvalidAmount), http.StatusBadRequest)
		return nil, false
	}
	return v, true
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return store.DefaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, "limit must be a positive integer", "", http.StatusBadRequest)
		return 0, false
	}
	return min(n, maxListLimit), true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body: "+err.Error(), "", http.StatusBadRequest)
		return false
	}
	return true
}

// txBody is implemented by every request embedding TxRequest.
type txBody interface {
	signedBody
	tx() TxRequest
}

func (s *Service) decodeTx(w http.ResponseWriter, r *http.Request, dst txBody) bool {
	if !s.decodeSigned(w, r, dst) {
		return false
	}
	if err := dst.tx().validate(); err != nil {
		writeError(w, err.Error(), "", http.StatusBadRequest)
		return false
	}
	return true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
