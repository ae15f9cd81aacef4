// Package rpc exposes the ledger over JSON-RPC 2.0. All requests POST to
// the root path; side streams (websocket events, prometheus metrics,
// health) hang off dedicated GET routes.
package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"alcove/core"
	"alcove/crypto"
	"alcove/native/market"
	"alcove/observability"
	"alcove/observability/logging"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "ALCOVE_RPC_TOKEN"

	limiterMaxEntries = 4096
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codePolicyRejected = -32010
	codeRateLimited    = -32020
)

// ServerConfig carries the transport-level knobs. The auth token falls back
// to the ALCOVE_RPC_TOKEN environment variable when unset.
type ServerConfig struct {
	AuthToken          string
	RateLimitPerMinute float64
	RateBurst          int
	TrustProxyHeaders  bool
	// PlatformFeeRecipient is the default destination for platform fee
	// withdrawals when the request omits one.
	PlatformFeeRecipient crypto.Address
	Logger               *slog.Logger
}

type Server struct {
	node *core.Node
	log  *slog.Logger

	authToken         string
	trustProxyHeaders bool
	feeRecipient      crypto.Address
	limits            *sourceLimiter

	serverMu   sync.Mutex
	httpServer *http.Server
}

func NewServer(node *core.Node, cfg ServerConfig) *Server {
	token := strings.TrimSpace(cfg.AuthToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv(authTokenEnv))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		node:              node,
		log:               logger.With("component", "rpc"),
		authToken:         token,
		trustProxyHeaders: cfg.TrustProxyHeaders,
		feeRecipient:      cfg.PlatformFeeRecipient,
		limits:            newSourceLimiter(cfg.RateLimitPerMinute, cfg.RateBurst),
	}
}

// Router assembles the HTTP surface. The JSON-RPC endpoint is POST /;
// metrics, health, and the websocket event stream are plain GETs.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleEventsWS)
	return otelhttp.NewHandler(r, "alcove-rpc")
}

// ListenAndServe runs the server until ctx is cancelled, then drains with a
// short grace period.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("rpc listening", "listen", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// writeError encodes a JSON-RPC error response and returns the error object
// so dispatch can record the outcome.
func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) *RPCError {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
	return errObj
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) *RPCError {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
	return nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	start := time.Now()
	rpcErr := s.dispatch(w, r, req)
	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
	}
	observability.RPC().Observe(req.Method, code, time.Since(start))
	if rpcErr != nil {
		s.log.Debug("rpc request failed", "method", req.Method, "code", code, "reason", rpcErr.Message)
	} else {
		s.log.Debug("rpc request", "method", req.Method, "duration", time.Since(start))
	}
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) *RPCError {
	if methodMutates(req.Method) {
		if authErr := s.requireAuth(r); authErr != nil {
			s.log.Warn("rpc auth rejected",
				slog.String("method", req.Method),
				slog.String("source", s.clientSource(r)),
				logging.MaskField("token", bearerToken(r)))
			return writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		}
		source := s.clientSource(r)
		if !s.limits.allow(source) {
			observability.RPC().RecordThrottle("rate_limit")
			return writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "request rate limit exceeded", source)
		}
	}

	switch req.Method {
	case "market_list":
		return s.handleMarketList(w, r, req)
	case "market_get":
		return s.handleMarketGet(w, r, req)
	case "market_position":
		return s.handleMarketPosition(w, r, req)
	case "market_exchangeRate":
		return s.handleMarketExchangeRate(w, r, req)
	case "market_cash":
		return s.handleMarketCash(w, r, req)
	case "market_borrowBalance":
		return s.handleMarketBorrowBalance(w, r, req)
	case "market_previews":
		return s.handleMarketPreviews(w, r, req)
	case "market_allowance":
		return s.handleMarketAllowance(w, r, req)
	case "market_balance":
		return s.handleMarketBalance(w, r, req)
	case "market_mint":
		return s.handleMarketMint(w, r, req)
	case "market_redeem":
		return s.handleMarketRedeem(w, r, req)
	case "market_redeemUnderlying":
		return s.handleMarketRedeemUnderlying(w, r, req)
	case "market_borrow":
		return s.handleMarketBorrow(w, r, req)
	case "market_repay":
		return s.handleMarketRepay(w, r, req)
	case "market_liquidate":
		return s.handleMarketLiquidate(w, r, req)
	case "market_transfer":
		return s.handleMarketTransfer(w, r, req)
	case "market_approveShares":
		return s.handleMarketApprove(w, r, req, market.AllowanceShares)
	case "market_approveBorrow":
		return s.handleMarketApprove(w, r, req, market.AllowanceBorrow)
	case "market_accrue":
		return s.handleMarketAccrue(w, r, req)
	case "admin_listMarket":
		return s.handleAdminListMarket(w, r, req)
	case "admin_setRateModel":
		return s.handleAdminSetRateModel(w, r, req)
	case "admin_setReserveFactor":
		return s.handleAdminSetReserveFactor(w, r, req)
	case "admin_setProtocolFeeRate":
		return s.handleAdminSetProtocolFeeRate(w, r, req)
	case "admin_setSeizeRates":
		return s.handleAdminSetSeizeRates(w, r, req)
	case "admin_setLimits":
		return s.handleAdminSetLimits(w, r, req)
	case "admin_setPauses":
		return s.handleAdminSetPauses(w, r, req)
	case "admin_reduceReserves":
		return s.handleAdminReduceReserves(w, r, req)
	case "admin_withdrawProtocolFees":
		return s.handleAdminWithdrawProtocolFees(w, r, req)
	case "admin_withdrawPlatformFees":
		return s.handleAdminWithdrawPlatformFees(w, r, req)
	case "admin_setVault":
		return s.handleAdminSetVault(w, r, req)
	case "admin_clearVault":
		return s.handleAdminClearVault(w, r, req)
	case "admin_fund":
		return s.handleAdminFund(w, r, req)
	default:
		return writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

// methodMutates reports whether the method changes ledger state and thus
// needs bearer auth and rate limiting.
func methodMutates(method string) bool {
	if strings.HasPrefix(method, "admin_") {
		return true
	}
	switch method {
	case "market_mint", "market_redeem", "market_redeemUnderlying",
		"market_borrow", "market_repay", "market_liquidate",
		"market_transfer", "market_approveShares", "market_approveBorrow",
		"market_accrue":
		return true
	}
	return false
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := bearerToken(r)
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// clientSource identifies the caller for rate limiting. Forwarded headers
// are honoured only when the deployment explicitly trusts its proxy tier.
func (s *Server) clientSource(r *http.Request) string {
	if s.trustProxyHeaders {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			parts := strings.Split(forwarded, ",")
			if candidate := strings.TrimSpace(parts[0]); candidate != "" {
				if host, _, err := net.SplitHostPort(candidate); err == nil {
					return host
				}
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sourceLimiter holds one token bucket per caller. A nil limiter admits
// everything.
type sourceLimiter struct {
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newSourceLimiter(perMinute float64, burst int) *sourceLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &sourceLimiter{
		visitors: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perMinute / 60.0),
		burst:    burst,
	}
}

func (l *sourceLimiter) allow(source string) bool {
	if l == nil {
		return true
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = "unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.visitors[source]
	if !ok {
		if len(l.visitors) >= limiterMaxEntries {
			for evict := range l.visitors {
				delete(l.visitors, evict)
				break
			}
		}
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.visitors[source] = limiter
	}
	return limiter.Allow()
}

// ledgerError maps a ledger failure onto the JSON-RPC error taxonomy.
func ledgerError(w http.ResponseWriter, id interface{}, err error) *RPCError {
	switch {
	case errors.Is(err, market.ErrMarketNotListed):
		return writeError(w, http.StatusNotFound, id, codeServerError, "market not listed", err.Error())
	case errors.Is(err, market.ErrUnauthorized):
		return writeError(w, http.StatusForbidden, id, codeUnauthorized, "caller lacks required capability", err.Error())
	case market.IsInvariantViolation(err):
		return writeError(w, http.StatusInternalServerError, id, codeServerError, "ledger invariant violation", err.Error())
	case market.IsPolicyRejection(err):
		return writeError(w, http.StatusForbidden, id, codePolicyRejected, "transition rejected", err.Error())
	case market.IsTransferFailure(err):
		return writeError(w, http.StatusBadGateway, id, codeServerError, "asset transfer failed", err.Error())
	default:
		return writeError(w, http.StatusInternalServerError, id, codeServerError, "internal error", err.Error())
	}
}
