// Package rpc exposes the pool over a JSON-RPC 2.0 surface with bearer-token
// auth on mutating methods, per-source rate limiting, and idempotent replay of
// state-changing calls.
package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"capstack/core"
	"capstack/core/state"
	"capstack/observability"
	"capstack/observability/logging"
	"capstack/tranche"
	"capstack/vault"
	"capstack/waterfall"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError        = -32700
	codeInvalidRequest    = -32600
	codeMethodNotFound    = -32601
	codeInvalidParams     = -32602
	codeUnauthorized      = -32001
	codeRateLimited       = -32002
	codePrecondition      = -32010
	codeConstraintBlocked = -32020
	codeOverflow          = -32021
	codeServerError       = -32000
)

// ScopePoolWrite is the bearer scope required by every mutating method.
const ScopePoolWrite = "pool.write"

// Server dispatches JSON-RPC requests against a single pool.
type Server struct {
	pool     *core.Pool
	auth     *Authenticator
	limiter  *RateLimiter
	replays  *ReplayStore
	insecure bool
	logger   *slog.Logger
}

// ServerOptions carries the optional collaborators around the pool. A nil
// Auth rejects every mutating method unless AllowInsecure is set; nil
// RateLimiter and Replays disable throttling and idempotent replay.
type ServerOptions struct {
	Auth          *Authenticator
	RateLimiter   *RateLimiter
	Replays       *ReplayStore
	AllowInsecure bool
	Logger        *slog.Logger
}

// NewServer wires the pool behind the RPC surface.
func NewServer(pool *core.Pool, opts ServerOptions) (*Server, error) {
	if pool == nil {
		return nil, fmt.Errorf("rpc: pool required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		pool:     pool,
		auth:     opts.Auth,
		limiter:  opts.RateLimiter,
		replays:  opts.Replays,
		insecure: opts.AllowInsecure,
		logger:   logger,
	}, nil
}

// Router mounts the RPC endpoint alongside the event stream, Prometheus
// metrics, and a liveness probe.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodPost, "/", otelhttp.NewHandler(http.HandlerFunc(s.handle), "rpc"))
	r.Get("/ws/events", s.handleEventsWS)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return r
}

// RPCRequest is the JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

// RPCResponse is the JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError carries a failure back to the caller.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
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
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// decodeParams unmarshals the single positional parameter object every
// capstack method takes.
func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single parameter object")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return fmt.Errorf("invalid parameter object: %v", err)
	}
	return nil
}

func requireNoParams(w http.ResponseWriter, req *RPCRequest) bool {
	if len(req.Params) > 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "method takes no parameters", nil)
		return false
	}
	return true
}

// handle is the main request handler that routes to specific handlers.
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

	if s.limiter != nil && !s.limiter.allow(clientSource(r)) {
		observability.RPC().RecordThrottle("rate_limit")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	started := time.Now()

	if mutatingMethods[req.Method] {
		if authErr := s.authorize(r); authErr != nil {
			observability.RPC().Observe(req.Method, authErr.Code, time.Since(started))
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		if s.replay(w, r, req.Method) {
			observability.RPC().Observe(req.Method, 0, time.Since(started))
			return
		}
	}

	rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
	s.dispatch(rec, r, req)

	code := rec.errorCode()
	observability.RPC().Observe(req.Method, code, time.Since(started))

	if mutatingMethods[req.Method] && code == 0 {
		s.remember(r, req.Method, rec)
	}
}

// recordingWriter captures the response so successful mutating calls can be
// replayed for repeated idempotency keys.
type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.body.Write(p)
	return w.ResponseWriter.Write(p)
}

func (w *recordingWriter) errorCode() int {
	var resp struct {
		Error *RPCError `json:"error"`
	}
	if err := json.Unmarshal(w.body.Bytes(), &resp); err != nil || resp.Error == nil {
		return 0
	}
	return resp.Error.Code
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "pool_getState":
		s.handlePoolGetState(w, r, req)
	case "pool_deposit":
		s.handlePoolDeposit(w, r, req)
	case "pool_distributeProfit":
		s.handleDistributeProfit(w, r, req)
	case "pool_distributeLoss":
		s.handleDistributeLoss(w, r, req)
	case "pool_distributeLossRecovery":
		s.handleDistributeLossRecovery(w, r, req)
	case "pool_fundReserve":
		s.handleFundReserve(w, r, req)
	case "pool_withdrawReserve":
		s.handleWithdrawReserve(w, r, req)
	case "epoch_close":
		s.handleEpochClose(w, r, req)
	case "epoch_current":
		s.handleEpochCurrent(w, r, req)
	case "epoch_pending":
		s.handleEpochPending(w, r, req)
	case "epoch_getInfo":
		s.handleEpochGetInfo(w, r, req)
	case "vault_requestRedemption":
		s.handleRequestRedemption(w, r, req)
	case "vault_cancelRedemption":
		s.handleCancelRedemption(w, r, req)
	case "vault_withdrawable":
		s.handleWithdrawable(w, r, req)
	case "vault_redemptionStatus":
		s.handleRedemptionStatus(w, r, req)
	case "vault_disburse":
		s.handleDisburse(w, r, req)
	case "events_list":
		s.handleEventsList(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

// mutatingMethods lists every method that changes pool state and therefore
// requires the pool.write scope and idempotent replay handling.
var mutatingMethods = map[string]bool{
	"pool_deposit":                true,
	"pool_distributeProfit":       true,
	"pool_distributeLoss":         true,
	"pool_distributeLossRecovery": true,
	"pool_fundReserve":            true,
	"pool_withdrawReserve":        true,
	"epoch_close":                 true,
	"vault_requestRedemption":     true,
	"vault_cancelRedemption":      true,
	"vault_disburse":              true,
}

func (s *Server) authorize(r *http.Request) *RPCError {
	if s.auth == nil {
		if s.insecure {
			return nil
		}
		return &RPCError{Code: codeUnauthorized, Message: "authentication not configured"}
	}
	if err := s.auth.Authorize(r, ScopePoolWrite); err != nil {
		s.logger.Warn("rpc authorization failed",
			slog.String("source", clientSource(r)),
			logging.AuthorizationAttr(r.Header.Get("Authorization")),
			slog.Any("error", err))
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: err.Error()}
	}
	return nil
}

// replay serves a cached response when the request carries an Idempotency-Key
// already answered. It reports true when the response was written from the
// cache.
func (s *Server) replay(w http.ResponseWriter, r *http.Request, method string) bool {
	if s.replays == nil {
		return false
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		return false
	}
	cached, ok, err := s.replays.Get(replayKey(method, key), time.Now())
	if err != nil {
		s.logger.Warn("idempotency lookup failed", slog.Any("error", err))
		return false
	}
	if !ok {
		return false
	}
	observability.RPC().RecordThrottle("replay")
	w.Header().Set("X-Idempotency-Cache", "hit")
	if cached.StatusCode != http.StatusOK {
		w.WriteHeader(cached.StatusCode)
	}
	_, _ = w.Write(cached.Body)
	return true
}

func (s *Server) remember(r *http.Request, method string, rec *recordingWriter) {
	if s.replays == nil {
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		return
	}
	record := ReplayRecord{
		StatusCode: rec.status,
		Body:       append([]byte(nil), rec.body.Bytes()...),
		StoredAt:   time.Now(),
		ExpiresAt:  time.Now().Add(s.replays.TTL()),
	}
	if err := s.replays.Put(replayKey(method, key), record); err != nil {
		s.logger.Warn("idempotency store failed", slog.Any("error", err))
	}
}

func replayKey(method, idem string) string {
	return fmt.Sprintf("%s|%s", method, idem)
}

// clientSource resolves the caller identity used for rate limiting, honoring
// proxy headers before the raw remote address.
func clientSource(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if raw := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); raw != "" {
		first := raw
		if comma := strings.IndexByte(raw, ','); comma > 0 {
			first = strings.TrimSpace(raw[:comma])
		}
		if parsed := net.ParseIP(first); parsed != nil {
			return parsed.String()
		}
		return first
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// errorStatus maps a module error to the HTTP status and JSON-RPC code the
// envelope should carry.
func errorStatus(err error) (int, int) {
	switch {
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrUnknownTranche),
		errors.Is(err, waterfall.ErrInvalidAmount),
		errors.Is(err, vault.ErrInvalidShares):
		return http.StatusBadRequest, codeInvalidParams
	case errors.Is(err, tranche.ErrAmountOverflow):
		return http.StatusUnprocessableEntity, codeOverflow
	case errors.Is(err, core.ErrSeniorCapExceeded),
		errors.Is(err, core.ErrNoLiquidity),
		errors.Is(err, core.ErrReservedLiquidity):
		return http.StatusConflict, codeConstraintBlocked
	case errors.Is(err, core.ErrDepositTooSmall),
		errors.Is(err, core.ErrEpochNotFound),
		errors.Is(err, vault.ErrNoRequest),
		errors.Is(err, vault.ErrCancelNotCurrent),
		errors.Is(err, vault.ErrCancelExceeds),
		errors.Is(err, state.ErrInsufficientShares),
		errors.Is(err, waterfall.ErrRecoveryExceedsLoss),
		errors.Is(err, tranche.ErrLossExceedsAssets),
		errors.Is(err, tranche.ErrNoTrancheCapital):
		return http.StatusConflict, codePrecondition
	default:
		return http.StatusInternalServerError, codeServerError
	}
}

func writeModuleError(w http.ResponseWriter, id interface{}, err error) {
	status, code := errorStatus(err)
	writeError(w, status, id, code, err.Error(), nil)
}
