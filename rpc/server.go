// Package rpc exposes the conversion engine over HTTP. Pool and quote
// endpoints are open; trades, approvals and liquidity changes need a JWT
// whose subject is the acting account; admin operations need the admin
// scope. Committed events stream over a websocket.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"convertnet/core"
	amerr "convertnet/core/errors"
	"convertnet/native/bank"
	nativecommon "convertnet/native/common"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	Auth          AuthConfig
	RateLimit     RateLimit

	// AllowedOrigins are the origin host patterns (filepath.Match syntax) a
	// browser may open the event stream from. Empty allows same-origin
	// requests only.
	AllowedOrigins []string
	// ExportDir is where admin-triggered history exports are written.
	ExportDir      string
}

// Server hosts the engine API.
type Server struct {
	cfg     Config
	engine  *core.Engine
	hub     *Hub
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs a server. hub may be nil when no event stream is wanted.
func New(cfg Config, engine *core.Engine, hub *Hub, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("rpc: engine required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8547"
	}
	return &Server{
		cfg:     cfg,
		engine:  engine,
		hub:     hub,
		auth:    NewAuthenticator(cfg.Auth, logger),
		limiter: NewRateLimiter(cfg.RateLimit, logger),
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.limiter.Middleware)

	handle := func(method, pattern, name string, h http.HandlerFunc) {
		r.Method(method, pattern, otelhttp.NewHandler(h, name))
	}
	trade := func(method, pattern, name string, h http.HandlerFunc) {
		r.Method(method, pattern, otelhttp.NewHandler(s.auth.Middleware(ScopeTrade)(h), name))
	}
	admin := func(method, pattern, name string, h http.HandlerFunc) {
		r.Method(method, pattern, otelhttp.NewHandler(s.auth.Middleware(ScopeAdmin)(h), name))
	}

	handle(http.MethodGet, "/healthz", "convertnet.health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	handle(http.MethodGet, "/v1/settings", "convertnet.settings", s.handleSettings)
	handle(http.MethodGet, "/v1/addresses/{address}", "convertnet.address", s.handleAddress)
	handle(http.MethodGet, "/v1/balances/{account}", "convertnet.balance", s.handleBalance)
	trade(http.MethodPost, "/v1/approvals", "convertnet.approve", s.handleApprove)

	handle(http.MethodGet, "/v1/pools", "convertnet.pools", s.handlePools)
	handle(http.MethodGet, "/v1/pools/{anchor}", "convertnet.pool", s.handlePool)
	handle(http.MethodGet, "/v1/pools/{anchor}/average-rate", "convertnet.average_rate", s.handleAverageRate)

	handle(http.MethodPost, "/v1/quote", "convertnet.quote", s.handleQuote)
	handle(http.MethodPost, "/v1/path", "convertnet.path", s.handlePath)
	trade(http.MethodPost, "/v1/convert", "convertnet.convert", s.handleConvert)
	trade(http.MethodPost, "/v1/liquidity/add", "convertnet.liquidity_add", s.handleAddLiquidity)
	trade(http.MethodPost, "/v1/liquidity/remove", "convertnet.liquidity_remove", s.handleRemoveLiquidity)
	handle(http.MethodGet, "/v1/conversions", "convertnet.conversions", s.handleConversions)
	r.Get("/v1/events/ws", s.handleEventsWS)

	admin(http.MethodPost, "/v1/admin/pools/{anchor}/fee", "convertnet.admin.fee", s.handleSetFee)
	admin(http.MethodPost, "/v1/admin/pools/{anchor}/network-fees", "convertnet.admin.network_fees", s.handleProcessNetworkFees)
	admin(http.MethodPost, "/v1/admin/network/settings", "convertnet.admin.settings", s.handleSetSettings)
	admin(http.MethodPost, "/v1/admin/history/export", "convertnet.admin.export", s.handleExport)
	return r
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddress,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("rpc: http server listening", slog.String("addr", s.cfg.ListenAddress))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeEngineError maps an engine failure onto an HTTP status.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("rpc: request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Reason: amerr.Reason(err)})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, amerr.ErrUnknownAnchor), errors.Is(err, bank.ErrUnknownAsset):
		return http.StatusNotFound
	case errors.Is(err, amerr.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, amerr.ErrReturnTooLow), errors.Is(err, amerr.ErrInactive):
		return http.StatusConflict
	case errors.Is(err, amerr.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, amerr.ErrInvalidPath), errors.Is(err, amerr.ErrInvalidReserve),
		errors.Is(err, amerr.ErrEthAmountMismatch), errors.Is(err, amerr.ErrInvalidConversionFee),
		errors.Is(err, amerr.ErrInvalidAffiliateFee), errors.Is(err, amerr.ErrInvalidWeight),
		errors.Is(err, amerr.ErrInvalidAmount), errors.Is(err, amerr.ErrInvalidNetworkFee),
		errors.Is(err, amerr.ErrInvalidRate), errors.Is(err, amerr.ErrOverflow):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}
