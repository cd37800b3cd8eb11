// Package httpapi serves the demo shop endpoints, whose responses are driven
// by feature flags evaluated through OpenFeature.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/open-feature/go-sdk/openfeature"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	abtasty "github.com/flagship-io/abtasty-openfeature-provider-go"
)

// ProviderStatus is the part of the provider the server reports on.
// *abtasty.Provider implements it.
type ProviderStatus interface {
	Status() openfeature.State
	Metrics() map[string]any
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	client    *openfeature.Client
	provider  ProviderStatus
	visitorID string
	rateLimit int
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   *httpMetrics
}

// Option configures a Server.
type Option func(*Server)

// WithVisitorID sets the visitor evaluated by /item when the request names
// none. Defaults to "visitor-id".
func WithVisitorID(id string) Option {
	return func(s *Server) {
		if id != "" {
			s.visitorID = id
		}
	}
}

// WithRateLimit limits /item to n requests per minute per client IP.
// Defaults to 100.
func WithRateLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.rateLimit = n
		}
	}
}

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegistry sets the registry exported on /metrics. HTTP metrics are
// registered with it. Defaults to a new registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// NewServer creates a Server evaluating flags with client.
func NewServer(client *openfeature.Client, provider ProviderStatus, opts ...Option) *Server {
	s := &Server{
		client:    client,
		provider:  provider,
		visitorID: "visitor-id",
		rateLimit: 100,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = newHTTPMetrics(s.registry)
	return s
}

// Router returns the HTTP handler of the server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(s.metrics.middleware)
	r.Use(middleware.Timeout(5 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/provider", s.handleProvider)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.rateLimit, time.Minute))
		r.Get("/item", s.handleItem)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	switch state := s.provider.Status(); state {
	case openfeature.ReadyState, openfeature.StaleState:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	default:
		writeError(w, http.StatusServiceUnavailable, "provider is "+string(state))
	}
}

func (s *Server) handleProvider(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.provider.Metrics())
}

type item struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type itemResponse struct {
	Item                item    `json:"item"`
	FsEnableDiscount    bool    `json:"fsEnableDiscount"`
	FsAddToCartBtnColor string  `json:"fsAddToCartBtnColor"`
	FlagNumberValue     float64 `json:"flagNumberValue"`
	FlagObjectValue     any     `json:"flagObjectValue"`
	FlagArrayValue      any     `json:"flagArrayValue"`
}

// handleItem returns the shop item with the flags of the visitor.
//
// Query parameters:
//   - visitor_id: targeting key, defaults to the server's visitor
//   - vip: value of the fs_is_vip context attribute, defaults to true
func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	visitorID := r.URL.Query().Get("visitor_id")
	if visitorID == "" {
		visitorID = s.visitorID
	}
	vip := true
	if raw := r.URL.Query().Get("vip"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "vip must be a boolean")
			return
		}
		vip = parsed
	}

	logger := s.logger.With("request_id", middleware.GetReqID(r.Context()), "visitor_id", visitorID)
	ctx := abtasty.ContextWithLogger(r.Context(), logger)
	evalCtx := openfeature.NewEvaluationContext(visitorID, map[string]any{
		"fs_is_vip": vip,
	})

	resp := itemResponse{Item: item{Name: "Flagship T-shirt", Price: 20}}
	var err error
	if resp.FsEnableDiscount, err = s.client.BooleanValue(ctx, "fs_enable_discount", false, evalCtx); err != nil {
		logger.Warn("flag evaluation failed", "flag", "fs_enable_discount", "error", err)
	}
	if resp.FsAddToCartBtnColor, err = s.client.StringValue(ctx, "fs_add_to_cart_btn_color", "blue", evalCtx); err != nil {
		logger.Warn("flag evaluation failed", "flag", "fs_add_to_cart_btn_color", "error", err)
	}
	if resp.FlagNumberValue, err = s.client.FloatValue(ctx, "flag_number", 0, evalCtx); err != nil {
		logger.Warn("flag evaluation failed", "flag", "flag_number", "error", err)
	}
	if resp.FlagObjectValue, err = s.client.ObjectValue(ctx, "flag_object", map[string]any{}, evalCtx); err != nil {
		logger.Warn("flag evaluation failed", "flag", "flag_object", "error", err)
	}
	if resp.FlagArrayValue, err = s.client.ObjectValue(ctx, "flag_array", []any{}, evalCtx); err != nil {
		logger.Warn("flag evaluation failed", "flag", "flag_array", "error", err)
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"error":   http.StatusText(code),
		"message": msg,
	})
}
