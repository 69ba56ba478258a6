// Package restapi implements the gateway's vendor-shaped HTTP surface: one
// route per supported wire convention (OpenAI, Azure, Anthropic, Gemini,
// Groq, OpenRouter, Ollama), the model catalog route, the admin routes, and
// health/readiness/metrics. Every chat route funnels into the same
// internal/router call; only request parsing and response shaping differ
// per vendor.
package restapi

import (
	"log/slog"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/relaygate/gateway/internal/auth"
	"github.com/relaygate/gateway/internal/metrics"
	"github.com/relaygate/gateway/internal/ratelimit"
	"github.com/relaygate/gateway/internal/registry"
	gwrouter "github.com/relaygate/gateway/internal/router"
	"github.com/relaygate/gateway/internal/usagelog"
)

// Route names, matching internal/config's ENABLE_<VENDOR>_ROUTES keys.
const (
	RouteOpenAI     = "openai"
	RouteAzure      = "azure"
	RouteAnthropic  = "anthropic"
	RouteGemini     = "gemini"
	RouteGroq       = "groq"
	RouteOpenRouter = "openrouter"
	RouteOllama     = "ollama"
)

// Server wires the provider router, auth, rate limiter, usage logger, and
// metrics registry into the gateway's HTTP surface.
type Server struct {
	Router        *gwrouter.Router
	Registry      *registry.Registry
	Auth          *auth.Service
	Limiter       ratelimit.Limiter
	Usage         *usagelog.Logger
	Metrics       *metrics.Registry
	Health        *HealthChecker
	Log           *slog.Logger
	Version       string
	CORSOrigins   []string
	EnabledRoutes map[string]bool

	// WS, when set, is mounted at GET /ws. Built by internal/wsapi.Server.Handler.
	WS fasthttp.RequestHandler
}

// Handler builds the fasthttp handler for the whole REST surface: every
// enabled vendor route group, the catalog and admin routes, health,
// readiness, and metrics, wrapped in the standard middleware chain.
func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()

	if s.routeEnabled(RouteOpenAI) {
		r.POST("/v1/chat/completions", s.withRoute("/v1/chat/completions", s.handleOpenAI))
	}
	if s.routeEnabled(RouteAzure) {
		r.POST("/openai/deployments/:id/chat/completions", s.withRoute("/openai/deployments/:id/chat/completions", s.handleAzure))
	}
	if s.routeEnabled(RouteAnthropic) {
		r.POST("/anthropic/v3/messages", s.withRoute("/anthropic/v3/messages", s.handleAnthropic))
	}
	if s.routeEnabled(RouteGemini) {
		r.POST("/gemini/v2/models/:modelId/generateContent", s.withRoute("/gemini/v2/models/:modelId/generateContent", s.handleGemini))
	}
	if s.routeEnabled(RouteGroq) {
		r.POST("/groq/v4/chat/completions", s.withRoute("/groq/v4/chat/completions", s.handleGroq))
	}
	if s.routeEnabled(RouteOpenRouter) {
		r.POST("/openrouter/v6/chat/completions", s.withRoute("/openrouter/v6/chat/completions", s.handleOpenRouter))
	}
	if s.routeEnabled(RouteOllama) {
		r.POST("/ollama/v5/api/chat", s.withRoute("/ollama/v5/api/chat", s.handleOllama))
	}

	r.GET("/api/v1/models", s.withRoute("/api/v1/models", s.handleModels))
	r.POST("/api/admin/providers", s.withRoute("/api/admin/providers", s.handleAdminUpsertProvider))
	r.POST("/api/admin/users/generate-key", s.withRoute("/api/admin/users/generate-key", s.handleAdminGenerateKey))
	r.POST("/api/admin/models/refresh-provider-counts", s.withRoute("/api/admin/models/refresh-provider-counts", s.handleAdminRefreshCatalog))

	r.GET("/health", s.withRoute("/health", s.handleHealth))
	r.GET("/readiness", s.withRoute("/readiness", s.handleReadiness))

	if s.WS != nil {
		r.GET("/ws", s.withRoute("/ws", s.WS))
	}

	if s.Metrics != nil {
		r.GET("/metrics", s.withRoute("/metrics", func(ctx *fasthttp.RequestCtx) { s.Metrics.Handler()(ctx) }))
	}

	return applyMiddleware(r.Handler,
		recovery,
		requestID,
		metricsMiddleware(s.Metrics),
		corsHandler(s.CORSOrigins),
		securityHeaders,
	)
}

// ListenAndServe starts the HTTP server on addr, blocking until it returns
// an error. The fasthttp.Server is local to this call and is not exposed, so
// callers have no way to shut it down.
func (s *Server) ListenAndServe(addr string) error {
	srv := &fasthttp.Server{
		Handler:      s.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	return srv.ListenAndServe(addr)
}

func (s *Server) routeEnabled(name string) bool {
	if s.EnabledRoutes == nil {
		return true
	}
	enabled, ok := s.EnabledRoutes[name]
	return !ok || enabled
}

// withRoute tags the request context with route's template so the metrics
// middleware reports a bounded cardinality label instead of the raw path.
func (s *Server) withRoute(route string, h fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.SetUserValue("__route__", route)
		h(ctx)
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
