// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initStore     — state store backends (Redis best-effort, filesystem
//     always), provider registry
//  2. initDomain    — tier table, auth, rate limiter, metrics registry,
//     router, admin seed, warm-up provider load and catalog refresh
//  3. initServices  — usage logger
//  4. initSurface   — health checker, WebSocket and REST handlers
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/relaygate/gateway/internal/auth"
	"github.com/relaygate/gateway/internal/config"
	"github.com/relaygate/gateway/internal/metrics"
	"github.com/relaygate/gateway/internal/ratelimit"
	"github.com/relaygate/gateway/internal/registry"
	gwrouter "github.com/relaygate/gateway/internal/router"
	"github.com/relaygate/gateway/internal/restapi"
	"github.com/relaygate/gateway/internal/store"
	"github.com/relaygate/gateway/internal/usagelog"
	"github.com/relaygate/gateway/internal/wsapi"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	redisBackend *store.RedisBackend // nil when Redis is unavailable or not preferred

	st      *store.Store
	reg     *registry.Registry
	authSvc *auth.Service
	limiter ratelimit.Limiter
	router  *gwrouter.Router

	met   *metrics.Registry
	usage *usagelog.Logger

	health *restapi.HealthChecker
	rest   *restapi.Server
	ws     *wsapi.Server
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"store", a.initStore},
		{"domain", a.initDomain},
		{"services", a.initServices},
		{"surface", a.initSurface},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or an error
// occurs. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("data_source_preference", a.cfg.DataSourcePreference),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.rest.ListenAndServe(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Repeated sequential
// calls are safe; concurrent calls are not synchronized.
func (a *App) Close() {
	if a.health != nil {
		a.health.Close()
		a.health = nil
	}
	if a.usage != nil {
		if err := a.usage.Close(); err != nil {
			a.log.Error("usage logger close error", slog.String("error", err.Error()))
		}
		a.usage = nil
	}
	if a.redisBackend != nil {
		if err := a.redisBackend.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.redisBackend = nil
	}
}

// connectRedis maps the Redis config onto store.RedisOptions and returns
// store.NewRedisBackend's result unchanged; NewRedisBackend parses the URL,
// verifies connectivity with a PING, and wraps its own errors.
func connectRedis(ctx context.Context, cfg config.RedisConfig) (*store.RedisBackend, error) {
	return store.NewRedisBackend(ctx, store.RedisOptions{
		URL:      cfg.URL,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		TLS:      cfg.TLS,
	})
}

// redisClient exposes the shared connection for the rate limiter, or nil
// when Redis is not in play.
func (a *App) redisClient() *redis.Client {
	if a.redisBackend == nil {
		return nil
	}
	return a.redisBackend.Client()
}
