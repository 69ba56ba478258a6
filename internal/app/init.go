package app

import (
	"context"
	"fmt"
	"log/slog"

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

// initStore builds the state store: a filesystem backend that always
// succeeds, and — when DATA_SOURCE_PREFERENCE=redis — a best-effort Redis
// connection promoted to preferred backend on success, demoted to "not
// available" on failure so the gateway still boots filesystem-only.
func (a *App) initStore(ctx context.Context) error {
	fileBackend, err := store.NewFileBackend(a.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("filesystem backend: %w", err)
	}

	var preferred, fallback store.Backend = fileBackend, nil

	if a.cfg.DataSourcePreference == config.DataSourceRedis {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))
		rb, err := connectRedis(ctx, a.cfg.Redis)
		if err != nil {
			a.log.Warn("redis unavailable, continuing filesystem-only",
				slog.String("error", err.Error()))
		} else {
			a.redisBackend = rb
			preferred, fallback = rb, fileBackend
			a.log.Info("redis connected")
		}
	}

	// registry is assigned after construction; the store only needs a
	// stable closure over the pointer, not the value at construction time.
	var reg *registry.Registry
	a.st = store.New(preferred, fallback, a.log, func(rctx context.Context) {
		if reg == nil {
			return
		}
		if err := reg.RefreshCatalog(rctx); err != nil {
			a.log.Error("catalog refresh failed", slog.String("error", err.Error()))
		}
	})
	reg = registry.New(a.st)
	a.reg = reg

	return nil
}

// initDomain loads the tier table and wires auth, rate limiting, and the
// router on top of the store built by initStore.
func (a *App) initDomain(ctx context.Context) error {
	tiers, err := config.LoadTiers(a.cfg.TiersFile)
	if err != nil {
		return fmt.Errorf("tiers: %w", err)
	}

	a.authSvc = auth.New(a.st, tiers)

	if client := a.redisClient(); client != nil {
		a.limiter = ratelimit.NewRedisLimiter(client)
		a.log.Info("rate limiter backend: redis")
	} else {
		a.limiter = ratelimit.NewMemoryLimiter()
		a.log.Info("rate limiter backend: in-process")
	}

	a.met = metrics.New()
	a.met.SetBuildInfo(a.version)

	a.router = gwrouter.New(a.reg, a.authSvc, a.log, a.met)

	if err := a.authSvc.SeedAdmin(ctx, a.cfg.Admin.APIKey, a.cfg.Admin.UserID); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	// Loading providers here is a best-effort warm-up — every request
	// reloads independently, so a transient failure here is not fatal.
	if _, err := a.reg.LoadProviders(ctx); err != nil {
		a.log.Warn("initial provider load failed", slog.String("error", err.Error()))
	}
	if err := a.reg.RefreshCatalog(ctx); err != nil {
		a.log.Warn("initial catalog refresh failed", slog.String("error", err.Error()))
	}

	return nil
}

// initServices builds the usage logger. The metrics registry is built
// earlier, in initDomain, since the router needs it at construction time.
func (a *App) initServices(ctx context.Context) error {
	sinks := []usagelog.Sink{usagelog.NewSlogSink(a.log)}
	if a.cfg.ClickHouseDSN != "" {
		chSink, err := usagelog.NewClickHouseSink(ctx, a.cfg.ClickHouseDSN)
		if err != nil {
			a.log.Warn("clickhouse usage sink unavailable, continuing with slog only",
				slog.String("error", err.Error()))
		} else {
			sinks = append(sinks, chSink)
			a.log.Info("usage log sink: clickhouse")
		}
	}
	usageLogger, err := usagelog.New(a.baseCtx, a.log, sinks...)
	if err != nil {
		return fmt.Errorf("usage logger: %w", err)
	}
	a.usage = usageLogger

	return nil
}

// initSurface builds the REST and WebSocket handlers and the health
// checker, and assembles the top-level fasthttp router.
func (a *App) initSurface(ctx context.Context) error {
	storeReady := func() bool { return true }
	if a.redisBackend != nil {
		storeReady = func() bool {
			return a.redisClient().Ping(ctx).Err() == nil
		}
	}
	a.health = restapi.NewHealthChecker(a.baseCtx, a.reg, storeReady, a.met)

	a.ws = &wsapi.Server{
		Router:  a.router,
		Auth:    a.authSvc,
		Limiter: a.limiter,
		Usage:   a.usage,
		Metrics: a.met,
		Log:     a.log,
	}

	a.rest = &restapi.Server{
		Router:        a.router,
		Registry:      a.reg,
		Auth:          a.authSvc,
		Limiter:       a.limiter,
		Usage:         a.usage,
		Metrics:       a.met,
		Health:        a.health,
		Log:           a.log,
		Version:       a.version,
		CORSOrigins:   a.cfg.CORSOrigins,
		EnabledRoutes: a.cfg.EnabledRoutes,
		WS:            a.ws.Handler(),
	}

	return nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
