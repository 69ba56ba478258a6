package restapi

import (
	"context"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/relaygate/gateway/internal/metrics"
	"github.com/relaygate/gateway/internal/registry"
	"github.com/relaygate/gateway/internal/upstream"
)

const (
	healthProbeInterval = 30 * time.Second
	healthProbeTimeout  = 5 * time.Second
)

// HealthChecker runs background probes against every active configured
// provider and the state store, and exposes the latest results for the
// /health and /readiness routes. Unlike a static provider map, the provider
// set is reloaded from the registry on every probe cycle.
type HealthChecker struct {
	reg        *registry.Registry
	storeReady func() bool
	clientFor  func(kind, name, endpointURL, apiKey string) (upstream.Client, error)
	met        *metrics.Registry
	baseCtx    context.Context

	mu               sync.RWMutex
	providerStatuses map[string]string
	storeStatus      string

	startTime time.Time
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewHealthChecker creates a HealthChecker and starts its background probe
// loop. storeReady may be nil, meaning the store is always considered ready
// (no networked backend configured).
func NewHealthChecker(ctx context.Context, reg *registry.Registry, storeReady func() bool, met *metrics.Registry) *HealthChecker {
	if ctx == nil {
		panic("restapi: health checker context must not be nil")
	}
	hc := &HealthChecker{
		reg:              reg,
		storeReady:       storeReady,
		clientFor:        upstream.New,
		met:              met,
		baseCtx:          ctx,
		providerStatuses: make(map[string]string),
		startTime:        time.Now(),
		done:             make(chan struct{}),
	}

	hc.probe()
	hc.wg.Add(1)
	go hc.run()

	return hc
}

// HealthSnapshot is the body of GET /health.
type HealthSnapshot struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Providers     map[string]string `json:"providers"`
	Store         string            `json:"store"`
}

// Snapshot reports the latest probe results.
func (hc *HealthChecker) Snapshot() HealthSnapshot {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	overall := "ok"
	providers := make(map[string]string, len(hc.providerStatuses))
	for name, st := range hc.providerStatuses {
		providers[name] = st
		if st != "ok" {
			overall = "degraded"
		}
	}
	if hc.storeStatus == "down" {
		overall = "degraded"
	}

	return HealthSnapshot{
		Status:        overall,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Providers:     providers,
		Store:         hc.storeStatus,
	}
}

// ReadinessOK reports whether the state store is reachable.
func (hc *HealthChecker) ReadinessOK() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.storeStatus == "ok"
}

// Close stops the background probe loop.
func (hc *HealthChecker) Close() {
	close(hc.done)
	hc.wg.Wait()
}

func (hc *HealthChecker) run() {
	defer hc.wg.Done()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.probe()
		case <-hc.done:
			return
		}
	}
}

func (hc *HealthChecker) probe() {
	ctx, cancel := context.WithTimeout(hc.baseCtx, healthProbeTimeout)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ready := hc.storeReady == nil || hc.storeReady()
		hc.mu.Lock()
		if ready {
			hc.storeStatus = "ok"
		} else {
			hc.storeStatus = "down"
		}
		hc.mu.Unlock()
	}()

	if hc.reg != nil {
		doc, err := hc.reg.LoadProviders(ctx)
		if err == nil {
			for _, p := range doc.Providers {
				p := p
				if p.Disabled {
					hc.setProviderStatus(p.ID, "disabled")
					continue
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					client, cerr := hc.clientFor(p.Kind, p.ID, p.EndpointURL, p.APIKey)
					if cerr != nil {
						hc.setProviderStatus(p.ID, "degraded")
						hc.setProviderHealthMetric(p.ID, false)
						return
					}
					if err := client.HealthCheck(ctx); err != nil {
						hc.setProviderStatus(p.ID, "degraded")
						hc.setProviderHealthMetric(p.ID, false)
						return
					}
					hc.setProviderStatus(p.ID, "ok")
					hc.setProviderHealthMetric(p.ID, true)
				}()
			}
		}
	}

	wg.Wait()
}

func (hc *HealthChecker) setProviderStatus(id, status string) {
	hc.mu.Lock()
	hc.providerStatuses[id] = status
	hc.mu.Unlock()
}

func (hc *HealthChecker) setProviderHealthMetric(id string, ok bool) {
	if hc.met != nil {
		hc.met.SetProviderHealth(id, ok)
	}
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	if s.Health == nil {
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok", "version": s.Version})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, s.Health.Snapshot())
}

func (s *Server) handleReadiness(ctx *fasthttp.RequestCtx) {
	if s.Health == nil || s.Health.ReadinessOK() {
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
}
