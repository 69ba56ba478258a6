// Package router implements the routing and failover state machine:
// tier-aware candidate selection, ordered attempts against upstream
// clients, and per-attempt stat updates fed back through the state store.
package router

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/relaygate/gateway/internal/auth"
	"github.com/relaygate/gateway/internal/metrics"
	"github.com/relaygate/gateway/internal/model"
	"github.com/relaygate/gateway/internal/registry"
	"github.com/relaygate/gateway/internal/stats"
	"github.com/relaygate/gateway/internal/upstream"
	"github.com/relaygate/gateway/pkg/apierr"
)

// Tier names referenced by the candidate-ordering rules.
const (
	TierEnterprise = "enterprise"
	TierPro        = "pro"
)

const (
	proSwapProbability  = 0.20
	freeSwapProbability = 0.30
)

// Result is the router's successful outcome.
type Result struct {
	Response        string
	LatencyMs       int64
	TokensGenerated int
	ProviderID      string
}

// randSource is the subset of *rand.Rand the candidate-ordering coin flip
// needs; an interface so tests can inject deterministic outcomes.
type randSource interface {
	Float64() float64
	Intn(n int) int
}

// Router ties together the provider registry, the stats engine, auth, and
// upstream clients behind a single Handle call.
type Router struct {
	registry  *registry.Registry
	auth      *auth.Service
	clientFor func(kind, name, endpointURL, apiKey string) (upstream.Client, error)
	now       func() time.Time
	rng       randSource
	logger    *slog.Logger
	met       *metrics.Registry
}

// New returns a Router. clientFor defaults to upstream.New; tests may
// override it to avoid constructing real vendor SDK clients. met may be nil,
// meaning routing/failover/disable-state metrics are not recorded.
func New(reg *registry.Registry, authSvc *auth.Service, logger *slog.Logger, met *metrics.Registry) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry:  reg,
		auth:      authSvc,
		clientFor: upstream.New,
		now:       time.Now,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:    logger,
		met:       met,
	}
}

// Handle routes one chat request through the tier-aware candidate list,
// falling over to the next candidate on failure until one succeeds or all
// are exhausted.
func (r *Router) Handle(ctx context.Context, messages []upstream.Message, modelID, apiKey string) (*Result, error) {
	user, tier, err := r.auth.Validate(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	providers, err := r.registry.LoadProviders(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.StateStoreErrKind, "failed to load providers", err)
	}
	now := r.now()
	for _, p := range providers.Providers {
		stats.TrimProviderWindows(p, now)
	}

	active := activeProviders(providers)
	if len(active) == 0 && len(providers.Providers) > 0 {
		return nil, apierr.New(apierr.AllDisabled, "all configured providers are disabled")
	}

	compatible := compatibleProviders(active, modelID)
	if len(compatible) == 0 {
		return nil, apierr.New(apierr.ModelUnavailable, modelUnavailableMessage(providers, modelID))
	}

	eligible, fallback := partitionByScore(compatible, tier)
	candidates := orderCandidates(eligible, fallback, user.Tier, r.rng)

	content := flattenContent(messages)
	var lastErr error
	primary := ""
	if len(candidates) > 0 {
		primary = candidates[0].ID
	}

	for i, p := range candidates {
		res, attemptErr := r.attempt(ctx, p, modelID, apiKey, messages, content)
		if attemptErr != nil {
			lastErr = attemptErr
			if i+1 < len(candidates) {
				r.recordFailoverAttempt(primary, p.ID, candidates[i+1].ID, failoverReason(attemptErr))
			}
			continue
		}

		if i > 0 {
			r.recordFailoverSuccess(primary, p.ID)
		}
		r.observeRouting(user.Tier, i, "success")

		if err := r.auth.RecordUsage(ctx, apiKey, res.TokensGenerated); err != nil {
			r.logger.WarnContext(ctx, "record_usage_failed", slog.String("error", err.Error()))
		}
		return res, nil
	}

	if len(candidates) > 0 {
		r.recordFailoverExhausted(primary)
	}
	r.observeRouting(user.Tier, len(candidates), "failure")

	if lastErr == nil {
		lastErr = apierr.New(apierr.UpstreamErrorKind, "no candidate providers available")
	}
	return nil, apierr.Wrap(apierr.AllAttemptsFailed, "all candidate providers failed", lastErr)
}

// failoverReason reduces an attempt error to the bounded-cardinality label
// the failover metric expects.
func failoverReason(err error) string {
	if ae, ok := err.(*apierr.Error); ok {
		return string(ae.Kind)
	}
	return "error"
}

func (r *Router) recordFailoverAttempt(primary, from, to, reason string) {
	if r.met == nil {
		return
	}
	r.met.RecordFailover(primary, from, to, reason)
}

func (r *Router) recordFailoverSuccess(primary, to string) {
	if r.met == nil {
		return
	}
	r.met.RecordFailoverSuccess(primary, to)
}

func (r *Router) recordFailoverExhausted(primary string) {
	if r.met == nil {
		return
	}
	r.met.RecordFailoverExhausted(primary)
}

func (r *Router) observeRouting(tier string, winningRank int, outcome string) {
	if r.met == nil {
		return
	}
	r.met.ObserveRouting(tier, winningRank, outcome)
}

func (r *Router) observeUpstreamAttempt(provider, route, outcome string, dur time.Duration) {
	if r.met == nil {
		return
	}
	r.met.ObserveUpstreamAttempt(provider, route, outcome, dur)
}

// attempt performs one candidate's Send call and the full reload-update-save
// cycle that follows it.
func (r *Router) attempt(ctx context.Context, p *model.ProviderRecord, modelID, apiKey string, messages []upstream.Message, content string) (*Result, error) {
	client, err := r.clientFor(p.Kind, p.ID, p.EndpointURL, p.APIKey)
	if err != nil {
		r.recordFailure(ctx, p.ID, modelID)
		return nil, apierr.Wrap(apierr.UpstreamErrorKind, "failed to build upstream client", err)
	}

	start := r.now()
	sendRes, sendErr := client.Send(ctx, upstream.Request{Messages: messages, Model: modelID, APIKey: apiKey})
	wallClock := r.now().Sub(start)
	wallClockMs := wallClock.Milliseconds()

	if sendErr != nil {
		r.recordFailure(ctx, p.ID, modelID)
		r.observeUpstreamAttempt(p.ID, modelID, "error", wallClock)
		return nil, apierr.Wrap(apierr.UpstreamErrorKind, "upstream request failed", sendErr)
	}
	r.observeUpstreamAttempt(p.ID, modelID, "success", wallClock)

	latencyMs := wallClockMs
	if sendRes.LatencyMs > 0 {
		latencyMs = sendRes.LatencyMs
	}

	entry := buildResponseEntry(r.now(), content, sendRes.Text, latencyMs, apiKey, modelSpeed(p, modelID))
	r.recordSuccess(ctx, p.ID, modelID, entry)

	return &Result{
		Response:        sendRes.Text,
		LatencyMs:       latencyMs,
		TokensGenerated: entry.OutputTokens,
		ProviderID:      p.ID,
	}, nil
}

// recordSuccess reloads providers fresh rather than trusting the copy
// already in hand, applies the stats update, and saves. Save failures are
// swallowed — stats are advisory and must never fail the request.
func (r *Router) recordSuccess(ctx context.Context, providerID, modelID string, entry model.ResponseEntry) {
	r.withReloadedProvider(ctx, providerID, func(p *model.ProviderRecord) {
		stats.ApplySuccess(p, modelID, entry)
	})
}

func (r *Router) recordFailure(ctx context.Context, providerID, modelID string) {
	r.withReloadedProvider(ctx, providerID, func(p *model.ProviderRecord) {
		stats.ApplyFailure(p, modelID)
	})
}

func (r *Router) withReloadedProvider(ctx context.Context, providerID string, mutate func(*model.ProviderRecord)) {
	providers, err := r.registry.LoadProviders(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "stats_reload_failed", slog.String("provider", providerID), slog.String("error", err.Error()))
		return
	}
	p := providers.FindProvider(providerID)
	if p == nil {
		return
	}
	stats.TrimProviderWindows(p, r.now())
	mutate(p)
	if r.met != nil {
		r.met.SetProviderDisabled(providerID, p.Disabled)
	}
	if err := r.registry.SaveProviders(ctx, providers); err != nil {
		r.logger.ErrorContext(ctx, "stats_save_failed", slog.String("provider", providerID), slog.String("error", err.Error()))
	}
}

func activeProviders(doc *model.ProvidersDocument) []*model.ProviderRecord {
	var out []*model.ProviderRecord
	for _, p := range doc.Providers {
		if !p.Disabled {
			out = append(out, p)
		}
	}
	return out
}

func compatibleProviders(active []*model.ProviderRecord, modelID string) []*model.ProviderRecord {
	var out []*model.ProviderRecord
	for _, p := range active {
		if _, ok := p.Models[modelID]; ok {
			out = append(out, p)
		}
	}
	return out
}

func modelUnavailableMessage(doc *model.ProvidersDocument, modelID string) string {
	for _, p := range doc.Providers {
		if _, ok := p.Models[modelID]; ok {
			return "model " + modelID + " is offered only by disabled providers"
		}
	}
	return "model " + modelID + " is not offered by any configured provider"
}

// partitionByScore splits compatible providers into eligible (score within
// the tier's bounds) and fallback (compatible but outside the bounds).
func partitionByScore(compatible []*model.ProviderRecord, tier *model.TierLimits) (eligible, fallback []*model.ProviderRecord) {
	for _, p := range compatible {
		if scoreWithinBounds(p.ProviderScore, tier) {
			eligible = append(eligible, p)
		} else {
			fallback = append(fallback, p)
		}
	}
	return eligible, fallback
}

func scoreWithinBounds(score *int, tier *model.TierLimits) bool {
	if tier.MinProviderScore == nil && tier.MaxProviderScore == nil {
		return true
	}
	if score == nil {
		return true
	}
	if tier.MinProviderScore != nil && *score < *tier.MinProviderScore {
		return false
	}
	if tier.MaxProviderScore != nil && *score > *tier.MaxProviderScore {
		return false
	}
	return true
}

// orderCandidates applies the tier-aware ordering: a single coin flip
// decides whether to swap position 0 with a uniformly chosen non-zero
// position, one flip per request rather than per candidate.
func orderCandidates(eligible, fallback []*model.ProviderRecord, tier string, rng randSource) []*model.ProviderRecord {
	ordered := make([]*model.ProviderRecord, len(eligible))
	copy(ordered, eligible)

	switch tier {
	case TierEnterprise:
		sortByScoreDesc(ordered)
	case TierPro:
		sortByScoreDesc(ordered)
		maybeSwapFirst(ordered, proSwapProbability, rng)
	default:
		sortByScoreAsc(ordered)
		maybeSwapFirst(ordered, freeSwapProbability, rng)
	}

	fb := make([]*model.ProviderRecord, len(fallback))
	copy(fb, fallback)
	sortByScoreDesc(fb)

	return append(ordered, fb...)
}

func maybeSwapFirst(list []*model.ProviderRecord, probability float64, rng randSource) {
	if len(list) < 2 {
		return
	}
	if rng.Float64() >= probability {
		return
	}
	swapWith := 1 + rng.Intn(len(list)-1)
	list[0], list[swapWith] = list[swapWith], list[0]
}

func sortByScoreDesc(list []*model.ProviderRecord) {
	sort.SliceStable(list, func(i, j int) bool {
		return scoreOf(list[i]) > scoreOf(list[j])
	})
}

func sortByScoreAsc(list []*model.ProviderRecord) {
	sort.SliceStable(list, func(i, j int) bool {
		return scoreOf(list[i]) < scoreOf(list[j])
	})
}

// scoreOf treats an absent score as the neutral midpoint for sort purposes.
func scoreOf(p *model.ProviderRecord) int {
	if p.ProviderScore == nil {
		return 50
	}
	return *p.ProviderScore
}

func modelSpeed(p *model.ProviderRecord, modelID string) float64 {
	if ms, ok := p.Models[modelID]; ok {
		if ms.AvgTokenSpeed != nil {
			return *ms.AvgTokenSpeed
		}
		if ms.TokenGenerationSpeed > 0 {
			return ms.TokenGenerationSpeed
		}
	}
	return model.DefaultTokenGenerationSpeed
}

// buildResponseEntry computes a ResponseEntry from one completed attempt.
func buildResponseEntry(now time.Time, content, text string, latencyMs int64, apiKey string, speedTps float64) model.ResponseEntry {
	inputTokens := estimateTokens(content)
	outputTokens := estimateTokens(text)

	var providerLatencyMs int64
	if speedTps > 0 {
		expectedMs := float64(outputTokens) / speedTps * 1000
		providerLatencyMs = latencyMs - int64(expectedMs)
		if providerLatencyMs < 0 {
			providerLatencyMs = 0
		}
	}

	entry := model.ResponseEntry{
		Timestamp:      now.UnixMilli(),
		ResponseTimeMs: latencyMs,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		TokensGenerated: outputTokens,
		APIKey:         apiKey,
	}
	entry.ProviderLatencyMs = &providerLatencyMs

	genMs := latencyMs - providerLatencyMs
	if genMs >= 1 {
		speed := float64(outputTokens) / (float64(genMs) / 1000)
		entry.ObservedSpeedTps = &speed
	}

	return entry
}

func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return int(math.Ceil(float64(len(s)) / 4))
}

func flattenContent(messages []upstream.Message) string {
	var total int
	for _, m := range messages {
		total += len(m.Content)
	}
	buf := make([]byte, 0, total)
	for _, m := range messages {
		buf = append(buf, m.Content...)
	}
	return string(buf)
}
