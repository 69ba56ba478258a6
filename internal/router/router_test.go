package router

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gateway/internal/auth"
	"github.com/relaygate/gateway/internal/metrics"
	"github.com/relaygate/gateway/internal/model"
	"github.com/relaygate/gateway/internal/registry"
	"github.com/relaygate/gateway/internal/store"
	"github.com/relaygate/gateway/internal/upstream"
	"github.com/relaygate/gateway/pkg/apierr"
)

type fakeClient struct {
	text      string
	err       error
	latencyMs int64
}

func (f *fakeClient) Send(ctx context.Context, req upstream.Request) (*upstream.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &upstream.Result{Text: f.text, LatencyMs: f.latencyMs}, nil
}

func (f *fakeClient) HealthCheck(ctx context.Context) error { return nil }

// noSwapRNG never triggers the candidate-ordering coin flip.
type noSwapRNG struct{}

func (noSwapRNG) Float64() float64 { return 1 }
func (noSwapRNG) Intn(n int) int   { return 0 }

type testHarness struct {
	router *Router
	reg    *registry.Registry
	auth   *auth.Service
	store  *store.Store
}

func newTestHarness(t *testing.T, clients map[string]upstream.Client) *testHarness {
	t.Helper()
	fb, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	s := store.New(fb, nil, nil, nil)
	reg := registry.New(s)

	tiers := map[string]*model.TierLimits{
		"free":  {RPM: 100},
		"gated": {RPM: 100, MinProviderScore: intPtr(50)},
	}
	authSvc := auth.New(s, tiers)

	r := New(reg, authSvc, nil, nil)
	r.rng = noSwapRNG{}
	r.clientFor = func(kind, name, endpointURL, apiKey string) (upstream.Client, error) {
		if c, ok := clients[name]; ok {
			return c, nil
		}
		return &fakeClient{text: "unexpected"}, nil
	}
	return &testHarness{router: r, reg: reg, auth: authSvc, store: s}
}

func (h *testHarness) seedProviders(t *testing.T, providers ...*model.ProviderRecord) {
	t.Helper()
	require.NoError(t, h.reg.SaveProviders(context.Background(), &model.ProvidersDocument{Providers: providers}))
}

// seedKey writes a user record under an exact, caller-chosen API key.
func (h *testHarness) seedKey(t *testing.T, key string, user *model.UserRecord) {
	t.Helper()
	var doc model.UsersDocument
	require.NoError(t, h.store.Load(context.Background(), store.DocUsers, model.NewUsersDocument(), &doc))
	doc.Users[key] = user
	require.NoError(t, h.store.Save(context.Background(), store.DocUsers, &doc))
}

func intPtr(v int) *int { return &v }

func TestHandleHappyPath(t *testing.T) {
	h := newTestHarness(t, map[string]upstream.Client{
		"openai-mock": &fakeClient{text: "hi", latencyMs: 150},
	})
	h.seedProviders(t, &model.ProviderRecord{
		ID:     "openai-mock",
		Kind:   upstream.KindGeneric,
		Models: map[string]*model.ModelStats{"gpt-3.5-turbo": {ID: "gpt-3.5-turbo", TokenGenerationSpeed: 50}},
	})
	h.seedKey(t, "valid-key", &model.UserRecord{UserID: "u1", Tier: "free"})

	res, err := h.router.Handle(context.Background(), []upstream.Message{{Role: "user", Content: "hello"}}, "gpt-3.5-turbo", "valid-key")

	require.NoError(t, err)
	assert.Equal(t, "hi", res.Response)
	assert.Equal(t, "openai-mock", res.ProviderID)

	providers, err := h.reg.LoadProviders(context.Background())
	require.NoError(t, err)
	p := providers.FindProvider("openai-mock")
	require.NotNil(t, p)
	assert.Len(t, p.Models["gpt-3.5-turbo"].ResponseTimes, 1)
}

func TestHandleUnauthenticated(t *testing.T) {
	h := newTestHarness(t, nil)
	h.seedProviders(t, &model.ProviderRecord{ID: "p1", Models: map[string]*model.ModelStats{"m1": {ID: "m1"}}})

	_, err := h.router.Handle(context.Background(), nil, "m1", "bad-key")

	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.Unauthenticated, apiErr.Kind)
}

func TestHandleModelUnavailable(t *testing.T) {
	h := newTestHarness(t, nil)
	h.seedProviders(t, &model.ProviderRecord{ID: "p1", Models: map[string]*model.ModelStats{"other-model": {ID: "other-model"}}})
	h.seedKey(t, "valid-key", &model.UserRecord{UserID: "u1", Tier: "free"})

	_, err := h.router.Handle(context.Background(), nil, "gpt-4", "valid-key")

	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.ModelUnavailable, apiErr.Kind)
}

func TestHandleFallsBackAfterDisable(t *testing.T) {
	h := newTestHarness(t, map[string]upstream.Client{
		"good": &fakeClient{text: "ok", latencyMs: 10},
		"bad":  &fakeClient{err: assert.AnError},
	})
	h.seedProviders(t,
		&model.ProviderRecord{
			ID: "bad", Kind: upstream.KindGeneric,
			Models:        map[string]*model.ModelStats{"m1": {ID: "m1", ConsecutiveErrors: model.ConsecutiveErrorDisableThreshold - 1}},
			ProviderScore: intPtr(90),
		},
		&model.ProviderRecord{
			ID: "good", Kind: upstream.KindGeneric,
			Models:        map[string]*model.ModelStats{"m1": {ID: "m1"}},
			ProviderScore: intPtr(20),
		},
	)
	h.seedKey(t, "valid-key", &model.UserRecord{UserID: "u1", Tier: "gated"})

	res, err := h.router.Handle(context.Background(), []upstream.Message{{Role: "user", Content: "x"}}, "m1", "valid-key")

	require.NoError(t, err)
	assert.Equal(t, "good", res.ProviderID)

	providers, err := h.reg.LoadProviders(context.Background())
	require.NoError(t, err)
	assert.True(t, providers.FindProvider("bad").Disabled)
}

func TestOrderCandidatesEnterpriseSortsDescending(t *testing.T) {
	providers := []*model.ProviderRecord{
		{ID: "low", ProviderScore: intPtr(10)},
		{ID: "high", ProviderScore: intPtr(90)},
	}
	ordered := orderCandidates(providers, nil, TierEnterprise, noSwapRNG{})
	require.Len(t, ordered, 2)
	assert.Equal(t, "high", ordered[0].ID)
}

func TestOrderCandidatesFreeTierSortsAscending(t *testing.T) {
	providers := []*model.ProviderRecord{
		{ID: "high", ProviderScore: intPtr(90)},
		{ID: "low", ProviderScore: intPtr(10)},
	}
	ordered := orderCandidates(providers, nil, "free", noSwapRNG{})
	require.Len(t, ordered, 2)
	assert.Equal(t, "low", ordered[0].ID)
}

func TestOrderCandidatesAppendsFallbackSortedDescending(t *testing.T) {
	eligible := []*model.ProviderRecord{{ID: "e1", ProviderScore: intPtr(90)}}
	fallback := []*model.ProviderRecord{
		{ID: "f-low", ProviderScore: intPtr(10)},
		{ID: "f-high", ProviderScore: intPtr(50)},
	}
	ordered := orderCandidates(eligible, fallback, TierEnterprise, noSwapRNG{})
	require.Len(t, ordered, 3)
	assert.Equal(t, []string{"e1", "f-high", "f-low"}, []string{ordered[0].ID, ordered[1].ID, ordered[2].ID})
}

func TestScoreWithinBoundsHandlesAbsentBounds(t *testing.T) {
	assert.True(t, scoreWithinBounds(nil, &model.TierLimits{}))
	score := 40
	min := 50
	assert.False(t, scoreWithinBounds(&score, &model.TierLimits{MinProviderScore: &min}))
}

func TestHandleRecordsFailoverAndDisableMetrics(t *testing.T) {
	met := metrics.New()

	fb, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	s := store.New(fb, nil, nil, nil)
	reg := registry.New(s)
	authSvc := auth.New(s, map[string]*model.TierLimits{"free": {RPM: 100, MinProviderScore: intPtr(50)}})

	r := New(reg, authSvc, nil, met)
	r.rng = noSwapRNG{}
	r.clientFor = func(kind, name, endpointURL, apiKey string) (upstream.Client, error) {
		if name == "bad" {
			return &fakeClient{err: assert.AnError}, nil
		}
		return &fakeClient{text: "ok", latencyMs: 5}, nil
	}

	require.NoError(t, reg.SaveProviders(context.Background(), &model.ProvidersDocument{Providers: []*model.ProviderRecord{
		{
			ID: "bad", Kind: upstream.KindGeneric,
			Models:        map[string]*model.ModelStats{"m1": {ID: "m1", ConsecutiveErrors: model.ConsecutiveErrorDisableThreshold - 1}},
			ProviderScore: intPtr(90),
		},
		{
			ID: "good", Kind: upstream.KindGeneric,
			Models:        map[string]*model.ModelStats{"m1": {ID: "m1"}},
			ProviderScore: intPtr(20),
		},
	}}))

	var doc model.UsersDocument
	require.NoError(t, s.Load(context.Background(), store.DocUsers, model.NewUsersDocument(), &doc))
	doc.Users["valid-key"] = &model.UserRecord{UserID: "u1", Tier: "free"}
	require.NoError(t, s.Save(context.Background(), store.DocUsers, &doc))

	res, err := r.Handle(context.Background(), []upstream.Message{{Role: "user", Content: "hi"}}, "m1", "valid-key")
	require.NoError(t, err)
	assert.Equal(t, "good", res.ProviderID)

	promReg := met.PromRegistry()
	assert.GreaterOrEqual(t, testutil.CollectAndCount(promReg, "gateway_upstream_attempts_total"), 1)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(promReg, "gateway_failover_events_total"), 1)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(promReg, "gateway_failover_success_total"), 1)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(promReg, "gateway_routing_candidate_rank"), 1)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(promReg, "gateway_provider_disabled"), 1)
}

func TestTrimProviderWindowsRunsBeforeSelection(t *testing.T) {
	h := newTestHarness(t, map[string]upstream.Client{
		"p1": &fakeClient{text: "hi", latencyMs: 5},
	})
	stale := time.Now().Add(-48 * time.Hour).UnixMilli()
	h.seedProviders(t, &model.ProviderRecord{
		ID: "p1", Kind: upstream.KindGeneric,
		Models: map[string]*model.ModelStats{
			"m1": {ID: "m1", ResponseTimes: []model.ResponseEntry{{Timestamp: stale}}},
		},
	})
	h.seedKey(t, "valid-key", &model.UserRecord{UserID: "u1", Tier: "free"})

	_, err := h.router.Handle(context.Background(), []upstream.Message{{Role: "user", Content: "hi"}}, "m1", "valid-key")
	require.NoError(t, err)

	providers, err := h.reg.LoadProviders(context.Background())
	require.NoError(t, err)
	assert.Len(t, providers.FindProvider("p1").Models["m1"].ResponseTimes, 1)
}
