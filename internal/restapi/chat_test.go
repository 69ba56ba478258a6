package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/relaygate/gateway/internal/auth"
	"github.com/relaygate/gateway/internal/model"
	"github.com/relaygate/gateway/internal/ratelimit"
	"github.com/relaygate/gateway/internal/registry"
	gwrouter "github.com/relaygate/gateway/internal/router"
	"github.com/relaygate/gateway/internal/store"
	"github.com/relaygate/gateway/internal/upstream"
	"github.com/relaygate/gateway/pkg/apierr"
)

// newMockUpstream starts an OpenAI-compatible chat-completions server
// returning a fixed assistant reply, standing in for a real vendor.
func newMockUpstream(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"model":   "m1",
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": reply}, "finish_reason": "stop"}},
			"usage":   map[string]int{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, clientText string) *Server {
	t.Helper()
	upstreamSrv := newMockUpstream(t, clientText)

	fb, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	s := store.New(fb, nil, nil, nil)
	reg := registry.New(s)
	require.NoError(t, reg.SaveProviders(context.Background(), &model.ProvidersDocument{
		Providers: []*model.ProviderRecord{{
			ID:          "mock",
			Kind:        upstream.KindGeneric,
			EndpointURL: upstreamSrv.URL,
			APIKey:      "k",
			Models:      map[string]*model.ModelStats{"m1": {ID: "m1"}},
		}},
	}))

	tiers := map[string]*model.TierLimits{"free": {RPM: 1000}}
	authSvc := auth.New(s, tiers)

	var doc model.UsersDocument
	require.NoError(t, s.Load(context.Background(), store.DocUsers, model.NewUsersDocument(), &doc))
	doc.Users["valid-key"] = &model.UserRecord{UserID: "u1", Tier: "free"}
	require.NoError(t, s.Save(context.Background(), store.DocUsers, &doc))

	router := gwrouter.New(reg, authSvc, nil, nil)

	return &Server{
		Router:  router,
		Auth:    authSvc,
		Limiter: ratelimit.NewMemoryLimiter(),
	}
}

func TestDispatchChatHappyPath(t *testing.T) {
	s := newTestServer(t, "hello back")
	ctx := &fasthttp.RequestCtx{}

	outcome, apiErr := s.dispatchChat(ctx, "valid-key", "m1", []upstream.Message{{Role: "user", Content: "hi"}})

	require.Nil(t, apiErr)
	require.NotNil(t, outcome)
	assert.Equal(t, "hello back", outcome.result.Response)
	assert.Equal(t, "mock", outcome.result.ProviderID)
}

func TestDispatchChatMissingAPIKey(t *testing.T) {
	s := newTestServer(t, "x")
	ctx := &fasthttp.RequestCtx{}

	_, apiErr := s.dispatchChat(ctx, "", "m1", []upstream.Message{{Role: "user", Content: "hi"}})

	require.NotNil(t, apiErr)
	assert.Equal(t, apierr.Unauthenticated, apiErr.Kind)
}

func TestDispatchChatUnknownKey(t *testing.T) {
	s := newTestServer(t, "x")
	ctx := &fasthttp.RequestCtx{}

	_, apiErr := s.dispatchChat(ctx, "bad-key", "m1", []upstream.Message{{Role: "user", Content: "hi"}})

	require.NotNil(t, apiErr)
	assert.Equal(t, apierr.Unauthenticated, apiErr.Kind)
}

func TestDispatchChatEmptyMessages(t *testing.T) {
	s := newTestServer(t, "x")
	ctx := &fasthttp.RequestCtx{}

	_, apiErr := s.dispatchChat(ctx, "valid-key", "m1", nil)

	require.NotNil(t, apiErr)
	assert.Equal(t, apierr.BadRequest, apiErr.Kind)
}

func TestExtractBearer(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", extractBearer(ctx))
}

func TestExtractOpenAIKeyFallsBackToAPIKeyHeader(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("api-key", "azure-key")
	assert.Equal(t, "azure-key", extractOpenAIKey(ctx))
}
