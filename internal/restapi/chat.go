package restapi

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/relaygate/gateway/internal/ratelimit"
	gwrouter "github.com/relaygate/gateway/internal/router"
	"github.com/relaygate/gateway/internal/upstream"
	"github.com/relaygate/gateway/internal/usagelog"
	"github.com/relaygate/gateway/pkg/apierr"
)

// chatOutcome is everything a vendor-shaped handler needs to render its
// response, independent of wire format.
type chatOutcome struct {
	result     *gwrouter.Result
	model      string
	promptText string
}

// dispatchChat runs the shared path every chat route takes: resolve the
// caller, enforce the rate limit, call the router, and record usage.
// Any failure (auth, rate limit, or routing) is returned as an
// *apierr.Error so each vendor handler can render it in its own shape.
func (s *Server) dispatchChat(ctx *fasthttp.RequestCtx, apiKey, modelID string, messages []upstream.Message) (*chatOutcome, *apierr.Error) {
	if apiKey == "" {
		return nil, apierr.New(apierr.Unauthenticated, "missing API key")
	}
	if modelID == "" {
		return nil, apierr.New(apierr.BadRequest, "model is required")
	}
	if len(messages) == 0 {
		return nil, apierr.New(apierr.BadRequest, "messages must not be empty")
	}

	user, tier, err := s.Auth.Validate(ctx, apiKey)
	if err != nil {
		return nil, asAPIError(err)
	}

	if s.Limiter != nil {
		decision, lerr := s.Limiter.Allow(ctx, apiKey, ratelimit.Limits{RPS: tier.RPS, RPM: tier.RPM, RPD: tier.RPD})
		if lerr == nil && !decision.Allowed {
			if s.Metrics != nil {
				s.Metrics.RecordRateLimit("denied")
			}
			return nil, apierr.New(apierr.RateLimited, "rate limit exceeded ("+decision.Exceeded+")").WithRetryAfter(decision.RetryAfter)
		}
		if s.Metrics != nil {
			s.Metrics.RecordRateLimit("allowed")
		}
	}

	start := time.Now()
	res, rerr := s.Router.Handle(ctx, messages, modelID, apiKey)
	if rerr != nil {
		apiErr := asAPIError(rerr)
		if s.Metrics != nil {
			s.Metrics.RecordError("unknown", string(apiErr.Kind))
		}
		return nil, apiErr
	}

	if s.Metrics != nil {
		s.Metrics.ObserveGatewayRequest(res.ProviderID, modelID, time.Since(start))
		s.Metrics.RecordRequest(res.ProviderID, fasthttp.StatusOK, res.LatencyMs)
		s.Metrics.AddTokens(res.ProviderID, modelID, estimatePromptTokens(messages), res.TokensGenerated)
	}

	if s.Usage != nil {
		id := requestUUID(ctx)
		s.Usage.Log(usagelog.Entry{
			ID:           id,
			Provider:     res.ProviderID,
			Model:        modelID,
			Tier:         user.Tier,
			UserID:       user.UserID,
			InputTokens:  uint32(estimatePromptTokens(messages)),
			OutputTokens: uint32(res.TokensGenerated),
			LatencyMs:    uint32(res.LatencyMs),
			StatusCode:   http200,
			CreatedAt:    time.Now(),
		})
	}

	return &chatOutcome{result: res, model: modelID, promptText: flattenMessages(messages)}, nil
}

const http200 = 200

// asAPIError normalizes any error from auth/router into *apierr.Error,
// wrapping unexpected types as Internal so every vendor writer has a Kind to
// render.
func asAPIError(err error) *apierr.Error {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*apierr.Error); ok {
		return ae
	}
	return apierr.Wrap(apierr.Internal, "unexpected error", err)
}

func requestUUID(ctx *fasthttp.RequestCtx) uuid.UUID {
	if v := ctx.UserValue("request_id"); v != nil {
		if s, ok := v.(string); ok {
			if id, err := uuid.Parse(s); err == nil {
				return id
			}
		}
	}
	return uuid.New()
}

func estimatePromptTokens(messages []upstream.Message) int {
	var n int
	for _, m := range messages {
		n += (len(m.Content) + 3) / 4
	}
	return n
}

func flattenMessages(messages []upstream.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Content)
	}
	return sb.String()
}

// extractBearer pulls a key out of "Authorization: Bearer <key>" or
// "Authorization: <key>".
func extractBearer(ctx *fasthttp.RequestCtx) string {
	h := string(ctx.Request.Header.Peek("Authorization"))
	if h == "" {
		return ""
	}
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(h)
}

func extractHeader(ctx *fasthttp.RequestCtx, name string) string {
	return strings.TrimSpace(string(ctx.Request.Header.Peek(name)))
}

// extractOpenAIKey accepts either Authorization: Bearer or api-key (Azure's
// convention), whichever is present.
func extractOpenAIKey(ctx *fasthttp.RequestCtx) string {
	if k := extractBearer(ctx); k != "" {
		return k
	}
	return extractHeader(ctx, "api-key")
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, err := json.Marshal(v)
	if err != nil {
		slog.Default().Error("restapi: failed to marshal response", slog.String("error", err.Error()))
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetBody(body)
}
