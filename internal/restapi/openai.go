package restapi

import (
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/relaygate/gateway/internal/upstream"
	"github.com/relaygate/gateway/pkg/apierr"
)

// openAIChatRequest mirrors the OpenAI POST /v1/chat/completions body; the
// fields the gateway doesn't act on (temperature, top_p, tool definitions,
// ...) are accepted and ignored.
type openAIChatRequest struct {
	Model    string              `json:"model"`
	Messages []openAIChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChoice struct {
	Index        int               `json:"index"`
	Message      openAIChatMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

func parseOpenAIRequest(ctx *fasthttp.RequestCtx) (*openAIChatRequest, *apierr.Error) {
	var req openAIChatRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		return nil, apierr.New(apierr.BadRequest, "malformed request body: "+err.Error())
	}
	if len(req.Messages) == 0 {
		return nil, apierr.New(apierr.BadRequest, "messages must not be empty")
	}
	return &req, nil
}

func toUpstreamMessages(messages []openAIChatMessage) []upstream.Message {
	out := make([]upstream.Message, len(messages))
	for i, m := range messages {
		out[i] = upstream.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func renderOpenAIChatResponse(outcome *chatOutcome) openAIChatResponse {
	inputTokens := (len(outcome.promptText) + 3) / 4
	outputTokens := outcome.result.TokensGenerated

	return openAIChatResponse{
		ID:      "chatcmpl-" + outcome.result.ProviderID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   outcome.model,
		Choices: []openAIChoice{{
			Index:        0,
			Message:      openAIChatMessage{Role: "assistant", Content: outcome.result.Response},
			FinishReason: "stop",
		}},
		Usage: openAIUsage{
			PromptTokens:     inputTokens,
			CompletionTokens: outputTokens,
			TotalTokens:      inputTokens + outputTokens,
		},
	}
}

// handleOpenAI serves POST /v1/chat/completions.
func (s *Server) handleOpenAI(ctx *fasthttp.RequestCtx) {
	req, perr := parseOpenAIRequest(ctx)
	if perr != nil {
		apierr.WriteOpenAI(ctx, perr)
		return
	}
	apiKey := extractOpenAIKey(ctx)
	outcome, derr := s.dispatchChat(ctx, apiKey, req.Model, toUpstreamMessages(req.Messages))
	if derr != nil {
		apierr.WriteOpenAI(ctx, derr)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, renderOpenAIChatResponse(outcome))
}

// handleGroq serves POST /groq/v4/chat/completions — OpenAI-shaped.
func (s *Server) handleGroq(ctx *fasthttp.RequestCtx) {
	req, perr := parseOpenAIRequest(ctx)
	if perr != nil {
		apierr.WriteOpenAI(ctx, perr)
		return
	}
	apiKey := extractBearer(ctx)
	outcome, derr := s.dispatchChat(ctx, apiKey, req.Model, toUpstreamMessages(req.Messages))
	if derr != nil {
		apierr.WriteOpenAI(ctx, derr)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, renderOpenAIChatResponse(outcome))
}
