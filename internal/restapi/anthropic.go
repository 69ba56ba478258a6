package restapi

import (
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/valyala/fasthttp"

	"github.com/relaygate/gateway/internal/upstream"
	"github.com/relaygate/gateway/pkg/apierr"
)

// anthropicRequest mirrors the POST /v1/messages body.
type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// anthropicResponse mirrors the Messages API response shape. Role, StopReason,
// and Usage reuse the SDK's own wire types rather than re-declaring them.
type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       anthropic.MessageParamRole `json:"role"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason anthropic.StopReason    `json:"stop_reason"`
	Usage      anthropic.Usage         `json:"usage"`
}

// normalizeAnthropicRole maps an arbitrary role string onto the SDK's role enum,
// defaulting unrecognized roles to the user role.
func normalizeAnthropicRole(role string) anthropic.MessageParamRole {
	if anthropic.MessageParamRole(role) == anthropic.MessageParamRoleAssistant {
		return anthropic.MessageParamRoleAssistant
	}
	return anthropic.MessageParamRoleUser
}

// handleAnthropic serves POST /anthropic/v3/messages.
func (s *Server) handleAnthropic(ctx *fasthttp.RequestCtx) {
	var req anthropicRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteAnthropic(ctx, apierr.New(apierr.BadRequest, "malformed request body: "+err.Error()))
		return
	}
	if len(req.Messages) == 0 {
		apierr.WriteAnthropic(ctx, apierr.New(apierr.BadRequest, "messages must not be empty"))
		return
	}

	messages := make([]upstream.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, upstream.Message{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		role := string(normalizeAnthropicRole(m.Role))
		messages = append(messages, upstream.Message{Role: role, Content: m.Content})
	}

	apiKey := extractHeader(ctx, "x-api-key")
	outcome, derr := s.dispatchChat(ctx, apiKey, req.Model, messages)
	if derr != nil {
		apierr.WriteAnthropic(ctx, derr)
		return
	}

	inputTokens := (len(outcome.promptText) + 3) / 4
	writeJSON(ctx, fasthttp.StatusOK, anthropicResponse{
		ID:         "msg_" + outcome.result.ProviderID,
		Type:       "message",
		Role:       anthropic.MessageParamRoleAssistant,
		Model:      outcome.model,
		Content:    []anthropicContentBlock{{Type: "text", Text: outcome.result.Response}},
		StopReason: anthropic.StopReasonEndTurn,
		Usage: anthropic.Usage{
			InputTokens:  int64(inputTokens),
			OutputTokens: int64(outcome.result.TokensGenerated),
		},
	})
}
