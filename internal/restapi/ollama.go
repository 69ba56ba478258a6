package restapi

import (
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/relaygate/gateway/internal/upstream"
	"github.com/relaygate/gateway/pkg/apierr"
)

// ollamaRequest mirrors the POST /api/chat body.
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Model     string        `json:"model"`
	CreatedAt string        `json:"created_at"`
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`
}

// handleOllama serves POST /ollama/v5/api/chat.
func (s *Server) handleOllama(ctx *fasthttp.RequestCtx) {
	var req ollamaRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteOllama(ctx, apierr.New(apierr.BadRequest, "malformed request body: "+err.Error()))
		return
	}
	if len(req.Messages) == 0 {
		apierr.WriteOllama(ctx, apierr.New(apierr.BadRequest, "messages must not be empty"))
		return
	}

	messages := make([]upstream.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = upstream.Message{Role: m.Role, Content: m.Content}
	}

	apiKey := extractBearer(ctx)
	outcome, derr := s.dispatchChat(ctx, apiKey, req.Model, messages)
	if derr != nil {
		apierr.WriteOllama(ctx, derr)
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, ollamaResponse{
		Model:     outcome.model,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Message:   ollamaMessage{Role: "assistant", Content: outcome.result.Response},
		Done:      true,
	})
}
