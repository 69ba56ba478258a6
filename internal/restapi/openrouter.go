package restapi

import (
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/relaygate/gateway/pkg/apierr"
)

// handleOpenRouter serves POST /openrouter/v6/chat/completions. OpenRouter
// model ids may carry a "vendor/" prefix (e.g. "openai/gpt-4o"); the prefix
// is stripped before internal routing since the registry keys models by
// their bare id.
func (s *Server) handleOpenRouter(ctx *fasthttp.RequestCtx) {
	req, perr := parseOpenAIRequest(ctx)
	if perr != nil {
		apierr.WriteOpenAI(ctx, perr)
		return
	}

	modelID := req.Model
	if idx := strings.LastIndex(modelID, "/"); idx >= 0 {
		modelID = modelID[idx+1:]
	}

	apiKey := extractBearer(ctx)
	outcome, derr := s.dispatchChat(ctx, apiKey, modelID, toUpstreamMessages(req.Messages))
	if derr != nil {
		apierr.WriteOpenAI(ctx, derr)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, renderOpenAIChatResponse(outcome))
}
