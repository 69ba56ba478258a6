package restapi

import (
	"github.com/valyala/fasthttp"

	"github.com/relaygate/gateway/pkg/apierr"
)

// handleAzure serves POST /openai/deployments/:id/chat/completions. The
// deployment id in the path is the model id; api-version is required but
// otherwise unvalidated beyond presence.
func (s *Server) handleAzure(ctx *fasthttp.RequestCtx) {
	apiVersion := string(ctx.QueryArgs().Peek("api-version"))
	if apiVersion == "" {
		apierr.WriteOpenAI(ctx, apierr.New(apierr.BadRequest, "api-version query parameter is required"))
		return
	}

	req, perr := parseOpenAIRequest(ctx)
	if perr != nil {
		apierr.WriteOpenAI(ctx, perr)
		return
	}

	deploymentID, ok := ctx.UserValue("id").(string)
	if !ok || deploymentID == "" {
		apierr.WriteOpenAI(ctx, apierr.New(apierr.BadRequest, "deployment id is required"))
		return
	}

	apiKey := extractOpenAIKey(ctx)
	outcome, derr := s.dispatchChat(ctx, apiKey, deploymentID, toUpstreamMessages(req.Messages))
	if derr != nil {
		apierr.WriteOpenAI(ctx, derr)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, renderOpenAIChatResponse(outcome))
}
