package restapi

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	"github.com/relaygate/gateway/internal/upstream"
	"github.com/relaygate/gateway/pkg/apierr"
)

// geminiRequest mirrors the POST /v2/models/:modelId/generateContent body.
type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string      `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate   `json:"candidates"`
	UsageMetadata geminiUsageMetadata `json:"usageMetadata"`
}

func flattenGeminiContents(contents []geminiContent) []upstream.Message {
	out := make([]upstream.Message, 0, len(contents))
	for _, c := range contents {
		role := c.Role
		if role == "" {
			role = "user"
		}
		var text string
		for _, p := range c.Parts {
			text += p.Text
		}
		out = append(out, upstream.Message{Role: role, Content: text})
	}
	return out
}

// handleGemini serves POST /gemini/v2/models/:modelId/generateContent.
func (s *Server) handleGemini(ctx *fasthttp.RequestCtx) {
	modelID, ok := ctx.UserValue("modelId").(string)
	if !ok || modelID == "" {
		apierr.WriteGemini(ctx, apierr.New(apierr.BadRequest, "modelId path segment is required"))
		return
	}

	var req geminiRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteGemini(ctx, apierr.New(apierr.BadRequest, "malformed request body: "+err.Error()))
		return
	}
	if len(req.Contents) == 0 {
		apierr.WriteGemini(ctx, apierr.New(apierr.BadRequest, "contents must not be empty"))
		return
	}

	apiKey := extractHeader(ctx, "x-goog-api-key")
	messages := flattenGeminiContents(req.Contents)
	outcome, derr := s.dispatchChat(ctx, apiKey, modelID, messages)
	if derr != nil {
		apierr.WriteGemini(ctx, derr)
		return
	}

	inputTokens := (len(outcome.promptText) + 3) / 4
	writeJSON(ctx, fasthttp.StatusOK, geminiResponse{
		Candidates: []geminiCandidate{{
			Content:      geminiContent{Role: "model", Parts: []geminiPart{{Text: outcome.result.Response}}},
			FinishReason: "STOP",
			Index:        0,
		}},
		UsageMetadata: geminiUsageMetadata{
			PromptTokenCount:     inputTokens,
			CandidatesTokenCount: outcome.result.TokensGenerated,
			TotalTokenCount:      inputTokens + outcome.result.TokensGenerated,
		},
	})
}
