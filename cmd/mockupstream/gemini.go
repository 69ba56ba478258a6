package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// newGoogleHandler returns an http.Handler simulating the Gemini
// generateContent API — the wire format internal/upstream's google client
// speaks via the genai SDK. Routes are matched loosely since the SDK embeds
// the model name and API version into the path
// (e.g. "/v1beta/models/gemini-pro:generateContent").
func newGoogleHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ":generateContent"):
			handleGenerateContent(w, r, cfg)
		case strings.Contains(r.URL.Path, "/models"):
			handleListModels(w, r)
		default:
			writeJSON(w, http.StatusNotFound, genaiErrBody(http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path)))
		}
	})

	return mux
}

func handleGenerateContent(w http.ResponseWriter, r *http.Request, cfg Config) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, genaiErrBody(http.StatusMethodNotAllowed, "method not allowed"))
		return
	}
	applyLatency(cfg)
	if shouldError(cfg) {
		writeJSON(w, http.StatusInternalServerError, genaiErrBody(http.StatusInternalServerError, "mock internal server error"))
		return
	}

	var req struct {
		Contents []struct {
			Role  string `json:"role"`
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, genaiErrBody(http.StatusBadRequest, "invalid request body"))
		return
	}

	promptChars := 0
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			promptChars += len(p.Text)
		}
	}
	inTokens := (promptChars + 3) / 4
	if inTokens == 0 {
		inTokens = 1
	}

	content := fakeSentence(cfg.Words)

	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": []map[string]any{
			{
				"content": map[string]any{
					"role": "model",
					"parts": []map[string]string{
						{"text": content},
					},
				},
				"finishReason": "STOP",
				"index":        0,
			},
		},
		"usageMetadata": map[string]int{
			"promptTokenCount":     inTokens,
			"candidatesTokenCount": cfg.Words,
			"totalTokenCount":      inTokens + cfg.Words,
		},
	})
}

func handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models": []map[string]any{
			{"name": "models/mock-gemini", "displayName": "Mock Gemini", "supportedGenerationMethods": []string{"generateContent"}},
		},
	})
}

// genaiErrBody is the Gemini-style error envelope.
func genaiErrBody(code int, msg string) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
			"status":  "INTERNAL",
		},
	}
}
