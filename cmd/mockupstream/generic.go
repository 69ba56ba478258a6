package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"
)

// newGenericHandler returns an http.Handler simulating any OpenAI-compatible
// chat-completions endpoint — the wire format internal/upstream's generic
// client speaks regardless of which vendor is actually configured.
func newGenericHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, errBody("method not allowed", "method_not_allowed"))
			return
		}
		applyLatency(cfg)
		if shouldError(cfg) {
			writeJSON(w, http.StatusInternalServerError, errBody("mock internal server error", "server_error"))
			return
		}

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errBody("invalid request body", "invalid_request"))
			return
		}

		model := req.Model
		if model == "" {
			model = "mock-generic-chat"
		}

		id := fmt.Sprintf("chatcmpl-mock%x", rand.Int64())
		content := fakeSentence(cfg.Words)
		inTokens := estimateTokens(req.Messages)

		writeJSON(w, http.StatusOK, map[string]any{
			"id":      id,
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   model,
			"choices": []map[string]any{
				{
					"index": 0,
					"message": map[string]string{
						"role":    "assistant",
						"content": content,
					},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{
				"prompt_tokens":     inTokens,
				"completion_tokens": cfg.Words,
				"total_tokens":      inTokens + cfg.Words,
			},
		})
	})

	// Models list — hit by internal/upstream's HealthCheck.
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "mock-generic-chat", "object": "model", "created": 1710000000, "owned_by": "mockupstream"},
			},
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errBody(fmt.Sprintf("mock: unknown path %s", r.URL.Path), "not_found"))
	})

	return mux
}

func estimateTokens(messages []struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
	}
	if total == 0 {
		total = 1
	}
	return total
}

// errBody is the OpenAI-style error envelope.
func errBody(msg, typ string) map[string]any {
	return map[string]any{
		"error": map[string]string{
			"message": msg,
			"type":    typ,
			"code":    typ,
		},
	}
}
