package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// googleClient is the Google-shaped adapter: safety settings + generation
// config, backed by the official genai SDK. Construction is
// cheap — a per-attempt genai.Client wraps only an HTTP client and config.
type googleClient struct {
	name       string
	apiKey     string
	baseURL    string
	apiVersion string
	httpClient *http.Client
}

func newGoogleClient(name, baseURL, apiKey string) *googleClient {
	base, ver := splitBaseURLAndVersion(baseURL)
	return &googleClient{
		name:       name,
		apiKey:     apiKey,
		baseURL:    base,
		apiVersion: ver,
		httpClient: &http.Client{Timeout: providerTimeout},
	}
}

func (c *googleClient) dial(ctx context.Context, overrideKey string) (*genai.Client, error) {
	key := overrideKey
	if key == "" {
		key = c.apiKey
	}
	if key == "" {
		return nil, fmt.Errorf("%s: no API key configured", c.name)
	}
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      key,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  c.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: c.baseURL, APIVersion: c.apiVersion},
	})
}

func (c *googleClient) HealthCheck(ctx context.Context) error {
	client, err := c.dial(ctx, "")
	if err != nil {
		return err
	}
	_, err = client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1})
	if err != nil {
		return fmt.Errorf("%s: health check: %w", c.name, c.toUpstreamError(err))
	}
	return nil
}

func (c *googleClient) Send(ctx context.Context, req Request) (*Result, error) {
	client, err := c.dial(ctx, req.APIKey)
	if err != nil {
		return nil, err
	}

	contents, cfg := buildContentsAndConfig(req)

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, c.toUpstreamError(err)
	}

	text := ""
	if resp != nil {
		text = resp.Text()
	}
	return &Result{Text: text, LatencyMs: latency}, nil
}

func buildContentsAndConfig(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	var systemPrompt string
	contents := make([]*genai.Content, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system", "developer":
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += m.Content
		case "assistant", "model":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	var cfg *genai.GenerateContentConfig
	if systemPrompt != "" || req.Temperature > 0 || req.MaxTokens > 0 {
		cfg = &genai.GenerateContentConfig{}
	}
	if cfg != nil && systemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}}
	}
	if cfg != nil && req.Temperature > 0 {
		cfg.Temperature = genai.Ptr[float32](float32(req.Temperature))
	}
	if cfg != nil && req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return contents, cfg
}

func (c *googleClient) toUpstreamError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Provider: c.name, StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	return &Error{Provider: c.name, StatusCode: 0, Message: err.Error()}
}

func splitBaseURLAndVersion(raw string) (baseURL, apiVersion string) {
	if raw == "" {
		return "", ""
	}
	trimmed := strings.TrimRight(raw, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return raw, ""
	}
	last := trimmed[idx+1:]
	if looksLikeAPIVersion(last) {
		return trimmed[:idx] + "/", last
	}
	return raw, ""
}

func looksLikeAPIVersion(s string) bool {
	if !strings.HasPrefix(s, "v") || len(s) < 2 {
		return false
	}
	return s[1] >= '0' && s[1] <= '9'
}
