package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const providerTimeout = 10 * time.Second

// genericClient is the generic vendor-agnostic chat-completions adapter:
// any endpoint and key injected at construction time, backed by the OpenAI
// SDK since its wire format is the de facto chat-completions standard most
// vendors mirror.
type genericClient struct {
	name    string
	apiKey  string
	baseURL string
	client  openaiSDK.Client
}

func newGenericClient(name, baseURL, apiKey string) *genericClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: providerTimeout}),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &genericClient{
		name:    name,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  openaiSDK.NewClient(opts...),
	}
}

func (c *genericClient) HealthCheck(ctx context.Context) error {
	_, err := c.client.Models.List(ctx)
	if err != nil {
		return fmt.Errorf("%s: health check: %w", c.name, c.toUpstreamError(err))
	}
	return nil
}

func (c *genericClient) Send(ctx context.Context, req Request) (*Result, error) {
	params := c.buildParams(req)
	opts, err := c.requestOptions(req.APIKey)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params, opts...)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, c.toUpstreamError(err)
	}

	text := ""
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}

	return &Result{Text: text, LatencyMs: latency}, nil
}

func (c *genericClient) buildParams(req Request) openaiSDK.ChatCompletionNewParams {
	msgs := make([]openaiSDK.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, toSDKMessage(m.Role, m.Content))
	}

	params := openaiSDK.ChatCompletionNewParams{
		Messages: msgs,
		Model:    req.Model,
	}
	if req.Temperature != 0 {
		params.Temperature = openaiSDK.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openaiSDK.Int(int64(req.MaxTokens))
	}
	return params
}

func (c *genericClient) requestOptions(overrideKey string) ([]option.RequestOption, error) {
	key := overrideKey
	if key == "" {
		key = c.apiKey
	}
	if key == "" {
		return nil, fmt.Errorf("%s: no API key configured", c.name)
	}
	return []option.RequestOption{option.WithAPIKey(key)}, nil
}

func (c *genericClient) toUpstreamError(err error) error {
	var apiErr *openaiSDK.Error
	if errors.As(err, &apiErr) {
		return &Error{Provider: c.name, StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
	}
	return &Error{Provider: c.name, StatusCode: 0, Message: err.Error()}
}

func toSDKMessage(role, content string) openaiSDK.ChatCompletionMessageParamUnion {
	switch strings.ToLower(role) {
	case "developer":
		return openaiSDK.DeveloperMessage(content)
	case "system":
		return openaiSDK.SystemMessage(content)
	case "assistant":
		return openaiSDK.AssistantMessage(content)
	default:
		return openaiSDK.UserMessage(content)
	}
}
