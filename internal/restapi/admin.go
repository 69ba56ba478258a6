package restapi

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/relaygate/gateway/internal/model"
	"github.com/relaygate/gateway/pkg/apierr"
)

// requireAdmin resolves the caller's API key (Authorization: Bearer or
// x-api-key) and fails with Forbidden unless the role is admin.
func (s *Server) requireAdmin(ctx *fasthttp.RequestCtx) (string, *apierr.Error) {
	apiKey := extractOpenAIKey(ctx)
	if apiKey == "" {
		apiKey = extractHeader(ctx, "x-api-key")
	}
	if apiKey == "" {
		return "", apierr.New(apierr.Unauthenticated, "missing API key")
	}
	if _, err := s.Auth.RequireAdmin(ctx, apiKey); err != nil {
		return "", asAPIError(err)
	}
	return apiKey, nil
}

// adminUpsertProviderRequest is the body of POST /api/admin/providers.
type adminUpsertProviderRequest struct {
	ID              string `json:"id"`
	APIKey          string `json:"apiKey"`
	EndpointURL     string `json:"endpointUrl"`
	Kind            string `json:"kind"`
	ProviderBaseURL string `json:"providerBaseUrl"`
}

// handleAdminUpsertProvider serves POST /api/admin/providers: adds or
// updates a provider record, then fetches providerBaseUrl + "/models" to
// seed ModelStats entries for every model id the upstream reports.
func (s *Server) handleAdminUpsertProvider(ctx *fasthttp.RequestCtx) {
	if _, aerr := s.requireAdmin(ctx); aerr != nil {
		apierr.WriteOpenAI(ctx, aerr)
		return
	}

	var req adminUpsertProviderRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteOpenAI(ctx, apierr.New(apierr.BadRequest, "malformed request body: "+err.Error()))
		return
	}
	if req.ID == "" || req.EndpointURL == "" {
		apierr.WriteOpenAI(ctx, apierr.New(apierr.BadRequest, "id and endpointUrl are required"))
		return
	}

	doc, err := s.Registry.LoadProviders(ctx)
	if err != nil {
		apierr.WriteOpenAI(ctx, apierr.Wrap(apierr.StateStoreErrKind, "failed to load providers", err))
		return
	}

	p := doc.FindProvider(req.ID)
	if p == nil {
		p = &model.ProviderRecord{ID: req.ID, Models: map[string]*model.ModelStats{}}
		doc.Providers = append(doc.Providers, p)
	}
	p.APIKey = req.APIKey
	p.EndpointURL = req.EndpointURL
	p.Kind = req.Kind
	if p.Models == nil {
		p.Models = map[string]*model.ModelStats{}
	}

	baseURL := req.ProviderBaseURL
	if baseURL == "" {
		baseURL = req.EndpointURL
	}
	if ids, ferr := fetchModelIDs(baseURL, req.APIKey); ferr == nil {
		for _, id := range ids {
			if _, exists := p.Models[id]; !exists {
				p.Models[id] = &model.ModelStats{ID: id, TokenGenerationSpeed: model.DefaultTokenGenerationSpeed}
			}
		}
	} else {
		s.logger().WarnContext(ctx, "admin_provider_model_fetch_failed",
			slog.String("provider", req.ID), slog.String("error", ferr.Error()))
	}

	if err := s.Registry.SaveProviders(ctx, doc); err != nil {
		apierr.WriteOpenAI(ctx, apierr.Wrap(apierr.StateStoreErrKind, "failed to save provider", err))
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, p)
}

// modelsListEnvelope mirrors the OpenAI-shaped {object:"list", data:[...]}
// convention most provider /models endpoints follow.
type modelsListEnvelope struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func fetchModelIDs(baseURL, apiKey string) ([]string, error) {
	url := strings.TrimRight(baseURL, "/") + "/models"

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	client := &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
	if err := client.Do(req, resp); err != nil {
		return nil, err
	}

	var envelope modelsListEnvelope
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(envelope.Data))
	for _, d := range envelope.Data {
		if d.ID != "" {
			ids = append(ids, d.ID)
		}
	}
	return ids, nil
}

// adminGenerateKeyRequest is the body of POST /api/admin/users/generate-key.
type adminGenerateKeyRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Tier   string `json:"tier"`
}

// handleAdminGenerateKey serves POST /api/admin/users/generate-key.
func (s *Server) handleAdminGenerateKey(ctx *fasthttp.RequestCtx) {
	if _, aerr := s.requireAdmin(ctx); aerr != nil {
		apierr.WriteOpenAI(ctx, aerr)
		return
	}

	var req adminGenerateKeyRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteOpenAI(ctx, apierr.New(apierr.BadRequest, "malformed request body: "+err.Error()))
		return
	}
	if req.UserID == "" || req.Role == "" || req.Tier == "" {
		apierr.WriteOpenAI(ctx, apierr.New(apierr.BadRequest, "userId, role, and tier are required"))
		return
	}

	key, err := s.Auth.GenerateKey(ctx, req.UserID, req.Role, req.Tier)
	if err != nil {
		apierr.WriteOpenAI(ctx, asAPIError(err))
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"apiKey": key})
}

// handleAdminRefreshCatalog serves POST /api/admin/models/refresh-provider-counts.
func (s *Server) handleAdminRefreshCatalog(ctx *fasthttp.RequestCtx) {
	if _, aerr := s.requireAdmin(ctx); aerr != nil {
		apierr.WriteOpenAI(ctx, aerr)
		return
	}

	if err := s.Registry.RefreshCatalog(ctx); err != nil {
		apierr.WriteOpenAI(ctx, apierr.Wrap(apierr.StateStoreErrKind, "failed to refresh catalog", err))
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
}
