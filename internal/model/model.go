// Package model defines the persisted data shapes shared by the state store,
// the statistics engine, the provider registry, and the router: provider
// records, per-model statistics, response history, the model catalog, user
// records, and tier limits.
package model

import "time"

// ResponseEntry records one successful upstream call against a
// (provider, model) pair. Entries are pruned by the 24h sliding window.
type ResponseEntry struct {
	Timestamp         int64   `json:"timestamp"`
	ResponseTimeMs     int64  `json:"responseTimeMs"`
	InputTokens        int    `json:"inputTokens"`
	OutputTokens       int    `json:"outputTokens"`
	TokensGenerated    int    `json:"tokensGenerated"`
	ProviderLatencyMs  *int64 `json:"providerLatencyMs,omitempty"`
	ObservedSpeedTps   *float64 `json:"observedSpeedTps,omitempty"`
	APIKey             string `json:"apiKey,omitempty"`
}

// ModelStats holds per-(provider, model) routing statistics.
type ModelStats struct {
	ID                   string          `json:"id"`
	TokenGenerationSpeed float64         `json:"tokenGenerationSpeed"`
	ResponseTimes        []ResponseEntry `json:"responseTimes"`
	Errors               int64           `json:"errors"`
	ConsecutiveErrors    int             `json:"consecutiveErrors"`
	AvgResponseTimeMs    *float64        `json:"avgResponseTimeMs,omitempty"`
	AvgProviderLatencyMs *float64        `json:"avgProviderLatencyMs,omitempty"`
	AvgTokenSpeed        *float64        `json:"avgTokenSpeed,omitempty"`
}

// ProviderRecord is one configured upstream provider.
type ProviderRecord struct {
	ID                   string                `json:"id"`
	APIKey               string                `json:"apiKey,omitempty"`
	EndpointURL          string                `json:"endpointUrl"`
	Kind                 string                `json:"kind"` // "generic" | "google" — selects the upstream adapter
	Models               map[string]*ModelStats `json:"models"`
	Disabled             bool                  `json:"disabled"`
	AvgResponseTimeMs    *float64              `json:"avgResponseTimeMs,omitempty"`
	AvgProviderLatencyMs *float64              `json:"avgProviderLatencyMs,omitempty"`
	Errors               int64                 `json:"errors"`
	ProviderScore        *int                  `json:"providerScore,omitempty"`
}

// ProvidersDocument is the persisted `providers` document: an object whose
// `providers` field holds the array of ProviderRecord.
type ProvidersDocument struct {
	Providers []*ProviderRecord `json:"providers"`
}

// ModelCatalogEntry is one row of the model catalog document.
type ModelCatalogEntry struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	OwnedBy   string `json:"owned_by"`
	Created   int64  `json:"created"`
	Providers int    `json:"providers"`
	Throughput float64 `json:"throughput"`
}

// CatalogDocument is the persisted `models` document: an OpenAI-shaped
// `{object:"list", data:[...]}` envelope.
type CatalogDocument struct {
	Object string               `json:"object"`
	Data   []*ModelCatalogEntry `json:"data"`
}

// UserRecord is indexed by API key in the persisted `keys` document.
type UserRecord struct {
	UserID     string `json:"userId"`
	Role       string `json:"role"` // "admin" | "user"
	Tier       string `json:"tier"`
	TokenUsage int64  `json:"tokenUsage"`
}

// UsersDocument is the persisted `keys` document: API key -> UserRecord.
type UsersDocument struct {
	Users map[string]*UserRecord `json:"users"`
}

// TierLimits is static configuration, one entry per tier name.
type TierLimits struct {
	RPS              int      `json:"rps"`
	RPM              int      `json:"rpm"`
	RPD              int      `json:"rpd"`
	MaxTokens        *int64   `json:"maxTokens,omitempty"`
	MinProviderScore *int     `json:"minProviderScore,omitempty"`
	MaxProviderScore *int     `json:"maxProviderScore,omitempty"`
}

const (
	// RetentionWindow is the sliding-window retention period for response
	// entries.
	RetentionWindow = 24 * time.Hour

	// ConsecutiveErrorDisableThreshold is the number of consecutive errors on
	// any one model that auto-disables its provider.
	ConsecutiveErrorDisableThreshold = 5

	// DefaultTokenGenerationSpeed seeds ModelStats.TokenGenerationSpeed when
	// the model catalog has no throughput figure for a model.
	DefaultTokenGenerationSpeed = 50
)

// NewProvidersDocument returns an empty providers document.
func NewProvidersDocument() *ProvidersDocument {
	return &ProvidersDocument{Providers: []*ProviderRecord{}}
}

// NewUsersDocument returns an empty users document.
func NewUsersDocument() *UsersDocument {
	return &UsersDocument{Users: map[string]*UserRecord{}}
}

// NewCatalogDocument returns an empty, correctly-enveloped catalog document.
func NewCatalogDocument() *CatalogDocument {
	return &CatalogDocument{Object: "list", Data: []*ModelCatalogEntry{}}
}

// FindProvider returns the provider with the given id, or nil.
func (d *ProvidersDocument) FindProvider(id string) *ProviderRecord {
	for _, p := range d.Providers {
		if p.ID == id {
			return p
		}
	}
	return nil
}
