// Package registry implements the provider registry and model catalog: an
// in-memory view reloaded per request from the state store, plus the
// catalog refresh that keeps the `models` document's provider counts and
// ownership guesses in sync with `providers`.
package registry

import (
	"context"
	"sort"
	"strings"

	"github.com/relaygate/gateway/internal/model"
	"github.com/relaygate/gateway/internal/store"
)

// ownedByPrefixes maps a model-id prefix/substring to a guessed owner,
// checked in order — first match wins.
var ownedByPrefixes = []struct {
	match   func(id string) bool
	ownedBy string
}{
	{prefixMatch("gpt-"), "openai"},
	{prefixMatch("claude"), "anthropic"},
	{containsAny("gemini", "gemma"), "google"},
	{prefixMatch("llama"), "meta"},
	{containsAny("mistral", "ministral", "mixtral"), "mistral.ai"},
	{prefixMatch("qwen"), "alibaba"},
	{prefixMatch("command"), "cohere"},
}

func prefixMatch(prefix string) func(string) bool {
	return func(id string) bool { return strings.HasPrefix(id, prefix) }
}

func containsAny(needles ...string) func(string) bool {
	return func(id string) bool {
		for _, n := range needles {
			if strings.Contains(id, n) {
				return true
			}
		}
		return false
	}
}

// guessOwnedBy maps a model ID to a best-guess owning vendor.
func guessOwnedBy(id string) string {
	lower := strings.ToLower(id)
	for _, rule := range ownedByPrefixes {
		if rule.match(lower) {
			return rule.ownedBy
		}
	}
	return "unknown"
}

// Registry loads providers from the state store on every request and owns
// the catalog refresh.
type Registry struct {
	store *store.Store
}

// New returns a Registry bound to s.
func New(s *store.Store) *Registry {
	return &Registry{store: s}
}

// LoadProviders fetches the current providers document. Callers must treat
// the result as a point-in-time snapshot — the router reloads before every
// stat-updating write.
func (r *Registry) LoadProviders(ctx context.Context) (*model.ProvidersDocument, error) {
	var doc model.ProvidersDocument
	if err := r.store.Load(ctx, store.DocProviders, model.NewProvidersDocument(), &doc); err != nil {
		return nil, err
	}
	if doc.Providers == nil {
		doc.Providers = []*model.ProviderRecord{}
	}
	return &doc, nil
}

// SaveProviders persists doc. A successful save of DocProviders schedules a
// catalog refresh via the store's post-save hook.
func (r *Registry) SaveProviders(ctx context.Context, doc *model.ProvidersDocument) error {
	return r.store.Save(ctx, store.DocProviders, doc)
}

// LoadCatalog fetches the current model catalog document.
func (r *Registry) LoadCatalog(ctx context.Context) (*model.CatalogDocument, error) {
	var doc model.CatalogDocument
	if err := r.store.Load(ctx, store.DocModels, model.NewCatalogDocument(), &doc); err != nil {
		return nil, err
	}
	if doc.Object == "" {
		doc.Object = "list"
	}
	if doc.Data == nil {
		doc.Data = []*model.ModelCatalogEntry{}
	}
	return &doc, nil
}

// RefreshCatalog recounts active providers per model, reconciles the
// catalog against that count (dropping
// entries with a zero count, adding entries for uncatalogued models with a
// guessed owner), and save only if anything changed.
func (r *Registry) RefreshCatalog(ctx context.Context) error {
	providers, err := r.LoadProviders(ctx)
	if err != nil {
		return err
	}
	catalog, err := r.LoadCatalog(ctx)
	if err != nil {
		return err
	}

	counts := activeProviderCounts(providers)
	changed := reconcileCatalog(catalog, counts)
	if !changed {
		return nil
	}
	return r.store.Save(ctx, store.DocModels, catalog)
}

// activeProviderCounts returns, for every modelId listed by a non-disabled
// provider, the count of such providers.
func activeProviderCounts(doc *model.ProvidersDocument) map[string]int {
	counts := make(map[string]int)
	for _, p := range doc.Providers {
		if p.Disabled {
			continue
		}
		for modelID := range p.Models {
			counts[modelID]++
		}
	}
	return counts
}

// reconcileCatalog mutates catalog in place and reports whether anything
// changed.
func reconcileCatalog(catalog *model.CatalogDocument, counts map[string]int) bool {
	changed := false

	kept := catalog.Data[:0:0]
	seen := make(map[string]bool)
	for _, entry := range catalog.Data {
		count := counts[entry.ID]
		if count == 0 {
			changed = true
			continue
		}
		if entry.Providers != count {
			entry.Providers = count
			changed = true
		}
		seen[entry.ID] = true
		kept = append(kept, entry)
	}

	var newIDs []string
	for id, count := range counts {
		if count > 0 && !seen[id] {
			newIDs = append(newIDs, id)
		}
	}
	sort.Strings(newIDs)
	for _, id := range newIDs {
		kept = append(kept, &model.ModelCatalogEntry{
			ID:         id,
			Object:     "model",
			OwnedBy:    guessOwnedBy(id),
			Providers:  counts[id],
			Throughput: model.DefaultTokenGenerationSpeed,
		})
		changed = true
	}

	catalog.Data = kept
	return changed
}
