// Package store implements the gateway's state store: three named JSON
// documents (providers, keys, models) persisted across a preferred backend
// and a fallback backend, with fallback-to-preferred write-back and
// best-effort dual-backend saves.
package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Document names. These are also the backend-specific resource identifiers
// (Redis keys, file base names) — see RedisBackend and FileBackend.
const (
	DocProviders = "providers"
	DocUsers     = "keys"
	DocModels    = "models"
)

// Backend is a single named-document key/value backend. A miss is reported
// by returning (nil, false, nil); backend errors are returned distinctly
// from misses so Store can choose whether to fall through.
type Backend interface {
	Load(ctx context.Context, name string) (data []byte, found bool, err error)
	Save(ctx context.Context, name string, data []byte) error
	Name() string
}

// Store orchestrates a preferred and a fallback Backend.
type Store struct {
	preferred Backend
	fallback  Backend
	logger    *slog.Logger

	refreshCatalog func(context.Context)
}

// New builds a Store. refreshCatalog, if non-nil, is invoked on a
// background goroutine after every successful save of DocProviders; a nil
// value disables the hook.
func New(preferred, fallback Backend, logger *slog.Logger, refreshCatalog func(context.Context)) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{preferred: preferred, fallback: fallback, logger: logger, refreshCatalog: refreshCatalog}
}

// Load fetches the named document, preferring s.preferred, falling back to
// s.fallback on a miss or error, writing the fallback's value back to the
// preferred backend asynchronously. defaultDoc is returned (and persisted
// to both backends) if neither backend has a copy.
func (s *Store) Load(ctx context.Context, name string, defaultDoc any, out any) error {
	if data, ok := s.tryLoad(ctx, s.preferred, name); ok {
		return json.Unmarshal(data, out)
	}

	if data, ok := s.tryLoad(ctx, s.fallback, name); ok {
		if err := json.Unmarshal(data, out); err != nil {
			return err
		}
		s.writeBackAsync(name, data)
		return nil
	}

	defaultData, err := json.Marshal(defaultDoc)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(defaultData, out); err != nil {
		return err
	}
	s.saveBoth(ctx, name, defaultData)
	return nil
}

func (s *Store) tryLoad(ctx context.Context, b Backend, name string) ([]byte, bool) {
	if b == nil {
		return nil, false
	}
	data, found, err := b.Load(ctx, name)
	if err != nil {
		s.logger.WarnContext(ctx, "store_load_error",
			slog.String("backend", b.Name()), slog.String("document", name), slog.String("error", err.Error()))
		return nil, false
	}
	if !found || len(data) == 0 {
		return nil, false
	}
	return data, true
}

func (s *Store) writeBackAsync(name string, data []byte) {
	if s.preferred == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.preferred.Save(ctx, name, data); err != nil {
			s.logger.WarnContext(ctx, "store_writeback_error",
				slog.String("backend", s.preferred.Name()), slog.String("document", name), slog.String("error", err.Error()))
		}
	}()
}

// Save serializes doc once and attempts both backends independently. A save
// succeeds if at least one backend acknowledges it.
func (s *Store) Save(ctx context.Context, name string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.save(ctx, name, data)
}

func (s *Store) saveBoth(ctx context.Context, name string, data []byte) {
	if err := s.save(ctx, name, data); err != nil {
		s.logger.ErrorContext(ctx, "store_default_save_failed", slog.String("document", name), slog.String("error", err.Error()))
	}
}

func (s *Store) save(ctx context.Context, name string, data []byte) error {
	var preferredErr, fallbackErr error

	if s.preferred != nil {
		if err := s.preferred.Save(ctx, name, data); err != nil {
			preferredErr = err
			s.logger.ErrorContext(ctx, "store_save_error",
				slog.String("backend", s.preferred.Name()), slog.String("document", name), slog.String("error", err.Error()))
		}
	}
	if s.fallback != nil {
		if err := s.fallback.Save(ctx, name, data); err != nil {
			fallbackErr = err
			level := slog.LevelWarn
			if preferredErr != nil {
				level = slog.LevelError
			}
			s.logger.Log(ctx, level, "store_save_error",
				slog.String("backend", s.fallback.Name()), slog.String("document", name), slog.String("error", err.Error()))
		}
	}

	if preferredErr != nil && fallbackErr != nil {
		return &StateStoreError{Document: name, Preferred: preferredErr, Fallback: fallbackErr}
	}
	if name == DocProviders && s.refreshCatalog != nil {
		go s.refreshCatalog(context.Background())
	}
	return nil
}

// StateStoreError indicates both backends failed a save.
type StateStoreError struct {
	Document  string
	Preferred error
	Fallback  error
}

func (e *StateStoreError) Error() string {
	return "store: both backends failed for document " + e.Document
}
