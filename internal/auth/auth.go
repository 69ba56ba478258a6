// Package auth implements API-key resolution, quota enforcement, and key
// generation: Validate resolves a caller's API key to their user record
// and tier limits; RecordUsage folds token usage back into the persisted
// users document under single-writer serialization.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/relaygate/gateway/internal/model"
	"github.com/relaygate/gateway/internal/store"
	"github.com/relaygate/gateway/pkg/apierr"
)

// Service implements C7 against a state store and a static tier table.
type Service struct {
	store *store.Store
	tiers map[string]*model.TierLimits

	// usageMu serializes RecordUsage's read-modify-write cycle against the
	// users document to prevent lost increments under concurrent callers.
	usageMu sync.Mutex
}

// New returns a Service backed by s, with the given static tier table.
func New(s *store.Store, tiers map[string]*model.TierLimits) *Service {
	return &Service{store: s, tiers: tiers}
}

// Validate resolves apiKey to a user record and that user's tier limits.
func (svc *Service) Validate(ctx context.Context, apiKey string) (*model.UserRecord, *model.TierLimits, error) {
	users, err := svc.loadUsers(ctx)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.StateStoreErrKind, "failed to load users", err)
	}

	user, ok := users.Users[apiKey]
	if !ok {
		return nil, nil, apierr.New(apierr.Unauthenticated, "unknown API key")
	}

	limits, ok := svc.tiers[user.Tier]
	if !ok {
		return nil, nil, apierr.New(apierr.Unauthenticated, fmt.Sprintf("unknown tier %q", user.Tier))
	}

	if limits.MaxTokens != nil && user.TokenUsage >= *limits.MaxTokens {
		return nil, nil, apierr.New(apierr.QuotaExceeded, "token quota exceeded")
	}

	return user, limits, nil
}

// RequireAdmin resolves apiKey and fails with Forbidden unless its role is
// admin — used by the admin route handlers.
func (svc *Service) RequireAdmin(ctx context.Context, apiKey string) (*model.UserRecord, error) {
	users, err := svc.loadUsers(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.StateStoreErrKind, "failed to load users", err)
	}
	user, ok := users.Users[apiKey]
	if !ok {
		return nil, apierr.New(apierr.Unauthenticated, "unknown API key")
	}
	if user.Role != "admin" {
		return nil, apierr.New(apierr.Forbidden, "admin role required")
	}
	return user, nil
}

// RecordUsage adds tokens to apiKey's cumulative usage: reload-modify-save
// under a per-process mutex so interleaved updates for
// different keys never lose an increment.
func (svc *Service) RecordUsage(ctx context.Context, apiKey string, tokens int) error {
	if tokens <= 0 {
		return nil
	}

	svc.usageMu.Lock()
	defer svc.usageMu.Unlock()

	users, err := svc.loadUsers(ctx)
	if err != nil {
		return err
	}
	user, ok := users.Users[apiKey]
	if !ok {
		return nil
	}
	user.TokenUsage += int64(tokens)
	return svc.store.Save(ctx, store.DocUsers, users)
}

// GenerateKey creates a new API key for userID, enforcing user-ID uniqueness
// at generation time. Key material is 32 bytes of crypto/rand, lowercase-hex
// encoded.
func (svc *Service) GenerateKey(ctx context.Context, userID, role, tier string) (string, error) {
	svc.usageMu.Lock()
	defer svc.usageMu.Unlock()

	users, err := svc.loadUsers(ctx)
	if err != nil {
		return "", err
	}

	for _, u := range users.Users {
		if u.UserID == userID {
			return "", apierr.New(apierr.Conflict, fmt.Sprintf("userId %q already has a key", userID))
		}
	}

	key, err := randomHexKey()
	if err != nil {
		return "", apierr.Wrap(apierr.Internal, "failed to generate key material", err)
	}

	users.Users[key] = &model.UserRecord{UserID: userID, Role: role, Tier: tier}
	if err := svc.store.Save(ctx, store.DocUsers, users); err != nil {
		return "", apierr.Wrap(apierr.StateStoreErrKind, "failed to save new key", err)
	}
	return key, nil
}

// SeedAdmin ensures apiKey resolves to an admin user, inserting one under
// userID if the key is not already present. Used once at startup so a fresh
// deployment always has a working admin key without a manual bootstrap step.
func (svc *Service) SeedAdmin(ctx context.Context, apiKey, userID string) error {
	if apiKey == "" || userID == "" {
		return nil
	}

	svc.usageMu.Lock()
	defer svc.usageMu.Unlock()

	users, err := svc.loadUsers(ctx)
	if err != nil {
		return err
	}
	if _, exists := users.Users[apiKey]; exists {
		return nil
	}

	users.Users[apiKey] = &model.UserRecord{UserID: userID, Role: "admin", Tier: "enterprise"}
	return svc.store.Save(ctx, store.DocUsers, users)
}

func (svc *Service) loadUsers(ctx context.Context) (*model.UsersDocument, error) {
	var doc model.UsersDocument
	if err := svc.store.Load(ctx, store.DocUsers, model.NewUsersDocument(), &doc); err != nil {
		return nil, err
	}
	if doc.Users == nil {
		doc.Users = map[string]*model.UserRecord{}
	}
	return &doc, nil
}

func randomHexKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
