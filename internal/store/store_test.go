package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gateway/internal/model"
)

func newTestRedisBackend(t *testing.T) *RedisBackend {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisBackendFromClient(client)
}

func TestFileBackendSaveLoadRoundTrip(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Save(ctx, DocUsers, []byte(`{"users":{}}`)))

	data, found, err := b.Load(ctx, DocUsers)
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, `{"users":{}}`, string(data))
}

func TestFileBackendLoadMissingIsNotFound(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	_, found, err := b.Load(context.Background(), DocProviders)
	require.NoError(t, err)
	require.False(t, found)
}

func TestRedisBackendSaveLoadRoundTrip(t *testing.T) {
	b := newTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, DocModels, []byte(`{"object":"list","data":[]}`)))

	data, found, err := b.Load(ctx, DocModels)
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, `{"object":"list","data":[]}`, string(data))
}

func TestStoreLoadFallsBackAndWritesBack(t *testing.T) {
	preferredDir := t.TempDir()
	preferred, err := NewFileBackend(preferredDir)
	require.NoError(t, err)

	fallback, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, fallback.Save(context.Background(), DocUsers, []byte(`{"users":{"k":{"userId":"u1"}}}`)))

	s := New(preferred, fallback, nil, nil)

	var out model.UsersDocument
	require.NoError(t, s.Load(context.Background(), DocUsers, model.NewUsersDocument(), &out))
	require.Contains(t, out.Users, "k")

	waitForWriteback(t, preferred, DocUsers)
}

func waitForWriteback(t *testing.T, b *FileBackend, name string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, found, err := b.Load(context.Background(), name)
		return err == nil && found
	}, defaultEventualTimeout, defaultEventualTick)
}

func TestStoreLoadReturnsDefaultWhenBothAbsent(t *testing.T) {
	preferred, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	fallback, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	s := New(preferred, fallback, nil, nil)

	var out model.ProvidersDocument
	require.NoError(t, s.Load(context.Background(), DocProviders, model.NewProvidersDocument(), &out))
	require.Empty(t, out.Providers)

	_, found, err := preferred.Load(context.Background(), DocProviders)
	require.NoError(t, err)
	require.True(t, found)
}

func TestStoreSaveSucceedsIfOnlyOneBackendAcknowledges(t *testing.T) {
	preferred, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	s := New(preferred, brokenBackend{}, nil, nil)

	err = s.Save(context.Background(), DocProviders, model.NewProvidersDocument())
	require.NoError(t, err)
}

func TestStoreSaveFailsWhenBothBackendsFail(t *testing.T) {
	s := New(brokenBackend{}, brokenBackend{}, nil, nil)

	err := s.Save(context.Background(), DocProviders, model.NewProvidersDocument())
	require.Error(t, err)
}

func TestStoreSaveTriggersCatalogRefreshHook(t *testing.T) {
	preferred, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	refreshed := make(chan struct{}, 1)
	s := New(preferred, nil, nil, func(context.Context) {
		refreshed <- struct{}{}
	})

	require.NoError(t, s.Save(context.Background(), DocProviders, model.NewProvidersDocument()))

	select {
	case <-refreshed:
	case <-timeAfterShort():
		t.Fatal("expected catalog refresh hook to fire")
	}
}
