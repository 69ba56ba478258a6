package restapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gateway/internal/model"
	"github.com/relaygate/gateway/internal/registry"
	"github.com/relaygate/gateway/internal/store"
	"github.com/relaygate/gateway/internal/upstream"
)

type fakeHealthClient struct{ err error }

func (f *fakeHealthClient) Send(ctx context.Context, req upstream.Request) (*upstream.Result, error) {
	return nil, errors.New("not used")
}

func (f *fakeHealthClient) HealthCheck(ctx context.Context) error { return f.err }

func newTestRegistry(t *testing.T, providers ...*model.ProviderRecord) *registry.Registry {
	t.Helper()
	fb, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	s := store.New(fb, nil, nil, nil)
	reg := registry.New(s)
	require.NoError(t, reg.SaveProviders(context.Background(), &model.ProvidersDocument{Providers: providers}))
	return reg
}

func TestHealthCheckerSnapshotAllOK(t *testing.T) {
	reg := newTestRegistry(t, &model.ProviderRecord{ID: "p1", Kind: upstream.KindGeneric})

	hc := &HealthChecker{
		reg:              reg,
		storeReady:       func() bool { return true },
		clientFor:        func(kind, name, endpointURL, apiKey string) (upstream.Client, error) { return &fakeHealthClient{}, nil },
		baseCtx:          context.Background(),
		providerStatuses: make(map[string]string),
		startTime:        time.Now(),
		done:             make(chan struct{}),
	}
	hc.probe()

	snap := hc.Snapshot()
	assert.Equal(t, "ok", snap.Status)
	assert.Equal(t, "ok", snap.Providers["p1"])
	assert.Equal(t, "ok", snap.Store)
	assert.True(t, hc.ReadinessOK())
}

func TestHealthCheckerSnapshotDegradedOnProviderFailure(t *testing.T) {
	reg := newTestRegistry(t, &model.ProviderRecord{ID: "p1", Kind: upstream.KindGeneric})

	hc := &HealthChecker{
		reg:        reg,
		storeReady: func() bool { return true },
		clientFor: func(kind, name, endpointURL, apiKey string) (upstream.Client, error) {
			return &fakeHealthClient{err: errors.New("down")}, nil
		},
		baseCtx:          context.Background(),
		providerStatuses: make(map[string]string),
		startTime:        time.Now(),
		done:             make(chan struct{}),
	}
	hc.probe()

	snap := hc.Snapshot()
	assert.Equal(t, "degraded", snap.Status)
	assert.Equal(t, "degraded", snap.Providers["p1"])
}

func TestHealthCheckerDisabledProviderReportedWithoutProbe(t *testing.T) {
	reg := newTestRegistry(t, &model.ProviderRecord{ID: "p1", Disabled: true})

	hc := &HealthChecker{
		reg:        reg,
		storeReady: func() bool { return true },
		clientFor: func(kind, name, endpointURL, apiKey string) (upstream.Client, error) {
			t.Fatal("clientFor should not be called for a disabled provider")
			return nil, nil
		},
		baseCtx:          context.Background(),
		providerStatuses: make(map[string]string),
		startTime:        time.Now(),
		done:             make(chan struct{}),
	}
	hc.probe()

	assert.Equal(t, "disabled", hc.Snapshot().Providers["p1"])
}

func TestHealthCheckerReadinessFailsWhenStoreDown(t *testing.T) {
	reg := newTestRegistry(t)

	hc := &HealthChecker{
		reg:              reg,
		storeReady:       func() bool { return false },
		clientFor:        func(kind, name, endpointURL, apiKey string) (upstream.Client, error) { return &fakeHealthClient{}, nil },
		baseCtx:          context.Background(),
		providerStatuses: make(map[string]string),
		startTime:        time.Now(),
		done:             make(chan struct{}),
	}
	hc.probe()

	assert.False(t, hc.ReadinessOK())
	assert.Equal(t, "degraded", hc.Snapshot().Status)
}

func TestNewHealthCheckerPanicsOnNilContext(t *testing.T) {
	assert.Panics(t, func() {
		NewHealthChecker(nil, nil, nil, nil)
	})
}

func TestHealthCheckerCloseStopsBackgroundLoop(t *testing.T) {
	hc := NewHealthChecker(context.Background(), nil, func() bool { return true }, nil)
	hc.Close()
}
