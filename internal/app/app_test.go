package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gateway/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:                 0,
		LogLevel:             "error",
		DataSourcePreference: config.DataSourceFilesystem,
		DataDir:              t.TempDir(),
		TiersFile:            t.TempDir() + "/missing-tiers.yaml",
		Admin:                config.AdminConfig{UserID: "admin", APIKey: "admin-key"},
		CORSOrigins:          []string{"*"},
	}
}

func TestNewRejectsNilContext(t *testing.T) {
	_, err := New(nil, testConfig(t), slog.Default(), "test")
	require.Error(t, err)
}

func TestNewWiresAllSubsystemsFilesystemOnly(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), slog.Default(), "test")
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.st)
	assert.NotNil(t, a.reg)
	assert.NotNil(t, a.authSvc)
	assert.NotNil(t, a.limiter)
	assert.NotNil(t, a.router)
	assert.NotNil(t, a.met)
	assert.NotNil(t, a.usage)
	assert.NotNil(t, a.health)
	assert.NotNil(t, a.rest)
	assert.NotNil(t, a.ws)
	assert.Nil(t, a.redisBackend)
}

func TestNewSeedsAdminUser(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), slog.Default(), "test")
	require.NoError(t, err)
	defer a.Close()

	user, _, err := a.authSvc.Validate(context.Background(), "admin-key")
	require.NoError(t, err)
	assert.Equal(t, "admin", user.UserID)
	assert.Equal(t, "admin", user.Role)
}

func TestCloseIsIdempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), slog.Default(), "test")
	require.NoError(t, err)

	a.Close()
	a.Close()
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "redis://***@localhost:6379", redactURL("redis://:secret@localhost:6379"))
	assert.Equal(t, "redis://localhost:6379", redactURL("redis://localhost:6379"))
}
