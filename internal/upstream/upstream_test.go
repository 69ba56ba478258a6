package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsAdapterByKind(t *testing.T) {
	generic, err := New(KindGeneric, "p1", "https://api.example.com/v1", "key")
	require.NoError(t, err)
	assert.IsType(t, &genericClient{}, generic)

	google, err := New(KindGoogle, "p2", "https://generativelanguage.googleapis.com/v1beta", "key")
	require.NoError(t, err)
	assert.IsType(t, &googleClient{}, google)

	defaulted, err := New("", "p3", "https://api.example.com/v1", "key")
	require.NoError(t, err)
	assert.IsType(t, &genericClient{}, defaulted)
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New("mystery", "p1", "", "key")
	assert.Error(t, err)
}

func TestSplitBaseURLAndVersion(t *testing.T) {
	base, ver := splitBaseURLAndVersion("https://generativelanguage.googleapis.com/v1beta")
	assert.Equal(t, "https://generativelanguage.googleapis.com/", base)
	assert.Equal(t, "v1beta", ver)

	base, ver = splitBaseURLAndVersion("https://generativelanguage.googleapis.com")
	assert.Equal(t, "https://generativelanguage.googleapis.com", base)
	assert.Empty(t, ver)
}

func TestErrorImplementsHTTPStatus(t *testing.T) {
	err := &Error{Provider: "p1", StatusCode: 502, Message: "boom"}
	assert.Equal(t, 502, err.HTTPStatus())
	assert.Contains(t, err.Error(), "p1")
}
