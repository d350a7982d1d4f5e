package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockadesystems/creditportal/internal/config"
	"github.com/blockadesystems/creditportal/internal/envelope"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("NEXT_PUBLIC_API_BASE_URL", "")
	t.Setenv("NEXT_PUBLIC_AUTHORIZE_LOGIN_ID", "")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8443", cfg.HTTPSAddress)
	assert.Equal(t, 30*time.Second, cfg.APITimeout)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.True(t, cfg.TLSEnabled)
	assert.Equal(t, envelope.SchemeCBC, cfg.Scheme())
	assert.Len(t, cfg.Problems(), 2, "missing API URL and payment settings are reported, not fatal")
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("NEXT_PUBLIC_API_BASE_URL", "https://api.example.com/v1/")
	t.Setenv("NEXT_PUBLIC_AUTHORIZE_LOGIN_ID", "login")
	t.Setenv("NEXT_PUBLIC_AUTHORIZE_CLIENT_KEY", "client")
	t.Setenv("NEXT_PUBLIC_ACCEPTJS_URL", "https://jstest.authorize.net/v1/Accept.js")
	t.Setenv("PORTAL_TLS_ENABLED", "false")
	t.Setenv("PORTAL_HTTP_ADDRESS", ":9090")
	t.Setenv("PORTAL_API_TIMEOUT", "5s")
	t.Setenv("PORTAL_ENVELOPE_SCHEME", "aes-256-gcm")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/v1", cfg.APIBaseURL)
	assert.Equal(t, ":9090", cfg.ListenAddress())
	assert.Equal(t, 5*time.Second, cfg.APITimeout)
	assert.Equal(t, envelope.SchemeGCM, cfg.Scheme())
	assert.True(t, cfg.PaymentsConfigured())
	assert.Empty(t, cfg.Problems())
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := map[string][2]string{
		"scheme":   {"PORTAL_ENVELOPE_SCHEME", "des"},
		"timeout":  {"PORTAL_API_TIMEOUT", "0s"},
		"duration": {"PORTAL_API_TIMEOUT", "soon"},
		"upload":   {"PORTAL_MAX_UPLOAD_BYTES", "-1"},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := config.LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestProblems_InvalidURL(t *testing.T) {
	cfg := &config.Config{APIBaseURL: "api.example.com", AuthorizeLoginID: "a", AuthorizeClientKey: "b", AcceptJSURL: "c"}
	problems := cfg.Problems()
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "valid absolute URL")
}
