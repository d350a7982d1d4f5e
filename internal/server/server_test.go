package server_test

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockadesystems/creditportal/internal/config"
	"github.com/blockadesystems/creditportal/internal/server"
	"github.com/blockadesystems/creditportal/internal/testutils"
)

func TestErrorPages(t *testing.T) {
	serverInstance, _ := testutils.SetupTestServer(t)
	testServer := httptest.NewServer(serverInstance)
	defer testServer.Close()

	t.Run("html for pages", func(t *testing.T) {
		resp, err := testServer.Client().Get(testServer.URL + "/missing")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
		assert.Contains(t, string(body), "Reference: "+resp.Header.Get("X-Request-Id"))
	})

	t.Run("json under api", func(t *testing.T) {
		resp, err := testServer.Client().Get(testServer.URL + "/api/missing")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	})

	t.Run("security headers", func(t *testing.T) {
		resp, err := testServer.Client().Get(testServer.URL + "/")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	})
}

func TestConfigBanner(t *testing.T) {
	serverInstance, _ := testutils.SetupTestServer(t)
	testServer := httptest.NewServer(serverInstance)
	defer testServer.Close()

	// SetupTestServer fills payment settings, so no banner is expected.
	resp, err := testServer.Client().Get(testServer.URL + "/about")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.NotContains(t, string(body), "Configuration problem")
}

func TestEnsureHTTPSCertificates(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		HTTPSCertFile: filepath.Join(dir, "tls", "https.crt"),
		HTTPSKeyFile:  filepath.Join(dir, "tls", "https.key"),
		CommonName:    "portal.test",
	}

	certFile, keyFile, err := server.EnsureHTTPSCertificates(cfg)
	require.NoError(t, err)
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)
	require.NotNil(t, pair.Leaf)
	assert.Equal(t, "portal.test", pair.Leaf.Subject.CommonName)
	assert.Equal(t, []string{"portal.test", "localhost"}, pair.Leaf.DNSNames)
	assert.Equal(t, x509.ECDSA, pair.Leaf.PublicKeyAlgorithm)
	require.NoError(t, pair.Leaf.VerifyHostname("127.0.0.1"))

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	before, err := os.ReadFile(certFile)
	require.NoError(t, err)
	_, _, err = server.EnsureHTTPSCertificates(cfg)
	require.NoError(t, err)
	after, err := os.ReadFile(certFile)
	require.NoError(t, err)
	assert.Equal(t, before, after, "existing pair is reused")

	require.NoError(t, os.Remove(certFile))
	_, _, err = server.EnsureHTTPSCertificates(cfg)
	assert.ErrorContains(t, err, "key file exists but cert file does not")
}
