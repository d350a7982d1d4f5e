package testutils

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest"

	"github.com/blockadesystems/creditportal/internal/auth"
	"github.com/blockadesystems/creditportal/internal/config"
	"github.com/blockadesystems/creditportal/internal/onboarding"
	"github.com/blockadesystems/creditportal/internal/pagerender"
	"github.com/blockadesystems/creditportal/internal/server"
)

// SetupTestServer initializes all components needed to run the Echo app for
// testing against a FakeAPI. Payment settings are filled so the onboarding
// form renders its card fields; cookies are not marked Secure so they
// survive plain-HTTP test servers.
func SetupTestServer(t *testing.T) (*echo.Echo, *FakeAPI) {
	t.Helper()

	// Use zaptest logger which integrates with go test logging
	testLogger := zaptest.NewLogger(t)

	fake := SetupFakeAPI(t)

	// 1. Load config from a controlled environment
	t.Setenv("NEXT_PUBLIC_API_BASE_URL", fake.Server.URL)
	t.Setenv("NEXT_PUBLIC_AUTHORIZE_LOGIN_ID", "test-login")
	t.Setenv("NEXT_PUBLIC_AUTHORIZE_CLIENT_KEY", "test-client-key")
	t.Setenv("NEXT_PUBLIC_ACCEPTJS_URL", "https://jstest.authorize.net/v1/Accept.js")
	t.Setenv("PORTAL_TLS_ENABLED", "false")
	t.Setenv("PORTAL_SECURE_COOKIES", "false")
	t.Setenv("PORTAL_API_TIMEOUT", "2s")
	t.Setenv("PORTAL_DATA_DIR", t.TempDir())

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("Failed to load config for test: %v", err)
	}

	// 2. Build the backend client, onboarding service and renderer
	api := fake.Client(t)
	svc := onboarding.NewService(api, cfg.Scheme(), cfg.MaxUploadBytes)
	renderer, err := pagerender.New()
	if err != nil {
		t.Fatalf("Failed to parse templates for test: %v", err)
	}

	// 3. Create the Echo instance with middleware and routes
	e := echo.New()
	server.ApplyCommonMiddleware(e, cfg, api, svc, renderer, testLogger)
	server.SetupRouter(e)
	return e, fake
}

// NoRedirectClient returns a client that surfaces redirects instead of
// following them, so tests can assert on Location and Set-Cookie.
func NoRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
}

// SessionCookie returns an admin session cookie holding the fake API's token.
func (f *FakeAPI) SessionCookie() *http.Cookie {
	return &http.Cookie{Name: auth.TokenCookie, Value: f.Token()}
}
