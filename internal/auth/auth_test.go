package auth_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockadesystems/creditportal/internal/auth"
	"github.com/blockadesystems/creditportal/internal/backend"
	"github.com/blockadesystems/creditportal/internal/flash"
	"github.com/blockadesystems/creditportal/internal/model"
	"github.com/blockadesystems/creditportal/internal/testutils"
)

func cookiesFrom(rec *httptest.ResponseRecorder) []*http.Cookie {
	return (&http.Response{Header: rec.Header()}).Cookies()
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, ok, err := auth.TokenExpiry(testutils.MintToken(t, exp))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, _, err = auth.TokenExpiry("opaque-token")
	assert.Error(t, err)
}

func TestSessionRoundTrip(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/admin/login", nil), rec)

	token := testutils.MintToken(t, time.Now().Add(time.Hour))
	require.NoError(t, auth.WriteSession(c, &model.AuthResponse{
		Token: token,
		User:  model.AdminUser{ID: "u1", Email: "ops@example.com", Name: "Ops"},
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	for _, ck := range cookiesFrom(rec) {
		req.AddCookie(ck)
	}
	sess, err := auth.ReadSession(e.NewContext(req, httptest.NewRecorder()))
	require.NoError(t, err)
	assert.Equal(t, token, sess.Token)
	assert.Equal(t, "Ops", sess.User.DisplayName())
	assert.False(t, sess.Expires.IsZero())
}

func TestReadSession_Expired(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(&http.Cookie{Name: auth.TokenCookie, Value: testutils.MintToken(t, time.Now().Add(-time.Minute))})
	_, err := auth.ReadSession(echo.New().NewContext(req, httptest.NewRecorder()))
	assert.ErrorIs(t, err, auth.ErrExpired)
}

func newAdminEcho(t *testing.T, base backend.Backend) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(auth.ContextAPI, base)
			return next(c)
		}
	})
	g := e.Group("/admin", auth.Middleware)
	g.GET("/stats", func(c echo.Context) error {
		stats, err := auth.API(c).ReferralStatistics(c.Request().Context())
		if handled, herr := auth.HandleUnauthorized(c, err); handled {
			return herr
		}
		if err != nil {
			return err
		}
		user, _ := auth.CurrentUser(c)
		return c.String(http.StatusOK, fmt.Sprintf("%s:%d", user.Email, stats.TotalReferrals))
	})
	return e
}

func TestMiddleware(t *testing.T) {
	api := testutils.SetupFakeAPI(t)
	e := newAdminEcho(t, api.Client(t))

	t.Run("no session redirects to login", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/stats?page=2", nil))
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/admin/login?next=%2Fadmin%2Fstats%3Fpage%3D2", rec.Header().Get("Location"))
	})

	t.Run("valid session binds credential", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
		req.AddCookie(&http.Cookie{Name: auth.TokenCookie, Value: api.Token()})
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, ":4", rec.Body.String())
	})

	t.Run("expired session clears cookies", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
		req.AddCookie(&http.Cookie{Name: auth.TokenCookie, Value: testutils.MintToken(t, time.Now().Add(-time.Hour))})
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		names := map[string]int{}
		for _, ck := range cookiesFrom(rec) {
			names[ck.Name] = ck.MaxAge
		}
		assert.Equal(t, -1, names[auth.TokenCookie])
		assert.Contains(t, names, flash.CookieName)
	})

	t.Run("unknown credential ends session", func(t *testing.T) {
		token := testutils.MintToken(t, time.Now().Add(time.Hour))
		require.NotEqual(t, api.Token(), token)
		req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
		req.AddCookie(&http.Cookie{Name: auth.TokenCookie, Value: token})
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Contains(t, rec.Header().Get("Location"), auth.LoginPath)
	})

	t.Run("revoked credential ends session", func(t *testing.T) {
		token := api.Token()
		api.RevokeToken()
		req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
		req.AddCookie(&http.Cookie{Name: auth.TokenCookie, Value: token})
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Contains(t, rec.Header().Get("Location"), auth.LoginPath)
	})
}

func TestHandleUnauthorized_IgnoresOtherErrors(t *testing.T) {
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/admin", nil), httptest.NewRecorder())
	handled, err := auth.HandleUnauthorized(c, context.DeadlineExceeded)
	assert.False(t, handled)
	assert.NoError(t, err)
}

func TestSafeNext(t *testing.T) {
	cases := map[string]string{
		"/admin/requests?page=2": "/admin/requests?page=2",
		"https://evil.example":   "/admin",
		"//evil.example/admin":   "/admin",
		"/track/CR-1":            "/admin",
		"/admin/login?next=/x":   "/admin",
		"":                       "/admin",
	}
	for in, want := range cases {
		assert.Equal(t, want, auth.SafeNext(in), in)
	}
}
