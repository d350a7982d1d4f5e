// Package auth keeps the admin session in cookies and binds the admin
// credential to backend calls made on behalf of a request.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/blockadesystems/creditportal/internal/backend"
	"github.com/blockadesystems/creditportal/internal/config"
	"github.com/blockadesystems/creditportal/internal/flash"
	"github.com/blockadesystems/creditportal/internal/model"
)

// logger is resolved from the global on each call so it follows
// zap.ReplaceGlobals in main.
func logger() *zap.Logger {
	return zap.L().With(zap.String("package", "auth"))
}

const (
	TokenCookie = "admin_token"
	UserCookie  = "admin_user"

	// LoginPath is where unauthenticated admin requests are sent.
	LoginPath = "/admin/login"

	// Context keys.
	ContextAPI  = "api"
	ContextUser = "adminUser"

	defaultSessionTTL = 24 * time.Hour
)

var (
	ErrNoSession = errors.New("auth: no admin session")
	ErrExpired   = errors.New("auth: admin session expired")
)

// The API signs with one of these; the signature is never verified here.
var acceptedAlgs = []jose.SignatureAlgorithm{
	jose.HS256, jose.HS384, jose.HS512,
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.EdDSA,
}

// Session is the admin login state persisted in cookies.
type Session struct {
	Token   string
	User    model.AdminUser
	Expires time.Time // Zero when the token carries no expiry
}

// TokenExpiry reads the exp claim of a JWT without verifying it. The API
// remains the authority; this only lets the portal drop a stale session
// before making a doomed call. ok is false when the token has no exp.
func TokenExpiry(token string) (exp time.Time, ok bool, err error) {
	parsed, err := jwt.ParseSigned(token, acceptedAlgs)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("auth: parse token: %w", err)
	}
	var claims jwt.Claims
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return time.Time{}, false, fmt.Errorf("auth: read token claims: %w", err)
	}
	if claims.Expiry == nil {
		return time.Time{}, false, nil
	}
	return claims.Expiry.Time(), true, nil
}

// WriteSession stores the login response in the admin cookies.
func WriteSession(c echo.Context, resp *model.AuthResponse) error {
	exp, ok, err := TokenExpiry(resp.Token)
	if err != nil {
		// Opaque tokens are allowed; fall back to a fixed lifetime.
		exp, ok = time.Now().Add(defaultSessionTTL), true
	}
	userJSON, err := json.Marshal(resp.User)
	if err != nil {
		return fmt.Errorf("auth: encode admin user: %w", err)
	}

	secure := secureCookies(c)
	for name, value := range map[string]string{
		TokenCookie: resp.Token,
		UserCookie:  base64.RawURLEncoding.EncodeToString(userJSON),
	} {
		ck := &http.Cookie{
			Name:     name,
			Value:    value,
			Path:     "/",
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		}
		if ok {
			ck.Expires = exp
		}
		c.SetCookie(ck)
	}
	return nil
}

// ReadSession returns the current session. Expired tokens yield ErrExpired.
func ReadSession(c echo.Context) (*Session, error) {
	tc, err := c.Cookie(TokenCookie)
	if err != nil || strings.TrimSpace(tc.Value) == "" {
		return nil, ErrNoSession
	}
	s := &Session{Token: tc.Value}
	if exp, ok, err := TokenExpiry(s.Token); err == nil && ok {
		s.Expires = exp
		if !exp.After(time.Now()) {
			return nil, ErrExpired
		}
	}
	if uc, err := c.Cookie(UserCookie); err == nil {
		if raw, err := base64.RawURLEncoding.DecodeString(uc.Value); err == nil {
			_ = json.Unmarshal(raw, &s.User)
		}
	}
	return s, nil
}

// ClearSession expires both admin cookies.
func ClearSession(c echo.Context) {
	secure := secureCookies(c)
	for _, name := range []string{TokenCookie, UserCookie} {
		c.SetCookie(&http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
		})
	}
}

// Middleware requires an admin session. It replaces the anonymous API in the
// context with one bound to the session's credential.
func Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqLogger := requestLogger(c)
		sess, err := ReadSession(c)
		switch {
		case errors.Is(err, ErrExpired):
			reqLogger.Info("admin session expired")
			ClearSession(c)
			flash.Write(c, flash.Warning("Your session has expired. Please sign in again."))
			return redirectToLogin(c)
		case err != nil:
			return redirectToLogin(c)
		}

		base, ok := c.Get(ContextAPI).(backend.Backend)
		if !ok {
			reqLogger.Error("backend missing from request context")
			return echo.NewHTTPError(http.StatusInternalServerError, "Backend unavailable")
		}
		c.Set(ContextAPI, base.WithCredential(sess.Token))
		c.Set(ContextUser, sess.User)
		return next(c)
	}
}

// API returns the backend bound to the current request.
func API(c echo.Context) backend.Backend {
	api, _ := c.Get(ContextAPI).(backend.Backend)
	return api
}

// CurrentUser returns the signed-in admin, if any.
func CurrentUser(c echo.Context) (model.AdminUser, bool) {
	u, ok := c.Get(ContextUser).(model.AdminUser)
	return u, ok
}

// HandleUnauthorized ends the session when err says the API rejected the
// credential. It reports whether it wrote a response.
func HandleUnauthorized(c echo.Context, err error) (bool, error) {
	if !errors.Is(err, backend.ErrUnauthorized) {
		return false, nil
	}
	requestLogger(c).Info("API rejected admin credential; clearing session")
	ClearSession(c)
	flash.Write(c, flash.Warning("Your session has ended. Please sign in again."))
	return true, redirectToLogin(c)
}

// SafeNext returns raw when it is a local admin path, otherwise the dashboard.
func SafeNext(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" || strings.HasPrefix(raw, "//") || strings.Contains(raw, "\\") {
		return "/admin"
	}
	if !strings.HasPrefix(u.Path, "/admin") || strings.HasPrefix(u.Path, LoginPath) {
		return "/admin"
	}
	return u.RequestURI()
}

func redirectToLogin(c echo.Context) error {
	target := LoginPath
	if c.Request().Method == http.MethodGet {
		target += "?next=" + url.QueryEscape(c.Request().URL.RequestURI())
	}
	return c.Redirect(http.StatusSeeOther, target)
}

func secureCookies(c echo.Context) bool {
	if cfg, ok := c.Get("cfg").(*config.Config); ok {
		return cfg.SecureCookies
	}
	return c.Scheme() == "https"
}

func requestLogger(c echo.Context) *zap.Logger {
	if l, ok := c.Get("logger").(*zap.Logger); ok {
		return l.With(zap.String("package", "auth"))
	}
	return logger()
}
