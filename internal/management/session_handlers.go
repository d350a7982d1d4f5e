package management

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/blockadesystems/creditportal/internal/auth"
	"github.com/blockadesystems/creditportal/internal/backend"
	"github.com/blockadesystems/creditportal/internal/flash"
	"github.com/blockadesystems/creditportal/internal/pagerender"
)

type loginData struct {
	Email string
	Next  string
	Error string
}

// HandleLoginForm renders the admin sign-in form, or skips it when a session
// is already active.
func HandleLoginForm(c echo.Context) error {
	next := auth.SafeNext(c.QueryParam("next"))
	if _, err := auth.ReadSession(c); err == nil {
		return c.Redirect(http.StatusSeeOther, next)
	}
	return pagerender.Write(c, http.StatusOK, "admin_login", "Admin sign in", loginData{Next: next})
}

// HandleLogin exchanges the posted credentials for an admin session.
func HandleLogin(c echo.Context) error {
	reqLogger := requestLogger(c, "HandleLogin")
	email := strings.ToLower(strings.TrimSpace(c.FormValue("email")))
	password := c.FormValue("password")
	data := loginData{Email: email, Next: auth.SafeNext(c.FormValue("next"))}

	if email == "" || password == "" {
		data.Error = "Enter your email and password."
		return pagerender.Write(c, http.StatusUnprocessableEntity, "admin_login", "Admin sign in", data)
	}

	api := auth.API(c)
	if api == nil {
		reqLogger.Error("Backend missing from request context")
		return echo.NewHTTPError(http.StatusInternalServerError, "Backend unavailable")
	}
	resp, err := api.Login(c.Request().Context(), email, password)
	if err != nil {
		status := backend.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			reqLogger.Error("Admin login failed", zap.Error(err))
		} else {
			reqLogger.Info("Admin login rejected", zap.Int("status", status))
		}
		data.Error = backend.UserMessage(err)
		return pagerender.Write(c, status, "admin_login", "Admin sign in", data)
	}

	if err := auth.WriteSession(c, resp); err != nil {
		reqLogger.Error("Failed to write admin session", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to start session")
	}
	reqLogger.Info("Admin signed in", zap.String("admin_id", resp.User.ID))
	flash.Write(c, flash.Success("Welcome back, "+resp.User.DisplayName()+"."))
	return c.Redirect(http.StatusSeeOther, data.Next)
}

// HandleLogout ends the admin session.
func HandleLogout(c echo.Context) error {
	auth.ClearSession(c)
	flash.Write(c, flash.Info("You have been signed out."))
	return c.Redirect(http.StatusSeeOther, auth.LoginPath)
}
