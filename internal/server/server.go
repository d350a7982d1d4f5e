// Package server assembles the echo application: shared middleware, error
// pages and routes.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/blockadesystems/creditportal/internal/auth"
	"github.com/blockadesystems/creditportal/internal/backend"
	"github.com/blockadesystems/creditportal/internal/config"
	"github.com/blockadesystems/creditportal/internal/management"
	"github.com/blockadesystems/creditportal/internal/onboarding"
	"github.com/blockadesystems/creditportal/internal/pagerender"
	"github.com/blockadesystems/creditportal/internal/public"
)

// logger is resolved from the global on each call so it follows
// zap.ReplaceGlobals in main.
func logger() *zap.Logger {
	return zap.L().With(zap.String("package", "server"))
}

type errorData struct {
	Status  int
	Message string
}

// ApplyCommonMiddleware applies essential middleware to an Echo instance.
// It injects dependencies into the context.
func ApplyCommonMiddleware(e *echo.Echo, cfg *config.Config, api backend.Backend, svc *onboarding.Service, renderer *pagerender.Renderer, baseLogger *zap.Logger) {
	e.HideBanner = true
	e.Renderer = renderer
	e.HTTPErrorHandler = errorHandler(baseLogger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))
	// Two documents plus the form fields.
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dK", (2*cfg.MaxUploadBytes)>>10+1024)))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		ReferrerPolicy:     "same-origin",
	}))

	// Middleware to set context values
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			reqLogger := baseLogger.With(zap.String("request_id", reqID))

			c.Set("cfg", cfg)
			c.Set(auth.ContextAPI, api)
			c.Set(public.ContextOnboarding, svc)
			c.Set("logger", reqLogger)
			return next(c)
		}
	})
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			l, ok := c.Get("logger").(*zap.Logger)
			if !ok {
				l = baseLogger
			}
			l.Info("request",
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
}

// SetupRouter defines all routes of the portal.
func SetupRouter(e *echo.Echo) {
	// Public pages
	e.GET("/", public.HandleHome)
	e.GET("/about", public.HandleAbout)
	e.GET("/testimonials", public.HandleTestimonials)
	e.GET("/contact", public.HandleContactForm)
	e.POST("/contact", public.HandleContactSubmit)
	e.GET("/track", public.HandleTrackForm)
	e.GET("/track/:trackingId", public.HandleTrack)
	e.GET("/get-started", public.HandleGetStartedForm)
	e.POST("/get-started", public.HandleGetStartedSubmit)
	e.GET("/healthz", public.HandleHealth)

	apiGroup := e.Group("/api")
	apiGroup.GET("/track/:trackingId", public.HandleTrackJSON)

	// Admin session routes stay outside the authenticated group.
	e.GET(auth.LoginPath, management.HandleLoginForm)
	e.POST(auth.LoginPath, management.HandleLogin)
	e.POST("/admin/logout", management.HandleLogout)

	adminGroup := e.Group("/admin", auth.Middleware)
	adminGroup.GET("", management.HandleDashboard)
	adminGroup.GET("/", management.HandleDashboard)
	adminGroup.GET("/requests", management.HandleListRequests)
	adminGroup.GET("/requests/export.csv", management.HandleExportRequests)
	adminGroup.GET("/requests/:id", management.HandleGetRequest)
	adminGroup.POST("/requests/:id/status", management.HandleUpdateStatus)
	adminGroup.GET("/customers", management.HandleListCustomers)
	adminGroup.GET("/customers/:id", management.HandleGetCustomer)
	adminGroup.GET("/customers/:id/referrals", management.HandleCustomerReferrals)
	adminGroup.POST("/customers/:id/referrals/apply", management.HandleApplyReferral)
	adminGroup.GET("/referrals", management.HandleReferralStatistics)
}

// errorHandler renders failures as the error page, or as JSON under /api.
func errorHandler(baseLogger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := http.StatusInternalServerError
		msg := "Something went wrong on our side. Please try again."
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			if m, ok := he.Message.(string); ok && m != "" {
				msg = m
			} else {
				msg = http.StatusText(status)
			}
		}
		if status == http.StatusNotFound && (he == nil || he.Message == http.StatusText(http.StatusNotFound)) {
			msg = "We couldn't find the page you were looking for."
		}

		l, ok := c.Get("logger").(*zap.Logger)
		if !ok {
			l = baseLogger
		}
		if status >= http.StatusInternalServerError {
			l.Error("request failed", zap.Int("status", status), zap.Error(err))
		}

		var werr error
		switch {
		case c.Request().Method == http.MethodHead:
			werr = c.NoContent(status)
		case strings.HasPrefix(c.Request().URL.Path, "/api/"):
			werr = c.JSON(status, map[string]string{"message": msg})
		default:
			werr = pagerender.Write(c, status, "error", http.StatusText(status), errorData{Status: status, Message: msg})
			if werr != nil {
				werr = c.String(status, msg)
			}
		}
		if werr != nil {
			l.Error("failed to write error response", zap.Error(werr))
		}
	}
}
