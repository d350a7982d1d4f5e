// Package public serves the marketing pages, request tracking and the
// onboarding form.
package public

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/blockadesystems/creditportal/internal/auth"
	"github.com/blockadesystems/creditportal/internal/backend"
	"github.com/blockadesystems/creditportal/internal/config"
	"github.com/blockadesystems/creditportal/internal/flash"
	"github.com/blockadesystems/creditportal/internal/onboarding"
	"github.com/blockadesystems/creditportal/internal/pagerender"
	"github.com/blockadesystems/creditportal/internal/tracking"
)

// logger is resolved from the global on each call so it follows
// zap.ReplaceGlobals in main.
func logger() *zap.Logger {
	return zap.L().With(zap.String("package", "public"))
}

// ContextOnboarding is the context key of the *onboarding.Service.
const ContextOnboarding = "onboarding"

type testimonialsData struct {
	Testimonials []Testimonial
}

type contactData struct {
	Form   onboarding.ContactForm
	Errors onboarding.FieldErrors
}

type trackData struct {
	TrackingID string
	Error      string
	View       *tracking.View
}

type healthResponse struct {
	Status   string   `json:"status"`
	Problems []string `json:"problems,omitempty"`
}

func requestLogger(c echo.Context, handler string) *zap.Logger {
	l, ok := c.Get("logger").(*zap.Logger)
	if !ok {
		l = logger()
	}
	return l.With(zap.String("handler", handler))
}

func onboardingService(c echo.Context) (*onboarding.Service, error) {
	svc, ok := c.Get(ContextOnboarding).(*onboarding.Service)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "Onboarding is unavailable")
	}
	return svc, nil
}

// HandleHome renders the landing page.
func HandleHome(c echo.Context) error {
	featured := Testimonials()
	if len(featured) > featuredTestimonials {
		featured = featured[:featuredTestimonials]
	}
	return pagerender.Write(c, http.StatusOK, "home", "Credit repair", testimonialsData{Testimonials: featured})
}

// HandleAbout renders the about page.
func HandleAbout(c echo.Context) error {
	return pagerender.Write(c, http.StatusOK, "about", "About us", nil)
}

// HandleTestimonials renders every client story.
func HandleTestimonials(c echo.Context) error {
	return pagerender.Write(c, http.StatusOK, "testimonials", "Client stories", testimonialsData{Testimonials: Testimonials()})
}

// HandleContactForm renders the empty contact form.
func HandleContactForm(c echo.Context) error {
	return pagerender.Write(c, http.StatusOK, "contact", "Contact us", contactData{})
}

// HandleContactSubmit validates the contact form. Valid messages are logged
// without their content and acknowledged with a toast.
func HandleContactSubmit(c echo.Context) error {
	reqLogger := requestLogger(c, "HandleContactSubmit")
	svc, err := onboardingService(c)
	if err != nil {
		return err
	}

	var form onboarding.ContactForm
	if err := c.Bind(&form); err != nil {
		reqLogger.Warn("Failed to bind contact form", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "The form could not be read. Please try again.")
	}
	form.Name = strings.TrimSpace(form.Name)
	form.Email = strings.TrimSpace(form.Email)
	form.Phone = strings.TrimSpace(form.Phone)
	form.Message = strings.TrimSpace(form.Message)

	if fields := svc.Validator().Check(form); len(fields) > 0 {
		return pagerender.Write(c, http.StatusUnprocessableEntity, "contact", "Contact us", contactData{Form: form, Errors: fields})
	}

	reqLogger.Info("Contact message received", zap.Int("message_length", len(form.Message)), zap.Bool("has_phone", form.Phone != ""))
	flash.Write(c, flash.Success("Thanks for reaching out. A specialist will reply within one business day."))
	return c.Redirect(http.StatusSeeOther, "/contact")
}

// HandleHealth reports liveness plus any configuration problems.
func HandleHealth(c echo.Context) error {
	resp := healthResponse{Status: "ok"}
	if cfg, ok := c.Get("cfg").(*config.Config); ok {
		if resp.Problems = cfg.Problems(); len(resp.Problems) > 0 {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleTrackForm renders the tracking lookup form. A trackingId query
// parameter redirects to the request's tracking page.
func HandleTrackForm(c echo.Context) error {
	if id := strings.TrimSpace(c.QueryParam("trackingId")); id != "" {
		return c.Redirect(http.StatusSeeOther, "/track/"+url.PathEscape(id))
	}
	return pagerender.Write(c, http.StatusOK, "track", "Track your request", trackData{})
}

// HandleTrack renders the status timeline of one request.
func HandleTrack(c echo.Context) error {
	reqLogger := requestLogger(c, "HandleTrack")
	id := strings.TrimSpace(c.Param("trackingId"))

	view, err := lookup(c, id)
	if err != nil {
		status := backend.HTTPStatus(err)
		msg := trackErrorMessage(err)
		if status >= http.StatusInternalServerError {
			reqLogger.Error("Failed to fetch tracking snapshot", zap.String("tracking_id", id), zap.Error(err))
		}
		return pagerender.Write(c, status, "track", "Track your request", trackData{TrackingID: id, Error: msg})
	}
	return pagerender.Write(c, http.StatusOK, "track", "Track your request", trackData{TrackingID: id, View: view})
}

// HandleTrackJSON returns the derived status view as JSON.
func HandleTrackJSON(c echo.Context) error {
	reqLogger := requestLogger(c, "HandleTrackJSON")
	id := strings.TrimSpace(c.Param("trackingId"))

	view, err := lookup(c, id)
	if err != nil {
		status := backend.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			reqLogger.Error("Failed to fetch tracking snapshot", zap.String("tracking_id", id), zap.Error(err))
		}
		return echo.NewHTTPError(status, trackErrorMessage(err))
	}
	return c.JSON(http.StatusOK, view)
}

var errNoBackend = errors.New("public: backend missing from request context")

func lookup(c echo.Context, id string) (*tracking.View, error) {
	if id == "" {
		return nil, &backend.APIError{Status: http.StatusBadRequest, Message: "Enter your tracking ID."}
	}
	api := auth.API(c)
	if api == nil {
		return nil, errNoBackend
	}
	snap, err := api.Track(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	view := tracking.DeriveView(*snap)
	return &view, nil
}

func trackErrorMessage(err error) string {
	if backend.IsNotFound(err) {
		return "We couldn't find a request with that tracking ID. Check the ID in your confirmation and try again."
	}
	return backend.UserMessage(err)
}
