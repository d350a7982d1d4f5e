// Package pagerender centralizes page rendering: embedded templates, the
// shared layout, toasts and the configuration banner.
package pagerender

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/blockadesystems/creditportal/internal/auth"
	"github.com/blockadesystems/creditportal/internal/config"
	"github.com/blockadesystems/creditportal/internal/flash"
	"github.com/blockadesystems/creditportal/internal/model"
	"github.com/blockadesystems/creditportal/internal/tracking"
)

// logger is resolved from the global on each call so it follows
// zap.ReplaceGlobals in main.
func logger() *zap.Logger {
	return zap.L().With(zap.String("package", "pagerender"))
}

//go:embed templates/*.html
var templateFS embed.FS

// Shared templates parsed into every page.
var sharedTemplates = []string{"templates/layout.html", "templates/partials.html"}

// Page is the data handed to every template.
type Page struct {
	Title          string
	Path           string
	Flash          *flash.Notice
	ConfigProblems []string
	Admin          *model.AdminUser
	RequestID      string
	Year           int
	Data           any
}

// Renderer implements echo.Renderer over the embedded templates.
type Renderer struct {
	pages map[string]*template.Template
}

var _ echo.Renderer = (*Renderer)(nil)

// New parses every page template together with the shared layout.
func New() (*Renderer, error) {
	printer := message.NewPrinter(language.AmericanEnglish)
	funcs := Funcs(printer)

	entries, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("pagerender: list templates: %w", err)
	}
	r := &Renderer{pages: map[string]*template.Template{}}
	for _, entry := range entries {
		if isShared(entry) {
			continue
		}
		name := strings.TrimSuffix(path.Base(entry), ".html")
		files := append(append([]string(nil), sharedTemplates...), entry)
		t, err := template.New("layout").Funcs(funcs).ParseFS(templateFS, files...)
		if err != nil {
			return nil, fmt.Errorf("pagerender: parse %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

func isShared(entry string) bool {
	for _, s := range sharedTemplates {
		if s == entry {
			return true
		}
	}
	return false
}

// Has reports whether a page template exists.
func (r *Renderer) Has(name string) bool {
	_, ok := r.pages[name]
	return ok
}

// Render executes the named page inside the layout. The page is rendered to
// a buffer first so a template error never produces half a page.
func (r *Renderer) Render(w io.Writer, name string, data any, c echo.Context) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("pagerender: unknown page %q", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("pagerender: render %s: %w", name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// Write renders a page with the request-scoped chrome filled in: pending
// toast, configuration banner, signed-in admin and request id.
func Write(c echo.Context, status int, name, title string, data any) error {
	page := Page{
		Title:     title,
		Path:      c.Request().URL.Path,
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
		Year:      time.Now().Year(),
		Data:      data,
	}
	if notice, ok := flash.ReadAndClear(c); ok {
		page.Flash = &notice
	}
	if cfg, ok := c.Get("cfg").(*config.Config); ok {
		page.ConfigProblems = cfg.Problems()
	}
	if u, ok := auth.CurrentUser(c); ok {
		page.Admin = &u
	}
	if err := c.Render(status, name, page); err != nil {
		if l, ok := c.Get("logger").(*zap.Logger); ok {
			l.Error("failed to render page", zap.String("page", name), zap.Error(err))
		} else {
			logger().Error("failed to render page", zap.String("page", name), zap.Error(err))
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to render page")
	}
	return nil
}

// Funcs returns the template helpers, formatting numbers with printer.
func Funcs(printer *message.Printer) template.FuncMap {
	return template.FuncMap{
		"number": func(n int) string { return printer.Sprintf("%d", n) },
		"percent": func(f float64) string {
			return printer.Sprintf("%.0f%%", f)
		},
		"date": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.UTC().Format("Jan 2, 2006")
		},
		"datetime": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.UTC().Format("Jan 2, 2006 3:04 PM MST")
		},
		"rawdate": func(raw string) string {
			if t, ok := tracking.ParseTimestamp(raw); ok {
				return t.UTC().Format("Jan 2, 2006")
			}
			return raw
		},
		"rawdatetime": func(raw string) string {
			if t, ok := tracking.ParseTimestamp(raw); ok {
				return t.UTC().Format("Jan 2, 2006 3:04 PM MST")
			}
			return raw
		},
		"statusLabel": tracking.Label,
		"bytes": func(n int64) string {
			switch {
			case n >= 1<<20:
				return printer.Sprintf("%.1f MB", float64(n)/(1<<20))
			case n >= 1<<10:
				return printer.Sprintf("%.0f KB", float64(n)/(1<<10))
			default:
				return printer.Sprintf("%d B", n)
			}
		},
	}
}
