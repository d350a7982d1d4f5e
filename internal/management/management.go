// Package management serves the admin console: session, dashboard, request
// and customer management, referral statistics and exports.
package management

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/blockadesystems/creditportal/internal/auth"
	"github.com/blockadesystems/creditportal/internal/backend"
	"github.com/blockadesystems/creditportal/internal/model"
	"github.com/blockadesystems/creditportal/internal/tracking"
)

// logger is resolved from the global on each call so it follows
// zap.ReplaceGlobals in main.
func logger() *zap.Logger {
	return zap.L().With(zap.String("package", "management"))
}

const (
	// PageSize is the number of rows on an admin list page.
	PageSize = 20
	// exportPageSize is the page size used when walking a list for export.
	exportPageSize = 100
	// maxExportPages bounds an export walk against a backend that never
	// reports a last page.
	maxExportPages = 500
)

// Sortable fields of the request list.
var requestSortFields = map[string]bool{"createdAt": true, "updatedAt": true, "status": true, "lastName": true}

func requestLogger(c echo.Context, handler string) *zap.Logger {
	l, ok := c.Get("logger").(*zap.Logger)
	if !ok {
		l = logger()
	}
	return l.With(zap.String("handler", handler))
}

// apiFailure turns a failed backend call into the handler's response. A
// rejected credential ends the session; anything else becomes an HTTP error
// carrying a message safe to show.
func apiFailure(c echo.Context, reqLogger *zap.Logger, err error, what string) error {
	if handled, herr := auth.HandleUnauthorized(c, err); handled {
		return herr
	}
	status := backend.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		reqLogger.Error("Failed to "+what, zap.Error(err))
	} else {
		reqLogger.Info("API refused to "+what, zap.Int("status", status), zap.Error(err))
	}
	return echo.NewHTTPError(status, backend.UserMessage(err))
}

// requestListQuery reads the request list parameters, falling back to the
// newest-first default for anything unrecognised.
func requestListQuery(c echo.Context) model.ListQuery {
	q := model.ListQuery{
		Page:      positiveInt(c.QueryParam("page"), 1),
		Limit:     PageSize,
		SortBy:    c.QueryParam("sortBy"),
		SortOrder: strings.ToLower(c.QueryParam("sortOrder")),
		Search:    strings.TrimSpace(c.QueryParam("search")),
	}
	if !requestSortFields[q.SortBy] {
		q.SortBy = "createdAt"
	}
	if q.SortOrder != "asc" {
		q.SortOrder = "desc"
	}
	if status, err := strconv.Atoi(c.QueryParam("filterStatus")); err == nil && tracking.ValidStatus(status) {
		q.FilterStatus = status
	}
	return q
}

func customerListQuery(c echo.Context) model.ListQuery {
	return model.ListQuery{
		Page:   positiveInt(c.QueryParam("page"), 1),
		Limit:  PageSize,
		Search: strings.TrimSpace(c.QueryParam("search")),
	}
}

func positiveInt(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}

// listURL renders q as a link to base, keeping only non-default parameters.
func listURL(base string, q model.ListQuery) string {
	v := url.Values{}
	if q.Page > 1 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.SortBy != "" && q.SortBy != "createdAt" {
		v.Set("sortBy", q.SortBy)
	}
	if q.SortOrder == "asc" {
		v.Set("sortOrder", q.SortOrder)
	}
	if q.FilterStatus > 0 {
		v.Set("filterStatus", strconv.Itoa(q.FilterStatus))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if len(v) == 0 {
		return base
	}
	return base + "?" + v.Encode()
}

// pagerURLs returns the previous and next page links, empty at either end.
func pagerURLs(base string, q model.ListQuery, p model.Pagination) (prev, next string) {
	if p.HasPrev() {
		pq := q
		pq.Page = p.Page - 1
		prev = listURL(base, pq)
	}
	if p.HasNext() {
		nq := q
		nq.Page = p.Page + 1
		next = listURL(base, nq)
	}
	return prev, next
}
