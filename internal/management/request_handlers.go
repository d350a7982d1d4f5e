package management

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/blockadesystems/creditportal/internal/auth"
	"github.com/blockadesystems/creditportal/internal/backend"
	"github.com/blockadesystems/creditportal/internal/export"
	"github.com/blockadesystems/creditportal/internal/flash"
	"github.com/blockadesystems/creditportal/internal/model"
	"github.com/blockadesystems/creditportal/internal/pagerender"
	"github.com/blockadesystems/creditportal/internal/tracking"
)

const requestsPath = "/admin/requests"

type requestListData struct {
	Items      []model.CreditRepairRequest
	Pagination model.Pagination
	Query      model.ListQuery
	Statuses   []model.StageDefinition
	PrevURL    string
	NextURL    string
	ExportURL  string
}

type requestDetailData struct {
	Request *model.CreditRepairRequest
	View    tracking.View
	Catalog []model.StageDefinition
	History []model.HistoryEntry
}

// HandleListRequests renders one page of requests with the sort, status
// filter and search taken from the query string.
func HandleListRequests(c echo.Context) error {
	reqLogger := requestLogger(c, "HandleListRequests")
	q := requestListQuery(c)

	page, err := auth.API(c).ListRequests(c.Request().Context(), q)
	if err != nil {
		return apiFailure(c, reqLogger, err, "list requests")
	}

	data := requestListData{
		Items:      page.Data,
		Pagination: page.Pagination,
		Query:      q,
		Statuses:   tracking.DefaultCatalog(),
	}
	data.PrevURL, data.NextURL = pagerURLs(requestsPath, q, page.Pagination)
	exportQuery := q
	exportQuery.Page = 0
	data.ExportURL = listURL(requestsPath+"/export.csv", exportQuery)
	return pagerender.Write(c, http.StatusOK, "admin_requests", "Requests", data)
}

// HandleGetRequest renders one request with its timeline and history.
func HandleGetRequest(c echo.Context) error {
	reqLogger := requestLogger(c, "HandleGetRequest")
	id, err := url.PathUnescape(c.Param("id"))
	if err != nil || strings.TrimSpace(id) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request id")
	}

	req, err := auth.API(c).GetRequest(c.Request().Context(), id)
	if err != nil {
		return apiFailure(c, reqLogger.With(zap.String("id", id)), err, "fetch request")
	}

	data := requestDetailData{
		Request: req,
		View:    tracking.DeriveView(req.Snapshot()),
		Catalog: req.AllStatuses,
		History: historyNewestFirst(req.StatusHistory),
	}
	if len(data.Catalog) == 0 {
		data.Catalog = tracking.DefaultCatalog()
	}
	return pagerender.Write(c, http.StatusOK, "admin_request", req.TrackingID, data)
}

// HandleUpdateStatus moves a request to the posted stage.
func HandleUpdateStatus(c echo.Context) error {
	reqLogger := requestLogger(c, "HandleUpdateStatus")
	id, err := url.PathUnescape(c.Param("id"))
	if err != nil || strings.TrimSpace(id) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request id")
	}
	detail := requestsPath + "/" + url.PathEscape(id)

	status, err := strconv.Atoi(c.FormValue("newStatus"))
	if err != nil || !tracking.ValidStatus(status) {
		flash.Write(c, flash.Error("Choose a valid status."))
		return c.Redirect(http.StatusSeeOther, detail)
	}
	notes := strings.TrimSpace(c.FormValue("userNotes"))

	updated, err := auth.API(c).UpdateRequestStatus(c.Request().Context(), id, status, notes)
	if err != nil {
		if handled, herr := auth.HandleUnauthorized(c, err); handled {
			return herr
		}
		reqLogger.Error("Failed to update request status", zap.String("id", id), zap.Int("status", status), zap.Error(err))
		flash.Write(c, flash.Error("The status could not be updated. "+backend.UserMessage(err)))
		return c.Redirect(http.StatusSeeOther, detail)
	}

	label := updated.StatusText
	if label == "" {
		label = tracking.Label(status)
	}
	reqLogger.Info("Request status updated", zap.String("id", id), zap.Int("status", status))
	flash.Write(c, flash.Success(fmt.Sprintf("Status updated to %s.", label)))
	return c.Redirect(http.StatusSeeOther, detail)
}

// HandleExportRequests downloads every request matching the current filters
// as CSV, walking the list page by page.
func HandleExportRequests(c echo.Context) error {
	reqLogger := requestLogger(c, "HandleExportRequests")
	q := requestListQuery(c)
	q.Limit = exportPageSize

	var all []model.CreditRepairRequest
	for q.Page = 1; q.Page <= maxExportPages; q.Page++ {
		page, err := auth.API(c).ListRequests(c.Request().Context(), q)
		if err != nil {
			return apiFailure(c, reqLogger, err, "export requests")
		}
		all = append(all, page.Data...)
		if !page.Pagination.HasNext() || len(page.Data) == 0 {
			break
		}
	}

	var buf bytes.Buffer
	if err := export.WriteRequestsCSV(&buf, all); err != nil {
		reqLogger.Error("Failed to write requests export", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to build export")
	}
	reqLogger.Info("Requests exported", zap.Int("rows", len(all)))
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", export.RequestsFilename(time.Now())))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// historyNewestFirst orders history by timestamp, newest first. Entries whose
// timestamp does not parse sort last in their original order.
func historyNewestFirst(entries []model.HistoryEntry) []model.HistoryEntry {
	out := slices.Clone(entries)
	slices.SortStableFunc(out, func(a, b model.HistoryEntry) int {
		ta, oka := tracking.ParseTimestamp(a.Timestamp)
		tb, okb := tracking.ParseTimestamp(b.Timestamp)
		switch {
		case oka && okb:
			return tb.Compare(ta)
		case oka:
			return -1
		case okb:
			return 1
		default:
			return 0
		}
	})
	return out
}
