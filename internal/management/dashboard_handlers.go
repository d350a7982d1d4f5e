package management

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blockadesystems/creditportal/internal/auth"
	"github.com/blockadesystems/creditportal/internal/model"
	"github.com/blockadesystems/creditportal/internal/pagerender"
	"github.com/blockadesystems/creditportal/internal/tracking"
)

// recentRequests is how many requests the dashboard lists.
const recentRequests = 5

// StatusCount is the number of requests currently at one stage.
type StatusCount struct {
	Status int
	Label  string
	Count  int
}

type dashboardData struct {
	Counts         []StatusCount
	TotalRequests  int
	TotalCustomers int
	Stats          *model.ReferralStatistics
	Recent         []model.CreditRepairRequest
	Warnings       []string
}

// HandleDashboard renders per-stage counts, totals, the latest requests and
// the referral summary. The counts come from one filtered list call per
// stage, made concurrently. Referral statistics are optional: their failure
// shows a warning instead of failing the page.
func HandleDashboard(c echo.Context) error {
	reqLogger := requestLogger(c, "HandleDashboard")
	api := auth.API(c)

	catalog := tracking.DefaultCatalog()
	data := dashboardData{Counts: make([]StatusCount, len(catalog))}

	g, ctx := errgroup.WithContext(c.Request().Context())
	for i, def := range catalog {
		data.Counts[i] = StatusCount{Status: def.Status, Label: def.StatusText}
		g.Go(func() error {
			page, err := api.ListRequests(ctx, model.ListQuery{Page: 1, Limit: 1, FilterStatus: def.Status})
			if err != nil {
				return err
			}
			data.Counts[i].Count = page.Pagination.Total
			return nil
		})
	}
	g.Go(func() error {
		page, err := api.ListRequests(ctx, model.ListQuery{Page: 1, Limit: recentRequests, SortBy: "createdAt", SortOrder: "desc"})
		if err != nil {
			return err
		}
		data.Recent = page.Data
		data.TotalRequests = page.Pagination.Total
		return nil
	})
	g.Go(func() error {
		page, err := api.ListCustomers(ctx, model.ListQuery{Page: 1, Limit: 1})
		if err != nil {
			return err
		}
		data.TotalCustomers = page.Pagination.Total
		return nil
	})
	var statsErr error
	g.Go(func() error {
		data.Stats, statsErr = api.ReferralStatistics(ctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return apiFailure(c, reqLogger, err, "load dashboard")
	}
	if statsErr != nil {
		if handled, herr := auth.HandleUnauthorized(c, statsErr); handled {
			return herr
		}
		reqLogger.Warn("Referral statistics unavailable", zap.Error(statsErr))
		data.Stats = nil
		data.Warnings = append(data.Warnings, "Referral statistics are unavailable right now.")
	}
	return pagerender.Write(c, http.StatusOK, "admin_dashboard", "Dashboard", data)
}
