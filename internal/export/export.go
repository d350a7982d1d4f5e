// Package export renders admin lists as downloadable files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/blockadesystems/creditportal/internal/model"
	"github.com/blockadesystems/creditportal/internal/tracking"
)

// RequestsHeader is the first row of the request export.
var RequestsHeader = []string{
	"Tracking ID", "First Name", "Last Name", "Email", "Phone",
	"Status Code", "Status", "Referral Code", "City", "State", "Submitted", "Last Updated",
}

// WriteRequestsCSV writes one row per request. Timestamps are RFC 3339 UTC.
func WriteRequestsCSV(w io.Writer, requests []model.CreditRepairRequest) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(RequestsHeader); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for _, r := range requests {
		statusText := r.StatusText
		if statusText == "" {
			statusText = tracking.Label(r.Status)
		}
		var city, state string
		if r.Address != nil {
			city, state = r.Address.City, r.Address.State
		}
		row := []string{
			r.TrackingID, sanitize(r.FirstName), sanitize(r.LastName), sanitize(r.Email), sanitize(r.Phone),
			fmt.Sprint(r.Status), statusText, sanitize(r.ReferralCode), sanitize(city), sanitize(state),
			formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export: write row %s: %w", r.TrackingID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	return nil
}

// RequestsFilename names an export taken at t.
func RequestsFilename(t time.Time) string {
	return "credit-repair-requests-" + t.UTC().Format("2006-01-02") + ".csv"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// sanitize neutralizes values a spreadsheet would evaluate as a formula.
func sanitize(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}
