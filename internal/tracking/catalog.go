package tracking

import (
	"strconv"

	"github.com/blockadesystems/creditportal/internal/model"
)

var defaultCatalog = []model.StageDefinition{
	{Status: StatusGetStarted, StatusText: "Get Started", Description: "We received your application and documents."},
	{Status: StatusAuthorizeConnect, StatusText: "Authorize & Connect", Description: "Your payment is authorized and your credit profile is being connected."},
	{Status: StatusPartnerProcess, StatusText: "Partner Processing", Description: "Our credit partner is reviewing your reports."},
	{Status: StatusRepairInProgress, StatusText: "Repair in Progress", Description: "Disputes have been filed with the bureaus."},
	{Status: StatusConfirmDeliver, StatusText: "Confirm & Deliver", Description: "Results are confirmed and delivered to you."},
	{Status: StatusDenied, StatusText: "Request Denied", Description: "We could not proceed with this request."},
}

// DefaultCatalog returns a copy of the canonical stage catalog.
func DefaultCatalog() []model.StageDefinition {
	out := make([]model.StageDefinition, len(defaultCatalog))
	copy(out, defaultCatalog)
	return out
}

// Label returns the canonical label for a stage code.
func Label(code int) string {
	for _, def := range defaultCatalog {
		if def.Status == code {
			return def.StatusText
		}
	}
	return "Status " + strconv.Itoa(code)
}

// ValidStatus reports whether code belongs to the canonical catalog.
func ValidStatus(code int) bool {
	return code >= StatusGetStarted && code <= StatusDenied
}
