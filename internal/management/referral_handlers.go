package management

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/blockadesystems/creditportal/internal/auth"
	"github.com/blockadesystems/creditportal/internal/backend"
	"github.com/blockadesystems/creditportal/internal/flash"
	"github.com/blockadesystems/creditportal/internal/model"
	"github.com/blockadesystems/creditportal/internal/pagerender"
)

type referralStatsData struct {
	Stats *model.ReferralStatistics
}

type customerReferralsData struct {
	Customer  *model.Customer
	Code      string
	CodeError string
	Referrals []model.Referral
}

// HandleReferralStatistics renders the referral program summary.
func HandleReferralStatistics(c echo.Context) error {
	reqLogger := requestLogger(c, "HandleReferralStatistics")
	stats, err := auth.API(c).ReferralStatistics(c.Request().Context())
	if err != nil {
		return apiFailure(c, reqLogger, err, "fetch referral statistics")
	}
	return pagerender.Write(c, http.StatusOK, "admin_referrals", "Referrals", referralStatsData{Stats: stats})
}

// HandleCustomerReferrals renders a customer's referral code and the people
// they referred. A missing code is shown inline rather than failing the page.
func HandleCustomerReferrals(c echo.Context) error {
	reqLogger := requestLogger(c, "HandleCustomerReferrals")
	id, err := customerID(c)
	if err != nil {
		return err
	}
	reqLogger = reqLogger.With(zap.String("customer_id", id))
	api := auth.API(c)
	ctx := c.Request().Context()

	cust, err := api.GetCustomer(ctx, id)
	if err != nil {
		return apiFailure(c, reqLogger, err, "fetch customer")
	}
	data := customerReferralsData{Customer: cust}

	code, err := api.GetReferralCode(ctx, id)
	if err != nil {
		if handled, herr := auth.HandleUnauthorized(c, err); handled {
			return herr
		}
		reqLogger.Warn("Referral code unavailable", zap.Error(err))
		data.CodeError = "No referral code is available for this customer. " + backend.UserMessage(err)
	} else {
		data.Code = code.Code
	}

	data.Referrals, err = api.GetCustomerReferrals(ctx, id)
	if err != nil {
		return apiFailure(c, reqLogger, err, "list customer referrals")
	}
	return pagerender.Write(c, http.StatusOK, "admin_customer_referrals", "Referrals for "+cust.FullName(), data)
}

// HandleApplyReferral credits a customer to the owner of the posted code.
func HandleApplyReferral(c echo.Context) error {
	reqLogger := requestLogger(c, "HandleApplyReferral")
	id, err := customerID(c)
	if err != nil {
		return err
	}
	back := customersPath + "/" + url.PathEscape(id) + "/referrals"

	code := strings.ToUpper(strings.TrimSpace(c.FormValue("referralCode")))
	if code == "" {
		flash.Write(c, flash.Error("Enter a referral code."))
		return c.Redirect(http.StatusSeeOther, back)
	}

	res, err := auth.API(c).ApplyReferral(c.Request().Context(), id, code)
	if err != nil {
		if handled, herr := auth.HandleUnauthorized(c, err); handled {
			return herr
		}
		reqLogger.Info("Referral code not applied", zap.String("customer_id", id), zap.Error(err))
		flash.Write(c, flash.Error(backend.UserMessage(err)))
		return c.Redirect(http.StatusSeeOther, back)
	}
	if !res.Valid {
		msg := res.Message
		if msg == "" {
			msg = "That referral code is not valid."
		}
		flash.Write(c, flash.Error(msg))
		return c.Redirect(http.StatusSeeOther, back)
	}

	msg := "Referral code applied."
	if res.ReferrerName != "" {
		msg = "Referral code applied. Referred by " + res.ReferrerName + "."
	}
	reqLogger.Info("Referral code applied", zap.String("customer_id", id))
	flash.Write(c, flash.Success(msg))
	return c.Redirect(http.StatusSeeOther, back)
}
