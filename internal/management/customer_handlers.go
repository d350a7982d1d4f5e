package management

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/blockadesystems/creditportal/internal/auth"
	"github.com/blockadesystems/creditportal/internal/model"
	"github.com/blockadesystems/creditportal/internal/pagerender"
)

const customersPath = "/admin/customers"

type customerListData struct {
	Items      []model.Customer
	Pagination model.Pagination
	Search     string
	PrevURL    string
	NextURL    string
}

type customerDetailData struct {
	Customer *model.Customer
}

// HandleListCustomers renders one page of customers, optionally searched.
func HandleListCustomers(c echo.Context) error {
	reqLogger := requestLogger(c, "HandleListCustomers")
	q := customerListQuery(c)

	page, err := auth.API(c).ListCustomers(c.Request().Context(), q)
	if err != nil {
		return apiFailure(c, reqLogger, err, "list customers")
	}
	data := customerListData{Items: page.Data, Pagination: page.Pagination, Search: q.Search}
	data.PrevURL, data.NextURL = pagerURLs(customersPath, q, page.Pagination)
	return pagerender.Write(c, http.StatusOK, "admin_customers", "Customers", data)
}

// HandleGetCustomer renders a customer with presigned document links and
// their requests.
func HandleGetCustomer(c echo.Context) error {
	reqLogger := requestLogger(c, "HandleGetCustomer")
	id, err := customerID(c)
	if err != nil {
		return err
	}
	cust, err := auth.API(c).GetCustomer(c.Request().Context(), id)
	if err != nil {
		return apiFailure(c, reqLogger.With(zap.String("customer_id", id)), err, "fetch customer")
	}
	return pagerender.Write(c, http.StatusOK, "admin_customer", cust.FullName(), customerDetailData{Customer: cust})
}

func customerID(c echo.Context) (string, error) {
	id, err := url.PathUnescape(c.Param("id"))
	if err != nil || strings.TrimSpace(id) == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "Invalid customer id")
	}
	return id, nil
}
