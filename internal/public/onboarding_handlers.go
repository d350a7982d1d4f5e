package public

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/blockadesystems/creditportal/internal/backend"
	"github.com/blockadesystems/creditportal/internal/config"
	"github.com/blockadesystems/creditportal/internal/onboarding"
	"github.com/blockadesystems/creditportal/internal/pagerender"
	"github.com/blockadesystems/creditportal/internal/payment"
)

type paymentSettings struct {
	Enabled     bool
	LoginID     string
	ClientKey   string
	AcceptJSURL string
}

type getStartedData struct {
	Form        onboarding.Form
	Errors      onboarding.FieldErrors
	Error       string
	States      []string
	Payments    paymentSettings
	MaxUploadMB int64
	// Uploaded maps a document field to the filename that reached the API
	// during this attempt.
	Uploaded map[string]string
}

type receiptData struct {
	TrackingID string
	Message    string
}

func newGetStartedData(c echo.Context, form onboarding.Form) getStartedData {
	data := getStartedData{Form: form, States: onboarding.States(), MaxUploadMB: 10, Uploaded: map[string]string{}}
	if cfg, ok := c.Get("cfg").(*config.Config); ok {
		data.Payments = paymentSettings{
			Enabled:     cfg.PaymentsConfigured(),
			LoginID:     cfg.AuthorizeLoginID,
			ClientKey:   cfg.AuthorizeClientKey,
			AcceptJSURL: cfg.AcceptJSURL,
		}
		data.MaxUploadMB = cfg.MaxUploadBytes >> 20
	}
	// Never echo the SSN or the payment nonce back into the page.
	data.Form.SSN = ""
	data.Form.PaymentDescriptor, data.Form.PaymentValue, data.Form.PaymentErrorCode = "", "", ""
	return data
}

// HandleGetStartedForm renders the onboarding form. A ref query parameter
// prefills the referral code.
func HandleGetStartedForm(c echo.Context) error {
	form := onboarding.Form{ReferralCode: strings.ToUpper(strings.TrimSpace(c.QueryParam("ref")))}
	return pagerender.Write(c, http.StatusOK, "get_started", "Get started", newGetStartedData(c, form))
}

// HandleGetStartedSubmit runs the onboarding submission and renders the
// receipt, or re-renders the form with the failure explained.
func HandleGetStartedSubmit(c echo.Context) error {
	reqLogger := requestLogger(c, "HandleGetStartedSubmit")
	svc, err := onboardingService(c)
	if err != nil {
		return err
	}

	var form onboarding.Form
	if err := c.Bind(&form); err != nil {
		reqLogger.Warn("Failed to bind onboarding form", zap.Error(err))
		data := newGetStartedData(c, form)
		data.Error = "The form could not be read. Please try again."
		return pagerender.Write(c, http.StatusBadRequest, "get_started", "Get started", data)
	}

	if code := strings.TrimSpace(form.PaymentErrorCode); code != "" {
		msg := payment.Describe(code)
		reqLogger.Info("Card tokenization failed in browser", zap.String("code", code), zap.Bool("known", msg.Known()))
		data := newGetStartedData(c, form)
		data.Error = strings.TrimSpace(msg.Text + " " + msg.Suggestion)
		return pagerender.Write(c, http.StatusUnprocessableEntity, "get_started", "Get started", data)
	}

	uploads, cleanup, err := formUploads(c)
	defer cleanup()
	if err != nil {
		reqLogger.Warn("Failed to read uploaded documents", zap.Error(err))
		data := newGetStartedData(c, form)
		data.Error = "Your documents could not be read. Please choose them again."
		return pagerender.Write(c, http.StatusBadRequest, "get_started", "Get started", data)
	}

	receipt, err := svc.Submit(c.Request().Context(), form, uploads)
	if err != nil {
		status := submitStatus(err)
		if status >= http.StatusInternalServerError {
			reqLogger.Error("Onboarding submission failed", zap.Error(err))
		} else {
			reqLogger.Info("Onboarding submission rejected", zap.Int("status", status), zap.Error(err))
		}
		data := newGetStartedData(c, form)
		data.Error = onboarding.UserMessage(err)
		data.Errors = fieldErrorsOf(err)
		keepUploaded(&data, err)
		return pagerender.Write(c, status, "get_started", "Get started", data)
	}

	reqLogger.Info("Onboarding submission accepted", zap.String("tracking_id", receipt.TrackingID))
	return pagerender.Write(c, http.StatusOK, "get_started_done", "Thank you", receiptData{
		TrackingID: receipt.TrackingID,
		Message:    receipt.Message,
	})
}

// formUploads opens the document parts of the multipart form. Missing
// documents are left out; the submission reports them as field errors.
func formUploads(c echo.Context) ([]onboarding.Upload, func(), error) {
	var uploads []onboarding.Upload
	var opened []io.Closer
	cleanup := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	for _, doc := range onboarding.RequiredDocuments {
		fh, err := c.FormFile(string(doc))
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return nil, cleanup, fmt.Errorf("public: read %s: %w", doc, err)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, cleanup, fmt.Errorf("public: open %s: %w", doc, err)
		}
		opened = append(opened, f)
		uploads = append(uploads, onboarding.Upload{
			Document:    doc,
			Filename:    fh.Filename,
			ContentType: fh.Header.Get(echo.HeaderContentType),
			Size:        fh.Size,
			Body:        f,
		})
	}
	return uploads, cleanup, nil
}

func submitStatus(err error) int {
	var verr *onboarding.ValidationError
	var uerr *onboarding.UploadError
	switch {
	case errors.As(err, &verr), errors.Is(err, payment.ErrMissingToken):
		return http.StatusUnprocessableEntity
	case errors.As(err, &uerr):
		switch uerr.Kind {
		case onboarding.UploadTooLarge:
			return http.StatusRequestEntityTooLarge
		case onboarding.UploadUnsupportedType:
			return http.StatusUnsupportedMediaType
		case onboarding.UploadTimeout:
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}
	return backend.HTTPStatus(err)
}

func fieldErrorsOf(err error) onboarding.FieldErrors {
	var verr *onboarding.ValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	var uerr *onboarding.UploadError
	if errors.As(err, &uerr) {
		var fe onboarding.FieldErrors
		fe.Add(string(uerr.Document), uerr.Document.Label(), uerr.Message())
		return fe
	}
	return nil
}

// keepUploaded carries documents that reached the API before another upload
// failed, so the applicant is not asked for them again.
func keepUploaded(data *getStartedData, err error) {
	var uerr *onboarding.UploadError
	if !errors.As(err, &uerr) {
		return
	}
	for _, r := range uerr.Succeeded {
		data.Form.SetMediaID(r.Document, r.MediaID)
		data.Uploaded[string(r.Document)] = r.Filename
	}
}
