// Package onboarding turns the public onboarding form into an encrypted
// credit repair request on the remote API.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/blockadesystems/creditportal/internal/backend"
	"github.com/blockadesystems/creditportal/internal/envelope"
	"github.com/blockadesystems/creditportal/internal/model"
	"github.com/blockadesystems/creditportal/internal/payment"
)

// Documents holds the media ids of the uploaded identity documents.
type Documents struct {
	UtilityBill    string `json:"utilityBill"`
	DriversLicense string `json:"driversLicense"`
}

// Submission is the sensitive record sealed into the envelope. It only ever
// leaves this process encrypted.
type Submission struct {
	FirstName     string        `json:"firstName"`
	LastName      string        `json:"lastName"`
	Email         string        `json:"email"`
	Phone         string        `json:"phone"`
	SSN           string        `json:"ssn"`
	DateOfBirth   string        `json:"dateOfBirth"`
	Address       model.Address `json:"address"`
	ReferralCode  string        `json:"referralCode,omitempty"`
	Documents     Documents     `json:"documents"`
	Payment       payment.Token `json:"payment"`
	AgreedToTerms bool          `json:"agreedToTerms"`
}

// Service runs the submission sequence against the API.
type Service struct {
	api       backend.Backend
	scheme    envelope.Scheme
	maxUpload int64
	validator *Validator
	logger    *zap.Logger
}

// NewService returns a Service sealing submissions with scheme. It logs
// through the global zap logger in place when NewService is called.
func NewService(api backend.Backend, scheme envelope.Scheme, maxUpload int64) *Service {
	return &Service{
		api:       api,
		scheme:    scheme,
		maxUpload: maxUpload,
		validator: NewValidator(),
		logger:    zap.L().With(zap.String("package", "onboarding")),
	}
}

// Validator exposes the form validator for the other public forms.
func (s *Service) Validator() *Validator { return s.validator }

// CheckReferral validates a referral code with the API.
func (s *Service) CheckReferral(ctx context.Context, code string) (*model.ReferralValidation, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return &model.ReferralValidation{Valid: false, Message: "Enter a referral code."}, nil
	}
	res, err := s.api.ValidateReferral(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("onboarding: validate referral: %w", err)
	}
	return res, nil
}

// Submit validates the form, uploads the documents, then fetches a fresh
// session key, seals the submission and posts it. Nothing is sent to the
// submission endpoint unless every earlier step succeeded. Documents already
// uploaded by an earlier attempt are referenced by the form's media ids and
// are not uploaded again.
func (s *Service) Submit(ctx context.Context, form Form, uploads []Upload) (*model.SubmissionReceipt, error) {
	form.Normalize()

	fields := s.validator.Check(form)
	present := map[DocumentType]bool{}
	for _, u := range uploads {
		present[u.Document] = true
	}
	for _, doc := range RequiredDocuments {
		if !present[doc] && form.MediaID(doc) == "" {
			fields.Add(string(doc), doc.Label(), doc.Label()+" is required.")
		}
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	if err := form.Token().Validate(); err != nil {
		return nil, err
	}

	if form.ReferralCode != "" {
		res, err := s.CheckReferral(ctx, form.ReferralCode)
		if err != nil {
			return nil, err
		}
		if !res.Valid {
			msg := res.Message
			if msg == "" {
				msg = "That referral code is not valid."
			}
			return nil, &ValidationError{Fields: FieldErrors{{Field: "referralCode", Label: "Referral code", Message: msg}}}
		}
	}

	// A newly chosen file replaces one carried over from an earlier attempt.
	uploaded, err := UploadDocuments(ctx, s.api, uploads, s.maxUpload)
	if err != nil {
		var uerr *UploadError
		if errors.As(err, &uerr) {
			s.logger.Warn("document upload failed",
				zap.String("document", string(uerr.Document)),
				zap.Int("completed", len(uerr.Succeeded)),
				zap.Error(err))
		}
		return nil, err
	}
	for _, r := range uploaded {
		form.SetMediaID(r.Document, r.MediaID)
	}
	docs := Documents{UtilityBill: form.UtilityBillMediaID, DriversLicense: form.DriversLicenseMediaID}

	key, err := s.api.GetPublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("onboarding: fetch session key: %w", err)
	}

	sub := Submission{
		FirstName:     form.FirstName,
		LastName:      form.LastName,
		Email:         form.Email,
		Phone:         form.Phone,
		SSN:           form.SSN,
		DateOfBirth:   form.DateOfBirth,
		Address:       form.Address(),
		ReferralCode:  form.ReferralCode,
		Documents:     docs,
		Payment:       form.Token(),
		AgreedToTerms: form.AgreeToTerms,
	}
	payload, err := envelope.SealWith(s.scheme, sub, key.PublicKey, key.SessionID)
	if err != nil {
		s.logger.Error("failed to seal submission", zap.Error(err))
		return nil, err
	}

	receipt, err := s.api.SubmitRequest(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("onboarding: submit request: %w", err)
	}
	s.logger.Info("credit repair request submitted", zap.String("tracking_id", receipt.TrackingID))
	return receipt, nil
}

// UserMessage renders a Submit error for the form banner.
func UserMessage(err error) string {
	var verr *ValidationError
	var uerr *UploadError
	var eerr *envelope.EncryptionError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return verr.Fields.Summary()
	case errors.As(err, &uerr):
		return uerr.Message()
	case errors.Is(err, payment.ErrMissingToken):
		return "Please enter your card details so we can process your payment."
	case errors.As(err, &eerr):
		return "We could not secure your information for sending. Please try again."
	default:
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.Code != "" {
			m := payment.Describe(apiErr.Code)
			return m.Text + " " + m.Suggestion
		}
		return backend.UserMessage(err)
	}
}
