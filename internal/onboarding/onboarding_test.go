package onboarding_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/blockadesystems/creditportal/internal/backend"
	"github.com/blockadesystems/creditportal/internal/envelope"
	"github.com/blockadesystems/creditportal/internal/onboarding"
	"github.com/blockadesystems/creditportal/internal/payment"
	"github.com/blockadesystems/creditportal/internal/testutils"
)

func validForm() onboarding.Form {
	return onboarding.Form{
		FirstName:         "Jane",
		LastName:          "Doe",
		Email:             " Jane.Doe@Example.com ",
		Phone:             "(555) 123-4567",
		SSN:               "123-45-6789",
		DateOfBirth:       "1985-04-23",
		Street1:           "742 Evergreen Terrace",
		City:              "Springfield",
		State:             "il",
		ZipCode:           "62704",
		AgreeToTerms:      true,
		PaymentDescriptor: "COMMON.ACCEPT.INAPP.PAYMENT",
		PaymentValue:      "eyJjb2RlIjoiNTBfMl8wNjAw",
	}
}

func validUploads() []onboarding.Upload {
	return []onboarding.Upload{
		{Document: onboarding.UtilityBill, Filename: "bill.pdf", Size: 8, Body: strings.NewReader("%PDF-1.4")},
		{Document: onboarding.DriversLicense, Filename: "license.png", ContentType: "image/png", Size: 4, Body: strings.NewReader("\x89PNG")},
	}
}

func indexOf(calls []string, call string) int {
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	return -1
}

func TestSubmit_SealsAndSubmits(t *testing.T) {
	for _, scheme := range []envelope.Scheme{envelope.SchemeCBC, envelope.SchemeGCM} {
		t.Run(string(scheme), func(t *testing.T) {
			api := testutils.SetupFakeAPI(t)
			api.Scheme = scheme
			svc := onboarding.NewService(api.Client(t), scheme, 1<<20)

			form := validForm()
			form.ReferralCode = "friend10"
			receipt, err := svc.Submit(context.Background(), form, validUploads())
			require.NoError(t, err)
			assert.Equal(t, "CR-1003", receipt.TrackingID)

			subs := api.Submissions()
			require.Len(t, subs, 1)
			var got onboarding.Submission
			require.NoError(t, json.Unmarshal(subs[0], &got))
			assert.Equal(t, "123-45-6789", got.SSN)
			assert.Equal(t, "jane.doe@example.com", got.Email)
			assert.Equal(t, "IL", got.Address.State)
			assert.Equal(t, "FRIEND10", got.ReferralCode)
			assert.NotEmpty(t, got.Documents.UtilityBill)
			assert.NotEmpty(t, got.Documents.DriversLicense)
			assert.Equal(t, "COMMON.ACCEPT.INAPP.PAYMENT", got.Payment.DataDescriptor)

			calls := api.Calls()
			keyAt := indexOf(calls, "POST /encryption/get-public-key")
			submitAt := indexOf(calls, "POST /credit-repair-requests")
			require.NotEqual(t, -1, keyAt)
			assert.Greater(t, submitAt, keyAt, "key is fetched before the submission")
			assert.Less(t, indexOf(calls, "POST /referrals/validate"), keyAt)
			assert.Len(t, api.Uploads(), 2)
		})
	}
}

func TestSubmit_RejectsBeforeAnyNetworkCall(t *testing.T) {
	tests := map[string]struct {
		mutate  func(*onboarding.Form)
		uploads []onboarding.Upload
		check   func(t *testing.T, err error)
	}{
		"invalid fields": {
			mutate:  func(f *onboarding.Form) { f.SSN = "000-12-3456"; f.ZipCode = "abc" },
			uploads: validUploads(),
			check: func(t *testing.T, err error) {
				var verr *onboarding.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.NotEmpty(t, verr.Fields.Get("ssn"))
				assert.NotEmpty(t, verr.Fields.Get("zipCode"))
			},
		},
		"missing document": {
			mutate:  func(*onboarding.Form) {},
			uploads: validUploads()[:1],
			check: func(t *testing.T, err error) {
				var verr *onboarding.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, "Driver's license is required.", verr.Fields.Get("driversLicense"))
			},
		},
		"missing payment token": {
			mutate:  func(f *onboarding.Form) { f.PaymentValue = "" },
			uploads: validUploads(),
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, payment.ErrMissingToken)
			},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			api := testutils.SetupFakeAPI(t)
			svc := onboarding.NewService(api.Client(t), envelope.SchemeCBC, 1<<20)
			form := validForm()
			tc.mutate(&form)

			_, err := svc.Submit(context.Background(), form, tc.uploads)
			tc.check(t, err)
			assert.Empty(t, api.Calls())
		})
	}
}

func TestSubmit_InvalidReferral(t *testing.T) {
	api := testutils.SetupFakeAPI(t)
	svc := onboarding.NewService(api.Client(t), envelope.SchemeCBC, 1<<20)
	form := validForm()
	form.ReferralCode = "NOPE"

	_, err := svc.Submit(context.Background(), form, validUploads())
	var verr *onboarding.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Referral code not found", verr.Fields.Get("referralCode"))
	assert.Empty(t, api.Uploads())
	assert.Empty(t, api.Submissions())
}

func TestSubmit_UploadFailureStopsSubmission(t *testing.T) {
	api := testutils.SetupFakeAPI(t)
	api.UploadStatus["license.png"] = http.StatusRequestEntityTooLarge
	svc := onboarding.NewService(api.Client(t), envelope.SchemeCBC, 1<<20)

	_, err := svc.Submit(context.Background(), validForm(), validUploads())
	var uerr *onboarding.UploadError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, onboarding.DriversLicense, uerr.Document)
	assert.Equal(t, onboarding.UploadTooLarge, uerr.Kind)
	assert.Equal(t, "Driver's license is too large. Please upload a file under 1 MB.", onboarding.UserMessage(err))
	assert.Equal(t, -1, indexOf(api.Calls(), "POST /encryption/get-public-key"))
	assert.Empty(t, api.Submissions())
}

func TestSubmit_UploadFailureReportsCompletedDocuments(t *testing.T) {
	api := testutils.SetupFakeAPI(t)
	api.UploadStatus["license.png"] = http.StatusInternalServerError
	svc := onboarding.NewService(api.Client(t), envelope.SchemeCBC, 1<<20)

	_, err := svc.Submit(context.Background(), validForm(), validUploads())
	var uerr *onboarding.UploadError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, onboarding.DriversLicense, uerr.Document)
	require.Len(t, uerr.Succeeded, 1)
	assert.Equal(t, onboarding.UtilityBill, uerr.Succeeded[0].Document)
	assert.Equal(t, "media-1", uerr.Succeeded[0].MediaID)

	// The retry names the completed upload and sends only the missing file.
	delete(api.UploadStatus, "license.png")
	form := validForm()
	form.SetMediaID(onboarding.UtilityBill, uerr.Succeeded[0].MediaID)
	receipt, err := svc.Submit(context.Background(), form, validUploads()[1:])
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.TrackingID)
	assert.Equal(t, []string{"bill.pdf", "license.png"}, api.Uploads())

	subs := api.Submissions()
	require.Len(t, subs, 1)
	var got onboarding.Submission
	require.NoError(t, json.Unmarshal(subs[0], &got))
	assert.Equal(t, "media-1", got.Documents.UtilityBill)
	assert.Equal(t, "media-2", got.Documents.DriversLicense)
}

func TestSubmit_EncryptionFailureSendsNothing(t *testing.T) {
	_, weakPEM, err := envelope.GenerateSessionKey(1024)
	require.NoError(t, err)

	tests := map[string]struct {
		publicPEM string
		cause     error
	}{
		"weak key":      {publicPEM: weakPEM, cause: envelope.ErrWeakKey},
		"malformed key": {publicPEM: "-----BEGIN PUBLIC KEY-----\nbm90IGEga2V5\n-----END PUBLIC KEY-----\n", cause: envelope.ErrInvalidPublicKey},
		"not PEM":       {publicPEM: "not a key", cause: envelope.ErrInvalidPublicKey},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			core, logs := observer.New(zap.ErrorLevel)
			defer zap.ReplaceGlobals(zap.New(core))()

			api := testutils.SetupFakeAPI(t)
			api.ServePublicKey(tc.publicPEM)
			svc := onboarding.NewService(api.Client(t), envelope.SchemeCBC, 1<<20)

			_, err := svc.Submit(context.Background(), validForm(), validUploads())
			var eerr *envelope.EncryptionError
			require.ErrorAs(t, err, &eerr)
			assert.ErrorIs(t, err, tc.cause)
			assert.Contains(t, onboarding.UserMessage(err), "could not secure")

			assert.NotEqual(t, -1, indexOf(api.Calls(), "POST /encryption/get-public-key"))
			assert.Equal(t, -1, indexOf(api.Calls(), "POST /credit-repair-requests"))
			assert.Empty(t, api.Submissions())
			assert.Equal(t, 1, logs.FilterMessage("failed to seal submission").Len())
		})
	}
}

func TestUploadDocuments_KeepsSuccessfulResults(t *testing.T) {
	api := testutils.SetupFakeAPI(t)
	api.UploadStatus["bill.pdf"] = http.StatusNotAcceptable
	api.UploadStatus["license.png"] = http.StatusInternalServerError

	results, err := onboarding.UploadDocuments(context.Background(), api.Client(t), validUploads(), 1<<20)
	var uerr *onboarding.UploadError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, onboarding.UtilityBill, uerr.Document, "first failure in form order")
	assert.Equal(t, onboarding.UploadUnsupportedType, uerr.Kind)
	assert.Empty(t, results)

	delete(api.UploadStatus, "bill.pdf")
	results, err = onboarding.UploadDocuments(context.Background(), api.Client(t), validUploads(), 1<<20)
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, onboarding.UploadFailed, uerr.Kind)
	require.Len(t, results, 1)
	assert.Equal(t, onboarding.UtilityBill, results[0].Document)
	assert.Equal(t, "bill.pdf", results[0].Filename)
	assert.NotEmpty(t, results[0].MediaID)
	assert.Equal(t, results, uerr.Succeeded)
}

func TestUploadDocuments_Timeout(t *testing.T) {
	api := testutils.SetupFakeAPI(t)
	api.UploadDelay["license.png"] = time.Second
	client, err := backend.New(api.Server.URL, 100*time.Millisecond)
	require.NoError(t, err)

	results, err := onboarding.UploadDocuments(context.Background(), client, validUploads(), 1<<20)
	var uerr *onboarding.UploadError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, onboarding.UploadTimeout, uerr.Kind)
	assert.True(t, errors.Is(err, backend.ErrTimeout))
	assert.Len(t, results, 1)
}

func TestValidateUpload(t *testing.T) {
	u := onboarding.Upload{Document: onboarding.UtilityBill, Filename: "Bill.JPEG", Size: 10}
	require.NoError(t, onboarding.ValidateUpload(&u, 100))
	assert.Equal(t, "image/jpeg", u.ContentType)

	cases := map[string]struct {
		upload onboarding.Upload
		kind   onboarding.UploadErrorKind
	}{
		"extension":    {onboarding.Upload{Filename: "bill.docx", Size: 1}, onboarding.UploadUnsupportedType},
		"content type": {onboarding.Upload{Filename: "bill.pdf", ContentType: "text/html", Size: 1}, onboarding.UploadUnsupportedType},
		"too large":    {onboarding.Upload{Filename: "bill.pdf", Size: 101}, onboarding.UploadTooLarge},
		"no extension": {onboarding.Upload{Filename: "bill", Size: 1}, onboarding.UploadUnsupportedType},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := onboarding.ValidateUpload(&tc.upload, 100)
			var uerr *onboarding.UploadError
			require.ErrorAs(t, err, &uerr)
			assert.Equal(t, tc.kind, uerr.Kind)
		})
	}
}

func TestValidator_Fields(t *testing.T) {
	v := onboarding.NewValidator()

	form := validForm()
	form.Normalize()
	assert.Empty(t, v.Check(form))

	bad := map[string]func(*onboarding.Form){
		"ssn":          func(f *onboarding.Form) { f.SSN = "900-12-3456" },
		"phone":        func(f *onboarding.Form) { f.Phone = "555-1234" },
		"zipCode":      func(f *onboarding.Form) { f.ZipCode = "6270" },
		"state":        func(f *onboarding.Form) { f.State = "ZZ" },
		"dateOfBirth":  func(f *onboarding.Form) { f.DateOfBirth = time.Now().AddDate(-17, 0, 0).Format("2006-01-02") },
		"email":        func(f *onboarding.Form) { f.Email = "jane@" },
		"agreeToTerms": func(f *onboarding.Form) { f.AgreeToTerms = false },
	}
	for field, mutate := range bad {
		t.Run(field, func(t *testing.T) {
			f := validForm()
			f.Normalize()
			mutate(&f)
			errs := v.Check(f)
			require.Len(t, errs, 1)
			assert.Equal(t, field, errs[0].Field)
		})
	}
}

func TestFieldErrors_Summary(t *testing.T) {
	errs := onboarding.NewValidator().Check(onboarding.ContactForm{Email: "nope"})
	require.Len(t, errs, 3)
	assert.Equal(t, "Name is required.", errs.Get("name"))
	assert.Equal(t, "Please correct 3 fields: Name, Email, Message.", errs.Summary())

	var one onboarding.FieldErrors
	one.Add("x", "X", "X is broken.")
	one.Add("x", "X", "ignored")
	assert.Equal(t, "X is broken.", one.Summary())
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, onboarding.UserMessage(payment.ErrMissingToken), "card details")
	apiErr := &backend.APIError{Status: http.StatusPaymentRequired, Message: "declined", Code: "2"}
	assert.Equal(t, "The card was declined. Contact your card issuer or use a different card.", onboarding.UserMessage(apiErr))
	assert.Contains(t, onboarding.UserMessage(&envelope.EncryptionError{Op: "wrap key", Err: envelope.ErrEmptyCiphertext}), "could not secure")
}
