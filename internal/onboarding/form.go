package onboarding

import (
	"fmt"
	"maps"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/blockadesystems/creditportal/internal/model"
	"github.com/blockadesystems/creditportal/internal/payment"
)

// Form is the onboarding form as posted by the browser. Card data never
// appears here: the browser tokenizes it and posts only the opaque nonce.
type Form struct {
	FirstName    string `form:"firstName" json:"firstName" label:"First name" validate:"required,max=50"`
	LastName     string `form:"lastName" json:"lastName" label:"Last name" validate:"required,max=50"`
	Email        string `form:"email" json:"email" label:"Email" validate:"required,email"`
	Phone        string `form:"phone" json:"phone" label:"Phone" validate:"required,usphone"`
	SSN          string `form:"ssn" json:"-" label:"Social Security number" validate:"required,ssn"`
	DateOfBirth  string `form:"dateOfBirth" json:"dateOfBirth" label:"Date of birth" validate:"required,datetime=2006-01-02,adult"`
	Street1      string `form:"street1" json:"street1" label:"Street address" validate:"required,max=100"`
	Street2      string `form:"street2" json:"street2" label:"Apartment, suite" validate:"max=100"`
	City         string `form:"city" json:"city" label:"City" validate:"required,max=60"`
	State        string `form:"state" json:"state" label:"State" validate:"required,usstate"`
	ZipCode      string `form:"zipCode" json:"zipCode" label:"ZIP code" validate:"required,zip"`
	ReferralCode string `form:"referralCode" json:"referralCode" label:"Referral code" validate:"omitempty,alphanum,max=20"`
	AgreeToTerms bool   `form:"agreeToTerms" json:"agreeToTerms" label:"Terms" validate:"required"`

	// Media ids of documents that reached the API on an earlier attempt.
	UtilityBillMediaID    string `form:"utilityBillMediaId" json:"-" label:"Utility bill" validate:"omitempty,max=100,printascii"`
	DriversLicenseMediaID string `form:"driversLicenseMediaId" json:"-" label:"Driver's license" validate:"omitempty,max=100,printascii"`

	PaymentDescriptor string `form:"dataDescriptor" json:"-"`
	PaymentValue      string `form:"dataValue" json:"-"`
	// Set by the browser when tokenization failed; see payment.Describe.
	PaymentErrorCode string `form:"paymentErrorCode" json:"-"`
}

// Normalize trims input and canonicalizes case where the backend expects it.
func (f *Form) Normalize() {
	for _, p := range []*string{&f.FirstName, &f.LastName, &f.Email, &f.Phone, &f.SSN, &f.DateOfBirth,
		&f.Street1, &f.Street2, &f.City, &f.State, &f.ZipCode, &f.ReferralCode,
		&f.UtilityBillMediaID, &f.DriversLicenseMediaID} {
		*p = strings.TrimSpace(*p)
	}
	f.Email = strings.ToLower(f.Email)
	f.State = strings.ToUpper(f.State)
	f.ReferralCode = strings.ToUpper(f.ReferralCode)
}

// Token returns the tokenized card.
func (f Form) Token() payment.Token {
	return payment.Token{DataDescriptor: f.PaymentDescriptor, DataValue: f.PaymentValue}
}

// MediaID returns the media id carried over for doc, or "".
func (f Form) MediaID(doc DocumentType) string {
	switch doc {
	case UtilityBill:
		return f.UtilityBillMediaID
	case DriversLicense:
		return f.DriversLicenseMediaID
	}
	return ""
}

// SetMediaID records that doc already reached the API as id.
func (f *Form) SetMediaID(doc DocumentType, id string) {
	switch doc {
	case UtilityBill:
		f.UtilityBillMediaID = id
	case DriversLicense:
		f.DriversLicenseMediaID = id
	}
}

// Address returns the postal address portion of the form.
func (f Form) Address() model.Address {
	return model.Address{Street1: f.Street1, Street2: f.Street2, City: f.City, State: f.State, ZipCode: f.ZipCode}
}

// ContactForm is the public contact page form.
type ContactForm struct {
	Name    string `form:"name" label:"Name" validate:"required,max=100"`
	Email   string `form:"email" label:"Email" validate:"required,email"`
	Phone   string `form:"phone" label:"Phone" validate:"omitempty,usphone"`
	Message string `form:"message" label:"Message" validate:"required,max=2000"`
}

// FieldError is one invalid field, keyed by its form name.
type FieldError struct {
	Field   string
	Label   string
	Message string
}

// FieldErrors keeps field errors in form order.
type FieldErrors []FieldError

// Get returns the message for field, or "".
func (fe FieldErrors) Get(field string) string {
	for _, e := range fe {
		if e.Field == field {
			return e.Message
		}
	}
	return ""
}

// Add appends an error unless field already has one.
func (fe *FieldErrors) Add(field, label, message string) {
	if fe.Get(field) != "" {
		return
	}
	*fe = append(*fe, FieldError{Field: field, Label: label, Message: message})
}

// Summary is the one-line banner shown above the form.
func (fe FieldErrors) Summary() string {
	switch len(fe) {
	case 0:
		return ""
	case 1:
		return fe[0].Message
	}
	labels := make([]string, 0, len(fe))
	for _, e := range fe {
		labels = append(labels, e.Label)
	}
	return fmt.Sprintf("Please correct %d fields: %s.", len(fe), strings.Join(labels, ", "))
}

// ValidationError is returned by Submit when the form is rejected before any
// network call is made.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	return "onboarding: invalid form: " + e.Fields.Summary()
}

var (
	ssnPattern = regexp.MustCompile(`^(\d{3})-?(\d{2})-?(\d{4})$`)
	zipPattern = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	nonDigits  = regexp.MustCompile(`\D`)
)

var usStates = map[string]bool{}

func init() {
	for _, s := range strings.Fields(`AL AK AZ AR CA CO CT DE DC FL GA HI ID IL IN IA KS KY LA ME MD MA MI MN
		MS MO MT NE NV NH NJ NM NY NC ND OH OK OR PA RI SC SD TN TX UT VT VA WA WV WI WY PR`) {
		usStates[s] = true
	}
}

// States returns the accepted state codes in alphabetical order.
func States() []string {
	return slices.Sorted(maps.Keys(usStates))
}

// Validator wraps a validator configured with the portal's field rules.
type Validator struct {
	v   *validatorv10.Validate
	now func() time.Time
}

// NewValidator returns a validator with the custom US field rules registered.
func NewValidator() *Validator {
	pv := &Validator{v: validatorv10.New(), now: time.Now}
	pv.v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("form"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	mustRegister(pv.v, "ssn", validSSN)
	mustRegister(pv.v, "usphone", func(fl validatorv10.FieldLevel) bool {
		digits := nonDigits.ReplaceAllString(fl.Field().String(), "")
		digits = strings.TrimPrefix(digits, "1")
		return len(digits) == 10
	})
	mustRegister(pv.v, "zip", func(fl validatorv10.FieldLevel) bool {
		return zipPattern.MatchString(fl.Field().String())
	})
	mustRegister(pv.v, "usstate", func(fl validatorv10.FieldLevel) bool {
		return usStates[strings.ToUpper(fl.Field().String())]
	})
	mustRegister(pv.v, "adult", func(fl validatorv10.FieldLevel) bool {
		dob, err := time.Parse("2006-01-02", fl.Field().String())
		if err != nil {
			return false
		}
		return !dob.AddDate(18, 0, 0).After(pv.now())
	})
	return pv
}

func mustRegister(v *validatorv10.Validate, tag string, fn validatorv10.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("onboarding: register %s validation: %v", tag, err))
	}
}

func validSSN(fl validatorv10.FieldLevel) bool {
	m := ssnPattern.FindStringSubmatch(fl.Field().String())
	if m == nil {
		return false
	}
	area, group, serial := m[1], m[2], m[3]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	return group != "00" && serial != "0000"
}

// Check validates a struct and returns its field errors in declaration order.
func (pv *Validator) Check(s any) FieldErrors {
	err := pv.v.Struct(s)
	if err == nil {
		return nil
	}
	var out FieldErrors
	ve, ok := err.(validatorv10.ValidationErrors)
	if !ok {
		out.Add("form", "Form", "The form could not be read. Please try again.")
		return out
	}
	t := reflect.TypeOf(s)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	for _, fe := range ve {
		label := fe.Field()
		if sf, ok := t.FieldByName(fe.StructField()); ok {
			if l := sf.Tag.Get("label"); l != "" {
				label = l
			}
		}
		out.Add(fe.Field(), label, messageFor(fe, label))
	}
	return out
}

func messageFor(fe validatorv10.FieldError, label string) string {
	switch fe.Tag() {
	case "required":
		if fe.Kind() == reflect.Bool {
			return "You must accept the terms to continue."
		}
		return label + " is required."
	case "email":
		return "Enter a valid email address."
	case "ssn":
		return "Enter a valid 9 digit Social Security number."
	case "usphone":
		return "Enter a 10 digit phone number."
	case "zip":
		return "Enter a 5 digit ZIP code."
	case "usstate":
		return "Choose a state."
	case "datetime":
		return label + " must be a date like 1985-04-23."
	case "adult":
		return "You must be at least 18 years old."
	case "max":
		return fmt.Sprintf("%s must be at most %s characters.", label, fe.Param())
	case "alphanum":
		return label + " may only contain letters and numbers."
	default:
		return label + " is invalid."
	}
}
