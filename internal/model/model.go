package model

import (
	"time"
)

// AdminUser is the back-office operator returned by the auth endpoint.
type AdminUser struct {
	ID    string `json:"_id"`            // Backend identifier
	Email string `json:"email"`          // Login email
	Name  string `json:"name,omitempty"` // Display name
	Role  string `json:"role,omitempty"` // e.g., "admin", "agent"
}

// DisplayName returns the name to greet the operator with.
func (u AdminUser) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// AuthResponse is the body of POST /admin/auth.
type AuthResponse struct {
	Token string    `json:"token"` // Bearer credential attached to admin calls
	User  AdminUser `json:"user"`
}

// StageDefinition is one entry of the ordered lifecycle catalog.
type StageDefinition struct {
	Status      int    `json:"status"`      // Integer stage code, ascending in the catalog
	StatusText  string `json:"statusText"`  // Short label, e.g., "Partner Processing"
	Description string `json:"description"` // Explanatory text shown under the label
}

// HistoryEntry is one audit-trail record of a status change.
type HistoryEntry struct {
	Status     int    `json:"status"`              // Stage code entered
	StatusText string `json:"statusText"`          // Label at the time of the change
	Timestamp  string `json:"timestamp"`           // ISO datetime; kept raw because the backend does not guarantee it parses
	UpdatedBy  string `json:"updatedBy"`           // Actor identifier
	UserNotes  string `json:"userNotes,omitempty"` // Optional free text
}

// TrackingSnapshot is the payload of GET /credit-repair-requests/track/:trackingId.
type TrackingSnapshot struct {
	CustomerName   string            `json:"customerName"`
	SubmissionDate string            `json:"submissionDate"`
	CurrentStatus  int               `json:"currentStatus"`
	StatusText     string            `json:"statusText"`
	AllStatuses    []StageDefinition `json:"allStatuses"`
	StatusHistory  []HistoryEntry    `json:"statusHistory"`
}

// Address is a US postal address.
type Address struct {
	Street1 string `json:"street1"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
}

// MediaFile is an uploaded document as stored by the backend.
type MediaFile struct {
	ID           string `json:"_id"`                    // Media identifier referenced by submissions
	URL          string `json:"url"`                    // Public or presigned URL
	OriginalName string `json:"originalName,omitempty"` // Filename as uploaded
	MimeType     string `json:"mimeType,omitempty"`
	Size         int64  `json:"size,omitempty"`
}

// MediaUploadResponse is the body of POST /media.
type MediaUploadResponse struct {
	Files []MediaFile `json:"files"`
}

// CreditRepairRequest is an onboarding submission as seen by the admin console.
type CreditRepairRequest struct {
	ID            string            `json:"_id"`
	TrackingID    string            `json:"trackingId"`
	CustomerID    string            `json:"customerId,omitempty"`
	FirstName     string            `json:"firstName"`
	LastName      string            `json:"lastName"`
	Email         string            `json:"email"`
	Phone         string            `json:"phone,omitempty"`
	Status        int               `json:"status"`
	StatusText    string            `json:"statusText"`
	ReferralCode  string            `json:"referralCode,omitempty"`
	Address       *Address          `json:"address,omitempty"`
	Documents     []MediaFile       `json:"documents,omitempty"`
	StatusHistory []HistoryEntry    `json:"statusHistory,omitempty"`
	AllStatuses   []StageDefinition `json:"allStatuses,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// FullName joins first and last name.
func (r CreditRepairRequest) FullName() string {
	return joinName(r.FirstName, r.LastName)
}

// Snapshot adapts a request to the tracking payload shape so the admin detail
// and the public tracking page share one derivation.
func (r CreditRepairRequest) Snapshot() TrackingSnapshot {
	return TrackingSnapshot{
		CustomerName:   r.FullName(),
		SubmissionDate: r.CreatedAt.Format(time.RFC3339),
		CurrentStatus:  r.Status,
		StatusText:     r.StatusText,
		AllStatuses:    r.AllStatuses,
		StatusHistory:  r.StatusHistory,
	}
}

// Customer is a person who has submitted at least one request.
type Customer struct {
	ID           string                `json:"_id"`
	FirstName    string                `json:"firstName"`
	LastName     string                `json:"lastName"`
	Email        string                `json:"email"`
	Phone        string                `json:"phone,omitempty"`
	Address      *Address              `json:"address,omitempty"`
	ReferralCode string                `json:"referralCode,omitempty"`
	Documents    []MediaFile           `json:"documents,omitempty"` // URLs are presigned when requested with presignedUrls=true
	Requests     []CreditRepairRequest `json:"requests,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
}

// FullName joins first and last name.
func (c Customer) FullName() string {
	return joinName(c.FirstName, c.LastName)
}

// Pagination describes one page of a list endpoint.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// HasNext reports whether a later page exists.
func (p Pagination) HasNext() bool { return p.Page < p.TotalPages }

// HasPrev reports whether an earlier page exists.
func (p Pagination) HasPrev() bool { return p.Page > 1 }

// Page is a paginated list response.
type Page[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// ListQuery holds the list endpoint query parameters.
type ListQuery struct {
	Page         int
	Limit        int
	SortBy       string
	SortOrder    string // "asc" or "desc"
	FilterStatus int    // 0 means no filter
	Search       string
}

// SessionKeyMaterial is issued by POST /encryption/get-public-key for one submission.
type SessionKeyMaterial struct {
	PublicKey string `json:"publicKey"` // PEM encoded RSA public key
	SessionID string `json:"sessionId"` // Opaque, passed through unmodified
}

// SubmissionReceipt is the body returned by POST /credit-repair-requests.
type SubmissionReceipt struct {
	ID         string `json:"_id"`
	TrackingID string `json:"trackingId"`
	Message    string `json:"message,omitempty"`
}

// ReferralValidation is the result of validating or applying a referral code.
type ReferralValidation struct {
	Valid        bool   `json:"valid"`
	ReferrerName string `json:"referrerName,omitempty"`
	Message      string `json:"message,omitempty"`
}

// ReferralCode is the shareable code owned by a customer.
type ReferralCode struct {
	CustomerID string `json:"customerId"`
	Code       string `json:"referralCode"`
}

// Referral links a referring customer to someone who used their code.
type Referral struct {
	ID                 string    `json:"_id"`
	ReferredCustomerID string    `json:"referredCustomerId"`
	ReferredName       string    `json:"referredName"`
	Status             string    `json:"status"` // e.g., "pending", "completed"
	CreatedAt          time.Time `json:"createdAt"`
}

// TopReferrer is one row of the referral leaderboard.
type TopReferrer struct {
	CustomerID    string `json:"customerId"`
	Name          string `json:"name"`
	ReferralCode  string `json:"referralCode"`
	ReferralCount int    `json:"referralCount"`
}

// ReferralStatistics is the body of GET /referrals/statistics.
type ReferralStatistics struct {
	TotalReferrals      int           `json:"totalReferrals"`
	CompletedReferrals  int           `json:"completedReferrals"`
	PendingReferrals    int           `json:"pendingReferrals"`
	ActiveReferralCodes int           `json:"activeReferralCodes"`
	TopReferrers        []TopReferrer `json:"topReferrers"`
}

// ConversionRate is the share of referrals that completed, in percent.
func (s ReferralStatistics) ConversionRate() float64 {
	if s.TotalReferrals == 0 {
		return 0
	}
	return float64(s.CompletedReferrals) / float64(s.TotalReferrals) * 100
}

// ProblemDetails is the error body the backend sends with non-2xx responses.
type ProblemDetails struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"` // Payment gateway response code when the failure came from the gateway
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}
