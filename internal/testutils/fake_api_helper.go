package testutils

import (
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/blockadesystems/creditportal/internal/backend"
	"github.com/blockadesystems/creditportal/internal/envelope"
	"github.com/blockadesystems/creditportal/internal/model"
	"github.com/blockadesystems/creditportal/internal/tracking"
)

const (
	AdminEmail    = "admin@example.com"
	AdminPassword = "correct-horse"
)

// FakeAPI is an in-memory stand-in for the remote REST API, served over
// httptest. It decrypts submitted envelopes with its own session key so tests
// can assert on what would reach the real backend.
type FakeAPI struct {
	Server *httptest.Server
	Scheme envelope.Scheme

	mu          sync.Mutex
	key         *rsa.PrivateKey
	publicPEM   string
	sessionID   string
	token       string
	requests    []*model.CreditRepairRequest
	customers   []*model.Customer
	referrals   map[string][]model.Referral // customer id -> referrals
	codes       map[string]string           // referral code -> referrer name
	submissions [][]byte
	uploads     []string
	calls       []string

	// UploadStatus forces a status code for uploads whose filename matches a key.
	UploadStatus map[string]int
	// UploadDelay stalls uploads whose filename matches a key.
	UploadDelay map[string]time.Duration
}

// SetupFakeAPI starts a FakeAPI seeded with two customers and their requests.
// The server is closed when the test finishes.
func SetupFakeAPI(t *testing.T) *FakeAPI {
	t.Helper()

	key, pemStr, err := envelope.GenerateSessionKey(2048)
	if err != nil {
		t.Fatalf("Failed to generate session key for fake API: %v", err)
	}
	f := &FakeAPI{
		Scheme:       envelope.SchemeCBC,
		key:          key,
		publicPEM:    pemStr,
		sessionID:    uuid.NewString(),
		token:        MintToken(t, time.Now().Add(time.Hour)),
		referrals:    map[string][]model.Referral{},
		codes:        map[string]string{"FRIEND10": "Dana Scully"},
		UploadStatus: map[string]int{},
		UploadDelay:  map[string]time.Duration{},
	}
	f.seed()

	e := echo.New()
	e.HideBanner = true
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			f.mu.Lock()
			f.calls = append(f.calls, c.Request().Method+" "+c.Request().URL.Path)
			f.mu.Unlock()
			return next(c)
		}
	})
	e.POST("/admin/auth", f.handleLogin)
	admin := e.Group("/admin", f.requireToken)
	admin.GET("/credit-repair-requests", f.handleListRequests)
	admin.GET("/credit-repair-requests/:id", f.handleGetRequest)
	admin.POST("/credit-repair-requests/:id/status", f.handleUpdateStatus)
	admin.GET("/customers", f.handleListCustomers)
	admin.GET("/customers/:id", f.handleGetCustomer)
	e.POST("/encryption/get-public-key", f.handlePublicKey)
	e.POST("/credit-repair-requests", f.handleSubmit)
	e.GET("/credit-repair-requests/track/:trackingId", f.handleTrack)
	e.POST("/media", f.handleUpload)
	e.POST("/referrals/validate", f.handleValidateReferral)
	refs := e.Group("/referrals", f.requireToken)
	refs.GET("/statistics", f.handleStatistics)
	refs.GET("/customer/:id/referral-code", f.handleReferralCode)
	refs.GET("/customer/:id/referrals", f.handleCustomerReferrals)
	refs.POST("/customer/:id/apply", f.handleApplyReferral)

	f.Server = httptest.NewServer(e)
	t.Cleanup(f.Server.Close)
	return f
}

// MintToken returns an HS256 JWT expiring at exp, shaped like the API's admin
// tokens. Every call yields a distinct token.
func MintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte("fake-api-signing-key-32-bytes-long!")},
		(&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	raw, err := jwt.Signed(sig).Claims(jwt.Claims{
		ID:       uuid.NewString(),
		Subject:  "admin-1",
		IssuedAt: jwt.NewNumericDate(time.Now()),
		Expiry:   jwt.NewNumericDate(exp),
	}).Serialize()
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return raw
}

// Client returns an anonymous backend client pointed at the fake.
func (f *FakeAPI) Client(t *testing.T) *backend.Client {
	t.Helper()
	c, err := backend.New(f.Server.URL, 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to create backend client: %v", err)
	}
	return c
}

// Token is the credential Login hands out.
func (f *FakeAPI) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

// RevokeToken makes every admin call fail with 401 from now on.
func (f *FakeAPI) RevokeToken() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = "revoked"
}

// ServePublicKey makes the key endpoint hand out publicPEM instead of the
// fake's own session key.
func (f *FakeAPI) ServePublicKey(publicPEM string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publicPEM = publicPEM
}

// Submissions returns the decrypted plaintext of every accepted submission.
func (f *FakeAPI) Submissions() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.submissions...)
}

// Uploads returns the filenames received by the media endpoint.
func (f *FakeAPI) Uploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}

// Calls returns "METHOD path" for every request received.
func (f *FakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Request returns the stored request with the given id.
func (f *FakeAPI) Request(id string) *model.CreditRepairRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.ID == id {
			cp := *r
			return &cp
		}
	}
	return nil
}

func (f *FakeAPI) seed() {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	mk := func(id, tid, custID, first, last string, status int) *model.CreditRepairRequest {
		r := &model.CreditRepairRequest{
			ID: id, TrackingID: tid, CustomerID: custID, FirstName: first, LastName: last,
			Email:       strings.ToLower(first) + "@example.com",
			Phone:       "(555) 010-0000",
			Address:     &model.Address{Street1: "1 Main St", City: "Springfield", State: "IL", ZipCode: "62701"},
			AllStatuses: tracking.DefaultCatalog(),
			CreatedAt:   base,
			UpdatedAt:   base,
		}
		for code := 1; code <= status && code <= tracking.StatusConfirmDeliver; code++ {
			r.StatusHistory = append(r.StatusHistory, model.HistoryEntry{
				Status: code, StatusText: tracking.Label(code),
				Timestamp: base.Add(time.Duration(code) * 24 * time.Hour).Format(time.RFC3339),
				UpdatedBy: "agent@example.com",
			})
		}
		r.Status, r.StatusText = status, tracking.Label(status)
		return r
	}
	f.requests = []*model.CreditRepairRequest{
		mk("req-1", "CR-1001", "cust-1", "Fox", "Mulder", tracking.StatusPartnerProcess),
		mk("req-2", "CR-1002", "cust-2", "Dana", "Scully", tracking.StatusConfirmDeliver),
	}
	f.customers = []*model.Customer{
		{ID: "cust-1", FirstName: "Fox", LastName: "Mulder", Email: "fox@example.com", CreatedAt: base,
			Documents: []model.MediaFile{{ID: "m-1", URL: "https://files.example.com/m-1?sig=abc", OriginalName: "bill.pdf"}}},
		{ID: "cust-2", FirstName: "Dana", LastName: "Scully", Email: "dana@example.com", ReferralCode: "FRIEND10", CreatedAt: base},
	}
	f.referrals["cust-2"] = []model.Referral{{ID: "ref-1", ReferredCustomerID: "cust-1", ReferredName: "Fox Mulder", Status: "completed", CreatedAt: base}}
}

func (f *FakeAPI) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		f.mu.Lock()
		want := "Bearer " + f.token
		f.mu.Unlock()
		if c.Request().Header.Get("Authorization") != want {
			return c.JSON(http.StatusUnauthorized, model.ProblemDetails{Message: "Invalid or expired token"})
		}
		return next(c)
	}
}

func (f *FakeAPI) handleLogin(c echo.Context) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, model.ProblemDetails{Message: "Invalid body"})
	}
	if body.Email != AdminEmail || body.Password != AdminPassword {
		return c.JSON(http.StatusUnauthorized, model.ProblemDetails{Message: "Invalid email or password"})
	}
	return c.JSON(http.StatusOK, model.AuthResponse{
		Token: f.token,
		User:  model.AdminUser{ID: "admin-1", Email: AdminEmail, Name: "Walter Skinner", Role: "admin"},
	})
}

func paginate[T any](items []T, c echo.Context) model.Page[T] {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	total := len(items)
	start := min((page-1)*limit, total)
	end := min(start+limit, total)
	return model.Page[T]{
		Data:       items[start:end],
		Pagination: model.Pagination{Page: page, Limit: limit, Total: total, TotalPages: (total + limit - 1) / limit},
	}
}

func (f *FakeAPI) handleListRequests(c echo.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	filter, _ := strconv.Atoi(c.QueryParam("filterStatus"))
	search := strings.ToLower(c.QueryParam("search"))
	var out []model.CreditRepairRequest
	for _, r := range f.requests {
		if filter > 0 && r.Status != filter {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(r.FullName()+" "+r.Email+" "+r.TrackingID), search) {
			continue
		}
		out = append(out, *r)
	}
	if c.QueryParam("sortOrder") == "desc" {
		sort.SliceStable(out, func(i, j int) bool { return out[i].TrackingID > out[j].TrackingID })
	}
	return c.JSON(http.StatusOK, paginate(out, c))
}

func (f *FakeAPI) handleGetRequest(c echo.Context) error {
	if r := f.Request(c.Param("id")); r != nil {
		return c.JSON(http.StatusOK, r)
	}
	return c.JSON(http.StatusNotFound, model.ProblemDetails{Message: "Request not found"})
}

func (f *FakeAPI) handleUpdateStatus(c echo.Context) error {
	var body struct {
		NewStatus int    `json:"newStatus"`
		UserNotes string `json:"userNotes"`
	}
	if err := c.Bind(&body); err != nil || !tracking.ValidStatus(body.NewStatus) {
		return c.JSON(http.StatusBadRequest, model.ProblemDetails{Message: "Invalid status"})
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.ID != c.Param("id") {
			continue
		}
		r.Status, r.StatusText = body.NewStatus, tracking.Label(body.NewStatus)
		r.StatusHistory = append(r.StatusHistory, model.HistoryEntry{
			Status: body.NewStatus, StatusText: r.StatusText,
			Timestamp: time.Now().UTC().Format(time.RFC3339), UpdatedBy: AdminEmail, UserNotes: body.UserNotes,
		})
		return c.JSON(http.StatusOK, r)
	}
	return c.JSON(http.StatusNotFound, model.ProblemDetails{Message: "Request not found"})
}

func (f *FakeAPI) handleListCustomers(c echo.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	search := strings.ToLower(c.QueryParam("search"))
	var out []model.Customer
	for _, cu := range f.customers {
		if search != "" && !strings.Contains(strings.ToLower(cu.FullName()+" "+cu.Email), search) {
			continue
		}
		out = append(out, *cu)
	}
	return c.JSON(http.StatusOK, paginate(out, c))
}

func (f *FakeAPI) handleGetCustomer(c echo.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cu := range f.customers {
		if cu.ID == c.Param("id") {
			out := *cu
			for _, r := range f.requests {
				if r.CustomerID == cu.ID {
					out.Requests = append(out.Requests, *r)
				}
			}
			return c.JSON(http.StatusOK, out)
		}
	}
	return c.JSON(http.StatusNotFound, model.ProblemDetails{Message: "Customer not found"})
}

func (f *FakeAPI) handlePublicKey(c echo.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return c.JSON(http.StatusOK, model.SessionKeyMaterial{PublicKey: f.publicPEM, SessionID: f.sessionID})
}

func (f *FakeAPI) handleSubmit(c echo.Context) error {
	var p envelope.Payload
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusBadRequest, model.ProblemDetails{Message: "Invalid body"})
	}
	if p.SessionID != f.sessionID {
		return c.JSON(http.StatusBadRequest, model.ProblemDetails{Message: "Unknown encryption session"})
	}
	plain, err := envelope.Open(f.Scheme, p, f.key)
	if err != nil {
		return c.JSON(http.StatusBadRequest, model.ProblemDetails{Message: "Could not decrypt submission"})
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, plain)
	n := len(f.requests) + 1
	now := time.Now().UTC()
	r := &model.CreditRepairRequest{
		ID:          fmt.Sprintf("req-%d", n),
		TrackingID:  fmt.Sprintf("CR-%d", 1000+n),
		Status:      tracking.StatusGetStarted,
		StatusText:  tracking.Label(tracking.StatusGetStarted),
		AllStatuses: tracking.DefaultCatalog(),
		StatusHistory: []model.HistoryEntry{{
			Status: tracking.StatusGetStarted, StatusText: tracking.Label(tracking.StatusGetStarted),
			Timestamp: now.Format(time.RFC3339), UpdatedBy: "system",
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.requests = append(f.requests, r)
	return c.JSON(http.StatusCreated, model.SubmissionReceipt{ID: r.ID, TrackingID: r.TrackingID, Message: "Request received"})
}

func (f *FakeAPI) handleTrack(c echo.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.TrackingID == c.Param("trackingId") {
			return c.JSON(http.StatusOK, r.Snapshot())
		}
	}
	return c.JSON(http.StatusNotFound, model.ProblemDetails{Message: "Tracking ID not found"})
}

func (f *FakeAPI) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("files")
	if err != nil {
		return c.JSON(http.StatusBadRequest, model.ProblemDetails{Message: "No file"})
	}
	if d := f.UploadDelay[fh.Filename]; d > 0 {
		select {
		case <-time.After(d):
		case <-c.Request().Context().Done():
			return nil
		}
	}
	if status := f.UploadStatus[fh.Filename]; status != 0 {
		return c.JSON(status, model.ProblemDetails{Message: http.StatusText(status)})
	}
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	size, _ := io.Copy(io.Discard, src)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, fh.Filename)
	id := fmt.Sprintf("media-%d", len(f.uploads))
	return c.JSON(http.StatusOK, model.MediaUploadResponse{Files: []model.MediaFile{{
		ID: id, URL: "https://files.example.com/" + id, OriginalName: fh.Filename,
		MimeType: fh.Header.Get("Content-Type"), Size: size,
	}}})
}

func (f *FakeAPI) handleValidateReferral(c echo.Context) error {
	var body struct {
		ReferralCode string `json:"referralCode"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, model.ProblemDetails{Message: "Invalid body"})
	}
	f.mu.Lock()
	name, ok := f.codes[strings.ToUpper(body.ReferralCode)]
	f.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusOK, model.ReferralValidation{Valid: false, Message: "Referral code not found"})
	}
	return c.JSON(http.StatusOK, model.ReferralValidation{Valid: true, ReferrerName: name})
}

func (f *FakeAPI) handleStatistics(c echo.Context) error {
	return c.JSON(http.StatusOK, model.ReferralStatistics{
		TotalReferrals: 4, CompletedReferrals: 3, PendingReferrals: 1, ActiveReferralCodes: 2,
		TopReferrers: []model.TopReferrer{{CustomerID: "cust-2", Name: "Dana Scully", ReferralCode: "FRIEND10", ReferralCount: 3}},
	})
}

func (f *FakeAPI) handleReferralCode(c echo.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cu := range f.customers {
		if cu.ID == c.Param("id") {
			if cu.ReferralCode == "" {
				cu.ReferralCode = "CODE" + strings.ToUpper(strings.TrimPrefix(cu.ID, "cust-"))
				f.codes[cu.ReferralCode] = cu.FullName()
			}
			return c.JSON(http.StatusOK, model.ReferralCode{CustomerID: cu.ID, Code: cu.ReferralCode})
		}
	}
	return c.JSON(http.StatusNotFound, model.ProblemDetails{Message: "Customer not found"})
}

func (f *FakeAPI) handleCustomerReferrals(c echo.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return c.JSON(http.StatusOK, map[string][]model.Referral{"referrals": f.referrals[c.Param("id")]})
}

func (f *FakeAPI) handleApplyReferral(c echo.Context) error {
	var body struct {
		ReferralCode string `json:"referralCode"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, model.ProblemDetails{Message: "Invalid body"})
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.codes[strings.ToUpper(body.ReferralCode)]
	if !ok {
		return c.JSON(http.StatusBadRequest, model.ProblemDetails{Message: "Referral code not found"})
	}
	return c.JSON(http.StatusOK, model.ReferralValidation{Valid: true, ReferrerName: name, Message: "Referral applied"})
}
