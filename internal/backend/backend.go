package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/blockadesystems/creditportal/internal/model"
)

const loginPath = "/admin/auth"

// --- Interfaces ---

// Backend is the remote REST API the portal drives. Implementations carry at
// most one admin credential; WithCredential returns a copy bound to another.
type Backend interface {
	// Admin auth
	Login(ctx context.Context, email, password string) (*model.AuthResponse, error)

	// Credit repair requests
	ListRequests(ctx context.Context, q model.ListQuery) (*model.Page[model.CreditRepairRequest], error)
	GetRequest(ctx context.Context, id string) (*model.CreditRepairRequest, error)
	UpdateRequestStatus(ctx context.Context, id string, newStatus int, userNotes string) (*model.CreditRepairRequest, error)

	// Customers
	ListCustomers(ctx context.Context, q model.ListQuery) (*model.Page[model.Customer], error)
	GetCustomer(ctx context.Context, id string) (*model.Customer, error)

	// Onboarding
	GetPublicKey(ctx context.Context) (*model.SessionKeyMaterial, error)
	SubmitRequest(ctx context.Context, body any) (*model.SubmissionReceipt, error)
	UploadMedia(ctx context.Context, filename, contentType string, r io.Reader) ([]model.MediaFile, error)
	Track(ctx context.Context, trackingID string) (*model.TrackingSnapshot, error)

	// Referrals
	ValidateReferral(ctx context.Context, code string) (*model.ReferralValidation, error)
	GetReferralCode(ctx context.Context, customerID string) (*model.ReferralCode, error)
	GetCustomerReferrals(ctx context.Context, customerID string) ([]model.Referral, error)
	ApplyReferral(ctx context.Context, customerID, code string) (*model.ReferralValidation, error)
	ReferralStatistics(ctx context.Context) (*model.ReferralStatistics, error)

	WithCredential(token string) Backend
	Credentialed() bool
}

// --- HTTP Implementation ---

// Client talks to the REST API over HTTP with a fixed per-instance timeout
// and no retries.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	credential string
	logger     *zap.Logger
}

// Ensure Client implements Backend (compile-time check).
var _ Backend = (*Client)(nil)

// New builds a client for baseURL. An empty baseURL yields a client whose
// calls all fail with ErrNotConfigured, so the site still renders. The client
// logs through the global zap logger in place when New is called.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     zap.L().With(zap.String("package", "backend")),
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		c.logger.Warn("API base URL not configured; backend calls will fail")
		return c, nil
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend: invalid API base URL %q", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	c.baseURL = u
	return c, nil
}

// WithCredential returns a copy of c that attaches token as a bearer credential.
func (c *Client) WithCredential(token string) Backend {
	cp := *c
	cp.credential = strings.TrimSpace(token)
	return &cp
}

// Credentialed reports whether a bearer credential is attached.
func (c *Client) Credentialed() bool { return c.credential != "" }

func (c *Client) Login(ctx context.Context, email, password string) (*model.AuthResponse, error) {
	var out model.AuthResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, loginPath, nil, body, &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, fmt.Errorf("backend: login response carried no token")
	}
	return &out, nil
}

func (c *Client) ListRequests(ctx context.Context, q model.ListQuery) (*model.Page[model.CreditRepairRequest], error) {
	var out model.Page[model.CreditRepairRequest]
	if err := c.doJSON(ctx, http.MethodGet, "/admin/credit-repair-requests", listValues(q), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetRequest(ctx context.Context, id string) (*model.CreditRepairRequest, error) {
	var out model.CreditRepairRequest
	if err := c.doJSON(ctx, http.MethodGet, "/admin/credit-repair-requests/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateRequestStatus(ctx context.Context, id string, newStatus int, userNotes string) (*model.CreditRepairRequest, error) {
	body := struct {
		NewStatus int    `json:"newStatus"`
		UserNotes string `json:"userNotes,omitempty"`
	}{NewStatus: newStatus, UserNotes: userNotes}
	var out model.CreditRepairRequest
	if err := c.doJSON(ctx, http.MethodPost, "/admin/credit-repair-requests/"+url.PathEscape(id)+"/status", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListCustomers(ctx context.Context, q model.ListQuery) (*model.Page[model.Customer], error) {
	var out model.Page[model.Customer]
	if err := c.doJSON(ctx, http.MethodGet, "/admin/customers", listValues(q), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCustomer(ctx context.Context, id string) (*model.Customer, error) {
	var out model.Customer
	query := url.Values{"presignedUrls": {"true"}}
	if err := c.doJSON(ctx, http.MethodGet, "/admin/customers/"+url.PathEscape(id), query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPublicKey(ctx context.Context) (*model.SessionKeyMaterial, error) {
	var out model.SessionKeyMaterial
	if err := c.doJSON(ctx, http.MethodPost, "/encryption/get-public-key", nil, struct{}{}, &out); err != nil {
		return nil, err
	}
	if out.PublicKey == "" || out.SessionID == "" {
		return nil, fmt.Errorf("backend: key service returned incomplete key material")
	}
	return &out, nil
}

func (c *Client) SubmitRequest(ctx context.Context, body any) (*model.SubmissionReceipt, error) {
	var out model.SubmissionReceipt
	if err := c.doJSON(ctx, http.MethodPost, "/credit-repair-requests", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UploadMedia(ctx context.Context, filename, contentType string, r io.Reader) ([]model.MediaFile, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, escapeQuotes(filename)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("backend: failed to build multipart body: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("backend: failed to read upload %q: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("backend: failed to finish multipart body: %w", err)
	}

	var out model.MediaUploadResponse
	if err := c.do(ctx, http.MethodPost, "/media", nil, &buf, mw.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	if len(out.Files) == 0 {
		return nil, fmt.Errorf("backend: upload of %q returned no files", filename)
	}
	return out.Files, nil
}

func (c *Client) Track(ctx context.Context, trackingID string) (*model.TrackingSnapshot, error) {
	var out model.TrackingSnapshot
	if err := c.doJSON(ctx, http.MethodGet, "/credit-repair-requests/track/"+url.PathEscape(trackingID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ValidateReferral(ctx context.Context, code string) (*model.ReferralValidation, error) {
	var out model.ReferralValidation
	if err := c.doJSON(ctx, http.MethodPost, "/referrals/validate", nil, map[string]string{"referralCode": code}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetReferralCode(ctx context.Context, customerID string) (*model.ReferralCode, error) {
	var out model.ReferralCode
	if err := c.doJSON(ctx, http.MethodGet, "/referrals/customer/"+url.PathEscape(customerID)+"/referral-code", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCustomerReferrals(ctx context.Context, customerID string) ([]model.Referral, error) {
	var out struct {
		Referrals []model.Referral `json:"referrals"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/referrals/customer/"+url.PathEscape(customerID)+"/referrals", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Referrals, nil
}

func (c *Client) ApplyReferral(ctx context.Context, customerID, code string) (*model.ReferralValidation, error) {
	var out model.ReferralValidation
	if err := c.doJSON(ctx, http.MethodPost, "/referrals/customer/"+url.PathEscape(customerID)+"/apply", nil, map[string]string{"referralCode": code}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ReferralStatistics(ctx context.Context) (*model.ReferralStatistics, error) {
	var out model.ReferralStatistics
	if err := c.doJSON(ctx, http.MethodGet, "/referrals/statistics", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Helpers ---

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: failed to encode %s %s body: %w", method, path, err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, query, body, contentType, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	if c.baseURL == nil {
		return ErrNotConfigured
	}
	target := c.baseURL.String() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("backend: failed to build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}

	l := c.logger.With(zap.String("method", method), zap.String("path", path))
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			l.Warn("backend call timed out", zap.Duration("elapsed", time.Since(start)))
			return fmt.Errorf("backend: %s %s: %w", method, path, ErrTimeout)
		}
		l.Warn("backend call failed", zap.Error(err))
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("backend: failed to read %s %s response: %w", method, path, err)
	}
	l.Debug("backend call completed", zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, raw, path != loginPath)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("backend: failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func listValues(q model.ListQuery) url.Values {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.SortBy != "" {
		v.Set("sortBy", q.SortBy)
	}
	if q.SortOrder != "" {
		v.Set("sortOrder", q.SortOrder)
	}
	if q.FilterStatus > 0 {
		v.Set("filterStatus", strconv.Itoa(q.FilterStatus))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	return v
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}
