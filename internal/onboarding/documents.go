package onboarding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/blockadesystems/creditportal/internal/backend"
)

// DocumentType names an identity document the onboarding form collects.
type DocumentType string

const (
	UtilityBill    DocumentType = "utilityBill"
	DriversLicense DocumentType = "driversLicense"
)

// RequiredDocuments lists the documents every submission carries, in form order.
var RequiredDocuments = []DocumentType{UtilityBill, DriversLicense}

// Label is the human name of the document.
func (d DocumentType) Label() string {
	switch d {
	case UtilityBill:
		return "Utility bill"
	case DriversLicense:
		return "Driver's license"
	default:
		return string(d)
	}
}

var allowedTypes = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// Upload is one document picked in the form.
type Upload struct {
	Document    DocumentType
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadResult pairs a document with the media id the API assigned.
type UploadResult struct {
	Document DocumentType
	Filename string
	MediaID  string
	URL      string
}

// UploadErrorKind classifies an upload failure.
type UploadErrorKind int

const (
	UploadFailed UploadErrorKind = iota
	UploadTooLarge
	UploadUnsupportedType
	UploadTimeout
)

// UploadError reports the first failed document of a batch. Succeeded lists
// the documents of the same batch that did reach the API.
type UploadError struct {
	Document  DocumentType
	Kind      UploadErrorKind
	Limit     int64 // Size ceiling in bytes, for UploadTooLarge
	Err       error
	Succeeded []UploadResult
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("onboarding: upload %s: %s", e.Document, e.Message())
}

func (e *UploadError) Unwrap() error { return e.Err }

// Message is the text shown to the applicant.
func (e *UploadError) Message() string {
	label := e.Document.Label()
	switch e.Kind {
	case UploadTooLarge:
		if e.Limit >= 1<<20 {
			return fmt.Sprintf("%s is too large. Please upload a file under %d MB.", label, e.Limit>>20)
		}
		return label + " is too large. Please upload a smaller file."
	case UploadUnsupportedType:
		return label + " must be a PDF, JPG or PNG file."
	case UploadTimeout:
		return label + " took too long to upload. Please check your connection and try again."
	default:
		return label + " could not be uploaded. Please try again."
	}
}

// ValidateUpload checks type and size before any bytes leave the server.
// It fills in ContentType from the extension when the browser sent none.
func ValidateUpload(u *Upload, maxBytes int64) error {
	ct, ok := allowedTypes[strings.ToLower(filepath.Ext(u.Filename))]
	if !ok {
		return &UploadError{Document: u.Document, Kind: UploadUnsupportedType}
	}
	declared, _, _ := strings.Cut(u.ContentType, ";")
	declared = strings.TrimSpace(strings.ToLower(declared))
	switch declared {
	case "", "application/octet-stream":
		u.ContentType = ct
	case ct:
		u.ContentType = declared
	default:
		return &UploadError{Document: u.Document, Kind: UploadUnsupportedType}
	}
	if maxBytes > 0 && u.Size > maxBytes {
		return &UploadError{Document: u.Document, Kind: UploadTooLarge, Limit: maxBytes}
	}
	return nil
}

// UploadDocuments uploads every document concurrently. One failure does not
// cancel the others: results for successful uploads are always returned,
// and the first failure in input order is returned as a single *UploadError.
func UploadDocuments(ctx context.Context, api backend.Backend, uploads []Upload, maxBytes int64) ([]UploadResult, error) {
	for i := range uploads {
		if err := ValidateUpload(&uploads[i], maxBytes); err != nil {
			return nil, err
		}
	}

	results := make([]UploadResult, len(uploads))
	errs := make([]*UploadError, len(uploads))
	var g errgroup.Group
	for i, u := range uploads {
		g.Go(func() error {
			files, err := api.UploadMedia(ctx, u.Filename, u.ContentType, u.Body)
			if err != nil {
				errs[i] = classifyUpload(u.Document, err, maxBytes)
				return nil
			}
			results[i] = UploadResult{Document: u.Document, Filename: u.Filename, MediaID: files[0].ID, URL: files[0].URL}
			return nil
		})
	}
	_ = g.Wait()

	var kept []UploadResult
	var first *UploadError
	for i := range uploads {
		if errs[i] != nil {
			if first == nil {
				first = errs[i]
			}
			continue
		}
		kept = append(kept, results[i])
	}
	if first != nil {
		first.Succeeded = kept
		return kept, first
	}
	return kept, nil
}

func classifyUpload(doc DocumentType, err error, maxBytes int64) *UploadError {
	ue := &UploadError{Document: doc, Kind: UploadFailed, Limit: maxBytes, Err: err}
	switch {
	case errors.Is(err, backend.ErrTimeout):
		ue.Kind = UploadTimeout
	case backend.StatusOf(err) == http.StatusRequestEntityTooLarge:
		ue.Kind = UploadTooLarge
	case backend.StatusOf(err) == http.StatusNotAcceptable, backend.StatusOf(err) == http.StatusUnsupportedMediaType:
		ue.Kind = UploadUnsupportedType
	}
	return ue
}
