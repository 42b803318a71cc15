// Package protocol maps document store results onto the HTTP sync protocol:
// quoted-decimal ETags, If-Match parsing and status codes.
package protocol

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aiqsync/datasync/internal/document"
)

const (
	HeaderETag     = "ETag"
	HeaderIfMatch  = "If-Match"
	HeaderUserID   = "X-AIQ-UserId"
	HeaderDeviceID = "X-AIQ-DeviceId"

	// ClientSessionType is the pseudo-document type clients use for session
	// lifecycle. It is not backed by the store.
	ClientSessionType = "_clientsession"
)

// ErrMalformedETag is returned by ParseETag for anything but a quoted decimal.
var ErrMalformedETag = errors.New("malformed etag")

// FormatETag renders rev as an ETag, e.g. 7 -> "7" (quotes included).
func FormatETag(rev uint64) string {
	return `"` + strconv.FormatUint(rev, 10) + `"`
}

// ParseETag strips the surrounding quotes from an If-Match value and parses
// the revision inside.
func ParseETag(v string) (uint64, error) {
	if len(v) < 3 || v[0] != '"' || v[len(v)-1] != '"' {
		return 0, fmt.Errorf("%w: %q", ErrMalformedETag, v)
	}
	rev, err := strconv.ParseUint(v[1:len(v)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedETag, v)
	}
	return rev, nil
}

// IsReservedType reports whether docType is owned by the protocol rather than
// the document store.
func IsReservedType(docType string) bool {
	return docType == ClientSessionType
}

// StatusFor maps a store error to its protocol status. nil maps to 200; the
// caller picks the success status per operation.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, document.ErrValidation), errors.Is(err, ErrMalformedETag):
		return http.StatusBadRequest
	case errors.Is(err, document.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, document.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, document.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ListResponse is the body of a list request.
type ListResponse struct {
	DocumentReferences []document.Reference `json:"documentReferences"`
}

// NewListResponse never serializes a nil slice as null.
func NewListResponse(refs []document.Reference) ListResponse {
	if refs == nil {
		refs = []document.Reference{}
	}
	return ListResponse{DocumentReferences: refs}
}

// LogoutRequest is the body of a logout request.
type LogoutRequest struct {
	UserID string `json:"userId"`
}
