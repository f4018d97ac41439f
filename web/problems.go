package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	pkderrors "github.com/iland112/local-pkd-sub003/errors"
	blog "github.com/iland112/local-pkd-sub003/log"
)

// ProblemDetails is an RFC 7807-shaped error body, the same envelope the
// teacher's wfe2 package sends (minus the ACME subproblems extension,
// which has no equivalent in this domain).
type ProblemDetails struct {
	Type       string `json:"type"`
	Detail     string `json:"detail"`
	HTTPStatus int    `json:"status"`
}

// problemDetailsForError maps this domain's PkdError taxonomy (errors.ErrorType,
// spec.md §7) onto an HTTP status and a stable problem "type" slug.
func problemDetailsForError(err error, defaultDetail string) *ProblemDetails {
	pe, ok := err.(*pkderrors.PkdError)
	if !ok {
		return &ProblemDetails{Type: "urn:pkd:problem:serverInternal", Detail: defaultDetail, HTTPStatus: http.StatusInternalServerError}
	}

	switch pe.Type {
	case pkderrors.DuplicateUpload:
		return &ProblemDetails{Type: "urn:pkd:problem:duplicateUpload", Detail: pe.Detail, HTTPStatus: http.StatusConflict}
	case pkderrors.UnsupportedFormat:
		return &ProblemDetails{Type: "urn:pkd:problem:unsupportedFormat", Detail: pe.Detail, HTTPStatus: http.StatusUnsupportedMediaType}
	case pkderrors.ChecksumMismatch:
		return &ProblemDetails{Type: "urn:pkd:problem:checksumMismatch", Detail: pe.Detail, HTTPStatus: http.StatusBadRequest}
	case pkderrors.Oversize:
		return &ProblemDetails{Type: "urn:pkd:problem:oversize", Detail: pe.Detail, HTTPStatus: http.StatusRequestEntityTooLarge}
	case pkderrors.MalformedLDIF, pkderrors.MalformedCMS, pkderrors.MalformedSOD:
		return &ProblemDetails{Type: "urn:pkd:problem:malformed", Detail: pe.Detail, HTTPStatus: http.StatusBadRequest}
	case pkderrors.LdapTimeout:
		return &ProblemDetails{Type: "urn:pkd:problem:ldapTimeout", Detail: pe.Detail, HTTPStatus: http.StatusGatewayTimeout}
	case pkderrors.LdapServer:
		return &ProblemDetails{Type: "urn:pkd:problem:ldapServerError", Detail: pe.Detail, HTTPStatus: http.StatusBadGateway}
	default:
		return &ProblemDetails{Type: "urn:pkd:problem:serverInternal", Detail: pe.Detail, HTTPStatus: http.StatusInternalServerError}
	}
}

func notFoundProblem(detail string) *ProblemDetails {
	return &ProblemDetails{Type: "urn:pkd:problem:notFound", Detail: detail, HTTPStatus: http.StatusNotFound}
}

func malformedProblem(detail string) *ProblemDetails {
	return &ProblemDetails{Type: "urn:pkd:problem:malformed", Detail: detail, HTTPStatus: http.StatusBadRequest}
}

func wrongStateProblem(detail string) *ProblemDetails {
	return &ProblemDetails{Type: "urn:pkd:problem:wrongState", Detail: detail, HTTPStatus: http.StatusConflict}
}

func serverInternalProblem(detail string) *ProblemDetails {
	return &ProblemDetails{Type: "urn:pkd:problem:serverInternal", Detail: detail, HTTPStatus: http.StatusInternalServerError}
}

// SendError writes prob as the JSON response body, records it on the
// request event for the access log, and logs the underlying error (if
// any) at audit level, mirroring the teacher's wfe2.sendError.
func SendError(log blog.Logger, logEvent *requestEvent, w http.ResponseWriter, prob *ProblemDetails, ierr error) {
	logEvent.AddError("%d :: %s :: %s", prob.HTTPStatus, prob.Type, prob.Detail)
	if ierr != nil {
		log.AuditErr(fmt.Sprintf("web: %s: %s", prob.Type, ierr))
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(prob.HTTPStatus)
	if err := json.NewEncoder(w).Encode(prob); err != nil {
		log.AuditErr(fmt.Sprintf("web: failed to write problem response: %s", err))
	}
}
