// Package web is the thin external HTTP surface documenting spec.md §6.2's
// contract (pipeline control plus Passive Authentication verification). It
// is deliberately shallow per spec.md §1/§10's Non-goals: no HTML rendering,
// no session auth, just JSON request/response plumbing over the bounded
// contexts in upload/, parse/, validate/, and pa/.
package web

import (
	"fmt"
	"time"
)

// requestEvent accumulates per-request bookkeeping for the access log,
// mirroring the teacher's wfe2.requestEvent shape (Endpoint/Errors/Extra)
// without the ACME-specific fields that package carries.
type requestEvent struct {
	Method    string
	Endpoint  string
	UploadID  string
	Slug      string
	Started   time.Time
	Errors    []string
	Extra     map[string]interface{}
}

func newRequestEvent(method, endpoint string) *requestEvent {
	return &requestEvent{
		Method:   method,
		Endpoint: endpoint,
		Started:  time.Now(),
		Extra:    make(map[string]interface{}),
	}
}

// AddError appends a formatted error description to the log event.
func (re *requestEvent) AddError(msg string, args ...interface{}) {
	re.Errors = append(re.Errors, fmt.Sprintf(msg, args...))
}
