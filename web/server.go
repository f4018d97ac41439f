package web

import (
	"fmt"
	"net/http"

	"github.com/jmhodges/clock"

	"github.com/iland112/local-pkd-sub003/core"
	blog "github.com/iland112/local-pkd-sub003/log"
	"github.com/iland112/local-pkd-sub003/metrics"
	"github.com/iland112/local-pkd-sub003/metrics/measured_http"
	"github.com/iland112/local-pkd-sub003/pa"
	"github.com/iland112/local-pkd-sub003/parse"
	"github.com/iland112/local-pkd-sub003/progress"
	"github.com/iland112/local-pkd-sub003/upload"
	"github.com/iland112/local-pkd-sub003/validate"
)

// Server wires the bounded-context services into spec.md §6.2's external
// HTTP contract. It holds no business logic of its own: every handler
// validates the request shape, calls into the appropriate Service, and
// translates the result to JSON.
type Server struct {
	Upload    *upload.Service
	Parse     *parse.Service
	Validate  *validate.Service
	PA        *pa.Verifier
	Progress  *progress.Service
	Uploads   core.UploadStore
	Certs     core.CertificateStore
	Clk       clock.Clock

	log   blog.Logger
	stats metrics.Scope
}

func NewServer(uploadSvc *upload.Service, parseSvc *parse.Service, validateSvc *validate.Service, paVerifier *pa.Verifier, progressSvc *progress.Service, uploads core.UploadStore, certs core.CertificateStore, clk clock.Clock, log blog.Logger, stats metrics.Scope) *Server {
	return &Server{
		Upload:   uploadSvc,
		Parse:    parseSvc,
		Validate: validateSvc,
		PA:       paVerifier,
		Progress: progressSvc,
		Uploads:  uploads,
		Certs:    certs,
		Clk:      clk,
		log:      log,
		stats:    stats.NewScope("web"),
	}
}

// handlerFunc is this package's equivalent of wfe2's wfeHandlerFunc: a
// handler that receives a per-request logEvent for access logging.
type handlerFunc func(logEvent *requestEvent, w http.ResponseWriter, r *http.Request)

// handle wraps h with per-request logging and a recovered panic guard, the
// same two responsibilities the teacher's topHandler/HandleFunc combo
// provides, minus the ACME-specific nonce/CORS machinery this domain has
// no use for.
func (s *Server) handle(pattern string, h handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logEvent := newRequestEvent(r.Method, pattern)
		defer func() {
			if rec := recover(); rec != nil {
				s.log.AuditErr(fmt.Sprintf("web: handler for %s panicked: %v", pattern, rec))
				SendError(s.log, logEvent, w, serverInternalProblem("internal error"), nil)
			}
		}()
		h(logEvent, w, r)
	})
}

// Handler builds the full mux described by spec.md §6.2.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/upload", s.handle("/upload", s.handleUpload))
	mux.Handle("/processing/parse/", s.handle("/processing/parse/", s.handleProcessingStep("parse")))
	mux.Handle("/processing/validate/", s.handle("/processing/validate/", s.handleProcessingStep("validate")))
	mux.Handle("/processing/upload-to-ldap/", s.handle("/processing/upload-to-ldap/", s.handleProcessingStep("upload-to-ldap")))
	mux.Handle("/processing/status/", s.handle("/processing/status/", s.handleProcessingStatus))
	mux.Handle("/progress/stream", s.handle("/progress/stream", s.handleProgressStream))
	mux.Handle("/pa/verify", s.handle("/pa/verify", s.handlePAVerify))
	return measured_http.New(mux, s.Clk)
}
