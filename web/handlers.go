package web

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	validator "github.com/letsencrypt/validator/v10"

	"github.com/iland112/local-pkd-sub003/core"
	pkderrors "github.com/iland112/local-pkd-sub003/errors"
	"github.com/iland112/local-pkd-sub003/pa"
)

const maxUploadMemory = 32 << 20 // buffer this much in memory before spilling multipart parts to disk

type uploadResponse struct {
	UploadID        string `json:"uploadId"`
	DuplicateStatus string `json:"duplicateStatus"`
}

// handleUpload implements POST /upload (spec.md §6.2).
func (s *Server) handleUpload(logEvent *requestEvent, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		SendError(s.log, logEvent, w, wrongStateProblem("method not allowed"), nil)
		return
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		SendError(s.log, logEvent, w, malformedProblem("could not parse multipart form"), err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		SendError(s.log, logEvent, w, malformedProblem("missing file part"), err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		SendError(s.log, logEvent, w, serverInternalProblem("reading upload body"), err)
		return
	}

	mode := core.ProcessingMode(strings.ToUpper(r.FormValue("mode")))
	if mode == "" {
		mode = core.ModeAuto
	}
	if mode != core.ModeAuto && mode != core.ModeManual {
		SendError(s.log, logEvent, w, malformedProblem("mode must be AUTO or MANUAL"), nil)
		return
	}
	expectedChecksum := r.FormValue("expectedChecksum")

	result, err := s.Upload.Upload(r.Context(), header.Filename, data, expectedChecksum, mode, false)
	if err != nil {
		var pe *pkderrors.PkdError
		if errors.As(err, &pe) && pe.Type == pkderrors.DuplicateUpload {
			writeJSON(s, logEvent, w, http.StatusOK, uploadResponse{UploadID: result.UploadID, DuplicateStatus: string(result.DuplicateStatus)})
			return
		}
		SendError(s.log, logEvent, w, problemDetailsForError(err, "upload failed"), err)
		return
	}
	logEvent.UploadID = result.UploadID
	writeJSON(s, logEvent, w, http.StatusOK, uploadResponse{UploadID: result.UploadID, DuplicateStatus: string(result.DuplicateStatus)})
}

// handleProcessingStep implements the three manual-mode pipeline-control
// endpoints: POST /processing/{parse,validate,upload-to-ldap}/{uploadId}.
// Gating uses UploadRecord.ManualPauseStep, not UploadStatus, because this
// codebase's UploadStatus enum only has the coarse
// RECEIVED/PARSING/VALIDATING/PUBLISHING/COMPLETED/FAILED states spec.md §3
// describes; ManualPauseStep is the field that already records exactly
// which step a MANUAL-mode upload is paused before (set by parse/ and
// validate/'s event handlers), so it is the natural and only accurate gate.
func (s *Server) handleProcessingStep(step string) handlerFunc {
	return func(logEvent *requestEvent, w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			SendError(s.log, logEvent, w, wrongStateProblem("method not allowed"), nil)
			return
		}
		uploadID := lastPathSegment(r.URL.Path)
		if uploadID == "" {
			SendError(s.log, logEvent, w, malformedProblem("missing uploadId"), nil)
			return
		}
		logEvent.UploadID = uploadID

		rec, err := s.Uploads.Get(r.Context(), uploadID)
		if err != nil {
			SendError(s.log, logEvent, w, serverInternalProblem("loading upload"), err)
			return
		}
		if rec == nil {
			SendError(s.log, logEvent, w, notFoundProblem(fmt.Sprintf("upload %s not found", uploadID)), nil)
			return
		}
		if rec.ProcessingMode != core.ModeManual {
			SendError(s.log, logEvent, w, wrongStateProblem("upload is not in MANUAL mode"), nil)
			return
		}
		if rec.ManualPauseStep != step {
			SendError(s.log, logEvent, w, wrongStateProblem(fmt.Sprintf("upload is paused at %q, not %q", rec.ManualPauseStep, step)), nil)
			return
		}

		switch step {
		case "parse":
			if err := s.Parse.ParseUpload(r.Context(), uploadID, core.ModeManual); err != nil {
				SendError(s.log, logEvent, w, problemDetailsForError(err, "parse failed"), err)
				return
			}
		case "validate":
			payload, err := s.Parse.BuildPayload(r.Context(), uploadID, core.ModeManual)
			if err != nil {
				SendError(s.log, logEvent, w, problemDetailsForError(err, "rebuilding parsed payload failed"), err)
				return
			}
			if err := s.Validate.ValidateUpload(r.Context(), payload); err != nil {
				SendError(s.log, logEvent, w, problemDetailsForError(err, "validation failed"), err)
				return
			}
		case "upload-to-ldap":
			// validate.Service.ValidateUpload already publishes each batch
			// to LDAP as part of validation (spec.md §4.3.3's interleaved
			// batching), so by the time an upload reaches this pause step
			// it has nothing further to do; this acts as an idempotent
			// confirmation rather than a distinct publish phase.
		default:
			SendError(s.log, logEvent, w, serverInternalProblem("unknown processing step"), nil)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

type statusResponse struct {
	Status          string `json:"status"`
	Stage           string `json:"stage"`
	PausedAtStep    string `json:"pausedAtStep,omitempty"`
	FailureStage    string `json:"failureStage,omitempty"`
	FailureMessage  string `json:"failureMessage,omitempty"`
	CertificateCount int   `json:"certificateCount"`
}

// handleProcessingStatus implements GET /processing/status/{uploadId}.
// Percentage/counts from the live progress stream are not included here:
// spec.md §4.6 makes the progress service explicitly non-durable, so the
// only state this endpoint can report reliably is what UploadRecord
// persisted.
func (s *Server) handleProcessingStatus(logEvent *requestEvent, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		SendError(s.log, logEvent, w, wrongStateProblem("method not allowed"), nil)
		return
	}
	uploadID := lastPathSegment(r.URL.Path)
	if uploadID == "" {
		SendError(s.log, logEvent, w, malformedProblem("missing uploadId"), nil)
		return
	}
	logEvent.UploadID = uploadID

	rec, err := s.Uploads.Get(r.Context(), uploadID)
	if err != nil {
		SendError(s.log, logEvent, w, serverInternalProblem("loading upload"), err)
		return
	}
	if rec == nil {
		SendError(s.log, logEvent, w, notFoundProblem(fmt.Sprintf("upload %s not found", uploadID)), nil)
		return
	}

	count, err := s.Certs.CountByUpload(r.Context(), uploadID)
	if err != nil {
		s.log.AuditErr(fmt.Sprintf("web: counting certificates for %s: %s", uploadID, err))
	}

	writeJSON(s, logEvent, w, http.StatusOK, statusResponse{
		Status:           string(rec.Status),
		Stage:            string(rec.Status),
		PausedAtStep:     rec.ManualPauseStep,
		FailureStage:     rec.FailureStage,
		FailureMessage:   rec.FailureMessage,
		CertificateCount: count,
	})
}

// handleProgressStream implements GET /progress/stream as a server-sent
// events feed filtered to one uploadId (spec.md §6.2's "server-push stream
// (event per progress update)", transport left to this package since the
// spec calls the HTTP surface a logical, not wire-level, contract).
func (s *Server) handleProgressStream(logEvent *requestEvent, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		SendError(s.log, logEvent, w, wrongStateProblem("method not allowed"), nil)
		return
	}
	uploadID := r.URL.Query().Get("uploadId")
	if uploadID == "" {
		SendError(s.log, logEvent, w, malformedProblem("missing uploadId query parameter"), nil)
		return
	}
	logEvent.UploadID = uploadID

	flusher, ok := w.(http.Flusher)
	if !ok {
		SendError(s.log, logEvent, w, serverInternalProblem("streaming unsupported"), nil)
		return
	}

	ch, cancel := s.Progress.Subscribe(uploadID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case update, open := <-ch:
			if !open {
				return
			}
			body, err := json.Marshal(update)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", body)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

var dgKeyPattern = regexp.MustCompile(`^DG([1-9]|1[0-6])$`)

type paVerifyRequest struct {
	IssuingCountry string            `json:"issuingCountry" validate:"required"`
	DocumentNumber string            `json:"documentNumber"`
	SOD            string            `json:"sod" validate:"required"`
	DataGroups     map[string]string `json:"dataGroups" validate:"required,min=1"`
}

type subResultResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

type dataGroupResultResponse struct {
	Valid   bool            `json:"valid"`
	Message string          `json:"message"`
	PerDG   map[string]bool `json:"perDg"`
}

type paVerifyResponse struct {
	Status                     string                   `json:"status"`
	CertificateChainValidation subResultResponse        `json:"certificateChainValidation"`
	SODSignatureValidation     subResultResponse        `json:"sodSignatureValidation"`
	DataGroupValidation        dataGroupResultResponse  `json:"dataGroupValidation"`
}

var countryCodePattern = regexp.MustCompile(`^[A-Z]{2,3}$`)

// handlePAVerify implements POST /pa/verify (spec.md §6.2), including the
// country-code and DG-key validation rules the spec spells out verbatim.
func (s *Server) handlePAVerify(logEvent *requestEvent, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		SendError(s.log, logEvent, w, wrongStateProblem("method not allowed"), nil)
		return
	}

	var req paVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendError(s.log, logEvent, w, malformedProblem("invalid JSON body"), err)
		return
	}

	v := validator.New()
	if err := v.Struct(req); err != nil {
		SendError(s.log, logEvent, w, malformedProblem(fmt.Sprintf("request failed validation: %s", err)), nil)
		return
	}
	if !countryCodePattern.MatchString(req.IssuingCountry) {
		SendError(s.log, logEvent, w, malformedProblem("issuingCountry must be 2 or 3 uppercase letters"), nil)
		return
	}
	if len(req.DataGroups) == 0 {
		SendError(s.log, logEvent, w, malformedProblem("at least one data group is required"), nil)
		return
	}
	for key := range req.DataGroups {
		if !dgKeyPattern.MatchString(key) {
			SendError(s.log, logEvent, w, malformedProblem(fmt.Sprintf("invalid data group key %q", key)), nil)
			return
		}
	}

	sod, err := base64.StdEncoding.DecodeString(req.SOD)
	if err != nil {
		SendError(s.log, logEvent, w, malformedProblem("sod is not valid base64"), err)
		return
	}
	dataGroups := make(map[string][]byte, len(req.DataGroups))
	for key, b64 := range req.DataGroups {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			SendError(s.log, logEvent, w, malformedProblem(fmt.Sprintf("data group %s is not valid base64", key)), err)
			return
		}
		dataGroups[key] = raw
	}

	result, err := s.PA.Verify(r.Context(), pa.Request{
		IssuingCountry: req.IssuingCountry,
		DocumentNumber: req.DocumentNumber,
		SOD:            sod,
		DataGroups:     dataGroups,
	})
	if err != nil {
		SendError(s.log, logEvent, w, problemDetailsForError(err, "SOD verification failed"), err)
		return
	}

	writeJSON(s, logEvent, w, http.StatusOK, paVerifyResponse{
		Status:                     string(result.Status),
		CertificateChainValidation: subResultResponse{Valid: result.CertificateChainValidation.Valid, Message: result.CertificateChainValidation.Message},
		SODSignatureValidation:     subResultResponse{Valid: result.SODSignatureValidation.Valid, Message: result.SODSignatureValidation.Message},
		DataGroupValidation: dataGroupResultResponse{
			Valid:   result.DataGroupValidation.Valid,
			Message: result.DataGroupValidation.Message,
			PerDG:   result.DataGroupValidation.PerDG,
		},
	})
}

func lastPathSegment(p string) string {
	p = strings.TrimSuffix(p, "/")
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return ""
	}
	return p[idx+1:]
}

func writeJSON(s *Server, logEvent *requestEvent, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logEvent.AddError("failed to write response: %s", err)
		s.log.AuditErr(fmt.Sprintf("web: failed to write response: %s", err))
	}
}
