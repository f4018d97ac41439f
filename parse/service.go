package parse

import (
	"bytes"
	"context"
	"crypto/x509"
	"fmt"

	"github.com/iland112/local-pkd-sub003/core"
	pkderrors "github.com/iland112/local-pkd-sub003/errors"
	blog "github.com/iland112/local-pkd-sub003/log"
	"github.com/iland112/local-pkd-sub003/metrics"
)

// IDGenerator produces opaque ids for new MasterList rows.
type IDGenerator interface {
	NewID() string
}

// Service implements the Parsing bounded context's single operation:
// react to FileUploaded by detecting which parser a record needs, running
// it, and emitting ParsingCompleted.
type Service struct {
	Blobs          core.BlobStore
	Uploads        core.UploadStore
	MasterLists    core.MasterListStore
	Bus            core.EventBus
	Progress       core.ProgressPublisher
	IDs            IDGenerator
	TrustAnchors   *x509.CertPool
	ProgressEveryN int
	log            blog.Logger
	stats          metrics.Scope
}

// NewService wires a Service and subscribes it to FileUploaded.
func NewService(blobs core.BlobStore, uploads core.UploadStore, masterLists core.MasterListStore, bus core.EventBus, progress core.ProgressPublisher, ids IDGenerator, trustAnchors *x509.CertPool, progressEveryN int, log blog.Logger, stats metrics.Scope) *Service {
	s := &Service{
		Blobs:          blobs,
		Uploads:        uploads,
		MasterLists:    masterLists,
		Bus:            bus,
		Progress:       progress,
		IDs:            ids,
		TrustAnchors:   trustAnchors,
		ProgressEveryN: progressEveryN,
		log:            log,
		stats:          stats.NewScope("parse"),
	}
	bus.Subscribe(core.EventFileUploaded, s.onFileUploaded)
	return s
}

func (s *Service) onFileUploaded(ctx context.Context, payload interface{}) {
	p, ok := payload.(core.FileUploadedPayload)
	if !ok {
		s.log.AuditErr(fmt.Sprintf("parse: unexpected FileUploaded payload type %T", payload))
		return
	}
	if p.Mode == core.ModeManual {
		// MANUAL mode pauses after upload; an external actor invokes
		// ParseUpload explicitly via POST /processing/parse/{uploadId}.
		if err := s.Uploads.SetManualPauseStep(ctx, p.UploadID, "parse"); err != nil {
			s.log.AuditErr(fmt.Sprintf("parse: recording manual pause for %s: %s", p.UploadID, err))
		}
		return
	}
	if err := s.ParseUpload(ctx, p.UploadID, p.Mode); err != nil {
		s.log.AuditErr(fmt.Sprintf("parse: upload %s failed: %s", p.UploadID, err))
	}
}

// ParseUpload runs the appropriate parser for rec.DetectedFormat and emits
// ParsingCompleted on success.
func (s *Service) ParseUpload(ctx context.Context, uploadID string, mode core.ProcessingMode) error {
	if err := s.Uploads.UpdateStatus(ctx, uploadID, core.StatusParsing); err != nil {
		return fmt.Errorf("marking upload %s parsing: %w", uploadID, err)
	}
	s.sendProgress(uploadID, core.StageParsingStarted, 0, "parsing started", nil)

	payload, err := s.BuildPayload(ctx, uploadID, mode)
	if err != nil {
		return s.fail(ctx, uploadID, "parse", err)
	}

	s.stats.Inc("completed", 1)
	s.sendProgress(uploadID, core.StageParsingCompleted, 100, "parsing completed", map[string]int{
		"certificates": len(payload.ExtractedCerts),
		"crls":         len(payload.ExtractedCRLs),
	})
	s.Bus.Publish(ctx, core.EventParsingCompleted, payload)
	return nil
}

// BuildPayload runs the appropriate parser for uploadID's detected format
// and returns the resulting ParsingCompletedPayload without touching
// UploadRecord status or publishing any event. ParseUpload uses this for
// the AUTO/event-driven path; web/'s manual-mode "trigger validate"
// endpoint uses it directly to regenerate the payload validate.ValidateUpload
// needs, since spec.md §4.6's progress stream is explicitly non-durable and
// this pipeline does not otherwise persist the intermediate value objects.
func (s *Service) BuildPayload(ctx context.Context, uploadID string, mode core.ProcessingMode) (core.ParsingCompletedPayload, error) {
	rec, err := s.Uploads.Get(ctx, uploadID)
	if err != nil {
		return core.ParsingCompletedPayload{}, fmt.Errorf("loading upload record %s: %w", uploadID, err)
	}
	if rec == nil {
		return core.ParsingCompletedPayload{}, fmt.Errorf("upload record %s not found", uploadID)
	}

	data, err := s.Blobs.Get(ctx, uploadID)
	if err != nil {
		return core.ParsingCompletedPayload{}, fmt.Errorf("fetching upload bytes: %w", err)
	}

	switch rec.DetectedFormat {
	case core.FormatLDIF:
		return s.parseLDIFUpload(ctx, uploadID, mode, data)
	case core.FormatMasterList:
		return s.parseMasterListUpload(ctx, uploadID, mode, data)
	default:
		return core.ParsingCompletedPayload{}, pkderrors.UnsupportedFormatError("upload %s has unrecognized detected format %s", uploadID, rec.DetectedFormat)
	}
}

func (s *Service) parseLDIFUpload(ctx context.Context, uploadID string, mode core.ProcessingMode, data []byte) (core.ParsingCompletedPayload, error) {
	result, err := ParseLDIF(bytes.NewReader(data), s.ProgressEveryN, func(scanned int) {
		s.sendProgress(uploadID, core.StageParsingInProgress, 0, fmt.Sprintf("%d entries scanned", scanned), map[string]int{"scanned": scanned})
	})
	if err != nil {
		return core.ParsingCompletedPayload{}, fmt.Errorf("scanning LDIF: %w", err)
	}
	if len(result.Certs) == 0 && len(result.CRLs) == 0 {
		return core.ParsingCompletedPayload{}, pkderrors.MalformedLDIFError("upload %s yielded zero certificates or CRLs", uploadID)
	}
	return core.ParsingCompletedPayload{
		UploadID:       uploadID,
		Mode:           mode,
		ExtractedCerts: result.Certs,
		ExtractedCRLs:  result.CRLs,
		ParsingErrors:  result.Errors,
	}, nil
}

func (s *Service) parseMasterListUpload(ctx context.Context, uploadID string, mode core.ProcessingMode, data []byte) (core.ParsingCompletedPayload, error) {
	result, err := ParseMasterList(data, s.TrustAnchors)
	if err != nil {
		return core.ParsingCompletedPayload{}, pkderrors.MalformedCMSError("parsing master list for upload %s: %s", uploadID, err)
	}

	ml := &core.MasterList{
		ID:                 s.IDs.NewID(),
		UploadID:           uploadID,
		SignerCountry:      result.SignerCountry,
		ContainedCSCACount: len(result.CSCAs),
		UntrustedSigner:    result.UntrustedSigner,
		RawCMS:             data,
	}
	if err := s.MasterLists.Insert(ctx, ml); err != nil {
		return core.ParsingCompletedPayload{}, fmt.Errorf("persisting master list row: %w", err)
	}
	if result.UntrustedSigner {
		if err := s.Uploads.SetMasterListUntrustedSigner(ctx, uploadID); err != nil {
			s.log.AuditErr(fmt.Sprintf("parse: recording untrusted signer for %s: %s", uploadID, err))
		}
	}

	return core.ParsingCompletedPayload{
		UploadID:       uploadID,
		Mode:           mode,
		ExtractedCerts: result.CSCAs,
		MasterList:     ml,
	}, nil
}

func (s *Service) fail(ctx context.Context, uploadID, stage string, cause error) error {
	s.stats.Inc("failed", 1)
	if err := s.Uploads.MarkFailed(ctx, uploadID, stage, cause.Error()); err != nil {
		s.log.AuditErr(fmt.Sprintf("parse: marking %s failed: %s", uploadID, err))
	}
	s.sendProgress(uploadID, core.StageFailed, 0, cause.Error(), nil)
	return cause
}

func (s *Service) sendProgress(uploadID string, stage core.ProgressStage, pct int, msg string, counts map[string]int) {
	if s.Progress == nil {
		return
	}
	s.Progress.SendProgress(core.ProgressUpdate{UploadID: uploadID, Stage: stage, Percentage: pct, Message: msg, Counts: counts})
}
