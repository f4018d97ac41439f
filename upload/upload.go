// Package upload implements the Upload bounded context (spec.md §4.1): it
// accepts raw file bytes plus a requested processing mode, deduplicates by
// content fingerprint, persists an UploadRecord, and emits FileUploaded
// after the persisting transaction commits.
package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/iland112/local-pkd-sub003/core"
	pkderrors "github.com/iland112/local-pkd-sub003/errors"
	blog "github.com/iland112/local-pkd-sub003/log"
	"github.com/iland112/local-pkd-sub003/metrics"
)

// MaxUploadBytes is the hard ceiling on accepted file size (spec.md §4.1).
const MaxUploadBytes = 100 * 1024 * 1024

// DuplicateStatus is the outcome of checkDuplicate (spec.md §4.1).
type DuplicateStatus string

const (
	DuplicateNone             = DuplicateStatus("NONE")
	DuplicateExact            = DuplicateStatus("EXACT")
	DuplicateChecksumMismatch = DuplicateStatus("CHECKSUM_MISMATCH")
)

// Result is returned by Service.Upload.
type Result struct {
	UploadID        string
	DuplicateStatus DuplicateStatus
}

// IDGenerator produces opaque 128-bit identifiers for new aggregates.
// Implemented in sa/ using a UUID generator; kept as an interface here so
// upload/ has no direct storage-layer dependency.
type IDGenerator interface {
	NewID() string
}

// Service implements the Upload context's single write operation.
type Service struct {
	Store   core.UploadStore
	Blobs   core.BlobStore
	Bus     core.EventBus
	IDs     IDGenerator
	Clock   clockNow
	log     blog.Logger
	stats   metrics.Scope
}

// clockNow abstracts time.Now so tests can supply a fixed instant, following
// the teacher's jmhodges/clock.Clock convention used throughout ca/ and ra/.
type clockNow interface {
	Now() time.Time
}

// NewService wires a Service from its collaborators.
func NewService(store core.UploadStore, blobs core.BlobStore, bus core.EventBus, ids IDGenerator, clk clockNow, log blog.Logger, stats metrics.Scope) *Service {
	return &Service{Store: store, Blobs: blobs, Bus: bus, IDs: ids, Clock: clk, log: log, stats: stats.NewScope("upload")}
}

// Upload implements spec.md §4.1's upload(...) operation.
func (s *Service) Upload(ctx context.Context, fileName string, data []byte, expectedChecksum string, mode core.ProcessingMode, forceOverride bool) (Result, error) {
	if int64(len(data)) > MaxUploadBytes {
		s.stats.Inc("rejected.oversize", 1)
		return Result{}, pkderrors.OversizeError("upload %s exceeds %d bytes", fileName, MaxUploadBytes)
	}

	fingerprint := fingerprintOf(data)

	dup, existing, err := s.checkDuplicate(ctx, fingerprint, expectedChecksum)
	if err != nil {
		return Result{}, pkderrors.InternalServerError("checking for duplicate upload: %s", err)
	}
	if dup == DuplicateChecksumMismatch {
		s.stats.Inc("rejected.checksum_mismatch", 1)
		return Result{}, pkderrors.ChecksumMismatchError("checksum mismatch for %s", fileName)
	}
	if dup == DuplicateExact && !forceOverride {
		s.stats.Inc("rejected.duplicate", 1)
		return Result{UploadID: existing.ID, DuplicateStatus: DuplicateExact}, pkderrors.DuplicateUploadError("upload %s duplicates existing upload %s", fileName, existing.ID)
	}

	format := DetectFormat(fileName, data)
	if format == core.FormatUnknown {
		s.stats.Inc("rejected.unsupported_format", 1)
		return Result{}, pkderrors.UnsupportedFormatError("unrecognized format for %s", fileName)
	}

	rec := &core.UploadRecord{
		ID:                 s.IDs.NewID(),
		FileName:           fileName,
		ByteSize:           int64(len(data)),
		ContentFingerprint: fingerprint,
		DetectedFormat:     format,
		ProcessingMode:     mode,
		Status:             core.StatusReceived,
		CreatedAt:          s.Clock.Now(),
		UpdatedAt:          s.Clock.Now(),
	}
	if err := s.Store.Insert(ctx, rec); err != nil {
		return Result{}, pkderrors.InternalServerError("persisting upload record: %s", err)
	}
	if err := s.Blobs.Put(ctx, rec.ID, data); err != nil {
		return Result{}, pkderrors.InternalServerError("persisting upload bytes: %s", err)
	}

	// Event dispatch happens only after Insert has committed — see
	// spec.md §9 and events.Bus's doc comment.
	s.Bus.Publish(ctx, core.EventFileUploaded, core.FileUploadedPayload{UploadID: rec.ID, Mode: mode})
	s.log.Notice(fmt.Sprintf("upload %s received: %s (%d bytes, format=%s, mode=%s)", rec.ID, fileName, rec.ByteSize, format, mode))
	s.stats.Inc("accepted", 1)

	return Result{UploadID: rec.ID, DuplicateStatus: DuplicateNone}, nil
}

// checkDuplicate implements spec.md §4.1's checkDuplicate(...) operation.
func (s *Service) checkDuplicate(ctx context.Context, fingerprint, expectedChecksum string) (DuplicateStatus, *core.UploadRecord, error) {
	if expectedChecksum != "" && !strings.EqualFold(expectedChecksum, fingerprint) {
		return DuplicateChecksumMismatch, nil, nil
	}
	existing, err := s.Store.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		return DuplicateNone, nil, err
	}
	if existing == nil || existing.Status == core.StatusFailed {
		return DuplicateNone, nil, nil
	}
	return DuplicateExact, existing, nil
}

func fingerprintOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DetectFormat implements spec.md §4.1's format detection policy.
func DetectFormat(fileName string, data []byte) core.DetectedFormat {
	lower := strings.ToLower(fileName)
	if strings.HasPrefix(lower, "icaopkd-001-") && strings.HasSuffix(lower, ".ml") {
		return core.FormatMasterList
	}
	if strings.HasSuffix(lower, ".ldif") && looksLikeLDIF(data) {
		return core.FormatLDIF
	}
	// Some Master List distributions don't follow the icaopkd-001 naming
	// convention; fall back to sniffing a CMS ContentInfo SEQUENCE tag.
	if looksLikeDER(data) {
		return core.FormatMasterList
	}
	if looksLikeLDIF(data) {
		return core.FormatLDIF
	}
	return core.FormatUnknown
}

func looksLikeLDIF(data []byte) bool {
	trimmed := bytes.TrimLeft(data, "\r\n \t")
	return bytes.HasPrefix(trimmed, []byte("dn:")) || bytes.HasPrefix(trimmed, []byte("version:"))
}

func looksLikeDER(data []byte) bool {
	// A BER/DER SEQUENCE starts with tag 0x30; CMS ContentInfo is always a
	// SEQUENCE. This is a coarse sniff, not a parse.
	return len(data) > 2 && data[0] == 0x30
}
