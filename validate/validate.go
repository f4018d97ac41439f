// Package validate implements the Validation bounded context (spec.md
// §4.3): the two-pass CSCA/DSC pipeline that turns parsed value objects
// into persisted, LDAP-published Certificate/CRL rows.
package validate

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jmhodges/clock"

	"github.com/iland112/local-pkd-sub003/core"
	"github.com/iland112/local-pkd-sub003/ldapdir"
	blog "github.com/iland112/local-pkd-sub003/log"
	"github.com/iland112/local-pkd-sub003/metrics"
)

// DefaultBatchSize matches spec.md §4.3.1's default.
const DefaultBatchSize = 100

// IDGenerator produces opaque ids for new Certificate/CRL rows.
type IDGenerator interface {
	NewID() string
}

// Service implements both validation passes plus the interleaved
// DB+LDAP batch protocol of spec.md §4.3.3.
type Service struct {
	Certs    core.CertificateStore
	CRLs     core.CRLStore
	Uploads  core.UploadStore
	Ldap     core.LdapPublisher
	Bus      core.EventBus
	Progress core.ProgressPublisher
	IDs      IDGenerator
	Clk      clock.Clock
	LdapCfg  ldapdir.Config

	BatchSize  int
	EnableLint bool
	Spill      *SpillQueue

	log   blog.Logger
	stats metrics.Scope
}

// NewService wires a Service and subscribes it to ParsingCompleted.
func NewService(certs core.CertificateStore, crls core.CRLStore, uploads core.UploadStore, ldap core.LdapPublisher, bus core.EventBus, progress core.ProgressPublisher, ids IDGenerator, clk clock.Clock, ldapCfg ldapdir.Config, batchSize int, enableLint bool, spill *SpillQueue, log blog.Logger, stats metrics.Scope) *Service {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	s := &Service{
		Certs:      certs,
		CRLs:       crls,
		Uploads:    uploads,
		Ldap:       ldap,
		Bus:        bus,
		Progress:   progress,
		IDs:        ids,
		Clk:        clk,
		LdapCfg:    ldapCfg,
		BatchSize:  batchSize,
		EnableLint: enableLint,
		Spill:      spill,
		log:        log,
		stats:      stats.NewScope("validate"),
	}
	bus.Subscribe(core.EventParsingCompleted, s.onParsingCompleted)
	return s
}

func (s *Service) onParsingCompleted(ctx context.Context, payload interface{}) {
	p, ok := payload.(core.ParsingCompletedPayload)
	if !ok {
		s.log.AuditErr(fmt.Sprintf("validate: unexpected ParsingCompleted payload type %T", payload))
		return
	}
	if p.Mode == core.ModeManual {
		if err := s.Uploads.SetManualPauseStep(ctx, p.UploadID, "validate"); err != nil {
			s.log.AuditErr(fmt.Sprintf("validate: recording manual pause for %s: %s", p.UploadID, err))
		}
		return
	}
	if err := s.ValidateUpload(ctx, p); err != nil {
		s.log.AuditErr(fmt.Sprintf("validate: upload %s failed: %s", p.UploadID, err))
	}
}

// ValidateUpload runs both passes over payload's extracted value objects
// and, on success, advances the upload straight through PUBLISHING to
// COMPLETED in the same flow (spec.md §4.3.5).
func (s *Service) ValidateUpload(ctx context.Context, p core.ParsingCompletedPayload) error {
	uploadID := p.UploadID

	if err := s.Uploads.UpdateStatus(ctx, uploadID, core.StatusValidating); err != nil {
		return fmt.Errorf("marking upload %s validating: %w", uploadID, err)
	}
	s.sendProgress(uploadID, core.StageValidationStarted, 0, "validation started", nil)

	now := s.Clk.Now()

	if err := s.runCRLPass(ctx, uploadID, p.ExtractedCRLs); err != nil {
		return s.fail(ctx, uploadID, "validate-crl", err)
	}

	var cscaVOs, dscVOs []core.CertValueObject
	for _, vo := range p.ExtractedCerts {
		if vo.Type == core.CertCSCA {
			cscaVOs = append(cscaVOs, vo)
		} else {
			dscVOs = append(dscVOs, vo)
		}
	}

	validated, uploaded, err := s.runCSCAPass(ctx, uploadID, cscaVOs, now)
	if err != nil {
		return s.fail(ctx, uploadID, "validate-csca", err)
	}
	totalValidated, totalUploaded := validated, uploaded

	validated, uploaded, err = s.runDSCPass(ctx, uploadID, dscVOs, now)
	if err != nil {
		return s.fail(ctx, uploadID, "validate-dsc", err)
	}
	totalValidated += validated
	totalUploaded += uploaded

	if p.MasterList != nil {
		if err := s.Ldap.PublishMasterList(ctx, p.MasterList); err != nil {
			s.log.AuditErr(fmt.Sprintf("validate: publishing master list for %s: %s", uploadID, err))
		}
	}

	s.sendProgress(uploadID, core.StageValidationCompleted, 100, "validation completed", map[string]int{
		"validated": totalValidated,
		"uploaded":  totalUploaded,
	})
	s.Bus.Publish(ctx, core.EventValidationCompleted, core.ValidationCompletedPayload{UploadID: uploadID, Mode: p.Mode})

	if err := s.Uploads.UpdateStatus(ctx, uploadID, core.StatusPublishing); err != nil {
		return fmt.Errorf("marking upload %s publishing: %w", uploadID, err)
	}
	s.sendProgress(uploadID, core.StageLDAPSaving, 100, "publishing completed", nil)
	if err := s.Uploads.UpdateStatus(ctx, uploadID, core.StatusCompleted); err != nil {
		return fmt.Errorf("marking upload %s completed: %w", uploadID, err)
	}
	s.stats.Inc("completed", 1)
	s.sendProgress(uploadID, core.StageCompleted, 100, "pipeline completed", nil)
	s.Bus.Publish(ctx, core.EventPublicationCompleted, core.PublicationCompletedPayload{UploadID: uploadID})

	return nil
}

func (s *Service) runCRLPass(ctx context.Context, uploadID string, vos []core.CRLValueObject) error {
	for i := 0; i < len(vos); i += s.BatchSize {
		end := min(i+s.BatchSize, len(vos))
		batch := vos[i:end]

		rows := make([]*core.CRL, 0, len(batch))
		for _, vo := range batch {
			row, err := decodeCRL(uploadID, vo)
			if err != nil {
				s.log.AuditErr(fmt.Sprintf("validate: skipping malformed CRL in upload %s: %s", uploadID, err))
				continue
			}
			row.ID = s.IDs.NewID()
			if _, err := s.CRLs.Upsert(ctx, row); err != nil {
				return fmt.Errorf("upserting CRL: %w", err)
			}
			rows = append(rows, row)
		}

		entries := make([]core.LdifEntry, len(rows))
		for i, row := range rows {
			entries[i] = ldapdir.BuildCRLEntry(row, s.LdapCfg)
		}
		if len(entries) > 0 {
			if _, err := s.Ldap.PublishBatch(ctx, entries); err != nil {
				s.log.AuditErr(fmt.Sprintf("validate: publishing CRL batch for %s: %s", uploadID, err))
			}
		}
	}
	return nil
}

// runCSCAPass implements spec.md §4.3.1: structural checks, then
// interleaved batch persist + LDAP publish.
func (s *Service) runCSCAPass(ctx context.Context, uploadID string, vos []core.CertValueObject, now time.Time) (validatedCount, uploadedCount int, err error) {
	return s.runCertPass(ctx, uploadID, "CSCA", vos, now, func(vo core.CertValueObject) (*core.Certificate, error) {
		return decodeCSCA(uploadID, vo, now)
	})
}

// runDSCPass implements spec.md §4.3.2.
func (s *Service) runDSCPass(ctx context.Context, uploadID string, vos []core.CertValueObject, now time.Time) (validatedCount, uploadedCount int, err error) {
	return s.runCertPass(ctx, uploadID, "DSC", vos, now, func(vo core.CertValueObject) (*core.Certificate, error) {
		return decodeDSC(ctx, uploadID, vo, now,
			func(ctx context.Context, dn string) (*core.Certificate, error) {
				return s.Certs.FindBySubjectDN(ctx, core.CertCSCA, dn)
			},
			s.CRLs.FindCoveringIssuer,
		)
	})
}

func (s *Service) runCertPass(ctx context.Context, uploadID, pass string, vos []core.CertValueObject, now time.Time, decode func(core.CertValueObject) (*core.Certificate, error)) (validatedCount, uploadedCount int, err error) {
	for i := 0; i < len(vos); i += s.BatchSize {
		end := min(i+s.BatchSize, len(vos))
		batch := vos[i:end]

		rows := make([]*core.Certificate, 0, len(batch))
		for _, vo := range batch {
			row, derr := decode(vo)
			if derr != nil {
				s.log.AuditErr(fmt.Sprintf("validate: skipping malformed %s certificate in upload %s: %s", pass, uploadID, derr))
				continue
			}
			row.ID = s.IDs.NewID()

			if s.EnableLint {
				if cert, perr := parseDER(row.RawDER); perr == nil {
					runLints(cert, row)
				}
			}

			if _, uerr := s.Certs.Upsert(ctx, row); uerr != nil {
				return validatedCount, uploadedCount, fmt.Errorf("upserting %s certificate: %w", pass, uerr)
			}
			rows = append(rows, row)
			validatedCount++
		}

		publishable := make([]*core.Certificate, 0, len(rows))
		for _, row := range rows {
			if row.SourceType != core.SourceMasterList {
				publishable = append(publishable, row)
			}
		}

		if len(publishable) > 0 {
			entries := make([]core.LdifEntry, len(publishable))
			for j, row := range publishable {
				entries[j] = ldapdir.BuildCertEntry(row, s.LdapCfg)
			}

			result, perr := s.Ldap.PublishBatch(ctx, entries)
			if perr != nil {
				if s.Spill != nil {
					if serr := s.Spill.Spill(uploadID, pass, publishable); serr != nil {
						s.log.AuditErr(fmt.Sprintf("validate: spilling %s batch for %s: %s", pass, uploadID, serr))
					}
				}
				s.log.AuditErr(fmt.Sprintf("validate: publishing %s batch for %s: %s", pass, uploadID, perr))
			} else {
				succeeded := result.SucceededIDs()
				if len(succeeded) > 0 {
					if merr := s.Certs.MarkUploadedToLDAP(ctx, succeeded); merr != nil {
						s.log.AuditErr(fmt.Sprintf("validate: marking %s uploaded for %s: %s", pass, uploadID, merr))
					}
					uploadedCount += len(succeeded)
				}
			}
		}

		s.Bus.Publish(ctx, core.EventValidationBatchCommitted, core.ValidationBatchCommittedPayload{
			UploadID:       uploadID,
			Pass:           pass,
			ValidatedCount: validatedCount,
			UploadedCount:  uploadedCount,
			TotalSoFar:     end,
		})
		s.sendProgress(uploadID, core.StageValidationInProgress, percentOf(end, len(vos)), fmt.Sprintf("%s pass: %d/%d", pass, end, len(vos)), map[string]int{
			"validated": validatedCount,
			"uploaded":  uploadedCount,
		})
	}
	return validatedCount, uploadedCount, nil
}

func (s *Service) fail(ctx context.Context, uploadID, stage string, cause error) error {
	s.stats.Inc("failed", 1)
	if err := s.Uploads.MarkFailed(ctx, uploadID, stage, cause.Error()); err != nil {
		s.log.AuditErr(fmt.Sprintf("validate: marking %s failed: %s", uploadID, err))
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

func percentOf(done, total int) int {
	if total == 0 {
		return 100
	}
	return done * 100 / total
}

func fingerprintSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func parseDER(der []byte) (*x509.Certificate, error) {
	return x509.ParseCertificate(der)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

