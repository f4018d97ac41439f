// Copyright 2014 ISRG.  All rights reserved
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package core

import (
	"context"
)

// UploadStore is the relational persistence contract for UploadRecord.
// Raw LDAP wire framing and SQL driver mechanics are assumed implementations
// (spec.md §1); this interface is the boundary Validation/Upload code
// against.
type UploadStore interface {
	Insert(ctx context.Context, rec *UploadRecord) error
	Get(ctx context.Context, id string) (*UploadRecord, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*UploadRecord, error)
	UpdateStatus(ctx context.Context, id string, status UploadStatus) error
	MarkFailed(ctx context.Context, id, stage, message string) error
	SetManualPauseStep(ctx context.Context, id, step string) error
	SetMasterListUntrustedSigner(ctx context.Context, id string) error
}

// CertificateStore is the relational persistence contract for Certificate.
type CertificateStore interface {
	// Upsert inserts c if its fingerprint is new, or returns the existing
	// row unchanged otherwise (spec.md invariant 2: fingerprint uniqueness,
	// tolerated-skip semantics).
	Upsert(ctx context.Context, c *Certificate) (inserted bool, err error)
	FindBySubjectDN(ctx context.Context, certType CertType, normalizedSubjectDN string) (*Certificate, error)
	MarkUploadedToLDAP(ctx context.Context, ids []string) error
	CountByUpload(ctx context.Context, uploadID string) (int, error)
}

// CRLStore is the relational persistence contract for CRL.
type CRLStore interface {
	Upsert(ctx context.Context, c *CRL) (inserted bool, err error)
	FindCoveringIssuer(ctx context.Context, normalizedIssuerDN string) ([]*CRL, error)
}

// MasterListStore is the relational persistence contract for MasterList.
type MasterListStore interface {
	Insert(ctx context.Context, ml *MasterList) error
}

// BlobStore holds the raw bytes of an uploaded file, addressed by
// UploadRecord.ID. File-storage mechanics are an assumed external
// collaborator (spec.md §1); this is the narrow boundary Parsing reads
// through to fetch what Upload wrote.
type BlobStore interface {
	Put(ctx context.Context, uploadID string, data []byte) error
	Get(ctx context.Context, uploadID string) ([]byte, error)
}

// EventBus dispatches domain events after the producing transaction
// commits (spec.md §9 "event dispatch after commit"). Publish is safe to
// call from within a transaction's completion hook; handlers run on a
// bounded worker pool and must re-read their aggregate by id rather than
// close over it, per spec.md §9's note on cooperative async handlers.
type EventBus interface {
	Subscribe(eventName string, handler func(ctx context.Context, payload interface{}))
	Publish(ctx context.Context, eventName string, payload interface{})
}

// LdapPublisher is the boundary the Validation and Passive Authentication
// contexts use to reach the directory. Implemented by ldapdir.Publisher.
type LdapPublisher interface {
	PublishBatch(ctx context.Context, entries []LdifEntry) (BatchResult, error)
	PublishMasterList(ctx context.Context, ml *MasterList) error
	FindCSCAByDN(ctx context.Context, country, issuerDN string) ([]byte, error)
}

// LdifEntry is a fully-constructed directory entry ready for Add.
type LdifEntry struct {
	DN           string
	ObjectClass  []string
	Attrs        map[string][]string
	BinaryAttrs  map[string][]byte
	SourceCertID string // Certificate.ID or CRL.ID this entry was built from
}

// AddOutcome is the per-entry result of a batch LDAP Add (spec.md §4.4).
type AddOutcome string

const (
	AddOutcomeAdded            = AddOutcome("ADDED")
	AddOutcomeDuplicateSkipped = AddOutcome("DUPLICATE_SKIPPED")
	AddOutcomeFailed           = AddOutcome("FAILED")
)

// BatchResult aggregates per-entry outcomes for one LDAP batch Add.
type BatchResult struct {
	SuccessCount           int
	SkippedDuplicateCount  int
	FailedCount            int
	Outcomes               map[string]AddOutcome // keyed by LdifEntry.SourceCertID
	Failures               map[string]error
}

// SucceededIDs returns the SourceCertIDs that were added or benignly
// duplicate-skipped — both count as "uploadedToLdap=true" per spec.md §4.3.3.
func (r BatchResult) SucceededIDs() []string {
	ids := make([]string, 0, len(r.Outcomes))
	for id, outcome := range r.Outcomes {
		if outcome == AddOutcomeAdded || outcome == AddOutcomeDuplicateSkipped {
			ids = append(ids, id)
		}
	}
	return ids
}

// ProgressStage names a point in the pipeline a progress update belongs to
// (spec.md §4.6).
type ProgressStage string

const (
	StageUploadCompleted      = ProgressStage("UPLOAD_COMPLETED")
	StageParsingStarted       = ProgressStage("PARSING_STARTED")
	StageParsingInProgress    = ProgressStage("PARSING_IN_PROGRESS")
	StageParsingCompleted     = ProgressStage("PARSING_COMPLETED")
	StageValidationStarted    = ProgressStage("VALIDATION_STARTED")
	StageValidationInProgress = ProgressStage("VALIDATION_IN_PROGRESS")
	StageValidationCompleted  = ProgressStage("VALIDATION_COMPLETED")
	StageDBSaving             = ProgressStage("DB_SAVING")
	StageLDAPSaving           = ProgressStage("LDAP_SAVING")
	StageCompleted            = ProgressStage("COMPLETED")
	StageFailed               = ProgressStage("FAILED")
)

// ProgressUpdate is one message sent to subscribers of a given upload.
type ProgressUpdate struct {
	UploadID   string
	Stage      ProgressStage
	Percentage int
	Message    string
	Counts     map[string]int
}

// ProgressPublisher is the producer-side API of the progress service.
type ProgressPublisher interface {
	SendProgress(update ProgressUpdate)
}
