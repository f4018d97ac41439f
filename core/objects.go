// Copyright 2014 ISRG.  All rights reserved
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package core

import (
	"time"
)

// ProcessingMode selects whether an UploadRecord advances through the
// pipeline automatically or pauses after each stage for an external actor.
type ProcessingMode string

const (
	ModeAuto   = ProcessingMode("AUTO")
	ModeManual = ProcessingMode("MANUAL")
)

// UploadStatus is the coarse lifecycle state of an UploadRecord.
type UploadStatus string

const (
	StatusReceived   = UploadStatus("RECEIVED")
	StatusParsing    = UploadStatus("PARSING")
	StatusValidating = UploadStatus("VALIDATING")
	StatusPublishing = UploadStatus("PUBLISHING")
	StatusCompleted  = UploadStatus("COMPLETED")
	StatusFailed     = UploadStatus("FAILED")
)

// DetectedFormat is the result of sniffing an uploaded file's contents.
type DetectedFormat string

const (
	FormatLDIF       = DetectedFormat("LDIF")
	FormatMasterList = DetectedFormat("MASTER_LIST")
	FormatUnknown    = DetectedFormat("UNKNOWN")
)

// CertType distinguishes the three certificate roles this system tracks.
type CertType string

const (
	CertCSCA  = CertType("CSCA")
	CertDSC   = CertType("DSC")
	CertDSCNC = CertType("DSC_NC")
)

// SourceType records which parser produced a Certificate.
type SourceType string

const (
	SourceLDIF       = SourceType("LDIF")
	SourceMasterList = SourceType("MASTER_LIST")
)

// ValidationStatus is the outcome of running a Certificate through §4.3.
type ValidationStatus string

const (
	ValidationUnvalidated = ValidationStatus("UNVALIDATED")
	ValidationValid       = ValidationStatus("VALID")
	ValidationInvalid     = ValidationStatus("INVALID")
	ValidationExpired     = ValidationStatus("EXPIRED")
)

// ValidationErrorKind enumerates the per-certificate error taxonomy of §7.
type ValidationErrorKind string

const (
	ErrSelfSignFailed      = ValidationErrorKind("SELF_SIGN_FAILED")
	ErrSignatureInvalid    = ValidationErrorKind("SIGNATURE_INVALID")
	ErrIssuerNotFound      = ValidationErrorKind("ISSUER_NOT_FOUND")
	ErrExpired             = ValidationErrorKind("EXPIRED")
	ErrInvalidCAConstraint = ValidationErrorKind("INVALID_CA_CONSTRAINTS")
	ErrInvalidKeyUsage     = ValidationErrorKind("INVALID_KEY_USAGE")
	ErrRevoked             = ValidationErrorKind("REVOKED")
	ErrNonConformantAttr   = ValidationErrorKind("NON_CONFORMANT_ATTR")
	ErrLintWarning         = ValidationErrorKind("LINT_WARNING")
)

// UploadRecord is the aggregate root for one ingested file.
type UploadRecord struct {
	ID                 string
	FileName           string
	ByteSize           int64
	ContentFingerprint string // hex SHA-256 of the raw bytes, unique
	DetectedFormat     DetectedFormat
	ProcessingMode     ProcessingMode
	ManualPauseStep    string // nullable: empty means "not paused"
	Status             UploadStatus
	FailureStage       string
	FailureMessage     string
	MasterListUntrustedSigner bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsTerminal reports whether the record will never transition further.
func (u *UploadRecord) IsTerminal() bool {
	return u.Status == StatusCompleted || u.Status == StatusFailed
}

// Certificate is a persisted, validated (or not-yet-validated) certificate
// row. RawDER is the exact bytes that were parsed; it must round-trip
// unchanged through LDIF re-encoding (spec.md §8, DER preservation law).
type Certificate struct {
	ID               string
	UploadID         string
	Type             CertType
	SourceType       SourceType
	SubjectDN        string
	IssuerDN         string
	SerialNumber     string // hex, no leading "0x"
	SubjectCountry   string
	IssuerCountry    string
	NotBefore        time.Time
	NotAfter         time.Time
	FingerprintSHA256 string // hex, unique
	RawDER           []byte
	ValidationStatus ValidationStatus
	ValidationErrors []ValidationErrorKind
	UploadedToLDAP   bool
}

// HasError reports whether kind is already recorded on this certificate.
func (c *Certificate) HasError(kind ValidationErrorKind) bool {
	for _, k := range c.ValidationErrors {
		if k == kind {
			return true
		}
	}
	return false
}

// AddError appends kind if it is not already present.
func (c *Certificate) AddError(kind ValidationErrorKind) {
	if !c.HasError(kind) {
		c.ValidationErrors = append(c.ValidationErrors, kind)
	}
}

// CRL is a persisted certificate revocation list.
type CRL struct {
	ID                string
	UploadID          string
	IssuerName        string
	IssuerCountry     string
	ThisUpdate        time.Time
	NextUpdate        time.Time
	RevokedSerials    map[string]bool
	RawDER            []byte
	FingerprintSHA256 string
}

// Covers reports whether t falls within the CRL's validity window.
func (c *CRL) Covers(t time.Time) bool {
	return !t.Before(c.ThisUpdate) && !t.After(c.NextUpdate)
}

// MasterList is the envelope row for one CMS-signed ICAO Master List upload.
// The CSCAs it contains are separately materialized as Certificate rows with
// SourceType == SourceMasterList; see spec.md §4.4.1 for the LDAP policy
// this split exists to support.
type MasterList struct {
	ID                 string
	UploadID           string
	SignerCountry      string
	ContainedCSCACount int
	UntrustedSigner    bool
	RawCMS             []byte
	FingerprintSHA256  string
}

// CertValueObject is the in-memory value produced by the parsers (§4.2).
// Parsing never persists rows directly; Validation turns these into
// Certificate rows.
type CertValueObject struct {
	Type       CertType
	SourceType SourceType
	RawDER     []byte
	EntryDN    string // the LDIF entry's dn:, empty for Master-List-derived certs
}

// CRLValueObject is the in-memory value for a parsed CRL entry.
type CRLValueObject struct {
	RawDER  []byte
	EntryDN string
}

// ParsingError is recorded per malformed LDIF entry; it does not, by
// itself, fail the upload (spec.md §4.2 failure modes).
type ParsingError struct {
	EntryIndex int
	Reason     string
}
