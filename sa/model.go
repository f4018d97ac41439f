package sa

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iland112/local-pkd-sub003/core"
)

// By convention, any function that takes a dbOneSelector, dbSelector,
// dbInserter, or dbExecer as an argument expects that a context has
// already been applied to the relevant DbMap or Transaction object.

// A `dbOneSelector` is anything that provides a `SelectOne` function.
type dbOneSelector interface {
	SelectOne(interface{}, string, ...interface{}) error
}

// A `dbSelector` is anything that provides a `Select` function.
type dbSelector interface {
	Select(interface{}, string, ...interface{}) ([]interface{}, error)
}

// a `dbInserter` is anything that provides an `Insert` function
type dbInserter interface {
	Insert(list ...interface{}) error
}

// A `dbExecer` is anything that provides an `Exec` function
type dbExecer interface {
	Exec(string, ...interface{}) (sql.Result, error)
}

// uploadModel is the row shape for uploaded_file.
type uploadModel struct {
	ID                        string `db:"ID"`
	FileName                  string
	ByteSize                  int64
	ContentFingerprint        string
	DetectedFormat            string
	ProcessingMode            string
	ManualPauseStep           string
	Status                    string
	FailureStage              string
	FailureMessage            string
	MasterListUntrustedSigner bool
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

func uploadToModel(u *core.UploadRecord) *uploadModel {
	return &uploadModel{
		ID:                        u.ID,
		FileName:                  u.FileName,
		ByteSize:                  u.ByteSize,
		ContentFingerprint:        u.ContentFingerprint,
		DetectedFormat:            string(u.DetectedFormat),
		ProcessingMode:            string(u.ProcessingMode),
		ManualPauseStep:           u.ManualPauseStep,
		Status:                    string(u.Status),
		FailureStage:              u.FailureStage,
		FailureMessage:            u.FailureMessage,
		MasterListUntrustedSigner: u.MasterListUntrustedSigner,
		CreatedAt:                 u.CreatedAt,
		UpdatedAt:                 u.UpdatedAt,
	}
}

func modelToUpload(m *uploadModel) *core.UploadRecord {
	return &core.UploadRecord{
		ID:                        m.ID,
		FileName:                  m.FileName,
		ByteSize:                  m.ByteSize,
		ContentFingerprint:        m.ContentFingerprint,
		DetectedFormat:            core.DetectedFormat(m.DetectedFormat),
		ProcessingMode:            core.ProcessingMode(m.ProcessingMode),
		ManualPauseStep:           m.ManualPauseStep,
		Status:                    core.UploadStatus(m.Status),
		FailureStage:              m.FailureStage,
		FailureMessage:            m.FailureMessage,
		MasterListUntrustedSigner: m.MasterListUntrustedSigner,
		CreatedAt:                 m.CreatedAt,
		UpdatedAt:                 m.UpdatedAt,
	}
}

const uploadFields = "ID, FileName, ByteSize, ContentFingerprint, DetectedFormat, ProcessingMode, " +
	"ManualPauseStep, Status, FailureStage, FailureMessage, MasterListUntrustedSigner, CreatedAt, UpdatedAt"

func selectUpload(s dbOneSelector, q string, args ...interface{}) (*uploadModel, error) {
	var m uploadModel
	err := s.SelectOne(&m, "SELECT "+uploadFields+" FROM uploaded_file "+q, args...)
	return &m, err
}

// certificateModel is the row shape for certificate.
type certificateModel struct {
	ID                string `db:"ID"`
	UploadID          string
	Type              string
	SourceType        string
	SubjectDN         string
	IssuerDN          string
	SerialNumber      string
	SubjectCountry    string
	IssuerCountry     string
	NotBefore         time.Time
	NotAfter          time.Time
	FingerprintSHA256 string
	RawDER            []byte
	ValidationStatus  string
	ValidationErrors  string // JSON array of core.ValidationErrorKind
	UploadedToLDAP    bool
}

func certificateToModel(c *core.Certificate) (*certificateModel, error) {
	errsJSON, err := json.Marshal(c.ValidationErrors)
	if err != nil {
		return nil, fmt.Errorf("marshalling validation errors: %w", err)
	}
	return &certificateModel{
		ID:                c.ID,
		UploadID:          c.UploadID,
		Type:              string(c.Type),
		SourceType:        string(c.SourceType),
		SubjectDN:         c.SubjectDN,
		IssuerDN:          c.IssuerDN,
		SerialNumber:      c.SerialNumber,
		SubjectCountry:    c.SubjectCountry,
		IssuerCountry:     c.IssuerCountry,
		NotBefore:         c.NotBefore,
		NotAfter:          c.NotAfter,
		FingerprintSHA256: c.FingerprintSHA256,
		RawDER:            c.RawDER,
		ValidationStatus:  string(c.ValidationStatus),
		ValidationErrors:  string(errsJSON),
		UploadedToLDAP:    c.UploadedToLDAP,
	}, nil
}

func modelToCertificate(m *certificateModel) (*core.Certificate, error) {
	var kinds []core.ValidationErrorKind
	if m.ValidationErrors != "" {
		if err := json.Unmarshal([]byte(m.ValidationErrors), &kinds); err != nil {
			return nil, fmt.Errorf("unmarshalling validation errors for certificate %s: %w", m.ID, err)
		}
	}
	return &core.Certificate{
		ID:                m.ID,
		UploadID:          m.UploadID,
		Type:              core.CertType(m.Type),
		SourceType:        core.SourceType(m.SourceType),
		SubjectDN:         m.SubjectDN,
		IssuerDN:          m.IssuerDN,
		SerialNumber:      m.SerialNumber,
		SubjectCountry:    m.SubjectCountry,
		IssuerCountry:     m.IssuerCountry,
		NotBefore:         m.NotBefore,
		NotAfter:          m.NotAfter,
		FingerprintSHA256: m.FingerprintSHA256,
		RawDER:            m.RawDER,
		ValidationStatus:  core.ValidationStatus(m.ValidationStatus),
		ValidationErrors:  kinds,
		UploadedToLDAP:    m.UploadedToLDAP,
	}, nil
}

const certificateFields = "ID, UploadID, Type, SourceType, SubjectDN, IssuerDN, SerialNumber, " +
	"SubjectCountry, IssuerCountry, NotBefore, NotAfter, FingerprintSHA256, RawDER, " +
	"ValidationStatus, ValidationErrors, UploadedToLDAP"

func selectCertificate(s dbOneSelector, q string, args ...interface{}) (*certificateModel, error) {
	var m certificateModel
	err := s.SelectOne(&m, "SELECT "+certificateFields+" FROM certificate "+q, args...)
	return &m, err
}

// crlModel is the row shape for certificate_revocation_list.
type crlModel struct {
	ID                string `db:"ID"`
	UploadID          string
	IssuerName        string
	IssuerCountry     string
	ThisUpdate        time.Time
	NextUpdate        time.Time
	RevokedSerials    string // JSON object: serial -> true
	RawDER            []byte
	FingerprintSHA256 string
}

func crlToModel(c *core.CRL) (*crlModel, error) {
	serialsJSON, err := json.Marshal(c.RevokedSerials)
	if err != nil {
		return nil, fmt.Errorf("marshalling revoked serials: %w", err)
	}
	return &crlModel{
		ID:                c.ID,
		UploadID:          c.UploadID,
		IssuerName:        c.IssuerName,
		IssuerCountry:     c.IssuerCountry,
		ThisUpdate:        c.ThisUpdate,
		NextUpdate:        c.NextUpdate,
		RevokedSerials:    string(serialsJSON),
		RawDER:            c.RawDER,
		FingerprintSHA256: c.FingerprintSHA256,
	}, nil
}

func modelToCRL(m *crlModel) (*core.CRL, error) {
	serials := map[string]bool{}
	if m.RevokedSerials != "" {
		if err := json.Unmarshal([]byte(m.RevokedSerials), &serials); err != nil {
			return nil, fmt.Errorf("unmarshalling revoked serials for crl %s: %w", m.ID, err)
		}
	}
	return &core.CRL{
		ID:                m.ID,
		UploadID:          m.UploadID,
		IssuerName:        m.IssuerName,
		IssuerCountry:     m.IssuerCountry,
		ThisUpdate:        m.ThisUpdate,
		NextUpdate:        m.NextUpdate,
		RevokedSerials:    serials,
		RawDER:            m.RawDER,
		FingerprintSHA256: m.FingerprintSHA256,
	}, nil
}

const crlFields = "ID, UploadID, IssuerName, IssuerCountry, ThisUpdate, NextUpdate, RevokedSerials, RawDER, FingerprintSHA256"

func selectCRLs(s dbSelector, q string, args ...interface{}) ([]*crlModel, error) {
	var models []*crlModel
	_, err := s.Select(&models, "SELECT "+crlFields+" FROM certificate_revocation_list "+q, args...)
	return models, err
}

// masterListModel is the row shape for master_list.
type masterListModel struct {
	ID                 string `db:"ID"`
	UploadID           string
	SignerCountry      string
	ContainedCSCACount int
	UntrustedSigner    bool
	RawCMS             []byte
	FingerprintSHA256  string
}

func masterListToModel(ml *core.MasterList) *masterListModel {
	return &masterListModel{
		ID:                 ml.ID,
		UploadID:           ml.UploadID,
		SignerCountry:      ml.SignerCountry,
		ContainedCSCACount: ml.ContainedCSCACount,
		UntrustedSigner:    ml.UntrustedSigner,
		RawCMS:             ml.RawCMS,
		FingerprintSHA256:  ml.FingerprintSHA256,
	}
}
