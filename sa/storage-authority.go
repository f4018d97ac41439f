// Copyright 2014 ISRG.  All rights reserved
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sa

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmhodges/clock"
	borp "github.com/letsencrypt/borp"

	"github.com/iland112/local-pkd-sub003/core"
	blog "github.com/iland112/local-pkd-sub003/log"
)

// Each bounded context gets its own narrow store type rather than one
// do-everything SQLStorageAuthority: core.UploadStore and
// core.MasterListStore both name their write method Insert, and
// core.CertificateStore/core.CRLStore both name theirs Upsert, so a single
// Go type could not implement more than one of these interfaces at once.
// All four share the same dbMap/clock/log, constructed together by
// NewStores.

// UploadStore implements core.UploadStore.
type UploadStore struct {
	dbMap *borp.DbMap
	clk   clock.Clock
	log   blog.Logger
}

// CertificateStore implements core.CertificateStore.
type CertificateStore struct {
	dbMap *borp.DbMap
	clk   clock.Clock
	log   blog.Logger
}

// CRLStore implements core.CRLStore.
type CRLStore struct {
	dbMap *borp.DbMap
	clk   clock.Clock
	log   blog.Logger
}

// MasterListStore implements core.MasterListStore.
type MasterListStore struct {
	dbMap *borp.DbMap
	clk   clock.Clock
	log   blog.Logger
}

// NewStores wires the four relational stores around a single mapped DbMap.
func NewStores(dbMap *borp.DbMap, clk clock.Clock, log blog.Logger) (*UploadStore, *CertificateStore, *CRLStore, *MasterListStore) {
	log.Info("storage authority starting")
	return &UploadStore{dbMap, clk, log},
		&CertificateStore{dbMap, clk, log},
		&CRLStore{dbMap, clk, log},
		&MasterListStore{dbMap, clk, log}
}

// --- UploadStore ---

func (s *UploadStore) Insert(ctx context.Context, rec *core.UploadRecord) error {
	m := uploadToModel(rec)
	return ssaExec(s.dbMap, ctx).Insert(m)
}

func (s *UploadStore) Get(ctx context.Context, id string) (*core.UploadRecord, error) {
	m, err := selectUpload(ssaSelector(s.dbMap, ctx), "WHERE ID = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return modelToUpload(m), nil
}

func (s *UploadStore) GetByFingerprint(ctx context.Context, fingerprint string) (*core.UploadRecord, error) {
	m, err := selectUpload(ssaSelector(s.dbMap, ctx), "WHERE ContentFingerprint = ?", fingerprint)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return modelToUpload(m), nil
}

func (s *UploadStore) UpdateStatus(ctx context.Context, id string, status core.UploadStatus) error {
	_, err := ssaExec(s.dbMap, ctx).Exec(
		"UPDATE uploaded_file SET Status = ?, UpdatedAt = ? WHERE ID = ?",
		string(status), s.clk.Now(), id)
	return err
}

func (s *UploadStore) MarkFailed(ctx context.Context, id, stage, message string) error {
	_, err := ssaExec(s.dbMap, ctx).Exec(
		"UPDATE uploaded_file SET Status = ?, FailureStage = ?, FailureMessage = ?, UpdatedAt = ? WHERE ID = ?",
		string(core.StatusFailed), stage, message, s.clk.Now(), id)
	return err
}

func (s *UploadStore) SetManualPauseStep(ctx context.Context, id, step string) error {
	_, err := ssaExec(s.dbMap, ctx).Exec(
		"UPDATE uploaded_file SET ManualPauseStep = ?, UpdatedAt = ? WHERE ID = ?",
		step, s.clk.Now(), id)
	return err
}

func (s *UploadStore) SetMasterListUntrustedSigner(ctx context.Context, id string) error {
	_, err := ssaExec(s.dbMap, ctx).Exec(
		"UPDATE uploaded_file SET MasterListUntrustedSigner = ?, UpdatedAt = ? WHERE ID = ?",
		true, s.clk.Now(), id)
	return err
}

// --- CertificateStore ---

// Upsert implements invariant 2 from spec.md: a certificate row is keyed
// by FingerprintSHA256, and re-encountering the same bytes is a tolerated
// no-op rather than an error. On a tolerated skip, c is replaced in place
// with the already-persisted row.
func (s *CertificateStore) Upsert(ctx context.Context, c *core.Certificate) (bool, error) {
	existing, err := selectCertificate(ssaSelector(s.dbMap, ctx), "WHERE FingerprintSHA256 = ?", c.FingerprintSHA256)
	if err == nil {
		got, convErr := modelToCertificate(existing)
		if convErr != nil {
			return false, convErr
		}
		*c = *got
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("looking up certificate by fingerprint: %w", err)
	}

	m, err := certificateToModel(c)
	if err != nil {
		return false, err
	}
	if err := ssaExec(s.dbMap, ctx).Insert(m); err != nil {
		return false, err
	}
	return true, nil
}

func (s *CertificateStore) FindBySubjectDN(ctx context.Context, certType core.CertType, normalizedSubjectDN string) (*core.Certificate, error) {
	m, err := selectCertificate(ssaSelector(s.dbMap, ctx), "WHERE Type = ? AND SubjectDN = ? LIMIT 1", string(certType), normalizedSubjectDN)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return modelToCertificate(m)
}

func (s *CertificateStore) MarkUploadedToLDAP(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, true)
	placeholders := ""
	for i, id := range ids {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, id)
	}
	_, err := ssaExec(s.dbMap, ctx).Exec(
		fmt.Sprintf("UPDATE certificate SET UploadedToLDAP = ? WHERE ID IN (%s)", placeholders),
		args...)
	return err
}

func (s *CertificateStore) CountByUpload(ctx context.Context, uploadID string) (int, error) {
	var count int
	err := ssaSelector(s.dbMap, ctx).SelectOne(&count, "SELECT COUNT(*) FROM certificate WHERE UploadID = ?", uploadID)
	return count, err
}

// --- CRLStore ---

func (s *CRLStore) Upsert(ctx context.Context, c *core.CRL) (bool, error) {
	existing, err := selectCRLs(ssaMultiSelector(s.dbMap, ctx), "WHERE FingerprintSHA256 = ?", c.FingerprintSHA256)
	if err != nil {
		return false, fmt.Errorf("looking up crl by fingerprint: %w", err)
	}
	if len(existing) > 0 {
		got, convErr := modelToCRL(existing[0])
		if convErr != nil {
			return false, convErr
		}
		*c = *got
		return false, nil
	}

	m, err := crlToModel(c)
	if err != nil {
		return false, err
	}
	if err := ssaExec(s.dbMap, ctx).Insert(m); err != nil {
		return false, err
	}
	return true, nil
}

func (s *CRLStore) FindCoveringIssuer(ctx context.Context, normalizedIssuerDN string) ([]*core.CRL, error) {
	models, err := selectCRLs(ssaMultiSelector(s.dbMap, ctx), "WHERE IssuerName = ? ORDER BY ThisUpdate DESC", normalizedIssuerDN)
	if err != nil {
		return nil, err
	}
	out := make([]*core.CRL, 0, len(models))
	for _, m := range models {
		c, err := modelToCRL(m)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// --- MasterListStore ---

func (s *MasterListStore) Insert(ctx context.Context, ml *core.MasterList) error {
	return ssaExec(s.dbMap, ctx).Insert(masterListToModel(ml))
}

// ssaExec/ssaSelector/ssaMultiSelector narrow *borp.DbMap.WithContext's
// return value to the subset of gorp.SqlExecutor each query needs, matching
// the teacher's dbOneSelector/dbSelector/dbInserter/dbExecer convention in
// model.go.

func ssaExec(dbMap *borp.DbMap, ctx context.Context) borp.SqlExecutor {
	return dbMap.WithContext(ctx)
}

func ssaSelector(dbMap *borp.DbMap, ctx context.Context) dbOneSelector {
	return dbMap.WithContext(ctx)
}

func ssaMultiSelector(dbMap *borp.DbMap, ctx context.Context) dbSelector {
	return dbMap.WithContext(ctx)
}
