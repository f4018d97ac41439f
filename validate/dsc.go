package validate

import (
	"context"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/iland112/local-pkd-sub003/core"
)

// decodeDSC runs spec.md §4.3.2's structural checks on one extracted
// DSC/DSC_NC value object. issuerLookup and crlLookup are injected so this
// function stays pure and testable without a database or LDAP connection.
func decodeDSC(ctx context.Context, uploadID string, vo core.CertValueObject, now time.Time, issuerLookup func(ctx context.Context, normalizedIssuerDN string) (*core.Certificate, error), crlLookup func(ctx context.Context, normalizedIssuerDN string) ([]*core.CRL, error)) (*core.Certificate, error) {
	cert, err := x509.ParseCertificate(vo.RawDER)
	if err != nil {
		return nil, fmt.Errorf("decoding DSC DER: %w", err)
	}

	row := &core.Certificate{
		UploadID:          uploadID,
		Type:              vo.Type,
		SourceType:        vo.SourceType,
		SubjectDN:         cert.Subject.String(),
		IssuerDN:          cert.Issuer.String(),
		SerialNumber:      fmt.Sprintf("%x", cert.SerialNumber),
		SubjectCountry:    core.ExtractCountry(cert.Subject.String()),
		IssuerCountry:     core.ExtractCountry(cert.Issuer.String()),
		NotBefore:         cert.NotBefore,
		NotAfter:          cert.NotAfter,
		FingerprintSHA256: fingerprintSHA256(vo.RawDER),
		RawDER:            vo.RawDER,
		ValidationStatus:  core.ValidationValid,
	}

	structuralFailure := false

	issuer, err := issuerLookup(ctx, core.CanonicalDN(cert.Issuer.String()))
	if err != nil {
		return nil, fmt.Errorf("looking up issuer for DSC %s: %w", row.SubjectDN, err)
	}
	if issuer == nil {
		row.AddError(core.ErrIssuerNotFound)
		structuralFailure = true
	} else {
		issuerCert, parseErr := x509.ParseCertificate(issuer.RawDER)
		if parseErr != nil || cert.CheckSignatureFrom(issuerCert) != nil {
			row.AddError(core.ErrSignatureInvalid)
		}
	}

	if cert.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		row.AddError(core.ErrInvalidKeyUsage)
		structuralFailure = true
	}

	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		row.AddError(core.ErrExpired)
	}

	if issuer != nil {
		crls, err := crlLookup(ctx, core.CanonicalDN(cert.Issuer.String()))
		if err != nil {
			return nil, fmt.Errorf("looking up CRLs for DSC %s: %w", row.SubjectDN, err)
		}
		serial := fmt.Sprintf("%x", cert.SerialNumber)
		for _, crl := range crls {
			if !crl.Covers(now) {
				continue
			}
			if crl.RevokedSerials[serial] {
				row.AddError(core.ErrRevoked)
				break
			}
		}
	}

	switch {
	case row.HasError(core.ErrExpired):
		row.ValidationStatus = core.ValidationExpired
	case row.HasError(core.ErrRevoked), row.HasError(core.ErrSignatureInvalid), row.HasError(core.ErrIssuerNotFound):
		row.ValidationStatus = core.ValidationInvalid
	case vo.Type == core.CertDSCNC && structuralFailure && !row.HasError(core.ErrSignatureInvalid):
		// spec.md §4.3.2: DSC_NC records NON_CONFORMANT_ATTR when
		// structural rules fail but the signature itself is valid.
		row.AddError(core.ErrNonConformantAttr)
		row.ValidationStatus = core.ValidationInvalid
	case len(row.ValidationErrors) > 0:
		row.ValidationStatus = core.ValidationInvalid
	}

	return row, nil
}
