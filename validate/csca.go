package validate

import (
	"crypto/x509"
	"fmt"
	"time"

	"github.com/iland112/local-pkd-sub003/core"
)

// decodeCSCA runs spec.md §4.3.1's structural checks on one extracted
// CSCA value object and returns a Certificate row ready to Upsert. It
// never returns an error for a certificate-level defect; those are
// recorded as ValidationErrors on the returned row instead, matching
// boulder's pattern of persisting rejected material rather than
// discarding it (ca/certificate-authority.go logs and stores rejections
// rather than silently dropping the CSR). It returns an error only when
// the DER itself cannot be parsed at all.
func decodeCSCA(uploadID string, vo core.CertValueObject, now time.Time) (*core.Certificate, error) {
	cert, err := x509.ParseCertificate(vo.RawDER)
	if err != nil {
		return nil, fmt.Errorf("decoding CSCA DER: %w", err)
	}

	row := &core.Certificate{
		UploadID:          uploadID,
		Type:              core.CertCSCA,
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

	if !cert.IsCA || !cert.BasicConstraintsValid || cert.KeyUsage&x509.KeyUsageCertSign == 0 {
		row.AddError(core.ErrInvalidCAConstraint)
	}

	if err := cert.CheckSignatureFrom(cert); err != nil {
		// Known interop note (spec.md §4.3.1): some national CSCAs fail
		// self-verify on signature-encoding quirks. Recorded, not dropped.
		row.AddError(core.ErrSelfSignFailed)
	}

	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		row.ValidationStatus = core.ValidationExpired
		return row, nil
	}

	if len(row.ValidationErrors) > 0 {
		row.ValidationStatus = core.ValidationInvalid
	}
	return row, nil
}
