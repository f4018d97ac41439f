package validate

import (
	"crypto/x509"
	"fmt"

	"github.com/iland112/local-pkd-sub003/core"
)

// decodeCRL performs the structural decode §4.3.2 step 6 depends on:
// issuer, validity window, and the revoked-serial set.
func decodeCRL(uploadID string, vo core.CRLValueObject) (*core.CRL, error) {
	list, err := x509.ParseRevocationList(vo.RawDER)
	if err != nil {
		return nil, fmt.Errorf("decoding CRL DER: %w", err)
	}

	revoked := make(map[string]bool, len(list.RevokedCertificateEntries))
	for _, entry := range list.RevokedCertificateEntries {
		revoked[fmt.Sprintf("%x", entry.SerialNumber)] = true
	}

	return &core.CRL{
		UploadID:          uploadID,
		IssuerName:        list.Issuer.String(),
		IssuerCountry:     core.ExtractCountry(list.Issuer.String()),
		ThisUpdate:        list.ThisUpdate,
		NextUpdate:        list.NextUpdate,
		RevokedSerials:    revoked,
		RawDER:            vo.RawDER,
		FingerprintSHA256: fingerprintSHA256(vo.RawDER),
	}, nil
}
