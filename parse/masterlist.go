package parse

import (
	"crypto/x509"
	"fmt"

	"github.com/digitorus/pkcs7"

	"github.com/iland112/local-pkd-sub003/core"
)

// MasterListResult is everything ParseMasterList extracts from one CMS
// Master List file.
type MasterListResult struct {
	SignerCountry   string
	UntrustedSigner bool
	CSCAs           []core.CertValueObject
}

// ParseMasterList implements spec.md §4.2's Master List parser: decode the
// outer CMS ContentInfo/SignedData, verify the signature against
// trustAnchors, then parse the encapsulated ASN.1 SEQUENCE OF
// X.509Certificate as the contained CSCA set. An untrusted (unanchored)
// signer does not abort parsing; it is reported back so the caller can
// record MASTER_LIST_UNTRUSTED_SIGNER on the upload (spec.md §9, Open
// Question 2).
func ParseMasterList(raw []byte, trustAnchors *x509.CertPool) (MasterListResult, error) {
	p7, err := pkcs7.Parse(raw)
	if err != nil {
		return MasterListResult{}, fmt.Errorf("decoding CMS ContentInfo: %w", err)
	}

	signer := p7.GetOnlySigner()
	var signerCountry string
	if signer != nil {
		signerCountry = core.ExtractCountry(signer.Subject.String())
	}

	untrusted := false
	if trustAnchors != nil {
		if err := p7.VerifyWithChain(trustAnchors); err != nil {
			untrusted = true
		}
	} else {
		untrusted = true
	}

	cscas, err := x509.ParseCertificates(p7.Content)
	if err != nil {
		// Some distributions embed the certificate set in p7.Certificates
		// rather than re-parsing the encapsulated content as a bare
		// SEQUENCE OF Certificate; fall back to that.
		if len(p7.Certificates) == 0 {
			return MasterListResult{}, fmt.Errorf("parsing encapsulated CSCA set: %w", err)
		}
		cscas = p7.Certificates
	}

	result := MasterListResult{
		SignerCountry:   signerCountry,
		UntrustedSigner: untrusted,
		CSCAs:           make([]core.CertValueObject, 0, len(cscas)),
	}
	for _, c := range cscas {
		result.CSCAs = append(result.CSCAs, core.CertValueObject{
			Type:       core.CertCSCA,
			SourceType: core.SourceMasterList,
			RawDER:     c.Raw,
		})
	}
	return result, nil
}
