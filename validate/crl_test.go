package validate

import (
	"crypto/rand"
	"crypto/x509"
	"math/big"
	"testing"
	"time"

	"github.com/iland112/local-pkd-sub003/core"
	"github.com/iland112/local-pkd-sub003/test"
)

func TestDecodeCRL(t *testing.T) {
	issuerCert, _, issuerKey := selfSignedCSCA(t, "DE", time.Now().Add(-time.Hour), time.Now().Add(24*time.Hour))

	template := &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now().Add(-time.Hour),
		NextUpdate: time.Now().Add(24 * time.Hour),
		RevokedCertificateEntries: []x509.RevokedCertificateEntry{
			{SerialNumber: big.NewInt(42), RevocationTime: time.Now().Add(-time.Minute)},
		},
	}
	der, err := x509.CreateRevocationList(rand.Reader, template, issuerCert, issuerKey)
	test.AssertNotError(t, err, "creating CRL")

	row, err := decodeCRL("upload-1", core.CRLValueObject{RawDER: der})
	test.AssertNotError(t, err, "decoding CRL")
	test.AssertEquals(t, row.IssuerCountry, "DE")
	test.AssertTrue(t, row.RevokedSerials[big.NewInt(42).Text(16)], "expected serial 42 revoked")
	test.AssertTrue(t, row.Covers(time.Now()), "expected CRL to cover now")
}

func TestDecodeCRLMalformedDERReturnsError(t *testing.T) {
	_, err := decodeCRL("upload-1", core.CRLValueObject{RawDER: []byte("garbage")})
	test.AssertError(t, err, "expected decoding error for malformed CRL DER")
}
