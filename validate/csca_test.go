package validate

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/iland112/local-pkd-sub003/core"
	"github.com/iland112/local-pkd-sub003/test"
)

func selfSignedCSCA(t *testing.T, country string, notBefore, notAfter time.Time) (*x509.Certificate, []byte, *ecdsa.PrivateKey) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	test.AssertNotError(t, err, "generating CSCA key")

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Country:    []string{country},
			CommonName: "Test CSCA " + country,
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	test.AssertNotError(t, err, "self-signing CSCA")

	cert, err := x509.ParseCertificate(der)
	test.AssertNotError(t, err, "parsing self-signed CSCA")
	return cert, der, key
}

func TestDecodeCSCAValidSelfSigned(t *testing.T) {
	_, der, _ := selfSignedCSCA(t, "DE", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	row, err := decodeCSCA("upload-1", core.CertValueObject{Type: core.CertCSCA, SourceType: core.SourceLDIF, RawDER: der}, time.Now())
	test.AssertNotError(t, err, "decoding valid CSCA")
	test.AssertEquals(t, row.ValidationStatus, core.ValidationValid)
	test.AssertEquals(t, len(row.ValidationErrors), 0)
	test.AssertEquals(t, row.SubjectCountry, "DE")
}

func TestDecodeCSCAExpired(t *testing.T) {
	_, der, _ := selfSignedCSCA(t, "DE", time.Now().Add(-48*time.Hour), time.Now().Add(-time.Hour))

	row, err := decodeCSCA("upload-1", core.CertValueObject{Type: core.CertCSCA, SourceType: core.SourceLDIF, RawDER: der}, time.Now())
	test.AssertNotError(t, err, "decoding expired CSCA")
	test.AssertEquals(t, row.ValidationStatus, core.ValidationExpired)
}

func TestDecodeCSCARejectsNonCA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	test.AssertNotError(t, err, "generating key")

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{Country: []string{"DE"}, CommonName: "Not a CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  false,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	test.AssertNotError(t, err, "self-signing")

	row, err := decodeCSCA("upload-1", core.CertValueObject{Type: core.CertCSCA, SourceType: core.SourceLDIF, RawDER: der}, time.Now())
	test.AssertNotError(t, err, "decoding")
	test.AssertTrue(t, row.HasError(core.ErrInvalidCAConstraint), "expected INVALID_CA_CONSTRAINTS")
	test.AssertEquals(t, row.ValidationStatus, core.ValidationInvalid)
}

func TestDecodeCSCAMalformedDERReturnsError(t *testing.T) {
	_, err := decodeCSCA("upload-1", core.CertValueObject{RawDER: []byte("not a certificate")}, time.Now())
	test.AssertError(t, err, "expected decoding error for malformed DER")
}
