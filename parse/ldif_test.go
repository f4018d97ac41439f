package parse

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/iland112/local-pkd-sub003/core"
	"github.com/iland112/local-pkd-sub003/test"
)

func b64(raw string) string {
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func TestParseLDIFClassifiesCSCADSCAndDSCNC(t *testing.T) {
	ldif := strings.Join([]string{
		"dn: o=CSCA,c=DE,dc=data,dc=download,dc=pkd",
		"objectclass: cscaCertificate",
		"cACertificate;binary:: " + b64("csca-der-bytes"),
		"",
		"dn: o=DSC,c=DE,dc=data,dc=download,dc=pkd",
		"objectclass: dscCertificate",
		"userCertificate;binary:: " + b64("dsc-der-bytes"),
		"",
		"dn: o=NC-DSC,c=DE,dc=data,dc=download,dc=pkd",
		"objectclass: dscCertificate",
		"userCertificate;binary:: " + b64("dsc-nc-der-bytes"),
		"",
	}, "\n")

	result, err := ParseLDIF(strings.NewReader(ldif), 0, nil)
	test.AssertNotError(t, err, "parsing well-formed LDIF")
	test.AssertEquals(t, len(result.Certs), 3)
	test.AssertEquals(t, len(result.Errors), 0)
	test.AssertEquals(t, result.Certs[0].Type, core.CertCSCA)
	test.AssertEquals(t, result.Certs[1].Type, core.CertDSC)
	test.AssertEquals(t, result.Certs[2].Type, core.CertDSCNC)
	test.AssertDeepEquals(t, result.Certs[0].RawDER, []byte("csca-der-bytes"))
}

func TestParseLDIFFoldsContinuationLines(t *testing.T) {
	encoded := b64("a-longer-certificate-payload-that-we-fold-across-lines")
	ldif := "dn: o=DSC,c=DE,dc=data,dc=download,dc=pkd\n" +
		"userCertificate;binary:: " + encoded[:10] + "\n" +
		" " + encoded[10:] + "\n\n"

	result, err := ParseLDIF(strings.NewReader(ldif), 0, nil)
	test.AssertNotError(t, err, "parsing folded LDIF")
	test.AssertEquals(t, len(result.Certs), 1)
	test.AssertDeepEquals(t, result.Certs[0].RawDER, []byte("a-longer-certificate-payload-that-we-fold-across-lines"))
}

func TestParseLDIFParsesCRLEntry(t *testing.T) {
	ldif := "dn: o=CRL,c=DE,dc=data,dc=download,dc=pkd\n" +
		"certificateRevocationList;binary:: " + b64("crl-der-bytes") + "\n\n"

	result, err := ParseLDIF(strings.NewReader(ldif), 0, nil)
	test.AssertNotError(t, err, "parsing CRL entry")
	test.AssertEquals(t, len(result.CRLs), 1)
	test.AssertDeepEquals(t, result.CRLs[0].RawDER, []byte("crl-der-bytes"))
}

func TestParseLDIFRecordsPerEntryErrorsAndContinues(t *testing.T) {
	ldif := strings.Join([]string{
		"dn: o=DSC,c=DE,dc=data,dc=download,dc=pkd",
		"userCertificate;binary:: not-valid-base64!!!",
		"",
		"dn: o=DSC,c=FR,dc=data,dc=download,dc=pkd",
		"userCertificate;binary:: " + b64("good-der-bytes"),
		"",
	}, "\n")

	result, err := ParseLDIF(strings.NewReader(ldif), 0, nil)
	test.AssertNotError(t, err, "scanning should not abort on a bad entry")
	test.AssertEquals(t, len(result.Errors), 1)
	test.AssertEquals(t, result.Errors[0].EntryIndex, 0)
	test.AssertEquals(t, len(result.Certs), 1)
	test.AssertDeepEquals(t, result.Certs[0].RawDER, []byte("good-der-bytes"))
}

func TestParseLDIFSkipsCommentLines(t *testing.T) {
	ldif := "# this is a comment\n" +
		"dn: o=DSC,c=DE,dc=data,dc=download,dc=pkd\n" +
		"# another comment\n" +
		"userCertificate;binary:: " + b64("der-bytes") + "\n\n"

	result, err := ParseLDIF(strings.NewReader(ldif), 0, nil)
	test.AssertNotError(t, err, "parsing LDIF with comments")
	test.AssertEquals(t, len(result.Certs), 1)
}

func TestParseLDIFEmptyFileYieldsNoEntries(t *testing.T) {
	result, err := ParseLDIF(strings.NewReader(""), 0, nil)
	test.AssertNotError(t, err, "parsing empty LDIF")
	test.AssertEquals(t, len(result.Certs), 0)
	test.AssertEquals(t, len(result.CRLs), 0)
	test.AssertEquals(t, len(result.Errors), 0)
}

func TestParseLDIFReportsProgress(t *testing.T) {
	var lines []string
	for i := 0; i < 25; i++ {
		lines = append(lines,
			"dn: o=DSC,c=DE,dc=data,dc=download,dc=pkd,serial="+string(rune('a'+i)),
			"userCertificate;binary:: "+b64("der-bytes"),
			"")
	}
	ldif := strings.Join(lines, "\n")

	var seen []int
	_, err := ParseLDIF(strings.NewReader(ldif), 10, func(scanned int) {
		seen = append(seen, scanned)
	})
	test.AssertNotError(t, err, "parsing with progress callback")
	test.AssertDeepEquals(t, seen, []int{10, 20, 25})
}

func TestSplitAttrLineHandlesOptionsAndBase64(t *testing.T) {
	name, binary, raw, isB64, err := splitAttrLine("cACertificate;binary:: " + b64("x"))
	test.AssertNotError(t, err, "splitting attribute line")
	test.AssertEquals(t, name, "cacertificate")
	test.AssertTrue(t, binary, "binary option should be detected")
	test.AssertTrue(t, isB64, "double colon should mean base64")
	test.AssertEquals(t, raw, b64("x"))
}

func TestClassifyEntryCovertsAllRoles(t *testing.T) {
	certType, isCRL := classifyEntry("o=CSCA,c=DE")
	test.AssertEquals(t, certType, core.CertCSCA)
	test.AssertTrue(t, !isCRL, "CSCA entry is not a CRL")

	_, isCRL = classifyEntry("o=CRL,c=DE")
	test.AssertTrue(t, isCRL, "CRL entry should be classified as a CRL")

	certType, _ = classifyEntry("dc=NC-data,c=DE")
	test.AssertEquals(t, certType, core.CertDSCNC)
}
