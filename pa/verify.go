package pa

import (
	"context"
	"crypto/x509"
	"fmt"

	"github.com/digitorus/pkcs7"

	"github.com/iland112/local-pkd-sub003/core"
	pkderrors "github.com/iland112/local-pkd-sub003/errors"
	blog "github.com/iland112/local-pkd-sub003/log"
	"github.com/iland112/local-pkd-sub003/metrics"
)

// Verifier runs spec.md §4.5's Passive Authentication checks. It reads
// CSCAs only from LDAP (via the same publisher ldapdir constructs for
// Validation), never from the relational certificate table.
type Verifier struct {
	Ldap  core.LdapPublisher
	log   blog.Logger
	stats metrics.Scope
}

// NewVerifier builds a Verifier against an already-configured LDAP client.
func NewVerifier(ldap core.LdapPublisher, log blog.Logger, stats metrics.Scope) *Verifier {
	return &Verifier{Ldap: ldap, log: log, stats: stats.NewScope("pa")}
}

// Verify runs all three checks and aggregates a Result. It returns a Go
// error only for structural failures severe enough that no check could
// even be attempted (an unparseable SOD, or one with no embedded
// signer) — matching spec.md §4.5 step 1's MALFORMED_SOD case. Anything
// a check can reason about (missing CSCA, bad signature, hash mismatch)
// is reported inside the Result instead.
func (v *Verifier) Verify(ctx context.Context, req Request) (*Result, error) {
	p7, err := pkcs7.Parse(req.SOD)
	if err != nil {
		v.stats.Inc("malformed_sod", 1)
		return nil, pkderrors.MalformedSODError("parsing SOD as CMS SignedData: %s", err)
	}

	dsc := p7.GetOnlySigner()
	if dsc == nil {
		v.stats.Inc("malformed_sod", 1)
		return nil, pkderrors.MalformedSODError("SOD has no embedded signer certificate")
	}

	result := &Result{}

	cscaCert := v.resolveCSCA(ctx, dsc, result)
	v.checkSODSignature(p7, cscaCert, result)
	v.checkDataGroups(p7, req.DataGroups, result)

	result.Status = StatusInvalid
	if result.CertificateChainValidation.Valid && result.SODSignatureValidation.Valid && result.DataGroupValidation.Valid {
		result.Status = StatusValid
	}
	v.stats.Inc(fmt.Sprintf("result.%s", result.Status), 1)
	return result, nil
}

// resolveCSCA implements spec.md §4.5 steps 3-4: derive the issuing
// country from the DSC's issuer DN via the shared helper, LDAP lookup by
// that DN, then signature verification of the DSC against the retrieved
// CSCA. Returns nil if no CSCA could be resolved or the chain did not
// verify; either way CertificateChainValidation is populated.
func (v *Verifier) resolveCSCA(ctx context.Context, dsc *x509.Certificate, result *Result) *x509.Certificate {
	country := core.ExtractCountry(dsc.Issuer.String())
	cscaDER, err := v.Ldap.FindCSCAByDN(ctx, country, dsc.Issuer.String())
	if err != nil {
		result.CertificateChainValidation = SubResult{
			Valid:   false,
			Message: fmt.Sprintf("issuing CSCA not found in LDAP: %s", err),
		}
		return nil
	}

	cscaCert, err := x509.ParseCertificate(cscaDER)
	if err != nil {
		result.CertificateChainValidation = SubResult{
			Valid:   false,
			Message: fmt.Sprintf("stored CSCA is malformed: %s", err),
		}
		return nil
	}

	if err := dsc.CheckSignatureFrom(cscaCert); err != nil {
		result.CertificateChainValidation = SubResult{
			Valid:   false,
			Message: fmt.Sprintf("DSC signature does not verify against CSCA: %s", err),
		}
		return nil
	}

	result.CertificateChainValidation = SubResult{Valid: true, Message: "DSC chains to a known CSCA"}
	return cscaCert
}

// checkSODSignature implements spec.md §4.5 step 5. It deliberately
// depends on CSCA resolution having succeeded first: an SOD signed by a
// DSC this system cannot place under a trusted CSCA is not considered
// verified, even if the raw CMS signature is cryptographically sound.
func (v *Verifier) checkSODSignature(p7 *pkcs7.PKCS7, cscaCert *x509.Certificate, result *Result) {
	if cscaCert == nil {
		result.SODSignatureValidation = SubResult{Valid: false, Message: "could not verify without DSC issuer"}
		return
	}
	if err := p7.Verify(); err != nil {
		result.SODSignatureValidation = SubResult{Valid: false, Message: fmt.Sprintf("SOD signature invalid: %s", err)}
		return
	}
	result.SODSignatureValidation = SubResult{Valid: true, Message: "SOD signature verified against embedded DSC"}
}

// checkDataGroups implements spec.md §4.5 step 6.
func (v *Verifier) checkDataGroups(p7 *pkcs7.PKCS7, dataGroups map[string][]byte, result *Result) {
	dg, err := checkDataGroups(p7.Content, dataGroups)
	if err != nil {
		result.DataGroupValidation = DataGroupResult{Valid: false, Message: err.Error()}
		return
	}
	result.DataGroupValidation = dg
}
