package validate

import (
	"crypto/x509"

	"github.com/zmap/zlint/v3"
	"github.com/zmap/zlint/v3/lint"

	"github.com/iland112/local-pkd-sub003/core"
)

// runLints appends core.ErrLintWarning to row if zlint reports any
// Error/Fatal-level result against cert. This is supplemental to the
// spec's enumerated checks (SPEC_FULL.md's domain-stack expansion): it
// never changes ValidationStatus on its own, matching boulder's own use
// of zlint as a pre-issuance advisory pass rather than a hard gate.
func runLints(cert *x509.Certificate, row *core.Certificate) {
	result := zlint.LintCertificate(cert)
	for _, r := range result.Results {
		if r.Status == lint.Error || r.Status == lint.Fatal {
			row.AddError(core.ErrLintWarning)
			return
		}
	}
}
