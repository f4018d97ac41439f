// Package ldapdir implements the LDAP Publication bounded context
// (spec.md §4.4): mapping persisted certificates, CRLs, and Master Lists
// to LDIF entries, and executing pooled, duplicate-tolerant Adds against
// the directory. No example repo in this pack publishes to a directory
// server; the entry-construction rules and DIT layout are taken directly
// from spec.md §4.4/§6.3, while the batch-submit/mark-success shape is
// grounded on boulder's publisher/publisher.go (SubmitToCT: one call per
// domain object, outcomes folded into a per-run tally).
package ldapdir

import (
	"strings"

	"github.com/iland112/local-pkd-sub003/core"
)

// Config carries the pieces of config.LDAPConfig the entry builder needs.
// It is a narrow projection rather than config.LDAPConfig itself so this
// package does not import the top-level config package.
type Config struct {
	BaseDN          string // e.g. "dc=ldap,dc=smartcoreinc,dc=com"
	RootRewriteFrom string // e.g. "dc=icao,dc=int"
}

const (
	dataBranch   = "dc=data,dc=download,dc=pkd"
	ncDataBranch = "dc=nc-data,dc=download,dc=pkd"
)

// orgMarker returns the §4.4 "o=" value for a certificate type.
func orgMarker(t core.CertType) string {
	if t == core.CertCSCA {
		return "csca"
	}
	return "dsc"
}

// branch returns the DIT sub-branch ("data" or "nc-data") a certificate is
// published under.
func branch(t core.CertType) string {
	if t == core.CertDSCNC {
		return ncDataBranch
	}
	return dataBranch
}

// BuildCertEntry maps a persisted Certificate to the LDIF entry spec.md
// §4.4 describes. country defaults to the certificate's SubjectCountry;
// callers needing a Master-List-sourced country override should set
// c.SubjectCountry before calling.
func BuildCertEntry(c *core.Certificate, cfg Config) core.LdifEntry {
	dn := "cn=" + escapeRDNValue(c.SubjectDN) + "+sn=" + escapeRDNValue(strings.ToLower(c.SerialNumber)) +
		",o=" + orgMarker(c.Type) + ",c=" + c.SubjectCountry + "," + branch(c.Type) + "," + cfg.BaseDN

	objectClasses := []string{"top", "person", "organizationalPerson", "inetOrgPerson", "pkdDownload"}
	if c.Type == core.CertCSCA {
		objectClasses = append(objectClasses, "pkdMasterList")
	}

	return core.LdifEntry{
		DN:          dn,
		ObjectClass: objectClasses,
		Attrs: map[string][]string{
			"cn":         {c.SubjectDN},
			"sn":         {c.SerialNumber},
			"pkdVersion": {"1150"},
		},
		BinaryAttrs: map[string][]byte{
			"userCertificate;binary": c.RawDER,
		},
		SourceCertID: c.ID,
	}
}

// BuildCRLEntry maps a persisted CRL to its §4.4 LDIF entry.
func BuildCRLEntry(c *core.CRL, cfg Config) core.LdifEntry {
	dn := "cn=" + escapeRDNValue(c.IssuerName) + ",o=crl,c=" + c.IssuerCountry + "," + dataBranch + "," + cfg.BaseDN

	return core.LdifEntry{
		DN:          dn,
		ObjectClass: []string{"top", "cRLDistributionPoint"},
		Attrs: map[string][]string{
			"cn": {c.IssuerName},
		},
		BinaryAttrs: map[string][]byte{
			"certificateRevocationList;binary": c.RawDER,
		},
		SourceCertID: c.ID,
	}
}

// BuildMasterListEntry maps a Master List's raw CMS blob to the single
// o=ml entry spec.md §4.4.1 requires — the one LDIF object published for
// an entire Master List upload, independent of the per-certificate Adds
// its contained CSCAs would otherwise have triggered.
func BuildMasterListEntry(ml *core.MasterList, cfg Config) core.LdifEntry {
	dn := "cn=" + escapeRDNValue(ml.ID) + ",o=ml,c=" + ml.SignerCountry + "," + dataBranch + "," + cfg.BaseDN

	return core.LdifEntry{
		DN:          dn,
		ObjectClass: []string{"top", "pkdDownload", "pkdMasterList"},
		Attrs: map[string][]string{
			"cn":         {ml.ID},
			"pkdVersion": {"1150"},
		},
		BinaryAttrs: map[string][]byte{
			"pkdMasterListContent;binary": ml.RawCMS,
		},
		SourceCertID: ml.ID,
	}
}

// RewriteRoot implements spec.md §6.3's rewrite rule for externally
// produced LDIF: a trailing RootRewriteFrom suffix is replaced with
// cfg.BaseDN before Add.
func RewriteRoot(dn string, cfg Config) string {
	if cfg.RootRewriteFrom == "" {
		return dn
	}
	suffix := "," + cfg.RootRewriteFrom
	if strings.HasSuffix(dn, suffix) {
		return strings.TrimSuffix(dn, suffix) + "," + cfg.BaseDN
	}
	if dn == cfg.RootRewriteFrom {
		return cfg.BaseDN
	}
	return dn
}

// parentDNs returns dn's ancestor DNs from immediate parent up to (but not
// including) baseDN itself, in leaf-to-root order — the chain §4.4's
// organizational node materialization probes before the leaf Add.
func parentDNs(dn, baseDN string) []string {
	var parents []string
	rest := dn
	for {
		idx := strings.IndexByte(rest, ',')
		if idx < 0 {
			break
		}
		rest = rest[idx+1:]
		if rest == "" || rest == baseDN {
			break
		}
		parents = append(parents, rest)
	}
	return parents
}

// escapeRDNValue backslash-escapes RFC 4514 special characters in an RDN
// value. '\' is escaped first to avoid double-escaping characters escaped
// by the later passes — spec.md §4.4 calls this out as a prior bug.
func escapeRDNValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	for _, special := range []string{",", "=", "+", "<", ">", "#", ";", `"`} {
		v = strings.ReplaceAll(v, special, `\`+special)
	}
	return v
}
