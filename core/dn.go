package core

import (
	"regexp"
	"strings"
)

// cscaShorthandPattern matches the free-form "CSCA-XX" shorthand used in a
// handful of legacy LDIF exports in place of a real subject DN.
var cscaShorthandPattern = regexp.MustCompile(`^CSCA-([A-Z]{2})$`)

// countryComponentPattern matches a C= RDN component anywhere in a DN
// string, case-insensitively, tolerating surrounding whitespace.
var countryComponentPattern = regexp.MustCompile(`(?i)(?:^|,)\s*C=\s*([A-Z]{2,3})\s*(?:,|$)`)

// ExtractCountry is the single source of truth for pulling an ISO country
// code out of any DN-bearing string: an X.509 subject or issuer DN, an LDIF
// entry dn:, or the "CSCA-XX" shorthand. Every site in this codebase that
// needs a country code MUST call this helper rather than re-implement the
// pattern match; spec.md §4.3.4/§9 call out three independent
// case-sensitivity bugs that came from doing exactly that.
//
// Returns the uppercase country code, or "" if no pattern matches.
func ExtractCountry(dn string) string {
	if m := cscaShorthandPattern.FindStringSubmatch(dn); m != nil {
		return strings.ToUpper(m[1])
	}
	if m := countryComponentPattern.FindStringSubmatch(dn); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

// dnComponent is one normalized RDN of a parsed DN.
type dnComponent struct {
	Type  string
	Value string
}

// NormalizeDN parses dn into ordered components, uppercases the attribute
// type (never the value), and collapses internal whitespace — per spec.md
// §9: "never compare DN strings byte-for-byte across sources." The result
// is meant for equality comparison only, not for re-serialization.
func NormalizeDN(dn string) []dnComponent {
	raw := strings.Split(dn, ",")
	components := make([]dnComponent, 0, len(raw))
	for _, part := range raw {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.Index(part, "=")
		if idx < 0 {
			continue
		}
		attrType := strings.ToUpper(strings.TrimSpace(part[:idx]))
		attrValue := collapseWhitespace(strings.TrimSpace(part[idx+1:]))
		components = append(components, dnComponent{Type: attrType, Value: attrValue})
	}
	return components
}

// SameDN reports whether a and b name the same distinguished name once
// normalized. Component order matters (two DNs with the same components in
// a different order are NOT considered equal — order is semantically
// meaningful in both X.509 and LDAP DNs).
func SameDN(a, b string) bool {
	ca, cb := NormalizeDN(a), NormalizeDN(b)
	if len(ca) != len(cb) {
		return false
	}
	for i := range ca {
		if ca[i].Type != cb[i].Type || !strings.EqualFold(ca[i].Value, cb[i].Value) {
			return false
		}
	}
	return true
}

// CanonicalDN renders dn's normalized components back into a single string,
// suitable for storage and for equality comparison via plain SQL `=`
// (avoiding a full NormalizeDN/SameDN pass on every lookup). Two DNs that
// are SameDN always produce the same CanonicalDN.
func CanonicalDN(dn string) string {
	components := NormalizeDN(dn)
	parts := make([]string, len(components))
	for i, c := range components {
		parts[i] = c.Type + "=" + strings.ToUpper(c.Value)
	}
	return strings.Join(parts, ",")
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
