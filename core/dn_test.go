package core

import "testing"

func TestExtractCountryShorthand(t *testing.T) {
	got := ExtractCountry("CSCA-DE")
	if got != "DE" {
		t.Errorf("ExtractCountry(CSCA-DE) = %q, want DE", got)
	}
}

func TestExtractCountryFromComponent(t *testing.T) {
	cases := []struct {
		dn   string
		want string
	}{
		{"cn=Test CSCA,o=csca,c=DE,dc=data,dc=download,dc=pkd", "DE"},
		{"C=kr,O=Test", "KR"},
		{"cn=No Country Here", ""},
	}
	for _, c := range cases {
		if got := ExtractCountry(c.dn); got != c.want {
			t.Errorf("ExtractCountry(%q) = %q, want %q", c.dn, got, c.want)
		}
	}
}

func TestExtractCountryIdempotent(t *testing.T) {
	// spec.md §8: extractCountry(extractCountry(x) ? "C=" + result : x) == extractCountry(x)
	dns := []string{
		"cn=Test CSCA,o=csca,c=DE,dc=data",
		"cn=No Country Here",
	}
	for _, dn := range dns {
		first := ExtractCountry(dn)
		var reapplied string
		if first != "" {
			reapplied = ExtractCountry("C=" + first)
		} else {
			reapplied = ExtractCountry(dn)
		}
		if reapplied != first {
			t.Errorf("idempotence failed for %q: first=%q reapplied=%q", dn, first, reapplied)
		}
	}
}

func TestSameDNIgnoresCaseAndWhitespace(t *testing.T) {
	a := "cn=Test  CSCA, o=csca, c=DE"
	b := "CN=test csca,O=CSCA,C=de"
	if !SameDN(a, b) {
		t.Errorf("expected %q and %q to be the same DN", a, b)
	}
}

func TestSameDNOrderMatters(t *testing.T) {
	a := "cn=Test,o=csca,c=DE"
	b := "o=csca,cn=Test,c=DE"
	if SameDN(a, b) {
		t.Errorf("expected %q and %q to differ: component order is significant", a, b)
	}
}

func TestCanonicalDNConsistentForSameDN(t *testing.T) {
	a := "cn=Test  CSCA, o=csca, c=DE"
	b := "CN=test csca,O=CSCA,C=de"
	if !SameDN(a, b) {
		t.Fatalf("test setup invalid: expected a and b to be the same DN")
	}
	if CanonicalDN(a) != CanonicalDN(b) {
		t.Errorf("CanonicalDN(%q) = %q, CanonicalDN(%q) = %q, want equal", a, CanonicalDN(a), b, CanonicalDN(b))
	}
}
