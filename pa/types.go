// Package pa implements the Passive Authentication bounded context
// (spec.md §4.5): verifying an ePassport SOD against the CSCA chain
// retrieved from LDAP and matching Data Group hashes. It never touches
// the relational store — LDAP is the single real-time source of truth
// for this context, by design (spec.md §4.5 step 3's rationale).
package pa

// Status is the aggregate outcome of one verification run.
type Status string

const (
	StatusValid   = Status("VALID")
	StatusInvalid = Status("INVALID")
	StatusError   = Status("ERROR")
)

// SubResult is one named check's outcome.
type SubResult struct {
	Valid   bool
	Message string
}

// DataGroupResult is the Data Group hash check's outcome, with a
// per-DG breakdown alongside the aggregate.
type DataGroupResult struct {
	Valid   bool
	Message string
	PerDG   map[string]bool
}

// Request is one /pa/verify call's input (spec.md §6.2).
type Request struct {
	IssuingCountry string
	DocumentNumber string
	SOD            []byte
	DataGroups     map[string][]byte // "DG1" -> raw data group bytes
}

// Result is the full response shape of spec.md §6.2.
type Result struct {
	Status                     Status
	CertificateChainValidation SubResult
	SODSignatureValidation     SubResult
	DataGroupValidation        DataGroupResult
}
