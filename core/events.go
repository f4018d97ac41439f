package core

// Event payloads exchanged between the bounded contexts via EventBus.
// These are named deliberately after the transition they announce, matching
// spec.md §2/§4's event names; the bus itself (events.Bus) guarantees they
// are only delivered after the producing transaction has committed.

const (
	EventFileUploaded              = "FileUploaded"
	EventParsingCompleted          = "ParsingCompleted"
	EventValidationBatchCommitted  = "ValidationBatchCommitted"
	EventValidationCompleted       = "ValidationCompleted"
	EventPublicationCompleted      = "PublicationCompleted"
)

// FileUploadedPayload announces that an UploadRecord was persisted with
// status RECEIVED.
type FileUploadedPayload struct {
	UploadID string
	Mode     ProcessingMode
}

// ParsingCompletedPayload carries the parser's extracted value objects
// (spec.md §4.2). Certificates and CRLs are not yet persisted.
type ParsingCompletedPayload struct {
	UploadID       string
	Mode           ProcessingMode
	ExtractedCerts []CertValueObject
	ExtractedCRLs  []CRLValueObject
	ParsingErrors  []ParsingError
	MasterList     *MasterList // non-nil only for a Master-List upload
}

// ValidationBatchCommittedPayload fires once per interleaved DB+LDAP batch
// (spec.md §4.3.3), carrying running totals for progress reporting.
type ValidationBatchCommittedPayload struct {
	UploadID        string
	Pass            string // "CSCA" or "DSC"
	ValidatedCount  int
	UploadedCount   int
	TotalSoFar      int
}

// ValidationCompletedPayload announces the end of both validation passes.
type ValidationCompletedPayload struct {
	UploadID string
	Mode     ProcessingMode
}

// PublicationCompletedPayload announces the pipeline reached COMPLETED.
type PublicationCompletedPayload struct {
	UploadID string
}
