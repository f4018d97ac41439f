package errors

import "fmt"

// ErrorType provides a coarse category for PkdErrors, following the
// taxonomy enumerated in spec.md §7.
type ErrorType int

const (
	InternalServer ErrorType = iota
	DuplicateUpload
	UnsupportedFormat
	ChecksumMismatch
	Oversize
	MalformedLDIF
	MalformedCMS
	MalformedSOD
	SelfSignFailed
	SignatureInvalid
	IssuerNotFound
	Expired
	InvalidCAConstraints
	InvalidKeyUsage
	Revoked
	NonConformantAttr
	LdapTimeout
	LdapServer
	InvalidDN
)

// PkdError represents a typed error raised anywhere in the pipeline.
type PkdError struct {
	Type   ErrorType
	Detail string
}

func (pe *PkdError) Error() string {
	return pe.Detail
}

// New is a convenience function for creating a new PkdError.
func New(errType ErrorType, msg string, args ...interface{}) error {
	return &PkdError{
		Type:   errType,
		Detail: fmt.Sprintf(msg, args...),
	}
}

// Is reports whether err is a PkdError of the given type.
func Is(err error, errType ErrorType) bool {
	pe, ok := err.(*PkdError)
	if !ok {
		return false
	}
	return pe.Type == errType
}

func InternalServerError(msg string, args ...interface{}) error {
	return New(InternalServer, msg, args...)
}

func DuplicateUploadError(msg string, args ...interface{}) error {
	return New(DuplicateUpload, msg, args...)
}

func UnsupportedFormatError(msg string, args ...interface{}) error {
	return New(UnsupportedFormat, msg, args...)
}

func ChecksumMismatchError(msg string, args ...interface{}) error {
	return New(ChecksumMismatch, msg, args...)
}

func OversizeError(msg string, args ...interface{}) error {
	return New(Oversize, msg, args...)
}

func MalformedLDIFError(msg string, args ...interface{}) error {
	return New(MalformedLDIF, msg, args...)
}

func MalformedCMSError(msg string, args ...interface{}) error {
	return New(MalformedCMS, msg, args...)
}

func MalformedSODError(msg string, args ...interface{}) error {
	return New(MalformedSOD, msg, args...)
}

func SelfSignFailedError(msg string, args ...interface{}) error {
	return New(SelfSignFailed, msg, args...)
}

func SignatureInvalidError(msg string, args ...interface{}) error {
	return New(SignatureInvalid, msg, args...)
}

func IssuerNotFoundError(msg string, args ...interface{}) error {
	return New(IssuerNotFound, msg, args...)
}

func ExpiredError(msg string, args ...interface{}) error {
	return New(Expired, msg, args...)
}

func InvalidCAConstraintsError(msg string, args ...interface{}) error {
	return New(InvalidCAConstraints, msg, args...)
}

func InvalidKeyUsageError(msg string, args ...interface{}) error {
	return New(InvalidKeyUsage, msg, args...)
}

func RevokedError(msg string, args ...interface{}) error {
	return New(Revoked, msg, args...)
}

func NonConformantAttrError(msg string, args ...interface{}) error {
	return New(NonConformantAttr, msg, args...)
}

func LdapTimeoutError(msg string, args ...interface{}) error {
	return New(LdapTimeout, msg, args...)
}

func LdapServerError(msg string, args ...interface{}) error {
	return New(LdapServer, msg, args...)
}

func InvalidDNError(msg string, args ...interface{}) error {
	return New(InvalidDN, msg, args...)
}
