package pa

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"fmt"
)

// ldsSecurityObject mirrors ICAO 9303 Part 10's LDSSecurityObject: the
// structure encapsulated in an SOD's CMS content, listing a hash
// algorithm and one hash value per Data Group present on the document.
type ldsSecurityObject struct {
	Version             int
	HashAlgorithm       algorithmIdentifier
	DataGroupHashValues []dataGroupHash
}

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type dataGroupHash struct {
	Number int
	Hash   []byte
}

var (
	oidSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidSHA224 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 4}
	oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	oidSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

func hashFunc(oid asn1.ObjectIdentifier) (func([]byte) []byte, error) {
	switch {
	case oid.Equal(oidSHA1):
		return func(b []byte) []byte { h := sha1.Sum(b); return h[:] }, nil
	case oid.Equal(oidSHA224):
		return func(b []byte) []byte { h := sha256.Sum224(b); return h[:] }, nil
	case oid.Equal(oidSHA256):
		return func(b []byte) []byte { h := sha256.Sum256(b); return h[:] }, nil
	case oid.Equal(oidSHA384):
		return func(b []byte) []byte { h := sha512.Sum384(b); return h[:] }, nil
	case oid.Equal(oidSHA512):
		return func(b []byte) []byte { h := sha512.Sum512(b); return h[:] }, nil
	default:
		return nil, fmt.Errorf("unsupported Data Group hash algorithm %s", oid)
	}
}

// dgNumber maps "DG1".."DG16" to its integer form.
func dgNumber(key string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(key, "DG%d", &n); err != nil {
		return 0, fmt.Errorf("invalid data group key %q", key)
	}
	if n < 1 || n > 16 {
		return 0, fmt.Errorf("data group number %d out of range", n)
	}
	return n, nil
}

// checkDataGroups implements spec.md §4.5 step 6: decode the SOD's
// encapsulated LDSSecurityObject, then for every caller-provided DG
// recompute its hash and compare. A DG the caller did not supply is not
// checked at all (missing DGs are not an error); a DG the SOD's hash
// list does not mention is reported as a mismatch, since there is
// nothing to compare it against.
func checkDataGroups(econtent []byte, dataGroups map[string][]byte) (DataGroupResult, error) {
	var so ldsSecurityObject
	if _, err := asn1.Unmarshal(econtent, &so); err != nil {
		return DataGroupResult{}, fmt.Errorf("decoding LDSSecurityObject: %w", err)
	}

	hash, err := hashFunc(so.HashAlgorithm.Algorithm)
	if err != nil {
		return DataGroupResult{}, err
	}

	listed := make(map[int][]byte, len(so.DataGroupHashValues))
	for _, dgh := range so.DataGroupHashValues {
		listed[dgh.Number] = dgh.Hash
	}

	result := DataGroupResult{Valid: true, PerDG: make(map[string]bool, len(dataGroups))}
	for key, raw := range dataGroups {
		n, err := dgNumber(key)
		if err != nil {
			return DataGroupResult{}, err
		}
		expected, ok := listed[n]
		if !ok {
			result.PerDG[key] = false
			result.Valid = false
			continue
		}
		got := hash(raw)
		match := len(got) == len(expected)
		if match {
			for i := range got {
				if got[i] != expected[i] {
					match = false
					break
				}
			}
		}
		result.PerDG[key] = match
		if !match {
			result.Valid = false
		}
	}

	if result.Valid {
		result.Message = "all provided data group hashes match"
	} else {
		result.Message = "one or more data group hashes did not match"
	}
	return result, nil
}
