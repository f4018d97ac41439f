// Package parse implements the Parsing bounded context (spec.md §4.2): it
// turns raw uploaded bytes into in-memory value objects without persisting
// individual certificates. Two input shapes are handled — RFC 2849 LDIF
// exports and CMS-signed ICAO Master Lists — grounded respectively on a
// hand-rolled streaming scanner (no mainstream Go library parses LDIF
// files themselves) and on github.com/digitorus/pkcs7 for the Master List
// CMS envelope.
package parse

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/iland112/local-pkd-sub003/core"
)

// DefaultProgressEveryN matches spec.md §4.2's "every N entries (10 by
// default)".
const DefaultProgressEveryN = 10

// LDIFResult is everything ParseLDIF extracts from one file.
type LDIFResult struct {
	Certs  []core.CertValueObject
	CRLs   []core.CRLValueObject
	Errors []core.ParsingError
}

// ParseLDIF streams lines from r, folding RFC 2849 continuations and
// splitting on blank-line entry boundaries, decoding exactly one
// certificate or CRL per entry. onProgress is called every progressEveryN
// entries (and once more at completion) with the running entry count; pass
// a nil onProgress to skip progress reporting.
func ParseLDIF(r io.Reader, progressEveryN int, onProgress func(scanned int)) (LDIFResult, error) {
	if progressEveryN <= 0 {
		progressEveryN = DefaultProgressEveryN
	}

	var result LDIFResult
	scanned := 0

	for entryIndex, lines := range entriesFrom(r) {
		scanned++
		cert, crl, err := parseEntry(lines)
		if err != nil {
			result.Errors = append(result.Errors, core.ParsingError{EntryIndex: entryIndex, Reason: err.Error()})
		} else if cert != nil {
			result.Certs = append(result.Certs, *cert)
		} else if crl != nil {
			result.CRLs = append(result.CRLs, *crl)
		}
		if onProgress != nil && scanned%progressEveryN == 0 {
			onProgress(scanned)
		}
	}
	if onProgress != nil {
		onProgress(scanned)
	}

	return result, nil
}

// entriesFrom folds continuation lines and returns one logical-line slice
// per blank-line-delimited LDIF entry. It is a plain function returning a
// slice of entries rather than an iterator: it reads the whole input before
// returning, so the folded text of every entry in the file is held in
// memory at once and memory use grows with the file size. ParseLDIF decodes
// entries only after this scan has finished.
func entriesFrom(r io.Reader) [][]string {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var entries [][]string
	var current []string

	flush := func() {
		if len(current) > 0 {
			entries = append(entries, current)
			current = nil
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "#"):
			// comment line, not part of any entry
		case strings.HasPrefix(line, " ") && len(current) > 0:
			current[len(current)-1] += line[1:]
		default:
			current = append(current, line)
		}
	}
	flush()
	return entries
}

// ldifAttr is one decoded attribute line.
type ldifAttr struct {
	name   string // lowercased, ";option" suffix stripped
	binary bool
	value  []byte
}

func parseEntry(lines []string) (cert *core.CertValueObject, crl *core.CRLValueObject, err error) {
	var dn string
	attrs := map[string]ldifAttr{}

	for _, line := range lines {
		name, binary, raw, isB64, perr := splitAttrLine(line)
		if perr != nil {
			return nil, nil, perr
		}
		var value []byte
		if isB64 {
			value, err = base64.StdEncoding.DecodeString(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("bad base64 in attribute %q: %w", name, err)
			}
		} else {
			value = []byte(raw)
		}

		if name == "dn" {
			dn = string(value)
			continue
		}
		attrs[name] = ldifAttr{name: name, binary: binary, value: value}
	}

	if dn == "" {
		return nil, nil, fmt.Errorf("entry has no dn:")
	}

	certType, isCRL := classifyEntry(dn)

	if isCRL {
		a, ok := attrs["certificaterevocationlist"]
		if !ok {
			return nil, nil, fmt.Errorf("crl entry %q missing certificateRevocationList attribute", dn)
		}
		return nil, &core.CRLValueObject{RawDER: a.value, EntryDN: dn}, nil
	}

	var certAttr ldifAttr
	var ok bool
	switch certType {
	case core.CertCSCA:
		certAttr, ok = attrs["cacertificate"]
	default:
		certAttr, ok = attrs["usercertificate"]
	}
	if !ok {
		return nil, nil, fmt.Errorf("entry %q missing a recognized certificate attribute", dn)
	}

	return &core.CertValueObject{
		Type:       certType,
		SourceType: core.SourceLDIF,
		RawDER:     certAttr.value,
		EntryDN:    dn,
	}, nil, nil
}

// splitAttrLine decodes one logical LDIF line into (attrName, binaryOption,
// rawValue, isBase64, error). attrName is lowercased and has any ";option"
// suffix stripped.
func splitAttrLine(line string) (name string, binary bool, raw string, isB64 bool, err error) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", false, "", false, fmt.Errorf("malformed LDIF line (no colon): %q", line)
	}
	rawName := line[:idx]
	rest := line[idx+1:]

	if semi := strings.IndexByte(rawName, ';'); semi >= 0 {
		option := strings.ToLower(rawName[semi+1:])
		binary = option == "binary"
		rawName = rawName[:semi]
	}
	name = strings.ToLower(rawName)

	if strings.HasPrefix(rest, ":") {
		isB64 = true
		rest = rest[1:]
	}
	raw = strings.TrimPrefix(rest, " ")
	return name, binary, raw, isB64, nil
}

// classifyEntry implements spec.md §4.2's certificate type assignment
// policy from the entry DN.
func classifyEntry(dn string) (certType core.CertType, isCRL bool) {
	lower := strings.ToLower(dn)
	switch {
	case strings.Contains(lower, "o=crl"):
		return "", true
	case strings.Contains(lower, "o=csca"):
		return core.CertCSCA, false
	case strings.Contains(lower, "o=nc-dsc"), strings.Contains(lower, "dc=nc-data"):
		return core.CertDSCNC, false
	case strings.Contains(lower, "o=dsc"):
		return core.CertDSC, false
	default:
		return core.CertDSC, false
	}
}

