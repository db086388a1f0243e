// Package receipt renders, parses and signs verification receipts: canonical
// text statements that a log's content was (or was not) found to match its
// ledger commitment.
//
// A receipt has four sections in fixed order. Keys within a section are
// sorted, values are single-line, and the bytes from the BEGIN line through
// the end of RESULT are covered by the CRYPTO signature:
//
//	-----BEGIN VERITASLOG RECEIPT-----
//	META
//	Issued-At: 1700000000
//	Version: 1
//
//	SUBJECT
//	Commitment: 43c9...
//	Log: log_...
//
//	RESULT
//	Computed: 43c9...
//	Match: true
//	Mode: auto
//
//	CRYPTO
//	Hash-Alg: sha256
//	Issuer-Key: ed25519:...
//	Signature: ...
//	Signature-Alg: ed25519
//	-----END VERITASLOG RECEIPT-----
//
// There is no trailing newline. Parse rejects any input that is not byte for
// byte what Render would produce.
package receipt

import (
	"bytes"
	"sort"
	"strings"
	"unicode/utf8"

	"xdao.co/veritaslog/cidutil"
)

const (
	Preamble  = "-----BEGIN VERITASLOG RECEIPT-----"
	Postamble = "-----END VERITASLOG RECEIPT-----"
)

// SectionOrder is the canonical section order.
var SectionOrder = []string{"META", "SUBJECT", "RESULT", "CRYPTO"}

// Document is the in-memory form of a receipt. Render always produces
// canonical bytes from it.
type Document struct {
	Meta    map[string]string
	Subject map[string]string
	Result  map[string]string
	Crypto  map[string]string
}

func (d Document) sections() []map[string]string {
	return []map[string]string{d.Meta, d.Subject, d.Result, d.Crypto}
}

// Render produces canonical receipt bytes. It does not check that the
// required keys are present; Parse and Verify do.
func Render(doc Document) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString(Preamble)
	sb.WriteString("\n")

	for i, pairs := range doc.sections() {
		sb.WriteString(SectionOrder[i])
		sb.WriteString("\n")

		keys := make([]string, 0, len(pairs))
		for k := range pairs {
			if err := checkKey(k); err != nil {
				return nil, err
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := pairs[k]
			if err := checkValue(v); err != nil {
				return nil, err
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(v)
			sb.WriteString("\n")
		}
		if i != len(SectionOrder)-1 {
			sb.WriteString("\n")
		}
	}
	sb.WriteString(Postamble)
	return []byte(sb.String()), nil
}

func checkKey(k string) error {
	if k == "" {
		return newError(KindRender, "RCPT-RENDER-001", "empty key")
	}
	for i := 0; i < len(k); i++ {
		c := k[i]
		if c > 127 || c == ':' || c == ' ' || c == '\n' || c == '\r' {
			return newError(KindRender, "RCPT-RENDER-002", "key must be ASCII without spaces or colons")
		}
	}
	return nil
}

func checkValue(v string) error {
	switch {
	case v == "":
		return newError(KindRender, "RCPT-RENDER-003", "empty value")
	case strings.HasPrefix(v, " "):
		return newError(KindRender, "RCPT-RENDER-004", "value must not start with a space")
	case strings.ContainsAny(v, "\r\n"):
		return newError(KindRender, "RCPT-RENDER-005", "value must not contain newlines")
	case strings.HasSuffix(v, " "), strings.HasSuffix(v, "\t"):
		return newError(KindRender, "RCPT-RENDER-006", "trailing whitespace forbidden")
	}
	return nil
}

// Receipt is a parsed, canonical receipt.
type Receipt struct {
	Doc Document
	raw []byte
}

// Parse parses canonical receipt bytes.
func Parse(data []byte) (*Receipt, error) {
	if !utf8.Valid(data) {
		return nil, newError(KindParse, "RCPT-PARSE-001", "receipt must be valid UTF-8")
	}
	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		return nil, newError(KindCanonical, "RCPT-CANON-001", "BOM not allowed")
	}
	if bytes.Contains(data, []byte("\r")) {
		return nil, newError(KindCanonical, "RCPT-CANON-002", "CR line endings not allowed")
	}
	if bytes.HasSuffix(data, []byte("\n")) {
		return nil, newError(KindCanonical, "RCPT-CANON-003", "trailing newline not allowed")
	}
	lines := strings.Split(string(data), "\n")
	if lines[0] != Preamble {
		return nil, newError(KindParse, "RCPT-PARSE-002", "missing receipt preamble")
	}
	if lines[len(lines)-1] != Postamble {
		return nil, newError(KindParse, "RCPT-PARSE-003", "missing receipt postamble")
	}

	sections := make([]map[string]string, len(SectionOrder))
	idx := -1
	for _, line := range lines[1 : len(lines)-1] {
		if idx+1 < len(SectionOrder) && line == SectionOrder[idx+1] {
			idx++
			sections[idx] = make(map[string]string)
			continue
		}
		if line == "" {
			continue
		}
		if idx < 0 {
			return nil, newError(KindParse, "RCPT-PARSE-004", "content before first section")
		}
		for _, name := range SectionOrder {
			if line == name {
				return nil, newError(KindParse, "RCPT-PARSE-005", "sections missing or out of order")
			}
		}
		key, val, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, newError(KindParse, "RCPT-PARSE-006", "invalid key-value formatting")
		}
		if _, dup := sections[idx][key]; dup {
			return nil, newError(KindParse, "RCPT-PARSE-007", "duplicate key in section")
		}
		sections[idx][key] = val
	}
	if idx != len(SectionOrder)-1 {
		return nil, newError(KindParse, "RCPT-PARSE-005", "sections missing or out of order")
	}

	doc := Document{Meta: sections[0], Subject: sections[1], Result: sections[2], Crypto: sections[3]}
	canonical, err := Render(doc)
	if err != nil {
		return nil, wrapError(KindCanonical, "RCPT-CANON-004", "receipt values are not canonical", err)
	}
	if !bytes.Equal(canonical, data) {
		return nil, newError(KindCanonical, "RCPT-CANON-005", "non-canonical receipt")
	}
	return &Receipt{Doc: doc, raw: canonical}, nil
}

// Bytes returns the canonical receipt bytes.
func (r *Receipt) Bytes() []byte { return append([]byte(nil), r.raw...) }

// SignedBytes returns the bytes covered by the signature: BEGIN line through
// the end of the RESULT section.
func (r *Receipt) SignedBytes() []byte {
	b, err := signedScope(r.raw)
	if err != nil {
		return nil
	}
	return b
}

// CID identifies the canonical receipt bytes (CIDv1 raw, sha2-256).
func (r *Receipt) CID() string { return cidutil.String(r.raw) }

func signedScope(canonical []byte) ([]byte, error) {
	idx := bytes.Index(canonical, []byte("\nCRYPTO\n"))
	if idx < 0 {
		return nil, newError(KindCrypto, "RCPT-CRYPTO-001", "cannot determine signature scope")
	}
	return canonical[:idx+1], nil
}
