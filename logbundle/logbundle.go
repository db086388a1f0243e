// Package logbundle defines the versioned unit that is committed to and
// encrypted: metadata plus the canonical payload, serialized deterministically.
package logbundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"xdao.co/veritaslog/canon"
	"xdao.co/veritaslog/compliance"
)

// Version is the current bundle format tag.
const Version = 1

// Severity is the log severity carried in metadata and on the ledger.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Code returns the ledger severity code (LOW=0, MEDIUM=1, HIGH=2).
func (s Severity) Code() uint8 {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	default:
		return 0
	}
}

func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// ParseSeverity accepts LOW, MEDIUM or HIGH in any case.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("invalid severity %q (want LOW|MEDIUM|HIGH)", s)
	}
	return sev, nil
}

// SeverityFromCode maps a ledger code back to a Severity.
func SeverityFromCode(code uint8) (Severity, error) {
	switch code {
	case 0:
		return SeverityLow, nil
	case 1:
		return SeverityMedium, nil
	case 2:
		return SeverityHigh, nil
	default:
		return "", fmt.Errorf("invalid severity code %d", code)
	}
}

// Meta is the bundle metadata. Field order is part of the serialized form.
type Meta struct {
	Title      string   `json:"title"`
	Severity   Severity `json:"severity"`
	ModuleName string   `json:"moduleName"`
	Notes      string   `json:"notes"`
	CreatedAt  int64    `json:"createdAt"`
}

type Payload struct {
	Kind canon.Kind `json:"kind"`
	Data string     `json:"data"`
}

// Bundle is {"v":1,"meta":{...},"payload":{...}}.
type Bundle struct {
	Version int     `json:"v"`
	Meta    Meta    `json:"meta"`
	Payload Payload `json:"payload"`
}

// New builds a bundle from meta and an already canonical payload.
func New(meta Meta, p canon.Payload) Bundle {
	return Bundle{
		Version: Version,
		Meta:    meta,
		Payload: Payload{Kind: p.Kind, Data: p.Data},
	}
}

// Build canonicalizes text under mode and wraps it with meta.
func Build(meta Meta, text string, mode compliance.ComplianceMode) Bundle {
	return New(meta, canon.CanonicalizeMode(text, mode))
}

// Marshal returns the exact bytes that are hashed and encrypted: compact JSON,
// no HTML escaping, U+2028 and U+2029 written raw, no trailing newline.
func (b Bundle) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(b); err != nil {
		return nil, err
	}
	return canon.LiteralLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})), nil
}

// Recanonicalize rebuilds the bundle with its payload data canonicalized again.
// Verification uses it so that the digest is recomputed from content rather than
// trusted from the decrypted bytes.
func (b Bundle) Recanonicalize(mode compliance.ComplianceMode) Bundle {
	out := Build(b.Meta, b.Payload.Data, mode)
	out.Version = b.Version
	return out
}

// Unmarshal decodes plaintext bundle bytes. Unknown fields are rejected.
func Unmarshal(data []byte) (Bundle, error) {
	var b Bundle
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return Bundle{}, fmt.Errorf("logbundle: decode: %w", err)
	}
	if dec.More() {
		return Bundle{}, fmt.Errorf("logbundle: trailing data after bundle")
	}
	if err := b.Validate(); err != nil {
		return Bundle{}, err
	}
	return b, nil
}

func (b Bundle) Validate() error {
	if b.Version != Version {
		return fmt.Errorf("logbundle: unsupported version %d", b.Version)
	}
	if !b.Payload.Kind.Valid() {
		return fmt.Errorf("logbundle: invalid payload kind %q", b.Payload.Kind)
	}
	if b.Meta.Severity != "" && !b.Meta.Severity.Valid() {
		return fmt.Errorf("logbundle: invalid severity %q", b.Meta.Severity)
	}
	return nil
}
