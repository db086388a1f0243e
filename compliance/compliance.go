package compliance

import "fmt"

// ComplianceMode selects how far canonicalization normalizes structured log
// content before it is committed to.
//
// Permissive sorts only top-level object keys; nested key order is treated as
// content. Strict sorts keys at every depth, so two documents that differ only in
// nested key order commit to the same digest.
//
// Changing the mode changes commitments. Registrations and verifications of the
// same log must use the same mode.
type ComplianceMode int

const (
	Permissive ComplianceMode = iota
	Strict
)

func (m ComplianceMode) String() string {
	switch m {
	case Permissive:
		return "permissive"
	case Strict:
		return "strict"
	default:
		return fmt.Sprintf("ComplianceMode(%d)", int(m))
	}
}

// ParseMode accepts "permissive", "strict" or "" (Permissive).
func ParseMode(s string) (ComplianceMode, error) {
	switch s {
	case "", "permissive":
		return Permissive, nil
	case "strict":
		return Strict, nil
	default:
		return Permissive, fmt.Errorf("invalid canonical mode %q (want permissive|strict)", s)
	}
}
