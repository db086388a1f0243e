// Package commitment derives the fixed-size digest that serves both as the
// tamper-evidence commitment recorded on the ledger and as the encryption policy
// identity.
package commitment

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"

	"xdao.co/veritaslog/cidutil"
	"xdao.co/veritaslog/logbundle"
)

// Size is the digest length in bytes.
const Size = sha256.Size

// Commitment is SHA-256 over serialized bundle bytes.
type Commitment [Size]byte

// Derive hashes bundle bytes exactly as given.
func Derive(bundleBytes []byte) Commitment {
	return Commitment(sha256.Sum256(bundleBytes))
}

// Of serializes b and derives its commitment.
func Of(b logbundle.Bundle) (Commitment, []byte, error) {
	data, err := b.Marshal()
	if err != nil {
		return Commitment{}, nil, err
	}
	return Derive(data), data, nil
}

// Hex is the lowercase hex form used as the policy identity.
func (c Commitment) Hex() string { return hex.EncodeToString(c[:]) }

func (c Commitment) String() string { return c.Hex() }

// Prefix returns the first n hex characters.
func (c Commitment) Prefix(n int) string {
	h := c.Hex()
	if n < 0 || n >= len(h) {
		return h
	}
	return h[:n]
}

func (c Commitment) IsZero() bool { return c == Commitment{} }

// Equal compares in constant time.
func (c Commitment) Equal(other Commitment) bool {
	return subtle.ConstantTimeCompare(c[:], other[:]) == 1
}

// CID projects the digest as a CIDv1 (raw, sha2-256). It names the same bytes the
// commitment does.
func (c Commitment) CID() (cid.Cid, error) {
	return cidutil.FromSHA256(c[:])
}

// Parse accepts 64 hex characters with an optional 0x prefix.
func Parse(s string) (Commitment, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	var c Commitment
	if len(s) != hex.EncodedLen(Size) {
		return c, fmt.Errorf("commitment: expected %d hex chars, got %d", hex.EncodedLen(Size), len(s))
	}
	if _, err := hex.Decode(c[:], []byte(s)); err != nil {
		return Commitment{}, fmt.Errorf("commitment: %w", err)
	}
	return c, nil
}

// FromBytes copies a 32-byte digest.
func FromBytes(b []byte) (Commitment, error) {
	var c Commitment
	if len(b) != Size {
		return c, fmt.Errorf("commitment: expected %d bytes, got %d", Size, len(b))
	}
	copy(c[:], b)
	return c, nil
}

func (c Commitment) MarshalText() ([]byte, error) { return []byte(c.Hex()), nil }

func (c *Commitment) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
