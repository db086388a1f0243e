// Package cidutil names content with CIDv1 (raw multicodec, sha2-256 multihash).
// Content-addressed blob backends use these as blob references.
package cidutil

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Sum returns the CID of data.
func Sum(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// String returns the CID string of data, or "" if hashing fails (it does not for
// SHA2_256 with default length).
func String(data []byte) string {
	id, err := Sum(data)
	if err != nil {
		return ""
	}
	return id.String()
}

// FromSHA256 wraps an existing sha2-256 digest without rehashing.
func FromSHA256(digest []byte) (cid.Cid, error) {
	if len(digest) != 32 {
		return cid.Undef, fmt.Errorf("cidutil: sha2-256 digest must be 32 bytes, got %d", len(digest))
	}
	mh, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// Parse decodes a CID string and rejects undefined CIDs.
func Parse(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, err
	}
	if !id.Defined() {
		return cid.Undef, fmt.Errorf("cidutil: undefined cid")
	}
	return id, nil
}

// Matches reports whether data hashes to the CID named by ref.
func Matches(ref string, data []byte) bool {
	want, err := Parse(ref)
	if err != nil {
		return false
	}
	got, err := Sum(data)
	if err != nil {
		return false
	}
	return got.Equals(want)
}
