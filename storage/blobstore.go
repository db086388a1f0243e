package storage

import "context"

// PutOptions carries the per-write parameters a blob backend may honor.
//
// Epochs and Deletable control retention on networks that lease storage.
// Signer names the identity paying for the write. Attributes are queryable
// metadata attached to the stored object; they are never trusted for
// verification.
type PutOptions struct {
	Epochs     int
	Deletable  bool
	Signer     string
	Attributes map[string]string
}

// BlobStore is the blob backend consumed by the uploader and decryptor.
//
// Contract:
//   - Put returns an opaque reference; the same bytes may be re-put safely.
//   - Stored objects are immutable.
//   - Get returns ErrNotFound when the reference is absent.
//   - Content-addressed backends return CIDv1 (raw, sha2-256) references and
//     verify bytes against them on read.
type BlobStore interface {
	Put(ctx context.Context, data []byte, opts PutOptions) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Has(ctx context.Context, ref string) bool
}

// AttributeReader is implemented by backends that retain put attributes.
type AttributeReader interface {
	Attributes(ctx context.Context, ref string) (map[string]string, error)
}

// CopyAttributes returns a shallow copy of attrs (nil for empty input).
func CopyAttributes(attrs map[string]string) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
