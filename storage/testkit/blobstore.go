package testkit

import (
	"bytes"
	"context"
	"testing"

	"xdao.co/veritaslog/cidutil"
	"xdao.co/veritaslog/storage"
)

// NewStore constructs a fresh, empty store for a test.
// The returned store MUST be isolated from other tests.
type NewStore func(t *testing.T) storage.BlobStore

type Options struct {
	// ContentAddressed asserts that references are CIDv1 raw sha2-256 of the bytes.
	ContentAddressed bool
	// MissingRef is a well-formed reference that the store does not hold. When
	// empty, the CID of a fixed string is used.
	MissingRef string
}

func RunBlobStoreConformance(t *testing.T, newStore NewStore, opts Options) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		store := newStore(t)
		want := []byte("hello, veritaslog storage")

		ref, err := store.Put(ctx, want, storage.PutOptions{})
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if ref == "" {
			t.Fatalf("Put returned empty reference")
		}
		if opts.ContentAddressed {
			if wantRef := cidutil.String(want); ref != wantRef {
				t.Fatalf("Put reference mismatch: got %s want %s", ref, wantRef)
			}
		}

		got, err := store.Get(ctx, ref)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Get bytes mismatch")
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		store := newStore(t)
		b := []byte("same bytes")

		ref1, err := store.Put(ctx, b, storage.PutOptions{})
		if err != nil {
			t.Fatalf("Put(1) failed: %v", err)
		}
		ref2, err := store.Put(ctx, b, storage.PutOptions{})
		if err != nil {
			t.Fatalf("Put(2) failed: %v", err)
		}
		if ref1 != ref2 {
			t.Fatalf("Put not idempotent: %s vs %s", ref1, ref2)
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		store := newStore(t)
		missing := opts.MissingRef
		if missing == "" {
			missing = cidutil.String([]byte("missing"))
		}

		if store.Has(ctx, missing) {
			t.Fatalf("Has returned true for missing reference")
		}
		_, err := store.Get(ctx, missing)
		if !storage.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}

		ref, err := store.Put(ctx, []byte("present"), storage.PutOptions{})
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if !store.Has(ctx, ref) {
			t.Fatalf("Has returned false after Put")
		}
	})

	t.Run("RejectEmptyRef", func(t *testing.T) {
		store := newStore(t)
		if store.Has(ctx, "") {
			t.Fatalf("Has should be false for empty reference")
		}
		if _, err := store.Get(ctx, ""); err == nil {
			t.Fatalf("Get should fail for empty reference")
		}
	})

	t.Run("AttributesRetained", func(t *testing.T) {
		store := newStore(t)
		ar, ok := store.(storage.AttributeReader)
		if !ok {
			t.Skip("store does not retain attributes")
		}
		attrs := map[string]string{"seal_id_hex": "00ff"}
		ref, err := store.Put(ctx, []byte("with attributes"), storage.PutOptions{Attributes: attrs})
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := ar.Attributes(ctx, ref)
		if err != nil {
			t.Fatalf("Attributes failed: %v", err)
		}
		if got["seal_id_hex"] != "00ff" {
			t.Fatalf("Attributes = %v", got)
		}
	})
}
