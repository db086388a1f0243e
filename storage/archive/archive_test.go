package archive_test

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"testing"

	"xdao.co/veritaslog/cidutil"
	"xdao.co/veritaslog/storage"
	"xdao.co/veritaslog/storage/archive"
	"xdao.co/veritaslog/storage/localfs"
	"xdao.co/veritaslog/storage/memory"
)

func seed(t *testing.T, store storage.BlobStore, blobs ...string) []string {
	t.Helper()
	refs := make([]string, 0, len(blobs))
	for _, b := range blobs {
		ref, err := store.Put(context.Background(), []byte(b), storage.PutOptions{
			Attributes: map[string]string{"seal_id_hex": "AB" + b},
		})
		if err != nil {
			t.Fatal(err)
		}
		refs = append(refs, ref)
	}
	return refs
}

func TestExport_Deterministic(t *testing.T) {
	for _, comp := range []archive.Compression{archive.CompressionNone, archive.CompressionLZ4, archive.CompressionZstd} {
		t.Run(comp.String(), func(t *testing.T) {
			src, err := localfs.New(t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			refs := seed(t, src, "hello", "world")
			ctx := context.Background()
			opts := archive.ExportOptions{Compression: comp, IncludeIndex: true}

			var a, b bytes.Buffer
			if err := archive.Export(ctx, &a, src, []string{refs[1], refs[0]}, opts); err != nil {
				t.Fatal(err)
			}
			if err := archive.Export(ctx, &b, src, []string{refs[0], refs[1], refs[0]}, opts); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(a.Bytes(), b.Bytes()) {
				t.Fatalf("expected deterministic archive bytes")
			}
		})
	}
}

func TestImport_RoundTrip(t *testing.T) {
	for _, comp := range []archive.Compression{archive.CompressionNone, archive.CompressionLZ4, archive.CompressionZstd} {
		t.Run(comp.String(), func(t *testing.T) {
			ctx := context.Background()
			src := memory.New()
			refs := seed(t, src, "sealed-1", "sealed-2")

			var buf bytes.Buffer
			if err := archive.Export(ctx, &buf, src, refs, archive.ExportOptions{Compression: comp, IncludeIndex: true}); err != nil {
				t.Fatal(err)
			}

			dst := memory.New()
			res, err := archive.Import(ctx, bytes.NewReader(buf.Bytes()), dst, archive.ImportOptions{})
			if err != nil {
				t.Fatal(err)
			}
			if res.Compression != comp {
				t.Fatalf("compression detected as %s", res.Compression)
			}
			for _, ref := range refs {
				if res.Refs[ref] != ref {
					t.Fatalf("content-addressed ref changed: %s -> %s", ref, res.Refs[ref])
				}
				want, _ := src.Get(ctx, ref)
				got, err := dst.Get(ctx, ref)
				if err != nil || !bytes.Equal(got, want) {
					t.Fatalf("blob %s not restored: %v", ref, err)
				}
				attrs, err := dst.Attributes(ctx, ref)
				if err != nil || attrs["seal_id_hex"] == "" {
					t.Fatalf("attributes not restored for %s: %v %v", ref, attrs, err)
				}
			}
		})
	}
}

func TestImport_RejectsTamperedBlock(t *testing.T) {
	ref := cidutil.String([]byte("original"))

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	payload := []byte("tampered")
	if err := tw.WriteHeader(&tar.Header{Name: "blocks/" + ref, Mode: 0o644, Size: int64(len(payload)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	_, err := archive.Import(context.Background(), &buf, memory.New(), archive.ImportOptions{})
	if !errors.Is(err, storage.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}

func TestImport_UnknownEntry(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: "notes.txt", Mode: 0o644, Size: 1, Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()

	if _, err := archive.Import(context.Background(), bytes.NewReader(raw), memory.New(), archive.ImportOptions{}); err == nil {
		t.Fatalf("expected unknown entry to fail closed")
	}
	if _, err := archive.Import(context.Background(), bytes.NewReader(raw), memory.New(), archive.ImportOptions{IgnoreUnknown: true}); err != nil {
		t.Fatalf("IgnoreUnknown: %v", err)
	}
}

func TestExport_RejectsPathRefs(t *testing.T) {
	var buf bytes.Buffer
	err := archive.Export(context.Background(), &buf, memory.New(), []string{"../escape"}, archive.ExportOptions{})
	if !errors.Is(err, storage.ErrInvalidRef) {
		t.Fatalf("expected ErrInvalidRef, got %v", err)
	}
}
