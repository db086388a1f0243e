// Package archive moves sealed blobs between blob stores as a single
// deterministic tar stream, optionally compressed with lz4 or zstd.
//
// Layout:
//
//	blocks/<ref>   raw blob bytes
//	index.json     version, compression, and per-blob size, sha256, attributes
//
// The index is advisory. Import checks each block against its CID when the
// reference is one, and against the index digest when an index is present.
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"xdao.co/veritaslog/cidutil"
	"xdao.co/veritaslog/storage"
)

// FormatVersion is the current index schema version.
const FormatVersion = 1

const indexName = "index.json"

var epoch0 = time.Unix(0, 0).UTC()

type ExportOptions struct {
	Compression Compression
	// IncludeIndex controls whether index.json is written.
	IncludeIndex bool
}

// Export writes the blobs named by refs from src to w.
//
// Output bytes depend only on the blob contents: entries are sorted by
// reference and tar headers are normalized.
func Export(ctx context.Context, w io.Writer, src storage.BlobStore, refs []string, opts ExportOptions) error {
	if src == nil {
		return fmt.Errorf("archive: nil blob store")
	}
	uniq := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if !validRef(ref) {
			return fmt.Errorf("%w: %q", storage.ErrInvalidRef, ref)
		}
		uniq[ref] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for ref := range uniq {
		sorted = append(sorted, ref)
	}
	sort.Strings(sorted)

	cw, err := compressWriter(w, opts.Compression)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(cw)
	fail := func(err error) error {
		_ = tw.Close()
		_ = cw.Close()
		return err
	}

	entries := make([]indexEntry, 0, len(sorted))
	for _, ref := range sorted {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		b, err := src.Get(ctx, ref)
		if err != nil {
			return fail(fmt.Errorf("archive: get %s: %w", ref, err))
		}
		if _, perr := cidutil.Parse(ref); perr == nil && !cidutil.Matches(ref, b) {
			return fail(storage.ErrIntegrity)
		}
		if err := writeFile(tw, "blocks/"+ref, b); err != nil {
			return fail(err)
		}
		sum := sha256.Sum256(b)
		e := indexEntry{Ref: ref, Size: len(b), SHA256: hex.EncodeToString(sum[:])}
		if ar, ok := src.(storage.AttributeReader); ok {
			if attrs, aerr := ar.Attributes(ctx, ref); aerr == nil && len(attrs) > 0 {
				e.Attributes = attrs
			}
		}
		entries = append(entries, e)
	}

	if opts.IncludeIndex {
		idx := index{Version: FormatVersion, Compression: opts.Compression.String(), Blobs: entries}
		b, err := json.Marshal(idx)
		if err != nil {
			return fail(err)
		}
		if err := writeFile(tw, indexName, append(b, '\n')); err != nil {
			return fail(err)
		}
	}

	if err := tw.Close(); err != nil {
		_ = cw.Close()
		return err
	}
	return cw.Close()
}

type ImportOptions struct {
	// IgnoreUnknown skips entries outside blocks/ instead of failing.
	IgnoreUnknown bool
	// Put options for every imported blob. Attributes from the index are
	// merged over opts.Attributes.
	Put storage.PutOptions
}

// Result maps each archived reference to the reference the destination
// assigned. They differ when the destination is not content-addressed.
type Result struct {
	Compression Compression
	Refs        map[string]string
}

// Import reads an archive from r and stores every block into dst.
func Import(ctx context.Context, r io.Reader, dst storage.BlobStore, opts ImportOptions) (Result, error) {
	res := Result{Refs: map[string]string{}}
	if dst == nil {
		return res, fmt.Errorf("archive: nil blob store")
	}
	tarStream, comp, closeFn, err := decompressReader(r)
	if err != nil {
		return res, err
	}
	defer closeFn()
	res.Compression = comp

	type block struct {
		ref  string
		data []byte
	}
	var (
		blocks []block
		idx    *index
	)
	tr := tar.NewReader(tarStream)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return res, fmt.Errorf("archive: invalid entry path: %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return res, fmt.Errorf("archive: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}
		payload, err := io.ReadAll(tr)
		if err != nil {
			return res, err
		}
		switch {
		case name == indexName:
			var parsed index
			if err := json.Unmarshal(payload, &parsed); err != nil {
				return res, fmt.Errorf("archive: index: %w", err)
			}
			if parsed.Version != FormatVersion {
				return res, fmt.Errorf("archive: unsupported index version %d", parsed.Version)
			}
			idx = &parsed
		case strings.HasPrefix(name, "blocks/"):
			ref := strings.TrimPrefix(name, "blocks/")
			if !validRef(ref) {
				return res, storage.ErrInvalidRef
			}
			blocks = append(blocks, block{ref: ref, data: payload})
		default:
			if !opts.IgnoreUnknown {
				return res, fmt.Errorf("archive: unknown entry: %s", name)
			}
		}
	}

	byRef := map[string]indexEntry{}
	if idx != nil {
		for _, e := range idx.Blobs {
			byRef[e.Ref] = e
		}
	}

	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, dup := res.Refs[b.ref]; dup {
			return res, fmt.Errorf("archive: duplicate block entry: %s", b.ref)
		}
		if _, perr := cidutil.Parse(b.ref); perr == nil && !cidutil.Matches(b.ref, b.data) {
			return res, storage.ErrIntegrity
		}
		putOpts := opts.Put
		if e, ok := byRef[b.ref]; ok {
			sum := sha256.Sum256(b.data)
			if e.SHA256 != hex.EncodeToString(sum[:]) || e.Size != len(b.data) {
				return res, fmt.Errorf("%w: %s does not match index", storage.ErrIntegrity, b.ref)
			}
			putOpts.Attributes = mergeAttributes(opts.Put.Attributes, e.Attributes)
		}
		newRef, err := dst.Put(ctx, b.data, putOpts)
		if err != nil {
			return res, fmt.Errorf("archive: put %s: %w", b.ref, err)
		}
		res.Refs[b.ref] = newRef
	}
	return res, nil
}

type index struct {
	Version     int          `json:"version"`
	Compression string       `json:"compression"`
	Blobs       []indexEntry `json:"blobs"`
}

type indexEntry struct {
	Ref        string            `json:"ref"`
	Size       int               `json:"size"`
	SHA256     string            `json:"sha256"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func mergeAttributes(base, over map[string]string) map[string]string {
	if len(base) == 0 && len(over) == 0 {
		return nil
	}
	out := storage.CopyAttributes(base)
	if out == nil {
		out = make(map[string]string, len(over))
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func validRef(ref string) bool {
	return ref != "" && ref != "." && ref != ".." && !strings.ContainsAny(ref, "/\\\x00")
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}
	parts := strings.Split(name, "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return strings.Join(parts, "/")
}
