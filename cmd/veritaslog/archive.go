package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"xdao.co/veritaslog/ledger"
	"xdao.co/veritaslog/storage/archive"
)

// maxArchiveLogs bounds "archive export" without explicit log ids.
const maxArchiveLogs = 100000

func cmdArchive(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: veritaslog archive <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: export, import")
		return 2
	}
	switch args[0] {
	case "export":
		return cmdArchiveExport(args[1:], out, errOut)
	case "import":
		return cmdArchiveImport(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown archive subcommand: %s\n", args[0])
		return 2
	}
}

func cmdArchiveExport(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("archive export", errOut)
	var nf nodeFlags
	var outPath, compression string
	nf.bind(fs)
	fs.StringVar(&outPath, "out", "", "Archive file to write")
	fs.StringVar(&compression, "compression", "zstd", "Stream codec: none, lz4 or zstd")
	if code := parse(fs, args); code >= 0 {
		return code
	}
	if outPath == "" {
		fmt.Fprintln(errOut, "missing --out")
		return 2
	}
	comp, err := archive.ParseCompression(compression)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	ctx := context.Background()
	a, err := nf.open(ctx, "", errOut)
	if err != nil {
		return fail(errOut, "open", err)
	}
	defer a.Close()

	var refs []string
	if fs.NArg() == 0 {
		events, err := a.Ledger.Events(ctx, maxArchiveLogs)
		if err != nil {
			return fail(errOut, "archive", ledger.ToModel(err))
		}
		for _, ev := range events {
			refs = append(refs, ev.BlobID)
		}
	} else {
		for _, id := range fs.Args() {
			rec, err := a.Ledger.Log(ctx, id)
			if err != nil {
				return fail(errOut, "archive", ledger.ToModel(err))
			}
			refs = append(refs, rec.BlobID)
		}
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fail(errOut, "archive", err)
	}
	if err := archive.Export(ctx, f, a.Store, refs, archive.ExportOptions{Compression: comp, IncludeIndex: true}); err != nil {
		_ = f.Close()
		_ = os.Remove(outPath)
		return fail(errOut, "archive", err)
	}
	if err := f.Close(); err != nil {
		return fail(errOut, "archive", err)
	}
	_, _ = fmt.Fprintf(out, "%d blobs -> %s (%s)\n", len(refs), outPath, comp)
	return 0
}

func cmdArchiveImport(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("archive import", errOut)
	var nf nodeFlags
	var ignoreUnknown bool
	nf.bind(fs)
	fs.BoolVar(&ignoreUnknown, "ignore-unknown", false, "Skip entries that are not blobs")
	if code := parse(fs, args); code >= 0 {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: veritaslog archive import <file>")
		return 2
	}

	ctx := context.Background()
	a, err := nf.open(ctx, "", errOut)
	if err != nil {
		return fail(errOut, "open", err)
	}
	defer a.Close()

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return fail(errOut, "archive", err)
	}
	defer f.Close()
	res, err := archive.Import(ctx, f, a.Store, archive.ImportOptions{IgnoreUnknown: ignoreUnknown})
	if err != nil {
		return fail(errOut, "archive", err)
	}

	refs := make([]string, 0, len(res.Refs))
	for ref := range res.Refs {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		_, _ = fmt.Fprintf(out, "%s\t%s\n", ref, res.Refs[ref])
	}
	return 0
}
