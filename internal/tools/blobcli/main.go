// Command blobcli puts and fetches raw blobs against any registered backend.
// It is a debugging aid for operators: sealed envelopes can be pulled out of a
// store and archives checked without starting a node.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"xdao.co/veritaslog/storage"
	"xdao.co/veritaslog/storage/blobregistry"

	_ "xdao.co/veritaslog/storage/grpcblob"
	_ "xdao.co/veritaslog/storage/localfs"
	_ "xdao.co/veritaslog/storage/memory"
	_ "xdao.co/veritaslog/storage/walrus"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "put":
		return cmdPut(args[1:], out, errOut)
	case "get":
		return cmdGet(args[1:], out, errOut)
	case "stat":
		return cmdStat(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "blobcli: raw blob tool for veritaslog stores")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  blobcli put --backend localfs --localfs-dir <dir> [--attr k=v ...] <file>")
	fmt.Fprintln(w, "  blobcli get --backend localfs --localfs-dir <dir> --ref <ref> [--out <file>]")
	fmt.Fprintln(w, "  blobcli stat --backend localfs --localfs-dir <dir> --ref <ref>")
	fmt.Fprintln(w, "  blobcli put --backend grpc --grpc-target <host:port> <file>")
	fmt.Fprintln(w, "  blobcli put --backend walrus --walrus-publisher <url> --walrus-aggregator <url> [--epochs n] <file>")
	fmt.Fprintln(w, "  blobcli <cmd> --list-backends")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - grpc backend talks to veritas-blobd")
	fmt.Fprintln(w, "  - blobs are stored as-is; envelopes stay sealed")
}

type commonFlags struct {
	backend      string
	listBackends bool
}

func (c *commonFlags) add(fs *flag.FlagSet) {
	fs.StringVar(&c.backend, "backend", "localfs", "Blob backend name")
	fs.BoolVar(&c.listBackends, "list-backends", false, "List supported backends and exit")
	blobregistry.RegisterFlags(fs, blobregistry.UsageCLI)
}

func (c *commonFlags) open() (storage.BlobStore, func() error, error) {
	return blobregistry.Open(c.backend, blobregistry.UsageCLI)
}

func printBackends(w io.Writer) {
	for _, b := range blobregistry.List(blobregistry.UsageCLI) {
		if b.Description == "" {
			_, _ = fmt.Fprintf(w, "%s\n", b.Name)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", b.Name, b.Description)
	}
}

func cmdPut(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	var opts storage.PutOptions
	attrs := attrFlag{}
	common.add(fs)
	fs.IntVar(&opts.Epochs, "epochs", 0, "Storage epochs for backends that expire blobs")
	fs.BoolVar(&opts.Deletable, "deletable", false, "Mark the blob deletable")
	fs.Var(attrs, "attr", "Blob attribute as key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if common.listBackends {
		printBackends(out)
		return 0
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: blobcli put [common flags] <file>")
		return 2
	}
	opts.Attributes = attrs

	store, closeFn, err := common.open()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	p := fs.Arg(0)
	b, err := os.ReadFile(p)
	if err != nil {
		fmt.Fprintf(errOut, "read %s: %v\n", filepath.Base(p), err)
		return 1
	}
	ref, err := store.Put(context.Background(), b, opts)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	_, _ = fmt.Fprintln(out, ref)
	return 0
}

func cmdGet(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.add(fs)

	var ref string
	var outPath string
	fs.StringVar(&ref, "ref", "", "Blob reference to fetch")
	fs.StringVar(&outPath, "out", "", "Output file (optional; default stdout)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if common.listBackends {
		printBackends(out)
		return 0
	}
	if ref == "" {
		fmt.Fprintln(errOut, "missing --ref")
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(errOut, "usage: blobcli get [common flags] --ref <ref> [--out <file>]")
		return 2
	}

	store, closeFn, err := common.open()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	b, err := store.Get(context.Background(), ref)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	if outPath == "" {
		_, _ = out.Write(b)
		return 0
	}
	if err := os.WriteFile(outPath, b, 0o600); err != nil {
		fmt.Fprintf(errOut, "write %s: %v\n", outPath, err)
		return 1
	}
	return 0
}

func cmdStat(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("stat", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.add(fs)
	var ref string
	fs.StringVar(&ref, "ref", "", "Blob reference")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if common.listBackends {
		printBackends(out)
		return 0
	}
	if ref == "" {
		fmt.Fprintln(errOut, "missing --ref")
		return 2
	}

	store, closeFn, err := common.open()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	ctx := context.Background()
	if !store.Has(ctx, ref) {
		fmt.Fprintf(errOut, "%s: %v\n", ref, storage.ErrNotFound)
		return 1
	}
	_, _ = fmt.Fprintf(out, "ref\t%s\n", ref)
	ar, ok := store.(storage.AttributeReader)
	if !ok {
		return 0
	}
	attrs, err := ar.Attributes(ctx, ref)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(out, "%s\t%s\n", k, attrs[k])
	}
	return 0
}

type attrFlag map[string]string

func (a attrFlag) String() string {
	parts := make([]string, 0, len(a))
	for k, v := range a {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (a attrFlag) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("attribute %q is not key=value", v)
	}
	a[strings.TrimSpace(k)] = val
	return nil
}
