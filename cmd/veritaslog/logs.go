package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"xdao.co/veritaslog/canon"
	"xdao.co/veritaslog/commitment"
	"xdao.co/veritaslog/compliance"
	"xdao.co/veritaslog/keys"
	"xdao.co/veritaslog/ledger"
	"xdao.co/veritaslog/logbundle"
	"xdao.co/veritaslog/model"
	"xdao.co/veritaslog/receipt"
	"xdao.co/veritaslog/registrar"
	"xdao.co/veritaslog/verifier"
)

type metaFlags struct {
	title     string
	severity  string
	module    string
	notes     string
	createdAt int64
}

func (m *metaFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&m.title, "title", "", "Log title")
	fs.StringVar(&m.severity, "severity", "", "LOW, MEDIUM or HIGH")
	fs.StringVar(&m.module, "module", "", "Originating module name")
	fs.StringVar(&m.notes, "notes", "", "Free-form notes")
	fs.Int64Var(&m.createdAt, "created-at", 0, "Creation time in unix seconds")
}

func (m *metaFlags) meta() (logbundle.Meta, error) {
	if m.title == "" || m.module == "" {
		return logbundle.Meta{}, fmt.Errorf("--title and --module are required")
	}
	sev, err := logbundle.ParseSeverity(m.severity)
	if err != nil {
		return logbundle.Meta{}, err
	}
	if m.createdAt <= 0 {
		return logbundle.Meta{}, fmt.Errorf("--created-at is required")
	}
	return logbundle.Meta{Title: m.title, Severity: sev, ModuleName: m.module, Notes: m.notes, CreatedAt: m.createdAt}, nil
}

func cmdCanon(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("canon", errOut)
	var mode string
	var asJSON bool
	fs.StringVar(&mode, "mode", "permissive", "Canonical mode: permissive or strict")
	fs.BoolVar(&asJSON, "json", false, "Print the payload as {\"kind\",\"data\"}")
	if code := parse(fs, args); code >= 0 {
		return code
	}
	m, err := compliance.ParseMode(mode)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	raw, err := readInput(fs, stdin)
	if err != nil {
		fmt.Fprintf(errOut, "read input: %v\n", err)
		return 1
	}
	p := canon.CanonicalizeMode(string(raw), m)
	if asJSON {
		if err := printJSON(out, logbundle.Payload{Kind: p.Kind, Data: p.Data}); err != nil {
			return fail(errOut, "write", err)
		}
		return 0
	}
	fmt.Fprintf(errOut, "kind: %s\n", p.Kind)
	_, _ = io.WriteString(out, p.Data)
	return 0
}

func cmdCommit(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("commit", errOut)
	var mf metaFlags
	var mode string
	var printCID bool
	mf.bind(fs)
	fs.StringVar(&mode, "mode", "permissive", "Canonical mode: permissive or strict")
	fs.BoolVar(&printCID, "cid", false, "Also print the commitment as a CIDv1")
	if code := parse(fs, args); code >= 0 {
		return code
	}
	meta, err := mf.meta()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	m, err := compliance.ParseMode(mode)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	raw, err := readInput(fs, stdin)
	if err != nil {
		fmt.Fprintf(errOut, "read input: %v\n", err)
		return 1
	}
	c, _, err := commitment.Of(logbundle.Build(meta, string(raw), m))
	if err != nil {
		return fail(errOut, "commit", err)
	}
	_, _ = fmt.Fprintln(out, c.Hex())
	if printCID {
		id, err := c.CID()
		if err != nil {
			return fail(errOut, "cid", err)
		}
		_, _ = fmt.Fprintln(out, id.String())
	}
	return 0
}

func cmdRegister(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("register", errOut)
	var nf nodeFlags
	var wf walletFlags
	var mf metaFlags
	nf.bind(fs)
	wf.bind(fs)
	mf.bind(fs)
	if code := parse(fs, args); code >= 0 {
		return code
	}
	raw, err := readInput(fs, stdin)
	if err != nil {
		fmt.Fprintf(errOut, "read input: %v\n", err)
		return 1
	}
	var owner string
	if wf.given() {
		w, err := wf.resolve(errOut)
		if err != nil {
			fmt.Fprintf(errOut, "wallet: %v\n", err)
			return 2
		}
		owner = w.Address()
	}

	ctx := context.Background()
	a, err := nf.open(ctx, owner, errOut)
	if err != nil {
		return fail(errOut, "open", err)
	}
	defer a.Close()

	res, err := a.Registrar.Register(ctx, registrar.Submission{
		Title:      mf.title,
		Severity:   mf.severity,
		ModuleName: mf.module,
		Narrative:  string(raw),
		Notes:      mf.notes,
		CreatedAt:  mf.createdAt,
	})
	if err != nil {
		return fail(errOut, "register", err)
	}
	ids := make([]string, 0, len(a.Config.KeyServers))
	for _, kc := range a.Config.KeyServers {
		ids = append(ids, kc.ID)
	}
	if err := printJSON(out, model.RegisterResponse{
		BlobID:        res.BlobID,
		CommitmentHex: res.CommitmentHex,
		LogID:         res.LogID,
		Seal:          model.SealInfo{IDHex: res.CommitmentHex, Threshold: res.Threshold, ServerObjectIDs: ids, PackageID: res.Namespace},
		Success:       true,
		Message:       "Encrypted and uploaded",
	}); err != nil {
		return fail(errOut, "write", err)
	}
	return 0
}

func cmdLogs(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("logs", errOut)
	var nf nodeFlags
	var limit int
	nf.bind(fs)
	fs.IntVar(&limit, "limit", ledger.DefaultEventLimit, "Maximum number of logs, newest first")
	if code := parse(fs, args); code >= 0 {
		return code
	}
	ctx := context.Background()
	a, err := nf.open(ctx, "", errOut)
	if err != nil {
		return fail(errOut, "open", err)
	}
	defer a.Close()

	events, err := a.Ledger.Events(ctx, limit)
	if err != nil {
		return fail(errOut, "logs", ledger.ToModel(err))
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOG\tSEVERITY\tCREATED\tCOMMITMENT\tBLOB")
	for _, ev := range events {
		sev, _ := logbundle.SeverityFromCode(ev.SeverityCode)
		created := time.Unix(ev.CreatedAt, 0).UTC().Format(time.RFC3339)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ev.LogID, sev, created, ev.CommitmentHex, ev.BlobID)
	}
	if err := tw.Flush(); err != nil {
		return fail(errOut, "write", err)
	}
	return 0
}

func cmdShow(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("show", errOut)
	var nf nodeFlags
	nf.bind(fs)
	if code := parse(fs, args); code >= 0 {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: veritaslog show <log-id>")
		return 2
	}
	ctx := context.Background()
	a, err := nf.open(ctx, "", errOut)
	if err != nil {
		return fail(errOut, "open", err)
	}
	defer a.Close()

	rec, err := a.Ledger.Log(ctx, fs.Arg(0))
	if err != nil {
		return fail(errOut, "show", ledger.ToModel(err))
	}
	if err := printJSON(out, rec); err != nil {
		return fail(errOut, "write", err)
	}
	return 0
}

func cmdAccess(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: veritaslog access <subcommand> <log-id> ...")
		fmt.Fprintln(errOut, "subcommands: request, approve, reject")
		return 2
	}
	sub := args[0]
	switch sub {
	case "request", "approve", "reject":
	default:
		fmt.Fprintf(errOut, "unknown access subcommand: %s\n", sub)
		return 2
	}

	fs := newFlagSet("access "+sub, errOut)
	var nf nodeFlags
	var wf walletFlags
	var requester, reason string
	nf.bind(fs)
	wf.bind(fs)
	if sub != "request" {
		fs.StringVar(&requester, "requester", "", "Address the decision applies to")
	}
	if sub != "approve" {
		fs.StringVar(&reason, "reason", "", "Free-form reason")
	}
	if code := parse(fs, args[1:]); code >= 0 {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(errOut, "usage: veritaslog access %s <log-id>\n", sub)
		return 2
	}
	if sub != "request" && requester == "" {
		fmt.Fprintln(errOut, "missing --requester")
		return 2
	}
	w, err := wf.resolve(errOut)
	if err != nil {
		fmt.Fprintf(errOut, "wallet: %v\n", err)
		return 2
	}

	ctx := context.Background()
	a, err := nf.open(ctx, "", errOut)
	if err != nil {
		return fail(errOut, "open", err)
	}
	defer a.Close()

	logID := fs.Arg(0)
	switch sub {
	case "request":
		err = a.Ledger.RequestAccess(ctx, logID, w.Address(), reason)
	case "approve":
		err = a.Ledger.Approve(ctx, logID, w.Address(), requester)
	case "reject":
		err = a.Ledger.Reject(ctx, logID, w.Address(), requester, reason)
	}
	if err != nil {
		return fail(errOut, "access "+sub, ledger.ToModel(err))
	}
	_, _ = fmt.Fprintln(out, "OK")
	return 0
}

func cmdDecrypt(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("decrypt", errOut)
	var nf nodeFlags
	var wf walletFlags
	var full bool
	nf.bind(fs)
	wf.bind(fs)
	fs.BoolVar(&full, "bundle", false, "Print the whole bundle as JSON instead of the payload")
	if code := parse(fs, args); code >= 0 {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: veritaslog decrypt <log-id>")
		return 2
	}
	w, err := wf.resolve(errOut)
	if err != nil {
		fmt.Fprintf(errOut, "wallet: %v\n", err)
		return 2
	}

	ctx := context.Background()
	a, err := nf.open(ctx, "", errOut)
	if err != nil {
		return fail(errOut, "open", err)
	}
	defer a.Close()

	logID := fs.Arg(0)
	rec, err := a.Ledger.Log(ctx, logID)
	if err != nil {
		return fail(errOut, "decrypt", ledger.ToModel(err))
	}
	bundle, _, err := a.Decryptor.Decrypt(ctx, rec.BlobID, logID, w)
	if err != nil {
		return fail(errOut, "decrypt", err)
	}
	if full {
		if err := printJSON(out, bundle); err != nil {
			return fail(errOut, "write", err)
		}
		return 0
	}
	_, _ = io.WriteString(out, bundle.Payload.Data)
	return 0
}

func cmdVerify(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("verify", errOut)
	var nf nodeFlags
	var wf walletFlags
	var mf metaFlags
	var candidate, receiptPath, pqHash string
	var pq bool
	nf.bind(fs)
	wf.bind(fs)
	mf.bind(fs)
	fs.StringVar(&candidate, "candidate", "", "Compare this file against the log instead of decrypting it")
	fs.StringVar(&receiptPath, "receipt", "", "Write a signed verification receipt to this path")
	fs.BoolVar(&pq, "pq", false, "Sign the receipt with a Dilithium3 key derived from the wallet")
	fs.StringVar(&pqHash, "pq-hash", "sha256", "Digest for --pq receipts: sha256, sha512 or sha3-256")
	if code := parse(fs, args); code >= 0 {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: veritaslog verify <log-id>")
		return 2
	}
	logID := fs.Arg(0)

	var w *keys.Wallet
	if candidate == "" || receiptPath != "" {
		var err error
		if w, err = wf.resolve(errOut); err != nil {
			fmt.Fprintf(errOut, "wallet: %v\n", err)
			return 2
		}
	}
	var meta logbundle.Meta
	var candidateText string
	if candidate != "" {
		var err error
		if meta, err = mf.meta(); err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
		b, err := os.ReadFile(candidate)
		if err != nil {
			fmt.Fprintf(errOut, "read --candidate: %v\n", err)
			return 1
		}
		candidateText = string(b)
	}

	ctx := context.Background()
	a, err := nf.open(ctx, "", errOut)
	if err != nil {
		return fail(errOut, "open", err)
	}
	defer a.Close()

	var res verifier.Result
	if candidate == "" {
		res, err = a.Verifier.Auto(ctx, logID, w)
	} else {
		res, err = a.Verifier.CompareLog(ctx, logID, meta, candidateText)
	}
	if err != nil {
		return fail(errOut, "verify", err)
	}

	if receiptPath != "" {
		rec, err := a.Ledger.Log(ctx, logID)
		if err != nil {
			return fail(errOut, "receipt", ledger.ToModel(err))
		}
		if code := writeReceipt(receiptPath, res, rec.BlobID, w, pq, pqHash, errOut); code != 0 {
			return code
		}
	}
	if !res.Match {
		_, _ = fmt.Fprintf(out, "MISMATCH\n%s\n", res.Detail(verifier.DefaultDetailPrefix))
		return exitMismatch
	}
	_, _ = fmt.Fprintf(out, "MATCH %s\n", res.Computed.Hex())
	return 0
}

func writeReceipt(path string, res verifier.Result, blobID string, w *keys.Wallet, pq bool, pqHash string, errOut io.Writer) int {
	st := receipt.Statement{
		IssuedAt: time.Now().Unix(),
		LogID:    res.LogID,
		BlobID:   blobID,
		Expected: res.Expected,
		Computed: res.Computed,
		Match:    res.Match,
		Mode:     string(res.Mode),
	}
	var signer receipt.Signer = receipt.Ed25519Signer{Key: w.PrivateKey()}
	if pq {
		seed, err := keys.DeriveSeed(w.PrivateKey().Seed(), receiptPurpose, "dilithium3")
		if err != nil {
			return fail(errOut, "receipt key", err)
		}
		pub, priv, err := keys.GenerateDilithium3Keypair(bytes.NewReader(seed))
		if err != nil {
			return fail(errOut, "receipt key", err)
		}
		signer = receipt.Dilithium3Signer{Public: pub, Private: priv, Hash: pqHash}
	}
	rc, err := receipt.Issue(st, signer)
	if err != nil {
		return fail(errOut, "receipt", err)
	}
	if err := os.WriteFile(path, rc.Bytes(), 0o644); err != nil {
		return fail(errOut, "receipt", err)
	}
	fmt.Fprintf(errOut, "receipt: %s (%s)\n", path, rc.CID())
	return 0
}

// receiptPurpose scopes the Dilithium3 receipt key derived from a wallet seed.
const receiptPurpose = "receipt"
