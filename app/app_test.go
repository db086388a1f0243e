package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"xdao.co/veritaslog/config"
	"xdao.co/veritaslog/keys"
	"xdao.co/veritaslog/model"
	"xdao.co/veritaslog/receipt"
	"xdao.co/veritaslog/registrar"
	"xdao.co/veritaslog/storage/blobconfig"
)

const referenceCommitment = "43c95a96a9ae8182dbe6277fadc58ebf1499d1255f7e8af059a4b6b9a886f368"

func wallet(t *testing.T, b byte) *keys.Wallet {
	t.Helper()
	w, err := keys.WalletFromSeed("w", bytes.Repeat([]byte{b}, 32))
	if err != nil {
		t.Fatalf("WalletFromSeed: %v", err)
	}
	return w
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.KeyServerMasterSeedHex = "0x" + strings.Repeat("07", 32)
	return cfg
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newApp(t *testing.T, cfg *config.Config, owner string) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, Options{Logger: quiet(), Owner: owner})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func referenceSubmission() registrar.Submission {
	return registrar.Submission{Title: "X", Severity: "HIGH", ModuleName: "Ops", Narrative: "incident details", CreatedAt: 1700000000}
}

func TestEndToEnd_RoundTrip(t *testing.T) {
	ctx := context.Background()
	owner := wallet(t, 1)
	a := newApp(t, testConfig(), owner.Address())

	res, err := a.Registrar.Register(ctx, referenceSubmission())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if res.CommitmentHex != referenceCommitment {
		t.Fatalf("commitment = %s", res.CommitmentHex)
	}

	r, err := a.Verifier.Auto(ctx, res.LogID, owner)
	if err != nil {
		t.Fatalf("Auto failed: %v", err)
	}
	if !r.Match || r.Computed.Hex() != referenceCommitment {
		t.Fatalf("expected match, got %+v", r)
	}
	if r.Bundle.Payload.Data != "incident details" || r.Bundle.Meta.Title != "X" {
		t.Fatalf("unexpected decrypted bundle: %+v", r.Bundle)
	}

	// A signed receipt of the result verifies.
	rc, err := receipt.Issue(receipt.Statement{
		IssuedAt: 1700000100, LogID: res.LogID, BlobID: res.BlobID,
		Expected: r.Expected, Computed: r.Computed, Match: r.Match, Mode: string(r.Mode),
	}, receipt.Ed25519Signer{Key: owner.PrivateKey()})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := rc.Verify(); err != nil {
		t.Fatalf("receipt Verify: %v", err)
	}
}

func TestEndToEnd_TamperDetected(t *testing.T) {
	ctx := context.Background()
	owner := wallet(t, 1)
	a := newApp(t, testConfig(), owner.Address())

	res, err := a.Registrar.Register(ctx, referenceSubmission())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	r, err := a.Verifier.Auto(ctx, res.LogID, owner)
	if err != nil {
		t.Fatalf("Auto failed: %v", err)
	}

	tampered, err := a.Verifier.CompareLog(ctx, res.LogID, r.Bundle.Meta, "incident details.")
	if err != nil {
		t.Fatalf("CompareLog failed: %v", err)
	}
	if tampered.Match {
		t.Fatalf("tampered content must not match")
	}
	detail := tampered.Detail(16)
	if !strings.Contains(detail, "Expected: "+referenceCommitment[:16]) || !strings.Contains(detail, "Got: "+tampered.Computed.Hex()[:16]) {
		t.Fatalf("unexpected detail: %q", detail)
	}

	// Whitespace-only differences canonicalize away.
	same, err := a.Verifier.CompareLog(ctx, res.LogID, r.Bundle.Meta, "  incident details\r\n")
	if err != nil || !same.Match {
		t.Fatalf("expected match after canonicalization, got %+v, %v", same, err)
	}
}

func TestEndToEnd_NormalizedNarrativesVerify(t *testing.T) {
	ctx := context.Background()
	owner := wallet(t, 1)
	a := newApp(t, testConfig(), owner.Address())

	for _, narrative := range []string{
		"a\r\r\nb",
		"\uFEFF\uFEFFhello",
		" \uFEFF{\"b\":1,\"a\":2}",
	} {
		sub := referenceSubmission()
		sub.Narrative = narrative
		res, err := a.Registrar.Register(ctx, sub)
		if err != nil {
			t.Fatalf("Register(%q): %v", narrative, err)
		}
		r, err := a.Verifier.Auto(ctx, res.LogID, owner)
		if err != nil {
			t.Fatalf("Auto(%q): %v", narrative, err)
		}
		if !r.Match {
			t.Fatalf("untouched narrative %q reported as tampered:\n%s", narrative, r.Detail(16))
		}
	}
}

func TestEndToEnd_AccessDeniedUntilApproved(t *testing.T) {
	ctx := context.Background()
	owner, auditor := wallet(t, 1), wallet(t, 2)
	a := newApp(t, testConfig(), owner.Address())

	res, err := a.Registrar.Register(ctx, referenceSubmission())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := a.Verifier.Auto(ctx, res.LogID, auditor); !model.IsKind(err, model.KindAccessDenied) {
		t.Fatalf("expected AccessDenied, got %v", err)
	}

	if err := a.Ledger.RequestAccess(ctx, res.LogID, auditor.Address(), "quarterly audit"); err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}
	if err := a.Ledger.Approve(ctx, res.LogID, owner.Address(), auditor.Address()); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	r, err := a.Verifier.Auto(ctx, res.LogID, auditor)
	if err != nil || !r.Match {
		t.Fatalf("approved auditor must verify, got %+v, %v", r, err)
	}
}

func TestNew_FileLedgerAndLocalStoreSurviveRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	owner := wallet(t, 1)

	cfg := testConfig()
	cfg.Ledger = config.LedgerConfig{Driver: config.LedgerFile, Path: filepath.Join(dir, "ledger.json")}
	cfg.Storage.Backends = []blobconfig.BackendConfig{{Name: "localfs", Config: map[string]string{"localfs-dir": filepath.Join(dir, "blobs")}}}

	first := newApp(t, cfg, owner.Address())
	res, err := first.Registrar.Register(ctx, referenceSubmission())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	_ = first.Close()

	second := newApp(t, cfg, owner.Address())
	r, err := second.Verifier.Auto(ctx, res.LogID, owner)
	if err != nil || !r.Match {
		t.Fatalf("expected match after restart, got %+v, %v", r, err)
	}
}

func TestNew_RejectsUnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Backends = []blobconfig.BackendConfig{{Name: "floppy"}}
	if _, err := New(context.Background(), cfg, Options{Logger: quiet()}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
