package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"xdao.co/veritaslog/model"
)

const referenceCommitment = "43c95a96a9ae8182dbe6277fadc58ebf1499d1255f7e8af059a4b6b9a886f368"

var (
	ownerSeed   = strings.Repeat("01", 32)
	auditorSeed = strings.Repeat("02", 32)
)

func withStdin(t *testing.T, s string) {
	t.Helper()
	prev := stdin
	stdin = strings.NewReader(s)
	t.Cleanup(func() { stdin = prev })
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

// writeConfig writes a node config backed by a file ledger and a localfs blob
// store, so state survives between CLI invocations.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := `namespace: veritaslog-test
threshold: 2
storage:
  backends:
    - name: localfs
      config: {localfs-dir: ` + filepath.Join(dir, "blobs") + `}
ledger:
  driver: file
  path: ` + filepath.Join(dir, "ledger.json") + `
keyserver_master_seed_hex: ` + strings.Repeat("07", 32) + `
log:
  level: error
`
	path := filepath.Join(dir, "veritaslog.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRun_Usage(t *testing.T) {
	code, _, errOut := runCLI(t)
	if code != 2 || !strings.Contains(errOut, "Usage:") {
		t.Fatalf("expected usage on stderr with exit 2, got %d %q", code, errOut)
	}
	code, out, _ := runCLI(t, "help")
	if code != 0 || !strings.Contains(out, "veritaslog verify") {
		t.Fatalf("help: %d %q", code, out)
	}
	if code, _, _ := runCLI(t, "frobnicate"); code != 2 {
		t.Fatalf("unknown command exit = %d", code)
	}
}

func TestCanon(t *testing.T) {
	withStdin(t, `{"b":2,"a":1}`)
	code, out, errOut := runCLI(t, "canon")
	if code != 0 || out != `{"a":1,"b":2}` || !strings.Contains(errOut, "kind: json") {
		t.Fatalf("canon: %d %q %q", code, out, errOut)
	}

	withStdin(t, "  hello\r\nworld  ")
	code, out, _ = runCLI(t, "canon", "--json")
	if code != 0 {
		t.Fatalf("canon --json exit %d", code)
	}
	var p struct{ Kind, Data string }
	if err := json.Unmarshal([]byte(out), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Kind != "text" || p.Data != "hello\nworld" {
		t.Fatalf("unexpected payload %+v", p)
	}

	if code, _, _ := runCLI(t, "canon", "--mode", "lenient"); code != 2 {
		t.Fatalf("bad mode exit = %d", code)
	}
}

func TestCommit_ReferenceVector(t *testing.T) {
	withStdin(t, "incident details")
	code, out, errOut := runCLI(t, "commit", "--title", "X", "--severity", "HIGH", "--module", "Ops", "--created-at", "1700000000")
	if code != 0 {
		t.Fatalf("commit exit %d: %s", code, errOut)
	}
	if strings.TrimSpace(out) != referenceCommitment {
		t.Fatalf("commitment = %q", out)
	}

	if code, _, _ := runCLI(t, "commit", "--title", "X", "--severity", "CRITICAL", "--module", "Ops", "--created-at", "1"); code != 2 {
		t.Fatalf("bad severity exit = %d", code)
	}
}

func TestWallet_InitListAddress(t *testing.T) {
	dir := t.TempDir()
	code, out, errOut := runCLI(t, "wallet", "init", "--wallet-dir", dir, "--name", "alice", "--seed-hex", ownerSeed)
	if code != 0 {
		t.Fatalf("init: %d %s", code, errOut)
	}
	addr := strings.TrimSpace(out)

	code, out, _ = runCLI(t, "wallet", "address", "--wallet-dir", dir, "--wallet", "alice")
	if code != 0 || strings.TrimSpace(out) != addr {
		t.Fatalf("address mismatch: %q vs %q", out, addr)
	}
	code, out, _ = runCLI(t, "wallet", "address", "--seed-hex", ownerSeed)
	if code != 0 || strings.TrimSpace(out) != addr {
		t.Fatalf("seed address mismatch: %q vs %q", out, addr)
	}

	if code, _, _ := runCLI(t, "wallet", "derive", "--wallet-dir", dir, "--from", "alice", "--label", "audit"); code != 0 {
		t.Fatalf("derive exit %d", code)
	}
	code, out, _ = runCLI(t, "wallet", "list", "--wallet-dir", dir)
	if code != 0 || !strings.Contains(out, "alice") || !strings.Contains(out, "audit") || !strings.Contains(out, addr) {
		t.Fatalf("list: %d %q", code, out)
	}

	if code, _, _ := runCLI(t, "wallet", "init", "--wallet-dir", dir, "--name", "alice"); code == 0 {
		t.Fatalf("expected init without --force to refuse overwrite")
	}
}

func TestWallet_SealedNeedsPassphrase(t *testing.T) {
	dir := t.TempDir()
	withStdin(t, "correct horse\n")
	if code, _, errOut := runCLI(t, "wallet", "init", "--wallet-dir", dir, "--name", "sealed", "--seed-hex", ownerSeed, "--seal"); code != 0 {
		t.Fatalf("sealed init: %s", errOut)
	}
	if code, _, _ := runCLI(t, "wallet", "address", "--wallet-dir", dir, "--wallet", "sealed"); code == 0 {
		t.Fatalf("expected sealed wallet to need a passphrase")
	}
	t.Setenv(PassphraseEnvVar, "correct horse")
	if code, _, errOut := runCLI(t, "wallet", "address", "--wallet-dir", dir, "--wallet", "sealed"); code != 0 {
		t.Fatalf("unseal: %s", errOut)
	}
}

func TestWorkflow_RegisterAccessVerify(t *testing.T) {
	cfg := writeConfig(t)
	work := t.TempDir()

	withStdin(t, "incident details")
	code, out, errOut := runCLI(t, "register", "--config", cfg, "--seed-hex", ownerSeed,
		"--title", "X", "--severity", "HIGH", "--module", "Ops", "--created-at", "1700000000")
	if code != 0 {
		t.Fatalf("register: %d %s", code, errOut)
	}
	var reg model.RegisterResponse
	if err := json.Unmarshal([]byte(out), &reg); err != nil {
		t.Fatalf("decode register output: %v", err)
	}
	if reg.CommitmentHex != referenceCommitment || reg.LogID == "" || reg.Seal.Threshold != 2 {
		t.Fatalf("unexpected registration %+v", reg)
	}

	code, out, _ = runCLI(t, "logs", "--config", cfg)
	if code != 0 || !strings.Contains(out, reg.LogID) || !strings.Contains(out, "HIGH") {
		t.Fatalf("logs: %d %q", code, out)
	}

	// The auditor is denied until the owner approves their request.
	code, _, errOut = runCLI(t, "verify", reg.LogID, "--config", cfg, "--seed-hex", auditorSeed)
	if code != 1 || !strings.Contains(errOut, string(model.ErrAccessDenied)) {
		t.Fatalf("expected access denied, got %d %q", code, errOut)
	}
	code, auditorAddr, _ := runCLI(t, "wallet", "address", "--seed-hex", auditorSeed)
	if code != 0 {
		t.Fatalf("auditor address exit %d", code)
	}
	auditorAddr = strings.TrimSpace(auditorAddr)
	if code, _, errOut := runCLI(t, "access", "request", reg.LogID, "--config", cfg, "--seed-hex", auditorSeed, "--reason", "audit"); code != 0 {
		t.Fatalf("request: %s", errOut)
	}
	if code, _, _ := runCLI(t, "access", "approve", reg.LogID, "--config", cfg, "--seed-hex", auditorSeed, "--requester", auditorAddr); code != 1 {
		t.Fatalf("non-owner approve must fail, got %d", code)
	}
	if code, _, errOut := runCLI(t, "access", "approve", reg.LogID, "--config", cfg, "--seed-hex", ownerSeed, "--requester", auditorAddr); code != 0 {
		t.Fatalf("approve: %s", errOut)
	}

	rcpt := filepath.Join(work, "verify.rcpt")
	code, out, errOut = runCLI(t, "verify", reg.LogID, "--config", cfg, "--seed-hex", auditorSeed, "--receipt", rcpt)
	if code != 0 || strings.TrimSpace(out) != "MATCH "+referenceCommitment {
		t.Fatalf("verify: %d %q %q", code, out, errOut)
	}
	code, out, errOut = runCLI(t, "receipt", "verify", rcpt)
	if code != 0 || !strings.Contains(out, "OK MATCH") || !strings.Contains(out, "log="+reg.LogID) {
		t.Fatalf("receipt verify: %d %q %q", code, out, errOut)
	}

	code, out, _ = runCLI(t, "decrypt", reg.LogID, "--config", cfg, "--seed-hex", auditorSeed)
	if code != 0 || out != "incident details" {
		t.Fatalf("decrypt: %d %q", code, out)
	}

	tampered := filepath.Join(work, "tampered.txt")
	if err := os.WriteFile(tampered, []byte("incident details."), 0o600); err != nil {
		t.Fatal(err)
	}
	code, out, _ = runCLI(t, "verify", reg.LogID, "--config", cfg, "--candidate", tampered,
		"--title", "X", "--severity", "HIGH", "--module", "Ops", "--created-at", "1700000000")
	if code != exitMismatch || !strings.Contains(out, "Expected: "+referenceCommitment[:16]) {
		t.Fatalf("tampered verify: %d %q", code, out)
	}
}

func TestArchive_ExportImport(t *testing.T) {
	cfg := writeConfig(t)
	withStdin(t, "archived narrative")
	code, out, errOut := runCLI(t, "register", "--config", cfg, "--seed-hex", ownerSeed,
		"--title", "A", "--severity", "LOW", "--module", "Ops")
	if code != 0 {
		t.Fatalf("register: %s", errOut)
	}
	var reg model.RegisterResponse
	if err := json.Unmarshal([]byte(out), &reg); err != nil {
		t.Fatal(err)
	}

	for _, comp := range []string{"none", "lz4", "zstd"} {
		t.Run(comp, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "logs.tar")
			if code, _, errOut := runCLI(t, "archive", "export", "--config", cfg, "--out", path, "--compression", comp); code != 0 {
				t.Fatalf("export: %s", errOut)
			}
			other := writeConfig(t)
			code, out, errOut := runCLI(t, "archive", "import", "--config", other, path)
			if code != 0 || !strings.HasPrefix(out, reg.BlobID+"\t") {
				t.Fatalf("import: %d %q %q", code, out, errOut)
			}
		})
	}

	if code, _, _ := runCLI(t, "archive", "export", "--config", cfg, "--out", filepath.Join(t.TempDir(), "x"), "--compression", "brotli"); code != 2 {
		t.Fatalf("bad compression exit = %d", code)
	}
}

func TestReceipt_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.rcpt")
	if err := os.WriteFile(path, []byte("not a receipt"), 0o600); err != nil {
		t.Fatal(err)
	}
	code, _, errOut := runCLI(t, "receipt", "verify", path)
	if code != 1 || !strings.Contains(errOut, "invalid receipt") {
		t.Fatalf("expected rejection, got %d %q", code, errOut)
	}
}
