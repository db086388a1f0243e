package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"xdao.co/veritaslog/commitment"
	"xdao.co/veritaslog/compliance"
	"xdao.co/veritaslog/ledger"
	"xdao.co/veritaslog/logbundle"
	"xdao.co/veritaslog/model"
	"xdao.co/veritaslog/session"
)

const referenceHex = "43c95a96a9ae8182dbe6277fadc58ebf1499d1255f7e8af059a4b6b9a886f368"

func referenceMeta() logbundle.Meta {
	return logbundle.Meta{Title: "X", Severity: logbundle.SeverityHigh, ModuleName: "Ops", Notes: "", CreatedAt: 1700000000}
}

type stubOpener struct {
	bundle logbundle.Bundle
	err    error
	calls  []string
}

func (o *stubOpener) Decrypt(_ context.Context, blobRef, logID string, _ session.Signer) (logbundle.Bundle, []byte, error) {
	o.calls = append(o.calls, blobRef+"|"+logID)
	if o.err != nil {
		return logbundle.Bundle{}, nil, o.err
	}
	b, err := o.bundle.Marshal()
	return o.bundle, b, err
}

func addr(label string) string {
	sum := sha256.Sum256([]byte(label))
	return "0x" + hex.EncodeToString(sum[:])
}

func registered(t *testing.T, commitmentHex string) (*ledger.Memory, string) {
	t.Helper()
	l := ledger.NewMemory()
	rec, err := l.RegisterLog(context.Background(), ledger.Registration{
		BlobID: "blob-1", CommitmentHex: commitmentHex, Severity: logbundle.SeverityHigh, Owner: addr("owner"),
	})
	if err != nil {
		t.Fatalf("RegisterLog: %v", err)
	}
	return l, rec.ID
}

func TestAuto_Match(t *testing.T) {
	l, id := registered(t, referenceHex)
	op := &stubOpener{bundle: logbundle.Build(referenceMeta(), "incident details", compliance.Permissive)}
	v := &Verifier{Ledger: l, Decryptor: op}

	res, err := v.Auto(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("Auto failed: %v", err)
	}
	if !res.Match || res.Mode != ModeAuto || res.Computed.Hex() != referenceHex {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(op.calls) != 1 || op.calls[0] != "blob-1|"+id {
		t.Fatalf("decryptor must be asked for the ledger blob: %v", op.calls)
	}
}

func TestAuto_RecanonicalizesPayload(t *testing.T) {
	jsonHex := "9658993039340b18460fa4308f58ef6a5632893744cf6cf86cfebe894c250e0a"
	l, id := registered(t, jsonHex)
	// A decrypted payload whose data was stored un-normalized still verifies.
	b := logbundle.Build(referenceMeta(), `{"b":2,"a":1}`, compliance.Permissive)
	b.Payload.Data = `{"b":2,"a":1}`
	v := &Verifier{Ledger: l, Decryptor: &stubOpener{bundle: b}}

	res, err := v.Auto(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("Auto failed: %v", err)
	}
	if !res.Match {
		t.Fatalf("expected match after re-canonicalization:\n%s", res.Detail(16))
	}
}

func TestAuto_MismatchIsResult(t *testing.T) {
	l, id := registered(t, referenceHex)
	op := &stubOpener{bundle: logbundle.Build(referenceMeta(), "incident detailz", compliance.Permissive)}
	v := &Verifier{Ledger: l, Decryptor: op}

	res, err := v.Auto(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("mismatch must not be an error: %v", err)
	}
	if res.Match {
		t.Fatalf("expected mismatch")
	}
}

func TestAuto_PropagatesDecryptErrors(t *testing.T) {
	l, id := registered(t, referenceHex)
	denied := model.Wrap(model.KindAccessDenied, errors.New("withheld"), "access denied")
	v := &Verifier{Ledger: l, Decryptor: &stubOpener{err: denied}}
	if _, err := v.Auto(context.Background(), id, nil); !model.IsKind(err, model.KindAccessDenied) {
		t.Fatalf("expected AccessDenied, got %v", err)
	}
}

func TestAuto_UnknownLog(t *testing.T) {
	l, _ := registered(t, referenceHex)
	v := &Verifier{Ledger: l, Decryptor: &stubOpener{}}
	if _, err := v.Auto(context.Background(), "log_missing", nil); !model.IsKind(err, model.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestUploadCompare(t *testing.T) {
	expected, err := commitment.Parse(referenceHex)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	v := &Verifier{}

	res, err := v.UploadCompare(referenceMeta(), "  incident details\r\n", expected)
	if err != nil {
		t.Fatalf("UploadCompare failed: %v", err)
	}
	if !res.Match || res.Mode != ModeUploadCompare {
		t.Fatalf("whitespace-normalized candidate must match: %+v", res)
	}

	res, err = v.UploadCompare(referenceMeta(), "incident detailz", expected)
	if err != nil {
		t.Fatalf("UploadCompare failed: %v", err)
	}
	if res.Match {
		t.Fatalf("tampered candidate must not match")
	}
	detail := res.Detail(16)
	lines := strings.Split(detail, "\n")
	if len(lines) != 2 {
		t.Fatalf("unexpected detail: %q", detail)
	}
	if lines[0] != "Expected: "+referenceHex[:16]+"…" {
		t.Fatalf("unexpected expected line: %q", lines[0])
	}
	got := strings.TrimSuffix(strings.TrimPrefix(lines[1], "Got: "), "…")
	if len(got) != 16 || got == referenceHex[:16] {
		t.Fatalf("unexpected got line: %q", lines[1])
	}
	if res.Expected.Hex() != referenceHex || len(res.Computed.Hex()) != 64 {
		t.Fatalf("full digests must stay on the result")
	}
}

func TestCompareLog(t *testing.T) {
	l, id := registered(t, referenceHex)
	v := &Verifier{Ledger: l}
	res, err := v.CompareLog(context.Background(), id, referenceMeta(), "incident details")
	if err != nil {
		t.Fatalf("CompareLog failed: %v", err)
	}
	if !res.Match || res.LogID != id {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDetail_DefaultPrefix(t *testing.T) {
	r := Result{Expected: commitment.Derive(nil), Computed: commitment.Derive([]byte("x"))}
	if r.Detail(0) != r.Detail(DefaultDetailPrefix) {
		t.Fatalf("non-positive n must use the default prefix")
	}
	if !strings.HasPrefix(r.Detail(0), "Expected: e3b0c44298fc1c14…") {
		t.Fatalf("unexpected detail: %q", r.Detail(0))
	}
}

func TestAuto_MatchesOnceNormalizedNarratives(t *testing.T) {
	narratives := []string{
		"a\r\r\nb",
		"\uFEFF\uFEFFhello",
		" \uFEFF{\"b\":1,\"a\":2}",
		"first\u2028second",
	}
	for _, mode := range []compliance.ComplianceMode{compliance.Permissive, compliance.Strict} {
		for _, n := range narratives {
			b := logbundle.Build(referenceMeta(), n, mode)
			c, _, err := commitment.Of(b)
			if err != nil {
				t.Fatalf("Of: %v", err)
			}
			l, id := registered(t, c.Hex())
			v := &Verifier{Ledger: l, Decryptor: &stubOpener{bundle: b}, Mode: mode}
			res, err := v.Auto(context.Background(), id, nil)
			if err != nil {
				t.Fatalf("Auto(%q): %v", n, err)
			}
			if !res.Match {
				t.Fatalf("%v %q reported as tampered:\n%s", mode, n, res.Detail(16))
			}
		}
	}
}
