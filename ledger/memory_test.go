package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"xdao.co/veritaslog/clock"
	"xdao.co/veritaslog/ledger"
	"xdao.co/veritaslog/ledger/ledgertest"
	"xdao.co/veritaslog/logbundle"
	"xdao.co/veritaslog/model"
	"xdao.co/veritaslog/threshold"
)

func TestMemory_Conformance(t *testing.T) {
	ledgertest.RunLedgerConformance(t, func(t *testing.T) ledger.Ledger {
		return ledger.NewMemory()
	})
}

func TestFile_Conformance(t *testing.T) {
	ledgertest.RunLedgerConformance(t, func(t *testing.T) ledger.Ledger {
		l, err := ledger.OpenFile(filepath.Join(t.TempDir(), "ledger.json"))
		if err != nil {
			t.Fatalf("OpenFile failed: %v", err)
		}
		return l
	})
}

func TestFile_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "ledger.json")
	owner, alice := ledgertest.Addr("owner"), ledgertest.Addr("alice")

	l, err := ledger.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	rec, err := l.RegisterLog(ctx, ledger.Registration{
		BlobID:        "blob-p",
		CommitmentHex: ledgertest.Commitment("p"),
		Severity:      logbundle.SeverityLow,
		Owner:         owner,
		CreatedAt:     42,
	})
	if err != nil {
		t.Fatalf("RegisterLog failed: %v", err)
	}
	if err := l.RequestAccess(ctx, rec.ID, alice, "audit"); err != nil {
		t.Fatalf("RequestAccess failed: %v", err)
	}
	if err := l.Approve(ctx, rec.ID, owner, alice); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	reopened, err := ledger.OpenFile(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	ok, err := reopened.CheckAccess(ctx, ledgertest.Commitment("p"), rec.ID, alice)
	if err != nil || !ok {
		t.Fatalf("approval lost across reopen (ok=%v err=%v)", ok, err)
	}
	evs, err := reopened.Events(ctx, 0)
	if err != nil || len(evs) != 1 || evs[0].LogID != rec.ID {
		t.Fatalf("unexpected events after reopen: %+v err=%v", evs, err)
	}
}

func TestMemory_FailedMutationLeavesRecord(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	owner := ledgertest.Addr("owner")
	rec, err := l.RegisterLog(ctx, ledger.Registration{
		BlobID: "b", CommitmentHex: ledgertest.Commitment("f"), Severity: logbundle.SeverityLow, Owner: owner,
	})
	if err != nil {
		t.Fatalf("RegisterLog failed: %v", err)
	}
	if err := l.Approve(ctx, rec.ID, owner, ledgertest.Addr("ghost")); !errors.Is(err, ledger.ErrNoRequest) {
		t.Fatalf("expected ErrNoRequest, got %v", err)
	}
	got, _ := l.Log(ctx, rec.ID)
	if len(got.Allowed) != 1 {
		t.Fatalf("failed approve must not grant access: %v", got.Allowed)
	}
}

func TestMemory_CreatedAtDefaultsToClock(t *testing.T) {
	fc := clock.NewFake(time.Unix(1700000123, 0))
	l := ledger.NewMemory()
	l.Clock = fc
	l.NewID = func() string { return "log_fixed" }
	rec, err := l.RegisterLog(context.Background(), ledger.Registration{
		BlobID: "b", CommitmentHex: ledgertest.Commitment("c"), Severity: logbundle.SeverityHigh, Owner: ledgertest.Addr("o"),
	})
	if err != nil {
		t.Fatalf("RegisterLog failed: %v", err)
	}
	if rec.ID != "log_fixed" || rec.CreatedAt != 1700000123 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestProofBuilder(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	owner := ledgertest.Addr("owner")
	ident := ledgertest.Commitment("proof")
	rec, err := l.RegisterLog(ctx, ledger.Registration{
		BlobID: "b", CommitmentHex: ident, Severity: logbundle.SeverityLow, Owner: owner,
	})
	if err != nil {
		t.Fatalf("RegisterLog failed: %v", err)
	}
	pb := &ledger.ProofBuilder{Ledger: l, Namespace: "veritaslog", Clock: clock.NewFake(time.Unix(99, 0))}

	raw, err := pb.BuildProof(ctx, ident, rec.ID, owner)
	if err != nil {
		t.Fatalf("BuildProof failed: %v", err)
	}
	p, err := threshold.ParseProof(raw)
	if err != nil {
		t.Fatalf("ParseProof failed: %v", err)
	}
	want := threshold.PolicyProof{Namespace: "veritaslog", IdentityHex: ident, LogID: rec.ID, Requester: owner, IssuedAt: 99}
	if p != want {
		t.Fatalf("proof mismatch: got %+v want %+v", p, want)
	}

	if _, err := pb.BuildProof(ctx, ledgertest.Commitment("other"), rec.ID, owner); !errors.Is(err, ledger.ErrIdentityMismatch) {
		t.Fatalf("expected ErrIdentityMismatch, got %v", err)
	}
	if _, err := pb.BuildProof(ctx, ident, "log_missing", owner); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestToModel(t *testing.T) {
	cases := []struct {
		err  error
		kind model.Kind
	}{
		{ledger.ErrNotFound, model.KindNotFound},
		{ledger.ErrNoRequest, model.KindNotFound},
		{ledger.ErrNotOwner, model.KindAccessDenied},
		{ledger.ErrInvalid, model.KindInvalidInput},
		{ledger.ErrAlreadyAllowed, model.KindInvalidInput},
		{errors.New("disk on fire"), model.KindInternal},
	}
	for _, tc := range cases {
		got := ledger.ToModel(tc.err)
		if !model.IsKind(got, tc.kind) {
			t.Fatalf("ToModel(%v): got kind %s want %s", tc.err, model.KindOf(got), tc.kind)
		}
		if !errors.Is(got, tc.err) {
			t.Fatalf("ToModel(%v) lost the cause", tc.err)
		}
	}
	if ledger.ToModel(nil) != nil {
		t.Fatalf("ToModel(nil) must be nil")
	}
}

func TestFileChecker_SeesLaterApprovals(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")
	owner, auditor := ledgertest.Addr("owner"), ledgertest.Addr("auditor")
	commit := ledgertest.Commitment("c")

	writer, err := ledger.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	rec, err := writer.RegisterLog(ctx, ledger.Registration{BlobID: "b", CommitmentHex: commit, Severity: "LOW", Owner: owner})
	if err != nil {
		t.Fatalf("RegisterLog: %v", err)
	}
	checker := ledger.FileChecker{Path: path}
	if ok, err := checker.CheckAccess(ctx, commit, rec.ID, auditor); err != nil || ok {
		t.Fatalf("auditor allowed before approval: %v %v", ok, err)
	}
	if err := writer.RequestAccess(ctx, rec.ID, auditor, "audit"); err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}
	if err := writer.Approve(ctx, rec.ID, owner, auditor); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if ok, err := checker.CheckAccess(ctx, commit, rec.ID, auditor); err != nil || !ok {
		t.Fatalf("approval not visible: %v %v", ok, err)
	}
}
