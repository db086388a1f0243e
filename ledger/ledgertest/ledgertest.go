// Package ledgertest is a behavioral test suite shared by Ledger backends.
package ledgertest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"testing"

	"xdao.co/veritaslog/ledger"
	"xdao.co/veritaslog/logbundle"
)

// NewLedger constructs a fresh, empty ledger for a test.
type NewLedger func(t *testing.T) ledger.Ledger

// Addr returns a deterministic, well-formed address for tests.
func Addr(label string) string {
	sum := sha256.Sum256([]byte("addr:" + label))
	return "0x" + hex.EncodeToString(sum[:])
}

// Commitment returns a deterministic commitment hex for tests.
func Commitment(label string) string {
	sum := sha256.Sum256([]byte("bundle:" + label))
	return hex.EncodeToString(sum[:])
}

func register(t *testing.T, l ledger.Ledger, label string, createdAt int64) string {
	t.Helper()
	rec, err := l.RegisterLog(context.Background(), ledger.Registration{
		BlobID:        "blob-" + label,
		CommitmentHex: Commitment(label),
		Severity:      logbundle.SeverityHigh,
		Owner:         Addr("owner"),
		CreatedAt:     createdAt,
	})
	if err != nil {
		t.Fatalf("RegisterLog(%s) failed: %v", label, err)
	}
	return rec.ID
}

func RunLedgerConformance(t *testing.T, newLedger NewLedger) {
	t.Helper()
	ctx := context.Background()
	owner, alice, bob := Addr("owner"), Addr("alice"), Addr("bob")

	t.Run("RegisterAndRead", func(t *testing.T) {
		l := newLedger(t)
		rec, err := l.RegisterLog(ctx, ledger.Registration{
			BlobID:        "blob-1",
			CommitmentHex: "0x" + Commitment("one"),
			Severity:      logbundle.SeverityMedium,
			Owner:         owner,
			CreatedAt:     1700000000,
		})
		if err != nil {
			t.Fatalf("RegisterLog failed: %v", err)
		}
		if rec.ID == "" {
			t.Fatalf("RegisterLog returned empty id")
		}
		got, err := l.Log(ctx, rec.ID)
		if err != nil {
			t.Fatalf("Log failed: %v", err)
		}
		if got.BlobID != "blob-1" || got.CommitmentHex != Commitment("one") {
			t.Fatalf("unexpected record: %+v", got)
		}
		if got.SeverityCode != 1 || got.Severity != "MEDIUM" || got.CreatedAt != 1700000000 {
			t.Fatalf("unexpected severity/time: %+v", got)
		}
		if !slices.Equal(got.Allowed, []string{owner}) {
			t.Fatalf("owner must be allowed at registration, got %v", got.Allowed)
		}
	})

	t.Run("RegisterRejectsInvalid", func(t *testing.T) {
		l := newLedger(t)
		cases := []ledger.Registration{
			{BlobID: "", CommitmentHex: Commitment("x"), Severity: logbundle.SeverityLow, Owner: owner},
			{BlobID: "b", CommitmentHex: "abc", Severity: logbundle.SeverityLow, Owner: owner},
			{BlobID: "b", CommitmentHex: Commitment("x"), Severity: "URGENT", Owner: owner},
			{BlobID: "b", CommitmentHex: Commitment("x"), Severity: logbundle.SeverityLow, Owner: "nobody"},
		}
		for i, reg := range cases {
			if _, err := l.RegisterLog(ctx, reg); !errors.Is(err, ledger.ErrInvalid) {
				t.Fatalf("case %d: expected ErrInvalid, got %v", i, err)
			}
		}
	})

	t.Run("LogNotFound", func(t *testing.T) {
		l := newLedger(t)
		if _, err := l.Log(ctx, "log_missing"); !errors.Is(err, ledger.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("EventsNewestFirstWithLimit", func(t *testing.T) {
		l := newLedger(t)
		var ids []string
		for i := 0; i < 5; i++ {
			ids = append(ids, register(t, l, fmt.Sprintf("e%d", i), int64(1700000000+i)))
		}
		evs, err := l.Events(ctx, 3)
		if err != nil {
			t.Fatalf("Events failed: %v", err)
		}
		if len(evs) != 3 {
			t.Fatalf("expected 3 events, got %d", len(evs))
		}
		for i, ev := range evs {
			if want := ids[len(ids)-1-i]; ev.LogID != want {
				t.Fatalf("event %d: got %s want %s", i, ev.LogID, want)
			}
		}
		all, err := l.Events(ctx, 0)
		if err != nil {
			t.Fatalf("Events(0) failed: %v", err)
		}
		if len(all) != 5 {
			t.Fatalf("expected all 5 events with default limit, got %d", len(all))
		}
		if all[0].Owner != owner || all[0].SeverityCode != 2 {
			t.Fatalf("unexpected event: %+v", all[0])
		}
	})

	t.Run("AccessRequestApprove", func(t *testing.T) {
		l := newLedger(t)
		id := register(t, l, "ar", 1)
		ident := Commitment("ar")

		if ok, err := l.CheckAccess(ctx, ident, id, alice); err != nil || ok {
			t.Fatalf("alice must be denied before approval (ok=%v err=%v)", ok, err)
		}
		if err := l.RequestAccess(ctx, id, alice, "quarterly audit"); err != nil {
			t.Fatalf("RequestAccess failed: %v", err)
		}
		rec, err := l.Log(ctx, id)
		if err != nil {
			t.Fatalf("Log failed: %v", err)
		}
		if len(rec.Pending) != 1 || rec.Pending[0].Requester != alice || rec.Pending[0].Reason != "quarterly audit" {
			t.Fatalf("unexpected pending: %+v", rec.Pending)
		}

		if err := l.Approve(ctx, id, alice, alice); !errors.Is(err, ledger.ErrNotOwner) {
			t.Fatalf("expected ErrNotOwner, got %v", err)
		}
		if err := l.Approve(ctx, id, owner, alice); err != nil {
			t.Fatalf("Approve failed: %v", err)
		}
		if ok, err := l.CheckAccess(ctx, ident, id, alice); err != nil || !ok {
			t.Fatalf("alice must be allowed after approval (ok=%v err=%v)", ok, err)
		}
		rec, _ = l.Log(ctx, id)
		if len(rec.Pending) != 0 {
			t.Fatalf("approved request must leave the queue: %+v", rec.Pending)
		}
		if err := l.RequestAccess(ctx, id, alice, "again"); !errors.Is(err, ledger.ErrAlreadyAllowed) {
			t.Fatalf("expected ErrAlreadyAllowed, got %v", err)
		}
		if err := l.Approve(ctx, id, owner, bob); !errors.Is(err, ledger.ErrNoRequest) {
			t.Fatalf("approving without a request: expected ErrNoRequest, got %v", err)
		}
	})

	t.Run("RepeatedRequestReplacesPending", func(t *testing.T) {
		l := newLedger(t)
		id := register(t, l, "rep", 1)
		if err := l.RequestAccess(ctx, id, bob, "first"); err != nil {
			t.Fatalf("RequestAccess failed: %v", err)
		}
		if err := l.RequestAccess(ctx, id, bob, "second"); err != nil {
			t.Fatalf("RequestAccess failed: %v", err)
		}
		rec, _ := l.Log(ctx, id)
		if len(rec.Pending) != 1 || rec.Pending[0].Reason != "second" {
			t.Fatalf("unexpected pending: %+v", rec.Pending)
		}
	})

	t.Run("Reject", func(t *testing.T) {
		l := newLedger(t)
		id := register(t, l, "rej", 1)
		if err := l.RequestAccess(ctx, id, bob, "curious"); err != nil {
			t.Fatalf("RequestAccess failed: %v", err)
		}
		if err := l.Reject(ctx, id, bob, bob, "no"); !errors.Is(err, ledger.ErrNotOwner) {
			t.Fatalf("expected ErrNotOwner, got %v", err)
		}
		if err := l.Reject(ctx, id, owner, bob, "not on the audit team"); err != nil {
			t.Fatalf("Reject failed: %v", err)
		}
		rec, _ := l.Log(ctx, id)
		if len(rec.Pending) != 0 {
			t.Fatalf("rejected request must leave the queue")
		}
		if len(rec.Rejected) != 1 || rec.Rejected[0].Reason != "not on the audit team" {
			t.Fatalf("unexpected rejections: %+v", rec.Rejected)
		}
		if ok, _ := l.CheckAccess(ctx, Commitment("rej"), id, bob); ok {
			t.Fatalf("rejected requester must stay denied")
		}
	})

	t.Run("CheckAccessBindsIdentity", func(t *testing.T) {
		l := newLedger(t)
		id := register(t, l, "bind", 1)
		if ok, err := l.CheckAccess(ctx, Commitment("bind"), id, owner); err != nil || !ok {
			t.Fatalf("owner must be allowed (ok=%v err=%v)", ok, err)
		}
		if ok, _ := l.CheckAccess(ctx, Commitment("other"), id, owner); ok {
			t.Fatalf("identity of another bundle must be denied")
		}
		if ok, err := l.CheckAccess(ctx, Commitment("bind"), "log_missing", owner); err != nil || ok {
			t.Fatalf("unknown log must be denied without error (ok=%v err=%v)", ok, err)
		}
	})

	t.Run("AddressesNormalized", func(t *testing.T) {
		l := newLedger(t)
		id := register(t, l, "norm", 1)
		if err := l.RequestAccess(ctx, id, "0X"+hexUpper(alice[2:]), "case"); err != nil {
			t.Fatalf("RequestAccess with upper-case hex failed: %v", err)
		}
		if err := l.Approve(ctx, id, owner, alice); err != nil {
			t.Fatalf("Approve failed: %v", err)
		}
	})
}

func hexUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
