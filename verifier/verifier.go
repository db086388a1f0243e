// Package verifier recomputes a log's commitment from content and compares it
// with the commitment recorded on the ledger.
package verifier

import (
	"context"
	"fmt"
	"log/slog"

	"xdao.co/veritaslog/commitment"
	"xdao.co/veritaslog/compliance"
	"xdao.co/veritaslog/ledger"
	"xdao.co/veritaslog/logbundle"
	"xdao.co/veritaslog/model"
	"xdao.co/veritaslog/session"
)

// DefaultDetailPrefix is the number of hex characters Detail shows.
const DefaultDetailPrefix = 16

type Mode string

const (
	ModeAuto          Mode = "auto"
	ModeUploadCompare Mode = "upload-compare"
)

// Result is the outcome of one comparison. A mismatch is a Result, not an
// error.
type Result struct {
	Match    bool
	Expected commitment.Commitment
	Computed commitment.Commitment
	Mode     Mode
	LogID    string
	// Bundle is the rebuilt bundle that was hashed.
	Bundle logbundle.Bundle
}

// Detail renders the leading n hex characters of both digests.
func (r Result) Detail(n int) string {
	if n <= 0 {
		n = DefaultDetailPrefix
	}
	return fmt.Sprintf("Expected: %s…\nGot: %s…", r.Expected.Prefix(n), r.Computed.Prefix(n))
}

// LogReader is the ledger surface the verifier reads.
type LogReader interface {
	Log(ctx context.Context, id string) (model.LogRecord, error)
}

// Opener decrypts a stored log for a requester.
type Opener interface {
	Decrypt(ctx context.Context, blobRef, logID string, signer session.Signer) (logbundle.Bundle, []byte, error)
}

type Verifier struct {
	Ledger    LogReader
	Decryptor Opener
	// Mode is the canonicalization applied when rebuilding bundles.
	Mode   compliance.ComplianceMode
	Logger *slog.Logger
}

func (v *Verifier) logger() *slog.Logger {
	if v.Logger == nil {
		return slog.Default()
	}
	return v.Logger
}

// Auto decrypts logID as signer and checks the content against the ledger.
func (v *Verifier) Auto(ctx context.Context, logID string, signer session.Signer) (Result, error) {
	rec, expected, err := v.record(ctx, logID)
	if err != nil {
		return Result{}, err
	}
	decrypted, _, err := v.Decryptor.Decrypt(ctx, rec.BlobID, logID, signer)
	if err != nil {
		return Result{}, err
	}
	rebuilt := decrypted.Recanonicalize(v.Mode)
	computed, _, err := commitment.Of(rebuilt)
	if err != nil {
		return Result{}, model.Wrap(model.KindInternal, err, "serialize bundle")
	}
	res := Result{
		Match:    computed.Equal(expected),
		Expected: expected,
		Computed: computed,
		Mode:     ModeAuto,
		LogID:    logID,
		Bundle:   rebuilt,
	}
	v.report(res)
	return res, nil
}

// UploadCompare rebuilds a bundle from meta and candidateText and compares its
// commitment with expected. meta normally comes from an earlier decrypt.
func (v *Verifier) UploadCompare(meta logbundle.Meta, candidateText string, expected commitment.Commitment) (Result, error) {
	rebuilt := logbundle.Build(meta, candidateText, v.Mode)
	computed, _, err := commitment.Of(rebuilt)
	if err != nil {
		return Result{}, model.Wrap(model.KindInternal, err, "serialize bundle")
	}
	res := Result{
		Match:    computed.Equal(expected),
		Expected: expected,
		Computed: computed,
		Mode:     ModeUploadCompare,
		Bundle:   rebuilt,
	}
	v.report(res)
	return res, nil
}

// CompareLog runs UploadCompare against the commitment recorded for logID.
func (v *Verifier) CompareLog(ctx context.Context, logID string, meta logbundle.Meta, candidateText string) (Result, error) {
	_, expected, err := v.record(ctx, logID)
	if err != nil {
		return Result{}, err
	}
	res, err := v.UploadCompare(meta, candidateText, expected)
	res.LogID = logID
	return res, err
}

func (v *Verifier) record(ctx context.Context, logID string) (model.LogRecord, commitment.Commitment, error) {
	if v.Ledger == nil {
		return model.LogRecord{}, commitment.Commitment{}, model.Errorf(model.KindInternal, "verifier has no ledger")
	}
	rec, err := v.Ledger.Log(ctx, logID)
	if err != nil {
		return model.LogRecord{}, commitment.Commitment{}, ledger.ToModel(err)
	}
	expected, err := commitment.Parse(rec.CommitmentHex)
	if err != nil {
		return model.LogRecord{}, commitment.Commitment{}, model.Wrap(model.KindInternal, err, "ledger commitment is malformed")
	}
	return rec, expected, nil
}

func (v *Verifier) report(res Result) {
	if res.Match {
		v.logger().Info("commitment verified", "mode", res.Mode, "log", res.LogID, "commitment", res.Computed.Hex())
		return
	}
	v.logger().Warn("commitment mismatch", "mode", res.Mode, "log", res.LogID,
		"expected", res.Expected.Hex(), "computed", res.Computed.Hex())
}
