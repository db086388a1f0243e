// Package registrar runs the registration pipeline: validate a submission,
// encrypt its bundle, upload the ciphertext and record the log on the ledger.
package registrar

import (
	"context"
	"log/slog"
	"strings"

	"xdao.co/veritaslog/clock"
	"xdao.co/veritaslog/gateway"
	"xdao.co/veritaslog/ledger"
	"xdao.co/veritaslog/logbundle"
	"xdao.co/veritaslog/model"
	"xdao.co/veritaslog/uploader"
)

// AttrSealID is the blob attribute carrying the identity hex of the sealed
// bundle.
const AttrSealID = "seal_id_hex"

type Submission struct {
	Title      string
	Severity   string
	ModuleName string
	Narrative  string
	Notes      string
	// CreatedAt is unix seconds. Zero means now.
	CreatedAt int64
	// Owner overrides the registrar's default owner address.
	Owner string
}

// Result describes a registered log.
type Result struct {
	LogID         string
	BlobID        string
	CommitmentHex string
	Threshold     int
	Namespace     string
	Size          int
	Meta          logbundle.Meta
}

type Registrar struct {
	Gateway  *gateway.Gateway
	Uploader *uploader.Uploader
	// Ledger, when nil, leaves registration to the caller; Result.LogID is
	// then empty.
	Ledger ledger.Ledger
	Owner  string
	Clock  clock.Clock
	Logger *slog.Logger
}

func (r *Registrar) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Meta validates sub and returns the bundle metadata it describes.
func (r *Registrar) Meta(sub Submission) (logbundle.Meta, error) {
	if strings.TrimSpace(sub.Narrative) == "" {
		return logbundle.Meta{}, &model.Error{
			Kind:    model.KindInvalidInput,
			Code:    model.ErrNoInput,
			Message: "narrative is required",
		}
	}
	if strings.TrimSpace(sub.Title) == "" {
		return logbundle.Meta{}, model.Errorf(model.KindInvalidInput, "title is required")
	}
	if strings.TrimSpace(sub.ModuleName) == "" {
		return logbundle.Meta{}, model.Errorf(model.KindInvalidInput, "moduleName is required")
	}
	sev, err := logbundle.ParseSeverity(sub.Severity)
	if err != nil {
		return logbundle.Meta{}, model.Wrap(model.KindInvalidInput, err, "invalid severity")
	}
	if sub.CreatedAt < 0 {
		return logbundle.Meta{}, model.Errorf(model.KindInvalidInput, "createdAt must not be negative")
	}
	created := sub.CreatedAt
	if created == 0 {
		created = clock.OrReal(r.Clock).Now().Unix()
	}
	return logbundle.Meta{
		Title:      sub.Title,
		Severity:   sev,
		ModuleName: sub.ModuleName,
		Notes:      sub.Notes,
		CreatedAt:  created,
	}, nil
}

func (r *Registrar) owner(sub Submission) (string, error) {
	owner := sub.Owner
	if owner == "" {
		owner = r.Owner
	}
	if owner == "" {
		return "", model.Errorf(model.KindInvalidInput, "an owner address is required")
	}
	addr, err := ledger.Address(owner)
	if err != nil {
		return "", model.Wrap(model.KindInvalidInput, err, "invalid owner")
	}
	return addr, nil
}

// Register runs the pipeline. Every failure is a *model.Error; input problems
// are reported before any external call.
func (r *Registrar) Register(ctx context.Context, sub Submission) (Result, error) {
	meta, err := r.Meta(sub)
	if err != nil {
		return Result{}, err
	}
	var owner string
	if r.Ledger != nil {
		if owner, err = r.owner(sub); err != nil {
			return Result{}, err
		}
	}

	art, err := r.Gateway.EncryptBundle(ctx, meta, sub.Narrative)
	if err != nil {
		return Result{}, err
	}
	log := r.logger().With("identity", art.IdentityHex)

	blobID, err := r.Uploader.Upload(ctx, art.Ciphertext, map[string]string{AttrSealID: art.IdentityHex})
	if err != nil {
		log.Error("upload failed", "err", err)
		return Result{}, model.Wrap(model.KindUploadFailure, err, "upload failed")
	}
	res := Result{
		BlobID:        blobID,
		CommitmentHex: art.IdentityHex,
		Threshold:     art.Threshold,
		Namespace:     art.Namespace,
		Size:          len(art.Ciphertext),
		Meta:          meta,
	}
	if r.Ledger == nil {
		log.Info("log uploaded", "blob", blobID)
		return res, nil
	}

	rec, err := r.Ledger.RegisterLog(ctx, ledger.Registration{
		BlobID:        blobID,
		CommitmentHex: art.IdentityHex,
		Severity:      meta.Severity,
		Owner:         owner,
		CreatedAt:     meta.CreatedAt,
	})
	if err != nil {
		log.Error("ledger registration failed", "blob", blobID, "err", err)
		return res, model.Wrap(model.KindInternal, err, "ledger registration failed")
	}
	res.LogID = rec.ID
	log.Info("log registered", "log", rec.ID, "blob", blobID)
	return res, nil
}
