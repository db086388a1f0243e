// Package decryptor fetches an encrypted log and opens it through the key
// servers on behalf of a requester wallet.
package decryptor

import (
	"context"
	"errors"
	"log/slog"

	"xdao.co/veritaslog/ledger"
	"xdao.co/veritaslog/logbundle"
	"xdao.co/veritaslog/model"
	"xdao.co/veritaslog/session"
	"xdao.co/veritaslog/storage"
	"xdao.co/veritaslog/threshold"
)

// ProofBuilder produces the policy proof presented to key servers.
type ProofBuilder interface {
	BuildProof(ctx context.Context, identityHex, logID, requester string) ([]byte, error)
}

type Decryptor struct {
	Store     storage.BlobStore
	Proofs    ProofBuilder
	Sessions  *session.Cache
	Decrypter threshold.Decrypter
	Logger    *slog.Logger
}

func (d *Decryptor) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Decrypt returns the bundle stored at blobRef and its plaintext bytes.
//
// Failures are *model.Error: DownloadFailure for the blob fetch,
// AccessDenied when the key servers withhold their shares, DecryptionFailure
// for everything between the downloaded bytes and a decoded bundle.
func (d *Decryptor) Decrypt(ctx context.Context, blobRef, logID string, signer session.Signer) (logbundle.Bundle, []byte, error) {
	if signer == nil {
		return logbundle.Bundle{}, nil, model.Errorf(model.KindInvalidInput, "a requester wallet is required")
	}
	log := d.logger().With("blob", blobRef, "log", logID, "requester", signer.Address())

	ciphertext, err := d.Store.Get(ctx, blobRef)
	if err != nil {
		log.Warn("download failed", "err", err)
		return logbundle.Bundle{}, nil, model.Wrap(model.KindDownloadFailure, err, "download failed")
	}

	env, err := threshold.ParseEnvelope(ciphertext)
	if err != nil {
		return logbundle.Bundle{}, nil, model.Wrap(model.KindDecryptionFailure, err, "not a sealed log")
	}

	proof, err := d.Proofs.BuildProof(ctx, env.IdentityHex, logID, signer.Address())
	if err != nil {
		return logbundle.Bundle{}, nil, proofError(err)
	}

	sess, err := d.Sessions.Credential(ctx, signer)
	if err != nil {
		return logbundle.Bundle{}, nil, model.Wrap(model.KindDecryptionFailure, err, "session credential")
	}

	plaintext, err := d.Decrypter.Decrypt(ctx, env, sess, proof)
	if err != nil {
		if errors.Is(err, session.ErrExpired) {
			d.Sessions.Invalidate(signer.Address())
		}
		if errors.Is(err, threshold.ErrAccessDenied) {
			log.Info("access denied")
			return logbundle.Bundle{}, nil, model.Wrap(model.KindAccessDenied, err, "access denied")
		}
		return logbundle.Bundle{}, nil, model.Wrap(model.KindDecryptionFailure, err, "decryption failed")
	}

	b, err := logbundle.Unmarshal(plaintext)
	if err != nil {
		return logbundle.Bundle{}, nil, model.Wrap(model.KindDecryptionFailure, err, "decrypted data is not a log bundle")
	}
	log.Debug("log decrypted", "identity", env.IdentityHex)
	return b, plaintext, nil
}

// proofError classifies a proof failure. A log whose commitment does not
// match the envelope is an access failure, as the key servers would deny it.
func proofError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return model.Wrap(model.KindNotFound, err, "log not found")
	case errors.Is(err, ledger.ErrIdentityMismatch):
		return model.Wrap(model.KindAccessDenied, err, "access denied")
	case errors.Is(err, ledger.ErrInvalid):
		return model.Wrap(model.KindInvalidInput, err, "invalid requester")
	default:
		return model.Wrap(model.KindDecryptionFailure, err, "policy proof")
	}
}
