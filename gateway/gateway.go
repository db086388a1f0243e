// Package gateway turns submitted log text into an encrypted artifact bound to
// the commitment of its bundle.
package gateway

import (
	"context"
	"errors"
	"log/slog"

	"xdao.co/veritaslog/commitment"
	"xdao.co/veritaslog/compliance"
	"xdao.co/veritaslog/logbundle"
	"xdao.co/veritaslog/model"
	"xdao.co/veritaslog/threshold"
)

const (
	DefaultThreshold        = 2
	DefaultMaxArtifactBytes = 10 * 1024 * 1024
	DefaultNamespace        = "veritaslog"
)

// Artifact is an encrypted bundle ready for upload.
type Artifact struct {
	Ciphertext  []byte
	IdentityHex string
	Threshold   int
	Namespace   string

	// Commitment and Bundle describe the plaintext that was sealed. They stay
	// with the caller and are never uploaded.
	Commitment commitment.Commitment
	Bundle     logbundle.Bundle
}

// Gateway canonicalizes, commits and encrypts log submissions.
type Gateway struct {
	Encrypter        threshold.Encrypter
	Namespace        string
	Threshold        int
	MaxArtifactBytes int
	Mode             compliance.ComplianceMode
	Logger           *slog.Logger
}

func New(enc threshold.Encrypter) *Gateway {
	return &Gateway{
		Encrypter:        enc,
		Namespace:        DefaultNamespace,
		Threshold:        DefaultThreshold,
		MaxArtifactBytes: DefaultMaxArtifactBytes,
	}
}

// EffectiveThreshold is the configured threshold raised to at least 1.
func (g *Gateway) EffectiveThreshold() int {
	return max(g.Threshold, 1)
}

func (g *Gateway) limit() int {
	if g.MaxArtifactBytes <= 0 {
		return DefaultMaxArtifactBytes
	}
	return g.MaxArtifactBytes
}

func (g *Gateway) namespace() string {
	if g.Namespace == "" {
		return DefaultNamespace
	}
	return g.Namespace
}

func (g *Gateway) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

// EncryptBundle builds the bundle for meta and text, derives its commitment
// and seals it under that identity.
//
// Errors are *model.Error: EncryptionFailure wraps the encrypter's error;
// OversizeArtifact carries the ciphertext size.
func (g *Gateway) EncryptBundle(ctx context.Context, meta logbundle.Meta, text string) (Artifact, error) {
	if g.Encrypter == nil {
		return Artifact{}, model.Wrap(model.KindEncryptionFailure, errors.New("no encrypter configured"), "encryption failed")
	}
	bundle := logbundle.Build(meta, text, g.Mode)
	c, plaintext, err := commitment.Of(bundle)
	if err != nil {
		return Artifact{}, model.Wrap(model.KindInternal, err, "serialize bundle")
	}

	t := g.EffectiveThreshold()
	req := threshold.EncryptRequest{
		Threshold:   t,
		Namespace:   g.namespace(),
		IdentityHex: c.Hex(),
		Plaintext:   plaintext,
	}
	ciphertext, err := g.Encrypter.Encrypt(ctx, req)
	if err != nil {
		return Artifact{}, model.Wrap(model.KindEncryptionFailure, err, "encryption failed")
	}
	if limit := g.limit(); len(ciphertext) > limit {
		g.logger().Warn("artifact over size limit", "size", len(ciphertext), "limit", limit, "identity", c.Hex())
		return Artifact{}, model.Oversize(len(ciphertext), limit)
	}
	g.logger().Debug("bundle encrypted", "identity", c.Hex(), "threshold", t, "size", len(ciphertext), "kind", bundle.Payload.Kind)
	return Artifact{
		Ciphertext:  ciphertext,
		IdentityHex: c.Hex(),
		Threshold:   t,
		Namespace:   req.Namespace,
		Commitment:  c,
		Bundle:      bundle,
	}, nil
}
