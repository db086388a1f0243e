// Package uploader stores sealed artifacts in a blob store with bounded,
// exponentially backed-off retries.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"xdao.co/veritaslog/clock"
	"xdao.co/veritaslog/storage"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
	DefaultTimeout     = 120 * time.Second
	DefaultEpochs      = 1
)

// RetryPolicy controls how many times a Put is attempted and how long to wait
// between attempts. The wait before attempt k+1 is BaseDelay * 2^(k-1).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Delay returns the wait after failed attempt number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay << (attempt - 1)
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Uploader puts ciphertext into Store.
type Uploader struct {
	Store  storage.BlobStore
	Policy RetryPolicy
	Clock  clock.Clock
	Logger *slog.Logger

	// Retention and payer passed through to the backend on every attempt.
	Epochs    int
	Deletable bool
	Signer    string

	// Timeout bounds each attempt. Zero disables the per-attempt bound.
	Timeout time.Duration
}

// New returns an Uploader with the default policy, one epoch of retention,
// deletable blobs, and a 120s per-attempt timeout.
func New(store storage.BlobStore) *Uploader {
	return &Uploader{
		Store:     store,
		Policy:    DefaultRetryPolicy(),
		Epochs:    DefaultEpochs,
		Deletable: true,
		Timeout:   DefaultTimeout,
	}
}

// Upload stores ciphertext and returns the backend's blob reference.
//
// The same slice is sent on every attempt. When all attempts fail, the last
// backend error is returned as is. Context cancellation during a backoff wait
// returns the context error.
func (u *Uploader) Upload(ctx context.Context, ciphertext []byte, attributes map[string]string) (string, error) {
	if u.Store == nil {
		return "", errors.New("uploader: no blob store")
	}
	clk := clock.OrReal(u.Clock)
	log := u.logger()
	opts := storage.PutOptions{
		Epochs:     u.Epochs,
		Deletable:  u.Deletable,
		Signer:     u.Signer,
		Attributes: storage.CopyAttributes(attributes),
	}

	limit := u.Policy.attempts()
	var lastErr error
	for attempt := 1; attempt <= limit; attempt++ {
		ref, err := u.put(ctx, ciphertext, opts)
		if err == nil {
			if attempt > 1 {
				log.Info("upload succeeded after retry", "attempt", attempt, "ref", ref)
			}
			return ref, nil
		}
		lastErr = err
		if attempt == limit {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		delay := u.Policy.Delay(attempt)
		log.Warn("upload attempt failed; retrying",
			"attempt", attempt, "max_attempts", limit, "delay", delay, "bytes", len(ciphertext), "err", err)
		select {
		case <-clk.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	log.Error("upload failed", "attempts", limit, "err", lastErr)
	return "", lastErr
}

func (u *Uploader) put(ctx context.Context, data []byte, opts storage.PutOptions) (string, error) {
	if u.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.Timeout)
		defer cancel()
	}
	ref, err := u.Store.Put(ctx, data, opts)
	if err != nil {
		return "", err
	}
	if ref == "" {
		return "", fmt.Errorf("uploader: backend returned empty reference")
	}
	return ref, nil
}

func (u *Uploader) logger() *slog.Logger {
	if u.Logger == nil {
		return slog.Default()
	}
	return u.Logger
}
