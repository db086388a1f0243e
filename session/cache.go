package session

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"xdao.co/veritaslog/clock"
)

const (
	DefaultTTL         = 10 * time.Minute
	DefaultSignTimeout = 2 * time.Minute
)

// Signer is a requester wallet. Sign may block on user interaction.
type Signer interface {
	Address() string
	PublicKey() ed25519.PublicKey
	Sign(ctx context.Context, msg []byte) ([]byte, error)
}

// Cache holds at most one live session per requester address.
//
// Concurrent misses for the same address may each ask the signer; the last
// one to finish replaces the cached entry.
type Cache struct {
	Namespace   string
	TTL         time.Duration
	SignTimeout time.Duration
	Clock       clock.Clock
	Rand        io.Reader
	Logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewCache(namespace string) *Cache {
	return &Cache{Namespace: namespace, TTL: DefaultTTL, SignTimeout: DefaultSignTimeout}
}

// Credential returns a live session for signer's address, creating one when
// none is cached or the cached one has expired.
func (c *Cache) Credential(ctx context.Context, signer Signer) (*Session, error) {
	if signer == nil {
		return nil, errors.New("session: nil signer")
	}
	addr := signer.Address()
	now := clock.OrReal(c.Clock).Now()

	c.mu.Lock()
	if s, ok := c.sessions[addr]; ok && !s.Credential.Expired(now) {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	s, err := c.create(ctx, signer, now)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.sessions == nil {
		c.sessions = make(map[string]*Session)
	}
	c.sessions[addr] = s
	c.mu.Unlock()

	c.logger().Debug("session created", "address", addr, "expires_at", s.Credential.ExpiresAt())
	return s, nil
}

// Invalidate drops the cached session for addr.
func (c *Cache) Invalidate(addr string) {
	c.mu.Lock()
	delete(c.sessions, addr)
	c.mu.Unlock()
}

func (c *Cache) create(ctx context.Context, signer Signer, now time.Time) (*Session, error) {
	rnd := c.Rand
	if rnd == nil {
		rnd = rand.Reader
	}
	pub, priv, err := ed25519.GenerateKey(rnd)
	if err != nil {
		return nil, fmt.Errorf("session: generate session key: %w", err)
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cred := Credential{
		Address:    signer.Address(),
		WalletKey:  append([]byte(nil), signer.PublicKey()...),
		SessionKey: append([]byte(nil), pub...),
		Namespace:  c.Namespace,
		CreatedAt:  now.Unix(),
		TTLSeconds: int64(ttl / time.Second),
	}

	timeout := c.SignTimeout
	if timeout <= 0 {
		timeout = DefaultSignTimeout
	}
	signCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	sig, err := signer.Sign(signCtx, cred.SigningMessage())
	if err != nil {
		if errors.Is(signCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("session: wallet did not sign within %s: %w", timeout, err)
		}
		return nil, fmt.Errorf("session: wallet signature: %w", err)
	}
	cred.Signature = sig
	return &Session{Credential: cred, key: priv}, nil
}

func (c *Cache) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
