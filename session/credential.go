// Package session issues and caches short-lived session credentials.
//
// A requester's wallet signs, once per TTL, a statement delegating to a fresh
// session key. Key servers accept requests signed by the session key while the
// credential is unexpired, so the wallet is asked to sign at most once per TTL.
package session

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"xdao.co/veritaslog/codec"
	"xdao.co/veritaslog/keys"
)

var (
	ErrExpired          = errors.New("session: credential expired")
	ErrBadSignature     = errors.New("session: invalid credential signature")
	ErrAddressMismatch  = errors.New("session: address does not match wallet key")
	ErrNamespace        = errors.New("session: credential namespace mismatch")
	ErrRequestSignature = errors.New("session: invalid request signature")
)

// Credential is the wallet-signed delegation to a session key.
type Credential struct {
	Address    string `cbor:"1,keyasint"`
	WalletKey  []byte `cbor:"2,keyasint"`
	SessionKey []byte `cbor:"3,keyasint"`
	Namespace  string `cbor:"4,keyasint"`
	CreatedAt  int64  `cbor:"5,keyasint"` // unix seconds
	TTLSeconds int64  `cbor:"6,keyasint"`
	Signature  []byte `cbor:"7,keyasint"`
}

// SigningMessage is the text the wallet signs. It is human readable so an
// interactive wallet can show it.
func (c Credential) SigningMessage() []byte {
	return []byte(fmt.Sprintf(
		"Accessing keys of namespace %s for %d mins from %s, session key %s",
		c.Namespace,
		c.TTLSeconds/60,
		time.Unix(c.CreatedAt, 0).UTC().Format(time.RFC3339),
		base64.StdEncoding.EncodeToString(c.SessionKey),
	))
}

func (c Credential) ExpiresAt() time.Time {
	return time.Unix(c.CreatedAt+c.TTLSeconds, 0)
}

func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt())
}

// Verify checks the wallet signature, the address binding and expiry at now.
func (c Credential) Verify(now time.Time) error {
	if len(c.WalletKey) != ed25519.PublicKeySize || len(c.SessionKey) != ed25519.PublicKeySize {
		return ErrBadSignature
	}
	if keys.Address(ed25519.PublicKey(c.WalletKey)) != c.Address {
		return ErrAddressMismatch
	}
	if !ed25519.Verify(ed25519.PublicKey(c.WalletKey), c.SigningMessage(), c.Signature) {
		return ErrBadSignature
	}
	if c.Expired(now) {
		return ErrExpired
	}
	return nil
}

// VerifyRequest checks sig over msg against the session key.
func (c Credential) VerifyRequest(msg, sig []byte) error {
	if len(c.SessionKey) != ed25519.PublicKeySize || !ed25519.Verify(ed25519.PublicKey(c.SessionKey), msg, sig) {
		return ErrRequestSignature
	}
	return nil
}

func (c Credential) Marshal() ([]byte, error) {
	return codec.Marshal(c)
}

func ParseCredential(b []byte) (Credential, error) {
	var c Credential
	if err := codec.Unmarshal(b, &c); err != nil {
		return Credential{}, fmt.Errorf("session: decode credential: %w", err)
	}
	return c, nil
}

// Session is a credential together with the session private key.
type Session struct {
	Credential Credential
	key        ed25519.PrivateKey
}

// SignRequest signs msg with the session key.
func (s *Session) SignRequest(msg []byte) []byte {
	return ed25519.Sign(s.key, msg)
}
