package keys

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ed25519Flag is the signature-scheme flag prefixed to the public key before
// hashing it into an address.
const ed25519Flag = 0x00

// Wallet is an Ed25519 signing identity.
type Wallet struct {
	Name string
	priv ed25519.PrivateKey
}

// WalletFromSeed builds a wallet from a 32-byte seed.
func WalletFromSeed(name string, seed []byte) (*Wallet, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Wallet{Name: name, priv: ed25519.NewKeyFromSeed(seed)}, nil
}

func (w *Wallet) PublicKey() ed25519.PublicKey {
	return w.priv.Public().(ed25519.PublicKey)
}

func (w *Wallet) Address() string {
	return Address(w.PublicKey())
}

// Sign signs msg with the wallet key. It never blocks; ctx is accepted so a
// Wallet can stand in for an interactive or remote signer.
func (w *Wallet) Sign(ctx context.Context, msg []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ed25519.Sign(w.priv, msg), nil
}

// PrivateKey exposes the raw key for receipt signing.
func (w *Wallet) PrivateKey() ed25519.PrivateKey { return w.priv }

// Address returns the wallet address of an Ed25519 public key.
func Address(pub ed25519.PublicKey) string {
	buf := make([]byte, 0, 1+len(pub))
	buf = append(buf, ed25519Flag)
	buf = append(buf, pub...)
	sum := blake2b.Sum256(buf)
	return "0x" + hex.EncodeToString(sum[:])
}

// NormalizeAddress lowercases addr, adds a missing 0x prefix and checks it is
// 32 bytes of hex.
func NormalizeAddress(addr string) (string, error) {
	a := strings.ToLower(strings.TrimSpace(addr))
	a = strings.TrimPrefix(a, "0x")
	b, err := hex.DecodeString(a)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if len(b) != blake2b.Size256 {
		return "", fmt.Errorf("invalid address %q: want %d bytes", addr, blake2b.Size256)
	}
	return "0x" + a, nil
}

// EncodePublicKey renders pub as "ed25519:" + base64.
func EncodePublicKey(pub ed25519.PublicKey) (string, error) {
	if l := len(pub); l != ed25519.PublicKeySize {
		return "", fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, l)
	}
	return "ed25519:" + base64.StdEncoding.EncodeToString(pub), nil
}

func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	b64, ok := strings.CutPrefix(strings.TrimSpace(s), "ed25519:")
	if !ok {
		return nil, fmt.Errorf("public key must start with ed25519:")
	}
	b, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}
