package keys

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

const deriveContextPrefix = "veritaslog keys v1 "

// Derivation purposes. Each gets its own BLAKE3 derive-key context so seeds
// derived for one purpose never collide with another.
const (
	PurposeWallet    = "wallet"
	PurposeKeyServer = "keyserver"
)

// DeriveSeed deterministically derives a 32-byte seed from root for purpose
// and label.
func DeriveSeed(root []byte, purpose, label string) ([]byte, error) {
	if len(root) != ed25519.SeedSize {
		return nil, fmt.Errorf("root seed must be %d bytes", ed25519.SeedSize)
	}
	if purpose == "" {
		return nil, errors.New("derivation purpose cannot be empty")
	}
	if err := CheckName(label); err != nil {
		return nil, err
	}
	material := make([]byte, 0, len(root)+1+len(label))
	material = append(material, root...)
	material = append(material, 0)
	material = append(material, label...)

	out := make([]byte, ed25519.SeedSize)
	blake3.DeriveKey(deriveContextPrefix+purpose, material, out)
	return out, nil
}

// DeriveWalletSeed derives the seed of wallet subkey label.
func DeriveWalletSeed(root []byte, label string) ([]byte, error) {
	return DeriveSeed(root, PurposeWallet, label)
}

// KeyServerSeed derives the seed of key server id from a committee master seed.
func KeyServerSeed(master []byte, id string) ([]byte, error) {
	return DeriveSeed(master, PurposeKeyServer, id)
}

// CheckName validates wallet names, derivation labels and key-server ids.
func CheckName(name string) error {
	if name == "" {
		return errors.New("name cannot be empty")
	}
	for _, char := range name {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in name", char)
	}
	return nil
}
