package keys

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// KeyStore keeps wallet seeds on the local filesystem:
//
//	<Directory>/<name>/wallet.key
//	<Directory>/<name>/derived/<label>.key
//
// With a Passphrase, new seed files are age-encrypted (scrypt recipient,
// ASCII armored). Loading detects the format, so stores may mix both.
type KeyStore struct {
	Directory  string
	Passphrase string

	// ScryptWorkFactor overrides age's default scrypt cost (log2 N) when > 0.
	ScryptWorkFactor int
}

type Entry struct {
	Name    string
	Address string
	Sealed  bool
	Derived []string
}

func DefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".veritaslog", "wallets"), nil
}

func OpenKeyStore(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		directory, err = DefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &KeyStore{Directory: directory}, nil
}

func (ks *KeyStore) walletPath(name string) string {
	return filepath.Join(ks.Directory, name, "wallet.key")
}

func (ks *KeyStore) derivedPath(name, label string) string {
	return filepath.Join(ks.Directory, name, "derived", label+".key")
}

func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	seedHex = strings.TrimPrefix(seedHex, "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) != ed25519.SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", ed25519.SeedSize, len(data))
	}
	return data, nil
}

func (ks *KeyStore) seal(seed []byte) ([]byte, error) {
	plain := []byte(hex.EncodeToString(seed) + "\n")
	if ks.Passphrase == "" {
		return plain, nil
	}
	recipient, err := age.NewScryptRecipient(ks.Passphrase)
	if err != nil {
		return nil, err
	}
	if ks.ScryptWorkFactor > 0 {
		recipient.SetWorkFactor(ks.ScryptWorkFactor)
	}
	var buf bytes.Buffer
	aw := armor.NewWriter(&buf)
	w, err := age.Encrypt(aw, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	if err := aw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isSealed(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte(armor.Header))
}

func (ks *KeyStore) unseal(data []byte) ([]byte, error) {
	if !isSealed(data) {
		return ParseSeedHex(string(data))
	}
	if ks.Passphrase == "" {
		return nil, errors.New("seed file is passphrase protected; no passphrase given")
	}
	identity, err := age.NewScryptIdentity(ks.Passphrase)
	if err != nil {
		return nil, err
	}
	r, err := age.Decrypt(armor.NewReader(bytes.NewReader(data)), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting seed: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseSeedHex(string(plain))
}

func (ks *KeyStore) saveSeed(filePath string, seed []byte, overwrite bool) error {
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("expected seed length of %d bytes", ed25519.SeedSize)
	}
	content, err := ks.seal(seed)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(filePath, flags, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.Write(content); err != nil {
		return err
	}
	return file.Close()
}

func (ks *KeyStore) loadSeed(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return ks.unseal(data)
}

// InitWallet stores seed as wallet name.
func (ks *KeyStore) InitWallet(name string, seed []byte, overwrite bool) (*Wallet, string, error) {
	if err := CheckName(name); err != nil {
		return nil, "", err
	}
	w, err := WalletFromSeed(name, seed)
	if err != nil {
		return nil, "", err
	}
	filePath := ks.walletPath(name)
	if err := ks.saveSeed(filePath, seed, overwrite); err != nil {
		return nil, "", err
	}
	return w, filePath, nil
}

// DeriveWallet derives subkey label from wallet from and stores it.
func (ks *KeyStore) DeriveWallet(from, label string, overwrite bool) (*Wallet, string, error) {
	if err := CheckName(from); err != nil {
		return nil, "", err
	}
	root, err := ks.loadSeed(ks.walletPath(from))
	if err != nil {
		return nil, "", err
	}
	seed, err := DeriveWalletSeed(root, label)
	if err != nil {
		return nil, "", err
	}
	filePath := ks.derivedPath(from, label)
	if err := ks.saveSeed(filePath, seed, overwrite); err != nil {
		return nil, "", err
	}
	w, err := WalletFromSeed(from+"/"+label, seed)
	return w, filePath, err
}

// Load opens wallet name, or its derived subkey label when label is non-empty.
func (ks *KeyStore) Load(name, label string) (*Wallet, error) {
	if err := CheckName(name); err != nil {
		return nil, err
	}
	path, display := ks.walletPath(name), name
	if label != "" {
		if err := CheckName(label); err != nil {
			return nil, err
		}
		path, display = ks.derivedPath(name, label), name+"/"+label
	}
	seed, err := ks.loadSeed(path)
	if err != nil {
		return nil, err
	}
	return WalletFromSeed(display, seed)
}

// Resolve picks a wallet from, in order: a hex seed, a key file, or a stored
// wallet name (with optional derived label).
func (ks *KeyStore) Resolve(seedHex, keyFile, name, label string) (*Wallet, error) {
	switch {
	case seedHex != "":
		seed, err := ParseSeedHex(seedHex)
		if err != nil {
			return nil, err
		}
		return WalletFromSeed("seed", seed)
	case keyFile != "":
		seed, err := ks.loadSeed(keyFile)
		if err != nil {
			return nil, err
		}
		return WalletFromSeed(filepath.Base(keyFile), seed)
	case name != "":
		return ks.Load(name, label)
	default:
		return nil, errors.New("no wallet provided")
	}
}

// List returns stored wallets sorted by name. Sealed wallets report an empty
// Address when the store has no passphrase.
func (ks *KeyStore) List() ([]Entry, error) {
	entries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var result []Entry
	for _, name := range names {
		data, err := os.ReadFile(ks.walletPath(name))
		if err != nil {
			continue
		}
		e := Entry{Name: name, Sealed: isSealed(data)}
		if !e.Sealed || ks.Passphrase != "" {
			if seed, err := ks.unseal(data); err == nil {
				w, _ := WalletFromSeed(name, seed)
				e.Address = w.Address()
			}
		}
		derived, _ := os.ReadDir(filepath.Join(ks.Directory, name, "derived"))
		for _, d := range derived {
			if !d.IsDir() && strings.HasSuffix(d.Name(), ".key") {
				e.Derived = append(e.Derived, strings.TrimSuffix(d.Name(), ".key"))
			}
		}
		sort.Strings(e.Derived)
		result = append(result, e)
	}
	return result, nil
}
