package keys

import (
	"crypto/ed25519"
	"strings"
	"testing"
)

func testRoot() []byte {
	root := make([]byte, ed25519.SeedSize)
	for i := range root {
		root[i] = byte(i)
	}
	return root
}

func TestDeriveSeedDeterministic(t *testing.T) {
	root := testRoot()

	a, err := DeriveWalletSeed(root, "auditor")
	if err != nil {
		t.Fatalf("DeriveWalletSeed: %v", err)
	}
	b, err := DeriveWalletSeed(root, "auditor")
	if err != nil {
		t.Fatalf("DeriveWalletSeed: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected deterministic derivation")
	}

	c, err := DeriveWalletSeed(root, "admin")
	if err != nil {
		t.Fatalf("DeriveWalletSeed: %v", err)
	}
	if string(a) == string(c) {
		t.Fatalf("expected different labels to derive different seeds")
	}

	ks, err := KeyServerSeed(root, "auditor")
	if err != nil {
		t.Fatalf("KeyServerSeed: %v", err)
	}
	if string(ks) == string(a) {
		t.Fatalf("expected purposes to be domain separated")
	}
}

func TestDeriveSeedRejects(t *testing.T) {
	if _, err := DeriveWalletSeed([]byte("short"), "x"); err == nil {
		t.Fatalf("expected short root error")
	}
	if _, err := DeriveWalletSeed(testRoot(), "bad/label"); err == nil {
		t.Fatalf("expected label error")
	}
	if _, err := DeriveSeed(testRoot(), "", "x"); err == nil {
		t.Fatalf("expected empty purpose error")
	}
}

func TestAddressFormat(t *testing.T) {
	w, err := WalletFromSeed("w", testRoot())
	if err != nil {
		t.Fatalf("WalletFromSeed: %v", err)
	}
	addr := w.Address()
	if !strings.HasPrefix(addr, "0x") || len(addr) != 66 {
		t.Fatalf("unexpected address %q", addr)
	}
	norm, err := NormalizeAddress(strings.ToUpper(strings.TrimPrefix(addr, "0x")))
	if err != nil || norm != addr {
		t.Fatalf("NormalizeAddress = %q, %v", norm, err)
	}
	if _, err := NormalizeAddress("0x1234"); err == nil {
		t.Fatalf("expected short address error")
	}

	enc, err := EncodePublicKey(w.PublicKey())
	if err != nil {
		t.Fatalf("EncodePublicKey: %v", err)
	}
	pub, err := ParsePublicKey(enc)
	if err != nil || !pub.Equal(w.PublicKey()) {
		t.Fatalf("ParsePublicKey round trip failed: %v", err)
	}
}
