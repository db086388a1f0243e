package threshold

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"xdao.co/veritaslog/clock"
	"xdao.co/veritaslog/keys"
	"xdao.co/veritaslog/session"
)

const (
	testNamespace = "veritaslog-test"
	testIdentity  = "43c95a96a9ae8182dbe6277fadc58ebf1499d1255f7e8af059a4b6b9a886f368"
	testLogID     = "log-1"
)

// staticChecker allows exactly the requesters in allowed.
type staticChecker struct {
	allowed map[string]bool
	err     error
}

func (c staticChecker) CheckAccess(_ context.Context, identityHex, logID, requester string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return identityHex == testIdentity && logID == testLogID && c.allowed[requester], nil
}

func testWallet(t *testing.T, b byte) *keys.Wallet {
	t.Helper()
	seed := bytes.Repeat([]byte{b}, ed25519.SeedSize)
	w, err := keys.WalletFromSeed("w", seed)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func testSession(t *testing.T, w *keys.Wallet, clk clock.Clock) *session.Session {
	t.Helper()
	c := session.NewCache(testNamespace)
	c.Clock = clk
	s, err := c.Credential(context.Background(), w)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func testProof(t *testing.T, requester string) []byte {
	t.Helper()
	b, err := PolicyProof{Namespace: testNamespace, IdentityHex: testIdentity, LogID: testLogID, Requester: requester, IssuedAt: 1}.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func newCommittee(t *testing.T, checker AccessChecker) (*Committee, []*KeyServer) {
	t.Helper()
	master := bytes.Repeat([]byte{7}, 32)
	c, servers, err := NewLocalCommittee(master, []string{"ks-1", "ks-2", "ks-3"}, checker)
	if err != nil {
		t.Fatalf("NewLocalCommittee: %v", err)
	}
	return c, servers
}

func seal(t *testing.T, c *Committee, threshold int, plaintext []byte) []byte {
	t.Helper()
	ct, err := c.Encrypt(context.Background(), EncryptRequest{
		Threshold:   threshold,
		Namespace:   testNamespace,
		IdentityHex: testIdentity,
		Plaintext:   plaintext,
	})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return ct
}

func TestRoundTrip(t *testing.T) {
	owner := testWallet(t, 1)
	c, _ := newCommittee(t, staticChecker{allowed: map[string]bool{owner.Address(): true}})
	plaintext := []byte(`{"v":1,"meta":{},"payload":{}}`)
	ct := seal(t, c, 2, plaintext)

	env, err := ParseEnvelope(ct)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.IdentityHex != testIdentity || env.Namespace != testNamespace || env.Threshold != 2 {
		t.Fatalf("unexpected envelope header: %+v", env)
	}
	if got := env.ServerIDs(); len(got) != 3 || got[0] != "ks-1" {
		t.Fatalf("unexpected slots: %v", got)
	}
	if bytes.Contains(ct, plaintext) {
		t.Fatalf("plaintext visible in ciphertext")
	}

	sess := testSession(t, owner, nil)
	got, err := c.Decrypt(context.Background(), env, sess, testProof(t, owner.Address()))
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("plaintext mismatch")
	}
}

func TestDecrypt_ToleratesMissingServer(t *testing.T) {
	owner := testWallet(t, 1)
	c, _ := newCommittee(t, staticChecker{allowed: map[string]bool{owner.Address(): true}})
	env, err := ParseEnvelope(seal(t, c, 2, []byte("payload")))
	if err != nil {
		t.Fatal(err)
	}
	delete(c.Openers, "ks-1")

	got, err := c.Decrypt(context.Background(), env, testSession(t, owner, nil), testProof(t, owner.Address()))
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("plaintext mismatch")
	}

	delete(c.Openers, "ks-2")
	_, err = c.Decrypt(context.Background(), env, testSession(t, owner, nil), testProof(t, owner.Address()))
	if !errors.Is(err, ErrInsufficientShares) || errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
}

func TestDecrypt_AccessDenied(t *testing.T) {
	owner, stranger := testWallet(t, 1), testWallet(t, 2)
	c, _ := newCommittee(t, staticChecker{allowed: map[string]bool{owner.Address(): true}})
	env, err := ParseEnvelope(seal(t, c, 2, []byte("secret")))
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Decrypt(context.Background(), env, testSession(t, stranger, nil), testProof(t, stranger.Address()))
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestDecrypt_CheckerErrorIsNotDenial(t *testing.T) {
	owner := testWallet(t, 1)
	c, _ := newCommittee(t, staticChecker{err: errors.New("ledger unreachable")})
	env, err := ParseEnvelope(seal(t, c, 2, []byte("secret")))
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Decrypt(context.Background(), env, testSession(t, owner, nil), testProof(t, owner.Address()))
	if err == nil || errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected a non-denial failure, got %v", err)
	}
}

func TestKeyServer_RejectsUnboundProof(t *testing.T) {
	owner, other := testWallet(t, 1), testWallet(t, 2)
	c, servers := newCommittee(t, staticChecker{allowed: map[string]bool{owner.Address(): true, other.Address(): true}})
	env, err := ParseEnvelope(seal(t, c, 1, []byte("secret")))
	if err != nil {
		t.Fatal(err)
	}
	sess := testSession(t, owner, nil)
	cred, _ := sess.Credential.Marshal()
	req := ShareRequest{
		Namespace:   env.Namespace,
		IdentityHex: env.IdentityHex,
		Slot:        env.Slots[0],
		Credential:  cred,
		Proof:       testProof(t, other.Address()),
		ResponseKey: servers[0].Info().PublicKey,
	}
	msg, _ := req.SigningMessage()
	req.Signature = sess.SignRequest(msg)

	if _, err := servers[0].OpenShare(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for proof bound to another requester, got %v", err)
	}

	req.Proof = testProof(t, owner.Address())
	if _, err := servers[0].OpenShare(context.Background(), req); !errors.Is(err, session.ErrRequestSignature) {
		t.Fatalf("expected request signature failure after changing proof, got %v", err)
	}

	if _, err := servers[1].OpenShare(context.Background(), req); !errors.Is(err, ErrUnknownServer) {
		t.Fatalf("expected ErrUnknownServer for a slot of another server, got %v", err)
	}
}

func TestKeyServer_RejectsExpiredCredential(t *testing.T) {
	owner := testWallet(t, 1)
	start := time.Unix(1700000000, 0)
	clk := clock.NewFake(start)
	c, servers := newCommittee(t, staticChecker{allowed: map[string]bool{owner.Address(): true}})
	for _, s := range servers {
		s.Clock = clk
	}
	env, err := ParseEnvelope(seal(t, c, 2, []byte("secret")))
	if err != nil {
		t.Fatal(err)
	}
	sess := testSession(t, owner, clk)
	clk.Advance(session.DefaultTTL + time.Second)

	_, err = c.Decrypt(context.Background(), env, sess, testProof(t, owner.Address()))
	if !errors.Is(err, session.ErrExpired) {
		t.Fatalf("expected ErrExpired in chain, got %v", err)
	}
}

func TestTamperedEnvelope(t *testing.T) {
	owner := testWallet(t, 1)
	c, _ := newCommittee(t, staticChecker{allowed: map[string]bool{owner.Address(): true}})
	ct := seal(t, c, 2, []byte("original"))

	env, err := ParseEnvelope(ct)
	if err != nil {
		t.Fatal(err)
	}
	env.Ciphertext[0] ^= 0xff
	if _, err := c.Decrypt(context.Background(), env, testSession(t, owner, nil), testProof(t, owner.Address())); err == nil {
		t.Fatalf("expected authentication failure")
	}

	env, _ = ParseEnvelope(ct)
	env.Threshold = 1
	if _, err := c.Decrypt(context.Background(), env, testSession(t, owner, nil), testProof(t, owner.Address())); err == nil {
		t.Fatalf("expected header tampering to be detected")
	}

	for _, bad := range [][]byte{nil, []byte("not cbor"), {0xa0}} {
		if _, err := ParseEnvelope(bad); !errors.Is(err, ErrMalformedEnvelope) {
			t.Fatalf("ParseEnvelope(%x): expected ErrMalformedEnvelope, got %v", bad, err)
		}
	}
}

func TestEncrypt_Validation(t *testing.T) {
	c, _ := newCommittee(t, staticChecker{})
	cases := []EncryptRequest{
		{Threshold: 0, Namespace: testNamespace, IdentityHex: testIdentity},
		{Threshold: 4, Namespace: testNamespace, IdentityHex: testIdentity},
		{Threshold: 2, Namespace: "", IdentityHex: testIdentity},
		{Threshold: 2, Namespace: testNamespace, IdentityHex: "zz"},
	}
	for i, req := range cases {
		if _, err := c.Encrypt(context.Background(), req); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
	if _, err := (&Committee{}).Encrypt(context.Background(), cases[0]); err == nil {
		t.Fatalf("expected error for empty committee")
	}
}
