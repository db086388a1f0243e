package receipt

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"

	"xdao.co/veritaslog/commitment"
	"xdao.co/veritaslog/keys"
)

// Version is the receipt format version written to META.
const Version = "1"

// Statement is the typed content of a receipt.
type Statement struct {
	IssuedAt int64
	LogID    string
	BlobID   string
	Expected commitment.Commitment
	Computed commitment.Commitment
	Match    bool
	Mode     string
}

func (s Statement) document() Document {
	subject := map[string]string{"Commitment": s.Expected.Hex()}
	if s.LogID != "" {
		subject["Log"] = s.LogID
	}
	if s.BlobID != "" {
		subject["Blob"] = s.BlobID
	}
	return Document{
		Meta:    map[string]string{"Version": Version, "Issued-At": strconv.FormatInt(s.IssuedAt, 10)},
		Subject: subject,
		Result: map[string]string{
			"Computed": s.Computed.Hex(),
			"Match":    strconv.FormatBool(s.Match),
			"Mode":     s.Mode,
		},
	}
}

// Statement decodes the typed content and checks that required keys are
// present and well formed.
func (r *Receipt) Statement() (Statement, error) {
	d := r.Doc
	if d.Meta["Version"] != Version {
		return Statement{}, newError(KindValidation, "RCPT-VAL-001", "unsupported receipt version")
	}
	issued, err := strconv.ParseInt(d.Meta["Issued-At"], 10, 64)
	if err != nil {
		return Statement{}, wrapError(KindValidation, "RCPT-VAL-002", "invalid Issued-At", err)
	}
	expected, err := commitment.Parse(d.Subject["Commitment"])
	if err != nil {
		return Statement{}, wrapError(KindValidation, "RCPT-VAL-003", "invalid Commitment", err)
	}
	computed, err := commitment.Parse(d.Result["Computed"])
	if err != nil {
		return Statement{}, wrapError(KindValidation, "RCPT-VAL-004", "invalid Computed", err)
	}
	match, err := strconv.ParseBool(d.Result["Match"])
	if err != nil || (d.Result["Match"] != "true" && d.Result["Match"] != "false") {
		return Statement{}, newError(KindValidation, "RCPT-VAL-005", "Match must be true or false")
	}
	if match != expected.Equal(computed) {
		return Statement{}, newError(KindValidation, "RCPT-VAL-006", "Match contradicts the digests")
	}
	if d.Result["Mode"] == "" {
		return Statement{}, newError(KindValidation, "RCPT-VAL-007", "missing Mode")
	}
	return Statement{
		IssuedAt: issued,
		LogID:    d.Subject["Log"],
		BlobID:   d.Subject["Blob"],
		Expected: expected,
		Computed: computed,
		Match:    match,
		Mode:     d.Result["Mode"],
	}, nil
}

// Signer produces the CRYPTO section of a receipt.
type Signer interface {
	Algorithm() string
	HashAlgorithm() string
	IssuerKey() string
	Sign(message []byte) (string, error)
}

// Ed25519Signer signs sha256(scope) with an Ed25519 key.
type Ed25519Signer struct{ Key ed25519.PrivateKey }

func (Ed25519Signer) Algorithm() string     { return "ed25519" }
func (Ed25519Signer) HashAlgorithm() string { return "sha256" }
func (s Ed25519Signer) IssuerKey() string {
	return "ed25519:" + base64.StdEncoding.EncodeToString(s.Key.Public().(ed25519.PublicKey))
}
func (s Ed25519Signer) Sign(message []byte) (string, error) {
	return keys.SignEd25519SHA256(message, s.Key), nil
}

// Dilithium3Signer signs hash(scope) with a post-quantum Dilithium3 key.
// Hash is sha256, sha512 or sha3-256.
type Dilithium3Signer struct {
	Public  *mode3.PublicKey
	Private *mode3.PrivateKey
	Hash    string
}

func (Dilithium3Signer) Algorithm() string       { return "dilithium3" }
func (s Dilithium3Signer) HashAlgorithm() string { return s.Hash }
func (s Dilithium3Signer) IssuerKey() string {
	return "dilithium3:" + base64.StdEncoding.EncodeToString(s.Public.Bytes())
}
func (s Dilithium3Signer) Sign(message []byte) (string, error) {
	return keys.SignDilithium3(message, s.Hash, s.Private)
}

// Issue renders st and signs it.
func Issue(st Statement, signer Signer) (*Receipt, error) {
	doc := st.document()
	doc.Crypto = map[string]string{
		"Hash-Alg":      signer.HashAlgorithm(),
		"Issuer-Key":    signer.IssuerKey(),
		"Signature":     "0",
		"Signature-Alg": signer.Algorithm(),
	}
	pre, err := Render(doc)
	if err != nil {
		return nil, err
	}
	scope, err := signedScope(pre)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(scope)
	if err != nil {
		return nil, wrapError(KindCrypto, "RCPT-CRYPTO-501", "signing failed", err)
	}
	doc.Crypto["Signature"] = sig
	final, err := Render(doc)
	if err != nil {
		return nil, err
	}
	return Parse(final)
}

// Verify checks the CRYPTO section against the signed scope. It re-parses the
// receipt bytes so that edits to Doc cannot bypass canonicalization.
func (r *Receipt) Verify() error {
	if r == nil {
		return newError(KindCrypto, "RCPT-CRYPTO-002", "nil receipt")
	}
	parsed, err := Parse(r.raw)
	if err != nil {
		return err
	}
	c := parsed.Doc.Crypto
	sigAlg, hashAlg := c["Signature-Alg"], c["Hash-Alg"]
	if sigAlg == "" {
		return newError(KindCrypto, "RCPT-CRYPTO-101", "missing Signature-Alg")
	}
	if hashAlg == "" {
		return newError(KindCrypto, "RCPT-CRYPTO-102", "missing Hash-Alg")
	}
	keyAlg, keyB64, ok := strings.Cut(c["Issuer-Key"], ":")
	if !ok {
		return newError(KindCrypto, "RCPT-CRYPTO-111", "invalid Issuer-Key encoding")
	}
	if keyAlg != sigAlg {
		return newError(KindCrypto, "RCPT-CRYPTO-121", "Issuer-Key alg does not match Signature-Alg")
	}
	pub, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return wrapError(KindCrypto, "RCPT-CRYPTO-113", "invalid issuer key base64", err)
	}
	sig, err := base64.StdEncoding.DecodeString(c["Signature"])
	if err != nil {
		return wrapError(KindCrypto, "RCPT-CRYPTO-131", "invalid signature base64", err)
	}
	scope, err := signedScope(parsed.raw)
	if err != nil {
		return err
	}
	digest, err := digestFor(hashAlg, scope)
	if err != nil {
		return err
	}

	switch sigAlg {
	case "ed25519":
		if hashAlg != "sha256" {
			return newError(KindCrypto, "RCPT-CRYPTO-202", "ed25519 receipts use sha256")
		}
		if len(pub) != ed25519.PublicKeySize {
			return newError(KindCrypto, "RCPT-CRYPTO-114", "invalid ed25519 public key length")
		}
		if !ed25519.Verify(ed25519.PublicKey(pub), digest, sig) {
			return newError(KindCrypto, "RCPT-CRYPTO-401", "signature invalid")
		}
		return nil
	case "dilithium3":
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return wrapError(KindCrypto, "RCPT-CRYPTO-115", "invalid dilithium3 public key", err)
		}
		if len(sig) != mode3.SignatureSize {
			return newError(KindCrypto, "RCPT-CRYPTO-133", "invalid dilithium3 signature length")
		}
		if !mode3.Verify(&pk, digest, sig) {
			return newError(KindCrypto, "RCPT-CRYPTO-401", "signature invalid")
		}
		return nil
	default:
		return newError(KindCrypto, "RCPT-CRYPTO-301", "unsupported Signature-Alg")
	}
}

// IssuerKey returns the CRYPTO Issuer-Key value.
func (r *Receipt) IssuerKey() string { return r.Doc.Crypto["Issuer-Key"] }

func digestFor(hashAlg string, message []byte) ([]byte, error) {
	switch hashAlg {
	case "sha256":
		s := sha256.Sum256(message)
		return s[:], nil
	case "sha512":
		s := sha512.Sum512(message)
		return s[:], nil
	case "sha3-256":
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, newError(KindCrypto, "RCPT-CRYPTO-201", "unsupported Hash-Alg")
	}
}
