package threshold

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/cloudflare/circl/group"
	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/secretsharing"
	"golang.org/x/crypto/hkdf"
)

var suite = hpke.NewSuite(hpke.KEM_X25519_HKDF_SHA256, hpke.KDF_HKDF_SHA256, hpke.AEAD_ChaCha20Poly1305)

var kemScheme = hpke.KEM_X25519_HKDF_SHA256.Scheme()

// The data key is a Ristretto255 scalar so it can be split with Shamir
// sharing over the same group.
var g = group.Ristretto255

const (
	infoDEK      = "veritaslog.threshold.dek.v1"
	infoShare    = "veritaslog.threshold.share.v1"
	infoResponse = "veritaslog.threshold.response.v1"
)

func bind(parts ...string) []byte {
	var out []byte
	for i, p := range parts {
		if i > 0 {
			out = append(out, 0)
		}
		out = append(out, p...)
	}
	return out
}

func deriveDEK(secret group.Scalar, namespace, identityHex string) ([]byte, error) {
	raw, err := secret.MarshalBinary()
	if err != nil {
		return nil, err
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, raw, nil, bind(infoDEK, namespace, identityHex))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func encodeShare(s secretsharing.Share) ([]byte, error) {
	id, err := s.ID.MarshalBinary()
	if err != nil {
		return nil, err
	}
	v, err := s.Value.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(id, v...), nil
}

func decodeShare(b []byte) (secretsharing.Share, error) {
	size := int(g.Params().ScalarLength)
	if len(b) != 2*size {
		return secretsharing.Share{}, fmt.Errorf("share must be %d bytes, got %d", 2*size, len(b))
	}
	id, v := g.NewScalar(), g.NewScalar()
	if err := id.UnmarshalBinary(b[:size]); err != nil {
		return secretsharing.Share{}, err
	}
	if err := v.UnmarshalBinary(b[size:]); err != nil {
		return secretsharing.Share{}, err
	}
	return secretsharing.Share{ID: id, Value: v}, nil
}

func hpkeSeal(rnd io.Reader, pub kem.PublicKey, info, plaintext []byte) (enc, sealed []byte, err error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	sender, err := suite.NewSender(pub, info)
	if err != nil {
		return nil, nil, err
	}
	enc, sealer, err := sender.Setup(rnd)
	if err != nil {
		return nil, nil, err
	}
	sealed, err = sealer.Seal(plaintext, nil)
	if err != nil {
		return nil, nil, err
	}
	return enc, sealed, nil
}

func hpkeOpen(priv kem.PrivateKey, info, enc, sealed []byte) ([]byte, error) {
	receiver, err := suite.NewReceiver(priv, info)
	if err != nil {
		return nil, err
	}
	opener, err := receiver.Setup(enc)
	if err != nil {
		return nil, err
	}
	return opener.Open(sealed, nil)
}

// ParsePublicKey decodes a key server's marshaled X25519 public key.
func ParsePublicKey(b []byte) (kem.PublicKey, error) {
	return kemScheme.UnmarshalBinaryPublicKey(b)
}
