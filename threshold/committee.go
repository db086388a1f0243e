package threshold

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cloudflare/circl/secretsharing"
	"golang.org/x/crypto/chacha20poly1305"

	"xdao.co/veritaslog/keys"
	"xdao.co/veritaslog/session"
)

// ServerInfo is a key server's public identity.
type ServerInfo struct {
	ID        string `json:"id"`
	PublicKey []byte `json:"publicKey"`
}

type EncryptRequest struct {
	Threshold   int
	Namespace   string
	IdentityHex string
	Plaintext   []byte
}

// Encrypter seals plaintext under an identity so that Threshold key servers
// must cooperate to open it.
type Encrypter interface {
	Encrypt(ctx context.Context, req EncryptRequest) ([]byte, error)
}

// Decrypter opens an envelope for the holder of sess, presenting proof to the
// key servers.
type Decrypter interface {
	Decrypt(ctx context.Context, env *Envelope, sess *session.Session, proof []byte) ([]byte, error)
}

// Committee is the client side of the key-server set.
//
// Servers lists every member that receives a share slot, in slot order.
// Openers reaches members by id at decrypt time; members without an opener
// are skipped.
type Committee struct {
	Servers []ServerInfo
	Openers map[string]ShareOpener
	Rand    io.Reader
	Logger  *slog.Logger
}

var (
	_ Encrypter = (*Committee)(nil)
	_ Decrypter = (*Committee)(nil)
)

// NewLocalCommittee builds in-process key servers whose keys derive from
// master, and a Committee wired to them.
func NewLocalCommittee(master []byte, ids []string, checker AccessChecker) (*Committee, []*KeyServer, error) {
	c := &Committee{Openers: make(map[string]ShareOpener, len(ids))}
	servers := make([]*KeyServer, 0, len(ids))
	for _, id := range ids {
		seed, err := keys.KeyServerSeed(master, id)
		if err != nil {
			return nil, nil, fmt.Errorf("threshold: key server %q: %w", id, err)
		}
		ks, err := NewKeyServer(id, seed, checker)
		if err != nil {
			return nil, nil, err
		}
		servers = append(servers, ks)
		c.Servers = append(c.Servers, ks.Info())
		c.Openers[id] = ks
	}
	return c, servers, nil
}

func (c *Committee) rand() io.Reader {
	if c.Rand == nil {
		return rand.Reader
	}
	return c.Rand
}

func (c *Committee) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// ServerIDs lists member ids in slot order.
func (c *Committee) ServerIDs() []string {
	out := make([]string, 0, len(c.Servers))
	for _, s := range c.Servers {
		out = append(out, s.ID)
	}
	return out
}

func (c *Committee) Encrypt(ctx context.Context, req EncryptRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := len(c.Servers)
	if n == 0 {
		return nil, errors.New("threshold: committee has no key servers")
	}
	if req.Threshold < 1 || req.Threshold > n {
		return nil, fmt.Errorf("threshold: threshold %d outside 1..%d", req.Threshold, n)
	}
	if req.Namespace == "" {
		return nil, errors.New("threshold: namespace is required")
	}
	if id, err := hex.DecodeString(req.IdentityHex); err != nil || len(id) == 0 {
		return nil, errors.New("threshold: identity must be hex")
	}
	rnd := c.rand()

	secret := g.RandomScalar(rnd)
	shares := secretsharing.New(rnd, uint(req.Threshold-1), secret).Share(uint(n))

	env := &Envelope{
		Version:     EnvelopeVersion,
		Namespace:   req.Namespace,
		IdentityHex: req.IdentityHex,
		Threshold:   req.Threshold,
		Slots:       make([]ShareSlot, 0, n),
	}
	for i, srv := range c.Servers {
		pub, err := ParsePublicKey(srv.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("threshold: key server %q public key: %w", srv.ID, err)
		}
		raw, err := encodeShare(shares[i])
		if err != nil {
			return nil, err
		}
		enc, sealed, err := hpkeSeal(rnd, pub, bind(infoShare, req.Namespace, req.IdentityHex, srv.ID), raw)
		if err != nil {
			return nil, fmt.Errorf("threshold: seal share for %q: %w", srv.ID, err)
		}
		env.Slots = append(env.Slots, ShareSlot{ServerID: srv.ID, Enc: enc, Sealed: sealed})
	}

	dek, err := deriveDEK(secret, req.Namespace, req.IdentityHex)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return nil, err
	}
	env.Nonce = make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rnd, env.Nonce); err != nil {
		return nil, fmt.Errorf("threshold: nonce: %w", err)
	}
	aad, err := env.headerBytes()
	if err != nil {
		return nil, err
	}
	env.Ciphertext = aead.Seal(nil, env.Nonce, req.Plaintext, aad)
	return env.Marshal()
}

func (c *Committee) Decrypt(ctx context.Context, env *Envelope, sess *session.Session, proof []byte) ([]byte, error) {
	if env == nil {
		return nil, ErrMalformedEnvelope
	}
	if sess == nil {
		return nil, errors.New("threshold: no session")
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	credBytes, err := sess.Credential.Marshal()
	if err != nil {
		return nil, err
	}
	respPub, respPriv, err := kemScheme.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	respKey, err := respPub.MarshalBinary()
	if err != nil {
		return nil, err
	}

	var (
		shares   []secretsharing.Share
		failures []error
		denied   int
	)
	for _, slot := range env.Slots {
		if len(shares) == env.Threshold {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		opener, ok := c.Openers[slot.ServerID]
		if !ok {
			failures = append(failures, fmt.Errorf("%w: %s", ErrUnknownServer, slot.ServerID))
			continue
		}
		req := ShareRequest{
			Namespace:   env.Namespace,
			IdentityHex: env.IdentityHex,
			Slot:        slot,
			Credential:  credBytes,
			Proof:       proof,
			ResponseKey: respKey,
		}
		msg, err := req.SigningMessage()
		if err != nil {
			return nil, err
		}
		req.Signature = sess.SignRequest(msg)

		resp, err := opener.OpenShare(ctx, req)
		if err != nil {
			if errors.Is(err, ErrAccessDenied) {
				denied++
			}
			c.logger().Warn("key server refused share", "server", slot.ServerID, "err", err)
			failures = append(failures, fmt.Errorf("%s: %w", slot.ServerID, err))
			continue
		}
		raw, err := hpkeOpen(respPriv, bind(infoResponse, env.Namespace, env.IdentityHex, slot.ServerID), resp.Enc, resp.Sealed)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: response does not open: %w", slot.ServerID, err))
			continue
		}
		share, err := decodeShare(raw)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", slot.ServerID, err))
			continue
		}
		if duplicateID(shares, share) {
			failures = append(failures, fmt.Errorf("%s: duplicate share id", slot.ServerID))
			continue
		}
		shares = append(shares, share)
	}

	if len(shares) < env.Threshold {
		cause := errors.Join(failures...)
		if denied > 0 {
			return nil, fmt.Errorf("%w: %d of %d required shares released: %w", ErrAccessDenied, len(shares), env.Threshold, cause)
		}
		return nil, fmt.Errorf("%w: %d of %d: %w", ErrInsufficientShares, len(shares), env.Threshold, cause)
	}

	secret, err := secretsharing.Recover(uint(env.Threshold-1), shares)
	if err != nil {
		return nil, fmt.Errorf("threshold: recover data key: %w", err)
	}
	dek, err := deriveDEK(secret, env.Namespace, env.IdentityHex)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return nil, err
	}
	aad, err := env.headerBytes()
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, aad)
	if err != nil {
		return nil, errors.New("threshold: payload authentication failed")
	}
	return plaintext, nil
}

func duplicateID(have []secretsharing.Share, s secretsharing.Share) bool {
	for _, h := range have {
		if h.ID.IsEqual(s.ID) {
			return true
		}
	}
	return false
}
