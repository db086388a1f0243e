package threshold

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudflare/circl/kem"

	"xdao.co/veritaslog/clock"
	"xdao.co/veritaslog/codec"
	"xdao.co/veritaslog/session"
)

// AccessChecker evaluates a log's access policy. The ledger implements it.
type AccessChecker interface {
	CheckAccess(ctx context.Context, identityHex, logID, requester string) (bool, error)
}

// ShareRequest asks one key server for its share of an envelope's data key.
type ShareRequest struct {
	Namespace   string    `cbor:"1,keyasint"`
	IdentityHex string    `cbor:"2,keyasint"`
	Slot        ShareSlot `cbor:"3,keyasint"`
	Credential  []byte    `cbor:"4,keyasint"`
	Proof       []byte    `cbor:"5,keyasint"`
	// ResponseKey is an ephemeral X25519 public key the share is sealed to.
	ResponseKey []byte `cbor:"6,keyasint"`
	// Signature is the session key's signature over SigningMessage.
	Signature []byte `cbor:"7,keyasint"`
}

type signedRequest struct {
	Domain      string    `cbor:"1,keyasint"`
	Namespace   string    `cbor:"2,keyasint"`
	IdentityHex string    `cbor:"3,keyasint"`
	Slot        ShareSlot `cbor:"4,keyasint"`
	Proof       []byte    `cbor:"5,keyasint"`
	ResponseKey []byte    `cbor:"6,keyasint"`
}

// SigningMessage is the byte string the session key signs.
func (r ShareRequest) SigningMessage() ([]byte, error) {
	return codec.Marshal(signedRequest{
		Domain:      "veritaslog.threshold.request.v1",
		Namespace:   r.Namespace,
		IdentityHex: r.IdentityHex,
		Slot:        r.Slot,
		Proof:       r.Proof,
		ResponseKey: r.ResponseKey,
	})
}

// ShareResponse is the requested share, HPKE-sealed to the request's
// ResponseKey.
type ShareResponse struct {
	Enc    []byte `cbor:"1,keyasint"`
	Sealed []byte `cbor:"2,keyasint"`
}

// ShareOpener is a key server as seen by the committee: in process or remote.
type ShareOpener interface {
	OpenShare(ctx context.Context, req ShareRequest) (ShareResponse, error)
}

// KeyServer holds one committee member's private key and releases its share
// only to requests that pass the access policy.
type KeyServer struct {
	ID      string
	Checker AccessChecker
	Clock   clock.Clock
	Logger  *slog.Logger

	// Namespace, when set, is the only namespace this server serves.
	Namespace string

	priv kem.PrivateKey
	pub  []byte
}

var _ ShareOpener = (*KeyServer)(nil)

// NewKeyServer derives the server's X25519 key pair from a 32-byte seed.
func NewKeyServer(id string, seed []byte, checker AccessChecker) (*KeyServer, error) {
	if id == "" {
		return nil, errors.New("threshold: key server id is required")
	}
	if len(seed) != kemScheme.SeedSize() {
		return nil, fmt.Errorf("threshold: key server seed must be %d bytes", kemScheme.SeedSize())
	}
	pub, priv := kemScheme.DeriveKeyPair(seed)
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &KeyServer{ID: id, Checker: checker, priv: priv, pub: pubBytes}, nil
}

// Info returns the public half used by encrypters.
func (k *KeyServer) Info() ServerInfo {
	return ServerInfo{ID: k.ID, PublicKey: append([]byte(nil), k.pub...)}
}

func (k *KeyServer) OpenShare(ctx context.Context, req ShareRequest) (ShareResponse, error) {
	log := k.logger().With("server", k.ID, "identity", req.IdentityHex)
	if req.Slot.ServerID != k.ID {
		return ShareResponse{}, fmt.Errorf("%w: slot for %q sent to %q", ErrUnknownServer, req.Slot.ServerID, k.ID)
	}
	if k.Namespace != "" && req.Namespace != k.Namespace {
		return ShareResponse{}, fmt.Errorf("%w: namespace %q not served", ErrInvalidRequest, req.Namespace)
	}

	cred, err := session.ParseCredential(req.Credential)
	if err != nil {
		return ShareResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := cred.Verify(clock.OrReal(k.Clock).Now()); err != nil {
		return ShareResponse{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if cred.Namespace != req.Namespace {
		return ShareResponse{}, fmt.Errorf("%w: %w", ErrInvalidRequest, session.ErrNamespace)
	}
	msg, err := req.SigningMessage()
	if err != nil {
		return ShareResponse{}, err
	}
	if err := cred.VerifyRequest(msg, req.Signature); err != nil {
		return ShareResponse{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	proof, err := ParseProof(req.Proof)
	if err != nil {
		return ShareResponse{}, err
	}
	if proof.Namespace != req.Namespace || proof.IdentityHex != req.IdentityHex || proof.Requester != cred.Address {
		return ShareResponse{}, fmt.Errorf("%w: proof is not bound to this request", ErrInvalidRequest)
	}

	if k.Checker == nil {
		return ShareResponse{}, fmt.Errorf("%w: no policy checker configured", ErrAccessDenied)
	}
	allowed, err := k.Checker.CheckAccess(ctx, proof.IdentityHex, proof.LogID, proof.Requester)
	if err != nil {
		return ShareResponse{}, fmt.Errorf("threshold: policy check: %w", err)
	}
	if !allowed {
		log.Info("share withheld", "log", proof.LogID, "requester", proof.Requester)
		return ShareResponse{}, ErrAccessDenied
	}

	share, err := hpkeOpen(k.priv, bind(infoShare, req.Namespace, req.IdentityHex, k.ID), req.Slot.Enc, req.Slot.Sealed)
	if err != nil {
		return ShareResponse{}, fmt.Errorf("%w: share slot does not open", ErrInvalidRequest)
	}
	respKey, err := ParsePublicKey(req.ResponseKey)
	if err != nil {
		return ShareResponse{}, fmt.Errorf("%w: response key: %v", ErrInvalidRequest, err)
	}
	enc, sealed, err := hpkeSeal(nil, respKey, bind(infoResponse, req.Namespace, req.IdentityHex, k.ID), share)
	if err != nil {
		return ShareResponse{}, err
	}
	log.Debug("share released", "log", proof.LogID, "requester", proof.Requester)
	return ShareResponse{Enc: enc, Sealed: sealed}, nil
}

func (k *KeyServer) logger() *slog.Logger {
	if k.Logger == nil {
		return slog.Default()
	}
	return k.Logger
}
