package threshold

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"xdao.co/veritaslog/codec"
)

// EnvelopeVersion is the current envelope format.
const EnvelopeVersion = 1

// ShareSlot holds one key server's share of the data key, HPKE-sealed to that
// server's public key.
type ShareSlot struct {
	ServerID string `cbor:"1,keyasint"`
	Enc      []byte `cbor:"2,keyasint"`
	Sealed   []byte `cbor:"3,keyasint"`
}

// Envelope is the self-describing ciphertext stored in the blob store.
//
// Everything but Ciphertext is the header; the header bytes are the AEAD
// associated data, so slots and policy fields cannot be swapped.
type Envelope struct {
	Version     uint8       `cbor:"1,keyasint"`
	Namespace   string      `cbor:"2,keyasint"`
	IdentityHex string      `cbor:"3,keyasint"`
	Threshold   int         `cbor:"4,keyasint"`
	Slots       []ShareSlot `cbor:"5,keyasint"`
	Nonce       []byte      `cbor:"6,keyasint"`
	Ciphertext  []byte      `cbor:"7,keyasint"`
}

type header struct {
	Version     uint8       `cbor:"1,keyasint"`
	Namespace   string      `cbor:"2,keyasint"`
	IdentityHex string      `cbor:"3,keyasint"`
	Threshold   int         `cbor:"4,keyasint"`
	Slots       []ShareSlot `cbor:"5,keyasint"`
	Nonce       []byte      `cbor:"6,keyasint"`
}

func (e *Envelope) headerBytes() ([]byte, error) {
	return codec.Marshal(header{
		Version:     e.Version,
		Namespace:   e.Namespace,
		IdentityHex: e.IdentityHex,
		Threshold:   e.Threshold,
		Slots:       e.Slots,
		Nonce:       e.Nonce,
	})
}

func (e *Envelope) Marshal() ([]byte, error) {
	return codec.Marshal(e)
}

// ServerIDs lists the slot owners in slot order.
func (e *Envelope) ServerIDs() []string {
	out := make([]string, 0, len(e.Slots))
	for _, s := range e.Slots {
		out = append(out, s.ServerID)
	}
	return out
}

// Slot returns the slot of serverID.
func (e *Envelope) Slot(serverID string) (ShareSlot, bool) {
	for _, s := range e.Slots {
		if s.ServerID == serverID {
			return s, true
		}
	}
	return ShareSlot{}, false
}

// ParseEnvelope decodes and structurally validates ciphertext bytes. It needs
// no keys: namespace, identity and threshold are readable by anyone.
func ParseEnvelope(b []byte) (*Envelope, error) {
	var e Envelope
	if err := codec.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func (e *Envelope) validate() error {
	if e.Version != EnvelopeVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformedEnvelope, e.Version)
	}
	if e.Namespace == "" {
		return fmt.Errorf("%w: empty namespace", ErrMalformedEnvelope)
	}
	if id, err := hex.DecodeString(e.IdentityHex); err != nil || len(id) == 0 {
		return fmt.Errorf("%w: identity is not hex", ErrMalformedEnvelope)
	}
	if e.Threshold < 1 || e.Threshold > len(e.Slots) {
		return fmt.Errorf("%w: threshold %d with %d slots", ErrMalformedEnvelope, e.Threshold, len(e.Slots))
	}
	seen := make(map[string]struct{}, len(e.Slots))
	for _, s := range e.Slots {
		if s.ServerID == "" || len(s.Enc) == 0 || len(s.Sealed) == 0 {
			return fmt.Errorf("%w: incomplete share slot", ErrMalformedEnvelope)
		}
		if _, dup := seen[s.ServerID]; dup {
			return fmt.Errorf("%w: duplicate slot for %q", ErrMalformedEnvelope, s.ServerID)
		}
		seen[s.ServerID] = struct{}{}
	}
	if len(e.Nonce) != chacha20poly1305.NonceSizeX {
		return fmt.Errorf("%w: bad nonce length", ErrMalformedEnvelope)
	}
	if len(e.Ciphertext) < chacha20poly1305.Overhead {
		return fmt.Errorf("%w: ciphertext too short", ErrMalformedEnvelope)
	}
	return nil
}
