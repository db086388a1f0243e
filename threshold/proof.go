package threshold

import (
	"fmt"

	"xdao.co/veritaslog/codec"
)

// PolicyProof names the log whose access policy a key server must evaluate
// before releasing a share for IdentityHex.
type PolicyProof struct {
	Namespace   string `cbor:"1,keyasint"`
	IdentityHex string `cbor:"2,keyasint"`
	LogID       string `cbor:"3,keyasint"`
	Requester   string `cbor:"4,keyasint"`
	IssuedAt    int64  `cbor:"5,keyasint"`
}

func (p PolicyProof) Marshal() ([]byte, error) {
	return codec.Marshal(p)
}

func ParseProof(b []byte) (PolicyProof, error) {
	var p PolicyProof
	if err := codec.Unmarshal(b, &p); err != nil {
		return PolicyProof{}, fmt.Errorf("%w: proof: %v", ErrInvalidRequest, err)
	}
	return p, nil
}
