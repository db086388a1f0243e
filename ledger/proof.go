package ledger

import (
	"context"
	"errors"
	"fmt"

	"xdao.co/veritaslog/clock"
	"xdao.co/veritaslog/threshold"
)

// ErrIdentityMismatch means the envelope identity is not the log's commitment.
var ErrIdentityMismatch = errors.New("ledger: identity does not match log commitment")

// ProofBuilder produces the policy proof a requester presents to key servers:
// a statement naming the log whose allow-list gates identityHex.
type ProofBuilder struct {
	Ledger    Ledger
	Namespace string
	Clock     clock.Clock
}

func (p *ProofBuilder) BuildProof(ctx context.Context, identityHex, logID, requester string) ([]byte, error) {
	if p.Ledger == nil {
		return nil, errors.New("ledger: proof builder has no ledger")
	}
	rec, err := p.Ledger.Log(ctx, logID)
	if err != nil {
		return nil, err
	}
	if !SameIdentity(rec.CommitmentHex, identityHex) {
		return nil, fmt.Errorf("%w: log %s", ErrIdentityMismatch, logID)
	}
	addr, err := Address(requester)
	if err != nil {
		return nil, err
	}
	return threshold.PolicyProof{
		Namespace:   p.Namespace,
		IdentityHex: identityHex,
		LogID:       logID,
		Requester:   addr,
		IssuedAt:    clock.OrReal(p.Clock).Now().Unix(),
	}.Marshal()
}
