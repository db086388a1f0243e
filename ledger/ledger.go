// Package ledger is the registry of committed logs and their access policies.
//
// A log record binds a blob reference to the commitment of the bundle stored
// in it. Each log has an owner, an allow-list, and a queue of pending access
// requests. Key servers consult CheckAccess before releasing a share.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"xdao.co/veritaslog/commitment"
	"xdao.co/veritaslog/keys"
	"xdao.co/veritaslog/logbundle"
	"xdao.co/veritaslog/model"
)

// DefaultEventLimit caps Events when the caller passes no limit.
const DefaultEventLimit = 100

var (
	ErrNotFound       = errors.New("ledger: log not found")
	ErrNotOwner       = errors.New("ledger: caller is not the log owner")
	ErrAlreadyAllowed = errors.New("ledger: requester already has access")
	ErrNoRequest      = errors.New("ledger: no pending request from requester")
	ErrInvalid        = errors.New("ledger: invalid argument")
)

// Registration is what the registrar records for a freshly uploaded log.
type Registration struct {
	BlobID        string
	CommitmentHex string
	Severity      logbundle.Severity
	Owner         string
	// CreatedAt is unix seconds. Zero means now.
	CreatedAt int64
}

// Ledger is the log registry.
//
// Addresses are compared after keys.NormalizeAddress. Owner-only operations
// return ErrNotOwner for any other caller.
type Ledger interface {
	RegisterLog(ctx context.Context, reg Registration) (model.LogRecord, error)
	Log(ctx context.Context, id string) (model.LogRecord, error)
	// Events lists registrations newest first. limit <= 0 means
	// DefaultEventLimit.
	Events(ctx context.Context, limit int) ([]model.LogEvent, error)
	RequestAccess(ctx context.Context, logID, requester, reason string) error
	Approve(ctx context.Context, logID, caller, requester string) error
	Reject(ctx context.Context, logID, caller, requester, reason string) error
	// CheckAccess reports whether requester may decrypt logID, whose stored
	// commitment must equal identityHex. Unknown logs are denied, not errors.
	CheckAccess(ctx context.Context, identityHex, logID, requester string) (bool, error)
}

// Normalize validates reg and returns it with canonical address and
// commitment spellings.
func (reg Registration) Normalize() (Registration, error) {
	if strings.TrimSpace(reg.BlobID) == "" {
		return reg, fmt.Errorf("%w: blob id is required", ErrInvalid)
	}
	c, err := commitment.Parse(reg.CommitmentHex)
	if err != nil {
		return reg, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	reg.CommitmentHex = c.Hex()
	if !reg.Severity.Valid() {
		return reg, fmt.Errorf("%w: severity %q", ErrInvalid, reg.Severity)
	}
	owner, err := Address(reg.Owner)
	if err != nil {
		return reg, err
	}
	reg.Owner = owner
	reg.BlobID = strings.TrimSpace(reg.BlobID)
	return reg, nil
}

// Address normalizes addr, reporting ErrInvalid on malformed input.
func Address(addr string) (string, error) {
	a, err := keys.NormalizeAddress(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return a, nil
}

// SameIdentity compares two commitment hex strings, ignoring case and a 0x
// prefix. Malformed input never matches.
func SameIdentity(a, b string) bool {
	ca, err := commitment.Parse(a)
	if err != nil {
		return false
	}
	cb, err := commitment.Parse(b)
	if err != nil {
		return false
	}
	return ca.Equal(cb)
}

// EventOf projects a record onto its registration event.
func EventOf(r model.LogRecord) model.LogEvent {
	return model.LogEvent{
		LogID:         r.ID,
		BlobID:        r.BlobID,
		CommitmentHex: r.CommitmentHex,
		CreatedAt:     r.CreatedAt,
		SeverityCode:  r.SeverityCode,
		Owner:         r.Owner,
	}
}

// ToModel maps ledger errors onto the pipeline error taxonomy.
func ToModel(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoRequest):
		return model.Wrap(model.KindNotFound, err, "not found")
	case errors.Is(err, ErrNotOwner):
		return model.Wrap(model.KindAccessDenied, err, "not permitted")
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrAlreadyAllowed):
		return model.Wrap(model.KindInvalidInput, err, "rejected by ledger")
	default:
		return model.Wrap(model.KindInternal, err, "ledger failure")
	}
}
