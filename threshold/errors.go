package threshold

import "errors"

var (
	// ErrAccessDenied means a key server refused to release its share because
	// the policy check failed. Transport and crypto failures never map to it.
	ErrAccessDenied = errors.New("threshold: access denied")

	ErrMalformedEnvelope  = errors.New("threshold: malformed envelope")
	ErrInsufficientShares = errors.New("threshold: not enough shares")
	ErrUnknownServer      = errors.New("threshold: unknown key server")
	ErrInvalidRequest     = errors.New("threshold: invalid share request")
)
