package storage

import "errors"

var (
	ErrNotFound    = errors.New("storage: not found")
	ErrInvalidRef  = errors.New("storage: invalid blob reference")
	ErrIntegrity   = errors.New("storage: content does not match reference")
	ErrImmutable   = errors.New("storage: immutable object mismatch")
	ErrRefMismatch = errors.New("storage: backends returned different references")
	ErrNoBackends  = errors.New("storage: no backends configured")
	ErrUnsupported = errors.New("storage: operation not supported by backend")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
