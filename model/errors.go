package model

import (
	"errors"
	"fmt"
)

// Kind is a stable category for programmatic error handling.
//
// Callers branch on Kind rather than matching error strings. Message is for
// humans and may change.
type Kind string

const (
	KindInvalidInput      Kind = "InvalidInput"
	KindOversizeArtifact  Kind = "OversizeArtifact"
	KindEncryptionFailure Kind = "EncryptionFailure"
	KindUploadFailure     Kind = "UploadFailure"
	KindDownloadFailure   Kind = "DownloadFailure"
	KindAccessDenied      Kind = "AccessDenied"
	KindDecryptionFailure Kind = "DecryptionFailure"
	KindNotFound          Kind = "NotFound"
	KindInternal          Kind = "Internal"
)

// Retryable reports whether repeating the whole operation may succeed without
// the caller changing anything.
func (k Kind) Retryable() bool {
	switch k {
	case KindEncryptionFailure, KindUploadFailure, KindDownloadFailure:
		return true
	default:
		return false
	}
}

// Error is the structured error returned by the registration and verification
// pipelines.
//
// Size carries the measured byte count for KindOversizeArtifact.
type Error struct {
	Kind    Kind
	Code    ErrorCode
	Message string
	Size    int
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Errorf builds an *Error of kind with its default code.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Code: DefaultCode(kind), Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of kind around cause. A nil cause yields a plain error of
// that kind.
func Wrap(kind Kind, cause error, msg string) error {
	return &Error{Kind: kind, Code: DefaultCode(kind), Message: msg, Cause: cause}
}

// Oversize reports a ciphertext of size bytes exceeding limit.
func Oversize(size, limit int) error {
	return &Error{
		Kind:    KindOversizeArtifact,
		Code:    ErrBlobTooLarge,
		Message: fmt.Sprintf("encrypted data is %d bytes, exceeds %d byte limit", size, limit),
		Size:    size,
	}
}

// IsKind reports whether err is (or wraps) an *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the Kind of the outermost *Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// ErrorCode is the machine-readable code served in API error bodies.
type ErrorCode string

const (
	ErrNoInput          ErrorCode = "NO_INPUT"
	ErrInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrBlobTooLarge     ErrorCode = "BLOB_TOO_LARGE"
	ErrEncryptionFailed ErrorCode = "ENCRYPTION_FAILED"
	ErrUploadFailed     ErrorCode = "UPLOAD_FAILED"
	ErrDownloadFailed   ErrorCode = "DOWNLOAD_FAILED"
	ErrAccessDenied     ErrorCode = "ACCESS_DENIED"
	ErrDecryptionFailed ErrorCode = "DECRYPTION_FAILED"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrInternal         ErrorCode = "INTERNAL"
)

// DefaultCode maps a Kind to its API code.
func DefaultCode(kind Kind) ErrorCode {
	switch kind {
	case KindInvalidInput:
		return ErrInvalidInput
	case KindOversizeArtifact:
		return ErrBlobTooLarge
	case KindEncryptionFailure:
		return ErrEncryptionFailed
	case KindUploadFailure:
		return ErrUploadFailed
	case KindDownloadFailure:
		return ErrDownloadFailed
	case KindAccessDenied:
		return ErrAccessDenied
	case KindDecryptionFailure:
		return ErrDecryptionFailed
	case KindNotFound:
		return ErrNotFound
	default:
		return ErrInternal
	}
}

// CodedError is the JSON error body served by the API.
type CodedError struct {
	Code       ErrorCode `json:"error"`
	Message    string    `json:"message"`
	Size       int       `json:"size,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
	RequestID  string    `json:"requestId,omitempty"`
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code ErrorCode, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// ToCoded projects any error onto the API error body.
func ToCoded(err error) *CodedError {
	var e *Error
	if errors.As(err, &e) {
		code := e.Code
		if code == "" {
			code = DefaultCode(e.Kind)
		}
		return &CodedError{Code: code, Message: e.Error(), Size: e.Size}
	}
	return &CodedError{Code: ErrInternal, Message: err.Error()}
}
