package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"xdao.co/veritaslog/model"
)

// RequestIDHeader carries the request id on every response.
const RequestIDHeader = "X-Request-Id"

const uploadSuggestion = "The blob store may be experiencing issues. Please try again later."

type ctxKey struct{}

func NewRequestID() string { return "req_" + uuid.NewString() }

// RequestID returns the id assigned by the request middleware, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// requestLog assigns a request id and logs one line per request.
func requestLog(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := NewRequestID()
			w.Header().Set(RequestIDHeader, id)
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
			log.Info("request",
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration", time.Since(start),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// Status maps an API error code to its HTTP status.
func Status(code model.ErrorCode) int {
	switch code {
	case model.ErrNoInput, model.ErrInvalidInput:
		return http.StatusBadRequest
	case model.ErrBlobTooLarge:
		return http.StatusRequestEntityTooLarge
	case model.ErrEncryptionFailed, model.ErrDownloadFailed:
		return http.StatusBadGateway
	case model.ErrUploadFailed:
		return http.StatusServiceUnavailable
	case model.ErrAccessDenied:
		return http.StatusForbidden
	case model.ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	coded := model.ToCoded(err)
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		coded = &model.CodedError{Code: model.ErrBlobTooLarge, Message: "request body too large"}
	}
	if coded.Code == model.ErrUploadFailed {
		coded.Suggestion = uploadSuggestion
	}
	coded.RequestID = RequestID(r.Context())
	status := Status(coded.Code)
	if status >= 500 {
		s.logger().Error("request failed", "request_id", coded.RequestID, "code", coded.Code, "err", err)
	} else {
		s.logger().Debug("request rejected", "request_id", coded.RequestID, "code", coded.Code, "err", err)
	}
	writeJSON(w, status, coded)
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, code model.ErrorCode, msg string) {
	s.writeError(w, r, &model.Error{Kind: model.KindInvalidInput, Code: code, Message: msg})
}
