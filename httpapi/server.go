// Package httpapi serves log registration, the ledger registry and
// upload-compare verification over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"xdao.co/veritaslog/ledger"
	"xdao.co/veritaslog/logbundle"
	"xdao.co/veritaslog/model"
	"xdao.co/veritaslog/registrar"
	"xdao.co/veritaslog/storage"
	"xdao.co/veritaslog/verifier"
)

// DefaultMaxBodyBytes bounds request bodies. It leaves room above the
// artifact cap for envelope overhead and form encoding.
const DefaultMaxBodyBytes = 12 << 20

type Registrar interface {
	Register(ctx context.Context, sub registrar.Submission) (registrar.Result, error)
}

type Comparer interface {
	CompareLog(ctx context.Context, logID string, meta logbundle.Meta, candidateText string) (verifier.Result, error)
}

type Server struct {
	Registrar Registrar
	Ledger    ledger.Ledger
	Verifier  Comparer
	Store     storage.BlobStore

	// KeyServers lists committee member ids reported in registration
	// responses.
	KeyServers []string

	MaxBodyBytes int64
	Logger       *slog.Logger
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Server) maxBody() int64 {
	if s.MaxBodyBytes <= 0 {
		return DefaultMaxBodyBytes
	}
	return s.MaxBodyBytes
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLog(s.logger()))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/api", func(api chi.Router) {
		api.Post("/register-log", s.registerLog)
		api.Get("/download-log", s.downloadLog)
		api.Get("/logs", s.listLogs)
		api.Route("/logs/{id}", func(lr chi.Router) {
			lr.Get("/", s.getLog)
			lr.Post("/access-requests", s.requestAccess)
			lr.Post("/approve", s.approve)
			lr.Post("/reject", s.reject)
			lr.Post("/verify", s.verify)
		})
	})
	return r
}

func (s *Server) registerLog(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody())
	req, err := s.decodeRegister(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Registrar.Register(r.Context(), registrar.Submission{
		Title:      req.Title,
		Severity:   req.Severity,
		ModuleName: req.ModuleName,
		Narrative:  req.Narrative,
		Notes:      req.Notes,
		CreatedAt:  req.CreatedAt,
		Owner:      req.Owner,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.RegisterResponse{
		BlobID:        res.BlobID,
		CommitmentHex: res.CommitmentHex,
		LogID:         res.LogID,
		Seal: model.SealInfo{
			IDHex:           res.CommitmentHex,
			Threshold:       res.Threshold,
			ServerObjectIDs: append([]string{}, s.KeyServers...),
			PackageID:       res.Namespace,
		},
		Success: true,
		Message: "Encrypted and uploaded",
	})
}

// decodeRegister accepts a JSON RegisterRequest, or a multipart form with a
// "text" field and a JSON "meta" field.
func (s *Server) decodeRegister(r *http.Request) (model.RegisterRequest, error) {
	var req model.RegisterRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "multipart/form-data" {
		if err := readJSON(r, &req); err != nil {
			return req, jsonError(err)
		}
		return req, nil
	}

	if err := r.ParseMultipartForm(s.maxBody()); err != nil {
		return req, jsonError(err)
	}
	text, meta := r.FormValue("text"), r.FormValue("meta")
	if text == "" || meta == "" {
		return req, &model.Error{Kind: model.KindInvalidInput, Code: model.ErrNoInput, Message: "text and meta are required"}
	}
	dec := json.NewDecoder(strings.NewReader(meta))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, model.Wrap(model.KindInvalidInput, err, "meta is not valid JSON")
	}
	req.Narrative = text
	return req, nil
}

func jsonError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return err
	}
	if errors.Is(err, io.EOF) {
		return &model.Error{Kind: model.KindInvalidInput, Code: model.ErrNoInput, Message: "empty request body"}
	}
	return model.Wrap(model.KindInvalidInput, err, "malformed request body")
}

func (s *Server) downloadLog(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("blobId")
	if ref == "" {
		s.badRequest(w, r, model.ErrNoInput, "blobId is required")
		return
	}
	data, err := s.Store.Get(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, model.Wrap(model.KindDownloadFailure, err, "download blob"))
		return
	}
	w.Header().Set("content-type", "application/octet-stream")
	w.Header().Set("content-length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	limit := ledger.DefaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.badRequest(w, r, model.ErrInvalidInput, "limit must be a positive integer")
			return
		}
		limit = n
	}
	events, err := s.Ledger.Events(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, ledger.ToModel(err))
		return
	}
	if events == nil {
		events = []model.LogEvent{}
	}
	writeJSON(w, http.StatusOK, model.EventList{Events: events})
}

func (s *Server) getLog(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Ledger.Log(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, ledger.ToModel(err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) requestAccess(w http.ResponseWriter, r *http.Request) {
	var body model.AccessRequestBody
	if err := readJSON(r, &body); err != nil {
		s.writeError(w, r, jsonError(err))
		return
	}
	if err := s.Ledger.RequestAccess(r.Context(), chi.URLParam(r, "id"), body.Requester, body.Reason); err != nil {
		s.writeError(w, r, ledger.ToModel(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	var body model.DecisionBody
	if err := readJSON(r, &body); err != nil {
		s.writeError(w, r, jsonError(err))
		return
	}
	if err := s.Ledger.Approve(r.Context(), chi.URLParam(r, "id"), body.Caller, body.Requester); err != nil {
		s.writeError(w, r, ledger.ToModel(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	var body model.DecisionBody
	if err := readJSON(r, &body); err != nil {
		s.writeError(w, r, jsonError(err))
		return
	}
	if err := s.Ledger.Reject(r.Context(), chi.URLParam(r, "id"), body.Caller, body.Requester, body.Reason); err != nil {
		s.writeError(w, r, ledger.ToModel(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody())
	var body model.VerifyRequest
	if err := readJSON(r, &body); err != nil {
		s.writeError(w, r, jsonError(err))
		return
	}
	sev, err := logbundle.ParseSeverity(body.Meta.Severity)
	if err != nil {
		s.writeError(w, r, model.Wrap(model.KindInvalidInput, err, "meta"))
		return
	}
	meta := logbundle.Meta{
		Title:      body.Meta.Title,
		Severity:   sev,
		ModuleName: body.Meta.ModuleName,
		Notes:      body.Meta.Notes,
		CreatedAt:  body.Meta.CreatedAt,
	}
	res, err := s.Verifier.CompareLog(r.Context(), chi.URLParam(r, "id"), meta, body.Candidate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := model.VerifyResponse{
		Match:       res.Match,
		Mode:        string(res.Mode),
		ExpectedHex: res.Expected.Hex(),
		ComputedHex: res.Computed.Hex(),
	}
	if !res.Match {
		out.Detail = res.Detail(verifier.DefaultDetailPrefix)
	}
	writeJSON(w, http.StatusOK, out)
}
