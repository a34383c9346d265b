// Package server is the HTTP shell around the extraction pipeline.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/ocr-service/internal/common"
	"github.com/joseph-ayodele/ocr-service/internal/entity"
	"github.com/joseph-ayodele/ocr-service/internal/pipeline"
)

const (
	ServiceName    = "OCR Microservice"
	ServiceVersion = "1.0.0"

	// formOverhead is allowed on top of the file ceiling for the other form fields.
	formOverhead = 1 << 20
	// maxFormMemory is held in memory before multipart parts spill to disk.
	maxFormMemory = 8 << 20
)

// Extractor runs one extraction request.
type Extractor interface {
	Extract(ctx context.Context, req pipeline.Request) (*entity.ExtractionResult, error)
}

type Config struct {
	MaxFileBytes  int64
	DefaultEngine string
	Engines       []string // configured engines, reported by /health
	AuthEnabled   bool
	AuthToken     string
}

type Server struct {
	ext    Extractor
	cfg    Config
	logger *slog.Logger
}

func New(ext Extractor, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{ext: ext, cfg: cfg, logger: logger}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("POST /ocr/extract", s.requireToken(http.HandlerFunc(s.handleExtract)))
	return cors(s.withRequestContext(mux))
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, map[string]any{
		"status":  "ok",
		"service": ServiceName,
		"version": ServiceVersion,
	}, http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, map[string]any{
		"status":      "ok",
		"engine":      s.cfg.DefaultEngine,
		"engines":     s.cfg.Engines,
		"use_layout":  false,
		"max_file_mb": s.cfg.MaxFileBytes >> 20,
	}, http.StatusOK)
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := common.LoggerFromContext(ctx, s.logger)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileBytes+formOverhead)
	if err := s.parseForm(r); err != nil {
		log.Warn("http.extract.bad_form", "error", err)
		s.respondError(w, err)
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	req := pipeline.Request{
		IdempotencyKey: r.FormValue("idempotency_key"),
		Engine:         r.FormValue("engine"),
		FileURL:        r.FormValue("file_url"),
	}
	if raw := strings.TrimSpace(r.FormValue("use_layout")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.respondError(w, common.ValidationError("'use_layout' must be a boolean"))
			return
		}
		req.UseLayout = v
	}

	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer func(f multipart.File) { _ = f.Close() }(file)
		req.Upload = file
		// the acquirer enforces the size ceiling, after request validation
		req.Filename = header.Filename
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		s.respondError(w, common.ValidationErrorf("invalid 'file' part: %v", err))
		return
	}

	res, err := s.ext.Extract(ctx, req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, res, http.StatusOK)
}

// parseForm accepts multipart bodies and, for URL-only requests, urlencoded ones.
func (s *Server) parseForm(r *http.Request) error {
	err := r.ParseMultipartForm(maxFormMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err == nil {
		return nil
	}
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
		return common.PayloadTooLargeError(s.cfg.MaxFileBytes)
	}
	return common.ValidationErrorf("invalid form body: %v", err)
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := common.HTTPStatus(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	respondJSON(w, errorBody{Error: common.ErrorCode(err), Detail: common.ErrorMessage(err)}, status)
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
