// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes the service over HTTP. Routes follow the browser
// front end: scrape, loadData, recompute and search, plus "more like this",
// single-paper lookup and a health check.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pdiddy/paper-search/internal/embedding"
	"github.com/pdiddy/paper-search/internal/index"
	"github.com/pdiddy/paper-search/internal/scrape"
	"github.com/pdiddy/paper-search/internal/search"
	"github.com/pdiddy/paper-search/internal/service"
	"github.com/pdiddy/paper-search/internal/store"
	"github.com/pdiddy/paper-search/pkg/types"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Server is the HTTP surface of a service.
type Server struct {
	svc    *service.Service
	cfg    types.ServerConfig
	logger *slog.Logger
	router *chi.Mux
}

// New returns a server routing to svc.
func New(svc *service.Service, cfg types.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors)
	s.RegisterHTTP(r)
	s.router = r
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// RegisterHTTP mounts the routes on r.
func (s *Server) RegisterHTTP(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/scrape", s.handleScrape)
		r.Get("/loadData", s.handleLoadData)
		r.Post("/recompute", s.handleRecompute)
		r.Post("/search", s.handleSearch)
		r.Post("/similar/{key}", s.handleSimilar)
		r.Get("/papers/{key}", s.handlePaper)
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("server stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// ParseLevel maps a configured level name to a slog level. Unknown names
// give info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// cors allows any origin; preflight requests are answered with 204.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req service.ScrapeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"stderr": err.Error()})
		return
	}

	resp, err := s.svc.Scrape(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scrape.ErrInvalidConfig) {
			status = http.StatusBadRequest
		}
		s.logger.Error("scrape failed", "error", err)
		if resp.Stderr == "" {
			resp.Stderr = err.Error()
		}
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLoadData(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.LoadData(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.Recompute(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// searchRequest is the body of search and similar requests. Authors is a
// substring filter; dates accept YYYY-MM-DD or RFC 3339.
type searchRequest struct {
	Query     string `json:"query"`
	Authors   string `json:"authors"`
	DateStart string `json:"date_start"`
	DateEnd   string `json:"date_end"`
	TopK      *int   `json:"top_k"`
}

func (s *Server) query(req searchRequest) (types.SearchQuery, error) {
	q := types.SearchQuery{
		Text:   req.Query,
		Author: req.Authors,
		TopK:   s.svc.Engine().DefaultTopK(),
	}
	if req.TopK != nil {
		q.TopK = *req.TopK
	}
	var err error
	if q.DateStart, err = parseDate("date_start", req.DateStart); err != nil {
		return q, err
	}
	if q.DateEnd, err = parseDate("date_end", req.DateEnd); err != nil {
		return q, err
	}
	return q, nil
}

func parseDate(field, s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, &search.ValidationError{Field: field, Reason: fmt.Sprintf("%q is not a YYYY-MM-DD date", s)}
}

// resultItem is one search hit as the front end renders it.
type resultItem struct {
	Key           string  `json:"Key"`
	Title         string  `json:"Title"`
	Authors       string  `json:"Authors"`
	DatePublished string  `json:"DatePublished"`
	Similarity    float64 `json:"Similarity"`
	Link          string  `json:"Link"`
	Abstract      string  `json:"Abstract"`
	LocalFilePath string  `json:"LocalFilePath"`
}

func toItems(results []types.SearchResult) []resultItem {
	items := make([]resultItem, 0, len(results))
	for _, r := range results {
		items = append(items, resultItem{
			Key:           r.Key,
			Title:         r.Title,
			Authors:       r.AuthorsString(),
			DatePublished: r.DateString(),
			Similarity:    r.Similarity,
			Link:          r.Link,
			Abstract:      r.Abstract,
			LocalFilePath: r.LocalFilePath,
		})
	}
	return items
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	q, err := s.query(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	results, err := s.svc.Search(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItems(results))
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	q, err := s.query(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	results, err := s.svc.Similar(r.Context(), chi.URLParam(r, "key"), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItems(results))
}

func (s *Server) handlePaper(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Paper(chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var verr *search.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, embedding.ErrEmptyText), errors.Is(err, service.ErrNoRecords):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrDataNotFound), errors.Is(err, store.ErrNotFound), errors.Is(err, index.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, search.ErrIndexUnavailable), errors.Is(err, index.ErrModelMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	} else {
		s.logger.Debug("request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeBody reads a JSON body into v. Unknown fields are ignored and an
// empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
