// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package publish exposes the HLS output directory over HTTP together with
// the daemon's health, status and metrics endpoints. It serves files, it
// never mutates pipeline state.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/starlitetv/vjd/internal/fsutil"
	"github.com/starlitetv/vjd/internal/journal"
	"github.com/starlitetv/vjd/internal/log"
)

const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownGrace   = 10 * time.Second
	recentSessions  = 10
	rateLimitWindow = time.Minute
)

// SnapshotFunc supplies the live pipeline state for /status. It must be
// safe for concurrent use.
type SnapshotFunc func() Snapshot

// Config carries the HTTP surface's wiring.
type Config struct {
	Addr string
	// Dir is the publish directory holding index.m3u8 and segments.
	Dir string
	// RateLimit is requests per minute per client IP; zero disables
	// limiting.
	RateLimit int
	Snapshot  SnapshotFunc
	Journal   *journal.Store
}

// Server is the read-only HTTP face of the pipeline.
type Server struct {
	cfg    Config
	logger zerolog.Logger
	srv    *http.Server
}

func New(cfg Config) *Server {
	s := &Server{
		cfg:    cfg,
		logger: log.WithComponent("publish"),
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	if cfg.RateLimit > 0 {
		r.Use(httprate.Limit(
			cfg.RateLimit,
			rateLimitWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(rateLimited),
		))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/hls/*", s.handleHLS)
	r.Head("/hls/*", s.handleHLS)

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout / 2,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	return s
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str(log.FieldEvent, "publish.listen").
			Str("addr", s.cfg.Addr).
			Msg("publish server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("publish server: %w", err)
	case <-ctx.Done():
		// Detached but bounded so shutdown can finish after cancellation.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("publish shutdown: %w", err)
		}
		<-errCh
		return nil
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var snap Snapshot
	if s.cfg.Snapshot != nil {
		snap = s.cfg.Snapshot()
	}
	if s.cfg.Journal != nil {
		recent, err := s.cfg.Journal.RecentSessions(r.Context(), recentSessions)
		if err != nil {
			s.logger.Warn().Err(err).Msg("journal query for status failed")
		} else {
			snap.Recent = recent
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Warn().Err(err).Msg("status encode failed")
	}
}

// handleHLS serves one file from the publish directory. Playlists must
// never be cached, players poll them for liveness; segments are immutable
// once written and may be cached briefly.
func (s *Server) handleHLS(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	if rel == "" || strings.HasSuffix(rel, "/") {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	path, err := fsutil.ConfineRelPath(s.cfg.Dir, rel)
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldPath, rel).Msg("rejected hls request path")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if info.IsDir() {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	name := strings.ToLower(info.Name())
	switch {
	case strings.HasSuffix(name, ".m3u8"):
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	case strings.HasSuffix(name, ".ts"):
		w.Header().Set("Content-Type", "video/mp2t")
		w.Header().Set("Cache-Control", "max-age=10")
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func rateLimited(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rateLimitWindow.Seconds())))
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
}

// requestLogger records one line per request at debug level; the publish
// surface is hot (players poll the playlist every few seconds) so anything
// louder would drown the pipeline logs.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str(log.FieldPath, r.URL.Path).
			Int("status", ww.Status()).
			Dur(log.FieldDuration, time.Since(start)).
			Msg("request")
	})
}
