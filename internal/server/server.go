// Package server serves configured DataTables grids over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"

	"github.com/gnemet/datatables"
	"github.com/gnemet/datatables/internal/config"
	"github.com/gnemet/datatables/internal/sqlselect"
)

const requestIDHeader = "X-Request-ID"

type ctxKey int

const loggerKey ctxKey = iota

// Server routes grid requests to the current registry.
type Server struct {
	cfg      config.ServerConfig
	registry atomic.Pointer[Registry]
	cache    *sqlselect.Cache
	logger   *slog.Logger
	srv      *http.Server
}

func New(cfg config.ServerConfig, reg *Registry, cache *sqlselect.Cache, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, cache: cache, logger: logger}
	s.registry.Store(reg)
	return s
}

// Swap installs a new registry and returns the previous one. Requests
// already running keep the registry they started with; Retire the returned
// registry to close its pools once they finish.
func (s *Server) Swap(reg *Registry) *Registry {
	return s.registry.Swap(reg)
}

// acquire returns the current registry with the caller entered into it,
// or nil when none is installed.
func (s *Server) acquire() *Registry {
	for {
		reg := s.registry.Load()
		if reg == nil {
			return nil
		}
		if reg.enter() {
			return reg
		}
		if s.registry.Load() == reg {
			return nil
		}
	}
}

// Handler returns the routed handler with CORS and compression applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/healthz", s.health)
	r.Get("/grids", s.listGrids)
	r.Get("/grids/{name}", s.serveGrid)
	r.Post("/grids/{name}", s.serveGrid)

	var h http.Handler = r
	if s.cfg.Gzip {
		h = gzhttp.GzipHandler(h)
	}
	if len(s.cfg.CORSOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type", requestIDHeader},
		}).Handler(h)
	}
	return h
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Grid server listening", "addr", s.cfg.Addr, "grids", s.registry.Load().Names())
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("Shutdown complete")
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)

		logger := s.logger.With("request_id", id)
		ctx := context.WithValue(r.Context(), loggerKey, logger)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.Info("Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start))
	})
}

func loggerFrom(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return fallback
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) listGrids(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"grids": s.registry.Load().Names()})
}

func (s *Server) serveGrid(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	reg := s.acquire()
	if reg == nil {
		http.Error(w, "no grids loaded", http.StatusServiceUnavailable)
		return
	}
	defer reg.leave()

	grid, ok := reg.Grid(name)
	if !ok {
		http.Error(w, "unknown grid "+name, http.StatusNotFound)
		return
	}

	logger := loggerFrom(r.Context(), s.logger).With("grid", name)
	h := datatables.NewHandler(func(r *http.Request) (*datatables.DataTables, error) {
		dt, err := datatables.New(r.Context(), grid.Builder(),
			datatables.WithLogger(logger),
			datatables.WithAnalysisCache(s.cache))
		if err != nil {
			return nil, err
		}
		if err := grid.Configure(dt); err != nil {
			return nil, err
		}
		return dt, nil
	}, logger)
	h.ServeHTTP(w, r)
}
