// Package server exposes the loaded database and its analytics over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sanspareilsmyn/sqlitelens/internal/analytics"
	"github.com/sanspareilsmyn/sqlitelens/internal/session"
	"github.com/sanspareilsmyn/sqlitelens/internal/source"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Loader installs a database buffer as the current database.
type Loader interface {
	Load(ctx context.Context, req session.LoadRequest) (session.Info, error)
}

// Options wires the server to the rest of the service. S3 is nil when no
// bucket is configured.
type Options struct {
	Addr            string
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
	Table           string

	Session *session.Session
	Cache   *analytics.Cache
	Loader  Loader
	Files   *source.DirStore
	S3      source.Store
}

// Server is the HTTP API.
type Server struct {
	opts    Options
	handler http.Handler
	logger  *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	s := &Server{opts: opts, logger: logger}
	s.handler = s.routes()
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/database", s.uploadDatabase).Methods(http.MethodPost)
	api.HandleFunc("/database", s.currentDatabase).Methods(http.MethodGet)
	api.HandleFunc("/tables", s.listTables).Methods(http.MethodGet)
	api.HandleFunc("/tables/{table}/rows", s.tableRows).Methods(http.MethodGet)
	api.HandleFunc("/tables/{table}/rows/{id}", s.lookupRow).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.stats).Methods(http.MethodGet)

	api.HandleFunc("/files", s.listFiles).Methods(http.MethodGet)
	api.HandleFunc("/files/{name}/load", s.loadFile).Methods(http.MethodPost)
	api.HandleFunc("/files/{name}", s.deleteFile).Methods(http.MethodDelete)

	api.HandleFunc("/s3/objects", s.listObjects).Methods(http.MethodGet)
	api.HandleFunc("/s3/objects/{key:.+}/load", s.loadObject).Methods(http.MethodPost)
	api.HandleFunc("/s3/objects/{key:.+}", s.deleteObject).Methods(http.MethodDelete)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.opts.Addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrListenFailed, err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server...", zap.Duration("timeout", s.opts.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%w: %w", ErrShutdownIncomplete, err)
	}
	<-serveErr
	s.logger.Info("HTTP server stopped.")
	return nil
}
