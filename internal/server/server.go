// Package server exposes the orchestrator over HTTP: run triggers, the
// catalog's selection toggles, the job log as a snapshot and as a
// websocket stream, and Prometheus metrics.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/healthsynth/internal/catalog"
	"codeberg.org/mutker/healthsynth/internal/errors"
	"codeberg.org/mutker/healthsynth/internal/joblog"
	"codeberg.org/mutker/healthsynth/internal/logger"
	"codeberg.org/mutker/healthsynth/internal/orchestrator"
	"codeberg.org/mutker/healthsynth/internal/telemetry"
	"github.com/gorilla/mux"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

type Server struct {
	orch     *orchestrator.Orchestrator
	catalog  *catalog.Catalog
	sink     *joblog.Sink
	recorder telemetry.Recorder
	log      logger.Logger
	streams  *streamHub
	started  time.Time

	// defaults is merged into every run request.
	defaults orchestrator.Request

	// runCtx outlives the HTTP request that started a run.
	runCtx    context.Context
	cancelRun context.CancelFunc
	runs      sync.WaitGroup

	mu   sync.Mutex
	last *orchestrator.Report
}

type Option func(*Server)

// WithDefaults sets request fields applied when a run request omits them.
func WithDefaults(req orchestrator.Request) Option {
	return func(s *Server) { s.defaults = req }
}

func WithRecorder(rec telemetry.Recorder) Option {
	return func(s *Server) { s.recorder = rec }
}

func New(orch *orchestrator.Orchestrator, cat *catalog.Catalog, sink *joblog.Sink, opts ...Option) *Server {
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		orch:      orch,
		catalog:   cat,
		sink:      sink,
		recorder:  telemetry.NewService(telemetry.Config{}),
		log:       logger.Component("server"),
		streams:   newStreamHub(),
		started:   time.Now(),
		runCtx:    runCtx,
		cancelRun: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP handler for every route.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/authorize", s.handleAuthorize).Methods(http.MethodPost)
	api.HandleFunc("/generate", s.handleGenerate).Methods(http.MethodPost)
	api.HandleFunc("/delete", s.handleDelete).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	api.HandleFunc("/log", s.handleLog).Methods(http.MethodGet)
	api.HandleFunc("/log", s.handleClearLog).Methods(http.MethodDelete)
	api.HandleFunc("/log/stream", s.handleStream).Methods(http.MethodGet)

	api.HandleFunc("/catalog", s.handleCatalog).Methods(http.MethodGet)
	api.HandleFunc("/catalog/{name}", s.handleSelect).Methods(http.MethodPut)

	router.Handle("/metrics", s.recorder.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	return router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down:
// open streams are closed and in-flight runs are cancelled and awaited.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	errFactory := errors.New()

	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errFactory.Wrap(errors.ErrInitFailed, err)
		}
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.streams.closeAll()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	if err != nil {
		return errFactory.Wrap(errors.ErrShutdownFailed, err)
	}
	return nil
}

// Close cancels runs started through the server and waits for them.
func (s *Server) Close() {
	s.cancelRun()
	s.runs.Wait()
}

// track records the report of a background run once it arrives.
func (s *Server) track(reports <-chan orchestrator.Report) {
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		for r := range reports {
			s.mu.Lock()
			s.last = &r
			s.mu.Unlock()
		}
	}()
}

func (s *Server) lastReport() *orchestrator.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
