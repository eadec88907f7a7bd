// Package server exposes health, metrics and read-mostly pulse endpoints
// over HTTP for operators.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/teranos/etlpulse/errors"
	"github.com/teranos/etlpulse/pulse/async"
	"github.com/teranos/etlpulse/pulse/schedule"
	"github.com/teranos/etlpulse/telemetry"
)

// ServerState represents the lifecycle state of the server
type ServerState int32

const (
	ServerStateRunning ServerState = iota
	ServerStateDraining
	ServerStateStopped
)

func (s ServerState) String() string {
	switch s {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Server serves the ops API of one pulse process
type Server struct {
	scheduler *schedule.Scheduler
	history   *schedule.History
	queue     *async.Queue
	joblog    *async.JobLog
	logger    *zap.SugaredLogger

	state     atomic.Int32
	http      *http.Server
	draining  chan struct{}
	drainOnce sync.Once
}

// New creates a server
func New(scheduler *schedule.Scheduler, history *schedule.History, queue *async.Queue, joblog *async.JobLog, logger *zap.SugaredLogger) *Server {
	return &Server{
		scheduler: scheduler,
		history:   history,
		queue:     queue,
		joblog:    joblog,
		logger:    logger.Named("server"),
		draining:  make(chan struct{}),
	}
}

// Router builds the HTTP router
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api/pulse", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/schedules", s.handleListSchedules)
		r.Get("/schedules/{id}", s.handleGetSchedule)
		r.Post("/schedules/{id}/run", s.handleRunSchedule)
		r.Get("/schedules/{id}/history", s.handleScheduleHistory)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/events", s.handleJobEvents)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/jobs/{id}/log", s.handleGetJobLog)
	})
	return r
}

// State returns the current lifecycle state
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

func (s *Server) setState(state ServerState) {
	s.state.Store(int32(state))
	s.logger.Infow("Server state changed", "new_state", state.String())
}

// Start serves on addr until Stop is called. It returns nil after a
// graceful stop.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.setState(ServerStateRunning)
	s.logger.Infow("HTTP server listening", "addr", addr)

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "failed to serve on %s", addr)
	}
	return nil
}

// Stop drains in-flight requests within timeout
func (s *Server) Stop(timeout time.Duration) error {
	s.drainOnce.Do(func() { close(s.draining) })
	if s.http == nil {
		return nil
	}
	s.setState(ServerStateDraining)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.http.Shutdown(ctx)
	s.setState(ServerStateStopped)
	if err != nil {
		return errors.Wrap(err, "server shutdown")
	}
	return nil
}
