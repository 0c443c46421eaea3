// Package server provides the HTTP server and routing for the arena engine.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/arena-engine/internal/config"
	"github.com/aristath/arena-engine/internal/events"
	"github.com/aristath/arena-engine/internal/memstore"
	"github.com/aristath/arena-engine/internal/persistence"
)

// engineVersion is surfaced over GET /api/version.
const engineVersion = "1.0.0"

// Config holds everything New needs to assemble the HTTP server.
type Config struct {
	Log     zerolog.Logger
	Config  *config.Config
	Store   *memstore.Store
	Persist *persistence.Store
	Bus     *events.Bus

	// OnReset is invoked by POST /reset after the store has been wiped.
	OnReset func()
	// OnShutdown is invoked by POST /shutdown to cooperatively stop the
	// background arena run; the HTTP response is flushed before it returns.
	OnShutdown func(ctx context.Context)
}

// Server is the chi-based HTTP server exposing the read-only arena API.
type Server struct {
	router        *chi.Mux
	server        *http.Server
	log           zerolog.Logger
	cfg           *config.Config
	store         *memstore.Store
	persist       *persistence.Store
	eventManager  *events.Manager
	statusMonitor *StatusMonitor
	onReset       func()
	onShutdown    func(ctx context.Context)
}

// New constructs the HTTP server and wires its routes.
func New(cfg Config) *Server {
	eventManager := events.NewManager(cfg.Bus, cfg.Log)

	s := &Server{
		router:       chi.NewRouter(),
		log:          cfg.Log.With().Str("component", "server").Logger(),
		cfg:          cfg.Config,
		store:        cfg.Store,
		persist:      cfg.Persist,
		eventManager: eventManager,
		onReset:      cfg.OnReset,
		onShutdown:   cfg.OnShutdown,
	}

	s.statusMonitor = NewStatusMonitor(eventManager, cfg.Store, cfg.Log)

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes(cfg.Bus)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes(bus *events.Bus) {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/version", s.handleVersion)

		eventsStreamHandler := NewEventsStreamHandler(bus, s.cfg.DataDir, s.log)
		r.Get("/events/stream", eventsStreamHandler.ServeHTTP)

		logHandlers := NewLogHandlers(s.log, s.cfg.DataDir)
		r.Get("/logs/list", logHandlers.HandleListLogs)
		r.Get("/logs", logHandlers.HandleGetLogs)
		r.Get("/logs/errors", logHandlers.HandleGetErrors)

		r.Get("/config", s.handleConfig)
		r.Get("/data", s.handleData)
		r.Get("/rankings", s.handleRankings)
		r.Get("/progress", s.handleProgress)

		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/latest", s.handleLatestSession)
		r.Get("/sessions/{id}", s.handleGetSession)

		r.Post("/reset", s.handleReset)
		r.Post("/shutdown", s.handleShutdown)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": engineVersion})
}

// handleConfig serves the static arena configuration: capital, date range, models.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Config())
}

// handleData serves the full live snapshot: session, progress, and every agent's state.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Snapshot())
}

// handleRankings serves the current leaderboard, sorted by total assets descending.
func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Rankings())
}

// handleProgress serves the run's current/total/percent progress projection.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Snapshot().Progress)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.persist.ListSessions(20)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list sessions")
		s.writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleLatestSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.persist.LatestUnfinishedSession()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load latest session")
		s.writeError(w, http.StatusInternalServerError, "failed to load latest session")
		return
	}
	if sess == nil {
		s.writeError(w, http.StatusNotFound, "no session found")
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.persist.GetSession(id)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", id).Msg("failed to load session")
		s.writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if sess == nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// handleReset wipes the in-memory projection back to empty. It does not
// touch the durable session history; a fresh run starts a new session row
// the next time the scheduler begins a day.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.store.Reset()
	if s.onReset != nil {
		s.onReset()
	}
	s.eventManager.Emit(events.SessionStatusChanged, "server", map[string]interface{}{"status": "reset"})
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleShutdown acknowledges the request before triggering the
// cooperative shutdown, since the shutdown itself may tear down this
// server's listener.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "shutting_down"})
	if s.onShutdown != nil {
		go s.onShutdown(context.Background())
	}
}

// Start starts the HTTP server and background monitors. Blocks until the
// listener closes.
func (s *Server) Start() error {
	s.statusMonitor.Start(10 * time.Second)
	s.log.Info().Int("port", s.cfg.Port).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
