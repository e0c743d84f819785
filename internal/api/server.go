// Package api exposes the raffle service over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/R3E-Network/raffle_layer/internal/events"
	"github.com/R3E-Network/raffle_layer/internal/metrics"
	"github.com/R3E-Network/raffle_layer/internal/raffle"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// Server serves the raffle HTTP API.
type Server struct {
	engine   *raffle.Engine
	store    raffle.Store
	bus      *events.Bus
	log      *logger.Logger
	upgrader websocket.Upgrader
	http     *http.Server
}

// Config configures the API server.
type Config struct {
	Port   int
	Engine *raffle.Engine
	Store  raffle.Store
	Bus    *events.Bus
	Logger *logger.Logger
}

// NewServer creates the API server.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("api")
	}

	s := &Server{
		engine: cfg.Engine,
		store:  cfg.Store,
		bus:    cfg.Bus,
		log:    cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the HTTP route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Post("/enter", s.handleEnter)
	r.Get("/eligibility", s.handleEligibility)
	r.Post("/selection", s.handleTriggerSelection)
	r.Get("/state", s.handleState)
	r.Get("/players/{index}", s.handlePlayer)
	r.Get("/winner", s.handleWinner)
	r.Get("/draws", s.handleDraws)
	r.Get("/entries", s.handleEntries)
	r.Get("/events", s.handleEvents)

	return r
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.log.WithField("addr", s.http.Addr).Info("http server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
