// Package gateway exposes live poll sessions over WebSockets and a read-only Connect API.
package gateway

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/pollsync/go/internal/livepoll"
	"github.com/mcdev12/pollsync/go/internal/livepoll/feed"
	"github.com/mcdev12/pollsync/go/internal/store"
)

// Config holds configuration for the gateway service
type Config struct {
	Connection     ConnectionConfig
	Engine         livepoll.Config
	AllowedOrigins []string
	FeedStats      func() any // optional, reported on /ws/stats
}

func DefaultConfig() Config {
	return Config{
		Connection:     DefaultConnectionConfig(),
		Engine:         livepoll.DefaultConfig(),
		AllowedOrigins: []string{"*"},
	}
}

// Service wires sessions, the read API and the HTTP routes over one store and feed.
type Service struct {
	config            Config
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateService      *StateService
}

func NewService(config Config, s store.Store, f feed.Feed, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	newEngine := func() *livepoll.Engine {
		return livepoll.New(s, f, clock, config.Engine)
	}
	cm := NewConnectionManager(config.Connection, newEngine)

	return &Service{
		config:            config,
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, config.FeedStats),
		stateService:      NewStateService(s, clock, config.Engine.Policy),
	}
}

// RegisterRoutes registers WebSocket, read API and health routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)

	path, handler := NewStateServiceHandler(s.stateService)
	mux.Handle(path, handler)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
	log.Info().Msg("gateway routes registered")
}

// Handler returns every route behind CORS, served over h2c.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})
	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

// Stats returns connection statistics.
func (s *Service) Stats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}

// Shutdown disconnects all sessions.
func (s *Service) Shutdown(ctx context.Context) {
	s.connectionManager.Shutdown(ctx)
}
