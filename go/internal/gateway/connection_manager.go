package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/livepoll"
)

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  8192,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// EngineFactory creates the engine for a new socket.
type EngineFactory func() *livepoll.Engine

// ConnectionManager owns every open session. Each socket is one client with its own
// engine; sessions share only the store and the change feed behind the factory.
type ConnectionManager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	upgrader  websocket.Upgrader
	config    ConnectionConfig
	newEngine EngineFactory

	ctx    context.Context
	cancel context.CancelFunc
}

// ConnectionStats summarizes open sessions.
type ConnectionStats struct {
	TotalConnections int `json:"total_connections"`
	JoinedUsers      int `json:"joined_users"`
	Teachers         int `json:"teachers"`
}

func NewConnectionManager(config ConnectionConfig, newEngine EngineFactory) *ConnectionManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionManager{
		sessions: make(map[string]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:    config,
		newEngine: newEngine,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and starts its session.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Session, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	engine := cm.newEngine()
	session := &Session{
		ID:          uuid.New().String(),
		Conn:        conn,
		Manager:     cm,
		ConnectedAt: time.Now(),
		engine:      engine,
		watcher:     engine.Watch(),
		local:       make(chan livepoll.Notice, 8),
		done:        make(chan struct{}),
	}

	cm.registerSession(session)
	go session.run(cm.ctx)

	log.Info().
		Str("connection_id", session.ID).
		Str("session_id", engine.ID()).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return session, nil
}

func (cm *ConnectionManager) registerSession(s *Session) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.sessions[s.ID] = s

	log.Debug().
		Str("connection_id", s.ID).
		Int("total_connections", len(cm.sessions)).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterSession(s *Session) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if _, ok := cm.sessions[s.ID]; !ok {
		return
	}
	delete(cm.sessions, s.ID)

	log.Info().
		Str("connection_id", s.ID).
		Int("total_connections", len(cm.sessions)).
		Msg("connection unregistered")
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{TotalConnections: len(cm.sessions)}
	for _, s := range cm.sessions {
		user := s.engine.State().User
		if user == nil {
			continue
		}
		stats.JoinedUsers++
		if user.IsTeacher() {
			stats.Teachers++
		}
	}
	return stats
}

// Shutdown disconnects every session and waits for them to finish or ctx to end.
func (cm *ConnectionManager) Shutdown(ctx context.Context) {
	cm.cancel()

	cm.mu.RLock()
	sessions := make([]*Session, 0, len(cm.sessions))
	for _, s := range cm.sessions {
		sessions = append(sessions, s)
	}
	cm.mu.RUnlock()

	for _, s := range sessions {
		select {
		case <-s.done:
		case <-ctx.Done():
			log.Warn().Int("open", len(sessions)).Msg("shutdown timed out with open sessions")
			return
		}
	}
	log.Info().Int("closed", len(sessions)).Msg("connection manager shut down")
}
