package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/livepoll"
)

// Session is one WebSocket client and the engine it drives.
type Session struct {
	ID          string
	Conn        *websocket.Conn
	Manager     *ConnectionManager
	ConnectedAt time.Time

	engine  *livepoll.Engine
	watcher *livepoll.Watcher
	local   chan livepoll.Notice // notices raised by the gateway itself
	done    chan struct{}
}

func (s *Session) run(parent context.Context) {
	defer close(s.done)

	ctx, cancel := context.WithCancel(parent)
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.writePump(ctx)
	}()

	if err := s.engine.Connect(ctx); err != nil {
		log.Error().Err(err).Str("connection_id", s.ID).Msg("failed to connect session")
	}
	s.readPump(ctx)

	cancel()
	<-writeDone

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer leaveCancel()
	if err := s.engine.Disconnect(leaveCtx); err != nil {
		log.Error().Err(err).Str("connection_id", s.ID).Msg("failed to disconnect session")
	}
	s.watcher.Close()
	s.Conn.Close()
	s.Manager.unregisterSession(s)
}

// writePump is the only writer on the socket. It forwards state snapshots and notices
// and exits after a kick, a write error or shutdown.
func (s *Session) writePump(ctx context.Context) {
	cfg := s.Manager.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	states := s.watcher.States()
	notices := s.watcher.Notices()

	for {
		select {
		case <-ctx.Done():
			s.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case st, ok := <-states:
			if !ok {
				return
			}
			if err := s.write(ServerMessage{Type: ServerState, State: &st}); err != nil {
				return
			}

		case n, ok := <-notices:
			if !ok {
				return
			}
			if n.Kind == livepoll.NoticeKicked {
				s.write(ServerMessage{Type: ServerKicked, Notice: &n})
				s.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, n.Message))
				log.Info().Str("connection_id", s.ID).Msg("session kicked")
				return
			}
			if err := s.write(ServerMessage{Type: ServerNotice, Notice: &n}); err != nil {
				return
			}

		case n := <-s.local:
			if err := s.write(ServerMessage{Type: ServerNotice, Notice: &n}); err != nil {
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", s.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

func (s *Session) write(msg ServerMessage) error {
	msg.Timestamp = time.Now().UTC()
	s.Conn.SetWriteDeadline(time.Now().Add(s.Manager.config.WriteTimeout))
	if err := s.Conn.WriteJSON(msg); err != nil {
		log.Error().
			Err(err).
			Str("connection_id", s.ID).
			Msg("failed to write message to WebSocket")
		return err
	}
	return nil
}

// readPump reads client commands until the socket closes or the client disconnects.
func (s *Session) readPump(ctx context.Context) {
	cfg := s.Manager.config
	s.Conn.SetReadLimit(cfg.MaxMessageSize)
	s.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", s.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}
		s.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.pushLocal(livepoll.Notice{Kind: livepoll.NoticeRejected, Message: "Malformed message"})
			continue
		}

		log.Debug().
			Str("connection_id", s.ID).
			Str("type", string(msg.Type)).
			Msg("received client message")

		done, err := dispatch(ctx, s.engine, msg)
		switch {
		case errors.Is(err, errUnknownMessage):
			s.pushLocal(livepoll.Notice{Kind: livepoll.NoticeRejected, Message: "Unknown command"})
		case errors.Is(err, livepoll.ErrClosed):
			return
		case err != nil:
			log.Debug().Err(err).Str("connection_id", s.ID).Msg("command failed")
		}
		if done {
			return
		}
	}
}

func (s *Session) pushLocal(n livepoll.Notice) {
	select {
	case s.local <- n:
	default:
	}
}
