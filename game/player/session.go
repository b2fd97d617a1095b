package player

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendChanBuf   = 256
	writeDeadline = 10 * time.Second
	readDeadlineS = 60 * time.Second
	pingInterval  = 30 * time.Second // server-side WS ping
)

// Packet is the inbound WS message envelope. Outbound notification frames
// use notify.Envelope instead.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PlayerSession is one live connection of a player. A player may hold
// several at once (several tabs, a WS and an SSE stream).
type PlayerSession struct {
	ConnID      string
	PlayerID    int64
	Username    string
	Transport   string // "ws" or "sse"
	ConnectedAt time.Time

	Conn     *websocket.Conn // nil for SSE sessions
	SendChan chan []byte
	Done     chan struct{}
	TraceID  string
	RemoteIP string
	LastSeq  uint64

	closeOnce sync.Once
	logger    *zap.Logger
}

// NewPlayerSession creates a WebSocket session with its write goroutine started.
func NewPlayerSession(playerID int64, username string, conn *websocket.Conn, logger *zap.Logger) *PlayerSession {
	s := newSession(playerID, username, "ws", logger)
	s.Conn = conn
	go s.writePump()
	return s
}

// NewStreamSession creates a session whose frames are drained by the caller
// from SendChan (used by the SSE endpoint).
func NewStreamSession(playerID int64, username string, logger *zap.Logger) *PlayerSession {
	return newSession(playerID, username, "sse", logger)
}

func newSession(playerID int64, username, transport string, logger *zap.Logger) *PlayerSession {
	return &PlayerSession{
		ConnID:      uuid.NewString(),
		PlayerID:    playerID,
		Username:    username,
		Transport:   transport,
		ConnectedAt: time.Now(),
		SendChan:    make(chan []byte, sendChanBuf),
		Done:        make(chan struct{}),
		logger:      logger,
	}
}

// ID identifies the connection in the notification registry.
func (s *PlayerSession) ID() string { return s.ConnID }

// Deliver queues a notification frame.
func (s *PlayerSession) Deliver(frame []byte) { s.SendRaw(frame) }

// writePump drains SendChan and writes to the WebSocket connection.
// Also sends periodic WebSocket pings to detect dead connections quickly.
func (s *PlayerSession) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Conn.Close()
	for {
		select {
		case data, ok := <-s.SendChan:
			if !ok {
				return
			}
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log().Warn("ws write error",
					zap.Int64("player_id", s.PlayerID),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.Done:
			_ = s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes v and sends it non-blocking.
func (s *PlayerSession) Send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.SendRaw(data)
}

// SendRaw sends raw bytes non-blocking. Drops if channel full or closed.
func (s *PlayerSession) SendRaw(data []byte) {
	if s.IsClosed() {
		return
	}
	select {
	case s.SendChan <- data:
	case <-s.Done:
	default:
		if !s.IsClosed() {
			s.log().Warn("send channel full, dropping frame",
				zap.Int64("player_id", s.PlayerID),
				zap.String("conn_id", s.ConnID))
		}
	}
}

// Close signals the writer to shut down.
func (s *PlayerSession) Close() {
	s.closeOnce.Do(func() { close(s.Done) })
}

// IsClosed returns true if the session has been closed.
func (s *PlayerSession) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}

// SendHeartbeatPong answers a client ping.
func (s *PlayerSession) SendHeartbeatPong(clientTS int64) {
	type pongPayload struct {
		ClientTS int64 `json:"client_ts"`
		ServerTS int64 `json:"server_ts"`
	}
	payload, _ := json.Marshal(pongPayload{
		ClientTS: clientTS,
		ServerTS: time.Now().UnixMilli(),
	})
	s.Send(&Packet{Type: "pong", Payload: payload})
}

// SetReadDeadline resets the WebSocket read deadline to 60 s from now.
func (s *PlayerSession) SetReadDeadline() {
	_ = s.Conn.SetReadDeadline(time.Now().Add(readDeadlineS))
}

func (s *PlayerSession) log() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}
