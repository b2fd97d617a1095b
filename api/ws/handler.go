package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/mmosocial/game/player"
	mw "github.com/kasuganosora/mmosocial/middleware"
	"github.com/kasuganosora/mmosocial/notify"
	"go.uber.org/zap"
)

// ChatLister resolves the group chats a player belongs to.
type ChatLister interface {
	ChatIDsFor(ctx context.Context, playerID int64) ([]int64, error)
}

// Handler is the Gin handler for GET /ws.
type Handler struct {
	verifier mw.Verifier
	sm       *player.SessionManager
	hub      *notify.Hub
	chats    ChatLister
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// An empty allowedOrigins permits all origins (development only).
func NewHandler(
	verifier mw.Verifier,
	allowedOrigins []string,
	sm *player.SessionManager,
	hub *notify.Hub,
	chats ChatLister,
	router *Router,
	logger *zap.Logger,
) *Handler {
	h := &Handler{
		verifier: verifier,
		sm:       sm,
		hub:      hub,
		chats:    chats,
		router:   router,
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     CheckOrigin(allowedOrigins),
	}
	return h
}

// CheckOrigin returns an origin predicate accepting the listed origins, or
// every origin when the list is empty.
func CheckOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, o := range allowed {
			if o == origin {
				return true
			}
		}
		return false
	}
}

// ServeWS handles GET /ws?token=<jwt>.
func (h *Handler) ServeWS(c *gin.Context) {
	tokenStr := mw.BearerToken(c)
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	claims, err := h.verifier.Verify(tokenStr)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	sess := player.NewPlayerSession(claims.PlayerID, claims.Username, conn, h.logger)
	sess.RemoteIP = c.ClientIP()

	// Register on the personal channel before reading memberships so an
	// Attach or Detach that lands during the lookup reaches this session.
	h.hub.Register(sess, claims.PlayerID, nil)
	pid := claims.PlayerID
	err = h.hub.JoinChats(ctx, sess, func(ctx context.Context) ([]int64, error) {
		return h.chats.ChatIDsFor(ctx, pid)
	})
	if err != nil {
		h.logger.Error("ws chat lookup failed", zap.Int64("player_id", pid), zap.Error(err))
		Reply(ctx, sess, "error", errorPayload{Code: "INTERNAL", Error: "internal error"})
		sess.Close()
		h.hub.Unregister(sess)
		return
	}
	h.sm.Register(ctx, sess)
	h.logger.Info("player connected",
		zap.Int64("player_id", sess.PlayerID),
		zap.String("conn_id", sess.ConnID),
		zap.Strings("channels", h.hub.Channels(sess)))

	h.readPump(ctx, sess)
}

// readPump reads messages from the WebSocket connection and dispatches them.
func (h *Handler) readPump(ctx context.Context, s *player.PlayerSession) {
	defer h.handleDisconnect(ctx, s)

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.Int64("player_id", s.PlayerID),
					zap.Error(err))
			}
			return
		}
		// Reset read deadline on any message (heartbeat or otherwise).
		s.SetReadDeadline()
		h.router.Dispatch(ctx, s, raw)
	}
}

// handleDisconnect cleans up the session after the connection closes.
func (h *Handler) handleDisconnect(ctx context.Context, s *player.PlayerSession) {
	s.Close()
	h.hub.Unregister(s)
	h.sm.Unregister(ctx, s)
	h.logger.Info("player disconnected",
		zap.Int64("player_id", s.PlayerID),
		zap.String("conn_id", s.ConnID))
}
