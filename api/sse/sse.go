package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/mmosocial/game/player"
	mw "github.com/kasuganosora/mmosocial/middleware"
	"github.com/kasuganosora/mmosocial/notify"
	"go.uber.org/zap"
)

const defaultKeepalive = 30 * time.Second

// ChatLister resolves the group chats a player belongs to.
type ChatLister interface {
	ChatIDsFor(ctx context.Context, playerID int64) ([]int64, error)
}

// Handler handles the SSE endpoint.
type Handler struct {
	verifier  mw.Verifier
	sm        *player.SessionManager
	hub       *notify.Hub
	chats     ChatLister
	logger    *zap.Logger
	keepalive time.Duration
}

// NewHandler creates a new SSE Handler.
func NewHandler(verifier mw.Verifier, sm *player.SessionManager, hub *notify.Hub, chats ChatLister, logger *zap.Logger) *Handler {
	return &Handler{verifier: verifier, sm: sm, hub: hub, chats: chats, logger: logger, keepalive: defaultKeepalive}
}

// frame is the envelope split back into its SSE event name and data line.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServeSSE handles GET /sse?token=<jwt>.
// It streams the player's personal and group notifications as server-sent
// events, one event per envelope.
func (h *Handler) ServeSSE(c *gin.Context) {
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

	ctx := c.Request.Context()
	sess := player.NewStreamSession(claims.PlayerID, claims.Username, h.logger)
	sess.RemoteIP = c.ClientIP()
	h.hub.Register(sess, claims.PlayerID, nil)
	defer func() {
		sess.Close()
		h.hub.Unregister(sess)
	}()

	pid := claims.PlayerID
	err = h.hub.JoinChats(ctx, sess, func(ctx context.Context) ([]int64, error) {
		return h.chats.ChatIDsFor(ctx, pid)
	})
	if err != nil {
		h.logger.Error("sse chat lookup failed", zap.Int64("player_id", pid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "INTERNAL"})
		return
	}
	h.sm.Register(ctx, sess)
	defer h.sm.Unregister(context.WithoutCancel(ctx), sess)

	// Set SSE headers.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	// Send initial connected event.
	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"conn_id\":%q}\n\n", sess.ConnID)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case raw := <-sess.SendChan:
			var f frame
			if err := json.Unmarshal(raw, &f); err != nil || f.Event == "" {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", f.Event, f.Data)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-sess.Done:
			// Kicked or shut down.
			return

		case <-ctx.Done():
			return
		}
	}
}
