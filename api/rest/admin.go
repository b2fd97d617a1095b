package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/mmosocial/game/player"
	"github.com/kasuganosora/mmosocial/notify"
	"github.com/kasuganosora/mmosocial/scheduler"
	"go.uber.org/zap"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	sm     *player.SessionManager
	hub    *notify.Hub
	sched  *scheduler.Scheduler
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(sm *player.SessionManager, hub *notify.Hub, sched *scheduler.Scheduler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{sm: sm, hub: hub, sched: sched, logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online_players":  h.sm.PlayerCount(),
		"connections":     h.sm.Count(),
		"notify":          h.hub.Stats(),
		"scheduler_tasks": h.sched.ListTickers(),
	})
}

// ListSessions returns a snapshot of the local connections.
// GET /api/admin/sessions
func (h *AdminHandler) ListSessions(c *gin.Context) {
	type sessionInfo struct {
		ConnID      string   `json:"conn_id"`
		PlayerID    int64    `json:"player_id"`
		Username    string   `json:"username"`
		Transport   string   `json:"transport"`
		ConnectedAt int64    `json:"connected_at"`
		Channels    []string `json:"channels"`
	}
	sessions := h.sm.All()
	result := make([]sessionInfo, 0, len(sessions))
	for _, s := range sessions {
		result = append(result, sessionInfo{
			ConnID:      s.ConnID,
			PlayerID:    s.PlayerID,
			Username:    s.Username,
			Transport:   s.Transport,
			ConnectedAt: s.ConnectedAt.Unix(),
			Channels:    h.hub.Channels(s),
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": result, "count": len(result)})
}

// KickPlayer forcibly disconnects every local connection of a player.
// POST /api/admin/kick/:id
func (h *AdminHandler) KickPlayer(c *gin.Context) {
	playerID, ok := paramID(c, "id")
	if !ok {
		return
	}
	n := h.sm.Kick(playerID)
	if n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not online", "code": "NOT_FOUND"})
		return
	}
	h.logger.Info("admin kicked player", zap.Int64("player_id", playerID), zap.Int("connections", n))
	c.JSON(http.StatusOK, gin.H{"ok": true, "connections": n})
}

// ListSchedulerTasks returns all registered ticker tasks with their run stats.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Tasks()})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// If adminKey is empty all admin endpoints answer 503, so a deployment
// without a key never exposes them.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		if c.GetHeader("X-Admin-Key") != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
