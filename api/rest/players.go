package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/mmosocial/game/player"
	mw "github.com/kasuganosora/mmosocial/middleware"
)

// PlayerHandler exposes the identity rows the social services read, plus the
// hooks the identity service calls when a profile or avatar changes.
type PlayerHandler struct {
	dir *player.Directory
	sm  *player.SessionManager
}

func NewPlayerHandler(dir *player.Directory, sm *player.SessionManager) *PlayerHandler {
	return &PlayerHandler{dir: dir, sm: sm}
}

// Get handles GET /api/players/:id.
func (h *PlayerHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	p, err := h.dir.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ctx := c.Request.Context()
	online := h.sm.IsOnline(ctx, id)
	resp := gin.H{"player": p, "online": online}
	if !online {
		if at, ok := h.sm.LastSeen(ctx, id); ok {
			resp["last_seen_at"] = at.UTC().Format(time.RFC3339)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// TouchProfile handles POST /api/players/me/profile/touch.
func (h *PlayerHandler) TouchProfile(c *gin.Context) {
	v, err := h.dir.TouchProfile(c.Request.Context(), mw.GetPlayerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile_version": v})
}

// TouchAvatar handles POST /api/players/me/avatar/touch.
func (h *PlayerHandler) TouchAvatar(c *gin.Context) {
	v, err := h.dir.TouchAvatar(c.Request.Context(), mw.GetPlayerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"avatar_version": v})
}
