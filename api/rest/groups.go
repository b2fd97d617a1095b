package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/mmosocial/game/group"
	mw "github.com/kasuganosora/mmosocial/middleware"
)

// GroupHandler handles the group chat endpoints.
type GroupHandler struct {
	svc *group.Service
}

// NewGroupHandler creates a GroupHandler.
func NewGroupHandler(svc *group.Service) *GroupHandler {
	return &GroupHandler{svc: svc}
}

// Create handles POST /api/groups.
func (h *GroupHandler) Create(c *gin.Context) {
	var req struct {
		Name        string  `json:"name" binding:"required"`
		Description string  `json:"description"`
		MemberIDs   []int64 `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	chat, err := h.svc.Create(c.Request.Context(), mw.GetPlayerID(c), req.MemberIDs,
		group.Metadata{Name: req.Name, Description: req.Description})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

// List handles GET /api/groups.
func (h *GroupHandler) List(c *gin.Context) {
	groups, err := h.svc.ListForPlayer(c.Request.Context(), mw.GetPlayerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// Detail handles GET /api/groups/:id.
func (h *GroupHandler) Detail(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}
	d, err := h.svc.Details(c.Request.Context(), mw.GetPlayerID(c), chatID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// AddMember handles POST /api/groups/:id/members.
func (h *GroupHandler) AddMember(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		PlayerID int64 `json:"player_id" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	chat, err := h.svc.AddMember(c.Request.Context(), mw.GetPlayerID(c), chatID, req.PlayerID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

// RemoveMember handles DELETE /api/groups/:id/members/:uid. Removing oneself
// is leaving.
func (h *GroupHandler) RemoveMember(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}
	target, ok := paramID(c, "uid")
	if !ok {
		return
	}
	deleted, err := h.svc.RemoveMember(c.Request.Context(), mw.GetPlayerID(c), chatID, target)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "removed", "group_deleted": deleted})
}

// SetAdmin handles PUT /api/groups/:id/admins/:uid with {"is_admin": bool}.
func (h *GroupHandler) SetAdmin(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}
	target, ok := paramID(c, "uid")
	if !ok {
		return
	}
	var req struct {
		IsAdmin *bool `json:"is_admin" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.svc.SetAdmin(c.Request.Context(), mw.GetPlayerID(c), chatID, target, *req.IsAdmin); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "updated"})
}

// Update handles PATCH /api/groups/:id.
func (h *GroupHandler) Update(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var patch group.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err.Error())
		return
	}
	chat, err := h.svc.UpdateMetadata(c.Request.Context(), mw.GetPlayerID(c), chatID, patch)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

// Mute handles PUT /api/groups/:id/mute with {"muted": bool, "duration_hours": n}.
func (h *GroupHandler) Mute(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Muted         *bool `json:"muted" binding:"required"`
		DurationHours *int  `json:"duration_hours"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	m, err := h.svc.SetMute(c.Request.Context(), mw.GetPlayerID(c), chatID, *req.Muted, req.DurationHours)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Avatar handles PUT /api/groups/:id/avatar with {"avatar_ref": "..."}.
func (h *GroupHandler) Avatar(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		AvatarRef string `json:"avatar_ref" binding:"required,max=255"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	v, err := h.svc.UpdateAvatar(c.Request.Context(), mw.GetPlayerID(c), chatID, req.AvatarRef)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"avatar_version": v})
}

// PostMessage handles POST /api/groups/:id/messages.
func (h *GroupHandler) PostMessage(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Content     string `json:"content" binding:"required"`
		MessageType string `json:"message_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	msg, err := h.svc.PostMessage(c.Request.Context(), mw.GetPlayerID(c), chatID, req.Content, req.MessageType)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// Messages handles GET /api/groups/:id/messages?after=&limit=.
func (h *GroupHandler) Messages(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}
	after, _ := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	msgs, err := h.svc.Messages(c.Request.Context(), mw.GetPlayerID(c), chatID, after, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// MarkRead handles POST /api/groups/:id/read with {"message_id": n}.
func (h *GroupHandler) MarkRead(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		MessageID int64 `json:"message_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	m, err := h.svc.MarkRead(c.Request.Context(), mw.GetPlayerID(c), chatID, req.MessageID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}
