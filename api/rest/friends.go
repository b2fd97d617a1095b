package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/mmosocial/game/friend"
	"github.com/kasuganosora/mmosocial/game/player"
	mw "github.com/kasuganosora/mmosocial/middleware"
	"github.com/kasuganosora/mmosocial/model"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// FriendHandler handles the friend graph endpoints.
type FriendHandler struct {
	svc    *friend.Service
	dir    *player.Directory
	sm     *player.SessionManager
	logger *zap.Logger
}

// NewFriendHandler creates a FriendHandler.
func NewFriendHandler(svc *friend.Service, dir *player.Directory, sm *player.SessionManager, logger *zap.Logger) *FriendHandler {
	return &FriendHandler{svc: svc, dir: dir, sm: sm, logger: logger}
}

// FriendInfo is one entry of a friend list.
type FriendInfo struct {
	model.FriendLink
	Username       string `json:"username"`
	AvatarVersion  int64  `json:"avatar_version"`
	ProfileVersion int64  `json:"profile_version"`
	Online         bool   `json:"online"`
}

// List handles GET /api/friends?status=accepted|incoming|outgoing.
func (h *FriendHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	links, err := h.svc.List(ctx, mw.GetPlayerID(c), friend.Filter(c.Query("status")))
	if err != nil {
		fail(c, err)
		return
	}
	peerIDs := lo.Map(links, func(l model.FriendLink, _ int) int64 { return l.PeerID })
	peers, err := h.dir.GetMany(ctx, peerIDs)
	if err != nil {
		fail(c, err)
		return
	}
	online := h.sm.OnlineSet(ctx, peerIDs)

	result := make([]FriendInfo, len(links))
	for i, l := range links {
		result[i] = FriendInfo{FriendLink: l, Online: online[l.PeerID]}
		if p, ok := peers[l.PeerID]; ok {
			result[i].Username = p.Username
			result[i].AvatarVersion = p.AvatarVersion
			result[i].ProfileVersion = p.ProfileVersion
		}
	}
	c.JSON(http.StatusOK, gin.H{"friends": result})
}

// Status handles GET /api/friends/:id/status.
func (h *FriendHandler) Status(c *gin.Context) {
	peer, ok := paramID(c, "id")
	if !ok {
		return
	}
	rel, err := h.svc.Status(c.Request.Context(), mw.GetPlayerID(c), peer)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rel)
}

// Request handles POST /api/friends/:id/request.
func (h *FriendHandler) Request(c *gin.Context) {
	h.mutate(c, http.StatusCreated, "request sent", h.svc.Send)
}

// Cancel handles POST /api/friends/:id/cancel.
func (h *FriendHandler) Cancel(c *gin.Context) {
	h.mutate(c, http.StatusOK, "request canceled", h.svc.Cancel)
}

// Accept handles POST /api/friends/:id/accept.
func (h *FriendHandler) Accept(c *gin.Context) {
	h.mutate(c, http.StatusOK, "accepted", h.svc.Accept)
}

// Reject handles POST /api/friends/:id/reject.
func (h *FriendHandler) Reject(c *gin.Context) {
	h.mutate(c, http.StatusOK, "rejected", h.svc.Reject)
}

// Remove handles DELETE /api/friends/:id.
func (h *FriendHandler) Remove(c *gin.Context) {
	h.mutate(c, http.StatusOK, "removed", h.svc.Unfriend)
}

func (h *FriendHandler) mutate(c *gin.Context, status int, msg string, op func(ctx context.Context, actor, peer int64) error) {
	peer, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := op(c.Request.Context(), mw.GetPlayerID(c), peer); err != nil {
		fail(c, err)
		return
	}
	c.JSON(status, gin.H{"message": msg})
}
