package rest

import (
	"github.com/gin-gonic/gin"
	mw "github.com/kasuganosora/mmosocial/middleware"
)

// Handlers bundles every REST handler so main and the integration harness
// mount the same routes.
type Handlers struct {
	Friends *FriendHandler
	Groups  *GroupHandler
	Players *PlayerHandler
	Admin   *AdminHandler
}

// AdminGuard configures access to /api/admin.
type AdminGuard struct {
	Key string
	IPs []string
}

// Register mounts the API under api. auth guards every player route; limit,
// when non-nil, runs after auth so buckets are per player.
func (h *Handlers) Register(api *gin.RouterGroup, auth, limit gin.HandlerFunc, guard AdminGuard) {
	player := []gin.HandlerFunc{auth}
	if limit != nil {
		player = append(player, limit)
	}

	friendsG := api.Group("/friends", player...)
	friendsG.GET("", h.Friends.List)
	friendsG.GET("/:id/status", h.Friends.Status)
	friendsG.POST("/:id/request", h.Friends.Request)
	friendsG.POST("/:id/cancel", h.Friends.Cancel)
	friendsG.POST("/:id/accept", h.Friends.Accept)
	friendsG.POST("/:id/reject", h.Friends.Reject)
	friendsG.DELETE("/:id", h.Friends.Remove)

	groupsG := api.Group("/groups", player...)
	groupsG.POST("", h.Groups.Create)
	groupsG.GET("", h.Groups.List)
	groupsG.GET("/:id", h.Groups.Detail)
	groupsG.PATCH("/:id", h.Groups.Update)
	groupsG.POST("/:id/members", h.Groups.AddMember)
	groupsG.DELETE("/:id/members/:uid", h.Groups.RemoveMember)
	groupsG.PUT("/:id/admins/:uid", h.Groups.SetAdmin)
	groupsG.PUT("/:id/mute", h.Groups.Mute)
	groupsG.PUT("/:id/avatar", h.Groups.Avatar)
	groupsG.GET("/:id/messages", h.Groups.Messages)
	groupsG.POST("/:id/messages", h.Groups.PostMessage)
	groupsG.POST("/:id/read", h.Groups.MarkRead)

	playersG := api.Group("/players", player...)
	playersG.POST("/me/profile/touch", h.Players.TouchProfile)
	playersG.POST("/me/avatar/touch", h.Players.TouchAvatar)
	playersG.GET("/:id", h.Players.Get)

	if h.Admin != nil {
		adminG := api.Group("/admin", mw.IPWhitelist(guard.IPs), AdminAuth(guard.Key))
		adminG.GET("/metrics", h.Admin.Metrics)
		adminG.GET("/sessions", h.Admin.ListSessions)
		adminG.POST("/kick/:id", h.Admin.KickPlayer)
		adminG.GET("/scheduler", h.Admin.ListSchedulerTasks)
	}
}
