package notify

import "strconv"

// Personal-channel events.
const (
	EventFriendRequestSent     = "friend_request_sent"
	EventFriendRequestCanceled = "friend_request_canceled"
	EventFriendRequestAccepted = "friend_request_accepted"
	EventFriendRequestRejected = "friend_request_rejected"
	EventFriendRemoved         = "friend_removed"
	EventGroupCreated          = "group_created"
)

// Group-channel events. group_member_left and group_member_removed are also
// sent to the departing player's personal channel.
const (
	EventGroupMemberAdded   = "group_member_added"
	EventGroupMemberLeft    = "group_member_left"
	EventGroupMemberRemoved = "group_member_removed"
	EventGroupAdminChanged  = "group_admin_changed"
	EventGroupUpdated       = "group_updated"
	EventGroupAvatarUpdated = "group_avatar_updated"
	EventMessageReceived    = "message_received"
)

const (
	playerPrefix = "player:"
	chatPrefix   = "chat:"
)

// PlayerChannel names a player's personal channel.
func PlayerChannel(playerID int64) string {
	return playerPrefix + strconv.FormatInt(playerID, 10)
}

// ChatChannel names a group chat's channel.
func ChatChannel(chatID int64) string {
	return chatPrefix + strconv.FormatInt(chatID, 10)
}

// Envelope is the wire form of every notification frame.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}
