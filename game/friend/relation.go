package friend

import "github.com/kasuganosora/mmosocial/model"

// State is the relation between an unordered pair of players.
type State int

const (
	NoRelation State = iota
	Requested        // one side sent a request, see Relation.RequestedBy
	Friends
)

func (s State) String() string {
	switch s {
	case Requested:
		return "requested"
	case Friends:
		return "friends"
	default:
		return "none"
	}
}

// Relation describes a pair as seen from either side.
type Relation struct {
	State       State  `json:"-"`
	StateName   string `json:"state"`
	RequestedBy int64  `json:"requested_by,omitempty"`
}

func relationOf(a int64, mine, theirs *model.FriendLink) Relation {
	switch {
	case mine == nil || theirs == nil:
		return Relation{State: NoRelation, StateName: NoRelation.String()}
	case mine.Status == model.FriendAccepted:
		return Relation{State: Friends, StateName: Friends.String()}
	case mine.Status == model.FriendPendingSent:
		return Relation{State: Requested, StateName: Requested.String(), RequestedBy: a}
	default:
		return Relation{State: Requested, StateName: Requested.String(), RequestedBy: theirs.OwnerID}
	}
}

// Filter selects which of a player's links List returns.
type Filter string

const (
	FilterAccepted Filter = "accepted"
	FilterIncoming Filter = "incoming"
	FilterOutgoing Filter = "outgoing"
)

func (f Filter) status() (model.FriendStatus, bool) {
	switch f {
	case FilterAccepted, "":
		return model.FriendAccepted, true
	case FilterIncoming:
		return model.FriendPendingReceived, true
	case FilterOutgoing:
		return model.FriendPendingSent, true
	default:
		return "", false
	}
}

// Event payloads sent to the counterparty's personal channel.
type (
	RequestSentEvent struct {
		FriendID int64  `json:"friend_id"`
		Username string `json:"username"`
	}
	PeerEvent struct {
		FriendID int64 `json:"friend_id"`
	}
	AcceptedEvent struct {
		FriendID       int64  `json:"friend_id"`
		Username       string `json:"username"`
		AvatarVersion  int64  `json:"avatar_version"`
		ProfileVersion int64  `json:"profile_version"`
		FriendVersion  int64  `json:"friend_version"`
	}
)
