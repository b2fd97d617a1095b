package ws

import (
	"context"
	"encoding/json"

	"github.com/kasuganosora/mmosocial/game/apperr"
	"github.com/kasuganosora/mmosocial/game/player"
	"github.com/kasuganosora/mmosocial/model"
)

// ChatService is the part of the group service reachable over WS.
type ChatService interface {
	PostMessage(ctx context.Context, sender, chatID int64, content, msgType string) (*model.ChatMessage, error)
	MarkRead(ctx context.Context, playerID, chatID, messageID int64) (*model.Membership, error)
}

type chatSendReq struct {
	ChatID      int64  `json:"chat_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

type chatReadReq struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

type pingReq struct {
	TS int64 `json:"ts"`
}

// RegisterChatHandlers wires the message and heartbeat packets.
func RegisterChatHandlers(r *Router, chats ChatService) {
	r.On("ping", func(_ context.Context, s *player.PlayerSession, raw json.RawMessage) error {
		var req pingReq
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &req)
		}
		s.SendHeartbeatPong(req.TS)
		return nil
	})

	r.On("chat_send", func(ctx context.Context, s *player.PlayerSession, raw json.RawMessage) error {
		var req chatSendReq
		if err := decode(raw, &req); err != nil {
			return err
		}
		msg, err := chats.PostMessage(ctx, s.PlayerID, req.ChatID, req.Content, req.MessageType)
		if err != nil {
			return err
		}
		Reply(ctx, s, "chat_sent", msg)
		return nil
	})

	r.On("chat_read", func(ctx context.Context, s *player.PlayerSession, raw json.RawMessage) error {
		var req chatReadReq
		if err := decode(raw, &req); err != nil {
			return err
		}
		m, err := chats.MarkRead(ctx, s.PlayerID, req.ChatID, req.MessageID)
		if err != nil {
			return err
		}
		Reply(ctx, s, "chat_read", m)
		return nil
	})
}

func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.ErrInvalidArgument.WithMsg("malformed payload")
	}
	return nil
}
