package ws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kasuganosora/mmosocial/game/apperr"
	"github.com/kasuganosora/mmosocial/game/player"
	"github.com/kasuganosora/mmosocial/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChats struct {
	posted []chatSendReq
	read   []chatReadReq
	err    error
}

func (f *fakeChats) PostMessage(_ context.Context, sender, chatID int64, content, msgType string) (*model.ChatMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.posted = append(f.posted, chatSendReq{ChatID: chatID, Content: content, MessageType: msgType})
	return &model.ChatMessage{ChatID: chatID, ID: int64(len(f.posted)), SenderID: sender, Content: content, MessageType: "text"}, nil
}

func (f *fakeChats) MarkRead(_ context.Context, playerID, chatID, messageID int64) (*model.Membership, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.read = append(f.read, chatReadReq{ChatID: chatID, MessageID: messageID})
	return &model.Membership{PlayerID: playerID, ChatID: chatID, LastReadMessageID: messageID}, nil
}

func newChatRouter(chats ChatService) *Router {
	r := NewRouter(nop())
	RegisterChatHandlers(r, chats)
	return r
}

func TestChatSend(t *testing.T) {
	chats := &fakeChats{}
	r := newChatRouter(chats)
	s := newSession(3)

	r.Dispatch(context.Background(), s, makePacket(t, 1, "chat_send", map[string]any{"chat_id": 9, "content": "hello"}))

	require.Len(t, chats.posted, 1)
	assert.Equal(t, chatSendReq{ChatID: 9, Content: "hello"}, chats.posted[0])
	pkt := nextPacket(t, s)
	assert.Equal(t, "chat_sent", pkt.Type)
	assert.Equal(t, uint64(1), pkt.Seq)
	var msg model.ChatMessage
	require.NoError(t, json.Unmarshal(pkt.Payload, &msg))
	assert.Equal(t, int64(3), msg.SenderID)
	assert.Equal(t, int64(1), msg.ID)
}

func TestChatSend_ServiceError(t *testing.T) {
	r := newChatRouter(&fakeChats{err: apperr.ErrNotMember})
	s := newSession(3)

	r.Dispatch(context.Background(), s, makePacket(t, 2, "chat_send", map[string]any{"chat_id": 9, "content": "hello"}))

	pkt := nextPacket(t, s)
	assert.Equal(t, "error", pkt.Type)
	assert.Contains(t, string(pkt.Payload), "NOT_MEMBER")
}

func TestChatSend_MalformedPayload(t *testing.T) {
	chats := &fakeChats{}
	r := newChatRouter(chats)
	s := newSession(3)

	raw, _ := json.Marshal(player.Packet{Seq: 1, Type: "chat_send", Payload: json.RawMessage(`"nope"`)})
	r.Dispatch(context.Background(), s, raw)

	assert.Empty(t, chats.posted)
	pkt := nextPacket(t, s)
	assert.Contains(t, string(pkt.Payload), "INVALID_ARGUMENT")
}

func TestChatRead(t *testing.T) {
	chats := &fakeChats{}
	r := newChatRouter(chats)
	s := newSession(3)

	r.Dispatch(context.Background(), s, makePacket(t, 1, "chat_read", map[string]any{"chat_id": 9, "message_id": 4}))

	assert.Equal(t, []chatReadReq{{ChatID: 9, MessageID: 4}}, chats.read)
	pkt := nextPacket(t, s)
	assert.Equal(t, "chat_read", pkt.Type)
}

func TestPing(t *testing.T) {
	r := newChatRouter(&fakeChats{})
	s := newSession(3)

	r.Dispatch(context.Background(), s, makePacket(t, 1, "ping", map[string]int64{"ts": 1234}))

	pkt := nextPacket(t, s)
	assert.Equal(t, "pong", pkt.Type)
	var pong map[string]int64
	require.NoError(t, json.Unmarshal(pkt.Payload, &pong))
	assert.Equal(t, int64(1234), pong["client_ts"])
	assert.NotZero(t, pong["server_ts"])
}
