package rest_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/kasuganosora/mmosocial/game/player"
	"github.com/kasuganosora/mmosocial/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFriends_RequestAcceptRemove(t *testing.T) {
	e := newEnv(t)
	alice, aliceTok := e.player("alice")
	bob, bobTok := e.player("bob")

	w := e.do(http.MethodPost, fmt.Sprintf("/api/friends/%d/request", bob.ID), aliceTok, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, e.rec.On(notify.PlayerChannel(bob.ID)), 1)

	w = e.do(http.MethodGet, "/api/friends?status=incoming", bobTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	incoming := decode(t, w)["friends"].([]interface{})
	require.Len(t, incoming, 1)
	entry := incoming[0].(map[string]interface{})
	assert.Equal(t, "alice", entry["username"])
	assert.Equal(t, "pending_received", entry["status"])
	assert.Equal(t, false, entry["online"])

	w = e.do(http.MethodGet, fmt.Sprintf("/api/friends/%d/status", alice.ID), bobTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode(t, w)
	assert.Equal(t, "requested", st["state"])
	assert.Equal(t, alice.ID, num(st["requested_by"]))

	w = e.do(http.MethodPost, fmt.Sprintf("/api/friends/%d/accept", alice.ID), bobTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// bob comes online; alice's list shows it.
	e.sm.Register(context.Background(), player.NewStreamSession(bob.ID, "bob", zap.NewNop()))
	w = e.do(http.MethodGet, "/api/friends", aliceTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	friends := decode(t, w)["friends"].([]interface{})
	require.Len(t, friends, 1)
	entry = friends[0].(map[string]interface{})
	assert.Equal(t, bob.ID, num(entry["peer_id"]))
	assert.Equal(t, int64(2), num(entry["friend_version"]))
	assert.Equal(t, true, entry["online"])

	w = e.do(http.MethodDelete, fmt.Sprintf("/api/friends/%d", bob.ID), aliceTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(http.MethodGet, fmt.Sprintf("/api/friends/%d/status", bob.ID), aliceTok, nil)
	assert.Equal(t, "none", decode(t, w)["state"])
}

func TestFriends_CancelAndReject(t *testing.T) {
	e := newEnv(t)
	alice, aliceTok := e.player("alice")
	bob, bobTok := e.player("bob")

	e.do(http.MethodPost, fmt.Sprintf("/api/friends/%d/request", bob.ID), aliceTok, nil)
	w := e.do(http.MethodPost, fmt.Sprintf("/api/friends/%d/cancel", alice.ID), bobTok, nil)
	requireError(t, w, http.StatusForbidden, "NOT_SENDER")
	w = e.do(http.MethodPost, fmt.Sprintf("/api/friends/%d/cancel", bob.ID), aliceTok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	e.do(http.MethodPost, fmt.Sprintf("/api/friends/%d/request", bob.ID), aliceTok, nil)
	w = e.do(http.MethodPost, fmt.Sprintf("/api/friends/%d/reject", bob.ID), aliceTok, nil)
	requireError(t, w, http.StatusForbidden, "NOT_RECIPIENT")
	w = e.do(http.MethodPost, fmt.Sprintf("/api/friends/%d/reject", alice.ID), bobTok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodGet, "/api/friends?status=outgoing", aliceTok, nil)
	assert.Empty(t, decode(t, w)["friends"])
}

func TestFriends_Errors(t *testing.T) {
	e := newEnv(t)
	alice, aliceTok := e.player("alice")
	bob, _ := e.player("bob")

	w := e.do(http.MethodPost, fmt.Sprintf("/api/friends/%d/request", alice.ID), aliceTok, nil)
	requireError(t, w, http.StatusConflict, "ALREADY_FRIENDS_OR_PENDING")

	w = e.do(http.MethodPost, fmt.Sprintf("/api/friends/%d/accept", bob.ID), aliceTok, nil)
	requireError(t, w, http.StatusNotFound, "REQUEST_NOT_FOUND")

	w = e.do(http.MethodDelete, fmt.Sprintf("/api/friends/%d", bob.ID), aliceTok, nil)
	requireError(t, w, http.StatusConflict, "NOT_FRIENDS")

	w = e.do(http.MethodPost, "/api/friends/9999/request", aliceTok, nil)
	requireError(t, w, http.StatusNotFound, "NOT_FOUND")

	w = e.do(http.MethodPost, "/api/friends/abc/request", aliceTok, nil)
	requireError(t, w, http.StatusBadRequest, "INVALID_ARGUMENT")

	w = e.do(http.MethodGet, "/api/friends?status=blocked", aliceTok, nil)
	requireError(t, w, http.StatusBadRequest, "INVALID_ARGUMENT")

	w = e.do(http.MethodGet, "/api/friends", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
