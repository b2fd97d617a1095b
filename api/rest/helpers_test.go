package rest_test

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/mmosocial/api/rest"
	"github.com/kasuganosora/mmosocial/game/friend"
	"github.com/kasuganosora/mmosocial/game/group"
	"github.com/kasuganosora/mmosocial/game/player"
	mw "github.com/kasuganosora/mmosocial/middleware"
	"github.com/kasuganosora/mmosocial/model"
	"github.com/kasuganosora/mmosocial/notify"
	"github.com/kasuganosora/mmosocial/scheduler"
	"github.com/kasuganosora/mmosocial/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSecret = "rest-test-secret"
	testAdmin  = "admin-key"
)

type env struct {
	t     *testing.T
	r     *gin.Engine
	db    *gorm.DB
	rec   *notify.Recorder
	sm    *player.SessionManager
	sched *scheduler.Scheduler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	rec := &notify.Recorder{}
	sm := player.NewSessionManager(c, time.Minute, logger)
	hub := notify.NewHub(ps, logger)
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)
	dir := player.NewDirectory(db)

	h := &rest.Handlers{
		Friends: rest.NewFriendHandler(friend.NewService(db, rec, nil, logger), dir, sm, logger),
		Groups:  rest.NewGroupHandler(group.NewService(db, rec, nil, group.DefaultLimits, logger)),
		Players: rest.NewPlayerHandler(dir, sm),
		Admin:   rest.NewAdminHandler(sm, hub, sched, logger),
	}
	r := gin.New()
	r.Use(mw.TraceID())
	h.Register(r.Group("/api"), mw.Auth(mw.NewJWTVerifier(testSecret)), nil, rest.AdminGuard{Key: testAdmin})

	return &env{t: t, r: r, db: db, rec: rec, sm: sm, sched: sched}
}

// player creates a player row and a token for it.
func (e *env) player(name string) (*model.Player, string) {
	e.t.Helper()
	p := testutil.CreatePlayer(e.t, e.db, name)
	token, err := mw.GenerateToken(p.ID, p.Username, testSecret, time.Hour)
	require.NoError(e.t, err)
	return p, token
}

func (e *env) do(method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

// requireError asserts the status and the stable error code of a failure.
func requireError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, w.Code, "body: %s", w.Body.String())
	require.Equal(t, code, decode(t, w)["code"])
}

func num(v interface{}) int64 { return int64(v.(float64)) }
