package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	apirest "github.com/kasuganosora/mmosocial/api/rest"
	"github.com/kasuganosora/mmosocial/api/sse"
	apows "github.com/kasuganosora/mmosocial/api/ws"
	"github.com/kasuganosora/mmosocial/audit"
	"github.com/kasuganosora/mmosocial/cache"
	"github.com/kasuganosora/mmosocial/game/friend"
	"github.com/kasuganosora/mmosocial/game/group"
	"github.com/kasuganosora/mmosocial/game/player"
	mw "github.com/kasuganosora/mmosocial/middleware"
	"github.com/kasuganosora/mmosocial/notify"
	"github.com/kasuganosora/mmosocial/scheduler"
	"github.com/kasuganosora/mmosocial/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	jwtSecret = "integration-test-secret"
	adminKey  = "integration-admin"
)

// TestServer wraps a real HTTP server with all social subsystems wired together.
type TestServer struct {
	DB     *gorm.DB
	Cache  cache.Cache
	PubSub cache.PubSub
	SM     *player.SessionManager
	Hub    *notify.Hub
	Groups *group.Service
	Audit  *audit.Service
	Server *httptest.Server
	URL    string // http://127.0.0.1:<port>
	WSURL  string // ws://127.0.0.1:<port>/ws
}

// NewTestServer creates a fully wired server for integration testing.
// It mirrors the dependency wiring in main.go.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	ctx, cancel := context.WithCancel(context.Background())

	auditSvc := audit.New(db, logger)
	hub := notify.NewHub(pubsub, logger)
	require.NoError(t, hub.Start(ctx))

	// ---- Services ----
	sm := player.NewSessionManager(c, time.Minute, logger)
	dir := player.NewDirectory(db)
	friendSvc := friend.NewService(db, hub, auditSvc, logger)
	groupSvc := group.NewService(db, hub, auditSvc, group.DefaultLimits, logger)

	sched := scheduler.New(logger)
	scheduler.RegisterSocialTasks(sched, groupSvc, time.Minute, sm, time.Minute, logger)

	wsRouter := apows.NewRouter(logger)
	apows.RegisterChatHandlers(wsRouter, groupSvc)

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	verifier := mw.NewJWTVerifier(jwtSecret)
	handlers := &apirest.Handlers{
		Friends: apirest.NewFriendHandler(friendSvc, dir, sm, logger),
		Groups:  apirest.NewGroupHandler(groupSvc),
		Players: apirest.NewPlayerHandler(dir, sm),
		Admin:   apirest.NewAdminHandler(sm, hub, sched, logger),
	}
	handlers.Register(r.Group("/api"),
		mw.Auth(verifier),
		mw.RateLimit(ctx, rate.Limit(1000), 2000),
		apirest.AdminGuard{Key: adminKey})

	r.GET("/ws", apows.NewHandler(verifier, nil, sm, hub, groupSvc, wsRouter, logger).ServeWS)
	r.GET("/sse", sse.NewHandler(verifier, sm, hub, groupSvc, logger).ServeSSE)

	server := httptest.NewServer(r)
	ts := &TestServer{
		DB:     db,
		Cache:  c,
		PubSub: pubsub,
		SM:     sm,
		Hub:    hub,
		Groups: groupSvc,
		Audit:  auditSvc,
		Server: server,
		URL:    server.URL,
		WSURL:  "ws" + server.URL[len("http"):] + "/ws",
	}
	t.Cleanup(func() {
		server.Close()
		sched.Stop()
		hub.Stop()
		auditSvc.Stop(context.Background())
		cancel()
	})
	return ts
}

// --- HTTP helpers ---

// Do sends a request with an optional JSON body and Bearer token.
func (ts *TestServer) Do(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, bodyReader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodPost, path, body, token)
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodGet, path, nil, token)
}

// Delete sends a DELETE request with optional Bearer token.
func (ts *TestServer) Delete(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodDelete, path, nil, token)
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// RequireStatus asserts the status code and decodes the body into target
// when target is non-nil.
func RequireStatus(t *testing.T, resp *http.Response, status int, target interface{}) {
	t.Helper()
	if target == nil {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		require.Equal(t, status, resp.StatusCode, "body: %s", string(body))
		return
	}
	require.Equal(t, status, resp.StatusCode)
	ReadJSON(t, resp, target)
}

// --- Player helpers ---

// Player is a registered player together with its access token.
type Player struct {
	ID    int64
	Name  string
	Token string
}

// NewPlayer creates a player row and signs a token for it.
func (ts *TestServer) NewPlayer(t *testing.T, prefix string) Player {
	t.Helper()
	p := testutil.CreatePlayer(t, ts.DB, UniqueID(prefix))
	token, err := mw.GenerateToken(p.ID, p.Username, jwtSecret, time.Hour)
	require.NoError(t, err)
	return Player{ID: p.ID, Name: p.Username, Token: token}
}

// Befriend runs the request/accept handshake over REST.
func (ts *TestServer) Befriend(t *testing.T, a, b Player) {
	t.Helper()
	RequireStatus(t, ts.PostJSON(t, fmt.Sprintf("/api/friends/%d/request", b.ID), nil, a.Token), http.StatusCreated, nil)
	RequireStatus(t, ts.PostJSON(t, fmt.Sprintf("/api/friends/%d/accept", a.ID), nil, b.Token), http.StatusOK, nil)
}

// --- WebSocket client ---

// WSClient wraps a gorilla/websocket connection for integration testing.
// Uses a background readLoop to avoid gorilla/websocket's SetReadDeadline bug.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    uint64
	readCh chan readResult // buffered channel from readLoop
}

type readResult struct {
	data []byte
	err  error
}

// ConnectWS dials the test server's WS endpoint and waits until the
// connection is registered.
func (ts *TestServer) ConnectWS(t *testing.T, p Player) *WSClient {
	t.Helper()
	before := len(ts.SM.Sessions(p.ID))
	url := ts.WSURL + "?token=" + p.Token
	dialer := websocket.Dialer{}
	conn, resp, err := dialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "WS dial failed")
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	go wc.readLoop()
	t.Cleanup(wc.Close)
	require.Eventually(t, func() bool { return len(ts.SM.Sessions(p.ID)) > before },
		2*time.Second, 5*time.Millisecond)
	return wc
}

// readLoop continuously reads from the websocket in a dedicated goroutine.
func (wc *WSClient) readLoop() {
	for {
		_, data, err := wc.Conn.ReadMessage()
		wc.readCh <- readResult{data, err}
		if err != nil {
			return
		}
	}
}

// Send writes a JSON message packet to the WebSocket.
func (wc *WSClient) Send(msgType string, payload interface{}) uint64 {
	wc.t.Helper()
	seq := atomic.AddUint64(&wc.seq, 1)
	payloadJSON, err := json.Marshal(payload)
	require.NoError(wc.t, err)
	pkt := map[string]interface{}{
		"seq":     seq,
		"type":    msgType,
		"payload": json.RawMessage(payloadJSON),
	}
	data, err := json.Marshal(pkt)
	require.NoError(wc.t, err)
	require.NoError(wc.t, wc.Conn.WriteMessage(websocket.TextMessage, data))
	return seq
}

// RecvAny reads one frame with a timeout, returning an error instead of
// failing the test.
func (wc *WSClient) RecvAny(timeout time.Duration) (map[string]interface{}, error) {
	select {
	case res := <-wc.readCh:
		if res.err != nil {
			return nil, res.err
		}
		var frame map[string]interface{}
		if err := json.Unmarshal(res.data, &frame); err != nil {
			return nil, err
		}
		return frame, nil
	case <-time.After(timeout):
		return nil, &timeoutError{}
	}
}

// timeoutError implements net.Error for timeout detection in callers.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "read timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

// recvMatching reads frames until key == want (within timeout).
func (wc *WSClient) recvMatching(key, want string, timeout time.Duration) map[string]interface{} {
	wc.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		frame, err := wc.RecvAny(remaining)
		if err != nil {
			wc.t.Fatalf("WS recv failed while waiting for %s %q: %v", key, want, err)
		}
		if frame[key] == want {
			return frame
		}
	}
	wc.t.Fatalf("timed out waiting for %s %q", key, want)
	return nil
}

// RecvType reads reply packets until one with the given type is found.
func (wc *WSClient) RecvType(msgType string, timeout time.Duration) map[string]interface{} {
	wc.t.Helper()
	return wc.recvMatching("type", msgType, timeout)
}

// RecvEvent reads notification envelopes until one with the given event is
// found and returns its data.
func (wc *WSClient) RecvEvent(event string, timeout time.Duration) map[string]interface{} {
	wc.t.Helper()
	frame := wc.recvMatching("event", event, timeout)
	data, _ := frame["data"].(map[string]interface{})
	return data
}

// Drain collects every frame that arrives until the connection has been
// quiet for d.
func (wc *WSClient) Drain(d time.Duration) []map[string]interface{} {
	var frames []map[string]interface{}
	for {
		frame, err := wc.RecvAny(d)
		if err != nil {
			return frames
		}
		frames = append(frames, frame)
	}
}

// Close closes the WebSocket connection.
func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}

// UniqueID returns a short unique string suitable for usernames.
var testCounter uint64

func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%100000, n)
}
