package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	apirest "github.com/thc1967/codex-quest-manager-sub000/api/rest"
	"github.com/thc1967/codex-quest-manager-sub000/api/sse"
	"github.com/thc1967/codex-quest-manager-sub000/api/ws"
	"github.com/thc1967/codex-quest-manager-sub000/audit"
	"github.com/thc1967/codex-quest-manager-sub000/cache"
	"github.com/thc1967/codex-quest-manager-sub000/config"
	"github.com/thc1967/codex-quest-manager-sub000/docstore"
	"github.com/thc1967/codex-quest-manager-sub000/hook"
	"github.com/thc1967/codex-quest-manager-sub000/metrics"
	mw "github.com/thc1967/codex-quest-manager-sub000/middleware"
	"github.com/thc1967/codex-quest-manager-sub000/players"
	"github.com/thc1967/codex-quest-manager-sub000/quest"
	"github.com/thc1967/codex-quest-manager-sub000/scheduler"
	"github.com/thc1967/codex-quest-manager-sub000/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const documentPath = "quests"

// TestServer wraps a real HTTP server with the quest tracker wired together.
type TestServer struct {
	DB      *gorm.DB
	Cache   cache.Cache
	PubSub  cache.PubSub
	Events  *hook.DocumentEvents
	Journal *audit.Service
	Metrics *metrics.Metrics
	Manager *quest.Manager
	Players *players.Directory
	Server  *httptest.Server
	URL     string // http://127.0.0.1:<port>
	WSURL   string // ws://127.0.0.1:<port>/ws
	Sec     config.SecurityConfig

	cancelStreams context.CancelFunc
}

// NewTestServer creates a fully wired quest tracker for integration testing.
// It mirrors the dependency wiring in the serve command. Logins named in
// directors are promoted to director.
func NewTestServer(t *testing.T, directors ...string) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	sec := config.SecurityConfig{
		JWTSecret: "integration-secret",
		JWTTTLH:   time.Hour,
	}

	events := hook.NewDocumentEvents()
	journal := audit.New(db, logger)
	m := metrics.New()
	events.Register(0, "journal", journal)
	events.Register(10, "metrics", m)
	events.Register(20, "sse", sse.NewPublisher(pubsub))

	store := docstore.NewGormStore(db, documentPath, events, logger)
	mgr := quest.NewManager(store, logger,
		quest.WithCampaignName("Integration"),
		quest.OnRepair(m.RecordRepair))
	dir := players.NewDirectory(db, c, time.Minute, logger)
	stream := sse.NewHandler(pubsub, documentPath, nil, logger)
	sched := scheduler.New(logger, 0)

	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger), m.Middleware())
	r.GET("/metrics", m.Handler())

	auth := mw.Auth(sec, c, false)
	authH := apirest.NewAuthHandler(db, c, sec, directors, logger)
	questH := apirest.NewQuestHandler(mgr, dir, logger)
	docH := apirest.NewDocumentHandler(questH, journal)
	playerH := apirest.NewPlayerHandler(dir, logger)
	adminH := apirest.NewAdminHandler(questH, sched, stream, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", auth, authH.Logout)
		authG.POST("/refresh", auth, authH.Refresh)

		questH.Register(api.Group("/quests", auth))
		docH.Register(api.Group("/document", auth))
		playerH.Register(api.Group("/players", auth))
		adminH.Register(api.Group("/admin", mw.AdminAuth("integration-key")))
	}
	streamAuth := mw.Auth(sec, c, true)
	r.GET("/sse", streamAuth, stream.ServeSSE)
	r.GET("/ws", streamAuth, ws.NewHandler(pubsub, documentPath, nil, logger).ServeWS)

	srv := httptest.NewUnstartedServer(r)
	baseCtx, cancel := context.WithCancel(context.Background())
	srv.Config.BaseContext = func(_ net.Listener) context.Context { return baseCtx }
	srv.Start()

	ts := &TestServer{
		DB:            db,
		Cache:         c,
		PubSub:        pubsub,
		Events:        events,
		Journal:       journal,
		Metrics:       m,
		Manager:       mgr,
		Players:       dir,
		Server:        srv,
		URL:           srv.URL,
		WSURL:         "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Sec:           sec,
		cancelStreams: cancel,
	}
	t.Cleanup(func() {
		sched.Stop()
		ts.Close()
	})
	return ts
}

// Close ends open event streams, shuts the server down and flushes the
// journal. Safe to call more than once.
func (ts *TestServer) Close() {
	ts.cancelStreams()
	ts.Server.Close()
	ts.Journal.Stop(context.Background())
}

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends body as JSON. A nil body sends an empty request.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPost, path, body, token)
}

// Get performs an authenticated GET request.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, token)
}

// Put sends body as JSON with PUT.
func (ts *TestServer) Put(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPut, path, body, token)
}

// Delete performs an authenticated DELETE request.
func (ts *TestServer) Delete(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodDelete, path, nil, token)
}

// ReadJSON decodes the response body into target and closes it.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// Login logs in (auto-registering) and returns the session token and the
// account id.
func (ts *TestServer) Login(t *testing.T, username, password string) (token string, accountID int64) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]interface{}
	ReadJSON(t, resp, &result)
	token = result["token"].(string)
	accountID = int64(result["account_id"].(float64))
	return
}

// CreateQuest creates a quest with the given title and returns its id.
func (ts *TestServer) CreateQuest(t *testing.T, token, title string) string {
	t.Helper()
	resp := ts.PostJSON(t, "/api/quests", map[string]interface{}{"title": title}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var result map[string]interface{}
	ReadJSON(t, resp, &result)
	return result["id"].(string)
}

// EventStream is an open /sse connection.
type EventStream struct {
	resp   *http.Response
	reader *bufio.Reader
	cancel context.CancelFunc
}

// Stream opens the event stream and consumes the connected event.
func (ts *TestServer) Stream(t *testing.T, token string) *EventStream {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse?token="+token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	es := &EventStream{resp: resp, reader: bufio.NewReader(resp.Body), cancel: cancel}
	t.Cleanup(es.Close)
	event, _ := es.Next(t, 5*time.Second)
	require.Equal(t, "connected", event)
	return es
}

// Next returns the name and data of the next event, skipping comments.
// It fails the test if nothing arrives within timeout.
func (es *EventStream) Next(t *testing.T, timeout time.Duration) (string, string) {
	t.Helper()
	type result struct {
		event, data string
		err         error
	}
	ch := make(chan result, 1)
	go func() {
		var event, data string
		for {
			line, err := es.reader.ReadString('\n')
			if err != nil {
				ch <- result{err: err}
				return
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				if event != "" {
					ch <- result{event: event, data: data}
					return
				}
			case strings.HasPrefix(line, ":"):
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.event, r.data
	case <-time.After(timeout):
		es.Close()
		t.Fatalf("no event within %s", timeout)
		return "", ""
	}
}

// Close drops the connection.
func (es *EventStream) Close() {
	es.cancel()
	es.resp.Body.Close()
}

var testCounter uint64

// UniqueID returns a name that does not collide across tests.
func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%100000, n)
}
