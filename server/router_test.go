package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/shutterfeed/shutterfeed-core/feed"
	"github.com/shutterfeed/shutterfeed-core/model"
	"github.com/shutterfeed/shutterfeed-core/platform/docstore"
	"github.com/shutterfeed/shutterfeed-core/platform/identity"
	"github.com/shutterfeed/shutterfeed-core/session"
	"github.com/shutterfeed/shutterfeed-core/toast"
	"github.com/shutterfeed/shutterfeed-core/utils/dotenv"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	dotenv.LoadDotEnvsInTests()
	os.Exit(m.Run())
}

type testApp struct {
	ctx      context.Context
	provider *identity.MemoryProvider
	store    *docstore.MemoryStore
	mgr      *session.Manager
	router   *gin.Engine
}

func newTestApp(t *testing.T) *testApp {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	provider := identity.NewMemoryProvider()
	store := docstore.NewMemoryStore()
	notifier := toast.NewRecorder()

	mgr := session.NewManager(provider, store, notifier)
	require.NoError(t, mgr.Start(ctx))
	require.NoError(t, mgr.WaitUntilResolved(ctx))

	router := NewRouter(mgr, feed.NewListener(store, notifier))
	return &testApp{ctx: ctx, provider: provider, store: store, mgr: mgr, router: router}
}

func (app *testApp) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	return w
}

func TestSessionEndpointAnonymous(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Equal(t, "ANONYMOUS", view["state"])
	require.Equal(t, false, view["isAuthenticated"])
	require.Equal(t, false, view["isLoading"])
	require.Nil(t, view["user"])
}

func TestRoutesGatedWhileResolving(t *testing.T) {
	notifier := toast.NewRecorder()
	store := docstore.NewMemoryStore()
	// manager constructed but never started: stuck in Resolving
	mgr := session.NewManager(identity.NewMemoryProvider(), store, notifier)
	router := NewRouter(mgr, feed.NewListener(store, notifier))

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRegisterThenSessionReflectsUser(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodPost, "/api/register", gin.H{
		"email":    "alex@example.com",
		"password": "secret123",
		"username": "alex",
		"fullName": "Alex Chen",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"success":true`)

	require.Eventually(t, func() bool {
		res := app.do(t, http.MethodGet, "/api/session", nil)
		return strings.Contains(res.Body.String(), `"state":"AUTHENTICATED"`) &&
			strings.Contains(res.Body.String(), `"username":"alex"`)
	}, waitFor, tick)
}

func TestLoginRejectsMalformedBody(t *testing.T) {
	app := newTestApp(t)
	w := app.do(t, http.MethodPost, "/api/login", gin.H{"email": "john@example.com"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginFailureIsStillHTTP200(t *testing.T) {
	app := newTestApp(t)
	w := app.do(t, http.MethodPost, "/api/login", gin.H{
		"email":    "nobody@example.com",
		"password": "whatever1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"success":false`)
}

func TestProfileRequiresAuth(t *testing.T) {
	app := newTestApp(t)
	w := app.do(t, http.MethodPatch, "/api/profile", gin.H{"bio": "hi"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProfileUpdateRoundTrip(t *testing.T) {
	app := newTestApp(t)
	w := app.do(t, http.MethodPost, "/api/register", gin.H{
		"email":    "alex@example.com",
		"password": "secret123",
		"username": "alex",
		"fullName": "Alex Chen",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool { return app.mgr.IsAuthenticated() }, waitFor, tick)

	w = app.do(t, http.MethodPatch, "/api/profile", gin.H{"bio": "new bio"})
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		res := app.do(t, http.MethodGet, "/api/session", nil)
		return strings.Contains(res.Body.String(), `"bio":"new bio"`)
	}, waitFor, tick)
}

func TestFeedLiveWebsocket(t *testing.T) {
	app := newTestApp(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, app.store.Set(app.ctx, feed.PostsCollection, "1", model.Post{
		Id: "1", UserId: "u1", ImageUrl: "https://img/1.jpg", Timestamp: base,
	}))

	srv := httptest.NewServer(app.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/feed/live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	readIds := func() []string {
		conn.SetReadDeadline(time.Now().Add(waitFor))
		var posts []model.Post
		require.NoError(t, conn.ReadJSON(&posts))
		ids := []string{}
		for _, p := range posts {
			ids = append(ids, p.Id)
		}
		return ids
	}

	require.Equal(t, []string{"1"}, readIds())

	require.NoError(t, app.store.Set(app.ctx, feed.PostsCollection, "2", model.Post{
		Id: "2", UserId: "u1", ImageUrl: "https://img/2.jpg", Timestamp: base.Add(time.Hour),
	}))
	require.Equal(t, []string{"2", "1"}, readIds())
}
