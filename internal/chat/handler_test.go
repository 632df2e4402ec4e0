package chat

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxdesk/taxdesk/internal/rbac"
	"github.com/taxdesk/taxdesk/internal/remote"
	"github.com/taxdesk/taxdesk/internal/remote/remotetest"
	"github.com/taxdesk/taxdesk/internal/shared"
	"github.com/taxdesk/taxdesk/internal/view"
)

const chatsPayload = `{"data":[
  {"_id":"a","participant":"Rina","status":"open","messages":[{"sender":"user","text":"Is my NPWP ready?","timestamp":"2024-05-01T10:00:00Z"}]},
  {"_id":"b","participant":"Agus","status":"open","messages":[]}
]}`

type handlerEnv struct {
	router http.Handler
	sess   *shared.Session
	hub    *Hub
	opened atomic.Int32
	closed atomic.Int32
}

func newHandlerEnv(t *testing.T, client *remote.Client, caps ...string) *handlerEnv {
	t.Helper()
	templates, err := view.NewEngine()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &handlerEnv{hub: NewHub()}
	h := NewHandler(logger, client, templates, shared.NewCSRFManager("secret"), rbac.Middleware{Logger: logger}, nil, env.hub, Config{
		Interval: 10 * time.Millisecond,
		LiveOpened: func() func() {
			env.opened.Add(1)
			return func() { env.closed.Add(1) }
		},
	})

	env.sess = &shared.Session{ID: "sess-1"}
	if len(caps) == 0 {
		caps = []string{shared.CapChatsView, shared.CapChatsReply}
	}
	env.sess.SignIn("tok-1", shared.CurrentUser{ID: "u3", Name: "Agent", Capabilities: caps})

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithSession(req.Context(), env.sess)
			ctx = remote.WithToken(ctx, env.sess.Token())
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/chats", h.MountRoutes)
	env.router = r
	return env
}

func (e *handlerEnv) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestDashboardRendersSelectedChat(t *testing.T) {
	_, client := remotetest.New(t, func(w http.ResponseWriter, r *http.Request) {
		remotetest.WriteJSON(w, http.StatusOK, chatsPayload)
	})
	env := newHandlerEnv(t, client)

	rec := env.do(http.MethodGet, "/chats?chat=a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Rina")
	assert.Contains(t, body, "Is my NPWP ready?")
	assert.Contains(t, body, `action="/chats/a/messages"`)
}

func TestDashboardReportsMissingChat(t *testing.T) {
	_, client := remotetest.New(t, func(w http.ResponseWriter, r *http.Request) {
		remotetest.WriteJSON(w, http.StatusOK, chatsPayload)
	})
	env := newHandlerEnv(t, client)

	rec := env.do(http.MethodGet, "/chats?chat=gone", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "no longer available")
}

func TestDashboardUnauthorizedRedirects(t *testing.T) {
	_, client := remotetest.New(t, func(w http.ResponseWriter, r *http.Request) {
		remotetest.WriteJSON(w, http.StatusUnauthorized, `{"message":"jwt expired"}`)
	})
	env := newHandlerEnv(t, client)

	rec := env.do(http.MethodGet, "/chats", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/auth/login"))
	assert.Nil(t, env.sess.CurrentUser())
}

func TestBlankMessageRendersInline(t *testing.T) {
	api, client := remotetest.New(t, func(w http.ResponseWriter, r *http.Request) {
		remotetest.WriteJSON(w, http.StatusOK, chatsPayload)
	})
	env := newHandlerEnv(t, client)

	rec := env.do(http.MethodPost, "/chats/a/messages", url.Values{"message": {"   "}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "Type a message before sending.")
	assert.Zero(t, api.CountPrefix("POST"))
}

func TestSendMessageRedirectsToChat(t *testing.T) {
	api, client := remotetest.New(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		remotetest.WriteJSON(w, http.StatusOK, chatsPayload)
	})
	env := newHandlerEnv(t, client)

	rec := env.do(http.MethodPost, "/chats/a/messages", url.Values{"message": {"Yes, it is ready."}})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/chats?chat=a", rec.Header().Get("Location"))
	assert.Equal(t, []string{"POST /api/chats/a/messages"}, api.Calls(), "the action itself does not reload the chat list")
	assert.Equal(t, map[string]any{"message": "Yes, it is ready."}, api.Bodies()[0])
}

func TestSetStatusIssuesSingleRequest(t *testing.T) {
	api, client := remotetest.New(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		remotetest.WriteJSON(w, http.StatusOK, chatsPayload)
	})
	env := newHandlerEnv(t, client)

	rec := env.do(http.MethodPost, "/chats/a/status", url.Values{"status": {"Resolved"}})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, []string{"PUT /api/chats/a/status"}, api.Calls())
	assert.Zero(t, api.CountPrefix("GET"))
	assert.Equal(t, map[string]any{"status": "resolved"}, api.Bodies()[0])
	flash := env.sess.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, shared.FlashSuccess, flash.Kind)
}

func TestSetStatusInvalidFlashes(t *testing.T) {
	api, client := remotetest.New(t, func(w http.ResponseWriter, r *http.Request) {})
	env := newHandlerEnv(t, client)

	rec := env.do(http.MethodPost, "/chats/a/status", url.Values{"status": {"archived"}})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Empty(t, api.Calls())
	flash := env.sess.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, shared.FlashError, flash.Kind)
}

func TestReplyNeedsReplyCapability(t *testing.T) {
	api, client := remotetest.New(t, func(w http.ResponseWriter, r *http.Request) {})
	env := newHandlerEnv(t, client, shared.CapChatsView)

	rec := env.do(http.MethodPost, "/chats/a/messages", url.Values{"message": {"hi"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, api.Calls())
}

func dialLive(t *testing.T, env *handlerEnv, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chats/live" + query
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestLiveStreamsSnapshots(t *testing.T) {
	var resolved atomic.Bool
	_, client := remotetest.New(t, func(w http.ResponseWriter, r *http.Request) {
		if resolved.Load() {
			remotetest.WriteJSON(w, http.StatusOK, strings.Replace(chatsPayload, `"status":"open"`, `"status":"resolved"`, 1))
			return
		}
		remotetest.WriteJSON(w, http.StatusOK, chatsPayload)
	})
	env := newHandlerEnv(t, client)
	conn := dialLive(t, env, "?chat=a")

	readUntil := func(match func(Snapshot) bool) Snapshot {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		for {
			var snap Snapshot
			require.NoError(t, conn.ReadJSON(&snap))
			if match(snap) {
				return snap
			}
		}
	}

	snap := readUntil(func(s Snapshot) bool { return s.Selected != nil })
	assert.Equal(t, "a", snap.SelectedID)
	assert.Len(t, snap.Chats, 2)

	resolved.Store(true)
	snap = readUntil(func(s Snapshot) bool { return s.Selected != nil && s.Selected.Status == StatusResolved })
	assert.Equal(t, "a", snap.Selected.ID)

	require.NoError(t, conn.WriteJSON(clientCommand{Type: "select", ID: "b"}))
	snap = readUntil(func(s Snapshot) bool { return s.SelectedID == "b" })
	assert.Equal(t, "Agus", snap.Selected.Participant)

	assert.Equal(t, int32(1), env.opened.Load())
	assert.Equal(t, 1, env.hub.Len())
}

func TestLiveClosesWithUnauthorizedCode(t *testing.T) {
	_, client := remotetest.New(t, func(w http.ResponseWriter, r *http.Request) {
		remotetest.WriteJSON(w, http.StatusUnauthorized, `{"message":"jwt expired"}`)
	})
	env := newHandlerEnv(t, client)
	conn := dialLive(t, env, "")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var err error
	for err == nil {
		_, _, err = conn.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, CloseUnauthorized), "got %v", err)
	assert.Eventually(t, func() bool { return env.closed.Load() == 1 && env.hub.Len() == 0 }, time.Second, 5*time.Millisecond)
}
