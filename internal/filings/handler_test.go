package filings

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxdesk/taxdesk/internal/platform/cache"
	"github.com/taxdesk/taxdesk/internal/rbac"
	"github.com/taxdesk/taxdesk/internal/remote"
	"github.com/taxdesk/taxdesk/internal/shared"
	"github.com/taxdesk/taxdesk/internal/view"
)

type handlerEnv struct {
	router http.Handler
	sess   *shared.Session
	views  *Views
}

func newHandlerEnv(t *testing.T, client *remote.Client, caps ...string) *handlerEnv {
	t.Helper()
	return newCachedHandlerEnv(t, client, nil, caps...)
}

func newRedisCache(t *testing.T) *cache.Versioned {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return cache.NewVersioned(rdb, time.Minute)
}

func newCachedHandlerEnv(t *testing.T, client *remote.Client, listCache *cache.Versioned, caps ...string) *handlerEnv {
	t.Helper()
	templates, err := view.NewEngine()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(client, listCache, nil, nil, logger)
	views := NewViews(svc, 10, time.Minute, nil)
	h := NewHandler(logger, svc, views, templates, shared.NewCSRFManager("secret"), rbac.Middleware{Logger: logger})

	sess := &shared.Session{ID: "sess-1"}
	if len(caps) == 0 {
		caps = []string{shared.CapFormsView, shared.CapFormsEdit}
	}
	sess.SignIn("tok-1", shared.CurrentUser{ID: "u1", Name: "Admin", Capabilities: caps})

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithSession(req.Context(), sess)
			ctx = remote.WithToken(ctx, sess.Token())
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/admin/forms", h.MountRoutes)
	return &handlerEnv{router: r, sess: sess, views: views}
}

func (e *handlerEnv) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	return e.doCtx(context.Background(), method, target, form)
}

func (e *handlerEnv) doCtx(ctx context.Context, method, target string, form url.Values) *httptest.ResponseRecorder {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body).WithContext(ctx)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestListRedirectsToCanonicalQuery(t *testing.T) {
	api, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, taxFormsPayload)
	})
	env := newHandlerEnv(t, client)

	rec := env.do(http.MethodGet, "/admin/forms/tax?status=all&page=abc", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/forms/tax?page=1", rec.Header().Get("Location"))
	assert.Empty(t, api.Calls())
}

func TestListRendersRows(t *testing.T) {
	api, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, taxFormsPayload)
	})
	env := newHandlerEnv(t, client)

	rec := env.do(http.MethodGet, "/admin/forms/tax?page=1&service=vat&tab=t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Budi Santoso")
	assert.Contains(t, body, "In Review")
	assert.Contains(t, body, `href="/admin/forms/tax?page=2&amp;service=vat&amp;tab=t1"`)
	assert.Contains(t, body, `name="tab" value="t1"`)
	assert.Equal(t, []string{"GET /api/tax-forms?limit=10&page=1&service=vat"}, api.Calls())
}

func TestListFilterChangeResetsPage(t *testing.T) {
	_, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, taxFormsPayload)
	})
	env := newHandlerEnv(t, client)

	form := url.Values{"prev": {"page=2&status=Pending"}, "status": {"all"}, "search": {""}, "service": {"all"}, "tab": {"t1"}}
	rec := env.do(http.MethodGet, "/admin/forms/tax?"+form.Encode(), nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/forms/tax?page=1&tab=t1", rec.Header().Get("Location"))
}

func TestListKeepsRowsWhenRefreshFails(t *testing.T) {
	fail := false
	_, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if fail {
			writeJSON(w, http.StatusServiceUnavailable, `{"message":"maintenance"}`)
			return
		}
		writeJSON(w, http.StatusOK, taxFormsPayload)
	})
	env := newHandlerEnv(t, client)

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/admin/forms/tax?page=1&tab=t1", nil).Code)
	fail = true
	rec := env.do(http.MethodGet, "/admin/forms/tax?page=2&tab=t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Budi Santoso", "previous rows stay visible")
	assert.Contains(t, body, "Could not refresh the list")
}

func TestListTabsDoNotSupersedeEachOther(t *testing.T) {
	release := make(chan struct{})
	api, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			<-release
		}
		writeJSON(w, http.StatusOK, taxFormsPayload)
	})
	env := newHandlerEnv(t, client)

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- env.do(http.MethodGet, "/admin/forms/tax?page=1&tab=t1", nil)
	}()
	require.Eventually(t, func() bool { return api.CountPrefix("GET /api/tax-forms?limit=10&page=1") == 1 },
		time.Second, 5*time.Millisecond)

	second := env.do(http.MethodGet, "/admin/forms/tax?page=2&tab=t2", nil)
	require.Equal(t, http.StatusOK, second.Code)

	close(release)
	rec := <-first
	require.Equal(t, http.StatusOK, rec.Code, "a load in another tab must not supersede this one")
	assert.Contains(t, rec.Body.String(), "Budi Santoso")
	assert.Equal(t, 2, env.views.Len())
}

func TestListSameQueryJoinerSurvivesCancelledCaller(t *testing.T) {
	release := make(chan struct{})
	api, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		writeJSON(w, http.StatusOK, taxFormsPayload)
	})
	env := newCachedHandlerEnv(t, client, newRedisCache(t))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- env.doCtx(ctx, http.MethodGet, "/admin/forms/tax?page=1&tab=t1", nil)
	}()
	require.Eventually(t, func() bool { return api.CountPrefix("GET /api/tax-forms") == 1 },
		time.Second, 5*time.Millisecond)

	second := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		second <- env.do(http.MethodGet, "/admin/forms/tax?page=1&tab=t2", nil)
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.Equal(t, http.StatusNoContent, (<-first).Code)

	close(release)
	rec := <-second
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Budi Santoso")
	assert.NotContains(t, body, "Could not refresh the list")
	assert.Equal(t, 1, api.CountPrefix("GET /api/tax-forms"))
}

func TestListUnauthorizedSignsOutWithWarmCache(t *testing.T) {
	_, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			writeJSON(w, http.StatusUnauthorized, `{"message":"jwt expired"}`)
			return
		}
		writeJSON(w, http.StatusOK, taxFormsPayload)
	})
	env := newCachedHandlerEnv(t, client, newRedisCache(t))

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/admin/forms/tax?page=1&tab=t1", nil).Code)

	env.sess.SignIn("tok-revoked", shared.CurrentUser{ID: "u2", Capabilities: []string{shared.CapFormsView}})
	rec := env.do(http.MethodGet, "/admin/forms/tax?page=1&tab=t1", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/auth/login?next="))
	assert.Empty(t, env.sess.Token())
}

func TestListEmptySearchMessage(t *testing.T) {
	_, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"forms":[],"pagination":{"total":0,"page":1,"limit":10,"pages":0}}`)
	})
	env := newHandlerEnv(t, client)

	rec := env.do(http.MethodGet, "/admin/forms/tax?page=1&search=nobody", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No results for your search")
}

func TestListUnauthorizedSignsOut(t *testing.T) {
	_, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"message":"jwt expired"}`)
	})
	env := newHandlerEnv(t, client)

	rec := env.do(http.MethodGet, "/admin/forms/tax?page=1", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/auth/login?next="))
	assert.Nil(t, env.sess.CurrentUser())
	assert.Empty(t, env.sess.Token())
}

func TestUnknownKindIsNotFound(t *testing.T) {
	_, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {})
	env := newHandlerEnv(t, client)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/admin/forms/payroll?page=1", nil).Code)
}

func TestDetailRendersBackLink(t *testing.T) {
	_, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":{"_id":"f1","fullName":"Budi","status":"Pending","service":"vat"}}`)
	})
	env := newHandlerEnv(t, client)

	rec := env.do(http.MethodGet, "/admin/forms/tax/f1?back="+url.QueryEscape("/admin/forms/tax?page=3&status=Pending"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="/admin/forms/tax?page=3&amp;status=Pending"`)

	rec = env.do(http.MethodGet, "/admin/forms/tax/f1?back="+url.QueryEscape("https://evil.example"), nil)
	assert.Contains(t, rec.Body.String(), `href="/admin/forms/tax"`)
}

func TestUpdateStatusInvalidRendersInline(t *testing.T) {
	api, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":{"_id":"f1","fullName":"Budi","status":"Pending"}}`)
	})
	env := newHandlerEnv(t, client)

	rec := env.do(http.MethodPost, "/admin/forms/tax/f1/status", url.Values{"status": {"Archived"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "Choose one of")
	assert.Zero(t, api.CountPrefix("PUT"))
}

func TestUpdateStatusRedirectsToList(t *testing.T) {
	api, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	env := newHandlerEnv(t, client)

	rec := env.do(http.MethodPost, "/admin/forms/tax/f1/status", url.Values{
		"status": {"Completed"},
		"back":   {"/admin/forms/tax?page=2&status=Pending"},
	})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/forms/tax?page=2&status=Pending", rec.Header().Get("Location"))
	assert.Equal(t, []string{"PUT /api/tax-forms/f1/status"}, api.Calls())
	flash := env.sess.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, shared.FlashSuccess, flash.Kind)
}

func TestUpdateStatusFailureKeepsUserOnDetail(t *testing.T) {
	_, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, `{}`)
	})
	env := newHandlerEnv(t, client)

	rec := env.do(http.MethodPost, "/admin/forms/tax/f1/status", url.Values{"status": {"Completed"}})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/admin/forms/tax/f1"))
	flash := env.sess.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, shared.FlashError, flash.Kind)
}

func TestUpdateStatusRequiresEditCapability(t *testing.T) {
	api, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {})
	env := newHandlerEnv(t, client, shared.CapFormsView)

	rec := env.do(http.MethodPost, "/admin/forms/tax/f1/status", url.Values{"status": {"Completed"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, api.Calls())
}
