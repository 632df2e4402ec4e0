package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *SessionManager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "taxdesk_test", "secret", time.Hour, false)
}

func TestSessionSignInRoundTrip(t *testing.T) {
	sm := newTestManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	sess.SignIn("tok-1", CurrentUser{ID: "u1", Name: "Dana", Role: "support"})

	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, req, sess))

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		next.AddCookie(c)
	}
	loaded, err := sm.Load(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, "tok-1", loaded.Token())
	require.NotNil(t, loaded.CurrentUser())
	assert.Equal(t, "u1", loaded.User())
	assert.True(t, loaded.CurrentUser().Can(CapChatsView))
	assert.False(t, loaded.CurrentUser().Can(CapFormsEdit))
}

func TestSessionRejectsForgedCookie(t *testing.T) {
	sm := newTestManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	sess.SignIn("tok", CurrentUser{ID: "u1"})
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), req, sess))

	forged := httptest.NewRequest(http.MethodGet, "/", nil)
	forged.AddCookie(&http.Cookie{Name: sm.CookieName(), Value: sess.ID + ".bogus"})
	loaded, err := sm.Load(ctx, forged)
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, loaded.ID)
	assert.Empty(t, loaded.Token())
}

func TestSessionDestroyTearsDown(t *testing.T) {
	sm := newTestManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	sess.SignIn("tok", CurrentUser{ID: "u1"})
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), req, sess))

	sm.Destroy(sess)
	assert.Empty(t, sess.Token())
	assert.Nil(t, sess.CurrentUser())
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), req, sess))

	_, err = sm.LoadByID(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFlashIsPoppedOnce(t *testing.T) {
	sess := &Session{}
	sess.AddFlash(FlashMessage{Kind: FlashError, Message: "boom"})
	first := sess.PopFlash()
	require.NotNil(t, first)
	assert.Equal(t, "boom", first.Message)
	assert.Nil(t, sess.PopFlash())
}

func TestCapabilitiesPreferExplicitList(t *testing.T) {
	u := &CurrentUser{Role: "admin", Capabilities: []string{"Forms.View"}}
	assert.True(t, u.Can(CapFormsView))
	assert.False(t, u.Can(CapChatsView))

	var anon *CurrentUser
	assert.False(t, anon.Can(CapFormsView))
}

func TestActiveTokensListsSignedInSessions(t *testing.T) {
	sm := newTestManager(t)
	ctx := context.Background()
	commit := func(token string) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		sess, err := sm.Load(ctx, req)
		require.NoError(t, err)
		if token != "" {
			sess.SignIn(token, CurrentUser{ID: "u-" + token})
		} else {
			sess.AddFlash(FlashMessage{Kind: "info", Message: "hello"})
		}
		require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), req, sess))
	}
	commit("tok-a")
	commit("tok-b")
	commit("tok-a")
	commit("")

	tokens, err := sm.ActiveTokens(ctx, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tok-a", "tok-b"}, tokens)

	tokens, err = sm.ActiveTokens(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, tokens, 1)
}
