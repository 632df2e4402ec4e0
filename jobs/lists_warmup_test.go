package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxdesk/taxdesk/internal/contacts"
	"github.com/taxdesk/taxdesk/internal/filings"
	jobmetrics "github.com/taxdesk/taxdesk/internal/jobs"
	"github.com/taxdesk/taxdesk/internal/remote/remotetest"
)

type staticTokens []string

func (s staticTokens) ActiveTokens(_ context.Context, limit int) ([]string, error) {
	return s[:min(limit, len(s))], nil
}

type failingTokens struct{ err error }

func (f failingTokens) ActiveTokens(context.Context, int) ([]string, error) {
	return nil, f.err
}

func TestListsWarmupLoadsFirstPagesPerSession(t *testing.T) {
	api, client := remotetest.New(t, func(w http.ResponseWriter, r *http.Request) {
		remotetest.WriteJSON(w, http.StatusOK, `[]`)
	})
	views := append(FilingViews(filings.NewService(client, nil, nil, nil, nil)),
		ContactsView(contacts.NewService(client, nil, nil, nil, nil)))
	job := NewListsWarmupJob(views, 20, staticTokens{"user-token"}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewListsWarmupTask(ListsWarmupPayload{Pages: 2})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	assert.Equal(t, 2, api.CountPrefix("GET /api/tax-forms"))
	assert.Equal(t, 2, api.CountPrefix("GET /api/advisory-forms"))
	assert.Equal(t, 2, api.CountPrefix("GET /api/company-forms"))
	assert.Equal(t, 2, api.CountPrefix("GET /api/contacts"))
	for _, header := range api.Auth() {
		assert.Equal(t, "Bearer user-token", header)
	}
	for _, call := range api.Calls() {
		assert.Contains(t, call, "limit=20")
	}
}

func TestListsWarmupFiltersViews(t *testing.T) {
	var mu sync.Mutex
	var queries []url.Values
	record := func(name string) WarmView {
		return WarmView{Name: name, Load: func(_ context.Context, q url.Values) error {
			mu.Lock()
			defer mu.Unlock()
			queries = append(queries, q)
			return nil
		}}
	}
	job := NewListsWarmupJob([]WarmView{record("tax"), record("contacts")}, 10, staticTokens{"token"}, nil, nil)

	task, err := NewListsWarmupTask(ListsWarmupPayload{Pages: 3, Views: []string{"contacts"}})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, queries, 3)
	pages := []string{queries[0].Get("page"), queries[1].Get("page"), queries[2].Get("page")}
	assert.Equal(t, []string{"1", "2", "3"}, pages)
}

func TestListsWarmupDefaultsAndCapsPages(t *testing.T) {
	calls := 0
	view := WarmView{Name: "tax", Load: func(context.Context, url.Values) error {
		calls++
		return nil
	}}
	job := NewListsWarmupJob([]WarmView{view}, 10, staticTokens{"token"}, nil, nil)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskListsWarmup, nil)))
	assert.Equal(t, defaultWarmPages, calls)

	calls = 0
	task, err := NewListsWarmupTask(ListsWarmupPayload{Pages: 500})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, maxWarmPages, calls)
}

func TestListsWarmupReportsViewFailure(t *testing.T) {
	boom := errors.New("upstream down")
	view := WarmView{Name: "contacts", Load: func(context.Context, url.Values) error { return boom }}
	job := NewListsWarmupJob([]WarmView{view}, 10, staticTokens{"token"}, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskListsWarmup, nil))
	require.ErrorIs(t, err, boom)
	assert.True(t, strings.Contains(err.Error(), "warm contacts"))
}

func TestListsWarmupWithoutTokenSourceSkipsRetry(t *testing.T) {
	job := NewListsWarmupJob(nil, 10, nil, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskListsWarmup, nil))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestListsWarmupWithoutSessionsIsNoop(t *testing.T) {
	calls := 0
	view := WarmView{Name: "tax", Load: func(context.Context, url.Values) error {
		calls++
		return nil
	}}
	job := NewListsWarmupJob([]WarmView{view}, 10, staticTokens{}, nil, nil)
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskListsWarmup, nil)))
	assert.Zero(t, calls)
}

func TestListsWarmupTokenSourceFailure(t *testing.T) {
	boom := errors.New("redis down")
	job := NewListsWarmupJob(nil, 10, failingTokens{err: boom}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskListsWarmup, nil))
	assert.ErrorIs(t, err, boom)
}

func TestListsWarmupSkipsRevokedSessions(t *testing.T) {
	api, client := remotetest.New(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer revoked" {
			remotetest.WriteJSON(w, http.StatusUnauthorized, `{"message":"expired"}`)
			return
		}
		remotetest.WriteJSON(w, http.StatusOK, `[]`)
	})
	job := NewListsWarmupJob([]WarmView{ContactsView(contacts.NewService(client, nil, nil, nil, nil))},
		10, staticTokens{"revoked", "live"}, nil, nil)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskListsWarmup, nil)))
	assert.Contains(t, api.Auth(), "Bearer live")
	assert.Equal(t, 3, api.CountPrefix("GET /api/contacts"))
}

func TestListsWarmupRejectsBadPayload(t *testing.T) {
	job := NewListsWarmupJob(nil, 10, staticTokens{"token"}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskListsWarmup, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
