package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/taxdesk/taxdesk/internal/contacts"
	"github.com/taxdesk/taxdesk/internal/filings"
	jobmetrics "github.com/taxdesk/taxdesk/internal/jobs"
	"github.com/taxdesk/taxdesk/internal/listing"
	"github.com/taxdesk/taxdesk/internal/remote"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const (
	defaultWarmPages    = 2
	maxWarmPages        = 10
	defaultWarmSessions = 20
)

// TokenSource lists the bearer tokens of signed-in sessions. List caches are
// scoped per token, so warming only helps callers holding one of them.
type TokenSource interface {
	ActiveTokens(ctx context.Context, limit int) ([]string, error)
}

// WarmView is one admin list the warmup job can pre-load.
type WarmView struct {
	Name string
	Keys listing.Keys
	Load func(ctx context.Context, query url.Values) error
}

// FilingViews exposes the three submission lists for warmup.
func FilingViews(svc *filings.Service) []WarmView {
	views := make([]WarmView, 0, 3)
	for _, kind := range filings.Kinds() {
		views = append(views, WarmView{
			Name: string(kind.Kind),
			Keys: kind.Keys,
			Load: func(ctx context.Context, query url.Values) error {
				_, err := svc.List(ctx, kind, query)
				return err
			},
		})
	}
	return views
}

// ContactsView exposes the contact message list for warmup.
func ContactsView(svc *contacts.Service) WarmView {
	return WarmView{
		Name: "contacts",
		Keys: contacts.Keys,
		Load: func(ctx context.Context, query url.Values) error {
			_, err := svc.List(ctx, query)
			return err
		},
	}
}

// ListsWarmupJob loads the unfiltered first pages of each list for every
// signed-in session so their next list view hits the redis cache.
type ListsWarmupJob struct {
	Views       []WarmView
	PageSize    int
	Tokens      TokenSource
	MaxSessions int
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	clock       func() time.Time
}

// NewListsWarmupJob wires dependencies for the warmup handler.
func NewListsWarmupJob(views []WarmView, pageSize int, tokens TokenSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *ListsWarmupJob {
	return &ListsWarmupJob{
		Views:       views,
		PageSize:    pageSize,
		Tokens:      tokens,
		MaxSessions: defaultWarmSessions,
		Logger:      logger,
		Metrics:     metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes list warmup tasks.
func (j *ListsWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("lists warmup: handler not configured")
	}
	var payload ListsWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Pages <= 0 {
		payload.Pages = defaultWarmPages
	}
	payload.Pages = min(payload.Pages, maxWarmPages)

	tracker := j.metrics().Track(TaskListsWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if j.Tokens == nil {
		resultErr = errors.New("lists warmup: token source not configured")
		j.logger().Error("skip warmup", slog.Any("error", resultErr))
		return fmt.Errorf("%w: %w", resultErr, asynq.SkipRetry)
	}

	logger := j.logger().With(slog.Int("pages", payload.Pages))
	tokens, err := j.Tokens.ActiveTokens(ctx, j.maxSessions())
	if err != nil {
		resultErr = fmt.Errorf("list active sessions: %w", err)
		return resultErr
	}
	if len(tokens) == 0 {
		logger.Info("no signed-in sessions, nothing to warm")
		return resultErr
	}
	logger = logger.With(slog.Int("sessions", len(tokens)))
	logger.Info("starting lists warmup")

	start := j.now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)
	for _, token := range tokens {
		tokenCtx := remote.WithToken(gctx, token)
		for _, view := range j.Views {
			if len(payload.Views) > 0 && !slices.Contains(payload.Views, view.Name) {
				continue
			}
			g.Go(func() error {
				err := j.warmView(tokenCtx, view, payload.Pages)
				switch {
				case err == nil:
					return nil
				case errors.Is(err, remote.ErrUnauthorized), errors.Is(err, remote.ErrForbidden):
					logger.Debug("session cannot load view", slog.String("view", view.Name), slog.Any("error", err))
					return nil
				default:
					logger.Error("warm view", slog.String("view", view.Name), slog.Any("error", err))
					return fmt.Errorf("warm %s: %w", view.Name, err)
				}
			})
		}
	}
	if err := g.Wait(); err != nil {
		resultErr = err
		return resultErr
	}

	logger.Info("completed lists warmup", slog.Duration("duration", j.now().Sub(start)))
	return resultErr
}

func (j *ListsWarmupJob) warmView(ctx context.Context, view WarmView, pages int) error {
	if view.Load == nil {
		return nil
	}
	viewCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	warmed := 0
	defer func() { j.metrics().AddWarmed(view.Name, warmed) }()
	for page := 1; page <= pages; page++ {
		state := listing.FilterState{Page: page}
		if err := view.Load(viewCtx, listing.BuildQuery(state, view.Keys, j.PageSize)); err != nil {
			return err
		}
		warmed++
	}
	return nil
}

func (j *ListsWarmupJob) maxSessions() int {
	if j.MaxSessions > 0 {
		return j.MaxSessions
	}
	return defaultWarmSessions
}

func (j *ListsWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskListsWarmup))
	}
	return slog.Default().With(slog.String("job", TaskListsWarmup))
}

func (j *ListsWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ListsWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
