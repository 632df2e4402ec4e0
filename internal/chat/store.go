package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/taxdesk/taxdesk/internal/remote"
)

// DefaultInterval is the polling period of a mounted store.
const DefaultInterval = 5 * time.Second

// Errors reported by the store.
var (
	ErrEmptyMessage   = errors.New("chat: message is empty")
	ErrInvalidStatus  = errors.New("chat: invalid status")
	ErrNotAllowed     = errors.New("chat: chats are not visible to this user")
	ErrCapabilityLost = errors.New("chat: chat access revoked")
)

// Mode selects how a refresh is presented.
type Mode int

const (
	// Visible toggles Loading and reports failures as a notice.
	Visible Mode = iota
	// Silent never touches Loading and only logs failures.
	Silent
)

// API is the part of the remote client the store needs.
type API interface {
	GetRaw(ctx context.Context, path string, query url.Values) ([]byte, error)
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
}

// Snapshot is the state pushed to the dashboard.
type Snapshot struct {
	Chats         []Chat `json:"chats"`
	SelectedID    string `json:"selected_id,omitempty"`
	Selected      *Chat  `json:"selected,omitempty"`
	Loading       bool   `json:"loading"`
	SelectionLost bool   `json:"selection_lost"`
	Notice        string `json:"notice,omitempty"`
}

// Option customizes a Store.
type Option func(*Store)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithCapability sets the check run before polling starts and on every tick.
func WithCapability(allowed func(ctx context.Context) bool) Option {
	return func(s *Store) { s.allowed = allowed }
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPollFailureHook is called for every failed silent refresh.
func WithPollFailureHook(fn func()) Option {
	return func(s *Store) { s.onPollFailure = fn }
}

// Store holds the chat list of one mounted dashboard.
type Store struct {
	api           API
	interval      time.Duration
	allowed       func(ctx context.Context) bool
	logger        *slog.Logger
	onPollFailure func()

	mu            sync.Mutex
	chats         []Chat
	selectedID    string
	selectionLost bool
	loading       bool
	loadingGen    uint64
	notice        string
	gen           uint64
	subs          map[chan Snapshot]struct{}

	cancel  context.CancelFunc
	done    chan struct{}
	stopErr error
	poke    chan struct{}
}

// NewStore builds an unmounted store.
func NewStore(api API, opts ...Option) *Store {
	s := &Store{
		api:      api,
		interval: DefaultInterval,
		allowed:  func(context.Context) bool { return true },
		logger:   slog.Default(),
		subs:     make(map[chan Snapshot]struct{}),
		poke:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins polling until Stop, ctx cancellation, a lost capability or a
// remote 401. It returns ErrNotAllowed without polling when the capability
// check fails. Calling Start on a running store is a no-op.
func (s *Store) Start(ctx context.Context) error {
	if !s.allowed(ctx) {
		return ErrNotAllowed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.stopErr = nil
	go s.poll(ctx, s.done)
	return nil
}

func (s *Store) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.poke:
		}
		if !s.allowed(ctx) {
			s.halt(ErrCapabilityLost)
			return
		}
		if err := s.Refresh(ctx, Silent); errors.Is(err, remote.ErrUnauthorized) {
			s.halt(err)
			return
		}
	}
}

func (s *Store) halt(err error) {
	s.mu.Lock()
	s.stopErr = err
	s.mu.Unlock()
	s.logger.Info("chat polling stopped", slog.Any("reason", err))
}

// Stop cancels polling and waits for the poller to exit.
func (s *Store) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the poller exits. It is nil before Start.
func (s *Store) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err reports why polling stopped on its own, if it did.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopErr
}

// Poke asks a running poller to refresh now instead of waiting for the tick.
func (s *Store) Poke() {
	select {
	case s.poke <- struct{}{}:
	default:
	}
}

// Refresh reloads the chat list. A response that arrives after a later
// refresh started is dropped. Silent failures are logged and returned but
// never shown.
func (s *Store) Refresh(ctx context.Context, mode Mode) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	if mode == Visible {
		s.loading = true
		s.loadingGen = gen
		s.notice = ""
	}
	s.mu.Unlock()
	if mode == Visible {
		s.publish()
	}

	raw, err := s.api.GetRaw(ctx, "/chats", nil)
	var chats []Chat
	if err == nil {
		chats, err = decodeChats(raw)
	}

	s.mu.Lock()
	if mode == Visible && s.loadingGen == gen {
		s.loading = false
	}
	current := gen == s.gen
	switch {
	case err != nil:
		if mode == Visible && current && !errors.Is(err, context.Canceled) {
			s.notice = "Could not load conversations: " + noticeText(err)
		}
	case current:
		s.chats = chats
		s.resolveSelectionLocked()
	}
	s.mu.Unlock()

	if err != nil {
		if mode == Silent {
			s.logger.Warn("chat poll failed", slog.Any("error", err))
			if s.onPollFailure != nil {
				s.onPollFailure()
			}
		} else {
			s.logger.Error("chat refresh failed", slog.Any("error", err))
		}
		s.publish()
		return err
	}
	if !current {
		s.logger.Debug("discarded superseded chat refresh", slog.Uint64("generation", gen))
	}
	s.publish()
	return nil
}

// resolveSelectionLocked swaps the selected chat for its fresh copy and
// clears the selection when the chat disappeared.
func (s *Store) resolveSelectionLocked() {
	if s.selectedID == "" {
		return
	}
	if s.indexLocked(s.selectedID) < 0 {
		s.logger.Info("selected chat vanished", slog.String("chat", s.selectedID))
		s.selectedID = ""
		s.selectionLost = true
	}
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.chats, func(c Chat) bool { return c.ID == id })
}

// Select focuses a chat. An empty id clears the selection; an unknown id
// clears it and reports SelectionLost.
func (s *Store) Select(id string) Snapshot {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	s.selectionLost = false
	switch {
	case id == "":
		s.selectedID = ""
	case s.indexLocked(id) < 0:
		s.selectedID = ""
		s.selectionLost = true
	default:
		s.selectedID = id
	}
	s.mu.Unlock()
	s.publish()
	return s.Snapshot()
}

// DismissNotice clears the failure notice.
func (s *Store) DismissNotice() {
	s.mu.Lock()
	s.notice = ""
	s.mu.Unlock()
	s.publish()
}

// Send posts a staff message then refreshes at once.
func (s *Store) Send(ctx context.Context, id, text string) error {
	if err := postMessage(ctx, s.api, id, text); err != nil {
		return err
	}
	s.forceRefresh(ctx)
	return nil
}

// SetStatus changes a chat status then refreshes at once.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	if err := putStatus(ctx, s.api, id, status); err != nil {
		return err
	}
	s.forceRefresh(ctx)
	return nil
}

func postMessage(ctx context.Context, api API, id, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	path := "/chats/" + url.PathEscape(id) + "/messages"
	if err := api.Post(ctx, path, map[string]string{"message": text}, nil); err != nil {
		return fmt.Errorf("send chat message: %w", err)
	}
	return nil
}

func putStatus(ctx context.Context, api API, id, status string) error {
	status = strings.ToLower(strings.TrimSpace(status))
	if !slices.Contains(Statuses, status) {
		return ErrInvalidStatus
	}
	path := "/chats/" + url.PathEscape(id) + "/status"
	if err := api.Put(ctx, path, map[string]string{"status": status}, nil); err != nil {
		return fmt.Errorf("update chat status: %w", err)
	}
	return nil
}

func (s *Store) forceRefresh(ctx context.Context) {
	if err := s.Refresh(ctx, Silent); err != nil {
		s.logger.Warn("refresh after chat action", slog.Any("error", err))
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Chats:         slices.Clone(s.chats),
		SelectedID:    s.selectedID,
		Loading:       s.loading,
		SelectionLost: s.selectionLost,
		Notice:        s.notice,
	}
	if i := s.indexLocked(s.selectedID); s.selectedID != "" && i >= 0 {
		selected := s.chats[i]
		snap.Selected = &selected
	}
	return snap
}

// Subscribe returns a channel receiving the latest snapshot after each
// change. Slow readers only see the newest one.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}
}

func (s *Store) publish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked()
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func noticeText(err error) string {
	switch {
	case errors.Is(err, remote.ErrForbidden):
		return "access denied."
	case errors.Is(err, remote.ErrTransient):
		return "the service is temporarily unavailable."
	default:
		return "unexpected error."
	}
}
