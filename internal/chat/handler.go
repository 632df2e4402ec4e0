package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/taxdesk/taxdesk/internal/listing"
	"github.com/taxdesk/taxdesk/internal/platform/httpx"
	"github.com/taxdesk/taxdesk/internal/rbac"
	"github.com/taxdesk/taxdesk/internal/remote"
	"github.com/taxdesk/taxdesk/internal/shared"
	"github.com/taxdesk/taxdesk/internal/view"
)

// Websocket close codes understood by the dashboard script.
const (
	CloseUnauthorized = 4001
	CloseForbidden    = 4003
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	readLimit  = 4096
)

// Config tunes the dashboard handler.
type Config struct {
	Interval time.Duration
	// PollFailed is called for every failed background poll.
	PollFailed func()
	// LiveOpened is called when a websocket mounts a store and returns the
	// function called when it unmounts.
	LiveOpened func() func()
}

// Handler serves the live chat dashboard.
type Handler struct {
	logger    *slog.Logger
	api       API
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
	sessions  *shared.SessionManager
	hub       *Hub
	cfg       Config
	upgrader  websocket.Upgrader
}

// NewHandler builds the dashboard handler. sessions may be nil, in which case
// live connections keep the capabilities they were opened with.
func NewHandler(logger *slog.Logger, api API, templates *view.Engine, csrf *shared.CSRFManager, rbac rbac.Middleware, sessions *shared.SessionManager, hub *Hub, cfg Config) *Handler {
	if hub == nil {
		hub = NewHub()
	}
	return &Handler{
		logger:    logger,
		api:       api,
		templates: templates,
		csrf:      csrf,
		rbac:      rbac,
		sessions:  sessions,
		hub:       hub,
		cfg:       cfg,
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
	}
}

// MountRoutes registers routes under /chats.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CapChatsView))
		r.Get("/", h.dashboard)
		r.Get("/live", h.live)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.CapChatsReply))
		r.Post("/{id}/messages", h.send)
		r.Post("/{id}/status", h.setStatus)
	})
}

type formErrors map[string]string

func (h *Handler) newStore(sessionID string) *Store {
	opts := []Option{
		WithLogger(h.logger.With(slog.String("component", "chat.store"))),
		WithInterval(h.cfg.Interval),
		WithCapability(h.capability(sessionID)),
	}
	if h.cfg.PollFailed != nil {
		opts = append(opts, WithPollFailureHook(h.cfg.PollFailed))
	}
	return NewStore(h.api, opts...)
}

// capability re-reads the persisted session so a logout or a role change
// stops polling on the next tick.
func (h *Handler) capability(sessionID string) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		if h.sessions == nil {
			return shared.CurrentUserFromContext(ctx).Can(shared.CapChatsView)
		}
		sess, err := h.sessions.LoadByID(ctx, sessionID)
		switch {
		case errors.Is(err, shared.ErrNotFound):
			return false
		case err != nil:
			h.logger.Warn("chat capability check", slog.Any("error", err))
			return true
		}
		return sess.Token() != "" && sess.CurrentUser().Can(shared.CapChatsView)
	}
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	h.renderDashboard(w, r, r.URL.Query().Get("chat"), "", formErrors{}, http.StatusOK)
}

func (h *Handler) renderDashboard(w http.ResponseWriter, r *http.Request, chatID, draft string, errs formErrors, status int) {
	sess := shared.SessionFromContext(r.Context())
	store := h.newStore(sess.ID)
	err := store.Refresh(r.Context(), Visible)
	if errors.Is(err, remote.ErrUnauthorized) {
		httpx.RedirectToLogin(w, r)
		return
	}
	snap := store.Select(chatID)

	h.render(w, r, "pages/chats.html", "Live chat", map[string]any{
		"Snapshot": snap,
		"Skeleton": make([]int, listing.SkeletonRows),
		"Statuses": Statuses,
		"Draft":    draft,
		"Errors":   errs,
	}, status)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	sess := shared.SessionFromContext(r.Context())

	// The redirect target and the live stores refresh on their own.
	err := postMessage(r.Context(), h.api, id, r.PostFormValue("message"))
	switch {
	case errors.Is(err, ErrEmptyMessage):
		h.renderDashboard(w, r, id, "", formErrors{"message": "Type a message before sending."}, http.StatusUnprocessableEntity)
		return
	case errors.Is(err, remote.ErrUnauthorized):
		httpx.RedirectToLogin(w, r)
		return
	case err != nil:
		h.logger.Error("send chat message", slog.String("chat", id), slog.Any("error", err))
		h.redirectWithFlash(w, r, id, shared.FlashError, "Message not sent: "+userMessage(err))
		return
	}
	h.hub.Nudge(sess.ID)
	http.Redirect(w, r, dashboardURL(id), http.StatusSeeOther)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	sess := shared.SessionFromContext(r.Context())

	err := putStatus(r.Context(), h.api, id, r.PostFormValue("status"))
	switch {
	case err == nil:
		h.hub.Nudge(sess.ID)
		h.redirectWithFlash(w, r, id, shared.FlashSuccess, "Conversation status updated.")
	case errors.Is(err, ErrInvalidStatus):
		h.redirectWithFlash(w, r, id, shared.FlashError, "Choose one of: open, resolved, closed.")
	case errors.Is(err, remote.ErrUnauthorized):
		httpx.RedirectToLogin(w, r)
	default:
		h.logger.Error("update chat status", slog.String("chat", id), slog.Any("error", err))
		h.redirectWithFlash(w, r, id, shared.FlashError, "Could not update the status: "+userMessage(err))
	}
}

type clientCommand struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// live mounts one polling store per websocket connection and streams its
// snapshots until the socket closes or polling stops.
func (h *Handler) live(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", slog.Any("error", err))
		return
	}
	defer conn.Close()
	if h.cfg.LiveOpened != nil {
		defer h.cfg.LiveOpened()()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	store := h.newStore(sess.ID)
	updates, unsubscribe := store.Subscribe()
	defer unsubscribe()
	h.hub.Register(sess.ID, store)
	defer h.hub.Unregister(sess.ID, store)

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			var cmd clientCommand
			if json.Unmarshal(msg, &cmd) != nil {
				continue
			}
			switch cmd.Type {
			case "select":
				store.Select(cmd.ID)
			case "dismiss":
				store.DismissNotice()
			case "refresh":
				store.Poke()
			}
		}
	}()

	if err := store.Refresh(ctx, Visible); errors.Is(err, remote.ErrUnauthorized) {
		h.closeWith(conn, CloseUnauthorized, "signed out")
		return
	}
	store.Select(r.URL.Query().Get("chat"))
	if err := store.Start(ctx); err != nil {
		h.closeWith(conn, CloseForbidden, "chat access revoked")
		return
	}
	defer store.Stop()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	done := store.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			if errors.Is(store.Err(), remote.ErrUnauthorized) {
				h.closeWith(conn, CloseUnauthorized, "signed out")
			} else {
				h.closeWith(conn, CloseForbidden, "chat access revoked")
			}
			return
		case snap := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		h.logger.Debug("websocket close", slog.Any("error", err))
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, tmpl, title string, data map[string]any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	w.WriteHeader(status)
	if err := h.templates.Render(w, tmpl, view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		User:        sess.CurrentUser(),
		Data:        data,
	}); err != nil {
		h.logger.Error("template render failed", "error", err, "template", tmpl)
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, chatID, flashType, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: flashType, Message: message})
	}
	http.Redirect(w, r, dashboardURL(chatID), http.StatusSeeOther)
}

func dashboardURL(chatID string) string {
	if chatID == "" {
		return "/chats"
	}
	return "/chats?chat=" + url.QueryEscape(chatID)
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, remote.ErrNotFound):
		return "the conversation no longer exists."
	case errors.Is(err, remote.ErrForbidden):
		return "you are not allowed to do this."
	case errors.Is(err, remote.ErrTransient):
		return "the service is temporarily unavailable."
	default:
		return "something went wrong."
	}
}
