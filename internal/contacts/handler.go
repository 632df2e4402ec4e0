package contacts

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taxdesk/taxdesk/internal/listing"
	"github.com/taxdesk/taxdesk/internal/platform/httpx"
	"github.com/taxdesk/taxdesk/internal/rbac"
	"github.com/taxdesk/taxdesk/internal/remote"
	"github.com/taxdesk/taxdesk/internal/shared"
	"github.com/taxdesk/taxdesk/internal/view"
)

const (
	listPath = "/support/contacts"
	viewName = "contacts"
)

// Views holds one mounted contact list per session and browser tab.
type Views = listing.Registry[Message]

// NewViews builds the registry of contact list fetchers.
func NewViews(service *Service, pageSize int, idleTTL time.Duration, onDiscard func(view string) func()) *Views {
	return listing.NewRegistry(idleTTL, func(view string) *listing.Fetcher[Message] {
		var opts []listing.FetcherOption
		if onDiscard != nil {
			opts = append(opts, listing.OnDiscard(onDiscard(view)))
		}
		return listing.NewFetcher(Keys, pageSize, service.List, opts...)
	})
}

// Handler serves the support contact pages.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	views     *Views
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, views *Views, templates *view.Engine, csrf *shared.CSRFManager, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, views: views, templates: templates, csrf: csrf, rbac: rbac}
}

// MountRoutes registers routes under /support/contacts.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CapContactsView))
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.CapContactsReply))
		r.Post("/{id}/reply", h.reply)
		r.Post("/{id}/status", h.setStatus)
	})
}

type formErrors map[string]string

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	req := listing.Resolve(r, Keys)
	if req.Redirect != "" {
		http.Redirect(w, r, req.Redirect, http.StatusSeeOther)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	snap, err := h.views.Get(sess.ID, viewName, req.Tab).Fetch(r.Context(), req.State)
	if errors.Is(err, listing.ErrClosed) {
		snap, err = h.views.Get(sess.ID, viewName, req.Tab).Fetch(r.Context(), req.State)
	}
	switch {
	case errors.Is(err, listing.ErrSuperseded), r.Context().Err() != nil:
		w.WriteHeader(http.StatusNoContent)
		return
	case errors.Is(err, remote.ErrUnauthorized):
		httpx.RedirectToLogin(w, r)
		return
	case errors.Is(err, remote.ErrForbidden):
		h.fail(w, r, err)
		return
	case err != nil:
		h.logger.Warn("list contacts failed", slog.Any("error", err))
	}

	h.render(w, r, "pages/contacts_list.html", "Contact messages", map[string]any{
		"Table":    listing.BuildTable(snap, Keys, listPath, req.Tab),
		"Statuses": Statuses,
		"Prev":     req.State.Query(Keys),
		"Tab":      req.Tab,
		"Back":     listPath + "?" + req.Query(Keys),
	}, http.StatusOK)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	msg, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.renderDetail(w, r, msg, "", formErrors{}, backURL(r.URL.Query().Get("back")), http.StatusOK)
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	back := backURL(r.PostFormValue("back"))
	detail := listPath + "/" + id + "?back=" + url.QueryEscape(back)
	in := ReplyInput{Text: r.PostFormValue("reply")}

	if verr := h.service.ValidateReply(in); verr != nil {
		msg, err := h.service.Get(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		message := "Write a reply before sending."
		if errors.Is(verr, ErrReplyTooLong) {
			message = "Replies are limited to 5000 characters."
		}
		h.renderDetail(w, r, msg, in.Text, formErrors{"reply": message}, back, http.StatusUnprocessableEntity)
		return
	}

	actor := shared.SessionFromContext(r.Context()).User()
	err := h.service.Reply(r.Context(), id, in, actor, r.PostFormValue(shared.IdempotencyFormField))
	switch {
	case err == nil:
		h.redirectWithFlash(w, r, detail, shared.FlashSuccess, "Reply sent.")
	case errors.Is(err, shared.ErrIdempotencyConflict):
		h.redirectWithFlash(w, r, detail, shared.FlashInfo, "This reply was already sent.")
	case errors.Is(err, remote.ErrUnauthorized):
		httpx.RedirectToLogin(w, r)
	default:
		h.logger.Error("reply to contact", slog.String("id", id), slog.Any("error", err))
		h.redirectWithFlash(w, r, detail, shared.FlashError, "Could not send the reply: "+userMessage(err))
	}
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	back := backURL(r.PostFormValue("back"))
	detail := listPath + "/" + id + "?back=" + url.QueryEscape(back)
	actor := shared.SessionFromContext(r.Context()).User()

	err := h.service.SetStatus(r.Context(), id, StatusInput{Status: r.PostFormValue("status")}, actor)
	switch {
	case err == nil:
		h.redirectWithFlash(w, r, back, shared.FlashSuccess, "Status updated.")
	case errors.Is(err, ErrInvalidStatus):
		h.redirectWithFlash(w, r, detail, shared.FlashError, "Choose one of: new, read, replied.")
	case errors.Is(err, remote.ErrUnauthorized):
		httpx.RedirectToLogin(w, r)
	default:
		h.logger.Error("set contact status", slog.String("id", id), slog.Any("error", err))
		h.redirectWithFlash(w, r, detail, shared.FlashError, "Could not update the status: "+userMessage(err))
	}
}

func (h *Handler) renderDetail(w http.ResponseWriter, r *http.Request, msg Message, draft string, errs formErrors, back string, status int) {
	h.render(w, r, "pages/contacts_detail.html", msg.Subject, map[string]any{
		"Message":        msg,
		"Statuses":       Statuses,
		"Reply":          draft,
		"Errors":         errs,
		"Back":           back,
		"IdempotencyKey": shared.NewIdempotencyKey(),
	}, status)
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

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, remote.ErrUnauthorized) {
		httpx.RedirectToLogin(w, r)
		return
	}
	status := httpx.StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("contacts request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	h.render(w, r, "pages/error.html", http.StatusText(status), map[string]any{
		"Status":  status,
		"Message": userMessage(err),
	}, status)
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, target, flashType, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: flashType, Message: message})
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func backURL(raw string) string {
	next := httpx.SafeNext(raw, listPath)
	if next != listPath && !strings.HasPrefix(next, listPath+"?") {
		return listPath
	}
	return next
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, remote.ErrNotFound):
		return "The message no longer exists."
	case errors.Is(err, remote.ErrForbidden):
		return "You are not allowed to do this."
	case errors.Is(err, remote.ErrValidation):
		var se *remote.StatusError
		if errors.As(err, &se) && se.Message != "" {
			return se.Message
		}
		return "The server rejected the request."
	case errors.Is(err, remote.ErrTransient):
		return "The back-office service is temporarily unavailable. Please try again."
	default:
		return "Something went wrong."
	}
}
