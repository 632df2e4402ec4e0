package filings

import (
	"context"
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

// Views holds the mounted list views per (session, kind, tab).
type Views = listing.Registry[Submission]

// NewViews builds the registry of list fetchers. onDiscard, when set,
// returns the hook counting stale responses for a view.
func NewViews(service *Service, pageSize int, idleTTL time.Duration, onDiscard func(view string) func()) *Views {
	return listing.NewRegistry(idleTTL, func(view string) *listing.Fetcher[Submission] {
		kind, _ := ParseKind(view)
		var opts []listing.FetcherOption
		if onDiscard != nil {
			opts = append(opts, listing.OnDiscard(onDiscard(view)))
		}
		return listing.NewFetcher(kind.Keys, pageSize, func(ctx context.Context, query url.Values) (listing.Page[Submission], error) {
			return service.List(ctx, kind, query)
		}, opts...)
	})
}

// Handler manages the admin form endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	views     *Views
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(
	logger *slog.Logger,
	service *Service,
	views *Views,
	templates *view.Engine,
	csrf *shared.CSRFManager,
	rbac rbac.Middleware,
) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		views:     views,
		templates: templates,
		csrf:      csrf,
		rbac:      rbac,
	}
}

// MountRoutes registers form routes under /admin/forms.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CapFormsView))
		r.Get("/{kind}", h.list)
		r.Get("/{kind}/{id}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.CapFormsEdit))
		r.Post("/{kind}/{id}/status", h.updateStatus)
	})
}

type formErrors map[string]string

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.fail(w, r, remote.ErrNotFound)
		return
	}
	req := listing.Resolve(r, kind.Keys)
	if req.Redirect != "" {
		http.Redirect(w, r, req.Redirect, http.StatusSeeOther)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	snap, err := h.views.Get(sess.ID, string(kind.Kind), req.Tab).Fetch(r.Context(), req.State)
	if errors.Is(err, listing.ErrClosed) {
		// Swept between Get and Fetch; mount a fresh view.
		snap, err = h.views.Get(sess.ID, string(kind.Kind), req.Tab).Fetch(r.Context(), req.State)
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
		h.logger.Warn("list forms failed", slog.String("kind", string(kind.Kind)), slog.Any("error", err))
	}

	h.render(w, r, "pages/filings_list.html", kind.Title, map[string]any{
		"Kind":     kind,
		"Table":    listing.BuildTable(snap, kind.Keys, r.URL.Path, req.Tab),
		"Statuses": Statuses,
		"Prev":     req.State.Query(kind.Keys),
		"Tab":      req.Tab,
		"Back":     r.URL.Path + "?" + req.Query(kind.Keys),
	}, http.StatusOK)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.fail(w, r, remote.ErrNotFound)
		return
	}
	sub, err := h.service.Get(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.renderDetail(w, r, kind, sub, StatusUpdate{}, formErrors{}, backURL(r.URL.Query().Get("back"), kind), http.StatusOK)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.fail(w, r, remote.ErrNotFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	back := backURL(r.PostFormValue("back"), kind)
	detail := "/admin/forms/" + string(kind.Kind) + "/" + id + "?back=" + url.QueryEscape(back)
	upd := StatusUpdate{
		Status: strings.TrimSpace(r.PostFormValue("status")),
		Note:   strings.TrimSpace(r.PostFormValue("note")),
	}

	// Validation failures are rendered inline before any mutation call.
	if verr := h.service.Validate(upd); verr != nil {
		sub, err := h.service.Get(r.Context(), kind, id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.renderDetail(w, r, kind, sub, upd, FieldErrors(verr), back, http.StatusUnprocessableEntity)
		return
	}

	actor := shared.SessionFromContext(r.Context()).User()
	err = h.service.UpdateStatus(r.Context(), kind, id, upd, actor, r.PostFormValue(shared.IdempotencyFormField))
	switch {
	case err == nil:
		h.redirectWithFlash(w, r, back, shared.FlashSuccess, "Status updated to "+upd.Status+".")
	case errors.Is(err, shared.ErrIdempotencyConflict):
		h.redirectWithFlash(w, r, detail, shared.FlashInfo, "This change was already submitted.")
	case errors.Is(err, remote.ErrUnauthorized):
		httpx.RedirectToLogin(w, r)
	default:
		h.logger.Error("update form status", slog.String("kind", string(kind.Kind)), slog.String("id", id), slog.Any("error", err))
		h.redirectWithFlash(w, r, detail, shared.FlashError, "Could not update the status: "+userMessage(err))
	}
}

func (h *Handler) renderDetail(w http.ResponseWriter, r *http.Request, kind KindInfo, sub Submission, upd StatusUpdate, errs formErrors, back string, status int) {
	h.render(w, r, "pages/filings_detail.html", sub.Reference, map[string]any{
		"Kind":           kind,
		"Submission":     sub,
		"Statuses":       Statuses,
		"Errors":         errs,
		"Note":           upd.Note,
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

	viewData := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		User:        sess.CurrentUser(),
		Data:        data,
	}

	w.WriteHeader(status)
	if err := h.templates.Render(w, tmpl, viewData); err != nil {
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
		h.logger.Error("forms request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	h.render(w, r, "pages/error.html", http.StatusText(status), map[string]any{
		"Status":  status,
		"Message": userMessage(err),
	}, status)
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, target, flashType, message string) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: flashType, Message: message})
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// backURL keeps the list filters when returning from a detail page.
func backURL(raw string, kind KindInfo) string {
	list := "/admin/forms/" + string(kind.Kind)
	next := httpx.SafeNext(raw, list)
	if next != list && !strings.HasPrefix(next, list+"?") {
		return list
	}
	return next
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, remote.ErrNotFound):
		return "The form no longer exists."
	case errors.Is(err, remote.ErrForbidden):
		return "You are not allowed to do this."
	case errors.Is(err, remote.ErrValidation):
		var se *remote.StatusError
		if errors.As(err, &se) && se.Message != "" {
			return se.Message
		}
		return "The server rejected the change."
	case errors.Is(err, remote.ErrTransient):
		return "The back-office service is temporarily unavailable. Please try again."
	default:
		return "Something went wrong."
	}
}
