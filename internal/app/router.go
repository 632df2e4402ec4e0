package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/taxdesk/taxdesk/internal/auth"
	"github.com/taxdesk/taxdesk/internal/chat"
	"github.com/taxdesk/taxdesk/internal/contacts"
	"github.com/taxdesk/taxdesk/internal/filings"
	"github.com/taxdesk/taxdesk/internal/observability"
	"github.com/taxdesk/taxdesk/internal/rbac"
	"github.com/taxdesk/taxdesk/internal/shared"
	"github.com/taxdesk/taxdesk/internal/view"
	"github.com/taxdesk/taxdesk/jobs"
	"github.com/taxdesk/taxdesk/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Templates       *view.Engine
	SessionManager  *shared.SessionManager
	CSRFManager     *shared.CSRFManager
	RBACMiddleware  rbac.Middleware
	AuthHandler     *auth.Handler
	FilingsHandler  *filings.Handler
	ContactsHandler *contacts.Handler
	ChatHandler     *chat.Handler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with portal defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	pages := pageRenderer{logger: params.Logger, templates: params.Templates, csrf: params.CSRFManager}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		pages.message(w, r, http.StatusNotFound, "The page you are looking for does not exist.")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.With(params.RBACMiddleware.RequireAuth).Get("/", func(w http.ResponseWriter, r *http.Request) {
		pages.render(w, r, http.StatusOK, "pages/home.html", "Dashboard", map[string]any{
			"AppEnv": params.Config.AppEnv,
		})
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	mutations := mutationLimit(60)
	r.Route("/admin/forms", func(r chi.Router) {
		r.Use(mutations)
		params.FilingsHandler.MountRoutes(r)
	})
	r.Route("/support/contacts", func(r chi.Router) {
		r.Use(mutations)
		params.ContactsHandler.MountRoutes(r)
	})
	r.Route("/chats", func(r chi.Router) {
		r.Use(mutations)
		params.ChatHandler.MountRoutes(r)
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// ForbiddenPage renders the 403 page for the RBAC middleware.
func ForbiddenPage(logger *slog.Logger, templates *view.Engine, csrf *shared.CSRFManager) http.HandlerFunc {
	pages := pageRenderer{logger: logger, templates: templates, csrf: csrf}
	return func(w http.ResponseWriter, r *http.Request) {
		pages.message(w, r, http.StatusForbidden, "You do not have access to this page.")
	}
}

type pageRenderer struct {
	logger    *slog.Logger
	templates *view.Engine
	csrf      *shared.CSRFManager
}

func (p pageRenderer) message(w http.ResponseWriter, r *http.Request, status int, msg string) {
	p.render(w, r, status, "pages/error.html", http.StatusText(status), map[string]any{
		"Status":  status,
		"Message": msg,
	})
}

func (p pageRenderer) render(w http.ResponseWriter, r *http.Request, status int, tmpl, title string, data map[string]any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := p.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	w.WriteHeader(status)
	if err := p.templates.Render(w, tmpl, view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		User:        sess.CurrentUser(),
		Data:        data,
	}); err != nil {
		p.logger.Error("render page", slog.String("template", tmpl), slog.Any("error", err))
	}
}

// staticCacheHandler wraps a file server with Cache-Control headers.
// Static assets are cached for one hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
