// Package view renders the server-side HTML templates.
package view

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/taxdesk/taxdesk/internal/shared"
	"github.com/taxdesk/taxdesk/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	User        *shared.CurrentUser
	Data        any
}

var titleCaser = cases.Title(language.English)

// StatusLabel turns API status spellings ("in-review", "open") into labels.
func StatusLabel(status string) string {
	status = strings.TrimSpace(strings.NewReplacer("-", " ", "_", " ").Replace(status))
	if status == "" {
		return "Unknown"
	}
	return titleCaser.String(status)
}

// StatusClass returns a css-safe class suffix for a status.
func StatusClass(status string) string {
	return strings.ToLower(strings.NewReplacer(" ", "-", "_", "-").Replace(strings.TrimSpace(status)))
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("15:04")
		},
		"statusLabel": StatusLabel,
		"statusClass": StatusClass,
		"can": func(u *shared.CurrentUser, capability string) bool {
			return u.Can(capability)
		},
		"selected": func(current, value string) bool {
			return strings.EqualFold(current, value)
		},
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return e.templates.ExecuteTemplate(w, name, data)
}

// Lookup reports whether a template name is defined.
func (e *Engine) Lookup(name string) bool {
	return e != nil && e.templates.Lookup(name) != nil
}
