package httpx

import (
	"net/http"
	"net/url"

	"github.com/taxdesk/taxdesk/internal/shared"
)

// LoginPath is where signed-out users are sent.
const LoginPath = "/auth/login"

// RedirectToLogin clears the cached user after the remote API rejected the
// token and sends the browser to the login page, remembering where it was.
func RedirectToLogin(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		if sess.Token() != "" {
			sess.AddFlash(shared.FlashMessage{Kind: shared.FlashInfo, Message: "Your session has expired. Please sign in again."})
		}
		sess.SignOut()
	}
	target := LoginPath
	if r.Method == http.MethodGet && r.URL.Path != LoginPath {
		target += "?" + url.Values{"next": {r.URL.RequestURI()}}.Encode()
	}
	if WantsJSON(r) {
		Problem(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized), "")
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// SafeNext returns next when it is a local path, otherwise fallback.
func SafeNext(next, fallback string) string {
	if len(next) < 2 || next[0] != '/' || next[1] == '/' || next[1] == '\\' {
		return fallback
	}
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return next
}
