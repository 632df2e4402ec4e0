package listing

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const (
	// ParamPrev carries the canonical query the filter form was rendered with.
	ParamPrev = "prev"
	// ParamTab identifies the browser tab a list view belongs to.
	ParamTab = "tab"
)

const maxTabLen = 32

// Request is a resolved list request.
type Request struct {
	State FilterState
	// Tab keys the view's fetcher, so two tabs on the same list do not
	// supersede each other's loads.
	Tab string
	// Redirect is set when the request URL is not canonical.
	Redirect string
}

// Query returns the canonical query of the request, tab included.
func (q Request) Query(keys Keys) string {
	return tabQuery(q.State, keys, q.Tab)
}

// NewTab returns a fresh tab id.
func NewTab() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// ValidTab reports whether tab is a usable tab id: 1 to 32 ASCII letters,
// digits or dashes.
func ValidTab(tab string) bool {
	if tab == "" || len(tab) > maxTabLen {
		return false
	}
	for _, c := range tab {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
		default:
			return false
		}
	}
	return true
}

// Resolve derives the filter state and tab of a list request. Redirect is
// set when the request URL is not the canonical serialization; callers
// redirect and stop. A filter form submission (one carrying ParamPrev) is
// replayed through Sync against the previous state, so a changed filter
// lands on page 1 while an unchanged one keeps the page. A request without
// a tab gets a fresh one and is served in place; an invalid tab is dropped.
func Resolve(r *http.Request, keys Keys) Request {
	query := r.URL.Query()
	tab := query.Get(ParamTab)
	if !ValidTab(tab) {
		tab = ""
	}

	if query.Has(ParamPrev) {
		prev, err := url.ParseQuery(query.Get(ParamPrev))
		if err != nil {
			prev = url.Values{}
		}
		sync := NewSync(keys, prev)
		sync.SetStatus(query.Get(ParamStatus))
		sync.SetSearch(query.Get(ParamSearch))
		if keys.Secondary != "" {
			sync.SetSecondary(query.Get(keys.Secondary))
		}
		if tab == "" {
			tab = NewTab()
		}
		req := Request{State: sync.State(), Tab: tab}
		req.Redirect = r.URL.Path + "?" + req.Query(keys)
		return req
	}

	req := Request{State: ParseFilter(query, keys), Tab: tab}
	if canonical := req.Query(keys); canonical != r.URL.RawQuery {
		req.Redirect = r.URL.Path + "?" + canonical
		return req
	}
	if req.Tab == "" {
		req.Tab = NewTab()
	}
	return req
}

func tabQuery(state FilterState, keys Keys, tab string) string {
	values := state.Values(keys)
	if tab != "" {
		values.Set(ParamTab, tab)
	}
	return values.Encode()
}
