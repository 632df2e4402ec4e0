// Package listing holds the list-page machinery shared by every admin and
// support list: URL-synced filters, pagination, a fetcher that drops stale
// responses, and the table view model.
package listing

import (
	"net/url"
	"strconv"
	"strings"
)

// AllSentinel is the select-widget value meaning "no filter". It never
// reaches the URL or the remote API.
const AllSentinel = "all"

// Query parameter names shared by all list pages.
const (
	ParamStatus = "status"
	ParamSearch = "search"
	ParamPage   = "page"
	ParamLimit  = "limit"
)

// Keys names the domain-specific secondary filter of a list, such as
// "service" or "subService". An empty Secondary disables it.
type Keys struct {
	Secondary string
}

// FilterState is the user-chosen constraint set of a list view.
type FilterState struct {
	Status string
	// Search is trimmed on parse, so surrounding whitespace is dropped by a
	// round trip through the URL.
	Search    string
	Secondary string
	Page      int
}

// ParseFilter reads recognized keys from values. Search and the select
// values are trimmed of surrounding whitespace. Page defaults to 1 when
// absent, non-numeric or below 1.
func ParseFilter(values url.Values, keys Keys) FilterState {
	state := FilterState{
		Status: selectValue(values.Get(ParamStatus)),
		Search: strings.TrimSpace(values.Get(ParamSearch)),
		Page:   parsePage(values.Get(ParamPage)),
	}
	if keys.Secondary != "" {
		state.Secondary = selectValue(values.Get(keys.Secondary))
	}
	return state
}

// Values serializes the state. Empty filters are omitted; page is always set.
func (s FilterState) Values(keys Keys) url.Values {
	values := url.Values{}
	if s.Status != "" {
		values.Set(ParamStatus, s.Status)
	}
	if s.Search != "" {
		values.Set(ParamSearch, s.Search)
	}
	if keys.Secondary != "" && s.Secondary != "" {
		values.Set(keys.Secondary, s.Secondary)
	}
	page := s.Page
	if page < 1 {
		page = 1
	}
	values.Set(ParamPage, strconv.Itoa(page))
	return values
}

// Query returns the canonical encoded query string (keys sorted).
func (s FilterState) Query(keys Keys) string {
	return s.Values(keys).Encode()
}

// WithPage returns a copy pointing at page.
func (s FilterState) WithPage(page int) FilterState {
	if page < 1 {
		page = 1
	}
	s.Page = page
	return s
}

// HasSearch reports whether a search term is active.
func (s FilterState) HasSearch() bool {
	return s.Search != ""
}

// Canonical parses values and re-encodes them, dropping unknown keys.
func Canonical(values url.Values, keys Keys) string {
	return ParseFilter(values, keys).Query(keys)
}

func selectValue(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, AllSentinel) {
		return ""
	}
	return v
}

func parsePage(v string) int {
	page, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || page < 1 {
		return 1
	}
	return page
}
