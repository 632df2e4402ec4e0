package listing

import "net/url"

// Sync keeps a FilterState and the browser URL consistent in both
// directions. State changes apply immediately; the URL is only rewritten
// through Navigation, and only when the serialized state differs from the URL
// last seen, so a sync round never triggers a second navigation.
type Sync struct {
	keys  Keys
	state FilterState
	url   string
}

// NewSync mounts a Sync on the initial URL query.
func NewSync(keys Keys, initial url.Values) *Sync {
	return &Sync{
		keys:  keys,
		state: ParseFilter(initial, keys),
		url:   initial.Encode(),
	}
}

// State returns the current filter state.
func (s *Sync) State() FilterState {
	return s.state
}

// Keys returns the list's key set.
func (s *Sync) Keys() Keys {
	return s.keys
}

// ApplyURL re-syncs state after an external URL change (back/forward). Only
// fields whose parsed value differs are touched; the result reports whether
// any did.
func (s *Sync) ApplyURL(values url.Values) bool {
	next := ParseFilter(values, s.keys)
	s.url = values.Encode()
	changed := false
	if next.Status != s.state.Status {
		s.state.Status = next.Status
		changed = true
	}
	if next.Search != s.state.Search {
		s.state.Search = next.Search
		changed = true
	}
	if next.Secondary != s.state.Secondary {
		s.state.Secondary = next.Secondary
		changed = true
	}
	if next.Page != s.state.Page {
		s.state.Page = next.Page
		changed = true
	}
	return changed
}

// SetStatus applies a user status choice. "all" clears the filter. A real
// change resets the page to 1.
func (s *Sync) SetStatus(v string) bool {
	return s.setFilter(&s.state.Status, selectValue(v))
}

// SetSearch applies a search term and resets the page on change.
func (s *Sync) SetSearch(v string) bool {
	return s.setFilter(&s.state.Search, ParseFilter(url.Values{ParamSearch: {v}}, s.keys).Search)
}

// SetSecondary applies the domain filter and resets the page on change.
func (s *Sync) SetSecondary(v string) bool {
	if s.keys.Secondary == "" {
		return false
	}
	return s.setFilter(&s.state.Secondary, selectValue(v))
}

// SetPage moves to page without touching other filters.
func (s *Sync) SetPage(page int) bool {
	if page < 1 {
		page = 1
	}
	if page == s.state.Page {
		return false
	}
	s.state.Page = page
	return true
}

// Navigation returns the query the URL should move to, and false when the
// URL already reflects the state.
func (s *Sync) Navigation() (string, bool) {
	target := s.state.Query(s.keys)
	if target == s.url {
		return "", false
	}
	return target, true
}

// Navigated records that the URL now carries query.
func (s *Sync) Navigated(query string) {
	s.url = query
}

func (s *Sync) setFilter(field *string, v string) bool {
	if *field == v {
		return false
	}
	*field = v
	s.state.Page = 1
	return true
}
