package listing

import (
	"net/url"
	"strconv"

	"github.com/taxdesk/taxdesk/internal/remote"
)

// PageFromPayload attaches pagination to normalized items. When the API sent
// a pagination block it wins. Otherwise the server total (or, lacking one,
// the item count) is used; an endpoint that ignored page/limit and returned
// everything is windowed here.
func PageFromPayload[T any](items []T, payload remote.ListPayload, query url.Values) Page[T] {
	page := parsePage(query.Get(ParamPage))
	limit, err := strconv.Atoi(query.Get(ParamLimit))
	if err != nil || limit <= 0 {
		limit = 10
	}

	if payload.HasPagination && (payload.Page > 0 || payload.Limit > 0 || payload.Total > len(items)) {
		pg := Pagination{Total: payload.Total, Page: payload.Page, Limit: payload.Limit}
		if pg.Page <= 0 {
			pg.Page = page
		}
		if pg.Limit <= 0 {
			pg.Limit = limit
		}
		return Page[T]{Items: items, Pagination: pg.Normalize()}
	}

	total := len(items)
	if payload.HasPagination && payload.Total > total {
		total = payload.Total
	}
	if len(items) > limit {
		start := (page - 1) * limit
		if start > len(items) {
			start = len(items)
		}
		end := start + limit
		if end > len(items) {
			end = len(items)
		}
		items = items[start:end]
	}
	return Page[T]{Items: items, Pagination: NewPagination(page, limit, total)}
}
