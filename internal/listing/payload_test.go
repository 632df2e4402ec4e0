package listing

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taxdesk/taxdesk/internal/remote"
)

func TestPageFromPayloadPrefersServerPagination(t *testing.T) {
	payload := remote.ListPayload{Total: 42, Page: 3, Limit: 10, Pages: 99, HasPagination: true}
	page := PageFromPayload([]int{1, 2}, payload, url.Values{"page": {"3"}, "limit": {"10"}})
	assert.Equal(t, Pagination{Total: 42, Page: 3, Limit: 10, Pages: 5}, page.Pagination)
	assert.Equal(t, []int{1, 2}, page.Items)
}

func TestPageFromPayloadDerivesFromTotal(t *testing.T) {
	payload := remote.ListPayload{Total: 23, HasPagination: true}
	page := PageFromPayload(make([]int, 10), payload, url.Values{"page": {"2"}, "limit": {"10"}})
	assert.Equal(t, Pagination{Total: 23, Page: 2, Limit: 10, Pages: 3}, page.Pagination)
}

func TestPageFromPayloadWindowsUnpaginatedLists(t *testing.T) {
	items := make([]int, 25)
	for i := range items {
		items[i] = i
	}
	page := PageFromPayload(items, remote.ListPayload{}, url.Values{"page": {"3"}, "limit": {"10"}})
	assert.Equal(t, []int{20, 21, 22, 23, 24}, page.Items)
	assert.Equal(t, Pagination{Total: 25, Page: 3, Limit: 10, Pages: 3}, page.Pagination)

	page = PageFromPayload(items[:4], remote.ListPayload{}, url.Values{})
	assert.Equal(t, 4, page.Pagination.Total)
	assert.Equal(t, 1, page.Pagination.Pages)
}
