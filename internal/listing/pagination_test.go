package listing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPagesIsCeilOfTotalOverLimit(t *testing.T) {
	for total := 0; total <= 95; total++ {
		for _, limit := range []int{1, 3, 10, 25} {
			p := NewPagination(1, limit, total)
			want := total / limit
			if total%limit != 0 {
				want++
			}
			assert.Equal(t, want, p.Pages, "total=%d limit=%d", total, limit)
		}
	}
}

func TestNormalizeOverridesServerPages(t *testing.T) {
	p := Pagination{Total: 21, Page: 0, Limit: 10, Pages: 7}.Normalize()
	assert.Equal(t, Pagination{Total: 21, Page: 1, Limit: 10, Pages: 3}, p)

	p = Pagination{Total: 5}.Normalize()
	assert.Equal(t, 10, p.Limit)
	assert.Equal(t, 1, p.Pages)
}

func TestClamp(t *testing.T) {
	p := NewPagination(1, 10, 35)
	assert.Equal(t, 1, p.Clamp(0))
	assert.Equal(t, 4, p.Clamp(9))
	assert.Equal(t, 2, p.Clamp(2))
	assert.Equal(t, 1, NewPagination(1, 10, 0).Clamp(3))
}

func TestPrevNextBoundaries(t *testing.T) {
	first := NewPagination(1, 10, 30)
	assert.False(t, first.HasPrev())
	assert.True(t, first.HasNext())
	assert.Equal(t, 1, first.PrevPage())

	last := NewPagination(3, 10, 30)
	assert.True(t, last.HasPrev())
	assert.False(t, last.HasNext())
	assert.Equal(t, 3, last.NextPage())
}
