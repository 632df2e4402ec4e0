package listing

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

// NewPagination computes pagination metadata with Pages = ceil(total/limit).
func NewPagination(page, limit, total int) Pagination {
	return Pagination{Page: page, Limit: limit, Total: total}.Normalize()
}

// Normalize enforces the invariants: limit > 0, page >= 1, total >= 0 and
// pages derived from total and limit regardless of what the server sent.
func (p Pagination) Normalize() Pagination {
	if p.Limit <= 0 {
		p.Limit = 10
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Total < 0 {
		p.Total = 0
	}
	p.Pages = (p.Total + p.Limit - 1) / p.Limit
	return p
}

// Clamp bounds page to [1, max(pages, 1)].
func (p Pagination) Clamp(page int) int {
	last := p.Pages
	if last < 1 {
		last = 1
	}
	if page > last {
		page = last
	}
	if page < 1 {
		page = 1
	}
	return page
}

// HasPrev reports whether a previous page exists.
func (p Pagination) HasPrev() bool {
	return p.Page > 1
}

// HasNext reports whether a next page exists.
func (p Pagination) HasNext() bool {
	return p.Page < p.Pages
}

// PrevPage returns the clamped previous page number.
func (p Pagination) PrevPage() int {
	return p.Clamp(p.Page - 1)
}

// NextPage returns the clamped next page number.
func (p Pagination) NextPage() int {
	return p.Clamp(p.Page + 1)
}
