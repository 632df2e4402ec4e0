package listing

// SkeletonRows is the number of placeholder rows rendered while the first
// page is loading, so the layout does not jump when data arrives.
const SkeletonRows = 10

// Empty-state messages.
const (
	EmptySearchMessage  = "No results for your search"
	EmptyDefaultMessage = "No records yet"
)

// TableView is the render model of a paginated table.
type TableView[T any] struct {
	Rows         []T
	Skeleton     []int
	Loading      bool
	Empty        bool
	EmptyMessage string
	Pagination   Pagination
	State        FilterState
	PrevDisabled bool
	NextDisabled bool
	PrevURL      string
	NextURL      string
	// Notice carries the message of a failed fetch while stale rows remain.
	Notice string
}

// BuildTable derives the table view from a snapshot. basePath is the list
// URL without query, used for the prev/next links, which keep tab.
func BuildTable[T any](snap Snapshot[T], keys Keys, basePath, tab string) TableView[T] {
	state := snap.State
	if state.Page < 1 {
		state.Page = 1
	}
	pg := snap.Pagination
	pg.Page = state.Page

	view := TableView[T]{
		Rows:         snap.Items,
		Loading:      snap.Loading,
		Pagination:   pg,
		State:        state,
		PrevDisabled: state.Page <= 1,
		NextDisabled: state.Page >= pg.Pages,
	}
	if snap.Err != nil {
		view.Notice = snap.Err.Error()
	}

	switch {
	case len(snap.Items) == 0 && snap.Loading:
		view.Skeleton = make([]int, SkeletonRows)
		for i := range view.Skeleton {
			view.Skeleton[i] = i
		}
	case len(snap.Items) == 0:
		view.Empty = true
		view.EmptyMessage = EmptyDefaultMessage
		if state.HasSearch() {
			view.EmptyMessage = EmptySearchMessage
		}
	}

	if !view.PrevDisabled {
		view.PrevURL = basePath + "?" + tabQuery(state.WithPage(pg.PrevPage()), keys, tab)
	}
	if !view.NextDisabled {
		view.NextURL = basePath + "?" + tabQuery(state.WithPage(pg.NextPage()), keys, tab)
	}
	return view
}
