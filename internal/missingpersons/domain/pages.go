package domain

// DefaultPageSize is the person list page size.
const DefaultPageSize = 4

// Page is one slice of a paginated list.
type Page[T any] struct {
	Items       []T `json:"items"`
	PageCount   int `json:"pageCount"`
	CurrentPage int `json:"currentPage"`
	PageSize    int `json:"pageSize"`
	Total       int `json:"total"`
}

// Paginate returns page (1-based) of items. Pages past the end clamp to the
// last page and pages below 1 clamp to 1; an empty list yields page 1 of 0.
func Paginate[T any](items []T, size, page int) Page[T] {
	if size < 1 {
		size = DefaultPageSize
	}

	total := len(items)
	pageCount := (total + size - 1) / size

	if page > pageCount {
		page = pageCount
	}
	if page < 1 {
		page = 1
	}

	start := (page - 1) * size
	end := start + size
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	out := make([]T, end-start)
	copy(out, items[start:end])

	return Page[T]{
		Items:       out,
		PageCount:   pageCount,
		CurrentPage: page,
		PageSize:    size,
		Total:       total,
	}
}
