package query

// Page size limits.
const (
	DefaultPageSize = 10
	MaxPageSize     = 1000
)

// Page is one page of results with its position in the whole.
type Page[T any] struct {
	Data       []T `json:"data"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

// Paginate returns the 1-based page of items. Page numbers below 1 are
// treated as 1, and a page past the end is empty. TotalPages is at least
// 1, even with no items.
func Paginate[T any](items []T, pageSize, page int) Page[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if page < 1 {
		page = 1
	}

	total := len(items)
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}

	result := Page[T]{
		Data:       []T{},
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}

	start := (page - 1) * pageSize
	if start >= total {
		return result
	}
	end := min(start+pageSize, total)

	result.Data = items[start:end]
	return result
}
