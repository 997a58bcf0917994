package pagination

import (
	"net/http"
	"strconv"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Params are the page/per_page query parameters of a list request.
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// New normalizes page and perPage: page below 1 becomes 1, perPage outside
// 1..MaxPerPage becomes DefaultPerPage.
func New(page, perPage int) Params {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > MaxPerPage {
		perPage = DefaultPerPage
	}
	return Params{Page: page, PerPage: perPage}
}

// FromRequest reads ?page= and ?per_page=, ignoring malformed values.
func FromRequest(r *http.Request) Params {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	return New(page, perPage)
}

// Offset is the number of rows to skip for this page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Result is a page of items plus totals.
type Result[T any] struct {
	Data       []T  `json:"data"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// NewResult builds a Result. A nil slice is rendered as [].
func NewResult[T any](data []T, totalCount int, p Params) Result[T] {
	if data == nil {
		data = []T{}
	}
	totalPages := 0
	if p.PerPage > 0 {
		totalPages = (totalCount + p.PerPage - 1) / p.PerPage
	}
	return Result[T]{
		Data:       data,
		TotalCount: totalCount,
		Page:       p.Page,
		PerPage:    p.PerPage,
		TotalPages: totalPages,
		HasNext:    p.Page < totalPages,
		HasPrev:    p.Page > 1,
	}
}
