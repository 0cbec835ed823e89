package api

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// parsePagination reads limit and offset query parameters. Invalid values
// fall back to the defaults and limit is capped at maxPageSize.
func parsePagination(c echo.Context) (limit, offset int) {
	limit = defaultPageSize
	if n, err := strconv.Atoi(c.QueryParam("limit")); err == nil && n > 0 {
		limit = min(n, maxPageSize)
	}
	if n, err := strconv.Atoi(c.QueryParam("offset")); err == nil && n >= 0 {
		offset = n
	}
	return limit, offset
}

// paginate returns the window of items selected by limit and offset.
func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}
