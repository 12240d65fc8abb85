package api

import (
	"net/http"
	"strconv"

	"github.com/mwexplorer/chainstate/internal/util"
)

// parsePagination extracts limit/offset query parameters with defaults and
// clamping.
func parsePagination(r *http.Request, defaultLimit, maxLimit int) (limit, offset int) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limit = defaultLimit
	} else if parsed, err := strconv.Atoi(limitStr); err != nil || parsed < 1 {
		util.Warn("invalid pagination limit, using default", "provided", limitStr, "path", r.URL.Path)
		limit = defaultLimit
	} else if parsed > maxLimit {
		limit = maxLimit
	} else {
		limit = parsed
	}

	offsetStr := r.URL.Query().Get("offset")
	if offsetStr == "" {
		offset = 0
	} else if parsed, err := strconv.Atoi(offsetStr); err != nil || parsed < 0 {
		util.Warn("invalid pagination offset, using zero", "provided", offsetStr, "path", r.URL.Path)
		offset = 0
	} else {
		offset = parsed
	}

	return limit, offset
}

// NewPaginatedResponse builds the standard {data, total, limit, offset} envelope.
func NewPaginatedResponse(data interface{}, total int64, limit, offset int) map[string]interface{} {
	return map[string]interface{}{
		"data":   data,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	}
}
