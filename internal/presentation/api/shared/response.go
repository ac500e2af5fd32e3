// SPDX-License-Identifier: AGPL-3.0-or-later
package shared

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Response is the standard success envelope wrapping handler data.
type Response struct {
	Data interface{}            `json:"data,omitempty"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

// CursorParams holds the cursor/offset/limit query parameters accepted by
// the listing endpoint, per the mutually-exclusive paging modes in
// models.Pagination. Offset is only meaningful when Cursor is empty.
type CursorParams struct {
	Cursor   string
	Offset   int
	PageSize int
}

// ParseCursorParams reads `cursor`, `offset` and `limit` from the query
// string, clamping limit to [1, maxPageSize]. `cursor` takes precedence
// over `offset` when both are given, matching models.Pagination's
// mutual-exclusivity: a cursor carries more precise position information
// than a plain offset, so it wins rather than erroring.
func ParseCursorParams(r *http.Request, defaultPageSize, maxPageSize int) CursorParams {
	p := CursorParams{Cursor: r.URL.Query().Get("cursor"), PageSize: defaultPageSize}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			p.PageSize = limit
		}
	}
	if p.PageSize < 1 {
		p.PageSize = defaultPageSize
	}
	if maxPageSize > 0 && p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}

	if p.Cursor == "" {
		if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
			if offset, err := strconv.Atoi(offsetStr); err == nil && offset > 0 {
				p.Offset = offset
			}
		}
	}
	return p
}

func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(Response{Data: data})
}

func WriteJSONWithMeta(w http.ResponseWriter, statusCode int, data interface{}, meta map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(Response{Data: data, Meta: meta})
}

// WritePage writes a PageResult as data, with the next cursor (if any)
// surfaced in meta for the caller to pass back as ?cursor=.
func WritePage(w http.ResponseWriter, items interface{}, nextCursor string) {
	meta := map[string]interface{}{}
	if nextCursor != "" {
		meta["nextCursor"] = nextCursor
	}
	WriteJSONWithMeta(w, http.StatusOK, items, meta)
}
