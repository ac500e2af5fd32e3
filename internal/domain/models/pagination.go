// SPDX-License-Identifier: AGPL-3.0-or-later
package models

// Pagination describes either offset-based or opaque-cursor-based paging
// for listForOperator; the two modes are mutually exclusive on a request.
type Pagination struct {
	Offset   int    `json:"offset,omitempty"`
	Cursor   string `json:"cursor,omitempty"`
	PageSize int    `json:"page_size"`
}

// PageResult wraps a page of items with the cursor to fetch the next one,
// if any.
type PageResult[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	Total      *int64 `json:"total,omitempty"`
}

// OutboxFilter names the query filters listForOperator accepts.
type OutboxFilter struct {
	CompanyID           string
	Statuses            []string
	DateFrom            *string
	DateTo              *string
	To                  string
	RecipientExternalID string
	FiscalHash          string
	RecipientName       string
	RecipientLegalName  string
	ExternalID          string
	Tags                []string
}
