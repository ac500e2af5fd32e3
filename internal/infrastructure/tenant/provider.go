// SPDX-License-Identifier: AGPL-3.0-or-later
package tenant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Provider defines the interface for obtaining the company ID that
// governs the current call — normally the company resolved by the
// X-API-Key middleware and attached to the request context.
type Provider interface {
	CurrentCompany(ctx context.Context) (uuid.UUID, error)
}

type companyKey struct{}

// WithCompany attaches a resolved company ID to ctx for downstream
// handlers and the RLS middleware.
func WithCompany(ctx context.Context, companyID uuid.UUID) context.Context {
	return context.WithValue(ctx, companyKey{}, companyID)
}

// FromContext extracts the company ID the auth middleware attached to the
// request, or an error if none is present.
func FromContext(ctx context.Context) (uuid.UUID, error) {
	id, ok := ctx.Value(companyKey{}).(uuid.UUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("no company in context")
	}
	return id, nil
}

// ContextProvider implements Provider by reading the company attached to
// ctx via WithCompany.
type ContextProvider struct{}

func (ContextProvider) CurrentCompany(ctx context.Context) (uuid.UUID, error) {
	return FromContext(ctx)
}
