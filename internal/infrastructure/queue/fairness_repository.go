// SPDX-License-Identifier: AGPL-3.0-or-later
package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/btouchard/sendforge/internal/domain/models"
)

// InMemoryFairnessRepository keeps the tenant fairness record in process
// memory. Adequate for a single worker process; a clustered deployment
// would back this with a Redis hash instead, using the same interface.
type InMemoryFairnessRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]models.TenantFairness
}

func NewInMemoryFairnessRepository() *InMemoryFairnessRepository {
	return &InMemoryFairnessRepository{records: make(map[uuid.UUID]models.TenantFairness)}
}

func (r *InMemoryFairnessRepository) Get(ctx context.Context, companyID uuid.UUID) (models.TenantFairness, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.records[companyID]; ok {
		return f, nil
	}
	return models.TenantFairness{CompanyID: companyID, CurrentPriority: models.BasePriority}, nil
}

func (r *InMemoryFairnessRepository) Save(ctx context.Context, f models.TenantFairness) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[f.CompanyID] = f
	return nil
}
