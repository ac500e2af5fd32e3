// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	// BasePriority is the default priority assigned to a freshly enqueued
	// job absent any starvation adjustment.
	BasePriority = 5
	// MinPriority is the most urgent priority a tenant can be promoted to.
	MinPriority = 1
	// MaxPriority is the least urgent priority.
	MaxPriority = 10
)

// TenantFairness is the cached, per-company scheduling state consulted by
// the worker's fairness scheduler on every claim attempt.
type TenantFairness struct {
	CompanyID             uuid.UUID `json:"company_id"`
	LastProcessedAt       time.Time `json:"last_processed_at"`
	RoundsWithoutProcessing int     `json:"rounds_without_processing"`
	CurrentPriority       int       `json:"current_priority"`
	TotalProcessed        int64     `json:"total_processed"`
	ConsecutiveBatchCount int       `json:"consecutive_batch_count"`
}

// NextPriority derives the next-enqueue priority from rounds starved:
// priority = max(1, basePriority - rounds*1). More starvation pushes a
// tenant toward the most-urgent end of the scale.
func NextPriority(roundsWithoutProcessing int) int {
	p := BasePriority - roundsWithoutProcessing
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}
