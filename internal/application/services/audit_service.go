// SPDX-License-Identifier: AGPL-3.0-or-later
package services

import (
	"context"
	"fmt"

	"github.com/btouchard/sendforge/internal/domain/models"
)

type auditRecorder interface {
	Record(ctx context.Context, e *models.AuditEvent) error
}

// AuditService records every break-glass PII access as an immutable
// audit_events row, independent of the request's RLS transaction so the
// record survives even if the underlying lookup later fails.
type AuditService struct {
	repo auditRecorder
}

func NewAuditService(repo auditRecorder) *AuditService {
	return &AuditService{repo: repo}
}

// RecordAccess logs one break-glass unmask: who, why, at what resource,
// from where. Callers invoke this after SessionService confirms the
// operator's session can unmask PII, before returning the unmasked value.
func (s *AuditService) RecordAccess(ctx context.Context, operatorID, reason, resource, ip string) error {
	if err := s.repo.Record(ctx, &models.AuditEvent{
		OperatorID: operatorID,
		Reason:     reason,
		Resource:   resource,
		IP:         ip,
	}); err != nil {
		return fmt.Errorf("record break-glass audit event: %w", err)
	}
	return nil
}
