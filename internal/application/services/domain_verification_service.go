// SPDX-License-Identifier: AGPL-3.0-or-later
package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/infrastructure/dkim"
	"github.com/btouchard/sendforge/pkg/logger"
)

// requiredConsecutiveSuccesses is how many consecutive passing DNS checks
// promote a domain from PENDING to VERIFIED. Not specified explicitly;
// chosen to tolerate one flaky DNS propagation window without stalling
// onboarding indefinitely.
const requiredConsecutiveSuccesses = 3

type domainStore interface {
	Create(ctx context.Context, d *models.Domain) error
	GetByName(ctx context.Context, companyID uuid.UUID, name string) (*models.Domain, error)
	MarkChecked(ctx context.Context, id uuid.UUID, dkimStatus models.DKIMStatus, status models.DomainStatus, success bool) error
	ListDueForCheck(ctx context.Context, limit int) ([]*models.Domain, error)
}

// DomainVerificationService runs the periodic DKIM DNS-lookup loop from
// §4.7: each pending domain is polled on an interval, and a run of
// requiredConsecutiveSuccesses passing checks promotes it to VERIFIED.
type DomainVerificationService struct {
	domains  domainStore
	verifier *dkim.Verifier
	encKey   []byte
}

func NewDomainVerificationService(domains domainStore, verifier *dkim.Verifier, encKey []byte) *DomainVerificationService {
	return &DomainVerificationService{domains: domains, verifier: verifier, encKey: encKey}
}

// Onboard generates a new DKIM keypair for a company's sending domain and
// persists it in PENDING state, awaiting the verification loop.
func (s *DomainVerificationService) Onboard(ctx context.Context, companyID uuid.UUID, name string) (*models.Domain, error) {
	selector, err := dkim.NewSelector()
	if err != nil {
		return nil, err
	}
	kp, err := dkim.Generate(selector, 1, s.encKey)
	if err != nil {
		return nil, err
	}

	d := &models.Domain{
		CompanyID:                companyID,
		Name:                     name,
		Status:                   models.DomainStatusPending,
		DKIMStatus:               models.DKIMStatusPending,
		DKIMSelectors:            []string{selector},
		DKIMPublicKey:            kp.PublicKeyBase64,
		DKIMPrivateKeyCiphertext: string(kp.PrivateKeyCiphertext),
		DKIMKeyVersion:           kp.KeyVersion,
	}
	if err := s.domains.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// RunCheckCycle polls every domain due for a check and records the
// outcome, promoting domains that have accumulated enough consecutive
// successes.
func (s *DomainVerificationService) RunCheckCycle(ctx context.Context, batchSize int) (checked int, err error) {
	domains, err := s.domains.ListDueForCheck(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	for _, d := range domains {
		if len(d.DKIMSelectors) == 0 {
			continue
		}
		ok, verifyErr := s.verifier.Verify(ctx, d.Name, d.DKIMSelectors[0], d.DKIMPublicKey)
		if verifyErr != nil {
			logger.Logger.Warn("domain verification: dns lookup failed", "domain", d.Name, "error", verifyErr.Error())
			ok = false
		}

		dkimStatus := models.DKIMStatusFailed
		status := d.Status
		if ok {
			dkimStatus = models.DKIMStatusVerified
			if d.ConsecutiveSuccesses+1 >= requiredConsecutiveSuccesses {
				status = models.DomainStatusVerified
			}
		} else if d.Status == models.DomainStatusVerified {
			status = models.DomainStatusTemporaryFailure
		} else {
			status = models.DomainStatusFailed
		}

		if err := s.domains.MarkChecked(ctx, d.ID, dkimStatus, status, ok); err != nil {
			logger.Logger.Error("domain verification: failed to persist check result", "domain", d.Name, "error", err.Error())
			continue
		}
		checked++
	}
	return checked, nil
}
