// Package history provides prior-claim lookups for flag rules.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/avia/internal/domain"
)

// ClaimCounter counts an organization's claims on a policy since a time.
type ClaimCounter interface {
	CountClaimsByPolicy(ctx context.Context, orgID string, policyNumber string, since time.Time) (int64, error)
}

// Service calculates claim history for policies.
type Service struct {
	counter ClaimCounter
	now     func() time.Time
}

// NewService creates a new history service.
func NewService(counter ClaimCounter) *Service {
	return &Service{
		counter: counter,
		now:     time.Now,
	}
}

// PriorClaims returns the number of claims on a policy filed within window.
func (s *Service) PriorClaims(ctx context.Context, orgID, policyNumber string, window time.Duration) (int64, error) {
	if orgID == "" {
		return 0, fmt.Errorf("orgID is required")
	}
	if policyNumber == "" || window <= 0 {
		return 0, nil
	}

	since := s.now().Add(-window)
	count, err := s.counter.CountClaimsByPolicy(ctx, orgID, policyNumber, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count claims for policy %s: %w", policyNumber, err)
	}
	return count, nil
}

// OtherClaims returns the number of claims on claim's policy within window,
// not counting claim itself.
func (s *Service) OtherClaims(ctx context.Context, claim *domain.Claim, window time.Duration) (int64, error) {
	count, err := s.PriorClaims(ctx, claim.OrgID, claim.PolicyNumber, window)
	if err != nil || count == 0 {
		return count, err
	}
	if !claim.CreatedAt.IsZero() && !claim.CreatedAt.Before(s.now().Add(-window)) {
		count--
	}
	return max(count, 0), nil
}
