package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/repository"
)

func TestHistoryService(t *testing.T) {
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	orgID := "org-apex"
	if err := repo.SaveOrganization(ctx, &domain.Organization{ID: orgID, Name: "Apex Insurance Co."}); err != nil {
		t.Fatalf("failed to save organization: %v", err)
	}

	svc := NewService(repo)
	window := 365 * 24 * time.Hour

	t.Run("EmptyDatabase", func(t *testing.T) {
		count, err := svc.PriorClaims(ctx, orgID, "POL-100", window)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for empty database, got %d", count)
		}
	})

	var latest *domain.Claim
	now := time.Now().UTC()
	ages := []time.Duration{2 * 24 * time.Hour, 30 * 24 * time.Hour, 400 * 24 * time.Hour}
	for i, age := range ages {
		c := &domain.Claim{
			ID:           fmt.Sprintf("CLM-H%d", i),
			PolicyNumber: "POL-100",
			Data:         domain.ClaimRecord{"policy_number": "POL-100"},
			Source:       domain.SourceUploaded,
			CreatedAt:    now.Add(-age),
		}
		if err := repo.SaveClaim(ctx, orgID, c); err != nil {
			t.Fatalf("failed to save claim: %v", err)
		}
		if i == 0 {
			latest = c
		}
	}

	t.Run("WithinWindow", func(t *testing.T) {
		count, err := svc.PriorClaims(ctx, orgID, "POL-100", window)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 2 {
			t.Errorf("expected 2 claims within window, got %d", count)
		}
	})

	t.Run("OtherClaimsExcludesSelf", func(t *testing.T) {
		count, err := svc.OtherClaims(ctx, latest, window)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 other claim, got %d", count)
		}
	})

	t.Run("OtherOrganization", func(t *testing.T) {
		count, err := svc.PriorClaims(ctx, "org-nova", "POL-100", window)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected tenant isolation, got %d", count)
		}
	})

	t.Run("NoPolicy", func(t *testing.T) {
		count, err := svc.PriorClaims(ctx, orgID, "", window)
		if err != nil || count != 0 {
			t.Errorf("expected 0 without error for empty policy, got %d, %v", count, err)
		}
	})

	t.Run("RequiresOrg", func(t *testing.T) {
		if _, err := svc.PriorClaims(ctx, "", "POL-100", window); err == nil {
			t.Error("expected error for empty orgID")
		}
	})
}
