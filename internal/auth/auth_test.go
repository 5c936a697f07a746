package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/opensource-finance/avia/internal/cache"
	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/repository"
)

const testPassword = "avia2026"

func newTestService(t *testing.T, cfg domain.AuthConfig) (*Service, *repository.SQLRepository, *cache.LRUCache) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "auth.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	if err := repo.SaveOrganization(ctx, &domain.Organization{ID: "org-apex", Name: "Apex Insurance Co."}); err != nil {
		t.Fatalf("SaveOrganization failed: %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing failed: %v", err)
	}
	if err := repo.SaveUser(ctx, &domain.User{
		ID: "user-001", OrgID: "org-apex", Username: "jsmith", DisplayName: "John Smith",
		Role: domain.RoleInvestigator, PasswordHash: string(hash),
	}); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}

	lru := cache.NewLRUCache(100)
	t.Cleanup(func() { lru.Close() })

	return NewService(repo, lru, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))), repo, lru
}

func TestLogin(t *testing.T) {
	svc, repo, _ := newTestService(t, domain.AuthConfig{})
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		session, user, err := svc.Login(ctx, " jsmith ", testPassword)
		if err != nil {
			t.Fatalf("login failed: %v", err)
		}
		if user.ID != "user-001" || session.OrgID != "org-apex" {
			t.Errorf("unexpected session %+v for user %+v", session, user)
		}
		if len(session.Token) != 64 {
			t.Errorf("expected 64 hex chars, got %d", len(session.Token))
		}
		if ttl := session.ExpiresAt.Sub(session.CreatedAt); ttl != 8*time.Hour {
			t.Errorf("expected 8h session, got %v", ttl)
		}
		if _, err := repo.GetSession(ctx, session.Token); err != nil {
			t.Errorf("expected session persisted, got %v", err)
		}
	})

	t.Run("WrongPassword", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "jsmith", "wrong")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("UnknownUser", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "nobody", testPassword)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("EmptyCredentials", func(t *testing.T) {
		if _, _, err := svc.Login(ctx, "", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})
}

func TestLoginThrottle(t *testing.T) {
	svc, _, _ := newTestService(t, domain.AuthConfig{MaxLoginFailures: 3, LoginWindow: time.Minute})
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		if _, _, err := svc.Login(ctx, "jsmith", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if _, _, err := svc.Login(ctx, "jsmith", "wrong"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts on third failure, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "JSMITH", testPassword); !errors.Is(err, ErrTooManyAttempts) {
		t.Errorf("expected lockout to hold for the right password, got %v", err)
	}
}

func TestLoginResetsFailures(t *testing.T) {
	svc, _, _ := newTestService(t, domain.AuthConfig{MaxLoginFailures: 3, LoginWindow: time.Minute})
	ctx := context.Background()

	svc.Login(ctx, "jsmith", "wrong")
	svc.Login(ctx, "jsmith", "wrong")
	if _, _, err := svc.Login(ctx, "jsmith", testPassword); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	svc.Login(ctx, "jsmith", "wrong")
	if _, _, err := svc.Login(ctx, "jsmith", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected counter reset after success, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _, lru := newTestService(t, domain.AuthConfig{})
	ctx := context.Background()

	session, _, err := svc.Login(ctx, "jsmith", testPassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	t.Run("Cached", func(t *testing.T) {
		got, err := svc.Authenticate(ctx, session.Token)
		if err != nil {
			t.Fatalf("authenticate failed: %v", err)
		}
		if got.UserID != "user-001" {
			t.Errorf("expected user-001, got %s", got.UserID)
		}
	})

	t.Run("RepositoryFallback", func(t *testing.T) {
		lru.Delete(ctx, domain.SessionTenant, cache.SessionKey(session.Token))

		got, err := svc.Authenticate(ctx, session.Token)
		if err != nil {
			t.Fatalf("authenticate failed: %v", err)
		}
		if got.OrgID != "org-apex" {
			t.Errorf("expected org-apex, got %s", got.OrgID)
		}
		if cached, _ := lru.GetSession(ctx, session.Token); cached == nil {
			t.Error("expected session re-cached")
		}
	})

	t.Run("User", func(t *testing.T) {
		user, err := svc.User(ctx, session)
		if err != nil || user.DisplayName != "John Smith" {
			t.Errorf("unexpected user %+v, err %v", user, err)
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		if _, err := svc.Authenticate(ctx, "deadbeef"); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
		if _, err := svc.Authenticate(ctx, ""); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized for empty token, got %v", err)
		}
	})

	t.Run("Expired", func(t *testing.T) {
		svc.now = func() time.Time { return time.Now().Add(9 * time.Hour) }
		defer func() { svc.now = time.Now }()

		if _, err := svc.Authenticate(ctx, session.Token); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized for expired session, got %v", err)
		}
	})
}

func TestLogout(t *testing.T) {
	svc, repo, lru := newTestService(t, domain.AuthConfig{})
	ctx := context.Background()

	session, _, err := svc.Login(ctx, "jsmith", testPassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if err := svc.Logout(ctx, session.Token); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if _, err := svc.Authenticate(ctx, session.Token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized after logout, got %v", err)
	}
	if _, err := repo.GetSession(ctx, session.Token); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected session deleted, got %v", err)
	}
	if cached, _ := lru.GetSession(ctx, session.Token); cached != nil {
		t.Error("expected session evicted from cache")
	}
	if err := svc.Logout(ctx, session.Token); err != nil {
		t.Errorf("expected second logout to be a no-op, got %v", err)
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(testPassword)) != nil {
		t.Error("expected hash to match password")
	}
}
