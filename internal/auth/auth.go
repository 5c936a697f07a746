// Package auth handles investigator login sessions.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/opensource-finance/avia/internal/cache"
	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/metrics"
	"github.com/opensource-finance/avia/internal/repository"
)

var (
	// ErrInvalidCredentials is returned for an unknown user or wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrTooManyAttempts is returned while a username is locked out.
	ErrTooManyAttempts = errors.New("too many failed login attempts, try again later")

	// ErrUnauthorized is returned for a missing, unknown or expired session.
	ErrUnauthorized = errors.New("invalid or expired session")
)

const tokenBytes = 32

// dummyHash is compared against when the username is unknown so both
// failure paths cost one bcrypt comparison.
var dummyHash = sync.OnceValue(func() []byte {
	hash, _ := bcrypt.GenerateFromPassword([]byte("avia-unknown-user"), bcrypt.DefaultCost)
	return hash
})

// Store is the persistence auth needs.
type Store interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	SaveSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, token string) (*domain.Session, error)
	DeleteSession(ctx context.Context, token string) error
}

// Service issues and validates bearer sessions.
type Service struct {
	store  Store
	cache  domain.Cache
	cfg    domain.AuthConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates an auth service. cache may be nil.
func NewService(store Store, c domain.Cache, cfg domain.AuthConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 8 * time.Hour
	}
	if cfg.MaxLoginFailures <= 0 {
		cfg.MaxLoginFailures = 10
	}
	if cfg.LoginWindow <= 0 {
		cfg.LoginWindow = 15 * time.Minute
	}
	return &Service{
		store:  store,
		cache:  c,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// HashPassword returns the bcrypt hash of a password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// Login checks credentials and opens a session.
func (s *Service) Login(ctx context.Context, username, password string) (*domain.Session, *domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, nil, ErrInvalidCredentials
	}

	if s.lockedOut(ctx, username) {
		metrics.LoginsTotal.WithLabelValues("throttled").Inc()
		return nil, nil, ErrTooManyAttempts
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, fmt.Errorf("looking up user: %w", err)
	}

	hash := dummyHash()
	if user != nil {
		hash = []byte(user.PasswordHash)
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil || user == nil {
		metrics.LoginsTotal.WithLabelValues("failed").Inc()
		if s.recordFailure(ctx, username) {
			return nil, nil, ErrTooManyAttempts
		}
		return nil, nil, ErrInvalidCredentials
	}

	token, err := newToken()
	if err != nil {
		return nil, nil, err
	}
	now := s.now().UTC()
	session := &domain.Session{
		Token:     token,
		UserID:    user.ID,
		OrgID:     user.OrgID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
	}
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("saving session: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.SetSession(ctx, session, s.cfg.SessionTTL); err != nil {
			s.logger.Warn("failed to cache session", "user_id", user.ID, "error", err)
		}
		if err := s.cache.ResetCounter(ctx, domain.SessionTenant, failureKey(username)); err != nil {
			s.logger.Warn("failed to reset login failures", "username", username, "error", err)
		}
	}

	metrics.LoginsTotal.WithLabelValues("success").Inc()
	s.logger.Info("login", "user_id", user.ID, "org_id", user.OrgID)
	return session, user, nil
}

// Authenticate resolves a bearer token to its session.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	var session *domain.Session
	if s.cache != nil {
		cached, err := s.cache.GetSession(ctx, token)
		if err != nil {
			s.logger.Warn("session cache lookup failed", "error", err)
		}
		session = cached
	}

	if session == nil {
		stored, err := s.store.GetSession(ctx, token)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		if err != nil {
			return nil, fmt.Errorf("looking up session: %w", err)
		}
		session = stored

		if s.cache != nil && !session.Expired(s.now()) {
			if err := s.cache.SetSession(ctx, session, session.ExpiresAt.Sub(s.now())); err != nil {
				s.logger.Warn("failed to cache session", "error", err)
			}
		}
	}

	if session.Expired(s.now()) {
		if err := s.Logout(ctx, token); err != nil {
			s.logger.Warn("failed to remove expired session", "error", err)
		}
		return nil, ErrUnauthorized
	}
	return session, nil
}

// User returns the account behind a session.
func (s *Service) User(ctx context.Context, session *domain.Session) (*domain.User, error) {
	return s.store.GetUser(ctx, session.UserID)
}

// Logout ends a session. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if s.cache != nil {
		if err := s.cache.Delete(ctx, domain.SessionTenant, cache.SessionKey(token)); err != nil {
			s.logger.Warn("failed to evict session", "error", err)
		}
	}
	if err := s.store.DeleteSession(ctx, token); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (s *Service) lockedOut(ctx context.Context, username string) bool {
	if s.cache == nil {
		return false
	}
	blocked, err := s.cache.Get(ctx, domain.SessionTenant, lockKey(username))
	if err != nil {
		s.logger.Warn("login throttle lookup failed", "error", err)
		return false
	}
	return blocked != nil
}

// recordFailure counts a failed login and reports whether the username is
// now locked out.
func (s *Service) recordFailure(ctx context.Context, username string) bool {
	if s.cache == nil {
		return false
	}
	n, err := s.cache.IncrementCounter(ctx, domain.SessionTenant, failureKey(username), s.cfg.LoginWindow)
	if err != nil {
		s.logger.Warn("failed to count login failure", "error", err)
		return false
	}
	if n < int64(s.cfg.MaxLoginFailures) {
		return false
	}

	if err := s.cache.Set(ctx, domain.SessionTenant, lockKey(username), []byte("1"), s.cfg.LoginWindow); err != nil {
		s.logger.Warn("failed to lock out username", "error", err)
	}
	s.logger.Warn("login locked out", "username", username, "failures", n)
	return true
}

func failureKey(username string) string {
	return "login:" + strings.ToLower(username)
}

func lockKey(username string) string {
	return "login-lock:" + strings.ToLower(username)
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
