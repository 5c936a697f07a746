package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/opensource-finance/avia/internal/domain"
)

const sessionPrefix = "session:"

// SessionKey is the key a session token is cached under in
// domain.SessionTenant.
func SessionKey(token string) string {
	return sessionPrefix + token
}

type byteStore interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

func getSession(ctx context.Context, s byteStore, token string) (*domain.Session, error) {
	data, err := s.Get(ctx, domain.SessionTenant, SessionKey(token))
	if err != nil || data == nil {
		return nil, err
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func setSession(ctx context.Context, s byteStore, session *domain.Session, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.Set(ctx, domain.SessionTenant, SessionKey(session.Token), data, ttl)
}
