// Package domain defines the core interfaces and types for Avia.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// Claim, document and decision methods require orgID for strict tenant isolation.
type Repository interface {
	// Organizations and users
	SaveOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, orgID string) (*Organization, error)
	ListOrganizations(ctx context.Context) ([]*Organization, error)
	SaveUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, userID string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// Sessions
	SaveSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, token string) (*Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// Claims
	SaveClaim(ctx context.Context, orgID string, claim *Claim) error
	GetClaim(ctx context.Context, orgID string, claimID string) (*Claim, error)
	ListClaims(ctx context.Context, orgID string) ([]*Claim, error)
	CountClaims(ctx context.Context, orgID string) (int, error)
	CountClaimsByPolicy(ctx context.Context, orgID string, policyNumber string, since time.Time) (int64, error)
	SaveAnalysis(ctx context.Context, orgID string, claimID string, status ClaimStatus, analysis *Analysis) error

	// Documents
	SaveDocument(ctx context.Context, orgID string, doc *Document) error
	ListDocuments(ctx context.Context, orgID string, claimID string) ([]*Document, error)

	// Decisions. SaveDecision also moves the claim to the action's status.
	SaveDecision(ctx context.Context, orgID string, decision *Decision) error
	ListDecisions(ctx context.Context, orgID string, claimID string) ([]*Decision, error)

	// Flag rule configuration
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
