package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/avia/internal/domain"
)

// SaveOrganization creates or renames an organization.
func (r *SQLRepository) SaveOrganization(ctx context.Context, org *domain.Organization) error {
	if org == nil || org.ID == "" || org.Name == "" {
		return fmt.Errorf("%w: organization id and name are required", ErrInvalidInput)
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), org.ID, org.Name, org.CreatedAt)
	return err
}

// GetOrganization retrieves an organization by ID.
func (r *SQLRepository) GetOrganization(ctx context.Context, orgID string) (*domain.Organization, error) {
	if err := requireOrg(orgID); err != nil {
		return nil, err
	}

	var org domain.Organization
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT id, name, created_at FROM organizations WHERE id = ?`), orgID).
		Scan(&org.ID, &org.Name, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// ListOrganizations returns every organization ordered by ID.
func (r *SQLRepository) ListOrganizations(ctx context.Context) ([]*domain.Organization, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, created_at FROM organizations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []*domain.Organization
	for rows.Next() {
		var org domain.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.CreatedAt); err != nil {
			return nil, err
		}
		orgs = append(orgs, &org)
	}
	return orgs, rows.Err()
}

const userColumns = `id, org_id, username, display_name, role, password_hash, created_at`

func scanUser(s rowScanner) (*domain.User, error) {
	var u domain.User
	var role string
	if err := s.Scan(&u.ID, &u.OrgID, &u.Username, &u.DisplayName, &role, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	return &u, nil
}

// SaveUser creates or updates an investigator account. Usernames are unique
// across organizations.
func (r *SQLRepository) SaveUser(ctx context.Context, user *domain.User) error {
	if user == nil || user.ID == "" || user.Username == "" {
		return fmt.Errorf("%w: user id and username are required", ErrInvalidInput)
	}
	if err := requireOrg(user.OrgID); err != nil {
		return err
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			role = excluded.role,
			password_hash = excluded.password_hash
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		user.ID, user.OrgID, user.Username, user.DisplayName,
		string(user.Role), user.PasswordHash, user.CreatedAt,
	)
	return err
}

// GetUser retrieves a user by ID.
func (r *SQLRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, r.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// GetUserByUsername retrieves a user for login.
func (r *SQLRepository) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, r.rebind(`SELECT `+userColumns+` FROM users WHERE username = ?`), username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// SaveSession stores a login session.
func (r *SQLRepository) SaveSession(ctx context.Context, s *domain.Session) error {
	if s == nil || s.Token == "" || s.UserID == "" {
		return fmt.Errorf("%w: session token and user are required", ErrInvalidInput)
	}
	if err := requireOrg(s.OrgID); err != nil {
		return err
	}

	query := `INSERT INTO sessions (token, user_id, org_id, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, r.rebind(query), s.Token, s.UserID, s.OrgID, s.CreatedAt.UTC(), s.ExpiresAt.UTC())
	return err
}

// GetSession retrieves a session by token. Expiry is left to the caller.
func (r *SQLRepository) GetSession(ctx context.Context, token string) (*domain.Session, error) {
	var s domain.Session
	query := `SELECT token, user_id, org_id, created_at, expires_at FROM sessions WHERE token = ?`
	err := r.db.QueryRowContext(ctx, r.rebind(query), token).
		Scan(&s.Token, &s.UserID, &s.OrgID, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSession removes a session. Deleting an unknown token is not an error.
func (r *SQLRepository) DeleteSession(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM sessions WHERE token = ?`), token)
	return err
}

// DeleteExpiredSessions purges sessions that expired at or before now.
func (r *SQLRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM sessions WHERE expires_at <= ?`), now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
