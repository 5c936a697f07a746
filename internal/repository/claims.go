package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/avia/internal/domain"
)

const claimColumns = `id, org_id, policy_number, claim_data, source, status, created_by, analysis, created_at, updated_at`

func scanClaim(s rowScanner) (*domain.Claim, error) {
	var c domain.Claim
	var data string
	var source, status string
	var createdBy, analysis sql.NullString

	if err := s.Scan(
		&c.ID, &c.OrgID, &c.PolicyNumber, &data,
		&source, &status, &createdBy, &analysis,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}

	c.Source = domain.ClaimSource(source)
	c.Status = domain.ClaimStatus(status)
	c.CreatedBy = createdBy.String

	if err := json.Unmarshal([]byte(data), &c.Data); err != nil {
		return nil, fmt.Errorf("failed to parse claim data for %s: %w", c.ID, err)
	}
	if analysis.Valid && analysis.String != "" {
		var a domain.Analysis
		if err := json.Unmarshal([]byte(analysis.String), &a); err != nil {
			return nil, fmt.Errorf("failed to parse analysis for %s: %w", c.ID, err)
		}
		c.Analysis = &a
	}
	return &c, nil
}

func marshalAnalysis(a *domain.Analysis) (sql.NullString, error) {
	if a == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// SaveClaim creates or updates a claim with tenant isolation. A claim ID
// that already belongs to another organization is rejected.
func (r *SQLRepository) SaveClaim(ctx context.Context, orgID string, claim *domain.Claim) error {
	if err := requireOrg(orgID); err != nil {
		return err
	}
	if claim == nil || claim.ID == "" {
		return fmt.Errorf("%w: claim id is required", ErrInvalidInput)
	}
	if claim.Data == nil {
		claim.Data = domain.ClaimRecord{}
	}

	data, err := json.Marshal(claim.Data)
	if err != nil {
		return fmt.Errorf("%w: claim data: %v", ErrInvalidInput, err)
	}
	analysis, err := marshalAnalysis(claim.Analysis)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if claim.CreatedAt.IsZero() {
		claim.CreatedAt = now
	}
	claim.UpdatedAt = now
	claim.OrgID = orgID
	if claim.Status == "" {
		claim.Status = domain.ClaimPending
	}

	query := `
		INSERT INTO claims (` + claimColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			policy_number = excluded.policy_number,
			claim_data = excluded.claim_data,
			status = excluded.status,
			analysis = excluded.analysis,
			updated_at = excluded.updated_at
		WHERE claims.org_id = excluded.org_id
	`

	res, err := r.db.ExecContext(ctx, r.rebind(query),
		claim.ID, orgID, claim.PolicyNumber, string(data),
		string(claim.Source), string(claim.Status), claim.CreatedBy, analysis,
		claim.CreatedAt.UTC(), claim.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: claim %s", ErrConflict, claim.ID)
	}
	return nil
}

// GetClaim retrieves a claim by ID with tenant isolation.
func (r *SQLRepository) GetClaim(ctx context.Context, orgID string, claimID string) (*domain.Claim, error) {
	if err := requireOrg(orgID); err != nil {
		return nil, err
	}

	query := `SELECT ` + claimColumns + ` FROM claims WHERE org_id = ? AND id = ?`
	c, err := scanClaim(r.db.QueryRowContext(ctx, r.rebind(query), orgID, claimID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListClaims returns an organization's claims, newest first.
func (r *SQLRepository) ListClaims(ctx context.Context, orgID string) ([]*domain.Claim, error) {
	if err := requireOrg(orgID); err != nil {
		return nil, err
	}

	query := `SELECT ` + claimColumns + ` FROM claims WHERE org_id = ? ORDER BY created_at DESC, id`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []*domain.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// CountClaims returns how many claims an organization holds.
func (r *SQLRepository) CountClaims(ctx context.Context, orgID string) (int, error) {
	if err := requireOrg(orgID); err != nil {
		return 0, err
	}
	var n int
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*) FROM claims WHERE org_id = ?`), orgID).Scan(&n)
	return n, err
}

// CountClaimsByPolicy counts an organization's claims on a policy created at
// or after since.
func (r *SQLRepository) CountClaimsByPolicy(ctx context.Context, orgID string, policyNumber string, since time.Time) (int64, error) {
	if err := requireOrg(orgID); err != nil {
		return 0, err
	}

	query := `
		SELECT COUNT(*) FROM claims
		WHERE org_id = ? AND policy_number = ? AND created_at >= ?
	`
	var n int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), orgID, policyNumber, since.UTC()).Scan(&n)
	return n, err
}

// SaveAnalysis attaches an analysis to a claim and moves it to status.
func (r *SQLRepository) SaveAnalysis(ctx context.Context, orgID string, claimID string, status domain.ClaimStatus, analysis *domain.Analysis) error {
	if err := requireOrg(orgID); err != nil {
		return err
	}
	if analysis == nil {
		return fmt.Errorf("%w: analysis is required", ErrInvalidInput)
	}

	payload, err := marshalAnalysis(analysis)
	if err != nil {
		return err
	}

	query := `UPDATE claims SET analysis = ?, status = ?, updated_at = ? WHERE org_id = ? AND id = ?`
	res, err := r.db.ExecContext(ctx, r.rebind(query), payload, string(status), time.Now().UTC(), orgID, claimID)
	if err != nil {
		return err
	}
	return expectOne(res)
}
