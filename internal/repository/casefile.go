package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/avia/internal/domain"
)

// SaveDocument records an uploaded document. The claim must belong to orgID.
func (r *SQLRepository) SaveDocument(ctx context.Context, orgID string, doc *domain.Document) error {
	if err := requireOrg(orgID); err != nil {
		return err
	}
	if doc == nil || doc.ID == "" || doc.ClaimID == "" {
		return fmt.Errorf("%w: document id and claim id are required", ErrInvalidInput)
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	doc.OrgID = orgID

	var exists int
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT 1 FROM claims WHERE org_id = ? AND id = ?`), orgID, doc.ClaimID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	query := `
		INSERT INTO documents (
			id, claim_id, org_id, filename, content_type, size, sha256, storage_path, uploaded_by, uploaded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		doc.ID, doc.ClaimID, orgID, doc.Filename, doc.ContentType, doc.Size, doc.SHA256,
		doc.StoragePath, doc.UploadedBy, doc.UploadedAt.UTC(),
	)
	return err
}

// ListDocuments returns a claim's documents in upload order.
func (r *SQLRepository) ListDocuments(ctx context.Context, orgID string, claimID string) ([]*domain.Document, error) {
	if err := requireOrg(orgID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, claim_id, org_id, filename, content_type, size, sha256, storage_path, uploaded_by, uploaded_at
		FROM documents
		WHERE org_id = ? AND claim_id = ?
		ORDER BY uploaded_at, id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), orgID, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []*domain.Document{}
	for rows.Next() {
		var d domain.Document
		var uploadedBy sql.NullString
		if err := rows.Scan(
			&d.ID, &d.ClaimID, &d.OrgID, &d.Filename, &d.ContentType,
			&d.Size, &d.SHA256, &d.StoragePath, &uploadedBy, &d.UploadedAt,
		); err != nil {
			return nil, err
		}
		d.UploadedBy = uploadedBy.String
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}

// SaveDecision records an investigator decision and moves the claim to the
// action's status in one transaction.
func (r *SQLRepository) SaveDecision(ctx context.Context, orgID string, d *domain.Decision) error {
	if err := requireOrg(orgID); err != nil {
		return err
	}
	if d == nil || d.ID == "" || d.ClaimID == "" || d.UserID == "" {
		return fmt.Errorf("%w: decision id, claim id and user id are required", ErrInvalidInput)
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}
	d.OrgID = orgID

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, r.rebind(`UPDATE claims SET status = ?, updated_at = ? WHERE org_id = ? AND id = ?`),
		string(d.Action.Status()), d.DecidedAt.UTC(), orgID, d.ClaimID)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return err
	}

	query := `
		INSERT INTO decisions (id, claim_id, org_id, user_id, investigator_name, action, notes, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, r.rebind(query),
		d.ID, d.ClaimID, orgID, d.UserID, d.InvestigatorName,
		string(d.Action), d.Notes, d.DecidedAt.UTC(),
	); err != nil {
		return err
	}

	return tx.Commit()
}

// ListDecisions returns a claim's decisions, oldest first.
func (r *SQLRepository) ListDecisions(ctx context.Context, orgID string, claimID string) ([]*domain.Decision, error) {
	if err := requireOrg(orgID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, claim_id, org_id, user_id, investigator_name, action, notes, decided_at
		FROM decisions
		WHERE org_id = ? AND claim_id = ?
		ORDER BY decided_at, id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), orgID, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	decisions := []*domain.Decision{}
	for rows.Next() {
		var d domain.Decision
		var name sql.NullString
		var action string
		if err := rows.Scan(&d.ID, &d.ClaimID, &d.OrgID, &d.UserID, &name, &action, &d.Notes, &d.DecidedAt); err != nil {
			return nil, err
		}
		d.InvestigatorName = name.String
		d.Action = domain.DecisionAction(action)
		decisions = append(decisions, &d)
	}
	return decisions, rows.Err()
}
