package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/avia/internal/analysis"
	"github.com/opensource-finance/avia/internal/documents"
	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/repository"
	"github.com/opensource-finance/avia/internal/triage"
)

// ClaimSummary is one row of GET /claims.
type ClaimSummary struct {
	ID               string             `json:"id"`
	PolicyNumber     string             `json:"policyNumber"`
	Status           domain.ClaimStatus `json:"status"`
	Source           domain.ClaimSource `json:"source"`
	RiskLevel        domain.RiskLevel   `json:"riskLevel,omitempty"`
	OverallRisk      *float64           `json:"overallRisk,omitempty"`
	NextAction       string             `json:"nextAction,omitempty"`
	IncidentType     any                `json:"incidentType,omitempty"`
	IncidentSeverity any                `json:"incidentSeverity,omitempty"`
	TotalClaimAmount any                `json:"totalClaimAmount,omitempty"`
	MonthsAsCustomer any                `json:"monthsAsCustomer,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	AnalyzedAt       *time.Time         `json:"analyzedAt,omitempty"`
}

func summarize(c *domain.Claim) ClaimSummary {
	s := ClaimSummary{
		ID:               c.ID,
		PolicyNumber:     c.PolicyNumber,
		Status:           c.Status,
		Source:           c.Source,
		IncidentType:     c.Data["incident_type"],
		IncidentSeverity: c.Data["incident_severity"],
		TotalClaimAmount: c.Data["total_claim_amount"],
		MonthsAsCustomer: c.Data["months_as_customer"],
		CreatedAt:        c.CreatedAt,
	}
	if a := c.Analysis; a != nil {
		overall := a.OverallRisk
		analyzedAt := a.AnalyzedAt
		s.RiskLevel = a.RiskLevel
		s.OverallRisk = &overall
		s.NextAction = a.NextAction
		s.AnalyzedAt = &analyzedAt
	}
	return s
}

// ListClaims handles GET /claims.
func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, err := h.repo.ListClaims(ctx, GetOrgID(ctx))
	if err != nil {
		h.logger.Error("failed to list claims", "error", err)
		writeError(w, err)
		return
	}

	summaries := make([]ClaimSummary, 0, len(claims))
	for _, c := range claims {
		summaries = append(summaries, summarize(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"claims": summaries,
		"count":  len(summaries),
	})
}

// CreateClaimRequest is the request body for POST /claims.
type CreateClaimRequest struct {
	PolicyNumber string          `json:"policyNumber"`
	ClaimData    json.RawMessage `json:"claimData"`
}

// CreateClaim handles POST /claims.
func (h *Handler) CreateClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetUser(ctx)

	var req CreateClaimRequest
	if err := decodeJSON(w, r, &req, maxJSONBody); err != nil {
		writeError(w, err)
		return
	}

	policy := strings.TrimSpace(req.PolicyNumber)
	if policy == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "policyNumber is required",
		})
		return
	}
	if utf8.RuneCountInString(policy) > maxPolicyNumber {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("policyNumber must be at most %d characters", maxPolicyNumber),
		})
		return
	}
	if len(req.ClaimData) > maxClaimData {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("claimData too large (max %d bytes)", maxClaimData),
		})
		return
	}

	data := domain.ClaimRecord{}
	if len(req.ClaimData) > 0 && string(req.ClaimData) != "null" {
		if err := json.Unmarshal(req.ClaimData, &data); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "claimData must be a JSON object",
			})
			return
		}
	}
	if _, ok := data["policy_number"]; !ok {
		data["policy_number"] = policy
	}

	claim := &domain.Claim{
		ID:           analysis.NewClaimID(),
		PolicyNumber: policy,
		Data:         data,
		Source:       domain.SourceUploaded,
		Status:       domain.ClaimPending,
		CreatedBy:    user.ID,
	}
	if err := h.repo.SaveClaim(ctx, user.OrgID, claim); err != nil {
		h.logger.Error("failed to save claim", "error", err)
		writeError(w, err)
		return
	}

	h.logger.Info("claim created", "org_id", user.OrgID, "claim_id", claim.ID, "user_id", user.ID)
	writeJSON(w, http.StatusCreated, claim)
}

// ClaimDetail is the response for GET /claims/{id}.
type ClaimDetail struct {
	*domain.Claim
	Documents []*domain.Document `json:"documents"`
	Decisions []*domain.Decision `json:"decisions"`
}

// GetClaim handles GET /claims/{id}. Claims of other orgs are not found.
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	claim, docs, decisions, err := h.caseFile(r, orgID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ClaimDetail{
		Claim:     claim,
		Documents: docs,
		Decisions: decisions,
	})
}

// caseFile loads a claim with its documents and decisions.
func (h *Handler) caseFile(r *http.Request, orgID, claimID string) (*domain.Claim, []*domain.Document, []*domain.Decision, error) {
	ctx := r.Context()
	claim, err := h.repo.GetClaim(ctx, orgID, claimID)
	if err != nil {
		return nil, nil, nil, err
	}
	docs, err := h.repo.ListDocuments(ctx, orgID, claimID)
	if err != nil {
		h.logger.Error("failed to list documents", "claim_id", claimID, "error", err)
		return nil, nil, nil, err
	}
	decisions, err := h.repo.ListDecisions(ctx, orgID, claimID)
	if err != nil {
		h.logger.Error("failed to list decisions", "claim_id", claimID, "error", err)
		return nil, nil, nil, err
	}
	if docs == nil {
		docs = []*domain.Document{}
	}
	if decisions == nil {
		decisions = []*domain.Decision{}
	}
	return claim, docs, decisions, nil
}

// AnalyzeClaim handles POST /claims/{id}/analyze. With ?async=true the
// claim is queued for the worker and 202 is returned.
func (h *Handler) AnalyzeClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetUser(ctx)
	claimID := chi.URLParam(r, "id")

	if r.URL.Query().Get("async") == "true" {
		traceID := GetTraceID(ctx)
		if err := h.analysis.RequestAnalysis(ctx, user.OrgID, claimID, user.ID, traceID); err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				h.logger.Error("failed to queue analysis", "claim_id", claimID, "error", err)
			}
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"claimId": claimID,
			"status":  "queued",
			"traceId": traceID,
		})
		return
	}

	claim, err := h.analysis.Analyze(ctx, user.OrgID, claimID)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error("analysis failed", "claim_id", claimID, "error", err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

// IntakeCheck handles GET /claims/{id}/intake-check.
func (h *Handler) IntakeCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	claimID := chi.URLParam(r, "id")

	claim, err := h.repo.GetClaim(ctx, orgID, claimID)
	if err != nil {
		writeError(w, err)
		return
	}
	docs, err := h.repo.ListDocuments(ctx, orgID, claimID)
	if err != nil {
		h.logger.Error("failed to list documents", "claim_id", claimID, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, triage.CheckIntake(claim, len(docs)))
}

// EscalationPackage handles GET /claims/{id}/escalation-package. With
// ?format=text the plain-text report is returned as a download.
func (h *Handler) EscalationPackage(w http.ResponseWriter, r *http.Request) {
	orgID := GetOrgID(r.Context())

	claim, docs, decisions, err := h.caseFile(r, orgID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	pkg := triage.EscalationPackage(claim, docs, decisions, h.now())

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="escalation-%s.txt"`, claim.ID))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(pkg.PlainText))
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

// UploadDocument handles POST /claims/{id}/documents with a multipart
// "file" field.
func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetUser(ctx)
	claimID := chi.URLParam(r, "id")

	if _, err := h.repo.GetClaim(ctx, user.OrgID, claimID); err != nil {
		writeError(w, err)
		return
	}

	// Room for the multipart envelope around a maximum-size file.
	r.Body = http.MaxBytesReader(w, r.Body, h.documents.MaxBytes()+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, documents.ErrTooLarge)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "multipart field \"file\" is required",
		})
		return
	}
	defer file.Close()

	doc, err := h.documents.Save(ctx, documents.Upload{
		OrgID:      user.OrgID,
		ClaimID:    claimID,
		Filename:   header.Filename,
		UploadedBy: user.ID,
		Body:       file,
	})
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error("failed to store document", "claim_id", claimID, "error", err)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

// ListDocuments handles GET /claims/{id}/documents.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	claimID := chi.URLParam(r, "id")

	if _, err := h.repo.GetClaim(ctx, orgID, claimID); err != nil {
		writeError(w, err)
		return
	}
	docs, err := h.repo.ListDocuments(ctx, orgID, claimID)
	if err != nil {
		h.logger.Error("failed to list documents", "claim_id", claimID, "error", err)
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []*domain.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"count":     len(docs),
	})
}

// DecideRequest is the request body for POST /claims/{id}/decide.
type DecideRequest struct {
	Action string `json:"action"`
	Notes  string `json:"notes"`
}

// Decide handles POST /claims/{id}/decide.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req DecideRequest
	if err := decodeJSON(w, r, &req, maxJSONBody); err != nil {
		writeError(w, err)
		return
	}

	decision, err := h.analysis.Decide(ctx, GetUser(ctx), analysis.DecisionInput{
		ClaimID: chi.URLParam(r, "id"),
		Action:  req.Action,
		Notes:   req.Notes,
	})
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error("failed to record decision", "error", err)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"decision": decision,
		"status":   decision.Action.Status(),
	})
}

// ListDecisions handles GET /claims/{id}/decisions.
func (h *Handler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	claimID := chi.URLParam(r, "id")

	if _, err := h.repo.GetClaim(ctx, orgID, claimID); err != nil {
		writeError(w, err)
		return
	}
	decisions, err := h.repo.ListDecisions(ctx, orgID, claimID)
	if err != nil {
		h.logger.Error("failed to list decisions", "claim_id", claimID, "error", err)
		writeError(w, err)
		return
	}
	if decisions == nil {
		decisions = []*domain.Decision{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": decisions,
		"count":     len(decisions),
	})
}
