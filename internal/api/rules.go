package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/avia/internal/domain"
)

// Score handles POST /score. The body is a claim record, optionally wrapped
// as {"claimData": {...}}. Nothing is persisted.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body domain.ClaimRecord
	if err := decodeJSON(w, r, &body, maxJSONBody); err != nil {
		writeError(w, err)
		return
	}

	record := body
	if wrapped, ok := body["claimData"].(map[string]any); ok && len(body) == 1 {
		record = domain.ClaimRecord(wrapped)
	}
	if len(record) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "claim record is required",
		})
		return
	}

	writeJSON(w, http.StatusOK, h.analysis.Score(ctx, record))
}

// ModelStatus handles GET /model/status.
func (h *Handler) ModelStatus(w http.ResponseWriter, r *http.Request) {
	if h.model == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "scoring engine not available",
		})
		return
	}
	writeJSON(w, http.StatusOK, h.model.Status())
}

// ListRules returns the flag rules loaded for the caller's org.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	loaded, err := h.analysis.Rules(ctx, GetOrgID(ctx))
	if err != nil {
		h.logger.Error("failed to load rules", "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule retrieves a stored rule by ID, enabled or not.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rule, err := h.repo.GetRuleConfig(ctx, GetOrgID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Expression  string              `json:"expression"`
	Severity    domain.FlagSeverity `json:"severity"`
	Reason      string              `json:"reason"`
	Enabled     *bool               `json:"enabled"`
}

// CreateRule validates, stores and loads a flag rule for the caller's org.
// A rule with an existing ID replaces it.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	var req CreateRuleRequest
	if err := decodeJSON(w, r, &req, maxJSONBody); err != nil {
		writeError(w, err)
		return
	}

	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Expression) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	severity := req.Severity
	if severity == "" {
		severity = domain.SeverityWarning
	}

	rule := &domain.RuleConfig{
		ID:          strings.TrimSpace(req.ID),
		TenantID:    orgID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Severity:    severity,
		Reason:      req.Reason,
		Enabled:     enabled,
	}

	if err := h.analysis.SaveRule(ctx, orgID, rule); err != nil {
		if statusFor(err) != http.StatusBadRequest {
			h.logger.Error("failed to save rule", "id", rule.ID, "error", err)
		}
		writeError(w, err)
		return
	}

	h.logger.Info("rule saved", "org_id", orgID, "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule": rule,
	})
}

// ReloadRules reloads the caller's flag rules from the database into the
// engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	count, err := h.analysis.ReloadRules(ctx, orgID)
	if err != nil {
		h.logger.Error("failed to reload rules", "org_id", orgID, "error", err)
		writeError(w, err)
		return
	}

	h.logger.Info("rules reloaded from database", "org_id", orgID, "count", count)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}
