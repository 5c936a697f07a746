package rules

import (
	"context"
	"fmt"

	"github.com/opensource-finance/avia/internal/domain"
)

// BuiltinRules returns the default flag rules seeded for every organization.
// Each call returns fresh copies.
func BuiltinRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          "high-amount",
			Name:        "High Claim Amount",
			Description: "Total claim amount above $50,000",
			Version:     "1.0.0",
			Expression:  `amount > 50000.0`,
			Severity:    domain.SeverityWarning,
			Reason:      "Claim amount exceeds $50,000",
			Enabled:     true,
		},
		{
			ID:          "new-customer-total-loss",
			Name:        "Short Tenure Total Loss",
			Description: "Total loss reported by a customer of less than a year",
			Version:     "1.0.0",
			Expression:  `tenure < 12.0 && severity.contains("Total")`,
			Severity:    domain.SeverityCritical,
			Reason:      "Total loss reported within the first year of cover",
			Enabled:     true,
		},
		{
			ID:          "injury-without-police-report",
			Name:        "Injuries Without Police Report",
			Description: "Bodily injuries claimed with no police report on file",
			Version:     "1.0.0",
			Expression: `(!has(claim.police_report_available) || claim.police_report_available in ["NO", "No", "no", "?", ""]) &&
				has(claim.bodily_injuries) && double(claim.bodily_injuries) > 0.0`,
			Severity: domain.SeverityWarning,
			Reason:   "Injuries claimed but no police report is available",
			Enabled:  true,
		},
		{
			ID:          "repeat-policy",
			Name:        "Repeat Policy Claims",
			Description: "Other claims filed on the same policy within the lookback window",
			Version:     "1.0.0",
			Expression:  `prior_claims >= 1`,
			Severity:    domain.SeverityInfo,
			Reason:      "Policy has prior claims in the lookback window",
			Enabled:     true,
		},
	}
}

// RuleStore is the persistence the engine loads rules from.
type RuleStore interface {
	SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error)
}

// Sync loads a tenant's rules from the store into the engine. A tenant with
// no stored rules gets the builtin rules saved first.
func Sync(ctx context.Context, store RuleStore, e *Engine, tenantID string) error {
	configs, err := store.ListRuleConfigs(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("listing rules for %s: %w", tenantID, err)
	}

	if len(configs) == 0 {
		configs = BuiltinRules()
		for _, cfg := range configs {
			if err := store.SaveRuleConfig(ctx, tenantID, cfg); err != nil {
				return fmt.Errorf("seeding rule %s: %w", cfg.ID, err)
			}
			cfg.TenantID = tenantID
		}
	}

	return e.ReloadRules(tenantID, configs)
}
