package rules

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/scoring"
)

const testOrg = "org-apex"

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(5, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func rule(id, expr string) *domain.RuleConfig {
	return &domain.RuleConfig{
		ID:         id,
		Name:       id,
		Expression: expr,
		Severity:   domain.SeverityWarning,
		Reason:     "fired " + id,
		Enabled:    true,
	}
}

func TestEngineCreation(t *testing.T) {
	engine := newTestEngine(t)
	if engine.RulesCount(testOrg) != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount(testOrg))
	}
}

func TestLoadRule(t *testing.T) {
	engine := newTestEngine(t)

	if err := engine.LoadRule(testOrg, rule("amount-check", "amount > 100.0")); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if engine.RulesCount(testOrg) != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount(testOrg))
	}
	if engine.RulesCount("org-nova") != 0 {
		t.Errorf("expected rules to be tenant-scoped, got %d for another org", engine.RulesCount("org-nova"))
	}

	disabled := rule("amount-check", "amount > 100.0")
	disabled.Enabled = false
	if err := engine.LoadRule(testOrg, disabled); err != nil {
		t.Fatalf("failed to unload rule: %v", err)
	}
	if engine.RulesCount(testOrg) != 0 {
		t.Errorf("expected disabled rule to be unloaded, got %d", engine.RulesCount(testOrg))
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name string
		cfg  *domain.RuleConfig
	}{
		{"syntax", rule("bad", "this is not valid CEL !!!")},
		{"non-bool", rule("numeric", "amount * 2.0")},
		{"unknown variable", rule("unknown", "velocity_count > 3")},
		{"missing id", rule("", "amount > 1.0")},
		{"bad severity", &domain.RuleConfig{ID: "sev", Expression: "true", Severity: "urgent", Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := engine.LoadRule(testOrg, tt.cfg); err == nil {
				t.Error("expected error")
			}
			if err := engine.ValidateRule(tt.cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if engine.RulesCount(testOrg) != 0 {
		t.Errorf("expected no rules loaded, got %d", engine.RulesCount(testOrg))
	}
}

func TestReloadRulesAtomic(t *testing.T) {
	engine := newTestEngine(t)
	engine.LoadRule(testOrg, rule("keep", "amount > 1.0"))

	err := engine.ReloadRules(testOrg, []*domain.RuleConfig{
		rule("good", "amount > 1.0"),
		rule("bad", "amount >"),
	})
	if err == nil {
		t.Fatal("expected reload error")
	}

	loaded := engine.GetLoadedRules(testOrg)
	if len(loaded) != 1 || loaded[0].ID != "keep" {
		t.Errorf("expected original rules kept after failed reload, got %v", loaded)
	}
}

func TestEvaluateAll(t *testing.T) {
	engine := newTestEngine(t)
	for _, cfg := range BuiltinRules() {
		if err := engine.LoadRule(testOrg, cfg); err != nil {
			t.Fatalf("failed to load builtin rule %s: %v", cfg.ID, err)
		}
	}

	tests := []struct {
		name  string
		claim domain.ClaimRecord
		prior int64
		want  []string
	}{
		{
			name: "quiet claim",
			claim: domain.ClaimRecord{
				"total_claim_amount":      12000.0,
				"months_as_customer":      120.0,
				"incident_severity":       "Minor Damage",
				"police_report_available": "YES",
				"bodily_injuries":         1.0,
			},
			want: []string{},
		},
		{
			name: "new customer total loss",
			claim: domain.ClaimRecord{
				"total_claim_amount":      72000.0,
				"months_as_customer":      6.0,
				"incident_severity":       "Total Loss",
				"police_report_available": "YES",
				"bodily_injuries":         0.0,
			},
			want: []string{"high-amount", "new-customer-total-loss"},
		},
		{
			name: "injuries without report",
			claim: domain.ClaimRecord{
				"total_claim_amount":      9000.0,
				"months_as_customer":      200.0,
				"incident_severity":       "Major Damage",
				"police_report_available": "?",
				"bodily_injuries":         2.0,
			},
			want: []string{"injury-without-police-report"},
		},
		{
			name: "absent report with injuries",
			claim: domain.ClaimRecord{
				"months_as_customer": 200.0,
				"bodily_injuries":    "1",
			},
			want: []string{"injury-without-police-report"},
		},
		{
			name: "repeat policy",
			claim: domain.ClaimRecord{
				"months_as_customer":      40.0,
				"police_report_available": "YES",
			},
			prior: 2,
			want:  []string{"repeat-policy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, flags, err := engine.EvaluateAll(context.Background(), &EvaluateInput{
				TenantID:    testOrg,
				Claim:       tt.claim,
				PriorClaims: tt.prior,
			})
			if err != nil {
				t.Fatalf("evaluation failed: %v", err)
			}
			if len(results) != len(BuiltinRules()) {
				t.Errorf("expected %d results, got %d", len(BuiltinRules()), len(results))
			}

			got := make([]string, 0, len(flags))
			for _, f := range flags {
				got = append(got, f.RuleID)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("fired rules mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEvaluateRiskVariables(t *testing.T) {
	engine := newTestEngine(t)
	cfg := rule("high-tier-no-docs", `risk.level == "High" && risk.overall >= 65.0 && document_count == 0`)
	cfg.Severity = domain.SeverityCritical
	if err := engine.LoadRule(testOrg, cfg); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	input := &EvaluateInput{
		TenantID: testOrg,
		Claim:    domain.ClaimRecord{},
		Risk: &scoring.RiskResult{
			OverallRisk: 71.2,
			RiskLevel:   domain.RiskHigh,
			Mode:        scoring.ModeModel,
		},
	}

	_, flags, err := engine.EvaluateAll(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	want := []domain.RuleFlag{{
		RuleID:   "high-tier-no-docs",
		Name:     "high-tier-no-docs",
		Severity: domain.SeverityCritical,
		Reason:   "fired high-tier-no-docs",
	}}
	if diff := cmp.Diff(want, flags); diff != "" {
		t.Errorf("flags mismatch (-want +got):\n%s", diff)
	}

	input.DocumentCount = 1
	_, flags, _ = engine.EvaluateAll(context.Background(), input)
	if len(flags) != 0 {
		t.Errorf("expected no flags with a document attached, got %d", len(flags))
	}
}

func TestEvaluationErrorIsNotAFlag(t *testing.T) {
	engine := newTestEngine(t)
	engine.LoadRule(testOrg, rule("missing-key", `claim.policy_state == "OH"`))

	results, flags, err := engine.EvaluateAll(context.Background(), &EvaluateInput{
		TenantID: testOrg,
		Claim:    domain.ClaimRecord{},
	})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(results) != 1 || results[0].Error == "" {
		t.Errorf("expected an evaluation error result, got %+v", results)
	}
	if len(flags) != 0 {
		t.Errorf("expected no flags, got %d", len(flags))
	}
}

func TestParallelExecution(t *testing.T) {
	engine := newTestEngine(t)
	for i := range 20 {
		engine.LoadRule(testOrg, rule(fmt.Sprintf("rule-%02d", i), fmt.Sprintf("amount > %d.0", i*1000)))
	}

	results, flags, err := engine.EvaluateAll(context.Background(), &EvaluateInput{
		TenantID: testOrg,
		Claim:    domain.ClaimRecord{"total_claim_amount": 10500.0},
	})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(results) != 20 {
		t.Fatalf("expected 20 results, got %d", len(results))
	}
	for i, r := range results {
		if want := fmt.Sprintf("rule-%02d", i); r.RuleID != want {
			t.Errorf("expected result %d to be %s, got %s", i, want, r.RuleID)
		}
	}
	if len(flags) != 11 {
		t.Errorf("expected 11 flags, got %d", len(flags))
	}
}

func TestEvaluateCancelled(t *testing.T) {
	engine := newTestEngine(t)
	engine.LoadRule(testOrg, rule("any", "true"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := engine.EvaluateAll(ctx, &EvaluateInput{TenantID: testOrg, Claim: domain.ClaimRecord{}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

type memoryStore struct {
	rules map[string][]*domain.RuleConfig
	saves int
}

func (m *memoryStore) SaveRuleConfig(_ context.Context, tenantID string, cfg *domain.RuleConfig) error {
	m.saves++
	m.rules[tenantID] = append(m.rules[tenantID], cfg)
	return nil
}

func (m *memoryStore) ListRuleConfigs(_ context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	return m.rules[tenantID], nil
}

func TestSync(t *testing.T) {
	engine := newTestEngine(t)
	store := &memoryStore{rules: map[string][]*domain.RuleConfig{}}

	if err := Sync(context.Background(), store, engine, testOrg); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if store.saves != len(BuiltinRules()) {
		t.Errorf("expected %d builtin rules seeded, got %d", len(BuiltinRules()), store.saves)
	}
	if engine.RulesCount(testOrg) != len(BuiltinRules()) {
		t.Errorf("expected %d rules loaded, got %d", len(BuiltinRules()), engine.RulesCount(testOrg))
	}

	if err := Sync(context.Background(), store, engine, testOrg); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if store.saves != len(BuiltinRules()) {
		t.Errorf("expected no reseeding, got %d saves", store.saves)
	}
}
