package triage

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/scoring"
)

func sampleClaim() *domain.Claim {
	return &domain.Claim{
		ID:           "CLM-1A2B3C4D",
		OrgID:        "org-apex",
		PolicyNumber: "521585",
		Source:       domain.SourceDataset,
		Status:       domain.ClaimPending,
		Data: domain.ClaimRecord{
			"policy_number":               521585.0,
			"incident_type":               "Single Vehicle Collision",
			"incident_severity":           "Total Loss",
			"total_claim_amount":          71610.0,
			"months_as_customer":          6.0,
			"police_report_available":     "NO",
			"bodily_injuries":             1.0,
			"witnesses":                   2.0,
			"property_damage":             "YES",
			"authorities_contacted":       "Police",
			"number_of_vehicles_involved": 1.0,
		},
	}
}

func highRisk() *scoring.RiskResult {
	return &scoring.RiskResult{
		ClaimRisk:        91,
		CustomerRisk:     60,
		PatternRisk:      46,
		OverallRisk:      70.6,
		RiskLevel:        domain.RiskHigh,
		NextAction:       "Review Immediately",
		TopFeatures:      []string{"total claim amount", "damage severity", "customer tenure", "police report availability"},
		Mode:             scoring.ModeModel,
		Attribution:      scoring.AttributionTreeSHAP,
		FraudProbability: 0.8123,
		AnomalyScore:     -0.0412,
		ModelVersion:     "2026.1",
	}
}

func TestBuild(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	flags := []domain.RuleFlag{{
		RuleID:   "high-amount",
		Name:     "High Claim Amount",
		Severity: domain.SeverityWarning,
		Reason:   "Claim amount exceeds $50,000",
	}}

	a := Build(sampleClaim(), highRisk(), flags, now)

	t.Run("Scores", func(t *testing.T) {
		if a.RiskLevel != domain.RiskHigh || a.OverallRisk != 70.6 || a.NextAction != "Review Immediately" {
			t.Errorf("unexpected headline: %s %.1f %s", a.RiskLevel, a.OverallRisk, a.NextAction)
		}
		want := domain.ModelOutput{
			FraudProbability: 0.8123,
			AnomalyScore:     -0.0412,
			Mode:             "model",
			Attribution:      "tree_shap",
			Version:          "2026.1",
		}
		if diff := cmp.Diff(want, a.Model); diff != "" {
			t.Errorf("model output mismatch (-want +got):\n%s", diff)
		}
		if !a.AnalyzedAt.Equal(now) {
			t.Errorf("expected analyzedAt %v, got %v", now, a.AnalyzedAt)
		}
	})

	t.Run("TraceSteps", func(t *testing.T) {
		titles := make([]string, len(a.DecisionTrace))
		for i, s := range a.DecisionTrace {
			if s.Step != i+1 {
				t.Errorf("expected step %d, got %d", i+1, s.Step)
			}
			titles[i] = s.Title
		}
		want := []string{StepIntake, StepScoring, StepDrivers, StepCustomer, StepClassification, StepFlags}
		if diff := cmp.Diff(want, titles); diff != "" {
			t.Errorf("trace titles mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("TraceDetails", func(t *testing.T) {
		checks := map[int][]string{
			0: {"Policy 521585", "Single Vehicle Collision", "$71,610", "total loss"},
			1: {"71/100", "81% fraud probability", "Claim risk: 91"},
			2: {"total claim amount, damage severity, customer tenure", "Police report was not filed"},
			3: {"insured for 6 months", "Short tenure"},
			4: {"classified as High", "Escalation recommended"},
			5: {"1 flag rule fired", "High Claim Amount (warning)"},
		}
		for i, wants := range checks {
			for _, w := range wants {
				if !strings.Contains(a.DecisionTrace[i].Detail, w) {
					t.Errorf("step %d: expected %q in %q", i+1, w, a.DecisionTrace[i].Detail)
				}
			}
		}
	})

	t.Run("Explanation", func(t *testing.T) {
		for _, w := range []string{"elevated risk indicators", "$71,610", "71/100", "absence of a police report"} {
			if !strings.Contains(a.Explanation, w) {
				t.Errorf("expected %q in explanation %q", w, a.Explanation)
			}
		}
	})
}

func TestTraceWithoutFlags(t *testing.T) {
	steps := Trace(sampleClaim(), highRisk(), nil)
	if len(steps) != 5 {
		t.Errorf("expected 5 steps without flags, got %d", len(steps))
	}
}

func TestTraceDegraded(t *testing.T) {
	risk := &scoring.RiskResult{
		ClaimRisk:    80,
		CustomerRisk: 50,
		PatternRisk:  20,
		OverallRisk:  56,
		RiskLevel:    domain.RiskMedium,
		Mode:         scoring.ModeDegraded,
	}
	claim := &domain.Claim{ID: "CLM-X", Data: domain.ClaimRecord{"total_claim_amount": "80000"}}

	steps := Trace(claim, risk, nil)
	if !strings.Contains(steps[1].Detail, "fallback scoring") {
		t.Errorf("expected degraded scoring detail, got %q", steps[1].Detail)
	}
	if !strings.Contains(steps[2].Detail, "No single factor stood out") {
		t.Errorf("expected no drivers detail, got %q", steps[2].Detail)
	}
	if steps[3].Detail != "Customer tenure is not on file." {
		t.Errorf("unexpected customer detail %q", steps[3].Detail)
	}
	if !strings.Contains(steps[0].Detail, "unspecified claim for $80,000") {
		t.Errorf("unexpected intake detail %q", steps[0].Detail)
	}
}

func TestExplanationTiers(t *testing.T) {
	tests := []struct {
		level domain.RiskLevel
		want  string
	}{
		{domain.RiskHigh, "warrants immediate investigator attention"},
		{domain.RiskMedium, "shows mixed risk signals"},
		{domain.RiskLow, "Standard processing is recommended."},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			risk := highRisk()
			risk.RiskLevel = tt.level
			got := Explanation(sampleClaim(), risk)
			if !strings.Contains(got, tt.want) {
				t.Errorf("expected %q in %q", tt.want, got)
			}
		})
	}
}

func TestDollars(t *testing.T) {
	tests := map[float64]string{
		0:         "$0",
		999.4:     "$999",
		71610:     "$71,610",
		1250000.5: "$1,250,001",
	}
	for in, want := range tests {
		if got := Dollars(in); got != want {
			t.Errorf("Dollars(%v): expected %s, got %s", in, want, got)
		}
	}
}
