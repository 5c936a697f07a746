package seed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/repository"
	"github.com/opensource-finance/avia/internal/rules"
	"github.com/opensource-finance/avia/internal/scoring"
)

func writeCSV(t *testing.T, rows int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("months_as_customer,policy_number,incident_severity,incident_type,police_report_available,total_claim_amount,fraud_reported,_c39\n")
	severities := []string{"Major Damage", "Minor Damage", "Total Loss", "Trivial Damage"}
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "%d,%d,%s,Single Vehicle Collision,%s,%d,%s,\n",
			3+i*7, 100000+i, severities[i%len(severities)], []string{"YES", "NO", "?"}[i%3], 5000+i*1500, []string{"N", "Y"}[i%2])
	}
	path := filepath.Join(t.TempDir(), "claims.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatalf("failed to write CSV: %v", err)
	}
	return path
}

func newTestSeeder(t *testing.T) (*Seeder, *repository.SQLRepository, *rules.Engine) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "seed.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engine, err := rules.NewEngine(4, logger)
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}

	s := NewSeeder(repo, engine, logger)
	s.hash = func(p string) (string, error) { return "hashed:" + p, nil }
	return s, repo, engine
}

func TestRun(t *testing.T) {
	s, repo, engine := newTestSeeder(t)
	ctx := context.Background()
	csvPath := writeCSV(t, 50)

	summary, err := s.Run(ctx, csvPath)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if summary.Organizations != 5 || summary.Users != 6 {
		t.Errorf("expected 5 orgs and 6 users, got %d and %d", summary.Organizations, summary.Users)
	}
	if summary.Claims != 50 {
		t.Errorf("expected 50 claims, got %d", summary.Claims)
	}
	// 60% of 15, 10, 10, 10 and 5 claims.
	if summary.Analyzed != 30 {
		t.Errorf("expected 30 analyzed claims, got %d", summary.Analyzed)
	}

	wantCounts := map[string]int{"org-apex": 15, "org-nova": 10, "org-zenith": 10, "org-horizon": 10, "org-reliance": 5}
	for orgID, want := range wantCounts {
		n, err := repo.CountClaims(ctx, orgID)
		if err != nil {
			t.Fatalf("CountClaims failed: %v", err)
		}
		if n != want {
			t.Errorf("%s: expected %d claims, got %d", orgID, want, n)
		}
	}

	claims, _ := repo.ListClaims(ctx, "org-apex")
	var analyzed, decided, decisions int
	for _, c := range claims {
		if c.Source != domain.SourceDataset {
			t.Errorf("expected dataset source, got %s", c.Source)
		}
		if c.Analysis == nil {
			if c.Status != domain.ClaimPending {
				t.Errorf("%s: expected pending without analysis, got %s", c.ID, c.Status)
			}
			continue
		}
		analyzed++
		if c.Analysis.Model.Mode != string(ModeSeeded) {
			t.Errorf("expected seeded mode, got %s", c.Analysis.Model.Mode)
		}
		if len(c.Analysis.DecisionTrace) != 5 {
			t.Errorf("expected 5 trace steps, got %d", len(c.Analysis.DecisionTrace))
		}
		ds, _ := repo.ListDecisions(ctx, "org-apex", c.ID)
		decisions += len(ds)
		if c.Status != domain.ClaimAnalyzed {
			decided++
			if len(ds) != 1 || ds[0].Action.Status() != c.Status {
				t.Errorf("%s: status %s without a matching decision", c.ID, c.Status)
			} else if ds[0].UserID != "user-apex-01" {
				t.Errorf("expected decision by user-apex-01, got %s", ds[0].UserID)
			}
		}
	}
	if analyzed != 9 {
		t.Errorf("expected 9 analyzed org-apex claims, got %d", analyzed)
	}
	if decided != decisions {
		t.Errorf("expected one decision per decided claim, got %d decided and %d decisions", decided, decisions)
	}

	if n := engine.RulesCount("org-apex"); n != len(rules.BuiltinRules()) {
		t.Errorf("expected builtin rules loaded, got %d", n)
	}
	stored, _ := repo.ListRuleConfigs(ctx, "org-reliance")
	if len(stored) != len(rules.BuiltinRules()) {
		t.Errorf("expected builtin rules stored, got %d", len(stored))
	}

	user, err := repo.GetUserByUsername(ctx, "mlee")
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if user.OrgID != "org-apex" || user.Role != domain.RoleSeniorInvestigator || user.PasswordHash != "hashed:avia2026" {
		t.Errorf("unexpected user %+v", user)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	s, repo, _ := newTestSeeder(t)
	ctx := context.Background()
	csvPath := writeCSV(t, 50)

	if _, err := s.Run(ctx, csvPath); err != nil {
		t.Fatalf("first seed failed: %v", err)
	}
	summary, err := s.Run(ctx, csvPath)
	if err != nil {
		t.Fatalf("second seed failed: %v", err)
	}

	if summary.Organizations != 0 || summary.Users != 0 || summary.Claims != 0 {
		t.Errorf("expected nothing new, got %+v", summary)
	}
	if len(summary.Skipped) != 5 {
		t.Errorf("expected 5 skipped orgs, got %v", summary.Skipped)
	}
	if n, _ := repo.CountClaims(ctx, "org-apex"); n != 15 {
		t.Errorf("expected 15 claims, got %d", n)
	}
}

func TestRunWithoutCSV(t *testing.T) {
	s, repo, _ := newTestSeeder(t)
	ctx := context.Background()

	summary, err := s.Run(ctx, filepath.Join(t.TempDir(), "missing.csv"))
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if summary.Users != 6 || summary.Claims != 0 {
		t.Errorf("expected accounts only, got %+v", summary)
	}
	if _, err := repo.GetOrganization(ctx, "org-zenith"); err != nil {
		t.Errorf("expected org-zenith seeded, got %v", err)
	}
}

func TestShortCSV(t *testing.T) {
	s, repo, _ := newTestSeeder(t)
	ctx := context.Background()

	summary, err := s.Run(ctx, writeCSV(t, 20))
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if summary.Claims != 20 {
		t.Errorf("expected 20 claims, got %d", summary.Claims)
	}
	if n, _ := repo.CountClaims(ctx, "org-nova"); n != 5 {
		t.Errorf("expected 5 org-nova claims, got %d", n)
	}
	if n, _ := repo.CountClaims(ctx, "org-zenith"); n != 0 {
		t.Errorf("expected no org-zenith claims, got %d", n)
	}
}

func TestSyntheticRisk(t *testing.T) {
	data := domain.ClaimRecord{
		"total_claim_amount":      71610.0,
		"months_as_customer":      6.0,
		"incident_severity":       "Total Loss",
		"police_report_available": "NO",
		"fraud_reported":          "Y",
	}

	a := SyntheticRisk(data, rand.New(rand.NewPCG(42, 0)))
	b := SyntheticRisk(data, rand.New(rand.NewPCG(42, 0)))
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("expected deterministic draws (-first +second):\n%s", diff)
	}

	for name, v := range map[string]float64{"claim": a.ClaimRisk, "customer": a.CustomerRisk, "pattern": a.PatternRisk} {
		if v < 5 || v > 100 {
			t.Errorf("%s risk %v out of range", name, v)
		}
	}
	// amount/800 alone is 89.5; the severity and fraud boosts push it to the cap.
	if a.ClaimRisk != 100 {
		t.Errorf("expected claim risk 100, got %v", a.ClaimRisk)
	}
	if want := scoring.Overall(a.ClaimRisk, a.CustomerRisk, a.PatternRisk); a.OverallRisk != want {
		t.Errorf("expected overall %v, got %v", want, a.OverallRisk)
	}
	if a.RiskLevel != scoring.TierFor(a.OverallRisk) || a.NextAction != scoring.NextAction(a.RiskLevel) {
		t.Errorf("inconsistent tier %s and action %q for %v", a.RiskLevel, a.NextAction, a.OverallRisk)
	}
	if len(a.TopFeatures) != 5 {
		t.Errorf("expected 5 top features, got %d", len(a.TopFeatures))
	}
	if a.AnomalyScore < -0.3 || a.AnomalyScore > 0.3 {
		t.Errorf("anomaly %v out of range", a.AnomalyScore)
	}
}

func TestReadCSV(t *testing.T) {
	in := "\ufeffpolicy_number,total_claim_amount,incident_type,authorities_contacted,_c39\n" +
		"521585,71610,Single Vehicle Collision,,\n" +
		"342868, 5070 ,Vehicle Theft,Police,\n"

	rows, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	want := []domain.ClaimRecord{
		{"policy_number": "521585", "total_claim_amount": 71610.0, "incident_type": "Single Vehicle Collision"},
		{"policy_number": "342868", "total_claim_amount": 5070.0, "incident_type": "Vehicle Theft", "authorities_contacted": "Police"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}
